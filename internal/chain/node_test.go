package chain

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testContract = "neutron1lazydev"

// fakeNode serves the LCD smart query route and the CometBFT JSON-RPC
// methods status, tx and tx_search.
type fakeNode struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	smart     map[string]string // "<contract>/<query name>" -> data JSON
	queries   []string          // decoded smart queries, in order
	txs       map[string]string // upper-case hash -> result JSON
	txLookups map[string]int
	search    string // result JSON for tx_search
	lastQuery string
	lastOrder string

	height     atomic.Uint64
	heightStep uint64
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		t:         t,
		smart:     make(map[string]string),
		txs:       make(map[string]string),
		txLookups: make(map[string]int),
		search:    `{"txs":[],"total_count":"0"}`,
	}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNode) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Options{
		RPCURLs:         []string{n.srv.URL},
		RESTURLs:        []string{n.srv.URL},
		ContractAddress: testContract,
		RequestTimeout:  time.Second,
		PollInterval:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func (n *fakeNode) setSmart(contract, name, data string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.smart[contract+"/"+name] = data
}

func (n *fakeNode) setTx(hash, result string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs[strings.ToUpper(hash)] = result
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/cosmwasm/wasm/v1/contract/"):
		rest := strings.TrimPrefix(r.URL.Path, "/cosmwasm/wasm/v1/contract/")
		contract, encoded, _ := strings.Cut(rest, "/smart/")
		raw, err := base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			n.t.Errorf("query is not url-safe base64: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n.queries = append(n.queries, string(raw))
		var q map[string]json.RawMessage
		json.Unmarshal(raw, &q)
		for name := range q {
			data, ok := n.smart[contract+"/"+name]
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"code":2,"message":"Error parsing into type %s: unknown variant"}`, name)
				return
			}
			fmt.Fprintf(w, `{"data":%s}`, data)
			return
		}
	case r.Method == http.MethodPost:
		n.serveRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// serveRPC answers a JSON-RPC 2.0 call. Callers hold n.mu.
func (n *fakeNode) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		n.t.Errorf("rpc request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	result := func(res string) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, res)
	}

	switch req.Method {
	case "status":
		h := n.height.Add(n.heightStep)
		result(fmt.Sprintf(`{"sync_info":{"latest_block_height":"%d"}}`, h))
	case "tx":
		var p struct {
			Hash []byte `json:"hash"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			n.t.Errorf("tx params %s: %v", req.Params, err)
		}
		hash := strings.ToUpper(hex.EncodeToString(p.Hash))
		n.txLookups[hash]++
		res, ok := n.txs[hash]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32603,"message":"Internal error","data":"tx (%s) not found"}}`, req.ID, hash)
			return
		}
		result(res)
	case "tx_search":
		var p struct {
			Query   string `json:"query"`
			OrderBy string `json:"order_by"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			n.t.Errorf("tx_search params %s: %v", req.Params, err)
		}
		n.lastQuery, n.lastOrder = p.Query, p.OrderBy
		result(n.search)
	default:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"Method not found"}}`, req.ID)
	}
}

func (n *fakeNode) lookups(hash string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.txLookups[strings.ToUpper(hash)]
}

func (n *fakeNode) searchQuery() (query, order string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastQuery, n.lastOrder
}
