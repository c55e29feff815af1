package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestLatestHeight(t *testing.T) {
	n := newFakeNode(t)
	n.height.Store(1234)

	h, err := n.client(t).LatestHeight(context.Background())
	if err != nil || h != 1234 {
		t.Errorf("LatestHeight = %d, %v", h, err)
	}
}

func TestGetTxNotFound(t *testing.T) {
	n := newFakeNode(t)
	_, err := n.client(t).GetTx(context.Background(), "0xabcd")
	if !errors.Is(err, ErrTxNotFound) {
		t.Errorf("err = %v, want ErrTxNotFound", err)
	}
	if n.lookups("ABCD") != 1 {
		t.Errorf("hash should be sent as the decoded hex bytes")
	}
}

func TestGetTxInvalidHash(t *testing.T) {
	n := newFakeNode(t)
	for _, hash := range []string{"", "0x", "xyz", "abc"} {
		_, err := n.client(t).GetTx(context.Background(), hash)
		if !apperrors.IsValidation(err) {
			t.Errorf("GetTx(%q) err = %v, want validation error", hash, err)
		}
	}
}

func TestRPCFailsOverToNextEndpoint(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	}))
	defer down.Close()
	n := newFakeNode(t)
	n.height.Store(77)

	c, err := NewClient(Options{
		RPCURLs:         []string{down.URL, n.srv.URL},
		RESTURLs:        []string{n.srv.URL},
		ContractAddress: testContract,
		RequestTimeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	h, err := c.LatestHeight(context.Background())
	if err != nil || h != 77 {
		t.Fatalf("LatestHeight = %d, %v", h, err)
	}
	if got := c.rpcEndpoints.Candidates(); len(got) != 2 || got[0] != n.srv.URL {
		t.Errorf("candidates after failover = %v", got)
	}

	// a method error is the node's answer, not a reason to ask another node
	c2, err := NewClient(Options{
		RPCURLs:         []string{n.srv.URL, down.URL},
		RESTURLs:        []string{n.srv.URL},
		ContractAddress: testContract,
		RequestTimeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.GetTx(context.Background(), "00ff"); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("err = %v, want ErrTxNotFound", err)
	}
	if !c2.rpcEndpoints.Healthy(n.srv.URL) || !c2.rpcEndpoints.Healthy(down.URL) {
		t.Errorf("no endpoint should be marked down by a method error")
	}
}

func TestWaitForInclusion(t *testing.T) {
	n := newFakeNode(t)
	c := n.client(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		n.setTx("ABCD", `{"hash":"ABCD","height":"120","tx_result":{"code":0,"log":"","gas_used":"5000","events":[]}}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tx, err := c.WaitForInclusion(ctx, "abcd")
	if err != nil {
		t.Fatalf("WaitForInclusion: %v", err)
	}
	if tx.Height != 120 || tx.GasUsed != 5000 {
		t.Errorf("tx = %+v", tx)
	}
	if n.lookups("ABCD") < 2 {
		t.Errorf("expected repeated polling, got %d lookups", n.lookups("ABCD"))
	}
	if tx.Hash != "ABCD" {
		t.Errorf("hash = %q", tx.Hash)
	}
}

func TestWaitForInclusionReverted(t *testing.T) {
	n := newFakeNode(t)
	n.setTx("DEF0", `{"hash":"DEF0","height":"121","tx_result":{"code":5,"log":"failed to execute message; message index: 0: pr 7 has already been rewarded: execute wasm contract failed","events":[]}}`)

	tx, err := n.client(t).WaitForInclusion(context.Background(), "DEF0")
	if tx == nil || tx.Height != 121 {
		t.Fatalf("reverted tx should still be returned, got %+v", tx)
	}
	if kind := apperrors.RejectionKindOf(err); kind != apperrors.RejectAlreadyClaimed {
		t.Errorf("rejection kind = %q (err %v)", kind, err)
	}
	if n.lookups("DEF0") != 1 {
		t.Errorf("a failed tx must not be polled again")
	}
}

func TestWaitForInclusionCancelled(t *testing.T) {
	n := newFakeNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := n.client(t).WaitForInclusion(ctx, "FFFF")
	if !errors.Is(err, ErrNotIncluded) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrNotIncluded wrapping the deadline", err)
	}
}

func rewardTxJSON(hash string, code int, attrs func(k, v string) string) string {
	ev := func(typ string, kv ...string) string {
		var parts []string
		for i := 0; i < len(kv); i += 2 {
			parts = append(parts, attrs(kv[i], kv[i+1]))
		}
		return fmt.Sprintf(`{"type":%q,"attributes":[%s]}`, typ, strings.Join(parts, ","))
	}
	return fmt.Sprintf(`{"hash":%q,"height":"300","tx_result":{"code":%d,"log":"","gas_used":"1","events":[%s,%s,%s]}}`,
		hash, code,
		ev("wasm", "_contract_address", testContract, "org", "acme", "repo", "widget", "pr_id", "7"),
		ev("wasm-reward", "denom", "udenom1", "amount", "1000000"),
		ev("wasm-reward", "denom", "udenom1", "amount", "500000"),
	)
}

func plainAttr(k, v string) string { return fmt.Sprintf(`{"key":%q,"value":%q,"index":true}`, k, v) }
func base64Attr(k, v string) string {
	return fmt.Sprintf(`{"key":%q,"value":%q,"index":true}`, b64(k), b64(v))
}

func TestSearchTxsAttributeEncodings(t *testing.T) {
	for name, enc := range map[string]func(k, v string) string{"plain": plainAttr, "base64": base64Attr} {
		t.Run(name, func(t *testing.T) {
			n := newFakeNode(t)
			n.search = `{"txs":[` + rewardTxJSON("AA", 0, enc) + `],"total_count":"1"}`

			repo := types.Repo{Org: "acme", Repo: "widget"}
			tx, err := n.client(t).FindRewardTx(context.Background(), repo, 7)
			if err != nil || tx == nil {
				t.Fatalf("FindRewardTx = %v, %v", tx, err)
			}
			rewards := tx.EventsOfType(RewardEventType)
			if len(rewards) != 2 {
				t.Fatalf("got %d reward events", len(rewards))
			}
			if d, _ := rewards[0].Attr("denom"); d != "udenom1" {
				t.Errorf("denom = %q", d)
			}
			if a, _ := rewards[1].Attr("amount"); a != "500000" {
				t.Errorf("amount = %q", a)
			}

			query, order := n.searchQuery()
			if want := RewardTxQuery(testContract, repo, 7); query != want {
				t.Errorf("query = %s, want %s", query, want)
			}
			if order != "desc" {
				t.Errorf("order_by = %q, want desc", order)
			}
		})
	}
}

func TestFindRewardTxSkipsFailed(t *testing.T) {
	n := newFakeNode(t)
	n.search = `{"txs":[` + rewardTxJSON("BB", 5, plainAttr) + `],"total_count":"1"}`

	tx, err := n.client(t).FindRewardTx(context.Background(), types.Repo{Org: "acme", Repo: "widget"}, 7)
	if err != nil || tx != nil {
		t.Errorf("FindRewardTx = %v, %v; want no tx", tx, err)
	}
}

func TestRewardTxQuery(t *testing.T) {
	got := RewardTxQuery("neutron1c", types.Repo{Org: "acme", Repo: "widget"}, 7)
	want := "wasm._contract_address='neutron1c' AND wasm.org='acme' AND wasm.repo='widget' AND wasm.pr_id='7'"
	if got != want {
		t.Errorf("RewardTxQuery = %s", got)
	}
}

func TestDecodeEventKeepsPlainKeysThatLookLikeBase64(t *testing.T) {
	// "repo" is valid base64 but decodes to binary, so it stays as is.
	e := decodeEvent(abci.Event{Type: "wasm", Attributes: []abci.EventAttribute{{Key: "repo", Value: "abcd"}}})
	if e.Attributes[0].Key != "repo" || e.Attributes[0].Value != "abcd" {
		t.Errorf("attributes = %+v", e.Attributes)
	}
}
