package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/identity"
)

func newBridge(t *testing.T, h http.HandlerFunc, auth AuthSigner) *BridgeSigner {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := NewBridgeSigner(BridgeOptions{
		URL:      srv.URL,
		ChainID:  "pion-1",
		GasPrice: "0.025untrn",
		Timeout:  time.Second,
		Auth:     auth,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBridgeConnectAndExecute(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	wallet, err := identity.ImportWallet(t.TempDir(), hex.EncodeToString(crypto.FromECDSA(key)), "pw")
	if err != nil {
		t.Fatal(err)
	}

	var got executeRequest
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		err := identity.VerifyAuth(r.Header.Get("X-Wallet-Address"), r.Header.Get("X-Wallet-Signature"), r.Header.Get("X-Wallet-Message"), time.Now())
		if err != nil {
			t.Errorf("auth headers: %v", err)
		}
		switch r.URL.Path {
		case "/v1/account":
			if r.URL.Query().Get("chain_id") != "pion-1" {
				t.Errorf("chain_id = %q", r.URL.Query().Get("chain_id"))
			}
			w.Write([]byte(`{"address":"neutron1me"}`))
		case "/v1/execute":
			json.NewDecoder(r.Body).Decode(&got)
			w.Write([]byte(`{"tx_hash":"ABCD","code":0,"gas_used":1234}`))
		default:
			http.NotFound(w, r)
		}
	}, wallet)

	if _, err := b.Execute(context.Background(), "c", nil); !apperrors.IsAuth(err) {
		t.Errorf("Execute before Connect err = %v, want AuthError", err)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if b.Sender() != "neutron1me" {
		t.Errorf("Sender = %q", b.Sender())
	}

	res, err := b.Execute(context.Background(), "neutron1lazydev", map[string]any{"reward_pr": map[string]any{"proof": 1}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.TxHash != "ABCD" || res.GasUsed != 1234 {
		t.Errorf("result = %+v", res)
	}
	if got.Sender != "neutron1me" || got.ChainID != "pion-1" || got.GasPrice != "0.025untrn" || len(got.Instructions) != 1 || got.Instructions[0].Contract != "neutron1lazydev" {
		t.Errorf("request = %+v", got)
	}
}

func TestBridgeConnectSenderMismatch(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":"neutron1other"}`))
	}, nil)
	b.sender = "neutron1me"
	if err := b.Connect(context.Background()); err == nil {
		t.Error("expected sender mismatch error")
	}
}

func TestBridgeRejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "checktx failure",
			status: http.StatusOK,
			body:   `{"tx_hash":"X","code":5,"raw_log":"pr 7 has already been rewarded"}`,
			check:  func(err error) bool { return apperrors.RejectionKindOf(err) == apperrors.RejectAlreadyClaimed },
		},
		{
			name:   "simulation failure",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":"invalid repo"}`,
			check:  func(err error) bool { return apperrors.RejectionKindOf(err) == apperrors.RejectIneligible },
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"message":"bad signature"}`,
			check:  apperrors.IsAuth,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(err error) bool {
				return err != nil && apperrors.RejectionKindOf(err) == "" && !apperrors.IsAuth(err)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)
			b.sender = "neutron1me"
			_, err := b.Execute(context.Background(), "c", map[string]any{})
			if !tt.check(err) {
				t.Errorf("unexpected err %v", err)
			}
		})
	}
}

func TestBridgeInstantiate(t *testing.T) {
	var got map[string]any
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/instantiate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"tx_hash":"EF","code":0,"contract_address":"neutron1new"}`))
	}, nil)
	b.sender = "neutron1me"

	if _, _, err := b.Instantiate(context.Background(), InstantiateRequest{}); !apperrors.IsValidation(err) {
		t.Errorf("empty request err = %v, want ValidationError", err)
	}

	addr, res, err := b.Instantiate(context.Background(), InstantiateRequest{CodeID: 10893, Label: "lazydev-token-minter", Msg: map[string]any{"x": 1}})
	if err != nil || addr != "neutron1new" || res.TxHash != "EF" {
		t.Fatalf("Instantiate = %q, %+v, %v", addr, res, err)
	}
	if got["code_id"] != float64(10893) || got["label"] != "lazydev-token-minter" || got["sender"] != "neutron1me" {
		t.Errorf("request = %v", got)
	}
}

func TestNewBridgeSignerValidation(t *testing.T) {
	if _, err := NewBridgeSigner(BridgeOptions{ChainID: "x"}); err == nil {
		t.Error("expected missing URL error")
	}
	if _, err := NewBridgeSigner(BridgeOptions{URL: "http://x"}); err == nil {
		t.Error("expected missing chain id error")
	}
}
