package chain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

var (
	// ErrTxNotFound means the node does not know the transaction (yet).
	ErrTxNotFound = errors.New("transaction not found")
	// ErrNotIncluded means waiting for a transaction ended before it was included.
	ErrNotIncluded = errors.New("transaction not included")
)

// RewardEventType is the event the reward contracts emit per paid reward.
const RewardEventType = "wasm-reward"

// txSearchPageSize is the largest page CometBFT serves.
const txSearchPageSize = 100

// EventAttribute is a decoded ABCI event attribute.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a decoded ABCI event.
type Event struct {
	Type       string           `json:"type"`
	Attributes []EventAttribute `json:"attributes"`
}

// Attr returns the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Tx is an included transaction and its execution result.
type Tx struct {
	Hash    string
	Height  uint64
	Code    uint32
	Log     string
	GasUsed uint64
	Events  []Event
}

// Failed reports whether the transaction was included but reverted.
func (t *Tx) Failed() bool {
	return t.Code != 0
}

// EventsOfType returns the events with the given type.
func (t *Tx) EventsOfType(typ string) []Event {
	var out []Event
	for _, e := range t.Events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// isMethodError reports whether err is an error the node returned for the
// call itself rather than a failure to reach it.
func isMethodError(err error) bool {
	var re *rpctypes.RPCError
	return errors.As(err, &re)
}

// LatestHeight returns the latest block height known to the node.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	var status *ctypes.ResultStatus
	err := c.rpc(ctx, func(ctx context.Context, rc *rpchttp.HTTP) error {
		var err error
		status, err = rc.Status(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest height: %w", err)
	}
	if h := status.SyncInfo.LatestBlockHeight; h < 0 {
		return 0, fmt.Errorf("invalid latest height %d", h)
	}
	return uint64(status.SyncInfo.LatestBlockHeight), nil
}

// GetTx looks a transaction up by hash. It returns ErrTxNotFound until the
// transaction is included.
func (c *Client) GetTx(ctx context.Context, hash string) (*Tx, error) {
	hash = strings.TrimPrefix(strings.TrimPrefix(hash, "0x"), "0X")
	if hash == "" {
		return nil, apperrors.Validation("tx hash", "must not be empty")
	}
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return nil, apperrors.Validation("tx hash", "must be hex encoded")
	}

	var res *ctypes.ResultTx
	err = c.rpc(ctx, func(ctx context.Context, rc *rpchttp.HTTP) error {
		var err error
		res, err = rc.Tx(ctx, raw, false)
		return err
	})
	if err != nil {
		if isMethodError(err) && strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("failed to get tx %s: %w", hash, err)
	}
	return decodeTx(res)
}

// SearchTxs runs a CometBFT tx_search over event attributes, newest first.
func (c *Client) SearchTxs(ctx context.Context, query string) ([]*Tx, error) {
	page, perPage := 1, txSearchPageSize

	var res *ctypes.ResultTxSearch
	err := c.rpc(ctx, func(ctx context.Context, rc *rpchttp.HTTP) error {
		var err error
		res, err = rc.TxSearch(ctx, query, false, &page, &perPage, "desc")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tx search failed: %w", err)
	}
	out := make([]*Tx, 0, len(res.Txs))
	for _, r := range res.Txs {
		tx, err := decodeTx(r)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// RewardTxQuery builds the tx_search query matching reward_pr executions of
// the lazydev contract for one pull request.
func RewardTxQuery(contract string, repo types.Repo, prID uint64) string {
	return fmt.Sprintf("wasm._contract_address='%s' AND wasm.org='%s' AND wasm.repo='%s' AND wasm.pr_id='%d'",
		contract, repo.Org, repo.Repo, prID)
}

// FindRewardTx returns the successful reward transaction of a pull request, or nil.
func (c *Client) FindRewardTx(ctx context.Context, repo types.Repo, prID uint64) (*Tx, error) {
	txs, err := c.SearchTxs(ctx, RewardTxQuery(c.contract, repo, prID))
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if !tx.Failed() {
			return tx, nil
		}
	}
	return nil, nil
}

// WaitForInclusion polls for hash every poll interval until the transaction
// is included or ctx ends. An included but reverted transaction returns the
// classified *apperrors.ChainRejectionError alongside the tx.
func (c *Client) WaitForInclusion(ctx context.Context, hash string) (*Tx, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		tx, err := c.GetTx(ctx, hash)
		switch {
		case err == nil:
			if tx.Failed() {
				return tx, apperrors.ClassifyRejection(tx.Log)
			}
			return tx, nil
		case errors.Is(err, ErrTxNotFound):
		case apperrors.IsValidation(err):
			return nil, err
		default:
			if ctx.Err() == nil {
				logging.Warn("inclusion poll failed", logging.TxHash(hash), logging.Err(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotIncluded, hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func decodeTx(r *ctypes.ResultTx) (*Tx, error) {
	if r == nil {
		return nil, errors.New("empty tx result")
	}
	if r.Height < 0 {
		return nil, fmt.Errorf("invalid tx height %d", r.Height)
	}
	var gas uint64
	if r.TxResult.GasUsed > 0 {
		gas = uint64(r.TxResult.GasUsed)
	}
	tx := &Tx{
		Hash:    r.Hash.String(),
		Height:  uint64(r.Height),
		Code:    r.TxResult.Code,
		Log:     r.TxResult.Log,
		GasUsed: gas,
		Events:  make([]Event, 0, len(r.TxResult.Events)),
	}
	for _, e := range r.TxResult.Events {
		tx.Events = append(tx.Events, decodeEvent(e))
	}
	return tx, nil
}

// decodeEvent handles both attribute encodings: plain strings (CometBFT
// 0.37+) and base64 (0.34). An event is treated as base64 only when every key
// decodes to an identifier.
func decodeEvent(e abci.Event) Event {
	out := Event{Type: e.Type, Attributes: make([]EventAttribute, len(e.Attributes))}
	for i, a := range e.Attributes {
		out.Attributes[i] = EventAttribute{Key: a.Key, Value: a.Value}
	}
	if len(e.Attributes) == 0 {
		return out
	}
	decoded := make([]EventAttribute, len(e.Attributes))
	for i, a := range e.Attributes {
		k, err := base64.StdEncoding.DecodeString(a.Key)
		if err != nil || !isIdentifier(string(k)) {
			return out
		}
		v, err := base64.StdEncoding.DecodeString(a.Value)
		if err != nil {
			return out
		}
		decoded[i] = EventAttribute{Key: string(k), Value: string(v)}
	}
	out.Attributes = decoded
	return out
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && r != '.' && r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
