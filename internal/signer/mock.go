package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

// Call is one transaction recorded by Mock.
type Call struct {
	Instructions []Instruction
	Instantiate  *InstantiateRequest
	Result       types.TxResult
}

// Names returns the execute variant of each instruction, e.g. "commit_account".
func (c Call) Names() []string {
	names := make([]string, 0, len(c.Instructions))
	for _, in := range c.Instructions {
		names = append(names, variantName(in.Msg))
	}
	return names
}

// Mock is an in-memory Signer that records every transaction. Hashes are
// deterministic ("TX1", "TX2", ...). OnExecute, when set, may fail a call.
type Mock struct {
	SenderAddress string
	OnExecute     func(call Call) error

	mu    sync.Mutex
	calls []Call
	next  int
}

// NewMock creates a mock signer for sender.
func NewMock(sender string) *Mock {
	return &Mock{SenderAddress: sender}
}

// Sender implements Signer.
func (m *Mock) Sender() string {
	return m.SenderAddress
}

// Execute implements Signer.
func (m *Mock) Execute(ctx context.Context, contract string, msg any) (types.TxResult, error) {
	return m.ExecuteMultiple(ctx, []Instruction{{Contract: contract, Msg: msg}})
}

// ExecuteMultiple implements Signer.
func (m *Mock) ExecuteMultiple(ctx context.Context, instructions []Instruction) (types.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return types.TxResult{}, err
	}
	return m.record(Call{Instructions: instructions})
}

// Instantiate implements Signer.
func (m *Mock) Instantiate(ctx context.Context, req InstantiateRequest) (string, types.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return "", types.TxResult{}, err
	}
	res, err := m.record(Call{Instantiate: &req})
	if err != nil {
		return "", res, err
	}
	return fmt.Sprintf("neutron1contract%d", m.count()), res, nil
}

func (m *Mock) record(call Call) (types.TxResult, error) {
	m.mu.Lock()
	m.next++
	call.Result = types.TxResult{TxHash: fmt.Sprintf("TX%d", m.next)}
	hook := m.OnExecute
	m.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return types.TxResult{}, err
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return call.Result, nil
}

// Calls returns a copy of the recorded transactions.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Names returns the execute variants of every recorded instruction, in order.
func (m *Mock) Names() []string {
	var names []string
	for _, c := range m.Calls() {
		names = append(names, c.Names()...)
	}
	return names
}

func (m *Mock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// variantName reads the single top-level key of a wrapped execute message.
func variantName(msg any) string {
	b, err := json.Marshal(msg)
	if err != nil {
		return ""
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(b, &m) != nil || len(m) != 1 {
		return ""
	}
	for k := range m {
		return k
	}
	return ""
}
