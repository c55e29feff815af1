// Package signer binds the external wallet that signs and broadcasts
// contract transactions.
package signer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

// ErrSignerBusy is returned when a signing request is already outstanding.
var ErrSignerBusy = errors.New("a signing request is already in progress")

// Instruction is one contract execution in a batch.
type Instruction struct {
	Contract string `json:"contract"`
	Msg      any    `json:"msg"`
}

// InstantiateRequest creates a contract from an uploaded code id.
type InstantiateRequest struct {
	CodeID uint64 `json:"code_id"`
	Label  string `json:"label"`
	Msg    any    `json:"msg"`
	Admin  string `json:"admin,omitempty"`
}

// Signer signs and broadcasts transactions for one account. Execute returns
// once the transaction is accepted into the mempool; inclusion is observed
// separately by polling the chain.
type Signer interface {
	Sender() string
	Execute(ctx context.Context, contract string, msg any) (types.TxResult, error)
	ExecuteMultiple(ctx context.Context, instructions []Instruction) (types.TxResult, error)
	Instantiate(ctx context.Context, req InstantiateRequest) (string, types.TxResult, error)
}

// Serialized allows one outstanding signing request at a time. A concurrent
// request fails with ErrSignerBusy instead of queueing behind the wallet.
type Serialized struct {
	inner Signer
	busy  atomic.Bool
}

// Serialize wraps s. Wrapping a *Serialized returns it unchanged.
func Serialize(s Signer) *Serialized {
	if ser, ok := s.(*Serialized); ok {
		return ser
	}
	return &Serialized{inner: s}
}

func (s *Serialized) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrSignerBusy
	}
	return nil
}

// Sender returns the signing account.
func (s *Serialized) Sender() string {
	return s.inner.Sender()
}

// Execute implements Signer.
func (s *Serialized) Execute(ctx context.Context, contract string, msg any) (types.TxResult, error) {
	if err := s.acquire(); err != nil {
		return types.TxResult{}, err
	}
	defer s.busy.Store(false)
	return s.inner.Execute(ctx, contract, msg)
}

// ExecuteMultiple implements Signer.
func (s *Serialized) ExecuteMultiple(ctx context.Context, instructions []Instruction) (types.TxResult, error) {
	if err := s.acquire(); err != nil {
		return types.TxResult{}, err
	}
	defer s.busy.Store(false)
	return s.inner.ExecuteMultiple(ctx, instructions)
}

// Instantiate implements Signer.
func (s *Serialized) Instantiate(ctx context.Context, req InstantiateRequest) (string, types.TxResult, error) {
	if err := s.acquire(); err != nil {
		return "", types.TxResult{}, err
	}
	defer s.busy.Store(false)
	return s.inner.Instantiate(ctx, req)
}
