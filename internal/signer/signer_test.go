package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

// blockingSigner holds Execute until release is closed.
type blockingSigner struct {
	*Mock
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSigner) Execute(ctx context.Context, contract string, msg any) (types.TxResult, error) {
	close(b.entered)
	<-b.release
	return b.Mock.Execute(ctx, contract, msg)
}

func TestSerializedRejectsConcurrentSign(t *testing.T) {
	inner := &blockingSigner{Mock: NewMock("neutron1me"), entered: make(chan struct{}), release: make(chan struct{})}
	s := Serialize(inner)

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "c", map[string]any{"reward_pr": struct{}{}})
		done <- err
	}()
	<-inner.entered

	if _, err := s.Execute(context.Background(), "c", nil); !errors.Is(err, ErrSignerBusy) {
		t.Errorf("second Execute err = %v, want ErrSignerBusy", err)
	}
	if _, err := s.ExecuteMultiple(context.Background(), nil); !errors.Is(err, ErrSignerBusy) {
		t.Errorf("ExecuteMultiple err = %v, want ErrSignerBusy", err)
	}
	if _, _, err := s.Instantiate(context.Background(), InstantiateRequest{}); !errors.Is(err, ErrSignerBusy) {
		t.Errorf("Instantiate err = %v, want ErrSignerBusy", err)
	}

	close(inner.release)
	if err := <-done; err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	// released: the next request goes through
	if _, err := s.Execute(context.Background(), "c", map[string]any{"reward_pr": struct{}{}}); err != nil {
		t.Errorf("Execute after release: %v", err)
	}
	if got := inner.Names(); len(got) != 2 || got[0] != "reward_pr" {
		t.Errorf("recorded = %v", got)
	}
}

func TestSerializeIdempotent(t *testing.T) {
	s := Serialize(NewMock("a"))
	if Serialize(s) != s {
		t.Error("Serialize should not double-wrap")
	}
	if s.Sender() != "a" {
		t.Errorf("Sender = %q", s.Sender())
	}
}

func TestMockRecordsAndFails(t *testing.T) {
	m := NewMock("neutron1me")
	boom := errors.New("boom")
	m.OnExecute = func(c Call) error {
		if len(c.Instructions) == 2 {
			return boom
		}
		return nil
	}

	res, err := m.Execute(context.Background(), "c", map[string]any{"commit_account": struct{}{}})
	if err != nil || res.TxHash != "TX1" {
		t.Fatalf("Execute = %+v, %v", res, err)
	}
	_, err = m.ExecuteMultiple(context.Background(), []Instruction{{Contract: "c"}, {Contract: "c"}})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	addr, _, err := m.Instantiate(context.Background(), InstantiateRequest{CodeID: 1, Label: "x"})
	if err != nil || addr == "" {
		t.Errorf("Instantiate = %q, %v", addr, err)
	}
	if len(m.Calls()) != 2 {
		t.Errorf("calls = %d, failed calls must not be recorded", len(m.Calls()))
	}
}
