package secret

import (
	"errors"
	"fmt"
	"time"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

var (
	// ErrSecretNotFound means no secret is held for the subject; the caller must re-commit.
	ErrSecretNotFound = errors.New("no secret stored for subject; commit again")
	// ErrSecretExpired means the secret's commitment is past its reveal window.
	ErrSecretExpired = errors.New("secret's commitment is past its reveal window; commit again")
)

// Record is a stored secret and what is known about its commitment.
type Record struct {
	Subject       string             `json:"subject"`
	Secret        Secret             `json:"-"`
	CommitmentKey string             `json:"commitment_key"`
	TxHash        string             `json:"tx_hash,omitempty"`
	CommitHeight  uint64             `json:"commit_height,omitempty"` // 0 until the commit is included
	Window        types.RevealWindow `json:"window"`
	CreatedAt     time.Time          `json:"created_at"`
}

// NewRecord builds a record for a freshly generated secret.
func NewRecord(subject string, s Secret, window types.RevealWindow) Record {
	return Record{
		Subject:       subject,
		Secret:        s,
		CommitmentKey: CommitmentKey(s),
		Window:        window,
		CreatedAt:     time.Now().UTC(),
	}
}

// Expired reports whether the record can no longer be revealed at height.
// A record whose commit height is still unknown never expires by height.
func (r Record) Expired(height uint64) bool {
	return r.CommitHeight > 0 && r.Window.Expired(r.CommitHeight, height)
}

// Store is a subject-keyed secret store.
type Store interface {
	Put(rec Record) error
	Get(subject string) (Record, error)
	Delete(subject string) error
}

// Retrieve returns the secret for subject if it can still be revealed at height.
// An expired record is deleted so it is never replayed.
func Retrieve(s Store, subject string, height uint64) (Secret, error) {
	rec, err := s.Get(subject)
	if err != nil {
		return Secret{}, err
	}
	if rec.Expired(height) {
		if err := s.Delete(subject); err != nil {
			return Secret{}, fmt.Errorf("failed to drop expired secret: %w", err)
		}
		return Secret{}, ErrSecretExpired
	}
	return rec.Secret, nil
}

// MarkCommitted records the inclusion height and tx hash of the subject's commit.
func MarkCommitted(s Store, subject, txHash string, height uint64) error {
	rec, err := s.Get(subject)
	if err != nil {
		return err
	}
	rec.TxHash = txHash
	rec.CommitHeight = height
	return s.Put(rec)
}
