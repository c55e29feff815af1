package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lazydev-zone/lazydev/internal/store"
)

const keyPrefix = "secret/"

var recordKeyInfo = []byte("lazydev secret record v1")

// BadgerStore persists records encrypted with ChaCha20-Poly1305 under a key
// derived from the keyring master key. Each ciphertext is bound to its
// subject so records cannot be swapped between subjects.
type BadgerStore struct {
	kv  *store.Store
	key []byte
	ttl time.Duration
}

type sealedRecord struct {
	Record
	SecretB64 string `json:"secret"`
}

// NewBadgerStore wraps kv. ttl is a wall-clock backstop for records whose
// commit height never gets recorded; zero disables it.
func NewBadgerStore(kv *store.Store, masterKey []byte, ttl time.Duration) (*BadgerStore, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("master key too short: %d bytes", len(masterKey))
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, recordKeyInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive record key: %w", err)
	}
	return &BadgerStore{kv: kv, key: key, ttl: ttl}, nil
}

func (b *BadgerStore) Put(rec Record) error {
	plain, err := json.Marshal(sealedRecord{Record: rec, SecretB64: rec.Secret.Reveal()})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	sealed, err := b.seal(plain, []byte(rec.Subject))
	if err != nil {
		return err
	}
	return b.kv.Set(keyPrefix+rec.Subject, sealed, b.ttl)
}

func (b *BadgerStore) Get(subject string) (Record, error) {
	sealed, err := b.kv.Get(keyPrefix + subject)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, ErrSecretNotFound
	}
	if err != nil {
		return Record{}, err
	}

	plain, err := b.open(sealed, []byte(subject))
	if err != nil {
		return Record{}, err
	}
	var sr sealedRecord
	if err := json.Unmarshal(plain, &sr); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	s, err := Parse(sr.SecretB64)
	if err != nil {
		return Record{}, err
	}
	rec := sr.Record
	rec.Secret = s
	return rec, nil
}

func (b *BadgerStore) Delete(subject string) error {
	return b.kv.Delete(keyPrefix + subject)
}

// Subjects lists the subjects that currently hold a secret.
func (b *BadgerStore) Subjects() ([]string, error) {
	var out []string
	err := b.kv.Scan(keyPrefix, func(key string, _ []byte) error {
		out = append(out, key[len(keyPrefix):])
		return nil
	})
	return out, err
}

func (b *BadgerStore) seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (b *BadgerStore) open(ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt record: %w", err)
	}
	return plain, nil
}
