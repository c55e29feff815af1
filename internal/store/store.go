// Package store is the local key-value state of the client: commitment
// secrets and the reward contract cache. Nothing here is authoritative;
// the chain is.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/util"
)

const defaultGCInterval = 10 * time.Minute

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Options configures Open.
type Options struct {
	// DataDir is the parent directory; the database lives in DataDir/kv.
	// Ignored when InMemory is set.
	DataDir    string
	InMemory   bool
	GCInterval time.Duration
}

// Store is a badger-backed key-value store.
type Store struct {
	db       *badger.DB
	inMemory bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// Open opens (creating if needed) the store.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory || opts.DataDir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		bopts = badger.DefaultOptions(filepath.Join(opts.DataDir, "kv"))
	}
	bopts = bopts.
		WithLogger(newBadgerLogger(logging.Logger().With(logging.Component("store")))).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{
		db:       db,
		inMemory: bopts.InMemory,
		stopCh:   make(chan struct{}),
	}

	if !s.inMemory {
		interval := opts.GCInterval
		if interval <= 0 {
			interval = defaultGCInterval
		}
		s.wg.Add(1)
		util.SafeGoWithName("store-gc", func() {
			defer s.wg.Done()
			s.gcLoop(interval)
		})
	}

	return s, nil
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return out, nil
}

// Set stores value under key. A positive ttl makes badger drop the entry
// once it elapses (second granularity).
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// ExpiresAt returns the entry's expiry as a unix timestamp, 0 if it has none.
func (s *Store) ExpiresAt(key string) (uint64, error) {
	var exp uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		exp = item.ExpiresAt()
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	return exp, err
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Scan calls fn for every live key with the given prefix, in key order.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						logging.Debug("value log gc stopped", logging.Err(err))
					}
					break
				}
			}
		}
	}
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(trim(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(trim(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(trim(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(trim(format, args...))
}

func trim(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
