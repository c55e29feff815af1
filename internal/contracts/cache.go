// Package contracts remembers the reward contracts this client deployed or
// was told about. The cache is advisory: a descriptor may be stale, and the
// chain decides which contract a repo actually pays from.
package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/store"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

const keyPrefix = "contract/"

// ErrUnknownContract is returned when the cache holds no descriptor for an address.
var ErrUnknownContract = errors.New("contract not in local cache")

// Cache stores reward contract descriptors keyed by address.
type Cache struct {
	kv  *store.Store
	now func() time.Time
}

// NewCache creates a Cache on kv.
func NewCache(kv *store.Store) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Add stores c, replacing any descriptor with the same address.
func (c *Cache) Add(rc types.RewardContract) error {
	if rc.Address == "" {
		return apperrors.Validation("address", "is required")
	}
	if rc.Repo != "" {
		if _, err := types.ParseRepo(rc.Repo); err != nil {
			return apperrors.Validation("repo", "%v", err)
		}
	}
	if rc.CreatedAt == 0 {
		rc.CreatedAt = c.now().Unix()
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("failed to encode contract: %w", err)
	}
	return c.kv.Set(keyPrefix+rc.Address, data, 0)
}

// Get returns the descriptor for address.
func (c *Cache) Get(address string) (types.RewardContract, error) {
	var rc types.RewardContract
	data, err := c.kv.Get(keyPrefix + address)
	if errors.Is(err, store.ErrNotFound) {
		return rc, ErrUnknownContract
	}
	if err != nil {
		return rc, err
	}
	if err := json.Unmarshal(data, &rc); err != nil {
		return rc, fmt.Errorf("failed to decode contract %s: %w", address, err)
	}
	return rc, nil
}

// Remove drops the descriptor for address.
func (c *Cache) Remove(address string) error {
	if _, err := c.Get(address); err != nil {
		return err
	}
	return c.kv.Delete(keyPrefix + address)
}

// List returns the cached descriptors, oldest first. A non-empty repo
// ("org/repo") restricts the list to contracts registered for it.
func (c *Cache) List(repo string) ([]types.RewardContract, error) {
	var out []types.RewardContract
	err := c.kv.Scan(keyPrefix, func(key string, value []byte) error {
		var rc types.RewardContract
		if err := json.Unmarshal(value, &rc); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		if repo == "" || rc.Repo == repo {
			out = append(out, rc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}
