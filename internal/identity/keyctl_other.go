//go:build !linux

package identity

import (
	"errors"
	"time"
)

// ErrNoSessionCache is returned where the kernel keyring does not exist.
var ErrNoSessionCache = errors.New("session password cache requires the Linux kernel keyring")

func CacheSessionPassword(_ string, _ time.Duration) error {
	return ErrNoSessionCache
}

func SessionPassword() (string, error) {
	return "", ErrKeyNotFound
}

func ClearSessionPassword() error {
	return nil
}
