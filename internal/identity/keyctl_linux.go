//go:build linux

package identity

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const sessionKeyName = "lazydev:wallet-password"

// CacheSessionPassword keeps the wallet password in the user's kernel keyring
// until ttl elapses. It backs headless machines with no keyring daemon; the
// key lives in kernel memory only and is gone after a reboot.
func CacheSessionPassword(password string, ttl time.Duration) error {
	id, err := unix.AddKey("user", sessionKeyName, []byte(password), unix.KEY_SPEC_USER_KEYRING)
	if err != nil {
		return fmt.Errorf("add_key failed: %w", err)
	}
	if ttl > 0 {
		if _, err := unix.KeyctlInt(unix.KEYCTL_SET_TIMEOUT, id, int(ttl/time.Second), 0, 0); err != nil {
			return fmt.Errorf("keyctl set_timeout failed: %w", err)
		}
	}
	return nil
}

// SessionPassword reads the cached wallet password. An absent or timed out
// key yields ErrKeyNotFound.
func SessionPassword() (string, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, "user", sessionKeyName, 0)
	if err != nil {
		if errors.Is(err, unix.ENOKEY) || errors.Is(err, unix.EKEYEXPIRED) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("keyctl search failed: %w", err)
	}

	size, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, nil, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl read failed: %w", err)
	}
	buf := make([]byte, size)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl read failed: %w", err)
	}
	return string(buf[:min(n, len(buf))]), nil
}

// ClearSessionPassword unlinks the cached password. Clearing an empty cache
// is not an error.
func ClearSessionPassword() error {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, "user", sessionKeyName, 0)
	if err != nil {
		return nil
	}
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, id, unix.KEY_SPEC_USER_KEYRING, 0, 0); err != nil {
		return fmt.Errorf("keyctl unlink failed: %w", err)
	}
	return nil
}
