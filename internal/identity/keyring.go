package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"github.com/99designs/keyring"
)

const (
	keyringServiceName = "lazydev"
	walletPasswordKey  = "wallet-password"
	masterKeyName      = "secret-store-key"
	masterKeySize      = 32
)

// ErrKeyNotFound is returned when the keyring holds no item under the key.
var ErrKeyNotFound = errors.New("key not found in keyring")

// KeyringOptions selects the keyring backend.
type KeyringOptions struct {
	// Backend is "" for the platform keyring or "file" for an encrypted
	// file keyring under FileDir (headless machines, CI).
	Backend      string
	FileDir      string
	FilePassword string
}

// Keyring stores the wallet password and the secret-store master key.
type Keyring struct {
	ring    keyring.Keyring
	backend string
}

// OpenKeyring opens the configured keyring.
// On macOS: Keychain. On Linux: Secret Service (GNOME Keyring / KDE Wallet).
func OpenKeyring(opts KeyringOptions) (*Keyring, error) {
	cfg := keyring.Config{
		ServiceName:                    keyringServiceName,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
	}

	backend := keyringBackendName()
	if opts.Backend == "file" {
		if opts.FileDir == "" {
			return nil, fmt.Errorf("file keyring requires a directory")
		}
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
		cfg.FileDir = opts.FileDir
		cfg.FilePasswordFunc = keyring.FixedStringPrompt(opts.FilePassword)
		backend = "encrypted file (" + opts.FileDir + ")"
	} else {
		cfg.AllowedBackends = platformKeyringBackends()
		if len(cfg.AllowedBackends) == 0 {
			return nil, fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
		}
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &Keyring{ring: ring, backend: backend}, nil
}

// Backend returns a human-readable backend name.
func (k *Keyring) Backend() string {
	return k.backend
}

// Set stores data under key.
func (k *Keyring) Set(key, label string, data []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  data,
		Label: label,
	})
	if err != nil {
		return fmt.Errorf("failed to store in %s: %w", k.backend, err)
	}
	return nil
}

// Get returns the data stored under key, or ErrKeyNotFound.
func (k *Keyring) Get(key string) ([]byte, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", k.backend, err)
	}
	return item.Data, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (k *Keyring) Remove(key string) error {
	err := k.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// StoreWalletPassword stores the bridge wallet's keystore password.
func (k *Keyring) StoreWalletPassword(password string) error {
	return k.Set(walletPasswordKey, "lazydev wallet password", []byte(password))
}

// WalletPassword returns the stored wallet password, or ("", nil) if none is stored.
func (k *Keyring) WalletPassword() (string, error) {
	data, err := k.Get(walletPasswordKey)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeleteWalletPassword removes the stored wallet password.
func (k *Keyring) DeleteWalletPassword() error {
	return k.Remove(walletPasswordKey)
}

// MasterKey returns the key that encrypts commitment secrets at rest,
// generating and storing one on first use.
func (k *Keyring) MasterKey() ([]byte, error) {
	data, err := k.Get(masterKeyName)
	if err == nil {
		if len(data) != masterKeySize {
			return nil, fmt.Errorf("stored master key has %d bytes, want %d", len(data), masterKeySize)
		}
		return data, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := k.Set(masterKeyName, "lazydev secret store key", key); err != nil {
		return nil, err
	}
	return key, nil
}

func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	default:
		return nil
	}
}

func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	default:
		return "system keyring"
	}
}
