package commands

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lazydev-zone/lazydev/internal/config"
	"github.com/lazydev-zone/lazydev/internal/identity"
)

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the key that authenticates you to the wallet bridge",
		Long: `Manage the local key that authenticates lazydev to the wallet bridge.

Chain transactions are signed by the bridge, which holds your Neutron
account. The local key only signs bridge requests, so a stolen request
cannot be replayed by another process.

The key is stored as an encrypted keystore file. Its password is kept in
your platform keyring (macOS Keychain, Secret Service) or read from
LAZYDEV_WALLET_PASSWORD.

Examples:
  lazydev wallet create
  lazydev wallet import
  lazydev wallet address`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletAddressCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())
	return cmd
}

const sessionPasswordTTL = 12 * time.Hour

// storePasswordInKeyring saves the password, or explains how to supply it.
func storePasswordInKeyring(cfg *config.Config, password string) {
	ring, err := openKeyring(cfg)
	if err == nil {
		if err = ring.StoreWalletPassword(password); err == nil {
			fmt.Printf("  Password saved to %s\n", ring.Backend())
			return
		}
	}
	Warning(fmt.Sprintf("Could not store password in the keyring: %v", err))
	if cacheErr := identity.CacheSessionPassword(password, sessionPasswordTTL); cacheErr == nil {
		fmt.Printf("  Password cached in the kernel session keyring for %s\n", sessionPasswordTTL)
		return
	}
	fmt.Println(Hint("Set " + walletPasswordEnv + " to unlock the wallet automatically."))
}

// promptNewPassword reads and confirms a password, retrying a few times.
func promptNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if len(password) < 8 {
			Warning("Password must be at least 8 characters. Try again.")
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		confirm, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

func newWalletCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.Signer.KeystoreDir

			if w, err := identity.LoadWallet(dir, ""); err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			} else if w != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", dir, w.Address().Hex())
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.CreateWallet(dir, password)
			if err != nil {
				return err
			}

			Success("Wallet created")
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", dir},
			}))
			storePasswordInKeyring(cfg, password)
			return nil
		},
	}
}

func newWalletImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import a wallet key from a hex private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.Signer.KeystoreDir

			if w, err := identity.LoadWallet(dir, ""); err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			} else if w != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", dir, w.Address().Hex())
			}

			fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
			key, err := readPasswordNoEcho()
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}
			fmt.Fprintln(os.Stderr)
			key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
			if len(key) != 64 {
				return fmt.Errorf("private key must be 64 hex characters, got %d", len(key))
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.ImportWallet(dir, key, password)
			if err != nil {
				return err
			}

			Success("Wallet imported")
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", dir},
			}))
			storePasswordInKeyring(cfg, password)
			return nil
		},
	}
}

func newWalletAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Show the wallet key and the bridge's signing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w, err := identity.LoadWallet(cfg.Signer.KeystoreDir, "")
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			keyAddr := ""
			if w != nil {
				keyAddr = w.Address().Hex()
			}
			sender := ""
			if s, err := openSigner(cmd.Context(), cfg); err == nil {
				sender = s.Sender()
			} else {
				Warning(fmt.Sprintf("Wallet bridge unavailable: %v", err))
			}

			if JSONOutput {
				return printJSON(map[string]string{"auth_key": keyAddr, "sender": sender})
			}
			if keyAddr == "" {
				keyAddr = "none (create one with: lazydev wallet create)"
			}
			if sender == "" {
				sender = "unknown"
			}
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Auth key", keyAddr},
				{"Keystore", cfg.Signer.KeystoreDir},
				{"Bridge", cfg.Signer.BridgeURL},
				{"Sender", sender},
			}))
			return nil
		},
	}
}

func newWalletForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := identity.ClearSessionPassword(); err != nil {
				return err
			}
			ring, err := openKeyring(cfg)
			if err != nil {
				return err
			}
			if err := ring.DeleteWalletPassword(); err != nil {
				return err
			}
			Success("Removed wallet password from " + ring.Backend())
			return nil
		},
	}
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
