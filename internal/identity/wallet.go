package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuthMessagePrefix prefixes the timestamped message signed for bridge requests.
const AuthMessagePrefix = "lazydev-auth:"

// MaxAuthSkew is how old or how far in the future an auth message may be.
const MaxAuthSkew = 5 * time.Minute

// Wallet is the local key that authenticates this client to the wallet
// bridge. It never signs chain transactions itself; the bridge does.
type Wallet struct {
	keystore   *keystore.KeyStore
	keyPath    string
	address    common.Address
	password   string
	mu         sync.Mutex
	privateKey *ecdsa.PrivateKey
}

// LoadWallet loads the wallet in keystoreDir.
// Returns (nil, nil) if no wallet file exists.
func LoadWallet(keystoreDir, password string) (*Wallet, error) {
	ks, err := openKeystore(keystoreDir)
	if err != nil {
		return nil, err
	}
	accounts := ks.Accounts()
	if len(accounts) == 0 {
		return nil, nil
	}
	return &Wallet{keystore: ks, keyPath: keystoreDir, address: accounts[0].Address, password: password}, nil
}

// CreateWallet creates a new wallet in keystoreDir.
// Returns an error if a wallet already exists.
func CreateWallet(keystoreDir, password string) (*Wallet, error) {
	ks, err := openKeystore(keystoreDir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", keystoreDir)
	}

	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{keystore: ks, keyPath: keystoreDir, address: account.Address, password: password}, nil
}

// ImportWallet imports a hex private key into a new wallet in keystoreDir.
func ImportWallet(keystoreDir, privKeyHex, password string) (*Wallet, error) {
	ks, err := openKeystore(keystoreDir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", keystoreDir)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{keystore: ks, keyPath: keystoreDir, address: account.Address, password: password}, nil
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP), nil
}

// Address returns the wallet address
func (w *Wallet) Address() common.Address {
	return w.address
}

// KeystoreDir returns the path to the keystore directory
func (w *Wallet) KeystoreDir() string {
	return w.keyPath
}

func (w *Wallet) key() (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.privateKey != nil {
		return w.privateKey, nil
	}

	accounts := w.keystore.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found")
	}
	keyJSON, err := os.ReadFile(accounts[0].URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, w.password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	w.privateKey = key.PrivateKey
	return w.privateKey, nil
}

// ClearCachedKey zeros the cached private key.
func (w *Wallet) ClearCachedKey() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.privateKey != nil {
		w.privateKey.D.SetUint64(0)
		w.privateKey = nil
	}
}

// SignAuth produces the X-Wallet-Address, X-Wallet-Signature and
// X-Wallet-Message header values for a bridge request.
func (w *Wallet) SignAuth() (address, signature, message string, err error) {
	message = AuthMessagePrefix + strconv.FormatInt(time.Now().Unix(), 10)

	key, err := w.key()
	if err != nil {
		return "", "", "", err
	}
	sig, err := crypto.Sign(personalHash(message), key)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to sign auth message: %w", err)
	}
	// Ethereum convention (27/28)
	sig[64] += 27

	return w.address.Hex(), "0x" + hex.EncodeToString(sig), message, nil
}

// VerifyAuth checks a SignAuth triple: the signature recovers to address and
// the message timestamp is within MaxAuthSkew of now.
func VerifyAuth(address, signature, message string, now time.Time) error {
	ts, ok := strings.CutPrefix(message, AuthMessagePrefix)
	if !ok {
		return fmt.Errorf("auth message has wrong prefix")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("auth message timestamp: %w", err)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > MaxAuthSkew || d < -MaxAuthSkew {
		return fmt.Errorf("auth message expired")
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("malformed signature")
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(*pub).Hex(), address) {
		return fmt.Errorf("signature does not match %s", address)
	}
	return nil
}

// personalHash is the EIP-191 personal_sign digest.
func personalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
