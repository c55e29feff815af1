package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. LAZYDEV_CHAIN_CONTRACT_ADDRESS.
const EnvPrefix = "LAZYDEV"

// Config represents the complete lazydev configuration
type Config struct {
	Chain     ChainConfig     `yaml:"chain" envconfig:"CHAIN"`
	Proof     ProofConfig     `yaml:"proof" envconfig:"PROOF"`
	GitHub    GitHubConfig    `yaml:"github" envconfig:"GITHUB"`
	Reconcile ReconcileConfig `yaml:"reconcile" envconfig:"RECONCILE"`
	Signer    SignerConfig    `yaml:"signer" envconfig:"SIGNER"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Proofd    ProofdConfig    `yaml:"proofd" envconfig:"PROOFD"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

// ChainConfig contains the lazydev contract and node endpoints
type ChainConfig struct {
	ChainID          string        `yaml:"chain_id" envconfig:"CHAIN_ID"`
	RPCURL           string        `yaml:"rpc_url" envconfig:"RPC_URL"`
	RPCURLs          []string      `yaml:"rpc_urls,omitempty" envconfig:"RPC_URLS"` // Fallback CometBFT RPC endpoints
	RESTURL          string        `yaml:"rest_url" envconfig:"REST_URL"`
	RESTURLs         []string      `yaml:"rest_urls,omitempty" envconfig:"REST_URLS"` // Fallback LCD endpoints
	WSURL            string        `yaml:"ws_url,omitempty" envconfig:"WS_URL"`       // Derived from rpc_url when empty
	EnableWebsocket  bool          `yaml:"enable_websocket" envconfig:"ENABLE_WEBSOCKET"`
	ContractAddress  string        `yaml:"contract_address" envconfig:"CONTRACT_ADDRESS"`
	GasDenom         string        `yaml:"gas_denom" envconfig:"GAS_DENOM"`
	GasPrice         string        `yaml:"gas_price" envconfig:"GAS_PRICE"`
	PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	InclusionTimeout time.Duration `yaml:"inclusion_timeout" envconfig:"INCLUSION_TIMEOUT"`
	RequestTimeout   time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// ResolvedRPCURLs returns the primary RPC URL followed by deduplicated fallbacks.
func (c *ChainConfig) ResolvedRPCURLs() []string {
	return mergeURLs(c.RPCURL, c.RPCURLs)
}

// ResolvedRESTURLs returns the primary REST URL followed by deduplicated fallbacks.
func (c *ChainConfig) ResolvedRESTURLs() []string {
	return mergeURLs(c.RESTURL, c.RESTURLs)
}

// ResolvedWSURL returns the websocket endpoint, derived from the RPC URL if unset.
func (c *ChainConfig) ResolvedWSURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	u := strings.TrimRight(c.RPCURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/websocket"
}

func mergeURLs(primary string, extras []string) []string {
	seen := make(map[string]bool)
	var result []string

	if primary != "" {
		result = append(result, primary)
		seen[primary] = true
	}
	for _, u := range extras {
		if u != "" && !seen[u] {
			result = append(result, u)
			seen[u] = true
		}
	}
	return result
}

// ProofConfig points at the proof gateway
type ProofConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// GitHubConfig contains GitHub REST settings
type GitHubConfig struct {
	APIURL  string        `yaml:"api_url" envconfig:"API_URL"`
	Token   string        `yaml:"-" envconfig:"TOKEN"` // Never written to disk
	PerPage int           `yaml:"per_page" envconfig:"PER_PAGE"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// ReconcileConfig bounds the per-PR chain query fan-out
type ReconcileConfig struct {
	Workers   int     `yaml:"workers" envconfig:"WORKERS"`
	RateLimit float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT"` // chain queries per second, 0 = unlimited
	Burst     int     `yaml:"burst" envconfig:"BURST"`
}

// SignerConfig configures the wallet bridge that signs and broadcasts transactions
type SignerConfig struct {
	BridgeURL      string        `yaml:"bridge_url" envconfig:"BRIDGE_URL"`
	Sender         string        `yaml:"sender" envconfig:"SENDER"` // bech32 account the bridge signs for
	KeystoreDir    string        `yaml:"keystore_dir" envconfig:"KEYSTORE_DIR"`
	KeyringBackend string        `yaml:"keyring_backend,omitempty" envconfig:"KEYRING_BACKEND"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// StorageConfig contains local state settings
type StorageConfig struct {
	DataDir  string `yaml:"data_dir" envconfig:"DATA_DIR"`
	InMemory bool   `yaml:"in_memory" envconfig:"IN_MEMORY"`
	// SecretTTL bounds how long a secret is kept even if no chain height is ever observed for it.
	SecretTTL time.Duration `yaml:"secret_ttl" envconfig:"SECRET_TTL"`
}

// ProofdConfig configures the proof gateway daemon
type ProofdConfig struct {
	ListenAddr   string        `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	MetricsAddr  string        `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	AttestorURL  string        `yaml:"attestor_url" envconfig:"ATTESTOR_URL"`
	AppIDs       []string      `yaml:"-" envconfig:"APP_IDS"`
	AppSecrets   []string      `yaml:"-" envconfig:"APP_SECRETS"`
	RateLimit    float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT"` // requests per second per client IP
	Burst        int           `yaml:"burst" envconfig:"BURST"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	GitHubAPIURL string        `yaml:"github_api_url" envconfig:"GITHUB_API_URL"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the default configuration (Neutron pion-1 testnet).
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".lazydev")

	return &Config{
		Chain: ChainConfig{
			ChainID:          "pion-1",
			RPCURL:           "https://rpc.pion.rs-testnet.polypore.xyz",
			RESTURL:          "https://rest.pion.rs-testnet.polypore.xyz",
			EnableWebsocket:  true,
			ContractAddress:  "neutron17763lnw3wp74zg8etdpultvj2sysx2qrsv0hwrjay3dwyyd9uqyqhcxr86",
			GasDenom:         "untrn",
			GasPrice:         "0.025",
			PollInterval:     3 * time.Second,
			InclusionTimeout: 2 * time.Minute,
			RequestTimeout:   30 * time.Second,
		},
		Proof: ProofConfig{
			BaseURL: "https://backend.lazydev.zone",
			Timeout: 2 * time.Minute,
		},
		GitHub: GitHubConfig{
			APIURL:  "https://api.github.com",
			PerPage: 100,
			Timeout: 30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Workers:   8,
			RateLimit: 10,
			Burst:     5,
		},
		Signer: SignerConfig{
			BridgeURL:   "http://127.0.0.1:8545",
			KeystoreDir: filepath.Join(base, "keystore"),
			Timeout:     2 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:   filepath.Join(base, "data"),
			SecretTTL: 72 * time.Hour,
		},
		Proofd: ProofdConfig{
			ListenAddr:   ":8080",
			MetricsAddr:  ":9090",
			AttestorURL:  "http://127.0.0.1:8001",
			RateLimit:    2,
			Burst:        10,
			Timeout:      2 * time.Minute,
			GitHubAPIURL: "https://api.github.com",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path, applies LAZYDEV_* environment
// overrides and validates the result. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	path = expandPath(path)

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the flows cannot run with.
func (c *Config) Validate() error {
	if c.Chain.ChainID == "" {
		return fmt.Errorf("chain.chain_id is required")
	}
	if len(c.Chain.ResolvedRPCURLs()) == 0 {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if len(c.Chain.ResolvedRESTURLs()) == 0 {
		return fmt.Errorf("chain.rest_url is required")
	}
	if err := validateBech32Address("chain.contract_address", c.Chain.ContractAddress); err != nil {
		return err
	}
	if c.Chain.PollInterval <= 0 {
		return fmt.Errorf("chain.poll_interval must be positive")
	}

	if c.Proof.BaseURL == "" {
		return fmt.Errorf("proof.base_url is required")
	}

	if c.Reconcile.Workers < 1 || c.Reconcile.Workers > 64 {
		return fmt.Errorf("reconcile.workers must be between 1 and 64, got %d", c.Reconcile.Workers)
	}
	if c.Reconcile.RateLimit < 0 {
		return fmt.Errorf("reconcile.rate_limit must not be negative")
	}

	if len(c.Proofd.AppIDs) != len(c.Proofd.AppSecrets) {
		return fmt.Errorf("proofd app ids and secrets differ in count (%d vs %d)", len(c.Proofd.AppIDs), len(c.Proofd.AppSecrets))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}

	return nil
}

// validateBech32Address does a shape check only; the chain validates checksums.
func validateBech32Address(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	hrp, data, ok := strings.Cut(addr, "1")
	if !ok || hrp == "" || len(data) < 38 {
		return fmt.Errorf("%s: %q is not a bech32 address", name, addr)
	}
	if addr != strings.ToLower(addr) {
		return fmt.Errorf("%s: %q must be lowercase", name, addr)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Signer.KeystoreDir = expandPath(c.Signer.KeystoreDir)
	c.Storage.DataDir = expandPath(c.Storage.DataDir)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".lazydev", "config.yaml")
}

// EnsureDirectories creates the local state directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Signer.KeystoreDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
