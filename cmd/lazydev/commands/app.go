package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/config"
	"github.com/lazydev-zone/lazydev/internal/github"
	"github.com/lazydev-zone/lazydev/internal/identity"
	"github.com/lazydev-zone/lazydev/internal/linking"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/proof"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/internal/store"
)

const (
	walletPasswordEnv  = "LAZYDEV_WALLET_PASSWORD"
	keyringPasswordEnv = "LAZYDEV_KEYRING_PASSWORD"
)

// app holds the collaborators a command needs. Only what the command asks
// for is opened; Close releases all of it.
type app struct {
	cfg     *config.Config
	chain   *chain.Client
	heights *chain.HeightWatcher
	prover  *proof.Client
	github  *github.Client
	metrics *metrics.Recorder

	kv      *store.Store
	secrets secret.Store
	signer  signer.Signer
}

type appNeeds struct {
	store   bool // local badger store
	secrets bool // secret store on top of it (also opens the keyring)
	signer  bool // wallet bridge
	heights bool // chain head subscription
}

func newApp(ctx context.Context, cfg *config.Config, needs appNeeds) (*app, error) {
	cc, err := chain.NewClient(chain.Options{
		RPCURLs:         cfg.Chain.ResolvedRPCURLs(),
		RESTURLs:        cfg.Chain.ResolvedRESTURLs(),
		ContractAddress: cfg.Chain.ContractAddress,
		RequestTimeout:  cfg.Chain.RequestTimeout,
		PollInterval:    cfg.Chain.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	a := &app{
		cfg:     cfg,
		chain:   cc,
		prover:  proof.NewClient(cfg.Proof.BaseURL, cfg.Proof.Timeout),
		metrics: metrics.New(),
		github: github.NewClient(github.Options{
			APIURL:  cfg.GitHub.APIURL,
			Token:   cfg.GitHub.Token,
			PerPage: cfg.GitHub.PerPage,
			Timeout: cfg.GitHub.Timeout,
		}),
	}

	if needs.heights {
		wsURL := ""
		if cfg.Chain.EnableWebsocket {
			wsURL = cfg.Chain.ResolvedWSURL()
		}
		a.heights = chain.NewHeightWatcher(cc, wsURL)
		if err := a.heights.Start(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if needs.store || needs.secrets {
		if err := a.openStore(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if needs.secrets {
		if err := a.openSecrets(); err != nil {
			a.Close()
			return nil, err
		}
	}

	if needs.signer {
		s, err := openSigner(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.signer = signer.Serialize(s)
	}
	return a, nil
}

func (a *app) openStore() error {
	if err := a.cfg.EnsureDirectories(); err != nil {
		return err
	}
	kv, err := store.Open(store.Options{DataDir: a.cfg.Storage.DataDir, InMemory: a.cfg.Storage.InMemory})
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	a.kv = kv
	return nil
}

func (a *app) openSecrets() error {
	ring, err := openKeyring(a.cfg)
	if err != nil {
		return err
	}
	masterKey, err := ring.MasterKey()
	if err != nil {
		return fmt.Errorf("failed to load secret store key from %s: %w", ring.Backend(), err)
	}
	secrets, err := secret.NewBadgerStore(a.kv, masterKey, a.cfg.Storage.SecretTTL)
	if err != nil {
		return err
	}
	a.secrets = secrets
	return nil
}

// Close stops background work and closes local storage.
func (a *app) Close() {
	if a.heights != nil {
		a.heights.Stop()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			logging.Warn("failed to close local store", logging.Err(err))
		}
	}
}

func (a *app) linkingDeps() linking.Deps {
	return linking.Deps{
		Chain:   a.chain,
		Heights: a.heights,
		Prover:  a.prover,
		Secrets: a.secrets,
		Signer:  a.signer,
		Metrics: a.metrics,
	}
}

func openKeyring(cfg *config.Config) (*identity.Keyring, error) {
	return identity.OpenKeyring(identity.KeyringOptions{
		Backend:      cfg.Signer.KeyringBackend,
		FileDir:      filepath.Join(filepath.Dir(cfg.Storage.DataDir), "keyring"),
		FilePassword: os.Getenv(keyringPasswordEnv),
	})
}

// walletPassword reads the keystore password from the environment, the
// kernel session cache, then the keyring.
func walletPassword(cfg *config.Config) string {
	if pw := os.Getenv(walletPasswordEnv); pw != "" {
		return pw
	}
	if pw, err := identity.SessionPassword(); err == nil {
		return pw
	}
	ring, err := openKeyring(cfg)
	if err != nil {
		return ""
	}
	pw, err := ring.WalletPassword()
	if err != nil {
		logging.Debug("wallet password not available from keyring", logging.Err(err))
		return ""
	}
	return pw
}

// openSigner connects to the wallet bridge, authenticating with the local
// wallet when one exists.
func openSigner(ctx context.Context, cfg *config.Config) (*signer.BridgeSigner, error) {
	opts := signer.BridgeOptions{
		URL:      cfg.Signer.BridgeURL,
		ChainID:  cfg.Chain.ChainID,
		Sender:   cfg.Signer.Sender,
		GasPrice: cfg.Chain.GasPrice + cfg.Chain.GasDenom,
		Timeout:  cfg.Signer.Timeout,
	}

	w, err := identity.LoadWallet(cfg.Signer.KeystoreDir, walletPassword(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if w != nil {
		opts.Auth = w
	}

	s, err := signer.NewBridgeSigner(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
