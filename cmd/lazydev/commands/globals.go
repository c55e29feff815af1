package commands

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/lazydev-zone/lazydev/internal/config"
	"github.com/lazydev-zone/lazydev/internal/logging"
)

// Global CLI flags
var (
	// ConfigPath is the config file to load
	ConfigPath string

	// LogLevel overrides log.level when set
	LogLevel string

	// JSONOutput switches every command to machine-readable output
	JSONOutput bool

	// GitHubToken overrides github.token (LAZYDEV_GITHUB_TOKEN)
	GitHubToken string
)

// loadConfig loads the config named by --config and applies global flag
// overrides. Logs go to stderr so stdout stays clean for --json.
func loadConfig() (*config.Config, error) {
	path := ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}
	if GitHubToken != "" {
		cfg.GitHub.Token = GitHubToken
	}
	logging.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// requireToken returns the configured GitHub token or a hint on how to set one.
func requireToken(cfg *config.Config) (string, error) {
	if cfg.GitHub.Token == "" {
		return "", fmt.Errorf("a GitHub token is required: pass --github-token or set LAZYDEV_GITHUB_TOKEN")
	}
	return cfg.GitHub.Token, nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
