package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lazydev-zone/lazydev/cmd/lazydev/commands"
)

var rootCmd = &cobra.Command{
	Use:           "lazydev",
	Short:         "Get paid for merged pull requests",
	Long:          "Link GitHub accounts and repositories to the lazydev contract on Neutron, and claim pull request rewards.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.lazydev/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&commands.JSONOutput, "json", false, "Print machine-readable JSON")
	rootCmd.PersistentFlags().StringVar(&commands.GitHubToken, "github-token", "", "GitHub token (default: LAZYDEV_GITHUB_TOKEN)")
}

func main() {
	rootCmd.AddCommand(commands.NewAccountCmd())
	rootCmd.AddCommand(commands.NewRepoCmd())
	rootCmd.AddCommand(commands.NewRewardsCmd())
	rootCmd.AddCommand(commands.NewContractsCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		commands.Error(err.Error())
		os.Exit(1)
	}
}
