package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazydev-zone/lazydev/internal/contracts"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// NewContractsCmd creates the contracts command group
func NewContractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Manage reward contracts",
		Long: `Deploy reward contracts and keep a local list of the ones you use.

The local list is advisory; the chain remains authoritative.

Examples:
  lazydev contracts deploy --name "Widget Reward" --symbol WDGT --repo acme/widget
  lazydev contracts list --repo acme/widget
  lazydev contracts add neutron1... --repo acme/widget
  lazydev contracts remove neutron1...`,
	}

	cmd.AddCommand(newContractsListCmd())
	cmd.AddCommand(newContractsAddCmd())
	cmd.AddCommand(newContractsRemoveCmd())
	cmd.AddCommand(newContractsDeployCmd())
	return cmd
}

func openCache(cmd *cobra.Command, needs appNeeds) (*app, *contracts.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	needs.store = true
	a, err := newApp(cmd.Context(), cfg, needs)
	if err != nil {
		return nil, nil, err
	}
	return a, contracts.NewCache(a.kv), nil
}

func newContractsListCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered reward contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cache, err := openCache(cmd, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := cache.List(repo)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				Info("No reward contracts remembered")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, rc := range list {
				rows = append(rows, []string{
					rc.Address,
					rc.Kind,
					rc.Symbol,
					rc.Repo,
					strconv.FormatUint(rc.CodeID, 10),
					time.Unix(rc.CreatedAt, 0).UTC().Format("2006-01-02"),
				})
			}
			fmt.Println(RenderTable([]string{"ADDRESS", "KIND", "SYMBOL", "REPO", "CODE ID", "ADDED"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Only show contracts for org/repo")
	return cmd
}

func newContractsAddCmd() *cobra.Command {
	var rc types.RewardContract

	cmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Remember an existing reward contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cache, err := openCache(cmd, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			rc.Address = args[0]
			if err := cache.Add(rc); err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(rc)
			}
			Success("Remembered " + rc.Address)
			return nil
		},
	}

	cmd.Flags().StringVar(&rc.Repo, "repo", "", "Repository the contract rewards (org/repo)")
	cmd.Flags().StringVar(&rc.Kind, "kind", contracts.KindToken, "Contract kind")
	cmd.Flags().StringVar(&rc.Label, "label", contracts.TokenMinterLabel, "Instantiate label")
	cmd.Flags().Uint64Var(&rc.CodeID, "code-id", contracts.TokenMinterCodeID, "Code id")
	cmd.Flags().StringVar(&rc.Symbol, "symbol", "", "Token symbol")
	cmd.Flags().StringVar(&rc.AmountPerReward, "amount-per-reward", "", "Reward per pull request, in base units")
	return cmd
}

func newContractsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <address>",
		Short: "Forget a reward contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cache, err := openCache(cmd, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := cache.Remove(args[0]); err != nil {
				return err
			}
			Success("Forgot " + args[0])
			return nil
		},
	}
}

func newContractsDeployCmd() *cobra.Command {
	var (
		req   contracts.DeployRequest
		repos []string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Instantiate a cw20 reward minter",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range repos {
				repo, err := types.ParseRepo(r)
				if err != nil {
					return err
				}
				req.ValidRepos = append(req.ValidRepos, repo)
			}

			a, cache, err := openCache(cmd, appNeeds{signer: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var rc types.RewardContract
			err = WithSpinner("Instantiating "+req.Symbol+" reward minter", func() error {
				var err error
				rc, err = cache.Deploy(cmd.Context(), a.signer, a.chain.ContractAddress(), req)
				return err
			})
			if err != nil {
				return err
			}

			if JSONOutput {
				return printJSON(rc)
			}
			Success("Reward contract deployed")
			fmt.Println(StatusBox(rc.Name, [][2]string{
				{"Address", rc.Address},
				{"Symbol", rc.Symbol},
				{"Decimals", strconv.Itoa(int(rc.Decimals))},
				{"Code id", strconv.FormatUint(rc.CodeID, 10)},
			}))
			fmt.Println(Hint("Use it as reward_contract in your repo config"))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Token name")
	cmd.Flags().StringVar(&req.Symbol, "symbol", "", "Token symbol (3 to 12 characters)")
	cmd.Flags().Uint8Var(&req.Decimals, "decimals", 6, "Token decimals")
	cmd.Flags().StringSliceVar(&req.ValidOrgs, "org", nil, "GitHub org whose PRs may be rewarded (repeatable)")
	cmd.Flags().StringSliceVar(&repos, "repo", nil, "org/repo whose PRs may be rewarded (repeatable)")
	cmd.Flags().StringVar(&req.AmountPerReward, "amount-per-reward", "", "Reward per pull request, in base units")
	return cmd
}
