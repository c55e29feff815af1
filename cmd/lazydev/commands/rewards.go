package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazydev-zone/lazydev/internal/rewards"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// NewRewardsCmd creates the rewards command group
func NewRewardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "List and claim pull request rewards",
		Long: `List your closed pull requests in registered repositories and claim
the rewards of merged ones.

Examples:
  lazydev rewards list
  lazydev rewards claim https://github.com/acme/widget/pull/7
  lazydev rewards claim-all
  lazydev rewards eligibility https://github.com/acme/widget/pull/7`,
	}

	cmd.AddCommand(newRewardsListCmd())
	cmd.AddCommand(newRewardsClaimCmd())
	cmd.AddCommand(newRewardsClaimAllCmd())
	cmd.AddCommand(newRewardsEligibilityCmd())
	return cmd
}

func newReconciler(a *app) *rewards.Reconciler {
	return rewards.NewReconciler(a.chain, a.github, rewards.Options{
		Workers:   a.cfg.Reconcile.Workers,
		RateLimit: a.cfg.Reconcile.RateLimit,
		Burst:     a.cfg.Reconcile.Burst,
	}, a.metrics)
}

// resolveAuthor returns the --author flag or the token's login.
func resolveAuthor(cmd *cobra.Command, a *app, author string) (string, error) {
	if author != "" {
		return author, nil
	}
	if _, err := requireToken(a.cfg); err != nil {
		return "", fmt.Errorf("pass --author or a GitHub token: %w", err)
	}
	u, err := a.github.User(cmd.Context())
	if err != nil {
		return "", fmt.Errorf("failed to resolve GitHub user: %w", err)
	}
	return u.Login, nil
}

func formatRewards(rs []types.TokenRewardInfo) string {
	if len(rs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		amount := "0"
		if r.RewardAmount != nil {
			amount = addThousandsSep(r.RewardAmount.String())
		}
		parts = append(parts, amount+" "+r.RewardToken)
	}
	return strings.Join(parts, ", ")
}

func contributionStatus(c types.Contribution) string {
	if c.Claimed {
		return "claimed"
	}
	return "unclaimed"
}

func newRewardsListCmd() *cobra.Command {
	var (
		author      string
		onlyPending bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contributions and their claim status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			author, err := resolveAuthor(cmd, a, author)
			if err != nil {
				return err
			}

			var list []types.Contribution
			err = WithSpinner("Reconciling contributions of "+author, func() error {
				var err error
				list, err = newReconciler(a).Contributions(ctx, author, nil)
				return err
			})
			if err != nil {
				return err
			}
			if onlyPending {
				pending := list[:0]
				for _, c := range list {
					if !c.Claimed {
						pending = append(pending, c)
					}
				}
				list = pending
			}

			if JSONOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				Info("No contributions found in registered repositories")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, c := range list {
				rows = append(rows, []string{
					c.PrURL,
					c.Date,
					StatusBadge(contributionStatus(c)),
					formatRewards(c.Rewards),
				})
			}
			fmt.Println(RenderTable([]string{"PULL REQUEST", "DATE", "STATUS", "REWARD"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&author, "author", "", "GitHub login (default: the token's user)")
	cmd.Flags().BoolVar(&onlyPending, "unclaimed", false, "Only show unclaimed pull requests")
	return cmd
}

func newRewardsClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <pr-url>",
		Short: "Claim the reward of a merged pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := types.ParsePullRequestURL(args[0]); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appNeeds{signer: true})
			if err != nil {
				return err
			}
			defer a.Close()

			claimer := rewards.NewClaimer(a.chain, a.prover, a.signer, a.metrics)
			var res *rewards.ClaimResult
			err = WithSpinner("Proving and claiming "+args[0], func() error {
				var err error
				res, err = claimer.Claim(ctx, args[0])
				return err
			})
			outcome := rewards.OutcomeOf(err)

			if JSONOutput {
				out := map[string]any{"pr_url": args[0], "outcome": outcome}
				if res != nil {
					out["tx_hash"] = res.TxHash
				}
				if err != nil {
					out["error"] = err.Error()
				}
				if perr := printJSON(out); perr != nil {
					return perr
				}
				return err
			}

			switch outcome {
			case rewards.OutcomeClaimed:
				Success("Reward claimed")
				fmt.Println(StatusBox("Claim", [][2]string{
					{"Pull request", res.PrURL},
					{"Tx", res.TxHash},
				}))
				return nil
			case rewards.OutcomeAlreadyClaimed:
				Warning("This pull request was already rewarded")
			case rewards.OutcomeIneligible:
				Warning("This pull request is not eligible: it must be merged, labelled and authored by a linked account")
			}
			return err
		},
	}
}

func newRewardsClaimAllCmd() *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "claim-all [pr-url...]",
		Short: "Claim several rewards in one transaction",
		Long: `Claim several rewards in one signed transaction. Without arguments every
unclaimed contribution of the author is claimed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appNeeds{signer: true})
			if err != nil {
				return err
			}
			defer a.Close()

			urls := args
			if len(urls) == 0 {
				author, err := resolveAuthor(cmd, a, author)
				if err != nil {
					return err
				}
				err = WithSpinner("Finding unclaimed contributions of "+author, func() error {
					list, err := newReconciler(a).Contributions(ctx, author, nil)
					for _, c := range list {
						if !c.Claimed {
							urls = append(urls, c.PrURL)
						}
					}
					return err
				})
				if err != nil {
					return err
				}
				if len(urls) == 0 {
					Info("Nothing to claim")
					return nil
				}
			}

			claimer := rewards.NewClaimer(a.chain, a.prover, a.signer, a.metrics)
			var res *rewards.BatchResult
			err = WithSpinner(fmt.Sprintf("Proving and claiming %d pull requests", len(urls)), func() error {
				var err error
				res, err = claimer.ClaimAll(ctx, urls)
				return err
			})
			if JSONOutput && res != nil {
				failed := make(map[string]string, len(res.Failed))
				for u, e := range res.Failed {
					failed[u] = e.Error()
				}
				if perr := printJSON(map[string]any{
					"tx_hash": res.TxHash,
					"claimed": res.Claimed,
					"failed":  failed,
				}); perr != nil {
					return perr
				}
				return err
			}
			if res != nil {
				for u, e := range res.Failed {
					Warning(fmt.Sprintf("%s: %v", u, e))
				}
			}
			if err != nil {
				return err
			}

			Success(fmt.Sprintf("Claimed %d rewards", len(res.Claimed)))
			fmt.Println(StatusBox("Batch claim", [][2]string{
				{"Tx", res.TxHash},
				{"Claimed", strconv.Itoa(len(res.Claimed))},
				{"Left out", strconv.Itoa(len(res.Failed))},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&author, "author", "", "GitHub login whose contributions to claim (default: the token's user)")
	return cmd
}

func newRewardsEligibilityCmd() *cobra.Command {
	var userID uint64

	cmd := &cobra.Command{
		Use:   "eligibility <pr-url>",
		Short: "Ask the contract whether a pull request can be rewarded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			id, _, err := resolveUser(ctx, a, userID)
			if err != nil {
				return err
			}
			e, err := rewards.NewClaimer(a.chain, a.prover, nil, a.metrics).Eligibility(ctx, args[0], id)
			if err != nil {
				return err
			}

			if JSONOutput {
				return printJSON(map[string]any{"pr_url": args[0], "github_user_id": id, "eligibility": e})
			}
			fmt.Println(StatusBox("Eligibility", [][2]string{
				{"Pull request", args[0]},
				{"GitHub ID", strconv.FormatUint(id, 10)},
				{"Status", StatusBadge(string(e))},
			}))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&userID, "user-id", 0, "GitHub user id of the author (default: the token's user)")
	return cmd
}
