package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/linking"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// NewRepoCmd creates the repo command group
func NewRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Link a repository's reward config",
		Long: `Register a repository with the lazydev contract.

The reward config maps GitHub label ids to reward contracts. It is read from
a YAML (or JSON) file:

  label_configs:
    - label_id: 7215464541
      reward_contract: neutron1...
      reward_config: "1000000"

Examples:
  lazydev repo admin-repos
  lazydev repo status acme/widget
  lazydev repo link acme/widget --config rewards.yaml`,
	}

	cmd.AddCommand(newRepoStatusCmd())
	cmd.AddCommand(newRepoLinkCmd())
	cmd.AddCommand(newRepoAdminReposCmd())
	return cmd
}

// readRepoConfig loads a reward config file.
func readRepoConfig(path string) (types.RepoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.RepoConfig{}, fmt.Errorf("failed to read repo config: %w", err)
	}
	var rc types.RepoConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return types.RepoConfig{}, fmt.Errorf("failed to parse repo config %s: %w", path, err)
	}
	return rc, nil
}

func labelRows(rc types.RepoConfig) [][]string {
	rows := make([][]string, 0, len(rc.LabelConfigs))
	for _, lc := range rc.Canonical().LabelConfigs {
		rows = append(rows, []string{
			strconv.FormatUint(lc.LabelID, 10),
			FormatAddress(lc.RewardContract),
			lc.RewardConfig,
		})
	}
	return rows
}

var labelHeaders = []string{"LABEL", "REWARD CONTRACT", "REWARD CONFIG"}

func newRepoStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <org/repo>",
		Short: "Show a repository's link status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := types.ParseRepo(args[0])
			if err != nil {
				return err
			}
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

			linked, err := a.chain.RepoConfig(ctx, repo)
			if err != nil {
				return err
			}
			commitment, err := a.chain.RepoCommitment(ctx, repo)
			if err != nil {
				return err
			}

			if JSONOutput {
				return printJSON(map[string]any{
					"repo":       repo,
					"linked":     linked != nil,
					"config":     linked,
					"commitment": commitment,
				})
			}

			switch {
			case linked != nil:
				fmt.Println(StatusBox(repo.String(), [][2]string{{"Status", StatusBadge("linked")}}))
				fmt.Println(RenderTable(labelHeaders, labelRows(*linked)))
			case commitment != nil:
				fmt.Println(StatusBox(repo.String(), [][2]string{
					{"Status", StatusBadge("committed")},
					{"Committed at", strconv.FormatUint(commitment.CommitmentHeight, 10)},
				}))
				fmt.Println(RenderTable(labelHeaders, labelRows(commitment.Value)))
			default:
				fmt.Println(StatusBox(repo.String(), [][2]string{{"Status", StatusBadge("not linked")}}))
				fmt.Println(Hint("Link it with: lazydev repo link " + repo.String() + " --config rewards.yaml"))
			}
			return nil
		},
	}
}

func newRepoLinkCmd() *cobra.Command {
	var (
		configFile      string
		acceptCommitted bool
		username        string
	)

	cmd := &cobra.Command{
		Use:   "link <org/repo>",
		Short: "Commit and reveal a repository's reward config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := types.ParseRepo(args[0])
			if err != nil {
				return err
			}
			var draft types.RepoConfig
			if configFile != "" {
				if draft, err = readRepoConfig(configFile); err != nil {
					return err
				}
			} else if !acceptCommitted {
				return fmt.Errorf("--config is required unless --accept-committed is set")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := requireToken(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appNeeds{secrets: true, signer: true, heights: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if username == "" {
				u, err := a.github.User(ctx)
				if err != nil {
					return fmt.Errorf("failed to resolve GitHub user: %w", err)
				}
				username = u.Login
			}

			linker, err := linking.NewRepoLinker(a.linkingDeps())
			if err != nil {
				return err
			}
			req := linking.RepoRequest{
				Repo:            repo,
				Draft:           draft,
				AcceptCommitted: acceptCommitted,
				Username:        username,
				Token:           token,
			}

			res, err := linkRepo(linker, cmd, req)
			var div *apperrors.ConfigDivergenceError
			if errors.As(err, &div) && !acceptCommitted {
				fmt.Println(SectionHeader("Committed config"))
				fmt.Println(RenderTable(labelHeaders, labelRows(div.Committed)))
				fmt.Println(SectionHeader("Your config"))
				fmt.Println(RenderTable(labelHeaders, labelRows(div.Draft)))

				ok, perr := Confirm("The committed config differs from yours",
					"Reveal the config already committed on chain?", false)
				if perr != nil {
					return perr
				}
				if !ok {
					return fmt.Errorf("%w (rerun with --accept-committed, or wait for the commitment to expire)", err)
				}
				req.AcceptCommitted = true
				res, err = linkRepo(linker, cmd, req)
			}
			if errors.Is(err, secret.ErrSecretNotFound) {
				return fmt.Errorf("%w (rerun 'lazydev repo link' once the commitment expires to commit again)", err)
			}
			if err != nil {
				return err
			}

			if JSONOutput {
				return printJSON(res)
			}
			if res.Status == linking.RepoAlreadyLinked {
				Info(repo.String() + " is already linked")
			} else {
				Success(repo.String() + " linked")
			}
			fields := [][2]string{{"Status", StatusBadge(string(res.Status))}}
			if res.CommitTxHash != "" {
				fields = append(fields, [2]string{"Commit tx", res.CommitTxHash})
			}
			if res.LinkTxHash != "" {
				fields = append(fields, [2]string{"Link tx", res.LinkTxHash})
			}
			fmt.Println(StatusBox(repo.String(), fields))
			fmt.Println(RenderTable(labelHeaders, labelRows(res.Config)))
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Reward config file (YAML or JSON)")
	cmd.Flags().BoolVar(&acceptCommitted, "accept-committed", false, "Reveal the config already committed on chain if it differs")
	cmd.Flags().StringVar(&username, "username", "", "GitHub login of the repo admin (default: the token's user)")
	return cmd
}

func linkRepo(linker *linking.RepoLinker, cmd *cobra.Command, req linking.RepoRequest) (*linking.RepoResult, error) {
	var res *linking.RepoResult
	err := WithSpinner("Linking "+req.Repo.String()+" (commit, wait for the reveal window, reveal)", func() error {
		var err error
		res, err = linker.LinkRepo(cmd.Context(), req)
		return err
	})
	return res, err
}

func newRepoAdminReposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-repos",
		Short: "List public repositories you administer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := requireToken(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			var repos []types.Repo
			err = WithSpinner("Fetching repositories", func() error {
				list, err := a.github.AdminRepos(ctx)
				if err != nil {
					return err
				}
				for _, r := range list {
					repo, err := types.ParseRepo(r.FullName)
					if err != nil {
						continue
					}
					repos = append(repos, repo)
				}
				return nil
			})
			if err != nil {
				return err
			}

			type row struct {
				Repo   string `json:"repo"`
				Linked bool   `json:"linked"`
			}
			out := make([]row, 0, len(repos))
			for _, repo := range repos {
				rc, err := a.chain.RepoConfig(ctx, repo)
				if err != nil {
					return err
				}
				out = append(out, row{Repo: repo.String(), Linked: rc != nil})
			}

			if JSONOutput {
				return printJSON(out)
			}
			if len(out) == 0 {
				Info("No public repositories with admin access")
				return nil
			}
			rows := make([][]string, 0, len(out))
			for _, r := range out {
				status := "not linked"
				if r.Linked {
					status = "linked"
				}
				rows = append(rows, []string{r.Repo, StatusBadge(status)})
			}
			fmt.Println(RenderTable([]string{"REPOSITORY", "STATUS"}, rows))
			return nil
		},
	}
}
