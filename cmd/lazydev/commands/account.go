package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lazydev-zone/lazydev/internal/linking"
)

// NewAccountCmd creates the account command group
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Link your GitHub account to a wallet address",
		Long: `Link your GitHub account to the address that receives your rewards.

Linking is a two-step commit-reveal: a hash of a local secret is committed
first, and after the contract's delay the secret is revealed together with a
zkTLS proof of your GitHub identity.

Examples:
  lazydev account status
  lazydev account link
  lazydev account link --recipient neutron1...`,
	}

	cmd.AddCommand(newAccountStatusCmd())
	cmd.AddCommand(newAccountLinkCmd())
	return cmd
}

// resolveUser returns the GitHub user id from the flag or, when unset, from
// the authenticated token.
func resolveUser(ctx context.Context, a *app, flagID uint64) (uint64, string, error) {
	if flagID != 0 {
		return flagID, "", nil
	}
	if _, err := requireToken(a.cfg); err != nil {
		return 0, "", err
	}
	u, err := a.github.User(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("failed to resolve GitHub user: %w", err)
	}
	return u.ID, u.Login, nil
}

func newAccountStatusCmd() *cobra.Command {
	var userID uint64

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a GitHub account is linked",
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

			id, login, err := resolveUser(ctx, a, userID)
			if err != nil {
				return err
			}
			addr, linked, err := a.chain.LinkedAddress(ctx, id)
			if err != nil {
				return err
			}
			commitment, err := a.chain.UserCommitment(ctx, id)
			if err != nil {
				return err
			}

			if JSONOutput {
				out := map[string]any{
					"github_user_id": id,
					"linked":         linked,
					"address":        addr,
				}
				if commitment != nil {
					out["commitment_height"] = commitment.CommitmentHeight
				}
				return printJSON(out)
			}

			status := "not linked"
			if linked {
				status = "linked"
			}
			fields := [][2]string{{"GitHub ID", strconv.FormatUint(id, 10)}}
			if login != "" {
				fields = append(fields, [2]string{"Login", login})
			}
			fields = append(fields, [2]string{"Status", StatusBadge(status)})
			if linked {
				fields = append(fields, [2]string{"Address", addr})
			}
			if commitment != nil && !linked {
				fields = append(fields, [2]string{"Committed at", strconv.FormatUint(commitment.CommitmentHeight, 10)})
			}
			fmt.Println(StatusBox("Account", fields))
			if !linked {
				fmt.Println(Hint("Link it with: lazydev account link"))
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&userID, "user-id", 0, "GitHub user id (default: the token's user)")
	return cmd
}

func newAccountLinkCmd() *cobra.Command {
	var recipient string

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link the token's GitHub account to your wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			id, login, err := resolveUser(ctx, a, 0)
			if err != nil {
				return err
			}
			flow, err := linking.NewAccountFlow(a.linkingDeps(), linking.Account{
				GithubUserID: id,
				AccessToken:  token,
				Recipient:    recipient,
			})
			if err != nil {
				return err
			}

			state, err := flow.Start(ctx)
			if err != nil {
				return err
			}
			for state.Step() != linking.StepComplete {
				current := state
				err = WithSpinner(accountStepTitle(current), func() error {
					var stepErr error
					state, stepErr = flow.Step(ctx, current)
					return stepErr
				})
				if err != nil {
					return accountLinkError(state, err)
				}
			}

			done := state.(linking.CompleteState)
			if JSONOutput {
				return printJSON(map[string]any{
					"github_user_id": id,
					"address":        done.Address,
					"tx_hash":        done.TxHash,
				})
			}
			fields := [][2]string{
				{"GitHub", fmt.Sprintf("%s (%d)", login, id)},
				{"Address", done.Address},
			}
			if done.TxHash != "" {
				fields = append(fields, [2]string{"Link tx", done.TxHash})
				Success("Account linked")
			} else {
				Info("Account was already linked")
			}
			fmt.Println(StatusBox("Account", fields))
			return nil
		},
	}

	cmd.Flags().StringVar(&recipient, "recipient", "", "Reward address (default: the wallet's address)")
	return cmd
}

func accountStepTitle(s linking.State) string {
	switch st := s.(type) {
	case linking.CommitState:
		return "Committing account link"
	case linking.WaitingState:
		return "Waiting for commit " + st.TxHash
	case linking.LinkState:
		return fmt.Sprintf("Waiting for the reveal window (committed at %d) and linking", st.CommitHeight)
	default:
		return "Linking"
	}
}

// accountLinkError adds a hint for where a rerun will resume.
func accountLinkError(s linking.State, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted; rerun 'lazydev account link' to resume: %w", err)
	}
	if s != nil && s.Step() == linking.StepCommit {
		return fmt.Errorf("%w (a rerun will commit again)", err)
	}
	return err
}
