package chain

import "github.com/lazydev-zone/lazydev/pkg/types"

// Execute messages of the lazydev contract. Each is wrapped in its variant
// name by ExecuteMsg before signing.

// CommitAccountMsg commits to linking a GitHub user to an address.
type CommitAccountMsg struct {
	CommitmentKey    string `json:"commitment_key"`
	GithubUserID     uint64 `json:"github_user_id"`
	RecipientAddress string `json:"recipient_address"`
}

// LinkAccountMsg reveals the account secret with an identity proof.
type LinkAccountMsg struct {
	Proof            types.RawProof `json:"proof"`
	RecipientAddress string         `json:"recipient_address"`
	Secret           string         `json:"secret"`
}

// CommitRepoMsg commits to a repo's reward config.
type CommitRepoMsg struct {
	CommitmentKey string           `json:"commitment_key"`
	Config        types.RepoConfig `json:"config"`
	Repo          types.Repo       `json:"repo"`
}

// LinkRepoMsg reveals the repo secret with admin proofs.
type LinkRepoMsg struct {
	Config                    types.RepoConfig `json:"config"`
	Repo                      types.Repo       `json:"repo"`
	RepoAdminPermissionsProof types.RawProof   `json:"repo_admin_permissions_proof"`
	RepoAdminUserProof        types.RawProof   `json:"repo_admin_user_proof,omitempty"`
	Secret                    string           `json:"secret"`
}

// RewardPrMsg claims the reward of a merged pull request.
type RewardPrMsg struct {
	Proof types.RawProof `json:"proof"`
}

// ExecuteMsg wraps a message in its variant name, e.g. {"commit_account": {...}}.
func ExecuteMsg(msg any) map[string]any {
	switch m := msg.(type) {
	case CommitAccountMsg, *CommitAccountMsg:
		return map[string]any{"commit_account": m}
	case LinkAccountMsg, *LinkAccountMsg:
		return map[string]any{"link_account": m}
	case CommitRepoMsg, *CommitRepoMsg:
		return map[string]any{"commit_repo": m}
	case LinkRepoMsg, *LinkRepoMsg:
		return map[string]any{"link_repo": m}
	case RewardPrMsg, *RewardPrMsg:
		return map[string]any{"reward_pr": m}
	default:
		return nil
	}
}

// ExecuteName returns the variant name of msg, or "" if it is not a lazydev message.
func ExecuteName(msg any) string {
	for k := range ExecuteMsg(msg) {
		return k
	}
	return ""
}
