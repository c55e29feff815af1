package types

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Repo identifies a GitHub repository as the lazydev contract keys it.
type Repo struct {
	Org  string `json:"org" yaml:"org"`
	Repo string `json:"repo" yaml:"repo"`
}

// ParseRepo parses "org/repo".
func ParseRepo(s string) (Repo, error) {
	org, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || org == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q: expected org/repo", s)
	}
	return Repo{Org: org, Repo: name}, nil
}

// String returns "org/repo".
func (r Repo) String() string {
	return r.Org + "/" + r.Repo
}

// SubjectID is the local key the repo's commitment secret is stored under.
func (r Repo) SubjectID() string {
	return "repo_" + r.Org + "/" + r.Repo
}

// LabelConfig maps a GitHub label to the reward contract that pays for it.
type LabelConfig struct {
	LabelID        uint64 `json:"label_id" yaml:"label_id"`
	RewardContract string `json:"reward_contract" yaml:"reward_contract"`
	RewardConfig   string `json:"reward_config" yaml:"reward_config"`
}

// RepoConfig is the reward configuration of a linked repository.
type RepoConfig struct {
	LabelConfigs []LabelConfig `json:"label_configs" yaml:"label_configs"`
}

// Canonical returns a copy with label configs ordered by label id.
// Ties keep a stable order on contract and config so equal sets compare equal.
func (c RepoConfig) Canonical() RepoConfig {
	out := RepoConfig{LabelConfigs: make([]LabelConfig, len(c.LabelConfigs))}
	copy(out.LabelConfigs, c.LabelConfigs)
	sort.SliceStable(out.LabelConfigs, func(i, j int) bool {
		a, b := out.LabelConfigs[i], out.LabelConfigs[j]
		if a.LabelID != b.LabelID {
			return a.LabelID < b.LabelID
		}
		if a.RewardContract != b.RewardContract {
			return a.RewardContract < b.RewardContract
		}
		return a.RewardConfig < b.RewardConfig
	})
	return out
}

// Equal compares two configs after canonicalization.
func (c RepoConfig) Equal(other RepoConfig) bool {
	a, b := c.Canonical(), other.Canonical()
	if len(a.LabelConfigs) != len(b.LabelConfigs) {
		return false
	}
	for i := range a.LabelConfigs {
		if a.LabelConfigs[i] != b.LabelConfigs[i] {
			return false
		}
	}
	return true
}

// Validate checks the config is submittable.
func (c RepoConfig) Validate() error {
	if len(c.LabelConfigs) == 0 {
		return fmt.Errorf("repo config has no label configs")
	}
	seen := make(map[uint64]bool, len(c.LabelConfigs))
	for _, lc := range c.LabelConfigs {
		if seen[lc.LabelID] {
			return fmt.Errorf("duplicate label id %d", lc.LabelID)
		}
		seen[lc.LabelID] = true
		if lc.RewardContract == "" {
			return fmt.Errorf("label %d: reward_contract is required", lc.LabelID)
		}
	}
	return nil
}

var prURLPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)$`)

// PullRequestRef is a parsed pull request URL.
type PullRequestRef struct {
	Repo   Repo
	Number uint64
}

// ParsePullRequestURL parses https://github.com/<org>/<repo>/pull/<id>.
func ParsePullRequestURL(raw string) (PullRequestRef, error) {
	m := prURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return PullRequestRef{}, fmt.Errorf("invalid GitHub PR URL %q: must look like https://github.com/org/repo/pull/123", raw)
	}
	n, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return PullRequestRef{}, fmt.Errorf("invalid pull request number %q: %w", m[3], err)
	}
	return PullRequestRef{Repo: Repo{Org: m[1], Repo: m[2]}, Number: n}, nil
}

// URL returns the canonical html URL of the pull request.
func (p PullRequestRef) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", p.Repo.Org, p.Repo.Repo, p.Number)
}
