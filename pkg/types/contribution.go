package types

import "math/big"

// TokenRewardInfo is the reward paid in one token for one pull request.
type TokenRewardInfo struct {
	RewardAddress string   `json:"rewardAddress"`
	RewardToken   string   `json:"rewardToken"`
	RewardAmount  *big.Int `json:"rewardAmount"`
}

// Contribution is a user's closed pull request in a registered repository,
// with its claim status as derived from chain events.
type Contribution struct {
	PrURL       string            `json:"prUrl"`
	Repo        string            `json:"repo"`
	Date        string            `json:"date"`
	Description string            `json:"description"`
	Claimed     bool              `json:"claimed"`
	Rewards     []TokenRewardInfo `json:"rewards,omitempty"`
	TxHash      string            `json:"txHash,omitempty"`
	Loading     bool              `json:"loading"`
}

// RewardContract is a locally remembered reward contract deployment.
// It is advisory only; the chain remains authoritative.
type RewardContract struct {
	Address         string `json:"address" yaml:"address"`
	CodeID          uint64 `json:"code_id" yaml:"code_id"`
	Kind            string `json:"kind" yaml:"kind"`
	Label           string `json:"label" yaml:"label"`
	Name            string `json:"name,omitempty" yaml:"name,omitempty"`
	Symbol          string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Decimals        uint8  `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	AmountPerReward string `json:"amount_per_reward,omitempty" yaml:"amount_per_reward,omitempty"`
	Repo            string `json:"repo,omitempty" yaml:"repo,omitempty"`
	CreatedAt       int64  `json:"created_at" yaml:"created_at"`
}
