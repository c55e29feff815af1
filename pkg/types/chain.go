package types

import "fmt"

// Commitment is an on-chain commitment for a user or repo subject.
// V is the committed value: a recipient address for accounts, a RepoConfig for repos.
type Commitment[V any] struct {
	CommitmentHeight uint64 `json:"commitment_height"`
	CommitmentKey    string `json:"commitment_key"`
	Value            V      `json:"value"`
}

// Age returns how many blocks have passed since the commitment.
func (c Commitment[V]) Age(height uint64) uint64 {
	if height < c.CommitmentHeight {
		return 0
	}
	return height - c.CommitmentHeight
}

// ContractConfig is the lazydev contract's global configuration.
type ContractConfig struct {
	VerifierAddress          string `json:"verifier_address"`
	CommitmentDelayMinHeight uint64 `json:"commitment_delay_min_height"`
	CommitmentDelayMaxHeight uint64 `json:"commitment_delay_max_height"`
}

// RevealWindow is the block range, relative to the commit height, in which a reveal is valid.
type RevealWindow struct {
	Min uint64
	Max uint64
}

// Window returns the contract's reveal window.
func (c ContractConfig) Window() RevealWindow {
	return RevealWindow{Min: c.CommitmentDelayMinHeight, Max: c.CommitmentDelayMaxHeight}
}

// Open reports whether a reveal at height is accepted for a commit at commitHeight.
// The contract accepts min <= delta < max.
func (w RevealWindow) Open(commitHeight, height uint64) bool {
	if height < commitHeight {
		return false
	}
	d := height - commitHeight
	return d >= w.Min && d < w.Max
}

// Expired reports whether the commitment can no longer be revealed.
func (w RevealWindow) Expired(commitHeight, height uint64) bool {
	return height >= commitHeight && height-commitHeight >= w.Max
}

// OpensAt is the first height at which a reveal is accepted.
func (w RevealWindow) OpensAt(commitHeight uint64) uint64 {
	return commitHeight + w.Min
}

// ClosesAt is the first height at which a reveal is rejected again.
func (w RevealWindow) ClosesAt(commitHeight uint64) uint64 {
	return commitHeight + w.Max
}

// Validate checks the window is non-empty.
func (w RevealWindow) Validate() error {
	if w.Max <= w.Min {
		return fmt.Errorf("invalid reveal window [%d, %d)", w.Min, w.Max)
	}
	return nil
}

// PrEligibility is the contract's view of a pull request.
type PrEligibility string

const (
	PrClaimed    PrEligibility = "claimed"
	PrEligible   PrEligibility = "eligible"
	PrIneligible PrEligibility = "ineligible"
)

// IsValid checks the eligibility value is known.
func (e PrEligibility) IsValid() bool {
	switch e {
	case PrClaimed, PrEligible, PrIneligible:
		return true
	default:
		return false
	}
}

// TxResult is the outcome of a broadcast transaction.
type TxResult struct {
	TxHash  string `json:"txHash"`
	Height  uint64 `json:"height"`
	GasUsed uint64 `json:"gasUsed"`
}

// TokenInfo is the cw20 token_info response.
type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
}
