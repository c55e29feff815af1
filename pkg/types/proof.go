package types

import "encoding/json"

// Proof is the on-chain form of a zkTLS attestation. The client never
// inspects it beyond decoding; it is forwarded to the contract as-is.
type Proof struct {
	ClaimInfo   ClaimInfo   `json:"claimInfo"`
	SignedClaim SignedClaim `json:"signedClaim"`
}

// ClaimInfo describes what was fetched and how it was matched.
type ClaimInfo struct {
	Provider   string `json:"provider"`
	Parameters string `json:"parameters"`
	Context    string `json:"context"`
}

// SignedClaim is a claim and the attestor signatures over it.
type SignedClaim struct {
	Claim      CompleteClaimData `json:"claim"`
	Signatures []string          `json:"signatures"`
}

// CompleteClaimData is the signed claim body.
type CompleteClaimData struct {
	Identifier string `json:"identifier"`
	Owner      string `json:"owner"`
	Epoch      uint64 `json:"epoch"`
	TimestampS uint64 `json:"timestampS"`
}

// RawProof keeps the exact bytes returned by the proof service so fields
// this client does not model still reach the contract.
type RawProof json.RawMessage

// MarshalJSON implements json.Marshaler.
func (p RawProof) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *RawProof) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// Decode parses the raw proof into its typed form.
func (p RawProof) Decode() (Proof, error) {
	var out Proof
	err := json.Unmarshal(p, &out)
	return out, err
}
