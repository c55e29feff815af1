// Package apperrors holds the error types shared by the linking and reward flows.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

// ValidationError is malformed caller input, rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AuthError is a missing signer, wallet or token.
type AuthError struct {
	Missing string
}

func (e *AuthError) Error() string {
	return "not authorized: missing " + e.Missing
}

// ProofErrorCode is the proof service's classification of a failed request.
type ProofErrorCode string

const (
	ProofBadRequest    ProofErrorCode = "bad_request"
	ProofNotAuthorized ProofErrorCode = "not_authorized"
	ProofForbidden     ProofErrorCode = "forbidden"
	ProofNotFound      ProofErrorCode = "not_found"
	ProofDatabaseError ProofErrorCode = "database_error"
)

// ProofCodeForStatus maps a proof service HTTP status to its code.
func ProofCodeForStatus(status int) ProofErrorCode {
	switch status {
	case 400:
		return ProofBadRequest
	case 401:
		return ProofNotAuthorized
	case 403:
		return ProofForbidden
	case 404:
		return ProofNotFound
	default:
		return ProofDatabaseError
	}
}

// StatusForProofCode is the inverse of ProofCodeForStatus.
func StatusForProofCode(code ProofErrorCode) int {
	switch code {
	case ProofBadRequest:
		return 400
	case ProofNotAuthorized:
		return 401
	case ProofForbidden:
		return 403
	case ProofNotFound:
		return 404
	default:
		return 500
	}
}

// UpstreamProofError is a non-2xx answer from the proof service.
type UpstreamProofError struct {
	Status      int
	Code        ProofErrorCode
	Description string
}

func (e *UpstreamProofError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("proof service error (%d %s): %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("proof service error (%d %s)", e.Status, e.Code)
}

// RejectionKind classifies a contract rejection.
type RejectionKind string

const (
	RejectAlreadyClaimed    RejectionKind = "already_claimed"
	RejectIneligible        RejectionKind = "ineligible"
	RejectCommitmentExpired RejectionKind = "commitment_expired"
	RejectCommitmentMissing RejectionKind = "commitment_missing"
	RejectProofReused       RejectionKind = "proof_reused"
	RejectGeneric           RejectionKind = "generic"
)

// ChainRejectionError is a transaction the contract refused.
type ChainRejectionError struct {
	Kind   RejectionKind
	Reason string
}

func (e *ChainRejectionError) Error() string {
	return fmt.Sprintf("transaction rejected (%s): %s", e.Kind, e.Reason)
}

// ClassifyRejection maps a contract revert reason to a ChainRejectionError.
func ClassifyRejection(reason string) *ChainRejectionError {
	lower := strings.ToLower(reason)
	kind := RejectGeneric
	switch {
	case strings.Contains(lower, "already been rewarded"), strings.Contains(lower, "already rewarded"):
		kind = RejectAlreadyClaimed
	case strings.Contains(lower, "invalid repo commitment"):
		kind = RejectGeneric
	case strings.Contains(lower, "invalid repo"):
		kind = RejectIneligible
	case strings.Contains(lower, "commitment is expired"):
		kind = RejectCommitmentExpired
	case strings.Contains(lower, "commitment key") && strings.Contains(lower, "not found"):
		kind = RejectCommitmentMissing
	case strings.Contains(lower, "proof has already been submitted"):
		kind = RejectProofReused
	}
	return &ChainRejectionError{Kind: kind, Reason: reason}
}

// RejectionKindOf returns the rejection kind of err, or "" if err is not a rejection.
func RejectionKindOf(err error) RejectionKind {
	var rej *ChainRejectionError
	if errors.As(err, &rej) {
		return rej.Kind
	}
	return ""
}

// ConfigDivergenceError signals that the committed repo config differs from
// the caller's draft. It is a decision point: the caller re-invokes with
// explicit acceptance of the committed value to continue.
type ConfigDivergenceError struct {
	Committed types.RepoConfig
	Draft     types.RepoConfig
}

func (e *ConfigDivergenceError) Error() string {
	return "committed repo config differs from the draft; accept the committed config to continue"
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var a *AuthError
	return errors.As(err, &a)
}
