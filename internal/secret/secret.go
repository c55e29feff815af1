// Package secret generates commitment secrets and keeps them until they are
// revealed. A lost secret cannot be recovered: the subject has to commit again.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Size is the length of a commitment secret in bytes.
const Size = 32

// Secret is the value revealed in a link transaction.
type Secret [Size]byte

// Generate returns a new secret from the system CSPRNG.
func Generate() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to generate secret: %w", err)
	}
	return s, nil
}

// CommitmentKey returns base64(sha256(s)), the value submitted at commit time.
func CommitmentKey(s Secret) string {
	sum := sha256.Sum256(s[:])
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Reveal returns the base64 form the contract expects in link messages.
func (s Secret) Reveal() string {
	return base64.StdEncoding.EncodeToString(s[:])
}

// String keeps secrets out of logs and error messages.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString keeps secrets out of %#v output.
func (s Secret) GoString() string {
	return "secret.Secret{[REDACTED]}"
}

// Parse decodes a base64 secret.
func Parse(b64 string) (Secret, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(raw) != Size {
		return Secret{}, fmt.Errorf("secret has %d bytes, want %d", len(raw), Size)
	}
	var s Secret
	copy(s[:], raw)
	return s, nil
}

// UserSubject is the subject id for a GitHub account commitment.
func UserSubject(githubUserID uint64) string {
	return "user_" + strconv.FormatUint(githubUserID, 10)
}
