package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned when a presented inbound signature does not
// match the one computed from the body and the shared secret.
var ErrInvalidSignature = errors.New("invalid signature")

// VerifyInbound checks a provider webhook signature. The provider signs by
// hex-encoding SHA-256 over the raw body concatenated with the shared secret.
// Comparison is constant-time.
func VerifyInbound(body []byte, presented, secret string) error {
	sum := sha256.Sum256(append(append([]byte{}, body...), []byte(secret)...))
	expected := hex.EncodeToString(sum[:])

	if !hmac.Equal([]byte(expected), []byte(presented)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignInbound computes the signature the provider is expected to present for
// a given body and secret. Used by tests and tooling.
func SignInbound(body []byte, secret string) string {
	sum := sha256.Sum256(append(append([]byte{}, body...), []byte(secret)...))
	return hex.EncodeToString(sum[:])
}

// SignOutbound generates an HMAC SHA256 signature for an outbound payload.
// Returns the signature in the format: sha256=<hex_encoded_hmac>
func SignOutbound(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write payload to HMAC: %w", err)
	}

	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil))), nil
}
