// Package webhooks implements the webhook intake pipeline: signature
// verification, tolerant JSON normalization, provider-effect mapping, and
// event construction, grounded on the header-HMAC verifier and
// replay-ledger patterns used across the pack's provider webhook packs.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureHeader is the header Helius signs webhook deliveries with.
const SignatureHeader = "X-Helius-Signature"

// WebhookIDHeader optionally carries a provider-issued delivery id, used
// as part of the webhook event identity when present.
const WebhookIDHeader = "X-Webhook-Id"

// Verifier checks the HMAC-SHA256 signature of a raw webhook body against
// a shared secret. Comparison is constant-time over the decoded digest
// bytes so unequal-length or bit-flipped signatures fail uniformly.
type Verifier struct {
	Secret string
}

// Verify returns nil iff header decodes to a hex digest that matches the
// HMAC-SHA256 of body under Secret. A missing secret or header, or a
// length/content mismatch, all return a signature error mapped to 401 by
// core.MapError.
func (v Verifier) Verify(header string, body []byte) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is not configured")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("webhooks: signature header is required")
	}

	decoded, err := hex.DecodeString(header)
	if err != nil {
		return fmt.Errorf("webhooks: signature verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	if len(decoded) != len(expected) {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}
