package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifier_ValidSignaturePasses(t *testing.T) {
	body := []byte(`{"type":"escrow.funded"}`)
	v := Verifier{Secret: "shh"}
	if err := v.Verify(sign("shh", body), body); err != nil {
		t.Fatalf("expected valid signature to pass, got %v", err)
	}
}

func TestVerifier_MissingSecretFails(t *testing.T) {
	v := Verifier{Secret: ""}
	if err := v.Verify(sign("shh", []byte("x")), []byte("x")); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

func TestVerifier_MissingHeaderFails(t *testing.T) {
	v := Verifier{Secret: "shh"}
	if err := v.Verify("", []byte("x")); err == nil {
		t.Fatalf("expected missing header to fail")
	}
}

func TestVerifier_BadHexFails(t *testing.T) {
	v := Verifier{Secret: "shh"}
	if err := v.Verify("not-hex!!", []byte("x")); err == nil {
		t.Fatalf("expected undecodable header to fail")
	}
}

func TestVerifier_LengthMismatchFails(t *testing.T) {
	v := Verifier{Secret: "shh"}
	if err := v.Verify("ab", []byte("x")); err == nil {
		t.Fatalf("expected short digest to fail")
	}
}

func TestVerifier_BitFlippedDigestFails(t *testing.T) {
	body := []byte(`{"type":"escrow.funded"}`)
	good := sign("shh", body)
	flipped := strings.Replace(good, good[:2], "00", 1)
	if flipped == good {
		flipped = strings.Replace(good, good[:2], "11", 1)
	}
	v := Verifier{Secret: "shh"}
	if err := v.Verify(flipped, body); err == nil {
		t.Fatalf("expected bit-flipped digest to fail")
	}
}

func TestVerifier_ErrorMessageMentionsSignature(t *testing.T) {
	v := Verifier{Secret: "shh"}
	err := v.Verify("00", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "signature") {
		t.Fatalf("expected signature-related error, got %v", err)
	}
}
