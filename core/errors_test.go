package core

import (
	stderrors "errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := errorMapper(stderrors.New("webhooks: signature mismatch"))
	if mapped.TextCode != ErrorSignatureInvalid {
		t.Fatalf("expected signature invalid text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", mapped.Code)
	}

	mapped = errorMapper(stderrors.New("policy: auto-finalize not permitted for action RELEASE"))
	if mapped.TextCode != ErrorPolicyDenied {
		t.Fatalf("expected policy denied text code, got %q", mapped.TextCode)
	}
	if mapped.Category != goerrors.CategoryOperation {
		t.Fatalf("expected operation category, got %q", mapped.Category)
	}

	mapped = errorMapper(stderrors.New("core: dealId is required"))
	if mapped.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}

	mapped = errorMapper(stderrors.New("api: snapshotter is not configured"))
	if mapped.TextCode != ErrorDependencyMissing {
		t.Fatalf("expected dependency missing text code, got %q", mapped.TextCode)
	}
}

func TestErrorMapper_PassesThroughRichErrors(t *testing.T) {
	original := goerrors.New("deal not found", goerrors.CategoryNotFound).WithTextCode(ErrorNotFound)
	mapped := errorMapper(original)
	if mapped.TextCode != ErrorNotFound {
		t.Fatalf("expected passthrough text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", mapped.Code)
	}
}

func TestErrorMapper_NilIsNil(t *testing.T) {
	if errorMapper(nil) != nil {
		t.Fatalf("expected nil mapped error for nil input")
	}
}

func TestDependencyError(t *testing.T) {
	err := DependencyError("notify: notifier is not configured")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorDependencyMissing {
		t.Fatalf("expected dependency missing code, got %q", richErr.TextCode)
	}
	if richErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", richErr.Code)
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("dealId", "must not be empty")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input code, got %q", richErr.TextCode)
	}
	if richErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", richErr.Code)
	}
}
