// Package policy implements the Policy Gate: a read-only, side-effect-free
// capability check for whether the escalation processor may attempt an
// automatic finalize (RELEASE or REFUND) instead of routing to a human
// reviewer. Configuration is strict-default, so a missing or misconfigured
// flag never silently grants a capability.
package policy

import (
	"context"

	"github.com/dealtimer/escrow-engine/core"
)

// Gate is the escrow-domain policy check. It never mutates state and
// never calls out to a chain client itself; when chain-sourced policy is
// wired in (core.PolicySource, e.g. an on-chain program authority check),
// Gate defers to it and only falls back to the strict-default config
// flags when no chain source is configured.
type Gate struct {
	AllowRelease bool
	AllowRefund  bool
	Chain        core.PolicySource
}

// NewGate builds a Gate from the strict-default config flags. cfg's
// AutoFinalizeRelease/AutoFinalizeRefund default to false, so a fresh
// zero-value Config always disallows auto-finalize.
func NewGate(cfg core.Config, chain core.PolicySource) *Gate {
	return &Gate{
		AllowRelease: cfg.AutoFinalizeRelease,
		AllowRefund:  cfg.AutoFinalizeRefund,
		Chain:        chain,
	}
}

// AllowsAutoFinalize reports whether action may be auto-prepared without
// human review. REVIEW is never auto-finalizable by construction.
func (g *Gate) AllowsAutoFinalize(ctx context.Context, action core.SuggestedAction) (bool, error) {
	if g == nil {
		return false, nil
	}
	if action == core.SuggestedReview {
		return false, nil
	}
	if g.Chain != nil {
		return g.Chain.AllowsAutoFinalize(ctx, action)
	}
	switch action {
	case core.SuggestedRelease:
		return g.AllowRelease, nil
	case core.SuggestedRefund:
		return g.AllowRefund, nil
	default:
		return false, nil
	}
}

var _ core.PolicySource = (*Gate)(nil)
