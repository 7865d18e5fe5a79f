package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

// BurstMode selects how a controller treats a repeat delivery inside its
// window: pass every one through, fold repeats into the first, or drop
// repeats until the window has elapsed.
type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
	BurstModeDebounce BurstMode = "debounce"
)

// BurstDecision is the outcome of a single Allow call.
type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController guards against a provider redelivering the same
// underlying chain event many times in a short window (RPC retries,
// duplicate webhook fan-out). It sits ahead of the replay ledger's
// exact-id dedup as a coarser, deal-keyed layer.
type BurstController interface {
	Allow(ctx context.Context, event core.NormalizedWebhookEvent) (BurstDecision, error)
}

// BurstKeyExtractor derives the coalescing key for an event. The default
// groups by deal id and effect kind, so a funded and a delivered event for
// the same deal never collide.
type BurstKeyExtractor func(event core.NormalizedWebhookEvent) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

// DefaultBurstController is an in-memory, mutex-protected sliding-window
// guard. It is not durable and is meant to be rebuilt per process; the
// replay ledger, not this controller, is the source of truth for dedup.
type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	mode := normalizeBurstMode(opts.Mode)
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultBurstKeyExtractor
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DefaultBurstController{
		mode:       mode,
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

func (c *DefaultBurstController) Allow(_ context.Context, event core.NormalizedWebhookEvent) (BurstDecision, error) {
	if c == nil || c.mode == BurstModeNone {
		return BurstDecision{Allow: true}, nil
	}
	key, ok := c.extractKey(event)
	if !ok {
		return BurstDecision{Allow: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSeen, exists := c.entries[key]
	c.entries[key] = now
	c.cleanup(now)
	if !exists {
		return BurstDecision{Allow: true}, nil
	}
	if now.Sub(lastSeen) >= c.window {
		return BurstDecision{Allow: true}, nil
	}

	metadata := map[string]any{
		"burst_mode":      string(c.mode),
		"burst_key":       key,
		"burst_window_ms": c.window.Milliseconds(),
	}
	switch c.mode {
	case BurstModeCoalesce:
		metadata["coalesced"] = true
	case BurstModeDebounce:
		metadata["debounced"] = true
	default:
		return BurstDecision{Allow: true}, nil
	}
	return BurstDecision{Allow: false, Metadata: metadata}, nil
}

func (c *DefaultBurstController) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		for key, seenAt := range c.entries {
			if now.Sub(seenAt) > c.window*4 {
				delete(c.entries, key)
			}
		}
		return
	}
	for key, seenAt := range c.entries {
		if now.Sub(seenAt) > c.window {
			delete(c.entries, key)
		}
		if len(c.entries) <= c.maxEntries {
			break
		}
	}
}

// DefaultBurstKeyExtractor groups repeat deliveries by deal id and effect
// kind so unrelated effects on the same deal are never coalesced together.
func DefaultBurstKeyExtractor(event core.NormalizedWebhookEvent) (string, bool) {
	dealID := strings.TrimSpace(event.Effect.DealID)
	if dealID == "" {
		return "", false
	}
	return strings.ToLower(dealID) + ":" + string(event.Effect.Kind), true
}

func normalizeBurstMode(mode BurstMode) BurstMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(BurstModeCoalesce):
		return BurstModeCoalesce
	case string(BurstModeDebounce):
		return BurstModeDebounce
	default:
		return BurstModeNone
	}
}

var _ BurstController = (*DefaultBurstController)(nil)
