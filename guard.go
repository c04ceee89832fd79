package tracelot

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultBindingTTL is how long a successful binding verification stays
// cached before the next payment write re-checks it.
const DefaultBindingTTL = 30 * time.Second

// BindingGuard enforces the cross-store invariant: the escrow instance is
// permanently bound, at its own creation, to exactly one registry instance.
// Before a payment write it verifies that the escrow's runtime-observed
// binding matches the configured registry address, case-insensitively.
//
// A successful check is cached with a short TTL but never assumed
// statically. A mismatch is fatal and non-retryable: writes against a
// mismatched escrow would target a lot-id space the escrow cannot resolve,
// so the failure latches and every later call fails fast.
type BindingGuard struct {
	escrow   *EscrowClient
	registry string
	ttl      time.Duration

	mu         sync.Mutex
	verifiedAt time.Time
	mismatch   error
}

// NewBindingGuard creates a guard comparing the escrow's bound registry
// against the configured registry address. ttl <= 0 uses
// DefaultBindingTTL.
func NewBindingGuard(escrow *EscrowClient, registryAddress string, ttl time.Duration) *BindingGuard {
	if ttl <= 0 {
		ttl = DefaultBindingTTL
	}
	return &BindingGuard{escrow: escrow, registry: registryAddress, ttl: ttl}
}

// Verify checks the binding, reusing a cached verification inside the TTL.
// A mismatch returns a configuration_mismatch error, permanently.
func (g *BindingGuard) Verify(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.mismatch != nil {
		return g.mismatch
	}
	if !g.verifiedAt.IsZero() && time.Since(g.verifiedAt) < g.ttl {
		return nil
	}

	bound, err := g.escrow.BoundRegistry(ctx)
	if err != nil {
		return submissionError(methodRegistry, err)
	}
	if !strings.EqualFold(bound, g.registry) {
		g.mismatch = NewError(ErrCodeConfigMismatch,
			"escrow is bound to a different registry; no payment writes are possible until addresses are reconciled",
			map[string]interface{}{
				"configuredRegistry": g.registry,
				"boundRegistry":      bound,
				"escrow":             g.escrow.Address(),
			})
		return g.mismatch
	}

	g.verifiedAt = time.Now()
	return nil
}
