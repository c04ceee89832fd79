package tracelot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingGuardMatch(t *testing.T) {
	f := newFakeLedger(accountX)
	guard := NewBindingGuard(newTestEscrow(f, accountX), registryAddr, time.Minute)

	require.NoError(t, guard.Verify(context.Background()))
	// case-insensitive comparison
	guard = NewBindingGuard(newTestEscrow(f, accountX), "0xaaa0000000000000000000000000000000000001", time.Minute)
	require.NoError(t, guard.Verify(context.Background()))
}

func TestBindingGuardCachesWithinTTL(t *testing.T) {
	f := newFakeLedger(accountX)
	guard := NewBindingGuard(newTestEscrow(f, accountX), registryAddr, time.Minute)

	require.NoError(t, guard.Verify(context.Background()))
	require.NoError(t, guard.Verify(context.Background()))
	require.NoError(t, guard.Verify(context.Background()))
	assert.Equal(t, 1, f.readCount(methodRegistry), "verification result should be cached within the TTL")
}

func TestBindingGuardReverifiesAfterTTL(t *testing.T) {
	f := newFakeLedger(accountX)
	guard := NewBindingGuard(newTestEscrow(f, accountX), registryAddr, time.Nanosecond)

	require.NoError(t, guard.Verify(context.Background()))
	time.Sleep(time.Millisecond)
	require.NoError(t, guard.Verify(context.Background()))
	assert.Equal(t, 2, f.readCount(methodRegistry))
}

func TestBindingGuardMismatchIsFatal(t *testing.T) {
	f := newFakeLedger(accountX)
	f.boundRegistry = "0xCCC0000000000000000000000000000000000003"
	guard := NewBindingGuard(newTestEscrow(f, accountX), registryAddr, time.Minute)

	err := guard.Verify(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfigMismatch))

	// the failure latches: no further binding reads are attempted
	again := guard.Verify(context.Background())
	assert.Same(t, err.(*Error), again.(*Error))
	assert.Equal(t, 1, f.readCount(methodRegistry))
}
