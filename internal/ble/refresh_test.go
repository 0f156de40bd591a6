package ble

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blelock/internal/ble/protocol"
)

func TestRefreshExitsAfterThirdCycle(t *testing.T) {
	adapter := newMockAdapter()
	adapter.visibleFrom = 4 // handshake connection + 3 refresh cycles
	adapter.dynamic.writeErr = errMock

	client := mustNewClient(t, adapter, &protocol.Counter{}, testClientOptions())
	err := client.Establish(context.Background(), testLock, nil)

	// The session starts (and fails on its first write) only after the
	// dynamic characteristic was found.
	require.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, 3, adapter.fullDiscoveryCount())
	assert.Equal(t, 4, adapter.connectCount())
	assert.True(t, adapter.allDisconnected())
}

func TestRefreshGivesUpAfterMaxAttempts(t *testing.T) {
	adapter := newMockAdapter()
	adapter.visibleFrom = 0 // never listed

	opts := testClientOptions()
	opts.MaxRefreshAttempts = 3
	client := mustNewClient(t, adapter, &protocol.Counter{}, opts)

	activations := 0
	err := client.Establish(context.Background(), testLock, func() { activations++ })

	require.ErrorIs(t, err, ErrStaleDiscoveryExhausted)
	assert.Zero(t, activations)
	assert.Equal(t, 3, adapter.fullDiscoveryCount())
	assert.Equal(t, 4, adapter.connectCount())
	assert.True(t, adapter.allDisconnected())
}

func TestRefreshUnboundedWhenMaxAttemptsZero(t *testing.T) {
	adapter := newMockAdapter()
	adapter.visibleFrom = 8
	adapter.dynamic.writeErr = errMock

	opts := testClientOptions()
	opts.MaxRefreshAttempts = 0
	client := mustNewClient(t, adapter, &protocol.Counter{}, opts)

	err := client.Establish(context.Background(), testLock, nil)

	require.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, 7, adapter.fullDiscoveryCount())
}

func TestRefreshTreatsMissingServiceAsMiss(t *testing.T) {
	adapter := newMockAdapter()
	adapter.noService[2] = true
	adapter.dynamic.writeErr = errMock

	client := mustNewClient(t, adapter, &protocol.Counter{}, testClientOptions())
	err := client.Establish(context.Background(), testLock, nil)

	require.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, 3, adapter.connectCount())
	assert.Equal(t, 1, adapter.fullDiscoveryCount())
}

func TestRefreshMatchesIgnoringSeparators(t *testing.T) {
	adapter := newMockAdapter()
	adapter.dynamic.uuid = strings.ReplaceAll(testDynamicID, "-", "")
	adapter.dynamic.writeErr = errMock
	adapter.dynamic.failWriteAfter = 1

	client := mustNewClient(t, adapter, &protocol.Counter{}, testClientOptions())
	err := client.Establish(context.Background(), testLock, nil)

	require.ErrorIs(t, err, ErrWrite)
	msgs := decodeRequests(t, adapter.dynamic.writtenPayloads())
	require.Len(t, msgs, 1)
	// The key is the value read from the public characteristic, not the
	// UUID as the stack formats it.
	assert.Equal(t, testDynamicID, msgs[0].Key)
}

func TestRefreshStopsOnContextCancel(t *testing.T) {
	adapter := newMockAdapter()
	adapter.visibleFrom = 0

	opts := testClientOptions()
	opts.MaxRefreshAttempts = 0
	opts.SettleDelay = 5 * time.Millisecond
	client := mustNewClient(t, adapter, &protocol.Counter{}, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Establish(ctx, testLock, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, adapter.allDisconnected())
}

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2 * time.Second, // capped
		2 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, 100*time.Millisecond, 2*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d, 100ms, 2s) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	// Attempt=100 would overflow 1<<100 without the shift limit
	got := backoffDelay(100, 100*time.Millisecond, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("backoffDelay(100) = %v, want 30s", got)
	}

	got = backoffDelay(maxBackoffShift, time.Hour, 1<<62)
	if got <= 0 {
		t.Errorf("backoffDelay(%d) = %v, should be positive", maxBackoffShift, got)
	}
}

func TestBackoffDelayWithoutGrowth(t *testing.T) {
	if got := backoffDelay(3, 0, time.Second); got != 0 {
		t.Errorf("zero base: got %v, want 0", got)
	}
	if got := backoffDelay(3, 100*time.Millisecond, 0); got != 100*time.Millisecond {
		t.Errorf("max below base: got %v, want 100ms", got)
	}
}
