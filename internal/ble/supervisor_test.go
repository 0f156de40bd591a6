package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blelock/internal/ble/protocol"
)

// fakeEstablisher runs a scripted outcome per call.
type fakeEstablisher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, onActive func()) error
}

func (f *fakeEstablisher) Establish(_ context.Context, _ Peripheral, onActive func()) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n, onActive)
}

func (f *fakeEstablisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSupervisorOptions() SupervisorOptions {
	opts := DefaultSupervisorOptions()
	opts.RetryDelay = 0
	opts.SessionMaxRetries = 2
	opts.SessionResetAfter = time.Hour
	return opts
}

func TestSupervisorGivesUpAfterMaxRetries(t *testing.T) {
	est := &fakeEstablisher{fn: func(int, func()) error { return errMock }}
	sup := NewSupervisor(est, testSupervisorOptions())

	err := sup.Run(context.Background(), testLock)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errMock)
	assert.Equal(t, 6, est.callCount(), "1 initial attempt + 5 retries")
	assert.Equal(t, SupervisorFailed, sup.State())
}

func TestSupervisorWithFailingConnectAttemptsSixTimes(t *testing.T) {
	adapter := newMockAdapter()
	adapter.connectErr = errMock
	client := mustNewClient(t, adapter, &protocol.Counter{}, testClientOptions())
	sup := NewSupervisor(client, testSupervisorOptions())

	err := sup.Run(context.Background(), testLock)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 6, adapter.connectCount())
}

func TestSupervisorActiveSessionResetsHandshakeBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	est := &fakeEstablisher{fn: func(call int, onActive func()) error {
		switch {
		case call == 6:
			onActive()
			return &SessionError{ActiveSince: time.Now(), Err: errMock}
		case call == 12:
			cancel()
			return context.Canceled
		default:
			return errMock
		}
	}}
	sup := NewSupervisor(est, testSupervisorOptions())

	err := sup.Run(ctx, testLock)

	// Ten handshake failures in total, but never more than five in a row.
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 12, est.callCount())
	assert.Equal(t, SupervisorIdle, sup.State())
}

func TestSupervisorSessionBudgetExhausted(t *testing.T) {
	est := &fakeEstablisher{fn: func(_ int, onActive func()) error {
		onActive()
		return &SessionError{ActiveSince: time.Now(), Err: ErrWrite}
	}}
	sup := NewSupervisor(est, testSupervisorOptions())

	err := sup.Run(context.Background(), testLock)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrWrite)
	var sessErr *SessionError
	assert.ErrorAs(t, err, &sessErr)
	assert.Equal(t, 3, est.callCount(), "1 session + 2 session retries")
}

func TestSupervisorLongSessionResetsSessionBudget(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	est := &fakeEstablisher{fn: func(call int, onActive func()) error {
		if call == 10 {
			cancel()
			return context.Canceled
		}
		onActive()
		return &SessionError{ActiveSince: now.Add(-2 * time.Hour), Err: ErrWrite}
	}}
	sup := NewSupervisor(est, testSupervisorOptions())
	sup.now = func() time.Time { return now }

	err := sup.Run(ctx, testLock)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, est.callCount())
}

func TestSupervisorStateTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type transition struct{ from, to SupervisorState }
	var got []transition

	opts := testSupervisorOptions()
	opts.OnStateChange = func(from, to SupervisorState) {
		got = append(got, transition{from, to})
	}
	est := &fakeEstablisher{fn: func(call int, onActive func()) error {
		if call == 1 {
			return errMock
		}
		onActive()
		cancel()
		return &SessionError{ActiveSince: time.Now(), Err: context.Canceled}
	}}
	sup := NewSupervisor(est, opts)

	err := sup.Run(ctx, testLock)
	require.ErrorIs(t, err, context.Canceled)

	want := []transition{
		{SupervisorIdle, SupervisorConnecting},
		{SupervisorConnecting, SupervisorRetrying},
		{SupervisorRetrying, SupervisorConnecting},
		{SupervisorConnecting, SupervisorActive},
		{SupervisorActive, SupervisorIdle},
	}
	assert.Equal(t, want, got)
}

func TestSupervisorStateString(t *testing.T) {
	assert.Equal(t, "connecting", SupervisorConnecting.String())
	assert.Equal(t, "failed", SupervisorFailed.String())
	assert.Equal(t, "SupervisorState(42)", SupervisorState(42).String())
}
