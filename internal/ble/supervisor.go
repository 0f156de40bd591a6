package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SupervisorState is the lifecycle state of the Supervisor.
type SupervisorState int

const (
	SupervisorIdle SupervisorState = iota
	SupervisorConnecting
	SupervisorActive
	SupervisorRetrying
	SupervisorFailed
)

func (s SupervisorState) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorConnecting:
		return "connecting"
	case SupervisorActive:
		return "active"
	case SupervisorRetrying:
		return "retrying"
	case SupervisorFailed:
		return "failed"
	default:
		return fmt.Sprintf("SupervisorState(%d)", int(s))
	}
}

// Establisher runs one complete connect-and-interact attempt.
// *Client is the production implementation.
type Establisher interface {
	Establish(ctx context.Context, p Peripheral, onActive func()) error
}

var _ Establisher = (*Client)(nil)

// SupervisorOptions configures the retry budgets.
type SupervisorOptions struct {
	MaxRetries        int           // consecutive handshake failures tolerated
	RetryDelay        time.Duration // wait before each new attempt
	SessionMaxRetries int           // failures of active sessions tolerated
	SessionResetAfter time.Duration // sessions active this long reset the session budget

	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(from, to SupervisorState)
}

// DefaultSupervisorOptions returns sensible defaults.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		MaxRetries:        5,
		RetryDelay:        500 * time.Millisecond,
		SessionMaxRetries: 5,
		SessionResetAfter: 10 * time.Minute,
	}
}

// Supervisor re-runs an Establisher after failures. Failures before a
// session became active and failures of active sessions draw on separate
// budgets, so a long healthy session that drops does not eat into the
// handshake budget.
type Supervisor struct {
	establisher Establisher
	opts        SupervisorOptions
	now         func() time.Time

	mu    sync.Mutex
	state SupervisorState
}

// NewSupervisor creates a supervisor in the Idle state.
func NewSupervisor(establisher Establisher, opts SupervisorOptions) *Supervisor {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.SessionMaxRetries < 0 {
		opts.SessionMaxRetries = 0
	}
	return &Supervisor{
		establisher: establisher,
		opts:        opts,
		now:         time.Now,
	}
}

// State returns the current state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(to SupervisorState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	slog.Info("[BLE] supervisor state", "from", from, "to", to)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(from, to)
	}
}

// Run connects to p and keeps reconnecting until a budget is exhausted or
// ctx is done. It returns an error wrapping ErrRetriesExhausted and the
// last failure when it gives up, or ctx.Err() on cancellation.
func (s *Supervisor) Run(ctx context.Context, p Peripheral) error {
	handshakeFailures, sessionFailures := 0, 0

	for attempt := 1; ; attempt++ {
		s.setState(SupervisorConnecting)
		slog.Info("[BLE] connecting", "attempt", attempt, "address", p.Address)

		err := s.establisher.Establish(ctx, p, func() {
			handshakeFailures = 0
			s.setState(SupervisorActive)
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.setState(SupervisorIdle)
			return ctxErr
		}
		if err == nil {
			err = errors.New("ble: session ended without error")
		}

		var sessErr *SessionError
		if errors.As(err, &sessErr) {
			if s.now().Sub(sessErr.ActiveSince) >= s.opts.SessionResetAfter {
				sessionFailures = 0
			}
			sessionFailures++
			slog.Warn("[BLE] session failed", "attempt", attempt, "session_failures", sessionFailures, "error", err)
			if sessionFailures > s.opts.SessionMaxRetries {
				return s.giveUp(attempt, err)
			}
		} else {
			handshakeFailures++
			slog.Warn("[BLE] attempt failed", "attempt", attempt, "handshake_failures", handshakeFailures, "error", err)
			if handshakeFailures > s.opts.MaxRetries {
				return s.giveUp(attempt, err)
			}
		}

		s.setState(SupervisorRetrying)
		if err := sleep(ctx, s.opts.RetryDelay); err != nil {
			s.setState(SupervisorIdle)
			return err
		}
	}
}

func (s *Supervisor) giveUp(attempts int, last error) error {
	s.setState(SupervisorFailed)
	slog.Error("[BLE] max reconnection attempts reached, giving up", "attempts", attempts, "error", last)
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, last)
}
