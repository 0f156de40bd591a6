package ble

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConnection              = errors.New("ble: connection failed")
	ErrServiceNotFound         = errors.New("ble: service not found")
	ErrCharacteristicNotFound  = errors.New("ble: characteristic not found")
	ErrSubscription            = errors.New("ble: subscribe failed")
	ErrWrite                   = errors.New("ble: write failed")
	ErrStaleDiscoveryExhausted = errors.New("ble: dynamic characteristic never appeared")
	ErrRetriesExhausted        = errors.New("ble: max reconnection attempts reached")
)

// SessionError is returned when a session fails after it became active.
type SessionError struct {
	ActiveSince time.Time
	Err         error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("ble: session active since %s failed: %v", e.ActiveSince.Format(time.RFC3339), e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
