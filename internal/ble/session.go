package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blelock/internal/ble/protocol"
)

// runSession subscribes to char and then writes a registration-key request
// every pacing interval until a write fails, the link drops or ctx is done.
func (c *Client) runSession(ctx context.Context, conn Connection, char Characteristic, key string, onActive func()) error {
	lost := make(chan struct{})
	var lostOnce sync.Once
	conn.OnDisconnect(func() {
		lostOnce.Do(func() { close(lost) })
	})

	if err := char.Subscribe(c.handleNotification); err != nil {
		err = fmt.Errorf("%w: %w", ErrSubscription, err)
		slog.Error("[BLE] subscribe failed", "uuid", char.UUID(), "error", err)
		return err
	}
	since := c.now()
	slog.Info("[BLE] subscribed to notifications", "uuid", char.UUID())
	if onActive != nil {
		onActive()
	}

	fail := func(err error) error {
		slog.Error("[BLE] session ended", "error", err)
		return &SessionError{ActiveSince: since, Err: err}
	}

	for {
		msg := protocol.NewRegKeyRequest(c.counter, c.opts.DestinationAddress, key)
		data, err := msg.Marshal()
		if err != nil {
			return fail(err)
		}
		slog.Debug("[BLE] sending request", "payload", string(data))
		if err := char.Write(data); err != nil {
			return fail(fmt.Errorf("%w: %w", ErrWrite, err))
		}
		slog.Info("[BLE] request sent", "type", msg.Type, "source_address", c.counter.Advance())

		t := time.NewTimer(c.opts.PacingInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fail(ctx.Err())
		case <-lost:
			t.Stop()
			return fail(fmt.Errorf("%w: link lost", ErrConnection))
		case <-t.C:
		}
	}
}

// handleNotification only observes; it never triggers a send.
func (c *Client) handleNotification(data []byte) {
	text := protocol.DecodeText(data)
	slog.Info("[BLE] notification received", "payload", text)
	if c.opts.OnNotification != nil {
		c.opts.OnNotification(text)
	}
}
