package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// refresh cycles the connection until the characteristic named key shows up
// in a full discovery. Some stacks keep serving the GATT table cached before
// the handshake read for as long as the link stays up, so every cycle is a
// real disconnect followed by a fresh connect.
func (c *Client) refresh(ctx context.Context, p Peripheral, key string) (Characteristic, error) {
	for cycle := 1; ; cycle++ {
		if max := c.opts.MaxRefreshAttempts; max > 0 && cycle > max {
			return nil, fmt.Errorf("%w: %s not found after %d cycles", ErrStaleDiscoveryExhausted, key, max)
		}

		if err := c.release(); err != nil {
			return nil, err
		}
		slog.Debug("[BLE] disconnected to refresh services", "cycle", cycle)
		if err := sleep(ctx, c.opts.SettleDelay); err != nil {
			return nil, err
		}

		start := time.Now()
		conn, err := c.connect(ctx, p)
		if err != nil {
			return nil, err
		}
		slog.Debug("[BLE] reconnected", "cycle", cycle, "took", time.Since(start).Round(time.Millisecond))

		chars, err := discoverAll(conn, c.opts.ServiceUUID)
		if err != nil && !errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		if char := matchCharacteristic(chars, key); char != nil {
			slog.Info("[BLE] dynamic characteristic found", "uuid", char.UUID(), "cycles", cycle)
			return char, nil
		}

		delay := backoffDelay(cycle-1, c.opts.SettleDelay, c.opts.MaxRefreshDelay)
		slog.Info("[BLE] dynamic characteristic not visible yet", "cycle", cycle, "retry_in", delay)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}
