package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blelock/internal/ble/protocol"
)

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	ServiceUUID        string        // service hosting both characteristics
	PublicCharUUID     string        // static characteristic holding the dynamic UUID
	DestinationAddress string        // destinationAddress field of every request
	SettleDelay        time.Duration // pause after a disconnect before reconnecting
	MaxRefreshAttempts int           // disconnect/reconnect cycles before giving up, 0 = unbounded
	MaxRefreshDelay    time.Duration // cap for the backoff between refresh cycles
	PacingInterval     time.Duration // delay between registration-key requests

	// OnNotification, if set, receives every decoded notification.
	OnNotification func(text string)
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ServiceUUID:        DefaultServiceUUID,
		PublicCharUUID:     DefaultPublicCharUUID,
		SettleDelay:        100 * time.Millisecond,
		MaxRefreshAttempts: 50,
		MaxRefreshDelay:    2 * time.Second,
		PacingInterval:     5 * time.Second,
	}
}

// Client drives one lock connection at a time: handshake, discovery
// refresh and the paced request session.
type Client struct {
	adapter Adapter
	counter *protocol.Counter
	opts    ClientOptions
	now     func() time.Time

	// mu protects conn, the only live handle.
	mu   sync.Mutex
	conn Connection
}

// NewClient creates a client that numbers its requests with counter.
func NewClient(adapter Adapter, counter *protocol.Counter, opts ClientOptions) (*Client, error) {
	if adapter == nil {
		return nil, errors.New("ble: adapter must not be nil")
	}
	if counter == nil {
		return nil, errors.New("ble: counter must not be nil")
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.PublicCharUUID == "" {
		opts.PublicCharUUID = DefaultPublicCharUUID
	}
	if opts.SettleDelay < 0 || opts.MaxRefreshDelay < 0 || opts.PacingInterval < 0 {
		return nil, errors.New("ble: delays must not be negative")
	}
	if opts.MaxRefreshAttempts < 0 {
		return nil, fmt.Errorf("ble: max refresh attempts must be >= 0, got %d", opts.MaxRefreshAttempts)
	}
	return &Client{
		adapter: adapter,
		counter: counter,
		opts:    opts,
		now:     time.Now,
	}, nil
}

// Establish runs the full interaction with p: connect, read the dynamic
// characteristic UUID from the public characteristic, refresh discovery
// until the dynamic characteristic is visible, then run the session.
// onActive is called once the session is subscribed.
//
// Establish only returns on failure or when ctx is done. Failures after the
// session became active are returned as *SessionError. The connection is
// always released before returning.
func (c *Client) Establish(ctx context.Context, p Peripheral, onActive func()) error {
	defer func() {
		if err := c.release(); err != nil {
			slog.Warn("[BLE] release connection", "error", err)
		}
	}()

	conn, err := c.connect(ctx, p)
	if err != nil {
		return err
	}
	slog.Info("[BLE] connected", "name", p.Name, "address", p.Address)

	key, err := c.readDynamicID(conn)
	if err != nil {
		slog.Error("[BLE] handshake failed", "error", err)
		return err
	}

	char, err := c.refresh(ctx, p, key)
	if err != nil {
		slog.Error("[BLE] discovery refresh failed", "error", err)
		return err
	}

	c.mu.Lock()
	conn = c.conn
	c.mu.Unlock()
	return c.runSession(ctx, conn, char, key, onActive)
}

// readDynamicID reads the public characteristic and decodes the per-device
// characteristic UUID.
func (c *Client) readDynamicID(conn Connection) (string, error) {
	pub, err := findCharacteristic(conn, c.opts.ServiceUUID, c.opts.PublicCharUUID)
	if err != nil {
		return "", err
	}
	data, err := pub.Read()
	if err != nil {
		return "", fmt.Errorf("%w: read public characteristic: %w", ErrConnection, err)
	}
	key := protocol.DecodeText(data)
	if key == "" {
		return "", fmt.Errorf("%w: public characteristic returned an empty UUID", ErrCharacteristicNotFound)
	}
	if !isCanonicalUUID(key) {
		slog.Warn("[BLE] dynamic characteristic UUID is not canonical", "uuid", key)
	}
	slog.Info("[BLE] received dynamic characteristic UUID", "uuid", key)
	return key, nil
}

// connect opens a fresh handle for p. The previous handle must already be
// released.
func (c *Client) connect(ctx context.Context, p Peripheral) (Connection, error) {
	conn, err := c.adapter.Connect(ctx, p.Address)
	if err != nil {
		slog.Error("[BLE] connect failed", "address", p.Address, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// release disconnects the live handle, if any. The handle is dropped even
// when Disconnect fails.
func (c *Client) release() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrConnection, err)
	}
	return nil
}
