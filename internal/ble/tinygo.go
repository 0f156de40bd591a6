package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// readBufferSize covers the largest attribute value ATT allows.
const readBufferSize = 512

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). On macOS device addresses are CoreBluetooth
// UUIDs rather than MAC addresses; Peripheral.Address stores whichever the
// platform reports.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	states  chan AdapterState

	// mu protects the address and connection maps.
	mu          sync.Mutex
	addresses   map[string]bluetooth.Address
	connections map[string]*tinyGoConnection
}

// NewTinyGoAdapter creates a BLE adapter backed by the default system adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		states:      make(chan AdapterState, 4),
		addresses:   make(map[string]bluetooth.Address),
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		a.publish(StatePoweredOff)
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops the link.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	a.publish(StatePoweredOn)
	return nil
}

// publish delivers a state without blocking; tinygo only reports the
// transitions it observes through Enable.
func (a *TinyGoAdapter) publish(s AdapterState) {
	select {
	case a.states <- s:
	default:
		slog.Warn("[BLE] adapter state dropped", "state", s)
	}
}

func (a *TinyGoAdapter) StateChanges() <-chan AdapterState {
	return a.states
}

func (a *TinyGoAdapter) Scan(handler func(Peripheral)) error {
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		a.mu.Lock()
		a.addresses[addr] = result.Address
		a.mu.Unlock()
		handler(Peripheral{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.addresses[address]
	a.mu.Unlock()
	if !ok {
		addr.Set(address)
	}

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{
			owner:   a,
			address: address,
			device:  result.device,
		}
		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	owner   *TinyGoAdapter
	address string
	device  bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverServices(uuids ...string) ([]Service, error) {
	svcs, err := c.device.DiscoverServices(parseFilter(uuids))
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		out = append(out, &tinyGoService{svc: svcs[i]})
	}
	return out, nil
}

func (c *tinyGoConnection) Disconnect() error {
	c.owner.mu.Lock()
	if c.owner.connections[c.address] == c {
		delete(c.owner.connections, c.address)
	}
	c.owner.mu.Unlock()
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) UUID() string {
	return stackUUID(s.svc.UUID())
}

func (s *tinyGoService) DiscoverCharacteristics(uuids ...string) ([]Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics(parseFilter(uuids))
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &tinyGoCharacteristic{char: chars[i]})
	}
	return out, nil
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() string {
	return stackUUID(c.char.UUID())
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}

// parseFilter converts UUID strings into a discovery filter. Any string the
// stack cannot represent disables filtering; callers match results with
// UUIDEqual anyway.
func parseFilter(uuids []string) []bluetooth.UUID {
	if len(uuids) == 0 {
		return nil
	}
	filter := make([]bluetooth.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := ParseBluetoothUUID(s)
		if err != nil {
			slog.Debug("[BLE] discovery filter disabled", "uuid", s, "error", err)
			return nil
		}
		filter = append(filter, u)
	}
	return filter
}

// stackUUID formats u the way the lock firmware advertises it: SIG-based
// 16-bit UUIDs in their short form, everything else in full.
func stackUUID(u bluetooth.UUID) string {
	if u.Is16Bit() {
		return fmt.Sprintf("%04x", u.Get16Bit())
	}
	return u.String()
}
