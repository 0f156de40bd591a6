// Package ble provides the BLE client for the lock peripheral. It finds the
// lock by name, performs the dynamic-characteristic handshake and keeps a
// paced registration-key session alive across disconnects.
package ble

import "context"

// Defaults used when no configuration overrides them.
const (
	DefaultDeviceName     = "BleLock"
	DefaultServiceUUID    = "abcd"
	DefaultPublicCharUUID = "1234"
)

// AdapterState is the power state reported by the BLE adapter.
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StatePoweredOff
	StatePoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Peripheral identifies a discovered BLE device. It carries no connection
// state; every connect produces a new Connection.
type Peripheral struct {
	Name    string
	Address string
	RSSI    int
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID as reported by the stack.
	UUID() string
	// Read returns the current value.
	Read() ([]byte, error)
	// Write sends data without waiting for a response.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Service represents a discovered GATT service.
type Service interface {
	UUID() string
	// DiscoverCharacteristics lists characteristics, filtered by UUID when
	// any are given.
	DiscoverCharacteristics(uuids ...string) ([]Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
// It must not be used after Disconnect.
type Connection interface {
	// DiscoverServices lists services, filtered by UUID when any are given.
	DiscoverServices(uuids ...string) ([]Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// StateChanges delivers adapter power state transitions.
	StateChanges() <-chan AdapterState
	// Scan reports advertisements to handler until StopScan is called.
	// It blocks for the duration of the scan.
	Scan(handler func(Peripheral)) error
	// StopScan ends a running Scan.
	StopScan() error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
