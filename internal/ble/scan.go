package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// HandoffFunc receives the peripheral found by a Scanner.
type HandoffFunc func(ctx context.Context, p Peripheral) error

// Scanner follows the adapter power state, scans while powered on and hands
// the first peripheral advertising the wanted name to a HandoffFunc.
type Scanner struct {
	adapter Adapter
	name    string
	handoff HandoffFunc
}

// NewScanner creates a scanner looking for name.
func NewScanner(adapter Adapter, name string, handoff HandoffFunc) *Scanner {
	if name == "" {
		name = DefaultDeviceName
	}
	return &Scanner{adapter: adapter, name: name, handoff: handoff}
}

// Run enables the adapter and processes adapter events until the wanted
// peripheral is found, then returns the result of the hand-off. Results
// reported after the hand-off are dropped.
func (s *Scanner) Run(ctx context.Context) error {
	if s.handoff == nil {
		return fmt.Errorf("ble: scanner has no hand-off")
	}
	if err := s.adapter.Enable(); err != nil {
		// A later power-on transition still starts the scan.
		slog.Warn("[BLE] adapter not enabled", "error", err)
	}

	var handedOff atomic.Bool
	found := make(chan Peripheral, 1)
	scanErrs := make(chan error, 1)
	scanning := false

	onAdvertisement := func(p Peripheral) {
		if handedOff.Load() {
			return
		}
		if p.Name != s.name {
			if p.Name != "" {
				slog.Debug("[BLE] ignoring peripheral", "name", p.Name, "address", p.Address)
			}
			return
		}
		select {
		case found <- p:
		default:
		}
	}

	states := s.adapter.StateChanges()
	for {
		select {
		case <-ctx.Done():
			if scanning {
				s.stopScan()
			}
			return ctx.Err()

		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			slog.Info("[BLE] adapter state changed", "state", state)
			if state == StatePoweredOn {
				if scanning {
					continue
				}
				scanning = true
				slog.Info("[BLE] starting scan", "name", s.name)
				go func() {
					if err := s.adapter.Scan(onAdvertisement); err != nil {
						select {
						case scanErrs <- err:
						default:
							slog.Error("[BLE] scan failed", "error", err)
						}
					}
				}()
				continue
			}
			s.stopScan()
			scanning = false
			slog.Info("[BLE] stopped scanning due to state change")

		case err := <-scanErrs:
			scanning = false
			slog.Error("[BLE] scan failed", "error", err)

		case p := <-found:
			if !handedOff.CompareAndSwap(false, true) {
				continue
			}
			s.stopScan()
			slog.Info("[BLE] found peripheral", "name", p.Name, "address", p.Address, "rssi", p.RSSI)
			return s.handoff(ctx, p)
		}
	}
}

func (s *Scanner) stopScan() {
	if err := s.adapter.StopScan(); err != nil {
		slog.Debug("[BLE] stop scan", "error", err)
	}
}
