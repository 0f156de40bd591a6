package ble

import (
	"context"
	"fmt"
	"log/slog"
)

// findService returns the first service matching serviceUUID.
func findService(conn Connection, serviceUUID string) (Service, error) {
	svcs, err := conn.DiscoverServices(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	uuids := make([]string, 0, len(svcs))
	for _, s := range svcs {
		uuids = append(uuids, s.UUID())
	}
	slog.Debug("[BLE] discovered services", "uuids", uuids)

	for _, s := range svcs {
		if UUIDEqual(s.UUID(), serviceUUID) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceUUID)
}

// findCharacteristic discovers the characteristic charUUID inside serviceUUID.
func findCharacteristic(conn Connection, serviceUUID, charUUID string) (Characteristic, error) {
	svc, err := findService(conn, serviceUUID)
	if err != nil {
		return nil, err
	}
	chars, err := svc.DiscoverCharacteristics(charUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	logCharacteristics(chars)

	if c := matchCharacteristic(chars, charUUID); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
}

// discoverAll lists every characteristic of serviceUUID without a filter.
func discoverAll(conn Connection, serviceUUID string) ([]Characteristic, error) {
	svc, err := findService(conn, serviceUUID)
	if err != nil {
		return nil, err
	}
	chars, err := svc.DiscoverCharacteristics()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	logCharacteristics(chars)
	return chars, nil
}

func matchCharacteristic(chars []Characteristic, charUUID string) Characteristic {
	for _, c := range chars {
		if UUIDEqual(c.UUID(), charUUID) {
			return c
		}
	}
	return nil
}

func logCharacteristics(chars []Characteristic) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	uuids := make([]string, 0, len(chars))
	for _, c := range chars {
		uuids = append(uuids, c.UUID())
	}
	slog.Debug("[BLE] discovered characteristics", "uuids", uuids)
}
