package ble

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// NormalizeUUID drops every character other than ASCII letters, digits and
// spaces. Case is preserved, so "0000-ABCD" normalizes to "0000ABCD".
func NormalizeUUID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == ' ':
			b.WriteByte(c)
		}
	}
	return b.String()
}

// UUIDEqual reports whether two UUID strings are equal once separators and
// other punctuation are removed. The comparison is case sensitive.
func UUIDEqual(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ParseBluetoothUUID converts a 16-bit, 32-bit or 128-bit UUID string in any
// separator style into a tinygo bluetooth UUID.
func ParseBluetoothUUID(s string) (bluetooth.UUID, error) {
	n := strings.ReplaceAll(NormalizeUUID(s), " ", "")
	switch len(n) {
	case 4, 8:
		raw, err := hex.DecodeString(n)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		var v uint32
		for _, b := range raw {
			v = v<<8 | uint32(b)
		}
		if len(raw) == 2 {
			return bluetooth.New16BitUUID(uint16(v)), nil
		}
		return bluetooth.New32BitUUID(v), nil
	case 32:
		u, err := uuid.Parse(n)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		return bluetooth.NewUUID([16]byte(u)), nil
	default:
		return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: unsupported length %d", s, len(n))
	}
}

// isCanonicalUUID reports whether s is a 128-bit UUID in any of the forms
// google/uuid accepts.
func isCanonicalUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
