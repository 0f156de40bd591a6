// Package protocol defines the JSON messages exchanged with the lock over
// its dynamic characteristic.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// TypeRegKeyRequest is the message type of a registration-key request.
const TypeRegKeyRequest = "reqRegKey"

// RequestMessage is the payload written to the dynamic characteristic.
type RequestMessage struct {
	Type               string `json:"type"`
	SourceAddress      string `json:"sourceAddress"`
	DestinationAddress string `json:"destinationAddress"`
	Key                string `json:"key"`
}

// Counter numbers outgoing requests for the lifetime of the process.
// Create one in main and share it with every session; it is never reset.
type Counter struct {
	v atomic.Uint64
}

// Value returns the number the next request will carry.
func (c *Counter) Value() uint64 {
	return c.v.Load()
}

// Advance moves to the next number after a request was delivered and
// returns the number that was used.
func (c *Counter) Advance() uint64 {
	return c.v.Add(1) - 1
}

// NewRegKeyRequest builds a registration-key request carrying the current
// counter value as the source address. The counter is not advanced.
func NewRegKeyRequest(counter *Counter, destination, key string) RequestMessage {
	return RequestMessage{
		Type:               TypeRegKeyRequest,
		SourceAddress:      strconv.FormatUint(counter.Value(), 10),
		DestinationAddress: destination,
		Key:                key,
	}
}

// Marshal encodes the message as UTF-8 JSON.
func (m RequestMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", m.Type, err)
	}
	return data, nil
}

// DecodeText turns a characteristic value into a string. Invalid UTF-8
// sequences are replaced with U+FFFD.
func DecodeText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
