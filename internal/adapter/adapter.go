// Package adapter defines the capability set the core requires from a
// BLE transport. The session and scan layers only ever talk to these
// interfaces; real hardware access lives in the goble sub-package and
// tests substitute a scripted fake.
package adapter

import (
	"context"
	"strings"
	"time"
)

// ScanResult is one advertisement observation reported during a scan.
type ScanResult struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// Service is a discovered GATT service and its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Characteristic identifies a characteristic within its parent service.
type Characteristic struct {
	ServiceUUID string
	UUID        string
}

// ConnState is a transport-level connection state transition.
type ConnState int

const (
	Connected ConnState = iota
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// NotificationHandler receives raw notification payloads. The byte slice
// is only valid for the duration of the call; handlers copy what they keep.
type NotificationHandler func(data []byte)

// Adapter is the abstract BLE transport.
//
// Streams returned by Scan, ScanningActive and ConnectionState are closed
// by the adapter when the underlying source ends. Connect, DiscoverServices
// and SetNotify may block awaiting the transport and honour ctx.
type Adapter interface {
	// Scan starts a discovery scan and streams raw results until the
	// timeout elapses or ctx is cancelled, then closes the stream.
	Scan(ctx context.Context, timeout time.Duration) (<-chan ScanResult, error)

	// ScanningActive mirrors the adapter's own scanning state.
	ScanningActive() <-chan bool

	// Connect establishes a connection to the addressed device. An error
	// wrapping ErrAlreadyConnected means the device is already connected;
	// callers treat that as success.
	Connect(ctx context.Context, addr string, autoConnect bool) error

	// ConnectionState streams transport state transitions for a connected
	// device. The stream closes when the connection is released.
	ConnectionState(addr string) (<-chan ConnState, error)

	// DiscoverServices returns the device's GATT services in the order the
	// transport reports them.
	DiscoverServices(ctx context.Context, addr string) ([]Service, error)

	// SetNotify enables or disables notifications on a characteristic.
	// Disabling an inactive subscription is a no-op, not an error.
	SetNotify(ctx context.Context, addr string, char Characteristic, enable bool, fn NotificationHandler) error

	// Disconnect releases the transport connection, best effort.
	Disconnect(addr string) error
}

// NormalizeUUID converts a UUID string to a canonical comparable form
// (lowercase, no dashes).
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
