package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/biotrace/internal/adapter"
)

// FakeAdapter is a scriptable in-memory adapter.Adapter. Tests preload
// scan results, a service profile and per-characteristic failures, then
// drive notifications and transport events by hand.
//
// Configure the exported fields before first use; the adapter methods read
// them under the internal lock.
type FakeAdapter struct {
	mu sync.Mutex

	// Scripted behavior.
	ScanResults []adapter.ScanResult
	ScanErr     error
	ConnectErr  error
	DiscoverErr error
	Services    []adapter.Service
	// NotifyErrs fails SetNotify(enable=true) for the keyed
	// characteristic UUID.
	NotifyErrs    map[string]error
	DisconnectErr error

	// Call accounting.
	ConnectCalls    int
	DisconnectCalls int
	SubscribeCalls  int

	handlers   map[string]adapter.NotificationHandler
	scanActive chan bool
	connStates chan adapter.ConnState
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		handlers:   make(map[string]adapter.NotificationHandler),
		scanActive: make(chan bool, 8),
		connStates: make(chan adapter.ConnState, 8),
	}
}

func (f *FakeAdapter) Scan(_ context.Context, _ time.Duration) (<-chan adapter.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanErr != nil {
		return nil, f.ScanErr
	}
	out := make(chan adapter.ScanResult, len(f.ScanResults)+1)
	for _, res := range f.ScanResults {
		out <- res
	}
	close(out)
	return out, nil
}

func (f *FakeAdapter) ScanningActive() <-chan bool {
	return f.scanActive
}

// SetScanningActive injects a scanning-active flag change, as the real
// transport does when a scan starts or stops on its own.
func (f *FakeAdapter) SetScanningActive(active bool) {
	f.scanActive <- active
}

func (f *FakeAdapter) Connect(_ context.Context, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectCalls++
	return f.ConnectErr
}

func (f *FakeAdapter) ConnectionState(_ string) (<-chan adapter.ConnState, error) {
	return f.connStates, nil
}

// ReportDisconnect injects a transport-level disconnect event.
func (f *FakeAdapter) ReportDisconnect() {
	f.connStates <- adapter.Disconnected
}

func (f *FakeAdapter) DiscoverServices(_ context.Context, _ string) ([]adapter.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DiscoverErr != nil {
		return nil, f.DiscoverErr
	}
	return f.Services, nil
}

func (f *FakeAdapter) SetNotify(_ context.Context, _ string, char adapter.Characteristic, enable bool, fn adapter.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enable {
		f.SubscribeCalls++
		if err := f.NotifyErrs[char.UUID]; err != nil {
			return err
		}
		f.handlers[char.UUID] = fn
		return nil
	}
	delete(f.handlers, char.UUID)
	return nil
}

func (f *FakeAdapter) Disconnect(_ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DisconnectCalls++
	return f.DisconnectErr
}

// Notify delivers a notification frame to the handler subscribed on the
// given characteristic UUID. It reports whether a handler was installed.
func (f *FakeAdapter) Notify(charUUID string, data []byte) bool {
	f.mu.Lock()
	fn := f.handlers[charUUID]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(data)
	return true
}

// Subscribed reports whether a handler is currently installed for the
// characteristic UUID.
func (f *FakeAdapter) Subscribed(charUUID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[charUUID]
	return ok
}

// SubscribedCount returns the number of installed notification handlers.
func (f *FakeAdapter) SubscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// SensorServices returns a service profile carrying both sensor channel
// pairs, in the long-form UUIDs the real transport reports.
func SensorServices() []adapter.Service {
	return []adapter.Service{
		{
			UUID: "0000aa00-0000-1000-8000-00805f9b34fb",
			Characteristics: []adapter.Characteristic{
				{ServiceUUID: "0000aa00-0000-1000-8000-00805f9b34fb", UUID: "0000aa03-0000-1000-8000-00805f9b34fb"},
			},
		},
		{
			UUID: "0000aa20-0000-1000-8000-00805f9b34fb",
			Characteristics: []adapter.Characteristic{
				{ServiceUUID: "0000aa20-0000-1000-8000-00805f9b34fb", UUID: "0000aa21-0000-1000-8000-00805f9b34fb"},
			},
		},
	}
}

// ECGCharUUID and PPGCharUUID are the long-form characteristic UUIDs of
// SensorServices, for driving Notify.
const (
	ECGCharUUID = "0000aa21-0000-1000-8000-00805f9b34fb"
	PPGCharUUID = "0000aa03-0000-1000-8000-00805f9b34fb"
)
