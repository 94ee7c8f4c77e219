// Package goble implements the transport adapter on top of go-ble/ble.
// It owns the HCI device handle and the per-address client connections,
// translating between the library's types and the adapter contract.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/groutine"
)

// DefaultConnectTimeout bounds ble.Dial when the caller's context carries
// no deadline of its own.
const DefaultConnectTimeout = 30 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// conn is one live client connection plus the characteristic handles
// resolved during discovery, keyed by normalized UUID.
type conn struct {
	client ble.Client
	chars  map[string]*ble.Characteristic
}

// Adapter is the go-ble backed transport. The HCI device is created
// lazily on first use and shared by scans and connections.
type Adapter struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	mu    sync.Mutex
	dev   ble.Device
	conns map[string]*conn

	scanActive chan bool
}

// New creates an Adapter. A zero connectTimeout selects the default.
func New(connectTimeout time.Duration, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Adapter{
		logger:         logger,
		connectTimeout: connectTimeout,
		conns:          make(map[string]*conn),
		scanActive:     make(chan bool, 8),
	}
}

// device returns the shared HCI handle, creating it on first use.
func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("create BLE device: %w", adapter.NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	a.dev = dev
	return dev, nil
}

// Scan runs an advertisement scan for the given duration. Results are
// streamed on the returned channel, which is closed when the scan ends.
func (a *Adapter) Scan(ctx context.Context, timeout time.Duration) (<-chan adapter.ScanResult, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	out := make(chan adapter.ScanResult, 64)
	scanCtx, cancel := context.WithTimeout(ctx, timeout)

	a.scanActive <- true
	groutine.Go(scanCtx, "ble-scan", func(context.Context) {
		defer close(out)
		defer cancel()
		err := dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
			res := adapter.ScanResult{
				Address: adv.Addr().String(),
				Name:    adv.LocalName(),
				RSSI:    adv.RSSI(),
			}
			select {
			case out <- res:
			default:
				// Advertisement bursts beyond the buffer are dropped;
				// the same device will advertise again within the scan.
			}
		})
		if err != nil && scanCtx.Err() == nil {
			a.logger.WithError(adapter.NormalizeError(err)).Error("BLE scan aborted")
		}
		a.scanActive <- false
	})
	return out, nil
}

// ScanningActive returns the transport-level scanning flag stream.
func (a *Adapter) ScanningActive() <-chan bool {
	return a.scanActive
}

// Connect dials the peripheral. The connection is tracked by normalized
// address until Disconnect or a transport-level drop.
func (a *Adapter) Connect(ctx context.Context, addr string, _ bool) error {
	if _, err := a.device(); err != nil {
		return err
	}

	a.mu.Lock()
	if _, exists := a.conns[normalizeAddr(addr)]; exists {
		a.mu.Unlock()
		return fmt.Errorf("connect %s: %w", addr, adapter.ErrAlreadyConnected)
	}
	a.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()

	a.logger.WithFields(logrus.Fields{
		"address": addr,
		"timeout": a.connectTimeout,
	}).Debug("Dialing BLE device")

	client, err := ble.Dial(dialCtx, ble.NewAddr(addr))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, adapter.NormalizeError(err))
	}

	a.mu.Lock()
	a.conns[normalizeAddr(addr)] = &conn{
		client: client,
		chars:  make(map[string]*ble.Characteristic),
	}
	a.mu.Unlock()
	return nil
}

// ConnectionState surfaces the client's disconnect signal as a state
// stream. The channel is closed after the terminal Disconnected event.
func (a *Adapter) ConnectionState(addr string) (<-chan adapter.ConnState, error) {
	c, err := a.lookup(addr)
	if err != nil {
		return nil, err
	}

	states := make(chan adapter.ConnState, 1)
	groutine.Go(nil, "ble-connection-monitor", func(context.Context) {
		defer close(states)
		<-c.client.Disconnected()
		a.mu.Lock()
		delete(a.conns, normalizeAddr(addr))
		a.mu.Unlock()
		states <- adapter.Disconnected
	})
	return states, nil
}

// DiscoverServices walks the peripheral's full GATT profile and caches
// the characteristic handles for later SetNotify calls.
func (a *Adapter) DiscoverServices(ctx context.Context, addr string) ([]adapter.Service, error) {
	c, err := a.lookup(addr)
	if err != nil {
		return nil, err
	}
	_ = ctx // DiscoverProfile carries no context in go-ble

	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("discover profile on %s: %w", addr, adapter.NormalizeError(err))
	}

	services := make([]adapter.Service, 0, len(profile.Services))
	a.mu.Lock()
	for _, bleSvc := range profile.Services {
		svc := adapter.Service{UUID: bleSvc.UUID.String()}
		for _, bleChar := range bleSvc.Characteristics {
			char := adapter.Characteristic{
				ServiceUUID: svc.UUID,
				UUID:        bleChar.UUID.String(),
			}
			c.chars[adapter.NormalizeUUID(char.UUID)] = bleChar
			svc.Characteristics = append(svc.Characteristics, char)
		}
		services = append(services, svc)
	}
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"address":  addr,
		"services": len(services),
	}).Debug("GATT profile discovered")
	return services, nil
}

// SetNotify enables or disables notifications on the characteristic.
func (a *Adapter) SetNotify(_ context.Context, addr string, char adapter.Characteristic, enable bool, fn adapter.NotificationHandler) error {
	c, err := a.lookup(addr)
	if err != nil {
		return err
	}

	a.mu.Lock()
	bleChar, ok := c.chars[adapter.NormalizeUUID(char.UUID)]
	a.mu.Unlock()
	if !ok {
		return &adapter.NotFoundError{Resource: "characteristic", UUIDs: []string{char.ServiceUUID, char.UUID}}
	}

	if enable {
		if err := c.client.Subscribe(bleChar, false, ble.NotificationHandler(fn)); err != nil {
			return fmt.Errorf("subscribe %s: %w", char.UUID, adapter.NormalizeError(err))
		}
		return nil
	}
	if err := c.client.Unsubscribe(bleChar, false); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", char.UUID, adapter.NormalizeError(err))
	}
	return nil
}

// Disconnect cancels the connection and drops the tracked client. An
// unknown address is reported as not connected.
func (a *Adapter) Disconnect(addr string) error {
	a.mu.Lock()
	c, ok := a.conns[normalizeAddr(addr)]
	delete(a.conns, normalizeAddr(addr))
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("disconnect %s: %w", addr, adapter.ErrNotConnected)
	}

	if err := c.client.CancelConnection(); err != nil {
		return fmt.Errorf("disconnect %s: %w", addr, adapter.NormalizeError(err))
	}
	return nil
}

func (a *Adapter) lookup(addr string) (*conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.conns[normalizeAddr(addr)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, adapter.ErrNotConnected)
	}
	return c, nil
}

func normalizeAddr(addr string) string {
	return ble.NewAddr(addr).String()
}
