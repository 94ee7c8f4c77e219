// Package scan implements BLE candidate discovery: it runs adapter scans,
// filters results by address prefix and publishes wholesale-replaced
// snapshots of the current candidate set.
package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/groutine"
	"github.com/srg/biotrace/internal/stream"
)

// DefaultAddressPrefix is the candidate filter applied when no prefix is
// configured.
const DefaultAddressPrefix = "00:80"

// DeviceHandle identifies a discovered candidate device. It stays valid
// for the scan session that produced it.
type DeviceHandle struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// DisplayName returns the advertised name, or a placeholder when the
// device did not advertise one.
func (h DeviceHandle) DisplayName() string {
	if h.Name == "" {
		return "Unknown Device"
	}
	return h.Name
}

// Snapshot is the current candidate set plus the scanning-active flag.
// Snapshots are immutable; the coordinator replaces them wholesale and
// never patches a published one.
type Snapshot struct {
	Devices  []DeviceHandle
	Scanning bool
}

// Coordinator runs discovery scans against the adapter and maintains the
// filtered candidate set. The set is owned exclusively by the coordinator
// and exposed only through atomically replaced snapshots.
type Coordinator struct {
	ad     adapter.Adapter
	logger *logrus.Logger
	prefix string

	scanning   atomic.Bool
	candidates atomic.Pointer[hashmap.Map[string, DeviceHandle]]
	current    atomic.Pointer[Snapshot]
	snapshots  *stream.Ring[Snapshot]
}

// NewCoordinator creates a Coordinator filtering on the given address
// prefix (uppercased comparison; empty selects the default). The
// coordinator mirrors the adapter's scanning-active stream into its
// snapshots for the lifetime of the adapter.
func NewCoordinator(ad adapter.Adapter, prefix string, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if prefix == "" {
		prefix = DefaultAddressPrefix
	}
	c := &Coordinator{
		ad:        ad,
		logger:    logger,
		prefix:    strings.ToUpper(prefix),
		snapshots: stream.NewRing[Snapshot](64),
	}
	c.candidates.Store(hashmap.New[string, DeviceHandle]())
	c.current.Store(&Snapshot{})
	groutine.Go(nil, "scan-flag-mirror", func(context.Context) {
		c.mirrorScanningFlag()
	})
	return c
}

// StartScan clears the candidate set and starts an adapter scan with the
// given timeout. A scan already in progress makes this a no-op; there is
// no manual stop beyond the timeout, a refresh is simply another
// StartScan once the current one finishes.
func (c *Coordinator) StartScan(ctx context.Context, timeout time.Duration) error {
	if !c.scanning.CompareAndSwap(false, true) {
		c.logger.Debug("Scan already in progress, ignoring request")
		return nil
	}

	candidates := hashmap.New[string, DeviceHandle]()
	c.candidates.Store(candidates)
	c.publish(true)

	c.logger.WithFields(logrus.Fields{
		"timeout": timeout,
		"prefix":  c.prefix,
	}).Info("Starting BLE scan")

	results, err := c.ad.Scan(ctx, timeout)
	if err != nil {
		c.scanning.Store(false)
		c.publish(false)
		return fmt.Errorf("start scan: %w", err)
	}

	groutine.Go(ctx, "scan-consumer", func(context.Context) {
		c.consume(candidates, results)
	})
	return nil
}

// Scanning reports whether a scan is currently in progress.
func (c *Coordinator) Scanning() bool {
	return c.scanning.Load()
}

// Snapshot returns the most recently published snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.current.Load()
}

// Snapshots returns the stream of published snapshots. Slow consumers see
// the most recent snapshots; intermediate ones may be dropped.
func (c *Coordinator) Snapshots() <-chan Snapshot {
	return c.snapshots.C()
}

func (c *Coordinator) consume(candidates *hashmap.Map[string, DeviceHandle], results <-chan adapter.ScanResult) {
	for res := range results {
		addr := strings.ToUpper(res.Address)
		if !strings.HasPrefix(addr, c.prefix) {
			continue
		}
		if _, seen := candidates.Get(addr); !seen {
			c.logger.WithFields(logrus.Fields{
				"address": res.Address,
				"name":    res.Name,
				"rssi":    res.RSSI,
			}).Info("Discovered candidate device")
		}
		candidates.Set(addr, DeviceHandle{Address: res.Address, Name: res.Name, RSSI: res.RSSI})
		c.publish(true)
	}

	c.scanning.Store(false)
	c.publish(false)
	c.logger.WithField("candidates", candidates.Len()).Info("BLE scan completed")
}

func (c *Coordinator) mirrorScanningFlag() {
	for active := range c.ad.ScanningActive() {
		c.scanning.Store(active)
		c.publish(active)
	}
}

// publish rebuilds the snapshot from the candidate set and replaces the
// published one wholesale.
func (c *Coordinator) publish(scanning bool) {
	candidates := c.candidates.Load()
	devices := make([]DeviceHandle, 0, candidates.Len())
	candidates.Range(func(_ string, h DeviceHandle) bool {
		devices = append(devices, h)
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})

	snap := &Snapshot{Devices: devices, Scanning: scanning}
	c.current.Store(snap)
	c.snapshots.Send(*snap)
}
