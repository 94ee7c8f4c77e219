package scan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/scan"
	"github.com/srg/biotrace/internal/testutils"
)

type CoordinatorSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	fake   *testutils.FakeAdapter
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.fake = testutils.NewFakeAdapter()
}

func (s *CoordinatorSuite) waitScanDone(c *scan.Coordinator) scan.Snapshot {
	s.Require().Eventually(func() bool {
		return !c.Scanning()
	}, time.Second, 5*time.Millisecond)
	return c.Snapshot()
}

func (s *CoordinatorSuite) TestFiltersByAddressPrefix() {
	s.fake.ScanResults = []adapter.ScanResult{
		{Address: "00:80:11:22:33:44", Name: "BioSensor A", RSSI: -55},
		{Address: "00:80:AA:BB:CC:DD", Name: "BioSensor B", RSSI: -70},
		{Address: "DC:56:11:22:33:44", Name: "Headphones", RSSI: -40},
		{Address: "F4:5C:89:AA:BB:CC", Name: "", RSSI: -80},
	}
	c := scan.NewCoordinator(s.fake, "", s.helper.Logger)

	s.Require().NoError(c.StartScan(context.Background(), time.Second))
	snap := s.waitScanDone(c)

	s.Require().Len(snap.Devices, 2)
	s.Equal("00:80:11:22:33:44", snap.Devices[0].Address)
	s.Equal("00:80:AA:BB:CC:DD", snap.Devices[1].Address)
}

func (s *CoordinatorSuite) TestPrefixComparisonIsCaseInsensitive() {
	s.fake.ScanResults = []adapter.ScanResult{
		{Address: "ab:cd:11:22:33:44", Name: "Lowercase", RSSI: -50},
	}
	c := scan.NewCoordinator(s.fake, "AB:CD", s.helper.Logger)

	s.Require().NoError(c.StartScan(context.Background(), time.Second))
	snap := s.waitScanDone(c)

	s.Require().Len(snap.Devices, 1)
	s.Equal("ab:cd:11:22:33:44", snap.Devices[0].Address)
}

func (s *CoordinatorSuite) TestDuplicateAdvertisementsCollapse() {
	s.fake.ScanResults = []adapter.ScanResult{
		{Address: "00:80:11:22:33:44", Name: "", RSSI: -55},
		{Address: "00:80:11:22:33:44", Name: "BioSensor", RSSI: -54},
	}
	c := scan.NewCoordinator(s.fake, "", s.helper.Logger)

	s.Require().NoError(c.StartScan(context.Background(), time.Second))
	snap := s.waitScanDone(c)

	s.Require().Len(snap.Devices, 1)
	s.Equal("BioSensor", snap.Devices[0].Name, "later advertisement data wins")
}

func (s *CoordinatorSuite) TestRestartReplacesCandidatesWholesale() {
	s.fake.ScanResults = []adapter.ScanResult{
		{Address: "00:80:11:22:33:44", Name: "Old", RSSI: -55},
	}
	c := scan.NewCoordinator(s.fake, "", s.helper.Logger)
	s.Require().NoError(c.StartScan(context.Background(), time.Second))
	s.waitScanDone(c)

	s.fake.ScanResults = []adapter.ScanResult{
		{Address: "00:80:AA:BB:CC:DD", Name: "New", RSSI: -60},
	}
	s.Require().NoError(c.StartScan(context.Background(), time.Second))
	snap := s.waitScanDone(c)

	s.Require().Len(snap.Devices, 1)
	s.Equal("00:80:AA:BB:CC:DD", snap.Devices[0].Address, "stale candidates must not survive a rescan")
}

func (s *CoordinatorSuite) TestConcurrentScanIsNoop() {
	c := scan.NewCoordinator(s.fake, "", s.helper.Logger)

	// Force the in-progress state via the transport flag, then verify a
	// second request never reaches the adapter.
	s.fake.SetScanningActive(true)
	s.Require().Eventually(c.Scanning, time.Second, 5*time.Millisecond)

	s.fake.ScanErr = errors.New("adapter busy")
	s.Require().NoError(c.StartScan(context.Background(), time.Second), "overlapping scan request must be ignored")
}

func (s *CoordinatorSuite) TestScanErrorResetsScanningFlag() {
	s.fake.ScanErr = errors.New("hci down")
	c := scan.NewCoordinator(s.fake, "", s.helper.Logger)

	err := c.StartScan(context.Background(), time.Second)
	s.Require().Error(err)
	s.ErrorContains(err, "hci down")
	s.False(c.Scanning())

	// The coordinator must accept a retry after the failure.
	s.fake.ScanErr = nil
	s.Require().NoError(c.StartScan(context.Background(), time.Second))
}

func (s *CoordinatorSuite) TestDisplayNameFallback() {
	s.Equal("Unknown Device", scan.DeviceHandle{Address: "00:80:00:00:00:01"}.DisplayName())
	s.Equal("BioSensor", scan.DeviceHandle{Address: "00:80:00:00:00:01", Name: "BioSensor"}.DisplayName())
}
