package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/scan"
	"github.com/srg/biotrace/internal/session"
	"github.com/srg/biotrace/internal/supervisor"
	"github.com/srg/biotrace/internal/testutils"
)

type SupervisorSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	fake   *testutils.FakeAdapter
	sup    *supervisor.Supervisor
	dev    scan.DeviceHandle
}

func TestSupervisorSuite(t *testing.T) {
	suite.Run(t, new(SupervisorSuite))
}

func (s *SupervisorSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.fake = testutils.NewFakeAdapter()
	s.fake.Services = testutils.SensorServices()
	s.sup = supervisor.New(s.fake, "", s.helper.Logger)
	s.dev = scan.DeviceHandle{Address: "00:80:12:34:56:78", Name: "BioSensor"}
}

func (s *SupervisorSuite) TestSelectDeviceStartsSession() {
	s.Nil(s.sup.Session())

	sess, err := s.sup.SelectDevice(context.Background(), s.dev)
	s.Require().NoError(err)
	s.Equal(session.StateStreaming, sess.State())
	s.Same(sess, s.sup.Session())
}

func (s *SupervisorSuite) TestSelectDeviceRejectedWhileActive() {
	_, err := s.sup.SelectDevice(context.Background(), s.dev)
	s.Require().NoError(err)

	other := scan.DeviceHandle{Address: "00:80:AA:BB:CC:DD"}
	sess, err := s.sup.SelectDevice(context.Background(), other)
	s.Require().Error(err)
	s.ErrorIs(err, adapter.ErrBusy)
	s.Nil(sess)
	s.Equal(1, s.fake.ConnectCalls)
}

func (s *SupervisorSuite) TestTeardownAllowsReselection() {
	first, err := s.sup.SelectDevice(context.Background(), s.dev)
	s.Require().NoError(err)

	s.sup.Teardown()
	s.Equal(session.StateDisconnected, first.State())

	second, err := s.sup.SelectDevice(context.Background(), s.dev)
	s.Require().NoError(err)
	s.NotSame(first, second)
	s.Equal(session.StateStreaming, second.State())
}

func (s *SupervisorSuite) TestFailedSessionIsSuperseded() {
	s.fake.Services = nil

	first, err := s.sup.SelectDevice(context.Background(), s.dev)
	s.Require().Error(err)
	s.Equal(session.StateFailed, first.State())

	s.fake.Services = testutils.SensorServices()
	second, err := s.sup.SelectDevice(context.Background(), s.dev)
	s.Require().NoError(err)
	s.Equal(session.StateStreaming, second.State())
}

func (s *SupervisorSuite) TestTeardownWithoutSessionIsNoop() {
	s.NotPanics(func() { s.sup.Teardown() })
	s.Equal(0, s.fake.DisconnectCalls)
}

func (s *SupervisorSuite) TestScanPopulatesDevices() {
	s.fake.ScanResults = []adapter.ScanResult{
		{Address: "00:80:11:22:33:44", Name: "BioSensor", RSSI: -60},
		{Address: "DC:56:11:22:33:44", Name: "Other", RSSI: -40},
	}

	s.Require().NoError(s.sup.Scan(context.Background(), time.Second))

	s.Require().Eventually(func() bool {
		snap := s.sup.Devices()
		return !snap.Scanning && len(snap.Devices) == 1
	}, time.Second, 5*time.Millisecond)

	snap := s.sup.Devices()
	s.Equal("00:80:11:22:33:44", snap.Devices[0].Address)
}
