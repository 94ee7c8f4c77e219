package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/scan"
	"github.com/srg/biotrace/internal/session"
	"github.com/srg/biotrace/internal/signal"
	"github.com/srg/biotrace/internal/testutils"
)

type SessionSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	fake   *testutils.FakeAdapter
	sess   *session.Session
	dev    scan.DeviceHandle
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.fake = testutils.NewFakeAdapter()
	s.fake.Services = testutils.SensorServices()
	s.sess = session.New(s.fake, s.helper.Logger)
	s.dev = scan.DeviceHandle{Address: "00:80:12:34:56:78", Name: "BioSensor"}
}

func (s *SessionSuite) drainStates() []session.StateChange {
	var changes []session.StateChange
	for {
		select {
		case sc := <-s.sess.States():
			changes = append(changes, sc)
		default:
			return changes
		}
	}
}

func (s *SessionSuite) TestConnectReachesStreaming() {
	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().NoError(err)
	s.Equal(session.StateStreaming, s.sess.State())
	s.True(s.sess.Active())
	s.Equal(2, s.fake.SubscribedCount())

	var states []session.State
	for _, sc := range s.drainStates() {
		states = append(states, sc.State)
	}
	s.Equal([]session.State{
		session.StateConnecting,
		session.StateDiscovering,
		session.StateSubscribing,
		session.StateStreaming,
	}, states)
}

func (s *SessionSuite) TestAlreadyConnectedTransportCountsAsSuccess() {
	s.fake.ConnectErr = adapter.NormalizeError(errors.New("ble: already connected to 00:80:12:34:56:78"))

	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().NoError(err)
	s.Equal(session.StateStreaming, s.sess.State())
}

func (s *SessionSuite) TestConnectRejectedWhileActive() {
	s.Require().NoError(s.sess.Connect(context.Background(), s.dev))

	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().Error(err)
	s.ErrorIs(err, adapter.ErrBusy)
	s.Equal(1, s.fake.ConnectCalls, "second connect must not touch the transport")
	s.Equal(session.StateStreaming, s.sess.State())
}

func (s *SessionSuite) TestMissingServiceFailsBeforeSubscribing() {
	s.fake.Services = testutils.SensorServices()[:1] // PPG only

	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().Error(err)

	var notFound *adapter.NotFoundError
	s.ErrorAs(err, &notFound)
	s.Equal(session.StateFailed, s.sess.State())
	s.False(s.sess.Active())
	s.Equal(0, s.fake.SubscribeCalls, "no subscription may be attempted on a partial profile")
	s.Equal(1, s.fake.DisconnectCalls, "transport must be released on failure")
}

func (s *SessionSuite) TestDiscoveryFailureReleasesTransport() {
	s.fake.DiscoverErr = errors.New("att timeout")

	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().Error(err)
	s.Equal(session.StateFailed, s.sess.State())
	s.Equal(1, s.fake.DisconnectCalls)
}

func (s *SessionSuite) TestPartialStreamingOnChannelFailure() {
	s.fake.NotifyErrs = map[string]error{
		testutils.ECGCharUUID: errors.New("cccd write rejected"),
	}

	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().NoError(err, "one surviving channel keeps the session alive")
	s.Equal(session.StateStreaming, s.sess.State())
	s.True(s.fake.Subscribed(testutils.PPGCharUUID))
	s.False(s.fake.Subscribed(testutils.ECGCharUUID))

	select {
	case ce := <-s.sess.ChannelErrors():
		s.Equal(signal.ECG, ce.Channel)
		s.ErrorContains(ce.Err, "cccd write rejected")
	default:
		s.Fail("expected a channel error to be surfaced")
	}
}

func (s *SessionSuite) TestAllChannelsFailingFailsSession() {
	s.fake.NotifyErrs = map[string]error{
		testutils.ECGCharUUID: errors.New("cccd write rejected"),
		testutils.PPGCharUUID: errors.New("cccd write rejected"),
	}

	err := s.sess.Connect(context.Background(), s.dev)
	s.Require().Error(err)
	s.Equal(session.StateFailed, s.sess.State())
	s.Equal(1, s.fake.DisconnectCalls)
}

func (s *SessionSuite) TestNotificationsFlowThroughProcessing() {
	s.Require().NoError(s.sess.Connect(context.Background(), s.dev))

	// ECG frames are signed; 0xFF 0xF6 is -10 at scale 1.
	s.Require().True(s.fake.Notify(testutils.ECGCharUUID, []byte{0xFF, 0xF6}))
	// PPG frames are unsigned; 500 * 0.002 = 1.0.
	s.Require().True(s.fake.Notify(testutils.PPGCharUUID, []byte{0x01, 0xF4}))

	got := map[signal.ChannelID]session.Update{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-s.sess.Updates():
			got[u.Channel] = u
		case <-time.After(time.Second):
			s.FailNow("timed out waiting for sample updates")
		}
	}
	s.InDelta(-10.0, got[signal.ECG].Sample.Value, 1e-9)
	s.InDelta(1.0, got[signal.PPG].Sample.Value, 1e-9)
	s.Equal(1, got[signal.ECG].Sample.Pos, "first sample lands at position 1")
	s.Equal(1, got[signal.PPG].Sample.Pos)
}

func (s *SessionSuite) TestDisconnectIsIdempotent() {
	s.Require().NoError(s.sess.Connect(context.Background(), s.dev))

	s.sess.Disconnect()
	s.Equal(session.StateDisconnected, s.sess.State())
	s.Equal(0, s.fake.SubscribedCount(), "subscriptions must be cancelled before transport release")
	s.Equal(1, s.fake.DisconnectCalls)

	s.sess.Disconnect()
	s.Equal(1, s.fake.DisconnectCalls, "repeated disconnect must be a no-op")
}

func (s *SessionSuite) TestDisconnectSwallowsTransportErrors() {
	s.Require().NoError(s.sess.Connect(context.Background(), s.dev))
	s.fake.DisconnectErr = errors.New("hci device gone")

	s.sess.Disconnect()
	s.Equal(session.StateDisconnected, s.sess.State())
}

func (s *SessionSuite) TestExternalDisconnectSurfacesConnectionLost() {
	s.Require().NoError(s.sess.Connect(context.Background(), s.dev))
	_ = s.drainStates()

	s.fake.ReportDisconnect()

	s.Require().Eventually(func() bool {
		return s.sess.State() == session.StateDisconnected
	}, time.Second, 5*time.Millisecond)

	var last session.StateChange
	for _, sc := range s.drainStates() {
		last = sc
	}
	s.Equal(session.StateDisconnected, last.State)
	s.Equal("connection lost", last.Reason)
	s.False(s.sess.Active())
}

func (s *SessionSuite) TestProfileKeepsDiscoveryOrder() {
	s.Require().NoError(s.sess.Connect(context.Background(), s.dev))

	profile := s.sess.Profile()
	s.Require().NotNil(profile)

	var uuids []string
	for pair := profile.Oldest(); pair != nil; pair = pair.Next() {
		uuids = append(uuids, pair.Key)
	}
	s.Equal([]string{
		"0000aa0000001000800000805f9b34fb",
		"0000aa2000001000800000805f9b34fb",
	}, uuids)
}
