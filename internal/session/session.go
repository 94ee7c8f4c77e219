// Package session owns the lifecycle of one device connection: connect,
// service discovery, the two channel subscriptions, streaming and
// teardown. All adapter-facing failures are converted into state
// transitions at this boundary; nothing below it fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/frame"
	"github.com/srg/biotrace/internal/groutine"
	"github.com/srg/biotrace/internal/scan"
	"github.com/srg/biotrace/internal/signal"
	"github.com/srg/biotrace/internal/stream"
)

// Update is one processed sample crossing the presentation boundary.
// Reset marks the sweep-window wraparound that preceded this sample.
type Update struct {
	Channel signal.ChannelID
	Sample  signal.Sample
	Reset   bool
}

// ChannelError surfaces a per-channel subscription failure. The session
// keeps streaming on the surviving channel; see the partial-streaming
// policy on Connect.
type ChannelError struct {
	Channel signal.ChannelID
	Err     error
}

// binding ties a resolved characteristic to its channel configuration.
type binding struct {
	cfg  signal.Config
	char adapter.Characteristic
}

// Session is the connection state machine. Exactly one session is live at
// a time; the supervisor supersedes it on teardown or a new connect
// attempt. The whole state machine is guarded by a single mutex; each
// channel's sample state is guarded by its own processor.
type Session struct {
	ad     adapter.Adapter
	logger *logrus.Logger

	mu          sync.Mutex
	state       State
	addr        string
	subscribed  []binding
	cancelWatch context.CancelFunc
	profile     *orderedmap.OrderedMap[string, adapter.Service]

	procs map[signal.ChannelID]*signal.Processor

	states   *stream.Ring[StateChange]
	updates  *stream.Ring[Update]
	chanErrs *stream.Ring[ChannelError]
}

// New creates an idle session over the given adapter.
func New(ad adapter.Adapter, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	procs := make(map[signal.ChannelID]*signal.Processor)
	for _, cfg := range signal.Channels() {
		procs[cfg.ID] = signal.NewProcessor(cfg)
	}
	return &Session{
		ad:       ad,
		logger:   logger,
		state:    StateIdle,
		procs:    procs,
		states:   stream.NewRing[StateChange](32),
		updates:  stream.NewRing[Update](1024),
		chanErrs: stream.NewRing[ChannelError](8),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session holds transport resources or has an
// operation outstanding.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.active()
}

// States returns the lifecycle transition stream.
func (s *Session) States() <-chan StateChange { return s.states.C() }

// Updates returns the per-sample stream for both channels.
func (s *Session) Updates() <-chan Update { return s.updates.C() }

// ChannelErrors returns the stream of per-channel subscription failures.
func (s *Session) ChannelErrors() <-chan ChannelError { return s.chanErrs.C() }

// Processor returns the channel's processor, for window snapshots.
func (s *Session) Processor(id signal.ChannelID) *signal.Processor {
	return s.procs[id]
}

// Profile returns the discovered services in discovery order. It is nil
// until discovery has completed.
func (s *Session) Profile() *orderedmap.OrderedMap[string, adapter.Service] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Connect drives the session from Idle through Connecting, Discovering and
// Subscribing to Streaming against the given device. A session that is
// already active rejects the call without touching the adapter. A
// transport report of "already connected" counts as success.
//
// Discovery must resolve both channel pairs or the session fails before
// any subscription is made. At the subscription step partial streaming is
// permitted: a per-channel enable failure is logged and surfaced on
// ChannelErrors while the other channel proceeds; only when every channel
// fails does the session fail.
func (s *Session) Connect(ctx context.Context, dev scan.DeviceHandle) error {
	s.mu.Lock()
	if s.state.active() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect %s while %s: %w", dev.Address, state, adapter.ErrBusy)
	}
	s.addr = dev.Address
	s.setStateLocked(StateConnecting, "")
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": dev.Address,
		"name":    dev.DisplayName(),
	}).Info("Connecting to device")

	// Non-auto-reconnecting connection; recovery is the user's decision.
	if err := s.ad.Connect(ctx, dev.Address, false); err != nil {
		if !errors.Is(err, adapter.ErrAlreadyConnected) {
			return s.fail(fmt.Errorf("connect %s: %w", dev.Address, err))
		}
		s.logger.WithField("address", dev.Address).Debug("Transport already connected, continuing")
	}

	s.setState(StateDiscovering, "")
	services, err := s.ad.DiscoverServices(ctx, dev.Address)
	if err != nil {
		s.releaseTransport()
		return s.fail(fmt.Errorf("discover services on %s: %w", dev.Address, err))
	}

	profile := orderedmap.New[string, adapter.Service]()
	for _, svc := range services {
		profile.Set(adapter.NormalizeUUID(svc.UUID), svc)
	}
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()

	bindings, err := resolveChannels(services)
	if err != nil {
		s.releaseTransport()
		return s.fail(err)
	}

	s.setState(StateSubscribing, "")
	var active []binding
	for _, b := range bindings {
		b := b
		err := s.ad.SetNotify(ctx, dev.Address, b.char, true, func(data []byte) {
			s.handleFrame(b.cfg, data)
		})
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"channel":        b.cfg.ID,
				"characteristic": b.char.UUID,
				"error":          err,
			}).Error("Failed to enable channel notifications")
			s.chanErrs.Send(ChannelError{Channel: b.cfg.ID, Err: err})
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"channel":        b.cfg.ID,
			"characteristic": b.char.UUID,
		}).Info("Channel subscription active")
		active = append(active, b)
	}
	if len(active) == 0 {
		s.releaseTransport()
		return s.fail(fmt.Errorf("subscribe on %s: no channel subscription could be established", dev.Address))
	}

	s.mu.Lock()
	s.subscribed = active
	s.mu.Unlock()

	if states, err := s.ad.ConnectionState(dev.Address); err == nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancelWatch = cancel
		s.mu.Unlock()
		groutine.Go(watchCtx, "transport-watch", func(ctx context.Context) {
			s.watchTransport(ctx, states)
		})
	} else {
		s.logger.WithError(err).Warn("Transport state notifications unavailable")
	}

	s.setState(StateStreaming, "")
	return nil
}

// Disconnect cancels the channel subscriptions, then releases the
// transport. It is idempotent and never surfaces an error: subscription
// and transport failures during teardown are logged only. Subscriptions
// are cancelled before the transport is released so no sample event
// arrives after teardown begins.
func (s *Session) Disconnect() {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateDisconnected, StateDisconnecting:
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateDisconnecting, "")
	subs := s.subscribed
	s.subscribed = nil
	addr := s.addr
	cancel := s.cancelWatch
	s.cancelWatch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, b := range subs {
		if err := s.ad.SetNotify(context.Background(), addr, b.char, false, nil); err != nil {
			s.logger.WithFields(logrus.Fields{
				"channel": b.cfg.ID,
				"error":   err,
			}).Warn("Failed to cancel channel subscription")
		}
	}
	if err := s.ad.Disconnect(addr); err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": addr,
			"error":   err,
		}).Warn("Transport disconnect reported an error")
	}

	s.setState(StateDisconnected, "")
	s.logger.WithField("address", addr).Info("Session disconnected")
}

// handleFrame is the per-channel notification path: decode, process,
// publish. The two channels arrive independently and in arbitrary relative
// order; each frame produces exactly one update applied in arrival order
// on its own channel.
func (s *Session) handleFrame(cfg signal.Config, data []byte) {
	raw := frame.Decode(data, cfg.Signed)
	sample, reset := s.procs[cfg.ID].Ingest(raw)
	s.updates.Send(Update{Channel: cfg.ID, Sample: sample, Reset: reset})
}

// watchTransport observes transport-level state changes while streaming.
// An external disconnect, as opposed to an explicit Disconnect call, moves
// the session to Disconnected so the supervisor can return the user to
// device selection.
func (s *Session) watchTransport(ctx context.Context, states <-chan adapter.ConnState) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if st != adapter.Disconnected {
				continue
			}
			s.mu.Lock()
			if s.state != StateStreaming && s.state != StateSubscribing {
				s.mu.Unlock()
				return
			}
			s.subscribed = nil
			s.cancelWatch = nil
			s.setStateLocked(StateDisconnected, "connection lost")
			s.mu.Unlock()
			s.logger.WithField("address", s.addr).Warn("Transport connection lost")
			return
		}
	}
}

func (s *Session) fail(err error) error {
	s.setState(StateFailed, err.Error())
	s.logger.WithError(err).Error("Session failed")
	return err
}

// releaseTransport is the cleanup path for failures after Connecting: no
// subscriptions exist yet, only the transport connection is held.
func (s *Session) releaseTransport() {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	if err := s.ad.Disconnect(addr); err != nil {
		s.logger.WithError(err).Debug("Transport release reported an error")
	}
}

func (s *Session) setState(state State, reason string) {
	s.mu.Lock()
	s.setStateLocked(state, reason)
	s.mu.Unlock()
}

func (s *Session) setStateLocked(state State, reason string) {
	if s.state == state {
		return
	}
	s.state = state
	s.states.Send(StateChange{State: state, Reason: reason})
}

// resolveChannels locates both channel characteristic pairs by
// case-insensitive substring containment against the adapter-reported
// UUIDs. Both pairs must resolve; a missing one aborts before any
// subscription is attempted.
func resolveChannels(services []adapter.Service) ([]binding, error) {
	var bindings []binding
	for _, cfg := range signal.Channels() {
		svc, ok := findService(services, cfg.ServiceUUID)
		if !ok {
			return nil, fmt.Errorf("resolve %s channel: %w", cfg.ID,
				&adapter.NotFoundError{Resource: "service", UUIDs: []string{cfg.ServiceUUID}})
		}
		char, ok := findCharacteristic(svc, cfg.CharUUID)
		if !ok {
			return nil, fmt.Errorf("resolve %s channel: %w", cfg.ID,
				&adapter.NotFoundError{Resource: "characteristic", UUIDs: []string{cfg.ServiceUUID, cfg.CharUUID}})
		}
		bindings = append(bindings, binding{cfg: cfg, char: char})
	}
	return bindings, nil
}

func findService(services []adapter.Service, fragment string) (adapter.Service, bool) {
	for _, svc := range services {
		if strings.Contains(strings.ToLower(svc.UUID), fragment) {
			return svc, true
		}
	}
	return adapter.Service{}, false
}

func findCharacteristic(svc adapter.Service, fragment string) (adapter.Characteristic, bool) {
	for _, char := range svc.Characteristics {
		if strings.Contains(strings.ToLower(char.UUID), fragment) {
			return char, true
		}
	}
	return adapter.Characteristic{}, false
}
