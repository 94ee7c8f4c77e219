// Package supervisor coordinates device discovery and the single live
// connection session. It enforces the one-session policy: a new selection
// is rejected while a session is active, and teardown returns the
// application to device selection.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/biotrace/internal/adapter"
	"github.com/srg/biotrace/internal/scan"
	"github.com/srg/biotrace/internal/session"
	"github.com/srg/biotrace/internal/signal"
)

// Supervisor owns the scan coordinator and at most one live session.
type Supervisor struct {
	ad     adapter.Adapter
	logger *logrus.Logger
	coord  *scan.Coordinator

	// current is replaced, never mutated. SelectDevice and Teardown
	// arrive from the single UI loop.
	current *session.Session
}

// New creates a Supervisor scanning with the given address prefix (empty
// selects the default).
func New(ad adapter.Adapter, prefix string, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Supervisor{
		ad:     ad,
		logger: logger,
		coord:  scan.NewCoordinator(ad, prefix, logger),
	}
}

// Scan starts a candidate discovery scan. A scan already in progress makes
// this a no-op.
func (s *Supervisor) Scan(ctx context.Context, timeout time.Duration) error {
	return s.coord.StartScan(ctx, timeout)
}

// Devices returns the current candidate snapshot.
func (s *Supervisor) Devices() scan.Snapshot {
	return s.coord.Snapshot()
}

// Snapshots returns the candidate snapshot stream.
func (s *Supervisor) Snapshots() <-chan scan.Snapshot {
	return s.coord.Snapshots()
}

// Session returns the current session, or nil before the first selection.
func (s *Supervisor) Session() *session.Session {
	return s.current
}

// SelectDevice connects a new session to the chosen candidate. While a
// session is active the selection is rejected without touching the
// transport; the caller must Teardown first. A failed or disconnected
// session is superseded by the new one.
//
// The returned session is valid even when Connect failed, so the caller
// can inspect its terminal state.
func (s *Supervisor) SelectDevice(ctx context.Context, dev scan.DeviceHandle) (*session.Session, error) {
	if s.current != nil && s.current.Active() {
		return nil, fmt.Errorf("select %s while a session is %s: %w",
			dev.Address, s.current.State(), adapter.ErrBusy)
	}

	sess := session.New(s.ad, s.logger)
	s.current = sess
	if err := sess.Connect(ctx, dev); err != nil {
		return sess, err
	}
	return sess, nil
}

// Teardown disconnects the current session, if any. It is safe to call at
// any time, including with no session.
func (s *Supervisor) Teardown() {
	if s.current == nil {
		return
	}
	s.current.Disconnect()
}

// Processor exposes the current session's processor for the channel, or
// nil with no session.
func (s *Supervisor) Processor(id signal.ChannelID) *signal.Processor {
	if s.current == nil {
		return nil
	}
	return s.current.Processor(id)
}
