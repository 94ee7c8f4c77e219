package main

import (
	"errors"

	"github.com/srg/biotrace/internal/adapter"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost
	// during streaming. This is distinct from adapter.ErrNotConnected,
	// which indicates an attempt to use a device that was never connected
	// or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// formatUserError translates internal errors into messages suitable for
// the terminal.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, adapter.ErrNotConnected):
		return "device is not connected"
	case errors.Is(err, adapter.ErrAlreadyConnected):
		return "device is already connected"
	case errors.Is(err, adapter.ErrBusy):
		return "another session is active; disconnect it first"
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	}

	var notFound *adapter.NotFoundError
	if errors.As(err, &notFound) {
		return "the device does not expose the expected sensor profile: " + notFound.Error()
	}
	return err.Error()
}
