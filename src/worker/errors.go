package worker

import (
	"errors"
	"fmt"

	"github.com/jacokyle01/remote-uci/src/models"
)

var (
	// ErrHandshakeTimeout means uciok or readyok did not arrive in time.
	ErrHandshakeTimeout = errors.New("engine handshake timed out")
	// ErrWatchdogTimeout means a search did not end with bestmove in time.
	ErrWatchdogTimeout = errors.New("engine did not answer stop")
	// ErrMalformedRequest rejects a request before it reaches the engine.
	ErrMalformedRequest = errors.New("malformed analysis request")
	// ErrRelayDisconnected cancels sessions whose originator went away.
	ErrRelayDisconnected = errors.New("relay disconnected")
	// ErrOffline is returned once the restart budget is exhausted.
	ErrOffline = errors.New("provider offline")
	// ErrNotRunning is returned when sending to an exited engine.
	ErrNotRunning = errors.New("engine not running")
	// ErrBridgeStopped is returned by Submit and Cancel after Run returned.
	ErrBridgeStopped = errors.New("bridge stopped")
)

// SpawnError means the engine executable could not be started at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn engine %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessExited reports the end of an engine process.
type ProcessExited struct {
	Code int
	Err  error
}

func (e *ProcessExited) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine exited with code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("engine exited with code %d", e.Code)
}

func (e *ProcessExited) Unwrap() error { return e.Err }

// errorTag maps an error to the tag reported to the relay.
func errorTag(err error) models.ErrorTag {
	var exited *ProcessExited
	switch {
	case errors.As(err, &exited):
		return models.ErrProcessExited
	case errors.Is(err, ErrHandshakeTimeout):
		return models.ErrHandshakeTimeout
	case errors.Is(err, ErrWatchdogTimeout):
		return models.ErrWatchdogTimeout
	case errors.Is(err, ErrMalformedRequest):
		return models.ErrMalformedRequest
	case errors.Is(err, ErrRelayDisconnected):
		return models.ErrRelayDisconnected
	case errors.Is(err, ErrOffline):
		return models.ErrOffline
	}
	return models.ErrProcessExited
}
