package orchestrator

import "errors"

var (
	ErrNotConnected        = errors.New("browser not connected")
	ErrEndpointUnreachable = errors.New("browser debug endpoint unreachable")
	ErrLaunchInProgress    = errors.New("launch already in progress")
	ErrShuttingDown        = errors.New("worker shutting down")
	ErrNoPage              = errors.New("no managed page")
	ErrInvalidSession      = errors.New("invalid browser session id")
	ErrSessionMismatch     = errors.New("browser session is not active on this worker")
	ErrUnknownUpdate       = errors.New("unknown update type")
	ErrInvalidUpdate       = errors.New("invalid update data")
	ErrResourceNotFound    = errors.New("resource not found")
)
