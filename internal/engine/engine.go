// Package engine is the boundary to the browser automation engine. The
// orchestrator drives a browser through these interfaces and receives its
// events on an events.Dispatcher.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/usepotato/potato/internal/events"
)

var (
	ErrDetached        = errors.New("browser detached")
	ErrElementNotFound = errors.New("element not found")
	ErrUnknownCommand  = errors.New("unknown command")
)

// Engine attaches to a running browser by its debugger websocket URL.
// Events from the browser and every page it hosts are dispatched on d until
// the Browser is closed or the connection drops, at which point a single
// events.EventDisconnected is dispatched.
type Engine interface {
	Connect(ctx context.Context, wsURL string, d events.Dispatcher) (Browser, error)
}

type Browser interface {
	// Pages lists open page targets.
	Pages(ctx context.Context) ([]Page, error)
	NewPage(ctx context.Context, url string) (Page, error)

	// Close detaches from the browser without terminating it.
	Close() error
}

type Page interface {
	TargetID() string
	URL(ctx context.Context) (string, error)

	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// NavigateIdle loads url and waits until the network is quiet.
	NavigateIdle(ctx context.Context, url string) error
	WaitElement(ctx context.Context, selector string) error

	// Evaluate calls the JavaScript function fn with args and returns its
	// JSON encoded result. Promises are awaited.
	Evaluate(ctx context.Context, fn string, args ...any) (json.RawMessage, error)

	// Expose installs a global function name that forwards its first
	// argument as a string to fn. Exposing the same name twice on one page
	// is a no-op.
	Expose(ctx context.Context, name string, fn func(payload string)) error

	Apply(ctx context.Context, cmd Command) error
	ClearBrowserData(ctx context.Context) error
	Close(ctx context.Context) error
}
