// Package registry advertises worker availability in a shared store.
//
// Each worker owns the record browser:<worker id> holding its state and
// base URL, and is a member of browser:available exactly while that state
// is available. Offline workers have no record.
package registry

import (
	"context"
	"encoding/json"
	"errors"
)

type State string

const (
	StateAvailable State = "available"
	StateBusy      State = "busy"
	StateOffline   State = "offline"
)

const (
	keyPrefix    = "browser:"
	AvailableKey = "browser:available"
)

var ErrNotFound = errors.New("worker not registered")

type Entry struct {
	BaseURL string `json:"base_url"`
	State   State  `json:"state"`
}

func (e Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Entry) Unmarshal(data []byte) error {
	return json.Unmarshal(data, e)
}

// Registry is the availability projection. Every transition is applied
// atomically for a single worker.
type Registry interface {
	MarkAvailable(ctx context.Context, workerID, baseURL string) error
	MarkBusy(ctx context.Context, workerID, baseURL string) error
	MarkOffline(ctx context.Context, workerID string) error

	Lookup(ctx context.Context, workerID string) (Entry, error)
	IsAvailable(ctx context.Context, workerID string) (bool, error)

	Close() error
}

func Key(workerID string) string {
	return keyPrefix + workerID
}
