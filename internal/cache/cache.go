// Package cache holds network responses observed on the current page so
// static resources can be served back to the operator.
package cache

import (
	"sync"
)

const DefaultContentType = "application/octet-stream"

type Entry struct {
	Body        []byte
	ContentType string
}

// Responses is keyed by absolute URL. The zero value is ready to use.
type Responses struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Responses {
	return &Responses{entries: make(map[string]Entry)}
}

// Put stores body under url. Empty bodies are ignored so they never shadow a
// later real response.
func (r *Responses) Put(url string, body []byte, contentType string) bool {
	if url == "" || len(body) == 0 {
		return false
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]Entry)
	}
	r.entries[url] = Entry{Body: body, ContentType: contentType}
	return true
}

// Get returns the entry for url when one with a non-empty body exists.
func (r *Responses) Get(url string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[url]
	if !ok || len(e.Body) == 0 {
		return Entry{}, false
	}
	return e, true
}

func (r *Responses) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
}

func (r *Responses) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
