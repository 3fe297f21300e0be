// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/usepotato/potato/internal/engine"
	"github.com/usepotato/potato/internal/events"
)

type Engine struct {
	mu       sync.Mutex
	err      error
	browsers []*Browser

	// Script, when set, answers every Evaluate on pages of new browsers.
	Script func(p *Page, fn string, args []any) (json.RawMessage, error)
}

func New() *Engine {
	return &Engine{}
}

// FailConnect makes subsequent Connect calls return err. Pass nil to
// recover.
func (e *Engine) FailConnect(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *Engine) Connect(ctx context.Context, wsURL string, d events.Dispatcher) (engine.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	b := &Browser{
		wsURL:  wsURL,
		d:      d,
		script: e.Script,
	}
	e.browsers = append(e.browsers, b)
	return b, nil
}

func (e *Engine) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.browsers)
}

// Browser returns the most recently attached browser, or nil.
func (e *Engine) Browser() *Browser {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.browsers) == 0 {
		return nil
	}
	return e.browsers[len(e.browsers)-1]
}

type Browser struct {
	wsURL  string
	d      events.Dispatcher
	script func(p *Page, fn string, args []any) (json.RawMessage, error)

	mu      sync.Mutex
	pages   []*Page
	nextID  int
	cleared int
	closed  bool
}

func (b *Browser) WebSocketURL() string { return b.wsURL }

func (b *Browser) Pages(ctx context.Context) ([]engine.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, engine.ErrDetached
	}
	out := make([]engine.Page, len(b.pages))
	for i, p := range b.pages {
		out[i] = p
	}
	return out, nil
}

func (b *Browser) NewPage(ctx context.Context, url string) (engine.Page, error) {
	p, err := b.OpenPage(url)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OpenPage opens a page the way a popup would and reports its target.
func (b *Browser) OpenPage(url string) (*Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, engine.ErrDetached
	}
	if url == "" {
		url = "about:blank"
	}
	b.nextID++
	p := &Page{
		b:       b,
		id:      fmt.Sprintf("page-%d", b.nextID),
		url:     url,
		exposed: make(map[string]func(string)),
	}
	b.pages = append(b.pages, p)
	b.mu.Unlock()

	b.d.Dispatch(events.Event{
		Type:       events.EventTargetCreated,
		TargetID:   p.id,
		TargetType: "page",
		URL:        url,
		Timestamp:  time.Now(),
	})
	return p, nil
}

// OpenTarget reports a non-page target such as a service worker.
func (b *Browser) OpenTarget(targetType string) {
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("%s-%d", targetType, b.nextID)
	b.mu.Unlock()

	b.d.Dispatch(events.Event{Type: events.EventTargetCreated, TargetID: id, TargetType: targetType, Timestamp: time.Now()})
}

// Respond reports a network response observed on page.
func (b *Browser) Respond(p *Page, url string, body []byte, contentType string) {
	b.d.Dispatch(events.Event{
		Type:        events.EventResponse,
		TargetID:    p.id,
		URL:         url,
		Body:        body,
		ContentType: contentType,
		Timestamp:   time.Now(),
	})
}

// Crash simulates the browser process going away.
func (b *Browser) Crash() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.d.Dispatch(events.Event{Type: events.EventDisconnected, Timestamp: time.Now()})
}

func (b *Browser) Close() error {
	b.Crash()
	return nil
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// OpenPages returns the pages currently open.
func (b *Browser) OpenPages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

func (b *Browser) Cleared() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleared
}

func (b *Browser) remove(p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, q := range b.pages {
		if q == p {
			b.pages = append(b.pages[:i:i], b.pages[i+1:]...)
			return
		}
	}
}

type Evaluation struct {
	Fn   string
	Args []any
}

type Page struct {
	b  *Browser
	id string

	mu          sync.Mutex
	url         string
	closed      bool
	navigations []string
	evaluations []Evaluation
	commands    []engine.Command
	exposed     map[string]func(string)
	applyErr    error
}

var ErrPageClosed = errors.New("page closed")

func (p *Page) TargetID() string { return p.id }

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrPageClosed
	}
	return p.url, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	p.url = url
	p.navigations = append(p.navigations, url)
	p.mu.Unlock()

	p.b.d.Dispatch(events.Event{
		Type:      events.EventFrameNavigated,
		TargetID:  p.id,
		FrameID:   p.id + "-main",
		MainFrame: true,
		URL:       url,
		Timestamp: time.Now(),
	})
	return nil
}

func (p *Page) NavigateIdle(ctx context.Context, url string) error {
	return p.Navigate(ctx, url)
}

// NavigateSubframe reports a navigation of a child frame.
func (p *Page) NavigateSubframe(url string) {
	p.b.d.Dispatch(events.Event{
		Type:      events.EventFrameNavigated,
		TargetID:  p.id,
		FrameID:   p.id + "-child",
		URL:       url,
		Timestamp: time.Now(),
	})
}

func (p *Page) WaitElement(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPageClosed
	}
	p.evaluations = append(p.evaluations, Evaluation{Fn: fn, Args: args})
	p.mu.Unlock()

	if p.b.script != nil {
		return p.b.script(p, fn, args)
	}
	return json.RawMessage("null"), nil
}

func (p *Page) Expose(ctx context.Context, name string, fn func(payload string)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	if _, ok := p.exposed[name]; !ok {
		p.exposed[name] = fn
	}
	return nil
}

// Call invokes an exposed function as page script would. It reports false
// when name was never exposed.
func (p *Page) Call(name, payload string) bool {
	p.mu.Lock()
	fn, ok := p.exposed[name]
	p.mu.Unlock()
	if !ok {
		return false
	}
	fn(payload)
	return true
}

func (p *Page) Exposed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.exposed[name]
	return ok
}

// Apply records cmd. A successful navigate command reports a main frame
// navigation like Navigate does.
func (p *Page) Apply(ctx context.Context, cmd engine.Command) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	p.commands = append(p.commands, cmd)
	err := p.applyErr
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if cmd.Kind == engine.CommandNavigate {
		return p.Navigate(ctx, cmd.URL)
	}
	return nil
}

// FailApply makes Apply record the command and return err.
func (p *Page) FailApply(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyErr = err
}

func (p *Page) ClearBrowserData(ctx context.Context) error {
	p.b.mu.Lock()
	p.b.cleared++
	p.b.mu.Unlock()
	return nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.b.remove(p)
	return nil
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Evaluations() []Evaluation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Evaluation(nil), p.evaluations...)
}

func (p *Page) Commands() []engine.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Command(nil), p.commands...)
}

// SetURL changes the page location without reporting a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}
