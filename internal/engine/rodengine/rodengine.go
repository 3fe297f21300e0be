// Package rodengine implements engine.Engine on top of go-rod.
package rodengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"github.com/usepotato/potato/internal/engine"
	"github.com/usepotato/potato/internal/events"
)

type Engine struct {
	// IdleWindow is how long the network must be quiet for NavigateIdle.
	IdleWindow time.Duration
}

func New() *Engine {
	return &Engine{IdleWindow: 500 * time.Millisecond}
}

func (e *Engine) Connect(ctx context.Context, wsURL string, d events.Dispatcher) (engine.Browser, error) {
	ws, err := dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	// the attachment outlives the call that created it
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	rb := rod.New().Client(cdp.New().Start(ws)).Context(bctx)
	if err := rb.Connect(); err != nil {
		cancel()
		ws.Close()
		return nil, fmt.Errorf("attach to browser: %w", err)
	}

	b := &browser{
		rb:      rb,
		ws:      ws,
		cancel:  cancel,
		d:       d,
		idle:    e.IdleWindow,
		exposed: make(map[string]bool),
		watched: make(map[proto.TargetTargetID]bool),
		log:     logrus.WithField("component", "rodengine"),
	}
	b.listen()
	return b, nil
}

type browser struct {
	rb     *rod.Browser
	ws     *conn
	cancel context.CancelFunc
	d      events.Dispatcher
	idle   time.Duration
	log    *logrus.Entry

	mu      sync.Mutex
	exposed map[string]bool
	watched map[proto.TargetTargetID]bool
	closed  bool
}

func (b *browser) listen() {
	messages := b.rb.Event()
	go func() {
		for range messages {
		}
		b.log.Info("browser connection closed")
		b.d.Dispatch(events.Event{Type: events.EventDisconnected, Timestamp: time.Now()})
	}()

	// pages that already exist never produce a target created event
	if pages, err := b.rb.Pages(); err == nil {
		for _, p := range pages {
			b.watch(p)
		}
	}

	wait := b.rb.EachEvent(func(e *proto.TargetTargetCreated) {
		info := e.TargetInfo
		if info.Type == proto.TargetTargetInfoTypePage {
			p, err := b.rb.PageFromTarget(info.TargetID)
			if err != nil {
				b.log.WithError(err).WithField("target_id", info.TargetID).Warn("failed to attach to new page")
			} else {
				b.watch(p)
			}
		}
		b.d.Dispatch(events.Event{
			Type:       events.EventTargetCreated,
			TargetID:   string(info.TargetID),
			TargetType: string(info.Type),
			URL:        info.URL,
			Timestamp:  time.Now(),
		})
	})
	go wait()
}

func (b *browser) Pages(ctx context.Context) ([]engine.Page, error) {
	if b.isClosed() {
		return nil, engine.ErrDetached
	}
	pages, err := b.rb.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	out := make([]engine.Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, &page{b: b, p: p})
	}
	return out, nil
}

func (b *browser) NewPage(ctx context.Context, url string) (engine.Page, error) {
	if b.isClosed() {
		return nil, engine.ErrDetached
	}
	if url == "" {
		url = "about:blank"
	}

	// created on the browser context so page listeners survive ctx
	p, err := b.rb.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	b.watch(p)
	return &page{b: b, p: p}, nil
}

func (b *browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	return b.ws.Close()
}

func (b *browser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
