// Package orchestrator keeps one browser process, its availability record,
// and at most one operator session consistent with each other.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/usepotato/potato/internal/cache"
	"github.com/usepotato/potato/internal/engine"
	"github.com/usepotato/potato/internal/events"
	"github.com/usepotato/potato/internal/registry"
	"github.com/usepotato/potato/internal/scripts"
	"github.com/usepotato/potato/internal/webflow"
)

const (
	EventBrowserUpdate        = "browser-update"
	EventBrowserServiceUpdate = "browser-service-update"

	bridgeName = "shinpadsUpdate"
)

// Publisher delivers named events to a subscriber. Sends to an absent
// subscriber are dropped without error.
type Publisher interface {
	Emit(ctx context.Context, event string, payload any, to string) error
	Disconnect(ctx context.Context, to string) error
}

type Options struct {
	WorkerID   string
	BaseURL    string
	BrowserURL string
	BlankURL   string

	IdleTimeout          time.Duration
	WatchdogInterval     time.Duration
	CommandTimeout       time.Duration
	ResourcePollInterval time.Duration
	ResourcePollAttempts int

	// Instrumentation is evaluated in every main frame after the helper
	// script. Empty selects the built-in script.
	Instrumentation string

	// Discover resolves BrowserURL to a debugger websocket URL.
	Discover func(ctx context.Context, browserURL string) (string, error)
	Now      func() time.Time
	Runner   *webflow.Runner
}

func (o *Options) setDefaults() {
	if o.BrowserURL == "" {
		o.BrowserURL = "http://127.0.0.1:9222"
	}
	if o.WorkerID == "" {
		o.WorkerID = WorkerID(o.BaseURL)
	}
	if o.BlankURL == "" {
		o.BlankURL = "https://google.com"
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 15 * time.Second
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 10 * time.Second
	}
	if o.ResourcePollInterval <= 0 {
		o.ResourcePollInterval = 200 * time.Millisecond
	}
	if o.ResourcePollAttempts <= 0 {
		o.ResourcePollAttempts = 15
	}
	if o.Instrumentation == "" {
		o.Instrumentation, _ = scripts.LoadInstrumentation("")
	}
	if o.Discover == nil {
		o.Discover = func(ctx context.Context, browserURL string) (string, error) {
			info, err := engine.GetBrowserInfo(ctx, browserURL)
			if err != nil {
				return "", err
			}
			return info.WebSocketURL, nil
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Runner == nil {
		o.Runner = webflow.NewRunner(nil)
	}
}

// WorkerID derives the registry identifier from the worker's URL.
func WorkerID(url string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(url)
}

type Worker struct {
	opts     Options
	engine   engine.Engine
	registry registry.Registry
	pub      Publisher
	cache    *cache.Responses
	tasks    *events.TaskSet
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	relay     chan relayItem
	relayQuit chan struct{}
	relayDone chan struct{}

	launching atomic.Bool

	// transition serializes session transitions and the attach sequence
	// that advertises the worker. Held across engine and registry calls;
	// never taken while holding mu.
	transition sync.Mutex

	mu           sync.Mutex
	current      *attachment
	connected    bool
	shuttingDown bool
	sessionID    string
	subscriberID string
	detachedAt   time.Time

	// lastSubscriberID is the subscriber that most recently detached from
	// the running session.
	lastSubscriberID string

	watchdogOnce   sync.Once
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

func New(eng engine.Engine, reg registry.Registry, pub Publisher, opts Options) *Worker {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		opts:      opts,
		engine:    eng,
		registry:  reg,
		pub:       pub,
		cache:     cache.New(),
		tasks:     events.NewTaskSet("worker"),
		log:       logrus.WithField("component", "orchestrator").WithField("worker_id", opts.WorkerID),
		ctx:       ctx,
		cancel:    cancel,
		relay:     make(chan relayItem, relayBuffer),
		relayQuit: make(chan struct{}),
		relayDone: make(chan struct{}),
	}
	go w.runRelay()
	return w
}

func (w *Worker) ID() string      { return w.opts.WorkerID }
func (w *Worker) BaseURL() string { return w.opts.BaseURL }

func (w *Worker) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Start attaches to the browser and starts the watchdog. The watchdog runs
// even when the first attach fails so it can keep retrying.
func (w *Worker) Start(ctx context.Context) error {
	err := w.Launch(ctx)
	w.ensureWatchdog()
	return err
}

// attachment is one connection to the browser together with the handlers
// registered for it. Events from a replaced attachment are ignored.
type attachment struct {
	browser    engine.Browser
	dispatcher events.Dispatcher
	handlers   map[events.EventType]events.HandlerID
	once       sync.Once
}

func (a *attachment) unregister() {
	a.once.Do(func() {
		for t, id := range a.handlers {
			a.dispatcher.Unregister(t, id)
		}
	})
}

func (w *Worker) isCurrent(att *attachment) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current == att
}

// Launch resolves the debug endpoint, attaches, installs hooks, resets the
// browser to a single blank page and advertises the worker as available.
func (w *Worker) Launch(ctx context.Context) error {
	if !w.launching.CompareAndSwap(false, true) {
		return ErrLaunchInProgress
	}
	defer w.launching.Store(false)

	w.mu.Lock()
	shutting, connected := w.shuttingDown, w.connected
	w.mu.Unlock()
	if shutting {
		return ErrShuttingDown
	}
	if connected {
		return nil
	}

	launchesTotal.Inc()
	log := w.log.WithField("browser_url", w.opts.BrowserURL)
	log.Info("fetching browser data")

	wsURL, err := w.opts.Discover(ctx, w.opts.BrowserURL)
	if err != nil {
		launchFailures.WithLabelValues("discover").Inc()
		log.WithError(err).Warn("could not find browser")
		return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}

	att := &attachment{
		dispatcher: events.NewDispatcher(w.tasks),
		handlers:   make(map[events.EventType]events.HandlerID),
	}
	att.handlers[events.EventDisconnected] = att.dispatcher.Register(events.EventDisconnected, func(events.Event) {
		w.handleDisconnect(w.ctx, att)
	})
	att.handlers[events.EventTargetCreated] = att.dispatcher.Register(events.EventTargetCreated, func(e events.Event) {
		w.onTargetCreated(att, e)
	})
	att.handlers[events.EventResponse] = att.dispatcher.Register(events.EventResponse, func(e events.Event) {
		w.onResponse(att, e)
	})
	att.handlers[events.EventFrameNavigated] = att.dispatcher.Register(events.EventFrameNavigated, func(e events.Event) {
		w.onFrameNavigated(att, e)
	})

	b, err := w.engine.Connect(ctx, wsURL, att.dispatcher)
	if err != nil {
		att.unregister()
		launchFailures.WithLabelValues("connect").Inc()
		log.WithError(err).Warn("failed to connect to browser")
		return fmt.Errorf("connect: %w", err)
	}
	att.browser = b

	w.transition.Lock()
	defer w.transition.Unlock()

	w.mu.Lock()
	if w.shuttingDown {
		w.mu.Unlock()
		att.unregister()
		b.Close()
		return ErrShuttingDown
	}
	w.current = att
	w.connected = true
	w.mu.Unlock()
	browserConnected.Set(1)

	log = log.WithField("ws_url", wsURL)
	log.Info("connected to browser")

	if err := w.resetPages(ctx, b, true); err != nil {
		launchFailures.WithLabelValues("reset").Inc()
		log.WithError(err).Error("failed to prepare browser, detaching")
		w.detach(att)
		return err
	}

	if err := w.registry.MarkAvailable(ctx, w.opts.WorkerID, w.opts.BaseURL); err != nil {
		log.WithError(err).Error("failed to mark worker available")
	}

	w.ensureWatchdog()
	w.updateStateGauge()
	log.Info("browser started")
	return nil
}

// resetPages closes every page and opens one fresh page on the blank URL.
func (w *Worker) resetPages(ctx context.Context, b engine.Browser, clear bool) error {
	if err := w.closePages(ctx, b); err != nil {
		return err
	}

	page, err := b.NewPage(ctx, "")
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	if clear {
		if err := page.ClearBrowserData(ctx); err != nil {
			w.log.WithError(err).Warn("failed to clear browser data")
		}
	}
	if err := page.Navigate(ctx, w.opts.BlankURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", w.opts.BlankURL, err)
	}
	return nil
}

func (w *Worker) closePages(ctx context.Context, b engine.Browser) error {
	pages, err := b.Pages(ctx)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		if err := p.Close(ctx); err != nil {
			w.log.WithError(err).WithField("target_id", p.TargetID()).Warn("failed to close page")
		}
	}
	return nil
}

// detach drops att without running the disconnected path.
func (w *Worker) detach(att *attachment) {
	att.unregister()

	w.mu.Lock()
	if w.current == att {
		w.current = nil
		w.connected = false
	}
	w.mu.Unlock()
	browserConnected.Set(0)

	if err := att.browser.Close(); err != nil {
		w.log.WithError(err).Warn("failed to detach from browser")
	}
}

// handleDisconnect runs when the browser goes away or the worker closes:
// the worker is withdrawn from the registry, any session ends, and unless
// shutting down the browser is attached again.
func (w *Worker) handleDisconnect(ctx context.Context, att *attachment) {
	w.mu.Lock()
	if att != nil && w.current != att {
		w.mu.Unlock()
		return
	}
	w.current = nil
	w.connected = false
	shutting := w.shuttingDown
	w.mu.Unlock()
	browserConnected.Set(0)

	if att != nil {
		att.unregister()
	}

	if err := w.registry.MarkOffline(ctx, w.opts.WorkerID); err != nil {
		w.log.WithError(err).Error("failed to mark worker offline")
	}
	w.log.Info("browser disconnected")

	reason := ReasonDisconnected
	if shutting {
		reason = ReasonShutdown
	}
	if err := w.EndSession(ctx, reason); err != nil {
		w.log.WithError(err).Warn("failed to end session after disconnect")
	}

	if shutting {
		return
	}
	w.log.Info("browser disconnected, relaunching")
	if err := w.Launch(ctx); err != nil && !errors.Is(err, ErrLaunchInProgress) {
		w.log.WithError(err).Warn("relaunch failed, watchdog will retry")
	}
}

// Close detaches from the browser, ends any session, withdraws the worker
// from the registry and waits for in-flight hooks, bounded by ctx.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.shuttingDown {
		w.mu.Unlock()
		return nil
	}
	w.shuttingDown = true
	att := w.current
	w.mu.Unlock()

	w.log.Info("shutting down worker")

	if att != nil {
		att.unregister()
		if err := att.browser.Close(); err != nil {
			w.log.WithError(err).Warn("failed to detach from browser")
		}
	}
	w.handleDisconnect(ctx, att)

	w.stopWatchdog()
	err := w.tasks.Drain(ctx)
	if err != nil {
		w.log.WithError(err).Warn("in-flight hooks did not finish before shutdown")
	}

	close(w.relayQuit)
	<-w.relayDone
	w.cancel()
	return err
}

func (w *Worker) hookContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(w.ctx, w.opts.CommandTimeout)
}

func (w *Worker) onTargetCreated(att *attachment, e events.Event) {
	if e.TargetType != "page" || !w.isCurrent(att) {
		return
	}
	w.cache.Reset()

	ctx, cancel := w.hookContext()
	defer cancel()

	pages, err := att.browser.Pages(ctx)
	if err != nil {
		w.log.WithError(err).Warn("failed to list pages for new target")
		return
	}

	found := false
	for _, p := range pages {
		if p.TargetID() == e.TargetID {
			found = true
			break
		}
	}
	if !found {
		w.log.WithField("target_id", e.TargetID).Debug("new target already gone")
		return
	}

	for _, p := range pages {
		if p.TargetID() == e.TargetID {
			continue
		}
		if err := p.Close(ctx); err != nil {
			w.log.WithError(err).WithField("target_id", p.TargetID()).Warn("failed to close extra page")
		}
	}
}

func (w *Worker) onResponse(att *attachment, e events.Event) {
	if !w.isCurrent(att) {
		return
	}
	w.cache.Put(e.URL, e.Body, e.ContentType)
}

func (w *Worker) onFrameNavigated(att *attachment, e events.Event) {
	if !e.MainFrame || !w.isCurrent(att) {
		return
	}

	ctx, cancel := w.hookContext()
	defer cancel()

	log := w.log.WithField("url", e.URL).WithField("target_id", e.TargetID)

	if err := w.SendUpdate(ctx, loadingUpdate(true)); err != nil {
		log.WithError(err).Warn("failed to send loading update")
	}

	page, err := w.findPage(ctx, att, e.TargetID)
	if err != nil {
		log.WithError(err).Debug("navigated page not found")
		return
	}

	if err := page.WaitElement(ctx, "body"); err != nil {
		log.WithError(err).Warn("page body never appeared")
		return
	}
	if err := page.Expose(ctx, bridgeName, w.onBridge); err != nil {
		log.WithError(err).Warn("failed to expose bridge")
	}

	if _, err := page.Evaluate(ctx, `(id) => { window.browserSessionId = id; }`, w.SessionID()); err != nil {
		log.WithError(err).Warn("failed to set session id in page")
	}
	if _, err := page.Evaluate(ctx, scripts.Helper); err != nil {
		log.WithError(err).Warn("failed to install helper script")
	}
	if _, err := page.Evaluate(ctx, w.opts.Instrumentation); err != nil {
		log.WithError(err).Warn("failed to install page instrumentation")
	}
}

func (w *Worker) findPage(ctx context.Context, att *attachment, targetID string) (engine.Page, error) {
	pages, err := att.browser.Pages(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.TargetID() == targetID {
			return p, nil
		}
	}
	return nil, ErrNoPage
}

// currentPage returns the managed page, opening one when none exists.
func (w *Worker) currentPage(ctx context.Context) (engine.Page, error) {
	w.mu.Lock()
	att := w.current
	w.mu.Unlock()
	if att == nil {
		return nil, ErrNotConnected
	}

	pages, err := att.browser.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) > 0 {
		return pages[0], nil
	}
	return att.browser.NewPage(ctx, "")
}
