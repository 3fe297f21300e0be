package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usepotato/potato/internal/engine/enginetest"
	"github.com/usepotato/potato/internal/registry"
	"github.com/usepotato/potato/internal/updates"
	"github.com/usepotato/potato/internal/webflow"
)

const (
	testWorkerID        = "http___worker_25565"
	testBaseURL         = "http://worker:25565"
	testBlankURL        = "https://blank.example.com"
	testInstrumentation = "() => { window.testInstrumented = true; }"
)

type emission struct {
	Event   string
	To      string
	Payload any
}

type fakePublisher struct {
	mu          sync.Mutex
	emits       []emission
	disconnects []string
}

func (p *fakePublisher) Emit(ctx context.Context, event string, payload any, to string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emits = append(p.emits, emission{Event: event, To: to, Payload: payload})
	return nil
}

func (p *fakePublisher) Disconnect(ctx context.Context, to string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects = append(p.disconnects, to)
	return nil
}

func (p *fakePublisher) updates(to string, t updates.UpdateType) []updates.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []updates.Update
	for _, e := range p.emits {
		u, ok := e.Payload.(updates.Update)
		if ok && e.Event == EventBrowserUpdate && e.To == to && u.Type == t {
			out = append(out, u)
		}
	}
	return out
}

func (p *fakePublisher) services(to string, t updates.ServiceUpdateType) []updates.ServiceUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []updates.ServiceUpdate
	for _, e := range p.emits {
		u, ok := e.Payload.(updates.ServiceUpdate)
		if ok && e.Event == EventBrowserServiceUpdate && e.To == to && u.Type == t {
			out = append(out, u)
		}
	}
	return out
}

func (p *fakePublisher) disconnected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.disconnects...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	w   *Worker
	eng *enginetest.Engine
	reg *registry.Memory
	pub *fakePublisher
	clk *fakeClock

	unreachable atomic.Bool
}

func newTestEnv(t *testing.T, configure ...func(*Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		eng: enginetest.New(),
		reg: registry.NewMemory(),
		pub: &fakePublisher{},
		clk: &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	runner := webflow.NewRunner(nil)
	runner.ClickDelay = 0

	opts := Options{
		WorkerID:             testWorkerID,
		BaseURL:              testBaseURL,
		BlankURL:             testBlankURL,
		WatchdogInterval:     time.Hour,
		CommandTimeout:       2 * time.Second,
		ResourcePollInterval: 5 * time.Millisecond,
		ResourcePollAttempts: 20,
		Instrumentation:      testInstrumentation,
		Discover: func(ctx context.Context, browserURL string) (string, error) {
			if env.unreachable.Load() {
				return "", errors.New("connection refused")
			}
			return "ws://fake", nil
		},
		Now:    env.clk.Now,
		Runner: runner,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	env.w = New(env.eng, env.reg, env.pub, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.w.Close(ctx)
	})
	return env
}

// launch attaches and waits until the blank page is instrumented.
func (env *testEnv) launch(t *testing.T) *enginetest.Page {
	t.Helper()
	require.NoError(t, env.w.Launch(context.Background()))
	return env.settledPage(t)
}

// settledPage waits for a single open page whose main frame hooks ran.
func (env *testEnv) settledPage(t *testing.T) *enginetest.Page {
	t.Helper()
	var page *enginetest.Page
	require.Eventually(t, func() bool {
		b := env.eng.Browser()
		if b == nil {
			return false
		}
		pages := b.OpenPages()
		if len(pages) != 1 {
			return false
		}
		page = pages[0]
		return instrumented(page)
	}, 2*time.Second, 5*time.Millisecond)
	return page
}

func instrumented(p *enginetest.Page) bool {
	for _, ev := range p.Evaluations() {
		if ev.Fn == testInstrumentation {
			return true
		}
	}
	return false
}

func (env *testEnv) startSession(t *testing.T, sessionID, subscriberID string) *enginetest.Page {
	t.Helper()
	ctx := context.Background()
	_, err := env.w.InitializeSession(ctx, sessionID)
	require.NoError(t, err)
	page := env.settledPage(t)
	if subscriberID != "" {
		require.NoError(t, env.w.Subscribe(ctx, subscriberID))
	}
	return page
}

// assertRegistry checks the record state and that set membership agrees
// with it.
func assertRegistry(t *testing.T, reg registry.Registry, want registry.State) {
	t.Helper()
	ctx := context.Background()

	entry, err := reg.Lookup(ctx, testWorkerID)
	available, aerr := reg.IsAvailable(ctx, testWorkerID)
	require.NoError(t, aerr)

	if want == registry.StateOffline {
		assert.ErrorIs(t, err, registry.ErrNotFound)
		assert.False(t, available)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, want, entry.State)
	assert.Equal(t, testBaseURL, entry.BaseURL)
	assert.Equal(t, want == registry.StateAvailable, available)
}

func TestWorkerID(t *testing.T) {
	assert.Equal(t, "http___10.0.0.4_25565", WorkerID("http://10.0.0.4:25565"))
	assert.Equal(t, "", WorkerID(""))
}

func TestLaunch_UnreachableEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.unreachable.Store(true)

	err := env.w.Launch(context.Background())
	require.ErrorIs(t, err, ErrEndpointUnreachable)

	assert.False(t, env.w.Connected())
	assert.Zero(t, env.eng.Connects())
	assert.Empty(t, env.reg.States())
}

func TestLaunch_ConnectFailure(t *testing.T) {
	env := newTestEnv(t)
	env.eng.FailConnect(errors.New("handshake failed"))

	err := env.w.Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake failed")
	assert.False(t, env.w.Connected())
	assert.Empty(t, env.reg.States())
}

func TestLaunch_PreparesSinglePage(t *testing.T) {
	env := newTestEnv(t)
	page := env.launch(t)

	assert.True(t, env.w.Connected())
	assertRegistry(t, env.reg, registry.StateAvailable)

	b := env.eng.Browser()
	assert.Equal(t, "ws://fake", b.WebSocketURL())
	assert.Equal(t, 1, b.Cleared())
	assert.Equal(t, []string{testBlankURL}, page.Navigations())
	assert.True(t, page.Exposed(bridgeName))

	var fns []string
	for _, ev := range page.Evaluations() {
		fns = append(fns, ev.Fn)
	}
	require.Len(t, fns, 3)
	assert.Contains(t, fns[0], "browserSessionId")
	assert.Contains(t, fns[1], "getBase64FromUrl")
	assert.Equal(t, testInstrumentation, fns[2])
}

func TestLaunch_AlreadyConnected(t *testing.T) {
	env := newTestEnv(t)
	env.launch(t)

	require.NoError(t, env.w.Launch(context.Background()))
	assert.Equal(t, 1, env.eng.Connects())
}

func TestLaunch_RegistryFailureDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	env.reg.SetErr(errors.New("redis down"))

	env.launch(t)
	assert.True(t, env.w.Connected())
}

func TestDisconnect_EndsSessionAndRelaunches(t *testing.T) {
	env := newTestEnv(t)
	env.launch(t)
	env.startSession(t, "s1", "sub1")
	assertRegistry(t, env.reg, registry.StateBusy)

	first := env.eng.Browser()
	first.Crash()

	require.Eventually(t, func() bool {
		return env.eng.Connects() == 2 && env.w.Connected()
	}, 2*time.Second, 5*time.Millisecond)

	ended := env.pub.services("sub1", updates.ServiceBrowserSessionEnded)
	require.Len(t, ended, 1)
	assert.Contains(t, string(ended[0].Data), `"reason":"disconnected"`)
	assert.Contains(t, string(ended[0].Data), `"browser_session_id":"s1"`)
	assert.Contains(t, env.pub.disconnected(), "sub1")

	assert.Equal(t, SessionIdle, env.w.State())
	assert.Contains(t, env.reg.States(), registry.StateOffline)
	require.Eventually(t, func() bool {
		available, _ := env.reg.IsAvailable(context.Background(), testWorkerID)
		return available
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnect_StaleBrowserEventsIgnored(t *testing.T) {
	env := newTestEnv(t)
	oldPage := env.launch(t)
	first := env.eng.Browser()

	first.Crash()
	require.Eventually(t, func() bool {
		return env.eng.Connects() == 2 && env.w.Connected()
	}, 2*time.Second, 5*time.Millisecond)
	env.settledPage(t)

	states := len(env.reg.States())
	first.Respond(oldPage, "https://stale.example.com/a.js", []byte("var a;"), "text/javascript")
	first.Crash()

	assert.Never(t, func() bool {
		_, ok := env.w.cache.Get("https://stale.example.com/a.js")
		return ok || len(env.reg.States()) != states || env.eng.Connects() != 2
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestTargetCreated_ClearsCacheAndClosesOthers(t *testing.T) {
	env := newTestEnv(t)
	page := env.launch(t)
	b := env.eng.Browser()

	b.Respond(page, "https://blank.example.com/logo.png", []byte("png"), "image/png")
	require.Eventually(t, func() bool { return env.w.cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	popup, err := b.OpenPage("https://popup.example.com")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.w.cache.Len() == 0 && page.Closed()
	}, time.Second, 5*time.Millisecond)
	open := b.OpenPages()
	require.Len(t, open, 1)
	assert.Equal(t, popup.TargetID(), open[0].TargetID())
}

func TestTargetCreated_IgnoresOtherTargets(t *testing.T) {
	env := newTestEnv(t)
	page := env.launch(t)
	b := env.eng.Browser()

	b.Respond(page, "https://blank.example.com/app.js", []byte("let x;"), "text/javascript")
	require.Eventually(t, func() bool { return env.w.cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	b.OpenTarget("service_worker")
	assert.Never(t, func() bool {
		return env.w.cache.Len() == 0 || page.Closed()
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestFrameNavigated_SubframeIgnored(t *testing.T) {
	env := newTestEnv(t)
	page := env.startSessionOnLaunch(t)
	count := len(page.Evaluations())

	page.NavigateSubframe("https://ads.example.com/frame")

	assert.Never(t, func() bool {
		return len(env.pub.updates("sub1", updates.TypeLoading)) > 0 || len(page.Evaluations()) != count
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNavigateThenNewTarget(t *testing.T) {
	env := newTestEnv(t)
	page := env.startSessionOnLaunch(t)
	b := env.eng.Browser()

	b.Respond(page, "https://blank.example.com/logo.png", []byte("png"), "image/png")
	require.Eventually(t, func() bool { return env.w.cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	nav, err := updates.New(updates.TypeNavigate, "https://example.com")
	require.NoError(t, err)
	require.NoError(t, env.w.ReceiveUpdate(context.Background(), nav))
	_, err = b.OpenPage("")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.w.cache.Len() == 0 && len(env.pub.updates("sub1", updates.TypeLoading)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	loading := env.pub.updates("sub1", updates.TypeLoading)
	assert.JSONEq(t, `{"loading":true}`, string(loading[0].Data))
	assert.Never(t, func() bool {
		return len(env.pub.updates("sub1", updates.TypeLoading)) != 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

// startSessionOnLaunch launches and starts session s1 with subscriber sub1.
func (env *testEnv) startSessionOnLaunch(t *testing.T) *enginetest.Page {
	t.Helper()
	env.launch(t)
	return env.startSession(t, "s1", "sub1")
}

func TestClose(t *testing.T) {
	env := newTestEnv(t)
	env.startSessionOnLaunch(t)
	b := env.eng.Browser()

	require.NoError(t, env.w.Close(context.Background()))

	assert.True(t, b.Closed())
	assert.False(t, env.w.Connected())
	assertRegistry(t, env.reg, registry.StateOffline)

	ended := env.pub.services("sub1", updates.ServiceBrowserSessionEnded)
	require.Len(t, ended, 1)
	assert.Contains(t, string(ended[0].Data), `"reason":"shutdown"`)
	assert.Equal(t, []string{"sub1"}, env.pub.disconnected())

	assert.Never(t, func() bool { return env.eng.Connects() != 1 }, 50*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, env.w.Launch(context.Background()), ErrShuttingDown)
	assert.NoError(t, env.w.Close(context.Background()))
}

func TestClose_NeverConnected(t *testing.T) {
	env := newTestEnv(t)
	env.unreachable.Store(true)
	require.Error(t, env.w.Start(context.Background()))

	require.NoError(t, env.w.Close(context.Background()))
	assert.Equal(t, []registry.State{registry.StateOffline}, env.reg.States())
	assert.Empty(t, env.pub.disconnected())
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.startSessionOnLaunch(t)

	st := env.w.Status()
	assert.Equal(t, testWorkerID, st.WorkerID)
	assert.Equal(t, testBaseURL, st.BaseURL)
	assert.True(t, st.Connected)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, "sub1", st.SubscriberID)
	assert.Equal(t, "active_attached", st.State)
	assert.True(t, strings.HasPrefix(env.w.ID(), "http___"))
}
