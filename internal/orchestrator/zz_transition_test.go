package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usepotato/potato/internal/registry"
)

// gatedRegistry holds the next MarkAvailable call once armed until release
// is closed.
type gatedRegistry struct {
	*registry.Memory

	armed   atomic.Bool
	paused  chan struct{}
	release chan struct{}
}

func newGatedRegistry(m *registry.Memory) *gatedRegistry {
	return &gatedRegistry{
		Memory:  m,
		paused:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedRegistry) MarkAvailable(ctx context.Context, workerID, baseURL string) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.paused)
		<-g.release
	}
	return g.Memory.MarkAvailable(ctx, workerID, baseURL)
}

func TestInitializeSession_WaitsForEndingSession(t *testing.T) {
	env := newTestEnv(t)
	gated := newGatedRegistry(env.reg)
	env.w.registry = gated
	ctx := context.Background()

	env.launch(t)
	env.startSession(t, "s1", "sub1")
	require.True(t, env.w.Unsubscribe("sub1"))
	env.clk.Advance(16 * time.Second)

	gated.armed.Store(true)
	checked := make(chan struct{})
	go func() {
		env.w.checkState(ctx)
		close(checked)
	}()

	select {
	case <-gated.paused:
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was not ended")
	}

	initialized := make(chan error, 1)
	go func() {
		_, err := env.w.InitializeSession(ctx, "s2")
		initialized <- err
	}()

	select {
	case err := <-initialized:
		t.Fatalf("session started while the previous one was ending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	<-checked
	require.NoError(t, <-initialized)

	assert.Equal(t, "s2", env.w.SessionID())
	assert.Equal(t, SessionUnattached, env.w.State())
	assertRegistry(t, env.reg, registry.StateBusy)
	available, err := env.reg.IsAvailable(ctx, testWorkerID)
	require.NoError(t, err)
	assert.False(t, available)

	page := env.settledPage(t)
	assert.False(t, page.Closed())
}

func TestEndIdleSession_RechecksAfterNewSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.launch(t)
	env.startSession(t, "s1", "sub1")
	require.True(t, env.w.Unsubscribe("sub1"))
	env.clk.Advance(16 * time.Second)

	_, err := env.w.InitializeSession(ctx, "s2")
	require.NoError(t, err)

	ended, err := env.w.endIdleSession(ctx)
	require.NoError(t, err)
	assert.False(t, ended)
	assert.Equal(t, "s2", env.w.SessionID())
	assertRegistry(t, env.reg, registry.StateBusy)
}

func TestInitializeSession_DisconnectsPreviousSubscriber(t *testing.T) {
	env := newTestEnv(t)
	env.launch(t)
	env.startSession(t, "s1", "sub1")

	_, err := env.w.InitializeSession(context.Background(), "s2")
	require.NoError(t, err)

	assert.Equal(t, []string{"sub1"}, env.pub.disconnected())
	assert.Empty(t, env.w.SubscriberID())
	assert.False(t, env.w.Unsubscribe("sub1"))
	assert.Equal(t, SessionUnattached, env.w.State())
}

func TestInitializeSession_NoSubscriberNoDisconnect(t *testing.T) {
	env := newTestEnv(t)
	env.launch(t)

	_, err := env.w.InitializeSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, env.pub.disconnected())
}
