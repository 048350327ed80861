package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agent-console/internal/client"
	"agent-console/internal/kv"
	"agent-console/internal/remotetest"
	"agent-console/internal/types"
	"agent-console/internal/utils"
)

// gatedAPI forwards to a real client. A gate set for an operation blocks the
// call after the upstream response arrived and before it is returned.
type gatedAPI struct {
	API
	mu    sync.Mutex
	gates map[string]chan struct{}
	seen  map[string]chan struct{}
}

func newGatedAPI(api API) *gatedAPI {
	return &gatedAPI{API: api, gates: map[string]chan struct{}{}, seen: map[string]chan struct{}{}}
}

// gate arms op and returns a channel closed once a call reaches the gate,
// plus a release func.
func (g *gatedAPI) gate(op string) (<-chan struct{}, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate := make(chan struct{})
	seen := make(chan struct{})
	g.gates[op] = gate
	g.seen[op] = seen
	var once sync.Once
	return seen, func() { once.Do(func() { close(gate) }) }
}

func (g *gatedAPI) wait(ctx context.Context, op string) {
	g.mu.Lock()
	gate, ok := g.gates[op]
	seen := g.seen[op]
	delete(g.gates, op)
	delete(g.seen, op)
	g.mu.Unlock()
	if !ok {
		return
	}
	close(seen)
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func (g *gatedAPI) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s, err := g.API.GetSession(ctx, id)
	g.wait(ctx, "get")
	return s, err
}

func (g *gatedAPI) ContinueSession(ctx context.Context, id, message string) (*types.Session, error) {
	s, err := g.API.ContinueSession(ctx, id, message)
	g.wait(ctx, "continue")
	return s, err
}

func (g *gatedAPI) ApproveDecision(ctx context.Context, sessionID, decisionID string, approved bool) (*types.Session, error) {
	s, err := g.API.ApproveDecision(ctx, sessionID, decisionID, approved)
	g.wait(ctx, "approve")
	return s, err
}

type harness struct {
	srv    *remotetest.Server
	api    *gatedAPI
	kv     kv.Store
	store  *Store
	coord  *Coordinator
	poller *Poller
}

func testPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:     20 * time.Millisecond,
		MaxRetries:   2,
		RetryInitial: 5 * time.Millisecond,
		RetryMax:     10 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts ...CoordinatorOption) *harness {
	t.Helper()
	srv := remotetest.NewServer(t)
	api := newGatedAPI(client.New(srv.BaseURL(), client.WithTimeout(5*time.Second)))
	mem := kv.NewMemory()
	store, err := NewStore(context.Background(), mem, utils.NopLogger())
	require.NoError(t, err)
	return &harness{
		srv:    srv,
		api:    api,
		kv:     mem,
		store:  store,
		coord:  NewCoordinator(api, store, utils.NopLogger(), opts...),
		poller: NewPoller(api, store, testPollerConfig(), utils.NopLogger(), nil),
	}
}

// runPoller starts the poller and stops it when the test ends.
func (h *harness) runPoller(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.poller.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) startSession(t *testing.T, goal string) *types.Session {
	t.Helper()
	s, err := h.coord.Start(context.Background(), StartOptions{Goal: goal})
	require.NoError(t, err)
	return s
}

func (h *harness) status() types.SessionStatus {
	st := h.store.Snapshot()
	if st.Session == nil {
		return ""
	}
	return st.Session.Status
}

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
)
