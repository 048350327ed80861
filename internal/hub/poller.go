package hub

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"agent-console/internal/client"
	"agent-console/internal/metrics"
	"agent-console/internal/types"
	"agent-console/internal/utils"
)

type PollerConfig struct {
	Interval     time.Duration
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func PollerConfigFrom(cfg Config) PollerConfig {
	return PollerConfig{
		Interval:     cfg.Polling.Interval,
		MaxRetries:   cfg.Polling.MaxRetries,
		RetryInitial: cfg.Polling.RetryInitial,
		RetryMax:     cfg.Polling.RetryMax,
	}
}

// Poller keeps the store's snapshot of the active session fresh while the
// session is pending, running or awaiting approval.
type Poller struct {
	api     API
	store   *Store
	cfg     PollerConfig
	logger  *utils.Logger
	metrics *metrics.Recorder
	group   singleflight.Group
}

func NewPoller(api API, store *Store, cfg PollerConfig, logger *utils.Logger, rec *metrics.Recorder) *Poller {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 250 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = cfg.Interval
	}
	return &Poller{api: api, store: store, cfg: cfg, logger: logger, metrics: rec}
}

type pollLoop struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels without waiting; a late result from the old loop is rejected
// by the store's generation check.
func (l *pollLoop) stop() {
	l.cancel()
}

func (l *pollLoop) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Run supervises one poll loop per active session until ctx is done. A
// session switch cancels the running loop; a loop that stopped on a
// terminal status is restarted when the store shows the session active again.
func (p *Poller) Run(ctx context.Context) error {
	changes, unsubscribe := p.store.Subscribe()
	defer unsubscribe()

	var cur *pollLoop
	reconcile := func() {
		state := p.store.Snapshot()
		if cur != nil && cur.gen == state.Generation && !cur.finished() {
			return
		}
		if cur != nil {
			cur.stop()
			cur = nil
		}
		if !state.ShouldPoll() {
			return
		}
		loopCtx, cancel := context.WithCancel(ctx)
		cur = &pollLoop{gen: state.Generation, cancel: cancel, done: make(chan struct{})}
		immediate := state.Session == nil
		go func(l *pollLoop, id string) {
			defer close(l.done)
			p.loop(loopCtx, id, l.gen, immediate)
		}(cur, state.SessionID)
	}

	reconcile()
	for {
		var done <-chan struct{}
		if cur != nil {
			done = cur.done
		}
		select {
		case <-ctx.Done():
			if cur != nil {
				cur.stop()
				<-cur.done
			}
			return nil
		case <-changes:
			reconcile()
		case <-done:
			reconcile()
		}
	}
}

func (p *Poller) loop(ctx context.Context, id string, gen uint64, immediate bool) {
	log := p.logger.With("session_id", id)
	log.Debug("polling started")
	defer log.Debug("polling stopped")

	first := p.cfg.Interval
	if immediate {
		first = 0
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		_, err := p.fetch(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, client.ErrSessionNotFound) {
			return
		}

		state := p.store.Snapshot()
		if state.SessionID != id || state.Generation != gen || !state.ShouldPoll() {
			return
		}
		timer.Reset(p.cfg.Interval)
	}
}

// Refresh fetches the active session now. It shares the request with a
// concurrent loop fetch for the same session.
func (p *Poller) Refresh(ctx context.Context) (*types.Session, error) {
	id := p.store.SessionID()
	if id == "" {
		return nil, ErrNoActiveSession
	}
	return p.fetch(ctx, id)
}

func (p *Poller) fetch(ctx context.Context, id string) (*types.Session, error) {
	v, err, shared := p.group.Do(id, func() (any, error) {
		return p.fetchAndApply(ctx, id)
	})
	if shared {
		p.logger.Debug("fetch shared with in-flight request", "session_id", id)
	}
	if err != nil {
		return nil, err
	}
	return v.(*types.Session).Clone(), nil
}

func (p *Poller) fetchAndApply(ctx context.Context, id string) (*types.Session, error) {
	m := p.store.mark()
	if m.id != id {
		return nil, ErrNoActiveSession
	}

	session, err := p.getWithRetry(ctx, id)
	switch {
	case err == nil:
		p.metrics.Poll(ctx, "ok")
		if !p.store.applyFetched(m, session) {
			p.metrics.StaleDiscard(ctx)
			p.logger.Debug("discarding stale snapshot", "session_id", id)
		}
		return session, nil
	case errors.Is(err, client.ErrSessionNotFound):
		p.metrics.Poll(ctx, "not_found")
		p.logger.Warn("session not found, polling stopped", "session_id", id)
		p.store.setFetchError(m, err, true)
		return nil, err
	case ctx.Err() != nil:
		return nil, err
	default:
		p.metrics.Poll(ctx, "error")
		p.logger.Warn("session fetch failed", "session_id", id, "error", err)
		p.store.setFetchError(m, err, false)
		return nil, err
	}
}

func (p *Poller) getWithRetry(ctx context.Context, id string) (*types.Session, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.RetryInitial
	eb.MaxInterval = p.cfg.RetryMax
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.MaxRetries)), ctx)

	op := func() (*types.Session, error) {
		session, err := p.api.GetSession(ctx, id)
		if err != nil && !client.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return session, err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Debug("retrying session fetch", "session_id", id, "error", err, "wait", wait)
	}
	return backoff.RetryNotifyWithData(op, policy, notify)
}
