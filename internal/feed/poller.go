package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/model"
)

// Refresher reloads matches and commentary into the store. *Service
// satisfies it.
type Refresher interface {
	LoadMatches(ctx context.Context, limit int) ([]model.Match, error)
	LoadCommentary(ctx context.Context, matchID int64, limit int) ([]model.Commentary, error)
}

// SubscriptionSource lists the matches whose commentary is refreshed.
// *store.Store satisfies it.
type SubscriptionSource interface {
	Subscriptions() []int64
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Interval        time.Duration // Zero disables periodic refresh
	Concurrency     int           // Max concurrent requests (default: 4)
	Timeout         time.Duration // Per-request timeout (default: 10s)
	MatchLimit      int
	CommentaryLimit int
}

// DefaultPollerConfig returns sensible defaults. Periodic refresh is off.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Concurrency:     4,
		Timeout:         10 * time.Second,
		MatchLimit:      50,
		CommentaryLimit: 100,
	}
}

// Poller refreshes the store from the REST API on an interval and on demand.
type Poller struct {
	cfg     PollerConfig
	feed    Refresher
	subs    SubscriptionSource
	logger  *slog.Logger
	trigger chan struct{}

	regMu  sync.Mutex
	events *dispatch.Dispatcher
	reg    dispatch.ListenerID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig, feed Refresher, subs SubscriptionSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultPollerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		feed:    feed,
		subs:    subs,
		logger:  logger.With("component", "poller"),
		trigger: make(chan struct{}, 1),
	}
}

// RefreshOnReconnect triggers a refresh on every Connected event after the
// first one, filling whatever was missed while disconnected. Calling it again
// replaces the previous registration.
func (p *Poller) RefreshOnReconnect(d *dispatch.Dispatcher) {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	if p.events != nil {
		p.events.Off(dispatch.AllOf(dispatch.KindConnected), p.reg)
	}

	var sessions atomic.Int64
	p.events = d
	p.reg = dispatch.Listen(d, dispatch.AllOf(dispatch.KindConnected), func(e dispatch.Connected) {
		if sessions.Add(1) == 1 {
			return
		}
		p.logger.Info("reconnected, refreshing", "session_id", e.SessionID)
		p.Trigger()
	})
}

// Trigger requests a refresh without waiting for it. Requests made while one
// is pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start begins the refresh loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)
	return nil
}

// Stop removes the reconnect listener and waits for the loop to exit.
func (p *Poller) Stop(ctx context.Context) error {
	p.regMu.Lock()
	if p.events != nil {
		p.events.Off(dispatch.AllOf(dispatch.KindConnected), p.reg)
		p.events = nil
	}
	p.regMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	var tick <-chan time.Time
	if p.cfg.Interval > 0 {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-tick:
			p.Refresh(p.ctx)
		case <-p.trigger:
			p.Refresh(p.ctx)
		}
	}
}

// Refresh reloads the match list and the commentary of every subscribed
// match concurrently. It returns the first error; the others are logged.
func (p *Poller) Refresh(ctx context.Context) error {
	start := time.Now()
	subs := p.subs.Subscriptions()

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	var fetched, failed atomic.Int64

	spawn := func(name string, matchID int64, fn func(context.Context) error) {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()

			if err := fn(reqCtx); err != nil {
				p.logger.Warn("refresh failed", "resource", name, "match_id", matchID, "error", err)
				failed.Add(1)
				return err
			}
			fetched.Add(1)
			return nil
		})
	}

	spawn("matches", 0, func(ctx context.Context) error {
		_, err := p.feed.LoadMatches(ctx, p.cfg.MatchLimit)
		return err
	})
	for _, id := range subs {
		spawn("commentary", id, func(ctx context.Context) error {
			_, err := p.feed.LoadCommentary(ctx, id, p.cfg.CommentaryLimit)
			return err
		})
	}

	err := g.Wait()

	p.logger.Info("refresh complete",
		"subscriptions", len(subs),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
	return err
}
