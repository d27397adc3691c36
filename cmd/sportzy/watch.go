package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sportzy/internal/config"
	"github.com/rickgao/sportzy/internal/connection"
	"github.com/rickgao/sportzy/internal/database"
	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/feed"
	"github.com/rickgao/sportzy/internal/journal"
	"github.com/rickgao/sportzy/internal/metrics"
	"github.com/rickgao/sportzy/internal/model"
	"github.com/rickgao/sportzy/internal/store"
	"github.com/rickgao/sportzy/internal/subscription"
	"github.com/rickgao/sportzy/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	var matches []int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow matches live until interrupted",
		Long: "Loads the match list, connects to the realtime feed, subscribes to the\n" +
			"configured matches and keeps the local store in sync. Health, metrics and\n" +
			"debug views are served on the metrics port.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			watch := slices.Clone(a.cfg.Feed.Watch)
			for _, id := range matches {
				if !slices.Contains(watch, id) {
					watch = append(watch, id)
				}
			}
			err := runWatch(cmd.Context(), a, watch)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fail(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&matches, "match", nil, "match id to follow (repeatable, added to feed.watch)")
	return cmd
}

func managerConfig(rc config.RealtimeConfig) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.Client.URL = rc.Endpoint()
	cfg.Client.PingTimeout = rc.PingTimeout
	cfg.Client.WriteTimeout = rc.WriteTimeout
	cfg.Client.HandshakeTimeout = rc.HandshakeTimeout
	cfg.ReconnectBaseDelay = rc.ReconnectBaseDelay
	cfg.MaxReconnectAttempts = rc.MaxReconnectAttempts
	return cfg
}

// runWatch runs the sync loop until ctx is cancelled.
func runWatch(ctx context.Context, a *app, watch []int64) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("starting sportzy watch",
		"version", version.Version,
		"commit", version.Commit,
		"api_url", cfg.API.BaseURL,
		"realtime_url", cfg.Realtime.Endpoint(),
		"watch", watch,
	)

	recorder := metrics.New()
	events := dispatch.New(dispatch.WithLogger(logger), dispatch.WithMetrics(recorder))
	st := store.New()
	manager := connection.NewManager(managerConfig(cfg.Realtime), subscription.NewRegistry(), events, logger,
		connection.WithMetrics(recorder))
	svc := feed.NewService(a.apiClient(recorder), manager, events, st, logger)

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		j, closeDB, err := startJournal(ctx, cfg.Journal, events, recorder, logger)
		if err != nil {
			return err
		}
		defer closeDB()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := j.Stop(stopCtx); err != nil {
				logger.Error("journal stop failed", "error", err)
			}
		}()
		jrnl = j
	}

	poller := feed.NewPoller(feed.PollerConfig{
		Interval:        cfg.Feed.RefreshInterval,
		Concurrency:     cfg.Feed.Concurrency,
		Timeout:         cfg.API.Timeout,
		MatchLimit:      cfg.Feed.MatchLimit,
		CommentaryLimit: cfg.Feed.CommentaryLimit,
	}, svc, st, logger)
	if cfg.Feed.RefreshOnReconnect {
		poller.RefreshOnReconnect(events)
	}

	if _, err := svc.LoadMatches(ctx, cfg.Feed.MatchLimit); err != nil {
		logger.Warn("initial match load failed, continuing with realtime only", "error", err)
	}
	stopNewMatches := svc.OnNewMatch(func(m model.Match) {
		logger.Info("match created", "match_id", m.ID, "home", m.HomeTeam, "away", m.AwayTeam)
	})
	defer stopNewMatches()

	stopWatching, err := svc.WatchConnection(ctx)
	defer stopWatching()
	defer manager.Disconnect()
	if err != nil {
		return err
	}

	for _, id := range watch {
		if _, err := svc.LoadCommentary(ctx, id, cfg.Feed.CommentaryLimit); err != nil {
			logger.Warn("initial commentary load failed", "match_id", id, "error", err)
		}
		defer svc.SubscribeToMatch(id)()
	}

	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		poller.Stop(stopCtx)
	}()

	debug := &debugServer{
		store:       st,
		connection:  manager,
		metrics:     recorder.Handler(),
		metricsPath: cfg.Metrics.Path,
	}
	if jrnl != nil {
		debug.journal = jrnl
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           debug.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting debug server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logChanges(gctx, st, logger)
		return nil
	})

	logger.Info("sportzy running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	err = g.Wait()
	logger.Info("shutting down...")
	return err
}

// startJournal connects to Postgres, ensures the schema and starts a journal
// attached to events. The returned func closes the pool.
func startJournal(ctx context.Context, cfg config.JournalConfig, events *dispatch.Dispatcher, m journal.Metrics, logger *slog.Logger) (*journal.Journal, func(), error) {
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal database: %w", err)
	}
	if err := journal.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	j := journal.New(journal.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, pool, logger, journal.WithMetrics(m))
	j.Attach(events)

	// Inserts outlive the signal context so Stop can flush what is buffered.
	if err := j.Start(context.WithoutCancel(ctx)); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("start journal: %w", err)
	}
	return j, pool.Close, nil
}

// logChanges logs store mutations until ctx is done.
func logChanges(ctx context.Context, st *store.Store, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-st.Changes():
			logger.Debug("store changed", "kind", change.Kind, "match_id", change.MatchID)
		}
	}
}
