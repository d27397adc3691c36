package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/model"
	"github.com/rickgao/sportzy/internal/store"
)

// API is the part of the REST client the service uses. *api.Client
// satisfies it.
type API interface {
	GetMatches(ctx context.Context, limit int) ([]model.Match, error)
	GetMatch(ctx context.Context, id int64) (model.Match, error)
	CreateMatch(ctx context.Context, req model.CreateMatchRequest) (model.Match, error)
	UpdateScore(ctx context.Context, id int64, req model.UpdateScoreRequest) (model.Match, error)
	GetCommentary(ctx context.Context, matchID int64, limit int) ([]model.Commentary, error)
	CreateCommentary(ctx context.Context, matchID int64, req model.CreateCommentaryRequest) (model.Commentary, error)
}

// Realtime is the part of the connection manager the service uses.
// *connection.Manager satisfies it.
type Realtime interface {
	Connect(ctx context.Context) error
	Subscribe(matchID int64)
	Unsubscribe(matchID int64)
	IsConnected() bool
}

// Service keeps a store in sync with the REST API and the realtime feed.
type Service struct {
	api      API
	realtime Realtime
	events   *dispatch.Dispatcher
	store    *store.Store
	logger   *slog.Logger

	mu      sync.Mutex
	holders map[int64]*matchSubscription
}

// matchSubscription is the single listener pair shared by every holder of a
// match subscription.
type matchSubscription struct {
	refs          int
	stopListening func()
}

// NewService creates a Service. realtime may be nil for callers that only use
// the REST methods.
func NewService(client API, realtime Realtime, events *dispatch.Dispatcher, st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:      client,
		realtime: realtime,
		events:   events,
		store:    st,
		logger:   logger.With("component", "feed"),
		holders:  make(map[int64]*matchSubscription),
	}
}

// Store returns the store the service writes to.
func (s *Service) Store() *store.Store {
	return s.store
}

// LoadMatches fetches the match list and replaces the stored list with it.
// On failure the stored list is kept and the error recorded.
func (s *Service) LoadMatches(ctx context.Context, limit int) ([]model.Match, error) {
	s.store.SetLoadingMatches(true)
	defer s.store.SetLoadingMatches(false)

	matches, err := s.api.GetMatches(ctx, limit)
	if err != nil {
		s.store.SetMatchesError(err)
		s.logger.Error("failed to fetch matches", "error", err)
		return nil, err
	}
	s.store.SetMatches(matches)
	s.store.SetMatchesError(nil)
	return matches, nil
}

// LoadMatch fetches one match and makes it the selected match. An id of zero
// clears the selection.
func (s *Service) LoadMatch(ctx context.Context, id int64) (model.Match, error) {
	if id == 0 {
		s.store.SetSelectedMatch(nil)
		return model.Match{}, nil
	}

	m, err := s.api.GetMatch(ctx, id)
	if err != nil {
		s.logger.Error("failed to fetch match", "match_id", id, "error", err)
		return model.Match{}, err
	}
	s.store.SetSelectedMatch(&m)
	return m, nil
}

// CreateMatch creates a match and prepends it to the stored list.
func (s *Service) CreateMatch(ctx context.Context, req model.CreateMatchRequest) (model.Match, error) {
	m, err := s.api.CreateMatch(ctx, req)
	if err != nil {
		s.logger.Error("failed to create match", "error", err)
		return model.Match{}, err
	}
	s.store.AddMatch(m)
	return m, nil
}

// UpdateScore sets a match's score and patches the stored scores and status
// from the server's answer.
func (s *Service) UpdateScore(ctx context.Context, id int64, req model.UpdateScoreRequest) (model.Match, error) {
	m, err := s.api.UpdateScore(ctx, id, req)
	if err != nil {
		s.logger.Error("failed to update score", "match_id", id, "error", err)
		return model.Match{}, err
	}
	patch := model.ScorePatch(m.HomeScore, m.AwayScore)
	patch.Status = &m.Status
	s.store.UpdateMatch(id, patch)
	return m, nil
}

// LoadCommentary fetches a match's commentary and replaces the stored list.
func (s *Service) LoadCommentary(ctx context.Context, matchID int64, limit int) ([]model.Commentary, error) {
	s.store.SetLoadingCommentary(matchID, true)
	defer s.store.SetLoadingCommentary(matchID, false)

	items, err := s.api.GetCommentary(ctx, matchID, limit)
	if err != nil {
		s.store.SetCommentaryError(matchID, err)
		s.logger.Error("failed to fetch commentary", "match_id", matchID, "error", err)
		return nil, err
	}
	s.store.SetCommentaryForMatch(matchID, items)
	s.store.SetCommentaryError(matchID, nil)
	return items, nil
}

// CreateCommentary posts a commentary entry and prepends it to the match's
// stored list.
func (s *Service) CreateCommentary(ctx context.Context, matchID int64, req model.CreateCommentaryRequest) (model.Commentary, error) {
	c, err := s.api.CreateCommentary(ctx, matchID, req)
	if err != nil {
		s.logger.Error("failed to create commentary", "match_id", matchID, "error", err)
		return model.Commentary{}, err
	}
	s.store.AddCommentaryToMatch(matchID, c)
	return c, nil
}

// WatchConnection mirrors the realtime connection into the store and then
// connects. The returned func removes the listeners; it does not disconnect.
func (s *Service) WatchConnection(ctx context.Context) (func(), error) {
	if s.realtime == nil {
		return func() {}, fmt.Errorf("watch connection: no realtime connection configured")
	}

	stop := s.listen(
		listenOn(s.events, dispatch.AllOf(dispatch.KindConnected), func(dispatch.Connected) {
			s.store.SetConnected(true)
			s.store.SetWSError(nil)
		}),
		listenOn(s.events, dispatch.AllOf(dispatch.KindDisconnected), func(e dispatch.Disconnected) {
			s.store.SetConnected(false)
			if e.Err != nil {
				s.store.SetWSError(e.Err)
			}
		}),
		listenOn(s.events, dispatch.AllOf(dispatch.KindError), func(e dispatch.ErrorEvent) {
			s.store.SetWSError(e)
		}),
		listenOn(s.events, dispatch.AllOf(dispatch.KindReconnectExhausted), func(e dispatch.ReconnectExhausted) {
			s.store.SetWSError(fmt.Errorf("realtime connection lost after %d reconnect attempts", e.Attempts))
		}),
	)

	if err := s.realtime.Connect(ctx); err != nil {
		s.store.SetWSError(err)
		return stop, fmt.Errorf("connect realtime: %w", err)
	}
	return stop, nil
}

// SubscribeToMatch subscribes to a match's live topic and writes its
// commentary and score events into the store. Holders of the same match share
// one subscription; it is torn down when the last returned func is called.
// Each returned func is safe to call more than once.
func (s *Service) SubscribeToMatch(matchID int64) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.holders[matchID]; ok {
		sub.refs++
		return s.releaseFunc(matchID)
	}

	if s.realtime != nil {
		s.realtime.Subscribe(matchID)
	}
	s.store.AddSubscription(matchID)

	s.holders[matchID] = &matchSubscription{
		refs: 1,
		stopListening: s.listen(
			listenOn(s.events, dispatch.CommentaryTopic(matchID), func(e dispatch.CommentaryPosted) {
				s.store.AddCommentaryToMatch(matchID, e.Commentary)
			}),
			listenOn(s.events, dispatch.ScoreTopic(matchID), func(e dispatch.ScoreUpdated) {
				s.store.UpdateMatch(matchID, model.ScorePatch(e.HomeScore, e.AwayScore))
			}),
		),
	}
	return s.releaseFunc(matchID)
}

func (s *Service) releaseFunc(matchID int64) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.release(matchID) })
	}
}

func (s *Service) release(matchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.holders[matchID]
	if !ok {
		return
	}
	if sub.refs--; sub.refs > 0 {
		return
	}
	delete(s.holders, matchID)

	if s.realtime != nil {
		s.realtime.Unsubscribe(matchID)
	}
	s.store.RemoveSubscription(matchID)
	sub.stopListening()
}

// OnNewMatch prepends every broadcast match to the stored list and then
// passes it to cb, which may be nil. The returned func stops listening.
func (s *Service) OnNewMatch(cb func(model.Match)) func() {
	return s.listen(
		listenOn(s.events, dispatch.AllOf(dispatch.KindMatchCreated), func(e dispatch.MatchCreated) {
			s.store.AddMatch(e.Match)
			if cb != nil {
				cb(e.Match)
			}
		}),
	)
}

type registration struct {
	topic dispatch.Topic
	id    dispatch.ListenerID
}

func listenOn[E dispatch.Event](d *dispatch.Dispatcher, topic dispatch.Topic, fn func(E)) registration {
	return registration{topic: topic, id: dispatch.Listen(d, topic, fn)}
}

// listen returns a func that removes regs from the dispatcher.
func (s *Service) listen(regs ...registration) func() {
	return func() {
		for _, r := range regs {
			s.events.Off(r.topic, r.id)
		}
	}
}
