// Package store is the single in-memory source of truth for matches,
// per-match commentary and realtime connection bookkeeping.
//
// A Store is constructed once and passed to everything that reads or writes
// it. Every mutation is applied under one lock, so readers never observe a
// partially applied update, and every mutation publishes a Change.
package store

import (
	"slices"
	"sync"

	"github.com/rickgao/sportzy/internal/model"
)

// ChangeBufferSize is the capacity of the Change channel.
const ChangeBufferSize = 1000

// ChangeKind identifies which part of the store changed.
type ChangeKind string

const (
	ChangeMatches       ChangeKind = "matches"
	ChangeSelected      ChangeKind = "selected"
	ChangeCommentary    ChangeKind = "commentary"
	ChangeLoading       ChangeKind = "loading"
	ChangeError         ChangeKind = "error"
	ChangeConnection    ChangeKind = "connection"
	ChangeSubscriptions ChangeKind = "subscriptions"
)

// Change describes one applied mutation. MatchID is set for mutations scoped
// to a match.
type Change struct {
	Kind    ChangeKind
	MatchID int64
}

// Store holds matches, commentary and connection state. Safe for concurrent
// use. All reads return copies.
type Store struct {
	mu sync.RWMutex

	matches        []model.Match // newest first
	selected       *model.Match
	loadingMatches bool
	matchesErr     error

	commentary        map[int64][]model.Commentary // newest first
	loadingCommentary map[int64]bool
	commentaryErr     map[int64]error

	connected     bool
	subscriptions map[int64]struct{}
	wsErr         error

	changes chan Change
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		commentary:        make(map[int64][]model.Commentary),
		loadingCommentary: make(map[int64]bool),
		commentaryErr:     make(map[int64]error),
		subscriptions:     make(map[int64]struct{}),
		changes:           make(chan Change, ChangeBufferSize),
	}
}

// Changes returns the channel mutations are published on. When the channel
// is full the oldest pending change is dropped.
func (s *Store) Changes() <-chan Change {
	return s.changes
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

// SetMatches replaces the match list.
func (s *Store) SetMatches(matches []model.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matches = slices.Clone(matches)
	s.notifyChange(Change{Kind: ChangeMatches})
}

// AddMatch prepends a match to the list.
func (s *Store) AddMatch(m model.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matches = append([]model.Match{m}, s.matches...)
	s.notifyChange(Change{Kind: ChangeMatches, MatchID: m.ID})
}

// UpdateMatch merge-patches the listed match with the given id and the
// selected match if it has that id. Returns false if neither exists.
func (s *Store) UpdateMatch(id int64, patch model.MatchPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.matches {
		if s.matches[i].ID == id {
			s.matches[i] = patch.Apply(s.matches[i])
			found = true
		}
	}
	if s.selected != nil && s.selected.ID == id {
		m := patch.Apply(*s.selected)
		s.selected = &m
		found = true
	}
	if found {
		s.notifyChange(Change{Kind: ChangeMatches, MatchID: id})
	}
	return found
}

// SetSelectedMatch sets the match shown in detail. Nil clears it.
func (s *Store) SetSelectedMatch(m *model.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == nil {
		s.selected = nil
		s.notifyChange(Change{Kind: ChangeSelected})
		return
	}
	cp := *m
	s.selected = &cp
	s.notifyChange(Change{Kind: ChangeSelected, MatchID: m.ID})
}

// SetLoadingMatches sets the matches loading flag.
func (s *Store) SetLoadingMatches(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadingMatches = loading
	s.notifyChange(Change{Kind: ChangeLoading})
}

// SetMatchesError records the last match list error. Nil clears it.
func (s *Store) SetMatchesError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matchesErr = err
	s.notifyChange(Change{Kind: ChangeError})
}

// Matches returns the match list, newest first.
func (s *Store) Matches() []model.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.matches)
}

// Match returns a listed match by id.
func (s *Store) Match(id int64) (model.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.matches {
		if m.ID == id {
			return m, true
		}
	}
	return model.Match{}, false
}

// SelectedMatch returns the selected match, if any.
func (s *Store) SelectedMatch() (model.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == nil {
		return model.Match{}, false
	}
	return *s.selected, true
}

// LiveCount returns how many listed matches are live.
func (s *Store) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.matches {
		if m.IsLive() {
			n++
		}
	}
	return n
}

func (s *Store) IsLoadingMatches() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadingMatches
}

func (s *Store) MatchesError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matchesErr
}

// -----------------------------------------------------------------------------
// Commentary
// -----------------------------------------------------------------------------

// SetCommentaryForMatch replaces the commentary list for a match.
func (s *Store) SetCommentaryForMatch(matchID int64, items []model.Commentary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]model.Commentary, len(items))
	for i, c := range items {
		list[i] = c.Clone()
	}
	s.commentary[matchID] = list
	s.notifyChange(Change{Kind: ChangeCommentary, MatchID: matchID})
}

// AddCommentaryToMatch prepends one entry to a match's commentary list.
func (s *Store) AddCommentaryToMatch(matchID int64, c model.Commentary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commentary[matchID] = append([]model.Commentary{c.Clone()}, s.commentary[matchID]...)
	s.notifyChange(Change{Kind: ChangeCommentary, MatchID: matchID})
}

// ClearCommentaryForMatch drops the list, loading flag and error for a match.
func (s *Store) ClearCommentaryForMatch(matchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.commentary, matchID)
	delete(s.loadingCommentary, matchID)
	delete(s.commentaryErr, matchID)
	s.notifyChange(Change{Kind: ChangeCommentary, MatchID: matchID})
}

// CommentaryFor returns a match's commentary, newest first. Unknown matches
// return an empty list.
func (s *Store) CommentaryFor(matchID int64) []model.Commentary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.commentary[matchID]
	out := make([]model.Commentary, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

// SetLoadingCommentary sets the loading flag for one match's commentary.
func (s *Store) SetLoadingCommentary(matchID int64, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadingCommentary[matchID] = loading
	s.notifyChange(Change{Kind: ChangeLoading, MatchID: matchID})
}

// SetCommentaryError records the last commentary error for a match.
func (s *Store) SetCommentaryError(matchID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commentaryErr[matchID] = err
	s.notifyChange(Change{Kind: ChangeError, MatchID: matchID})
}

func (s *Store) IsLoadingCommentary(matchID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadingCommentary[matchID]
}

func (s *Store) CommentaryError(matchID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commentaryErr[matchID]
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// SetConnected sets the realtime connection flag.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = connected
	s.notifyChange(Change{Kind: ChangeConnection})
}

// SetWSError records the last realtime error. Nil clears it.
func (s *Store) SetWSError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wsErr = err
	s.notifyChange(Change{Kind: ChangeConnection})
}

// AddSubscription marks a match as subscribed.
func (s *Store) AddSubscription(matchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[matchID] = struct{}{}
	s.notifyChange(Change{Kind: ChangeSubscriptions, MatchID: matchID})
}

// RemoveSubscription unmarks a match.
func (s *Store) RemoveSubscription(matchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, matchID)
	s.notifyChange(Change{Kind: ChangeSubscriptions, MatchID: matchID})
}

// ClearSubscriptions forgets every subscription and resets the connection
// flag and error.
func (s *Store) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[int64]struct{})
	s.connected = false
	s.wsErr = nil
	s.notifyChange(Change{Kind: ChangeSubscriptions})
}

func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) IsSubscribed(matchID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptions[matchID]
	return ok
}

// Subscriptions returns subscribed match IDs in ascending order.
func (s *Store) Subscriptions() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int64, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Store) WSError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wsErr
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot is a consistent copy of the store's scalar state.
type Snapshot struct {
	Matches        []model.Match `json:"matches"`
	Selected       *model.Match  `json:"selected,omitempty"`
	LiveCount      int           `json:"liveCount"`
	LoadingMatches bool          `json:"loadingMatches"`
	MatchesError   string        `json:"matchesError,omitempty"`
	Connected      bool          `json:"connected"`
	Subscriptions  []int64       `json:"subscriptions"`
	WSError        string        `json:"wsError,omitempty"`
}

// Snapshot returns a copy of the store taken under a single read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Matches:        slices.Clone(s.matches),
		LoadingMatches: s.loadingMatches,
		Connected:      s.connected,
		Subscriptions:  make([]int64, 0, len(s.subscriptions)),
	}
	if snap.Matches == nil {
		snap.Matches = []model.Match{}
	}
	if s.selected != nil {
		cp := *s.selected
		snap.Selected = &cp
	}
	for _, m := range s.matches {
		if m.IsLive() {
			snap.LiveCount++
		}
	}
	if s.matchesErr != nil {
		snap.MatchesError = s.matchesErr.Error()
	}
	if s.wsErr != nil {
		snap.WSError = s.wsErr.Error()
	}
	for id := range s.subscriptions {
		snap.Subscriptions = append(snap.Subscriptions, id)
	}
	slices.Sort(snap.Subscriptions)
	return snap
}

// notifyChange publishes a change without blocking. Must be called with the
// write lock held so there is a single sender.
func (s *Store) notifyChange(change Change) {
	select {
	case s.changes <- change:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-s.changes:
		default:
		}
		select {
		case s.changes <- change:
		default:
		}
	}
}
