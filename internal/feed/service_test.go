package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/sportzy/internal/api"
	"github.com/rickgao/sportzy/internal/connection"
	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/model"
	"github.com/rickgao/sportzy/internal/store"
)

// fakeAPIServer serves the matches REST API from memory.
type fakeAPIServer struct {
	mu         sync.Mutex
	matches    []model.Match
	commentary map[int64][]model.Commentary
	fail       bool
	nextID     int64
}

func newFakeAPIServer(t *testing.T, matches ...model.Match) (*fakeAPIServer, *httptest.Server) {
	t.Helper()
	f := &fakeAPIServer{
		matches:    matches,
		commentary: make(map[int64][]model.Commentary),
		nextID:     100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /matches", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": f.matches})
	})
	mux.HandleFunc("GET /matches/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		for _, m := range f.matches {
			if m.ID == id {
				writeJSON(w, http.StatusOK, map[string]any{"data": m})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Match not found"})
	})
	mux.HandleFunc("POST /matches", func(w http.ResponseWriter, r *http.Request) {
		var req model.CreateMatchRequest
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		m := model.Match{
			ID:        f.nextID,
			Sport:     req.Sport,
			HomeTeam:  req.HomeTeam,
			AwayTeam:  req.AwayTeam,
			Status:    model.StatusScheduled,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		}
		f.matches = append([]model.Match{m}, f.matches...)
		writeJSON(w, http.StatusCreated, map[string]any{"data": m})
	})
	mux.HandleFunc("PATCH /matches/{id}/score", func(w http.ResponseWriter, r *http.Request) {
		var req model.UpdateScoreRequest
		json.NewDecoder(r.Body).Decode(&req)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

		f.mu.Lock()
		defer f.mu.Unlock()
		for i, m := range f.matches {
			if m.ID == id {
				m.HomeScore, m.AwayScore, m.Status = req.HomeScore, req.AwayScore, model.StatusLive
				f.matches[i] = m
				writeJSON(w, http.StatusOK, map[string]any{"data": m})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Match not found"})
	})
	mux.HandleFunc("GET /matches/{id}/commentary", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": f.commentary[id]})
	})
	mux.HandleFunc("POST /matches/{id}/commentary", func(w http.ResponseWriter, r *http.Request) {
		var req model.CreateCommentaryRequest
		json.NewDecoder(r.Body).Decode(&req)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		c := model.Commentary{ID: f.nextID, MatchID: id, Minute: &req.Minute, Message: req.Message}
		f.commentary[id] = append([]model.Commentary{c}, f.commentary[id]...)
		writeJSON(w, http.StatusCreated, map[string]any{"data": c})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeAPIServer) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fakeRealtime records subscriptions and runs onConnect when Connect is
// called.
type fakeRealtime struct {
	mu           sync.Mutex
	subscribed   []int64
	unsubscribed []int64
	connected    bool
	onConnect    func(ctx context.Context) error
}

func (f *fakeRealtime) Connect(ctx context.Context) error {
	if f.onConnect != nil {
		if err := f.onConnect(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRealtime) Subscribe(id int64) {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, id)
	f.mu.Unlock()
}

func (f *fakeRealtime) Unsubscribe(id int64) {
	f.mu.Lock()
	f.unsubscribed = append(f.unsubscribed, id)
	f.mu.Unlock()
}

func (f *fakeRealtime) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

type harness struct {
	server   *fakeAPIServer
	service  *Service
	store    *store.Store
	events   *dispatch.Dispatcher
	realtime *fakeRealtime
}

func newHarness(t *testing.T, matches ...model.Match) *harness {
	t.Helper()
	server, ts := newFakeAPIServer(t, matches...)
	client := api.NewClient(ts.URL, api.WithRetries(0, 0))

	h := &harness{
		server:   server,
		store:    store.New(),
		events:   dispatch.New(),
		realtime: &fakeRealtime{},
	}
	h.service = NewService(client, h.realtime, h.events, h.store, nil)
	return h
}

func matchIDs(matches []model.Match) []int64 {
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids
}

func commentaryIDs(items []model.Commentary) []int64 {
	ids := make([]int64, len(items))
	for i, c := range items {
		ids[i] = c.ID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestService_LoadMatchesThenCreate(t *testing.T) {
	h := newHarness(t,
		model.Match{ID: 2, HomeTeam: "Ajax", AwayTeam: "PSV"},
		model.Match{ID: 1, HomeTeam: "Feyenoord", AwayTeam: "AZ"},
	)
	ctx := context.Background()

	if _, err := h.service.LoadMatches(ctx, 50); err != nil {
		t.Fatalf("LoadMatches() error = %v", err)
	}
	if h.store.IsLoadingMatches() {
		t.Error("loading flag still set")
	}

	created, err := h.service.CreateMatch(ctx, model.CreateMatchRequest{
		HomeTeam:  "Utrecht",
		AwayTeam:  "Twente",
		StartTime: "2026-03-14T15:00:00Z",
		EndTime:   "2026-03-14T17:00:00Z",
	})
	if err != nil {
		t.Fatalf("CreateMatch() error = %v", err)
	}
	if created.Sport != model.DefaultSport {
		t.Errorf("Sport = %q, want %q", created.Sport, model.DefaultSport)
	}

	got := matchIDs(h.store.Matches())
	want := []int64{created.ID, 2, 1}
	if !equalIDs(got, want) {
		t.Errorf("matches = %v, want %v", got, want)
	}
}

func TestService_LoadMatchesFailureKeepsList(t *testing.T) {
	h := newHarness(t, model.Match{ID: 1})
	ctx := context.Background()

	if _, err := h.service.LoadMatches(ctx, 0); err != nil {
		t.Fatalf("LoadMatches() error = %v", err)
	}

	h.server.setFail(true)
	_, err := h.service.LoadMatches(ctx, 0)

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("error = %v, want 500 APIError", err)
	}
	if h.store.MatchesError() == nil {
		t.Error("matches error not recorded")
	}
	if got := matchIDs(h.store.Matches()); !equalIDs(got, []int64{1}) {
		t.Errorf("matches = %v, want [1]", got)
	}
	if h.store.IsLoadingMatches() {
		t.Error("loading flag still set")
	}

	h.server.setFail(false)
	if _, err := h.service.LoadMatches(ctx, 0); err != nil {
		t.Fatalf("LoadMatches() error = %v", err)
	}
	if h.store.MatchesError() != nil {
		t.Error("matches error not cleared after success")
	}
}

func TestService_LoadMatch(t *testing.T) {
	h := newHarness(t, model.Match{ID: 4, HomeTeam: "Ajax"})
	ctx := context.Background()

	if _, err := h.service.LoadMatch(ctx, 4); err != nil {
		t.Fatalf("LoadMatch() error = %v", err)
	}
	selected, ok := h.store.SelectedMatch()
	if !ok || selected.HomeTeam != "Ajax" {
		t.Fatalf("selected = %+v, %v", selected, ok)
	}

	if _, err := h.service.LoadMatch(ctx, 99); err == nil {
		t.Error("LoadMatch(99) expected error")
	}
	if _, ok := h.store.SelectedMatch(); !ok {
		t.Error("failed load cleared the selection")
	}

	if _, err := h.service.LoadMatch(ctx, 0); err != nil {
		t.Fatalf("LoadMatch(0) error = %v", err)
	}
	if _, ok := h.store.SelectedMatch(); ok {
		t.Error("LoadMatch(0) did not clear the selection")
	}
}

func TestService_UpdateScorePatchesScoreAndStatus(t *testing.T) {
	h := newHarness(t,
		model.Match{ID: 3, HomeTeam: "Ajax", AwayTeam: "PSV", Status: model.StatusScheduled},
		model.Match{ID: 4, HomeTeam: "AZ", AwayTeam: "Twente"},
	)
	ctx := context.Background()
	h.service.LoadMatches(ctx, 0)
	h.service.LoadMatch(ctx, 3)

	if _, err := h.service.UpdateScore(ctx, 3, model.UpdateScoreRequest{HomeScore: 2, AwayScore: 1}); err != nil {
		t.Fatalf("UpdateScore() error = %v", err)
	}

	listed, _ := h.store.Match(3)
	selected, _ := h.store.SelectedMatch()
	for name, m := range map[string]model.Match{"listed": listed, "selected": selected} {
		if m.HomeScore != 2 || m.AwayScore != 1 || m.Status != model.StatusLive {
			t.Errorf("%s = %+v, want 2-1 live", name, m)
		}
		if m.HomeTeam != "Ajax" || m.AwayTeam != "PSV" {
			t.Errorf("%s teams changed: %+v", name, m)
		}
	}
	if other, _ := h.store.Match(4); other.HomeScore != 0 {
		t.Errorf("other match patched: %+v", other)
	}
}

func TestService_ValidationErrorLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.CreateMatch(context.Background(), model.CreateMatchRequest{
		HomeTeam:  "Ajax",
		AwayTeam:  "PSV",
		StartTime: "2026-03-14T17:00:00Z",
		EndTime:   "2026-03-14T15:00:00Z",
	})

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("error = %v, want 400 APIError", err)
	}
	if len(h.store.Matches()) != 0 {
		t.Error("invalid match was added to the store")
	}
}

func TestService_Commentary(t *testing.T) {
	h := newHarness(t)
	h.server.commentary[5] = []model.Commentary{
		{ID: 3, MatchID: 5, Message: "Corner"},
		{ID: 2, MatchID: 5, Message: "Yellow card"},
		{ID: 1, MatchID: 5, Message: "Kick-off"},
	}
	ctx := context.Background()

	items, err := h.service.LoadCommentary(ctx, 5, 100)
	if err != nil {
		t.Fatalf("LoadCommentary() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if h.store.IsLoadingCommentary(5) {
		t.Error("loading flag still set")
	}

	c, err := h.service.CreateCommentary(ctx, 5, model.CreateCommentaryRequest{Minute: 12, Message: "Goal"})
	if err != nil {
		t.Fatalf("CreateCommentary() error = %v", err)
	}
	got := commentaryIDs(h.store.CommentaryFor(5))
	if want := []int64{c.ID, 3, 2, 1}; !equalIDs(got, want) {
		t.Errorf("commentary = %v, want %v", got, want)
	}

	h.server.setFail(true)
	if _, err := h.service.LoadCommentary(ctx, 5, 100); err == nil {
		t.Fatal("expected error")
	}
	if h.store.CommentaryError(5) == nil {
		t.Error("commentary error not recorded")
	}
	if len(h.store.CommentaryFor(5)) != 4 {
		t.Error("failed load replaced the list")
	}
}

func TestService_SubscribeToMatch(t *testing.T) {
	h := newHarness(t, model.Match{ID: 5, HomeTeam: "Ajax"}, model.Match{ID: 6})
	ctx := context.Background()
	h.service.LoadMatches(ctx, 0)
	h.store.SetCommentaryForMatch(5, []model.Commentary{{ID: 3}, {ID: 2}, {ID: 1}})

	unsubscribe := h.service.SubscribeToMatch(5)

	if !h.store.IsSubscribed(5) {
		t.Error("store does not record the subscription")
	}
	if len(h.realtime.subscribed) != 1 || h.realtime.subscribed[0] != 5 {
		t.Errorf("realtime subscribed = %v", h.realtime.subscribed)
	}

	h.events.Emit(dispatch.CommentaryPosted{Commentary: model.Commentary{ID: 4, MatchID: 5, Message: "Goal"}})
	h.events.Emit(dispatch.CommentaryPosted{Commentary: model.Commentary{ID: 9, MatchID: 6, Message: "Other"}})
	h.events.Emit(dispatch.ScoreUpdated{MatchID: 5, HomeScore: 1, AwayScore: 0})

	got := commentaryIDs(h.store.CommentaryFor(5))
	if want := []int64{4, 3, 2, 1}; !equalIDs(got, want) {
		t.Errorf("commentary = %v, want %v", got, want)
	}
	if len(h.store.CommentaryFor(6)) != 0 {
		t.Error("commentary for an unsubscribed match was stored")
	}
	if m, _ := h.store.Match(5); m.HomeScore != 1 || m.HomeTeam != "Ajax" {
		t.Errorf("match 5 = %+v", m)
	}

	unsubscribe()
	unsubscribe()

	if h.store.IsSubscribed(5) {
		t.Error("subscription still recorded")
	}
	if len(h.realtime.unsubscribed) != 1 {
		t.Errorf("realtime unsubscribed = %v, want one call", h.realtime.unsubscribed)
	}
	if n := h.events.ListenerCount(dispatch.CommentaryTopic(5)); n != 0 {
		t.Errorf("commentary listeners = %d, want 0", n)
	}

	h.events.Emit(dispatch.CommentaryPosted{Commentary: model.Commentary{ID: 5, MatchID: 5}})
	if len(h.store.CommentaryFor(5)) != 4 {
		t.Error("commentary stored after unsubscribe")
	}
}

func TestService_SubscribeToMatchTwice(t *testing.T) {
	h := newHarness(t, model.Match{ID: 5})
	h.service.LoadMatches(context.Background(), 0)
	h.store.SetCommentaryForMatch(5, []model.Commentary{{ID: 3}, {ID: 2}, {ID: 1}})

	first := h.service.SubscribeToMatch(5)
	second := h.service.SubscribeToMatch(5)

	if len(h.realtime.subscribed) != 1 {
		t.Errorf("realtime subscribed = %v, want one call", h.realtime.subscribed)
	}
	if n := h.events.ListenerCount(dispatch.CommentaryTopic(5)); n != 1 {
		t.Errorf("commentary listeners = %d, want 1", n)
	}

	h.events.Emit(dispatch.CommentaryPosted{Commentary: model.Commentary{ID: 9, MatchID: 5}})
	if got := commentaryIDs(h.store.CommentaryFor(5)); !equalIDs(got, []int64{9, 3, 2, 1}) {
		t.Errorf("commentary = %v, want [9 3 2 1]", got)
	}

	first()
	first()
	if !h.store.IsSubscribed(5) {
		t.Error("subscription dropped while a holder remains")
	}
	if len(h.realtime.unsubscribed) != 0 {
		t.Errorf("realtime unsubscribed = %v, want none", h.realtime.unsubscribed)
	}
	h.events.Emit(dispatch.CommentaryPosted{Commentary: model.Commentary{ID: 10, MatchID: 5}})
	if got := commentaryIDs(h.store.CommentaryFor(5)); !equalIDs(got, []int64{10, 9, 3, 2, 1}) {
		t.Errorf("commentary = %v, want [10 9 3 2 1]", got)
	}

	second()
	if h.store.IsSubscribed(5) {
		t.Error("subscription still recorded")
	}
	if len(h.realtime.unsubscribed) != 1 {
		t.Errorf("realtime unsubscribed = %v, want one call", h.realtime.unsubscribed)
	}
	if n := h.events.ListenerCount(dispatch.CommentaryTopic(5)); n != 0 {
		t.Errorf("commentary listeners = %d, want 0", n)
	}
}

func TestService_OnNewMatch(t *testing.T) {
	h := newHarness(t, model.Match{ID: 1})
	h.service.LoadMatches(context.Background(), 0)

	var seen []int64
	stop := h.service.OnNewMatch(func(m model.Match) { seen = append(seen, m.ID) })

	h.events.Emit(dispatch.MatchCreated{Match: model.Match{ID: 7}})
	if got := matchIDs(h.store.Matches()); !equalIDs(got, []int64{7, 1}) {
		t.Errorf("matches = %v, want [7 1]", got)
	}
	if !equalIDs(seen, []int64{7}) {
		t.Errorf("callback saw %v", seen)
	}

	stop()
	h.events.Emit(dispatch.MatchCreated{Match: model.Match{ID: 8}})
	if len(h.store.Matches()) != 2 {
		t.Error("match added after stop")
	}

	// A nil callback still updates the store.
	h.service.OnNewMatch(nil)
	h.events.Emit(dispatch.MatchCreated{Match: model.Match{ID: 9}})
	if len(h.store.Matches()) != 3 {
		t.Error("match not added with nil callback")
	}
}

func TestService_WatchConnection(t *testing.T) {
	h := newHarness(t)
	h.realtime.onConnect = func(context.Context) error {
		h.events.Emit(dispatch.Connected{SessionID: "s1"})
		return nil
	}

	stop, err := h.service.WatchConnection(context.Background())
	if err != nil {
		t.Fatalf("WatchConnection() error = %v", err)
	}
	if !h.store.IsConnected() {
		t.Fatal("store not marked connected")
	}

	h.events.Emit(dispatch.ErrorEvent{Message: "boom"})
	if err := h.store.WSError(); err == nil || err.Error() != "boom" {
		t.Errorf("WSError = %v, want boom", err)
	}

	cause := errors.New("connection reset")
	h.events.Emit(dispatch.Disconnected{Err: cause})
	if h.store.IsConnected() {
		t.Error("store still connected")
	}
	if !errors.Is(h.store.WSError(), cause) {
		t.Errorf("WSError = %v, want %v", h.store.WSError(), cause)
	}

	h.events.Emit(dispatch.ReconnectExhausted{Attempts: 5})
	if err := h.store.WSError(); err == nil || !strings.Contains(err.Error(), "5 reconnect attempts") {
		t.Errorf("WSError = %v", err)
	}

	h.events.Emit(dispatch.Connected{SessionID: "s2"})
	if !h.store.IsConnected() || h.store.WSError() != nil {
		t.Error("reconnect did not reset the connection state")
	}

	stop()
	h.events.Emit(dispatch.Disconnected{Intentional: true})
	if !h.store.IsConnected() {
		t.Error("store updated after stop")
	}
}

func TestService_WatchConnectionError(t *testing.T) {
	h := newHarness(t)
	h.realtime.onConnect = func(ctx context.Context) error { return context.Canceled }

	_, err := h.service.WatchConnection(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if !errors.Is(h.store.WSError(), context.Canceled) {
		t.Errorf("WSError = %v", h.store.WSError())
	}

	noRealtime := NewService(nil, nil, h.events, h.store, nil)
	if _, err := noRealtime.WatchConnection(context.Background()); err == nil {
		t.Error("expected error without a realtime connection")
	}
}

func TestService_LiveCommentaryOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"welcome"}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(msg), `"subscribe"`) {
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"commentary","data":{"id":4,"matchId":5,"message":"Goal","sequence":4}}`))
			}
		}
	}))
	defer ws.Close()

	_, ts := newFakeAPIServer(t)
	st := store.New()
	events := dispatch.New()

	cfg := connection.DefaultManagerConfig()
	cfg.Client.URL = "ws" + strings.TrimPrefix(ws.URL, "http")
	cfg.Client.HandshakeTimeout = 2 * time.Second
	manager := connection.NewManager(cfg, nil, events, nil)
	defer manager.Disconnect()

	svc := NewService(api.NewClient(ts.URL), manager, events, st, nil)
	st.SetCommentaryForMatch(5, []model.Commentary{{ID: 3}, {ID: 2}, {ID: 1}})

	stop, err := svc.WatchConnection(context.Background())
	if err != nil {
		t.Fatalf("WatchConnection() error = %v", err)
	}
	defer stop()
	defer svc.SubscribeToMatch(5)()

	deadline := time.Now().Add(2 * time.Second)
	for len(st.CommentaryFor(5)) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("commentary = %v, want 4 entries", commentaryIDs(st.CommentaryFor(5)))
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := st.CommentaryFor(5)
	if got[0].ID != 4 || got[0].Message != "Goal" {
		t.Errorf("newest = %+v, want id 4", got[0])
	}
	if !st.IsConnected() {
		t.Error("store not marked connected")
	}
}
