package dispatch

import (
	"strconv"
	"time"

	"github.com/rickgao/sportzy/internal/model"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindWelcome            Kind = "welcome"
	KindSubscribed         Kind = "subscribed"
	KindUnsubscribed       Kind = "unsubscribed"
	KindMatchCreated       Kind = "match_created"
	KindCommentary         Kind = "commentary"
	KindScoreUpdate        Kind = "score_update"
	KindError              Kind = "error"
	KindConnected          Kind = "connected"
	KindDisconnected       Kind = "disconnected"
	KindReconnecting       Kind = "reconnecting"
	KindReconnectExhausted Kind = "reconnect_exhausted"
)

// Topic is the key listeners register under. MatchID is zero for topics
// that are not scoped to a match.
type Topic struct {
	Kind    Kind
	MatchID int64
}

func (t Topic) String() string {
	if t.MatchID == 0 {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + strconv.FormatInt(t.MatchID, 10)
}

// AllOf returns the topic that receives every event of kind, whatever match
// it belongs to.
func AllOf(kind Kind) Topic { return Topic{Kind: kind} }

func CommentaryTopic(matchID int64) Topic { return Topic{Kind: KindCommentary, MatchID: matchID} }
func ScoreTopic(matchID int64) Topic { return Topic{Kind: KindScoreUpdate, MatchID: matchID} }
func SubscribedTopic(matchID int64) Topic { return Topic{Kind: KindSubscribed, MatchID: matchID} }
func UnsubscribedTopic(matchID int64) Topic { return Topic{Kind: KindUnsubscribed, MatchID: matchID} }

// Event is one of the concrete event types below.
type Event interface {
	Topic() Topic
}

// Welcome is sent by the server once a connection is accepted.
type Welcome struct{}

// Subscribed acknowledges a subscribe frame.
type Subscribed struct {
	MatchID int64
}

// Unsubscribed acknowledges an unsubscribe frame.
type Unsubscribed struct {
	MatchID int64
}

// MatchCreated announces a new match to every connected client.
type MatchCreated struct {
	Match model.Match
}

// CommentaryPosted carries a new commentary entry for a subscribed match.
type CommentaryPosted struct {
	Commentary model.Commentary
}

// ScoreUpdated carries a new score for a subscribed match.
type ScoreUpdated struct {
	MatchID   int64
	HomeScore int
	AwayScore int
}

// ErrorEvent reports either an error frame sent by the server or a local
// transport failure.
type ErrorEvent struct {
	Message    string
	Err        error
	FromServer bool
}

// Connected is emitted after the transport opens and pending frames are
// flushed.
type Connected struct {
	SessionID string
}

// Disconnected is emitted whenever the transport closes.
type Disconnected struct {
	Intentional bool
	Err         error
}

// Reconnecting is emitted when a redial is scheduled.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectExhausted is emitted once the manager stops redialing.
type ReconnectExhausted struct {
	Attempts int
}

func (Welcome) Topic() Topic { return Topic{Kind: KindWelcome} }
func (e Subscribed) Topic() Topic { return SubscribedTopic(e.MatchID) }
func (e Unsubscribed) Topic() Topic { return UnsubscribedTopic(e.MatchID) }
func (MatchCreated) Topic() Topic { return Topic{Kind: KindMatchCreated} }
func (e CommentaryPosted) Topic() Topic { return CommentaryTopic(e.Commentary.MatchID) }
func (e ScoreUpdated) Topic() Topic { return ScoreTopic(e.MatchID) }
func (ErrorEvent) Topic() Topic { return Topic{Kind: KindError} }
func (Connected) Topic() Topic { return Topic{Kind: KindConnected} }
func (Disconnected) Topic() Topic { return Topic{Kind: KindDisconnected} }
func (Reconnecting) Topic() Topic { return Topic{Kind: KindReconnecting} }
func (ReconnectExhausted) Topic() Topic { return Topic{Kind: KindReconnectExhausted} }

// Error implements error so an ErrorEvent can be stored or wrapped directly.
func (e ErrorEvent) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "realtime error"
}

func (e ErrorEvent) Unwrap() error { return e.Err }
