package connection

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/model"
)

// Outbound frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// Frame is an outbound control frame.
type Frame struct {
	Type    string `json:"type"`
	MatchID int64  `json:"matchId"`
}

// SubscribeFrame asks the server for events about a match.
func SubscribeFrame(matchID int64) Frame {
	return Frame{Type: FrameSubscribe, MatchID: matchID}
}

// UnsubscribeFrame stops events about a match.
func UnsubscribeFrame(matchID int64) Frame {
	return Frame{Type: FrameUnsubscribe, MatchID: matchID}
}

// inboundFrame is the envelope of every server frame. Which fields are set
// depends on Type.
type inboundFrame struct {
	Type    string          `json:"type"`
	MatchID int64           `json:"matchId"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type scoreData struct {
	MatchID   int64 `json:"matchId"`
	HomeScore *int  `json:"homeScore"`
	AwayScore *int  `json:"awayScore"`
}

// DecodeFrame parses a server frame into a typed event. Errors wrap
// ErrMalformedFrame or ErrUnknownFrame.
func DecodeFrame(data []byte) (dispatch.Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch dispatch.Kind(f.Type) {
	case dispatch.KindWelcome:
		return dispatch.Welcome{}, nil

	case dispatch.KindSubscribed:
		if f.MatchID == 0 {
			return nil, fmt.Errorf("%w: subscribed without matchId", ErrMalformedFrame)
		}
		return dispatch.Subscribed{MatchID: f.MatchID}, nil

	case dispatch.KindUnsubscribed:
		if f.MatchID == 0 {
			return nil, fmt.Errorf("%w: unsubscribed without matchId", ErrMalformedFrame)
		}
		return dispatch.Unsubscribed{MatchID: f.MatchID}, nil

	case dispatch.KindMatchCreated:
		var m model.Match
		if err := decodeData(f, &m); err != nil {
			return nil, err
		}
		return dispatch.MatchCreated{Match: m}, nil

	case dispatch.KindCommentary:
		var c model.Commentary
		if err := decodeData(f, &c); err != nil {
			return nil, err
		}
		if c.MatchID == 0 {
			c.MatchID = f.MatchID
		}
		if c.MatchID == 0 {
			return nil, fmt.Errorf("%w: commentary without matchId", ErrMalformedFrame)
		}
		return dispatch.CommentaryPosted{Commentary: c}, nil

	case dispatch.KindScoreUpdate:
		var s scoreData
		if err := decodeData(f, &s); err != nil {
			return nil, err
		}
		id := f.MatchID
		if id == 0 {
			id = s.MatchID
		}
		if id == 0 || s.HomeScore == nil || s.AwayScore == nil {
			return nil, fmt.Errorf("%w: incomplete score_update", ErrMalformedFrame)
		}
		return dispatch.ScoreUpdated{MatchID: id, HomeScore: *s.HomeScore, AwayScore: *s.AwayScore}, nil

	case dispatch.KindError:
		return dispatch.ErrorEvent{Message: f.Message, FromServer: true}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}

func decodeData(f inboundFrame, out any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return fmt.Errorf("%w: %s without data", ErrMalformedFrame, f.Type)
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Type, err)
	}
	return nil
}
