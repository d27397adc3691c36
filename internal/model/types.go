package model

import "maps"

// MatchStatus is the lifecycle state of a match. Transitions are
// scheduled -> live -> finished and are enforced server-side.
type MatchStatus string

const (
	StatusScheduled MatchStatus = "scheduled"
	StatusLive      MatchStatus = "live"
	StatusFinished  MatchStatus = "finished"
)

// DefaultSport is applied to new matches that do not name a sport.
const DefaultSport = "football"

// -----------------------------------------------------------------------------
// Entities
// -----------------------------------------------------------------------------

// Match is a scheduled, live or finished fixture between two teams.
type Match struct {
	ID        int64       `json:"id"`
	Sport     string      `json:"sport"`
	HomeTeam  string      `json:"homeTeam"`
	AwayTeam  string      `json:"awayTeam"`
	Status    MatchStatus `json:"status"`
	StartTime string      `json:"startTime"` // ISO 8601
	EndTime   string      `json:"endTime"`   // ISO 8601
	HomeScore int         `json:"homeScore"`
	AwayScore int         `json:"awayScore"`
	CreatedAt string      `json:"createdAt"` // ISO 8601
}

// IsLive reports whether the match is currently in play.
func (m Match) IsLive() bool {
	return m.Status == StatusLive
}

// MatchPatch is a merge-patch for a Match. Nil fields are left untouched.
type MatchPatch struct {
	Sport     *string
	HomeTeam  *string
	AwayTeam  *string
	Status    *MatchStatus
	StartTime *string
	EndTime   *string
	HomeScore *int
	AwayScore *int
}

// ScorePatch builds a patch that sets both scores.
func ScorePatch(home, away int) MatchPatch {
	return MatchPatch{HomeScore: &home, AwayScore: &away}
}

// IsEmpty reports whether the patch changes nothing.
func (p MatchPatch) IsEmpty() bool {
	return p == MatchPatch{}
}

// Apply returns m with the non-nil fields of p applied. ID and CreatedAt are
// never patched.
func (p MatchPatch) Apply(m Match) Match {
	if p.Sport != nil {
		m.Sport = *p.Sport
	}
	if p.HomeTeam != nil {
		m.HomeTeam = *p.HomeTeam
	}
	if p.AwayTeam != nil {
		m.AwayTeam = *p.AwayTeam
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.StartTime != nil {
		m.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		m.EndTime = *p.EndTime
	}
	if p.HomeScore != nil {
		m.HomeScore = *p.HomeScore
	}
	if p.AwayScore != nil {
		m.AwayScore = *p.AwayScore
	}
	return m
}

// Commentary is a single play-by-play entry for a match. Entries are
// immutable once created.
type Commentary struct {
	ID        int64          `json:"id"`
	MatchID   int64          `json:"matchId"`
	Minute    *int           `json:"minute"`
	Sequence  int            `json:"sequence"`
	Period    *string        `json:"period"`
	EventType string         `json:"eventType"`
	Actor     *string        `json:"actor"`
	Team      *string        `json:"team"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
	Tags      []string       `json:"tags"`
	CreatedAt string         `json:"createdAt"`
}

// Clone returns a copy of c that shares no maps or slices with it.
func (c Commentary) Clone() Commentary {
	if c.Metadata != nil {
		c.Metadata = maps.Clone(c.Metadata)
	}
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// CreateMatchRequest is the body of POST /matches.
type CreateMatchRequest struct {
	Sport     string `json:"sport"`
	HomeTeam  string `json:"homeTeam" validate:"required"`
	AwayTeam  string `json:"awayTeam" validate:"required"`
	StartTime string `json:"startTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime   string `json:"endTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	HomeScore *int   `json:"homeScore,omitempty" validate:"omitempty,gte=0"`
	AwayScore *int   `json:"awayScore,omitempty" validate:"omitempty,gte=0"`
}

// UpdateScoreRequest is the body of PATCH /matches/{id}/score.
type UpdateScoreRequest struct {
	HomeScore int `json:"homeScore" validate:"gte=0"`
	AwayScore int `json:"awayScore" validate:"gte=0"`
}

// CreateCommentaryRequest is the body of POST /matches/{id}/commentary.
type CreateCommentaryRequest struct {
	Minute    int            `json:"minute" validate:"gte=0"`
	Sequence  *int           `json:"sequence,omitempty" validate:"omitempty,gte=0"`
	Period    string         `json:"period,omitempty"`
	EventType string         `json:"eventType,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Team      string         `json:"team,omitempty"`
	Message   string         `json:"message" validate:"required"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
}
