package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/sportzy/internal/model"
)

// GetMatches returns up to limit matches. A limit of zero lets the server
// choose.
func (c *Client) GetMatches(ctx context.Context, limit int) ([]model.Match, error) {
	matches, err := Do[[]model.Match](ctx, c, "/matches", RequestOptions{
		Query: limitQuery(limit),
	})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []model.Match{}
	}
	return matches, nil
}

// GetMatch returns a single match.
func (c *Client) GetMatch(ctx context.Context, id int64) (model.Match, error) {
	return Do[model.Match](ctx, c, matchPath(id), RequestOptions{
		Route: "/matches/{id}",
	})
}

// CreateMatch validates req and creates a match. An empty sport defaults to
// model.DefaultSport.
func (c *Client) CreateMatch(ctx context.Context, req model.CreateMatchRequest) (model.Match, error) {
	if req.Sport == "" {
		req.Sport = model.DefaultSport
	}
	if err := model.Validate(req); err != nil {
		return model.Match{}, validationError(http.MethodPost, "/matches", err)
	}

	return Do[model.Match](ctx, c, "/matches", RequestOptions{
		Method: http.MethodPost,
		Body:   req,
	})
}

// UpdateScore sets both scores of a match and returns the updated match.
func (c *Client) UpdateScore(ctx context.Context, id int64, req model.UpdateScoreRequest) (model.Match, error) {
	path := matchPath(id) + "/score"
	if err := model.Validate(req); err != nil {
		return model.Match{}, validationError(http.MethodPatch, path, err)
	}

	return Do[model.Match](ctx, c, path, RequestOptions{
		Method: http.MethodPatch,
		Body:   req,
		Route:  "/matches/{id}/score",
	})
}

func matchPath(id int64) string {
	return "/matches/" + strconv.FormatInt(id, 10)
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	return q
}
