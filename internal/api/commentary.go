package api

import (
	"context"
	"net/http"

	"github.com/rickgao/sportzy/internal/model"
)

// GetCommentary returns up to limit commentary entries for a match.
func (c *Client) GetCommentary(ctx context.Context, matchID int64, limit int) ([]model.Commentary, error) {
	items, err := Do[[]model.Commentary](ctx, c, matchPath(matchID)+"/commentary", RequestOptions{
		Query: limitQuery(limit),
		Route: "/matches/{id}/commentary",
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Commentary{}
	}
	return items, nil
}

// CreateCommentary validates req and posts a commentary entry to a match.
func (c *Client) CreateCommentary(ctx context.Context, matchID int64, req model.CreateCommentaryRequest) (model.Commentary, error) {
	path := matchPath(matchID) + "/commentary"
	if err := model.Validate(req); err != nil {
		return model.Commentary{}, validationError(http.MethodPost, path, err)
	}

	return Do[model.Commentary](ctx, c, path, RequestOptions{
		Method: http.MethodPost,
		Body:   req,
		Route:  "/matches/{id}/commentary",
	})
}
