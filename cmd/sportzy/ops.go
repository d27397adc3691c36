package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rickgao/sportzy/internal/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseMatchID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid match id %q", arg)
	}
	return id, nil
}

func newMatchesCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "List matches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Feed.MatchLimit
			}
			matches, err := a.apiClient(nil).GetMatches(cmd.Context(), limit)
			if err != nil {
				return fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), matches)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum matches to return (default from config)")
	return cmd
}

func newMatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "match <id>",
		Short: "Show one match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMatchID(args[0])
			if err != nil {
				return fail(cmd, err)
			}
			m, err := a.apiClient(nil).GetMatch(cmd.Context(), id)
			if err != nil {
				return fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newCreateMatchCmd(a *app) *cobra.Command {
	var (
		req                  model.CreateMatchRequest
		homeScore, awayScore int
	)
	cmd := &cobra.Command{
		Use:   "create-match",
		Short: "Create a match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("home-score") {
				req.HomeScore = &homeScore
			}
			if cmd.Flags().Changed("away-score") {
				req.AwayScore = &awayScore
			}
			m, err := a.apiClient(nil).CreateMatch(cmd.Context(), req)
			if err != nil {
				return fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Sport, "sport", model.DefaultSport, "sport")
	f.StringVar(&req.HomeTeam, "home", "", "home team")
	f.StringVar(&req.AwayTeam, "away", "", "away team")
	f.StringVar(&req.StartTime, "start", "", "kick-off time (RFC 3339)")
	f.StringVar(&req.EndTime, "end", "", "end time (RFC 3339)")
	f.IntVar(&homeScore, "home-score", 0, "initial home score")
	f.IntVar(&awayScore, "away-score", 0, "initial away score")
	return cmd
}

func newUpdateScoreCmd(a *app) *cobra.Command {
	var req model.UpdateScoreRequest
	cmd := &cobra.Command{
		Use:   "update-score <id>",
		Short: "Set both scores of a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMatchID(args[0])
			if err != nil {
				return fail(cmd, err)
			}
			m, err := a.apiClient(nil).UpdateScore(cmd.Context(), id, req)
			if err != nil {
				return fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().IntVar(&req.HomeScore, "home", 0, "home score")
	cmd.Flags().IntVar(&req.AwayScore, "away", 0, "away score")
	cmd.MarkFlagRequired("home")
	cmd.MarkFlagRequired("away")
	return cmd
}

func newCommentaryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "commentary <id>",
		Short: "List a match's commentary, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMatchID(args[0])
			if err != nil {
				return fail(cmd, err)
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Feed.CommentaryLimit
			}
			items, err := a.apiClient(nil).GetCommentary(cmd.Context(), id, limit)
			if err != nil {
				return fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to return (default from config)")
	return cmd
}

func newAddCommentaryCmd(a *app) *cobra.Command {
	var (
		req      model.CreateCommentaryRequest
		sequence int
	)
	cmd := &cobra.Command{
		Use:   "add-commentary <id>",
		Short: "Post a commentary entry to a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMatchID(args[0])
			if err != nil {
				return fail(cmd, err)
			}
			if cmd.Flags().Changed("sequence") {
				req.Sequence = &sequence
			}
			c, err := a.apiClient(nil).CreateCommentary(cmd.Context(), id, req)
			if err != nil {
				return fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.Minute, "minute", 0, "match minute")
	f.IntVar(&sequence, "sequence", 0, "ordering within the minute")
	f.StringVar(&req.Period, "period", "", "period, e.g. 1H")
	f.StringVar(&req.EventType, "event-type", "", "event type, e.g. goal")
	f.StringVar(&req.Actor, "actor", "", "player involved")
	f.StringVar(&req.Team, "team", "", "team involved")
	f.StringVar(&req.Message, "message", "", "commentary text")
	f.StringSliceVar(&req.Tags, "tag", nil, "tag (repeatable)")
	return cmd
}
