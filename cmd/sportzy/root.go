package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/sportzy/internal/api"
	"github.com/rickgao/sportzy/internal/config"
	"github.com/rickgao/sportzy/internal/version"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "sportzy",
		Short:         "Realtime match and commentary sync",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(
		newWatchCmd(a),
		newMatchesCmd(a),
		newMatchCmd(a),
		newCreateMatchCmd(a),
		newUpdateScoreCmd(a),
		newCommentaryCmd(a),
		newAddCommentaryCmd(a),
	)
	return root
}

// init loads configuration and builds the logger. Errors are printed here
// because the root command silences cobra's own reporting.
func (a *app) init(stderr io.Writer) error {
	cfg, err := config.LoadAndValidate(a.configPath)
	if err == nil && a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(a.logger)
	return nil
}

// apiClient builds the REST client from configuration. m may be nil.
func (a *app) apiClient(m api.Metrics) *api.Client {
	opts := []api.ClientOption{
		api.WithLogger(a.logger),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithRetries(*a.cfg.API.Retries, a.cfg.API.RetryDelay),
	}
	if m != nil {
		opts = append(opts, api.WithMetrics(m))
	}
	return api.NewClient(a.cfg.API.BaseURL, opts...)
}

// fail reports err on stderr and returns it so cobra exits non-zero.
func fail(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		for _, d := range apiErr.Details {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", strings.Join(d.Path, "."), d.Message)
		}
	}
	return err
}
