package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/metrics"
	"github.com/FranksOps/indexcheck/internal/pipeline"
	"github.com/FranksOps/indexcheck/internal/serp"
	"github.com/FranksOps/indexcheck/internal/storage"
	"github.com/FranksOps/indexcheck/internal/storage/csvbackend"
	"github.com/FranksOps/indexcheck/internal/storage/jsonbackend"
	"github.com/FranksOps/indexcheck/internal/storage/postgres"
	"github.com/FranksOps/indexcheck/internal/storage/redisbackend"
	"github.com/FranksOps/indexcheck/internal/storage/sqlite"
	"github.com/FranksOps/indexcheck/pkg/httpclient"
	"github.com/FranksOps/indexcheck/pkg/useragent"
)

// errNotReady is returned by retrieve with --fail-not-ready while the job runs.
var errNotReady = errors.New("results are not ready yet")

// app holds what the subcommands share: resolved configuration, the logger
// and lazily opened resources.
type app struct {
	v       *viper.Viper
	logger  *slog.Logger
	backend storage.Backend
	client  *serp.Client
	metrics *metrics.Server
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "indexcheck",
		Short:         "Check whether URLs are indexed, using a batch SERP API",
		Version:       useragent.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default ./indexcheck.yaml or ~/.config/indexcheck/indexcheck.yaml)")
	pf.String("store", "sqlite", "run store: sqlite, json, csv, postgres or redis")
	pf.String("dsn", "", "store location: file path, postgres DSN or redis address (default depends on --store)")
	pf.String("redis-password", "", "redis password")
	pf.Int("redis-db", 0, "redis database")
	pf.Duration("redis-ttl", 7*24*time.Hour, "expiry of runs kept in redis, 0 keeps them")
	pf.String("api-key", "", "provider API key")
	pf.String("base-url", serp.DefaultBaseURL, "provider API base URL")
	pf.Duration("timeout", 60*time.Second, "per-call HTTP timeout")
	pf.Float64("rps", 0, "maximum provider calls per second, 0 for unpaced")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.Int("metrics-port", 0, "serve Prometheus metrics on this port, 0 disables")

	root.AddCommand(
		newConfigureCmd(a),
		newSubmitCmd(a),
		newStartCmd(a),
		newRetrieveCmd(a),
		newStatusCmd(a),
		newRunsCmd(a),
		newRunCmd(a),
	)
	return root, a
}

// init binds flags, the environment and the config file into viper and
// builds the logger.
func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix("INDEXCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("indexcheck")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "indexcheck"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger, err := newLogger(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)

	if port := v.GetInt("metrics-port"); port > 0 {
		a.metrics = metrics.Start(port, logger)
		logger.Info("metrics server listening", "port", port)
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, &batch.ConfigurationError{Field: "log-level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, &batch.ConfigurationError{Field: "log-format", Reason: fmt.Sprintf("unknown format %q", format)}
	}
}

// store opens the configured backend once.
func (a *app) store(ctx context.Context) (storage.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	kind := strings.ToLower(a.v.GetString("store"))
	dsn := a.v.GetString("dsn")
	var (
		b   storage.Backend
		err error
	)
	switch kind {
	case "sqlite":
		b, err = sqlite.New(orDefault(dsn, "indexcheck.db"))
	case "json":
		b, err = jsonbackend.New(orDefault(dsn, "indexcheck.ndjson"))
	case "csv":
		b, err = csvbackend.New(orDefault(dsn, "indexcheck_runs.csv"))
	case "postgres":
		if dsn == "" {
			return nil, &batch.ConfigurationError{Field: "dsn", Reason: "is required for the postgres store"}
		}
		b, err = postgres.New(ctx, dsn)
	case "redis":
		b, err = redisbackend.New(ctx, redisbackend.Config{
			Addr:     orDefault(dsn, "localhost:6379"),
			Password: a.v.GetString("redis-password"),
			DB:       a.v.GetInt("redis-db"),
			TTL:      a.v.GetDuration("redis-ttl"),
		})
	default:
		return nil, &batch.ConfigurationError{Field: "store", Reason: fmt.Sprintf("unknown store %q", kind)}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", kind, err)
	}
	a.backend = b
	return b, nil
}

// api builds the provider client once.
func (a *app) api() (*serp.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	hc, err := httpclient.New(httpclient.Config{
		Timeout:   a.v.GetDuration("timeout"),
		UserAgent: useragent.Client,
	})
	if err != nil {
		return nil, err
	}
	c, err := serp.NewClient(serp.Config{
		BaseURL: a.v.GetString("base-url"),
		APIKey:  a.v.GetString("api-key"),
		HTTP:    hc,
		RPS:     a.v.GetFloat64("rps"),
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// pipeline wires the store and, when needRemote is set, the provider client.
func (a *app) pipeline(ctx context.Context, needRemote bool) (*pipeline.Pipeline, error) {
	b, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{
		Backend:             b,
		Credential:          a.v.GetString("api-key"),
		Logger:              a.logger,
		DownloadConcurrency: a.v.GetInt("download-concurrency"),
		ResultSet:           a.v.GetInt("result-set"),
	}
	if needRemote {
		c, err := a.api()
		if err != nil {
			return nil, err
		}
		p.API = c
	}
	return p, nil
}

// runID resolves an optional run id argument, defaulting to the newest run.
func (a *app) runID(ctx context.Context, args []string) (string, error) {
	if len(args) > 0 && args[0] != "latest" {
		return args[0], nil
	}
	b, err := a.store(ctx)
	if err != nil {
		return "", err
	}
	runs, err := b.ListRuns(ctx, storage.Filter{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs stored: %w", storage.ErrNotFound)
	}
	return runs[0].ID, nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close store", "err", err)
		}
	}
	if a.metrics != nil {
		_ = a.metrics.Stop(context.Background())
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
