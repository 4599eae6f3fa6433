package cli

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/config"
	"github.com/roach88/roomdag/internal/engine"
	"github.com/roach88/roomdag/internal/store"
)

// session is the configured store, and for writing commands the engine,
// one command works against.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	engine *engine.Engine
}

// loadConfig resolves the configuration from the global flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: o.Config, EnvFile: o.EnvFile})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err).WithCode(ErrCodeConfig)
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	return cfg, nil
}

// logger writes structured logs to stderr at the configured level, or at
// debug level with --verbose.
func (o *RootOptions) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := cfg.LogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openStore loads config and opens the store without an engine. Read
// commands use it so a query never writes: horizon markers are only
// resumed by commands that admit or reindex.
func (o *RootOptions) openStore(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.logger(cmd, cfg)

	st, err := store.Open(cfg.Database.Path, cfg.StoreOptions(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err).WithCode(ErrCodeStore)
	}
	return &session{cfg: cfg, logger: logger, store: st}, nil
}

// openSession opens the store and starts an engine over it. The engine
// reloads pending horizon markers and resolves any whose missing event is
// already stored. Metrics go to reg; nil discards them.
func (o *RootOptions) openSession(ctx context.Context, cmd *cobra.Command, reg prometheus.Registerer) (*session, error) {
	sess, err := o.openStore(cmd)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	store.RegisterStoreMetrics(reg, sess.store)

	cfg := sess.cfg
	opts := []engine.Option{
		engine.WithIndexOptions(cfg.IndexOptions()),
		engine.WithAuthorize(cfg.Admission.Authorize),
		engine.WithShards(cfg.Admission.Shards),
		engine.WithQueueSize(cfg.Admission.QueueSize),
		engine.WithMaxEventBytes(cfg.MaxEventBytes()),
		engine.WithLogger(sess.logger),
		engine.WithMetrics(store.NewMetrics(reg)),
	}
	if o.Traces != nil {
		opts = append(opts, engine.WithTraceGenerator(o.Traces))
	}
	sess.engine, err = engine.New(ctx, sess.store, opts...)
	if err != nil {
		sess.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err).WithCode(ErrCodeStore)
	}
	return sess, nil
}

func (s *session) Close() error {
	return s.store.Close()
}
