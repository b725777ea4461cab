package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stampy/internal/agent"
	"stampy/internal/channel"
	"stampy/internal/config"
	"stampy/internal/domain"
	"stampy/internal/logging"
	"stampy/internal/metrics"
	"stampy/internal/plugin"
	"stampy/internal/plugin/stats"
	"stampy/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Bot API allows about 30 requests per second per bot.
const apiRateLimit = 30

func runBot(cmd *cobra.Command, opts config.Options) error {
	level := new(slog.LevelVar)
	if parsed, ok := logging.ParseLevel(opts.Verbosity); ok {
		level.Set(parsed)
	}
	logger, closer, err := logging.New(logging.Options{
		Level:   level,
		LogFile: opts.LogFile,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = logger.With("bot", config.LogName(opts.Database))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(opts.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.CreateSchema(ctx); err != nil {
		logging.Critical(ctx, logger, "cannot prepare database", "path", st.Path(), "err", err)
		return err
	}

	settings := config.NewSettings(st, logger)
	if err := settings.Seed(ctx, opts); err != nil {
		return err
	}
	settings.SyncLogLevel(ctx, level)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	baseURL := settings.URL(ctx)
	if baseURL == "" {
		baseURL = config.DefaultURL
	}
	client := channel.NewClient(channel.ClientConfig{
		BaseURL:   baseURL,
		Token:     settings.Token(ctx),
		RateLimit: apiRateLimit,
		Logger:    logger,
		Metrics:   m,
	})
	sender := channel.NewSender(client, channel.SenderConfig{Logger: logger, Metrics: m})

	plugins := plugin.NewRegistry(plugin.Env{Outbound: sender, Logger: logger}, m)
	plugins.Register(stats.Name, func(env plugin.Env) domain.Plugin { return stats.New(st, env.Logger) })
	manifest, err := plugin.LoadManifest(opts.Plugins)
	if err != nil {
		return err
	}
	plugins.Apply(manifest)
	plugins.InitAll(ctx)

	loop := agent.NewLoop(agent.LoopConfig{
		Poller:       client,
		Acknowledger: client,
		Plugins:      plugins,
		Router:       agent.NewCommandRouter(sender, settings, logger, m),
		Settings:     settings,
		Level:        level,
		Logger:       logger,
		Metrics:      m,
	})

	logger.Info("stampy started",
		"version", version,
		"database", st.Path(),
		"daemon", settings.Daemon(ctx),
		"owner", settings.Owner(ctx),
		"plugins", plugins.Names())
	return runServices(ctx, loop, opts.MetricsAddr, m, logger)
}

// runServices runs the dispatch loop and, when addr is set, the metrics
// listener. The listener is shut down once the loop returns.
func runServices(ctx context.Context, loop *agent.Loop, addr string, m *metrics.Metrics, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return loop.Run(gCtx)
	})

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server starting", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
