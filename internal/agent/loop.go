package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"stampy/internal/config"
	"stampy/internal/domain"
	"stampy/internal/metrics"
)

const defaultPollLimit = 100

type Poller interface {
	Poll(ctx context.Context, offset, limit int) []json.RawMessage
}

type Acknowledger interface {
	Acknowledge(ctx context.Context, offset int) error
}

// PluginRunner runs every loaded plugin against one message and absorbs
// their failures.
type PluginRunner interface {
	RunAll(ctx context.Context, msg domain.CanonicalMessage)
}

type Router interface {
	Route(ctx context.Context, msg domain.CanonicalMessage) bool
}

// Loop is the dispatch engine: poll a batch, normalize each update, run
// the plugins, route commands, then acknowledge the batch.
type Loop struct {
	poller   Poller
	acker    Acknowledger
	plugins  PluginRunner
	router   Router
	settings *config.Settings
	level    *slog.LevelVar
	logger   *slog.Logger
	metrics  *metrics.Metrics
	limit    int

	// offset is the next update id to request; 0 until a batch is acknowledged.
	offset int
}

// LoopConfig holds the dependencies of the dispatch loop.
type LoopConfig struct {
	Poller       Poller
	Acknowledger Acknowledger
	Plugins      PluginRunner
	Router       Router
	Settings     *config.Settings
	Level        *slog.LevelVar // re-synced from the store every cycle; optional
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Limit        int // max updates per poll, default 100
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultPollLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Loop{
		poller:   cfg.Poller,
		acker:    cfg.Acknowledger,
		plugins:  cfg.Plugins,
		router:   cfg.Router,
		settings: cfg.Settings,
		level:    cfg.Level,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		limit:    cfg.Limit,
	}
}

// Run processes one batch and, while the persisted daemon flag is set,
// keeps going with a pause of the persisted sleep interval between
// batches. The flag is read after each batch completes. Cancelling ctx
// stops the loop between batches or during the pause.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		l.RunOnce(ctx)

		if !l.settings.Daemon(ctx) {
			l.logger.Info("daemon mode off, exiting")
			return nil
		}
		wait := l.settings.SleepInterval(ctx)
		l.logger.Debug("sleeping before next poll", "interval", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("shutdown requested, exiting")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce polls a single batch, processes it in server order and
// acknowledges it. An empty batch is never acknowledged. It returns the
// number of updates processed.
func (l *Loop) RunOnce(ctx context.Context) int {
	if l.level != nil {
		l.settings.SyncLogLevel(ctx, l.level)
	}
	l.metrics.Batches.Inc()

	updates := l.poller.Poll(ctx, l.offset, l.limit)
	if len(updates) == 0 {
		l.logger.Debug("no updates")
		return 0
	}

	maxID := 0
	var last domain.CanonicalMessage
	for i, raw := range updates {
		msg := l.process(ctx, raw)
		if i == 0 || msg.UpdateID > maxID {
			maxID = msg.UpdateID
		}
		last = msg
	}

	l.logger.Info("batch processed",
		"messages", len(updates),
		"last_update_id", last.UpdateID,
		"last_sent_at", last.SentAtFormatted,
		"last_text", last.Text)

	next := maxID + 1
	if err := l.acker.Acknowledge(ctx, next); err != nil {
		l.logger.Warn("acknowledge failed, updates will be skipped by cursor", "offset", next, "err", err)
	}
	l.offset = next
	return len(updates)
}

func (l *Loop) process(ctx context.Context, raw json.RawMessage) domain.CanonicalMessage {
	msg := Normalize(raw)
	l.metrics.UpdatesProcessed.Inc()
	if !msg.DecodeOK {
		l.metrics.DecodeFailures.Inc()
		l.logger.Debug("update partially decoded", "update_id", msg.UpdateID, "kind", msg.Kind)
	}
	l.logger.Debug("processing update",
		"update_id", msg.UpdateID,
		"kind", msg.Kind,
		"chat_id", msg.ChatID,
		"chat", msg.ChatName,
		"from", msg.DisplayName(),
		"text", msg.Text)

	if l.plugins != nil {
		l.plugins.RunAll(ctx, msg)
	}
	if l.router != nil && msg.Kind != domain.KindUnknown {
		l.router.Route(ctx, msg)
	}
	return msg
}

// Offset reports the cursor used for the next poll.
func (l *Loop) Offset() int { return l.offset }
