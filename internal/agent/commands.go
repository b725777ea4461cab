package agent

import (
	"context"
	"log/slog"
	"strings"

	"stampy/internal/config"
	"stampy/internal/domain"
	"stampy/internal/metrics"
)

const (
	helpText = "Use `/quit` to exit daemon mode\n" +
		"Learn more about this bot in [https://github.com/iranzo/stampython](https://github.com/iranzo/stampython)"
	startStopText = "This bot does not use start or stop commands, it automatically checks for karma operands"
)

// CommandHandler reacts to one matched command and reports whether the
// message was fully handled.
type CommandHandler func(ctx context.Context, msg domain.CanonicalMessage) bool

type command struct {
	name   string
	handle CommandHandler
}

// CommandRouter matches the first word of a message against an ordered
// list of commands. The first match wins; an unmatched message is not
// handled.
type CommandRouter struct {
	commands []command
	sender   domain.MessageSender
	settings *config.Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewCommandRouter returns a router with the administrative commands
// /help, /start, /stop and /quit registered in that order.
func NewCommandRouter(sender domain.MessageSender, settings *config.Settings, logger *slog.Logger, m *metrics.Metrics) *CommandRouter {
	if m == nil {
		m = metrics.New(nil)
	}
	r := &CommandRouter{
		sender:   sender,
		settings: settings,
		logger:   logger,
		metrics:  m,
	}
	r.Handle("/help", r.help)
	r.Handle("/start", r.startStop)
	r.Handle("/stop", r.startStop)
	r.Handle("/quit", r.quit)
	return r
}

// Handle appends a command after the ones already registered.
func (r *CommandRouter) Handle(name string, h CommandHandler) {
	r.commands = append(r.commands, command{name: name, handle: h})
}

// ParseCommand returns the first word of text with any "@botname"
// suffix removed, or "" for empty text.
func ParseCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	word, _, _ := strings.Cut(fields[0], "@")
	return word
}

// Route dispatches msg to the first matching command.
func (r *CommandRouter) Route(ctx context.Context, msg domain.CanonicalMessage) bool {
	word := ParseCommand(msg.Text)
	if word == "" {
		return false
	}
	for _, c := range r.commands {
		if c.name != word {
			continue
		}
		r.metrics.Commands.WithLabelValues(c.name).Inc()
		r.logger.Debug("command received", "command", c.name, "chat_id", msg.ChatID, "from", msg.DisplayName())
		return c.handle(ctx, msg)
	}
	return false
}

func (r *CommandRouter) reply(ctx context.Context, msg domain.CanonicalMessage, text, parseMode string) {
	out := domain.OutgoingMessage{
		ChatID:    msg.ChatID,
		Text:      text,
		ReplyTo:   msg.MessageID,
		ParseMode: parseMode,
	}
	if err := r.sender.Send(ctx, out); err != nil {
		r.logger.Error("command reply failed", "chat_id", msg.ChatID, "err", err)
	}
}

// help replies to the owner only and never marks the message handled,
// so plugins still see it.
func (r *CommandRouter) help(ctx context.Context, msg domain.CanonicalMessage) bool {
	if r.settings.IsOwner(ctx, msg.SenderUsername) {
		r.reply(ctx, msg, helpText, "Markdown")
	}
	return false
}

func (r *CommandRouter) startStop(ctx context.Context, msg domain.CanonicalMessage) bool {
	r.reply(ctx, msg, startStopText, "Markdown")
	return true
}

func (r *CommandRouter) quit(ctx context.Context, msg domain.CanonicalMessage) bool {
	if !r.settings.IsOwner(ctx, msg.SenderUsername) {
		return true
	}
	r.logger.Info("owner requested exit from daemon mode", "from", msg.DisplayName())
	if err := r.settings.SetDaemon(ctx, false); err != nil {
		r.logger.Error("cannot clear daemon flag", "err", err)
	}
	return true
}
