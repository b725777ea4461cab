package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stampy/internal/domain"
	"stampy/internal/logging"
	"stampy/internal/metrics"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxLines   = 15
	DefaultMaxRetries = 60
	DefaultRetryDelay = time.Second
)

// ErrDeliveryFailed is returned when a page is still rejected after the
// last retry.
var ErrDeliveryFailed = errors.New("message delivery failed")

type SenderConfig struct {
	MaxLines   int
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // constant pause between attempts
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Sender delivers text messages through sendMessage, paginating long text
// and retrying each page until the API accepts it or retries run out.
type Sender struct {
	client     *Client
	maxLines   int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

var _ domain.Outbound = (*Sender)(nil)

func NewSender(client *Client, cfg SenderConfig) *Sender {
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = client.logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = client.metrics
	}
	return &Sender{
		client:     client,
		maxLines:   cfg.MaxLines,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Send delivers msg page by page. Blank pages are skipped and only the
// first delivered page carries ReplyTo.
// A page that cannot be delivered does not stop the remaining pages; the
// failures are joined into the returned error.
func (s *Sender) Send(ctx context.Context, msg domain.OutgoingMessage) error {
	var errs []error
	first := true
	for _, text := range Paginate(msg.Text, s.maxLines) {
		if strings.TrimSpace(text) == "" {
			s.logger.Debug("skipping blank page", "chat_id", msg.ChatID)
			continue
		}
		page := msg
		page.Text = text
		if !first {
			page.ReplyTo = 0
		}
		first = false
		if err := s.deliver(ctx, page); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendSticker sends a sticker once, without retry.
func (s *Sender) SendSticker(ctx context.Context, chatID int64, sticker string, replyTo int) error {
	s.metrics.SendAttempts.Inc()
	if _, err := s.client.SendSticker(ctx, chatID, sticker, replyTo); err != nil {
		s.metrics.MessagesSent.WithLabelValues("dropped").Inc()
		s.logger.Error("error sending sticker", "chat_id", chatID, "sticker", sticker, "err", err)
		return err
	}
	s.metrics.MessagesSent.WithLabelValues("ok").Inc()
	return nil
}

// SendImage sends a photo once, without retry.
func (s *Sender) SendImage(ctx context.Context, chatID int64, photo, caption string, replyTo int) error {
	s.metrics.SendAttempts.Inc()
	if _, err := s.client.SendImage(ctx, chatID, photo, caption, replyTo); err != nil {
		s.metrics.MessagesSent.WithLabelValues("dropped").Inc()
		s.logger.Error("error sending image", "chat_id", chatID, "photo", photo, "err", err)
		return err
	}
	s.metrics.MessagesSent.WithLabelValues("ok").Inc()
	return nil
}

func (s *Sender) deliver(ctx context.Context, msg domain.OutgoingMessage) error {
	query := messageQuery(msg)
	attempts := 0

	op := func() error {
		attempts++
		s.metrics.SendAttempts.Inc()
		resp, err := s.client.call(ctx, "sendMessage", query)
		if err != nil {
			return err
		}
		if !resp.Ok {
			return apiError("sendMessage", resp)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Error("error sending message, retrying",
			"chat_id", msg.ChatID, "attempt", attempts, "retry_in", wait, "err", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), uint64(s.maxRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		s.metrics.MessagesSent.WithLabelValues("dropped").Inc()
		logging.Critical(ctx, s.logger, "permanent error sending message",
			"chat_id", msg.ChatID, "attempts", attempts, "text", msg.Text, "err", err)
		return fmt.Errorf("%w: chat %d after %d attempts: %w", ErrDeliveryFailed, msg.ChatID, attempts, err)
	}

	s.metrics.MessagesSent.WithLabelValues("ok").Inc()
	s.logger.Debug("sending message", "chat_id", msg.ChatID, "reply_to", msg.ReplyTo, "text", msg.Text)
	return nil
}

// messageQuery encodes the sendMessage parameters. Extra is appended raw.
func messageQuery(msg domain.OutgoingMessage) string {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(msg.ChatID, 10))
	q.Set("text", msg.Text)
	if msg.ReplyTo != 0 {
		q.Set("reply_to_message_id", strconv.Itoa(msg.ReplyTo))
	}
	if !msg.EnablePreview {
		q.Set("disable_web_page_preview", "1")
	}
	if msg.ParseMode != "" {
		q.Set("parse_mode", msg.ParseMode)
	}
	query := q.Encode()
	if extra := strings.TrimPrefix(msg.Extra, "&"); extra != "" {
		query += "&" + extra
	}
	return query
}
