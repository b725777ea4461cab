package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"stampy/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// DefaultPollLimit is the largest batch requested from getUpdates.
const DefaultPollLimit = 100

// Client talks to the Telegram Bot API with GET requests whose parameters
// travel in the query string. Endpoints are BaseURL + Token + "/" + method.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type ClientConfig struct {
	BaseURL    string // e.g. "https://api.telegram.org/bot"
	Token      string
	HTTPClient *http.Client
	RateLimit  rate.Limit // requests per second, 0 = unlimited
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

func (c *Client) endpoint(method string) string {
	return c.baseURL + c.token + "/" + method
}

// call issues one GET request and decodes the API envelope. A response with
// ok=false is returned without error; only transport and decode failures
// produce an error.
func (c *Client) call(ctx context.Context, method, query string) (*tgbotapi.APIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	target := c.endpoint(method)
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, c.redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	var out tgbotapi.APIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response (http %d): %w", method, resp.StatusCode, err)
	}
	return &out, nil
}

// redact strips the bot token from transport errors, which embed the URL.
func (c *Client) redact(err error) error {
	if c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
}

func apiError(method string, resp *tgbotapi.APIResponse) error {
	return fmt.Errorf("telegram %s: ok=false: %w", method, tgbotapi.Error{
		Code:    resp.ErrorCode,
		Message: resp.Description,
	})
}

// Poll fetches up to limit pending updates starting at offset (0 = no
// cursor). Failures are logged and yield an empty batch; the updates are
// returned in server order, undecoded.
func (c *Client) Poll(ctx context.Context, offset, limit int) []json.RawMessage {
	if limit <= 0 {
		limit = DefaultPollLimit
	}
	q := url.Values{}
	if offset != 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.call(ctx, "getUpdates", q.Encode())
	if err != nil {
		c.metrics.PollFailures.Inc()
		c.logger.Warn("getting updates failed", "offset", offset, "err", err)
		return nil
	}
	if !resp.Ok {
		c.metrics.PollFailures.Inc()
		c.logger.Warn("getting updates failed", "offset", offset, "err", apiError("getUpdates", resp))
		return nil
	}

	var updates []json.RawMessage
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		c.metrics.PollFailures.Inc()
		c.logger.Warn("cannot decode updates", "err", err)
		return nil
	}
	for _, u := range updates {
		c.logger.Debug("getting updates and returning", "update", string(u))
	}
	return updates
}

// Acknowledge confirms every update below offset so the server stops
// returning them.
func (c *Client) Acknowledge(ctx context.Context, offset int) error {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))

	c.logger.Info("clearing messages", "offset", offset)
	resp, err := c.call(ctx, "getUpdates", q.Encode())
	if err != nil {
		c.logger.Warn("clearing messages failed", "offset", offset, "err", err)
		return err
	}
	if !resp.Ok {
		err := apiError("getUpdates", resp)
		c.logger.Warn("clearing messages failed", "offset", offset, "err", err)
		return err
	}
	c.metrics.Acknowledged.Inc()
	return nil
}

// SendSticker sends a sticker, optionally as a reply. No retry.
func (c *Client) SendSticker(ctx context.Context, chatID int64, sticker string, replyTo int) (*tgbotapi.APIResponse, error) {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	q.Set("sticker", sticker)
	if replyTo != 0 {
		q.Set("reply_to_message_id", strconv.Itoa(replyTo))
	}
	c.logger.Debug("sending sticker", "chat_id", chatID, "sticker", sticker)
	resp, err := c.call(ctx, "sendSticker", q.Encode())
	if err != nil {
		return nil, err
	}
	if !resp.Ok {
		return resp, apiError("sendSticker", resp)
	}
	return resp, nil
}

// SendImage sends a photo by URI or file id with an optional caption. No retry.
func (c *Client) SendImage(ctx context.Context, chatID int64, photo, caption string, replyTo int) (*tgbotapi.APIResponse, error) {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	q.Set("photo", photo)
	if replyTo != 0 {
		q.Set("reply_to_message_id", strconv.Itoa(replyTo))
	}
	if caption != "" {
		q.Set("caption", caption)
	}
	c.logger.Debug("sending image", "chat_id", chatID, "caption", caption)
	resp, err := c.call(ctx, "sendPhoto", q.Encode())
	if err != nil {
		return nil, err
	}
	if !resp.Ok {
		return resp, apiError("sendPhoto", resp)
	}
	return resp, nil
}
