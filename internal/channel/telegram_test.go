package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sync"
	"testing"
	"time"

	"stampy/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:ABC"

type apiCall struct {
	Path   string
	Method string
	Query  url.Values
	Raw    string
}

// fakeAPI is a Bot API stand-in that records every request and answers
// through reply.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	reply func(method string, q url.Values) string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{
		Path:   r.URL.Path,
		Method: method,
		Query:  r.URL.Query(),
		Raw:    r.URL.RawQuery,
	})
	reply := f.reply
	f.mu.Unlock()

	body := `{"ok":true,"result":true}`
	if reply != nil {
		body = reply(method, r.URL.Query())
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, reply func(string, url.Values) string) (*Client, *fakeAPI, *metrics.Metrics) {
	t.Helper()
	api := &fakeAPI{reply: reply}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	m := metrics.New(nil)
	client := NewClient(ClientConfig{
		BaseURL:    srv.URL + "/bot",
		Token:      testToken,
		HTTPClient: srv.Client(),
		Logger:     testLogger(),
		Metrics:    m,
	})
	return client, api, m
}

func TestPoll_ReturnsUpdatesInOrder(t *testing.T) {
	client, api, _ := newTestClient(t, func(string, url.Values) string {
		return `{"ok":true,"result":[{"update_id":5,"message":{"text":"a"}},{"update_id":6}]}`
	})

	updates := client.Poll(context.Background(), 0, 100)
	require.Len(t, updates, 2)
	assert.JSONEq(t, `{"update_id":5,"message":{"text":"a"}}`, string(updates[0]))
	assert.JSONEq(t, `{"update_id":6}`, string(updates[1]))

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/bot"+testToken+"/getUpdates", calls[0].Path)
	assert.Equal(t, "100", calls[0].Query.Get("limit"))
	assert.False(t, calls[0].Query.Has("offset"), "offset 0 is omitted")
}

func TestPoll_SendsOffset(t *testing.T) {
	client, api, _ := newTestClient(t, func(string, url.Values) string {
		return `{"ok":true,"result":[]}`
	})

	updates := client.Poll(context.Background(), 42, 0)
	assert.Empty(t, updates)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "42", calls[0].Query.Get("offset"))
	assert.Equal(t, "100", calls[0].Query.Get("limit"))
}

func TestPoll_NotOKYieldsEmptyBatch(t *testing.T) {
	client, _, m := newTestClient(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":401,"description":"Unauthorized"}`
	})

	assert.Empty(t, client.Poll(context.Background(), 0, 100))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollFailures))
}

func TestPoll_GarbageYieldsEmptyBatch(t *testing.T) {
	client, _, m := newTestClient(t, func(string, url.Values) string {
		return `<html>bad gateway</html>`
	})

	assert.Empty(t, client.Poll(context.Background(), 0, 100))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollFailures))
}

func TestPoll_TransportErrorYieldsEmptyBatch(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(ClientConfig{
		BaseURL:    srv.URL + "/bot",
		Token:      testToken,
		HTTPClient: &http.Client{Timeout: time.Second},
		Logger:     testLogger(),
	})
	assert.Empty(t, client.Poll(context.Background(), 0, 100))
}

func TestAcknowledge_SendsOffsetOnly(t *testing.T) {
	client, api, m := newTestClient(t, func(string, url.Values) string {
		return `{"ok":true,"result":[]}`
	})

	require.NoError(t, client.Acknowledge(context.Background(), 6))

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "getUpdates", calls[0].Method)
	assert.Equal(t, "offset=6", calls[0].Raw)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acknowledged))
}

func TestAcknowledge_NotOK(t *testing.T) {
	client, _, m := newTestClient(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":409,"description":"Conflict"}`
	})

	err := client.Acknowledge(context.Background(), 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conflict")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Acknowledged))
}

func TestSendSticker(t *testing.T) {
	client, api, _ := newTestClient(t, func(string, url.Values) string {
		return `{"ok":true,"result":{"message_id":9}}`
	})

	resp, err := client.SendSticker(context.Background(), -100, "CAADBAAD", 7)
	require.NoError(t, err)
	assert.True(t, resp.Ok)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendSticker", calls[0].Method)
	assert.Equal(t, "-100", calls[0].Query.Get("chat_id"))
	assert.Equal(t, "CAADBAAD", calls[0].Query.Get("sticker"))
	assert.Equal(t, "7", calls[0].Query.Get("reply_to_message_id"))
}

func TestSendImage_NoRetry(t *testing.T) {
	client, api, _ := newTestClient(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":400,"description":"wrong file"}`
	})

	resp, err := client.SendImage(context.Background(), 1, "https://example.com/a.png", "a caption", 0)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Ok)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendPhoto", calls[0].Method)
	assert.Equal(t, "https://example.com/a.png", calls[0].Query.Get("photo"))
	assert.Equal(t, "a caption", calls[0].Query.Get("caption"))
	assert.False(t, calls[0].Query.Has("reply_to_message_id"))
}

func TestRedact_HidesToken(t *testing.T) {
	client := NewClient(ClientConfig{Token: testToken, Logger: testLogger()})
	err := client.redact(&url.Error{Op: "Get", URL: "https://api.telegram.org/bot" + testToken + "/getUpdates", Err: io.EOF})
	assert.NotContains(t, err.Error(), testToken)
	assert.Contains(t, err.Error(), "<token>")
}
