package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stampy/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, reply func(string, url.Values) string) (*Sender, *fakeAPI) {
	t.Helper()
	client, api, m := newTestClient(t, reply)
	sender := NewSender(client, SenderConfig{
		RetryDelay: time.Millisecond,
		Logger:     testLogger(),
		Metrics:    m,
	})
	return sender, api
}

func okReply(string, url.Values) string {
	return `{"ok":true,"result":{"message_id":1}}`
}

func TestSend_ShortTextSingleCall(t *testing.T) {
	sender, api := newTestSender(t, okReply)

	text := strings.Join(numberedLines(15), "\n")
	err := sender.Send(context.Background(), domain.OutgoingMessage{ChatID: 5, Text: text, ReplyTo: 3})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	q := calls[0].Query
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, "5", q.Get("chat_id"))
	assert.Equal(t, text, q.Get("text"))
	assert.Equal(t, "3", q.Get("reply_to_message_id"))
	assert.Equal(t, "1", q.Get("disable_web_page_preview"))
	assert.False(t, q.Has("parse_mode"))
}

func TestSend_LongTextSplitsAndRepliesOnce(t *testing.T) {
	sender, api := newTestSender(t, okReply)

	lines := numberedLines(20)
	err := sender.Send(context.Background(), domain.OutgoingMessage{
		ChatID:    5,
		Text:      strings.Join(lines, "\n"),
		ReplyTo:   3,
		ParseMode: "Markdown",
	})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, strings.Join(lines[:15], "\n"), calls[0].Query.Get("text"))
	assert.Equal(t, strings.Join(lines[15:], "\n"), calls[1].Query.Get("text"))
	assert.Equal(t, "3", calls[0].Query.Get("reply_to_message_id"))
	assert.False(t, calls[1].Query.Has("reply_to_message_id"))
	for _, c := range calls {
		assert.Equal(t, "Markdown", c.Query.Get("parse_mode"))
	}
}

func TestSend_PreviewAndExtra(t *testing.T) {
	sender, api := newTestSender(t, okReply)

	err := sender.Send(context.Background(), domain.OutgoingMessage{
		ChatID:        5,
		Text:          "see https://example.com & more",
		EnablePreview: true,
		Extra:         "reply_markup=%7B%7D",
	})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	q := calls[0].Query
	assert.False(t, q.Has("disable_web_page_preview"))
	assert.Equal(t, "see https://example.com & more", q.Get("text"))
	assert.Equal(t, "{}", q.Get("reply_markup"))
	assert.True(t, strings.HasSuffix(calls[0].Raw, "&reply_markup=%7B%7D"))
}

func TestSend_RetriesUntilAccepted(t *testing.T) {
	var n atomic.Int32
	sender, api := newTestSender(t, func(string, url.Values) string {
		if n.Add(1) < 3 {
			return `{"ok":false,"error_code":429,"description":"Too Many Requests"}`
		}
		return `{"ok":true,"result":{"message_id":1}}`
	})

	require.NoError(t, sender.Send(context.Background(), domain.OutgoingMessage{ChatID: 1, Text: "hi"}))
	assert.Len(t, api.Calls(), 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(sender.metrics.MessagesSent.WithLabelValues("ok")))
}

func TestSend_GivesUpAfterSixtyOneAttempts(t *testing.T) {
	sender, api := newTestSender(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":400,"description":"Bad Request"}`
	})

	err := sender.Send(context.Background(), domain.OutgoingMessage{ChatID: 1, Text: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.Len(t, api.Calls(), 61)
	assert.Equal(t, 61.0, testutil.ToFloat64(sender.metrics.SendAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(sender.metrics.MessagesSent.WithLabelValues("dropped")))
}

func TestSend_FailedPageDoesNotStopLaterPages(t *testing.T) {
	sender, api := newTestSender(t, func(_ string, q url.Values) string {
		if strings.HasPrefix(q.Get("text"), "line 0") {
			return `{"ok":false,"description":"nope"}`
		}
		return `{"ok":true,"result":{}}`
	})
	sender.maxRetries = 1

	err := sender.Send(context.Background(), domain.OutgoingMessage{
		ChatID: 1,
		Text:   strings.Join(numberedLines(20), "\n"),
	})
	require.ErrorIs(t, err, ErrDeliveryFailed)
	// two attempts on the first page, one on the second
	assert.Len(t, api.Calls(), 3)
}

func TestSend_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	sender, api := newTestSender(t, func(string, url.Values) string {
		if n.Add(1) == 2 {
			cancel()
		}
		return `{"ok":false,"description":"flood"}`
	})
	sender.retryDelay = 10 * time.Millisecond

	err := sender.Send(ctx, domain.OutgoingMessage{ChatID: 1, Text: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(api.Calls()), 61)
}

func TestMessageQuery_Encoding(t *testing.T) {
	got := messageQuery(domain.OutgoingMessage{ChatID: -42, Text: "a b&c", ReplyTo: 9, ParseMode: "HTML"})
	q, err := url.ParseQuery(got)
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"chat_id":                  {"-42"},
		"text":                     {"a b&c"},
		"reply_to_message_id":      {"9"},
		"disable_web_page_preview": {"1"},
		"parse_mode":               {"HTML"},
	}, q)
}

func ExamplePaginate() {
	pages := Paginate("one\ntwo\nthree", 2)
	fmt.Println(len(pages))
	fmt.Printf("%q\n", pages[1])
	// Output:
	// 2
	// "three"
}

// rejectEmptyText answers like the Bot API does for blank sendMessage text.
func rejectEmptyText(_ string, q url.Values) string {
	if strings.TrimSpace(q.Get("text")) == "" {
		return `{"ok":false,"error_code":400,"description":"Bad Request: message text is empty"}`
	}
	return `{"ok":true,"result":{"message_id":1}}`
}

func TestSend_TrailingNewlineSingleCall(t *testing.T) {
	sender, api := newTestSender(t, rejectEmptyText)

	text := strings.Join(numberedLines(15), "\n") + "\n"
	require.NoError(t, sender.Send(context.Background(), domain.OutgoingMessage{ChatID: 1, Text: text}))
	assert.Len(t, api.Calls(), 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(sender.metrics.MessagesSent.WithLabelValues("dropped")))
}

func TestSend_BlankPagesAreSkipped(t *testing.T) {
	sender, api := newTestSender(t, rejectEmptyText)

	lines := numberedLines(16)
	for i := 0; i < 15; i++ {
		lines[i] = ""
	}
	err := sender.Send(context.Background(), domain.OutgoingMessage{ChatID: 1, Text: strings.Join(lines, "\n"), ReplyTo: 4})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "line 15", calls[0].Query.Get("text"))
	assert.Equal(t, "4", calls[0].Query.Get("reply_to_message_id"), "first delivered page carries the reply")
}

func TestSend_WhitespaceOnlyTextSendsNothing(t *testing.T) {
	sender, api := newTestSender(t, rejectEmptyText)

	require.NoError(t, sender.Send(context.Background(), domain.OutgoingMessage{ChatID: 1, Text: "  \n\n"}))
	assert.Empty(t, api.Calls())
}

func TestSender_MediaDelegatesToClient(t *testing.T) {
	sender, api := newTestSender(t, okReply)
	var out domain.Outbound = sender
	ctx := context.Background()

	require.NoError(t, out.SendSticker(ctx, 3, "CAADBAAD", 9))
	require.NoError(t, out.SendImage(ctx, 3, "https://example.com/p.png", "karma chart", 0))

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sendSticker", calls[0].Method)
	assert.Equal(t, "9", calls[0].Query.Get("reply_to_message_id"))
	assert.Equal(t, "sendPhoto", calls[1].Method)
	assert.Equal(t, "karma chart", calls[1].Query.Get("caption"))
	assert.Equal(t, 2.0, testutil.ToFloat64(sender.metrics.MessagesSent.WithLabelValues("ok")))
}

func TestSender_MediaFailureIsNotRetried(t *testing.T) {
	sender, api := newTestSender(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":400,"description":"wrong file identifier"}`
	})

	err := sender.SendSticker(context.Background(), 3, "bad", 0)
	assert.ErrorContains(t, err, "wrong file identifier")
	assert.Len(t, api.Calls(), 1)
}
