package agent

import (
	"encoding/json"
	"strconv"
	"time"

	"stampy/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Normalize converts one raw update into a CanonicalMessage. It never
// fails: fields that cannot be read keep their zero value. The typed
// Bot API decoding is tried first; when a field has an unexpected JSON
// type the update is re-read field by field from a generic map.
func Normalize(raw json.RawMessage) domain.CanonicalMessage {
	msg := domain.CanonicalMessage{Raw: raw}

	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err == nil {
		fromTyped(&msg, update)
	} else {
		fromGeneric(&msg, raw)
	}

	if msg.SentAt != 0 {
		// host local time, as stats.date rows have always been written
		msg.SentAtFormatted = time.Unix(msg.SentAt, 0).Local().Format(domain.SentAtLayout)
	}
	msg.DecodeOK = msg.MessageID != 0 && msg.SentAt != 0 &&
		msg.SenderID != 0 && msg.SenderFirstName != ""
	return msg
}

func fromTyped(msg *domain.CanonicalMessage, update tgbotapi.Update) {
	msg.UpdateID = update.UpdateID

	var m *tgbotapi.Message
	switch {
	case update.Message != nil:
		msg.Kind, m = domain.KindMessage, update.Message
	case update.ChannelPost != nil:
		msg.Kind, m = domain.KindChannelPost, update.ChannelPost
	default:
		return
	}

	msg.Text = m.Text
	msg.MessageID = m.MessageID
	msg.SentAt = int64(m.Date)
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.ChatName = m.Chat.Title
	}
	if m.From != nil {
		msg.SenderID = m.From.ID
		msg.SenderFirstName = m.From.FirstName
		msg.SenderLastName = m.From.LastName
		msg.SenderUsername = m.From.UserName
	}
}

func fromGeneric(msg *domain.CanonicalMessage, raw json.RawMessage) {
	var update map[string]any
	if err := json.Unmarshal(raw, &update); err != nil {
		return
	}
	msg.UpdateID = int(intAt(update, "update_id"))

	var m map[string]any
	if w, ok := update["message"].(map[string]any); ok {
		msg.Kind, m = domain.KindMessage, w
	} else if w, ok := update["channel_post"].(map[string]any); ok {
		msg.Kind, m = domain.KindChannelPost, w
	} else {
		return
	}

	msg.Text = stringAt(m, "text")
	msg.MessageID = int(intAt(m, "message_id"))
	msg.SentAt = intAt(m, "date")
	msg.ChatID = intAt(m, "chat", "id")
	msg.ChatName = stringAt(m, "chat", "title")
	msg.SenderID = intAt(m, "from", "id")
	msg.SenderFirstName = stringAt(m, "from", "first_name")
	msg.SenderLastName = stringAt(m, "from", "last_name")
	msg.SenderUsername = stringAt(m, "from", "username")
}

func lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringAt(m map[string]any, path ...string) string {
	v, _ := lookup(m, path...)
	s, _ := v.(string)
	return s
}

// intAt accepts JSON numbers and numeric strings.
func intAt(m map[string]any, path ...string) int64 {
	v, _ := lookup(m, path...)
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
