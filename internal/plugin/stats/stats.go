// Package stats is the built-in plugin that keeps per-user and per-chat
// activity rows in the stats table.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"stampy/internal/domain"
	"stampy/internal/store"
)

const (
	Name = "stats"

	TypeUser = "user"
	TypeChat = "chat"
)

// Store is the slice of the state store the plugin needs.
type Store interface {
	GetStat(ctx context.Context, typ string, id int64) (*store.StatRow, error)
	SaveStat(ctx context.Context, row store.StatRow) error
}

type Plugin struct {
	store  Store
	logger *slog.Logger
}

var _ domain.Plugin = (*Plugin)(nil)

func New(st Store, logger *slog.Logger) *Plugin {
	return &Plugin{store: st, logger: logger}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context) error {
	p.logger.Debug("stats plugin ready")
	return nil
}

// Run records the sender and the chat of a fully decoded message.
// Partially decoded updates are ignored.
func (p *Plugin) Run(ctx context.Context, msg domain.CanonicalMessage) error {
	if !msg.DecodeOK {
		return nil
	}
	if err := p.touch(ctx, TypeUser, msg.SenderID, msg.DisplayName(), msg.SentAtFormatted, 0); err != nil {
		return err
	}
	if msg.ChatID == 0 || msg.ChatID == msg.SenderID {
		// private chats mirror the user row
		return nil
	}
	return p.touch(ctx, TypeChat, msg.ChatID, msg.ChatName, msg.SentAtFormatted, msg.SenderID)
}

func (p *Plugin) touch(ctx context.Context, typ string, id int64, name, date string, member int64) error {
	row, err := p.store.GetStat(ctx, typ, id)
	if err != nil {
		return fmt.Errorf("stats %s %d: %w", typ, id, err)
	}
	if row == nil {
		row = &store.StatRow{Type: typ, ID: id}
	}
	if name != "" {
		row.Name = name
	}
	row.Date = date
	row.Count++
	if member != 0 {
		row.MemberID = addMember(row.MemberID, member)
	}

	p.logger.Debug("updating stats", "type", typ, "id", id, "name", row.Name, "count", row.Count)
	return p.store.SaveStat(ctx, *row)
}

// addMember appends id to a space separated id list unless already present.
func addMember(list string, id int64) string {
	s := strconv.FormatInt(id, 10)
	fields := strings.Fields(list)
	for _, f := range fields {
		if f == s {
			return list
		}
	}
	return strings.Join(append(fields, s), " ")
}
