package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stampy/internal/logging"
)

// StatRow is one row of the stats table. Type is "user" or "chat".
type StatRow struct {
	Type     string
	ID       int64
	Name     string
	Date     string
	Count    int64
	MemberID string
}

// GetStat returns the stats row for (typ, id), or nil when none exists.
func (s *SQLiteStore) GetStat(ctx context.Context, typ string, id int64) (*StatRow, error) {
	var row *StatRow
	err := s.withSchema(ctx, func() error {
		row = nil
		var name, date, member sql.NullString
		var count sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT name, date, count, memberid FROM stats WHERE type = ? AND id = ?`, typ, id,
		).Scan(&name, &date, &count, &member)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		row = &StatRow{
			Type:     typ,
			ID:       id,
			Name:     name.String,
			Date:     date.String,
			Count:    count.Int64,
			MemberID: member.String,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get stat %s/%d: %w", typ, id, err)
	}
	return row, nil
}

// SaveStat inserts or replaces the stats row identified by (Type, ID).
func (s *SQLiteStore) SaveStat(ctx context.Context, row StatRow) error {
	err := s.withSchema(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE stats SET name = ?, date = ?, count = ?, memberid = ? WHERE type = ? AND id = ?`,
			row.Name, row.Date, row.Count, row.MemberID, row.Type, row.ID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO stats (type, id, name, date, count, memberid) VALUES (?, ?, ?, ?, ?, ?)`,
			row.Type, row.ID, row.Name, row.Date, row.Count, row.MemberID,
		)
		return err
	})
	if err != nil {
		s.logger.Log(ctx, logging.LevelCritical, "error on SQL execution", "op", "save stat", "type", row.Type, "id", row.ID, "err", err)
		return fmt.Errorf("save stat %s/%d: %w", row.Type, row.ID, err)
	}
	return nil
}
