package agent

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"stampy/internal/config"
	"stampy/internal/domain"
	"stampy/internal/store"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stampy.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return config.NewSettings(s, testLogger())
}

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.OutgoingMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg domain.OutgoingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingSender) Sent() []domain.OutgoingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OutgoingMessage(nil), r.sent...)
}
