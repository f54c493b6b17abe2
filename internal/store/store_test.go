package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bothive/engine/internal/host"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBracketCountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBracketCount(ctx, 1, host.FactionAlliance, 12))
	require.NoError(t, s.SaveBracketCount(ctx, 1, host.FactionHorde, 7))
	require.NoError(t, s.SaveBracketCount(ctx, 40, host.FactionAlliance, 3))

	// Upsert overwrites.
	require.NoError(t, s.SaveBracketCount(ctx, 1, host.FactionAlliance, 15))

	counts, err := s.LoadBracketCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []BracketCount{
		{MinLevel: 1, Faction: host.FactionAlliance, Count: 15},
		{MinLevel: 1, Faction: host.FactionHorde, Count: 7},
		{MinLevel: 40, Faction: host.FactionAlliance, Count: 3},
	}, counts)
}

func TestRetirementProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRetirement(7, "clearing_mail", 0, 30, host.FactionHorde))
	require.NoError(t, s.SaveRetirement(9, "leaving_guild", 2, 54, host.FactionAlliance))
	require.NoError(t, s.SaveRetirement(7, "saving_state", 1, 30, host.FactionHorde))

	rows, err := s.PendingRetirements(ctx)
	require.NoError(t, err)
	require.Equal(t, []RetirementRow{
		{BotID: 7, Stage: "saving_state", Attempts: 1, Level: 30, Faction: host.FactionHorde},
		{BotID: 9, Stage: "leaving_guild", Attempts: 2, Level: 54, Faction: host.FactionAlliance},
	}, rows)

	require.NoError(t, s.ClearRetirement(7))
	rows, err = s.PendingRetirements(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, uint64(9), rows[0].BotID)
}

func TestAsyncExec(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := make(chan error, 1)
	s.Async(`INSERT INTO bracket_counters (min_level, faction, count) VALUES (?, ?, ?)`,
		[]any{10, int(host.FactionHorde), 4}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("async exec never completed")
	}

	counts, err := s.LoadBracketCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, uint64(4), counts[0].Count)
}

func TestBackendQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var backend host.PersistenceBackend = s

	require.NoError(t, backend.Exec(ctx,
		`INSERT INTO retirement_progress (bot_id, stage, attempts) VALUES (?, ?, ?)`, 3, "logging_out", 0))

	rows, err := backend.Query(ctx, `SELECT stage FROM retirement_progress WHERE bot_id = ?`, 3)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var stage string
	require.NoError(t, rows.Scan(&stage))
	require.Equal(t, "logging_out", stage)
}

func TestClosedStoreFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Exec(context.Background(), `SELECT 1`), ErrClosed)
	_, err = s.Query(context.Background(), `SELECT 1`)
	require.ErrorIs(t, err, ErrClosed)

	done := make(chan error, 1)
	s.Async(`SELECT 1`, nil, func(err error) { done <- err })
	require.ErrorIs(t, <-done, ErrClosed)

	// Double close is a no-op.
	require.NoError(t, s.Close())
}
