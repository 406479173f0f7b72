package history_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/history"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) history.Config {
	t.Helper()
	dir := t.TempDir()
	return history.Config{
		DBPath:       filepath.Join(dir, "history.db"),
		BackupDir:    filepath.Join(dir, "backups"),
		BatchSize:    2,
		BatchTimeout: time.Hour,
		Enabled:      true,
	}
}

func events() []event.ThermalEvent {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := []event.ThermalEvent{
		event.New(1, "cpu", "default", event.Rising, -1, 0, 15000),
		event.New(1, "cpu", "default", event.Rising, 0, 1, 25000),
		event.New(1, "cpu", "quiet", event.Reset, 1, 0, 10000),
	}
	for i := range out {
		out[i].Time = base.Add(time.Duration(i) * time.Second)
	}
	return out
}

func TestRecordAndRecent(t *testing.T) {
	cfg := testConfig(t)
	rec, err := history.NewService(cfg, logger.New("test"))
	require.NoError(t, err)
	assert.True(t, rec.IsEnabled())

	ctx := context.Background()
	evs := events()
	for _, ev := range evs {
		require.NoError(t, rec.Notify(ctx, ev))
	}

	got, err := rec.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, evs[2].ID, got[0].ID)
	assert.Equal(t, event.Reset, got[0].Kind)
	assert.Equal(t, "quiet", got[0].Profile)
	assert.True(t, evs[2].Time.Equal(got[0].Time))
	assert.Equal(t, evs[0].ID, got[2].ID)
	assert.Equal(t, -1, got[2].PrevState)
	assert.Equal(t, 15000, got[2].Temperature)

	got, err = rec.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
}

func TestCloseFlushesAndPersists(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100

	rec, err := history.NewService(cfg, logger.New("test"))
	require.NoError(t, err)
	ev := events()[0]
	require.NoError(t, rec.Notify(context.Background(), ev))
	require.NoError(t, rec.Close())

	rec, err = history.NewService(cfg, logger.New("test"))
	require.NoError(t, err)
	defer rec.Close()

	got, err := rec.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
}

func TestSchemaMismatchBacksUp(t *testing.T) {
	cfg := testConfig(t)

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	rec, err := history.NewService(cfg, logger.New("test"))
	require.NoError(t, err)
	defer rec.Close()

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "history_v99_")

	require.NoError(t, rec.Notify(context.Background(), events()[0]))
	got, err := rec.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDisabledIsNoop(t *testing.T) {
	rec, err := history.NewService(history.DefaultConfig(), logger.New("test"))
	require.NoError(t, err)
	assert.False(t, rec.IsEnabled())
	assert.NoError(t, rec.Notify(context.Background(), events()[0]))

	got, err := rec.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInvalidConfig(t *testing.T) {
	_, err := history.NewService(history.Config{Enabled: true}, logger.New("test"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, history.ErrInvalidDBPath))
}
