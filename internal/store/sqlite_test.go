package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jialangli/emotion-companion/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepo_GetMissing(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRepo_UpsertCreatesWithDefaults(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	var p domain.SchedulePatch
	p.SetTime(domain.Care, domain.MustClock("19:45"))

	cfg, err := repo.Upsert(ctx, "alice", p)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTimezone, cfg.Timezone)
	assert.True(t, cfg.Morning.Enabled)
	assert.Equal(t, "08:30", cfg.Morning.Time.String())
	assert.Equal(t, "19:45", cfg.Care.Time.String())
	assert.False(t, cfg.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cfg.Care, got.Care)
	assert.Equal(t, cfg.Evening, got.Evening)
	assert.Equal(t, cfg.CreatedAt.Unix(), got.CreatedAt.Unix())
}

func TestSQLiteRepo_UpsertPartialKeepsOtherFields(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	tz := "Europe/Moscow"
	_, err := repo.Upsert(ctx, "bob", domain.SchedulePatch{Timezone: &tz})
	require.NoError(t, err)

	cfg, err := repo.Upsert(ctx, "bob", domain.DisablePatch(domain.Morning))
	require.NoError(t, err)
	assert.Equal(t, tz, cfg.Timezone)
	assert.False(t, cfg.Morning.Enabled)
	assert.True(t, cfg.Evening.Enabled)
	assert.True(t, cfg.Care.Enabled)
}

func TestSQLiteRepo_ListActive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "on", domain.DisablePatch(domain.Evening))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "off", domain.DisablePatch(""))
	require.NoError(t, err)

	users, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "on", users[0].UserID)
}

func TestSQLiteRepo_TouchLastActive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "carol", domain.SchedulePatch{})
	require.NoError(t, err)

	at := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLastActive(ctx, "carol", at))
	require.NoError(t, repo.TouchLastActive(ctx, "unknown", at))

	cfg, err := repo.Get(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastActiveAt)
	assert.True(t, at.Equal(*cfg.LastActiveAt))

	_, err = repo.Get(ctx, "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRepo_TelegramLinks(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.LinkChat(ctx, 42, "alice"))
	require.NoError(t, repo.LinkChat(ctx, 7, "bob"))
	require.NoError(t, repo.LinkChat(ctx, 42, "carol"))

	l, err := repo.GetLink(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "carol", l.UserID)

	links, err := repo.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, int64(7), links[0].ChatID)

	require.NoError(t, repo.UnlinkChat(ctx, 42))
	require.NoError(t, repo.UnlinkChat(ctx, 42))
	_, err = repo.GetLink(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunMigrations_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.db")
	ctx := context.Background()

	repo, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "dave", domain.SchedulePatch{})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Get(ctx, "dave")
	require.NoError(t, err)
}
