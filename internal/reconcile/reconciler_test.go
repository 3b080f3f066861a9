package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/content"
	"github.com/jialangli/emotion-companion/internal/delivery"
	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/scheduler"
	"github.com/jialangli/emotion-companion/internal/store"
)

type nopSender struct{}

func (nopSender) Send(context.Context, string, delivery.Event) delivery.Result {
	return delivery.Result{}
}

func setup(t *testing.T) (*Reconciler, *store.SQLiteRepo, *scheduler.Scheduler) {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sched := scheduler.New(repo, content.NewStaticGenerator(), nopSender{}, zap.NewNop(), scheduler.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	return New(repo, sched, zap.NewNop()), repo, sched
}

func userJobs(s *scheduler.Scheduler, userID string) []string {
	var ids []string
	for _, j := range s.Status().Jobs {
		if j.UserID == userID {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

func TestUpdatePreferences_WritesThenSyncs(t *testing.T) {
	r, repo, sched := setup(t)
	ctx := context.Background()

	var p domain.SchedulePatch
	p.SetEnabled(domain.Evening, false)
	p.SetTime(domain.Care, domain.MustClock("19:15"))

	cfg, err := r.UpdatePreferences(ctx, "alice", p)
	require.NoError(t, err)
	assert.Equal(t, "19:15", cfg.Care.Time.String())

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stored.Evening.Enabled)

	assert.Equal(t, []string{"care:alice", "morning:alice"}, userJobs(sched, "alice"))
	for _, j := range sched.Status().Jobs {
		if j.ID == "care:alice" {
			assert.Contains(t, j.Trigger, "19:15")
		}
	}
}

func TestUpdatePreferences_AllDisabledRemovesJobs(t *testing.T) {
	r, _, sched := setup(t)
	ctx := context.Background()

	_, err := r.UpdatePreferences(ctx, "bob", domain.SchedulePatch{})
	require.NoError(t, err)
	require.Len(t, userJobs(sched, "bob"), 3)

	_, err = r.UpdatePreferences(ctx, "bob", domain.DisablePatch(""))
	require.NoError(t, err)
	assert.Empty(t, userJobs(sched, "bob"))
}

func TestSync_ConfigNotFound(t *testing.T) {
	r, _, sched := setup(t)

	err := r.Sync(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrConfigNotFound)
	assert.Zero(t, sched.Status().JobCount)
}

func TestDisable(t *testing.T) {
	r, repo, sched := setup(t)
	ctx := context.Background()

	_, err := r.Disable(ctx, "nobody", "")
	require.ErrorIs(t, err, ErrConfigNotFound)

	_, err = r.UpdatePreferences(ctx, "carol", domain.SchedulePatch{})
	require.NoError(t, err)

	cfg, err := r.Disable(ctx, "carol", domain.Morning)
	require.NoError(t, err)
	assert.False(t, cfg.Morning.Enabled)
	assert.Equal(t, []string{"care:carol", "evening:carol"}, userJobs(sched, "carol"))

	_, err = r.Disable(ctx, "carol", "")
	require.NoError(t, err)
	assert.Empty(t, userJobs(sched, "carol"))

	stored, err := repo.Get(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, stored.AnyEnabled())
}

func TestSyncAll(t *testing.T) {
	r, repo, sched := setup(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "a", domain.SchedulePatch{})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "b", domain.DisablePatch(domain.Care))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "c", domain.DisablePatch(""))
	require.NoError(t, err)

	n, err := r.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 5, sched.Status().JobCount)
	assert.Empty(t, userJobs(sched, "c"))
}

type failingJobs struct{ upserts int }

func (f *failingJobs) Upsert(domain.ScheduleConfig) error { f.upserts++; return errors.New("registry closed") }
func (f *failingJobs) RemoveAll(string) int                { return 0 }
func (f *failingJobs) RemoveOne(string, domain.Category) bool {
	return false
}

func TestUpdatePreferences_SyncFailureKeepsWrite(t *testing.T) {
	_, repo, _ := setup(t)
	jobs := &failingJobs{}
	r := New(repo, jobs, zap.NewNop())

	cfg, err := r.UpdatePreferences(context.Background(), "dave", domain.SchedulePatch{})
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 1, jobs.upserts)

	_, err = repo.Get(context.Background(), "dave")
	require.NoError(t, err)
}

// gatedStore holds the first Upsert after it has been written until release is closed.
type gatedStore struct {
	*store.SQLiteRepo
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Upsert(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error) {
	cfg, err := g.SQLiteRepo.Upsert(ctx, userID, patch)
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return cfg, err
}

func TestUpdatePreferences_ConcurrentWritesApplyInOrder(t *testing.T) {
	_, repo, sched := setup(t)
	gs := &gatedStore{SQLiteRepo: repo, entered: make(chan struct{}), release: make(chan struct{})}
	r := New(gs, sched, zap.NewNop())
	ctx := context.Background()

	update := func(at string) <-chan error {
		done := make(chan error, 1)
		var p domain.SchedulePatch
		p.SetTime(domain.Care, domain.MustClock(at))
		go func() {
			_, err := r.UpdatePreferences(ctx, "gina", p)
			done <- err
		}()
		return done
	}

	first := update("07:00")
	<-gs.entered
	second := update("19:00")

	select {
	case <-second:
		t.Fatal("second update finished while the first was still applying")
	case <-time.After(50 * time.Millisecond):
	}
	close(gs.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	stored, err := repo.Get(ctx, "gina")
	require.NoError(t, err)
	assert.Equal(t, "19:00", stored.Care.Time.String())

	var trigger string
	for _, j := range sched.Status().Jobs {
		if j.ID == "care:gina" {
			trigger = j.Trigger
		}
	}
	assert.Contains(t, trigger, stored.Care.Time.String())
}
