// Package reconcile keeps the scheduler's job set in line with stored preferences.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/store"
)

// ErrConfigNotFound is returned when a user has no stored preferences.
var ErrConfigNotFound = errors.New("config not found")

// Store is the slice of the preference store the reconciler needs.
type Store interface {
	Get(ctx context.Context, userID string) (*domain.ScheduleConfig, error)
	Upsert(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error)
	ListActive(ctx context.Context) ([]domain.ScheduleConfig, error)
}

// Jobs is the mutating side of the job registry.
type Jobs interface {
	Upsert(cfg domain.ScheduleConfig) error
	RemoveAll(userID string) int
	RemoveOne(userID string, cat domain.Category) bool
}

// Reconciler is the only writer of the job registry on behalf of users.
// Each store write and the job change derived from it happen under mu, so
// jobs are applied in the order their writes committed.
type Reconciler struct {
	store Store
	jobs  Jobs
	log   *zap.Logger

	mu sync.Mutex
}

func New(st Store, jobs Jobs, log *zap.Logger) *Reconciler {
	return &Reconciler{store: st, jobs: jobs, log: log.With(zap.String("component", "reconcile"))}
}

// UpdatePreferences writes patch and, once the write has succeeded, re-syncs
// the user's jobs. The stored config is returned even if the sync fails.
func (r *Reconciler) UpdatePreferences(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.store.Upsert(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	if err := r.apply(*cfg); err != nil {
		return cfg, fmt.Errorf("sync jobs: %w", err)
	}
	return cfg, nil
}

// Sync re-reads userID's config and derives its jobs from it.
func (r *Reconciler) Sync(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Warn("sync skipped, config not found", zap.String("user_id", userID))
		return ErrConfigNotFound
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return r.apply(*cfg)
}

// Disable turns off one category, or all of them when cat is empty.
// The store is written first; jobs are removed only after that succeeds.
func (r *Reconciler) Disable(ctx context.Context, userID string, cat domain.Category) (*domain.ScheduleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Get(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := r.store.Upsert(ctx, userID, domain.DisablePatch(cat))
	if err != nil {
		return nil, fmt.Errorf("disable: %w", err)
	}

	if cat == "" {
		n := r.jobs.RemoveAll(userID)
		r.log.Info("all notifications disabled", zap.String("user_id", userID), zap.Int("removed", n))
	} else {
		r.jobs.RemoveOne(userID, cat)
		r.log.Info("notification disabled", zap.String("user_id", userID), zap.String("category", cat.String()))
	}
	return cfg, nil
}

// SyncAll registers jobs for every user with at least one enabled category.
// A single bad config is logged and skipped.
func (r *Reconciler) SyncAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfgs, err := r.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active: %w", err)
	}
	n := 0
	for _, cfg := range cfgs {
		if err := r.apply(cfg); err != nil {
			r.log.Error("load user jobs failed", zap.String("user_id", cfg.UserID), zap.Error(err))
			continue
		}
		n++
	}
	r.log.Info("user jobs loaded", zap.Int("users", n), zap.Int("active", len(cfgs)))
	return n, nil
}

func (r *Reconciler) apply(cfg domain.ScheduleConfig) error {
	if !cfg.AnyEnabled() {
		r.jobs.RemoveAll(cfg.UserID)
		r.log.Debug("no categories enabled, jobs removed", zap.String("user_id", cfg.UserID))
		return nil
	}
	if err := r.jobs.Upsert(cfg); err != nil {
		return err
	}
	r.log.Debug("jobs synced",
		zap.String("user_id", cfg.UserID),
		zap.Bool("morning", cfg.Morning.Enabled),
		zap.Bool("evening", cfg.Evening.Enabled),
		zap.Bool("care", cfg.Care.Enabled),
	)
	return nil
}
