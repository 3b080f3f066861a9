// Package scheduler owns the per-user, per-category daily jobs and dispatches
// their executions.
//
// The cron timer goroutine only detects due entries. Every execution runs on
// its own goroutine, waits for a worker slot and calls the content generator
// under a bounded timeout before handing the text to delivery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jialangli/emotion-companion/internal/content"
	"github.com/jialangli/emotion-companion/internal/delivery"
	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/metrics"
	"github.com/jialangli/emotion-companion/internal/store"
)

// ErrClosed is returned by operations on a scheduler that has been shut down.
var ErrClosed = errors.New("scheduler closed")

// ConfigSource is the read side of the preference store.
type ConfigSource interface {
	Get(ctx context.Context, userID string) (*domain.ScheduleConfig, error)
}

// Sender delivers an event to a user's live connections.
type Sender interface {
	Send(ctx context.Context, userID string, ev delivery.Event) delivery.Result
}

// JobKey identifies a job. It is used directly as a map key.
type JobKey struct {
	Category domain.Category
	UserID   string
}

// String renders the key for display only.
func (k JobKey) String() string {
	return k.Category.String() + ":" + k.UserID
}

// JobStatus describes one registered job.
type JobStatus struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Category     domain.Category `json:"category"`
	NextFireTime time.Time       `json:"next_fire_time"`
	Trigger      string          `json:"trigger"`
}

// Status is the scheduler state reported to operators.
type Status struct {
	Running  bool        `json:"running"`
	JobCount int         `json:"job_count"`
	Jobs     []JobStatus `json:"jobs"`
}

// Options tunes a Scheduler.
type Options struct {
	// Location is the single clock every trigger is evaluated in.
	Location *time.Location
	// Workers bounds concurrently running executions.
	Workers int
	// GenerationTimeout bounds one content generation call.
	GenerationTimeout time.Duration
	// Now overrides the clock used for status and event timestamps.
	Now func() time.Time
}

type job struct {
	entry    cron.EntryID
	at       domain.ClockTime
	schedule cron.Schedule
}

// Scheduler is the job registry plus the timer loop that fires it.
type Scheduler struct {
	cron       *cron.Cron
	loc        *time.Location
	log        *zap.Logger
	configs    ConfigSource
	gen        content.Generator
	sender     Sender
	slots      *semaphore.Weighted
	genTimeout time.Duration
	now        func() time.Time

	mu      sync.Mutex
	jobs    map[JobKey]job
	running bool
	closed  bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	inflight  sync.WaitGroup
}

// New creates a stopped scheduler.
func New(configs ConfigSource, gen content.Generator, sender Sender, log *zap.Logger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log = log.With(zap.String("component", "scheduler"))

	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(newCronLogger(log)),
		),
		loc:        opts.Location,
		log:        log,
		configs:    configs,
		gen:        gen,
		sender:     sender,
		slots:      semaphore.NewWeighted(int64(opts.Workers)),
		genTimeout: opts.GenerationTimeout,
		now:        opts.Now,
		jobs:       make(map[JobKey]job),
		runCtx:     runCtx,
		cancelRun:  cancel,
	}
}

// Start launches the timer loop. Calling it twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		s.log.Warn("scheduler already running")
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started",
		zap.String("location", s.loc.String()),
		zap.Int("jobs", len(s.jobs)),
	)
	return nil
}

// Shutdown stops new fires and waits for in-flight executions until ctx is
// done. Executions still running at that point have their context cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.running = false
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()

	defer s.cancelRun()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline reached, abandoning in-flight executions")
		return ctx.Err()
	}
}

// Upsert replaces every job of cfg.UserID with one job per enabled category.
// Applying the same config twice leaves the same job set.
func (s *Scheduler) Upsert(cfg domain.ScheduleConfig) error {
	if cfg.UserID == "" {
		return errors.New("empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Every trigger is parsed before the old jobs go, so a rejected config
	// leaves the previous set in place.
	var planned []plannedJob
	for _, cat := range domain.Categories {
		slot := cfg.Slot(cat)
		if !slot.Enabled {
			continue
		}
		p, err := s.plan(JobKey{Category: cat, UserID: cfg.UserID}, slot.Time)
		if err != nil {
			return err
		}
		planned = append(planned, p)
	}

	for _, cat := range domain.Categories {
		s.removeLocked(JobKey{Category: cat, UserID: cfg.UserID})
	}
	for _, p := range planned {
		s.addLocked(p)
	}
	metrics.SetScheduledJobs(len(s.jobs))
	return nil
}

// RemoveAll drops every job of userID and returns how many were removed.
func (s *Scheduler) RemoveAll(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, cat := range domain.Categories {
		if s.removeLocked(JobKey{Category: cat, UserID: userID}) {
			n++
		}
	}
	metrics.SetScheduledJobs(len(s.jobs))
	if n > 0 {
		s.log.Info("removed user jobs", zap.String("user_id", userID), zap.Int("count", n))
	}
	return n
}

// RemoveOne drops a single category job. It reports whether one existed.
func (s *Scheduler) RemoveOne(userID string, cat domain.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.removeLocked(JobKey{Category: cat, UserID: userID})
	metrics.SetScheduledJobs(len(s.jobs))
	return ok
}

type plannedJob struct {
	key      JobKey
	at       domain.ClockTime
	schedule cron.Schedule
}

func (s *Scheduler) plan(key JobKey, at domain.ClockTime) (plannedJob, error) {
	if !at.Valid() {
		return plannedJob{}, fmt.Errorf("%s: %w: %s", key, domain.ErrInvalidTime, at)
	}
	sched, err := cron.ParseStandard("CRON_TZ=" + s.loc.String() + " " + at.CronSpec())
	if err != nil {
		return plannedJob{}, fmt.Errorf("%s: parse trigger: %w", key, err)
	}
	return plannedJob{key: key, at: at, schedule: sched}, nil
}

func (s *Scheduler) addLocked(p plannedJob) {
	key := p.key
	id := s.cron.Schedule(p.schedule, cron.FuncJob(func() { s.dispatch(key, false) }))
	s.jobs[key] = job{entry: id, at: p.at, schedule: p.schedule}
	s.log.Debug("job scheduled",
		zap.String("job_id", key.String()),
		zap.String("at", p.at.String()),
	)
}

func (s *Scheduler) removeLocked(key JobKey) bool {
	j, ok := s.jobs[key]
	if !ok {
		return false
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, key)
	return true
}

// Has reports whether a job exists for key.
func (s *Scheduler) Has(key JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// Status reports whether the loop is running and every job's next fire time.
// A stopped scheduler still lists its jobs.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	snapshot := make(map[JobKey]job, len(s.jobs))
	for k, j := range s.jobs {
		snapshot[k] = j
	}
	s.mu.Unlock()

	nexts := make(map[cron.EntryID]time.Time, len(snapshot))
	if running {
		for _, e := range s.cron.Entries() {
			nexts[e.ID] = e.Next
		}
	}

	now := s.now().In(s.loc)
	st := Status{Running: running, JobCount: len(snapshot), Jobs: make([]JobStatus, 0, len(snapshot))}
	for k, j := range snapshot {
		next := nexts[j.entry]
		if next.IsZero() {
			next = j.schedule.Next(now)
		}
		st.Jobs = append(st.Jobs, JobStatus{
			ID:           k.String(),
			UserID:       k.UserID,
			Category:     k.Category,
			NextFireTime: next,
			Trigger:      fmt.Sprintf("daily at %s (%s)", j.at, s.loc),
		})
	}
	sort.Slice(st.Jobs, func(i, j int) bool { return st.Jobs[i].ID < st.Jobs[j].ID })
	return st
}

// Trigger runs one execution for userID/cat right away, regardless of the
// category's enabled flag. It does not wait for the execution.
func (s *Scheduler) Trigger(userID string, cat domain.Category) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	go s.dispatch(JobKey{Category: cat, UserID: userID}, true)
	return nil
}

// dispatch runs one execution on the calling goroutine. Cron calls it from a
// fresh goroutine per fire, never from its timer loop.
func (s *Scheduler) dispatch(key JobKey, manual bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	ctx := s.runCtx
	s.mu.Unlock()
	defer s.inflight.Done()

	metrics.IncDispatch()
	log := s.log.With(zap.String("job_id", key.String()), zap.Bool("manual", manual))

	if err := s.slots.Acquire(ctx, 1); err != nil {
		log.Warn("no worker slot before shutdown", zap.Error(err))
		return
	}
	defer s.slots.Release(1)

	metrics.InflightAdd(1)
	defer metrics.InflightAdd(-1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job execution panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	outcome := s.execute(ctx, log, key, manual)
	metrics.IncPush(key.Category.String(), outcome)
}

// execute generates content for key and delivers it. It returns a metrics outcome.
func (s *Scheduler) execute(ctx context.Context, log *zap.Logger, key JobKey, manual bool) string {
	cfg, err := s.configs.Get(ctx, key.UserID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("config not found, skipping")
		return metrics.OutcomeSkipped
	}
	if err != nil {
		log.Error("read config failed", zap.Error(err))
		return metrics.OutcomeSkipped
	}
	if !manual && !cfg.Slot(key.Category).Enabled {
		log.Info("category disabled since scheduling, skipping")
		return metrics.OutcomeSkipped
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	started := time.Now()
	text, err := s.gen.Generate(genCtx, key.Category.String(), content.Directive(key.Category))
	cancel()
	metrics.ObserveGeneration(time.Since(started))
	if err == nil && text == "" {
		err = content.ErrEmptyReply
	}
	if err != nil {
		log.Error("content generation failed, skipping delivery",
			zap.Duration("timeout", s.genTimeout), zap.Error(err))
		return metrics.OutcomeGenerationFailed
	}

	res := s.sender.Send(ctx, key.UserID, delivery.NewCareMessage(key.Category, text, s.now()))
	if res.Delivered == 0 {
		log.Info("user offline, push dropped", zap.Int("failed", res.Failed))
		return metrics.OutcomeOffline
	}
	log.Info("care message pushed",
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
	)
	return metrics.OutcomeDelivered
}
