// Package scheduler owns the run lifecycle: the periodic timer, manual range
// triggers, the single run slot and the published status snapshots.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/config"
	"github.com/Veraticus/mailtally/internal/engine"
	"github.com/Veraticus/mailtally/internal/model"
	"github.com/Veraticus/mailtally/internal/service"
	"github.com/Veraticus/mailtally/internal/status"
)

var errStopped = errors.New("scheduler stopped")

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, job engine.Job, progress engine.Progress) model.RunState
}

// SettingsStore persists the scheduler settings across restarts.
type SettingsStore interface {
	Load() (config.SchedulerSettings, error)
	Save(settings config.SchedulerSettings) error
}

// Options tune range selection.
type Options struct {
	// LookbackDays is how far back the first scheduled run reaches.
	LookbackDays int
	// MaxRangeDays caps both manual ranges and catch-up ranges.
	MaxRangeDays int
}

// DefaultOptions returns the default range options.
func DefaultOptions() Options {
	return Options{LookbackDays: 1, MaxRangeDays: 31}
}

// Deps are the scheduler's collaborators. Broadcaster and Logger are optional.
type Deps struct {
	Executor    Executor
	Store       service.Store
	Settings    SettingsStore
	Broadcaster *status.Broadcaster
	Logger      *slog.Logger
}

// Scheduler admits at most one run at a time, from either the periodic timer
// or TriggerRange, and publishes a snapshot on every state change.
type Scheduler struct {
	executor    Executor
	store       service.Store
	settingsDB  SettingsStore
	broadcaster *status.Broadcaster
	logger      *slog.Logger
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc

	// slot holds one token while a run is active.
	slot     chan struct{}
	snapshot atomic.Pointer[model.Snapshot]

	mu        sync.Mutex
	timer     *time.Timer
	halt      *atomic.Bool
	run       *model.RunState
	lastRun   *time.Time
	nextRun   *time.Time
	lifecycle model.Lifecycle
	settings  config.SchedulerSettings
	opts      Options
}

// New creates a stopped scheduler with the persisted settings.
func New(deps Deps, opts Options) (*Scheduler, error) {
	switch {
	case deps.Executor == nil:
		return nil, fmt.Errorf("%w: executor", common.ErrMissingConfig)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", common.ErrMissingConfig)
	case deps.Settings == nil:
		return nil, fmt.Errorf("%w: settings store", common.ErrMissingConfig)
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = status.NewBroadcaster()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaults.LookbackDays
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = defaults.MaxRangeDays
	}

	settings, err := deps.Settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler settings: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		executor:    deps.Executor,
		store:       deps.Store,
		settingsDB:  deps.Settings,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		slot:        make(chan struct{}, 1),
		lifecycle:   model.LifecycleStopped,
		settings:    settings,
		opts:        opts,
	}

	last, err := deps.Store.LastSuccessfulRun(ctx, model.TriggerScheduled)
	switch {
	case err == nil:
		finished := last.FinishedAt
		s.lastRun = &finished
	case !errors.Is(err, common.ErrNotFound):
		s.logger.Warn("Failed to load last run", "error", err)
	}

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

// Start moves the scheduler to Running and schedules the next periodic run.
// It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle == model.LifecycleRunning {
		return
	}
	s.lifecycle = model.LifecycleRunning
	s.scheduleLocked()
	s.logger.Info("Scheduler started",
		"interval_minutes", s.settings.IntervalMinutes,
		"next_run", *s.nextRun)
	s.publishLocked()
}

// Stop moves the scheduler to Stopped. An active run, scheduled or manual,
// finishes its in-flight message and then halts. Stopping twice is harmless.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halt != nil && !s.halt.Swap(true) {
		s.logger.Info("Halting active run after the current message")
	}
	if s.lifecycle == model.LifecycleStopped {
		return
	}
	s.lifecycle = model.LifecycleStopped
	if s.timer != nil {
		s.timer.Stop()
	}
	s.nextRun = nil
	s.logger.Info("Scheduler stopped")
	s.publishLocked()
}

// Configure validates and persists a new interval. When running, the next
// run moves to now + interval.
func (s *Scheduler) Configure(intervalMinutes int) error {
	if !config.ValidInterval(intervalMinutes) {
		return fmt.Errorf("%w: %d minutes is outside [%d, %d]", common.ErrInvalidInterval,
			intervalMinutes, config.MinIntervalMinutes, config.MaxIntervalMinutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.settings
	updated.IntervalMinutes = intervalMinutes
	if err := s.settingsDB.Save(updated); err != nil {
		return fmt.Errorf("failed to save scheduler settings: %w", err)
	}
	s.settings = updated

	if s.lifecycle == model.LifecycleRunning {
		s.scheduleLocked()
	}
	s.logger.Info("Scheduler configured", "interval_minutes", intervalMinutes)
	s.publishLocked()
	return nil
}

// SetNotify persists whether finished runs send their summaries.
func (s *Scheduler) SetNotify(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.settings
	updated.NotifyOnComplete = enabled
	if err := s.settingsDB.Save(updated); err != nil {
		return fmt.Errorf("failed to save scheduler settings: %w", err)
	}
	s.settings = updated
	return nil
}

// NotifyOnComplete reports the notification preference.
func (s *Scheduler) NotifyOnComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.NotifyOnComplete
}

// Settings returns the current settings.
func (s *Scheduler) Settings() config.SchedulerSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// TriggerRange starts a run over [start, end] regardless of lifecycle and
// returns its id. The run proceeds asynchronously.
func (s *Scheduler) TriggerRange(start, end time.Time) (string, error) {
	r, err := s.validateRange(start, end)
	if err != nil {
		return "", err
	}
	return s.launch(model.TriggerManualRange, r)
}

// Status returns the latest published snapshot without blocking.
func (s *Scheduler) Status() model.Snapshot {
	return *s.snapshot.Load()
}

// Subscribe registers an observer of snapshots. The current snapshot is
// delivered first.
func (s *Scheduler) Subscribe(buffer int) (<-chan model.Snapshot, func()) {
	ch, unsubscribe := s.broadcaster.Subscribe(buffer)
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return ch, unsubscribe
}

// WaitIdle blocks until no run is active.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		<-s.slot
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the scheduler, waits for an active run and closes all
// subscriptions. A run still active when ctx ends is canceled.
func (s *Scheduler) Close(ctx context.Context) error {
	s.Stop()
	err := s.WaitIdle(ctx)
	s.cancel()
	if err != nil {
		// Let the canceled run record its failure before subscribers go away.
		_ = s.WaitIdle(context.Background())
	}
	s.broadcaster.Close()
	return err
}

// TransactionsInRange returns the stored transactions dated within [start, end].
func (s *Scheduler) TransactionsInRange(ctx context.Context, start, end time.Time) ([]model.Transaction, error) {
	r, err := model.NewDateRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidDateRange, err)
	}
	return s.store.TransactionsInRange(ctx, r)
}

// SummariesInRange returns the stored daily summaries within [start, end].
func (s *Scheduler) SummariesInRange(ctx context.Context, start, end time.Time) ([]model.DailySummary, error) {
	r, err := model.NewDateRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidDateRange, err)
	}
	return s.store.SummariesInRange(ctx, r)
}

func (s *Scheduler) validateRange(start, end time.Time) (model.DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return model.DateRange{}, fmt.Errorf("%w: start and end are required", common.ErrInvalidDateRange)
	}
	r, err := model.NewDateRange(start, end)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("%w: %w", common.ErrInvalidDateRange, err)
	}
	today := model.TruncateDay(s.now())
	if r.End.After(today) {
		return model.DateRange{}, fmt.Errorf("%w: end %s is after today %s", common.ErrInvalidDateRange,
			r.End.Format(model.DateLayout), today.Format(model.DateLayout))
	}
	if r.Days() > s.opts.MaxRangeDays {
		return model.DateRange{}, fmt.Errorf("%w: %d days exceeds the %d day limit", common.ErrInvalidDateRange,
			r.Days(), s.opts.MaxRangeDays)
	}
	return r, nil
}

// acquireLocked takes the run slot without blocking.
func (s *Scheduler) acquireLocked() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) busyLocked() bool {
	return len(s.slot) == cap(s.slot)
}

// launch admits and starts a run. Admission, the lifecycle check for
// scheduled runs and installing the halt flag share one critical section,
// so a Stop either prevents the run or halts it.
func (s *Scheduler) launch(trigger model.Trigger, r model.DateRange) (string, error) {
	s.mu.Lock()
	if trigger == model.TriggerScheduled && s.lifecycle != model.LifecycleRunning {
		s.mu.Unlock()
		return "", errStopped
	}
	if !s.acquireLocked() {
		s.mu.Unlock()
		return "", common.ErrRunInProgress
	}

	halt := &atomic.Bool{}
	state := model.RunState{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Range:     r,
		Status:    model.RunFetching,
		StartedAt: s.now().UTC(),
	}
	s.halt = halt
	s.run = &state
	notify := s.settings.NotifyOnComplete
	s.publishLocked()
	s.mu.Unlock()

	go func() {
		defer func() { <-s.slot }()

		s.saveRun(state)
		final := s.executor.Execute(s.ctx, engine.Job{
			State:  state,
			Halted: halt.Load,
			Now:    s.now,
			Notify: notify,
		}, s.progress)
		s.saveRun(final)

		s.mu.Lock()
		if final.Status == model.RunDone && final.Trigger == model.TriggerScheduled {
			finished := final.FinishedAt
			s.lastRun = &finished
		}
		s.run = &final
		s.halt = nil
		s.publishLocked()
		s.mu.Unlock()
	}()
	return state.RunID, nil
}

func (s *Scheduler) progress(state model.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = &state
	s.publishLocked()
}

func (s *Scheduler) saveRun(state model.RunState) {
	if err := s.store.SaveRun(s.ctx, state); err != nil {
		s.logger.Warn("Failed to record run", "run_id", state.RunID, "error", err)
	}
}

// scheduleLocked sets next_run to now + interval and arms the timer.
func (s *Scheduler) scheduleLocked() {
	interval := time.Duration(s.settings.IntervalMinutes) * time.Minute
	next := s.now().Add(interval)
	s.nextRun = &next
	if s.timer == nil {
		s.timer = time.AfterFunc(interval, s.tick)
		return
	}
	s.timer.Reset(interval)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.lifecycle != model.LifecycleRunning {
		s.mu.Unlock()
		return
	}
	s.scheduleLocked()
	busy := s.busyLocked()
	if busy {
		s.publishLocked()
	}
	s.mu.Unlock()

	if busy {
		s.logger.Info("Skipping scheduled run, a run is already in progress")
		return
	}

	r := s.periodicRange(s.ctx)
	id, err := s.launch(model.TriggerScheduled, r)
	switch {
	case errors.Is(err, common.ErrRunInProgress):
		s.logger.Info("Skipping scheduled run, a run is already in progress")
	case errors.Is(err, errStopped):
		s.logger.Info("Scheduler stopped before the scheduled run started")
	default:
		s.logger.Info("Scheduled run started", "run_id", id, "range", r.String())
	}
}

// periodicRange spans from the end of the last successful scheduled run, or
// the lookback window, to today.
func (s *Scheduler) periodicRange(ctx context.Context) model.DateRange {
	today := model.TruncateDay(s.now())
	start := today.AddDate(0, 0, -s.opts.LookbackDays)

	last, err := s.store.LastSuccessfulRun(ctx, model.TriggerScheduled)
	switch {
	case err == nil:
		start = model.TruncateDay(last.Range.End)
	case !errors.Is(err, common.ErrNotFound):
		s.logger.Warn("Failed to load last run, using lookback window", "error", err)
	}

	if earliest := today.AddDate(0, 0, -(s.opts.MaxRangeDays - 1)); start.Before(earliest) {
		start = earliest
	}
	if start.After(today) {
		start = today
	}
	return model.DateRange{Start: start, End: today}
}

func (s *Scheduler) publishLocked() {
	snap := model.Snapshot{Lifecycle: s.lifecycle}
	if s.lastRun != nil {
		t := *s.lastRun
		snap.LastRun = &t
	}
	if s.nextRun != nil {
		t := *s.nextRun
		snap.NextRun = &t
	}
	if s.run != nil {
		run := *s.run
		snap.Run = &run
	}
	s.snapshot.Store(&snap)
	s.broadcaster.Publish(snap)
}
