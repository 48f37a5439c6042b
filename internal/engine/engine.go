// Package engine implements the pipeline executor that turns one date range of
// mail into committed transactions and refreshed daily summaries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/extract"
	"github.com/Veraticus/mailtally/internal/mailbox"
	"github.com/Veraticus/mailtally/internal/model"
	"github.com/Veraticus/mailtally/internal/notify"
	"github.com/Veraticus/mailtally/internal/service"
	"github.com/Veraticus/mailtally/internal/summary"
)

// CountBasis selects what total_candidates and processed_count count.
type CountBasis string

// Counting bases.
const (
	// CountCandidates counts only messages the prefilter accepted.
	CountCandidates CountBasis = "candidates"
	// CountFetched counts every fetched message.
	CountFetched CountBasis = "fetched"
)

// ParseCountBasis validates a configured counting basis.
func ParseCountBasis(s string) (CountBasis, error) {
	switch CountBasis(s) {
	case "", CountCandidates:
		return CountCandidates, nil
	case CountFetched:
		return CountFetched, nil
	default:
		return "", fmt.Errorf("%w: count basis %q (want candidates or fetched)", common.ErrInvalidConfig, s)
	}
}

// Config holds configuration options for the pipeline executor.
type Config struct {
	CountBasis   CountBasis
	StoreRetry   common.RetryOptions
	FetchTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CountBasis:   CountCandidates,
		FetchTimeout: 2 * time.Minute,
		StoreRetry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}
}

// Deps are the collaborators of the executor. Notifier may be nil.
type Deps struct {
	Source     mailbox.Source
	Filter     Prefilter
	Extractor  Extractor
	Store      service.Store
	Summarizer Summarizer
	Notifier   notify.Notifier
	Logger     *slog.Logger
}

// Engine runs the fetch, filter, extract and summarize phases of one run.
type Engine struct {
	deps   Deps
	now    func() time.Time
	config Config
}

// New creates a new executor with the default configuration.
func New(deps Deps) (*Engine, error) {
	return NewWithConfig(deps, DefaultConfig())
}

// NewWithConfig creates a new executor with custom configuration.
func NewWithConfig(deps Deps, config Config) (*Engine, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: mail source", common.ErrMissingConfig)
	case deps.Filter == nil:
		return nil, fmt.Errorf("%w: prefilter", common.ErrMissingConfig)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", common.ErrMissingConfig)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", common.ErrMissingConfig)
	}
	if deps.Summarizer == nil {
		deps.Summarizer = summary.NewAggregator(deps.Store, deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.CountBasis == "" {
		config.CountBasis = CountCandidates
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Engine{deps: deps, config: config, now: time.Now}, nil
}

// Job describes one run handed to Execute.
type Job struct {
	// Halted is polled between messages; a true result ends extraction early.
	Halted func() bool
	// Now stamps StartedAt and FinishedAt. The engine clock is used when nil.
	Now    func() time.Time
	State  model.RunState
	Notify bool
}

// Progress receives a copy of the run state after every change.
type Progress func(model.RunState)

// Execute runs job to completion and returns its final state. Failures are
// reported through the state's status and last error rather than returned.
func (e *Engine) Execute(ctx context.Context, job Job, progress Progress) model.RunState {
	r := &runner{
		engine:   e,
		state:    job.State,
		halted:   job.Halted,
		progress: progress,
		touched:  make(map[string]time.Time),
		logger:   e.deps.Logger.With("run_id", job.State.RunID, "trigger", string(job.State.Trigger)),
	}
	if r.halted == nil {
		r.halted = func() bool { return false }
	}
	now := e.now
	if job.Now != nil {
		now = job.Now
	}
	if r.state.StartedAt.IsZero() {
		r.state.StartedAt = now().UTC()
	}

	r.logger.Info("Starting run", "range", r.state.Range.String())

	err := r.run(ctx)

	// Whatever was committed before a failure still gets its summaries.
	r.setStatus(model.RunSummarizing)
	summaries, sumErr := r.summarize(ctx)
	if err == nil {
		err = sumErr
	}

	if err == nil && job.Notify {
		r.notify(ctx, summaries)
	}

	r.state.CurrentMessageID = ""
	r.state.FinishedAt = now().UTC()
	if err != nil {
		r.state.LastError = err.Error()
		r.setStatus(model.RunFailed)
		r.logger.Error("Run failed",
			"processed", r.state.ProcessedCount,
			"total", r.state.TotalCandidates,
			"error", err)
		return r.state
	}

	r.setStatus(model.RunDone)
	r.logger.Info("Run complete",
		"total", r.state.TotalCandidates,
		"processed", r.state.ProcessedCount,
		"extracted", r.state.ExtractedCount,
		"failed", r.state.FailedCount,
		"skipped", r.state.SkippedCount,
		"halted", r.state.Halted,
		"duration", r.state.FinishedAt.Sub(r.state.StartedAt))
	return r.state
}

type runner struct {
	engine   *Engine
	halted   func() bool
	progress Progress
	touched  map[string]time.Time
	logger   *slog.Logger
	state    model.RunState
}

func (r *runner) emit() {
	if r.progress != nil {
		r.progress(r.state)
	}
}

func (r *runner) setStatus(status model.RunStatus) {
	r.state.Status = status
	r.emit()
}

func (r *runner) run(ctx context.Context) error {
	r.setStatus(model.RunFetching)
	messages, err := r.fetch(ctx)
	if err != nil {
		return err
	}

	r.setStatus(model.RunFiltering)
	candidates := r.filter(messages)

	r.setStatus(model.RunExtracting)
	return r.extractAll(ctx, candidates)
}

// fetch drains the source for the run's range under the fetch timeout.
func (r *runner) fetch(ctx context.Context) ([]model.RawMessage, error) {
	timeout := r.engine.config.FetchTimeout
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []model.RawMessage
	seen := make(map[string]struct{})
	for msg, err := range r.engine.deps.Source.Fetch(fetchCtx, r.state.Range) {
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: fetch timed out after %s", common.ErrSourceUnavailable, timeout)
			}
			return nil, fmt.Errorf("failed to fetch %s: %w", r.state.Range, err)
		}
		if _, dup := seen[msg.MessageID]; dup {
			continue
		}
		seen[msg.MessageID] = struct{}{}
		messages = append(messages, msg)
	}

	r.logger.Info("Fetched messages", "count", len(messages))
	return messages, nil
}

func (r *runner) filter(messages []model.RawMessage) []model.Candidate {
	candidates := make([]model.Candidate, 0, len(messages))
	for _, msg := range messages {
		c := r.engine.deps.Filter.Classify(msg)
		if c.IsCandidate {
			candidates = append(candidates, c)
			continue
		}
		r.logger.Debug("Message rejected by prefilter", "message_id", msg.MessageID, "reason", c.FilterReason)
	}

	rejected := len(messages) - len(candidates)
	if r.engine.config.CountBasis == CountFetched {
		r.state.TotalCandidates = len(messages)
		r.state.ProcessedCount = rejected
		r.state.SkippedCount = rejected
	} else {
		r.state.TotalCandidates = len(candidates)
	}

	r.logger.Info("Filtered messages", "candidates", len(candidates), "rejected", rejected)
	return candidates
}

func (r *runner) extractAll(ctx context.Context, candidates []model.Candidate) error {
	for _, c := range candidates {
		if r.halted() {
			r.state.Halted = true
			r.logger.Info("Run halted between messages",
				"processed", r.state.ProcessedCount,
				"total", r.state.TotalCandidates)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		r.state.CurrentMessageID = c.MessageID
		r.emit()

		if err := r.process(ctx, c); err != nil {
			return err
		}

		r.state.ProcessedCount++
		r.emit()
	}
	return nil
}

// process handles one candidate. Only transient failures are returned; they
// abort the run.
func (r *runner) process(ctx context.Context, c model.Candidate) error {
	id := c.MessageID
	logger := r.logger.With("message_id", id)

	var seen bool
	err := r.withStore(ctx, func() error {
		var hasErr error
		seen, hasErr = r.engine.deps.Store.Has(ctx, id)
		return hasErr
	})
	if err != nil {
		return fmt.Errorf("failed to check message %s: %w", id, err)
	}
	if seen {
		r.state.SkippedCount++
		logger.Debug("Message already processed")
		return nil
	}

	result, err := r.engine.deps.Extractor.Extract(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to extract message %s: %w", id, err)
	}

	switch result.Kind {
	case extract.KindExtracted:
		txn := result.Transaction(id)
		if err := r.withStore(ctx, func() error { return r.engine.deps.Store.Commit(ctx, txn) }); err != nil {
			return fmt.Errorf("failed to commit message %s: %w", id, err)
		}
		day := model.TruncateDay(txn.Date)
		r.touched[day.Format(model.DateLayout)] = day
		r.state.ExtractedCount++
		logger.Info("Committed transaction",
			"vendor", txn.Vendor,
			"amount", txn.Amount.StringFixed(2),
			"currency", txn.Currency,
			"date", day.Format(model.DateLayout))

	case extract.KindNoTransaction:
		if err := r.markProcessed(ctx, id, result.Reason); err != nil {
			return err
		}
		logger.Debug("No transaction in message", "reason", result.Reason)

	case extract.KindFailed:
		reason := result.Failure.Error()
		if err := r.markProcessed(ctx, id, reason); err != nil {
			return err
		}
		r.state.FailedCount++
		logger.Warn("Extraction failed",
			"kind", string(result.Failure.Kind),
			"attempts", result.Failure.Attempts,
			"reason", result.Failure.Reason)

	default:
		return fmt.Errorf("unexpected extraction result %v for message %s", result.Kind, id)
	}
	return nil
}

func (r *runner) markProcessed(ctx context.Context, id, reason string) error {
	err := r.withStore(ctx, func() error {
		return r.engine.deps.Store.MarkProcessedNoExtraction(ctx, id, reason)
	})
	if err != nil {
		return fmt.Errorf("failed to mark message %s processed: %w", id, err)
	}
	return nil
}

// withStore retries transient store failures with the configured backoff.
func (r *runner) withStore(ctx context.Context, op func() error) error {
	return common.WithRetry(ctx, func() error {
		err := op()
		if err != nil && !errors.Is(err, common.ErrStoreUnavailable) {
			return common.Permanent(err)
		}
		return err
	}, r.engine.config.StoreRetry)
}

// summarize recomputes every day the run committed to, oldest first.
func (r *runner) summarize(ctx context.Context) ([]*model.DailySummary, error) {
	keys := make([]string, 0, len(r.touched))
	for k := range r.touched {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	summaries := make([]*model.DailySummary, 0, len(keys))
	for _, k := range keys {
		var s *model.DailySummary
		err := r.withStore(ctx, func() error {
			var recomputeErr error
			s, recomputeErr = r.engine.deps.Summarizer.Recompute(ctx, r.touched[k])
			return recomputeErr
		})
		if errors.Is(err, summary.ErrNoTransactions) {
			continue
		}
		if err != nil {
			return summaries, fmt.Errorf("failed to summarize %s: %w", k, err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (r *runner) notify(ctx context.Context, summaries []*model.DailySummary) {
	if r.engine.deps.Notifier == nil {
		r.logger.Warn("Notification enabled but no notifier configured")
		return
	}
	for _, s := range summaries {
		if err := r.engine.deps.Notifier.Send(ctx, s); err != nil {
			r.logger.Warn("Failed to send summary notification",
				"date", s.Date.Format(model.DateLayout),
				"error", err)
			continue
		}
		r.logger.Info("Sent summary notification", "date", s.Date.Format(model.DateLayout))
	}
}
