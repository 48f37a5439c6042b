package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/extract"
	"github.com/Veraticus/mailtally/internal/model"
	"github.com/Veraticus/mailtally/internal/prefilter"
	"github.com/Veraticus/mailtally/internal/storage"
	"github.com/Veraticus/mailtally/internal/testutil"
)

type recordingNotifier struct {
	err  error
	sent []string
	mu   sync.Mutex
}

func (n *recordingNotifier) Send(_ context.Context, s *model.DailySummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, s.Date.Format(model.DateLayout))
	return n.err
}

type snapshotRecorder struct {
	states []model.RunState
	mu     sync.Mutex
}

func (r *snapshotRecorder) record(s model.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *snapshotRecorder) all() []model.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RunState(nil), r.states...)
}

func extracted(t *testing.T, day, vendor, amount string) extract.Result {
	t.Helper()
	return extract.Result{
		Kind: extract.KindExtracted,
		Fields: extract.Fields{
			Date:      testutil.Day(t, day),
			Vendor:    vendor,
			Amount:    decimal.RequireFromString(amount),
			Currency:  "USD",
			Direction: model.DirectionDebit,
			Category:  "Food & Dining",
		},
	}
}

func implausible() extract.Result {
	return extract.Result{
		Kind: extract.KindFailed,
		Failure: &extract.Failure{
			Kind:     extract.FailureImplausibleDate,
			Reason:   "date 2019-01-01 is too far from receipt",
			Attempts: 1,
		},
	}
}

// scenarioMessages returns five messages, three of which pass the prefilter.
func scenarioMessages(t *testing.T) []model.RawMessage {
	t.Helper()
	return []model.RawMessage{
		testutil.Message(t, "m1", "2025-01-10", "alerts@bank.example", "Card used", "You spent $12.50 at Corner Cafe."),
		testutil.Message(t, "m2", "2025-01-10", "friend@example.com", "Lunch?", "Are you free on Friday?"),
		testutil.Message(t, "m3", "2025-01-10", "alerts@bank.example", "Debit alert", "USD 40.00 debited for Grocer."),
		testutil.Message(t, "m4", "2025-01-10", "news@example.com", "Weekly digest", "Top stories this week."),
		testutil.Message(t, "m5", "2025-01-10", "alerts@bank.example", "Receipt", "Your receipt for $99.00."),
	}
}

func newTestEngine(t *testing.T, source *MockSource, extractor *MockExtractor, config Config, notifier *recordingNotifier) (*Engine, *storage.SQLiteStorage) {
	t.Helper()
	store := testutil.SetupTestDB(t)
	deps := Deps{
		Source:    source,
		Filter:    prefilter.New(prefilter.Options{}),
		Extractor: extractor,
		Store:     store,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	e, err := NewWithConfig(deps, config)
	require.NoError(t, err)
	return e, store
}

func testJob(t *testing.T, from, to string) Job {
	t.Helper()
	r, err := model.NewDateRange(testutil.Day(t, from), testutil.Day(t, to))
	require.NoError(t, err)
	return Job{State: model.RunState{RunID: "run-1", Trigger: model.TriggerManualRange, Range: r}}
}

func fastConfig() Config {
	c := DefaultConfig()
	c.StoreRetry.InitialDelay = time.Millisecond
	c.StoreRetry.MaxDelay = time.Millisecond
	return c
}

func TestEngine_Execute(t *testing.T) {
	tests := []struct {
		setup         func(t *testing.T, x *MockExtractor)
		name          string
		wantStatus    model.RunStatus
		wantTotal     int
		wantProcessed int
		wantExtracted int
		wantFailed    int
		wantTxns      int
		wantSummaries int
		countBasis    CountBasis
		emptySource   bool
	}{
		{
			name:        "empty candidate set",
			emptySource: true,
			wantStatus:  model.RunDone,
		},
		{
			name: "two extracted and one implausible date",
			setup: func(t *testing.T, x *MockExtractor) {
				x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
				x.Results["m3"] = extracted(t, "2025-01-10", "Grocer", "40.00")
				x.Results["m5"] = implausible()
			},
			wantStatus:    model.RunDone,
			wantTotal:     3,
			wantProcessed: 3,
			wantExtracted: 2,
			wantFailed:    1,
			wantTxns:      2,
			wantSummaries: 1,
		},
		{
			name: "fetched count basis includes rejected messages",
			setup: func(t *testing.T, x *MockExtractor) {
				x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
			},
			countBasis:    CountFetched,
			wantStatus:    model.RunDone,
			wantTotal:     5,
			wantProcessed: 5,
			wantExtracted: 1,
			wantTxns:      1,
			wantSummaries: 1,
		},
		{
			name: "inference outage fails the run but keeps earlier commits",
			setup: func(t *testing.T, x *MockExtractor) {
				x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
				x.Errors["m3"] = fmt.Errorf("%w: connection refused", common.ErrInferenceUnavailable)
			},
			wantStatus:    model.RunFailed,
			wantTotal:     3,
			wantProcessed: 1,
			wantExtracted: 1,
			wantTxns:      1,
			wantSummaries: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &MockSource{Messages: scenarioMessages(t)}
			if tt.emptySource {
				source.Messages = nil
			}
			x := NewMockExtractor()
			if tt.setup != nil {
				tt.setup(t, x)
			}
			config := fastConfig()
			if tt.countBasis != "" {
				config.CountBasis = tt.countBasis
			}
			e, store := newTestEngine(t, source, x, config, nil)

			rec := &snapshotRecorder{}
			job := testJob(t, "2025-01-10", "2025-01-10")
			final := e.Execute(context.Background(), job, rec.record)

			assert.Equal(t, tt.wantStatus, final.Status)
			assert.Equal(t, tt.wantTotal, final.TotalCandidates)
			assert.Equal(t, tt.wantProcessed, final.ProcessedCount)
			assert.Equal(t, tt.wantExtracted, final.ExtractedCount)
			assert.Equal(t, tt.wantFailed, final.FailedCount)
			assert.False(t, final.FinishedAt.IsZero())
			if tt.wantStatus == model.RunFailed {
				assert.Contains(t, final.LastError, "inference service unavailable")
			} else {
				assert.Empty(t, final.LastError)
			}

			for _, s := range rec.all() {
				assert.LessOrEqual(t, s.ProcessedCount, s.TotalCandidates, "status %s", s.Status)
			}

			txns, err := store.TransactionsInRange(context.Background(), job.State.Range)
			require.NoError(t, err)
			assert.Len(t, txns, tt.wantTxns)

			summaries, err := store.SummariesInRange(context.Background(), job.State.Range)
			require.NoError(t, err)
			assert.Len(t, summaries, tt.wantSummaries)
		})
	}
}

func TestEngine_PhaseOrder(t *testing.T) {
	source := &MockSource{Messages: scenarioMessages(t)}
	x := NewMockExtractor()
	x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
	e, _ := newTestEngine(t, source, x, fastConfig(), nil)

	rec := &snapshotRecorder{}
	e.Execute(context.Background(), testJob(t, "2025-01-10", "2025-01-10"), rec.record)

	var phases []model.RunStatus
	for _, s := range rec.all() {
		if len(phases) == 0 || phases[len(phases)-1] != s.Status {
			phases = append(phases, s.Status)
		}
	}
	assert.Equal(t, []model.RunStatus{
		model.RunFetching,
		model.RunFiltering,
		model.RunExtracting,
		model.RunSummarizing,
		model.RunDone,
	}, phases)
}

func TestEngine_RerunCommitsNothingNew(t *testing.T) {
	source := &MockSource{Messages: scenarioMessages(t)}
	x := NewMockExtractor()
	x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
	x.Results["m3"] = extracted(t, "2025-01-10", "Grocer", "40.00")
	x.Results["m5"] = implausible()
	e, store := newTestEngine(t, source, x, fastConfig(), nil)
	ctx := context.Background()
	job := testJob(t, "2025-01-10", "2025-01-10")

	first := e.Execute(ctx, job, nil)
	require.Equal(t, model.RunDone, first.Status)
	before, err := store.TransactionsInRange(ctx, job.State.Range)
	require.NoError(t, err)

	second := e.Execute(ctx, job, nil)
	assert.Equal(t, model.RunDone, second.Status)
	assert.Equal(t, 0, second.ExtractedCount)
	assert.Equal(t, 3, second.SkippedCount)
	assert.Equal(t, 3, second.ProcessedCount)
	assert.Len(t, x.Calls(), 3, "already processed messages must not reach the extractor")

	after, err := store.TransactionsInRange(ctx, job.State.Range)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngine_HaltBetweenMessages(t *testing.T) {
	source := &MockSource{Messages: scenarioMessages(t)}
	x := NewMockExtractor()
	x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
	x.Results["m3"] = extracted(t, "2025-01-10", "Grocer", "40.00")

	var halted sync.Once
	stop := make(chan struct{})
	x.Before = func(c model.Candidate) {
		if c.MessageID == "m1" {
			halted.Do(func() { close(stop) })
		}
	}
	e, store := newTestEngine(t, source, x, fastConfig(), nil)

	job := testJob(t, "2025-01-10", "2025-01-10")
	job.Halted = func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}
	final := e.Execute(context.Background(), job, nil)

	assert.Equal(t, model.RunDone, final.Status)
	assert.True(t, final.Halted)
	assert.Equal(t, 1, final.ProcessedCount)
	assert.Equal(t, []string{"m1"}, x.Calls())

	// The in-flight message is committed and summarized.
	s, err := store.SummaryFor(context.Background(), testutil.Day(t, "2025-01-10"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.50").Equal(s.TotalAmount))
}

func TestEngine_FetchFailure(t *testing.T) {
	source := &MockSource{
		Messages: scenarioMessages(t),
		Err:      fmt.Errorf("%w: token expired", common.ErrSourceUnavailable),
	}
	x := NewMockExtractor()
	e, store := newTestEngine(t, source, x, fastConfig(), nil)

	final := e.Execute(context.Background(), testJob(t, "2025-01-10", "2025-01-10"), nil)

	assert.Equal(t, model.RunFailed, final.Status)
	assert.Contains(t, final.LastError, "email source unavailable")
	assert.Empty(t, x.Calls())

	has, err := store.Has(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestEngine_Notify(t *testing.T) {
	messages := append(scenarioMessages(t),
		testutil.Message(t, "m6", "2025-01-11", "alerts@bank.example", "Card used", "You spent $3.00 at Kiosk."))

	tests := []struct {
		notifierErr error
		name        string
		notify      bool
		wantSent    []string
	}{
		{name: "disabled", notify: false},
		{name: "enabled", notify: true, wantSent: []string{"2025-01-10", "2025-01-11"}},
		{name: "send failure is only logged", notify: true, notifierErr: errors.New("smtp down"), wantSent: []string{"2025-01-10", "2025-01-11"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewMockExtractor()
			x.Results["m1"] = extracted(t, "2025-01-10", "Corner Cafe", "12.50")
			x.Results["m6"] = extracted(t, "2025-01-11", "Kiosk", "3.00")
			notifier := &recordingNotifier{err: tt.notifierErr}
			e, _ := newTestEngine(t, &MockSource{Messages: messages}, x, fastConfig(), notifier)

			job := testJob(t, "2025-01-10", "2025-01-11")
			job.Notify = tt.notify
			final := e.Execute(context.Background(), job, nil)

			assert.Equal(t, model.RunDone, final.Status)
			assert.Equal(t, tt.wantSent, notifier.sent)
		})
	}
}

func TestEngine_FetchTimeout(t *testing.T) {
	config := fastConfig()
	config.FetchTimeout = 10 * time.Millisecond
	e, _ := newTestEngine(t, &MockSource{}, NewMockExtractor(), config, nil)
	e.deps.Source = blockingSource{}

	final := e.Execute(context.Background(), testJob(t, "2025-01-10", "2025-01-10"), nil)

	assert.Equal(t, model.RunFailed, final.Status)
	assert.Contains(t, final.LastError, "fetch timed out")
}

type blockingSource struct{}

func (blockingSource) Fetch(ctx context.Context, _ model.DateRange) iter.Seq2[model.RawMessage, error] {
	return func(yield func(model.RawMessage, error) bool) {
		<-ctx.Done()
		yield(model.RawMessage{}, ctx.Err())
	}
}

func TestNewWithConfig_MissingDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestParseCountBasis(t *testing.T) {
	b, err := ParseCountBasis("")
	require.NoError(t, err)
	assert.Equal(t, CountCandidates, b)

	b, err = ParseCountBasis("fetched")
	require.NoError(t, err)
	assert.Equal(t, CountFetched, b)

	_, err = ParseCountBasis("everything")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestEngine_JobClock(t *testing.T) {
	source := &MockSource{Messages: scenarioMessages(t)}
	e, _ := newTestEngine(t, source, NewMockExtractor(), fastConfig(), nil)

	clock := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	job := testJob(t, "2025-01-10", "2025-01-10")
	job.Now = func() time.Time { return clock }

	final := e.Execute(context.Background(), job, nil)
	require.Equal(t, model.RunDone, final.Status)
	assert.True(t, clock.Equal(final.StartedAt))
	assert.True(t, clock.Equal(final.FinishedAt))
}
