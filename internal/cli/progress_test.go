package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mailtally/internal/model"
)

func TestRunProgress_Follow(t *testing.T) {
	updates := make(chan model.Snapshot, 16)
	run := func(status model.RunStatus, processed, total int) model.Snapshot {
		return model.Snapshot{Run: &model.RunState{RunID: "r1", Status: status, ProcessedCount: processed, TotalCandidates: total}}
	}

	updates <- model.Snapshot{Lifecycle: model.LifecycleStopped}
	updates <- model.Snapshot{Run: &model.RunState{RunID: "other", Status: model.RunDone}}
	updates <- run(model.RunFetching, 0, 0)
	updates <- run(model.RunFiltering, 0, 0)
	updates <- run(model.RunExtracting, 0, 2)
	updates <- run(model.RunExtracting, 1, 2)
	updates <- run(model.RunExtracting, 2, 2)
	updates <- run(model.RunSummarizing, 2, 2)
	updates <- run(model.RunDone, 2, 2)

	out := &syncBuffer{}
	p := NewRunProgress(out, "r1")
	final, err := p.Follow(context.Background(), updates)

	require.NoError(t, err)
	assert.Equal(t, model.RunDone, final.Status)
	assert.Equal(t, 2, final.ProcessedCount)
	assert.Contains(t, out.String(), "Fetching messages")
	assert.Contains(t, out.String(), "Extracting transactions")
}

func TestRunProgress_Closed(t *testing.T) {
	updates := make(chan model.Snapshot)
	close(updates)

	_, err := NewRunProgress(&syncBuffer{}, "r1").Follow(context.Background(), updates)
	assert.ErrorIs(t, err, ErrUpdatesClosed)
}

func TestRunProgress_ContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewRunProgress(&syncBuffer{}, "r1").Follow(ctx, make(chan model.Snapshot))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
