package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/mailtally/internal/model"
)

// ErrUpdatesClosed is returned when the snapshot stream ends before the run does.
var ErrUpdatesClosed = errors.New("status updates closed before the run finished")

// RunProgress draws a progress bar for one run from scheduler snapshots.
type RunProgress struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	runID  string
	status model.RunStatus
}

// NewRunProgress creates an observer for runID writing to w.
func NewRunProgress(w io.Writer, runID string) *RunProgress {
	return &RunProgress{writer: w, runID: runID}
}

// Follow consumes updates until the run finishes and returns its final state.
func (p *RunProgress) Follow(ctx context.Context, updates <-chan model.Snapshot) (model.RunState, error) {
	for {
		select {
		case <-ctx.Done():
			return model.RunState{}, ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return model.RunState{}, ErrUpdatesClosed
			}
			if snap.Run == nil || snap.Run.RunID != p.runID {
				continue
			}
			p.Observe(*snap.Run)
			if !snap.Run.Status.Active() {
				return *snap.Run, nil
			}
		}
	}
}

// Observe applies one run state to the bar.
func (p *RunProgress) Observe(run model.RunState) {
	if run.Status != p.status {
		p.status = run.Status
		if p.bar == nil && run.Status.Active() && run.Status != model.RunExtracting {
			if _, err := fmt.Fprintln(p.writer, SubtleStyle.Render(phaseLabel(run.Status))); err != nil {
				slog.Warn("Failed to write run phase", "error", err)
			}
		}
	}

	if run.Status == model.RunExtracting && p.bar == nil && run.TotalCandidates > 0 {
		p.bar = p.newBar(run.TotalCandidates)
	}
	if p.bar == nil {
		return
	}

	if err := p.bar.Set(run.ProcessedCount); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	if !run.Status.Active() && !p.bar.IsFinished() {
		if err := p.bar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}
}

func (p *RunProgress) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Extracting transactions...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

func phaseLabel(status model.RunStatus) string {
	switch status {
	case model.RunFetching:
		return "Fetching messages..."
	case model.RunFiltering:
		return "Filtering candidates..."
	case model.RunSummarizing:
		return "Updating daily summaries..."
	default:
		return string(status)
	}
}
