package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailtally/internal/cli"
	"github.com/Veraticus/mailtally/internal/model"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on a schedule",
		Long: `Start the scheduler and process new mail every interval until interrupted.

The first Ctrl+C lets the active run finish its current message and stops.
A second Ctrl+C aborts immediately.`,
		RunE: runServe,
	}

	cmd.Flags().Bool("now", false, "Start a run immediately instead of waiting one interval")
	cmd.Flags().Duration("shutdown-timeout", 2*time.Minute, "How long to wait for the active run on shutdown")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	now, _ := cmd.Flags().GetBool("now")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	stopped := make(chan struct{})
	handler := cli.NewInterruptHandler(os.Stderr, func() {
		a.scheduler.Stop()
		close(stopped)
	})
	ctx := handler.HandleInterrupts(cmd.Context())

	updates, unsubscribe := a.scheduler.Subscribe(0)
	defer unsubscribe()
	go logSnapshots(updates)

	a.scheduler.Start()
	if now {
		today := model.TruncateDay(time.Now())
		if _, err := a.scheduler.TriggerRange(today.AddDate(0, 0, -1), today); err != nil {
			slog.Warn("Failed to start initial run", "error", err)
		}
	}

	settings := a.scheduler.Settings()
	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Scheduler running every %d minutes. Press Ctrl+C to stop.",
		settings.IntervalMinutes)))

	select {
	case <-stopped:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown did not complete cleanly: %w", err)
	}
	fmt.Println(cli.FormatInfo("Scheduler stopped."))
	return nil
}

// logSnapshots logs phase changes and finished runs.
func logSnapshots(updates <-chan model.Snapshot) {
	var last model.RunStatus
	for snap := range updates {
		if snap.Run == nil || snap.Run.Status == last {
			continue
		}
		last = snap.Run.Status
		run := snap.Run

		switch run.Status {
		case model.RunDone, model.RunFailed:
			slog.Info("Run finished",
				"run_id", run.RunID,
				"status", run.Status,
				"processed", run.ProcessedCount,
				"total", run.TotalCandidates,
				"extracted", run.ExtractedCount,
				"halted", run.Halted,
				"error", run.LastError)
		default:
			slog.Debug("Run phase", "run_id", run.RunID, "status", run.Status)
		}
	}
}
