package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailtally/internal/cli"
	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one date range now",
		Long: `Fetch the mail received between --from and --to (inclusive), extract any
transactions and update the daily summaries for the affected days.

Messages already processed by an earlier run are skipped, so re-running a
range is safe.`,
		RunE: runRun,
	}

	cmd.Flags().String("from", "", "First day to process (YYYY-MM-DD, default: yesterday)")
	cmd.Flags().String("to", "", "Last day to process (YYYY-MM-DD, default: today)")
	cmd.Flags().Bool("notify", false, "Send summaries for the affected days when the run finishes")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	r, err := rangeFlags(cmd, 1)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	if notify, _ := cmd.Flags().GetBool("notify"); notify && !a.scheduler.NotifyOnComplete() {
		if err := a.scheduler.SetNotify(true); err != nil {
			return err
		}
		defer func() { _ = a.scheduler.SetNotify(false) }()
	}

	handler := cli.NewInterruptHandler(os.Stderr, a.scheduler.Stop)
	ctx := handler.HandleInterrupts(cmd.Context())

	updates, unsubscribe := a.scheduler.Subscribe(256)
	defer unsubscribe()

	fmt.Println(cli.FormatTitle("Processing " + r.String()))
	runID, err := a.scheduler.TriggerRange(r.Start, r.End)
	if err != nil {
		return common.NewUserError("could not start the run", err)
	}

	final, err := cli.NewRunProgress(os.Stdout, runID).Follow(ctx, updates)
	if err != nil {
		return fmt.Errorf("lost track of run %s: %w", runID, err)
	}

	fmt.Println(cli.RenderRun(final))
	if final.Status == model.RunFailed {
		return fmt.Errorf("run failed: %s", final.LastError)
	}
	return nil
}

// rangeFlags reads --from/--to, defaulting to the last lookbackDays days.
func rangeFlags(cmd *cobra.Command, lookbackDays int) (model.DateRange, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	today := model.TruncateDay(time.Now())
	if to == "" {
		to = today.Format(model.DateLayout)
	}
	if from == "" {
		from = today.AddDate(0, 0, -lookbackDays).Format(model.DateLayout)
	}

	r, err := model.ParseDateRange(from, to)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("%w: %w", common.ErrInvalidDateRange, err)
	}
	return r, nil
}
