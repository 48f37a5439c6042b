package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailtally/internal/cli"
	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/config"
)

func configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Show or change the scheduler settings",
		Long: fmt.Sprintf(`Change how often 'tally serve' processes mail and whether finished runs
email their daily summaries. The interval must be between %d and %d minutes.

Without flags the current settings are printed.`, config.MinIntervalMinutes, config.MaxIntervalMinutes),
		RunE: runConfigure,
	}

	cmd.Flags().Int("interval", 0, "Minutes between scheduled runs")
	cmd.Flags().Bool("notify", false, "Email daily summaries after each run")

	return cmd
}

func runConfigure(cmd *cobra.Command, _ []string) error {
	file, _, err := initSettings()
	if err != nil {
		return err
	}
	settings, err := file.Load()
	if err != nil {
		return err
	}

	changed := false
	if cmd.Flags().Changed("interval") {
		interval, _ := cmd.Flags().GetInt("interval")
		if !config.ValidInterval(interval) {
			return fmt.Errorf("%w: %d minutes is outside [%d, %d]", common.ErrInvalidInterval,
				interval, config.MinIntervalMinutes, config.MaxIntervalMinutes)
		}
		settings.IntervalMinutes = interval
		changed = true
	}
	if cmd.Flags().Changed("notify") {
		settings.NotifyOnComplete, _ = cmd.Flags().GetBool("notify")
		changed = true
	}

	if changed {
		if err := file.Save(settings); err != nil {
			return err
		}
		fmt.Println(cli.FormatSuccess("Settings saved."))
	}

	content := fmt.Sprintf("  • Interval: %d minutes\n  • Notify on completion: %t",
		settings.IntervalMinutes, settings.NotifyOnComplete)
	fmt.Println(cli.RenderBox("Scheduler Settings", content))
	return nil
}
