package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailtally/internal/cli"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List stored transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := rangeFlags(cmd, 7)
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			txns, err := store.TransactionsInRange(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("failed to load transactions: %w", err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(txns)
			}
			fmt.Println(cli.FormatTitle("Transactions " + r.String()))
			return cli.RenderTransactions(os.Stdout, txns)
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func summariesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List daily spending summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := rangeFlags(cmd, 7)
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summaries, err := store.SummariesInRange(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("failed to load summaries: %w", err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(summaries)
			}
			fmt.Println(cli.FormatTitle("Daily summaries " + r.String()))
			if err := cli.RenderSummaries(os.Stdout, summaries); err != nil {
				return err
			}
			if verbose, _ := cmd.Flags().GetBool("text"); verbose {
				for _, s := range summaries {
					fmt.Println()
					fmt.Println(cli.RenderBox(s.Date.Format("Monday, January 2"), s.SummaryText))
				}
			}
			return nil
		},
	}
	addRangeFlags(cmd)
	cmd.Flags().Bool("text", false, "Also print each day's summary text")
	return cmd
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "First day (YYYY-MM-DD, default: a week ago)")
	cmd.Flags().String("to", "", "Last day (YYYY-MM-DD, default: today)")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
