package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/spf13/cobra"
)

func exportCmd(a *app) *cobra.Command {
	var (
		set    knobs
		format string
		table  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <module> <file.csv|->",
		Short: "Score a CSV dataset and export the scored rows",
		Long:  `Export writes the input columns plus every derived column. With --format
csv or json the table goes to --output (stdout by default). With --format sql
it replaces --table in the configured SQLite or PostgreSQL database.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.analyzeFile(cmd, args[0], args[1], set)
			if err != nil {
				return err
			}
			t := export.FromReport(report)

			if format == "sql" {
				if table == "" {
					table = a.cfg.Export.Table
				}
				sink, err := export.NewSQLSink(a.cfg.Export)
				if err != nil {
					return err
				}
				defer sink.Close()

				run, err := sink.Write(cmd.Context(), table, t)
				if err != nil {
					return err
				}
				slog.Info("export written", "driver", a.cfg.Export.Driver, "table", run.Table, "rows", run.Rows, "run_id", run.ID)
				return nil
			}

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer file.Close()
				w = file
			}
			if err := export.Write(w, f, t); err != nil {
				return err
			}
			slog.Debug("export written", "format", f, "rows", len(t.Rows), "output", output)
			return nil
		},
	}
	cmd.Flags().StringArrayVar((*[]string)(&set), "set", nil, "module knob as key=value (repeatable)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv, json or sql")
	cmd.Flags().StringVar(&table, "table", "", "destination table for --format sql (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file for csv or json (default stdout)")
	return cmd
}
