package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/cobra"
)

// knobs collects repeated --set key=value flags into analysis parameters
// using the same names as the HTTP query string.
type knobs []string

func (k knobs) params() (domain.Params, error) {
	q := url.Values{}
	for _, kv := range k {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return domain.Params{}, fmt.Errorf("%w: --set %q must be key=value", domain.ErrInvalidInput, kv)
		}
		q.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return api.ParseParams(q)
}

// openInput opens path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return f, nil
}

// analyzeFile runs one local analysis without a cache.
func (a *app) analyzeFile(cmd *cobra.Command, module, path string, set knobs) (*domain.Report, error) {
	m, err := domain.ParseModule(module)
	if err != nil {
		return nil, err
	}
	params, err := set.params()
	if err != nil {
		return nil, err
	}

	scorer, rs, err := a.scorer()
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	svc := analysis.New(scorer, nil, analysis.Options{})
	return svc.AnalyzeCSV(cmd.Context(), m, in, params)
}

func analyzeCmd(a *app) *cobra.Command {
	var (
		set    knobs
		asJSON bool
		top    int
	)
	cmd := &cobra.Command{
		Use:     "analyze <module> <file.csv|->",
		Short:   "Score a CSV dataset and print the report",
		Example: `  kestrel analyze churn customers.csv
  kestrel analyze credit loans.csv --set unemployment_rate=9 --set macro_shock=1
  cat events.csv | kestrel analyze cyber - --set window=24h --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.analyzeFile(cmd, args[0], args[1], set)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printSummary(out, report, top)
		},
	}
	cmd.Flags().StringArrayVar((*[]string)(&set), "set", nil, "module knob as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.Flags().IntVar(&top, "top", 10, "number of riskiest entities to list")
	return cmd
}

// printSummary writes the insights and the riskiest entities.
func printSummary(w io.Writer, r *domain.Report, top int) error {
	fmt.Fprintf(w, "%s: %d rows scored in %dms\n\n", r.Module.Title(), r.Rows, r.DurationMs)
	for _, s := range r.Insights {
		fmt.Fprintf(w, "  * %s\n", s)
	}
	if len(r.Entities) == 0 || top <= 0 {
		return nil
	}

	ranked := make([]domain.ScoredEntity, len(r.Entities))
	copy(ranked, r.Entities)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].PrimaryScore > ranked[j].PrimaryScore })
	if len(ranked) > top {
		ranked = ranked[:top]
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\tLEVEL\tTAGS\n", strings.ToUpper(r.Module.PrimaryName()))
	for _, e := range ranked {
		fmt.Fprintf(tw, "%s\t%.4f\t%s\t%s\n", e.ID, e.PrimaryScore, e.RiskLevel, strings.Join(e.Tags, ", "))
	}
	return tw.Flush()
}
