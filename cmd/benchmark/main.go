// Benchmark tool for measuring Kestrel's fraud scoring against labelled data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labelled.csv [-threshold 0.6]
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a fraud CSV with a 0/1 label column. PaySim files are mapped
//     onto the fraud schema.
//  2. Scores every row, in process or through the export endpoint of a
//     running server.
//  3. Flags rows whose fraud score reaches the threshold.
//  4. Reports precision, recall, F1-score and the confusion matrix.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Dataset is a fraud CSV split into its header, rows and labels.
type Dataset struct {
	Header []string
	Rows   [][]string
	Labels []bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int // Fraud flagged
	FalsePositives int // Non-fraud flagged
	TrueNegatives  int // Non-fraud passed
	FalseNegatives int // Fraud passed (missed fraud!)

	TotalFraud    int
	TotalNonFraud int
	TotalErrors   int
}

// paysimEpoch anchors PaySim's hourly step counter.
var paysimEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	csvPath := flag.String("csv", "", "Path to a labelled fraud CSV")
	baseURL := flag.String("url", "", "Kestrel base URL; empty scores in process")
	label := flag.String("label", "is_fraud", "Label column (1 = fraud)")
	threshold := flag.Float64("threshold", 0.6, "Fraud score at or above which a row is flagged")
	limit := flag.Int("limit", 10000, "Maximum rows to read (0 = all)")
	workers := flag.Int("workers", 4, "Concurrent requests in remote mode")
	batch := flag.Int("batch", 1000, "Rows per request in remote mode")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud rows")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each misclassified row")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labelled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - labelled fraud detection")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	if *baseURL != "" {
		fmt.Printf("Kestrel URL: %s (workers %d, batch %d)\n", *baseURL, *workers, *batch)
	} else {
		fmt.Println("Mode:        in process")
	}
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	ds, err := readDataset(f, *label, *limit, *fraudOnly, *sampleRate)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(ds.Rows) == 0 {
		fmt.Println("ERROR: no rows selected")
		os.Exit(1)
	}

	fraudCount := 0
	for _, l := range ds.Labels {
		if l {
			fraudCount++
		}
	}
	fmt.Printf("Loaded %d rows\n", len(ds.Rows))
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(ds.Rows)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(ds.Rows)-fraudCount, 100*float64(len(ds.Rows)-fraudCount)/float64(len(ds.Rows)))

	ctx := context.Background()
	start := time.Now()
	var scores []float64
	if *baseURL != "" {
		if err := checkHealth(*baseURL); err != nil {
			fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
			os.Exit(1)
		}
		scores = scoreRemote(ctx, &http.Client{Timeout: time.Minute}, *baseURL, ds, *batch, *workers)
	} else {
		scores, err = scoreLocal(ctx, ds)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	}
	duration := time.Since(start)

	m := Evaluate(ds.Labels, scores, *threshold)
	if *verbose {
		printMisses(ds, scores, *threshold)
	}
	printResults(m, len(ds.Rows), duration)
}

// readDataset loads header, rows and labels. The label column is removed
// from the rows. PaySim files are recognised by their nameOrig column.
func readDataset(r io.Reader, label string, limit int, fraudOnly bool, sampleRate float64) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	paysim := false
	if _, ok := colIndex["nameorig"]; ok {
		paysim = true
		if label == "is_fraud" {
			label = "isfraud"
		}
	}
	labelIdx, ok := colIndex[strings.ToLower(label)]
	if !ok {
		return nil, fmt.Errorf("label column %q not found", label)
	}

	ds := &Dataset{}
	keep := make([]int, 0, len(header))
	if paysim {
		ds.Header = []string{
			domain.ColTransactionID, domain.ColAccountID, domain.ColAmount,
			domain.ColTransactionType, domain.ColTimestamp,
		}
	} else {
		for i, col := range header {
			if i != labelIdx {
				keep = append(keep, i)
				ds.Header = append(ds.Header, col)
			}
		}
	}

	sampleCounter := 0
	for n := 0; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || labelIdx >= len(record) {
			continue // Skip malformed rows
		}

		isFraud := strings.TrimSpace(record[labelIdx]) == "1"
		if fraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		var row []string
		if paysim {
			row = paysimRow(record, colIndex, n)
		} else {
			row = make([]string, len(keep))
			for j, i := range keep {
				if i < len(record) {
					row[j] = record[i]
				}
			}
		}

		ds.Rows = append(ds.Rows, row)
		ds.Labels = append(ds.Labels, isFraud)
		if limit > 0 && len(ds.Rows) >= limit {
			break
		}
	}
	return ds, nil
}

// paysimRow maps one PaySim record onto the fraud columns. The hourly step
// becomes a timestamp so velocity can be derived per account.
func paysimRow(record []string, colIndex map[string]int, n int) []string {
	field := func(name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}
	step, _ := strconv.Atoi(field("step"))
	return []string{
		"tx-" + strconv.Itoa(n+1),
		field("nameorig"),
		field("amount"),
		strings.ToLower(field("type")),
		paysimEpoch.Add(time.Duration(step) * time.Hour).Format(time.RFC3339),
	}
}

// encode writes the header and rows [from, to) as CSV.
func (ds *Dataset) encode(from, to int) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(ds.Header)
	w.WriteAll(ds.Rows[from:to])
	return buf.Bytes()
}

// scoreLocal runs the fraud rule set in process over the whole dataset.
func scoreLocal(ctx context.Context, ds *Dataset) ([]float64, error) {
	set, err := rules.NewSet(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rules: %w", err)
	}
	defer set.Close()
	scorer := scoring.New(set, velocity.NewService())

	parsed, err := ingest.ParseBytes(ds.encode(0, len(ds.Rows)), domain.ModuleFraud, ingest.Options{})
	if err != nil {
		return nil, err
	}
	entities, err := scorer.Score(ctx, domain.ModuleFraud, parsed.Rows, domain.DefaultParams())
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(entities))
	for i, e := range entities {
		scores[i] = e.PrimaryScore
	}
	return scores, nil
}

// scoreRemote posts the dataset in batches to the export endpoint. Rows of
// failed batches score NaN and are counted as errors.
func scoreRemote(ctx context.Context, client *http.Client, baseURL string, ds *Dataset, batch, workers int) []float64 {
	if batch <= 0 {
		batch = len(ds.Rows)
	}
	if workers <= 0 {
		workers = 1
	}

	scores := make([]float64, len(ds.Rows))
	work := make(chan int, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for from := range work {
				to := min(from+batch, len(ds.Rows))
				got, err := exportBatch(ctx, client, baseURL, ds.encode(from, to))
				if err == nil && len(got) != to-from {
					err = fmt.Errorf("expected %d rows, got %d", to-from, len(got))
				}
				for j := from; j < to; j++ {
					if err != nil {
						scores[j] = math.NaN()
						continue
					}
					scores[j] = got[j-from]
				}
				if err != nil {
					fmt.Printf("ERROR: rows %d-%d -> %v\n", from, to-1, err)
				}
			}
		}()
	}

	for from := 0; from < len(ds.Rows); from += batch {
		work <- from
	}
	close(work)
	wg.Wait()
	return scores
}

func exportBatch(ctx context.Context, client *http.Client, baseURL string, body []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/modules/fraud/export?format=json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		v, ok := row[domain.ModuleFraud.PrimaryName()].(float64)
		if !ok {
			return nil, fmt.Errorf("row %d has no %s", i, domain.ModuleFraud.PrimaryName())
		}
		out[i] = v
	}
	return out, nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Evaluate builds the confusion matrix at threshold. NaN scores count as
// errors.
func Evaluate(labels []bool, scores []float64, threshold float64) Metrics {
	var m Metrics
	for i, actual := range labels {
		if i >= len(scores) || math.IsNaN(scores[i]) {
			m.TotalErrors++
			continue
		}
		if actual {
			m.TotalFraud++
		} else {
			m.TotalNonFraud++
		}

		predicted := scores[i] >= threshold
		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
	return m
}

// Precision is TP / (TP + FP), 0 with no alerts.
func (m Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN), 0 with no fraud.
func (m Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (m Metrics) Accuracy() float64 {
	return ratio(m.TruePositives+m.TrueNegatives, m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func printMisses(ds *Dataset, scores []float64, threshold float64) {
	fmt.Println("\nMISCLASSIFIED ROWS")
	for i, actual := range ds.Labels {
		if math.IsNaN(scores[i]) || (scores[i] >= threshold) == actual {
			continue
		}
		kind := "missed"
		if !actual {
			kind = "false alarm"
		}
		fmt.Printf("  %-12s row %-7d score %.2f  %s\n", kind, i+1, scores[i], strings.Join(ds.Rows[i], ","))
	}
}

func printResults(m Metrics, rows int, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Rows:       %d\n", rows)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                       Predicted")
	fmt.Println("                    FLAG        PASS")
	fmt.Printf("   Actual  F    %8d    %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d    %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	if m.TotalNonFraud > 0 {
		fmt.Printf("   False Alarms:  %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, 100*ratio(m.FalsePositives, m.TotalNonFraud))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("   Throughput:       %.2f rows/sec\n", float64(rows)/duration.Seconds())
	}
	fmt.Println()
}
