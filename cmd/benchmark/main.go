// Benchmark tool for testing Kestrel against labeled transaction data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads bank transaction data (optionally with fraud labels)
//   2. Sends each transaction to Kestrel for scoring
//   3. Compares the composite score against a threshold and, when
//      labels are present, calculates precision, recall and F1
//   4. Reports throughput and latency percentiles
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Transaction represents a row from the benchmark dataset.
type Transaction struct {
	TransactionID   string
	AccountID       string
	Amount          float64
	TransactionDate string
	Type            string
	Location        string
	DeviceID        string
	MerchantID      string
	Channel         string
	CustomerAge     int
	Occupation      string
	DurationSecs    float64
	LoginAttempts   int
	AccountBalance  float64
	PreviousDate    string
	IsFraud         bool
	HasLabel        bool
}

// ScoreRequest is the Kestrel API request format.
type ScoreRequest struct {
	TransactionID     string   `json:"transactionId"`
	AccountID         string   `json:"accountId"`
	MerchantID        string   `json:"merchantId"`
	DeviceID          string   `json:"deviceId"`
	Location          string   `json:"location"`
	Amount            float64  `json:"amount"`
	DurationSecs      *float64 `json:"durationSecs,omitempty"`
	LoginAttempts     int      `json:"loginAttempts"`
	AccountBalance    float64  `json:"accountBalance"`
	Timestamp         string   `json:"timestamp"`
	PreviousTimestamp string   `json:"previousTimestamp,omitempty"`
	Type              string   `json:"type"`
	Channel           string   `json:"channel"`
	Occupation        string   `json:"occupation"`
	Age               int      `json:"age"`
}

// ScoreResponse is the Kestrel API response format.
type ScoreResponse struct {
	ScoreID        string  `json:"scoreId"`
	CompositeScore float64 `json:"compositeScore"`
	DriftAlert     bool    `json:"driftAlert"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalLabeled   int64
	TotalErrors    int64
	DriftAlerts    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.Float64("threshold", 0.7, "Composite score alert threshold")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Fraud Scoring Pipeline          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading transaction data from %s...\n", *csvPath)
	transactions, err := readCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *threshold, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

func readCSV(path string, limit int) ([]Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	col := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	_, hasLabel := colIndex["isfraud"]

	var transactions []Transaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(col(record, "transactionamount"), 64)
		duration, _ := strconv.ParseFloat(col(record, "transactionduration"), 64)
		attempts, _ := strconv.Atoi(col(record, "loginattempts"))
		balance, _ := strconv.ParseFloat(col(record, "accountbalance"), 64)
		age, _ := strconv.Atoi(col(record, "customerage"))

		tx := Transaction{
			TransactionID:   col(record, "transactionid"),
			AccountID:       col(record, "accountid"),
			Amount:          amount,
			TransactionDate: col(record, "transactiondate"),
			Type:            col(record, "transactiontype"),
			Location:        col(record, "location"),
			DeviceID:        col(record, "deviceid"),
			MerchantID:      col(record, "merchantid"),
			Channel:         col(record, "channel"),
			CustomerAge:     age,
			Occupation:      col(record, "customeroccupation"),
			DurationSecs:    duration,
			LoginAttempts:   attempts,
			AccountBalance:  balance,
			PreviousDate:    col(record, "previoustransactiondate"),
			IsFraud:         col(record, "isfraud") == "1",
			HasLabel:        hasLabel,
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []Transaction, baseURL string, threshold float64, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Transaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := scoreTransaction(client, baseURL, tx)
				elapsed := time.Since(start)

				metrics.recordLatency(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.TransactionID, err)
					}
					continue
				}

				if result.DriftAlert {
					atomic.AddInt64(&metrics.DriftAlerts, 1)
				}

				if !tx.HasLabel {
					continue
				}
				atomic.AddInt64(&metrics.TotalLabeled, 1)

				predicted := result.CompositeScore >= threshold
				actual := tx.IsFraud

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					fmt.Printf("%-12s | Amount: $%10.2f | Score: %.4f | Fraud: %-5v\n",
						tx.TransactionID, tx.Amount, result.CompositeScore, tx.IsFraud)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreTransaction(client *http.Client, baseURL string, tx Transaction) (*ScoreResponse, error) {
	req := ScoreRequest{
		TransactionID:     tx.TransactionID,
		AccountID:         tx.AccountID,
		MerchantID:        tx.MerchantID,
		DeviceID:          tx.DeviceID,
		Location:          tx.Location,
		Amount:            tx.Amount,
		LoginAttempts:     tx.LoginAttempts,
		AccountBalance:    tx.AccountBalance,
		Timestamp:         tx.TransactionDate,
		PreviousTimestamp: tx.PreviousDate,
		Type:              tx.Type,
		Channel:           tx.Channel,
		Occupation:        tx.Occupation,
		Age:               tx.CustomerAge,
	}
	if tx.DurationSecs > 0 {
		req.DurationSecs = &tx.DurationSecs
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Labeled:          %d\n", m.TotalLabeled)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Drift Alerts:     %d\n", m.DriftAlerts)

	if m.TotalLabeled > 0 {
		fmt.Printf("\n📈 CONFUSION MATRIX\n")
		fmt.Println("                       Predicted")
		fmt.Println("                    ALERT       PASS")
		fmt.Println("              ┌──────────┬──────────┐")
		fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
		fmt.Println("              ├──────────┼──────────┤")
		fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
		fmt.Println("              └──────────┴──────────┘")

		precision := float64(0)
		if m.TruePositives+m.FalsePositives > 0 {
			precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
		}

		recall := float64(0)
		if m.TruePositives+m.FalseNegatives > 0 {
			recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
		}

		f1 := float64(0)
		if precision+recall > 0 {
			f1 = 2 * (precision * recall) / (precision + recall)
		}

		fmt.Printf("\n🎯 DETECTION METRICS\n")
		fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
		fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
		fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
		fmt.Printf("   Latency p50:      %v\n", percentile(m.latencies, 0.50).Round(time.Microsecond))
		fmt.Printf("   Latency p95:      %v\n", percentile(m.latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("   Latency p99:      %v\n", percentile(m.latencies, 0.99).Round(time.Microsecond))
	}

	fmt.Println()
}
