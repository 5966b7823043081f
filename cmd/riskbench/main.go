// Benchmark tool for replaying labeled transaction data against Kestrel.
//
// Usage:
//   go run cmd/riskbench/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled transaction records from CSV (with is_fraud labels)
//   2. Sends each transaction to Kestrel for scoring
//   3. Compares Kestrel's decision (flagged = IN_REVIEW or REJECTED) with the labels
//   4. Calculates precision, recall, F1-score, and the decision distribution
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction represents a row from the replay dataset.
type LabeledTransaction struct {
	TransactionID  int64
	AmountMXN      float64
	CustomerTxn30d int
	GeoState       string
	DeviceType     string
	ChargebackCnt  int
	Hour           int
	HasHour        bool
	ProductType    string
	LatencyMs      int
	UserReputation string
	DeviceRisk     string
	IPRisk         string
	EmailRisk      string
	BinCountry     string
	IPCountry      string
	IsFraud        bool
}

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	TransactionID  int64   `json:"transaction_id"`
	AmountMXN      float64 `json:"amount_mxn"`
	CustomerTxn30d int     `json:"customer_txn_30d"`
	GeoState       string  `json:"geo_state,omitempty"`
	DeviceType     string  `json:"device_type,omitempty"`
	ChargebackCnt  int     `json:"chargeback_count"`
	Hour           *int    `json:"hour,omitempty"`
	ProductType    string  `json:"product_type,omitempty"`
	LatencyMs      int     `json:"latency_ms"`
	UserReputation string  `json:"user_reputation,omitempty"`
	DeviceRisk     string  `json:"device_fingerprint_risk,omitempty"`
	IPRisk         string  `json:"ip_risk,omitempty"`
	EmailRisk      string  `json:"email_risk,omitempty"`
	BinCountry     string  `json:"bin_country,omitempty"`
	IPCountry      string  `json:"ip_country,omitempty"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	TransactionID int64    `json:"transaction_id"`
	RiskScore     int      `json:"risk_score"`
	Decision      string   `json:"decision"`
	Reasons       []string `json:"reasons"`
	EvaluationID  string   `json:"evaluation_id"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged for review or rejected
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud accepted
	FalseNegatives int64 // Fraud accepted (missed!)

	Accepted int64
	InReview int64
	Rejected int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: riskbench -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL RISKBENCH - Labeled Replay                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read replay data
	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	// Run benchmark
	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *verbose)
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

func readLabeledCSV(path string, limit int, fraudOnly bool) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var transactions []LabeledTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := field(record, "is_fraud") == "1"
		if fraudOnly && !isFraud {
			continue
		}

		txID, err := strconv.ParseInt(field(record, "transaction_id"), 10, 64)
		if err != nil {
			continue
		}
		amount, _ := strconv.ParseFloat(field(record, "amount_mxn"), 64)
		txn30d, _ := strconv.Atoi(field(record, "customer_txn_30d"))
		chargebacks, _ := strconv.Atoi(field(record, "chargeback_count"))
		latency, _ := strconv.Atoi(field(record, "latency_ms"))

		tx := LabeledTransaction{
			TransactionID:  txID,
			AmountMXN:      amount,
			CustomerTxn30d: txn30d,
			GeoState:       field(record, "geo_state"),
			DeviceType:     field(record, "device_type"),
			ChargebackCnt:  chargebacks,
			ProductType:    field(record, "product_type"),
			LatencyMs:      latency,
			UserReputation: field(record, "user_reputation"),
			DeviceRisk:     field(record, "device_fingerprint_risk"),
			IPRisk:         field(record, "ip_risk"),
			EmailRisk:      field(record, "email_risk"),
			BinCountry:     field(record, "bin_country"),
			IPCountry:      field(record, "ip_country"),
			IsFraud:        isFraud,
		}

		if raw := field(record, "hour"); raw != "" {
			if h, err := strconv.Atoi(raw); err == nil {
				tx.Hour = h
				tx.HasHour = true
			}
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := evaluateTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: tx %d -> %v\n", tx.TransactionID, err)
					}
					continue
				}

				switch result.Decision {
				case "ACCEPTED":
					atomic.AddInt64(&metrics.Accepted, 1)
				case "IN_REVIEW":
					atomic.AddInt64(&metrics.InReview, 1)
				case "REJECTED":
					atomic.AddInt64(&metrics.Rejected, 1)
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Flagged = anything the engine did not wave through
				predicted := result.Decision != "ACCEPTED"
				actual := tx.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s tx %-12d | Amount: $%10.2f | Fraud: %-5v | Kestrel: %-9s (score %d)\n",
						status,
						tx.TransactionID,
						tx.AmountMXN,
						tx.IsFraud,
						result.Decision,
						result.RiskScore,
					)
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

func evaluateTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*EvaluateResponse, error) {
	req := EvaluateRequest{
		TransactionID:  tx.TransactionID,
		AmountMXN:      tx.AmountMXN,
		CustomerTxn30d: tx.CustomerTxn30d,
		GeoState:       tx.GeoState,
		DeviceType:     tx.DeviceType,
		ChargebackCnt:  tx.ChargebackCnt,
		ProductType:    tx.ProductType,
		LatencyMs:      tx.LatencyMs,
		UserReputation: tx.UserReputation,
		DeviceRisk:     tx.DeviceRisk,
		IPRisk:         tx.IPRisk,
		EmailRisk:      tx.EmailRisk,
		BinCountry:     tx.BinCountry,
		IPCountry:      tx.IPCountry,
	}
	if tx.HasHour {
		hour := tx.Hour
		req.Hour = &hour
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/transaction", bytes.NewReader(body))
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

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📋 DECISION DISTRIBUTION\n")
	fmt.Printf("   ACCEPTED:   %d\n", m.Accepted)
	fmt.Printf("   IN_REVIEW:  %d\n", m.InReview)
	fmt.Printf("   REJECTED:   %d\n", m.Rejected)

	fmt.Printf("\n📈 CONFUSION MATRIX (flagged = IN_REVIEW or REJECTED)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED     ACCEPTED")
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

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
