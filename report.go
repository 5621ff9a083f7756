package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

const borderLine = "###############################################################"

func centered(title string) string {
	pad := (len(borderLine) - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	space := strings.Repeat(" ", pad)
	return space + title + space
}

// printBanner announces the endpoint and provider an iteration runs against.
func printBanner(out io.Writer, connString, providerName string) {
	fmt.Fprintln(out, borderLine)
	fmt.Fprintln(out, centered("Running tests on db "+connString))
	fmt.Fprintln(out, centered("Using Document Provider "+providerName))
	fmt.Fprintln(out, borderLine)
}

func printSection(out io.Writer, title string) {
	fmt.Fprintf(out, "------------%s------------\n", title)
}

// startRateLogger logs the meter every second until the returned func is called.
func startRateLogger(meter metrics.Meter, label string) func() {
	ticker := time.NewTicker(1 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				log.Infof("%s: Document Count: %d, Mean Rate: %.2f docs/sec, m1_rate: %.2f, m5_rate: %.2f, m15_rate: %.2f",
					label, meter.Count(), meter.RateMean(), meter.Rate1(), meter.Rate5(), meter.Rate15())
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// ResultRecorder collects one CSV row per finished test.
type ResultRecorder struct {
	records [][]string
}

func NewResultRecorder() *ResultRecorder {
	return &ResultRecorder{records: [][]string{{
		"endpoint", "provider", "test", "threads", "nobs", "min", "max", "mean",
		"variance", "skewness", "kurtosis", "p50", "p95", "p99", "failed",
	}}}
}

func (r *ResultRecorder) Record(endpoint, provider string, threads int, result TestResult) {
	s := result.Stats
	r.records = append(r.records, []string{
		endpoint,
		provider,
		result.TestName,
		fmt.Sprintf("%d", threads),
		fmt.Sprintf("%d", s.Count),
		fmt.Sprintf("%.6f", s.Min),
		fmt.Sprintf("%.6f", s.Max),
		fmt.Sprintf("%.6f", s.Mean),
		fmt.Sprintf("%.6g", s.Variance),
		fmt.Sprintf("%.6f", s.Skewness),
		fmt.Sprintf("%.6f", s.Kurtosis),
		fmt.Sprintf("%.6f", result.P50.Seconds()),
		fmt.Sprintf("%.6f", result.P95.Seconds()),
		fmt.Sprintf("%.6f", result.P99.Seconds()),
		fmt.Sprintf("%d", result.FailedDocuments),
	})
}

// Write stores the collected rows in <prefix>_results.csv and returns the filename.
func (r *ResultRecorder) Write(prefix string) (string, error) {
	filename := fmt.Sprintf("%s_results.csv", prefix)
	file, err := os.Create(filename)
	if err != nil {
		return "", errors.Wrap(err, "failed to create CSV file")
	}
	defer file.Close()

	if err := r.WriteCSV(file); err != nil {
		return "", err
	}
	return filename, nil
}

func (r *ResultRecorder) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(r.records); err != nil {
		return errors.Wrap(err, "failed to write records to CSV")
	}
	return nil
}
