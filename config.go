package main

import (
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultNumRuns            = 1000
	defaultNumDocs            = 10000
	defaultNumThreads         = 1
	defaultBatchSize          = 1000
	defaultDBName             = "perftest"
	defaultDocumentProvider   = "StringValue"
	defaultSingleInsertTrials = 100
)

// BenchConfig holds the settings of one harness invocation
type BenchConfig struct {
	NumRuns            int
	NumDocs            int
	NumThreads         int
	CumulThreads       bool
	BatchSize          int
	ConnStrings        []string
	DBName             string
	DocumentProvider   string
	TemplateDir        string
	OpTimeout          time.Duration
	SingleInsertTrials int
	OutputFilePrefix   string
	Progress           bool
}

// splitConnStrings splits a semicolon delimited list of connection strings.
func splitConnStrings(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every setting that cannot produce a run.
func (c BenchConfig) Validate() error {
	var result *multierror.Error
	if len(c.ConnStrings) == 0 {
		result = multierror.Append(result, errors.New("at least one connection string is required"))
	}
	if c.NumRuns <= 0 {
		result = multierror.Append(result, errors.Errorf("num-runs must be positive, got %d", c.NumRuns))
	}
	if c.NumThreads <= 0 {
		result = multierror.Append(result, errors.Errorf("num-threads must be positive, got %d", c.NumThreads))
	}
	if c.NumDocs < c.NumThreads {
		result = multierror.Append(result, errors.Errorf("num-docs (%d) must be at least num-threads (%d)", c.NumDocs, c.NumThreads))
	}
	if c.BatchSize <= 0 {
		result = multierror.Append(result, errors.Errorf("batch-size must be positive, got %d", c.BatchSize))
	}
	if c.SingleInsertTrials <= 0 {
		result = multierror.Append(result, errors.Errorf("single-insert-trials must be positive, got %d", c.SingleInsertTrials))
	}
	if c.DBName == "" {
		result = multierror.Append(result, errors.New("db-name must not be empty"))
	}
	if c.OpTimeout < 0 {
		result = multierror.Append(result, errors.Errorf("op-timeout must not be negative, got %v", c.OpTimeout))
	}
	return result.ErrorOrNil()
}

// ThreadCounts lists the worker counts bulk insert tests run with: NumThreads,
// or 1, 2, 4, ... up to NumThreads in cumulative mode.
func (c BenchConfig) ThreadCounts() []int {
	if !c.CumulThreads {
		return []int{c.NumThreads}
	}
	var counts []int
	for threads := 1; threads <= c.NumThreads; threads *= 2 {
		counts = append(counts, threads)
	}
	return counts
}

// warnOversubscription notes worker counts above the available parallelism.
// Oversubscription slows a run down but does not invalidate it.
func warnOversubscription(threads int) {
	if procs := runtime.GOMAXPROCS(0); threads > procs {
		log.Warnf("Running %d workers on %d available processors", threads, procs)
	}
}
