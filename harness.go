package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// connectFunc opens the database of one endpoint; the returned func releases it.
type connectFunc func(ctx context.Context, connString, dbName string) (DatabaseAPI, func(), error)

// Harness runs every test kind for each endpoint and provider, one after another.
type Harness struct {
	config    BenchConfig
	providers []DocumentProvider
	connect   connectFunc
	out       io.Writer
	recorder  *ResultRecorder
}

func NewHarness(config BenchConfig, providers []DocumentProvider, connect connectFunc, out io.Writer) *Harness {
	return &Harness{
		config:    config,
		providers: providers,
		connect:   connect,
		out:       out,
		recorder:  NewResultRecorder(),
	}
}

// Run returns the failures of all iterations. A failing endpoint or provider
// never stops the remaining ones.
func (h *Harness) Run(ctx context.Context) error {
	var result *multierror.Error
	for _, connString := range h.config.ConnStrings {
		db, release, err := h.connect(ctx, connString, h.config.DBName)
		if err != nil {
			log.Errorf("Skipping %s: %v", connString, err)
			result = multierror.Append(result, errors.Wrapf(err, "endpoint %s", connString))
			continue
		}
		for _, provider := range h.providers {
			if ctx.Err() != nil {
				break
			}
			if err := h.runIteration(ctx, connString, db, provider); err != nil {
				log.Errorf("Encountered error on %s with %s: %v", connString, provider.Name(), err)
				result = multierror.Append(result, errors.Wrapf(err, "endpoint %s, provider %s", connString, provider.Name()))
			}
		}
		release()
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "run interrupted"))
			break
		}
	}

	if h.config.OutputFilePrefix != "" {
		filename, err := h.recorder.Write(h.config.OutputFilePrefix)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			fmt.Fprintf(h.out, "Benchmarking completed. Results saved to %s\n", filename)
		}
	}
	return result.ErrorOrNil()
}

// runIteration runs the single insert, bulk insert and query tests for one
// endpoint and provider. Query tests read what the last bulk insert test wrote.
func (h *Harness) runIteration(ctx context.Context, connString string, db DatabaseAPI, provider DocumentProvider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	cfg := h.config
	printBanner(h.out, connString, provider.Name())

	printSection(h.out, "Testing Connection with a Single Insert")
	singleColl := db.Collection(CollectionName(SingleInsert, provider))
	singleTest := NewSingleInsertTest(singleColl, provider, cfg.SingleInsertTrials, cfg.OpTimeout, h.out)
	if err := h.runTest(ctx, singleTest, connString, provider, 1); err != nil {
		return err
	}
	fmt.Fprintln(h.out)

	bulkName := CollectionName(BulkInsert, provider)
	bulkColl := db.Collection(bulkName)
	var docsPerWorker int
	for _, threads := range cfg.ThreadCounts() {
		printSection(h.out, fmt.Sprintf("Running Bulk Insert Test on %d Threads", threads))
		warnOversubscription(threads)
		docsPerWorker = cfg.NumDocs / threads
		if err := h.runBulkInsert(ctx, bulkColl, provider, connString, threads, docsPerWorker); err != nil {
			return err
		}
		fmt.Fprintln(h.out)
	}

	populated, err := OpenPopulatedCollection(ctx, bulkName, bulkColl, docsPerWorker, cfg.OpTimeout)
	if err != nil {
		return err
	}

	printSection(h.out, "Running Equality Query Test")
	eqTest, err := NewEqualityQueryTest(populated, provider, cfg.NumRuns, cfg.OpTimeout, h.out)
	if err != nil {
		return err
	}
	if err := h.runTest(ctx, eqTest, connString, provider, 1); err != nil {
		return err
	}
	fmt.Fprintln(h.out)

	printSection(h.out, "Running Ranged Query Test")
	rangedTest, err := NewRangedQueryTest(populated, provider, cfg.NumRuns, cfg.OpTimeout, h.out)
	if err != nil {
		return err
	}
	if err := h.runTest(ctx, rangedTest, connString, provider, 1); err != nil {
		return err
	}
	fmt.Fprintln(h.out)
	return nil
}

func (h *Harness) runBulkInsert(ctx context.Context, coll CollectionAPI, provider DocumentProvider, connString string, threads, docsPerWorker int) error {
	inserted := metrics.NewMeter()
	defer inserted.Stop()

	params := BulkInsertParams{Workers: threads, DocsPerWorker: docsPerWorker, BatchSize: h.config.BatchSize}
	test, err := NewBulkInsertTest(coll, provider, h.config.NumRuns, params, h.config.OpTimeout, inserted, h.out)
	if err != nil {
		return err
	}
	if h.config.Progress {
		stop := startRateLogger(inserted, test.Name())
		defer stop()
	}
	return h.runTest(ctx, test, connString, provider, threads)
}

func (h *Harness) runTest(ctx context.Context, test *PerfTest, connString string, provider DocumentProvider, threads int) error {
	result, err := test.RunTest(ctx)
	if err != nil {
		return err
	}
	h.recorder.Record(connString, provider.Name(), threads, result)
	return nil
}
