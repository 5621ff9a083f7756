package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"go.mongodb.org/mongo-driver/bson"
)

// Test kinds. Lowercased, they prefix the collection a test works on.
const (
	SingleInsert  = "SingleInsert"
	BulkInsert    = "BulkInsert"
	EqualityQuery = "EqualityQuery"
	RangedQuery   = "RangedQuery"
)

// ErrEmptyCollection is returned when a query test is set up against a
// collection no bulk insert test has populated.
var ErrEmptyCollection = errors.New("query test requires a populated collection")

// CollectionName is the collection a test of kind runs against for provider.
func CollectionName(kind string, provider DocumentProvider) string {
	return strings.ToLower(kind) + "." + strings.ToLower(provider.Name())
}

// TestResult aggregates the trial durations of one test
type TestResult struct {
	TestName        string
	Stats           DescriptiveStats
	P50, P95, P99   time.Duration
	FailedDocuments int
	Durations       []time.Duration
}

func (r TestResult) String() string {
	return fmt.Sprintf("%s, p50=%v, p95=%v, p99=%v, failed=%d",
		r.Stats, r.P50, r.P95, r.P99, r.FailedDocuments)
}

// PerfTest runs a fixed sequence of trials one after another and describes
// their durations in seconds.
type PerfTest struct {
	name   string
	trials []Trial
	out    io.Writer
}

func (p *PerfTest) Name() string { return p.name }

// RunTest runs every trial. A trial setup failure or a cancelled ctx aborts the test.
func (p *PerfTest) RunTest(ctx context.Context) (TestResult, error) {
	result := TestResult{TestName: p.name, Durations: make([]time.Duration, 0, len(p.trials))}
	timer := metrics.NewCustomTimer(metrics.NewHistogram(metrics.NewUniformSample(len(p.trials)+1)), metrics.NewMeter())
	defer timer.Stop()

	var acc MomentAccumulator
	for i, trial := range p.trials {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrapf(err, "%s interrupted before trial %d", p.name, i)
		}
		trialResult, err := trial.Run(ctx)
		if err != nil {
			return result, errors.Wrapf(err, "%s trial %d", p.name, i)
		}
		result.Durations = append(result.Durations, trialResult.Elapsed)
		result.FailedDocuments += len(trialResult.FailedDocuments)
		acc.Add(trialResult.Elapsed.Seconds())
		timer.Update(trialResult.Elapsed)
	}

	result.Stats = acc.Stats()
	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
	result.P50, result.P95, result.P99 = time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2])

	if p.out != nil {
		fmt.Fprintf(p.out, "Test results: %s\n", result)
	}
	return result, nil
}

// NewSingleInsertTest builds a connectivity test of numTrials single inserts.
// Only the first trial resets the collection; each trial writes its own document.
func NewSingleInsertTest(collection CollectionAPI, provider DocumentProvider, numTrials int, opTimeout time.Duration, out io.Writer) *PerfTest {
	test := &PerfTest{name: SingleInsert + "Test", out: out}
	for i := 0; i < numTrials; i++ {
		test.trials = append(test.trials, &SingleInsertTrial{
			collection: collection,
			provider:   provider,
			seq:        i,
			setup:      i == 0,
			opTimeout:  opTimeout,
		})
	}
	return test
}

// NewBulkInsertTest builds numTrials concurrent bulk insert trials sharing
// one inserted-documents meter.
func NewBulkInsertTest(collection CollectionAPI, provider DocumentProvider, numTrials int, params BulkInsertParams, opTimeout time.Duration, inserted metrics.Meter, out io.Writer) (*PerfTest, error) {
	if params.Workers <= 0 || params.BatchSize <= 0 || params.DocsPerWorker < 0 {
		return nil, errors.Errorf("invalid bulk insert parameters %+v", params)
	}
	test := &PerfTest{name: BulkInsert + "Test", out: out}
	for i := 0; i < numTrials; i++ {
		test.trials = append(test.trials, &BulkInsertTrial{
			collection: collection,
			provider:   provider,
			params:     params,
			opTimeout:  opTimeout,
			inserted:   inserted,
		})
	}
	return test, nil
}

// PopulatedCollection is a collection a bulk insert test has written to,
// the precondition of every query test.
type PopulatedCollection struct {
	Name       string
	Collection CollectionAPI
	Size       int64
	// DocsPerWorker locates a document index within the worker that wrote it.
	DocsPerWorker int
}

// OpenPopulatedCollection counts the documents in collection. An empty
// collection is a configuration error.
func OpenPopulatedCollection(ctx context.Context, name string, collection CollectionAPI, docsPerWorker int, opTimeout time.Duration) (*PopulatedCollection, error) {
	countCtx, cancel := withOpTimeout(ctx, opTimeout)
	defer cancel()
	size, err := collection.CountDocuments(countCtx, bson.D{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to count documents in %s", name)
	}
	if size <= 0 {
		return nil, errors.Wrapf(ErrEmptyCollection, "%s has no documents, run the bulk insert test first", name)
	}
	if docsPerWorker <= 0 {
		docsPerWorker = int(size)
	}
	return &PopulatedCollection{Name: name, Collection: collection, Size: size, DocsPerWorker: docsPerWorker}, nil
}

// MatchTarget returns the run identifier and sequence number queried by trial i.
func (c *PopulatedCollection) MatchTarget(i int) (string, int) {
	target := int((int64(i)*1000 + 10) % c.Size)
	perWorker := c.DocsPerWorker
	if perWorker <= 0 {
		perWorker = int(c.Size)
	}
	return workerIdentifier(target / perWorker), target % perWorker
}

func newQueryTest(name string, kind queryKind, populated *PopulatedCollection, provider DocumentProvider, numTrials int, opTimeout time.Duration, out io.Writer) (*PerfTest, error) {
	if populated == nil || populated.Size <= 0 {
		return nil, errors.Wrap(ErrEmptyCollection, name)
	}
	test := &PerfTest{name: name, out: out}
	for i := 0; i < numTrials; i++ {
		runID, seq := populated.MatchTarget(i)
		test.trials = append(test.trials, &QueryTrial{
			kind:       kind,
			collection: populated.Collection,
			provider:   provider,
			runID:      runID,
			seq:        seq,
			opTimeout:  opTimeout,
		})
	}
	return test, nil
}

// NewEqualityQueryTest builds numTrials equality lookups against populated.
func NewEqualityQueryTest(populated *PopulatedCollection, provider DocumentProvider, numTrials int, opTimeout time.Duration, out io.Writer) (*PerfTest, error) {
	return newQueryTest(EqualityQuery+"Test", equalityQuery, populated, provider, numTrials, opTimeout, out)
}

// NewRangedQueryTest builds numTrials $gt lookups against populated.
func NewRangedQueryTest(populated *PopulatedCollection, provider DocumentProvider, numTrials int, opTimeout time.Duration, out io.Writer) (*PerfTest, error) {
	return newQueryTest(RangedQuery+"Test", rangedQuery, populated, provider, numTrials, opTimeout, out)
}
