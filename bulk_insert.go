package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

// BulkInsertParams sizes the workload of one bulk insert trial
type BulkInsertParams struct {
	Workers       int
	DocsPerWorker int
	BatchSize     int
}

// workerIdentifier is the run identifier of bulk insert worker i.
func workerIdentifier(i int) string {
	return fmt.Sprintf("thread%d", i)
}

// BulkInsertTrial drops and re-indexes the collection, then inserts
// DocsPerWorker documents from each of Workers concurrent workers in unordered
// batches. Its duration spans dispatch to the last worker finishing.
type BulkInsertTrial struct {
	collection CollectionAPI
	provider   DocumentProvider
	params     BulkInsertParams
	opTimeout  time.Duration
	// inserted counts accepted documents; shared by the trials of one test.
	inserted metrics.Meter
}

type workerResult struct {
	busy   time.Duration
	failed []bson.D
}

func (t *BulkInsertTrial) Run(ctx context.Context) (TrialResult, error) {
	if err := prepareCollection(ctx, t.collection, t.provider, t.opTimeout); err != nil {
		return TrialResult{}, err
	}

	results := make([]workerResult, t.params.Workers)
	// a failing worker must not cancel the writes of its siblings
	var g errgroup.Group

	start := time.Now()
	for i := 0; i < t.params.Workers; i++ {
		i := i // per-iteration copy (go 1.21 loop variable semantics)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("worker %s panicked: %v", workerIdentifier(i), r)
				}
			}()
			results[i], err = t.runWorker(ctx, workerIdentifier(i))
			return err
		})
	}
	err := g.Wait()
	result := TrialResult{Elapsed: time.Since(start)}
	if err != nil {
		return result, err
	}

	for i, res := range results {
		log.Debugf("Worker %s busy for %v, %d failed documents", workerIdentifier(i), res.busy, len(res.failed))
		result.FailedDocuments = append(result.FailedDocuments, res.failed...)
	}
	return result, nil
}

// runWorker inserts the documents of one run identifier batch by batch.
func (t *BulkInsertTrial) runWorker(ctx context.Context, runID string) (workerResult, error) {
	var res workerResult
	batch := make([]mongo.WriteModel, 0, t.params.BatchSize)
	for seq := 0; seq < t.params.DocsPerWorker; seq++ {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrapf(err, "worker %s interrupted at document %d", runID, seq)
		}
		doc, err := t.provider.CreateDocument(runID, seq)
		if err != nil {
			return res, errors.Wrapf(err, "worker %s failed to create document %d", runID, seq)
		}
		batch = append(batch, mongo.NewInsertOneModel().SetDocument(doc))

		if len(batch) == t.params.BatchSize {
			res.busy += t.flush(ctx, batch, &res.failed)
			batch = make([]mongo.WriteModel, 0, t.params.BatchSize)
		}
	}
	if len(batch) > 0 {
		res.busy += t.flush(ctx, batch, &res.failed)
	}
	return res, nil
}

// flush submits batch as one unordered bulk write and returns the time spent
// in the call. Rejected documents are appended to failed; nothing is retried.
func (t *BulkInsertTrial) flush(ctx context.Context, batch []mongo.WriteModel, failed *[]bson.D) time.Duration {
	opCtx, cancel := withOpTimeout(ctx, t.opTimeout)
	defer cancel()

	start := time.Now()
	_, err := t.collection.BulkWrite(opCtx, batch, false)
	elapsed := time.Since(start)

	if err == nil {
		t.markInserted(len(batch))
		return elapsed
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		log.Warnf("Bulk write of %d documents failed: %v", len(batch), err)
		for _, model := range batch {
			if doc, ok := insertedDocument(model); ok {
				*failed = append(*failed, doc)
			}
		}
		return elapsed
	}

	for _, we := range bwe.WriteErrors {
		doc, ok := failedDocument(batch, we)
		if !ok {
			log.Warnf("Could not resolve failed write at index %d: %s", we.Index, we.Message)
			continue
		}
		*failed = append(*failed, doc)
	}
	log.Warnf("Bulk write rejected %d of %d documents: %v", len(bwe.WriteErrors), len(batch), err)
	t.markInserted(len(batch) - len(bwe.WriteErrors))
	return elapsed
}

func (t *BulkInsertTrial) markInserted(n int) {
	if t.inserted != nil && n > 0 {
		t.inserted.Mark(int64(n))
	}
}

// failedDocument resolves a write error to the document it rejected by
// scanning the submitted batch for the identity of the failed request.
func failedDocument(batch []mongo.WriteModel, we mongo.BulkWriteError) (bson.D, bool) {
	request := we.Request
	if request == nil && we.Index >= 0 && we.Index < len(batch) {
		request = batch[we.Index]
	}
	failedDoc, ok := insertedDocument(request)
	if !ok {
		return nil, false
	}
	id, ok := lookupID(failedDoc)
	if !ok {
		return nil, false
	}
	for _, model := range batch {
		doc, ok := insertedDocument(model)
		if !ok {
			continue
		}
		if docID, ok := lookupID(doc); ok && docID == id {
			return doc, true
		}
	}
	return nil, false
}

func insertedDocument(model mongo.WriteModel) (bson.D, bool) {
	insert, ok := model.(*mongo.InsertOneModel)
	if !ok || insert == nil {
		return nil, false
	}
	doc, ok := insert.Document.(bson.D)
	return doc, ok
}

func lookupID(doc bson.D) (interface{}, bool) {
	for _, e := range doc {
		if e.Key == "_id" {
			return e.Value, true
		}
	}
	return nil, false
}
