package main

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) InsertOne(ctx context.Context, document interface{}) error {
	args := m.Called(ctx, document)
	return args.Error(0)
}

func (m *MockCollection) BulkWrite(ctx context.Context, models []mongo.WriteModel, ordered bool) (*mongo.BulkWriteResult, error) {
	args := m.Called(ctx, models, ordered)
	result, _ := args.Get(0).(*mongo.BulkWriteResult)
	return result, args.Error(1)
}

func (m *MockCollection) FindOne(ctx context.Context, filter interface{}) (bson.Raw, error) {
	args := m.Called(ctx, filter)
	raw, _ := args.Get(0).(bson.Raw)
	return raw, args.Error(1)
}

func (m *MockCollection) CreateIndex(ctx context.Context, keys bson.D, name string) error {
	args := m.Called(ctx, keys, name)
	return args.Error(0)
}

func (m *MockCollection) Drop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCollection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func newSetupMock() *MockCollection {
	mockCollection := new(MockCollection)
	mockCollection.On("Drop", mock.Anything).Return(nil)
	mockCollection.On("CreateIndex", mock.Anything, mock.Anything, indexName).Return(nil)
	return mockCollection
}

func newBulkInsertTrial(collection CollectionAPI, params BulkInsertParams) *BulkInsertTrial {
	return &BulkInsertTrial{
		collection: collection,
		provider:   NewIntegerValueProvider(),
		params:     params,
	}
}

func TestBulkInsertSubmitsEveryDocument(t *testing.T) {
	cases := []struct {
		name          string
		docsPerWorker int
		batchSize     int
		wantSizes     []int
	}{
		{"partial final batch", 25, 10, []int{10, 10, 5}},
		{"evenly divisible", 20, 10, []int{10, 10}},
		{"batch larger than workload", 3, 10, []int{3}},
		{"single document batches", 3, 1, []int{1, 1, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const workers = 3
			var mu sync.Mutex
			var sizes []int

			mockCollection := newSetupMock()
			mockCollection.On("BulkWrite", mock.Anything, mock.Anything, false).
				Run(func(args mock.Arguments) {
					mu.Lock()
					defer mu.Unlock()
					sizes = append(sizes, len(args.Get(1).([]mongo.WriteModel)))
				}).
				Return(&mongo.BulkWriteResult{}, nil)

			trial := newBulkInsertTrial(mockCollection, BulkInsertParams{Workers: workers, DocsPerWorker: tc.docsPerWorker, BatchSize: tc.batchSize})
			result, err := trial.Run(context.Background())
			require.NoError(t, err)
			assert.Empty(t, result.FailedDocuments)
			assert.Greater(t, result.Elapsed.Nanoseconds(), int64(0))

			var want []int
			total := 0
			for i := 0; i < workers; i++ {
				want = append(want, tc.wantSizes...)
			}
			for _, s := range sizes {
				total += s
			}
			sort.Ints(want)
			sort.Ints(sizes)
			assert.Equal(t, want, sizes)
			assert.Equal(t, workers*tc.docsPerWorker, total)
			mockCollection.AssertNumberOfCalls(t, "Drop", 1)
			mockCollection.AssertNumberOfCalls(t, "CreateIndex", 1)
		})
	}
}

func TestBulkInsertResolvesRejectedDocuments(t *testing.T) {
	rejected := map[string]bool{"thread0-3": true, "thread0-7": true, "thread1-12": true}
	collection := newMemCollection()
	collection.reject = func(doc bson.D) bool {
		id, _ := lookupID(doc)
		return rejected[id.(string)]
	}
	inserted := metrics.NewMeter()
	defer inserted.Stop()

	trial := newBulkInsertTrial(collection, BulkInsertParams{Workers: 2, DocsPerWorker: 15, BatchSize: 10})
	trial.inserted = inserted
	result, err := trial.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.FailedDocuments, len(rejected))
	for _, doc := range result.FailedDocuments {
		id, ok := lookupID(doc)
		require.True(t, ok)
		assert.True(t, rejected[id.(string)], "unexpected failed document %v", id)
		value, _ := lookupPath(doc, "value1")
		assert.NotNil(t, value)
	}

	count, err := collection.CountDocuments(context.Background(), bson.D{})
	require.NoError(t, err)
	assert.Equal(t, int64(30-len(rejected)), count)
	assert.Equal(t, int64(30-len(rejected)), inserted.Count())
}

func TestBulkInsertFailsWholeBatchOnTransportError(t *testing.T) {
	mockCollection := newSetupMock()
	mockCollection.On("BulkWrite", mock.Anything, mock.Anything, false).Return(nil, errors.New("connection reset"))

	trial := newBulkInsertTrial(mockCollection, BulkInsertParams{Workers: 2, DocsPerWorker: 5, BatchSize: 2})
	result, err := trial.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.FailedDocuments, 10)
	mockCollection.AssertNumberOfCalls(t, "BulkWrite", 6)
}

func TestBulkInsertSetupFailureAbortsTrial(t *testing.T) {
	mockCollection := new(MockCollection)
	mockCollection.On("Drop", mock.Anything).Return(errors.New("not authorized"))

	trial := newBulkInsertTrial(mockCollection, BulkInsertParams{Workers: 2, DocsPerWorker: 5, BatchSize: 2})
	_, err := trial.Run(context.Background())
	assert.Error(t, err)
	mockCollection.AssertNotCalled(t, "CreateIndex", mock.Anything, mock.Anything, mock.Anything)
	mockCollection.AssertNotCalled(t, "BulkWrite", mock.Anything, mock.Anything, mock.Anything)

	mockCollection = new(MockCollection)
	mockCollection.On("Drop", mock.Anything).Return(nil)
	mockCollection.On("CreateIndex", mock.Anything, mock.Anything, indexName).Return(errors.New("index build failed"))

	trial = newBulkInsertTrial(mockCollection, BulkInsertParams{Workers: 2, DocsPerWorker: 5, BatchSize: 2})
	_, err = trial.Run(context.Background())
	assert.Error(t, err)
	mockCollection.AssertNotCalled(t, "BulkWrite", mock.Anything, mock.Anything, mock.Anything)
}

func TestBulkInsertIndexesBeforeInserting(t *testing.T) {
	collection := newMemCollection()
	trial := newBulkInsertTrial(collection, BulkInsertParams{Workers: 4, DocsPerWorker: 50, BatchSize: 8})

	for i := 0; i < 2; i++ {
		result, err := trial.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, result.FailedDocuments)
	}

	assert.Len(t, collection.snapshot(), 200)
	events := collection.events
	require.Greater(t, len(events), 2)
	assert.Equal(t, []string{"drop", "index"}, events[:2])
	for _, e := range events[2:] {
		if e == "drop" {
			break
		}
		assert.Equal(t, "bulk", e)
	}
}

func TestFailedDocumentFallsBackToIndex(t *testing.T) {
	provider := NewIntegerValueProvider()
	var batch []mongo.WriteModel
	for seq := 0; seq < 3; seq++ {
		doc, _ := provider.CreateDocument("thread0", seq)
		batch = append(batch, mongo.NewInsertOneModel().SetDocument(doc))
	}

	doc, ok := failedDocument(batch, mongo.BulkWriteError{WriteError: mongo.WriteError{Index: 2}})
	require.True(t, ok)
	assert.Equal(t, "thread0-2", doc[0].Value)

	_, ok = failedDocument(batch, mongo.BulkWriteError{WriteError: mongo.WriteError{Index: 9}})
	assert.False(t, ok)
}

type abortingWorkerProvider struct {
	*IntegerValueProvider
	aborted chan struct{}
	once    sync.Once
}

func (p *abortingWorkerProvider) CreateDocument(runID string, seq int) (bson.D, error) {
	if runID == "thread0" {
		p.once.Do(func() { close(p.aborted) })
		return nil, errors.New("template exhausted")
	}
	return p.IntegerValueProvider.CreateDocument(runID, seq)
}

func TestBulkInsertWorkerFailureLeavesSiblingsRunning(t *testing.T) {
	provider := &abortingWorkerProvider{IntegerValueProvider: NewIntegerValueProvider(), aborted: make(chan struct{})}
	var mu sync.Mutex
	var ctxErrs []error

	mockCollection := newSetupMock()
	mockCollection.On("BulkWrite", mock.Anything, mock.Anything, false).
		Run(func(args mock.Arguments) {
			<-provider.aborted
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			ctxErrs = append(ctxErrs, args.Get(0).(context.Context).Err())
		}).
		Return(&mongo.BulkWriteResult{}, nil)

	trial := newBulkInsertTrial(mockCollection, BulkInsertParams{Workers: 2, DocsPerWorker: 4, BatchSize: 4})
	trial.provider = provider
	_, err := trial.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker thread0 failed to create document 0")

	mockCollection.AssertNumberOfCalls(t, "BulkWrite", 1)
	require.Len(t, ctxErrs, 1)
	assert.NoError(t, ctxErrs[0])
}

func TestBulkInsertWorkersStopWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mockCollection := newSetupMock()
	trial := newBulkInsertTrial(mockCollection, BulkInsertParams{Workers: 3, DocsPerWorker: 100, BatchSize: 10})
	_, err := trial.Run(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	mockCollection.AssertNotCalled(t, "BulkWrite", mock.Anything, mock.Anything, mock.Anything)
}
