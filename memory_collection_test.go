package main

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const duplicateKeyCode = 11000

// memCollection is an in-memory CollectionAPI understanding equality and $gt
// filters on dotted paths.
type memCollection struct {
	mu      sync.Mutex
	docs    []bson.D
	ids     map[interface{}]bool
	events  []string
	finds   int
	matched int
	// reject makes BulkWrite refuse matching documents.
	reject func(doc bson.D) bool
}

func newMemCollection() *memCollection {
	return &memCollection{ids: map[interface{}]bool{}}
}

func (c *memCollection) store(doc bson.D) bool {
	id, _ := lookupID(doc)
	if c.ids[id] {
		return false
	}
	c.ids[id] = true
	c.docs = append(c.docs, doc)
	return true
}

func (c *memCollection) InsertOne(_ context.Context, document interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "insert")
	doc, ok := document.(bson.D)
	if !ok {
		return errors.Errorf("unsupported document %T", document)
	}
	if !c.store(doc) {
		return errors.New("E11000 duplicate key error")
	}
	return nil
}

func (c *memCollection) BulkWrite(_ context.Context, models []mongo.WriteModel, _ bool) (*mongo.BulkWriteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "bulk")

	var writeErrors []mongo.BulkWriteError
	var inserted int64
	for i, model := range models {
		doc, ok := insertedDocument(model)
		if ok && (c.reject == nil || !c.reject(doc)) && c.store(doc) {
			inserted++
			continue
		}
		writeErrors = append(writeErrors, mongo.BulkWriteError{
			WriteError: mongo.WriteError{Index: i, Code: duplicateKeyCode, Message: "E11000 duplicate key error"},
			Request:    model,
		})
	}
	result := &mongo.BulkWriteResult{InsertedCount: inserted}
	if len(writeErrors) > 0 {
		return result, mongo.BulkWriteException{WriteErrors: writeErrors}
	}
	return result, nil
}

func (c *memCollection) FindOne(_ context.Context, filter interface{}) (bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	f, _ := filter.(bson.D)
	for _, doc := range c.docs {
		if matchesFilter(doc, f) {
			c.matched++
			return bson.Marshal(doc)
		}
	}
	return nil, nil
}

func (c *memCollection) CreateIndex(context.Context, bson.D, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "index")
	return nil
}

func (c *memCollection) Drop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "drop")
	c.docs = nil
	c.ids = map[interface{}]bool{}
	return nil
}

func (c *memCollection) CountDocuments(_ context.Context, filter interface{}) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, _ := filter.(bson.D)
	var n int64
	for _, doc := range c.docs {
		if matchesFilter(doc, f) {
			n++
		}
	}
	return n, nil
}

func (c *memCollection) snapshot() []bson.D {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bson.D(nil), c.docs...)
}

// memDatabase hands out one memCollection per name
type memDatabase struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

func newMemDatabase() *memDatabase {
	return &memDatabase{collections: map[string]*memCollection{}}
}

func (d *memDatabase) Collection(name string) CollectionAPI {
	return d.coll(name)
}

func (d *memDatabase) coll(name string) *memCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = newMemCollection()
		d.collections[name] = c
	}
	return c
}

func matchesFilter(doc bson.D, filter bson.D) bool {
	for _, cond := range filter {
		value, found := lookupPath(doc, cond.Key)
		if ops, ok := cond.Value.(bson.D); ok && len(ops) > 0 && strings.HasPrefix(ops[0].Key, "$") {
			for _, op := range ops {
				if op.Key != "$gt" || !found {
					return false
				}
				if cmp, ok := compareValues(value, op.Value); !ok || cmp <= 0 {
					return false
				}
			}
			continue
		}
		if !found {
			return false
		}
		if cmp, ok := compareValues(value, cond.Value); !ok || cmp != 0 {
			return false
		}
	}
	return true
}

func lookupPath(doc bson.D, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, key := range strings.Split(path, ".") {
		d, ok := current.(bson.D)
		if !ok {
			return nil, false
		}
		found := false
		for _, e := range d {
			if e.Key == key {
				current, found = e.Value, true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return current, true
}

func compareValues(a, b interface{}) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
