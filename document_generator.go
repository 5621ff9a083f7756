package main

import (
	"go.mongodb.org/mongo-driver/bson"
)

const (
	alphabet            = "abcdefghijklmnopqrstuvwxyz"
	defaultStringLength = 10
)

// IntegerValueProvider generates flat documents with integer values
type IntegerValueProvider struct{}

func NewIntegerValueProvider() *IntegerValueProvider {
	return &IntegerValueProvider{}
}

func (p *IntegerValueProvider) Name() string { return "IntegerValue" }

func (p *IntegerValueProvider) CreateDocument(runID string, seq int) (bson.D, error) {
	return bson.D{
		{Key: "_id", Value: documentID(runID, seq)},
		{Key: runIDField, Value: runID},
		{Key: "value1", Value: seq},
		{Key: "value2", Value: seq * seq},
	}, nil
}

func (p *IntegerValueProvider) EqMatchingCriteria(runID string, seq int) bson.D {
	return eqFilter(runID, "value1", seq)
}

func (p *IntegerValueProvider) RangeMatchingCriteria(_ string, seq int) bson.D {
	return rangeFilter("value1", seq)
}

func (p *IntegerValueProvider) Index() bson.D {
	return ascendingIndex("value1")
}

// StringValueProvider generates flat documents with a fixed-length string
// cut from the lowercase alphabet, wrapping around at 'z'.
type StringValueProvider struct {
	length int
}

func NewStringValueProvider(length int) *StringValueProvider {
	if length <= 0 {
		length = defaultStringLength
	}
	return &StringValueProvider{length: length}
}

func (p *StringValueProvider) Name() string { return "StringValue" }

// getStr returns length letters starting at offset seq of the repeated alphabet.
func (p *StringValueProvider) getStr(seq int) string {
	offset := seq % len(alphabet)
	if offset < 0 {
		offset += len(alphabet)
	}
	b := make([]byte, p.length)
	for i := range b {
		b[i] = alphabet[(offset+i)%len(alphabet)]
	}
	return string(b)
}

func (p *StringValueProvider) CreateDocument(runID string, seq int) (bson.D, error) {
	return bson.D{
		{Key: "_id", Value: documentID(runID, seq)},
		{Key: runIDField, Value: runID},
		{Key: "value1", Value: p.getStr(seq)},
	}, nil
}

// EqMatchingCriteria is unique within a run only for seq below 26; values repeat after that.
func (p *StringValueProvider) EqMatchingCriteria(runID string, seq int) bson.D {
	return eqFilter(runID, "value1", p.getStr(seq))
}

func (p *StringValueProvider) RangeMatchingCriteria(_ string, seq int) bson.D {
	return rangeFilter("value1", p.getStr(seq))
}

func (p *StringValueProvider) Index() bson.D {
	return ascendingIndex("value1")
}

const nestedQueryField = "value1.nestedValue.nestedValue1"

// NestedProvider generates documents whose queried value sits three levels deep
type NestedProvider struct{}

func NewNestedProvider() *NestedProvider {
	return &NestedProvider{}
}

func (p *NestedProvider) Name() string { return "Nested" }

func (p *NestedProvider) CreateDocument(runID string, seq int) (bson.D, error) {
	return bson.D{
		{Key: "_id", Value: documentID(runID, seq)},
		{Key: runIDField, Value: runID},
		{Key: "value1", Value: bson.D{
			{Key: "nestedValue", Value: bson.D{
				{Key: "nestedValue1", Value: seq},
				{Key: "nestedValue2", Value: seq * seq},
			}},
		}},
		{Key: "value2", Value: bson.D{
			{Key: "nestedValue", Value: seq},
		}},
	}, nil
}

func (p *NestedProvider) EqMatchingCriteria(runID string, seq int) bson.D {
	return eqFilter(runID, nestedQueryField, seq)
}

func (p *NestedProvider) RangeMatchingCriteria(_ string, seq int) bson.D {
	return rangeFilter(nestedQueryField, seq)
}

func (p *NestedProvider) Index() bson.D {
	return ascendingIndex(nestedQueryField)
}
