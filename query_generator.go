package main

import "go.mongodb.org/mongo-driver/bson"

const runIDField = "testIdx"

// eqFilter matches the single document of runID whose field equals value
func eqFilter(runID, field string, value interface{}) bson.D {
	return bson.D{
		{Key: runIDField, Value: runID},
		{Key: field, Value: value},
	}
}

// rangeFilter matches every document whose field is greater than value
func rangeFilter(field string, value interface{}) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: "$gt", Value: value}}}}
}

// ascendingIndex returns the index keys for field
func ascendingIndex(field string) bson.D {
	return bson.D{{Key: field, Value: 1}}
}
