// Package store defines the document store collaborator used by the ODM.
//
// A [Store] holds named collections of [Document] values keyed by a
// primitive.ObjectID under "_id". The ODM needs filtered find with sort, skip
// and limit, count, distinct, single-document insert/replace/delete and index
// management. Filters are compiled query documents (see package query).
//
// # Backends
//
//   - memstore: in-process maps, evaluates filters with package filter.
//     Used by tests and single-process tools.
//   - mongostore: MongoDB through the official driver.
//   - dynamostore: one DynamoDB table per collection, with soft deletes via
//     TTL and a parent index for tree lookups.
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist
//   - [ErrDuplicateKey] - identifier or unique index violated
//   - [ErrInvalidIndex] - index definition rejected
//   - [ErrInvalidFilter] - filter document cannot be evaluated
package store
