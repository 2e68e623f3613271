// Package store provides the record-store contract consumed by chain step
// handlers and intent handlers. Records are schemaless documents grouped into
// named collections ("tickets", "signals", ...); the orchestration layer
// treats the store as an opaque dependency and only relies on this contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record id does not exist in a collection.
var ErrNotFound = errors.New("record not found")

// Record is one schemaless document. Implementations persist the "id" field
// as the record key; Insert generates one when absent.
type Record map[string]any

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Filter is one predicate applied to a record field during List.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq matches records whose field equals value.
func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

// Gt matches records whose field is strictly greater than value.
func Gt(field string, value any) Filter { return Filter{Field: field, Op: OpGt, Value: value} }

// Gte matches records whose field is greater than or equal to value.
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }

// Lt matches records whose field is strictly less than value.
func Lt(field string, value any) Filter { return Filter{Field: field, Op: OpLt, Value: value} }

// Lte matches records whose field is less than or equal to value.
func Lte(field string, value any) Filter { return Filter{Field: field, Op: OpLte, Value: value} }

// RecordStore is the contract chain steps and intent handlers depend on.
type RecordStore interface {
	// Insert stores a new record and returns its id. When the record carries
	// no "id" field a fresh UUID is assigned.
	Insert(ctx context.Context, collection string, rec Record) (string, error)

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Update merges fields into the record with the given id. Missing records
	// fail with ErrNotFound; the id field itself is never changed.
	Update(ctx context.Context, collection, id string, fields Record) error

	// List returns the records of a collection matching every filter,
	// ordered by id for deterministic iteration.
	List(ctx context.Context, collection string, filters ...Filter) ([]Record, error)
}

// Matches reports whether a record satisfies every filter. Shared by the
// store implementations, which filter in application space over document rows.
func Matches(rec Record, filters []Filter) bool {
	for _, f := range filters {
		v, ok := rec[f.Field]
		if !ok {
			return false
		}
		if !compare(v, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func compare(have any, op Op, want any) bool {
	if op == OpEq {
		if hf, wf, ok := asFloats(have, want); ok {
			return hf == wf
		}
		return fmt.Sprint(have) == fmt.Sprint(want)
	}

	if hf, wf, ok := asFloats(have, want); ok {
		switch op {
		case OpLt:
			return hf < wf
		case OpLte:
			return hf <= wf
		case OpGt:
			return hf > wf
		case OpGte:
			return hf >= wf
		}
		return false
	}

	hs, hok := have.(string)
	ws, wok := want.(string)
	if !hok || !wok {
		return false
	}

	switch op {
	case OpLt:
		return hs < ws
	case OpLte:
		return hs <= ws
	case OpGt:
		return hs > ws
	case OpGte:
		return hs >= ws
	}
	return false
}

// asFloats normalizes the numeric types a decoded JSON document or a Go
// caller may carry.
func asFloats(a, b any) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return af, bf, aok && bok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// InMemoryStore is a map-backed RecordStore used in tests and in hosts that
// do not need persistence. Records are copied on the way in and out, so
// callers can never mutate stored state through a returned Record.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]map[string]Record)}
}

// Insert implements RecordStore.
func (s *InMemoryStore) Insert(_ context.Context, collection string, rec Record) (string, error) {
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	stored := cloneRecord(rec)
	stored["id"] = id

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Record)
		s.collections[collection] = coll
	}
	coll[id] = stored

	return id, nil
}

// Get implements RecordStore.
func (s *InMemoryStore) Get(_ context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return cloneRecord(rec), nil
}

// Update implements RecordStore.
func (s *InMemoryStore) Update(_ context.Context, collection, id string, fields Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	for k, v := range fields {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	return nil
}

// List implements RecordStore.
func (s *InMemoryStore) List(_ context.Context, collection string, filters ...Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Record
	for _, id := range ids {
		rec := s.collections[collection][id]
		if Matches(rec, filters) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
