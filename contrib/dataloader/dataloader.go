// Package dataloader provides generic helpers for batch loading documents.
//
// The entity manager uses it to turn a list of references into one query per
// collection instead of one query per reference:
//
//	ents, err := dataloader.LoadGrouped(ctx, refs,
//	    func(r dialect.Ref) string { return r.Collection },
//	    func(ctx context.Context, coll string, refs []dialect.Ref) ([]*odm.Entity, error) {
//	        return findByIDs(ctx, coll, refs)
//	    },
//	    (*odm.Entity).Reference,
//	)
//
// The result has one slot per requested key, in request order. Keys that
// were not found keep the zero value.
package dataloader

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when an entity is not found in a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// GroupLoadFunc loads the entities of one group. It may return them in any
// order and may leave keys out.
type GroupLoadFunc[G, K comparable, V any] func(ctx context.Context, group G, keys []K) ([]V, error)

// OrderByKeys reorders entities to match the order of requested keys.
// Missing entities are represented as zero values with corresponding errors.
//
// The result slices always have the same length as keys. A key requested
// twice gets the same entity twice.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}

	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// OrderByKeysNoError reorders entities to match the order of requested keys.
// Returns zero values for missing entities without errors.
// Use this when missing entities are acceptable, as with dangling references.
func OrderByKeysNoError[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) []V {
	result, _ := OrderByKeys(keys, values, keyFn)
	return result
}

// GroupByKey groups entities by a key function, keeping their relative order.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys reorders grouped entities to match the order of requested keys.
// Returns a slice of slices where each inner slice contains entities for that key.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// Unique returns keys without duplicates, in first-seen order.
func Unique[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// LoadGrouped splits keys into groups, loads every group with one call to
// load and returns the entities in key order. Groups are loaded
// concurrently and the first error cancels the others. Missing keys keep
// the zero value.
func LoadGrouped[G, K comparable, V any](
	ctx context.Context,
	keys []K,
	groupFn func(K) G,
	load GroupLoadFunc[G, K, V],
	keyFn KeyFunc[K, V],
) ([]V, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	groups := GroupByKey(Unique(keys), KeyFunc[G, K](groupFn))
	results := make([][]V, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	i := 0
	for group, ks := range groups {
		slot := i
		g.Go(func() error {
			vs, err := load(gctx, group, ks)
			results[slot] = vs
			return err
		})
		i++
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []V
	for _, vs := range results {
		all = append(all, vs...)
	}
	return OrderByKeysNoError(keys, all, keyFn), nil
}
