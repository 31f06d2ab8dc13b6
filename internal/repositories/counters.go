package repositories

import (
	"github.com/anonto42/nano-midea/fanout/internal/store"
)

// addClamped returns a transaction body that adds delta to a numeric
// location and never lets it drop below zero. A null location counts as 0.
func addClamped(delta int64) store.UpdateFn {
	return func(cur store.Value) (interface{}, error) {
		n := cur.Int64() + delta
		if n < 0 {
			n = 0
		}
		return n, nil
	}
}

// replaceCount returns a transaction body that rewrites a counter from was
// to n. It aborts, setting *moved, when another writer changed the counter
// after was was read.
func replaceCount(was, n int64, moved *bool) store.UpdateFn {
	if n < 0 {
		n = 0
	}
	return func(cur store.Value) (interface{}, error) {
		*moved = cur.Int64() != was
		if *moved {
			return nil, store.ErrAborted
		}
		return n, nil
	}
}

// flipMarker returns a transaction body that moves a boolean marker to
// present, or aborts when it is already there.
func flipMarker(present bool) store.UpdateFn {
	return func(cur store.Value) (interface{}, error) {
		if cur.Bool() == present {
			return nil, store.ErrAborted
		}
		if present {
			return true, nil
		}
		return nil, nil
	}
}

// requirePresent aborts the transaction when the location is empty instead
// of creating it.
func requirePresent(fn store.UpdateFn) store.UpdateFn {
	return func(cur store.Value) (interface{}, error) {
		if cur.IsNull() {
			return nil, store.ErrAborted
		}
		return fn(cur)
	}
}
