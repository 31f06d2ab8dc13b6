// Package store is the key-path database the fan-out engine runs against.
//
// The tree is schemaless: every location holds an object, a string, a number
// or a boolean, and writing null removes the location. Backends provide point
// reads and writes, atomic multi-location updates and a retrying
// compare-and-swap for counters.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

var (
	// ErrOverlappingPaths is returned for a write set in which one path is an
	// ancestor of another.
	ErrOverlappingPaths = errors.New("write set contains overlapping paths")
	// ErrAborted is returned by Transact when the update function asked to
	// leave the value untouched.
	ErrAborted = errors.New("transaction aborted")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Error wraps a failure reported by a backend: transport problems,
// permission denials, exhausted transaction retries.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, p paths.Path, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Op: op, Path: p.String(), Err: err}
}

// Value is the JSON encoding of a location. A nil or "null" Value means the
// location is empty.
type Value json.RawMessage

// IsNull reports whether the location holds nothing.
func (v Value) IsNull() bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Unmarshal decodes v into dst. Decoding a null value leaves dst untouched.
func (v Value) Unmarshal(dst interface{}) error {
	if v.IsNull() {
		return nil
	}
	return json.Unmarshal(v, dst)
}

// Bool reports whether v holds boolean true.
func (v Value) Bool() bool {
	var b bool
	if err := v.Unmarshal(&b); err != nil {
		return false
	}
	return b
}

// Int64 decodes a numeric value; null and non-numbers yield 0.
func (v Value) Int64() int64 {
	var f float64
	if err := v.Unmarshal(&f); err != nil {
		return 0
	}
	return int64(f)
}

// MarshalJSON keeps Value usable as a payload.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	return v, nil
}

// Child is one direct child of a location.
type Child struct {
	Key   string
	Value Value
}

// WriteSet is the payload of a multi-location update. A nil value deletes
// the location.
type WriteSet map[paths.Path]interface{}

// NewWriteSet returns an empty write set.
func NewWriteSet() WriteSet {
	return WriteSet{}
}

// Put records value at p.
func (w WriteSet) Put(p paths.Path, value interface{}) {
	w[p] = value
}

// Delete records a tombstone at p.
func (w WriteSet) Delete(p paths.Path) {
	w[p] = nil
}

// Sorted returns the paths in lexical order.
func (w WriteSet) Sorted() []paths.Path {
	out := make([]paths.Path, 0, len(w))
	for p := range w {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Validate rejects write sets with overlapping or root paths.
func (w WriteSet) Validate() error {
	ps := w.Sorted()
	for i, p := range ps {
		if p.IsRoot() {
			return fmt.Errorf("%w: root path", ErrOverlappingPaths)
		}
		// after sorting, an ancestor sorts directly before its descendants
		// or before siblings that share its prefix, so scan forward until the
		// prefix no longer matches.
		for _, q := range ps[i+1:] {
			if p.Contains(q) {
				return fmt.Errorf("%w: %s and %s", ErrOverlappingPaths, p, q)
			}
			if !hasStringPrefix(q.String(), p.String()) {
				break
			}
		}
	}
	return nil
}

func hasStringPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// UpdateFn computes the new value of a location from its current value.
// Returning ErrAborted leaves the location untouched. The function may run
// more than once when concurrent writers conflict, so it must not have side
// effects.
type UpdateFn func(current Value) (interface{}, error)

// Store is implemented by every backend.
type Store interface {
	// Get reads the value at p; absent locations yield a null Value.
	Get(ctx context.Context, p paths.Path) (Value, error)
	// Children reads the direct children of p in key order.
	Children(ctx context.Context, p paths.Path) ([]Child, error)
	// Set overwrites p; a nil value deletes it.
	Set(ctx context.Context, p paths.Path, value interface{}) error
	// Update applies every entry of w atomically.
	Update(ctx context.Context, w WriteSet) error
	// Transact runs fn as a compare-and-swap on p, retrying on conflict,
	// and returns the committed value.
	Transact(ctx context.Context, p paths.Path, fn UpdateFn) (Value, error)
	// Observe streams the value at p until ctx ends or the subscription is
	// closed.
	Observe(ctx context.Context, p paths.Path) (*Subscription, error)
	Close() error
}

// Exists reports whether p holds a value.
func Exists(ctx context.Context, s Store, p paths.Path) (bool, error) {
	v, err := s.Get(ctx, p)
	if err != nil {
		return false, err
	}
	return !v.IsNull(), nil
}

// ChildKeys returns the keys of p's direct children in key order.
func ChildKeys(ctx context.Context, s Store, p paths.Path) ([]string, error) {
	children, err := s.Children(ctx, p)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(children))
	for i, c := range children {
		keys[i] = c.Key
	}
	return keys, nil
}
