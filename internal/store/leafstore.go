package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

// Options tune behaviour shared by all backends.
type Options struct {
	// ObserveInterval is the minimum time between two reads of an observed
	// location. Zero means one second.
	ObserveInterval time.Duration
}

var errRootWrite = errors.New("cannot overwrite the root")

// leafTx is the view a backend gives LeafStore inside one read or write.
type leafTx interface {
	// scan returns every leaf at or below p.
	scan(p string) ([]leaf, error)
	// replace removes p, its descendants and any leaf ancestors, then writes
	// leaves.
	replace(p string, leaves []leaf) error
}

// leafEngine is a flat key space with atomic write transactions. write must
// make fn's reads and writes atomic with respect to other writers, either by
// serialising them or by detecting conflicts and running fn again.
type leafEngine interface {
	read(ctx context.Context, fn func(leafTx) error) error
	write(ctx context.Context, fn func(leafTx) error) error
	close() error
}

// LeafStore implements Store on top of a flat key space that keeps one
// entry per scalar. Pebble, MongoDB and PostgreSQL backends share it.
type LeafStore struct {
	eng    leafEngine
	opts   Options
	closed atomic.Bool
}

func newLeafStore(eng leafEngine, opts Options) *LeafStore {
	return &LeafStore{eng: eng, opts: opts}
}

func (s *LeafStore) Get(ctx context.Context, p paths.Path) (Value, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var v Value
	err := s.eng.read(ctx, func(tx leafTx) error {
		leaves, err := tx.scan(p.String())
		if err != nil {
			return err
		}
		v, err = rebuild(p.String(), leaves)
		return err
	})
	return v, wrap("get", p, err)
}

func (s *LeafStore) Children(ctx context.Context, p paths.Path) ([]Child, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Child
	err := s.eng.read(ctx, func(tx leafTx) error {
		leaves, err := tx.scan(p.String())
		if err != nil {
			return err
		}
		out, err = group(p.String(), leaves)
		return err
	})
	return out, wrap("children", p, err)
}

func (s *LeafStore) Set(ctx context.Context, p paths.Path, value interface{}) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if p.IsRoot() {
		return wrap("set", p, errRootWrite)
	}
	leaves, err := flatten(p.String(), value)
	if err != nil {
		return wrap("set", p, err)
	}
	err = s.eng.write(ctx, func(tx leafTx) error {
		return tx.replace(p.String(), leaves)
	})
	return wrap("set", p, err)
}

func (s *LeafStore) Update(ctx context.Context, w WriteSet) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(w) == 0 {
		return nil
	}
	if err := w.Validate(); err != nil {
		return err
	}
	order := w.Sorted()
	encoded := make([][]leaf, len(order))
	for i, p := range order {
		leaves, err := flatten(p.String(), w[p])
		if err != nil {
			return wrap("update", p, err)
		}
		encoded[i] = leaves
	}
	err := s.eng.write(ctx, func(tx leafTx) error {
		for i, p := range order {
			if err := tx.replace(p.String(), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("update", paths.Root(), err)
}

func (s *LeafStore) Transact(ctx context.Context, p paths.Path, fn UpdateFn) (Value, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if p.IsRoot() {
		return nil, wrap("transact", p, errRootWrite)
	}
	var committed Value
	err := s.eng.write(ctx, func(tx leafTx) error {
		leaves, err := tx.scan(p.String())
		if err != nil {
			return err
		}
		current, err := rebuild(p.String(), leaves)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		nextLeaves, err := flatten(p.String(), next)
		if err != nil {
			return err
		}
		if err := tx.replace(p.String(), nextLeaves); err != nil {
			return err
		}
		committed, err = rebuild(p.String(), nextLeaves)
		return err
	})
	if err != nil {
		return nil, wrap("transact", p, err)
	}
	return committed, nil
}

func (s *LeafStore) Observe(ctx context.Context, p paths.Path) (*Subscription, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	fetch := func(ctx context.Context, tag string) (bool, string, Value, error) {
		v, err := s.Get(ctx, p)
		if err != nil {
			return false, tag, nil, err
		}
		next := "null"
		if !v.IsNull() {
			next = string(v)
		}
		return next != tag, next, v, nil
	}
	return poll(ctx, p, observeLimiter(s.opts.ObserveInterval), fetch), nil
}

func (s *LeafStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.eng.close()
}
