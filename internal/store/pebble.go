package store

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// MemoryPath opens a pebble store that lives only in memory.
const MemoryPath = ":memory:"

// OpenPebble opens (or creates) an embedded pebble database at dir. Each
// leaf is one key; multi-location updates are single batch commits and
// transactions run under a writer lock over an indexed batch.
func OpenPebble(dir string, opts Options) (*LeafStore, error) {
	popts := &pebble.Options{}
	if dir == MemoryPath {
		popts.FS = vfs.NewMem()
		dir = ""
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	logger.Log.Info("opening_pebble_db", zap.String("path", dir))
	db, err := pebble.Open(dir, popts)
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", dir), zap.Error(err))
		return nil, err
	}
	return newLeafStore(&pebbleEngine{db: db}, opts), nil
}

// OpenMemory is shorthand for an in-memory pebble store.
func OpenMemory(opts Options) (*LeafStore, error) {
	return OpenPebble(MemoryPath, opts)
}

type pebbleEngine struct {
	db *pebble.DB
	// mu serialises writers so a transaction's read and commit cannot
	// interleave with another write.
	mu sync.Mutex
}

func (e *pebbleEngine) read(ctx context.Context, fn func(leafTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := e.db.NewSnapshot()
	defer snap.Close()
	return fn(&pebbleTx{r: snap})
}

func (e *pebbleEngine) write(ctx context.Context, fn func(leafTx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	b := e.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(&pebbleTx{r: b, w: b}); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return b.Commit(pebble.Sync)
}

func (e *pebbleEngine) close() error {
	if err := e.db.Close(); err != nil {
		return err
	}
	logger.Log.Info("pebble_closed")
	return nil
}

type pebbleTx struct {
	r pebble.Reader
	w *pebble.Batch
}

func (t *pebbleTx) scan(p string) ([]leaf, error) {
	var out []leaf
	if p != "" {
		v, closer, err := t.r.Get([]byte(p))
		switch {
		case err == nil:
			out = append(out, leaf{path: p, raw: append([]byte(nil), v...)})
			closer.Close()
		case !errors.Is(err, pebble.ErrNotFound):
			return nil, err
		}
	}

	iopts := &pebble.IterOptions{}
	if lo, hi := subtreeRange(p); lo != "" {
		iopts.LowerBound = []byte(lo)
		iopts.UpperBound = []byte(hi)
	}
	iter, err := t.r.NewIter(iopts)
	if err != nil {
		return nil, err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, leaf{
			path: string(iter.Key()),
			raw:  append([]byte(nil), iter.Value()...),
		})
	}
	return out, iter.Close()
}

func (t *pebbleTx) replace(p string, leaves []leaf) error {
	for _, a := range ancestors(p) {
		if err := t.w.Delete([]byte(a), nil); err != nil {
			return err
		}
	}
	if err := t.w.Delete([]byte(p), nil); err != nil {
		return err
	}
	lo, hi := subtreeRange(p)
	if err := t.w.DeleteRange([]byte(lo), []byte(hi), nil); err != nil {
		return err
	}
	for _, l := range leaves {
		if err := t.w.Set([]byte(l.path), l.raw, nil); err != nil {
			return err
		}
	}
	return nil
}
