package store

import (
	"context"
	"encoding/json"

	"firebase.google.com/go/v4/db"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

// FirebaseStore is the Firebase Realtime Database backend. Multi-location
// updates are PATCHes at the root and Transact uses the SDK's ETag-based
// compare-and-swap, which re-runs the update function on conflict.
type FirebaseStore struct {
	client *db.Client
	opts   Options
}

// NewFirebase wraps an initialised database client.
func NewFirebase(client *db.Client, opts Options) *FirebaseStore {
	return &FirebaseStore{client: client, opts: opts}
}

func (s *FirebaseStore) ref(p paths.Path) *db.Ref {
	if p.IsRoot() {
		return s.client.NewRef("/")
	}
	return s.client.NewRef(p.String())
}

func (s *FirebaseStore) Get(ctx context.Context, p paths.Path) (Value, error) {
	var raw json.RawMessage
	if err := s.ref(p).Get(ctx, &raw); err != nil {
		return nil, wrap("get", p, err)
	}
	return Value(raw), nil
}

func (s *FirebaseStore) Children(ctx context.Context, p paths.Path) ([]Child, error) {
	nodes, err := s.ref(p).OrderByKey().GetOrdered(ctx)
	if err != nil {
		return nil, wrap("children", p, err)
	}
	out := make([]Child, 0, len(nodes))
	for _, n := range nodes {
		var raw json.RawMessage
		if err := n.Unmarshal(&raw); err != nil {
			return nil, wrap("children", p, err)
		}
		out = append(out, Child{Key: n.Key(), Value: Value(raw)})
	}
	return out, nil
}

func (s *FirebaseStore) Set(ctx context.Context, p paths.Path, value interface{}) error {
	if p.IsRoot() {
		return wrap("set", p, errRootWrite)
	}
	if value == nil {
		return wrap("set", p, s.ref(p).Delete(ctx))
	}
	return wrap("set", p, s.ref(p).Set(ctx, value))
}

func (s *FirebaseStore) Update(ctx context.Context, w WriteSet) error {
	if len(w) == 0 {
		return nil
	}
	if err := w.Validate(); err != nil {
		return err
	}
	patch := make(map[string]interface{}, len(w))
	for p, v := range w {
		patch[p.String()] = v
	}
	return wrap("update", paths.Root(), s.ref(paths.Root()).Update(ctx, patch))
}

func (s *FirebaseStore) Transact(ctx context.Context, p paths.Path, fn UpdateFn) (Value, error) {
	if p.IsRoot() {
		return nil, wrap("transact", p, errRootWrite)
	}
	// the SDK reports only success, so keep the value of the attempt whose
	// conditional PUT went through.
	var last interface{}
	err := s.ref(p).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var raw json.RawMessage
		if err := tn.Unmarshal(&raw); err != nil {
			return nil, err
		}
		v, err := fn(Value(raw))
		if err != nil {
			return nil, err
		}
		last = v
		return v, nil
	})
	if err != nil {
		return nil, wrap("transact", p, err)
	}
	raw, err := json.Marshal(last)
	if err != nil {
		return nil, wrap("transact", p, err)
	}
	return Value(raw), nil
}

// Observe polls the location with conditional ETag reads; the admin SDK has
// no streaming listener.
func (s *FirebaseStore) Observe(ctx context.Context, p paths.Path) (*Subscription, error) {
	ref := s.ref(p)
	fetch := func(ctx context.Context, tag string) (bool, string, Value, error) {
		var raw json.RawMessage
		changed, etag, err := ref.GetIfChanged(ctx, tag, &raw)
		if err != nil {
			return false, tag, nil, wrap("observe", p, err)
		}
		return changed, etag, Value(raw), nil
	}
	return poll(ctx, p, observeLimiter(s.opts.ObserveInterval), fetch), nil
}

// Close is a no-op; the Firebase app owns the HTTP client.
func (s *FirebaseStore) Close() error {
	return nil
}
