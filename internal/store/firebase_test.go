package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-playground/assert/v2"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

// rtdbServer answers the subset of the Realtime Database REST protocol the
// admin SDK speaks: ETag reads, conditional PUTs and root PATCHes.
type rtdbServer struct {
	mu   sync.Mutex
	root map[string]interface{}
	// beforePut runs once, ahead of the next conditional PUT.
	beforePut func(*rtdbServer)
	puts      int
}

func splitPath(raw string) []string {
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "/"), ".json")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

func (f *rtdbServer) get(segs []string) interface{} {
	var cur interface{} = f.root
	for _, s := range segs {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

func (f *rtdbServer) set(segs []string, v interface{}) {
	if len(segs) == 0 {
		m, _ := v.(map[string]interface{})
		if m == nil {
			m = map[string]interface{}{}
		}
		f.root = m
		return
	}
	cur := f.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]interface{})
		if !ok {
			if v == nil {
				return
			}
			next = map[string]interface{}{}
			cur[s] = next
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if v == nil {
		delete(cur, last)
		return
	}
	cur[last] = v
}

func (f *rtdbServer) interfere(hook func(*rtdbServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforePut = hook
}

func (f *rtdbServer) conditionalPuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *rtdbServer) etag(segs []string) string {
	raw, _ := json.Marshal(f.get(segs))
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func (f *rtdbServer) reply(w http.ResponseWriter, status int, segs []string) {
	raw, _ := json.Marshal(f.get(segs))
	w.Header().Set("ETag", f.etag(segs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func (f *rtdbServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	segs := splitPath(r.URL.Path)
	var body interface{}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
				return
			}
		}
	}

	switch r.Method {
	case http.MethodGet:
		if tag := r.Header.Get("If-None-Match"); tag != "" && tag == f.etag(segs) {
			w.Header().Set("ETag", tag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		f.reply(w, http.StatusOK, segs)
	case http.MethodPut:
		if tag := r.Header.Get("If-Match"); tag != "" {
			if f.beforePut != nil {
				hook := f.beforePut
				f.beforePut = nil
				hook(f)
			}
			f.puts++
			if tag != f.etag(segs) {
				f.reply(w, http.StatusPreconditionFailed, segs)
				return
			}
		}
		f.set(segs, body)
		f.reply(w, http.StatusOK, segs)
	case http.MethodPatch:
		m, _ := body.(map[string]interface{})
		for k, v := range m {
			f.set(append(append([]string{}, segs...), splitPath(k)...), v)
		}
		f.reply(w, http.StatusOK, segs)
	case http.MethodDelete:
		f.set(segs, nil)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("null"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFirebaseStore(t *testing.T) (*FirebaseStore, *rtdbServer) {
	t.Helper()
	fake := &rtdbServer{root: map[string]interface{}{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	// a non-https URL puts the client in emulator mode, which skips Google
	// credentials.
	app, err := firebase.NewApp(ctx, &firebase.Config{
		DatabaseURL: "localhost:" + u.Port() + "?ns=fanout-test",
		ProjectID:   "fanout-test",
	})
	if err != nil {
		t.Fatalf("firebase app: %v", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		t.Fatalf("database client: %v", err)
	}
	return NewFirebase(client, Options{ObserveInterval: 5 * time.Millisecond}), fake
}

func TestFirebaseSetGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newFirebaseStore(t)

	assert.Equal(t, s.Set(ctx, paths.User("u1"), map[string]interface{}{"username": "alice", "post_count": 2}), nil)
	c, err := s.Get(ctx, paths.UserCounter("u1", paths.PostCount))
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Int64(), int64(2))

	assert.Equal(t, s.Set(ctx, paths.User("u1"), nil), nil)
	v, err := s.Get(ctx, paths.User("u1"))
	assert.Equal(t, err, nil)
	assert.Equal(t, v.IsNull(), true)
}

func TestFirebaseUpdatePatchesRoot(t *testing.T) {
	ctx := context.Background()
	s, _ := newFirebaseStore(t)

	w := NewWriteSet()
	w.Put(paths.Follower("alice", "bob"), true)
	w.Put(paths.Following("bob", "alice"), true)
	assert.Equal(t, s.Update(ctx, w), nil)

	keys, err := ChildKeys(ctx, s, paths.FollowersOf("alice"))
	assert.Equal(t, err, nil)
	assert.Equal(t, keys, []string{"bob"})
	ok, err := Exists(ctx, s, paths.Following("bob", "alice"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
}

func TestFirebaseTransactReturnsCommittedValue(t *testing.T) {
	ctx := context.Background()
	s, fake := newFirebaseStore(t)
	p := paths.UserCounter("u1", paths.FollowerCount)
	assert.Equal(t, s.Set(ctx, p, 1), nil)

	// another writer lands between the read and the first conditional PUT
	fake.interfere(func(f *rtdbServer) { f.set(splitPath(p.String()), float64(5)) })

	v, err := s.Transact(ctx, p, func(cur Value) (interface{}, error) {
		return cur.Int64() + 1, nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, v.Int64(), int64(6))
	assert.Equal(t, fake.conditionalPuts(), 2)

	stored, err := s.Get(ctx, p)
	assert.Equal(t, err, nil)
	assert.Equal(t, stored.Int64(), int64(6))
}

func TestFirebaseTransactAbort(t *testing.T) {
	ctx := context.Background()
	s, fake := newFirebaseStore(t)
	p := paths.LikeCountOf("u1", "k1")
	assert.Equal(t, s.Set(ctx, p, 3), nil)

	_, err := s.Transact(ctx, p, func(Value) (interface{}, error) {
		return nil, ErrAborted
	})
	assert.Equal(t, errors.Is(err, ErrAborted), true)
	var se *Error
	assert.Equal(t, errors.As(err, &se), false)
	assert.Equal(t, fake.conditionalPuts(), 0)

	v, err := s.Get(ctx, p)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.Int64(), int64(3))
}

func TestFirebaseObserve(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, _ := newFirebaseStore(t)

	sub, err := s.Observe(ctx, paths.TimelineOf("u1"))
	assert.Equal(t, err, nil)
	defer sub.Close()

	first := <-sub.Updates()
	assert.Equal(t, first.IsNull(), true)

	assert.Equal(t, s.Set(ctx, paths.TimelineEntry("u1", "k1"), map[string]string{"poster_uid": "u2"}), nil)
	next := <-sub.Updates()
	assert.Equal(t, string(next), `{"k1":{"poster_uid":"u2"}}`)
}
