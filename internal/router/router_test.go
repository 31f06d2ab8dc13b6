package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
	"github.com/anonto42/nano-midea/fanout/validators"
)

const secret = "router-test-secret"

type envelope struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data"`
	Partial      bool            `json:"partial"`
	CounterDrift bool            `json:"counter_drift"`
	Message      string          `json:"message"`
}

type server struct {
	t *testing.T
	e *echo.Echo
}

func newServer(t *testing.T, tweak func(*Deps)) *server {
	t.Helper()
	s, err := store.OpenMemory(store.Options{ObserveInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	users := repositories.NewStoreUserRepository(s)
	posts := repositories.NewStorePostRepository(s)
	follows := repositories.NewStoreFollowRepository(s)
	likes := repositories.NewStoreLikeRepository(s, posts)
	d := Deps{
		Users:     users,
		Posts:     posts,
		Follows:   follows,
		Likes:     likes,
		Engine:    timeline.NewEngine(s, users, posts, follows),
		Reader:    timeline.NewReader(s, posts, likes, 4),
		JWTSecret: secret,
	}
	if tweak != nil {
		tweak(&d)
	}

	e := echo.New()
	e.Validator = validators.NewValidator()
	SetupRoutes(e, d)
	return &server{t: t, e: e}
}

func (s *server) do(method, target, uid string, body interface{}) (int, envelope) {
	s.t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatal(err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if uid != "" {
		token, err := middleware.IssueToken(secret, uid, "")
		if err != nil {
			s.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

func (s *server) profile(uid string) {
	s.t.Helper()
	code, _ := s.do(http.MethodPost, "/api/v1/users", uid, echo.Map{"username": uid})
	if code != http.StatusCreated {
		s.t.Fatalf("create profile %s: status %d", uid, code)
	}
}

func (s *server) post(uid string) models.Post {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/posts", uid, echo.Map{
		"image_url":    "https://img.example/" + uid + ".jpg",
		"image_height": 320,
	})
	if code != http.StatusCreated {
		s.t.Fatalf("create post: status %d", code)
	}
	var p models.Post
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.t.Fatal(err)
	}
	return p
}

func decode(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode %s: %v", env.Data, err)
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, code, http.StatusOK)
}

func TestRequiresToken(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(http.MethodGet, "/api/v1/timeline", "", nil)
	assert.Equal(t, code, http.StatusUnauthorized)
}

func TestFollowPostLikeFlow(t *testing.T) {
	s := newServer(t, nil)
	s.profile("alice")
	s.profile("bob")

	code, env := s.do(http.MethodPost, "/api/v1/users/alice/follow", "bob", nil)
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, env.Success, true)

	var status models.FollowStatus
	_, env = s.do(http.MethodGet, "/api/v1/users/alice/follow", "bob", nil)
	decode(t, env, &status)
	assert.Equal(t, status.IsFollowing, true)

	p := s.post("alice")
	assert.Equal(t, p.Poster.UID, "alice")
	assert.Equal(t, p.Poster.Username, "alice")

	var feed []models.FeedItem
	code, env = s.do(http.MethodGet, "/api/v1/timeline", "bob", nil)
	assert.Equal(t, code, http.StatusOK)
	decode(t, env, &feed)
	assert.Equal(t, len(feed), 1)
	assert.Equal(t, feed[0].Key, p.Key)
	assert.Equal(t, feed[0].IsLiked, false)

	likeURL := "/api/v1/users/alice/posts/" + p.Key + "/like"
	var like models.LikeStatus
	code, env = s.do(http.MethodPut, likeURL, "bob", echo.Map{"liked": true})
	assert.Equal(t, code, http.StatusOK)
	decode(t, env, &like)
	assert.Equal(t, like.Changed, true)
	assert.Equal(t, like.LikeCount, int64(1))

	code, env = s.do(http.MethodPut, likeURL, "bob", echo.Map{"liked": true})
	assert.Equal(t, code, http.StatusOK)
	decode(t, env, &like)
	assert.Equal(t, like.Changed, false)
	assert.Equal(t, like.LikeCount, int64(1))

	_, env = s.do(http.MethodGet, likeURL, "bob", nil)
	decode(t, env, &like)
	assert.Equal(t, like.Liked, true)

	var likers []string
	_, env = s.do(http.MethodGet, likeURL+"s", "alice", nil)
	decode(t, env, &likers)
	assert.Equal(t, likers, []string{"bob"})

	_, env = s.do(http.MethodGet, "/api/v1/timeline", "bob", nil)
	decode(t, env, &feed)
	assert.Equal(t, feed[0].IsLiked, true)
	assert.Equal(t, feed[0].LikeCount, int64(1))

	var alice models.User
	_, env = s.do(http.MethodGet, "/api/v1/users/alice", "bob", nil)
	decode(t, env, &alice)
	assert.Equal(t, alice.FollowerCount, int64(1))
	assert.Equal(t, alice.PostCount, int64(1))

	var ids []string
	_, env = s.do(http.MethodGet, "/api/v1/users/alice/followers", "bob", nil)
	decode(t, env, &ids)
	assert.Equal(t, ids, []string{"bob"})
	_, env = s.do(http.MethodGet, "/api/v1/users/bob/following", "bob", nil)
	decode(t, env, &ids)
	assert.Equal(t, ids, []string{"alice"})

	var own []models.Post
	_, env = s.do(http.MethodGet, "/api/v1/users/alice/posts", "bob", nil)
	decode(t, env, &own)
	assert.Equal(t, len(own), 1)

	code, _ = s.do(http.MethodDelete, "/api/v1/users/alice/follow", "bob", nil)
	assert.Equal(t, code, http.StatusOK)
	_, env = s.do(http.MethodGet, "/api/v1/timeline", "bob", nil)
	feed = nil
	decode(t, env, &feed)
	assert.Equal(t, len(feed), 0)
}

func TestErrorStatuses(t *testing.T) {
	s := newServer(t, nil)
	s.profile("alice")
	s.profile("bob")
	if code, _ := s.do(http.MethodPost, "/api/v1/users/alice/follow", "bob", nil); code != http.StatusOK {
		t.Fatalf("follow: %d", code)
	}

	cases := []struct {
		name   string
		method string
		target string
		uid    string
		body   interface{}
		want   int
	}{
		{"self follow", http.MethodPost, "/api/v1/users/bob/follow", "bob", nil, http.StatusBadRequest},
		{"follow twice", http.MethodPost, "/api/v1/users/alice/follow", "bob", nil, http.StatusConflict},
		{"unfollow stranger", http.MethodDelete, "/api/v1/users/bob/follow", "alice", nil, http.StatusConflict},
		{"username taken", http.MethodPost, "/api/v1/users", "carol", echo.Map{"username": "ALICE"}, http.StatusConflict},
		{"bad username", http.MethodPost, "/api/v1/users", "carol", echo.Map{"username": "a.b"}, http.StatusBadRequest},
		{"post without profile", http.MethodPost, "/api/v1/posts", "carol", echo.Map{"image_url": "https://img.example/c.jpg", "image_height": 10}, http.StatusNotFound},
		{"post without height", http.MethodPost, "/api/v1/posts", "alice", echo.Map{"image_url": "https://img.example/c.jpg"}, http.StatusBadRequest},
		{"unknown user", http.MethodGet, "/api/v1/users/nobody", "alice", nil, http.StatusNotFound},
		{"follow unknown user", http.MethodPost, "/api/v1/users/nobody/follow", "alice", nil, http.StatusNotFound},
		{"invalid uid", http.MethodGet, "/api/v1/users/a.b", "alice", nil, http.StatusBadRequest},
		{"unknown post", http.MethodGet, "/api/v1/users/alice/posts/missing", "bob", nil, http.StatusNotFound},
		{"like unknown post", http.MethodPut, "/api/v1/users/alice/posts/missing/like", "bob", echo.Map{"liked": true}, http.StatusNotFound},
		{"like without state", http.MethodPut, "/api/v1/users/alice/posts/missing/like", "bob", echo.Map{}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := s.do(tc.method, tc.target, tc.uid, tc.body)
			assert.Equal(t, code, tc.want)
		})
	}
}

func TestPartialFollowReportsPartial(t *testing.T) {
	var broken *brokenChildren
	s := newServer(t, func(d *Deps) {
		mem, err := store.OpenMemory(store.Options{})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { mem.Close() })
		broken = &brokenChildren{Store: mem}
		users := repositories.NewStoreUserRepository(broken)
		posts := repositories.NewStorePostRepository(broken)
		follows := repositories.NewStoreFollowRepository(broken)
		likes := repositories.NewStoreLikeRepository(broken, posts)
		d.Users, d.Posts, d.Follows, d.Likes = users, posts, follows, likes
		d.Engine = timeline.NewEngine(broken, users, posts, follows)
		d.Reader = timeline.NewReader(broken, posts, likes, 4)
	})
	s.profile("alice")
	s.profile("bob")
	broken.fail = true

	code, env := s.do(http.MethodPost, "/api/v1/users/alice/follow", "bob", nil)
	assert.Equal(t, code, http.StatusInternalServerError)
	assert.Equal(t, env.Partial, true)
}

// brokenChildren fails listing posts once fail is set.
type brokenChildren struct {
	store.Store
	fail bool
}

func (b *brokenChildren) Children(ctx context.Context, p paths.Path) ([]store.Child, error) {
	if b.fail && strings.HasPrefix(p.String(), "posts/") {
		return nil, errors.New("posts unavailable")
	}
	return b.Store.Children(ctx, p)
}

type fakeVerifier struct{}

func (fakeVerifier) VerifyIDToken(_ context.Context, token string) (*auth.Token, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &auth.Token{UID: "fb-user", Claims: map[string]interface{}{"email": "fb@example.com"}}, nil
}

func TestFirebaseLogin(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(http.MethodPost, "/api/v1/auth/firebase-login", "", echo.Map{"id_token": "good"})
	assert.Equal(t, code, http.StatusServiceUnavailable)

	s = newServer(t, func(d *Deps) { d.Verifier = fakeVerifier{} })
	code, _ = s.do(http.MethodPost, "/api/v1/auth/firebase-login", "", echo.Map{"id_token": "bad"})
	assert.Equal(t, code, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/firebase-login", strings.NewReader(`{"id_token":"good"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusOK)

	var out struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	assert.Equal(t, json.Unmarshal(rec.Body.Bytes(), &out), nil)
	assert.Equal(t, out.UID, "fb-user")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"username":"fbuser"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+out.Token)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusCreated)
}

func TestRateLimit(t *testing.T) {
	s := newServer(t, func(d *Deps) {
		d.RatePerSecond = 0.001
		d.RateBurst = 1
	})
	code, _ := s.do(http.MethodGet, "/api/v1/timeline", "alice", nil)
	assert.Equal(t, code, http.StatusOK)
	code, _ = s.do(http.MethodGet, "/api/v1/timeline", "alice", nil)
	assert.Equal(t, code, http.StatusTooManyRequests)
	code, _ = s.do(http.MethodGet, "/api/v1/timeline", "bob", nil)
	assert.Equal(t, code, http.StatusOK)
}

func TestLiveTimeline(t *testing.T) {
	s := newServer(t, nil)
	s.profile("alice")
	s.profile("bob")
	if code, _ := s.do(http.MethodPost, "/api/v1/users/alice/follow", "bob", nil); code != http.StatusOK {
		t.Fatalf("follow: %d", code)
	}

	srv := httptest.NewServer(s.e)
	defer srv.Close()

	token, _ := middleware.IssueToken(secret, "bob", "")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/timeline/live?access_token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var posts []models.Post
	assert.Equal(t, ws.ReadJSON(&posts), nil)
	assert.Equal(t, len(posts), 0)

	p := s.post("alice")
	assert.Equal(t, ws.ReadJSON(&posts), nil)
	assert.Equal(t, len(posts), 1)
	assert.Equal(t, posts[0].Key, p.Key)
}

func TestFirebaseIDTokenMode(t *testing.T) {
	s := newServer(t, func(d *Deps) {
		d.Verifier = fakeVerifier{}
		d.AcceptIDTokens = true
	})

	send := func(method, target, token, body string) int {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, send(http.MethodPost, "/api/v1/users", "good", `{"username":"fbuser"}`), http.StatusCreated)
	assert.Equal(t, send(http.MethodGet, "/api/v1/users/fb-user", "good", ""), http.StatusOK)
	assert.Equal(t, send(http.MethodGet, "/api/v1/timeline", "bad", ""), http.StatusUnauthorized)

	local, _ := middleware.IssueToken(secret, "fb-user", "")
	assert.Equal(t, send(http.MethodGet, "/api/v1/timeline", local, ""), http.StatusUnauthorized)
}

func TestLiveTimelineEndsOnShutdown(t *testing.T) {
	lifetime, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	s := newServer(t, func(d *Deps) { d.Lifetime = lifetime })
	s.profile("bob")

	srv := httptest.NewServer(s.e)
	defer srv.Close()

	token, _ := middleware.IssueToken(secret, "bob", "")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/timeline/live?access_token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var posts []models.Post
	assert.Equal(t, ws.ReadJSON(&posts), nil)

	shutdown()
	_, _, err = ws.ReadMessage()
	assert.Equal(t, websocket.IsCloseError(err, websocket.CloseGoingAway), true)
}
