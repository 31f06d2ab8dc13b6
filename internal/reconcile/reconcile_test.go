package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
)

type env struct {
	store   *store.LeafStore
	users   *repositories.StoreUserRepository
	posts   *repositories.StorePostRepository
	follows *repositories.StoreFollowRepository
	likes   *repositories.StoreLikeRepository
	engine  *timeline.Engine
	rec     *Reconciler
}

func newEnv(t *testing.T, users ...string) *env {
	t.Helper()
	s, err := store.OpenMemory(store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	e := &env{store: s}
	e.users = repositories.NewStoreUserRepository(s)
	e.posts = repositories.NewStorePostRepository(s)
	e.follows = repositories.NewStoreFollowRepository(s)
	e.likes = repositories.NewStoreLikeRepository(s, e.posts)
	e.engine = timeline.NewEngine(s, e.users, e.posts, e.follows)
	e.rec = New(s, e.users, e.posts, e.follows, e.likes, 2)

	for _, u := range users {
		if _, err := e.users.CreateUser(context.Background(), u, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return e
}

func TestUserCleanStateHasNoCorrections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob")
	p, _ := e.engine.CreatePost(ctx, "alice", "https://img.example/a.jpg", 10)
	_ = e.engine.Follow(ctx, "bob", "alice")
	_, _ = e.likes.Like(ctx, p.Ref(), "bob")

	for _, uid := range []string{"alice", "bob"} {
		rep, err := e.rec.User(ctx, uid)
		assert.Equal(t, err, nil)
		assert.Equal(t, rep.Corrections(), 0)
	}
}

func TestUserRepairsCounters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob")
	_ = e.engine.Follow(ctx, "bob", "alice")
	_ = e.users.SetCounter(ctx, "alice", paths.FollowerCount, 1, 5)
	_ = e.users.SetCounter(ctx, "alice", paths.PostCount, 0, 2)

	rep, err := e.rec.User(ctx, "alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, rep.Counters, []CounterFix{
		{Counter: paths.FollowerCount, Was: 5, Now: 1},
		{Counter: paths.PostCount, Was: 2, Now: 0},
	})

	u, _ := e.users.GetUser(ctx, "alice")
	assert.Equal(t, u.FollowerCount, int64(1))
	assert.Equal(t, u.PostCount, int64(0))
}

func TestUserRepairsLikeCounts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob")
	p, _ := e.engine.CreatePost(ctx, "alice", "https://img.example/a.jpg", 10)
	// membership committed, counter update lost
	assert.Equal(t, e.store.Set(ctx, paths.Like(p.Key, "bob"), true), nil)

	rep, err := e.rec.User(ctx, "alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, rep.LikeCounts, []LikeFix{{Key: p.Key, Was: 0, Now: 1}})

	got, _ := e.posts.GetPost(ctx, "alice", p.Key)
	assert.Equal(t, got.LikeCount, int64(1))
}

func TestUserRebuildsTimeline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob", "carol")
	pa, _ := e.engine.CreatePost(ctx, "alice", "https://img.example/a.jpg", 10)
	pc, _ := e.engine.CreatePost(ctx, "carol", "https://img.example/c.jpg", 10)
	_ = e.engine.Follow(ctx, "bob", "carol")

	// edge to alice written without backfill, carol's entry lost, a stray
	// entry left behind
	assert.Equal(t, e.store.Update(ctx, repositories.EdgeWrites("bob", "alice", true)), nil)
	assert.Equal(t, e.store.Set(ctx, paths.TimelineEntry("bob", pc.Key), nil), nil)
	assert.Equal(t, e.store.Set(ctx, paths.TimelineEntry("bob", "stray"), models.TimelineEntry{PosterUID: "dave"}), nil)

	rep, err := e.rec.User(ctx, "bob")
	assert.Equal(t, err, nil)
	assert.Equal(t, rep.TimelineAdded, 2)
	assert.Equal(t, rep.TimelineRemoved, 1)

	keys, _ := store.ChildKeys(ctx, e.store, paths.TimelineOf("bob"))
	want := []string{pa.Key, pc.Key}
	if pc.Key < pa.Key {
		want = []string{pc.Key, pa.Key}
	}
	assert.Equal(t, keys, want)
}

func TestAllReturnsOnlyCorrectedUsers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob")
	_ = e.users.SetCounter(ctx, "bob", paths.FollowingCount, 0, 3)

	reps, err := e.rec.All(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(reps), 1)
	assert.Equal(t, reps[0].UID, "bob")
}

// likeDuring performs a real like right after the likers were listed.
type likeDuring struct {
	repositories.LikeRepository
	once  sync.Once
	post  models.PostRef
	liker string
}

func (l *likeDuring) GetLikers(ctx context.Context, key string) ([]string, error) {
	likers, err := l.LikeRepository.GetLikers(ctx, key)
	l.once.Do(func() { _, _ = l.LikeRepository.Like(ctx, l.post, l.liker) })
	return likers, err
}

func TestLikeDuringRepairIsNotLost(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob", "carol")
	p, _ := e.engine.CreatePost(ctx, "alice", "https://img.example/a.jpg", 10)
	// bob's like committed without its counter update
	assert.Equal(t, e.store.Set(ctx, paths.Like(p.Key, "bob"), true), nil)

	likes := &likeDuring{LikeRepository: e.likes, post: p.Ref(), liker: "carol"}
	rec := New(e.store, e.users, e.posts, e.follows, likes, 1)
	rep, err := rec.User(ctx, "alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(rep.LikeCounts), 0)
	assert.Equal(t, rep.Deferred, []string{paths.LikeCountOf("alice", p.Key).String()})

	// carol's increment survived; the next run settles the count
	got, _ := e.posts.GetPost(ctx, "alice", p.Key)
	assert.Equal(t, got.LikeCount, int64(1))
	rep, err = e.rec.User(ctx, "alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, rep.LikeCounts, []LikeFix{{Key: p.Key, Was: 1, Now: 2}})
	got, _ = e.posts.GetPost(ctx, "alice", p.Key)
	assert.Equal(t, got.LikeCount, int64(2))
}

// unfollowDuring unfollows right after the followed list was read.
type unfollowDuring struct {
	repositories.FollowRepository
	once   sync.Once
	engine *timeline.Engine
}

func (u *unfollowDuring) GetFollowing(ctx context.Context, uid string) ([]string, error) {
	ids, err := u.FollowRepository.GetFollowing(ctx, uid)
	u.once.Do(func() { _ = u.engine.Unfollow(ctx, uid, ids[0]) })
	return ids, err
}

func TestUnfollowDuringRepairStaysPurged(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "alice", "bob")
	_, _ = e.engine.CreatePost(ctx, "alice", "https://img.example/a.jpg", 10)
	assert.Equal(t, e.engine.Follow(ctx, "bob", "alice"), nil)

	follows := &unfollowDuring{FollowRepository: e.follows, engine: e.engine}
	rec := New(e.store, e.users, e.posts, follows, e.likes, 1)
	_, err := rec.User(ctx, "bob")
	assert.Equal(t, err, nil)

	keys, _ := store.ChildKeys(ctx, e.store, paths.TimelineOf("bob"))
	assert.Equal(t, len(keys), 0)
	u, _ := e.users.GetUser(ctx, "bob")
	assert.Equal(t, u.FollowingCount, int64(0))
}

func TestStartRejectsBadCron(t *testing.T) {
	_, err := Start(context.Background(), nil, "not a cron")
	assert.NotEqual(t, err, nil)
}

func TestRunSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runScheduler(ctx, "* * * * *", func(context.Context) {})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
