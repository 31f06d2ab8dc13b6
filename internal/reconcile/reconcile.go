// Package reconcile repairs denormalized state that drifted after a
// partially applied operation: user counters, post like counters and
// materialized timelines are recomputed from the relationship and like
// indexes, which are always written atomically.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anonto42/nano-midea/fanout/internal/metrics"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// CounterFix is one rewritten user counter.
type CounterFix struct {
	Counter paths.Counter `json:"counter"`
	Was     int64         `json:"was"`
	Now     int64         `json:"now"`
}

// LikeFix is one rewritten post like counter.
type LikeFix struct {
	Key string `json:"key"`
	Was int64  `json:"was"`
	Now int64  `json:"now"`
}

// Report lists what reconciling one user changed.
type Report struct {
	UID             string       `json:"uid"`
	Counters        []CounterFix `json:"counters,omitempty"`
	LikeCounts      []LikeFix    `json:"like_counts,omitempty"`
	TimelineAdded   int          `json:"timeline_added"`
	TimelineRemoved int          `json:"timeline_removed"`
	// Deferred lists counters that moved while they were being recomputed;
	// they are left for the next run.
	Deferred []string `json:"deferred,omitempty"`
}

// Corrections counts every value the run rewrote.
func (r *Report) Corrections() int {
	return len(r.Counters) + len(r.LikeCounts) + r.TimelineAdded + r.TimelineRemoved
}

func (r *Report) postpone(p paths.Path) {
	r.Deferred = append(r.Deferred, p.String())
	logger.Log.Info("reconcile_counter_moved", zap.String("uid", r.UID), zap.String("counter", p.String()))
}

// Reconciler recomputes derived state for users.
type Reconciler struct {
	store       store.Store
	users       repositories.UserRepository
	posts       repositories.PostRepository
	follows     repositories.FollowRepository
	likes       repositories.LikeRepository
	concurrency int
}

func New(s store.Store, users repositories.UserRepository, posts repositories.PostRepository, follows repositories.FollowRepository, likes repositories.LikeRepository, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reconciler{
		store:       s,
		users:       users,
		posts:       posts,
		follows:     follows,
		likes:       likes,
		concurrency: concurrency,
	}
}

// User repairs everything derived for uid: its three counters, the like
// counter of each of its posts and its timeline, which is rebuilt as its own
// posts plus the posts of everyone it follows.
func (r *Reconciler) User(ctx context.Context, uid string) (*Report, error) {
	rep := &Report{UID: uid}

	user, err := r.users.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	followers, err := r.follows.GetFollowers(ctx, uid)
	if err != nil {
		return nil, err
	}
	following, err := r.follows.GetFollowing(ctx, uid)
	if err != nil {
		return nil, err
	}
	own, err := r.posts.GetPostsByUserID(ctx, uid)
	if err != nil {
		return nil, err
	}

	want := map[paths.Counter]int64{
		paths.FollowerCount:  int64(len(followers)),
		paths.FollowingCount: int64(len(following)),
		paths.PostCount:      int64(len(own)),
	}
	have := map[paths.Counter]int64{
		paths.FollowerCount:  user.FollowerCount,
		paths.FollowingCount: user.FollowingCount,
		paths.PostCount:      user.PostCount,
	}
	for _, c := range paths.Counters {
		if want[c] == have[c] {
			continue
		}
		err := r.users.SetCounter(ctx, uid, c, have[c], want[c])
		if errors.Is(err, repositories.ErrCounterChanged) {
			rep.postpone(paths.UserCounter(uid, c))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reset %s of %s: %w", c, uid, err)
		}
		rep.Counters = append(rep.Counters, CounterFix{Counter: c, Was: have[c], Now: want[c]})
		metrics.ReconcileCorrections.WithLabelValues(string(c)).Inc()
	}

	if err := r.likeCounts(ctx, own, rep); err != nil {
		return nil, err
	}
	if err := r.timeline(ctx, uid, own, following, rep); err != nil {
		return nil, err
	}

	if rep.Corrections() > 0 {
		logger.Log.Info("reconcile_user_corrected",
			zap.String("uid", uid),
			zap.Int("counters", len(rep.Counters)),
			zap.Int("like_counts", len(rep.LikeCounts)),
			zap.Int("timeline_added", rep.TimelineAdded),
			zap.Int("timeline_removed", rep.TimelineRemoved))
	}
	return rep, nil
}

func (r *Reconciler) likeCounts(ctx context.Context, own []models.Post, rep *Report) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, p := range own {
		p := p
		g.Go(func() error {
			likers, err := r.likes.GetLikers(gctx, p.Key)
			if err != nil {
				return err
			}
			n := int64(len(likers))
			if n == p.LikeCount {
				return nil
			}
			_, err = r.posts.SetLikesCount(gctx, p.Poster.UID, p.Key, p.LikeCount, n)
			if errors.Is(err, repositories.ErrCounterChanged) {
				mu.Lock()
				rep.postpone(paths.LikeCountOf(p.Poster.UID, p.Key))
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("reset like_count of %s: %w", p.Key, err)
			}
			metrics.ReconcileCorrections.WithLabelValues("like_count").Inc()
			mu.Lock()
			rep.LikeCounts = append(rep.LikeCounts, LikeFix{Key: p.Key, Was: p.LikeCount, Now: n})
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (r *Reconciler) timeline(ctx context.Context, uid string, own []models.Post, following []string, rep *Report) error {
	want := make(map[string]string, len(own))
	for _, p := range own {
		want[p.Key] = uid
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, target := range following {
		target := target
		g.Go(func() error {
			posts, err := r.posts.GetPostsByUserID(gctx, target)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, p := range posts {
				want[p.Key] = target
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// an unfollow that finished since following was read has already purged
	// its posts; do not bring them back.
	for _, target := range following {
		still, err := r.follows.IsFollowing(ctx, uid, target)
		if err != nil {
			return err
		}
		if still {
			continue
		}
		for key, poster := range want {
			if poster == target {
				delete(want, key)
			}
		}
	}

	current, err := r.store.Children(ctx, paths.TimelineOf(uid))
	if err != nil {
		return err
	}
	w := store.NewWriteSet()
	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[c.Key] = true
		var e models.TimelineEntry
		_ = c.Value.Unmarshal(&e)
		poster, ok := want[c.Key]
		switch {
		case !ok:
			w.Delete(paths.TimelineEntry(uid, c.Key))
			rep.TimelineRemoved++
		case e.PosterUID != poster:
			w.Put(paths.TimelineEntry(uid, c.Key), models.TimelineEntry{PosterUID: poster})
			rep.TimelineAdded++
		}
	}
	for key, poster := range want {
		if seen[key] {
			continue
		}
		w.Put(paths.TimelineEntry(uid, key), models.TimelineEntry{PosterUID: poster})
		rep.TimelineAdded++
	}
	if len(w) == 0 {
		return nil
	}
	if err := r.store.Update(ctx, w); err != nil {
		return fmt.Errorf("rebuild timeline of %s: %w", uid, err)
	}
	metrics.ReconcileCorrections.WithLabelValues("timeline_added").Add(float64(rep.TimelineAdded))
	metrics.ReconcileCorrections.WithLabelValues("timeline_removed").Add(float64(rep.TimelineRemoved))
	return nil
}

// All reconciles every user and returns the reports that corrected
// something.
func (r *Reconciler) All(ctx context.Context) ([]*Report, error) {
	ids, err := r.users.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("reconcile_started", zap.Int("users", len(ids)))

	var changed []*Report
	for _, uid := range ids {
		rep, err := r.User(ctx, uid)
		if err != nil {
			return changed, fmt.Errorf("reconcile %s: %w", uid, err)
		}
		if rep.Corrections() > 0 {
			changed = append(changed, rep)
		}
	}
	logger.Log.Info("reconcile_finished",
		zap.Int("users", len(ids)),
		zap.Int("corrected", len(changed)))
	return changed, nil
}
