// Package timeline propagates posts into materialized per-user timelines
// and reads them back.
//
// Every event results in a single multi-location write: a new post lands in
// its author's timeline and in every follower's timeline at once, a follow
// copies all of the target's posts into the actor's timeline, an unfollow
// removes them again. Counters are adjusted afterwards with transactions.
package timeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/metrics"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// Engine runs the write side of the timelines.
type Engine struct {
	store   store.Store
	users   repositories.UserRepository
	posts   repositories.PostRepository
	follows repositories.FollowRepository
}

func NewEngine(s store.Store, users repositories.UserRepository, posts repositories.PostRepository, follows repositories.FollowRepository) *Engine {
	return &Engine{store: s, users: users, posts: posts, follows: follows}
}

// CreatePost writes a new post together with one timeline entry for its
// author and one for every current follower, then bumps the author's
// post_count. The post is committed once the returned error is nil or a
// *repositories.CounterDriftError.
func (e *Engine) CreatePost(ctx context.Context, author, imageURL string, height float64) (*models.Post, error) {
	if err := paths.CheckID(author); err != nil {
		return nil, err
	}
	profile, err := e.users.GetUser(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("load author %s: %w", author, err)
	}
	followers, err := e.follows.GetFollowers(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("read followers of %s: %w", author, err)
	}

	post := e.posts.NewPost(profile.Compact(), imageURL, height)
	entry := models.TimelineEntry{PosterUID: author}

	w := store.NewWriteSet()
	w.Put(paths.Post(author, post.Key), repositories.Record(post))
	w.Put(paths.TimelineEntry(author, post.Key), entry)
	for _, f := range followers {
		w.Put(paths.TimelineEntry(f, post.Key), entry)
	}
	if err := e.store.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("fan out post %s: %w", post.Key, err)
	}
	metrics.ObserveFanout(metrics.EventPost, len(w))
	logger.Log.Debug("post_fanned_out",
		zap.String("author", author),
		zap.String("post", post.Key),
		zap.Int("followers", len(followers)))

	if err := e.adjust(ctx, author, paths.PostCount, 1); err != nil {
		return post, err
	}
	return post, nil
}

// Follow creates the relationship, copies every existing post of target into
// actor's timeline and then adjusts both users' counters. Only the call that
// actually created the edge goes on to backfill and count it.
func (e *Engine) Follow(ctx context.Context, actor, target string) error {
	if err := checkPair(actor, target); err != nil {
		return err
	}
	if _, err := e.users.GetUser(ctx, target); err != nil {
		return fmt.Errorf("load target %s: %w", target, err)
	}
	created, err := e.follows.Follow(ctx, actor, target)
	if err != nil {
		return err
	}
	if !created {
		return ErrAlreadyFollowing
	}

	if err := e.copyTimeline(ctx, metrics.EventFollow, actor, target, true); err != nil {
		return err
	}
	return e.adjustPair(ctx, actor, target, 1)
}

// Unfollow destroys the relationship, removes every post of target from
// actor's timeline and then adjusts both users' counters.
func (e *Engine) Unfollow(ctx context.Context, actor, target string) error {
	if err := checkPair(actor, target); err != nil {
		return err
	}
	removed, err := e.follows.Unfollow(ctx, actor, target)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFollowing
	}

	if err := e.copyTimeline(ctx, metrics.EventUnfollow, actor, target, false); err != nil {
		return err
	}
	return e.adjustPair(ctx, actor, target, -1)
}

// copyTimeline adds (present) or tombstones target's posts in actor's
// timeline. It runs after the edge write, so any failure is partial.
func (e *Engine) copyTimeline(ctx context.Context, event, actor, target string, present bool) error {
	posts, err := e.posts.GetPostsByUserID(ctx, target)
	if err != nil {
		return e.partial(event, StepReadPosts, err)
	}

	w := store.NewWriteSet()
	for _, p := range posts {
		if present {
			w.Put(paths.TimelineEntry(actor, p.Key), models.TimelineEntry{PosterUID: target})
		} else {
			w.Delete(paths.TimelineEntry(actor, p.Key))
		}
	}
	if len(w) == 0 {
		return nil
	}

	step := StepBackfill
	if !present {
		step = StepPurge
	}
	if err := e.store.Update(ctx, w); err != nil {
		return e.partial(event, step, err)
	}
	metrics.ObserveFanout(event, len(w))
	logger.Log.Debug("timeline_"+step,
		zap.String("actor", actor),
		zap.String("target", target),
		zap.Int("entries", len(w)))
	return nil
}

func (e *Engine) partial(event, step string, err error) error {
	metrics.FanoutPartialFailures.WithLabelValues(event).Inc()
	logger.Log.Warn("fanout_partial_failure",
		zap.String("event", event),
		zap.String("step", step),
		zap.Error(err))
	return &PartialFanoutError{Op: event, Step: step, Err: err}
}

// adjustPair moves following_count of actor and follower_count of target by
// delta. Both are attempted even when the first fails.
func (e *Engine) adjustPair(ctx context.Context, actor, target string, delta int64) error {
	return errors.Join(
		e.adjust(ctx, actor, paths.FollowingCount, delta),
		e.adjust(ctx, target, paths.FollowerCount, delta),
	)
}

func (e *Engine) adjust(ctx context.Context, uid string, c paths.Counter, delta int64) error {
	if _, err := e.users.IncrementCounter(ctx, uid, c, delta); err != nil {
		metrics.CounterDrift.WithLabelValues(string(c)).Inc()
		logger.Log.Warn("counter_update_failed",
			zap.String("uid", uid),
			zap.String("counter", string(c)),
			zap.Int64("delta", delta),
			zap.Error(err))
		return &repositories.CounterDriftError{
			Location: paths.UserCounter(uid, c).String(),
			Delta:    delta,
			Err:      err,
		}
	}
	return nil
}

func checkPair(actor, target string) error {
	if err := paths.CheckID(actor); err != nil {
		return err
	}
	if err := paths.CheckID(target); err != nil {
		return err
	}
	if actor == target {
		return ErrSelfFollow
	}
	return nil
}
