package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/store"
)

// FollowRepository defines the interface for follow data operations
type FollowRepository interface {
	Follow(ctx context.Context, actor, target string) (bool, error)
	Unfollow(ctx context.Context, actor, target string) (bool, error)
	IsFollowing(ctx context.Context, actor, target string) (bool, error)
	GetFollowers(ctx context.Context, uid string) ([]string, error)
	GetFollowing(ctx context.Context, uid string) ([]string, error)
}

// StoreFollowRepository keeps each relationship in two indexes,
// followers/<target>/<actor> and following/<actor>/<target>, written
// together so neither can exist without the other.
type StoreFollowRepository struct {
	store store.Store
}

// NewStoreFollowRepository creates a new StoreFollowRepository
func NewStoreFollowRepository(s store.Store) *StoreFollowRepository {
	return &StoreFollowRepository{store: s}
}

// EdgeWrites builds the two-location write that creates (present) or
// destroys a relationship. A relationship has exactly two parties, so a
// missing id is a programming error.
func EdgeWrites(actor, target string, present bool) store.WriteSet {
	if actor == "" || target == "" {
		panic("repositories: relationship needs both actor and target")
	}
	w := store.NewWriteSet()
	if present {
		w.Put(paths.Follower(target, actor), true)
		w.Put(paths.Following(actor, target), true)
	} else {
		w.Delete(paths.Follower(target, actor))
		w.Delete(paths.Following(actor, target))
	}
	return w
}

// Follow records that actor follows target. It reports false when the
// relationship already existed. Counters are not touched.
func (r *StoreFollowRepository) Follow(ctx context.Context, actor, target string) (bool, error) {
	return r.setEdge(ctx, "follow", actor, target, true)
}

// Unfollow removes the relationship from both indexes. It reports false when
// there was nothing to remove.
func (r *StoreFollowRepository) Unfollow(ctx context.Context, actor, target string) (bool, error) {
	return r.setEdge(ctx, "unfollow", actor, target, false)
}

// setEdge flips following/<actor>/<target> in a transaction, so exactly one
// of several concurrent callers observes the change, and then writes both
// indexes together. A failed index write rolls the flip back.
func (r *StoreFollowRepository) setEdge(ctx context.Context, op, actor, target string, present bool) (bool, error) {
	marker := paths.Following(actor, target)
	_, err := r.store.Transact(ctx, marker, flipMarker(present))
	if errors.Is(err, store.ErrAborted) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s %s -> %s: %w", op, actor, target, err)
	}
	if err := r.store.Update(ctx, EdgeWrites(actor, target, present)); err != nil {
		_, _ = r.store.Transact(ctx, marker, flipMarker(!present))
		return false, fmt.Errorf("%s %s -> %s: %w", op, actor, target, err)
	}
	return true, nil
}

func (r *StoreFollowRepository) IsFollowing(ctx context.Context, actor, target string) (bool, error) {
	v, err := r.store.Get(ctx, paths.Following(actor, target))
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// GetFollowers lists the ids following uid, in key order.
func (r *StoreFollowRepository) GetFollowers(ctx context.Context, uid string) ([]string, error) {
	return store.ChildKeys(ctx, r.store, paths.FollowersOf(uid))
}

// GetFollowing lists the ids uid follows, in key order.
func (r *StoreFollowRepository) GetFollowing(ctx context.Context, uid string) ([]string, error) {
	return store.ChildKeys(ctx, r.store, paths.FollowingOf(uid))
}
