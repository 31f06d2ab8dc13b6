package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/store"
)

// LikeRepository defines the interface for like data operations
type LikeRepository interface {
	Like(ctx context.Context, post models.PostRef, liker string) (bool, error)
	Unlike(ctx context.Context, post models.PostRef, liker string) (bool, error)
	SetIsLiked(ctx context.Context, liked bool, post models.PostRef, liker string) (bool, error)
	IsLiked(ctx context.Context, post models.PostRef, liker string) (bool, error)
	GetLikers(ctx context.Context, key string) ([]string, error)
}

// StoreLikeRepository keeps like membership at postLikes/<key>/<liker> and
// the like counter on the post itself.
type StoreLikeRepository struct {
	store store.Store
	posts PostRepository
}

// NewStoreLikeRepository creates a new StoreLikeRepository
func NewStoreLikeRepository(s store.Store, posts PostRepository) *StoreLikeRepository {
	return &StoreLikeRepository{store: s, posts: posts}
}

// Like adds liker to the post's like set and then bumps its counter.
// It reports false, without touching the counter, when the like already
// existed.
func (r *StoreLikeRepository) Like(ctx context.Context, post models.PostRef, liker string) (bool, error) {
	return r.SetIsLiked(ctx, true, post, liker)
}

// Unlike is the inverse of Like; unliking a post that is not liked is a
// no-op.
func (r *StoreLikeRepository) Unlike(ctx context.Context, post models.PostRef, liker string) (bool, error) {
	return r.SetIsLiked(ctx, false, post, liker)
}

// SetIsLiked moves the membership to the requested state. The membership
// flip and the counter update are two separate writes; when the second
// fails the result is a *CounterDriftError and the membership stays
// committed.
func (r *StoreLikeRepository) SetIsLiked(ctx context.Context, liked bool, post models.PostRef, liker string) (bool, error) {
	changed, err := r.flip(ctx, post.Key, liker, liked)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	delta := int64(1)
	if !liked {
		delta = -1
	}
	if _, err := r.posts.IncrementLikesCount(ctx, post.Author, post.Key, delta); err != nil {
		return true, &CounterDriftError{
			Location: paths.LikeCountOf(post.Author, post.Key).String(),
			Delta:    delta,
			Err:      err,
		}
	}
	return true, nil
}

// flip writes the membership marker in a transaction so that two concurrent
// likes by the same user cannot both count.
func (r *StoreLikeRepository) flip(ctx context.Context, key, liker string, liked bool) (bool, error) {
	_, err := r.store.Transact(ctx, paths.Like(key, liker), flipMarker(liked))
	if errors.Is(err, store.ErrAborted) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set like %s on %s: %w", liker, key, err)
	}
	return true, nil
}

func (r *StoreLikeRepository) IsLiked(ctx context.Context, post models.PostRef, liker string) (bool, error) {
	v, err := r.store.Get(ctx, paths.Like(post.Key, liker))
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// GetLikers lists the users who like the post, in key order.
func (r *StoreLikeRepository) GetLikers(ctx context.Context, key string) ([]string, error) {
	return store.ChildKeys(ctx, r.store, paths.LikesOf(key))
}
