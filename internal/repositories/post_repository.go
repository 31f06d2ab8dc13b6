package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/store"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	NewPost(author models.UserCompact, imageURL string, height float64) *models.Post
	GetPost(ctx context.Context, author, key string) (*models.Post, error)
	GetPostsByUserID(ctx context.Context, author string) ([]models.Post, error)
	IncrementLikesCount(ctx context.Context, author, key string, delta int64) (int64, error)
	SetLikesCount(ctx context.Context, author, key string, was, n int64) (int64, error)
}

// postRecord is the stored shape of a post; the key is the location itself.
type postRecord struct {
	ImageURL    string             `json:"image_url"`
	ImageHeight float64            `json:"image_height"`
	CreatedAt   int64              `json:"created_at"`
	LikeCount   int64              `json:"like_count"`
	Poster      models.UserCompact `json:"poster"`
}

// Record returns the value written at the post's location.
func Record(p *models.Post) interface{} {
	return postRecord{
		ImageURL:    p.ImageURL,
		ImageHeight: p.ImageHeight,
		CreatedAt:   p.CreatedAt,
		LikeCount:   p.LikeCount,
		Poster:      p.Poster,
	}
}

// StorePostRepository implements PostRepository on the key-path store.
type StorePostRepository struct {
	store store.Store
	now   func() time.Time
}

// NewStorePostRepository creates a new StorePostRepository
func NewStorePostRepository(s store.Store) *StorePostRepository {
	return &StorePostRepository{store: s, now: time.Now}
}

// NewPost builds an unsaved post with a fresh key. Keys are ULIDs, so the
// store's key order is creation order.
func (r *StorePostRepository) NewPost(author models.UserCompact, imageURL string, height float64) *models.Post {
	now := r.now()
	return &models.Post{
		Key:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ImageURL:    imageURL,
		ImageHeight: height,
		CreatedAt:   now.UnixMilli(),
		Poster:      author,
	}
}

// GetPost retrieves one post, or ErrPostNotFound.
func (r *StorePostRepository) GetPost(ctx context.Context, author, key string) (*models.Post, error) {
	v, err := r.store.Get(ctx, paths.Post(author, key))
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, ErrPostNotFound
	}
	return decodePost(key, v)
}

// GetPostsByUserID returns every post by author, most recent first.
func (r *StorePostRepository) GetPostsByUserID(ctx context.Context, author string) ([]models.Post, error) {
	children, err := r.store.Children(ctx, paths.PostsOf(author))
	if err != nil {
		return nil, err
	}
	posts := make([]models.Post, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		p, err := decodePost(children[i].Key, children[i].Value)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, nil
}

// IncrementLikesCount adds delta to the post's like counter inside a
// transaction and returns the committed value. The counter never goes
// below zero.
func (r *StorePostRepository) IncrementLikesCount(ctx context.Context, author, key string, delta int64) (int64, error) {
	return r.transactLikes(ctx, author, key, addClamped(delta))
}

// SetLikesCount rewrites the like counter from was to n, or returns
// ErrCounterChanged when it no longer holds was.
func (r *StorePostRepository) SetLikesCount(ctx context.Context, author, key string, was, n int64) (int64, error) {
	moved := false
	v, err := r.transactLikes(ctx, author, key, replaceCount(was, n, &moved))
	if moved && errors.Is(err, ErrPostNotFound) {
		return 0, ErrCounterChanged
	}
	return v, err
}

func (r *StorePostRepository) transactLikes(ctx context.Context, author, key string, fn store.UpdateFn) (int64, error) {
	// Every stored post carries a like_count, so an empty counter means the
	// post does not exist.
	v, err := r.store.Transact(ctx, paths.LikeCountOf(author, key), requirePresent(fn))
	if errors.Is(err, store.ErrAborted) {
		return 0, ErrPostNotFound
	}
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

func decodePost(key string, v store.Value) (*models.Post, error) {
	var rec postRecord
	if err := v.Unmarshal(&rec); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", key, err)
	}
	return &models.Post{
		Key:         key,
		ImageURL:    rec.ImageURL,
		ImageHeight: rec.ImageHeight,
		CreatedAt:   rec.CreatedAt,
		LikeCount:   rec.LikeCount,
		Poster:      rec.Poster,
	}, nil
}
