package timeline

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anonto42/nano-midea/fanout/internal/metrics"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

const defaultJoinConcurrency = 16

// Reader materializes timelines by joining timeline entries with posts.
type Reader struct {
	store       store.Store
	posts       repositories.PostRepository
	likes       repositories.LikeRepository
	concurrency int
}

// NewReader returns a Reader that runs at most concurrency point reads at a
// time per join; zero or less selects a default.
func NewReader(s store.Store, posts repositories.PostRepository, likes repositories.LikeRepository, concurrency int) *Reader {
	if concurrency <= 0 {
		concurrency = defaultJoinConcurrency
	}
	return &Reader{store: s, posts: posts, likes: likes, concurrency: concurrency}
}

type entryRef struct {
	key    string
	poster string
}

// ReadTimeline returns owner's timeline, most recently added entry first.
// Entries whose post cannot be read are dropped, not reported.
func (r *Reader) ReadTimeline(ctx context.Context, owner string) ([]models.Post, error) {
	children, err := r.store.Children(ctx, paths.TimelineOf(owner))
	if err != nil {
		return nil, err
	}
	refs := make([]entryRef, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		var e models.TimelineEntry
		if err := children[i].Value.Unmarshal(&e); err != nil || e.PosterUID == "" {
			r.drop(owner, children[i].Key, errors.New("malformed timeline entry"))
			continue
		}
		refs = append(refs, entryRef{key: children[i].Key, poster: e.PosterUID})
	}
	return r.join(ctx, owner, refs)
}

// ReadFeed is ReadTimeline with each post marked as liked or not by viewer.
func (r *Reader) ReadFeed(ctx context.Context, viewer, owner string) ([]models.FeedItem, error) {
	posts, err := r.ReadTimeline(ctx, owner)
	if err != nil {
		return nil, err
	}
	return r.enrich(ctx, viewer, posts)
}

// Live calls fn with owner's freshly joined timeline now and after every
// change to it, until ctx ends or fn returns an error.
func (r *Reader) Live(ctx context.Context, owner string, fn func([]models.Post) error) error {
	return store.Watch(ctx, r.store, paths.TimelineOf(owner), func(v store.Value) error {
		var entries map[string]models.TimelineEntry
		if err := v.Unmarshal(&entries); err != nil {
			return err
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))

		refs := make([]entryRef, 0, len(keys))
		for _, k := range keys {
			if entries[k].PosterUID == "" {
				continue
			}
			refs = append(refs, entryRef{key: k, poster: entries[k].PosterUID})
		}
		posts, err := r.join(ctx, owner, refs)
		if err != nil {
			return err
		}
		return fn(posts)
	})
}

// join reads every referenced post concurrently and waits for all of them.
// The result keeps the order of refs.
func (r *Reader) join(ctx context.Context, owner string, refs []entryRef) ([]models.Post, error) {
	results := make([]*models.Post, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			p, err := r.posts.GetPost(gctx, ref.poster, ref.key)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.drop(owner, ref.key, err)
				return nil
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	posts := make([]models.Post, 0, len(results))
	for _, p := range results {
		if p != nil {
			posts = append(posts, *p)
		}
	}
	return posts, nil
}

func (r *Reader) enrich(ctx context.Context, viewer string, posts []models.Post) ([]models.FeedItem, error) {
	items := make([]models.FeedItem, len(posts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range posts {
		i := i
		items[i].Post = posts[i]
		g.Go(func() error {
			liked, err := r.likes.IsLiked(gctx, posts[i].Ref(), viewer)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Log.Warn("like_status_failed",
					zap.String("viewer", viewer),
					zap.String("post", posts[i].Key),
					zap.Error(err))
				return nil
			}
			items[i].IsLiked = liked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Reader) drop(owner, key string, err error) {
	metrics.TimelineJoinDropped.Inc()
	logger.Log.Info("timeline_entry_dropped",
		zap.String("owner", owner),
		zap.String("post", key),
		zap.Error(err))
}
