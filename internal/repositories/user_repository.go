package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/store"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	CreateUser(ctx context.Context, uid, username string) (*models.User, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	IncrementCounter(ctx context.Context, uid string, c paths.Counter, delta int64) (int64, error)
	SetCounter(ctx context.Context, uid string, c paths.Counter, was, n int64) error
}

type userRecord struct {
	Username       string `json:"username"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	PostCount      int64  `json:"post_count"`
}

// StoreUserRepository implements UserRepository on the key-path store.
type StoreUserRepository struct {
	store store.Store
}

// NewStoreUserRepository creates a new StoreUserRepository
func NewStoreUserRepository(s store.Store) *StoreUserRepository {
	return &StoreUserRepository{store: s}
}

// CreateUser claims username for uid and writes the profile. Calling it
// again for the same uid renames the profile and keeps its counters.
func (r *StoreUserRepository) CreateUser(ctx context.Context, uid, username string) (*models.User, error) {
	if err := paths.CheckID(uid); err != nil {
		return nil, err
	}
	if err := paths.CheckKey(strings.ToLower(username)); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}

	fresh, err := r.claim(ctx, username, uid)
	if err != nil {
		return nil, err
	}

	var previous string
	v, err := r.store.Transact(ctx, paths.User(uid), func(cur store.Value) (interface{}, error) {
		var rec userRecord
		if err := cur.Unmarshal(&rec); err != nil {
			return nil, err
		}
		previous = rec.Username
		rec.Username = username
		return rec, nil
	})
	if err != nil {
		if fresh {
			r.release(ctx, username, uid)
		}
		return nil, fmt.Errorf("write profile %s: %w", uid, err)
	}
	if previous != "" && !strings.EqualFold(previous, username) {
		r.release(ctx, previous, uid)
	}
	return decodeUser(uid, v)
}

// claim takes usernames/<name> for uid unless someone else owns it. It
// reports whether the name was unclaimed before.
func (r *StoreUserRepository) claim(ctx context.Context, username, uid string) (bool, error) {
	taken, fresh := false, false
	_, err := r.store.Transact(ctx, paths.Username(username), func(cur store.Value) (interface{}, error) {
		var owner string
		if err := cur.Unmarshal(&owner); err != nil {
			return nil, err
		}
		taken = owner != "" && owner != uid
		if taken {
			return nil, store.ErrAborted
		}
		fresh = owner == ""
		return uid, nil
	})
	if errors.Is(err, store.ErrAborted) && taken {
		return false, ErrUsernameTaken
	}
	if err != nil {
		return false, fmt.Errorf("claim username %q: %w", username, err)
	}
	return fresh, nil
}

// release drops a claim still owned by uid. A stale claim only blocks the
// name, so failures are ignored.
func (r *StoreUserRepository) release(ctx context.Context, username, uid string) {
	_, _ = r.store.Transact(ctx, paths.Username(username), func(cur store.Value) (interface{}, error) {
		var owner string
		if err := cur.Unmarshal(&owner); err != nil || owner != uid {
			return nil, store.ErrAborted
		}
		return nil, nil
	})
}

// GetUser retrieves a profile, or ErrUserNotFound.
func (r *StoreUserRepository) GetUser(ctx context.Context, uid string) (*models.User, error) {
	v, err := r.store.Get(ctx, paths.User(uid))
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, ErrUserNotFound
	}
	return decodeUser(uid, v)
}

// ListUserIDs returns every user id in key order.
func (r *StoreUserRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	return store.ChildKeys(ctx, r.store, paths.Users())
}

// IncrementCounter adds delta to one of uid's counters inside a
// transaction, clamping at zero, and returns the committed value. Profiles
// are written with every counter, so a missing counter means a missing user
// and yields ErrUserNotFound.
func (r *StoreUserRepository) IncrementCounter(ctx context.Context, uid string, c paths.Counter, delta int64) (int64, error) {
	v, err := r.store.Transact(ctx, paths.UserCounter(uid, c), requirePresent(addClamped(delta)))
	if errors.Is(err, store.ErrAborted) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// SetCounter rewrites one of uid's counters from was to n. It returns
// ErrCounterChanged when the counter no longer holds was.
func (r *StoreUserRepository) SetCounter(ctx context.Context, uid string, c paths.Counter, was, n int64) error {
	moved := false
	_, err := r.store.Transact(ctx, paths.UserCounter(uid, c), requirePresent(replaceCount(was, n, &moved)))
	switch {
	case errors.Is(err, store.ErrAborted) && moved:
		return ErrCounterChanged
	case errors.Is(err, store.ErrAborted):
		return ErrUserNotFound
	}
	return err
}

func decodeUser(uid string, v store.Value) (*models.User, error) {
	var rec userRecord
	if err := v.Unmarshal(&rec); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	return &models.User{
		UID:            uid,
		Username:       rec.Username,
		FollowerCount:  rec.FollowerCount,
		FollowingCount: rec.FollowingCount,
		PostCount:      rec.PostCount,
	}, nil
}
