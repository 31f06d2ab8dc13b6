package timeline

import (
	"errors"
	"fmt"
)

var (
	ErrSelfFollow       = errors.New("cannot follow yourself")
	ErrAlreadyFollowing = errors.New("already following this user")
	ErrNotFollowing     = errors.New("not following this user")

	// ErrPartialFanout matches every *PartialFanoutError.
	ErrPartialFanout = errors.New("partial fan-out")
)

// Fan-out steps that can fail after an earlier write committed.
const (
	StepReadPosts = "read_posts"
	StepBackfill  = "backfill"
	StepPurge     = "purge"
)

// PartialFanoutError reports that an operation's first write committed but
// a later step failed. Nothing is rolled back: the relationship edge exists
// (or is gone) while the actor's timeline has not caught up. Reconciliation
// rebuilds the timeline.
type PartialFanoutError struct {
	Op   string
	Step string
	Err  error
}

func (e *PartialFanoutError) Error() string {
	return fmt.Sprintf("%s: %s failed after the relationship was written: %v", e.Op, e.Step, e.Err)
}

func (e *PartialFanoutError) Unwrap() error { return e.Err }

func (e *PartialFanoutError) Is(target error) bool { return target == ErrPartialFanout }
