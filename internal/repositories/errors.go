package repositories

import (
	"errors"
	"fmt"
)

var (
	ErrPostNotFound  = errors.New("post not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
	// ErrCounterChanged is returned when a counter rewrite lost the race
	// against a concurrent increment.
	ErrCounterChanged = errors.New("counter changed since it was read")
)

// CounterDriftError reports that a primary write committed but the counter
// update that should follow it failed. The counter stays off by Delta until
// reconciliation repairs it.
type CounterDriftError struct {
	// Location names the counter, for example "users/u1/follower_count".
	Location string
	Delta    int64
	Err      error
}

func (e *CounterDriftError) Error() string {
	return fmt.Sprintf("counter %s not adjusted by %+d: %v", e.Location, e.Delta, e.Err)
}

func (e *CounterDriftError) Unwrap() error { return e.Err }
