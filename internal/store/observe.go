package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

const defaultObserveInterval = time.Second

// Subscription delivers the successive values of one location. It is bound
// to the context passed to Observe: cancelling that context or calling Close
// stops the feed and closes the Updates channel.
type Subscription struct {
	updates chan Value
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Updates yields the current value first and then every change.
func (s *Subscription) Updates() <-chan Value {
	return s.updates
}

// Close releases the subscription and waits for its goroutine to exit.
// It is safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Err returns the last read error, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// fetchFn reads p and reports whether it changed since tag.
type fetchFn func(ctx context.Context, tag string) (changed bool, next string, v Value, err error)

// poll drives a subscription by re-reading a location at the limiter's pace.
func poll(ctx context.Context, p paths.Path, limiter *rate.Limiter, fetch fetchFn) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		updates: make(chan Value, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		tag := ""
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			changed, next, v, err := fetch(ctx, tag)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sub.setErr(err)
				logger.Log.Warn("observe_read_failed", zap.String("path", p.String()), zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			tag = next
			select {
			case sub.updates <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub
}

func observeLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		d = defaultObserveInterval
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// Watch observes p and calls fn with every value until ctx ends or fn
// returns an error. The subscription is released on every return path.
func Watch(ctx context.Context, s Store, p paths.Path, fn func(Value) error) error {
	sub, err := s.Observe(ctx, p)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case v, ok := <-sub.Updates():
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := sub.Err(); err != nil {
					return err
				}
				return errors.New("subscription ended")
			}
			if err := fn(v); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
