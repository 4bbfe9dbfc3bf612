package connmgr

import (
	"context"
	"sync/atomic"

	"github.com/koustreak/connhub/internal/errs"
)

// run calls fn on its own goroutine and returns its result, or a Timeout
// error as soon as ctx is done, whether or not fn honors ctx.
//
// finish, if non-nil, runs on fn's goroutine once fn returns. abandoned
// reports that the caller had already given up, so finish owns the value.
func run[T any](ctx context.Context, fn func(context.Context) (T, error), finish func(v T, err error, abandoned bool)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	var claimed atomic.Bool

	go func() {
		v, err := fn(ctx)
		won := claimed.CompareAndSwap(false, true)
		if won {
			done <- result{v, err}
		}
		if finish != nil {
			finish(v, err, !won)
		}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		if !claimed.CompareAndSwap(false, true) {
			// fn finished first; its result is on the way.
			r := <-done
			return r.v, r.err
		}
		var zero T
		return zero, timeoutErr(ctx.Err())
	}
}

func timeoutErr(cause error) *errs.Error {
	msg := "operation timed out"
	if cause == context.Canceled {
		msg = "operation cancelled"
	}
	return errs.Wrap(errs.ErrKindTimeout, msg, cause).WithReason(errs.ReasonTimeout)
}
