package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ValentinKolb/wBridge/rpc/common"
)

// initialBackoff is the wait before the first resend, it doubles for every further attempt
const initialBackoff = 50 * time.Millisecond

// backoff returns the wait before resend number attempt (0 based) with a jitter of +-10%
func backoff(attempt int) time.Duration {
	d := float64(initialBackoff<<attempt) * (0.9 + 0.2*rand.Float64())
	return time.Duration(d)
}

// wait sleeps for the backoff of attempt or until ctx is done
func wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(backoff(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *rpcClientAdapter) retryCount() int {
	return max(0, a.config.RetryCount)
}

// retryIdempotent runs call and sends it again as long as it fails with a transient error,
// at most retryCount extra times. Classified server errors are returned as they are.
// When all attempts fail the last error is returned.
func (a *rpcClientAdapter) retryIdempotent(ctx context.Context, route string, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil || !common.IsTransient(err) {
			return err
		}
		if attempt >= a.retryCount() {
			Logger.Warningf("%s failed after %d attempts: %v", route, attempt+1, err)
			return err
		}

		Logger.Debugf("%s attempt %d/%d failed: %v", route, attempt+1, a.retryCount()+1, err)
		if werr := wait(ctx, attempt); werr != nil {
			return werr
		}
		common.IncRetries(route)
	}
}

// retryDelete is retryIdempotent for deletes. When an earlier attempt may have reached
// the server, a later not-found means that attempt already deleted the object.
func (a *rpcClientAdapter) retryDelete(ctx context.Context, route string, call func() error) error {
	ambiguous := false
	return a.retryIdempotent(ctx, route, func() error {
		err := call()
		if ambiguous && errors.Is(err, common.ErrNotFound) {
			Logger.Debugf("%s: not found after an unanswered attempt, treating as deleted", route)
			return nil
		}
		if common.IsAmbiguous(err) {
			ambiguous = true
		}
		return err
	})
}

// retryReconciled runs a call that must not take effect twice.
//
// After a timeout or a lost connection the request may or may not have been applied.
// reconcile then reads the server state and reports whether the effect is present.
// Confirmed means success, otherwise the request is sent again. A full queue means the
// request never left the process, it is sent again without reconciling.
// The number of sends is bounded like retryIdempotent and exhaustion returns the last error.
func (a *rpcClientAdapter) retryReconciled(ctx context.Context, route string, call func() error, reconcile func() (bool, error)) error {
	ambiguous := false
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}

		// a resend conflicting with an earlier attempt that landed after all
		if ambiguous && errors.Is(err, common.ErrAlreadyExists) {
			if confirmed, _ := a.reconcile(route, reconcile); confirmed {
				return nil
			}
			return err
		}
		if !common.IsTransient(err) {
			return err
		}

		if common.IsAmbiguous(err) {
			ambiguous = true
			confirmed, rerr := a.reconcile(route, reconcile)
			switch {
			case confirmed:
				return nil
			case rerr != nil && !common.IsTransient(rerr):
				// e.g. the object to update vanished
				return rerr
			}
		}

		if attempt >= a.retryCount() {
			Logger.Warningf("%s failed after %d attempts: %v", route, attempt+1, err)
			return err
		}

		Logger.Debugf("%s attempt %d/%d failed: %v", route, attempt+1, a.retryCount()+1, err)
		if werr := wait(ctx, attempt); werr != nil {
			return werr
		}
		common.IncRetries(route)
	}
}

// reconcile runs a single reconciliation read and records its outcome
func (a *rpcClientAdapter) reconcile(route string, reconcile func() (bool, error)) (bool, error) {
	confirmed, err := reconcile()
	switch {
	case err != nil:
		Logger.Debugf("%s: reconciliation failed: %v", route, err)
		common.IncReconciliations(route, "failed")
	case confirmed:
		Logger.Debugf("%s: effect of an unanswered attempt confirmed", route)
		common.IncReconciliations(route, "confirmed")
	default:
		common.IncReconciliations(route, "absent")
	}
	return confirmed, err
}
