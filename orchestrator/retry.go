package orchestrator

import (
	"context"
	"time"

	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/types"
)

// retryState carries the explicit retry position of one pipeline step:
// attempts consumed so far and the next delay. Kept as plain state rather
// than recursion so a resumed job restarts cleanly from the persisted step.
type retryState struct {
	attempt int
	budget  int
	delay   time.Duration
	maxWait time.Duration
}

func (o *Orchestrator) newRetryState() *retryState {
	return &retryState{
		budget:  o.cfg.GetRetryAttempts(),
		delay:   o.cfg.GetBackoffInitial(),
		maxWait: o.cfg.GetBackoffMax(),
	}
}

// nextDelay returns the current delay and doubles it up to the cap.
func (r *retryState) nextDelay() time.Duration {
	d := r.delay
	r.delay *= 2
	if r.delay > r.maxWait {
		r.delay = r.maxWait
	}
	return d
}

// exhausted reports whether the transient budget is used up.
func (r *retryState) exhausted() bool {
	return r.attempt >= r.budget
}

// withRetries runs fn with a fresh per-call timeout until it succeeds, fails
// terminally, or the transient budget runs out. Only transient failures are
// retried; Rejected, NotFound, AlreadySatisfied and InvariantViolation all
// propagate to the caller on the first occurrence.
func (o *Orchestrator) withRetries(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	rs := o.newRetryState()
	for {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if types.ClassOf(err) != types.ClassTransient {
			return err
		}
		rs.attempt++
		if rs.exhausted() {
			logging.Logger.Errorf("%s failed after %d attempts, err=%s", op, rs.attempt, err.Error())
			return err
		}
		wait := rs.nextDelay()
		logging.Logger.Infof("%s attempt %d failed, retrying in %s, err=%s", op, rs.attempt, wait, err.Error())
		select {
		case <-ctx.Done():
			return types.Transient(ctx.Err())
		case <-time.After(wait):
		}
	}
}
