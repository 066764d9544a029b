package store

import (
	"context"
	"fmt"
	"time"
)

// tryLocker is a non-blocking, session-scoped lock attempt.
type tryLocker interface {
	TryLock(ctx context.Context, key int64) (bool, error)
}

// sessionLocker takes Postgres session advisory locks on one connection. The
// lock lives until pg_advisory_unlock or the end of the session.
type sessionLocker struct {
	q Querier
}

func (l sessionLocker) TryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	if err := l.q.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("try advisory lock %d: %w", key, err)
	}
	return ok, nil
}

// waitForLock polls l every interval until it gets key, timeout elapses or ctx
// is done. It returns how long it waited.
func waitForLock(ctx context.Context, l tryLocker, key int64, timeout, interval time.Duration) (time.Duration, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		ok, err := l.TryLock(ctx, key)
		if err != nil {
			return time.Since(start), err
		}
		if ok {
			return time.Since(start), nil
		}
		if !time.Now().Before(deadline) {
			return time.Since(start), fmt.Errorf("%w: key %d not acquired within %s", ErrLockTimeout, key, timeout)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}
	}
}
