// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/pmclient/pkg/log"
	"gvisor.dev/pmclient/pkg/sync"
)

// ErrTimeout is returned when a bounded Waiter gives up before the PMU has
// handled the previous request.
var ErrTimeout = errors.New("timed out waiting for PMU")

// Waiter polls a condition until it holds.
type Waiter interface {
	// Wait returns nil once done returns true. Implementations may give up
	// and return an error, in which case done may never have returned true.
	Wait(ctx context.Context, done func() bool) error
}

// spinCheckInterval is the number of polls between clock reads in
// SpinWaiter.
const spinCheckInterval = 1 << 12

// SpinWaiter polls without bound, yielding between polls. It never returns
// an error and ignores ctx: a PMU that stops responding hangs the caller.
type SpinWaiter struct {
	// WarnAfter, if non-zero, logs a rate-limited warning every WarnAfter
	// while the wait continues.
	WarnAfter time.Duration
}

// Wait implements Waiter.Wait.
func (w SpinWaiter) Wait(_ context.Context, done func() bool) error {
	if done() {
		return nil
	}
	var (
		start  = time.Now()
		logger log.Logger
	)
	for polls := 1; !done(); polls++ {
		sync.Goyield()
		if w.WarnAfter == 0 || polls%spinCheckInterval != 0 {
			continue
		}
		if waited := time.Since(start); waited > w.WarnAfter {
			if logger == nil {
				logger = log.BasicRateLimitedLogger(w.WarnAfter)
			}
			logger.Warningf("Still waiting for PMU after %v (%d polls)", waited, polls)
		}
	}
	return nil
}

// BackoffWaiter polls with exponential backoff between attempts and gives up
// after Timeout or when ctx is done.
type BackoffWaiter struct {
	// InitialInterval and MaxInterval bound the delay between polls.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Timeout is the total time to wait. Zero waits until ctx is done.
	Timeout time.Duration
}

var errPending = errors.New("request pending")

// Wait implements Waiter.Wait.
func (w BackoffWaiter) Wait(ctx context.Context, done func() bool) error {
	if done() {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	if w.InitialInterval > 0 {
		b.InitialInterval = w.InitialInterval
	}
	if w.MaxInterval > 0 {
		b.MaxInterval = w.MaxInterval
	}
	b.MaxElapsedTime = w.Timeout
	b.Reset()

	op := func() error {
		if done() {
			return nil
		}
		return errPending
	}
	start := time.Now()
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err == nil {
		return nil
	}
	// The backoff gives up as soon as its next interval would end past the
	// deadline. Wait out the time that is left and poll a last time.
	if ctx.Err() == nil {
		var expired <-chan time.Time
		if w.Timeout > 0 {
			expired = time.After(time.Until(start.Add(w.Timeout)))
		}
		if _, ok := ctx.Deadline(); ok || expired != nil {
			select {
			case <-ctx.Done():
			case <-expired:
			}
		}
	}
	if done() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w after %v", ErrTimeout, w.Timeout)
}
