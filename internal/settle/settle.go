// Package settle waits for an external state change to become observable.
//
// Backends launch detached processes and reload daemons whose exit status
// says nothing about whether the forward is actually up. Every
// verify-after-mutate step polls the observable state through Until instead.
package settle

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	DefaultTimeout  = 200 * time.Millisecond
	DefaultInterval = 50 * time.Millisecond
)

// Options bounds a settle loop.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Defaults returns the short window used after launching or killing a forward.
func Defaults() Options {
	return Options{Timeout: DefaultTimeout, Interval: DefaultInterval}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Interval > o.Timeout {
		o.Interval = o.Timeout
	}
	return o
}

// Check observes the system once and reports whether the expected state holds.
type Check func(ctx context.Context) bool

// Until evaluates check immediately and then every interval until it holds or
// the timeout elapses. It returns true as soon as check holds. The check is
// always evaluated at least once, and once more at the deadline, so a state
// that becomes true exactly at expiry is still observed.
func Until(ctx context.Context, check Check, opts Options) bool {
	opts = opts.withDefaults()

	err := wait.PollUntilContextTimeout(ctx, opts.Interval, opts.Timeout, true,
		func(ctx context.Context) (bool, error) {
			return check(ctx), nil
		})
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return false
	}
	// Final observation after the deadline.
	return check(context.WithoutCancel(ctx))
}
