// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/jllopis/telos/pkg/errors"
)

// WithTimeoutResult executes fn under a deadline, returning both result and
// error. If the deadline is exceeded the attempt is abandoned (the goroutine
// may still run to completion, but its outcome is discarded) and a
// recoverable CodeTimeout error is returned. A zero duration disables the
// deadline.
func WithTimeoutResult(ctx context.Context, d time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value any
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	case res := <-done:
		return res.value, res.err
	}
}
