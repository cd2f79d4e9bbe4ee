// Copyright 2026 The AgencyDesk Authors
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

// Package retry provides a bounded retry policy with linearly increasing delay.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy retries an operation up to Attempts times, waiting Step*n after the
// n-th failure.
type Policy struct {
	Attempts int
	Step     time.Duration
}

// Default is three attempts with 200ms and 400ms between them.
func Default() Policy {
	return Policy{Attempts: 3, Step: 200 * time.Millisecond}
}

// NoDelay returns p with zero wait between attempts.
func (p Policy) NoDelay() Policy {
	p.Step = 0
	return p
}

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linear{step: p.Step}, uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(func() error { return op(ctx) }, b)
}

// linear implements backoff.BackOff with delays step, 2*step, 3*step, ...
type linear struct {
	step time.Duration
	n    int64
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linear) Reset() {
	l.n = 0
}
