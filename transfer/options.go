/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package transfer

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/lestrrat-go/option"

	"github.com/opencadc/govos/param"
)

type (
	Option = option.Interface

	identOptionBody        struct{}
	identOptionBodyFunc    struct{}
	identOptionRange       struct{}
	identOptionPartialRead struct{}
	identOptionFollow      struct{}
	identOptionRetryPolicy struct{}
	identOptionSleeper     struct{}
	identOptionHeader      struct{}
	identOptionContentType struct{}
	identOptionFilename    struct{}
	identOptionProgress    struct{}

	// BodyFunc returns a fresh reader over the request body.  It is called
	// once per attempt so retries resend the whole body.
	BodyFunc func() (io.ReadCloser, error)

	// Sleeper blocks for d or until ctx is done.
	Sleeper func(ctx context.Context, d time.Duration) error

	// ProgressFunc is told the number of body bytes moved so far.
	ProgressFunc func(transferred int64)

	// RetryPolicy bounds the retry loop of a transfer.
	RetryPolicy struct {
		InitialDelay time.Duration
		MaxDelay     time.Duration
		MaxTotal     time.Duration
		MaxAttempts  int
		MaxRedirects int
	}

	bodySpec struct {
		fn   BodyFunc
		size int64
	}

	headerSpec struct {
		key   string
		value string
	}
)

const (
	defaultRetryDelay    = 30 * time.Second
	defaultMaxRetryDelay = 128 * time.Second
	defaultMaxRetryTime  = 900 * time.Second
	defaultMaxRetries    = 10000
	defaultMaxRedirects  = 10
)

// DefaultRetryPolicy reads the Client.* retry settings, falling back to the
// service's documented defaults for anything unset.
func DefaultRetryPolicy() RetryPolicy {
	policy := RetryPolicy{
		InitialDelay: param.Client_RetryDelay.GetDuration(),
		MaxDelay:     param.Client_MaxRetryDelay.GetDuration(),
		MaxTotal:     param.Client_MaxRetryTime.GetDuration(),
		MaxAttempts:  param.Client_MaxRetries.GetInt(),
		MaxRedirects: param.Client_MaxRedirects.GetInt(),
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = defaultRetryDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultMaxRetryDelay
	}
	if policy.MaxTotal <= 0 {
		policy.MaxTotal = defaultMaxRetryTime
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxRetries
	}
	if policy.MaxRedirects <= 0 {
		policy.MaxRedirects = defaultMaxRedirects
	}
	return policy
}

// WithBody sends a fixed body.
func WithBody(body []byte) Option {
	return option.New(identOptionBody{}, body)
}

// WithBodyFunc streams the body from fn; a negative size means the length
// is not known and the body is sent chunked.
func WithBodyFunc(fn BodyFunc, size int64) Option {
	return option.New(identOptionBodyFunc{}, bodySpec{fn: fn, size: size})
}

// WithRange requests part of the object; value is a Range header value such
// as "bytes=0-1023".
func WithRange(value string) Option {
	return option.New(identOptionRange{}, value)
}

// WithPartialRead tells the service the caller may not read the whole
// object.
func WithPartialRead() Option {
	return option.New(identOptionPartialRead{}, true)
}

// WithFollowRedirects controls whether 302/303 responses are followed (the
// default) or handed back for the caller to inspect with Location.
func WithFollowRedirects(follow bool) Option {
	return option.New(identOptionFollow{}, follow)
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return option.New(identOptionRetryPolicy{}, policy)
}

// WithSleeper replaces the backoff sleep; tests use it to avoid waiting.
func WithSleeper(sleeper Sleeper) Option {
	return option.New(identOptionSleeper{}, sleeper)
}

func WithHeader(key, value string) Option {
	return option.New(identOptionHeader{}, headerSpec{key: key, value: value})
}

func WithContentType(contentType string) Option {
	return option.New(identOptionContentType{}, contentType)
}

// WithFilename names the object being uploaded, for content type guessing.
func WithFilename(name string) Option {
	return option.New(identOptionFilename{}, name)
}

func WithProgress(fn ProgressFunc) Option {
	return option.New(identOptionProgress{}, fn)
}

func fixedBody(body []byte) BodyFunc {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
