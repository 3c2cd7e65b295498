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

// Package transfer moves bytes to and from a VOSpace service over an
// ordered list of candidate URLs.
//
// A Transfer is a small state machine driven by an explicit loop: a request
// is built against the current candidate, sent, and the response either
// completes the transfer, redirects it, moves it on to the next candidate,
// or (once every candidate has failed) puts it to sleep before restarting
// from the first candidate.  The loop is bounded by the attempt count, the
// cumulative backoff time and the redirect hop count of its RetryPolicy.
package transfer

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/metrics"
)

const (
	HeaderContentLength = "X-CADC-Content-Length"
	HeaderPartialRead   = "X-CADC-Partial-Read"
	HeaderToken         = "X-CADC-DelegationToken"
)

type (
	// Session sends a single HTTP request without following redirects.
	Session interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// Transfer is owned by the caller that opened it and is not safe for
	// concurrent use.
	Transfer struct {
		ctx     context.Context
		session Session
		urls    []string
		method  string
		id      string
		fields  log.Fields

		body        BodyFunc
		bodySize    int64
		header      http.Header
		contentType string
		filename    string
		rangeSpec   string
		partialRead bool
		follow      bool
		policy      RetryPolicy
		sleep       Sleeper
		progress    ProgressFunc

		// Loop state
		index      int
		redirect   string
		hops       int
		attempts   int
		delaySpent time.Duration
		nextDelay  time.Duration
		lastErr    error

		resp     *http.Response
		sent     bool
		closed   bool
		offset   int64
		skip     int64
		size     int64
		md5      string
		respName string
		finalURL string
	}
)

// Open prepares a transfer against urls.  Nothing is sent until the first
// Read, or until Send or Location is called.
func Open(ctx context.Context, session Session, urls []string, method string, opts ...Option) (*Transfer, error) {
	if len(urls) == 0 {
		return nil, error_codes.New(error_codes.KindBadRequest, "", "no URLs to transfer %s", method)
	}
	t := &Transfer{
		ctx:      ctx,
		session:  session,
		urls:     urls,
		method:   method,
		id:       uuid.NewString(),
		header:   make(http.Header),
		bodySize: -1,
		follow:   true,
		policy:   DefaultRetryPolicy(),
		sleep:    sleepContext,
		size:     -1,
	}
	for _, opt := range opts {
		switch opt.Ident() {
		case identOptionBody{}:
			body := opt.Value().([]byte)
			t.body = fixedBody(body)
			t.bodySize = int64(len(body))
		case identOptionBodyFunc{}:
			body := opt.Value().(bodySpec)
			t.body = body.fn
			t.bodySize = body.size
		case identOptionRange{}:
			t.rangeSpec = opt.Value().(string)
		case identOptionPartialRead{}:
			t.partialRead = opt.Value().(bool)
		case identOptionFollow{}:
			t.follow = opt.Value().(bool)
		case identOptionRetryPolicy{}:
			t.policy = opt.Value().(RetryPolicy)
		case identOptionSleeper{}:
			t.sleep = opt.Value().(Sleeper)
		case identOptionHeader{}:
			hdr := opt.Value().(headerSpec)
			t.header.Add(hdr.key, hdr.value)
		case identOptionContentType{}:
			t.contentType = opt.Value().(string)
		case identOptionFilename{}:
			t.filename = opt.Value().(string)
		case identOptionProgress{}:
			t.progress = opt.Value().(ProgressFunc)
		}
	}
	t.nextDelay = t.policy.InitialDelay
	t.fields = log.Fields{"transfer": t.id, "method": method}
	return t, nil
}

func (t *Transfer) currentURL() string {
	if t.redirect != "" {
		return t.redirect
	}
	return t.urls[t.index]
}

// Send runs the request loop until a response is accepted or the transfer
// fails for good.  It is a no-op once a response has been accepted.
func (t *Transfer) Send() error {
	if t.closed {
		return error_codes.New(error_codes.KindIO, t.currentURL(), "transfer is closed")
	}
	if t.sent {
		return nil
	}
	for {
		if err := t.ctx.Err(); err != nil {
			return errors.Wrapf(err, "transfer %s of %s interrupted", t.method, t.currentURL())
		}
		if t.attempts >= t.policy.MaxAttempts {
			return t.exhausted()
		}
		t.attempts++

		target := t.currentURL()
		req, err := t.buildRequest(target)
		if err != nil {
			return err
		}
		log.WithFields(t.fields).Debugf("Sending %s %s (attempt %d)", req.Method, target, t.attempts)
		start := time.Now()
		resp, err := t.session.Do(req)
		metrics.HttpRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.HttpRequestsTotal.WithLabelValues(req.Method, "error").Inc()
			if t.ctx.Err() != nil {
				return errors.Wrapf(t.ctx.Err(), "transfer %s of %s interrupted", t.method, target)
			}
			failure := error_codes.Wrap(error_codes.KindIO, target, err, "request failed")
			if !error_codes.IsRetryable(failure) {
				return failure
			}
			if err := t.retry(failure, nil); err != nil {
				return err
			}
			continue
		}
		metrics.HttpRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			t.accept(target, resp)
			return nil
		case isRedirect(resp.StatusCode):
			done, err := t.handleRedirect(target, resp)
			if err != nil || done {
				return err
			}
			continue
		}

		failure := failureFrom(target, resp)
		if error_codes.IsRetryable(failure) {
			if err := t.retry(failure, resp); err != nil {
				return err
			}
			continue
		}
		switch failure.Kind() {
		case error_codes.KindUnauthorized, error_codes.KindBadRequest:
			return failure
		}
		if t.index+1 < len(t.urls) {
			log.WithFields(t.fields).Debugf("%s failed (%v), trying next URL", target, failure)
			metrics.TransferFailoversTotal.Inc()
			t.lastErr = failure
			t.index++
			t.redirect = ""
			continue
		}
		return failure
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// failureFrom reads (a bounded amount of) the error body and closes resp.
func failureFrom(target string, resp *http.Response) *error_codes.VOSError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return error_codes.FromStatus(resp.StatusCode, target, string(body))
}

// handleRedirect reports done when the redirect response is handed back to
// the caller rather than followed.
func (t *Transfer) handleRedirect(target string, resp *http.Response) (bool, error) {
	location := resp.Header.Get("Location")
	if !t.follow {
		t.accept(target, resp)
		return true, nil
	}
	resp.Body.Close()
	if location == "" {
		return false, error_codes.New(error_codes.KindProtocol, target, "redirect (%d) without a Location", resp.StatusCode).WithStatus(resp.StatusCode)
	}
	if t.hops >= t.policy.MaxRedirects {
		return false, error_codes.New(error_codes.KindProtocol, target, "too many redirects (%d)", t.hops)
	}
	next, err := resolveLocation(target, location)
	if err != nil {
		return false, err
	}
	t.hops++
	metrics.TransferRedirectsTotal.Inc()
	log.WithFields(t.fields).Debugf("Following redirect from %s to %s", target, next)
	t.redirect = next
	switch resp.StatusCode {
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		// The request is repeated as is
	default:
		t.method = http.MethodGet
		t.body = nil
		t.bodySize = -1
		t.rangeSpec = ""
		t.partialRead = false
	}
	return false, nil
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URL %s", base)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", error_codes.Wrap(error_codes.KindProtocol, base, err, "invalid redirect location %s", location)
	}
	return baseURL.ResolveReference(loc).String(), nil
}

// retry moves to the next candidate, or backs off and restarts the list
// when none remain.
func (t *Transfer) retry(failure error, resp *http.Response) error {
	t.lastErr = failure
	t.redirect = ""
	if t.index+1 < len(t.urls) {
		log.WithFields(t.fields).Debugf("%v; trying next URL", failure)
		metrics.TransferFailoversTotal.Inc()
		t.index++
		return nil
	}

	delay, fromHeader := retryAfter(resp)
	if !fromHeader {
		delay = t.nextDelay
		t.nextDelay *= 2
		if t.nextDelay > t.policy.MaxDelay {
			t.nextDelay = t.policy.MaxDelay
		}
	}
	if delay > t.policy.MaxDelay {
		delay = t.policy.MaxDelay
	}
	remaining := t.policy.MaxTotal - t.delaySpent
	if remaining <= 0 {
		return t.exhausted()
	}
	if delay > remaining {
		delay = remaining
	}
	log.WithFields(t.fields).Warningf("%v; retrying in %s", failure, delay)
	metrics.TransferRetriesTotal.Inc()
	if err := t.sleep(t.ctx, delay); err != nil {
		return errors.Wrapf(err, "transfer %s interrupted during backoff", t.currentURL())
	}
	t.delaySpent += delay
	t.index = 0
	return nil
}

func (t *Transfer) exhausted() error {
	metrics.TransferExhaustedTotal.Inc()
	return error_codes.Wrap(error_codes.KindExhausted, t.urls[0], t.lastErr,
		"failed to connect to server after %d attempts (%s spent waiting)", t.attempts, t.delaySpent)
}

// retryAfter reads a Retry-After header given in seconds or as a date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}

// accept records the response that completes the request loop.
func (t *Transfer) accept(target string, resp *http.Response) {
	t.resp = resp
	t.sent = true
	t.finalURL = target
	t.size = resp.ContentLength
	if t.size < 0 {
		if alt, err := strconv.ParseInt(resp.Header.Get(HeaderContentLength), 10, 64); err == nil {
			t.size = alt
		}
	}
	t.md5 = responseMD5(resp.Header)
	t.respName = dispositionFilename(resp.Header.Get("Content-Disposition"))
	log.WithFields(t.fields).Debugf("%s %s accepted with status %d", t.method, target, resp.StatusCode)
}

// Read reads the response body, sending the request first if needed.  A
// connection dropped mid-body is resumed with a Range request so the read
// position only ever moves forward.
func (t *Transfer) Read(p []byte) (int, error) {
	if err := t.Send(); err != nil {
		return 0, err
	}
	for {
		if t.skip > 0 {
			if err := t.discard(); err != nil {
				return 0, err
			}
		}
		n, err := t.resp.Body.Read(p)
		t.offset += int64(n)
		if n > 0 {
			metrics.HttpBytesTotal.WithLabelValues(metrics.DirectionIn).Add(float64(n))
			if t.progress != nil {
				t.progress(t.offset)
			}
		}
		if err == nil || err == io.EOF {
			return n, err
		}
		if n > 0 {
			// Hand back what arrived; the failure resurfaces on the next call
			return n, nil
		}
		if !t.resumable(err) {
			return n, error_codes.Wrap(error_codes.KindIO, t.finalURL, err, "read failed")
		}
		if rerr := t.resume(err); rerr != nil {
			return 0, rerr
		}
	}
}

func (t *Transfer) resumable(err error) bool {
	return t.method == http.MethodGet && t.rangeSpec == "" && error_codes.IsRetryable(err)
}

func (t *Transfer) resume(cause error) error {
	log.WithFields(t.fields).Warningf("Read of %s failed at offset %d (%v); resuming", t.finalURL, t.offset, cause)
	t.resp.Body.Close()
	t.resp = nil
	t.sent = false
	if err := t.retry(error_codes.Wrap(error_codes.KindIO, t.finalURL, cause, "read failed"), nil); err != nil {
		return err
	}
	t.rangeSpec = "bytes=" + strconv.FormatInt(t.offset, 10) + "-"
	if err := t.Send(); err != nil {
		return err
	}
	t.rangeSpec = ""
	if t.resp.StatusCode != http.StatusPartialContent {
		// The service ignored the range; skip what was already read
		t.skip = t.offset
	}
	return nil
}

func (t *Transfer) discard() error {
	_, err := io.CopyN(io.Discard, t.resp.Body, t.skip)
	if err != nil {
		return error_codes.Wrap(error_codes.KindIO, t.finalURL, err, "failed to skip to offset %d", t.skip)
	}
	t.skip = 0
	return nil
}

// Write is not supported; uploads go through Copy.
func (t *Transfer) Write(p []byte) (int, error) {
	return 0, error_codes.New(error_codes.KindUnsupported, t.currentURL(), "direct write to a transfer is not supported, use copy instead")
}

// Seek positions the read before the request is sent by turning the offset
// into a Range.  After the request is sent only a seek to the current
// position is accepted.
func (t *Transfer) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = t.offset + offset
	default:
		return t.offset, error_codes.New(error_codes.KindUnsupported, t.currentURL(), "unsupported seek whence %d", whence)
	}
	if target < 0 {
		return t.offset, error_codes.New(error_codes.KindBadRequest, t.currentURL(), "negative seek offset %d", target)
	}
	if target == t.offset {
		return t.offset, nil
	}
	if t.sent {
		return t.offset, error_codes.New(error_codes.KindUnsupported, t.currentURL(), "cannot seek once the transfer has started")
	}
	t.offset = target
	t.rangeSpec = "bytes=" + strconv.FormatInt(target, 10) + "-"
	return t.offset, nil
}

// Location sends the request and returns the redirect target of the
// response.  It is meant for transfers opened with redirects disabled.
func (t *Transfer) Location() (string, error) {
	if err := t.Send(); err != nil {
		return "", err
	}
	if !isRedirect(t.resp.StatusCode) {
		return "", error_codes.New(error_codes.KindProtocol, t.finalURL, "expected a redirect, got status %d", t.resp.StatusCode).WithStatus(t.resp.StatusCode)
	}
	location := t.resp.Header.Get("Location")
	if location == "" {
		return "", error_codes.New(error_codes.KindProtocol, t.finalURL, "redirect without a Location").WithStatus(t.resp.StatusCode)
	}
	return resolveLocation(t.finalURL, location)
}

// ReadAll sends the request and returns the whole response body.
func (t *Transfer) ReadAll() ([]byte, error) {
	defer t.Close()
	return io.ReadAll(t)
}

func (t *Transfer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.resp != nil {
		return t.resp.Body.Close()
	}
	return nil
}

// StatusCode of the accepted response, 0 before one is accepted.
func (t *Transfer) StatusCode() int {
	if t.resp == nil {
		return 0
	}
	return t.resp.StatusCode
}

func (t *Transfer) Header() http.Header {
	if t.resp == nil {
		return nil
	}
	return t.resp.Header
}

// Size is the object size advertised by the service, -1 when unknown.
func (t *Transfer) Size() int64 {
	return t.size
}

// MD5 is the hex checksum advertised by the service, "" when unknown.
func (t *Transfer) MD5() string {
	return t.md5
}

// Filename is the name from Content-Disposition, "" when not given.
func (t *Transfer) Filename() string {
	return t.respName
}

// URL is the URL that produced the accepted response.
func (t *Transfer) URL() string {
	return t.finalURL
}

func (t *Transfer) Offset() int64 {
	return t.offset
}

// ID identifies the transfer in log messages.
func (t *Transfer) ID() string {
	return t.id
}
