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

// Package error_codes holds the error taxonomy shared by every layer of the
// VOSpace client.  Errors are *VOSError values carrying a Kind, the URI or
// URL being worked on, the HTTP status (if any) and the server's message
// text.  Callers test for a class of failure with errors.Is against the
// exported sentinels, e.g. errors.Is(err, error_codes.ErrNotFound).
package error_codes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

type Kind int

const (
	KindIO Kind = iota
	KindNotFound
	KindUnauthorized
	KindBadRequest
	KindAlreadyExists
	KindLocked
	KindTimeout
	KindTransient
	KindProtocol
	KindExhausted
	KindUnsupported
	KindJobFailed
	KindChecksumMismatch
)

type VOSError struct {
	kind     Kind
	target   string
	status   int
	msg      string
	err      error
	sentinel bool
}

var (
	ErrIO               = &VOSError{kind: KindIO, sentinel: true}
	ErrNotFound         = &VOSError{kind: KindNotFound, sentinel: true}
	ErrUnauthorized     = &VOSError{kind: KindUnauthorized, sentinel: true}
	ErrBadRequest       = &VOSError{kind: KindBadRequest, sentinel: true}
	ErrAlreadyExists    = &VOSError{kind: KindAlreadyExists, sentinel: true}
	ErrLocked           = &VOSError{kind: KindLocked, sentinel: true}
	ErrTimeout          = &VOSError{kind: KindTimeout, sentinel: true}
	ErrTransient        = &VOSError{kind: KindTransient, sentinel: true}
	ErrProtocol         = &VOSError{kind: KindProtocol, sentinel: true}
	ErrExhausted        = &VOSError{kind: KindExhausted, sentinel: true}
	ErrUnsupported      = &VOSError{kind: KindUnsupported, sentinel: true}
	ErrJobFailed        = &VOSError{kind: KindJobFailed, sentinel: true}
	ErrChecksumMismatch = &VOSError{kind: KindChecksumMismatch, sentinel: true}
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad request"
	case KindAlreadyExists:
		return "already exists"
	case KindLocked:
		return "locked"
	case KindTimeout:
		return "timed out"
	case KindTransient:
		return "transient failure"
	case KindProtocol:
		return "protocol violation"
	case KindExhausted:
		return "retries exhausted"
	case KindUnsupported:
		return "operation not supported"
	case KindJobFailed:
		return "job failed"
	case KindChecksumMismatch:
		return "checksum mismatch"
	default:
		return "I/O error"
	}
}

// Errno returns the filesystem-style error number associated with the kind;
// the CLI uses it to pick process exit codes.
func (k Kind) Errno() syscall.Errno {
	switch k {
	case KindNotFound:
		return syscall.ENOENT
	case KindUnauthorized:
		return syscall.EACCES
	case KindAlreadyExists:
		return syscall.EEXIST
	case KindLocked:
		return syscall.EPERM
	case KindTimeout, KindTransient:
		return syscall.EAGAIN
	case KindBadRequest:
		return syscall.EINVAL
	case KindUnsupported:
		return syscall.ENOTSUP
	case KindExhausted:
		return syscall.ETIMEDOUT
	default:
		return syscall.EIO
	}
}

// New builds an error of the given kind against target (a URI or URL).
func New(kind Kind, target string, format string, args ...interface{}) *VOSError {
	return &VOSError{kind: kind, target: target, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind whose cause is err.
func Wrap(kind Kind, target string, err error, format string, args ...interface{}) *VOSError {
	return &VOSError{kind: kind, target: target, err: err, msg: fmt.Sprintf(format, args...)}
}

// WithStatus records the HTTP status that produced the error.
func (e *VOSError) WithStatus(status int) *VOSError {
	e.status = status
	return e
}

func (e *VOSError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.kind.String())
	if e.target != "" {
		sb.WriteString(": ")
		sb.WriteString(e.target)
	}
	if e.msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.msg)
	}
	if e.err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.err.Error())
	}
	return sb.String()
}

func (e *VOSError) Unwrap() error {
	return e.err
}

// Is matches the kind sentinels; two non-sentinel errors are never equal.
func (e *VOSError) Is(target error) bool {
	t, ok := target.(*VOSError)
	if !ok || !t.sentinel {
		return false
	}
	return t.kind == e.kind
}

func (e *VOSError) Kind() Kind {
	return e.kind
}

func (e *VOSError) Target() string {
	return e.target
}

func (e *VOSError) StatusCode() int {
	return e.status
}

func (e *VOSError) Message() string {
	return e.msg
}

// KindOf returns the kind of the outermost VOSError in the chain, or KindIO
// when err carries none.
func KindOf(err error) Kind {
	var vErr *VOSError
	if errors.As(err, &vErr) {
		return vErr.kind
	}
	return KindIO
}

// FromStatus classifies a non-success HTTP response.  The body is the raw
// response text; HTML markup is stripped before it becomes the message.
func FromStatus(status int, target string, body string) *VOSError {
	msg := StripHTML(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	var kind Kind
	switch status {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindUnauthorized
	case http.StatusBadRequest:
		kind = KindBadRequest
		if strings.Contains(strings.ToLower(msg), "sorting options not supported") {
			kind = KindUnsupported
			msg = "service does not support sorting"
		}
	case http.StatusConflict:
		kind = KindAlreadyExists
	case http.StatusLocked:
		kind = KindLocked
	case http.StatusRequestTimeout:
		kind = KindTimeout
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusPreconditionFailed, http.StatusBadGateway:
		kind = KindTransient
	case http.StatusInternalServerError:
		kind = KindIO
		// Best effort: the service reports its maintenance mode only in the message text
		if strings.Contains(strings.ToLower(msg), "read-only") {
			kind = KindLocked
			msg = "VOSpace in read-only mode"
		}
	default:
		kind = KindIO
	}
	return &VOSError{kind: kind, target: target, status: status, msg: msg}
}

// IsRetryable reports whether an operation that failed with err may succeed
// on another attempt against the same URL.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var vErr *VOSError
	if errors.As(err, &vErr) {
		switch vErr.kind {
		case KindTransient, KindTimeout, KindChecksumMismatch:
			return true
		case KindIO:
			if vErr.err != nil {
				return isTransportFailure(vErr.err)
			}
			return false
		default:
			return false
		}
	}
	return isTransportFailure(err)
}

// isTransportFailure matches the connection-level failures worth retrying.
func isTransportFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "server closed idle connection")
}
