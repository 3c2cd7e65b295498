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

package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/opencadc/govos/error_codes"
)

type (
	TimestampedError struct {
		err       error
		url       string
		timestamp time.Time
	}

	// A container for the per-URL failures of one copy.
	TransferErrors struct {
		start  time.Time
		errors []error
	}
)

func (te *TimestampedError) Error() string {
	return te.err.Error()
}

func (te *TimestampedError) Unwrap() error {
	return te.err
}

func NewTransferErrors() *TransferErrors {
	return &TransferErrors{
		start:  time.Now(),
		errors: make([]error, 0),
	}
}

// AddError records a failed attempt against target.
func (te *TransferErrors) AddError(target string, err error) {
	te.AddPastError(target, err, time.Now())
}

func (te *TransferErrors) AddPastError(target string, err error, timestamp time.Time) {
	if err != nil {
		te.errors = append(te.errors, &TimestampedError{err: err, url: target, timestamp: timestamp})
	}
}

func (te *TransferErrors) Len() int {
	return len(te.errors)
}

func (te *TransferErrors) Unwrap() []error {
	return te.errors
}

// Last returns the most recent failure, nil when there is none.
func (te *TransferErrors) Last() error {
	if len(te.errors) == 0 {
		return nil
	}
	return te.errors[len(te.errors)-1].(*TimestampedError).err
}

// Kind is the kind of the most recent failure.
func (te *TransferErrors) Kind() error_codes.Kind {
	return error_codes.KindOf(te.Last())
}

func (te *TransferErrors) Error() string {
	if len(te.errors) == 0 {
		return "transfer error unknown"
	}
	if len(te.errors) == 1 {
		return "transfer error: " + te.errors[0].Error()
	}
	msgs := make([]string, len(te.errors))
	for idx, err := range te.errors {
		msgs[idx] = err.Error()
	}
	return "transfer errors: [" + strings.Join(msgs, ", ") + "]"
}

// UserError lists the attempts newest first with their timing.
func (te *TransferErrors) UserError() string {
	lastError := te.start
	formatted := make([]string, 0, len(te.errors))
	for idx, err := range te.errors {
		theError := err.(*TimestampedError)
		var errFmt string
		if len(te.errors) > 1 {
			errFmt = fmt.Sprintf("Attempt #%v: %s", idx+1, theError.err.Error())
		} else {
			errFmt = theError.err.Error()
		}
		elapsed := theError.timestamp.Sub(lastError).Truncate(100 * time.Millisecond)
		if idx == 0 {
			errFmt += fmt.Sprintf(" (%s since start)", elapsed)
		} else {
			sinceStart := theError.timestamp.Sub(te.start).Truncate(100 * time.Millisecond)
			errFmt += fmt.Sprintf(" (%s elapsed, %s since start)", elapsed, sinceStart)
		}
		lastError = theError.timestamp
		formatted = append(formatted, errFmt)
	}
	for i, j := 0, len(formatted)-1; i < j; i, j = i+1, j-1 {
		formatted[i], formatted[j] = formatted[j], formatted[i]
	}
	return strings.Join(formatted, "; ")
}

// AllErrorsRetryable is true when every recorded failure was intermittent.
// If no errors are present, then returns true.
func (te *TransferErrors) AllErrorsRetryable() bool {
	for _, err := range te.errors {
		if !error_codes.IsRetryable(err) {
			return false
		}
	}
	return true
}

// TriesFor counts the attempts recorded against target.
func (te *TransferErrors) TriesFor(target string) int {
	count := 0
	for _, err := range te.errors {
		if err.(*TimestampedError).url == target {
			count++
		}
	}
	return count
}
