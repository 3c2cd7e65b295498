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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencadc/govos/error_codes"
)

// TestErrorAccum tests simple adding and removing from the accumulator
func TestErrorAccum(t *testing.T) {
	te := NewTransferErrors()
	assert.Equal(t, "transfer error unknown", te.Error())
	assert.Nil(t, te.Last())

	te.AddError("https://a/x", errors.New("error1"))
	te.AddError("https://b/x", errors.New("error2"))

	errStr := te.UserError()
	assert.Regexp(t, `Attempt\ \#2:\ error2\ \(0s\ elapsed,\ [0-9]+m?s\ since\ start\);\ Attempt\ \#1:\ error1\ \([0-9]+m?s\ since\ start\)`, errStr)
	assert.Equal(t, "transfer errors: [error1, error2]", te.Error())
	assert.EqualError(t, te.Last(), "error2")
	assert.Equal(t, 1, te.TriesFor("https://a/x"))
	assert.Equal(t, 2, te.Len())
}

func TestErrorsRetryable(t *testing.T) {
	te := NewTransferErrors()
	assert.True(t, te.AllErrorsRetryable(), "no errors counts as retryable")

	te.AddError("u", error_codes.New(error_codes.KindTransient, "u", "busy"))
	te.AddError("u", error_codes.New(error_codes.KindTimeout, "u", "slow"))
	assert.True(t, te.AllErrorsRetryable())

	te.AddError("u", error_codes.New(error_codes.KindNotFound, "u", "gone"))
	assert.False(t, te.AllErrorsRetryable())
	assert.Equal(t, error_codes.KindNotFound, te.Kind())
	assert.True(t, errors.Is(te, error_codes.ErrTransient), "every attempt stays reachable through Unwrap")
}
