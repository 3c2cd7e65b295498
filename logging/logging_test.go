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

package logging

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	hook := &RedactHook{}
	hook.AddSecret("s3cr3t")
	hook.AddSecret("")

	assert.Equal(t, "X-CADC-DelegationToken: <redacted>", hook.Redact("X-CADC-DelegationToken: abc.def"))
	assert.Equal(t, `map[X-Cadc-Delegationtoken:[<redacted>]]`, hook.Redact(`map[X-Cadc-Delegationtoken:[abc]]`))
	assert.Equal(t, "token is <redacted>!", hook.Redact("token is s3cr3t!"))
	assert.Equal(t, "nothing to hide", hook.Redact("nothing to hide"))
}

func TestRedactHookOnLogger(t *testing.T) {
	logger := log.New()
	logger.Out = io.Discard
	hook := &RedactHook{}
	hook.AddSecret("s3cr3t")
	logger.AddHook(hook)
	// Registered after the redactor so it captures the scrubbed entry
	capture := test.NewLocal(logger)

	logger.WithFields(log.Fields{
		"header": "X-CADC-DelegationToken=s3cr3t",
		"err":    errors.New("bad token s3cr3t"),
		"count":  3,
	}).Info("sending s3cr3t")

	entry := capture.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "sending <redacted>", entry.Message)
	assert.Equal(t, "X-CADC-DelegationToken=<redacted>", entry.Data["header"])
	assert.Equal(t, "bad token <redacted>", entry.Data["err"])
	assert.Equal(t, 3, entry.Data["count"])
}

func TestSetupFlushesToFile(t *testing.T) {
	ResetLogFlush()
	defer ResetLogFlush()
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)

	SetupLogBuffering()
	log.Warningln("buffered before setup")

	location := filepath.Join(t.TempDir(), "logs", "vos.log")
	require.NoError(t, Setup("debug", location))
	defer CloseLogger()
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.Debugln("written after setup")

	contents, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "buffered before setup")
	assert.Contains(t, string(contents), "written after setup")
}

func TestSetupRejectsBadLevel(t *testing.T) {
	assert.Error(t, Setup("chatty", ""))
}
