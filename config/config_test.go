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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencadc/govos/logging"
	"github.com/opencadc/govos/param"
)

func writeConfig(t *testing.T, contents string) string {
	configFile := filepath.Join(t.TempDir(), "vos-config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(contents), 0600))
	t.Setenv(configFileEnv, configFile)
	return configFile
}

func resetConfig(t *testing.T) {
	param.Reset()
	logging.ResetLogFlush()
	t.Cleanup(func() {
		param.Reset()
		logging.ResetLogFlush()
		log.SetLevel(log.InfoLevel)
	})
}

func TestInitClientDefaults(t *testing.T) {
	resetConfig(t)
	t.Setenv(configFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, InitClient())
	assert.Equal(t, DefaultRegistryURL, param.Client_RegistryURL.GetString())
	assert.Equal(t, 30*time.Second, param.Client_RetryDelay.GetDuration())
	assert.Equal(t, 128*time.Second, param.Client_MaxRetryDelay.GetDuration())
	assert.Equal(t, 900*time.Second, param.Client_MaxRetryTime.GetDuration())
	assert.Equal(t, 100, param.Client_JobMaxPolls.GetInt())
	assert.Equal(t, 6*time.Second, param.Client_JobPollWait.GetDuration())
	assert.Equal(t, 3, param.Client_MaxIntermittentRetries.GetInt())
	assert.Equal(t, int64(8*1024*1024), param.Client_BufferSize.GetByteSize())
	assert.Equal(t, log.WarnLevel, log.GetLevel())
}

func TestInitClientFileAndEnv(t *testing.T) {
	resetConfig(t)
	writeConfig(t, `
Logging:
  Level: debug
Client:
  RootNode: vos:alice
  RetryDelay: 5s
  BufferSize: 1MiB
  ResourceAliases:
    arc: ivo://cadc.nrc.ca/arc
`)
	t.Setenv("VOSPACE_CERTFILE", "/tmp/legacy.pem")
	t.Setenv("VOSPACE_WEBSERVICE", "ws.example.org")
	t.Setenv("VOS_CLIENT_WEBSERVICEHOST", "modern.example.org")
	t.Setenv("VOS_CLIENT_MAXRETRIES", "7")

	require.NoError(t, InitClient())
	cfg, err := param.GetUnmarshaledConfig()
	require.NoError(t, err)
	assert.Equal(t, "vos:alice", cfg.Client.RootNode)
	assert.Equal(t, 5*time.Second, cfg.Client.RetryDelay)
	assert.Equal(t, param.ByteSize(1<<20), cfg.Client.BufferSize)
	assert.Equal(t, map[string]string{"arc": "ivo://cadc.nrc.ca/arc"}, cfg.Client.ResourceAliases)
	assert.Equal(t, "/tmp/legacy.pem", cfg.Client.CertFile)
	assert.Equal(t, "modern.example.org", cfg.Client.WebServiceHost)
	assert.Equal(t, 7, cfg.Client.MaxRetries)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestInitClientWarnsAboutUnknownKeys(t *testing.T) {
	resetConfig(t)
	writeConfig(t, `
Client:
  RootNode: vos:alice
  Bogus: 1
Mystery: true
`)
	hook := test.NewGlobal()
	defer hook.Reset()

	require.NoError(t, InitClient())
	var warned []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel {
			warned = append(warned, entry.Message)
		}
	}
	assert.Contains(t, warned, `Unknown configuration key "client.bogus" is ignored`)
	assert.Contains(t, warned, `Unknown configuration key "mystery" is ignored`)
}

func TestInitClientRejectsInvalidValues(t *testing.T) {
	resetConfig(t)
	writeConfig(t, `
Client:
  RetryDelay: 60s
  MaxRetryDelay: 10s
`)
	err := InitClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxRetryDelay")

	resetConfig(t)
	writeConfig(t, `
Client:
  RegistryURL: not a url
`)
	assert.Error(t, InitClient())
}

func TestInitClientRedactsToken(t *testing.T) {
	resetConfig(t)
	t.Setenv(configFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("VOSPACE_TOKEN", "tok-123")

	require.NoError(t, InitClient())
	assert.Equal(t, "tok-123", param.Client_Token.GetString())
	assert.Equal(t, "using <redacted>", logging.Redactor().Redact("using tok-123"))
}

func TestGetTransport(t *testing.T) {
	resetConfig(t)
	ResetTransport()
	defer ResetTransport()
	require.NoError(t, param.MultiSet(map[string]interface{}{
		param.TLSSkipVerify.GetName():                   true,
		param.Transport_MaxIdleConns.GetName():          12,
		param.Transport_ResponseHeaderTimeout.GetName(): "3s",
	}))

	tr := GetTransport()
	require.NotNil(t, tr)
	assert.Same(t, tr, GetTransport())
	assert.Equal(t, 12, tr.MaxIdleConns)
	assert.Equal(t, 3*time.Second, tr.ResponseHeaderTimeout)
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}
