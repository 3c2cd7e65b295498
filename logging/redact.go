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
	"strings"
	"sync"

	"github.com/grafana/regexp"
	log "github.com/sirupsen/logrus"
)

const redacted = "<redacted>"

var tokenHeader = regexp.MustCompile(`(?i)(X-CADC-DelegationToken["']?\s*[:=]\s*\[?["']?)[^\s"'\],]+`)

// RedactHook scrubs delegation tokens from log messages and string fields,
// both as header values and wherever a registered secret appears verbatim.
type RedactHook struct {
	mu      sync.RWMutex
	secrets []string
}

var (
	redactHook     *RedactHook
	redactHookOnce sync.Once
)

// Redactor returns the process-wide hook, installing it on first use.
func Redactor() *RedactHook {
	redactHookOnce.Do(func() {
		redactHook = &RedactHook{}
		log.AddHook(redactHook)
	})
	return redactHook
}

// AddSecret registers a value that must never appear in the logs.
func (hook *RedactHook) AddSecret(secret string) {
	if secret == "" {
		return
	}
	hook.mu.Lock()
	defer hook.mu.Unlock()
	for _, existing := range hook.secrets {
		if existing == secret {
			return
		}
	}
	hook.secrets = append(hook.secrets, secret)
}

func (hook *RedactHook) Redact(msg string) string {
	msg = tokenHeader.ReplaceAllString(msg, "${1}"+redacted)
	hook.mu.RLock()
	defer hook.mu.RUnlock()
	for _, secret := range hook.secrets {
		msg = strings.ReplaceAll(msg, secret, redacted)
	}
	return msg
}

func (hook *RedactHook) Fire(entry *log.Entry) error {
	entry.Message = hook.Redact(entry.Message)
	for key, value := range entry.Data {
		switch v := value.(type) {
		case string:
			entry.Data[key] = hook.Redact(v)
		case error:
			entry.Data[key] = hook.Redact(v.Error())
		}
	}
	return nil
}

func (hook *RedactHook) Levels() []log.Level {
	return log.AllLevels
}
