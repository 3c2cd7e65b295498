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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// BufferedLogHook buffers log entries until they are flushed
type BufferedLogHook struct {
	mu      sync.Mutex
	entries []*log.Entry
	flushed atomic.Bool
}

var (
	bufferedHook atomic.Pointer[BufferedLogHook]
	flushOnce    sync.Once
	logFHandle   *os.File
)

// ResetLogFlush lets unit tests run Setup more than once.
func ResetLogFlush() {
	flushOnce = sync.Once{}
	bufferedHook.Store(nil)
}

func NewBufferedLogHook() *BufferedLogHook {
	return &BufferedLogHook{
		entries: make([]*log.Entry, 0),
	}
}

// Fire is called on every log entry
func (hook *BufferedLogHook) Fire(entry *log.Entry) error {
	if hook.flushed.Load() {
		return nil
	}
	hook.mu.Lock()
	hook.entries = append(hook.entries, entry)
	hook.mu.Unlock()
	return nil
}

func (hook *BufferedLogHook) Levels() []log.Level {
	return log.AllLevels
}

// SetupLogBuffering discards output and keeps entries in memory until Setup
// decides where they should go.  The CLI calls it before the configuration
// (and so the log location) is known.
func SetupLogBuffering() {
	log.SetOutput(io.Discard)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})

	hook := NewBufferedLogHook()
	if bufferedHook.CompareAndSwap(nil, hook) {
		log.AddHook(hook)
	}
}

// Setup applies the log level and destination and writes out anything
// buffered since SetupLogBuffering.  An empty location logs to stderr.
func Setup(level string, location string) error {
	if level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
		log.SetLevel(parsed)
	}

	var setupErr error
	flushOnce.Do(func() {
		if location != "" {
			if dir := filepath.Dir(location); dir != "" {
				if err := os.MkdirAll(dir, 0750); err != nil {
					setupErr = errors.Wrap(err, "failed to access/create specified directory")
					return
				}
			}
			f, err := os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
			if err != nil {
				setupErr = errors.Wrap(err, "failed to access specified log file")
				return
			}
			logFHandle = f
			log.SetOutput(f)
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp:          true,
				DisableColors:          true,
				DisableLevelTruncation: true,
			})
		} else {
			log.SetOutput(os.Stderr)
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp:          true,
				ForceColors:            term.IsTerminal(int(os.Stderr.Fd())),
				DisableLevelTruncation: true,
			})
		}
		flushBuffered()
	})
	return setupErr
}

func flushBuffered() {
	hook := bufferedHook.Load()
	if hook == nil || hook.flushed.Swap(true) {
		return
	}
	hook.mu.Lock()
	entries := hook.entries
	hook.entries = nil
	hook.mu.Unlock()

	for _, entry := range entries {
		if !log.IsLevelEnabled(entry.Level) {
			continue
		}
		if formatted, err := entry.String(); err == nil {
			_, _ = log.StandardLogger().Out.Write([]byte(formatted))
		}
	}

	// Drop the buffer hook but keep redaction in place
	hooks := make(log.LevelHooks)
	for level, levelHooks := range log.StandardLogger().Hooks {
		for _, h := range levelHooks {
			if h != hook {
				hooks[level] = append(hooks[level], h)
			}
		}
	}
	log.StandardLogger().ReplaceHooks(hooks)

	if out, ok := log.StandardLogger().Out.(*os.File); ok {
		_ = out.Sync()
	}
}

// CloseLogger closes the log file opened by Setup.  Tests use it to clean
// up; production code lets the process exit close it.
func CloseLogger() {
	if logFHandle != nil {
		if err := logFHandle.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to close log file:", err)
		}
		logFHandle = nil
	}
}
