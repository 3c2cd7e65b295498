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

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

type (
	progressStatus struct {
		xfer      int64 // Number of bytes moved
		size      int64 // Total size of the file, 0 when unknown
		completed bool
	}

	progressBar struct {
		progressStatus
		bar *mpb.Bar
	}

	// progressBars redraws one bar per file from the counts reported by
	// the copy callbacks.
	progressBars struct {
		lock   sync.RWMutex
		done   chan bool
		status map[string]progressStatus
		egrp   *errgroup.Group
	}
)

const tickDuration = 200 * time.Millisecond

func newProgressBars() *progressBars {
	return &progressBars{
		done:   make(chan bool),
		status: make(map[string]progressStatus),
	}
}

// showProgress reports whether progress bars make sense for this session.
func showProgress() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && !outputJSON
}

func (pb *progressBars) callback(path string, xfer int64, size int64, completed bool) {
	pb.lock.Lock()
	defer pb.lock.Unlock()
	stat := pb.status[path]
	stat.completed = completed
	if size > 0 {
		stat.size = size
	}
	stat.xfer = xfer
	pb.status[path] = stat
}

// tracker returns the progress callback for a single file.
func (pb *progressBars) tracker(path string, size int64) func(int64) {
	pb.callback(path, 0, size, false)
	return func(xfer int64) {
		pb.callback(path, xfer, size, false)
	}
}

// finish marks a file complete, or drops its bar after a failure.
func (pb *progressBars) finish(path string, size int64, err error) {
	if err != nil {
		pb.lock.Lock()
		delete(pb.status, path)
		pb.lock.Unlock()
		return
	}
	pb.callback(path, size, size, true)
}

func (pb *progressBars) shutdown() {
	if pb.egrp != nil {
		pb.done <- true
		if err := pb.egrp.Wait(); err != nil {
			log.Debugln("Failure to shut down progress bar:", err)
		}
	}
}

func (pb *progressBars) launchDisplay(ctx context.Context) {
	progressCtr := mpb.NewWithContext(ctx)
	log.SetOutput(progressCtr)
	pb.egrp, _ = errgroup.WithContext(ctx)
	log.Debugln("Launch progress bars display")

	pb.egrp.Go(func() error {
		defer func() {
			log.SetOutput(os.Stderr)
			progressCtr.Wait()
		}()

		ticker := time.NewTicker(tickDuration)
		defer ticker.Stop()
		pbMap := make(map[string]*progressBar)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pb.done:
				for path := range pbMap {
					pbMap[path].bar.Abort(false)
					pbMap[path].bar.Wait()
				}
				return nil
			case <-ticker.C:
				pb.redraw(progressCtr, pbMap)
			}
		}
	})
}

// redraw syncs the bars with the latest status.  Bars whose file
// disappeared from the status map are removed.
func (pb *progressBars) redraw(progressCtr *mpb.Progress, pbMap map[string]*progressBar) {
	pb.lock.RLock()
	defer pb.lock.RUnlock()
	for path, current := range pbMap {
		if _, ok := pb.status[path]; !ok {
			current.bar.Abort(true)
			current.bar.Wait()
			delete(pbMap, path)
		}
	}
	for path, newStatus := range pb.status {
		current := pbMap[path]
		if current == nil {
			current = &progressBar{
				bar: progressCtr.AddBar(newStatus.size,
					mpb.PrependDecorators(
						decor.Name(filepath.Base(path), decor.WCSyncSpaceR),
						decor.CountersKibiByte("% .2f / % .2f"),
					),
					mpb.AppendDecorators(
						decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 15), ""),
						decor.OnComplete(decor.Name(" ] "), ""),
						decor.OnComplete(decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 15), "Done!"),
					),
				),
			}
			pbMap[path] = current
		}
		if current.size == 0 && newStatus.size > 0 {
			current.bar.SetTotal(newStatus.size, false)
		}
		if !current.completed {
			current.bar.EwmaSetCurrent(newStatus.xfer, tickDuration)
			if newStatus.completed {
				current.bar.SetTotal(newStatus.xfer, true)
			}
		}
		current.progressStatus = newStatus
	}
}
