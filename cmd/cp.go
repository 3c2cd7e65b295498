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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/vos_url"
)

type copyReport struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
}

var (
	cpHead     bool
	cpParallel int

	cpCmd = &cobra.Command{
		Use:   "cp {src} [{src} ...] {dest}",
		Short: "Copy files to and from VOSpace",
		Long: `Copy files between the local file system and VOSpace.  Exactly one
side of each copy must be a node.  With more than one source the
destination must be a container or directory.`,
		Args: cobra.MinimumNArgs(2),
		RunE: copyMain,
	}
)

func init() {
	cpCmd.Flags().BoolVar(&cpHead, "head", false, "Copy only the FITS header of each file")
	cpCmd.Flags().IntVarP(&cpParallel, "parallel", "j", 4, "Number of files copied at once")
	rootCmd.AddCommand(cpCmd)
}

// expandSources resolves wildcards on either side of the copy.
func expandSources(ctx context.Context, vos *client.Client, args []string) ([]string, error) {
	var sources []string
	for _, arg := range args {
		if !vos_url.HasMagic(arg) {
			sources = append(sources, arg)
			continue
		}
		var matches []string
		var err error
		if vos_url.IsRemote(arg) {
			matches, err = vos.Glob(ctx, arg)
		} else {
			matches, err = filepath.Glob(arg)
		}
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, error_codes.New(error_codes.KindNotFound, arg, "%s: no such file or directory", arg)
		}
		sources = append(sources, matches...)
	}
	return sources, nil
}

// sourceSize is the expected size for the progress bar, 0 when unknown.
func sourceSize(ctx context.Context, vos *client.Client, src string) int64 {
	if vos_url.IsRemote(src) {
		size, err := vos.Size(ctx, src)
		if err != nil {
			return 0
		}
		return size
	}
	if info, err := os.Stat(src); err == nil {
		return info.Size()
	}
	return 0
}

func copyMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	dest := args[len(args)-1]
	sources, err := expandSources(ctx, vos, args[:len(args)-1])
	if err != nil {
		return err
	}
	if len(sources) > 1 {
		isDir := false
		if vos_url.IsRemote(dest) {
			if isDir, err = vos.IsDir(ctx, dest); err != nil {
				return err
			}
		} else if info, statErr := os.Stat(dest); statErr == nil {
			isDir = info.IsDir()
		}
		if !isDir {
			return error_codes.New(error_codes.KindBadRequest, dest, "%s is not a directory", dest)
		}
	}

	var pb *progressBars
	if showProgress() {
		pb = newProgressBars()
		pb.launchDisplay(ctx)
	}

	var (
		lock     sync.Mutex
		reports  = make([]copyReport, len(sources))
		failed   atomic.Int64
		moved    atomic.Int64
		firstErr error
	)
	egrp, egrpCtx := errgroup.WithContext(ctx)
	if cpParallel < 1 {
		cpParallel = 1
	}
	egrp.SetLimit(cpParallel)
	for idx, src := range sources {
		egrp.Go(func() error {
			report := copyReport{Source: src, Destination: dest}
			var opts []client.CopyOption
			if cpHead {
				opts = append(opts, client.WithHead())
			}
			size := int64(0)
			if pb != nil {
				size = sourceSize(egrpCtx, vos, src)
				opts = append(opts, client.WithProgress(pb.tracker(src, size)))
			}
			result, err := vos.Copy(egrpCtx, src, dest, opts...)
			if pb != nil {
				pb.finish(src, size, err)
			}
			if err != nil {
				failed.Inc()
				report.Error = err.Error()
				log.Errorf("Failed to copy %s: %v", src, err)
				lock.Lock()
				if firstErr == nil {
					firstErr = err
				}
				lock.Unlock()
			} else {
				moved.Add(result.Size)
				report.Destination = result.Filename
				report.Size = result.Size
				report.MD5 = result.MD5
				report.Skipped = result.Skipped
				if result.Skipped {
					log.Infof("%s is unchanged at %s, not copied", src, result.Filename)
				}
			}
			reports[idx] = report
			// Remaining files still copy after a failure.
			return nil
		})
	}
	_ = egrp.Wait()
	if pb != nil {
		pb.shutdown()
	}

	if outputJSON {
		encoded, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	}
	log.Debugf("Copied %d bytes in %d files, %d failed", moved.Load(), len(sources)-int(failed.Load()), failed.Load())
	if n := failed.Load(); n > 1 {
		return error_codes.Wrap(error_codes.KindOf(firstErr), dest, firstErr, "%d of %d copies failed", n, len(sources))
	}
	return firstErr
}
