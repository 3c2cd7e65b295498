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
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/opencadc/govos/vos_url"
)

var mvCmd = &cobra.Command{
	Use:   "mv {src} {dest}",
	Short: "Move or rename a node",
	Long: `Move a node within a service, or move a file between the local file
system and VOSpace.  A move across the two is a copy followed by removal of
the source.`,
	Args: cobra.ExactArgs(2),
	RunE: moveMain,
}

func init() {
	rootCmd.AddCommand(mvCmd)
}

func moveMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, dest := args[0], args[1]
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	if vos_url.IsRemote(src) && vos_url.IsRemote(dest) {
		return vos.Move(ctx, src, dest)
	}
	if _, err := vos.Copy(ctx, src, dest); err != nil {
		return err
	}
	if vos_url.IsRemote(src) {
		return vos.Delete(ctx, src)
	}
	return errors.Wrapf(os.Remove(src), "copied %s but failed to remove it", src)
}
