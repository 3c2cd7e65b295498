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
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opencadc/govos/error_codes"
)

var (
	rmRecursive bool

	rmCmd = &cobra.Command{
		Use:   "rm {node} [{node} ...]",
		Short: "Remove nodes",
		Long: `Remove nodes.  Containers are only removed with -R, which deletes
the whole tree with a job on the service.`,
		Args: cobra.MinimumNArgs(1),
		RunE: removeMain,
	}
)

func init() {
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "R", false, "Delete containers and their contents")
	rootCmd.AddCommand(rmCmd)
}

func removeMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	targets, err := expandSources(ctx, vos, args)
	if err != nil {
		return err
	}
	for _, target := range targets {
		isDir, err := vos.IsDir(ctx, target)
		if err != nil {
			return err
		}
		if !isDir {
			if err := vos.Delete(ctx, target); err != nil {
				return err
			}
			continue
		}
		if !rmRecursive {
			return error_codes.New(error_codes.KindBadRequest, target, "%s is a container, use -R to remove it", target)
		}
		result, err := vos.RecursiveDelete(ctx, target)
		if err != nil {
			return err
		}
		log.Infof("Removed %d nodes under %s", result.Success, target)
		if result.Errors > 0 {
			return error_codes.New(error_codes.KindJobFailed, target, "%d nodes under %s could not be removed", result.Errors, target)
		}
	}
	return nil
}
