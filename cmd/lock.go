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
	"github.com/spf13/cobra"
)

var (
	unlock bool

	lockCmd = &cobra.Command{
		Use:   "lock {node} [{node} ...]",
		Short: "Lock nodes against change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setLocked(cmd, args, !unlock)
		},
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock {node} [{node} ...]",
		Short: "Remove the lock from nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setLocked(cmd, args, false)
		},
	}
)

func init() {
	lockCmd.Flags().BoolVar(&unlock, "unlock", false, "Unlock instead of lock")
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}

func setLocked(cmd *cobra.Command, args []string, locked bool) error {
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()
	for _, arg := range args {
		if err := vos.SetLocked(cmd.Context(), arg, locked); err != nil {
			return err
		}
	}
	return nil
}
