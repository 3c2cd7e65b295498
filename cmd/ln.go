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

var lnCmd = &cobra.Command{
	Use:   "ln {target} {link}",
	Short: "Create a link node",
	Long: `Create a link node pointing at target, which may be another node or
an external URL.  A link made inside an existing container takes the name
of its target.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vos, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer vos.Close()
		return vos.Link(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(lnCmd)
}
