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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opencadc/govos/config"
	"github.com/opencadc/govos/param"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the client configuration",
	}

	configPrintCmd = &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  configPrint,
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the location of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
			return nil
		},
	}
)

func init() {
	configCmd.AddCommand(configPrintCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// configPrint dumps the decoded configuration with secrets removed.
func configPrint(cmd *cobra.Command, _ []string) error {
	cfg, err := param.GetUnmarshaledConfig()
	if err != nil {
		return err
	}
	printed := *cfg
	if printed.Client.Token != "" {
		printed.Client.Token = "REDACTED"
	}
	encoded, err := yaml.Marshal(printed)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(encoded))
	return nil
}
