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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
)

type nodeReport struct {
	URI        string             `json:"uri" yaml:"uri"`
	Type       string             `json:"type" yaml:"type"`
	Target     string             `json:"target,omitempty" yaml:"target,omitempty"`
	Properties map[string]*string `json:"properties" yaml:"properties"`
}

var statCmd = &cobra.Command{
	Use:   "stat {node}",
	Short: "Show the properties of a node",
	Args:  cobra.ExactArgs(1),
	RunE:  statMain,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func statMain(cmd *cobra.Command, args []string) error {
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	n, err := vos.GetNode(cmd.Context(), args[0], client.GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return err
	}
	report := nodeReport{
		URI:        n.URI,
		Type:       n.Type.String(),
		Target:     n.Target,
		Properties: make(map[string]*string),
	}
	for _, prop := range n.Properties() {
		report.Properties[node.CanonicalName(prop.Name)] = prop.Value
	}

	var encoded []byte
	if outputJSON {
		encoded, err = json.MarshalIndent(report, "", "  ")
	} else {
		encoded, err = yaml.Marshal(report)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(encoded))
	if outputJSON {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
