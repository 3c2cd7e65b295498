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
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
)

var (
	tagRemove bool

	tagCmd = &cobra.Command{
		Use:   "tag {node} {key[=value]} [{key[=value]} ...]",
		Short: "Set or remove node properties",
		Long: `Set properties on a node.  Keys are property URIs, or the short
names of the core properties.  With --remove the listed keys are deleted
and any value is ignored.`,
		Args: cobra.MinimumNArgs(2),
		RunE: tagMain,
	}
)

func init() {
	tagCmd.Flags().BoolVar(&tagRemove, "remove", false, "Delete the listed properties")
	rootCmd.AddCommand(tagCmd)
}

func tagMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	current, err := vos.GetNode(ctx, args[0], client.GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return err
	}
	update := current.Clone()
	update.ClearProperties()
	for _, arg := range args[1:] {
		key, value, hasValue := strings.Cut(arg, "=")
		if key == "" {
			return error_codes.New(error_codes.KindBadRequest, current.URI, "empty property name in %q", arg)
		}
		switch {
		case tagRemove:
			update.SetProperty(node.PropertyURI(key), nil)
		case !hasValue:
			return error_codes.New(error_codes.KindBadRequest, current.URI, "property %s needs a value", key)
		default:
			update.SetProperty(node.PropertyURI(key), node.Str(value))
		}
	}
	_, err = vos.AddProps(ctx, update, false)
	return err
}
