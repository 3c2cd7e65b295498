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

	"github.com/grafana/regexp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
)

var (
	chmodRecursive bool

	modePattern = regexp.MustCompile(`^([og]+)([+-])([rw]+)$`)

	chmodCmd = &cobra.Command{
		Use:   "chmod {mode} {node} [{group} ...]",
		Short: "Change the read and write permissions of a node",
		Long: `Change who may read or write a node.  The mode takes the form
[og][+-][rw]: o+r makes the node public, g+r and g+w grant the listed
groups read or write access, and the - forms revoke them.`,
		Args: cobra.MinimumNArgs(2),
		RunE: chmodMain,
	}
)

func init() {
	chmodCmd.Flags().BoolVarP(&chmodRecursive, "recursive", "R", false, "Apply to every node below a container")
	rootCmd.AddCommand(chmodCmd)
}

// applyMode changes the permission properties of n for one mode string.
func applyMode(n *node.Node, mode string, groups []string) error {
	match := modePattern.FindStringSubmatch(mode)
	if match == nil {
		return error_codes.New(error_codes.KindBadRequest, n.URI, "invalid mode %q, expected [og][+-][rw]", mode)
	}
	who, grant, perms := match[1], match[2] == "+", match[3]
	groupList := ""
	if grant {
		groupList = strings.Join(groups, " ")
	}
	if strings.Contains(who, "g") && grant && groupList == "" {
		return error_codes.New(error_codes.KindBadRequest, n.URI, "mode %s needs at least one group", mode)
	}
	if strings.Contains(who, "o") {
		if strings.Contains(perms, "w") {
			return error_codes.New(error_codes.KindBadRequest, n.URI, "public write access is not supported")
		}
		n.SetPublic(grant)
	}
	if strings.Contains(who, "g") {
		if strings.Contains(perms, "r") {
			if _, err := n.SetGroupRead(groupList); err != nil {
				return error_codes.Wrap(error_codes.KindBadRequest, n.URI, err, "invalid read groups")
			}
		}
		if strings.Contains(perms, "w") {
			if _, err := n.SetGroupWrite(groupList); err != nil {
				return error_codes.Wrap(error_codes.KindBadRequest, n.URI, err, "invalid write groups")
			}
		}
	}
	return nil
}

func chmodMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	current, err := vos.GetNode(ctx, args[1], client.GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return err
	}
	update := current.Clone()
	update.ClearProperties()
	if err := applyMode(update, args[0], args[2:]); err != nil {
		return err
	}
	result, err := vos.AddProps(ctx, update, chmodRecursive)
	if err != nil {
		return err
	}
	if chmodRecursive {
		log.Infof("Updated %d nodes under %s", result.Success, current.URI)
		if result.Errors > 0 {
			return error_codes.New(error_codes.KindJobFailed, current.URI, "%d nodes could not be updated", result.Errors)
		}
	}
	return nil
}
