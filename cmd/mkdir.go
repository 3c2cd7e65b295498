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
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/error_codes"
)

var (
	mkdirParents bool

	mkdirCmd = &cobra.Command{
		Use:   "mkdir {container} [{container} ...]",
		Short: "Create containers",
		Args:  cobra.MinimumNArgs(1),
		RunE:  mkdirMain,
	}
)

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create intermediate containers as needed")
	rootCmd.AddCommand(mkdirCmd)
}

func mkdirMain(cmd *cobra.Command, args []string) error {
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()
	for _, arg := range args {
		if mkdirParents {
			err = mkdirAll(cmd.Context(), vos, arg)
		} else {
			err = vos.Mkdir(cmd.Context(), arg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mkdirAll creates uri and any missing ancestors.  Existing containers
// are not an error.
func mkdirAll(ctx context.Context, vos *client.Client, uri string) error {
	fixed, err := vos.FixURI(uri)
	if err != nil {
		return err
	}
	parsed, err := url.Parse(fixed)
	if err != nil {
		return error_codes.Wrap(error_codes.KindBadRequest, uri, err, "invalid node URI")
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for idx := range parts {
		ancestor := *parsed
		ancestor.Path = "/" + strings.Join(parts[:idx+1], "/")
		target := ancestor.String()
		if isDir, err := vos.IsDir(ctx, target); err != nil {
			return err
		} else if isDir {
			continue
		}
		log.Debugf("Creating %s", target)
		if err := vos.Mkdir(ctx, target); err != nil && error_codes.KindOf(err) != error_codes.KindAlreadyExists {
			return err
		}
	}
	return nil
}
