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
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/units"
	"github.com/spf13/cobra"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
	"github.com/opencadc/govos/vos_url"
)

type (
	lsFlags struct {
		long    bool
		group   bool
		human   bool
		bySize  bool
		byTime  bool
		reverse bool
		noDir   bool
	}

	lsEntry struct {
		Name        string    `json:"name"`
		Permissions string    `json:"permissions"`
		Creator     string    `json:"creator"`
		ReadGroup   string    `json:"readGroup,omitempty"`
		WriteGroup  string    `json:"writeGroup,omitempty"`
		Locked      bool      `json:"locked,omitempty"`
		Size        int64     `json:"size"`
		Date        time.Time `json:"date"`
		Target      string    `json:"target,omitempty"`
	}
)

var (
	lsArgs lsFlags

	lsCmd = &cobra.Command{
		Use:   "ls {node} [{node} ...]",
		Short: "List the contents of containers",
		Long: `List nodes.  A container lists its children unless -d is given.
Node names may contain the wildcards *, ? and [...].`,
		Args: cobra.MinimumNArgs(1),
		RunE: listMain,
	}
)

func init() {
	flags := lsCmd.Flags()
	flags.BoolVarP(&lsArgs.long, "long", "l", false, "Verbose listing sorted by name")
	flags.BoolVarP(&lsArgs.group, "group", "g", false, "Display group read/write information")
	flags.BoolVarP(&lsArgs.human, "human", "H", false, "Make sizes human readable")
	flags.BoolVarP(&lsArgs.bySize, "Size", "S", false, "Sort files by size")
	flags.BoolVarP(&lsArgs.byTime, "time", "t", false, "Sort by time copied to VOSpace")
	flags.BoolVarP(&lsArgs.reverse, "reverse", "r", false, "Reverse the sort order")
	flags.BoolVarP(&lsArgs.noDir, "directory", "d", false, "List containers themselves, not their contents")
	rootCmd.AddCommand(lsCmd)
}

func (f lsFlags) listOptions() client.ListOptions {
	var opts client.ListOptions
	switch {
	case f.byTime:
		opts.Sort = negotiation.SortDate
	case f.bySize:
		opts.Sort = negotiation.SortLength
	}
	if f.reverse {
		if opts.Sort == "" {
			opts.Order = negotiation.OrderDesc
		} else {
			opts.Order = negotiation.OrderAsc
		}
	}
	return opts
}

func listMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	vos, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer vos.Close()

	var targets []string
	for _, arg := range args {
		if !vos_url.HasMagic(arg) {
			targets = append(targets, arg)
			continue
		}
		matches, err := vos.Glob(ctx, arg)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("%s: no such file or directory", arg)
		}
		targets = append(targets, matches...)
	}

	var all []lsEntry
	out := cmd.OutOrStdout()
	for _, target := range targets {
		entries, err := listTarget(cmd, vos, target)
		if err != nil {
			return err
		}
		if outputJSON {
			all = append(all, entries...)
			continue
		}
		if len(targets) > 1 {
			fmt.Fprintf(out, "%s:\n", target)
		}
		printEntries(out, entries)
	}
	if outputJSON {
		if all == nil {
			all = []lsEntry{}
		}
		encoded, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(encoded))
	}
	return nil
}

func listTarget(cmd *cobra.Command, vos *client.Client, target string) ([]lsEntry, error) {
	ctx := cmd.Context()
	if lsArgs.noDir {
		n, err := vos.GetNode(ctx, target, client.GetNodeOptions{Limit: negotiation.Limit(0)})
		if err != nil {
			return nil, err
		}
		return []lsEntry{newLsEntry(n.Name(), n.ComputeInfo())}, nil
	}
	infos, err := vos.GetInfoList(ctx, target, lsArgs.listOptions())
	if err != nil {
		return nil, err
	}
	entries := make([]lsEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, newLsEntry(info.Name, info.Info))
	}
	return entries, nil
}

func newLsEntry(name string, info node.Info) lsEntry {
	return lsEntry{
		Name:        name,
		Permissions: info.Permissions,
		Creator:     info.Creator,
		ReadGroup:   info.ReadGroup,
		WriteGroup:  info.WriteGroup,
		Locked:      info.IsLocked,
		Size:        info.Size,
		Date:        info.Date,
		Target:      info.Target,
	}
}

func printEntries(out io.Writer, entries []lsEntry) {
	if !lsArgs.long {
		for _, entry := range entries {
			fmt.Fprintln(out, entry.Name)
		}
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t %s\t", entry.Permissions, entry.Creator)
		if lsArgs.group {
			fmt.Fprintf(tw, " %s\t %s\t", entry.ReadGroup, entry.WriteGroup)
		}
		name := entry.Name
		if entry.Target != "" {
			name += " -> " + entry.Target
		}
		fmt.Fprintf(tw, " %s\t %s\t %s\n", formatSize(entry.Size), formatDate(entry.Date), name)
	}
	_ = tw.Flush()
}

func formatSize(size int64) string {
	if lsArgs.human {
		return units.Base2Bytes(size).String()
	}
	return strconv.FormatInt(size, 10)
}

// formatDate follows ls: recent entries show the time, older ones the year.
func formatDate(date time.Time) string {
	local := date.Local()
	if time.Since(local) > 180*24*time.Hour || local.After(time.Now().Add(time.Hour)) {
		return local.Format("Jan _2  2006")
	}
	return local.Format("Jan _2 15:04")
}
