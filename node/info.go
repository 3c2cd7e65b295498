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

package node

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/regexp"
)

const (
	dateLayout     = "2006-01-02T15:04:05"
	noGroup        = "NONE"
	unknownCreator = "CN=unknown_000,"
)

var creatorCN = regexp.MustCompile(`CN=([^,]*)`)

type (
	// Info is the listing view of a node.
	Info struct {
		Permissions string
		Creator     string
		ReadGroup   string
		WriteGroup  string
		IsLocked    bool
		Size        int64
		Date        time.Time
		Target      string
	}

	// Stat is the POSIX-like metadata derived from a node's properties.
	Stat struct {
		Mode   fs.FileMode
		NLink  int
		UID    int
		GID    int
		Size   int64
		Blocks int64
		ATime  time.Time
		MTime  time.Time
		CTime  time.Time
	}

	fileInfo struct {
		name string
		stat Stat
	}
)

// ParseDate reads a VOSpace timestamp (UTC, fractional seconds dropped).
func ParseDate(value string) (time.Time, bool) {
	if idx := strings.LastIndex(value, ":"); idx >= 0 && idx+3 <= len(value) {
		value = value[:idx+3]
	}
	parsed, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func groupSet(value string) bool {
	return value != "" && value != noGroup
}

func (n *Node) ComputeInfo() Info {
	creator := unknownCreator
	if value, ok := n.props.Get(PropCreator); ok && value != nil {
		creator = *value
	}
	if match := creatorCN.FindStringSubmatch(creator); match != nil {
		creator = strings.ToLower(strings.ReplaceAll(match[1], " ", "_"))
	}

	perm := []byte("----------")
	perm[1] = 'r'
	perm[2] = 'w'
	switch n.Type {
	case ContainerNode:
		perm[0] = 'd'
	case LinkNode:
		perm[0] = 'l'
	}
	if n.IsPublic() {
		perm[len(perm)-3] = 'r'
		perm[len(perm)-2] = '-'
	}

	readGroup, writeGroup := noGroup, noGroup
	if value, ok := n.props.Get(PropGroupWrite); ok && value != nil {
		writeGroup = *value
	}
	if value, ok := n.props.Get(PropGroupRead); ok && value != nil {
		readGroup = *value
	}
	if groupSet(writeGroup) {
		perm[5] = 'w'
	}
	if groupSet(readGroup) {
		perm[4] = 'r'
	}

	var size int64
	if parsed, err := strconv.ParseFloat(n.props.Value(PropLength), 64); err == nil && parsed > 0 {
		size = int64(parsed)
	}

	info := Info{
		Permissions: string(perm),
		Creator:     creator,
		ReadGroup:   readGroup,
		WriteGroup:  writeGroup,
		IsLocked:    n.IsLocked(),
		Size:        size,
		Target:      n.Target,
	}
	if date, ok := ParseDate(n.props.Value(PropDate)); ok {
		info.Date = date.Local()
	}
	return info
}

// Stat derives file attributes from the current properties.  Nodes without
// a date report the current time.
func (n *Node) Stat() Stat {
	now := time.Now()
	mtime := now
	if date, ok := ParseDate(n.props.Value(PropDate)); ok {
		mtime = date.Local()
	}

	var mode fs.FileMode
	nlink := 1
	switch n.Type {
	case ContainerNode:
		mode |= fs.ModeDir
		nlink = max(2, len(n.children)+2)
	case LinkNode:
		mode |= fs.ModeSymlink
	}

	mode |= 0700
	if groupSet(n.props.Value(PropGroupWrite)) {
		mode |= 0020
	}
	if groupSet(n.props.Value(PropGroupRead)) {
		mode |= 0050
	}
	if n.IsPublic() {
		mode |= 0005
	}

	size := n.ComputeInfo().Size
	return Stat{
		Mode:   mode,
		NLink:  nlink,
		UID:    os.Getuid(),
		GID:    os.Getgid(),
		Size:   size,
		Blocks: size / 512,
		ATime:  now,
		MTime:  mtime,
		CTime:  mtime,
	}
}

// FileInfo adapts the node to fs.FileInfo for listings.
func (n *Node) FileInfo() fs.FileInfo {
	return &fileInfo{name: n.Name(), stat: n.Stat()}
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.stat.Size }
func (fi *fileInfo) Mode() fs.FileMode  { return fi.stat.Mode }
func (fi *fileInfo) ModTime() time.Time { return fi.stat.MTime }
func (fi *fileInfo) IsDir() bool        { return fi.stat.Mode.IsDir() }
func (fi *fileInfo) Sys() interface{}   { return fi.stat }
