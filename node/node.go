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

// Package node holds the in-memory model of a VOSpace node and its XML
// codec.  A Node is one of three variants (data, container, link); the
// variant decides which fields are meaningful and is checked on every
// mutation that would break it.
package node

import (
	"io/fs"
	"mime"
	"path"
	"strings"

	"github.com/pkg/errors"
)

type Type int

const (
	DataNode Type = iota
	ContainerNode
	LinkNode
)

// Node is a single entry in the remote space.  Children are only populated
// for containers, and only once they have been fetched.
type Node struct {
	URI    string
	Type   Type
	Target string

	props          Properties
	children       []*Node
	childrenLoaded bool
}

const maxGroups = 4

func (t Type) String() string {
	switch t {
	case ContainerNode:
		return "vos:ContainerNode"
	case LinkNode:
		return "vos:LinkNode"
	default:
		return "vos:DataNode"
	}
}

// ParseType accepts the wire form ("vos:DataNode") with any namespace prefix.
func ParseType(s string) (Type, error) {
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	switch s {
	case "DataNode", "UnstructuredDataNode", "StructuredDataNode":
		return DataNode, nil
	case "ContainerNode":
		return ContainerNode, nil
	case "LinkNode":
		return LinkNode, nil
	}
	return DataNode, errors.Errorf("unknown node type '%s'", s)
}

// New builds a data or container node.  Only containers may be given
// children.  When no "type" property is supplied it is guessed from the
// file extension.
func New(uri string, nodeType Type, props map[string]*string, children ...*Node) (*Node, error) {
	if len(children) > 0 && nodeType != ContainerNode {
		return nil, errors.Errorf("only container nodes can have children (%s is a %s)", uri, nodeType)
	}
	if nodeType == LinkNode {
		return nil, errors.New("link nodes must be created with NewLink")
	}
	n := &Node{URI: uri, Type: nodeType}
	n.setInitialProps(props)
	if nodeType == ContainerNode && len(children) > 0 {
		n.SetChildren(children)
	}
	return n, nil
}

// NewLink builds a link node pointing at target.
func NewLink(uri string, target string, props map[string]*string) (*Node, error) {
	if target == "" {
		return nil, errors.Errorf("link node %s needs a target", uri)
	}
	n := &Node{URI: uri, Type: LinkNode, Target: target}
	n.setInitialProps(props)
	return n, nil
}

func (n *Node) setInitialProps(props map[string]*string) {
	for name, value := range props {
		n.props.Set(name, value)
	}
	if _, ok := n.props.Get(PropType); !ok {
		if mimeType := mime.TypeByExtension(path.Ext(n.URI)); mimeType != "" {
			n.props.Set(PropType, Str(mimeType))
		}
	}
}

// Name is the last path component of the node URI.
func (n *Node) Name() string {
	return path.Base(n.URI)
}

func (n *Node) IsDir() bool {
	return n.Type == ContainerNode
}

func (n *Node) IsLink() bool {
	return n.Type == LinkNode
}

func (n *Node) IsFile() bool {
	return n.Type == DataNode
}

// Property returns the value of a property and whether it is present.
func (n *Node) Property(name string) (*string, bool) {
	return n.props.Get(name)
}

// PropertyValue returns the property text, "" when absent or nil.
func (n *Node) PropertyValue(name string) string {
	return n.props.Value(name)
}

func (n *Node) Properties() []Property {
	return n.props.All()
}

// SetProperty stores value (nil marks the property for deletion).
func (n *Node) SetProperty(name string, value *string) {
	n.props.Set(name, value)
}

// ChangeProperty updates a property and reports whether the stored value
// differs from what was there before.  Adding a new property is a change.
func (n *Node) ChangeProperty(name string, value *string) bool {
	old, ok := n.props.Get(name)
	if ok && ((old == nil && value == nil) || (old != nil && value != nil && *old == *value)) {
		return false
	}
	n.props.Set(name, value)
	return true
}

// DeleteProperty drops a property from the bag entirely, so it is not sent
// at all (unlike a nil value, which asks the server to delete it).
func (n *Node) DeleteProperty(name string) {
	n.props.Delete(name)
}

func (n *Node) ClearProperties() {
	n.props.Clear()
}

// Equal compares nodes by their property sets only.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.props.Equal(&other.props)
}

// Clone returns a copy with its own property bag; children are shared.
func (n *Node) Clone() *Node {
	clone := *n
	clone.props = n.props.clone()
	clone.children = append([]*Node(nil), n.children...)
	return &clone
}

// Children returns the fetched children and whether they have been loaded.
func (n *Node) Children() ([]*Node, bool) {
	return n.children, n.childrenLoaded
}

// SetChildren replaces the child list.  It is a no-op for non-containers.
func (n *Node) SetChildren(children []*Node) {
	if n.Type != ContainerNode {
		return
	}
	n.children = children
	n.childrenLoaded = true
}

// UnloadChildren marks the child list as not fetched.
func (n *Node) UnloadChildren() {
	n.children = nil
	n.childrenLoaded = false
}

func (n *Node) AddChild(child *Node) error {
	if n.Type != ContainerNode {
		return errors.Errorf("cannot add a child to %s: not a container", n.URI)
	}
	n.children = append(n.children, child)
	n.childrenLoaded = true
	return nil
}

func (n *Node) IsLocked() bool {
	return n.props.Value(PropIsLocked) == "true"
}

// SetLocked reports whether the lock state changed.  Unlocking sends the
// property as a delete marker.
func (n *Node) SetLocked(locked bool) bool {
	if locked == n.IsLocked() {
		return false
	}
	if locked {
		return n.ChangeProperty(PropIsLocked, Str("true"))
	}
	return n.ChangeProperty(PropIsLocked, nil)
}

func (n *Node) IsPublic() bool {
	return n.props.Value(PropIsPublic) == "true"
}

func (n *Node) SetPublic(public bool) bool {
	value := "false"
	if public {
		value = "true"
	}
	return n.ChangeProperty(PropIsPublic, Str(value))
}

func (n *Node) GroupRead() string {
	return n.props.Value(PropGroupRead)
}

func (n *Node) GroupWrite() string {
	return n.props.Value(PropGroupWrite)
}

// SetGroupRead sets the space-separated list of groups allowed to read.
func (n *Node) SetGroupRead(groups string) (bool, error) {
	if len(strings.Fields(groups)) > maxGroups {
		return false, errors.Errorf("exceeded max of %d read groups: %s", maxGroups, groups)
	}
	return n.ChangeProperty(PropGroupRead, Str(groups)), nil
}

// SetGroupWrite sets the space-separated list of groups allowed to write.
func (n *Node) SetGroupWrite(groups string) (bool, error) {
	if len(strings.Fields(groups)) > maxGroups {
		return false, errors.Errorf("exceeded max of %d write groups: %s", maxGroups, groups)
	}
	return n.ChangeProperty(PropGroupWrite, Str(groups)), nil
}

// Chmod translates the permission bits VOSpace can represent: other-read
// toggles public access and group read/write toggle the current group
// lists on or off.
func (n *Node) Chmod(mode fs.FileMode) (bool, error) {
	changed := n.SetPublic(mode&0004 != 0)

	readGroups := ""
	if mode&0040 != 0 {
		readGroups = n.GroupRead()
	}
	writeGroups := ""
	if mode&0020 != 0 {
		writeGroups = n.GroupWrite()
	}
	rChanged, err := n.SetGroupRead(readGroups)
	if err != nil {
		return false, err
	}
	wChanged, err := n.SetGroupWrite(writeGroups)
	if err != nil {
		return false, err
	}
	return changed || rChanged || wChanged, nil
}

// XAttrs returns the extension properties, those not mapped to standard
// file attributes.
func (n *Node) XAttrs() map[string]string {
	result := make(map[string]string)
	for _, prop := range n.props.All() {
		if IsStandard(prop.Name) || prop.Value == nil {
			continue
		}
		result[prop.Name] = *prop.Value
	}
	return result
}

func (n *Node) Length() int64 {
	return n.ComputeInfo().Size
}

func (n *Node) MD5() string {
	return n.props.Value(PropMD5)
}
