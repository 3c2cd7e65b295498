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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsChildrenOnNonContainers(t *testing.T) {
	child, err := New("vos://h!v/dir/a", DataNode, nil)
	require.NoError(t, err)

	_, err = New("vos://h!v/file", DataNode, nil, child)
	assert.Error(t, err)

	dir, err := New("vos://h!v/dir", ContainerNode, nil, child)
	require.NoError(t, err)
	children, loaded := dir.Children()
	assert.True(t, loaded)
	assert.Len(t, children, 1)

	_, err = New("vos://h!v/link", LinkNode, nil)
	assert.Error(t, err)
	_, err = NewLink("vos://h!v/link", "", nil)
	assert.Error(t, err)

	link, err := NewLink("vos://h!v/link", "vos://h!v/dir", nil)
	require.NoError(t, err)
	assert.Error(t, link.AddChild(child))
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "length", CanonicalName("ivo://ivoa.net/vospace/core#length"))
	assert.Equal(t, "length", CanonicalName("length"))
	assert.Equal(t, PropIsLocked, CanonicalName(PropIsLocked))
	assert.Equal(t, "ivo://example.org/ext#foo", CanonicalName("ivo://example.org/ext#foo"))

	assert.Equal(t, "ivo://ivoa.net/vospace/core#groupread", PropertyURI("groupread"))
	assert.Equal(t, "ivo://ivoa.net/vospace/core#MD5", PropertyURI("MD5"))
	assert.Equal(t, PropIsLocked, PropertyURI(PropIsLocked))
	assert.Equal(t, "custom", PropertyURI("custom"))
}

func TestPropertyOrderAndNil(t *testing.T) {
	n, err := New("vos://h!v/x", DataNode, nil)
	require.NoError(t, err)
	n.ClearProperties()
	n.SetProperty("ivo://ivoa.net/vospace/core#title", Str("first"))
	n.SetProperty("description", nil)
	n.SetProperty("ivo://example.org/ext#k", Str("v"))
	n.SetProperty("title", Str("changed"))

	props := n.Properties()
	require.Len(t, props, 3)
	assert.Equal(t, "title", props[0].Name)
	assert.Equal(t, "changed", *props[0].Value)
	assert.Equal(t, "description", props[1].Name)
	assert.Nil(t, props[1].Value)

	value, ok := n.Property("description")
	assert.True(t, ok)
	assert.Nil(t, value)
	_, ok = n.Property("missing")
	assert.False(t, ok)

	n.DeleteProperty("ivo://ivoa.net/vospace/core#description")
	_, ok = n.Property("description")
	assert.False(t, ok)
	require.Len(t, n.Properties(), 2)
	assert.Equal(t, "ivo://example.org/ext#k", n.Properties()[1].Name)
}

func TestChangeProperty(t *testing.T) {
	n, err := New("vos://h!v/x", DataNode, nil)
	require.NoError(t, err)

	assert.True(t, n.ChangeProperty("groupread", Str("ivo://g/a")), "adding is a change")
	assert.False(t, n.ChangeProperty("groupread", Str("ivo://g/a")))
	assert.True(t, n.ChangeProperty("groupread", Str("ivo://g/b")))
	assert.True(t, n.ChangeProperty("groupread", nil))
	assert.False(t, n.ChangeProperty("groupread", nil))
}

func TestLocking(t *testing.T) {
	n, err := New("vos://h!v/x", DataNode, nil)
	require.NoError(t, err)
	assert.False(t, n.IsLocked())
	assert.True(t, n.SetLocked(true))
	assert.True(t, n.IsLocked())
	assert.False(t, n.SetLocked(true))
	assert.True(t, n.SetLocked(false))
	value, ok := n.Property(PropIsLocked)
	assert.True(t, ok)
	assert.Nil(t, value, "unlock is sent as a delete marker")
}

func TestEqualIsPropertyEquality(t *testing.T) {
	a, err := New("vos://h!v/a", DataNode, map[string]*string{"length": Str("5"), "type": Str("text/plain")})
	require.NoError(t, err)
	b, err := New("vos://h!v/b", ContainerNode, map[string]*string{"type": Str("text/plain"), "length": Str("5")})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	b.SetProperty("length", Str("6"))
	assert.False(t, a.Equal(b))

	c := a.Clone()
	assert.True(t, a.Equal(c))
	c.SetProperty("length", nil)
	assert.False(t, a.Equal(c))
	assert.Equal(t, "5", a.PropertyValue("length"), "clone must not share values")
}

func TestGroupLimits(t *testing.T) {
	n, err := New("vos://h!v/x", DataNode, nil)
	require.NoError(t, err)
	_, err = n.SetGroupRead("a b c d e")
	assert.Error(t, err)
	changed, err := n.SetGroupWrite("ivo://g/a ivo://g/b")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestChmod(t *testing.T) {
	n, err := New("vos://h!v/x", DataNode, map[string]*string{
		"groupread":  Str("ivo://g/read"),
		"groupwrite": Str("ivo://g/write"),
		"ispublic":   Str("false"),
	})
	require.NoError(t, err)

	changed, err := n.Chmod(0744)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, n.IsPublic())
	assert.Equal(t, "ivo://g/read", n.GroupRead())
	assert.Equal(t, "", n.GroupWrite())
}

func TestXAttrs(t *testing.T) {
	n, err := New("vos://h!v/x", DataNode, map[string]*string{
		"length":                    Str("5"),
		"ivo://example.org/ext#foo": Str("bar"),
		"title":                     Str("T"),
	})
	require.NoError(t, err)
	attrs := n.XAttrs()
	assert.Equal(t, "bar", attrs["ivo://example.org/ext#foo"])
	assert.Equal(t, "T", attrs["title"])
	_, ok := attrs["length"]
	assert.False(t, ok)
}

func TestComputeInfo(t *testing.T) {
	n, err := New("vos://h!v/dir", ContainerNode, map[string]*string{
		"creator":    Str("CN=Jane Doe,OU=cadc,O=hia,C=ca"),
		"groupread":  Str("ivo://g/read"),
		"groupwrite": Str("NONE"),
		"ispublic":   Str("true"),
		"length":     Str("2048"),
		"date":       Str("2023-06-01T12:30:45.123"),
	})
	require.NoError(t, err)
	n.SetLocked(true)

	info := n.ComputeInfo()
	assert.Equal(t, "drw-r--r--", info.Permissions)
	assert.Equal(t, "jane_doe", info.Creator)
	assert.Equal(t, "ivo://g/read", info.ReadGroup)
	assert.Equal(t, "NONE", info.WriteGroup)
	assert.True(t, info.IsLocked)
	assert.Equal(t, int64(2048), info.Size)
	assert.True(t, info.Date.Equal(time.Date(2023, 6, 1, 12, 30, 45, 0, time.UTC)))
}

func TestComputeInfoDefaults(t *testing.T) {
	n, err := NewLink("vos://h!v/link", "vos://h!v/target", map[string]*string{"length": Str("bogus")})
	require.NoError(t, err)

	info := n.ComputeInfo()
	assert.Equal(t, "lrw-------", info.Permissions)
	assert.Equal(t, "unknown_000", info.Creator)
	assert.Equal(t, "NONE", info.ReadGroup)
	assert.Equal(t, int64(0), info.Size)
	assert.True(t, info.Date.IsZero())
	assert.Equal(t, "vos://h!v/target", info.Target)
}

func TestComputeInfoGroupWrite(t *testing.T) {
	n, err := New("vos://h!v/f", DataNode, map[string]*string{"groupwrite": Str("ivo://g/w")})
	require.NoError(t, err)
	assert.Equal(t, "-rw--w----", n.ComputeInfo().Permissions)
}

func TestStat(t *testing.T) {
	child1, _ := New("vos://h!v/dir/a", DataNode, nil)
	child2, _ := New("vos://h!v/dir/b", DataNode, nil)
	dir, err := New("vos://h!v/dir", ContainerNode, map[string]*string{
		"groupread": Str("ivo://g/read"),
		"ispublic":  Str("true"),
	}, child1, child2)
	require.NoError(t, err)

	st := dir.Stat()
	assert.True(t, st.Mode.IsDir())
	assert.Equal(t, fs.FileMode(0755), st.Mode.Perm())
	assert.Equal(t, 4, st.NLink)

	empty, _ := New("vos://h!v/empty", ContainerNode, nil)
	assert.Equal(t, 2, empty.Stat().NLink)

	file, err := New("vos://h!v/f", DataNode, map[string]*string{
		"groupwrite": Str("ivo://g/w"),
		"length":     Str("1024"),
		"date":       Str("2020-01-02T03:04:05.000"),
	})
	require.NoError(t, err)
	st = file.Stat()
	assert.True(t, st.Mode.IsRegular())
	assert.Equal(t, fs.FileMode(0720), st.Mode.Perm())
	assert.Equal(t, 1, st.NLink)
	assert.Equal(t, int64(1024), st.Size)
	assert.Equal(t, int64(2), st.Blocks)
	assert.True(t, st.MTime.Equal(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)))

	// Derived attributes follow property changes
	file.SetProperty("length", Str("4096"))
	assert.Equal(t, int64(4096), file.Stat().Size)

	link, _ := NewLink("vos://h!v/l", "vos://h!v/f", nil)
	assert.Equal(t, fs.ModeSymlink, link.Stat().Mode.Type())

	fi := file.FileInfo()
	assert.Equal(t, "f", fi.Name())
	assert.False(t, fi.IsDir())
	assert.Equal(t, int64(4096), fi.Size())
}
