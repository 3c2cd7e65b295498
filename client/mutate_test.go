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

package client

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
	"github.com/opencadc/govos/test_utils"
)

func lastBody(fake *test_utils.FakeVOSpace, method, path string) string {
	var body string
	for _, req := range fake.Requests() {
		if req.Method == method && req.Path == path {
			body = string(req.Body)
		}
	}
	return body
}

func TestMkdir(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)

	require.NoError(t, c.Mkdir(ctx, "made"))
	n := fake.Node("/made")
	require.NotNil(t, n)
	assert.Equal(t, node.ContainerNode, n.Type)

	err := c.Mkdir(ctx, "made")
	assert.ErrorIs(t, err, error_codes.ErrAlreadyExists)

	err = c.Mkdir(ctx, "no/parent")
	assert.ErrorIs(t, err, error_codes.ErrNotFound)
}

func TestDeleteEvictsCache(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/del/file.txt", []byte("bye"), nil)

	_, err := c.GetNode(ctx, "del/file.txt", GetNodeOptions{})
	require.NoError(t, err)
	uri, err := c.FixURI("del/file.txt")
	require.NoError(t, err)
	_, ok := c.Cache().Lookup(uri)
	require.True(t, ok)

	require.NoError(t, c.Delete(ctx, "del/file.txt"))
	_, ok = c.Cache().Lookup(uri)
	assert.False(t, ok)
	assert.Nil(t, fake.Node("/del/file.txt"))

	_, err = c.GetNode(ctx, "del/file.txt", GetNodeOptions{})
	assert.ErrorIs(t, err, error_codes.ErrNotFound)
}

func TestDeleteLocked(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/del/locked.txt", []byte("stays"), map[string]*string{node.PropIsLocked: node.Str("true")})

	err := c.Delete(ctx, "del/locked.txt")
	assert.ErrorIs(t, err, error_codes.ErrLocked)
	assert.NotNil(t, fake.Node("/del/locked.txt"))
}

func TestRecursiveDelete(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	addFiles(fake, "/tree", "a", "b")
	addFiles(fake, "/tree/sub", "c")

	result, err := c.RecursiveDelete(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Success)
	assert.Equal(t, 0, result.Errors)
	assert.Nil(t, fake.Node("/tree"))
	assert.Nil(t, fake.Node("/tree/sub/c"))
	assert.Contains(t, lastBody(fake, http.MethodPost, "/vault/recursive-delete"), "target=vos%3A%2F%2Fcadc.nrc.ca%21vault%2Ftree")

	_, err = c.RecursiveDelete(ctx, "tree")
	assert.ErrorIs(t, err, error_codes.ErrNotFound)
}

func TestRecursiveDeleteReportsLocked(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	addFiles(fake, "/guarded", "a")
	fake.AddData("/guarded/keep", []byte("x"), map[string]*string{node.PropIsLocked: node.Str("true")})

	result, err := c.RecursiveDelete(ctx, "guarded")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.NotNil(t, fake.Node("/guarded/keep"))
}

func TestMove(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/mv/from.txt", []byte("moving"), nil)
	fake.AddContainer("/mv/into")

	require.NoError(t, c.Move(ctx, "mv/from.txt", "mv/to.txt"))
	assert.Nil(t, fake.Node("/mv/from.txt"))
	content, ok := fake.Data("/mv/to.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("moving"), content)

	require.NoError(t, c.Move(ctx, "mv/to.txt", "mv/into"))
	assert.NotNil(t, fake.Node("/mv/into/to.txt"))

	err := c.Move(ctx, "mv/ghost.txt", "mv/elsewhere.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, error_codes.ErrJobFailed)
	assert.Contains(t, err.Error(), "NodeNotFound")
}

func TestAddPropsSendsOnlyChanges(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/props/file.txt", []byte("data"), nil)

	current, err := c.GetNode(ctx, "props/file.txt", GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	require.NoError(t, err)
	update := current.Clone()
	require.True(t, update.ChangeProperty(node.PropIsPublic, node.Str("true")))

	result, err := c.AddProps(ctx, update, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)

	body := lastBody(fake, http.MethodPost, "/vault/nodes/props/file.txt")
	assert.Contains(t, body, node.PropertyURI(node.PropIsPublic))
	assert.NotContains(t, body, node.PropertyURI(node.PropLength))
	assert.True(t, fake.Node("/props/file.txt").IsPublic())

	// Nothing left to change
	posts := fake.Count(http.MethodPost, "/vault/nodes/props/file.txt")
	result, err = c.AddProps(ctx, update, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Success)
	assert.Equal(t, posts, fake.Count(http.MethodPost, "/vault/nodes/props/file.txt"))
}

func TestRecursiveUpdate(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	addFiles(fake, "/shared", "f1", "f2")

	dir, err := node.New(fake.URI("/shared"), node.ContainerNode, map[string]*string{
		node.PropGroupRead: node.Str("ivo://cadc.nrc.ca/gms?friends"),
	})
	require.NoError(t, err)
	result, err := c.Update(ctx, dir, true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Success)
	assert.Equal(t, "ivo://cadc.nrc.ca/gms?friends", fake.Node("/shared/f2").PropertyValue(node.PropGroupRead))
	assert.Equal(t, 1, fake.Count(http.MethodPost, "/vault/recursive-props"))
}

func TestSetLocked(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/lock/file.txt", []byte("data"), nil)

	require.NoError(t, c.SetLocked(ctx, "lock/file.txt", true))
	assert.True(t, fake.Node("/lock/file.txt").IsLocked())
	body := lastBody(fake, http.MethodPost, "/vault/nodes/lock/file.txt")
	assert.Equal(t, 1, strings.Count(body, "<vos:property "), "only the lock is sent: %s", body)

	posts := fake.Count(http.MethodPost, "/vault/nodes/lock/file.txt")
	require.NoError(t, c.SetLocked(ctx, "lock/file.txt", true))
	assert.Equal(t, posts, fake.Count(http.MethodPost, "/vault/nodes/lock/file.txt"), "already locked")

	require.NoError(t, c.SetLocked(ctx, "lock/file.txt", false))
	assert.False(t, fake.Node("/lock/file.txt").IsLocked())
	assert.Contains(t, lastBody(fake, http.MethodPost, "/vault/nodes/lock/file.txt"), `xsi:nil="true"`)
}

func TestLink(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/ln/target.txt", []byte("pointed at"), nil)
	fake.AddContainer("/ln/dir")

	require.NoError(t, c.Link(ctx, "ln/target.txt", "ln/alias.txt"))
	link := fake.Node("/ln/alias.txt")
	require.NotNil(t, link)
	assert.Equal(t, node.LinkNode, link.Type)
	assert.Equal(t, fake.URI("/ln/target.txt"), link.Target)

	require.NoError(t, c.Link(ctx, "ln/target.txt", "ln/dir"))
	link = fake.Node("/ln/dir/target.txt")
	require.NotNil(t, link)
	assert.True(t, link.IsLink())

	isFile, err := c.IsFile(ctx, "ln/alias.txt")
	require.NoError(t, err)
	assert.True(t, isFile)
}
