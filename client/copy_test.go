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
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/md5_cache"
)

func md5Hex(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

func writeLocal(t *testing.T, name string, content []byte) string {
	local := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(local, content, 0644))
	return local
}

func TestDownloadFilesShortcut(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	content := []byte("the quick brown fox")
	fake.AddData("/dl/fox.txt", content, nil)

	var moved atomic.Int64
	dst := t.TempDir()
	result, err := c.Copy(ctx, fake.URI("/dl/fox.txt"), dst, WithProgress(func(n int64) { moved.Store(n) }))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "fox.txt"), result.Filename)
	assert.Equal(t, int64(len(content)), result.Size)
	assert.Equal(t, md5Hex(content), result.MD5)
	assert.False(t, result.Skipped)
	assert.Equal(t, int64(len(content)), moved.Load())

	onDisk, err := os.ReadFile(result.Filename)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)

	assert.Equal(t, 1, fake.Count(http.MethodGet, "/vault/files/dl/fox.txt"))
	assert.Equal(t, 1, fake.Count(http.MethodGet, "/vault/data/dl/fox.txt"))
	assert.Equal(t, 0, fake.Count(http.MethodPost, "/vault/synctrans"))
}

func TestDownloadNonASCIIName(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	content := []byte("bonjour")
	fake.AddData("/u/données.txt", content, nil)

	dst := t.TempDir()
	result, err := c.Copy(ctx, "vos:u/données.txt", dst)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "données.txt"), result.Filename)
	onDisk, err := os.ReadFile(result.Filename)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)
}

func TestDownloadFallsBackToNegotiation(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	content := []byte("negotiated bytes")
	fake.AddData("/dl/neg.txt", content, nil)
	fake.Fail(http.MethodGet, "/vault/data/", http.StatusNotFound, 1)

	dst := filepath.Join(t.TempDir(), "renamed.txt")
	result, err := c.Copy(ctx, fake.URI("/dl/neg.txt"), dst)
	require.NoError(t, err)
	assert.Equal(t, dst, result.Filename)
	assert.Equal(t, md5Hex(content), result.MD5)

	assert.Equal(t, 1, fake.Count(http.MethodPost, "/vault/synctrans"))
	assert.Equal(t, 1, fake.Count(http.MethodGet, "/vault/xfer/dl/neg.txt"))
}

func TestDownloadEmptyNode(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/dl/empty.txt", nil, nil)
	fake.Fail(http.MethodGet, "/vault/data/dl/empty.txt", http.StatusNotFound, 1)

	dst := t.TempDir()
	result, err := c.Copy(ctx, fake.URI("/dl/empty.txt"), dst)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Size)
	assert.Equal(t, md5_cache.ZeroMD5, result.MD5)
	info, err := os.Stat(filepath.Join(dst, "empty.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
	assert.Equal(t, 0, fake.Count(http.MethodPost, "/vault/synctrans"), "an empty node needs no negotiation")
}

func TestDownloadRetriesChecksumMismatch(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	content := []byte("fragile content")
	fake.AddData("/dl/fragile.txt", content, nil)
	fake.Corrupt("/dl/fragile.txt", 3)

	result, err := c.Copy(ctx, fake.URI("/dl/fragile.txt"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, md5Hex(content), result.MD5)
	assert.Equal(t, 4, fake.Count(http.MethodGet, "/vault/data/dl/fragile.txt"))
}

func TestDownloadGivesUpOnChecksumMismatch(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/dl/broken.txt", []byte("always broken"), nil)
	fake.Corrupt("/dl/broken.txt", 100)

	_, err := c.Copy(ctx, fake.URI("/dl/broken.txt"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, error_codes.ErrChecksumMismatch)
	assert.Equal(t, 4, fake.Count(http.MethodGet, "/vault/data/dl/broken.txt"))
	assert.Equal(t, 4, fake.Count(http.MethodGet, "/vault/xfer/dl/broken.txt"))
}

func TestDownloadMissing(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddContainer("/dl")

	_, err := c.Copy(ctx, fake.URI("/dl/nothing.txt"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, error_codes.ErrNotFound)
}

func TestDownloadHeader(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/dl/image.fits", []byte("pretend this is a FITS file"), nil)

	dst := filepath.Join(t.TempDir(), "image.hdr")
	_, err := c.Copy(ctx, fake.URI("/dl/image.fits"), dst, WithHead())
	require.NoError(t, err)
	header, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(header), "SIMPLE")

	var sawMeta bool
	for _, req := range fake.Requests() {
		if req.Path == "/vault/data/dl/image.fits" && req.Query == "META=true" {
			sawMeta = true
		}
	}
	assert.True(t, sawMeta)
}

func TestCutoutUnsupportedOnFileSystem(t *testing.T) {
	fake, c, ctx := newTestClient(t, "arc", nil)
	fake.AddData("/proj/image.fits", []byte("pixels"), nil)

	_, err := c.Copy(ctx, fake.URI("/proj/image.fits")+"[1]", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, error_codes.ErrUnsupported)
	assert.Equal(t, 0, fake.Count(http.MethodGet, "/arc/files"))
}

func TestDownloadFileSystemService(t *testing.T) {
	fake, c, ctx := newTestClient(t, "arc", nil)
	content := []byte("arc content")
	fake.AddData("/proj/a.txt", content, nil)

	result, err := c.Copy(ctx, fake.URI("/proj/a.txt"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, md5Hex(content), result.MD5)
	assert.Equal(t, 1, fake.Count(http.MethodGet, "/arc/files/proj/a.txt"))
	assert.Equal(t, 0, fake.Count(http.MethodPost, "/arc/synctrans"))
}

func TestUploadNegotiated(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddContainer("/up")
	content := []byte("uploaded through a negotiated endpoint")
	src := writeLocal(t, "local.txt", content)

	result, err := c.Copy(ctx, src, fake.URI("/up/remote.txt"))
	require.NoError(t, err)
	assert.Equal(t, fake.URI("/up/remote.txt"), result.Filename)
	assert.Equal(t, md5Hex(content), result.MD5)

	stored, ok := fake.Data("/up/remote.txt")
	require.True(t, ok)
	assert.Equal(t, content, stored)
	assert.Equal(t, 1, fake.Count(http.MethodPost, "/vault/synctrans"))
	assert.Equal(t, 1, fake.Count(http.MethodPut, "/vault/xfer/up/remote.txt"))
	for _, req := range fake.Requests() {
		if req.Method == http.MethodPut {
			assert.Equal(t, md5Hex(content), req.Header.Get("Content-MD5"))
		}
	}
}

func TestUploadIntoContainer(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddContainer("/up")
	src := writeLocal(t, "named.txt", []byte("keeps its name"))

	result, err := c.Copy(ctx, src, fake.URI("/up"))
	require.NoError(t, err)
	assert.Equal(t, fake.URI("/up/named.txt"), result.Filename)
	_, ok := fake.Data("/up/named.txt")
	assert.True(t, ok)
}

func TestUploadEmptyFile(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/up/was-full.txt", []byte("old content"), nil)
	src := writeLocal(t, "empty.txt", nil)

	result, err := c.Copy(ctx, src, fake.URI("/up/was-full.txt"))
	require.NoError(t, err)
	assert.Equal(t, md5_cache.ZeroMD5, result.MD5)
	assert.Equal(t, 1, fake.Count(http.MethodDelete, "/vault/nodes/up/was-full.txt"))
	assert.Equal(t, 1, fake.Count(http.MethodPut, "/vault/nodes/up/was-full.txt"))
	assert.Equal(t, 0, fake.Count(http.MethodPost, "/vault/synctrans"))

	n := fake.Node("/up/was-full.txt")
	require.NotNil(t, n)
	assert.Equal(t, int64(0), n.Length())
}

func TestUploadIdenticalIsSkipped(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	content := []byte("already there")
	fake.AddData("/up/same.txt", content, nil)
	src := writeLocal(t, "same.txt", content)

	result, err := c.Copy(ctx, src, fake.URI("/up/same.txt"))
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, md5Hex(content), result.MD5)
	assert.Equal(t, 1, fake.Count(http.MethodPost, "/vault/nodes/up/same.txt"), "the node is touched instead")
	assert.Equal(t, 0, fake.Count(http.MethodPut, "/vault/xfer"))
	assert.Equal(t, 0, fake.Count(http.MethodPost, "/vault/synctrans"))
}

func TestUploadFileSystemShortcut(t *testing.T) {
	fake, c, ctx := newTestClient(t, "arc", nil)
	fake.AddContainer("/proj")
	content := []byte("straight to the files endpoint")
	src := writeLocal(t, "direct.txt", content)

	_, err := c.Copy(ctx, src, fake.URI("/proj/direct.txt"))
	require.NoError(t, err)
	stored, ok := fake.Data("/proj/direct.txt")
	require.True(t, ok)
	assert.Equal(t, content, stored)
	assert.Equal(t, 1, fake.Count(http.MethodPut, "/arc/files/proj/direct.txt"))
	assert.Equal(t, 0, fake.Count(http.MethodPost, "/arc/synctrans"))
}

func TestUploadMissingSource(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)

	_, err := c.Copy(ctx, filepath.Join(t.TempDir(), "nope.txt"), fake.URI("/x.txt"))
	assert.ErrorIs(t, err, error_codes.ErrNotFound)
}

func TestCopyNeedsOneRemote(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)

	_, err := c.Copy(ctx, fake.URI("/a"), fake.URI("/b"))
	assert.ErrorIs(t, err, error_codes.ErrUnsupported)

	_, err = c.Copy(ctx, "/tmp/a", "/tmp/b")
	assert.ErrorIs(t, err, error_codes.ErrBadRequest)
}
