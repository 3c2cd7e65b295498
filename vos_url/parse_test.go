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

package vos_url

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultAuthority(scheme string) (string, error) {
	if scheme == "vos" {
		return "cadc.nrc.ca!vault", nil
	}
	if scheme == "arc" {
		return "cadc.nrc.ca!arc", nil
	}
	return "", errors.Errorf("unknown scheme %s", scheme)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		root string
		want string
	}{
		{"full", "vos://cadc.nrc.ca!vault/dir/file.txt", "", "vos://cadc.nrc.ca!vault/dir/file.txt"},
		{"opaque", "vos:dir/file.txt", "", "vos://cadc.nrc.ca!vault/dir/file.txt"},
		{"rooted", "vos:/dir/file.txt", "", "vos://cadc.nrc.ca!vault/dir/file.txt"},
		{"other-scheme", "arc:projects/x", "", "vos://cadc.nrc.ca!arc/projects/x"},
		{"relative", "file.txt", "vos:home", "vos://cadc.nrc.ca!vault/home/file.txt"},
		{"relative-root-colon", "file.txt", "vos:", "vos://cadc.nrc.ca!vault/file.txt"},
		{"cleaned", "vos://cadc.nrc.ca!vault/dir//sub/../file", "", "vos://cadc.nrc.ca!vault/dir/file"},
		{"trailing-slash", "vos://cadc.nrc.ca!vault/dir/", "", "vos://cadc.nrc.ca!vault/dir"},
		{"root", "vos:", "", "vos://cadc.nrc.ca!vault/"},
		{"cutout", "vos:dir/a.fits[1][1:10,1:10]", "", "vos://cadc.nrc.ca!vault/dir/a.fits[1][1:10,1:10]"},
		{"link-redirect", "vos:dir/x?link=vos://cadc.nrc.ca!vault/target", "", "vos://cadc.nrc.ca!vault/target"},
		{"query-kept", "vos:dir/x?limit=5", "", "vos://cadc.nrc.ca!vault/dir/x?limit=5"},
		{"accented", "vos:u/données.txt", "", "vos://cadc.nrc.ca!vault/u/données.txt"},
		{"accented-full", "vos://cadc.nrc.ca!vault/café/ñ.fits", "", "vos://cadc.nrc.ca!vault/café/ñ.fits"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.raw, WithRootNode(tc.root), WithAuthority(vaultAuthority))
			require.NoError(t, err)
			assert.Equal(t, tc.want, parsed.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("file.txt", WithAuthority(vaultAuthority))
	assert.Error(t, err, "relative path with no root node")

	_, err = Parse("vos:dir/bad name", WithAuthority(vaultAuthority))
	assert.Error(t, err, "space is not a legal node name character")

	_, err = Parse("vos:dir/x")
	assert.Error(t, err, "no authority available")

	_, err = Parse("vos:a?link=vos:a", WithAuthority(vaultAuthority), WithMaxLinkHops(3))
	assert.ErrorContains(t, err, "too many link= redirections")
}

func TestVOSURLParts(t *testing.T) {
	parsed, err := Parse("vos://cadc.nrc.ca!vault/dir/sub/file")
	require.NoError(t, err)
	assert.Equal(t, "file", parsed.Name())
	assert.Equal(t, "vos://cadc.nrc.ca!vault/dir/sub", parsed.Parent().String())
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("vos:dir"))
	assert.True(t, IsRemote("vos://cadc.nrc.ca!vault/dir"))
	assert.True(t, IsRemote("https://example.com/x"))
	assert.False(t, IsRemote("/tmp/file"))
	assert.False(t, IsRemote("relative/file"))
	assert.False(t, IsRemote("C:\\data\\file"))
	assert.False(t, IsRemote("dir/with:colon"))
}

func TestResourceID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"vos://cadc.nrc.ca!vault/dir", "ivo://cadc.nrc.ca/vault"},
		{"vos://cadc.nrc.ca~vault/dir", "ivo://cadc.nrc.ca/vault"},
		{"vos://cadc.nrc.ca!arc!projects/dir", "ivo://cadc.nrc.ca/arc/projects"},
		{"vos:dir", "ivo://cadc.nrc.ca/vault"},
		{"arc:dir", "ivo://cadc.nrc.ca/arc"},
	}
	for _, tc := range tests {
		got, err := ResourceID(tc.raw, "cadc.nrc.ca")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	got, err := ResourceID("cavern:x", "opencadc.org")
	require.NoError(t, err)
	assert.Equal(t, "ivo://opencadc.org/cavern", got)

	_, err = ResourceID("dir/x", "cadc.nrc.ca")
	assert.Error(t, err)
}

func TestAuthorityFromResourceID(t *testing.T) {
	assert.Equal(t, "cadc.nrc.ca!vault", AuthorityFromResourceID("ivo://cadc.nrc.ca/vault"))
	assert.Equal(t, "cadc.nrc.ca!arc!projects", AuthorityFromResourceID("ivo://cadc.nrc.ca/arc/projects"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "vos://h!v/dir/x", Join("vos://h!v/dir", "x"))
	assert.Equal(t, "vos://h!v/x", Join("vos://h!v/", "x"))
}
