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
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/param"
	"github.com/opencadc/govos/test_utils"
	"github.com/opencadc/govos/transfer"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// newTestClient starts a fake service and a client rooted at its top
// container.  Extra configuration overrides apply on top of the test
// defaults.
func newTestClient(t *testing.T, service string, overrides map[string]interface{}, opts ...Option) (*test_utils.FakeVOSpace, *Client, context.Context) {
	fake := test_utils.NewFakeVOSpace(t, service)
	settings := map[string]interface{}{
		param.Client_RegistryURL.GetName(): fake.RegistryURL(),
	}
	for key, value := range overrides {
		settings[key] = value
	}
	test_utils.InitClient(t, settings)

	ctx, cancel, _ := test_utils.TestContext(context.Background(), t)
	t.Cleanup(cancel)
	opts = append([]Option{WithRootNode(fake.URI("/")), WithSleeper(noSleep)}, opts...)
	c, err := New(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return fake, c, ctx
}

func TestFixURI(t *testing.T) {
	fake, c, _ := newTestClient(t, "vault", nil)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"relative", "dir/file.txt", fake.URI("/dir/file.txt")},
		{"full", fake.URI("/dir/file.txt"), fake.URI("/dir/file.txt")},
		{"opaque", "vos:dir/file.txt", fake.URI("/dir/file.txt")},
		{"cleaned", "vos:dir//sub/../file.txt", fake.URI("/dir/file.txt")},
		{"http", "https://example.org/x?y=1", "https://example.org/x?y=1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.FixURI(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := c.FixURI("vos://cadc.nrc.ca!vault/%zz")
	assert.True(t, errors.Is(err, error_codes.ErrBadRequest), "got %v", err)
}

func TestGetNodeURL(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil)
	fake.AddData("/dir/a.txt", []byte("hello"), nil)

	urls, err := c.GetNodeURL(ctx, "dir/a.txt", negotiation.Request{Method: http.MethodGet})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, fake.Server.URL+"/vault/nodes/dir/a.txt", urls[0])
}

func TestCredentialHeaders(t *testing.T) {
	fake, c, ctx := newTestClient(t, "vault", nil, WithCredentials(Credentials{
		Token:   "secret-token",
		Cookies: []*http.Cookie{{Name: "CADC_SSO", Value: "cookie-value"}},
	}))
	fake.AddContainer("/dir")

	_, err := c.GetNode(ctx, "dir", GetNodeOptions{})
	require.NoError(t, err)

	var seen bool
	for _, req := range fake.Requests() {
		if strings.HasPrefix(req.Path, "/vault/nodes/dir") {
			seen = true
			assert.Equal(t, "secret-token", req.Header.Get(transfer.HeaderToken))
			assert.Contains(t, req.Header.Get("Cookie"), "CADC_SSO=cookie-value")
			assert.True(t, strings.HasPrefix(req.Header.Get("User-Agent"), "govos/"))
		}
	}
	assert.True(t, seen)
	assert.ElementsMatch(t, []string{"cookie", "token"}, Credentials{Token: "x", Cookies: []*http.Cookie{{Name: "a"}}}.SecurityMethods())
}

func TestNewHTTPClientBadCert(t *testing.T) {
	test_utils.InitClient(t, nil)
	certFile := filepath.Join(t.TempDir(), "cadcproxy.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0600))

	_, err := NewHTTPClient(Credentials{CertFile: certFile})
	require.Error(t, err)
	assert.Equal(t, error_codes.KindUnauthorized, error_codes.KindOf(err))

	httpClient, err := NewHTTPClient(Credentials{})
	require.NoError(t, err)
	assert.NotNil(t, httpClient.CheckRedirect, "redirects are handled by the transfer layer")
}
