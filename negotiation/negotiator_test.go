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

package negotiation

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencadc/govos/endpoints"
	"github.com/opencadc/govos/error_codes"
)

var noRedirectClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

type staticResolver struct {
	set *endpoints.EndpointSet
}

func (sr staticResolver) Resolve(ctx context.Context, uri string) (*endpoints.EndpointSet, error) {
	return sr.set, nil
}

const negotiatedTemplate = `<vos:transfer xmlns:vos="http://www.ivoa.net/xml/VOSpace/v2.0" version="2.1">
  <vos:target>vos://cadc.nrc.ca!vault/dir/a.fits</vos:target>
  <vos:direction>pullFromVoSpace</vos:direction>
  %s
</vos:transfer>`

type service struct {
	server    *httptest.Server
	posted    []byte
	filesHits int
	endpoints []string
	jobError  string
}

func newService(t *testing.T) *service {
	svc := &service{}
	mux := http.NewServeMux()
	mux.HandleFunc("/synctrans", func(w http.ResponseWriter, r *http.Request) {
		svc.posted, _ = io.ReadAll(r.Body)
		http.Redirect(w, r, "/synctrans/42/results/transferDetails", http.StatusSeeOther)
	})
	mux.HandleFunc("/synctrans/42/results/transferDetails", func(w http.ResponseWriter, r *http.Request) {
		var protocols strings.Builder
		for _, ep := range svc.endpoints {
			fmt.Fprintf(&protocols, `<vos:protocol uri="ivo://ivoa.net/vospace/core#httpsget"><vos:endpoint>%s</vos:endpoint></vos:protocol>`, ep)
		}
		fmt.Fprintf(w, negotiatedTemplate, protocols.String())
	})
	mux.HandleFunc("/synctrans/42/error", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, svc.jobError)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		svc.filesHits++
		if strings.HasSuffix(r.URL.Path, "missing.fits") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Location", "https://storage.example.org/bytes/a.fits?"+r.URL.RawQuery)
		w.WriteHeader(http.StatusSeeOther)
	})
	svc.server = httptest.NewServer(mux)
	t.Cleanup(svc.server.Close)
	return svc
}

func (svc *service) set(fsType bool) *endpoints.EndpointSet {
	return &endpoints.EndpointSet{
		ResourceID:     "ivo://cadc.nrc.ca/vault",
		Nodes:          svc.server.URL + "/nodes",
		Files:          svc.server.URL + "/files",
		Transfer:       svc.server.URL + "/synctrans",
		AsyncTransfer:  svc.server.URL + "/async",
		FileSystemType: fsType,
	}
}

func newNegotiator(set *endpoints.EndpointSet, opts ...NegotiatorOption) *Negotiator {
	return New(staticResolver{set: set}, noRedirectClient, opts...)
}

func TestHTTPPassthrough(t *testing.T) {
	n := newNegotiator(nil)
	urls, err := n.ResolveURL(context.Background(), "https://example.org/x", Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/x"}, urls)
}

func TestNodeURL(t *testing.T) {
	svc := newService(t)
	n := newNegotiator(svc.set(false))
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/sub", Request{
		Limit:   Limit(0),
		Sort:    SortDate,
		Order:   OrderDesc,
		NextURI: "vos://cadc.nrc.ca!vault/dir/sub/b",
	})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.True(t, strings.HasPrefix(urls[0], svc.server.URL+"/nodes/dir/sub?"))
	assert.Contains(t, urls[0], "limit=0")
	assert.Contains(t, urls[0], "sort=ivo%3A%2F%2Fivoa.net%2Fvospace%2Fcore%23date")
	assert.Contains(t, urls[0], "order=desc")
	assert.Contains(t, urls[0], "uri=vos%3A%2F%2Fcadc.nrc.ca%21vault%2Fdir%2Fsub%2Fb")

	del, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/sub", Request{Method: http.MethodDelete})
	require.NoError(t, err)
	assert.Equal(t, []string{svc.server.URL + "/nodes/dir/sub"}, del)
}

func TestRequestValidation(t *testing.T) {
	svc := newService(t)
	n := newNegotiator(svc.set(false))
	for name, req := range map[string]Request{
		"cutout view without cutout": {View: "cutout"},
		"cutout without cutout view": {View: "data", Cutout: "[1]"},
		"bad sort":                   {Sort: "name"},
		"bad order":                  {Order: "up"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/a", req)
			assert.ErrorIs(t, err, error_codes.ErrBadRequest)
		})
	}

	fs := newNegotiator(svc.set(true))
	_, err := fs.ResolveURL(context.Background(), "vos://cadc.nrc.ca!arc/a", Request{View: "header"})
	assert.ErrorIs(t, err, error_codes.ErrUnsupported)
}

func TestFilesShortcutDatabaseService(t *testing.T) {
	svc := newService(t)
	n := newNegotiator(svc.set(false))
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/a.fits", Request{
		View:   "cutout",
		Cutout: "[1][10:20,5:15]",
	})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.True(t, strings.HasPrefix(urls[0], "https://storage.example.org/bytes/a.fits?"))
	assert.Contains(t, urls[0], "SUB=%5B1%5D%5B10%3A20%2C5%3A15%5D")
	assert.Nil(t, svc.posted, "no negotiation when the shortcut works")
}

func TestFilesShortcutFileSystemService(t *testing.T) {
	svc := newService(t)
	n := newNegotiator(svc.set(true))
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!arc/dir/a.fits", Request{View: "data"})
	require.NoError(t, err)
	assert.Equal(t, []string{svc.server.URL + "/files/dir/a.fits"}, urls)
	assert.Zero(t, svc.filesHits, "filesystem services are not queried")

	put, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!arc/dir/a.fits", Request{Method: http.MethodPut})
	require.NoError(t, err)
	assert.Equal(t, []string{svc.server.URL + "/files/dir/a.fits"}, put)
}

func TestShortcutFailureFallsThrough(t *testing.T) {
	svc := newService(t)
	svc.endpoints = []string{"https://se1.example.org/a", "https://se2.example.org/a"}
	n := newNegotiator(svc.set(false), WithSecurityMethods(endpoints.SecurityCertificate))
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/missing.fits", Request{View: "data"})
	require.NoError(t, err)
	assert.Equal(t, svc.endpoints, urls)
	assert.Equal(t, 1, svc.filesHits)

	var doc struct {
		Version   string `xml:"version,attr"`
		Target    string `xml:"target"`
		Direction string `xml:"direction"`
		Protocols []struct {
			URI      string `xml:"uri,attr"`
			Security struct {
				URI string `xml:"uri,attr"`
			} `xml:"securityMethod"`
		} `xml:"protocol"`
	}
	require.NoError(t, xml.Unmarshal(svc.posted, &doc))
	assert.Equal(t, "2.1", doc.Version)
	assert.Equal(t, "vos://cadc.nrc.ca!vault/dir/missing.fits", doc.Target)
	assert.Equal(t, DirectionPull, doc.Direction)
	require.Len(t, doc.Protocols, 2)
	assert.Equal(t, endpoints.SecurityCertificate, doc.Protocols[0].Security.URI)
	assert.Empty(t, doc.Protocols[1].Security.URI)
}

func TestFullNegotiationPut(t *testing.T) {
	svc := newService(t)
	svc.endpoints = []string{"https://se1.example.org/a"}
	n := newNegotiator(svc.set(false))
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/a.fits", Request{Method: http.MethodPut})
	require.NoError(t, err)
	assert.Equal(t, svc.endpoints, urls)
	assert.Contains(t, string(svc.posted), "<vos:direction>pushToVoSpace</vos:direction>")
	assert.Contains(t, string(svc.posted), ProtocolHTTPSPut)
}

func TestNegotiatedCutoutCarriesView(t *testing.T) {
	svc := newService(t)
	svc.endpoints = []string{"https://se1.example.org/a"}
	n := newNegotiator(svc.set(false))
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/a.fits", Request{
		View: "cutout", Cutout: "CIRCLE=10 20 0.5", FullNegotiation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://se1.example.org/a?CIRCLE=10+20+0.5"}, urls)
	assert.Contains(t, string(svc.posted), `<vos:view uri="ivo://ivoa.net/vospace/core#cutout">`)
	assert.Contains(t, string(svc.posted), `<vos:param uri="ivo://ivoa.net/vospace/core#cutout">CIRCLE=10 20 0.5</vos:param>`)
	assert.Zero(t, svc.filesHits)
}

func TestCanaryHostReversesEndpoints(t *testing.T) {
	svc := newService(t)
	svc.endpoints = []string{"https://se1.example.org/a", "https://se2.example.org/a"}
	set := svc.set(false)
	set.Nodes = "https://rc-ws.example.org/vault/nodes"
	n := newNegotiator(set)
	urls, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/a.fits", Request{View: "data", FullNegotiation: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://se2.example.org/a", "https://se1.example.org/a"}, urls)
}

func TestEmptyNegotiationReportsJobError(t *testing.T) {
	svc := newService(t)
	svc.jobError = "NodeNotFound: vos://cadc.nrc.ca!vault/dir/a.fits"
	n := newNegotiator(svc.set(false))
	_, err := n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/a.fits", Request{Method: http.MethodPut})
	assert.ErrorIs(t, err, error_codes.ErrNotFound)
	assert.ErrorContains(t, err, "NodeNotFound")

	svc.jobError = ""
	_, err = n.ResolveURL(context.Background(), "vos://cadc.nrc.ca!vault/dir/a.fits", Request{Method: http.MethodPut})
	assert.ErrorIs(t, err, error_codes.ErrProtocol)
}

func TestMoveDocument(t *testing.T) {
	body, err := MoveDocument("vos://cadc.nrc.ca!vault/a", "vos://cadc.nrc.ca!vault/b")
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "<vos:target>vos://cadc.nrc.ca!vault/a</vos:target>")
	assert.Contains(t, text, "<vos:direction>vos://cadc.nrc.ca!vault/b</vos:direction>")
	assert.Contains(t, text, "<vos:keepBytes>false</vos:keepBytes>")
	assert.NotContains(t, text, "protocol")
	assert.NotContains(t, text, "view")
}
