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

// Package negotiation turns a node URI and an intended use into the URLs a
// transfer should be sent to: either a direct shortcut URL on the files or
// nodes service, or the endpoints of a negotiated transfer document.
package negotiation

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/endpoints"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/node"
	"github.com/opencadc/govos/transfer"
	"github.com/opencadc/govos/uws"
	"github.com/opencadc/govos/vos_url"
)

type (
	// Resolver finds the service endpoints of a node URI.
	Resolver interface {
		Resolve(ctx context.Context, uri string) (*endpoints.EndpointSet, error)
	}

	// Request describes what the URL will be used for.  Limit is only sent
	// when non-nil, since a limit of 0 asks for the node alone.
	Request struct {
		Method          string
		View            string
		Cutout          string
		Limit           *int
		Sort            string
		Order           string
		NextURI         string
		FullNegotiation bool
	}

	Negotiator struct {
		resolver        Resolver
		session         transfer.Session
		securityMethods []string
		xferOpts        []transfer.Option
	}

	NegotiatorOption func(*Negotiator)
)

const (
	SortLength = "length"
	SortDate   = "date"

	OrderAsc  = "asc"
	OrderDesc = "desc"

	transferDetailsSuffix = "/results/transferDetails"
)

// Limit returns a pointer suitable for Request.Limit.
func Limit(n int) *int {
	return &n
}

// WithSecurityMethods advertises the active credential mechanisms in
// negotiated transfer documents.
func WithSecurityMethods(methods ...string) NegotiatorOption {
	return func(n *Negotiator) {
		n.securityMethods = methods
	}
}

// WithTransferOptions applies options (retry policy, auth headers) to the
// requests the negotiator itself makes.
func WithTransferOptions(opts ...transfer.Option) NegotiatorOption {
	return func(n *Negotiator) {
		n.xferOpts = append(n.xferOpts, opts...)
	}
}

func New(resolver Resolver, session transfer.Session, opts ...NegotiatorOption) *Negotiator {
	n := &Negotiator{resolver: resolver, session: session}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func isDataView(view string) bool {
	return view == vos_url.ViewData || view == vos_url.ViewCutout || view == vos_url.ViewHeader
}

func (req *Request) validate(uri string) error {
	if (req.View == vos_url.ViewCutout) != (req.Cutout != "") {
		return error_codes.New(error_codes.KindBadRequest, uri,
			"For cutout, must specify a view=cutout and for view=cutout must specify cutout")
	}
	switch req.Sort {
	case "", SortLength, SortDate:
	default:
		return error_codes.New(error_codes.KindBadRequest, uri, "sort must be %q or %q, not %q", SortLength, SortDate, req.Sort)
	}
	switch req.Order {
	case "", OrderAsc, OrderDesc:
	default:
		return error_codes.New(error_codes.KindBadRequest, uri, "order must be either %q or %q", OrderAsc, OrderDesc)
	}
	return nil
}

// ResolveURL returns the candidate URLs for req against uri, best first.
// http(s) URIs are returned unchanged.
func (n *Negotiator) ResolveURL(ctx context.Context, uri string, req Request) ([]string, error) {
	if vos_url.IsHTTP(uri) {
		return []string{uri}, nil
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if err := req.validate(uri); err != nil {
		return nil, err
	}
	set, err := n.resolver.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	parsed, err := vos_url.Parse(uri)
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindBadRequest, uri, err, "invalid node URI")
	}
	if set.FileSystemType && (req.Cutout != "" || req.View == vos_url.ViewHeader) {
		return nil, error_codes.New(error_codes.KindUnsupported, uri,
			"%s does not support cutouts or header operations", set.ResourceID)
	}

	switch {
	case req.Method == http.MethodGet && isDataView(req.View):
		if !req.FullNegotiation {
			if shortcut := n.filesShortcut(ctx, set, parsed, req); shortcut != "" {
				return []string{shortcut}, nil
			}
		}
		urls, err := n.Negotiate(ctx, set, uri, DirectionPull, req.View, req.Cutout)
		if err != nil {
			return nil, err
		}
		if params := vos_url.SODAParams(req.View, req.Cutout); len(params) > 0 {
			for idx := range urls {
				urls[idx] = appendQuery(urls[idx], params)
			}
		}
		return urls, nil
	case req.Method == http.MethodPut:
		if !req.FullNegotiation && set.FileSystemType && set.Files != "" {
			return []string{joinPath(set.Files, parsed.Path)}, nil
		}
		return n.Negotiate(ctx, set, uri, DirectionPush, "", "")
	default:
		return []string{nodeURL(set, parsed, req)}, nil
	}
}

func nodeURL(set *endpoints.EndpointSet, parsed *vos_url.VOSURL, req Request) string {
	query := url.Values{}
	if req.Limit != nil {
		query.Set("limit", strconv.Itoa(*req.Limit))
	}
	if req.Sort != "" {
		query.Set("sort", node.PropertyURI(req.Sort))
	}
	if req.Order != "" {
		query.Set("order", req.Order)
	}
	if req.View != "" {
		query.Set("view", req.View)
	}
	if req.NextURI != "" {
		query.Set("uri", req.NextURI)
	}
	return appendQuery(joinPath(set.Nodes, parsed.Path), query)
}

func joinPath(base, nodePath string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.Trim(nodePath, "/")
}

func appendQuery(target string, params url.Values) string {
	if len(params) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}

// filesShortcut returns the direct download URL of a node, or "" when the
// service has none or the request fails.
func (n *Negotiator) filesShortcut(ctx context.Context, set *endpoints.EndpointSet, parsed *vos_url.VOSURL, req Request) string {
	if set.Files == "" || strings.Trim(parsed.Path, "/") == "" {
		return ""
	}
	filesURL := appendQuery(joinPath(set.Files, parsed.Path), vos_url.SODAParams(req.View, req.Cutout))
	if set.FileSystemType {
		return filesURL
	}
	opts := append([]transfer.Option{transfer.WithFollowRedirects(false)}, n.xferOpts...)
	xfer, err := transfer.Open(ctx, n.session, []string{filesURL}, http.MethodGet, opts...)
	if err != nil {
		return ""
	}
	defer xfer.Close()
	location, err := xfer.Location()
	if err != nil || xfer.StatusCode() != http.StatusSeeOther {
		log.Debugf("Files shortcut for %s unavailable: %v", parsed, err)
		return ""
	}
	return location
}

// Negotiate POSTs a transfer document to the synchronous transfer endpoint
// and returns the negotiated endpoint URLs.
func (n *Negotiator) Negotiate(ctx context.Context, set *endpoints.EndpointSet, uri, direction, view, cutout string) ([]string, error) {
	doc := Document{
		Target:          uri,
		Direction:       direction,
		View:            view,
		Cutout:          cutout,
		SecurityMethods: n.securityMethods,
	}
	body, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	opts := append([]transfer.Option{
		transfer.WithBody(body),
		transfer.WithContentType("text/xml"),
	}, n.xferOpts...)
	xfer, err := transfer.Open(ctx, n.session, []string{set.Transfer}, http.MethodPost, opts...)
	if err != nil {
		return nil, err
	}
	result, err := xfer.ReadAll()
	if err != nil {
		return nil, err
	}
	urls, err := ParseEndpoints(set.Transfer, result)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, n.transferError(ctx, xfer.URL(), uri)
	}

	if nodes, err := url.Parse(set.Nodes); err == nil && strings.HasPrefix(nodes.Host, "rc") {
		// Canary hosts exercise fail-over deterministically
		for i, j := 0, len(urls)-1; i < j; i, j = i+1, j-1 {
			urls[i], urls[j] = urls[j], urls[i]
		}
	}
	log.Debugf("Negotiated %s of %s: %s", direction, uri, strings.Join(urls, ", "))
	return urls, nil
}

// transferError explains an empty negotiation result using the error
// document of the transfer job, when the result came from one.
func (n *Negotiator) transferError(ctx context.Context, resultURL, uri string) error {
	if strings.HasSuffix(resultURL, transferDetailsSuffix) {
		jobURL := strings.TrimSuffix(resultURL, transferDetailsSuffix)
		text, err := uws.ErrorText(ctx, n.session, jobURL, uws.WithTransferOptions(n.xferOpts...))
		if err == nil && text != "" {
			return error_codes.New(classifyJobError(text), uri, "%s", text)
		}
	}
	return error_codes.New(error_codes.KindProtocol, uri, "no transfer endpoints were negotiated")
}

// Move runs an asynchronous move of src to dst.
func (n *Negotiator) Move(ctx context.Context, src, dst string, opts ...uws.Option) (uws.Result, error) {
	set, err := n.resolver.Resolve(ctx, src)
	if err != nil {
		return uws.Result{}, err
	}
	if set.AsyncTransfer == "" {
		return uws.Result{}, error_codes.New(error_codes.KindUnsupported, src, "%s does not offer asynchronous transfers", set.ResourceID)
	}
	body, err := MoveDocument(src, dst)
	if err != nil {
		return uws.Result{}, err
	}
	opts = append([]uws.Option{uws.WithTransferOptions(n.xferOpts...)}, opts...)
	return uws.RunJob(ctx, n.session, set.AsyncTransfer, body, "text/xml", opts...)
}
