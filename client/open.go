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
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/transfer"
	"github.com/opencadc/govos/vos_url"
)

// OpenOptions selects what a transfer opened on a node reads or writes.
type OpenOptions struct {
	Method          string
	View            string
	Cutout          string
	Range           string
	PartialRead     bool
	FullNegotiation bool
	Limit           *int
	NextURI         string
	Sort            string
	Order           string
}

func isDataView(view string) bool {
	return view == vos_url.ViewData || view == vos_url.ViewCutout || view == vos_url.ViewHeader
}

// Open resolves uri to candidate URLs and returns an unsent transfer on
// them.  For data views, link nodes are followed to their targets; a
// target outside VOSpace is opened directly.
func (c *Client) Open(ctx context.Context, uri string, opts OpenOptions, extra ...transfer.Option) (*transfer.Transfer, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var urls []string
	if vos_url.IsHTTP(uri) {
		urls = []string{uri}
	} else {
		fixed, err := c.FixURI(uri)
		if err != nil {
			return nil, err
		}
		var external string
		if method == http.MethodGet && isDataView(opts.View) {
			if fixed, external, err = c.resolveLinks(ctx, fixed); err != nil {
				return nil, err
			}
		}
		if external != "" {
			if opts.Cutout != "" {
				sep := "?"
				if strings.Contains(external, "?") {
					sep = "&"
				}
				external += sep + "cutout=" + url.QueryEscape(opts.Cutout)
			}
			urls = []string{external}
		} else {
			urls, err = c.negotiator.ResolveURL(ctx, fixed, negotiation.Request{
				Method:          method,
				View:            opts.View,
				Cutout:          opts.Cutout,
				Limit:           opts.Limit,
				Sort:            opts.Sort,
				Order:           opts.Order,
				NextURI:         opts.NextURI,
				FullNegotiation: opts.FullNegotiation,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	xopts := c.xferOpts()
	if opts.Range != "" {
		xopts = append(xopts, transfer.WithRange(opts.Range))
	}
	if opts.PartialRead {
		xopts = append(xopts, transfer.WithPartialRead())
	}
	xopts = append(xopts, extra...)
	return transfer.Open(ctx, c.session, urls, method, xopts...)
}

// resolveLinks follows link nodes from uri.  It returns either the final
// node URI or, for a link leaving VOSpace, the external URL.
func (c *Client) resolveLinks(ctx context.Context, uri string) (string, string, error) {
	for hops := 0; ; hops++ {
		n, err := c.lookupNode(ctx, uri)
		if err != nil {
			return "", "", err
		}
		if !n.IsLink() {
			return uri, "", nil
		}
		if hops >= c.maxLinkHops {
			return "", "", error_codes.New(error_codes.KindProtocol, uri, "too many link hops (%d)", hops)
		}
		if vos_url.IsHTTP(n.Target) || !vos_url.IsRemote(n.Target) {
			log.Debugf("Link %s points outside VOSpace to %s", uri, n.Target)
			return "", n.Target, nil
		}
		if uri, err = c.FixURI(n.Target); err != nil {
			return "", "", err
		}
	}
}
