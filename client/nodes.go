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
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
	"github.com/opencadc/govos/transfer"
	"github.com/opencadc/govos/vos_url"
)

type (
	// GetNodeOptions controls a metadata fetch.  A nil Limit lets the
	// service pick the page size; a limit of 0 fetches the node alone.
	GetNodeOptions struct {
		Limit *int
		Force bool
	}

	ListOptions struct {
		Limit int
		Sort  string
		Order string
		Force bool
	}

	// Paginator walks the children of a container one page at a time.  It
	// is not restartable; once Next returns io.EOF a new Paginator is
	// needed to list again.
	Paginator struct {
		c      *Client
		uri    string
		opts   ListOptions
		cursor string
		page   []*node.Node
		done   bool
	}

	// InfoEntry pairs a node name with its listing attributes.
	InfoEntry struct {
		Name string
		Info node.Info
	}
)

// fetchNode reads the node document of uri from the service.
func (c *Client) fetchNode(ctx context.Context, uri string, req negotiation.Request) (*node.Node, error) {
	req.Method = http.MethodGet
	urls, err := c.negotiator.ResolveURL(ctx, uri, req)
	if err != nil {
		return nil, err
	}
	xfer, err := transfer.Open(ctx, c.session, urls, http.MethodGet, c.xferOpts()...)
	if err != nil {
		return nil, err
	}
	body, err := xfer.ReadAll()
	if err != nil {
		return nil, err
	}
	n, err := node.Decode(body)
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindProtocol, uri, err, "malformed node document")
	}
	return n, nil
}

// satisfies reports whether a cached node answers a request with limit.
// Containers cached from a parent listing carry no children.
func satisfies(n *node.Node, limit *int) bool {
	if !n.IsDir() || (limit != nil && *limit == 0) {
		return true
	}
	_, loaded := n.Children()
	return loaded
}

// GetNode returns the node at uri, from the cache unless forced.  Children
// of a container are loaded in full, a page at a time, when the first page
// comes back full; each child is also cached.
func (c *Client) GetNode(ctx context.Context, uri string, opts GetNodeOptions) (*node.Node, error) {
	uri, err := c.FixURI(uri)
	if err != nil {
		return nil, err
	}
	if !opts.Force {
		if n, ok := c.cache.Lookup(uri); ok && satisfies(n, opts.Limit) {
			return n, nil
		}
	}

	w, err := c.cache.Watch(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	if !opts.Force {
		if n, ok := c.cache.Lookup(uri); ok && satisfies(n, opts.Limit) {
			return n, nil
		}
	}

	n, err := c.fetchNode(ctx, uri, negotiation.Request{Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	if n.IsDir() && opts.Limit != nil && *opts.Limit == 0 {
		n.UnloadChildren()
	} else if n.IsDir() {
		if err := c.loadAllChildren(ctx, n, opts.Limit); err != nil {
			return nil, err
		}
		children, _ := n.Children()
		c.insertChildren(ctx, children)
	}
	w.Insert(n)
	return n, nil
}

// loadAllChildren appends the remaining pages of a container whose first
// page was full.  Continuation pages start at the cursor, so they are
// requested one entry larger.
func (c *Client) loadAllChildren(ctx context.Context, n *node.Node, limit *int) error {
	children, _ := n.Children()
	pageSize := c.listingLimit
	if limit != nil {
		pageSize = *limit
	}
	if len(children) < pageSize {
		return nil
	}
	pageLimit := negotiation.Limit(pageSize + 1)
	for {
		cursor := children[len(children)-1].URI
		page, err := c.fetchNode(ctx, n.URI, negotiation.Request{Limit: pageLimit, NextURI: cursor})
		if err != nil {
			return err
		}
		next, _ := page.Children()
		full := len(next) > pageSize
		if len(next) > 0 && next[0].URI == cursor {
			next = next[1:]
		}
		if len(next) == 0 {
			break
		}
		children = append(children, next...)
		if !full {
			break
		}
	}
	n.SetChildren(children)
	return nil
}

func (c *Client) insertChildren(ctx context.Context, children []*node.Node) {
	for _, child := range children {
		w, err := c.cache.Watch(ctx, child.URI)
		if err != nil {
			return
		}
		w.Insert(child)
		w.Close()
	}
}

// lookupNode returns the node without its children, sharing a single
// fetch between concurrent callers.
func (c *Client) lookupNode(ctx context.Context, uri string) (*node.Node, error) {
	return c.cache.LookupOrBuild(ctx, uri, func(ctx context.Context) (*node.Node, error) {
		n, err := c.fetchNode(ctx, uri, negotiation.Request{Limit: negotiation.Limit(0)})
		if err != nil {
			return nil, err
		}
		n.UnloadChildren()
		return n, nil
	})
}

// followLinks resolves link nodes until a non-link node is found.  ok is
// false when a link points outside VOSpace.
func (c *Client) followLinks(ctx context.Context, uri string, opts GetNodeOptions) (n *node.Node, ok bool, err error) {
	for hops := 0; ; hops++ {
		n, err = c.GetNode(ctx, uri, opts)
		if err != nil {
			return nil, false, err
		}
		if !n.IsLink() {
			return n, true, nil
		}
		if hops >= c.maxLinkHops {
			return nil, false, error_codes.New(error_codes.KindProtocol, uri, "too many link hops (%d)", hops)
		}
		if vos_url.IsHTTP(n.Target) || !vos_url.IsRemote(n.Target) {
			return n, false, nil
		}
		uri = n.Target
	}
}

// Children starts a paginated listing of uri.
func (c *Client) Children(uri string, opts ListOptions) (*Paginator, error) {
	fixed, err := c.FixURI(uri)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = c.listingLimit
	}
	return &Paginator{c: c, uri: fixed, opts: opts}, nil
}

// Next returns the next child, or io.EOF once the listing is exhausted.
func (p *Paginator) Next(ctx context.Context) (*node.Node, error) {
	for len(p.page) == 0 {
		if p.done {
			return nil, io.EOF
		}
		if err := p.fill(ctx); err != nil {
			return nil, err
		}
	}
	child := p.page[0]
	p.page = p.page[1:]
	return child, nil
}

func (p *Paginator) fill(ctx context.Context) error {
	if p.cursor == "" && !p.opts.Force && p.opts.Sort == "" && p.opts.Order == "" {
		if n, ok := p.c.cache.Lookup(p.uri); ok && n.IsDir() {
			if children, loaded := n.Children(); loaded {
				p.page = append([]*node.Node(nil), children...)
				p.done = true
				return nil
			}
		}
	}

	// Pages after the first start with the cursor entry itself
	limit := p.opts.Limit
	if p.cursor != "" {
		limit++
	}
	n, err := p.c.fetchNode(ctx, p.uri, negotiation.Request{
		Limit:   negotiation.Limit(limit),
		Sort:    p.opts.Sort,
		Order:   p.opts.Order,
		NextURI: p.cursor,
	})
	if err != nil {
		return err
	}
	if n.IsLink() {
		return error_codes.New(error_codes.KindBadRequest, p.uri, "cannot list a link node; list its target %s", n.Target)
	}
	page, _ := n.Children()
	if len(page) < limit {
		p.done = true
	}
	if p.cursor != "" && len(page) > 0 && page[0].URI == p.cursor {
		page = page[1:]
	}
	if len(page) == 0 {
		p.done = true
		return nil
	}
	p.cursor = page[len(page)-1].URI
	p.c.insertChildren(ctx, page)
	p.page = page
	return nil
}

// All drains the paginator.
func (p *Paginator) All(ctx context.Context) ([]*node.Node, error) {
	var result []*node.Node
	for {
		child, err := p.Next(ctx)
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result = append(result, child)
	}
}

// ListDir returns the child names of the container at uri, following links.
func (c *Client) ListDir(ctx context.Context, uri string, force bool) ([]string, error) {
	n, ok, err := c.followLinks(ctx, uri, GetNodeOptions{Force: force})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, error_codes.New(error_codes.KindUnsupported, uri, "link target %s is outside VOSpace", n.Target)
	}
	if !n.IsDir() {
		return nil, error_codes.New(error_codes.KindBadRequest, uri, "not a container node")
	}
	children, _ := n.Children()
	names := make([]string, 0, len(children))
	for _, child := range children {
		names = append(names, child.Name())
	}
	return names, nil
}

// GetInfoList returns the listing attributes of a node, or of each child
// when it is a container.  Links are followed to their target; a link out
// of VOSpace is listed as itself.
func (c *Client) GetInfoList(ctx context.Context, uri string, opts ListOptions) ([]InfoEntry, error) {
	n, _, err := c.followLinks(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: opts.Force})
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return []InfoEntry{{Name: n.Name(), Info: n.ComputeInfo()}}, nil
	}
	pager, err := c.Children(n.URI, opts)
	if err != nil {
		return nil, err
	}
	var entries []InfoEntry
	for {
		child, err := pager.Next(ctx)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, InfoEntry{Name: child.Name(), Info: child.ComputeInfo()})
	}
}

// IsDir reports whether uri is a container, following links.  A missing
// node or a link out of VOSpace is not a directory.
func (c *Client) IsDir(ctx context.Context, uri string) (bool, error) {
	n, ok, err := c.followLinks(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0)})
	if errors.Is(err, error_codes.ErrNotFound) {
		return false, nil
	}
	if err != nil || !ok {
		return false, err
	}
	return n.IsDir(), nil
}

// IsFile reports whether uri is a data node, following links.
func (c *Client) IsFile(ctx context.Context, uri string) (bool, error) {
	n, ok, err := c.followLinks(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0)})
	if errors.Is(err, error_codes.ErrNotFound) {
		return false, nil
	}
	if err != nil || !ok {
		return false, err
	}
	return n.IsFile(), nil
}

// Access reports whether uri can be opened with mode (os.O_RDONLY or
// os.O_WRONLY).  Missing nodes and permission failures are reported as
// false rather than as errors; locked nodes are not writable.
func (c *Client) Access(ctx context.Context, uri string, mode int) (bool, error) {
	n, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0)})
	switch {
	case errors.Is(err, error_codes.ErrNotFound), errors.Is(err, error_codes.ErrUnauthorized):
		log.Debugf("No access to %s: %v", uri, err)
		return false, nil
	case err != nil:
		return false, err
	}
	if mode&(os.O_WRONLY|os.O_RDWR) != 0 && n.IsLocked() {
		return false, nil
	}
	return true, nil
}

// Size is the length of the data behind uri, following links.
func (c *Client) Size(ctx context.Context, uri string) (int64, error) {
	n, ok, err := c.followLinks(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0)})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, error_codes.New(error_codes.KindUnsupported, uri, "link target %s is outside VOSpace", n.Target)
	}
	return n.Length(), nil
}

// Status reports whether the node exists on the service and is open for
// writing (not locked).  The service copy is always consulted.
func (c *Client) Status(ctx context.Context, uri string) (bool, error) {
	n, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return false, err
	}
	return !n.IsLocked(), nil
}

// exists reports whether uri names a node, treating only NotFound as no.
func (c *Client) exists(ctx context.Context, uri string) (*node.Node, bool, error) {
	n, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if errors.Is(err, error_codes.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}
