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
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node"
	"github.com/opencadc/govos/transfer"
	"github.com/opencadc/govos/uws"
	"github.com/opencadc/govos/vos_url"
)

const formContentType = "application/x-www-form-urlencoded"

// sendNode sends a request to the node service URL of uri.
func (c *Client) sendNode(ctx context.Context, uri, method string, body []byte) error {
	urls, err := c.negotiator.ResolveURL(ctx, uri, negotiation.Request{})
	if err != nil {
		return err
	}
	opts := c.xferOpts()
	if body != nil {
		opts = append(opts, transfer.WithBody(body), transfer.WithContentType("text/xml"))
	}
	xfer, err := transfer.Open(ctx, c.session, urls, method, opts...)
	if err != nil {
		return err
	}
	defer xfer.Close()
	return xfer.Send()
}

func (c *Client) putNode(ctx context.Context, n *node.Node) error {
	body, err := node.Encode(n)
	if err != nil {
		return err
	}
	return c.sendNode(ctx, n.URI, http.MethodPut, body)
}

// Mkdir creates a container node.  An existing node yields AlreadyExists.
func (c *Client) Mkdir(ctx context.Context, uri string) error {
	uri, err := c.FixURI(uri)
	if err != nil {
		return err
	}
	vol := c.cache.Volatile(uri)
	defer vol.Close()

	dir, err := node.New(uri, node.ContainerNode, nil)
	if err != nil {
		return err
	}
	if err := c.putNode(ctx, dir); err != nil {
		if error_codes.KindOf(err) == error_codes.KindAlreadyExists {
			return error_codes.Wrap(error_codes.KindAlreadyExists, uri, err, "node already exists")
		}
		return err
	}
	log.Debugf("Created container %s", uri)
	return nil
}

// Create makes an empty data node.
func (c *Client) Create(ctx context.Context, uri string) error {
	uri, err := c.FixURI(uri)
	if err != nil {
		return err
	}
	vol := c.cache.Volatile(uri)
	defer vol.Close()

	data, err := node.New(uri, node.DataNode, nil)
	if err != nil {
		return err
	}
	return c.putNode(ctx, data)
}

// Delete removes a single node.
func (c *Client) Delete(ctx context.Context, uri string) error {
	uri, err := c.FixURI(uri)
	if err != nil {
		return err
	}
	vol := c.cache.Volatile(uri)
	defer vol.Close()
	return c.sendNode(ctx, uri, http.MethodDelete, nil)
}

// RecursiveDelete removes uri and everything below it with a server-side
// job.  Nodes the job could not remove are counted in Result.Errors.
func (c *Client) RecursiveDelete(ctx context.Context, uri string) (uws.Result, error) {
	uri, err := c.FixURI(uri)
	if err != nil {
		return uws.Result{}, err
	}
	set, err := c.directory.Resolve(ctx, uri)
	if err != nil {
		return uws.Result{}, err
	}
	if set.RecursiveDelete == "" {
		return uws.Result{}, error_codes.New(error_codes.KindUnsupported, uri, "%s does not support recursive delete", set.ResourceID)
	}
	if _, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true}); err != nil {
		return uws.Result{}, err
	}

	vol := c.cache.Volatile(uri)
	defer vol.Close()
	body := []byte(url.Values{"target": {uri}}.Encode())
	return uws.RunJob(ctx, c.session, set.RecursiveDelete, body, formContentType, c.jobOpts()...)
}

// Update sends the properties of n to the service.  The recursive form
// applies them to the whole subtree through a job; the plain form always
// reports a single success.
func (c *Client) Update(ctx context.Context, n *node.Node, recursive bool) (uws.Result, error) {
	uri, err := c.FixURI(n.URI)
	if err != nil {
		return uws.Result{}, err
	}
	update := n.Clone()
	update.URI = uri
	update.SetChildren(nil)
	body, err := node.Encode(update)
	if err != nil {
		return uws.Result{}, err
	}

	vol := c.cache.Volatile(uri)
	defer vol.Close()
	if !recursive {
		if err := c.sendNode(ctx, uri, http.MethodPost, body); err != nil {
			return uws.Result{}, err
		}
		return uws.Result{Success: 1}, nil
	}

	set, err := c.directory.Resolve(ctx, uri)
	if err != nil {
		return uws.Result{}, err
	}
	if set.RecursiveProps == "" {
		return uws.Result{}, error_codes.New(error_codes.KindUnsupported, uri, "%s does not support recursive property updates", set.ResourceID)
	}
	if _, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true}); err != nil {
		return uws.Result{}, err
	}
	return uws.RunJob(ctx, c.session, set.RecursiveProps, body, "text/xml", c.jobOpts()...)
}

// AddProps sends only the properties of n that differ from the service
// copy.  Nil values (deletions) are always sent.
func (c *Client) AddProps(ctx context.Context, n *node.Node, recursive bool) (uws.Result, error) {
	current, err := c.GetNode(ctx, n.URI, GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return uws.Result{}, err
	}
	update := n.Clone()
	for _, prop := range n.Properties() {
		if prop.Value == nil {
			continue
		}
		if old, ok := current.Property(prop.Name); ok && old != nil && *old == *prop.Value {
			update.DeleteProperty(prop.Name)
		}
	}
	if len(update.Properties()) == 0 {
		log.Debugf("No property of %s changed", n.URI)
		return uws.Result{}, nil
	}
	return c.Update(ctx, update, recursive)
}

// Move renames src to dst with an asynchronous job.  Moving into an
// existing container keeps the source name.
func (c *Client) Move(ctx context.Context, src, dst string) error {
	src, err := c.FixURI(src)
	if err != nil {
		return err
	}
	if dst, err = c.FixURI(dst); err != nil {
		return err
	}
	srcVol := c.cache.Volatile(src)
	defer srcVol.Close()
	dstVol := c.cache.Volatile(dst)
	defer dstVol.Close()

	result, err := c.negotiator.Move(ctx, src, dst, c.jobOpts()...)
	if err != nil {
		return err
	}
	if result.Errors > 0 {
		return error_codes.New(error_codes.KindJobFailed, src, "move to %s reported %d errors", dst, result.Errors)
	}
	return nil
}

// Link creates a link node at linkURI pointing at target.  A link made
// inside an existing container takes the target's name.
func (c *Client) Link(ctx context.Context, target, linkURI string) error {
	target, err := c.FixURI(target)
	if err != nil {
		return err
	}
	if linkURI, err = c.FixURI(linkURI); err != nil {
		return err
	}
	if isDir, err := c.IsDir(ctx, linkURI); err != nil {
		return err
	} else if isDir {
		linkURI = vos_url.Join(linkURI, path.Base(target))
	}

	targetVol := c.cache.Volatile(target)
	defer targetVol.Close()
	linkVol := c.cache.Volatile(linkURI)
	defer linkVol.Close()

	link, err := node.NewLink(linkURI, target, nil)
	if err != nil {
		return err
	}
	return c.putNode(ctx, link)
}

// SetLocked locks or unlocks a node.  Only the lock property is sent.
func (c *Client) SetLocked(ctx context.Context, uri string, locked bool) error {
	n, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return err
	}
	update := n.Clone()
	update.ClearProperties()
	if n.IsLocked() {
		update.SetProperty(node.PropIsLocked, node.Str("true"))
	}
	if !update.SetLocked(locked) {
		return nil
	}
	_, err = c.Update(ctx, update, false)
	return err
}
