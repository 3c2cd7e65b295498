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

// Package client is the user-facing VOSpace API: node metadata, listings,
// copies in both directions, and the mutating operations.  A Client owns a
// node cache and an MD5 memo unless they are injected.
package client

import (
	"context"
	"sync"

	"github.com/lestrrat-go/option"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/endpoints"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/md5_cache"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/node_cache"
	"github.com/opencadc/govos/param"
	"github.com/opencadc/govos/transfer"
	"github.com/opencadc/govos/uws"
	"github.com/opencadc/govos/vos_url"
)

type (
	// Directory resolves node URIs to service endpoints.
	// *endpoints.Directory satisfies it.
	Directory interface {
		Resolve(ctx context.Context, uri string) (*endpoints.EndpointSet, error)
		Authority(scheme string) (string, error)
	}

	Client struct {
		rootNode   string
		creds      Credentials
		session    transfer.Session
		directory  Directory
		negotiator *negotiation.Negotiator
		cache      *node_cache.Cache
		md5        *md5_cache.Cache

		policy  *transfer.RetryPolicy
		sleeper transfer.Sleeper

		maxLinkHops     int
		maxIntermittent int
		listingLimit    int
		bufferSize      int

		ownCache  bool
		ownMD5    bool
		closeOnce sync.Once
	}

	Option = option.Interface

	identClientOptionRootNode    struct{}
	identClientOptionCredentials struct{}
	identClientOptionDirectory   struct{}
	identClientOptionCache       struct{}
	identClientOptionSession     struct{}
	identClientOptionRetryPolicy struct{}
	identClientOptionMD5Cache    struct{}
	identClientOptionSleeper     struct{}
)

const (
	defaultMaxLinkHops     = 10
	defaultMaxIntermittent = 3
	defaultListingLimit    = 500
	defaultBufferSize      = 8 << 20
)

// WithRootNode sets the node that relative paths are resolved against.
func WithRootNode(root string) Option {
	return option.New(identClientOptionRootNode{}, root)
}

// WithCredentials overrides the certificate and token from the configuration.
func WithCredentials(creds Credentials) Option {
	return option.New(identClientOptionCredentials{}, creds)
}

func WithDirectory(directory Directory) Option {
	return option.New(identClientOptionDirectory{}, directory)
}

// WithCache shares a node cache between clients.  A shared cache is not
// closed by Client.Close.
func WithCache(cache *node_cache.Cache) Option {
	return option.New(identClientOptionCache{}, cache)
}

// WithSession replaces the HTTP client.  Credential headers are still added.
func WithSession(session transfer.Session) Option {
	return option.New(identClientOptionSession{}, session)
}

func WithRetryPolicy(policy transfer.RetryPolicy) Option {
	return option.New(identClientOptionRetryPolicy{}, policy)
}

func WithMD5Cache(cache *md5_cache.Cache) Option {
	return option.New(identClientOptionMD5Cache{}, cache)
}

// WithSleeper replaces the backoff sleep of every transfer.
func WithSleeper(sleeper transfer.Sleeper) Option {
	return option.New(identClientOptionSleeper{}, sleeper)
}

// New builds a client from the Client.* configuration and opts.  The
// client is closed when ctx is done.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	c := &Client{
		rootNode: param.Client_RootNode.GetString(),
		creds: Credentials{
			CertFile: param.Client_CertFile.GetString(),
			Token:    param.Client_Token.GetString(),
		},
		maxLinkHops:     param.Client_MaxLinkHops.GetInt(),
		maxIntermittent: param.Client_MaxIntermittentRetries.GetInt(),
		listingLimit:    param.Client_ListingLimit.GetInt(),
		bufferSize:      int(param.Client_BufferSize.GetByteSize()),
	}
	if c.maxLinkHops <= 0 {
		c.maxLinkHops = defaultMaxLinkHops
	}
	if c.maxIntermittent < 0 {
		c.maxIntermittent = defaultMaxIntermittent
	}
	if c.listingLimit <= 0 {
		c.listingLimit = defaultListingLimit
	}
	if c.bufferSize <= 0 {
		c.bufferSize = defaultBufferSize
	}

	var session transfer.Session
	for _, opt := range opts {
		switch opt.Ident() {
		case identClientOptionRootNode{}:
			c.rootNode = opt.Value().(string)
		case identClientOptionCredentials{}:
			c.creds = opt.Value().(Credentials)
		case identClientOptionDirectory{}:
			c.directory = opt.Value().(Directory)
		case identClientOptionCache{}:
			c.cache = opt.Value().(*node_cache.Cache)
		case identClientOptionSession{}:
			session = opt.Value().(transfer.Session)
		case identClientOptionRetryPolicy{}:
			policy := opt.Value().(transfer.RetryPolicy)
			c.policy = &policy
		case identClientOptionMD5Cache{}:
			c.md5 = opt.Value().(*md5_cache.Cache)
		case identClientOptionSleeper{}:
			c.sleeper = opt.Value().(transfer.Sleeper)
		}
	}

	if session == nil {
		httpClient, err := NewHTTPClient(c.creds)
		if err != nil {
			return nil, err
		}
		session = httpClient
	}
	c.session = newAuthSession(session, c.creds)

	methods := c.creds.SecurityMethods()
	if c.directory == nil {
		c.directory = endpoints.NewDirectory(c.session, endpoints.WithSecurityMethods(methods...))
	}
	c.negotiator = negotiation.New(c.directory, c.session,
		negotiation.WithSecurityMethods(methods...),
		negotiation.WithTransferOptions(c.xferOpts()...),
	)
	if c.cache == nil {
		c.cache = node_cache.New(param.Client_NodeCacheTTL.GetDuration())
		c.ownCache = true
	}
	if c.md5 == nil {
		c.md5 = md5_cache.New(param.Client_MD5CacheFile.GetString())
		c.ownMD5 = true
	}
	if c.rootNode != "" {
		log.Debugf("Relative paths resolve under %s", c.rootNode)
	}

	context.AfterFunc(ctx, c.Close)
	return c, nil
}

// Close releases the caches the client created itself.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.ownCache {
			c.cache.Close()
		}
		if c.ownMD5 {
			if err := c.md5.Close(); err != nil {
				log.Debugln("Failed to close the MD5 cache:", err)
			}
		}
	})
}

// Cache is the node cache the client reads through.
func (c *Client) Cache() *node_cache.Cache {
	return c.cache
}

func (c *Client) xferOpts() []transfer.Option {
	var opts []transfer.Option
	if c.policy != nil {
		opts = append(opts, transfer.WithRetryPolicy(*c.policy))
	}
	if c.sleeper != nil {
		opts = append(opts, transfer.WithSleeper(c.sleeper))
	}
	return opts
}

func (c *Client) jobOpts() []uws.Option {
	return []uws.Option{uws.WithTransferOptions(c.xferOpts()...)}
}

// FixURI puts a user-supplied node URI into canonical form: relative paths
// are joined to the root node, a missing authority is filled in from the
// service's resource ID, the path is cleaned and a "link=" query is
// followed.  http(s) URLs are returned unchanged.
func (c *Client) FixURI(uri string) (string, error) {
	if vos_url.IsHTTP(uri) {
		return uri, nil
	}
	parsed, err := vos_url.Parse(uri,
		vos_url.WithRootNode(c.rootNode),
		vos_url.WithAuthority(c.directory.Authority),
		vos_url.WithMaxLinkHops(c.maxLinkHops),
	)
	if err != nil {
		return "", error_codes.Wrap(error_codes.KindBadRequest, uri, err, "invalid node URI")
	}
	return parsed.String(), nil
}

// GetNodeURL returns the candidate URLs of uri for req, best first.
func (c *Client) GetNodeURL(ctx context.Context, uri string, req negotiation.Request) ([]string, error) {
	fixed, err := c.FixURI(uri)
	if err != nil {
		return nil, err
	}
	return c.negotiator.ResolveURL(ctx, fixed, req)
}
