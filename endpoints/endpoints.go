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

// Package endpoints resolves a node URI to the set of service URLs that
// hold it, by way of the IVOA registry and the service's capabilities
// document.  Results are kept for the life of the process; failures are
// kept for a short time so a flaky registry does not poison the cache.
package endpoints

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/metrics"
	"github.com/opencadc/govos/param"
	"github.com/opencadc/govos/vos_url"
)

const (
	StandardNodes           = "ivo://ivoa.net/std/VOSpace/v2.0#nodes"
	StandardFiles           = "ivo://ivoa.net/std/VOSpace#files-proto"
	StandardTransfer        = "ivo://ivoa.net/std/VOSpace#sync-2.1"
	StandardAsyncTransfer   = "ivo://ivoa.net/std/VOSpace/v2.0#transfers"
	StandardRecursiveDelete = "ivo://ivoa.net/std/VOSpace#recursive-delete-proto"
	StandardRecursiveProps  = "ivo://ivoa.net/std/VOSpace#recursive-nodeprops-proto"

	SecurityCertificate = "ivo://ivoa.net/sso#tls-with-certificate"
	SecurityCookie      = "ivo://ivoa.net/sso#cookie"
	SecurityToken       = "vos://cadc.nrc.ca~vospace/CADC/std/Auth#token-1.0"
	SecurityAnonymous   = "ivo://ivoa.net/sso#anon"

	DefaultAuthority = "cadc.nrc.ca"
	LocalAuthority   = "opencadc.org"
)

type (
	// Session sends a single HTTP request.  *http.Client satisfies it.
	Session interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// EndpointSet is the immutable record of one service's capability URLs.
	// Files, AsyncTransfer and the recursive endpoints may be empty when the
	// service does not offer them.
	EndpointSet struct {
		ResourceID      string
		Nodes           string
		Files           string
		Transfer        string
		AsyncTransfer   string
		RecursiveDelete string
		RecursiveProps  string
		// FileSystemType services (anything other than the vault database)
		// serve files directly and reject cutout and header views.
		FileSystemType bool
	}

	Directory struct {
		session         Session
		registryURL     string
		webServiceHost  string
		authority       string
		aliases         map[string]string
		securityMethods []string
		failureTTL      time.Duration
		userAgent       string
		cache           *ttlcache.Cache[string, cacheItem]
	}

	directoryOptions struct {
		registryURL     string
		webServiceHost  string
		local           bool
		aliases         map[string]string
		securityMethods []string
		failureTTL      time.Duration
		userAgent       string
	}
	DirectoryOption func(*directoryOptions)

	cacheItem struct {
		set *EndpointSet
		err error
	}
)

func WithRegistryURL(registryURL string) DirectoryOption {
	return func(do *directoryOptions) {
		do.registryURL = registryURL
	}
}

// WithWebServiceHost rewrites the host of every resolved access URL.
func WithWebServiceHost(host string) DirectoryOption {
	return func(do *directoryOptions) {
		do.webServiceHost = host
	}
}

// WithLocalServices maps short scheme names under the local deployment
// authority instead of the CADC one.
func WithLocalServices(local bool) DirectoryOption {
	return func(do *directoryOptions) {
		do.local = local
	}
}

func WithAliases(aliases map[string]string) DirectoryOption {
	return func(do *directoryOptions) {
		do.aliases = aliases
	}
}

// WithSecurityMethods sets the credentials in use, most preferred first.
func WithSecurityMethods(methods ...string) DirectoryOption {
	return func(do *directoryOptions) {
		do.securityMethods = methods
	}
}

func WithFailureTTL(ttl time.Duration) DirectoryOption {
	return func(do *directoryOptions) {
		do.failureTTL = ttl
	}
}

func WithUserAgent(ua string) DirectoryOption {
	return func(do *directoryOptions) {
		do.userAgent = ua
	}
}

// NewDirectory builds a directory; unset options are read from the
// Client.* configuration.
func NewDirectory(session Session, opts ...DirectoryOption) *Directory {
	do := directoryOptions{
		registryURL:    param.Client_RegistryURL.GetString(),
		webServiceHost: param.Client_WebServiceHost.GetString(),
		local:          param.Client_LocalWebService.GetString() != "",
		aliases:        param.Client_ResourceAliases.GetStringMap(),
		failureTTL:     param.Client_EndpointFailureTTL.GetDuration(),
		userAgent:      "govos",
	}
	if do.webServiceHost == "" {
		do.webServiceHost = param.Client_LocalWebService.GetString()
	}
	for _, opt := range opts {
		opt(&do)
	}
	if do.failureTTL <= 0 {
		do.failureTTL = 5 * time.Minute
	}

	d := &Directory{
		session:         session,
		registryURL:     do.registryURL,
		webServiceHost:  do.webServiceHost,
		authority:       DefaultAuthority,
		aliases:         do.aliases,
		securityMethods: do.securityMethods,
		failureTTL:      do.failureTTL,
		userAgent:       do.userAgent,
	}
	if do.local {
		d.authority = LocalAuthority
	}
	if d.webServiceHost != "" {
		log.Infof("Using custom web service host %s", d.webServiceHost)
	}

	suppressed := ttlcache.NewSuppressedLoader[string, cacheItem](d.loader(), new(singleflight.Group))
	d.cache = ttlcache.New[string, cacheItem](
		ttlcache.WithTTL[string, cacheItem](ttlcache.NoTTL),
		ttlcache.WithLoader[string, cacheItem](suppressed),
		ttlcache.WithDisableTouchOnHit[string, cacheItem](),
	)
	return d
}

func (d *Directory) loader() ttlcache.LoaderFunc[string, cacheItem] {
	return ttlcache.LoaderFunc[string, cacheItem](
		func(c *ttlcache.Cache[string, cacheItem], resourceID string) *ttlcache.Item[string, cacheItem] {
			metrics.VOSCacheEvents.WithLabelValues("endpoints", "miss").Inc()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			set, err := d.lookup(ctx, resourceID)
			if err != nil {
				log.Debugf("Registry lookup for %s failed: %v", resourceID, err)
				return c.Set(resourceID, cacheItem{err: err}, d.failureTTL)
			}
			log.Debugf("Resolved %s: nodes=%s transfer=%s", resourceID, set.Nodes, set.Transfer)
			return c.Set(resourceID, cacheItem{set: set}, ttlcache.NoTTL)
		},
	)
}

// Authority returns the default authority of scheme, in the form used in
// node URIs ("cadc.nrc.ca!vault").  It satisfies vos_url.AuthorityFunc.
func (d *Directory) Authority(scheme string) (string, error) {
	resourceID, err := vos_url.ResourceID(scheme+":", d.authority)
	if err != nil {
		return "", err
	}
	return vos_url.AuthorityFromResourceID(resourceID), nil
}

// ResourceID returns the registry identity of the service holding uri.
func (d *Directory) ResourceID(uri string) (string, error) {
	if strings.HasPrefix(uri, "ivo://") {
		return "", error_codes.New(error_codes.KindBadRequest, uri, "node URI expected, got a registry identifier")
	}
	resourceID, err := vos_url.ResourceID(uri, d.authority)
	if err != nil {
		return "", error_codes.Wrap(error_codes.KindBadRequest, uri, err, "cannot determine service")
	}
	return resourceID, nil
}

// Resolve returns the endpoints of the service that holds uri.  The
// registry is consulted once per service; a service name the registry does
// not know is retried through the configured alias table.
func (d *Directory) Resolve(ctx context.Context, uri string) (*EndpointSet, error) {
	resourceID, err := d.ResourceID(uri)
	if err != nil {
		return nil, err
	}
	set, err := d.get(ctx, resourceID)
	if err == nil {
		return set, nil
	}

	if parsed, perr := url.Parse(uri); perr == nil {
		if alias, ok := d.aliases[parsed.Scheme]; ok && alias != resourceID {
			log.Debugf("Service %s not found in registry, trying alias %s", resourceID, alias)
			if set, aerr := d.get(ctx, alias); aerr == nil {
				return set, nil
			}
		}
	}
	return nil, error_codes.Wrap(error_codes.KindNotFound, uri, err,
		"No service with resource ID %s found in registry or the config file", resourceID)
}

func (d *Directory) get(ctx context.Context, resourceID string) (*EndpointSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if item := d.cache.Get(resourceID); item != nil {
		value := item.Value()
		if value.err != nil {
			return nil, value.err
		}
		return value.set, nil
	}
	return nil, error_codes.New(error_codes.KindNotFound, resourceID, "registry lookup returned nothing")
}
