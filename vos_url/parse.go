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
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
)

type (
	VOSURL struct {
		Scheme   string
		Host     string
		Path     string
		RawQuery string
	}

	// AuthorityFunc returns the default authority for URIs written without
	// one, e.g. "vos:dir/file".  It receives the URI's scheme.
	AuthorityFunc func(scheme string) (string, error)

	parseOptions struct {
		rootNode    string
		authority   AuthorityFunc
		maxLinkHops int
	}
	ParseOption func(*parseOptions)
)

const (
	VOSScheme string = "vos"

	defaultMaxLinkHops = 10
)

// Parse options
func WithRootNode(root string) ParseOption {
	return func(po *parseOptions) {
		po.rootNode = root
	}
}

func WithAuthority(fn AuthorityFunc) ParseOption {
	return func(po *parseOptions) {
		po.authority = fn
	}
}

func WithMaxLinkHops(hops int) ParseOption {
	return func(po *parseOptions) {
		po.maxLinkHops = hops
	}
}

func (v *VOSURL) String() string {
	var sb strings.Builder
	sb.WriteString(v.Scheme)
	sb.WriteString("://")
	sb.WriteString(v.Host)
	sb.WriteString(v.Path)
	if v.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(v.RawQuery)
	}
	return sb.String()
}

// Name returns the final path component.
func (v *VOSURL) Name() string {
	return path.Base(v.Path)
}

// Parent returns the URI of the containing node.
func (v *VOSURL) Parent() *VOSURL {
	return &VOSURL{Scheme: v.Scheme, Host: v.Host, Path: path.Dir(v.Path)}
}

// IsHTTP reports whether the raw URI is a plain web URL rather than a node URI.
func IsHTTP(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// IsRemote reports whether the raw string names a node (has a scheme) as
// opposed to a local file path.
func IsRemote(raw string) bool {
	idx := strings.Index(raw, ":")
	if idx <= 1 {
		// "C:" style drive letters and leading colons are local
		return false
	}
	for _, c := range raw[:idx] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

// Parse converts a node URI in any of its accepted spellings into canonical
// form scheme://authority/path.  Accepted inputs are relative paths (joined
// to the root node), "vos:path", "vos:/path" and "vos://authority/path".  A
// "link=" query parameter replaces the URI with the linked one.
func Parse(raw string, opts ...ParseOption) (*VOSURL, error) {
	po := parseOptions{maxLinkHops: defaultMaxLinkHops}
	for _, opt := range opts {
		opt(&po)
	}
	for hops := 0; ; hops++ {
		if hops > po.maxLinkHops {
			return nil, errors.Errorf("too many link= redirections resolving %s", raw)
		}
		result, link, err := parseOnce(raw, &po)
		if err != nil {
			return nil, err
		}
		if link == "" {
			return result, nil
		}
		raw = link
	}
}

func parseOnce(raw string, po *parseOptions) (result *VOSURL, link string, err error) {
	if !IsRemote(raw) {
		if po.rootNode == "" {
			return nil, "", errors.Errorf("%s is a relative path and no root node is configured", raw)
		}
		raw = joinRoot(po.rootNode, raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to parse URI %s", raw)
	}
	if link := parsed.Query().Get("link"); link != "" {
		return nil, link, nil
	}

	scheme := parsed.Scheme
	host := parsed.Host
	nodePath := parsed.Path
	if parsed.Opaque != "" {
		// vos:dir/file
		nodePath = "/" + parsed.Opaque
	}
	if host == "" {
		if po.authority == nil {
			return nil, "", errors.Errorf("URI %s has no authority and no default is available", raw)
		}
		if host, err = po.authority(parsed.Scheme); err != nil {
			return nil, "", err
		}
		// Short scheme names ("arc:x") resolve to a vos URI on that service
		scheme = VOSScheme
	}

	nodePath = path.Clean("/" + nodePath)
	if _, _, ok := SplitCutout(nodePath); !ok {
		return nil, "", errors.Errorf("illegal node name in %s", raw)
	}

	return &VOSURL{
		Scheme:   scheme,
		Host:     host,
		Path:     nodePath,
		RawQuery: parsed.RawQuery,
	}, "", nil
}

func joinRoot(root, rel string) string {
	if strings.HasSuffix(root, "/") || strings.HasSuffix(root, ":") {
		return root + rel
	}
	return root + "/" + rel
}

// ResourceID maps a URI to the registry identity of the service that holds
// it.  "vos://cadc.nrc.ca!vault/x" becomes "ivo://cadc.nrc.ca/vault"; a URI
// with no authority ("arc:x") maps its scheme under defaultAuthority, with
// the vos scheme standing for the vault service.
func ResourceID(raw string, defaultAuthority string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse URI %s", raw)
	}
	if parsed.Scheme == "" {
		return "", errors.Errorf("URI %s has no scheme", raw)
	}
	if parsed.Host != "" && parsed.Scheme == VOSScheme {
		host := strings.NewReplacer("!", "/", "~", "/").Replace(parsed.Host)
		return "ivo://" + host, nil
	}
	service := parsed.Scheme
	if service == VOSScheme {
		service = "vault"
	}
	return fmt.Sprintf("ivo://%s/%s", defaultAuthority, service), nil
}

// AuthorityFromResourceID is the inverse of ResourceID for the authority
// token: "ivo://cadc.nrc.ca/vault" becomes "cadc.nrc.ca!vault".
func AuthorityFromResourceID(resourceID string) string {
	return strings.ReplaceAll(strings.TrimPrefix(resourceID, "ivo://"), "/", "!")
}

// Join appends a child name to a node URI.
func Join(parent, name string) string {
	return strings.TrimSuffix(parent, "/") + "/" + name
}
