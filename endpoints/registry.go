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

package endpoints

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
)

type (
	capabilities struct {
		XMLName      xml.Name     `xml:"capabilities"`
		Capabilities []capability `xml:"capability"`
	}

	capability struct {
		StandardID string         `xml:"standardID,attr"`
		Interfaces []capInterface `xml:"interface"`
	}

	capInterface struct {
		AccessURL       string           `xml:"accessURL"`
		SecurityMethods []securityMethod `xml:"securityMethod"`
	}

	securityMethod struct {
		StandardID string `xml:"standardID,attr"`
	}
)

// Maximum size of a registry document we are willing to read
const maxRegistryDocument = 4 << 20

func (d *Directory) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build registry request for %s", target)
	}
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.session.Do(req)
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindIO, target, err, "registry request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryDocument))
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindIO, target, err, "failed to read registry response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, error_codes.FromStatus(resp.StatusCode, target, string(body))
	}
	return body, nil
}

// parseResourceCaps reads the registry's "resourceID = capabilitiesURL"
// listing.  Blank lines and lines starting with '#' are ignored.
func parseResourceCaps(data []byte) map[string]string {
	result := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, capsURL, found := strings.Cut(line, "=")
		if !found {
			log.Debugf("Ignoring malformed registry line %q", line)
			continue
		}
		result[strings.TrimSpace(id)] = strings.TrimSpace(capsURL)
	}
	return result
}

// capabilitiesURL finds where the capabilities document of resourceID lives.
func (d *Directory) capabilitiesURL(ctx context.Context, resourceID string) (string, error) {
	target := strings.TrimSuffix(d.registryURL, "/") + "/resource-caps"
	data, err := d.fetch(ctx, target)
	if err != nil {
		return "", err
	}
	capsURL, ok := parseResourceCaps(data)[resourceID]
	if !ok {
		return "", error_codes.New(error_codes.KindNotFound, resourceID, "resource ID not listed in registry %s", target)
	}
	return capsURL, nil
}

// selectAccessURL picks the interface of capability that matches the first
// active security method, falling back to the anonymous interface and then
// to the first one listed.
func selectAccessURL(c capability, methods []string) string {
	var anonymous, first string
	for _, iface := range c.Interfaces {
		accessURL := strings.TrimSpace(iface.AccessURL)
		if accessURL == "" {
			continue
		}
		if first == "" {
			first = accessURL
		}
		if len(iface.SecurityMethods) == 0 && anonymous == "" {
			anonymous = accessURL
		}
	}
	for _, method := range methods {
		for _, iface := range c.Interfaces {
			for _, sm := range iface.SecurityMethods {
				if sm.StandardID == method && strings.TrimSpace(iface.AccessURL) != "" {
					return strings.TrimSpace(iface.AccessURL)
				}
			}
		}
	}
	if anonymous != "" {
		return anonymous
	}
	return first
}

// rewriteHost replaces the host of an access URL with the configured
// web service host.
func rewriteHost(accessURL, host string) (string, error) {
	if host == "" || accessURL == "" {
		return accessURL, nil
	}
	parsed, err := url.Parse(accessURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid access URL %s", accessURL)
	}
	if strings.Contains(host, "://") {
		override, err := url.Parse(host)
		if err != nil {
			return "", errors.Wrapf(err, "invalid web service host %s", host)
		}
		parsed.Scheme = override.Scheme
		host = override.Host
	}
	parsed.Host = host
	return parsed.String(), nil
}

func (d *Directory) lookup(ctx context.Context, resourceID string) (*EndpointSet, error) {
	capsURL, err := d.capabilitiesURL(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	data, err := d.fetch(ctx, capsURL)
	if err != nil {
		return nil, err
	}
	var doc capabilities
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, error_codes.Wrap(error_codes.KindProtocol, capsURL, err, "malformed capabilities document")
	}

	urls := make(map[string]string, len(doc.Capabilities))
	for _, c := range doc.Capabilities {
		accessURL, err := rewriteHost(selectAccessURL(c, d.securityMethods), d.webServiceHost)
		if err != nil {
			return nil, err
		}
		urls[c.StandardID] = accessURL
	}

	set := &EndpointSet{
		ResourceID:      resourceID,
		Nodes:           urls[StandardNodes],
		Files:           urls[StandardFiles],
		Transfer:        urls[StandardTransfer],
		AsyncTransfer:   urls[StandardAsyncTransfer],
		RecursiveDelete: urls[StandardRecursiveDelete],
		RecursiveProps:  urls[StandardRecursiveProps],
		FileSystemType:  !strings.Contains(resourceID, "vault"),
	}
	if set.Nodes == "" {
		return nil, error_codes.New(error_codes.KindProtocol, capsURL, "service %s has no nodes capability", resourceID)
	}
	if set.Transfer == "" {
		return nil, error_codes.New(error_codes.KindProtocol, capsURL, "service %s has no transfer capability", resourceID)
	}
	return set, nil
}
