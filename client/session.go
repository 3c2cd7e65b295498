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
	"crypto/tls"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/config"
	"github.com/opencadc/govos/endpoints"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/transfer"
)

type (
	// Credentials are the authentication mechanisms a client presents.  Any
	// combination may be set; none means anonymous access.
	Credentials struct {
		CertFile string
		Token    string
		Cookies  []*http.Cookie
	}

	// authSession decorates every request with the credential headers.
	authSession struct {
		inner     transfer.Session
		creds     Credentials
		userAgent string
	}
)

var userAgent = "govos/" + version

// version is overwritten at link time by the release build.
var version = "dev"

// SecurityMethods lists the SSO standard identifiers of the active
// credential mechanisms, in order of preference.
func (c Credentials) SecurityMethods() []string {
	var methods []string
	if c.CertFile != "" {
		methods = append(methods, endpoints.SecurityCertificate)
	}
	if len(c.Cookies) > 0 {
		methods = append(methods, endpoints.SecurityCookie)
	}
	if c.Token != "" {
		methods = append(methods, endpoints.SecurityToken)
	}
	return methods
}

// NewHTTPClient builds a client on a clone of the shared transport that
// presents the proxy certificate, if any.  Redirects are never followed by
// the client itself; the transfer engine handles them.
func NewHTTPClient(creds Credentials) (*http.Client, error) {
	tr := config.GetTransport().Clone()
	if creds.CertFile != "" {
		if _, err := os.Stat(creds.CertFile); err != nil {
			return nil, error_codes.Wrap(error_codes.KindUnauthorized, creds.CertFile, err, "cannot access certificate file")
		}
		// The proxy certificate file holds both the certificate and its key
		cert, err := tls.LoadX509KeyPair(creds.CertFile, creds.CertFile)
		if err != nil {
			return nil, error_codes.Wrap(error_codes.KindUnauthorized, creds.CertFile, err, "failed to load certificate")
		}
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}
		tr.TLSClientConfig.Certificates = []tls.Certificate{cert}
		log.Debugf("Using certificate file %s", creds.CertFile)
	}
	return &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func newAuthSession(inner transfer.Session, creds Credentials) *authSession {
	return &authSession{inner: inner, creds: creds, userAgent: userAgent}
}

// Do adds the token header, the cookies and the user agent, then sends req.
func (s *authSession) Do(req *http.Request) (*http.Response, error) {
	if s.creds.Token != "" && req.Header.Get(transfer.HeaderToken) == "" {
		req.Header.Set(transfer.HeaderToken, s.creds.Token)
	}
	for _, cookie := range s.creds.Cookies {
		req.AddCookie(cookie)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	return s.inner.Do(req)
}
