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

package transfer

import (
	"encoding/base64"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/opencadc/govos/metrics"
)

type countingReader struct {
	io.ReadCloser
}

func (cr countingReader) Read(p []byte) (int, error) {
	n, err := cr.ReadCloser.Read(p)
	if n > 0 {
		metrics.HttpBytesTotal.WithLabelValues(metrics.DirectionOut).Add(float64(n))
	}
	return n, err
}

// ContentTypeFor picks the upload content type of an object by name.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".fits", ".fit", ".fz":
		return "application/fits"
	}
	if guessed := mime.TypeByExtension(path.Ext(name)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}

func (t *Transfer) buildRequest(target string) (*http.Request, error) {
	var body io.ReadCloser
	if t.body != nil {
		var err error
		if body, err = t.body(); err != nil {
			return nil, errors.Wrapf(err, "failed to open body for %s", target)
		}
		body = countingReader{body}
	}

	req, err := http.NewRequestWithContext(t.ctx, t.method, target, body)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return nil, errors.Wrapf(err, "failed to build %s request for %s", t.method, target)
	}
	for key, values := range t.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	if body != nil {
		switch {
		case t.method == http.MethodPut && t.bodySize >= 0:
			req.ContentLength = t.bodySize
			req.Header.Set(HeaderContentLength, strconv.FormatInt(t.bodySize, 10))
		default:
			req.ContentLength = -1
			req.TransferEncoding = []string{"chunked"}
		}
		if t.method == http.MethodPut {
			req.Header.Set("Expect", "100-continue")
		}
	}

	contentType := t.contentType
	if contentType == "" && body != nil {
		if t.method == http.MethodPut {
			name := t.filename
			if name == "" {
				if parsed, err := url.Parse(target); err == nil {
					name = parsed.Path
				}
			}
			contentType = ContentTypeFor(name)
		} else {
			contentType = "text/xml"
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if t.method == http.MethodGet {
		req.Header.Set("Accept", "*/*")
		if t.rangeSpec != "" {
			req.Header.Set("Range", t.rangeSpec)
		}
		if t.partialRead {
			req.Header.Set(HeaderPartialRead, "true")
		}
	}
	return req, nil
}

// responseMD5 reads the content checksum from Content-MD5 (hex or base64)
// or from a Digest header's md5 entry, returning it as lowercase hex.
func responseMD5(header http.Header) string {
	if value := strings.TrimSpace(header.Get("Content-MD5")); value != "" {
		return normalizeMD5(value)
	}
	for _, entry := range strings.Split(header.Get("Digest"), ",") {
		algo, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if found && strings.EqualFold(algo, "md5") {
			return normalizeMD5(value)
		}
	}
	return ""
}

func normalizeMD5(value string) string {
	if len(value) == 32 {
		if _, err := hex.DecodeString(value); err == nil {
			return strings.ToLower(value)
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil && len(raw) == 16 {
		return hex.EncodeToString(raw)
	}
	return strings.ToLower(value)
}

func dispositionFilename(value string) string {
	if value == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	return params["filename"]
}
