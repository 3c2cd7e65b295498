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

package negotiation

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/pkg/errors"

	"github.com/opencadc/govos/endpoints"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/vos_url"
)

const (
	DirectionPull = "pullFromVoSpace"
	DirectionPush = "pushToVoSpace"

	ProtocolHTTPSGet = "ivo://ivoa.net/vospace/core#httpsget"
	ProtocolHTTPSPut = "ivo://ivoa.net/vospace/core#httpsput"

	viewBase  = "ivo://ivoa.net/vospace/core#"
	cutoutURI = "ivo://ivoa.net/vospace/core#cutout"

	transferVersion = "2.1"
	vosNamespace    = "http://www.ivoa.net/xml/VOSpace/v2.0"
)

type (
	// Document is a transfer request: read or write target, or move it
	// when Direction is another node URI.
	Document struct {
		Target          string
		Direction       string
		View            string
		Cutout          string
		SecurityMethods []string
		KeepBytes       *bool
	}

	xmlTransferOut struct {
		XMLName   xml.Name         `xml:"vos:transfer"`
		XmlnsVOS  string           `xml:"xmlns:vos,attr"`
		Version   string           `xml:"version,attr"`
		Target    string           `xml:"vos:target"`
		Direction string           `xml:"vos:direction"`
		View      *xmlViewOut      `xml:"vos:view"`
		Protocols []xmlProtocolOut `xml:"vos:protocol"`
		KeepBytes *bool            `xml:"vos:keepBytes"`
	}

	xmlViewOut struct {
		URI    string        `xml:"uri,attr"`
		Params []xmlParamOut `xml:"vos:param"`
	}

	xmlParamOut struct {
		URI   string `xml:"uri,attr"`
		Value string `xml:",chardata"`
	}

	xmlProtocolOut struct {
		URI      string          `xml:"uri,attr"`
		Security *xmlSecurityOut `xml:"vos:securityMethod"`
	}

	xmlSecurityOut struct {
		URI string `xml:"uri,attr"`
	}

	xmlTransferIn struct {
		XMLName   xml.Name        `xml:"transfer"`
		Protocols []xmlProtocolIn `xml:"protocol"`
	}

	xmlProtocolIn struct {
		URI      string `xml:"uri,attr"`
		Endpoint string `xml:"endpoint"`
	}
)

// Encode writes the transfer document.  A data transfer gets one protocol
// per security method plus an anonymous one; a move gets none.
func (d *Document) Encode() ([]byte, error) {
	doc := xmlTransferOut{
		XmlnsVOS:  vosNamespace,
		Version:   transferVersion,
		Target:    d.Target,
		Direction: d.Direction,
		KeepBytes: d.KeepBytes,
	}
	if d.View != "" && d.View != vos_url.ViewData {
		view := &xmlViewOut{URI: viewBase + d.View}
		if d.Cutout != "" {
			view.Params = append(view.Params, xmlParamOut{URI: cutoutURI, Value: d.Cutout})
		}
		doc.View = view
	}

	var protocol string
	switch d.Direction {
	case DirectionPull:
		protocol = ProtocolHTTPSGet
	case DirectionPush:
		protocol = ProtocolHTTPSPut
	}
	if protocol != "" {
		for _, method := range d.SecurityMethods {
			if method == endpoints.SecurityAnonymous {
				continue
			}
			doc.Protocols = append(doc.Protocols, xmlProtocolOut{URI: protocol, Security: &xmlSecurityOut{URI: method}})
		}
		doc.Protocols = append(doc.Protocols, xmlProtocolOut{URI: protocol})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "failed to encode transfer document")
	}
	return buf.Bytes(), nil
}

// MoveDocument describes moving src to dst, discarding the source.
func MoveDocument(src, dst string) ([]byte, error) {
	keep := false
	doc := Document{Target: src, Direction: dst, KeepBytes: &keep}
	return doc.Encode()
}

// ParseEndpoints returns the protocol endpoints of a negotiated transfer
// document, in document order.
func ParseEndpoints(target string, body []byte) ([]string, error) {
	var doc xmlTransferIn
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, error_codes.Wrap(error_codes.KindProtocol, target, err, "invalid transfer document")
	}
	var urls []string
	for _, protocol := range doc.Protocols {
		if endpoint := strings.TrimSpace(protocol.Endpoint); endpoint != "" {
			urls = append(urls, endpoint)
		}
	}
	return urls, nil
}

// classifyJobError maps the fault names of a transfer job's error text to
// error kinds.
func classifyJobError(text string) error_codes.Kind {
	switch {
	case strings.Contains(text, "NodeNotFound"):
		return error_codes.KindNotFound
	case strings.Contains(text, "PermissionDenied"):
		return error_codes.KindUnauthorized
	case strings.Contains(text, "NodeLocked"):
		return error_codes.KindLocked
	case strings.Contains(text, "DuplicateNode"):
		return error_codes.KindAlreadyExists
	case strings.Contains(text, "InvalidURI"), strings.Contains(text, "InvalidArgument"):
		return error_codes.KindBadRequest
	}
	return error_codes.KindProtocol
}
