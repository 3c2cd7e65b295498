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

package node

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/opencadc/govos/error_codes"
)

const (
	VOSNamespace = "http://www.ivoa.net/xml/VOSpace/v2.0"
	XSINamespace = "http://www.w3.org/2001/XMLSchema-instance"

	ViewDefault = "ivo://ivoa.net/vospace/core#defaultview"
	ViewData    = "ivo://cadc.nrc.ca/vospace/view#data"
	ViewRSS     = "ivo://cadc.nrc.ca/vospace/view#rss"
)

type (
	// Decoding matches on local names so any namespace prefix is accepted.
	xmlNode struct {
		XMLName    xml.Name
		URI        string        `xml:"uri,attr"`
		Type       string        `xml:"type,attr"`
		Properties []xmlProperty `xml:"properties>property"`
		Nodes      []xmlNode     `xml:"nodes>node"`
		Target     string        `xml:"target"`
	}

	xmlProperty struct {
		URI      string `xml:"uri,attr"`
		ReadOnly string `xml:"readOnly,attr"`
		Nil      string `xml:"nil,attr"`
		Value    string `xml:",chardata"`
	}

	// Encoding writes explicit prefixes, the form services expect.
	xmlOutNode struct {
		XMLName    xml.Name          `xml:"vos:node"`
		XmlnsVOS   string            `xml:"xmlns:vos,attr,omitempty"`
		XmlnsXSI   string            `xml:"xmlns:xsi,attr,omitempty"`
		Type       string            `xml:"xsi:type,attr"`
		URI        string            `xml:"uri,attr"`
		Properties xmlOutProperties  `xml:"vos:properties"`
		Target     string            `xml:"vos:target,omitempty"`
		Accepts    *xmlOutViews      `xml:"vos:accepts,omitempty"`
		Provides   *xmlOutViews      `xml:"vos:provides,omitempty"`
		Nodes      *xmlOutChildNodes `xml:"vos:nodes,omitempty"`
	}

	xmlOutProperties struct {
		Property []xmlOutProperty `xml:"vos:property"`
	}

	xmlOutProperty struct {
		URI      string `xml:"uri,attr"`
		ReadOnly string `xml:"readOnly,attr"`
		Nil      string `xml:"xsi:nil,attr,omitempty"`
		Value    string `xml:",chardata"`
	}

	xmlOutViews struct {
		View []xmlOutView `xml:"vos:view"`
	}

	xmlOutView struct {
		URI string `xml:"uri,attr"`
	}

	xmlOutChildNodes struct {
		Node []xmlOutNode `xml:"vos:node"`
	}
)

// Decode parses a node document.
func Decode(data []byte) (*Node, error) {
	return DecodeReader(bytes.NewReader(data))
}

func DecodeReader(r io.Reader) (*Node, error) {
	var doc xmlNode
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, error_codes.Wrap(error_codes.KindProtocol, "", err, "malformed node document")
	}
	if doc.XMLName.Local != "node" {
		return nil, error_codes.New(error_codes.KindProtocol, "", "expected a node document, got <%s>", doc.XMLName.Local)
	}
	return fromXML(&doc, true)
}

// Only the top-level node of a document carries a complete child list;
// nested containers are left unloaded.
func fromXML(doc *xmlNode, top bool) (*Node, error) {
	if doc.URI == "" {
		return nil, error_codes.New(error_codes.KindProtocol, "", "node document has no uri")
	}
	nodeType, err := ParseType(doc.Type)
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindProtocol, doc.URI, err, "bad node type")
	}
	n := &Node{URI: doc.URI, Type: nodeType}
	for _, prop := range doc.Properties {
		var value *string
		if prop.Nil != "true" {
			value = Str(prop.Value)
		}
		n.props.set(Property{
			Name:     CanonicalName(prop.URI),
			Value:    value,
			ReadOnly: prop.ReadOnly == "true",
		})
	}

	switch nodeType {
	case LinkNode:
		if doc.Target == "" {
			return nil, error_codes.New(error_codes.KindProtocol, doc.URI, "link node has no target")
		}
		n.Target = doc.Target
	case ContainerNode:
		if !top {
			break
		}
		children := make([]*Node, 0, len(doc.Nodes))
		for idx := range doc.Nodes {
			child, err := fromXML(&doc.Nodes[idx], false)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		n.SetChildren(children)
	}
	return n, nil
}

// Encode serializes the node, including any loaded children of a container.
func Encode(n *Node) ([]byte, error) {
	out := toXML(n)
	out.XmlnsVOS = VOSNamespace
	out.XmlnsXSI = XSINamespace

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toXML(n *Node) xmlOutNode {
	out := xmlOutNode{Type: n.Type.String(), URI: n.URI}
	for _, prop := range n.props.All() {
		outProp := xmlOutProperty{URI: PropertyURI(prop.Name), ReadOnly: "false"}
		if prop.Value == nil {
			outProp.Nil = "true"
		} else {
			outProp.Value = *prop.Value
		}
		out.Properties.Property = append(out.Properties.Property, outProp)
	}

	switch n.Type {
	case LinkNode:
		out.Target = n.Target
		return out
	case DataNode:
		out.Accepts = &xmlOutViews{View: []xmlOutView{{URI: ViewDefault}}}
		out.Provides = &xmlOutViews{View: []xmlOutView{{URI: ViewDefault}, {URI: ViewRSS}, {URI: ViewData}}}
	case ContainerNode:
		out.Accepts = &xmlOutViews{View: []xmlOutView{{URI: ViewDefault}}}
		out.Provides = &xmlOutViews{View: []xmlOutView{{URI: ViewDefault}, {URI: ViewRSS}}}
		out.Nodes = &xmlOutChildNodes{}
		for _, child := range n.children {
			out.Nodes.Node = append(out.Nodes.Node, toXML(child))
		}
	}
	return out
}
