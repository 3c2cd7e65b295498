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
	"strings"
)

const (
	IVOANamespace = "ivo://ivoa.net/vospace/core"

	PropTitle          = "title"
	PropCreator        = "creator"
	PropSubject        = "subject"
	PropDescription    = "description"
	PropPublisher      = "publisher"
	PropContributor    = "contributor"
	PropDate           = "date"
	PropType           = "type"
	PropFormat         = "format"
	PropIdentifier     = "identifier"
	PropSource         = "source"
	PropLanguage       = "language"
	PropRelation       = "relation"
	PropCoverage       = "coverage"
	PropRights         = "rights"
	PropAvailableSpace = "availableSpace"
	PropGroupRead      = "groupread"
	PropGroupWrite     = "groupwrite"
	PropPublicRead     = "publicread"
	PropQuota          = "quota"
	PropLength         = "length"
	PropMD5            = "MD5"
	PropMTime          = "mtime"
	PropCTime          = "ctime"
	PropIsPublic       = "ispublic"
	PropEncoding       = "encoding"

	// Lock state lives outside the IVOA core set, so its name is the full URI.
	PropIsLocked = "ivo://cadc.nrc.ca/vospace/core#islocked"
)

// Names that expand to the IVOA core namespace when a node is encoded.
// "contributer" is the historical spelling some services still send.
var coreNames = map[string]bool{
	PropTitle: true, PropCreator: true, PropSubject: true, PropDescription: true,
	PropPublisher: true, PropContributor: true, "contributer": true, PropDate: true,
	PropType: true, PropFormat: true, PropIdentifier: true, PropSource: true,
	PropLanguage: true, PropRelation: true, PropCoverage: true, PropRights: true,
	PropAvailableSpace: true, PropGroupRead: true, PropGroupWrite: true,
	PropPublicRead: true, PropQuota: true, PropLength: true, PropMD5: true,
	PropMTime: true, PropCTime: true, PropIsPublic: true, PropEncoding: true,
}

// Properties that map onto standard file attributes rather than extended ones.
var standardNames = map[string]bool{
	PropDescription: true, PropType: true, PropEncoding: true, PropMD5: true,
	PropLength: true, PropCreator: true, PropDate: true, PropGroupRead: true,
	PropGroupWrite: true, PropIsPublic: true,
}

type (
	// Property is a single node property.  A nil Value marks the property for
	// deletion on the server, which is different from leaving it out.
	Property struct {
		Name     string
		Value    *string
		ReadOnly bool
	}

	// Properties is an insertion-ordered property bag keyed by canonical name.
	Properties struct {
		order  []string
		values map[string]Property
	}
)

// Str returns a pointer to s, for building property values.
func Str(s string) *string {
	return &s
}

// CanonicalName maps a property URI in the IVOA core namespace to its short
// name ("ivo://ivoa.net/vospace/core#length" is "length").  Any other URI,
// and any name that is already short, is returned unchanged.
func CanonicalName(uri string) string {
	base, fragment, found := strings.Cut(uri, "#")
	if found && base == IVOANamespace {
		return fragment
	}
	return uri
}

// PropertyURI is the inverse of CanonicalName for the names the IVOA core
// namespace reserves.
func PropertyURI(name string) string {
	if coreNames[name] {
		return IVOANamespace + "#" + name
	}
	return name
}

// IsStandard reports whether the property is one of the core attributes
// exposed through Stat and Info instead of as an extended attribute.
func IsStandard(name string) bool {
	return standardNames[CanonicalName(name)]
}

func (p *Properties) init() {
	if p.values == nil {
		p.values = make(map[string]Property)
	}
}

// Get returns the value of a property and whether it is present at all.
func (p *Properties) Get(name string) (value *string, ok bool) {
	prop, ok := p.values[CanonicalName(name)]
	if !ok {
		return nil, false
	}
	return prop.Value, true
}

// Value returns the property text, "" when absent or nil.
func (p *Properties) Value(name string) string {
	if value, ok := p.Get(name); ok && value != nil {
		return *value
	}
	return ""
}

// Set stores a property, keeping its original position if it already exists.
func (p *Properties) Set(name string, value *string) {
	p.set(Property{Name: CanonicalName(name), Value: value})
}

func (p *Properties) set(prop Property) {
	p.init()
	if old, ok := p.values[prop.Name]; ok {
		prop.ReadOnly = prop.ReadOnly || old.ReadOnly
	} else {
		p.order = append(p.order, prop.Name)
	}
	p.values[prop.Name] = prop
}

func (p *Properties) Delete(name string) {
	name = CanonicalName(name)
	if _, ok := p.values[name]; !ok {
		return
	}
	delete(p.values, name)
	for idx, existing := range p.order {
		if existing == name {
			p.order = append(p.order[:idx], p.order[idx+1:]...)
			break
		}
	}
}

func (p *Properties) Clear() {
	p.order = nil
	p.values = nil
}

func (p *Properties) Len() int {
	return len(p.order)
}

// All returns the properties in insertion order.
func (p *Properties) All() []Property {
	result := make([]Property, 0, len(p.order))
	for _, name := range p.order {
		result = append(result, p.values[name])
	}
	return result
}

// Equal compares the two bags as sets of (name, value) pairs.
func (p *Properties) Equal(other *Properties) bool {
	if p.Len() != other.Len() {
		return false
	}
	for name, prop := range p.values {
		otherProp, ok := other.values[name]
		if !ok {
			return false
		}
		if (prop.Value == nil) != (otherProp.Value == nil) {
			return false
		}
		if prop.Value != nil && *prop.Value != *otherProp.Value {
			return false
		}
	}
	return true
}

func (p *Properties) clone() Properties {
	result := Properties{}
	for _, prop := range p.All() {
		if prop.Value != nil {
			prop.Value = Str(*prop.Value)
		}
		result.set(prop)
	}
	return result
}
