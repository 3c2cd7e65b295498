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
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

const (
	ViewData    = "data"
	ViewCutout  = "cutout"
	ViewHeader  = "header"
	ViewDefault = "defaultview"
)

// The filename may be followed by a pixel cutout "[ext][x1:x2,y1:y2]", the
// same wrapped in parentheses, or a cone "(ra,dec,radius)".
var filenamePattern = regexp.MustCompile(
	`^(?P<filename>[/_\-=+!,;:@&*$.\p{L}\p{N}_~]*)` +
		`(?P<cutout>` +
		`(?P<pix>(\[\d*:?\d*\])?(\[[+-]?\*?\d*:?[+-]?\d*,?[+-]?\*?\d*:?[+-]?\d*\]))` +
		`|\((?P<ppix>(\[\d*:?\d*\])?(\[[+-]?\*?\d*:?[+-]?\d*,?[+-]?\*?\d*:?[+-]?\d*\]))\)` +
		`|(?P<wcs>\((?P<ra>[+]?\d*(\.\d*)?),(?P<dec>[\-+]?\d*(\.\d*)?),(?P<rad>\d*(\.\d*)?)\))` +
		`)?$`)

var magicCheck = regexp.MustCompile(`[*?[]`)

// SplitCutout separates a (possibly full) URI into the plain filename and a
// cutout expression.  A cone cutout is returned as "CIRCLE=ra dec radius",
// a pixel cutout verbatim ("[1][10:20,5:15]").  ok is false when the string
// is not a legal filename at all.
func SplitCutout(name string) (filename string, cutout string, ok bool) {
	match := filenamePattern.FindStringSubmatch(name)
	if match == nil {
		return "", "", false
	}
	group := func(name string) string {
		return match[filenamePattern.SubexpIndex(name)]
	}
	filename = group("filename")
	switch {
	case group("pix") != "":
		cutout = group("pix")
	case group("ppix") != "":
		cutout = group("ppix")
	case group("wcs") != "":
		cutout = "CIRCLE=" + strings.Join([]string{group("ra"), group("dec"), group("rad")}, " ")
	}
	return filename, cutout, true
}

// SODAParams translates a view and cutout into the query parameters of the
// server-side cutout (SODA) interface.
func SODAParams(view, cutout string) url.Values {
	params := url.Values{}
	if view == ViewHeader {
		params.Set("META", "true")
	}
	switch {
	case strings.HasPrefix(cutout, "["):
		params.Set("SUB", cutout)
	case strings.HasPrefix(cutout, "CIRCLE"):
		params.Set("CIRCLE", strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(cutout, "CIRCLE"), "=")))
	}
	return params
}

// HasMagic reports whether a glob pattern contains wildcard characters.
func HasMagic(pattern string) bool {
	return magicCheck.MatchString(pattern)
}
