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

package error_codes

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Upper bound on the size of a server message we keep in an error.
const maxMessageLength = 1024

// StripHTML reduces an error response body to its visible text.  Bodies
// without markup are only trimmed.
func StripHTML(body string) string {
	body = strings.TrimSpace(body)
	if !strings.Contains(body, "<") {
		return truncate(body)
	}

	var parts []string
	skip := 0
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if tokenizer.Err() != io.EOF {
				return truncate(body)
			}
			return truncate(strings.Join(parts, " "))
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" || tag == "head" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style" || tag == "head") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(tokenizer.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func truncate(msg string) string {
	if len(msg) > maxMessageLength {
		return msg[:maxMessageLength] + "..."
	}
	return msg
}
