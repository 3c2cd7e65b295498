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
	"context"
	"os"
	"path"
	"strings"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/vos_url"
)

// Glob returns the node URIs matching pattern.  Matching is shell style
// (*, ? and [...]) within each path segment and never recursive; names
// starting with a dot only match patterns starting with a dot.
func (c *Client) Glob(ctx context.Context, pattern string) ([]string, error) {
	var matches []string
	err := c.IGlob(ctx, pattern, func(match string) error {
		matches = append(matches, match)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// IGlob calls fn for each match of pattern, in listing order, and stops at
// the first error fn returns.
func (c *Client) IGlob(ctx context.Context, pattern string, fn func(match string) error) error {
	dir, base := splitPattern(pattern)
	if !vos_url.HasMagic(pattern) {
		var found bool
		var err error
		if base != "" {
			found, err = c.Access(ctx, pattern, os.O_RDONLY)
		} else {
			found, err = c.IsDir(ctx, dir)
		}
		if err != nil || !found {
			return err
		}
		return fn(pattern)
	}

	dirs := []string{dir}
	if dir != pattern && vos_url.HasMagic(dir) {
		var err error
		if dirs, err = c.Glob(ctx, dir); err != nil {
			return err
		}
	}
	for _, parent := range dirs {
		var names []string
		var err error
		if vos_url.HasMagic(base) {
			names, err = c.globInDir(ctx, parent, base)
		} else {
			names, err = c.globLiteral(ctx, parent, base)
		}
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := fn(joinPattern(parent, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// globInDir matches pattern against a forced listing of dir.
func (c *Client) globInDir(ctx context.Context, dir, pattern string) ([]string, error) {
	if isDir, err := c.IsDir(ctx, dir); err != nil || !isDir {
		return nil, err
	}
	names, err := c.ListDir(ctx, dir, true)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, name := range names {
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(pattern, ".") {
			continue
		}
		ok, err := path.Match(shellPattern(pattern), name)
		if err != nil {
			return nil, error_codes.Wrap(error_codes.KindBadRequest, pattern, err, "invalid glob pattern")
		}
		if ok {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// shellPattern rewrites a shell-style pattern into path.Match syntax.
// Outside a class a backslash is an ordinary character.  Inside a class a
// leading "!" negates, a leading "]" is literal, and "-" only forms a range
// between two characters.  A "[" with no closing "]" matches itself.
func shellPattern(pattern string) string {
	var sb strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*', '?':
			sb.WriteRune(r)
		case '[':
			j := i + 1
			if j < len(runes) && runes[j] == '!' {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				sb.WriteString(`\[`)
				continue
			}
			class := runes[i+1 : j]
			sb.WriteByte('[')
			if len(class) > 0 && class[0] == '!' {
				sb.WriteByte('^')
				class = class[1:]
			}
			for k := 0; k < len(class); k++ {
				sb.WriteByte('\\')
				sb.WriteRune(class[k])
				if k+2 < len(class) && class[k+1] == '-' {
					sb.WriteString(`-\`)
					sb.WriteRune(class[k+2])
					k += 2
				}
			}
			sb.WriteByte(']')
			i = j
		default:
			if r == '\\' || r == ']' {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (c *Client) globLiteral(ctx context.Context, dir, name string) ([]string, error) {
	var found bool
	var err error
	if name == "" {
		found, err = c.IsDir(ctx, dir)
	} else {
		found, err = c.Access(ctx, joinPattern(dir, name), os.O_RDONLY)
	}
	if err != nil || !found {
		return nil, err
	}
	return []string{name}, nil
}

// splitPattern separates the last path segment.  "vos:*.fits" splits into
// "vos:" and "*.fits"; "vos://auth!svc/x" into "vos://auth!svc" and "x".
func splitPattern(pattern string) (dir, base string) {
	if idx := strings.LastIndex(pattern, "/"); idx >= 0 && !strings.HasSuffix(pattern[:idx+1], "://") {
		return pattern[:idx], pattern[idx+1:]
	}
	if vos_url.IsRemote(pattern) {
		idx := strings.Index(pattern, ":")
		rest := pattern[idx+1:]
		if strings.HasPrefix(rest, "//") {
			return pattern, ""
		}
		return pattern[:idx+1], rest
	}
	return "", pattern
}

func joinPattern(dir, name string) string {
	switch {
	case dir == "":
		return name
	case name == "":
		return dir
	case strings.HasSuffix(dir, "/") || strings.HasSuffix(dir, ":"):
		return dir + name
	}
	return dir + "/" + name
}
