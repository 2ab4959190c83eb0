// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builtin

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// maxDiagnosticDepth bounds the structure walk when hunting for misplaced
// keys.
const maxDiagnosticDepth = 8

var (
	selectorKeyPattern    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	selectorFilterPattern = regexp.MustCompile(`\[\?[^\]]*\]`)
)

// AnalyzeSelectorFailure explains why a base selector selected nothing. The
// text is addressed to the model: it names the available top-level keys,
// walks the selector segment by segment to find where it went wrong, and
// points at deeper locations where the missing key actually exists.
func AnalyzeSelectorFailure(data any, selector string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Selector %q selected nothing.\n\nDETECTED ISSUES:\n", selector))

	segments := selectorSegments(selector)
	matchedPath := ""
	var failedKey string

	for _, seg := range segments {
		v, err := jmespath.Search(seg.path, data)
		if err != nil || isEmpty(v) {
			failedKey = seg.key
			break
		}
		matchedPath = seg.path
	}

	switch {
	case failedKey == "" && len(segments) > 0:
		b.WriteString("- Every path segment resolved, but the final expression (likely a filter) matched no items. Loosen or remove the filter condition.\n")
	case failedKey != "":
		if matchedPath == "" {
			b.WriteString(fmt.Sprintf("- Key %q does not exist at the top level.\n", failedKey))
		} else {
			b.WriteString(fmt.Sprintf("- Key %q does not exist under %q.\n", failedKey, matchedPath))
		}
		// Point at every selector key that cannot be reached along the
		// chosen path; misplaced keys often exist deeper in the structure.
		seen := map[string]bool{}
		for _, seg := range segments {
			if seen[seg.key] {
				continue
			}
			seen[seg.key] = true
			if v, err := jmespath.Search(seg.path, data); err == nil && !isEmpty(v) {
				continue
			}
			locations := findKeyLocations(data, seg.key)
			if len(locations) > 0 {
				b.WriteString(fmt.Sprintf("- Key %q DOES exist at: %s. Adjust the selector to reach it there.\n",
					seg.key, strings.Join(locations, ", ")))
			} else {
				b.WriteString(fmt.Sprintf("- Key %q does not appear anywhere in the result structure.\n", seg.key))
			}
		}
	default:
		b.WriteString("- The selector could not be matched against the result structure.\n")
	}

	b.WriteString("\nAVAILABLE TOP-LEVEL KEYS:\n")
	keys := topLevelKeys(data)
	if len(keys) == 0 {
		b.WriteString("- (result is not an object)\n")
	} else {
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("- %s\n", k))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

type segment struct {
	key  string
	path string
}

// selectorSegments splits a selector into cumulative dotted paths, dropping
// filters and projections: "result.items[?x].name" probes result,
// result.items and result.items.name. Filter bodies are stripped first so
// their literals do not masquerade as path keys.
func selectorSegments(selector string) []segment {
	stripped := selectorFilterPattern.ReplaceAllString(selector, "")
	keys := selectorKeyPattern.FindAllString(stripped, -1)
	var segments []segment
	path := ""
	for _, key := range keys {
		if path == "" {
			path = key
		} else {
			path += "." + key
		}
		segments = append(segments, segment{key: key, path: path})
	}
	return segments
}

// findKeyLocations walks the structure and returns the paths at which the
// key exists.
func findKeyLocations(data any, key string) []string {
	var locations []string
	walk(data, "", 0, func(path string, m map[string]any) {
		if _, ok := m[key]; ok {
			if path == "" {
				locations = append(locations, key)
			} else {
				locations = append(locations, path+"."+key)
			}
		}
	})
	sort.Strings(locations)
	if len(locations) > 5 {
		locations = locations[:5]
	}
	return locations
}

func walk(data any, path string, depth int, visit func(path string, m map[string]any)) {
	if depth > maxDiagnosticDepth {
		return
	}
	switch v := data.(type) {
	case map[string]any:
		visit(path, v)
		for k, item := range v {
			child := k
			if path != "" {
				child = path + "." + k
			}
			walk(item, child, depth+1, visit)
		}
	case []any:
		for i, item := range v {
			walk(item, fmt.Sprintf("%s[%d]", path, i), depth+1, visit)
			if i >= 2 {
				break // sampling the first items is enough for diagnostics
			}
		}
	}
}

func topLevelKeys(data any) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
