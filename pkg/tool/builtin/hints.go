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
	"sort"
	"strings"
)

const (
	maxHintPaths = 25
	maxHintDepth = 6

	// StructureHintsKey is the key under which hints are annotated onto
	// recorded tool results.
	StructureHintsKey = "_structureHints"
)

// StructureHints derives selector guidance from a tool result: terminal
// field paths, array paths, and example compound selectors. The hints flow
// into the phase-2 transcript verbatim so the model picks valid JMESPath
// expressions on the first try.
func StructureHints(result any) map[string]any {
	var terminalPaths []string
	var arrayPaths []string

	collectPaths(result, "", 0, &terminalPaths, &arrayPaths)

	sort.Strings(terminalPaths)
	sort.Strings(arrayPaths)
	if len(terminalPaths) > maxHintPaths {
		terminalPaths = terminalPaths[:maxHintPaths]
	}
	if len(arrayPaths) > maxHintPaths {
		arrayPaths = arrayPaths[:maxHintPaths]
	}

	hints := map[string]any{
		"note": "Selectors are JMESPath. Filter arrays with [?field=='value'], " +
			"take the first match with | [0]. Do not use JSONPath forms such as " +
			"$..field or array slices like [0:3].",
	}
	if len(terminalPaths) > 0 {
		hints["terminalPaths"] = terminalPaths
	}
	if len(arrayPaths) > 0 {
		hints["arrayPaths"] = arrayPaths
		hints["exampleSelectors"] = exampleSelectors(result, arrayPaths)
	}
	return hints
}

// collectPaths records dotted paths of scalar leaves and arrays. Array
// elements are sampled through the first item with the [] projection form.
func collectPaths(v any, path string, depth int, terminal, arrays *[]string) {
	if depth > maxHintDepth {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			child := k
			if path != "" {
				child = path + "." + k
			}
			collectPaths(item, child, depth+1, terminal, arrays)
		}
	case []any:
		if path != "" {
			*arrays = append(*arrays, path)
		}
		if len(val) > 0 {
			collectPaths(val[0], path+"[]", depth+1, terminal, arrays)
		}
	default:
		if path != "" {
			*terminal = append(*terminal, path)
		}
	}
}

// exampleSelectors builds concrete compound selectors from the first two
// arrays whose items are objects with a short non-empty string field.
func exampleSelectors(result any, arrayPaths []string) []string {
	var examples []string
	for _, arrayPath := range arrayPaths {
		field, value, ok := sampleField(result, arrayPath)
		if !ok {
			continue
		}
		examples = append(examples,
			fmt.Sprintf("%s[?%s=='%s'] | [0]", arrayPath, field, value),
			fmt.Sprintf("%s[]", arrayPath))
		if len(examples) >= 4 {
			break
		}
	}
	return examples
}

// sampleField finds a string-valued field on the first item of the array at
// the given dotted path.
func sampleField(result any, arrayPath string) (field, value string, ok bool) {
	current := result
	for _, seg := range strings.Split(arrayPath, ".") {
		seg = strings.TrimSuffix(seg, "[]")
		switch v := current.(type) {
		case map[string]any:
			current = v[seg]
		case []any:
			if len(v) == 0 {
				return "", "", false
			}
			m, isMap := v[0].(map[string]any)
			if !isMap {
				return "", "", false
			}
			current = m[seg]
		}
	}
	list, isList := current.([]any)
	if !isList || len(list) == 0 {
		return "", "", false
	}
	item, isMap := list[0].(map[string]any)
	if !isMap {
		return "", "", false
	}

	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, isString := item[k].(string); isString && s != "" && len(s) < 40 {
			return k, s, true
		}
	}
	return "", "", false
}
