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

// Package utils provides small shared helpers for the Weave runtime.
package utils

import (
	"encoding/json"
	"strings"
)

// ParseEmbeddedJSON walks a decoded value and replaces every string that
// parses as a JSON object or array with its parsed form. Tool servers often
// return JSON documents embedded as strings inside their envelope; selector
// evaluation needs the real structure.
//
// The function is idempotent: running it on an already-parsed value returns
// an equal value.
func ParseEmbeddedJSON(v any) any {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if len(trimmed) == 0 {
			return val
		}
		if trimmed[0] != '{' && trimmed[0] != '[' {
			return val
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return val
		}
		return ParseEmbeddedJSON(parsed)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ParseEmbeddedJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ParseEmbeddedJSON(item)
		}
		return out
	default:
		return v
	}
}

// ToJSONValue round-trips an arbitrary Go value through JSON so that the
// result contains only map[string]any, []any and JSON scalars. Structured
// tool results are normalized this way before selector evaluation.
func ToJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeepCopyMap creates a deep copy of a map[string]any.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = DeepCopyMap(val)
		case []any:
			result[k] = DeepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

// DeepCopySlice creates a deep copy of a []any.
func DeepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	result := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			result[i] = DeepCopyMap(val)
		case []any:
			result[i] = DeepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}

// Truncate shortens s to at most n runes, appending an ellipsis when
// truncation happened.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
