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

// Package prompt assembles the phase-1 and phase-2 system prompts from
// agent configuration, resolved context, and tool/component manifests.
package prompt

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render expands {{var}} placeholders from the variable map. Rendering is
// non-strict: unresolved placeholders are dropped rather than preserved, so
// prompts degrade gracefully when context resolution returns a partial map.
func Render(template string, vars map[string]any) string {
	if template == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := lookupVar(vars, key)
		if !ok {
			slog.Debug("Dropping unresolved template variable", "variable", key)
			return ""
		}
		return stringify(v)
	})
}

// lookupVar resolves a possibly dotted key against nested maps.
func lookupVar(vars map[string]any, key string) (any, bool) {
	if vars == nil {
		return nil, false
	}
	if v, ok := vars[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
