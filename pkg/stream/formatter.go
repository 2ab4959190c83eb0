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

package stream

import (
	"context"
	"log/slog"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/storage"
)

// Formatter post-processes a fully materialized response into the final
// ordered parts list. It applies the same resolution logic as the
// incremental parsers, in a single pass, with the conversation's artifacts
// pre-fetched once.
type Formatter struct {
	resolve Resolver
}

// NewFormatter creates a formatter over a resolver.
func NewFormatter(resolve Resolver) *Formatter {
	return &Formatter{resolve: resolve}
}

// NewConversationFormatter pre-fetches all artifacts of a conversation and
// resolves markers against them.
func NewConversationFormatter(ctx context.Context, store storage.RuntimeStore, scope storage.Scope, contextID string) *Formatter {
	artifacts, err := store.GetConversationScopedArtifacts(ctx, scope, contextID)
	if err != nil {
		slog.Warn("Failed to prefetch conversation artifacts",
			"context_id", contextID,
			"error", err)
	}
	return NewFormatter(MapResolver(artifacts))
}

// FormatText resolves artifact markers in a complete text response.
func (f *Formatter) FormatText(text string) []a2a.Part {
	parser := NewParser(f.resolve, nil)
	parser.Feed(text)
	parser.Finalize()
	return parser.Parts()
}

// FormatObject normalizes a complete structured-output object.
func (f *Formatter) FormatObject(obj map[string]any) []a2a.Part {
	var parts []a2a.Part
	for _, component := range dataComponents(obj) {
		if part, ok := NormalizeComponent(component, f.resolve); ok {
			parts = append(parts, part)
		}
	}
	return parts
}

// MapResolver resolves against a fixed artifact set keyed by artifact id.
func MapResolver(artifacts []*storage.Artifact) Resolver {
	byID := make(map[string]*storage.Artifact, len(artifacts))
	for _, a := range artifacts {
		byID[a.ArtifactID] = a
	}
	return func(artifactID, taskID string) *storage.Artifact {
		a, ok := byID[artifactID]
		if !ok {
			return nil
		}
		if taskID != "" && a.TaskID != "" && a.TaskID != taskID {
			return nil
		}
		return a
	}
}
