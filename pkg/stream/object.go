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
	"github.com/kadirpekel/weave/pkg/a2a"
)

// ArtifactReferenceComponent is the data component name that references an
// existing artifact instead of carrying its own payload.
const ArtifactReferenceComponent = "Artifact"

// ObjectParser consumes partial-object deltas from a structured-output
// stream. A component is emitted once a later component appears after it
// (it can no longer change) or at finalization, so the emitted parts carry
// no duplicates and lose nothing.
type ObjectParser struct {
	resolve Resolver
	sink    Sink

	emitted   int
	parts     []a2a.Part
	finalized bool
}

// NewObjectParser creates an object-stream parser.
func NewObjectParser(resolve Resolver, sink Sink) *ObjectParser {
	return &ObjectParser{resolve: resolve, sink: sink}
}

// FeedDelta consumes the latest partial object.
func (p *ObjectParser) FeedDelta(partial map[string]any) bool {
	if p.finalized {
		return false
	}
	components := dataComponents(partial)
	// All but the trailing component are settled; the last one may still
	// be mid-generation.
	for p.emitted < len(components)-1 {
		if !p.emitComponent(components[p.emitted]) {
			return false
		}
		p.emitted++
	}
	return true
}

// Finalize emits the remaining components of the final object.
func (p *ObjectParser) Finalize(final map[string]any) {
	if p.finalized {
		return
	}
	components := dataComponents(final)
	for p.emitted < len(components) {
		if !p.emitComponent(components[p.emitted]) {
			break
		}
		p.emitted++
	}
	p.finalized = true
}

// Parts returns the ordered parts emitted so far.
func (p *ObjectParser) Parts() []a2a.Part {
	out := make([]a2a.Part, len(p.parts))
	copy(out, p.parts)
	return out
}

func (p *ObjectParser) emitComponent(component map[string]any) bool {
	part, ok := NormalizeComponent(component, p.resolve)
	if !ok {
		return true
	}
	p.parts = append(p.parts, part)
	if p.sink == nil {
		return true
	}
	return p.sink(part)
}

// NormalizeComponent turns one data component into an emitted part.
// Artifact-reference components resolve to the artifact record shape;
// everything else passes through unchanged. The bool return is false when
// the component emits nothing (unresolvable reference).
func NormalizeComponent(component map[string]any, resolve Resolver) (a2a.Part, bool) {
	name, _ := component["name"].(string)
	props, _ := component["props"].(map[string]any)

	if name == ArtifactReferenceComponent {
		artifactID, _ := props["artifact_id"].(string)
		taskID, _ := props["task_id"].(string)
		if artifactID == "" || resolve == nil {
			return a2a.Part{}, false
		}
		artifact := resolve(artifactID, taskID)
		if artifact == nil {
			return a2a.Part{}, false
		}
		return a2a.NewDataPart(artifactData(artifact)), true
	}

	return a2a.NewDataPart(component), true
}

func dataComponents(obj map[string]any) []map[string]any {
	if obj == nil {
		return nil
	}
	list, _ := obj["dataComponents"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
