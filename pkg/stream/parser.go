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

// Package stream turns model output into the ordered parts list of a task
// result, resolving inline artifact markers into data parts on the way.
//
// The parser never splits a marker across two emitted text parts: text is
// buffered until the largest prefix that provably cannot start an
// incomplete marker is known, and only that prefix is emitted.
package stream

import (
	"regexp"
	"strings"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/storage"
)

// markerPattern is the only valid artifact reference marker form.
var markerPattern = regexp.MustCompile(`<artifact:ref\s+id="([^"]*?)"\s+task="([^"]*?)"\s*/>`)

// markerLiteral is the fixed head every marker starts with.
const markerLiteral = `<artifact:ref`

// Resolver looks up an artifact by id and task. A nil return drops the
// marker silently.
type Resolver func(artifactID, taskID string) *storage.Artifact

// Sink receives parts as they are finalized. A false return stops the
// producer (client gone).
type Sink func(part a2a.Part) bool

// Parser is the incremental text-stream parser. Feed it deltas, then call
// Finalize; Parts returns the accumulated list.
type Parser struct {
	resolve Resolver
	sink    Sink

	buffer    string
	parts     []a2a.Part
	finalized bool
	stopped   bool
}

// NewParser creates a parser. sink may be nil when only the final parts
// list is needed.
func NewParser(resolve Resolver, sink Sink) *Parser {
	return &Parser{resolve: resolve, sink: sink}
}

// Feed consumes one text delta. Returns false when the sink stopped
// accepting parts.
func (p *Parser) Feed(delta string) bool {
	if p.finalized || delta == "" {
		return !p.finalized
	}
	p.buffer += delta
	return p.drain(false)
}

// Finalize flushes residual text and marks the stream complete.
func (p *Parser) Finalize() {
	if p.finalized {
		return
	}
	p.drain(true)
	p.finalized = true
}

// Parts returns the ordered parts emitted so far, adjacent text parts merged.
func (p *Parser) Parts() []a2a.Part {
	out := make([]a2a.Part, len(p.parts))
	copy(out, p.parts)
	return out
}

// drain emits every complete marker and all provably safe text from the
// buffer. When flush is set, the remaining tail is emitted verbatim (an
// unterminated marker at stream end is plain text).
func (p *Parser) drain(flush bool) bool {
	for {
		loc := markerPattern.FindStringSubmatchIndex(p.buffer)
		if loc == nil {
			break
		}
		if !p.emitText(p.buffer[:loc[0]]) {
			return false
		}
		artifactID := p.buffer[loc[2]:loc[3]]
		taskID := p.buffer[loc[4]:loc[5]]
		if !p.emitArtifact(artifactID, taskID) {
			return false
		}
		p.buffer = p.buffer[loc[1]:]
	}

	if flush {
		ok := p.emitText(p.buffer)
		p.buffer = ""
		return ok
	}

	safe := safeBoundary(p.buffer)
	if safe > 0 {
		if !p.emitText(p.buffer[:safe]) {
			return false
		}
		p.buffer = p.buffer[safe:]
	}
	return true
}

func (p *Parser) emitText(text string) bool {
	if text == "" {
		return true
	}
	return p.emit(a2a.NewTextPart(text))
}

func (p *Parser) emitArtifact(artifactID, taskID string) bool {
	if p.resolve == nil {
		return true
	}
	artifact := p.resolve(artifactID, taskID)
	if artifact == nil {
		// Markers without a matching artifact emit nothing.
		return true
	}
	return p.emit(a2a.NewDataPart(artifactData(artifact)))
}

func (p *Parser) emit(part a2a.Part) bool {
	if p.stopped {
		return false
	}
	// The sink sees every chunk; the accumulated list merges adjacent text
	// so that it does not depend on how the stream was chunked.
	if n := len(p.parts); part.Kind == a2a.PartKindText && n > 0 && p.parts[n-1].Kind == a2a.PartKindText {
		p.parts[n-1].Text += part.Text
	} else {
		p.parts = append(p.parts, part)
	}
	if p.sink == nil {
		return true
	}
	if !p.sink(part) {
		p.stopped = true
		return false
	}
	return true
}

// artifactData is the resolved shape of an artifact reference.
func artifactData(a *storage.Artifact) map[string]any {
	return map[string]any{
		"artifactId":      a.ArtifactID,
		"taskId":          a.TaskID,
		"name":            a.Name,
		"description":     a.Description,
		"artifactType":    a.ArtifactType,
		"artifactSummary": a.SummaryData,
	}
}

// safeBoundary returns the length of the largest buffer prefix that cannot
// be the start of an incomplete marker. Everything before the last
// potential marker head is safe; the tail is held back until it either
// completes, diverges from the marker grammar, or the stream ends.
func safeBoundary(buffer string) int {
	for i := len(buffer) - 1; i >= 0; i-- {
		if buffer[i] != '<' {
			continue
		}
		if couldBeMarkerPrefix(buffer[i:]) {
			return i
		}
	}
	return len(buffer)
}

// couldBeMarkerPrefix reports whether s might still grow into a valid
// marker. A tail shorter than the literal head must be a prefix of it; a
// longer tail must start with the head and not yet be closed.
func couldBeMarkerPrefix(s string) bool {
	if len(s) < len(markerLiteral) {
		return strings.HasPrefix(markerLiteral, s)
	}
	if !strings.HasPrefix(s, markerLiteral) {
		return false
	}
	return !strings.Contains(s, "/>")
}
