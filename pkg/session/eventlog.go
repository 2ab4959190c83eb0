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

package session

import (
	"sync"
	"time"
)

// EventType identifies a graph-session event.
type EventType string

const (
	EventToolExecution      EventType = "tool_execution"
	EventAgentReasoning     EventType = "agent_reasoning"
	EventAgentGenerate      EventType = "agent_generate"
	EventTransfer           EventType = "transfer"
	EventDelegationSent     EventType = "delegation_sent"
	EventDelegationReturned EventType = "delegation_returned"
	EventArtifactSaved      EventType = "artifact_saved"
)

// Event is one typed entry in a graph-session event log.
type Event struct {
	Type      EventType
	AgentID   string
	Payload   map[string]any
	Timestamp time.Time
}

// EventLog is the append-only log of one executing request, keyed by the
// stream request id. Writers are the tool wrappers, the executor, the A2A
// dispatcher and the artifact extractor; readers are the tracing exporter
// and the post-turn artifact finalizer.
type EventLog struct {
	StreamRequestID string

	mu     sync.Mutex
	events []Event
}

// NewEventLog creates a log for one request.
func NewEventLog(streamRequestID string) *EventLog {
	return &EventLog{StreamRequestID: streamRequestID}
}

// Append adds an event. Ordering is the wall-clock order in which the
// executor observes events.
func (l *EventLog) Append(eventType EventType, agentID string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{
		Type:      eventType,
		AgentID:   agentID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// Snapshot returns a copy of the events appended so far.
func (l *EventLog) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// OfType returns the events of the given type, in order.
func (l *EventLog) OfType(eventType EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
