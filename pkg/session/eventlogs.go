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

import "sync"

// EventLogs hands out the shared event log of a request. A delegated agent
// reuses the caller's stream request id and therefore appends to the same
// log.
type EventLogs struct {
	mu   sync.Mutex
	logs map[string]*EventLog
}

// NewEventLogs creates an empty registry.
func NewEventLogs() *EventLogs {
	return &EventLogs{logs: make(map[string]*EventLog)}
}

// GetOrCreate returns the log for a stream request id, creating it on
// first use.
func (r *EventLogs) GetOrCreate(streamRequestID string) *EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.logs[streamRequestID]
	if !ok {
		log = NewEventLog(streamRequestID)
		r.logs[streamRequestID] = log
	}
	return log
}

// Release drops the log of a finished request.
func (r *EventLogs) Release(streamRequestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logs, streamRequestID)
}
