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

// Package session provides the per-request execution state of an agent turn:
// the tool-session ledger (tool results keyed by call id) and the
// graph-session event log (ordered typed events for tracing and post-turn
// artifact finalization).
//
// Both are process-local. Delegated agents within one request share the
// caller's session id (the stream request id), so a caller can cite a
// delegate's tool results without extra plumbing. Delegation that crosses
// processes records the remote response at the A2A boundary instead.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a tool session is kept after its creation
	// before the sweeper reclaims it.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired sessions are reclaimed.
	DefaultSweepInterval = 60 * time.Second
)

// ToolResultRecord is one recorded tool invocation.
type ToolResultRecord struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     any
	Timestamp  time.Time
}

// ToolSession holds the tool results of one executing request.
type ToolSession struct {
	SessionID string
	TenantID  string
	ProjectID string
	ContextID string
	TaskID    string
	CreatedAt time.Time

	mu      sync.RWMutex
	results map[string]ToolResultRecord
}

// record inserts a tool result by call id. Last write wins per call id.
func (s *ToolSession) record(rec ToolResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[rec.ToolCallID] = rec
}

// get reads a tool result by call id.
func (s *ToolSession) get(toolCallID string) (ToolResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.results[toolCallID]
	return rec, ok
}

// Len returns the number of recorded results.
func (s *ToolSession) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Ledger is the process-wide store of tool sessions. Sessions expire after
// a TTL and are reclaimed by a periodic sweep.
type Ledger struct {
	mu       sync.RWMutex
	sessions map[string]*ToolSession
	ttl      time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// LedgerOption configures a Ledger.
type LedgerOption func(*ledgerOptions)

type ledgerOptions struct {
	ttl           time.Duration
	sweepInterval time.Duration
}

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) LedgerOption {
	return func(o *ledgerOptions) { o.ttl = ttl }
}

// WithSweepInterval overrides the sweep cadence.
func WithSweepInterval(interval time.Duration) LedgerOption {
	return func(o *ledgerOptions) { o.sweepInterval = interval }
}

// NewLedger creates a ledger with its own sweeper goroutine. Call Stop to
// release it.
func NewLedger(opts ...LedgerOption) *Ledger {
	o := &ledgerOptions{ttl: DefaultTTL, sweepInterval: DefaultSweepInterval}
	for _, opt := range opts {
		opt(o)
	}

	l := &Ledger{
		sessions: make(map[string]*ToolSession),
		ttl:      o.ttl,
		stopCh:   make(chan struct{}),
	}
	go l.sweep(o.sweepInterval)
	return l
}

var (
	globalLedger     *Ledger
	globalLedgerOnce sync.Once
)

// Global returns the process-wide ledger singleton.
func Global() *Ledger {
	globalLedgerOnce.Do(func() {
		globalLedger = NewLedger()
	})
	return globalLedger
}

// Create allocates a fresh session and returns its id.
func (l *Ledger) Create(tenantID, projectID, contextID, taskID string) string {
	sessionID := uuid.NewString()
	l.Ensure(sessionID, tenantID, projectID, contextID, taskID)
	return sessionID
}

// Ensure creates the session if it does not already exist. Delegated agents
// reuse the caller's session id, so creation must be idempotent.
func (l *Ledger) Ensure(sessionID, tenantID, projectID, contextID, taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[sessionID]; ok {
		return
	}
	l.sessions[sessionID] = &ToolSession{
		SessionID: sessionID,
		TenantID:  tenantID,
		ProjectID: projectID,
		ContextID: contextID,
		TaskID:    taskID,
		CreatedAt: time.Now(),
		results:   make(map[string]ToolResultRecord),
	}
}

// Record stores a tool result in the session. Records for unknown sessions
// are dropped, not errored: the session may have been swept mid-turn and a
// late result is not worth failing the turn over.
func (l *Ledger) Record(sessionID string, rec ToolResultRecord) {
	l.mu.RLock()
	s, ok := l.sessions[sessionID]
	l.mu.RUnlock()
	if !ok {
		slog.Debug("Dropping tool result for unknown session",
			"session_id", sessionID,
			"tool_call_id", rec.ToolCallID,
			"tool_name", rec.ToolName)
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.record(rec)
}

// Get reads a tool result by session and call id.
func (l *Ledger) Get(sessionID, toolCallID string) (ToolResultRecord, bool) {
	l.mu.RLock()
	s, ok := l.sessions[sessionID]
	l.mu.RUnlock()
	if !ok {
		slog.Debug("Tool result lookup on unknown session",
			"session_id", sessionID,
			"tool_call_id", toolCallID)
		return ToolResultRecord{}, false
	}
	return s.get(toolCallID)
}

// Session returns the session info, if present.
func (l *Ledger) Session(sessionID string) (*ToolSession, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sessions[sessionID]
	return s, ok
}

// End tears down a session explicitly. Sessions that are never ended are
// reclaimed by the sweeper.
func (l *Ledger) End(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Stop terminates the sweeper goroutine.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Ledger) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweepExpired()
		}
	}
}

func (l *Ledger) sweepExpired() {
	cutoff := time.Now().Add(-l.ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, s := range l.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(l.sessions, id)
			slog.Debug("Swept expired tool session",
				"session_id", id,
				"results", s.Len())
		}
	}
}
