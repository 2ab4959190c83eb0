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

// Package server is the HTTP ingress of the runtime: it turns incoming
// A2A messages into tasks, dispatches them to the task handler, follows
// transfer hand-offs and streams parts to the client over SSE.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/executor"
	"github.com/kadirpekel/weave/pkg/stream"
)

// maxTransferHops bounds transfer chains within one request: a transfer
// cycle between two agents must not loop forever.
const maxTransferHops = 5

// Server serves the A2A ingress endpoints of one graph.
type Server struct {
	handler  *executor.TaskHandler
	registry *prometheus.Registry
	router   chi.Router
}

// New creates a server over a task handler. metrics may be nil.
func New(handler *executor.TaskHandler, metrics *prometheus.Registry) *Server {
	s := &Server{handler: handler, registry: metrics}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	}
	r.Post("/agents/{agentID}/message/send", s.handleSend)
	r.Post("/agents/{agentID}/message/stream", s.handleStream)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// taskFromRequest builds an ingress task from a message/send body.
func taskFromRequest(r *http.Request) (*a2a.Task, error) {
	var params a2a.SendParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	msg := params.Message
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	conversationID, _ := msg.Metadata[a2a.MetaConversationID].(string)
	if conversationID == "" {
		conversationID = msg.ContextID
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	msg.Metadata[a2a.MetaConversationID] = conversationID

	taskID := fmt.Sprintf("task_%s_%s", conversationID, uuid.NewString())
	return msg.ToTask(taskID), nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	task, err := taskFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer s.release(task)

	result, err := s.dispatch(r, agentID, task, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Warn("Failed to encode task result", "task_id", task.ID, "error", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	task, err := taskFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer s.release(task)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := func(part a2a.Part) bool {
		raw, err := json.Marshal(part)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: part\ndata: %s\n\n", raw); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	result, err := s.dispatch(r, agentID, task, sink)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
		flusher.Flush()
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		slog.Warn("Failed to encode final task result", "task_id", task.ID, "error", err)
		return
	}
	fmt.Fprintf(w, "event: result\ndata: %s\n\n", raw)
	flusher.Flush()
}

// dispatch runs the task and follows transfer hand-offs: a transfer
// artifact re-routes the original message to the target agent, up to
// maxTransferHops times.
func (s *Server) dispatch(r *http.Request, agentID string, task *a2a.Task, sink stream.Sink) (*a2a.TaskResult, error) {
	ctx := r.Context()

	for hop := 0; ; hop++ {
		var result *a2a.TaskResult
		var err error
		if sink != nil {
			result, err = s.handler.HandleStreaming(ctx, agentID, task, sink)
		} else {
			result, err = s.handler.Handle(ctx, agentID, task)
		}
		if err != nil {
			return nil, err
		}

		target := result.TransferTarget()
		if target == "" {
			return result, nil
		}
		if hop >= maxTransferHops {
			return nil, fmt.Errorf("transfer chain exceeded %d hops", maxTransferHops)
		}

		slog.Info("Following transfer",
			"from", agentID,
			"to", target,
			"task_id", task.ID)

		// A fresh task is issued for the target agent, preserving the
		// conversation and stream request metadata.
		agentID = target
		task = &a2a.Task{
			ID:        fmt.Sprintf("task_%s_%s", task.ContextID, uuid.NewString()),
			ContextID: task.ContextID,
			Input:     task.Input,
			Context:   task.Context,
		}
	}
}

func (s *Server) release(task *a2a.Task) {
	if id := task.MetaString(a2a.MetaStreamRequestID, a2a.MetaStreamRequestIDAlt); id != "" {
		s.handler.Release(id)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
