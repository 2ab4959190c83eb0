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

// Package observability records execution metrics for agent turns, tool
// executions and model calls. Metrics are OpenTelemetry instruments served
// through the Prometheus exporter; a no-op recorder keeps call sites
// unconditional.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder records execution metrics.
type Recorder interface {
	RecordAgentTurn(ctx context.Context, agentID string, duration time.Duration, err error)
	RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error)
	RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordAgentTurn(context.Context, string, time.Duration, error)         {}
func (NoopRecorder) RecordToolExecution(context.Context, string, time.Duration, error)     {}
func (NoopRecorder) RecordModelCall(context.Context, string, time.Duration, int, int, error) {}

// OTelRecorder records metrics through OpenTelemetry instruments.
type OTelRecorder struct {
	turnDuration metric.Float64Histogram
	turnErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	modelDuration     metric.Float64Histogram
	modelInputTokens  metric.Int64Counter
	modelOutputTokens metric.Int64Counter
	modelErrors       metric.Int64Counter
}

// NewOTelRecorder builds a recorder on the given meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	r := &OTelRecorder{}
	var err error

	if r.turnDuration, err = meter.Float64Histogram("weave_agent_turn_duration_seconds",
		metric.WithDescription("Agent turn duration")); err != nil {
		return nil, err
	}
	if r.turnErrors, err = meter.Int64Counter("weave_agent_turn_errors_total",
		metric.WithDescription("Agent turn failures")); err != nil {
		return nil, err
	}
	if r.toolDuration, err = meter.Float64Histogram("weave_tool_duration_seconds",
		metric.WithDescription("Tool execution duration")); err != nil {
		return nil, err
	}
	if r.toolCalls, err = meter.Int64Counter("weave_tool_calls_total",
		metric.WithDescription("Tool executions")); err != nil {
		return nil, err
	}
	if r.toolErrors, err = meter.Int64Counter("weave_tool_errors_total",
		metric.WithDescription("Tool execution failures")); err != nil {
		return nil, err
	}
	if r.modelDuration, err = meter.Float64Histogram("weave_model_call_duration_seconds",
		metric.WithDescription("Model call duration")); err != nil {
		return nil, err
	}
	if r.modelInputTokens, err = meter.Int64Counter("weave_model_input_tokens_total",
		metric.WithDescription("Prompt tokens consumed")); err != nil {
		return nil, err
	}
	if r.modelOutputTokens, err = meter.Int64Counter("weave_model_output_tokens_total",
		metric.WithDescription("Completion tokens produced")); err != nil {
		return nil, err
	}
	if r.modelErrors, err = meter.Int64Counter("weave_model_errors_total",
		metric.WithDescription("Model call failures")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordAgentTurn(ctx context.Context, agentID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("agent_id", agentID))
	r.turnDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		r.turnErrors.Add(ctx, 1, attrs)
	}
}

func (r *OTelRecorder) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", toolName))
	r.toolDuration.Record(ctx, duration.Seconds(), attrs)
	r.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		r.toolErrors.Add(ctx, 1, attrs)
	}
}

func (r *OTelRecorder) RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	r.modelDuration.Record(ctx, duration.Seconds(), attrs)
	r.modelInputTokens.Add(ctx, int64(inputTokens), attrs)
	r.modelOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		r.modelErrors.Add(ctx, 1, attrs)
	}
}

// Setup wires an OTel meter provider to a Prometheus registry and returns
// a recorder plus the registry to expose on /metrics.
func Setup() (*OTelRecorder, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	recorder, err := NewOTelRecorder(provider.Meter("github.com/kadirpekel/weave"))
	if err != nil {
		return nil, nil, err
	}
	return recorder, registry, nil
}

var (
	_ Recorder = (*NoopRecorder)(nil)
	_ Recorder = (*OTelRecorder)(nil)
)
