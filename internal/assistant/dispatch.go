package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kohai/internal/telemetry"
)

// ToolHandler computes the output for a tool call answered locally.
// args is the call's validated JSON arguments.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Dispatcher acknowledges the tool calls of a run that requires action.
type Dispatcher struct {
	transport Transport
	handlers  map[string]ToolHandler
	logger    *slog.Logger

	callCounter metric.Int64Counter
}

// NewDispatcher creates a dispatcher. handlers maps function names to local
// implementations and may be nil.
func NewDispatcher(t Transport, handlers map[string]ToolHandler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	hs := make(map[string]ToolHandler, len(handlers))
	for name, h := range handlers {
		if h != nil {
			hs[name] = h
		}
	}
	meter := telemetry.Meter("kohai/assistant")
	counter, _ := meter.Int64Counter("kohai.tool_calls",
		metric.WithDescription("Tool calls seen in runs requiring action"),
	)
	return &Dispatcher{transport: t, handlers: hs, logger: logger, callCounter: counter}
}

// ExtractAndResolve stages one output per tool call with valid JSON
// arguments and submits them all in a single request. Calls with empty or
// unparsable arguments are skipped. The output is the call's own arguments
// unless a handler is registered for the function, in which case the call is
// marked Handled and carries the handler's output.
//
// It returns nil without contacting the remote service when nothing was
// staged, and ErrToolSubmit with no calls when the submission fails.
func (d *Dispatcher) ExtractAndResolve(ctx context.Context, run Run) ([]ResolvedCall, error) {
	var (
		outputs  []ToolOutput
		resolved []ResolvedCall
	)
	for _, tc := range run.ToolCalls {
		args := strings.TrimSpace(tc.Arguments)
		if tc.ID == "" || args == "" || !json.Valid([]byte(args)) {
			d.logger.Warn("assistant: skipping tool call with invalid arguments",
				"run_id", run.ID, "tool_call_id", tc.ID, "function", tc.FunctionName)
			d.count(ctx, tc.FunctionName, "skipped")
			continue
		}

		call := ResolvedCall{
			ToolCallID:   tc.ID,
			FunctionName: tc.FunctionName,
			Arguments:    json.RawMessage(args),
		}
		output := tc.Arguments
		if h, ok := d.handlers[tc.FunctionName]; ok {
			out, err := h(ctx, call.Arguments)
			if err != nil {
				d.logger.Warn("assistant: tool handler failed",
					"run_id", run.ID, "function", tc.FunctionName, "error", err)
				out = errorOutput(err)
			}
			output = out
			call.Handled = true
			call.Output = out
		}
		outputs = append(outputs, ToolOutput{ToolCallID: tc.ID, Output: output})
		resolved = append(resolved, call)
	}

	if len(outputs) == 0 {
		return nil, nil
	}

	if err := d.transport.SubmitToolOutputs(ctx, run.ThreadID, run.ID, outputs); err != nil {
		d.logger.Error("assistant: submit tool outputs failed",
			"run_id", run.ID, "outputs", len(outputs), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrToolSubmit, err)
	}
	for _, c := range resolved {
		outcome := "surfaced"
		if c.Handled {
			outcome = "handled"
		}
		d.count(ctx, c.FunctionName, outcome)
	}
	d.logger.Debug("assistant: tool outputs submitted", "run_id", run.ID, "outputs", len(outputs))
	return resolved, nil
}

func (d *Dispatcher) count(ctx context.Context, function, outcome string) {
	if d.callCounter == nil {
		return
	}
	d.callCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("function", function),
		attribute.String("outcome", outcome),
	))
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// unhandled returns the calls the caller must act on.
func unhandled(calls []ResolvedCall) []ResolvedCall {
	var out []ResolvedCall
	for _, c := range calls {
		if !c.Handled {
			out = append(out, c)
		}
	}
	return out
}
