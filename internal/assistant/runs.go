package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kohai/internal/telemetry"
)

// RunController starts runs and polls them to a terminal state.
type RunController struct {
	transport  Transport
	dispatcher *Dispatcher
	policy     PollPolicy
	owner      string
	logger     *slog.Logger

	pollCounter metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewRunController creates a controller. Zero fields of policy take their
// DefaultPollPolicy values.
func NewRunController(t Transport, d *Dispatcher, policy PollPolicy, owner string, logger *slog.Logger) *RunController {
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("kohai/assistant")
	polls, _ := meter.Int64Counter("kohai.run.polls",
		metric.WithDescription("Run status fetches"),
	)
	dur, _ := meter.Float64Histogram("kohai.run.duration",
		metric.WithDescription("Time from run creation to its final poll (ms)"),
		metric.WithUnit("ms"),
	)
	return &RunController{
		transport:   t,
		dispatcher:  d,
		policy:      policy.withDefaults(),
		owner:       owner,
		logger:      logger,
		pollCounter: polls,
		runDuration: dur,
	}
}

// Policy returns the effective poll policy.
func (c *RunController) Policy() PollPolicy { return c.policy }

// RunAndAwait starts a run of assistantID over threadID and polls it.
//
// It returns a nil error when the run completed, and also when it stopped
// at requires_action with tool calls no handler answered; those calls are
// in RunResult.Calls. Their outputs were already submitted, so the run may
// still be working remotely. Calls that handlers answered are submitted and
// polling continues.
//
// A status fetch rejected with 429 or 5xx counts as an attempt and is
// retried after the poll interval.
//
// Failures: ErrRunCreate when the run could not be started, *RunError for
// failed, cancelled, expired or incomplete runs, ErrStatusUnreadable for a
// run without status, ErrToolSubmit when outputs could not be submitted and
// ErrTimeout when the attempt budget or deadline ran out first. A
// cancelled ctx returns its error.
func (c *RunController) RunAndAwait(ctx context.Context, threadID, assistantID string) (RunResult, error) {
	start := time.Now()

	var metadata map[string]string
	if c.owner != "" {
		metadata = map[string]string{"owner": c.owner}
	}
	run, err := c.transport.CreateRun(ctx, threadID, assistantID, metadata)
	if err != nil {
		c.logger.Error("assistant: create run failed", "thread_id", threadID, "assistant_id", assistantID, "error", err)
		return RunResult{}, fmt.Errorf("%w: %w", ErrRunCreate, err)
	}
	c.logger.Debug("assistant: run created", "thread_id", threadID, "run_id", run.ID)

	result, err := c.await(ctx, threadID, run.ID, start)
	result.Elapsed = time.Since(start)
	c.recordDuration(ctx, result)
	if err != nil {
		c.logger.Warn("assistant: run did not complete",
			"thread_id", threadID, "run_id", run.ID, "status", result.Status,
			"attempts", result.Attempts, "error", err)
	}
	return result, err
}

func (c *RunController) await(ctx context.Context, threadID, runID string, start time.Time) (RunResult, error) {
	result := RunResult{RunID: runID}
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(c.policy.Deadline))
	defer cancel()

	// Tool call ids already passed to the dispatcher. A run may still report
	// requires_action for the same calls right after their outputs were
	// submitted, and those must not be submitted twice.
	dispatched := make(map[string]bool)
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt
		run, err := c.transport.RetrieveRun(pollCtx, threadID, runID)
		c.countPoll(ctx, run.Status)
		if err != nil {
			if stopErr := c.stopped(ctx, pollCtx, runID, attempt); stopErr != nil {
				return result, stopErr
			}
			if !isRetriable(err) {
				return result, err
			}
			lastErr = err
			c.logger.Warn("assistant: transient poll failure", "run_id", runID, "attempt", attempt, "error", err)
		} else {
			lastErr = nil
			if done, err := c.step(pollCtx, threadID, run, dispatched, &result); done {
				return result, err
			}
		}

		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := sleepCtx(pollCtx, c.policy.Interval); err != nil {
			if stopErr := c.stopped(ctx, pollCtx, runID, attempt); stopErr != nil {
				return result, stopErr
			}
			return result, err
		}
	}
	if lastErr != nil {
		return result, fmt.Errorf("%w: run %s unreadable after %d attempts: %w", ErrTimeout, runID, result.Attempts, lastErr)
	}
	return result, fmt.Errorf("%w: run %s still %s after %d attempts", ErrTimeout, runID, statusOrUnknown(result.Status), result.Attempts)
}

// step applies one fetched run to result. It reports true when polling
// must stop, with the error to return.
func (c *RunController) step(ctx context.Context, threadID string, run Run, dispatched map[string]bool, result *RunResult) (bool, error) {
	result.Status = run.Status

	switch run.Status {
	case "":
		return true, fmt.Errorf("%w: run %s", ErrStatusUnreadable, result.RunID)
	case StatusCompleted:
		return true, nil
	case StatusFailed, StatusCancelled, StatusExpired, StatusIncomplete:
		rerr := &RunError{RunID: result.RunID, Status: run.Status}
		if run.LastError != nil {
			rerr.Code = run.LastError.Code
			rerr.Message = run.LastError.Message
		}
		return true, rerr
	case StatusRequiresAction:
		var pending []ToolCall
		for _, tc := range run.ToolCalls {
			if !dispatched[tc.ID] {
				pending = append(pending, tc)
			}
		}
		if len(pending) == 0 {
			return false, nil
		}
		for _, tc := range pending {
			dispatched[tc.ID] = true
		}
		run.ToolCalls = pending
		if run.ThreadID == "" {
			run.ThreadID = threadID
		}
		calls, err := c.dispatcher.ExtractAndResolve(ctx, run)
		if err != nil {
			return true, err
		}
		if surfaced := unhandled(calls); len(surfaced) > 0 {
			result.Calls = surfaced
			return true, nil
		}
	}
	return false, nil
}

// Settle brings a run left active by an earlier turn to a terminal state
// so a new run can start on its thread. A run still active is cancelled and
// polled under the same policy until the cancellation lands. A run that no
// longer exists counts as settled. ErrRunActive is returned when the budget
// runs out first.
func (c *RunController) Settle(ctx context.Context, threadID, runID string) (RunStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.policy.Deadline)
	defer cancel()

	var (
		status     RunStatus
		cancelSent bool
	)
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		run, err := c.transport.RetrieveRun(pollCtx, threadID, runID)
		c.countPoll(ctx, run.Status)
		switch {
		case err == nil:
			status = run.Status
			if status.Terminal() {
				return status, nil
			}
			if !cancelSent {
				cancelSent = true
				if err := c.transport.CancelRun(pollCtx, threadID, runID); err != nil && !IsNotFound(err) {
					// It may have finished in between; the next fetch tells.
					c.logger.Warn("assistant: cancel run failed", "thread_id", threadID, "run_id", runID, "error", err)
				} else {
					c.logger.Info("assistant: cancelled run left active", "thread_id", threadID, "run_id", runID, "status", status)
				}
			}
		case IsNotFound(err):
			return "", nil
		case ctx.Err() != nil:
			return status, fmt.Errorf("assistant: settle run %s: %w", runID, ctx.Err())
		case !isRetriable(err) || pollCtx.Err() != nil:
			return status, fmt.Errorf("%w: run %s: %w", ErrRunActive, runID, err)
		}

		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := sleepCtx(pollCtx, c.policy.Interval); err != nil {
			if ctx.Err() != nil {
				return status, fmt.Errorf("assistant: settle run %s: %w", runID, ctx.Err())
			}
			break
		}
	}
	return status, fmt.Errorf("%w: run %s still %s", ErrRunActive, runID, statusOrUnknown(status))
}

// stopped reports why polling must end: the caller's cancellation wins over
// the poll deadline.
func (c *RunController) stopped(ctx, pollCtx context.Context, runID string, attempt int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("assistant: poll run %s: %w", runID, err)
	}
	if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: run %s deadline %s passed after %d attempts", ErrTimeout, runID, c.policy.Deadline, attempt)
	}
	return nil
}

func (c *RunController) countPoll(ctx context.Context, status RunStatus) {
	if c.pollCounter == nil {
		return
	}
	c.pollCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOrUnknown(status))))
}

func (c *RunController) recordDuration(ctx context.Context, result RunResult) {
	if c.runDuration == nil {
		return
	}
	c.runDuration.Record(ctx, float64(result.Elapsed.Milliseconds()),
		metric.WithAttributes(attribute.String("status", statusOrUnknown(result.Status))))
}

func statusOrUnknown(s RunStatus) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
