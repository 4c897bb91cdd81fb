package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kohai/internal/telemetry"
)

const (
	DefaultAssistantName  = "Kohai"
	DefaultAssistantModel = "gpt-4o"
)

// Config holds Service settings.
type Config struct {
	AssistantName  string
	AssistantModel string
	// AssistantID is a known id for AssistantName; it skips the remote lookup.
	AssistantID  string
	Instructions string
	Poll         PollPolicy
	Handlers     map[string]ToolHandler
}

// Service composes the components into one user turn. Turns on the same
// Service are serialized, and a run a turn leaves active is settled before
// the next turn on its thread publishes, so a thread never has two active
// runs started by it.
type Service struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	directory  *Directory
	threads    *Threads
	publisher  *Publisher
	dispatcher *Dispatcher
	runs       *RunController
	reader     *Reader

	turnMu sync.Mutex
	// active maps a thread id to the run last seen non-terminal on it.
	// Guarded by turnMu.
	active map[string]string
}

// NewService wires the components over t. A nil t yields a Service whose
// Ready reports false and whose operations return ErrNotConfigured.
// project may be nil.
func NewService(t Transport, project ProjectContext, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultAssistantName
	}
	if cfg.AssistantModel == "" {
		cfg.AssistantModel = DefaultAssistantModel
	}
	cfg.Poll = cfg.Poll.withDefaults()

	s := &Service{
		cfg:    cfg,
		logger: logger,
		tracer: telemetry.Tracer("kohai/assistant"),
		active: make(map[string]string),
	}
	if t == nil {
		return s
	}

	s.directory = NewDirectory(t, logger)
	s.directory.SetInstructions(cfg.Instructions)
	if cfg.AssistantID != "" {
		s.directory.Seed(cfg.AssistantName, cfg.AssistantID)
	}
	s.threads = NewThreads(t, project, cfg.AssistantName, logger)
	s.publisher = NewPublisher(t, logger)
	s.dispatcher = NewDispatcher(t, cfg.Handlers, logger)
	s.runs = NewRunController(t, s.dispatcher, cfg.Poll, cfg.AssistantName, logger)
	s.reader = NewReader(t, logger)
	return s
}

// Ready reports whether the Service has a transport to talk to.
func (s *Service) Ready() bool { return s.directory != nil }

// Send publishes text as a user message on the current thread, runs the
// assistant and returns its reply. When the run stops on tool calls no
// handler answered, Reply.Calls holds them and Reply.Text is the JSON array
// of their arguments. When an earlier turn left a run active on the thread
// (it timed out, or surfaced calls whose outputs resumed it) that run is
// cancelled first; ErrRunActive means it would not stop and nothing was
// published.
func (s *Service) Send(ctx context.Context, text string) (Reply, error) {
	if !s.Ready() {
		return Reply{}, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return Reply{}, errors.New("assistant: message is empty")
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "assistant.turn",
		trace.WithAttributes(attribute.String("assistant.name", s.cfg.AssistantName)))
	defer span.End()

	reply, err := s.turn(ctx, text)
	span.SetAttributes(
		attribute.String("thread_id", reply.ThreadID),
		attribute.String("run_id", reply.RunID),
		attribute.Int("tool_calls", len(reply.Calls)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("assistant: turn failed", "thread_id", reply.ThreadID, "run_id", reply.RunID, "error", err)
		return reply, err
	}
	return reply, nil
}

func (s *Service) turn(ctx context.Context, text string) (Reply, error) {
	var reply Reply

	assistantID, err := s.directory.Ensure(ctx, s.cfg.AssistantName, s.cfg.AssistantModel)
	if err != nil {
		return reply, fmt.Errorf("assistant: resolve assistant: %w", err)
	}

	threadID, ok := s.threads.Current(ctx, true)
	if !ok {
		threadID, err = s.threads.Create(ctx)
		if err != nil {
			return reply, fmt.Errorf("assistant: open thread: %w", err)
		}
	}
	reply.ThreadID = threadID

	if err := s.settle(ctx, threadID); err != nil {
		return reply, err
	}

	if err := s.publisher.Publish(ctx, threadID, UserMessage(text)); err != nil {
		return reply, err
	}

	result, err := s.runs.RunAndAwait(ctx, threadID, assistantID)
	reply.RunID = result.RunID
	if result.RunID != "" && !result.Status.Terminal() {
		s.active[threadID] = result.RunID
	}
	if err != nil {
		return reply, err
	}

	if len(result.Calls) > 0 {
		reply.Calls = result.Calls
		reply.Text = callsText(result.Calls)
		return reply, nil
	}

	msg, ok := s.reader.LastReply(ctx, threadID)
	if !ok {
		return reply, fmt.Errorf("%w: thread %s", ErrNoReply, threadID)
	}
	reply.Text = msg
	return reply, nil
}

// settle waits out the run an earlier turn left active on threadID.
func (s *Service) settle(ctx context.Context, threadID string) error {
	runID, ok := s.active[threadID]
	if !ok {
		return nil
	}
	status, err := s.runs.Settle(ctx, threadID, runID)
	if err != nil {
		return err
	}
	delete(s.active, threadID)
	s.logger.Debug("assistant: previous run settled", "thread_id", threadID, "run_id", runID, "status", statusOrUnknown(status))
	return nil
}

// NewThread discards the current thread and starts a new one.
func (s *Service) NewThread(ctx context.Context) (string, error) {
	if !s.Ready() {
		return "", ErrNotConfigured
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.threads.Create(ctx)
}

// CurrentThread returns the thread the next Send would use, if any.
func (s *Service) CurrentThread(ctx context.Context) (string, bool) {
	if !s.Ready() {
		return "", false
	}
	return s.threads.Current(ctx, true)
}

// DeleteThread deletes a remote thread. Deleting the current thread makes
// the next Send start a new one.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if !s.Ready() {
		return ErrNotConfigured
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if err := s.threads.Delete(ctx, threadID); err != nil {
		return err
	}
	delete(s.active, threadID)
	return nil
}

// ResetThread forgets the current thread without deleting it remotely, so
// the next Send loads the project's remembered thread again.
func (s *Service) ResetThread() {
	if !s.Ready() {
		return
	}
	s.threads.Reset()
}

// History returns the current thread's transcript. It is empty when no
// thread exists yet.
func (s *Service) History(ctx context.Context, order Order) ([]Message, error) {
	if !s.Ready() {
		return nil, ErrNotConfigured
	}
	threadID, ok := s.threads.Current(ctx, true)
	if !ok {
		return nil, nil
	}
	return s.reader.Messages(ctx, threadID, order)
}

func callsText(calls []ResolvedCall) string {
	args := make([]json.RawMessage, 0, len(calls))
	for _, c := range calls {
		args = append(args, c.Arguments)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}
