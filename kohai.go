// Package kohai is the public API for embedding the Kohai planning assistant.
//
//	app, err := kohai.New(ctx,
//	    kohai.WithVersion(version),
//	    kohai.WithLogger(logger),
//	    kohai.WithToolHandler("create_task", createTask),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	reply, err := app.Ask(ctx, "what should I do first?")
//
// The import graph runs one way: kohai (root) imports internal/*, never the
// reverse. Public types live in types.go and are converted here, the only
// file that sees both sides.
package kohai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/config"
	"github.com/ashita-ai/kohai/internal/mcp"
	"github.com/ashita-ai/kohai/internal/project"
	"github.com/ashita-ai/kohai/internal/ratelimit"
	"github.com/ashita-ai/kohai/internal/telemetry"
)

var (
	// ErrNotConfigured is returned by assistant operations when no API key is set.
	ErrNotConfigured = assistant.ErrNotConfigured
	// ErrTimeout is returned when a run did not finish within the poll policy.
	ErrTimeout = assistant.ErrTimeout
	// ErrProjectNotFound is returned when a project id or name matches nothing.
	ErrProjectNotFound = project.ErrNotFound
)

// App is the Kohai lifecycle. Construct with New, release with Close.
type App struct {
	cfg          config.Config
	service      *assistant.Service
	projects     project.Store
	limiter      *ratelimit.MemoryLimiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the project store and wires the assistant
// engine. A missing API key is not an error: the App starts and its
// assistant operations return ErrNotConfigured.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	var cfg config.Config
	if o.cfg != nil {
		cfg = *o.cfg
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.projectDir != "" {
		cfg.DataDir = o.projectDir
	}

	logger.Info("kohai starting", "version", version, "configured", cfg.Configured())
	logger.Debug("kohai config", "config", cfg.Redacted())

	otelShutdown := telemetry.Shutdown(func(context.Context) error { return nil })
	if !o.noTelemetry {
		var err error
		otelShutdown, err = telemetry.Init(ctx, telemetry.Config{
			Endpoint:    cfg.OTELEndpoint,
			ServiceName: cfg.ServiceName,
			Version:     version,
			Insecure:    cfg.OTELInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	projects, err := openProjectStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	var transport assistant.Transport
	if cfg.Configured() {
		t, err := assistant.NewOpenAITransport(assistant.TransportConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.APIBaseURL,
			HTTPClient: o.httpClient,
			Timeout:    cfg.RequestTimeout,
			MaxRetries: maxRetries(cfg.MaxRetries),
		})
		if err != nil {
			_ = projects.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("assistant transport: %w", err)
		}
		transport = t
	} else {
		logger.Warn("OPENAI_API_KEY is not set; assistant operations are disabled")
	}

	poll := assistant.PollPolicy{
		MaxAttempts: cfg.PollMaxAttempts,
		Interval:    cfg.PollInterval,
		Deadline:    cfg.PollDeadline,
	}
	if o.poll != (PollPolicy{}) {
		poll = assistant.PollPolicy(o.poll)
	}

	handlers := make(map[string]assistant.ToolHandler, len(o.toolHandlers))
	for name, h := range o.toolHandlers {
		handlers[name] = assistant.ToolHandler(h)
	}

	service := assistant.NewService(transport, project.NewContext(projects, logger), assistant.Config{
		AssistantName:  cfg.AssistantName,
		AssistantModel: cfg.AssistantModel,
		AssistantID:    cfg.AssistantID,
		Instructions:   cfg.AssistantInstructions,
		Poll:           poll,
		Handlers:       handlers,
	}, logger)

	return &App{
		cfg:          cfg,
		service:      service,
		projects:     projects,
		limiter:      ratelimit.NewMemoryLimiter(cfg.MCPRateLimitRPS, cfg.MCPRateLimitBurst),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

func openProjectStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (project.Store, error) {
	if cfg.DatabaseURL != "" {
		s, err := project.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("project store: %w", err)
		}
		logger.Info("project store: postgres")
		return s, nil
	}
	s, err := project.OpenSQLite(ctx, cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("project store: %w", err)
	}
	logger.Info("project store: sqlite", "dir", cfg.DataDir)
	return s, nil
}

// maxRetries maps the config value, where 0 means no retries, onto the
// transport's convention, where 0 means the default.
func maxRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// Configured reports whether an API key is present.
func (a *App) Configured() bool { return a.service.Ready() }

// Ask sends text on the current project's thread and waits for the reply.
func (a *App) Ask(ctx context.Context, text string) (Reply, error) {
	r, err := a.service.Send(ctx, text)
	return toPublicReply(r), err
}

// NewThread starts the current project's conversation over.
func (a *App) NewThread(ctx context.Context) (string, error) {
	return a.service.NewThread(ctx)
}

// History returns the current thread's transcript, oldest first.
func (a *App) History(ctx context.Context) ([]Message, error) {
	msgs, err := a.service.History(ctx, assistant.OrderOldestFirst)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

// CreateProject stores a new project and makes it current.
func (a *App) CreateProject(ctx context.Context, p NewProject) (Project, error) {
	created, err := a.projects.Create(ctx, project.NewProject(p))
	if err != nil {
		return Project{}, err
	}
	a.service.ResetThread()
	return Project(created), nil
}

// OpenProject makes the project named by ref current. ref is a project id
// or, failing that, a name.
func (a *App) OpenProject(ctx context.Context, ref string) (Project, error) {
	ref = strings.TrimSpace(ref)
	id, err := uuid.Parse(ref)
	if err != nil {
		found, err := a.projects.Find(ctx, ref)
		if err != nil {
			return Project{}, err
		}
		id = found.ID
	}
	opened, err := a.projects.Open(ctx, id)
	if err != nil {
		return Project{}, err
	}
	a.service.ResetThread()
	return Project(opened), nil
}

// CurrentProject returns the most recently opened project. The bool is
// false when no project exists yet.
func (a *App) CurrentProject(ctx context.Context) (Project, bool, error) {
	p, err := a.projects.Current(ctx)
	if errors.Is(err, project.ErrNotFound) {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, err
	}
	return Project(p), true, nil
}

// Projects lists recently opened projects, most recent first. A limit of 0
// returns the default ten.
func (a *App) Projects(ctx context.Context, limit int) ([]Project, error) {
	ps, err := a.projects.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(ps))
	for _, p := range ps {
		out = append(out, Project(p))
	}
	return out, nil
}

// Run serves the MCP tools over in and out until ctx is cancelled or the
// client closes in.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	srv := mcp.New(a.service, a.projects, a.limiter, a.logger, a.version)
	a.logger.Info("mcp: serving on stdio")
	err := srv.Serve(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the project store and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	_ = a.limiter.Close()
	if err := a.projects.Close(); err != nil {
		errs = append(errs, fmt.Errorf("project store: %w", err))
	}
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func toPublicReply(r assistant.Reply) Reply {
	out := Reply{Text: r.Text, ThreadID: r.ThreadID, RunID: r.RunID}
	for _, c := range r.Calls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        c.ToolCallID,
			Function:  c.FunctionName,
			Arguments: c.Arguments,
		})
	}
	return out
}
