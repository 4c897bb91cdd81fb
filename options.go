package kohai

import (
	"log/slog"
	"net/http"

	"github.com/ashita-ai/kohai/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	cfg          *config.Config
	logger       *slog.Logger
	version      string
	httpClient   *http.Client
	projectDir   string
	toolHandlers map[string]ToolHandler
	poll         PollPolicy
	noTelemetry  bool
}

// WithConfig replaces environment loading with an explicit configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = &cfg }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported to MCP clients and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithHTTPClient replaces the instrumented HTTP client used for the
// assistant API.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithProjectDir overrides the SQLite data directory (KOHAI_DATA_DIR).
// Ignored when KOHAI_DATABASE_URL selects Postgres.
func WithProjectDir(dir string) Option {
	return func(o *resolvedOptions) { o.projectDir = dir }
}

// WithToolHandler answers the assistant's calls to function name locally.
// Registering the same name twice keeps the last handler.
func WithToolHandler(name string, h ToolHandler) Option {
	return func(o *resolvedOptions) {
		if o.toolHandlers == nil {
			o.toolHandlers = make(map[string]ToolHandler)
		}
		o.toolHandlers[name] = h
	}
}

// WithPollPolicy overrides the run polling bounds from config.
func WithPollPolicy(p PollPolicy) Option {
	return func(o *resolvedOptions) { o.poll = p }
}

// WithoutTelemetry skips OTEL exporter setup even when an endpoint is configured.
func WithoutTelemetry() Option {
	return func(o *resolvedOptions) { o.noTelemetry = true }
}
