package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kohai"
	"github.com/ashita-ai/kohai/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

const usage = `usage: kohai <command> [arguments]

commands:
  ask <text>                 send text to the assistant and print the reply
  new-thread                 start the current project's conversation over
  history                    print the current thread's transcript
  project new <name>         create a project and make it current
      -author, -description
  project open <id|name>     make a project current
  project list [-limit n]    list recent projects
  mcp                        serve the MCP tools on stdin/stdout
  version                    print the version
`

// errUsage marks command-line mistakes; they exit 2 instead of 1.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run0(os.Args[1:], os.Stdout, os.Stderr))
}

func run0(args []string, stdout, stderr io.Writer) int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	// Logs go to stderr: stdout carries replies and, under mcp, the protocol.
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, args, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "%v\n\n%s", err, usage)
			return 2
		}
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, rest := args[0], args[1:]
	if cmd == "version" {
		fmt.Fprintln(stdout, version)
		return nil
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Fprint(stdout, usage)
		return nil
	}

	app, err := kohai.New(ctx,
		kohai.WithConfig(cfg),
		kohai.WithLogger(logger),
		kohai.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	switch cmd {
	case "ask":
		return runAsk(ctx, app, rest, stdout)
	case "new-thread":
		id, err := app.NewThread(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
		return nil
	case "history":
		return runHistory(ctx, app, stdout)
	case "project":
		return runProject(ctx, app, rest, stdout)
	case "mcp":
		return app.Run(ctx, os.Stdin, stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func runAsk(ctx context.Context, app *kohai.App, args []string, stdout io.Writer) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("%w: ask needs text", errUsage)
	}
	reply, err := app.Ask(ctx, text)
	if err != nil {
		return err
	}
	if len(reply.ToolCalls) > 0 {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply.ToolCalls)
	}
	fmt.Fprintln(stdout, reply.Text)
	return nil
}

func runHistory(ctx context.Context, app *kohai.App, stdout io.Writer) error {
	msgs, err := app.History(ctx)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(stdout, "%s: %s\n", m.Role, m.Content)
	}
	return nil
}

func runProject(ctx context.Context, app *kohai.App, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: project needs a subcommand", errUsage)
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "new":
		fs := flag.NewFlagSet("project new", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		author := fs.String("author", "", "project owner")
		description := fs.String("description", "", "what the project is about")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		p, err := app.CreateProject(ctx, kohai.NewProject{
			Name:        strings.Join(fs.Args(), " "),
			Author:      *author,
			Description: *description,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\t%s\n", p.ID, p.Name)
		return nil

	case "open":
		ref := strings.TrimSpace(strings.Join(rest, " "))
		if ref == "" {
			return fmt.Errorf("%w: project open needs an id or name", errUsage)
		}
		p, err := app.OpenProject(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\t%s\n", p.ID, p.Name)
		return nil

	case "list":
		fs := flag.NewFlagSet("project list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		limit := fs.Int("limit", 0, "maximum projects to list")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		projects, err := app.Projects(ctx, *limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tOPENED\tTHREAD")
		for _, p := range projects {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.OpenedAt.Local().Format(time.DateTime), p.ThreadID)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("%w: unknown project subcommand %q", errUsage, sub)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
