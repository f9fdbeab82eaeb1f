// Command influencer runs the AI influencer: the two-checkpoint review
// workflow, the approval chat, cron-scheduled discovery and the mocked X API
// MCP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// env is what every command runs against.
type env struct {
	cfg    Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (e *env) open(ctx context.Context) (*app, error) {
	return newApp(ctx, e.cfg, e.stderr)
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"run", "start the review workflow interactively, then chat", runRun},
	{"resume", "answer the open checkpoint of a suspended run", runResume},
	{"status", "show a run (--jq, --diagram)", runStatus},
	{"runs", "list runs (--status, --jq)", runRuns},
	{"describe", "draw the workflow (--format ascii|mermaid)", runDescribe},
	{"chat", "chat with the agent on a thread", runChat},
	{"approvals", "list post approvals", runApprovals},
	{"approve", "approve a pending post and continue", runApprove},
	{"decline", "decline a pending post", runDecline},
	{"schedule", "start discovery runs on cron schedules", runSchedule},
	{"serve-mcp", "serve the mocked X API tools over MCP stdio", runServeMCP},
	{"init", "write settings.json", runInit},
	{"version", "print the version", func(context.Context, *env, []string) error { printVersion(); return nil }},
}

func main() {
	e := &env{cfg: loadConfig(), stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if len(os.Args) < 2 {
		usage(e.stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(dispatch(ctx, e, os.Args[1], os.Args[2:]))
}

// dispatch runs the named command and returns the process exit code.
func dispatch(ctx context.Context, e *env, name string, args []string) int {
	switch name {
	case "help", "-h", "--help":
		usage(e.stdout)
		return 0
	case "--version", "-v":
		printVersion()
		return 0
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(ctx, e, args)
		switch {
		case err == nil, errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(e.stderr, "Interrupted")
			return 130
		default:
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(e.stderr, "Error: unknown command %q\n\n", name)
	usage(e.stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: influencer <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Settings: %s (overridden by INFLUENCER_* env vars)\n", settingsPath())
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(e *env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}
