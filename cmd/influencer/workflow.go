package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rendis/influencer/internal/agent"
	"github.com/rendis/influencer/internal/diagram"
	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/influencer"
	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/pkg/schema"
)

const (
	queryPrompt    = `Enter search query (e.g., "AI agents", "MCP"): `
	feedbackPrompt = "Your feedback (press Enter to approve, or type feedback to refine): "
)

func runRun(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "run")
	query := fs.String("query", "", "search query (prompted when empty)")
	thread := fs.String("thread", "", "conversation thread (default: thread-<unix ms>)")
	noChat := fs.Bool("no-chat", false, "exit when the workflow finishes instead of chatting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	con := newConsole(e.stdin, e.stdout)

	q := strings.TrimSpace(*query)
	if q == "" {
		if q, err = con.ask(ctx, queryPrompt); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	if q == "" {
		return fmt.Errorf("a search query is required")
	}
	threadID := *thread
	if threadID == "" {
		threadID = fmt.Sprintf("thread-%d", time.Now().UnixMilli())
	}

	con.header("Starting AI influencer workflow")
	res, err := a.executor.Start(ctx, influencer.WorkflowID, engine.StartRequest{
		Input:      influencer.Input(q, a.cfg.ResourceID, threadID),
		ResourceID: a.cfg.ResourceID,
		ThreadID:   threadID,
	})
	if err != nil {
		return err
	}
	if res, err = reviewLoop(ctx, a, con, res); err != nil {
		return err
	}

	switch res.Status {
	case schema.RunStatusSuccess:
		con.ok("Workflow completed")
		if text, _ := res.Output["agentResponse"].(string); text != "" {
			con.agent(text)
		}
	case schema.RunStatusSuspended:
		con.printf("Run %s is waiting for review. Continue with: influencer resume %s\n", res.RunID, res.RunID)
		return nil
	default:
		if res.Error != nil {
			return fmt.Errorf("workflow %s: %w", res.Status, res.Error)
		}
		return fmt.Errorf("workflow ended %s", res.Status)
	}

	if *noChat {
		return nil
	}
	return chatLoop(ctx, a, con, agent.Memory{Thread: threadID, Resource: a.cfg.ResourceID})
}

// reviewLoop answers checkpoints from the console until the run leaves the
// suspended state or input runs out.
func reviewLoop(ctx context.Context, a *app, con *console, res *engine.RunResult) (*engine.RunResult, error) {
	for res.Status == schema.RunStatusSuspended && len(res.Suspended) > 0 {
		prompt, _ := res.SuspendPayload["suspendResponse"].(string)
		con.review(prompt)

		answer, err := con.ask(ctx, feedbackPrompt)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		if answer == "" {
			con.ok("Approved")
		} else {
			con.printf("%s\n", mutedStyle.Render("Refining..."))
		}
		res, err = a.executor.Resume(ctx, res.RunID, res.Suspended[0], map[string]any{"userInput": answer})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func runResume(ctx context.Context, e *env, args []string) error {
	runID, args := splitID(args)
	fs := newFlagSet(e, "resume")
	input := fs.String("input", "", "feedback to refine with; empty approves")
	step := fs.String("step", "", "checkpoint step (default: the open one)")
	interactive := fs.Bool("i", false, "keep answering checkpoints from stdin")
	asJSON := fs.Bool("json", false, "print the run result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if runID == "" {
		return fmt.Errorf("usage: influencer resume <run-id> [--input text] [--step id] [-i] [--json]")
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stepID := *step
	if stepID == "" {
		view, err := a.executor.Status(ctx, runID)
		if err != nil {
			return err
		}
		if view.Suspension == nil {
			return fmt.Errorf("run %s is %s, not waiting for review", runID, view.Run.Status)
		}
		stepID = view.Suspension.StepID
	}

	res, err := a.executor.Resume(ctx, runID, stepID, map[string]any{"userInput": *input})
	if err != nil {
		return err
	}
	con := newConsole(e.stdin, e.stdout)
	if *interactive {
		if res, err = reviewLoop(ctx, a, con, res); err != nil {
			return err
		}
	}
	if *asJSON {
		return writeJSON(ctx, e.stdout, res, "")
	}
	printResult(con, res)
	return nil
}

// printResult summarizes a run result for people.
func printResult(con *console, res *engine.RunResult) {
	con.printf("%s %s\n", headerStyle.Render("Run"), res.RunID)
	con.printf("Status: %s\n", res.Status)
	switch res.Status {
	case schema.RunStatusSuspended:
		prompt, _ := res.SuspendPayload["suspendResponse"].(string)
		con.review(prompt)
		con.printf("Waiting at %s\n", strings.Join(res.Suspended, ", "))
	case schema.RunStatusSuccess:
		if text, _ := res.Output["agentResponse"].(string); text != "" {
			con.agent(text)
		}
	default:
		if res.Error != nil {
			con.fail("%s", res.Error.Error())
		}
	}
}

func runStatus(ctx context.Context, e *env, args []string) error {
	runID, args := splitID(args)
	fs := newFlagSet(e, "status")
	filter := fs.String("jq", "", "jq filter applied to the JSON run view")
	asJSON := fs.Bool("json", false, "print the run view as JSON")
	format := fs.String("diagram", "", "draw the workflow with step status: ascii or mermaid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if runID == "" {
		return fmt.Errorf("usage: influencer status <run-id> [--json] [--jq filter] [--diagram ascii|mermaid]")
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.executor.Status(ctx, runID)
	if err != nil {
		return err
	}
	if *asJSON || *filter != "" {
		return writeJSON(ctx, e.stdout, view, *filter)
	}
	if *format != "" {
		wf, err := a.executor.Workflow(view.Run.WorkflowID)
		if err != nil {
			return err
		}
		return drawDiagram(e.stdout, diagram.Build(wf, view.Steps), *format)
	}

	con := newConsole(e.stdin, e.stdout)
	con.printf("%s %s\n", headerStyle.Render("Run"), view.Run.ID)
	con.printf("Workflow: %s\n", view.Run.WorkflowID)
	con.printf("Status:   %s\n", view.Run.Status)
	if view.Run.CurrentStep != "" {
		con.printf("Step:     %s\n", view.Run.CurrentStep)
	}
	if view.Run.ThreadID != "" {
		con.printf("Thread:   %s\n", view.Run.ThreadID)
	}
	if view.Suspension != nil {
		var payload struct {
			SuspendResponse string `json:"suspendResponse"`
		}
		_ = json.Unmarshal(view.Suspension.Payload, &payload)
		con.review(payload.SuspendResponse)
	}
	return nil
}

func runRuns(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "runs")
	status := fs.String("status", "", "only runs in this status")
	limit := fs.Int("limit", 20, "maximum number of runs")
	filter := fs.String("jq", "", "jq filter applied to the JSON run list")
	asJSON := fs.Bool("json", false, "print the runs as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rf := store.RunFilter{Limit: *limit}
	if *status != "" {
		st := schema.RunStatus(*status)
		rf.Status = &st
	}
	runs, err := a.executor.Runs(ctx, rf)
	if err != nil {
		return err
	}
	if *asJSON || *filter != "" {
		return writeJSON(ctx, e.stdout, runs, *filter)
	}
	if len(runs) == 0 {
		fmt.Fprintln(e.stdout, "No runs")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(e.stdout, "%-36s  %-10s  %-24s  %s\n",
			r.ID, r.Status, r.CurrentStep, r.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runDescribe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "describe")
	format := fs.String("format", "ascii", "ascii or mermaid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return drawDiagram(e.stdout, diagram.Build(a.workflow, nil), *format)
}

func drawDiagram(w io.Writer, model *diagram.DiagramModel, format string) error {
	switch format {
	case "ascii":
		fmt.Fprintln(w, diagram.RenderASCII(model))
	case "mermaid":
		fmt.Fprintln(w, diagram.RenderMermaid(model))
	default:
		return fmt.Errorf("unknown diagram format %q (want ascii or mermaid)", format)
	}
	return nil
}

// splitID takes a leading positional ID so flags may follow it.
func splitID(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}
