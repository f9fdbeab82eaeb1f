package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rendis/influencer/internal/agent"
	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/pkg/schema"
)

const approvePrompt = "Approve? (y/n): "

func runChat(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "chat")
	thread := fs.String("thread", "", "conversation thread (default: a new one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	threadID := *thread
	if threadID == "" {
		threadID = fmt.Sprintf("thread-%d", time.Now().UnixMilli())
	}
	return chatLoop(ctx, a, newConsole(e.stdin, e.stdout), agent.Memory{Thread: threadID, Resource: a.cfg.ResourceID})
}

// chatLoop sends each line to the agent until "exit" or end of input.
func chatLoop(ctx context.Context, a *app, con *console, mem agent.Memory) error {
	con.header("Chat mode (thread " + mem.Thread + "). Type exit to quit.")
	for {
		line, err := con.ask(ctx, "\nYou: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			return nil
		}

		resp, err := a.agent.Generate(ctx, line, mem)
		if err != nil {
			con.fail("Error: %v", err)
			continue
		}
		if err := settle(ctx, a, con, resp); err != nil {
			return err
		}
	}
}

// settle prints a response and asks about each post it holds. Every decision
// returns the thread's remaining posts, plus new ones if the agent continued.
func settle(ctx context.Context, a *app, con *console, resp *agent.Response) error {
	con.response(resp)
	queue := resp.Pending
	for len(queue) > 0 {
		ap := queue[0]
		queue = queue[1:]

		con.pending(ap)
		answer, err := con.ask(ctx, approvePrompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var next *agent.Response
		if approved(answer) {
			next, err = a.agent.ApproveToolCall(ctx, ap.ID)
		} else {
			next, err = a.agent.DeclineToolCall(ctx, ap.ID, "declined by user")
		}
		if err != nil {
			con.fail("Error: %v", err)
			continue
		}
		if approved(answer) {
			con.ok("Posted")
		} else {
			con.printf("%s\n", mutedStyle.Render("Declined"))
		}
		con.response(next)
		queue = next.Pending
	}
	return nil
}

func approved(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

func runApprovals(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "approvals")
	thread := fs.String("thread", "", "only approvals on this thread")
	status := fs.String("status", string(schema.ApprovalPending), "pending, approved, declined or all")
	filter := fs.String("jq", "", "jq filter applied to the JSON approval list")
	asJSON := fs.Bool("json", false, "print the approvals as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	af := store.ApprovalFilter{ThreadID: *thread}
	if *status != "all" {
		st := schema.ApprovalStatus(*status)
		af.Status = &st
	}
	list, err := a.store.ListApprovals(ctx, af)
	if err != nil {
		return err
	}
	if *asJSON || *filter != "" {
		return writeJSON(ctx, e.stdout, list, *filter)
	}
	if len(list) == 0 {
		fmt.Fprintln(e.stdout, "No approvals")
		return nil
	}
	con := newConsole(e.stdin, e.stdout)
	for _, ap := range list {
		con.pending(ap)
		con.printf("%s\n", mutedStyle.Render(fmt.Sprintf("%s on %s", ap.Status, ap.ThreadID)))
	}
	return nil
}

func runApprove(ctx context.Context, e *env, args []string) error {
	id, args := splitID(args)
	fs := newFlagSet(e, "approve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("usage: influencer approve <approval-id>")
	}
	return decide(ctx, e, func(a *app) (*agent.Response, error) {
		return a.agent.ApproveToolCall(ctx, id)
	})
}

func runDecline(ctx context.Context, e *env, args []string) error {
	id, args := splitID(args)
	fs := newFlagSet(e, "decline")
	reason := fs.String("reason", "declined by user", "reason passed back to the agent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("usage: influencer decline <approval-id> [--reason text]")
	}
	return decide(ctx, e, func(a *app) (*agent.Response, error) {
		return a.agent.DeclineToolCall(ctx, id, *reason)
	})
}

// decide applies one approval decision and prints where the agent went next.
func decide(ctx context.Context, e *env, fn func(*app) (*agent.Response, error)) error {
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := fn(a)
	if err != nil {
		return err
	}
	con := newConsole(e.stdin, e.stdout)
	con.response(resp)
	for _, ap := range resp.Pending {
		con.pending(ap)
	}
	return nil
}
