package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/influencer"
	"github.com/rendis/influencer/internal/scheduler"
	"github.com/rendis/influencer/pkg/mcp"
)

func runSchedule(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "schedule")
	file := fs.String("file", "", "YAML file with a schedules list (added to settings.json schedules)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobs := append([]scheduler.Job(nil), e.cfg.Schedules...)
	if *file != "" {
		fromFile, err := loadSchedules(*file)
		if err != nil {
			return err
		}
		jobs = append(jobs, fromFile...)
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no schedules configured: add them to %s or pass --file", settingsPath())
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pool := engine.NewRunPool(a.cfg.PoolSize, a.logger.With("component", "pool"))
	defer pool.Shutdown()

	sched := scheduler.New(discoveryLauncher(a), pool, a.logger.With("component", "scheduler"))
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	for _, up := range sched.Upcoming() {
		fmt.Fprintf(e.stdout, "%-20s %-16s next %s  %q\n",
			up.Job.Name, up.Job.Cron, up.Next.Local().Format(time.DateTime), up.Job.Query)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}

// discoveryLauncher starts one workflow run per due job on a fresh thread.
// Runs stop at the search checkpoint and wait for `influencer resume`.
func discoveryLauncher(a *app) scheduler.Launcher {
	return scheduler.LauncherFunc(func(ctx context.Context, job scheduler.Job) error {
		resourceID := job.ResourceID
		if resourceID == "" {
			resourceID = a.cfg.ResourceID
		}
		threadID := fmt.Sprintf("schedule-%s-%d", job.Name, time.Now().UnixMilli())

		res, err := a.executor.Start(ctx, influencer.WorkflowID, engine.StartRequest{
			Input:      influencer.Input(job.Query, resourceID, threadID),
			ResourceID: resourceID,
			ThreadID:   threadID,
		})
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "scheduled run started",
			"job", job.Name, "run_id", res.RunID, "status", res.Status)
		return nil
	})
}

func runServeMCP(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "serve-mcp")
	apiOnly := fs.Bool("api-only", false, "serve only the X API tools, not the workflow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := mcp.ServerDeps{
		Registry:   a.registry,
		ResourceID: a.cfg.ResourceID,
		Version:    version,
		Logger:     a.logger.With("component", "mcp"),
	}
	if !*apiOnly {
		deps.Executor = a.executor
	}
	srv := mcp.NewInfluencerServer(deps)

	go func() {
		notifier := mcp.NewMCPNotifier(srv.MCPServer(), srv.Sessions())
		if err := mcp.Forward(ctx, a.hub, notifier, a.logger); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("run notifications stopped", "error", err)
		}
	}()

	a.logger.Info("serving MCP over stdio", "server", mcp.ServerName, "version", version, "workflow", !*apiOnly)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
