// Package influencer assembles the discovery and drafting workflow with its
// two human review checkpoints.
package influencer

import (
	"context"
	"strings"

	"github.com/rendis/influencer/internal/agent"
	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/pkg/schema"
)

// WorkflowID names the registered workflow.
const WorkflowID = "ai-influencer-workflow"

// Step IDs.
const (
	StepDiscovery        = "discovery-step"
	StepSearchCheckpoint = "hitl-search-checkpoint"
	StepDrafts           = "draft-generation-step"
	StepDraftCheckpoint  = "hitl-draft-checkpoint"
)

// Generator is the part of the agent the workflow drives.
type Generator interface {
	Generate(ctx context.Context, prompt string, mem agent.Memory) (*agent.Response, error)
}

// New builds and commits the workflow:
// discovery, a search review loop, draft generation, and a draft review loop.
// opts apply to both review loops.
func New(gen Generator, opts ...engine.LoopOption) (*engine.Workflow, error) {
	return engine.NewWorkflow(WorkflowID).
		WithInputSchema(workflowInput).
		WithOutputSchema(checkpointOutput).
		Then(discoveryStep(gen)).
		DoUntil(checkpointStep(gen, StepSearchCheckpoint, "search results"), engine.UntilApproved(), opts...).
		Then(draftStep(gen)).
		DoUntil(checkpointStep(gen, StepDraftCheckpoint, "drafts"), engine.UntilApproved(), opts...).
		Commit()
}

// Input builds the workflow input for a query.
func Input(query, resourceID, threadID string) map[string]any {
	return map[string]any{"query": query, "resourceId": resourceID, "threadId": threadID}
}

func discoveryStep(gen Generator) engine.Step {
	return engine.NewStep(engine.StepConfig{
		ID:      StepDiscovery,
		Schemas: engine.StepSchemas{Input: workflowInput, Output: agentOutput},
		Execute: func(ctx context.Context, sc *engine.StepContext) (engine.StepResult, error) {
			mem := memoryOf(sc.Input)
			resp, err := gen.Generate(ctx, str(sc.Input, "query"), mem)
			if err != nil {
				return engine.StepResult{}, err
			}
			return engine.Output(agentResult(resp.Text, mem)), nil
		},
	})
}

func draftStep(gen Generator) engine.Step {
	return engine.NewStep(engine.StepConfig{
		ID:      StepDrafts,
		Schemas: engine.StepSchemas{Input: checkpointOutput, Output: agentOutput},
		Execute: func(ctx context.Context, sc *engine.StepContext) (engine.StepResult, error) {
			mem := memoryOf(sc.Input)
			resp, err := gen.Generate(ctx, "Generate 2-3 content options based on: "+str(sc.Input, "agentResponse"), mem)
			if err != nil {
				return engine.StepResult{}, err
			}
			if len(resp.Pending) > 0 {
				sc.Logger.WarnContext(ctx, "agent proposed posts while drafting", "pending", len(resp.Pending))
			}
			return engine.Output(agentResult(resp.Text, mem)), nil
		},
	})
}

// checkpointStep suspends with the latest agent response for review. On
// resume, blank input approves it; anything else is sent back to the agent
// as a refinement and the loop asks again.
func checkpointStep(gen Generator, id, subject string) engine.Step {
	return engine.NewStep(engine.StepConfig{
		ID: id,
		Schemas: engine.StepSchemas{
			Input:   checkpointInput,
			Output:  checkpointOutput,
			Suspend: suspendSchema,
			Resume:  resumeSchema,
		},
		Execute: func(ctx context.Context, sc *engine.StepContext) (engine.StepResult, error) {
			response := str(sc.Input, "agentResponse")
			if !sc.Resumed() {
				return sc.Suspend(map[string]any{
					"suspendResponse": "Please review the " + subject + ": " + response,
				}), nil
			}

			mem := memoryOf(sc.Input)
			userInput := strings.TrimSpace(str(sc.ResumeData, "userInput"))
			if userInput == "" {
				sc.Logger.InfoContext(ctx, "checkpoint approved", "iteration", sc.Iteration)
				out := agentResult(response, mem)
				out["approved"] = true
				return engine.Output(out), nil
			}

			sc.Logger.InfoContext(ctx, "refining with user input", "iteration", sc.Iteration)
			resp, err := gen.Generate(ctx, "Refine the "+subject+" based on the user input: "+userInput, mem)
			if err != nil {
				return engine.StepResult{}, err
			}
			if resp.Text == "" {
				return engine.StepResult{}, schema.NewError(schema.ErrCodeExecution, "no response from agent")
			}
			out := agentResult(resp.Text, mem)
			out["approved"] = false
			return engine.Output(out), nil
		},
	})
}

func memoryOf(in map[string]any) agent.Memory {
	return agent.Memory{Thread: str(in, "threadId"), Resource: str(in, "resourceId")}
}

func agentResult(text string, mem agent.Memory) map[string]any {
	return map[string]any{
		"agentResponse": text,
		"resourceId":    mem.Resource,
		"threadId":      mem.Thread,
	}
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
