package diagram

import (
	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/store"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a workflow and optional step states
// keyed by step ID, as returned by the event log replay.
func Build(wf *engine.Workflow, states map[string]*store.StepState) *DiagramModel {
	infos := wf.Nodes()
	nodes := make([]*Node, 0, len(infos)+2)
	edges := make([]Edge, 0, len(infos)*2+1)

	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	prev := startID
	for _, info := range infos {
		n := &Node{ID: info.StepID, Label: info.StepID, Kind: NodeKindStep}
		edges = append(edges, Edge{From: prev, To: info.StepID})
		if info.Loop {
			n.Kind = NodeKindLoop
			n.Until = info.Until
			edges = append(edges, Edge{From: info.StepID, To: info.StepID, Label: "until " + info.Until})
		}
		overlayStatus(n, states)
		nodes = append(nodes, n)
		prev = info.StepID
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	edges = append(edges, Edge{From: prev, To: endID})

	return &DiagramModel{Title: wf.ID(), Nodes: nodes, Edges: edges}
}

func overlayStatus(n *Node, states map[string]*store.StepState) {
	st, ok := states[n.ID]
	if !ok || st == nil {
		return
	}
	n.Status = &StatusOverlay{
		Status:     string(st.Status),
		Iteration:  st.Iteration,
		DurationMs: st.DurationMs,
	}
}
