// Package diagram renders a workflow and a run's progress through it as
// ASCII boxes or a Mermaid flowchart.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindStep  NodeKind = "step"
	NodeKindLoop  NodeKind = "loop"
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Until  string // loop nodes only
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	Iteration  int
	DurationMs int64
}

// Edge connects two nodes. A loop node has an edge to itself.
type Edge struct {
	From  string
	To    string
	Label string
}
