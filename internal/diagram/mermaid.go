package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/influencer/pkg/schema"
)

// statusClasses are emitted in this order so output is stable.
var statusClasses = []struct {
	status schema.StepStatus
	style  string
}{
	{schema.StepStatusCompleted, "fill:#2d6a2d,stroke:#1a4a1a,color:#fff"},
	{schema.StepStatusFailed, "fill:#8b1a1a,stroke:#5c0e0e,color:#fff"},
	{schema.StepStatusRunning, "fill:#1a5276,stroke:#0e3a52,color:#fff"},
	{schema.StepStatusSuspended, "fill:#b7791a,stroke:#8a5c14,color:#fff"},
	{schema.StepStatusPending, "fill:#6b6b6b,stroke:#4a4a4a,color:#fff"},
	{schema.StepStatusSkipped, "fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5"},
}

var mermaidIDs = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders the model as a top-down Mermaid flowchart. Review
// loops are hexagons with an "until" self-edge; nodes with a status overlay
// get the matching class.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		b.WriteString("    ")
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	b.WriteString("graph TD\n")
	if model.Title != "" {
		line("%%%% %s", model.Title)
	}
	for _, n := range model.Nodes {
		line("%s", mermaidNodeDef(n))
	}
	for _, e := range model.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow += fmt.Sprintf("|%q|", e.Label)
		}
		line("%s %s %s", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
	}

	b.WriteByte('\n')
	for _, c := range statusClasses {
		line("classDef %s %s", c.status, c.style)
	}
	for _, n := range model.Nodes {
		if n.Status != nil && knownStatus(n.Status.Status) {
			line("class %s %s", mermaidSafeID(n.ID), n.Status.Status)
		}
	}
	return b.String()
}

// mermaidNodeDef shapes a node by kind. A checkpoint past its first round
// shows the round number.
func mermaidNodeDef(n *Node) string {
	label := n.Label
	if n.Status != nil && n.Status.Iteration > 0 {
		label = fmt.Sprintf("%s #%d", label, n.Status.Iteration+1)
	}
	id := mermaidSafeID(n.ID)
	switch n.Kind {
	case NodeKindLoop:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	}
	return fmt.Sprintf("%s[%q]", id, label)
}

// mermaidSafeID makes step IDs such as hitl-search-checkpoint valid node IDs.
func mermaidSafeID(id string) string {
	return mermaidIDs.Replace(id)
}

func knownStatus(status string) bool {
	for _, c := range statusClasses {
		if string(c.status) == status {
			return true
		}
	}
	return false
}
