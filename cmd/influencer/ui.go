package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/influencer/internal/agent"
	"github.com/rendis/influencer/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	reviewStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B"))
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#56B6C2"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	postBox     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// console reads answers line by line and writes styled output.
type console struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: bufio.NewReader(in), out: out}
}

// ask prints the prompt and returns the trimmed answer. io.EOF means the
// input is exhausted. A cancelled ctx is checked before reading.
func (c *console) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) header(title string) {
	c.printf("\n%s\n", headerStyle.Render(title))
}

func (c *console) review(text string) {
	c.printf("\n%s\n%s\n", reviewStyle.Render("Review needed"), text)
}

func (c *console) agent(text string) {
	if text == "" {
		return
	}
	c.printf("\n%s %s\n", agentStyle.Render("Agent:"), text)
}

func (c *console) ok(format string, args ...any) {
	c.printf("%s\n", okStyle.Render(fmt.Sprintf(format, args...)))
}

func (c *console) fail(format string, args ...any) {
	c.printf("%s\n", errStyle.Render(fmt.Sprintf(format, args...)))
}

// response prints the agent text, the tool results and any posts held for
// approval.
func (c *console) response(resp *agent.Response) {
	c.agent(resp.Text)
	for _, tr := range resp.ToolResults {
		if tr.Error != "" {
			c.printf("%s\n", mutedStyle.Render(fmt.Sprintf("  %s failed: %s", tr.Name, tr.Error)))
			continue
		}
		c.printf("%s\n", mutedStyle.Render(fmt.Sprintf("  %s %s", tr.Name, summarize(tr.Result))))
	}
	for _, ap := range resp.Pending {
		c.pending(ap)
	}
}

// pending shows a post awaiting approval.
func (c *console) pending(ap *store.Approval) {
	var args map[string]any
	_ = json.Unmarshal(ap.Arguments, &args)

	var body strings.Builder
	fmt.Fprintf(&body, "%s  %s\n", reviewStyle.Render(ap.ToolName), mutedStyle.Render(ap.ID))
	switch ap.ToolName {
	case "repost_tweet":
		fmt.Fprintf(&body, "Quoting: %v\n", args["tweetId"])
		fmt.Fprintf(&body, "Quote: %v", args["thoughts"])
	default:
		fmt.Fprintf(&body, "Content: %v", args["text"])
	}
	c.printf("%s\n", postBox.Render(strings.TrimRight(body.String(), "\n")))
}

// summarize renders a tool result on one line.
func summarize(result map[string]any) string {
	if tweets, ok := result["tweets"].([]any); ok {
		return fmt.Sprintf("returned %d tweets", len(tweets))
	}
	if id, _ := result["id"].(string); id != "" {
		return "-> " + id
	}
	return "done"
}
