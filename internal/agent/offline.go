package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// OfflineModel is a deterministic, rule-based stand-in for a hosted model.
// It discovers with fetch_tweets, drafts numbered options from whatever
// tweets it was given, and posts a draft when asked to approve it.
type OfflineModel struct {
	// MaxResults is passed to fetch_tweets. Defaults to 5.
	MaxResults int
}

var (
	approvePattern = regexp.MustCompile(`(?i)^\s*(?:approve|post)\s*:?\s*#?(\d+)\s*$`)
	draftPattern   = regexp.MustCompile(`(?m)^\s*(\d+)\.\s+(Original|Quote(?: of (\d+))?):\s+(.+)$`)
	tweetIDPattern = regexp.MustCompile(`\b\d{19}\b`)
	labelPattern   = regexp.MustCompile(`^[A-Za-z ]+:\s*`)
)

// Complete implements Model.
func (m OfflineModel) Complete(_ context.Context, req *CompletionRequest) (*Completion, error) {
	msgs := req.Messages
	if len(msgs) == 0 {
		return reply("How can I help with your X presence today?"), nil
	}

	last := msgs[len(msgs)-1]
	if last.Role == RoleTool {
		return m.afterTool(msgs), nil
	}

	prompt := lastUser(msgs)
	if match := approvePattern.FindStringSubmatch(prompt); match != nil {
		return m.approve(msgs, match[1]), nil
	}
	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "draft") || strings.Contains(lower, "content option") {
		return reply(drafts(prompt)), nil
	}

	args := map[string]any{"maxResults": m.maxResults()}
	if q := searchQuery(prompt); q != "" {
		args["query"] = q
	}
	return call("fetch_tweets", args), nil
}

func (m OfflineModel) maxResults() int {
	if m.MaxResults < 5 || m.MaxResults > 20 {
		return 5
	}
	return m.MaxResults
}

// afterTool summarizes the tool results of the latest assistant turn.
func (m OfflineModel) afterTool(msgs []Message) *Completion {
	var lines []string
	for i := len(msgs) - 1; i >= 0 && msgs[i].Role == RoleTool; i-- {
		lines = append(lines, describeResult(msgs[i]))
	}
	// Results were collected newest first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return reply(strings.Join(lines, "\n\n"))
}

func describeResult(msg Message) string {
	var body map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &body); err != nil {
		return "The " + msg.ToolName + " tool returned an unreadable result."
	}
	if e, ok := body["error"].(string); ok {
		return fmt.Sprintf("The %s tool failed: %s. Try a different query.", msg.ToolName, e)
	}
	if declined, _ := body["declined"].(bool); declined {
		return "Understood, nothing was posted."
	}

	switch msg.ToolName {
	case "fetch_tweets":
		return summarize(body)
	case "create_tweet", "repost_tweet":
		return fmt.Sprintf("Posted tweet %v: %v", body["id"], body["text"])
	case "read_tweet":
		return fmt.Sprintf("Tweet %v: %v", body["id"], body["text"])
	}
	return "Done."
}

func summarize(body map[string]any) string {
	tweets, _ := body["tweets"].([]any)
	if len(tweets) == 0 {
		return "Discovery Summary:\n- No matching tweets right now. Try a broader query or the home timeline."
	}
	var b strings.Builder
	b.WriteString("Discovery Summary:\n")
	for i, raw := range tweets {
		if i == 3 {
			break
		}
		t, _ := raw.(map[string]any)
		fmt.Fprintf(&b, "- %v by %v: %v\n", t["id"], t["author_id"], t["text"])
	}
	b.WriteString("Next Step: reply with feedback to refine, or continue to drafting.")
	return b.String()
}

// approve posts the numbered draft from the most recent assistant turn that listed drafts.
func (m OfflineModel) approve(msgs []Message, number string) *Completion {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleAssistant {
			continue
		}
		for _, d := range draftPattern.FindAllStringSubmatch(msgs[i].Content, -1) {
			if d[1] != number {
				continue
			}
			if d[3] != "" {
				return call("repost_tweet", map[string]any{"tweetId": d[3], "thoughts": d[4]})
			}
			return call("create_tweet", map[string]any{"text": d[4]})
		}
	}
	return reply("I could not find draft " + number + ". Ask me for drafts first.")
}

// drafts builds three numbered options from the tweets mentioned in prompt.
func drafts(prompt string) string {
	ids := tweetIDPattern.FindAllString(prompt, -1)
	topic := topicOf(prompt)

	options := []string{
		fmt.Sprintf("Original: What stood out this week in %s: concrete tooling beats big claims. What are you shipping with it?", topic),
		fmt.Sprintf("Original: Three things builders should watch in %s: tool use, evals and cost. Which one bites you first?", topic),
	}
	if len(ids) > 0 {
		options = append(options, fmt.Sprintf("Quote of %s: Useful signal on %s. The interesting part is how it holds up in real workflows.", ids[0], topic))
	} else {
		options = append(options, fmt.Sprintf("Original: Shipping with %s taught us one thing: small, verifiable steps win. #AI", topic))
	}

	var b strings.Builder
	b.WriteString("Draft Options:\n")
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	b.WriteString("Next Step: approve one option (for example \"Approve: 2\") or ask for edits.")
	return b.String()
}

// searchQuery turns a prompt into a fetch_tweets query. Timeline requests get none.
func searchQuery(prompt string) string {
	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "timeline") {
		return ""
	}
	q := strings.TrimSpace(labelPattern.ReplaceAllString(prompt, ""))
	if q == "" {
		q = prompt
	}
	return clip(strings.Join(strings.Fields(q), " "), 64)
}

func topicOf(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, t := range []string{"MCP", "AI agents", "LLMs", "open source", "tool use"} {
		if strings.Contains(lower, strings.ToLower(t)) {
			return t
		}
	}
	return "AI"
}

func lastUser(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func reply(text string) *Completion {
	return &Completion{Message: Message{Role: RoleAssistant, Content: text}, FinishReason: "stop"}
}

func call(name string, args map[string]any) *Completion {
	return &Completion{
		Message: Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{Name: name, Arguments: args}},
		},
		FinishReason: "tool_calls",
	}
}
