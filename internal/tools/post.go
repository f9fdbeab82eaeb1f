package tools

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/rendis/influencer/internal/xapi"
	"github.com/rendis/influencer/pkg/schema"
)

// MaxTweetLength is the character limit for standard accounts, counted in code points.
const MaxTweetLength = 280

var createTweetInput = json.RawMessage(`{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string", "minLength": 1, "maxLength": 280, "description": "Tweet content (1-280 characters for standard accounts)"}
  },
  "additionalProperties": false
}`)

var createTweetOutput = json.RawMessage(`{
  "type": "object",
  "required": ["id", "text"],
  "properties": {
    "id": {"type": "string"},
    "text": {"type": "string"}
  },
  "additionalProperties": false
}`)

var repostTweetInput = json.RawMessage(`{
  "type": "object",
  "required": ["tweetId", "thoughts"],
  "properties": {
    "tweetId": {"type": "string", "minLength": 1, "description": "ID of the tweet to quote"},
    "thoughts": {"type": "string", "maxLength": 280, "description": "Commentary to add to the quote tweet (max 280 characters)"}
  },
  "additionalProperties": false
}`)

var repostTweetOutput = json.RawMessage(`{
  "type": "object",
  "required": ["id", "text", "quoted_tweet_id"],
  "properties": {
    "id": {"type": "string"},
    "text": {"type": "string"},
    "quoted_tweet_id": {"type": "string"}
  },
  "additionalProperties": false
}`)

// CreateTweet posts a new tweet. Requires approval.
type CreateTweet struct {
	client xapi.Client
}

// NewCreateTweet creates the create_tweet tool.
func NewCreateTweet(client xapi.Client) *CreateTweet {
	return &CreateTweet{client: client}
}

func (t *CreateTweet) Name() string { return "create_tweet" }

func (t *CreateTweet) RequiresApproval() bool { return true }

func (t *CreateTweet) Schema() ToolSchema {
	return ToolSchema{
		Description:  "Create a tweet. Returns the new tweet ID and text. Requires user approval before posting.",
		InputSchema:  createTweetInput,
		OutputSchema: createTweetOutput,
	}
}

func (t *CreateTweet) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	text := stringParam(args, "text", "")
	if n := utf8.RuneCountInString(text); n > MaxTweetLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tweet text too long: %d characters (max %d)", n, MaxTweetLength)
	}
	if text == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tweet text cannot be empty")
	}

	created, err := t.client.Tweet(ctx, text)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBackend, "failed to create tweet: %v", err).WithCause(err)
	}
	return toMap(created)
}

// RepostTweet quotes an existing tweet with commentary. Requires approval.
type RepostTweet struct {
	client xapi.Client
}

// NewRepostTweet creates the repost_tweet tool.
func NewRepostTweet(client xapi.Client) *RepostTweet {
	return &RepostTweet{client: client}
}

func (t *RepostTweet) Name() string { return "repost_tweet" }

func (t *RepostTweet) RequiresApproval() bool { return true }

func (t *RepostTweet) Schema() ToolSchema {
	return ToolSchema{
		Description:  "Create a quote tweet with your thoughts. Returns the quote tweet data. Requires user approval before posting.",
		InputSchema:  repostTweetInput,
		OutputSchema: repostTweetOutput,
	}
}

func (t *RepostTweet) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	tweetID := stringParam(args, "tweetId", "")
	thoughts := stringParam(args, "thoughts", "")
	if tweetID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tweetId is required")
	}
	if n := utf8.RuneCountInString(thoughts); n > MaxTweetLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"thoughts text too long: %d characters (max %d)", n, MaxTweetLength)
	}

	quote, err := t.client.Quote(ctx, thoughts, tweetID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBackend, "failed to create quote tweet: %v", err).WithCause(err)
	}
	return toMap(quote)
}
