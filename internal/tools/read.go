package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/influencer/internal/xapi"
	"github.com/rendis/influencer/pkg/schema"
)

var readTweetInput = json.RawMessage(`{
  "type": "object",
  "required": ["tweetId"],
  "properties": {
    "tweetId": {"type": "string", "minLength": 1, "description": "ID of the tweet to read"}
  },
  "additionalProperties": false
}`)

var readTweetOutput = json.RawMessage(`{
  "type": "object",
  "required": ["id", "text", "author", "created_at", "metrics"],
  "properties": {
    "id": {"type": "string"},
    "text": {"type": "string"},
    "author": {
      "type": "object",
      "required": ["id", "name", "username"],
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "username": {"type": "string"}
      }
    },
    "created_at": {"type": "string"},
    "metrics": {
      "type": "object",
      "required": ["retweet_count", "reply_count", "like_count", "quote_count"]
    },
    "media": {
      "type": "array",
      "items": {"type": "object", "required": ["type"]}
    },
    "urls": {
      "type": "array",
      "items": {"type": "object", "required": ["url"]}
    },
    "referenced_tweets": {
      "type": "array",
      "items": {"type": "object", "required": ["type", "id"]}
    }
  }
}`)

// ReadTweet returns the full content of one tweet.
type ReadTweet struct {
	client xapi.Client
}

// NewReadTweet creates the read_tweet tool.
func NewReadTweet(client xapi.Client) *ReadTweet {
	return &ReadTweet{client: client}
}

func (t *ReadTweet) Name() string { return "read_tweet" }

func (t *ReadTweet) Schema() ToolSchema {
	return ToolSchema{
		Description:  "Read tweet content. Returns tweet details including author info, metrics, media, and URLs.",
		InputSchema:  readTweetInput,
		OutputSchema: readTweetOutput,
	}
}

type readResult struct {
	ID               string                 `json:"id"`
	Text             string                 `json:"text"`
	Author           xapi.User              `json:"author"`
	CreatedAt        string                 `json:"created_at"`
	Metrics          xapi.PublicMetrics     `json:"metrics"`
	Media            []xapi.Media           `json:"media,omitempty"`
	URLs             []xapi.URLEntity       `json:"urls,omitempty"`
	ReferencedTweets []xapi.ReferencedTweet `json:"referenced_tweets,omitempty"`
}

func (t *ReadTweet) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	id := stringParam(args, "tweetId", "")
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tweetId is required")
	}

	d, err := t.client.SingleTweet(ctx, id)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBackend, "failed to read tweet: %v", err).WithCause(err)
	}

	return toMap(readResult{
		ID:               d.ID,
		Text:             d.Text,
		Author:           d.Author,
		CreatedAt:        d.CreatedAt.UTC().Format(time.RFC3339Nano),
		Metrics:          d.PublicMetrics,
		Media:            d.Media,
		URLs:             d.URLs,
		ReferencedTweets: d.ReferencedTweets,
	})
}
