package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/rendis/influencer/internal/xapi"
)

const (
	fetchDefaultMaxResults = 5
	fetchMinResults        = 5
	fetchMaxResults        = 20
)

var fetchTweetsInput = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Optional search query. If provided, searches tweets instead of fetching the home timeline. Example: \"open source\" or \"AI model\""
    },
    "maxResults": {
      "type": "integer",
      "minimum": 5,
      "maximum": 20,
      "default": 5,
      "description": "Number of tweets to fetch (5-20, default 5)"
    },
    "excludeReplies": {
      "type": "boolean",
      "default": false,
      "description": "Exclude reply tweets from results"
    }
  },
  "additionalProperties": false
}`)

var fetchTweetsOutput = json.RawMessage(`{
  "type": "object",
  "required": ["tweets", "meta"],
  "properties": {
    "tweets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "text", "author_id", "created_at", "public_metrics"],
        "properties": {
          "id": {"type": "string"},
          "text": {"type": "string"},
          "author_id": {"type": "string"},
          "created_at": {"type": "string"},
          "public_metrics": {
            "type": "object",
            "required": ["retweet_count", "reply_count", "like_count", "quote_count"],
            "properties": {
              "retweet_count": {"type": "integer"},
              "reply_count": {"type": "integer"},
              "like_count": {"type": "integer"},
              "quote_count": {"type": "integer"},
              "bookmark_count": {"type": "integer"},
              "impression_count": {"type": "integer"}
            }
          }
        }
      }
    },
    "meta": {
      "type": "object",
      "required": ["result_count"],
      "properties": {
        "result_count": {"type": "integer", "minimum": 0},
        "next_token": {"type": "string"}
      }
    }
  }
}`)

// FetchTweets lists tweets from search or the home timeline. Backend failures
// degrade to an empty result so discovery can continue.
type FetchTweets struct {
	client xapi.Client
	logger *slog.Logger
}

// NewFetchTweets creates the fetch_tweets tool.
func NewFetchTweets(client xapi.Client, logger *slog.Logger) *FetchTweets {
	return &FetchTweets{client: client, logger: logger}
}

func (t *FetchTweets) Name() string { return "fetch_tweets" }

func (t *FetchTweets) Schema() ToolSchema {
	return ToolSchema{
		Description: "Fetch tweets. If query is provided, searches tweets; if query is empty, fetches the home timeline. " +
			"Returns tweets in reverse chronological order (newest first). Returns truncated content and metadata, not full tweet content.",
		InputSchema:  fetchTweetsInput,
		OutputSchema: fetchTweetsOutput,
	}
}

type fetchResult struct {
	Tweets []xapi.Tweet `json:"tweets"`
	Meta   xapi.Meta    `json:"meta"`
}

func (t *FetchTweets) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := strings.TrimSpace(stringParam(args, "query", ""))
	maxResults := min(max(intParam(args, "maxResults", fetchDefaultMaxResults), fetchMinResults), fetchMaxResults)
	excludeReplies := boolParam(args, "excludeReplies", false)

	var (
		page *xapi.Page
		err  error
		op   string
	)
	if query != "" {
		op = "search tweets"
		page, err = t.client.Search(ctx, query, xapi.SearchOptions{MaxResults: maxResults})
	} else {
		op = "fetch home timeline"
		page, err = t.client.HomeTimeline(ctx, xapi.TimelineOptions{MaxResults: maxResults, ExcludeReplies: excludeReplies})
	}
	if err != nil {
		t.logger.WarnContext(ctx, "fetch_tweets degraded to empty result", "operation", op, "error", err)
		return toMap(fetchResult{Tweets: []xapi.Tweet{}, Meta: xapi.Meta{ResultCount: 0}})
	}

	tweets := page.Data
	if tweets == nil {
		tweets = []xapi.Tweet{}
	}
	if len(tweets) > maxResults {
		tweets = tweets[:maxResults]
	}
	sort.SliceStable(tweets, func(i, j int) bool {
		return tweets[i].CreatedAt.After(tweets[j].CreatedAt)
	})

	meta := page.Meta
	meta.ResultCount = len(tweets)
	return toMap(fetchResult{Tweets: tweets, Meta: meta})
}
