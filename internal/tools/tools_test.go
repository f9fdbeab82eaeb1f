package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/internal/xapi"
	"github.com/rendis/influencer/internal/xapi/mock"
	"github.com/rendis/influencer/pkg/schema"
)

var testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBuiltinRegistry(t *testing.T, opts ...mock.Option) *Registry {
	t.Helper()
	base := []mock.Option{
		mock.WithSeed(7),
		mock.WithClock(func() time.Time { return testNow }),
		mock.WithLogger(discardLogger()),
	}
	client := mock.New(append(base, opts...)...)
	reg := newTestRegistry()
	require.NoError(t, RegisterBuiltins(reg, client, discardLogger()))
	return reg
}

func tweetsOf(t *testing.T, out map[string]any) []map[string]any {
	t.Helper()
	raw, ok := out["tweets"].([]any)
	require.True(t, ok)
	tweets := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		tweets = append(tweets, r.(map[string]any))
	}
	return tweets
}

func TestBuiltins_Registered(t *testing.T) {
	reg := newBuiltinRegistry(t)
	names := make([]string, 0)
	for _, info := range reg.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"create_tweet", "fetch_tweets", "read_tweet", "repost_tweet"}, names)

	for _, name := range []string{"create_tweet", "repost_tweet"} {
		tool, err := reg.Get(name)
		require.NoError(t, err)
		assert.True(t, NeedsApproval(tool), name)
	}
	for _, name := range []string{"fetch_tweets", "read_tweet"} {
		tool, err := reg.Get(name)
		require.NoError(t, err)
		assert.False(t, NeedsApproval(tool), name)
	}
}

func TestFetchTweets_Defaults(t *testing.T) {
	reg := newBuiltinRegistry(t)
	out, err := reg.Call(context.Background(), "fetch_tweets", map[string]any{})
	require.NoError(t, err)

	tweets := tweetsOf(t, out)
	assert.Len(t, tweets, 5)
	meta := out["meta"].(map[string]any)
	assert.EqualValues(t, 5, meta["result_count"])
	assert.Equal(t, "mock_next_token_123", meta["next_token"])
}

func TestFetchTweets_SearchNewestFirst(t *testing.T) {
	reg := newBuiltinRegistry(t)
	out, err := reg.Call(context.Background(), "fetch_tweets", map[string]any{"query": "AI", "maxResults": 20})
	require.NoError(t, err)

	tweets := tweetsOf(t, out)
	require.NotEmpty(t, tweets)
	var prev time.Time
	for i, tw := range tweets {
		assert.Contains(t, strings.ToLower(tw["text"].(string)), "ai")
		ts, err := time.Parse(time.RFC3339Nano, tw["created_at"].(string))
		require.NoError(t, err)
		if i > 0 {
			assert.False(t, ts.After(prev), "tweets must be newest first")
		}
		prev = ts
	}
}

func TestFetchTweets_RangeEnforced(t *testing.T) {
	reg := newBuiltinRegistry(t)
	for _, n := range []int{4, 21} {
		_, err := reg.Call(context.Background(), "fetch_tweets", map[string]any{"maxResults": n})
		requireCode(t, err, schema.ErrCodeValidation)
	}
	_, err := reg.Call(context.Background(), "fetch_tweets", map[string]any{"unknown": true})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestFetchTweets_BackendFailureDegrades(t *testing.T) {
	reg := newBuiltinRegistry(t, mock.WithFailure(errors.New("rate limited")))
	out, err := reg.Call(context.Background(), "fetch_tweets", map[string]any{"query": "AI"})
	require.NoError(t, err)
	assert.Empty(t, tweetsOf(t, out))
	meta := out["meta"].(map[string]any)
	assert.EqualValues(t, 0, meta["result_count"])
	_, hasToken := meta["next_token"]
	assert.False(t, hasToken)
}

func TestReadTweet(t *testing.T) {
	reg := newBuiltinRegistry(t)
	out, err := reg.Call(context.Background(), "read_tweet", map[string]any{"tweetId": "1900000000000010003"})
	require.NoError(t, err)
	assert.Equal(t, "1900000000000010003", out["id"])
	author := out["author"].(map[string]any)
	assert.NotEmpty(t, author["username"])
	assert.Contains(t, out, "metrics")
}

func TestReadTweet_BackendFailureWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	reg := newBuiltinRegistry(t, mock.WithFailure(boom))
	_, err := reg.Call(context.Background(), "read_tweet", map[string]any{"tweetId": "1"})
	requireCode(t, err, schema.ErrCodeBackend)
	assert.Contains(t, err.Error(), "failed to read tweet: connection reset")
	assert.ErrorIs(t, err, boom)
}

func TestCreateTweet(t *testing.T) {
	reg := newBuiltinRegistry(t)
	out, err := reg.Call(context.Background(), "create_tweet", map[string]any{"text": "Shipping the new release today"})
	require.NoError(t, err)
	assert.Equal(t, mock.TweetID(testNow.UnixMilli()), out["id"])
	assert.Equal(t, "Shipping the new release today", out["text"])
}

func TestCreateTweet_LengthBoundaries(t *testing.T) {
	reg := newBuiltinRegistry(t)
	ctx := context.Background()

	_, err := reg.Call(ctx, "create_tweet", map[string]any{"text": strings.Repeat("x", 280)})
	require.NoError(t, err)

	_, err = reg.Call(ctx, "create_tweet", map[string]any{"text": strings.Repeat("x", 281)})
	requireCode(t, err, schema.ErrCodeValidation)

	_, err = reg.Call(ctx, "create_tweet", map[string]any{"text": ""})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestCreateTweet_DirectExecuteChecks(t *testing.T) {
	tool := NewCreateTweet(mock.New(mock.WithLogger(discardLogger())))
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]any{"text": strings.Repeat("é", 281)})
	requireCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, err.Error(), "tweet text too long: 281 characters (max 280)")

	_, err = tool.Execute(ctx, map[string]any{"text": ""})
	assert.Contains(t, err.Error(), "tweet text cannot be empty")
}

func TestCreateTweet_BackendFailureWrapped(t *testing.T) {
	reg := newBuiltinRegistry(t, mock.WithFailure(errors.New("forbidden")))
	_, err := reg.Call(context.Background(), "create_tweet", map[string]any{"text": "hi"})
	requireCode(t, err, schema.ErrCodeBackend)
	assert.Contains(t, err.Error(), "failed to create tweet: forbidden")
}

func TestRepostTweet(t *testing.T) {
	reg := newBuiltinRegistry(t)
	out, err := reg.Call(context.Background(), "repost_tweet", map[string]any{"tweetId": "42", "thoughts": "Worth a read"})
	require.NoError(t, err)
	assert.Equal(t, mock.TweetID(testNow.UnixMilli()+1000), out["id"])
	assert.Equal(t, "42", out["quoted_tweet_id"])
	assert.Equal(t, "Worth a read", out["text"])
}

func TestRepostTweet_Errors(t *testing.T) {
	reg := newBuiltinRegistry(t)
	ctx := context.Background()

	_, err := reg.Call(ctx, "repost_tweet", map[string]any{"tweetId": "42", "thoughts": strings.Repeat("y", 281)})
	requireCode(t, err, schema.ErrCodeValidation)

	_, err = reg.Call(ctx, "repost_tweet", map[string]any{"thoughts": "missing id"})
	requireCode(t, err, schema.ErrCodeValidation)

	failing := newBuiltinRegistry(t, mock.WithFailure(errors.New("suspended account")))
	_, err = failing.Call(ctx, "repost_tweet", map[string]any{"tweetId": "42", "thoughts": "x"})
	requireCode(t, err, schema.ErrCodeBackend)
	assert.Contains(t, err.Error(), "failed to create quote tweet: suspended account")
}

func TestFetchTweets_DirectClampsAndSorts(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fixedClient{page: &xapi.Page{Data: []xapi.Tweet{
		{ID: "old", Text: "a", AuthorID: "1", CreatedAt: older},
		{ID: "new", Text: "b", AuthorID: "1", CreatedAt: older.Add(time.Hour)},
	}}}
	tool := NewFetchTweets(client, discardLogger())

	out, err := tool.Execute(context.Background(), map[string]any{"maxResults": 100})
	require.NoError(t, err)
	assert.Equal(t, 20, client.lastMax, "maxResults is clamped")
	tweets := tweetsOf(t, out)
	require.Len(t, tweets, 2)
	assert.Equal(t, "new", tweets[0]["id"])
}

// fixedClient returns a canned page for HomeTimeline.
type fixedClient struct {
	xapi.Client
	page    *xapi.Page
	lastMax int
}

func (f *fixedClient) HomeTimeline(_ context.Context, opts xapi.TimelineOptions) (*xapi.Page, error) {
	f.lastMax = opts.MaxResults
	return f.page, nil
}
