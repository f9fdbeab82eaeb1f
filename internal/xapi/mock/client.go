// Package mock implements xapi.Client with generated data and no network access.
package mock

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rendis/influencer/internal/xapi"
)

const (
	defaultMaxResults   = 10
	timelineNextToken   = "mock_next_token_123"
	searchNextToken     = "mock_search_next_token_456"
	quoteSeedOffsetMsec = 1000
)

// Client is a fake posting backend. The zero value is not usable; call New.
type Client struct {
	gen    *generator
	logger *slog.Logger
	fail   error
}

// Option configures a Client.
type Option func(*Client)

// WithSeed makes generated data reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Client) { c.gen.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithClock overrides the time source used for timestamps and created IDs.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.gen.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithFailure makes every call return err.
func WithFailure(err error) Option {
	return func(c *Client) { c.fail = err }
}

// New creates a mock client.
func New(opts ...Option) *Client {
	c := &Client{
		gen: &generator{
			rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
			now: time.Now,
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger.Info("mock x api client initialized")
	return c
}

var _ xapi.Client = (*Client)(nil)

// HomeTimeline returns MaxResults (default 10) tweets from the author pool.
func (c *Client) HomeTimeline(ctx context.Context, opts xapi.TimelineOptions) (*xapi.Page, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "mock: fetching home timeline", "max_results", opts.MaxResults)

	count := opts.MaxResults
	if count <= 0 {
		count = defaultMaxResults
	}
	tweets := c.gen.listing(timelineSeed, c.gen.randomTimelineTexts(count), count)
	return page(tweets, timelineNextToken), nil
}

// Search returns tech tweets matching query. When nothing matches, the first
// MaxResults tech tweets are returned instead.
func (c *Client) Search(ctx context.Context, query string, opts xapi.SearchOptions) (*xapi.Page, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "mock: searching tweets", "query", query)

	count := opts.MaxResults
	if count <= 0 {
		count = defaultMaxResults
	}
	texts := MatchTech(query)
	if len(texts) == 0 {
		texts = TechTweets[:min(count, len(TechTweets))]
	}
	n := min(count, len(texts))
	tweets := c.gen.listing(searchSeed, texts[:n], n)
	return page(tweets, searchNextToken), nil
}

// SingleTweet fabricates a tweet with the given ID.
func (c *Client) SingleTweet(ctx context.Context, id string) (*xapi.TweetDetail, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "mock: reading single tweet", "tweet_id", id)
	return c.gen.single(id), nil
}

// Tweet pretends to post text.
func (c *Client) Tweet(ctx context.Context, text string) (*xapi.CreatedTweet, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "mock: creating tweet", "text", text)
	return &xapi.CreatedTweet{
		ID:   TweetID(c.gen.now().UnixMilli()),
		Text: text,
	}, nil
}

// Quote pretends to post a quote of quotedTweetID.
func (c *Client) Quote(ctx context.Context, text, quotedTweetID string) (*xapi.QuoteTweet, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "mock: quote tweeting", "text", text, "quoted_tweet_id", quotedTweetID)
	return &xapi.QuoteTweet{
		ID:            TweetID(c.gen.now().UnixMilli() + quoteSeedOffsetMsec),
		Text:          text,
		QuotedTweetID: quotedTweetID,
	}, nil
}

func (c *Client) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fail
}

func page(tweets []xapi.Tweet, nextToken string) *xapi.Page {
	p := &xapi.Page{Data: tweets, Meta: xapi.Meta{ResultCount: len(tweets)}}
	if len(tweets) > 0 {
		p.Meta.NextToken = nextToken
	}
	return p
}
