// Package xapi defines the contract of the social-media posting backend.
package xapi

import (
	"context"
	"time"
)

// Client is the subset of the posting API the tools call.
type Client interface {
	HomeTimeline(ctx context.Context, opts TimelineOptions) (*Page, error)
	Search(ctx context.Context, query string, opts SearchOptions) (*Page, error)
	SingleTweet(ctx context.Context, id string) (*TweetDetail, error)
	Tweet(ctx context.Context, text string) (*CreatedTweet, error)
	Quote(ctx context.Context, text, quotedTweetID string) (*QuoteTweet, error)
}

// PublicMetrics are engagement counters on a tweet.
type PublicMetrics struct {
	RetweetCount    int  `json:"retweet_count"`
	ReplyCount      int  `json:"reply_count"`
	LikeCount       int  `json:"like_count"`
	QuoteCount      int  `json:"quote_count"`
	BookmarkCount   *int `json:"bookmark_count,omitempty"`
	ImpressionCount *int `json:"impression_count,omitempty"`
}

// Tweet is a timeline or search entry.
type Tweet struct {
	ID            string        `json:"id"`
	Text          string        `json:"text"`
	AuthorID      string        `json:"author_id"`
	CreatedAt     time.Time     `json:"created_at"`
	PublicMetrics PublicMetrics `json:"public_metrics"`
}

// User is a tweet author.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Media is an attachment on a tweet.
type Media struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// URLEntity is a link found in tweet text.
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

// ReferencedTweet links a reply, quote or retweet to its origin.
type ReferencedTweet struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// TweetDetail is a single tweet with its author expanded.
type TweetDetail struct {
	Tweet
	Author           User              `json:"author"`
	Media            []Media           `json:"media,omitempty"`
	URLs             []URLEntity       `json:"urls,omitempty"`
	ReferencedTweets []ReferencedTweet `json:"referenced_tweets,omitempty"`
}

// Meta describes a page of results.
type Meta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token,omitempty"`
}

// Page is one page of tweets.
type Page struct {
	Data []Tweet `json:"data"`
	Meta Meta    `json:"meta"`
}

// CreatedTweet is the response to posting a tweet.
type CreatedTweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuoteTweet is the response to posting a quote tweet.
type QuoteTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	QuotedTweetID string `json:"quoted_tweet_id"`
}

// TimelineOptions parameterizes HomeTimeline.
type TimelineOptions struct {
	MaxResults     int
	ExcludeReplies bool
}

// SearchOptions parameterizes Search.
type SearchOptions struct {
	MaxResults int
}
