package mock

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rendis/influencer/internal/xapi"
)

// tweetIDBase keeps generated IDs in the range of real snowflake IDs.
const tweetIDBase int64 = 1900000000000000000

// Seeds used to derive stable IDs per listing.
const (
	timelineSeed = 10000
	searchSeed   = 20000
)

const recentWindow = 7 * 24 * time.Hour

// Authors is the fixed pool of accounts tweets are attributed to.
var Authors = []xapi.User{
	{ID: "1234567890", Name: "Alex Chen", Username: "alexchen"},
	{ID: "2345678901", Name: "Sarah Martinez", Username: "sarahmartinez"},
	{ID: "3456789012", Name: "Jordan Lee", Username: "jordanlee"},
	{ID: "4567890123", Name: "Taylor Swift", Username: "taylorswift13"},
	{ID: "5678901234", Name: "Dev Community", Username: "ThePracticalDev"},
	{ID: "6789012345", Name: "AI Research", Username: "ai_research"},
	{ID: "7890123456", Name: "Open Source", Username: "opensource"},
	{ID: "8901234567", Name: "Tech News", Username: "technews"},
}

// TechTweets are the texts search results are drawn from.
var TechTweets = []string{
	"Just discovered an amazing open source library for AI development! 🚀",
	"Working on a new machine learning model. Early results are promising!",
	"The future of AI is looking bright. Exciting times ahead for developers.",
	"Just published a new blog post about building AI agents with TypeScript.",
	"Love how the open source community comes together to solve problems.",
	"Been exploring different AI models lately. GPT-4 continues to impress.",
	"Building something cool with Claude API. The results are incredible!",
	"TypeScript + AI = Perfect combination for modern development.",
	"Just shipped a new feature using AI-powered code generation.",
	"The latest developments in AI are mind-blowing. Great time to be in tech!",
}

// GeneralTweets pad the timeline with non-topical chatter.
var GeneralTweets = []string{
	"Beautiful day for coding! ☀️",
	"Coffee + Code = Productivity ☕",
	"Debugging is like being a detective in a crime movie where you are also the murderer.",
	"There are two hard things in computer science: cache invalidation, naming things, and off-by-one errors.",
	"Code never lies, comments sometimes do.",
	"First, solve the problem. Then, write the code.",
	"The best error message is the one that never shows up.",
	"Programming is the art of telling another human what one wants the computer to do.",
}

// searchKeywords match loosely: a query mentioning one of them matches any text that does too.
var searchKeywords = []string{"open", "source", "model", "ai"}

// TweetID derives a tweet ID from a seed.
func TweetID(seed int64) string {
	return strconv.FormatInt(tweetIDBase+seed, 10)
}

// AuthorByID returns the author with the given ID, or the first author.
func AuthorByID(id string) xapi.User {
	for _, a := range Authors {
		if a.ID == id {
			return a
		}
	}
	return Authors[0]
}

// MatchTech returns the tech texts that match query.
func MatchTech(query string) []string {
	q := strings.ToLower(query)
	var out []string
	for _, text := range TechTweets {
		t := strings.ToLower(text)
		if strings.Contains(t, q) {
			out = append(out, text)
			continue
		}
		for _, kw := range searchKeywords {
			if strings.Contains(q, kw) && strings.Contains(t, kw) {
				out = append(out, text)
				break
			}
		}
	}
	return out
}

// generator produces fake tweets. The random source is not goroutine-safe,
// so access is serialized.
type generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func (g *generator) intN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.IntN(n)
}

func (g *generator) metrics() xapi.PublicMetrics {
	bookmarks := g.intN(300)
	impressions := g.intN(50000)
	return xapi.PublicMetrics{
		RetweetCount:    g.intN(1000),
		ReplyCount:      g.intN(500),
		LikeCount:       g.intN(5000),
		QuoteCount:      g.intN(200),
		BookmarkCount:   &bookmarks,
		ImpressionCount: &impressions,
	}
}

// listing builds count tweets with strictly decreasing timestamps inside the
// recent window, so callers get newest-first order.
func (g *generator) listing(seed int64, texts []string, count int) []xapi.Tweet {
	if count <= 0 {
		return []xapi.Tweet{}
	}
	now := g.now().UTC()
	slot := recentWindow / time.Duration(count)
	tweets := make([]xapi.Tweet, 0, count)
	for i := 0; i < count; i++ {
		var jitter time.Duration
		if secs := int(slot / time.Second); secs > 0 {
			jitter = time.Duration(g.intN(secs)) * time.Second
		}
		tweets = append(tweets, xapi.Tweet{
			ID:            TweetID(seed + int64(i)),
			Text:          texts[i%len(texts)],
			AuthorID:      Authors[i%len(Authors)].ID,
			CreatedAt:     now.Add(-time.Duration(i)*slot - jitter).Truncate(time.Millisecond),
			PublicMetrics: g.metrics(),
		})
	}
	return tweets
}

// randomTimelineTexts picks count texts from the combined pool.
func (g *generator) randomTimelineTexts(count int) []string {
	pool := make([]string, 0, len(TechTweets)+len(GeneralTweets))
	pool = append(pool, TechTweets...)
	pool = append(pool, GeneralTweets...)
	out := make([]string, count)
	for i := range out {
		out[i] = pool[g.intN(len(pool))]
	}
	return out
}

func (g *generator) single(id string) *xapi.TweetDetail {
	author := Authors[g.intN(len(Authors))]
	texts := g.randomTimelineTexts(1)
	window := int(recentWindow / time.Second)
	created := g.now().UTC().Add(-time.Duration(g.intN(window)) * time.Second)
	return &xapi.TweetDetail{
		Tweet: xapi.Tweet{
			ID:            id,
			Text:          texts[0],
			AuthorID:      author.ID,
			CreatedAt:     created.Truncate(time.Millisecond),
			PublicMetrics: g.metrics(),
		},
		Author: author,
	}
}
