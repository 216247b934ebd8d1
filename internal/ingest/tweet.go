package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

const tweetSearchURL = "https://api.twitter.com/2/tweets/search/recent"

type tweetURL struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayURL  string `json:"display_url"`
}

type tweetEntities struct {
	URLs []tweetURL `json:"urls"`
}

type tweetAttachments struct {
	MediaKeys []string `json:"media_keys"`
}

type tweetData struct {
	ID          string            `json:"id"`
	AuthorID    string            `json:"author_id"`
	Text        string            `json:"text"`
	CreatedAt   time.Time         `json:"created_at"`
	Entities    *tweetEntities    `json:"entities"`
	Attachments *tweetAttachments `json:"attachments"`
}

type tweetMedia struct {
	MediaKey        string `json:"media_key"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

type tweetUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type tweetIncludes struct {
	Media []tweetMedia `json:"media"`
	Users []tweetUser  `json:"users"`
}

type tweetMeta struct {
	NewestID    string `json:"newest_id"`
	ResultCount int    `json:"result_count"`
}

type tweetResponse struct {
	Data     []tweetData    `json:"data"`
	Includes *tweetIncludes `json:"includes"`
	Meta     *tweetMeta     `json:"meta"`
}

// TweetFeed polls the Twitter v2 recent-search endpoint for the configured
// keywords and renders matches into relay-ready content, timestamp header
// and platform banner included.
type TweetFeed struct {
	fetch    *Fetcher
	cursors  CursorStore
	keywords []string
	bearer   string
	loc      *time.Location
	log      logx.Logger
}

func NewTweetFeed(fetch *Fetcher, cursors CursorStore, keywords []string, bearerToken string, loc *time.Location, log logx.Logger) *TweetFeed {
	if loc == nil {
		loc = time.Local
	}
	return &TweetFeed{
		fetch:    fetch,
		cursors:  cursors,
		keywords: keywords,
		bearer:   bearerToken,
		loc:      loc,
		log:      log,
	}
}

func (t *TweetFeed) Name() string { return "tweet" }

func (t *TweetFeed) CheckUpdate(ctx context.Context) ([]ParsedContent, error) {
	return t.collect(ctx, true)
}

func (t *TweetFeed) Latest(ctx context.Context) ([]ParsedContent, error) {
	return t.collect(ctx, false)
}

func (t *TweetFeed) collect(ctx context.Context, sinceCursor bool) ([]ParsedContent, error) {
	var out []ParsedContent
	for _, kw := range t.keywords {
		cursorName := "tweet:newest_id:" + kw
		var sinceID string
		if sinceCursor {
			v, err := t.cursors.GetCursor(ctx, cursorName)
			if err != nil {
				return nil, err
			}
			sinceID = v
		}
		resp, err := t.search(ctx, kw, sinceID)
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", kw, err)
		}
		if resp.Meta == nil || resp.Meta.ResultCount == 0 {
			continue
		}
		if resp.Meta.NewestID != "" {
			if err := t.cursors.PutCursor(ctx, cursorName, resp.Meta.NewestID); err != nil {
				return nil, err
			}
		}
		if sinceID == "" && sinceCursor {
			// first run records the high-water mark without pushing history
			continue
		}
		t.log.Info("tweet updates found", logx.String("keyword", kw), logx.Int("count", resp.Meta.ResultCount))
		out = append(out, t.render(resp)...)
	}
	return out, nil
}

func (t *TweetFeed) search(ctx context.Context, keyword, sinceID string) (*tweetResponse, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("#%s is:verified lang:ja", keyword))
	params.Set("tweet.fields", "entities,created_at")
	params.Set("user.fields", "name")
	params.Set("expansions", "author_id,attachments.media_keys")
	params.Set("media.fields", "url,media_key,type,preview_image_url")
	params.Set("max_results", "30")
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.bearer)

	raw, err := t.fetch.Get(ctx, tweetSearchURL+"?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}
	var resp tweetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode tweet response: %w", err)
	}
	return &resp, nil
}

func (t *TweetFeed) render(resp *tweetResponse) []ParsedContent {
	media := map[string]tweetMedia{}
	users := map[string]tweetUser{}
	if resp.Includes != nil {
		for _, m := range resp.Includes.Media {
			media[m.MediaKey] = m
		}
		for _, u := range resp.Includes.Users {
			users[u.ID] = u
		}
	}

	var out []ParsedContent
	for _, tw := range resp.Data {
		created := tw.CreatedAt.In(t.loc).Truncate(time.Minute)
		author := users[tw.AuthorID]
		body := cleanTweetText(tw)

		var b strings.Builder
		fmt.Fprintf(&b, "时间：%d年%d月%d日 %02d:%02d\n",
			created.Year(), int(created.Month()), created.Day(), created.Hour(), created.Minute())
		b.WriteString("【推特更新】\n\n")
		fmt.Fprintf(&b, "%s @%s:%s", author.Name, author.Username, body)

		var urls []string
		if tw.Attachments != nil {
			for _, mk := range tw.Attachments.MediaKeys {
				m, ok := media[mk]
				if !ok {
					continue
				}
				if m.URL != "" {
					urls = append(urls, m.URL)
				} else if m.PreviewImageURL != "" {
					urls = append(urls, m.PreviewImageURL)
				}
			}
		}
		out = append(out, ParsedContent{
			Text:      b.String(),
			ImageURLs: urls,
			Timestamp: created.Unix(),
		})
	}
	return out
}

// cleanTweetText drops media shortlinks and expands the rest.
func cleanTweetText(tw tweetData) string {
	text := tw.Text
	if tw.Entities == nil {
		return text
	}
	for _, u := range tw.Entities.URLs {
		if strings.Contains(u.DisplayURL, "pic.twitter.com") || strings.Contains(u.DisplayURL, "dlvr.it") {
			text = strings.ReplaceAll(text, u.URL, "")
		} else {
			text = strings.ReplaceAll(text, u.URL, u.ExpandedURL)
		}
	}
	return text
}
