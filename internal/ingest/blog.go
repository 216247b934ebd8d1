package ingest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

const blogCursor = "blog:last_published"

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Content   string `xml:"content"`
}

// BlogFeed watches the member's official blog Atom feed. Entry content is
// HTML; image tags are replaced by position markers so the text shows where
// each picture belongs.
type BlogFeed struct {
	fetch   *Fetcher
	cursors CursorStore
	url     string
	loc     *time.Location
	log     logx.Logger
}

func NewBlogFeed(fetch *Fetcher, cursors CursorStore, memberAbbr string, loc *time.Location, log logx.Logger) *BlogFeed {
	if loc == nil {
		loc = time.Local
	}
	return &BlogFeed{
		fetch:   fetch,
		cursors: cursors,
		url:     fmt.Sprintf("https://blog.nogizaka46.com/%s/atom.xml", memberAbbr),
		loc:     loc,
		log:     log,
	}
}

func (b *BlogFeed) Name() string { return "blog" }

func (b *BlogFeed) CheckUpdate(ctx context.Context) ([]ParsedContent, error) {
	entry, published, err := b.latestEntry(ctx)
	if err != nil {
		return nil, err
	}
	last, err := b.cursors.GetCursor(ctx, blogCursor)
	if err != nil {
		return nil, err
	}
	if last == "" {
		// first run only records the high-water mark
		return nil, b.cursors.PutCursor(ctx, blogCursor, published.Format(time.RFC3339))
	}
	lastT, err := time.Parse(time.RFC3339, last)
	if err == nil && !published.After(lastT) {
		return nil, nil
	}
	if err := b.cursors.PutCursor(ctx, blogCursor, published.Format(time.RFC3339)); err != nil {
		return nil, err
	}
	content, err := b.parseEntry(entry, published)
	if err != nil {
		return nil, err
	}
	b.log.Info("blog update found", logx.Time("published", published))
	return []ParsedContent{content}, nil
}

func (b *BlogFeed) Latest(ctx context.Context) ([]ParsedContent, error) {
	entry, published, err := b.latestEntry(ctx)
	if err != nil {
		return nil, err
	}
	// manual fetch also advances the cursor so the next automatic check
	// does not push the same entry again
	if err := b.cursors.PutCursor(ctx, blogCursor, published.Format(time.RFC3339)); err != nil {
		return nil, err
	}
	content, err := b.parseEntry(entry, published)
	if err != nil {
		return nil, err
	}
	return []ParsedContent{content}, nil
}

func (b *BlogFeed) latestEntry(ctx context.Context) (atomEntry, time.Time, error) {
	raw, err := b.fetch.Get(ctx, b.url, nil)
	if err != nil {
		return atomEntry{}, time.Time{}, err
	}
	var feed atomFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return atomEntry{}, time.Time{}, fmt.Errorf("parse atom feed: %w", err)
	}
	if len(feed.Entries) == 0 {
		return atomEntry{}, time.Time{}, errors.New("atom feed has no entries")
	}
	entry := feed.Entries[0]
	published, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published))
	if err != nil {
		return atomEntry{}, time.Time{}, fmt.Errorf("parse published time: %w", err)
	}
	return entry, published, nil
}

func (b *BlogFeed) parseEntry(entry atomEntry, published time.Time) (ParsedContent, error) {
	body, images, err := ExtractHTML(entry.Content)
	if err != nil {
		return ParsedContent{}, err
	}
	// The leading fragment is what translators echo back; it must re-derive
	// the item key exactly, so the timestamp is minute precision.
	t := published.In(b.loc).Truncate(time.Minute)
	text := fmt.Sprintf("时间：%d年%d月%d日 %02d:%02d\n标题：%s\n\n%s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(),
		strings.TrimSpace(entry.Title), body)
	return ParsedContent{
		Text:      text,
		ImageURLs: images,
		Timestamp: t.Unix(),
	}, nil
}

// ExtractHTML flattens an HTML fragment to text, replacing each image with
// a numbered position marker, and returns the image URLs in document order.
func ExtractHTML(fragment string) (string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", nil, err
	}
	var images []string
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		images = append(images, src)
		s.ReplaceWithHtml(fmt.Sprintf("【第%d张图片的位置】", i+1))
	})
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})
	text := strings.TrimSpace(doc.Text())
	// collapse runs of blank lines left by block elements
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text, images, nil
}
