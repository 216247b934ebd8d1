package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/BesiegedCity/sakamichibot/internal/relay"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

func TestBlogContentKeyMatchesTranslationKey(t *testing.T) {
	t.Parallel()
	feed := NewBlogFeed(nil, NewMemCursors(), "test.member", time.UTC, logx.Nop())
	published, err := time.Parse(time.RFC3339, "2024-05-01T10:00:42Z")
	if err != nil {
		t.Fatal(err)
	}
	entry := atomEntry{
		Title:   "ブログ更新",
		Content: `<p>みなさんこんにちは</p><img src="https://img/1.jpg"/>`,
	}

	content, err := feed.parseEntry(entry, published)
	if err != nil {
		t.Fatalf("parseEntry error: %v", err)
	}
	if !strings.HasPrefix(content.Text, "时间：2024年5月1日 10:00\n标题：ブログ更新\n\n") {
		t.Fatalf("header wrong: %q", content.Text)
	}

	// a translation echoing the leading fragment must derive the item key
	key, _, err := relay.ParseTimeKey(content.Text, time.UTC)
	if err != nil {
		t.Fatalf("content fragment does not parse: %v", err)
	}
	if key != content.Timestamp {
		t.Fatalf("key = %d, item timestamp = %d; translations could never match", key, content.Timestamp)
	}
	if content.Timestamp%60 != 0 {
		t.Fatalf("timestamp %d not minute precision", content.Timestamp)
	}
}

func TestBlogEntryTimezoneRoundTrip(t *testing.T) {
	t.Parallel()
	jst := time.FixedZone("JST", 9*3600)
	feed := NewBlogFeed(nil, NewMemCursors(), "test.member", jst, logx.Nop())
	published, err := time.Parse(time.RFC3339, "2024-05-01T23:59:10+09:00")
	if err != nil {
		t.Fatal(err)
	}

	content, err := feed.parseEntry(atomEntry{Title: "深夜"}, published)
	if err != nil {
		t.Fatalf("parseEntry error: %v", err)
	}
	key, _, err := relay.ParseTimeKey(content.Text, jst)
	if err != nil {
		t.Fatalf("content fragment does not parse: %v", err)
	}
	if key != content.Timestamp {
		t.Fatalf("key = %d, item timestamp = %d", key, content.Timestamp)
	}
}

func TestExtractHTMLReplacesImagesWithMarkers(t *testing.T) {
	t.Parallel()
	fragment := `<div>こんにちは<br/>今日は<img src="https://img/1.jpg"/>いい天気<img src="https://img/2.jpg"/></div>`

	text, images, err := ExtractHTML(fragment)
	if err != nil {
		t.Fatalf("ExtractHTML error: %v", err)
	}
	if len(images) != 2 || images[0] != "https://img/1.jpg" || images[1] != "https://img/2.jpg" {
		t.Fatalf("images = %v", images)
	}
	if !strings.Contains(text, "【第1张图片的位置】") || !strings.Contains(text, "【第2张图片的位置】") {
		t.Fatalf("position markers missing: %q", text)
	}
	if !strings.Contains(text, "こんにちは\n今日は") {
		t.Fatalf("<br> not converted to newline: %q", text)
	}
}

func TestExtractHTMLCollapsesBlankLines(t *testing.T) {
	t.Parallel()
	fragment := `<p>一段</p><p></p><p></p><p>二段</p>`

	text, _, err := ExtractHTML(fragment)
	if err != nil {
		t.Fatalf("ExtractHTML error: %v", err)
	}
	if strings.Contains(text, "\n\n\n") {
		t.Fatalf("blank lines not collapsed: %q", text)
	}
	if !strings.Contains(text, "一段") || !strings.Contains(text, "二段") {
		t.Fatalf("paragraph text lost: %q", text)
	}
}

func TestExtractHTMLPlainText(t *testing.T) {
	t.Parallel()
	text, images, err := ExtractHTML("ただの文章")
	if err != nil {
		t.Fatalf("ExtractHTML error: %v", err)
	}
	if text != "ただの文章" {
		t.Fatalf("text = %q", text)
	}
	if len(images) != 0 {
		t.Fatalf("images = %v, want none", images)
	}
}
