// Package ingest implements the content-acquisition feeds: sources outside
// the messaging channel that hand the relay ready-to-aggregate content.
package ingest

import "context"

// ParsedContent is one piece of ready content from a feed: display text,
// the image URLs still to be fetched, and the content timestamp that
// becomes the relay item key.
type ParsedContent struct {
	Text      string
	ImageURLs []string
	Timestamp int64
}

// Feed checks a source for new content. CheckUpdate respects the stored
// high-water cursor and advances it; Latest ignores the cursor (manual
// fetch commands).
type Feed interface {
	Name() string
	CheckUpdate(ctx context.Context) ([]ParsedContent, error)
	Latest(ctx context.Context) ([]ParsedContent, error)
}

// CursorStore is the slice of storage the feeds need.
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (string, error)
	PutCursor(ctx context.Context, name, value string) error
}

// memCursors keeps cursors in memory when persistent storage is disabled.
type memCursors struct{ m map[string]string }

func NewMemCursors() CursorStore { return &memCursors{m: map[string]string{}} }

func (c *memCursors) GetCursor(_ context.Context, name string) (string, error) {
	return c.m[name], nil
}

func (c *memCursors) PutCursor(_ context.Context, name, value string) error {
	c.m[name] = value
	return nil
}
