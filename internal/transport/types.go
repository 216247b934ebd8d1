// Package transport defines the gateway-neutral message types exchanged
// between the bot core and a chat adapter.
package transport

import "context"

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Photo holds raw image bytes when the update is a photo message.
	// The adapter downloads the file before handing the update over, so the
	// core never touches platform file ids.
	Photo []byte
}

type ChatTarget struct {
	ChatID int64
}

// OutMessage is a composite outbound message: text plus zero or more images.
type OutMessage struct {
	Text   string
	Images [][]byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Send(ctx context.Context, to ChatTarget, msg OutMessage) error
}
