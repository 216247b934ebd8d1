// Package publish talks to the external dynamic-post service.
//
// The relay core depends only on the Publisher interface and the two
// sentinel error classes: a rejection (terminal, content refused) and a
// peer disconnect (transient, worth polling again).
package publish

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisconnected classifies transient transport failures (peer reset,
// unexpected EOF) during a status poll. Only these are retried.
var ErrDisconnected = errors.New("publish: peer disconnected")

// RejectedError is returned by Submit when the service refuses the content.
// The diagnostic string is surfaced to the requester verbatim.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("publish rejected (code %d): %s", e.Code, e.Message)
}

// Handle identifies a submitted post for later status queries.
type Handle struct {
	DynamicID string
}

// Moderation is the service's classification of a submitted post.
type Moderation struct {
	// Clear means the post is already live; otherwise it sits in the
	// moderation queue.
	Clear bool
}

type Publisher interface {
	Submit(ctx context.Context, text string, images [][]byte) (Handle, error)
	Status(ctx context.Context, h Handle) (Moderation, error)
}
