package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/BesiegedCity/sakamichibot/internal/publish"
	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

// publishItem is the publish worker: it runs when the debounce job fires,
// submits the item's content and polls for the moderation outcome.
// Exactly one status message goes back to the requester in every outcome.
func (c *Coordinator) publishItem(ctx context.Context, key int64, chat transport.ChatTarget) {
	c.mu.Lock()
	it := c.reg.Get(key)
	if it == nil {
		c.mu.Unlock()
		c.log.Debug("publish job fired for removed item", logx.Int64("key", key))
		return
	}
	seq := it.Seq
	translation := it.Translation
	images := it.Images // frozen once the window closed
	c.mu.Unlock()

	text := translation
	if c.opts.Topic != "" {
		text = c.opts.Topic + "\n" + translation
	}
	c.log.Info("submitting dynamic", logx.Int64("seq", seq), logx.Int("images", len(images)))

	handle, err := c.pub.Submit(ctx, text, images)
	if err != nil {
		// Rejected content is terminal but the item stays in the registry:
		// a corrected translation re-arms the debounce and retries manually.
		var rej *publish.RejectedError
		diag := err.Error()
		if errors.As(err, &rej) {
			diag = rej.Message
		}
		c.log.Error("submission failed", logx.Int64("seq", seq), logx.Err(err))
		c.send(ctx, chat, transport.OutMessage{Text: fmt.Sprintf("mail[%d]：发送失败，%s", seq, diag)})
		return
	}

	// Give the service a moment before asking whether the post went live or
	// entered the moderation queue.
	if !sleepCtx(ctx, c.opts.SettleDelay) {
		return
	}

	confirmed := false
	var statusText string
	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		st, err := c.pub.Status(ctx, handle)
		if err == nil {
			if st.Clear {
				statusText = "发送成功（b站已发）"
			} else {
				statusText = "发送成功（进入审核队列）"
			}
			confirmed = true
			break
		}
		if errors.Is(err, publish.ErrDisconnected) {
			c.log.Warn("status poll disconnected",
				logx.Int64("seq", seq), logx.Int("attempt", attempt), logx.Err(err))
			if attempt < c.opts.PollAttempts && !sleepCtx(ctx, c.opts.PollInterval) {
				break
			}
			continue
		}
		// Any other transport error abandons the poll early; the content
		// was accepted in the submit step, so this is not a failure.
		c.log.Warn("status poll aborted", logx.Int64("seq", seq), logx.Err(err))
		break
	}
	if !confirmed {
		c.log.Warn("giving up on status confirmation", logx.Int64("seq", seq))
		statusText = "发送完毕（状态未知）"
	}

	c.mu.Lock()
	c.reg.Remove(key)
	if c.collectingKey == key {
		c.collectingKey = 0
		c.pending = nil
	}
	c.mu.Unlock()

	c.send(ctx, chat, transport.OutMessage{Text: fmt.Sprintf("mail[%d]：%s", seq, statusText)})
}
