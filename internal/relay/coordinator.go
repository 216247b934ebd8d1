package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BesiegedCity/sakamichibot/internal/publish"
	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

// Jobs is the deferred-job facility the coordinator schedules against.
// Cancel, Reschedule and Fire fail when no job is pending under the id;
// callers treat that as "the item already progressed", never as fatal.
type Jobs interface {
	Schedule(id string, runAt time.Time, job func(ctx context.Context) error)
	Reschedule(id string, runAt time.Time) error
	Cancel(id string) error
	// Fire runs a pending job inline and removes it. The window force-close
	// relies on Fire's side effects being complete when it returns.
	Fire(ctx context.Context, id string) error
}

// Outbound sends composite messages back through the messaging gateway.
type Outbound interface {
	Send(ctx context.Context, to transport.ChatTarget, msg transport.OutMessage) error
}

// SequenceSource issues the human-facing item numbers. Numbers are never
// reused; a persistent implementation keeps them unique across restarts.
type SequenceSource interface {
	Next(ctx context.Context) (int64, error)
}

type Options struct {
	ImageWindow  time.Duration // photo collection window after a caption
	Debounce     time.Duration // quiet period before publishing
	WindowGrace  time.Duration // pause between forced close and next window
	MaxItemAge   time.Duration // sweep eviction threshold
	Topic        string        // topic prefix prepended to published text
	SettleDelay  time.Duration // wait before the first status poll
	PollInterval time.Duration
	PollAttempts int
	Location     *time.Location
}

func (o *Options) applyDefaults() {
	if o.ImageWindow <= 0 {
		o.ImageWindow = 2 * time.Minute
	}
	if o.Debounce <= 0 {
		o.Debounce = 10 * time.Minute
	}
	if o.WindowGrace <= 0 {
		o.WindowGrace = 2 * time.Second
	}
	if o.MaxItemAge <= 0 {
		o.MaxItemAge = 72 * time.Hour
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = 6
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

const (
	// jobCollect is the single image-window job id; at most one collection
	// window exists, so the id needs no key suffix.
	jobCollect = "relay:collect-window"

	tweetBanner = "【推特更新】"
)

func publishJobID(seq int64) string {
	return fmt.Sprintf("relay:publish:%d", seq)
}

// Coordinator drives the aggregation state machine. The registry, the
// collection window pointer and the pending image buffer are all guarded by
// one mutex, so each transition of the state table is atomic with respect
// to the others. Timer callbacks re-enter through the same methods that
// external events use.
type Coordinator struct {
	opts Options
	log  logx.Logger
	jobs Jobs
	pub  publish.Publisher
	out  Outbound
	seq  SequenceSource

	mu            sync.Mutex
	reg           *Registry
	collectingKey int64    // key currently collecting images; 0 when closed
	pending       [][]byte // photos accepted during the open window

	memSeq int64 // fallback counter when no SequenceSource is wired
}

func NewCoordinator(opts Options, jobs Jobs, pub publish.Publisher, out Outbound, seq SequenceSource, log logx.Logger) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		opts: opts,
		log:  log,
		jobs: jobs,
		pub:  pub,
		out:  out,
		seq:  seq,
		reg:  NewRegistry(),
	}
}

// SetDurations applies reloadable timing knobs (config hot reload).
func (c *Coordinator) SetDurations(imageWindow, debounce, grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if imageWindow > 0 {
		c.opts.ImageWindow = imageWindow
	}
	if debounce > 0 {
		c.opts.Debounce = debounce
	}
	if grace > 0 {
		c.opts.WindowGrace = grace
	}
}

// HandleCaption processes a new caption from a contributor: it derives the
// item key from the leading date/time fragment, force-closes any open
// collection window, then opens a window for the new item.
func (c *Coordinator) HandleCaption(ctx context.Context, chat transport.ChatTarget, text string, source Source) {
	key, _, err := ParseTimeKey(text, c.opts.Location)
	if err != nil {
		c.log.Warn("caption rejected", logx.Err(err))
		c.send(ctx, chat, transport.OutMessage{Text: "导入时间信息出错：" + err.Error()})
		return
	}

	raw := strings.TrimSpace(text)
	if source == SourceTweet {
		raw = stripBannerLine(raw)
	}

	c.mu.Lock()
	windowOpen := c.collectingKey != 0
	c.mu.Unlock()

	if windowOpen {
		// Close the previous window now (equivalent to its timer firing
		// early) and give the gateway a moment so a photo sent in the same
		// instant is not attributed to the wrong item.
		if err := c.jobs.Fire(ctx, jobCollect); err != nil {
			c.log.Debug("window force-close: no pending job", logx.Err(err))
		}
		if !sleepCtx(ctx, c.opts.WindowGrace) {
			return
		}
	}

	c.mu.Lock()
	it := c.reg.Get(key)
	if it != nil {
		// Same derived key: overwrite the caption, never a second item.
		it.RawCaption = raw
		it.Source = source
	} else {
		it = &Item{
			Key:        key,
			Seq:        c.nextSeq(ctx),
			Source:     source,
			RawCaption: raw,
			State:      StateAwaitingBoth,
			CreatedAt:  time.Now(),
		}
		c.reg.Put(it)
	}
	c.collectingKey = key
	c.pending = nil
	seq := it.Seq
	window := c.opts.ImageWindow
	c.mu.Unlock()

	c.jobs.Schedule(jobCollect, time.Now().Add(window), func(jctx context.Context) error {
		c.closeWindow(jctx, chat)
		return nil
	})
	c.log.Info("collecting images",
		logx.Int64("seq", seq), logx.Int64("key", key), logx.Duration("window", window))
}

// HandlePhoto buffers a photo into the open collection window. Photos carry
// no item reference, so with no window open they are dropped.
func (c *Coordinator) HandlePhoto(ctx context.Context, img []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectingKey == 0 {
		c.log.Debug("photo dropped: no collection window open")
		return
	}
	c.pending = append(c.pending, img)
	c.log.Debug("photo buffered", logx.Int64("key", c.collectingKey), logx.Int("buffered", len(c.pending)))
}

// closeWindow flushes the pending buffer into the collecting item and
// freezes its image list. Runs from the window timer, or inline via
// Jobs.Fire when a new caption forces the window shut.
func (c *Coordinator) closeWindow(ctx context.Context, chat transport.ChatTarget) {
	c.mu.Lock()
	key := c.collectingKey
	if key == 0 {
		c.mu.Unlock()
		return
	}
	c.collectingKey = 0
	it := c.reg.Get(key)
	if it == nil {
		// item cancelled or swept while collecting
		c.pending = nil
		c.mu.Unlock()
		return
	}
	it.Images = append(it.Images, c.pending...)
	c.pending = nil

	arm := false
	switch it.State {
	case StateAwaitingBoth:
		it.State = StateImagesReady
	case StateTranslationReady:
		it.State = StateReadyToPublish
		arm = true
	}
	seq := it.Seq
	count := len(it.Images)
	var preview transport.OutMessage
	if arm {
		preview = it.Preview(c.opts.Topic)
	}
	c.mu.Unlock()

	c.log.Info("image collection finished",
		logx.Int64("seq", seq), logx.Int64("key", key), logx.Int("images", count))
	if arm {
		c.armDebounce(key, seq, chat)
		c.send(ctx, chat, preview)
	}
}

// HandleTranslation matches a translation to an item by re-deriving the
// timestamp key from the message's leading fragment, stores it
// (last-write-wins) and arms or re-arms the publish debounce.
func (c *Coordinator) HandleTranslation(ctx context.Context, chat transport.ChatTarget, text string) {
	key, payload, err := ParseTimeKey(text, c.opts.Location)
	if err != nil {
		c.log.Warn("translation rejected", logx.Err(err))
		c.send(ctx, chat, transport.OutMessage{Text: "翻译时间解析失败，请以原文开头的时间信息开头：" + err.Error()})
		return
	}

	c.mu.Lock()
	it := c.reg.Get(key)
	if it == nil {
		c.mu.Unlock()
		c.log.Warn("translation matched no item", logx.Int64("key", key))
		c.send(ctx, chat, transport.OutMessage{Text: "没有在队列中找到与时间相匹配的mail"})
		return
	}

	overwritten := it.Translation != ""
	it.Translation = payload

	arm, rearm := false, false
	switch it.State {
	case StateAwaitingBoth:
		it.State = StateTranslationReady
	case StateImagesReady:
		it.State = StateReadyToPublish
		arm = true
	case StateTranslationReady:
		// window still open; translation just overwritten
	case StateReadyToPublish:
		rearm = true
	}
	seq := it.Seq
	var preview transport.OutMessage
	if arm || rearm {
		preview = it.Preview(c.opts.Topic)
	}
	c.mu.Unlock()

	if overwritten {
		c.log.Info("translation overwritten", logx.Int64("seq", seq))
		c.send(ctx, chat, transport.OutMessage{Text: fmt.Sprintf("mail[%d]：翻译已覆盖", seq)})
	} else {
		c.log.Info("translation stored", logx.Int64("seq", seq))
	}
	if arm || rearm {
		c.armDebounce(key, seq, chat)
		c.send(ctx, chat, preview)
	}
}

// armDebounce books (or re-books) the publish job one debounce delay out.
// Corrections reset the delay; the waits never add up.
func (c *Coordinator) armDebounce(key, seq int64, chat transport.ChatTarget) {
	id := publishJobID(seq)
	runAt := time.Now().Add(c.opts.Debounce)
	if err := c.jobs.Reschedule(id, runAt); err == nil {
		c.log.Info("publish debounce re-armed", logx.Int64("seq", seq), logx.Time("at", runAt))
		return
	}
	c.jobs.Schedule(id, runAt, func(jctx context.Context) error {
		c.publishItem(jctx, key, chat)
		return nil
	})
	c.log.Info("publish scheduled", logx.Int64("seq", seq), logx.Time("at", runAt))
}

// HandleCancel removes the item with the given sequence number and disarms
// its jobs. A publish job that already fired is reported as milder news,
// not as a failure.
func (c *Coordinator) HandleCancel(ctx context.Context, chat transport.ChatTarget, seq int64) {
	c.mu.Lock()
	it := c.reg.FindBySeq(seq)
	if it == nil {
		c.mu.Unlock()
		c.send(ctx, chat, transport.OutMessage{Text: "没有在处理和发送队列中找到对应mail"})
		return
	}
	c.reg.Remove(it.Key)
	heldWindow := c.collectingKey == it.Key
	if heldWindow {
		c.collectingKey = 0
		c.pending = nil
	}
	c.mu.Unlock()

	if heldWindow {
		if err := c.jobs.Cancel(jobCollect); err != nil {
			c.log.Debug("window job already gone", logx.Err(err))
		}
	}
	if err := c.jobs.Cancel(publishJobID(seq)); err != nil {
		// Never armed, already fired, or already sent: informational only.
		c.send(ctx, chat, transport.OutMessage{Text: fmt.Sprintf("mail[%d]：尚未进入发送队列，已从处理队列中移出", seq)})
		return
	}
	c.log.Info("item cancelled", logx.Int64("seq", seq), logx.Int64("key", it.Key))
	c.send(ctx, chat, transport.OutMessage{Text: fmt.Sprintf("mail[%d]：已取消发送", seq)})
}

// List reports every in-flight item to the requester.
func (c *Coordinator) List(ctx context.Context, chat transport.ChatTarget) {
	c.mu.Lock()
	items := c.reg.All()
	infos := make([]transport.OutMessage, 0, len(items))
	for _, it := range items {
		infos = append(infos, it.Info())
	}
	c.mu.Unlock()

	if len(infos) == 0 {
		c.send(ctx, chat, transport.OutMessage{Text: "处理队列为空"})
		return
	}
	for _, msg := range infos {
		c.send(ctx, chat, msg)
	}
}

// AddReady registers content an ingestion feed already assembled (text and
// images complete). The item enters ImagesReady directly and waits for a
// translation; a key already present means the feed delivered a duplicate.
func (c *Coordinator) AddReady(ctx context.Context, key int64, text string, images [][]byte, source Source) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reg.Get(key) != nil {
		c.log.Debug("feed item already known", logx.Int64("key", key))
		return 0, false
	}
	it := &Item{
		Key:        key,
		Seq:        c.nextSeq(ctx),
		Source:     source,
		RawCaption: strings.TrimSpace(text),
		Images:     images,
		State:      StateImagesReady,
		CreatedAt:  time.Now(),
	}
	c.reg.Put(it)
	c.log.Info("feed item registered", logx.Int64("seq", it.Seq), logx.Int64("key", key), logx.Int("images", len(images)))
	return it.Seq, true
}

// Items returns a snapshot of the in-flight items (for tests and health).
func (c *Coordinator) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.All()
}

// nextSeq must be called with c.mu held or before the item is visible.
func (c *Coordinator) nextSeq(ctx context.Context) int64 {
	if c.seq != nil {
		if n, err := c.seq.Next(ctx); err == nil {
			return n
		} else {
			c.log.Warn("sequence source failed, using in-memory counter", logx.Err(err))
		}
	}
	c.memSeq++
	return c.memSeq
}

func (c *Coordinator) send(ctx context.Context, to transport.ChatTarget, msg transport.OutMessage) {
	if c.out == nil {
		return
	}
	if err := c.out.Send(ctx, to, msg); err != nil {
		c.log.Warn("outbound message failed", logx.Err(err), logx.Int64("chat", to.ChatID))
	}
}

func stripBannerLine(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) == tweetBanner {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// sleepCtx waits for d; it returns false when ctx finished first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
