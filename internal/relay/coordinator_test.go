package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BesiegedCity/sakamichibot/internal/publish"
	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

var errNoJob = errors.New("no pending job")

type fakeJob struct {
	runAt time.Time
	run   func(ctx context.Context) error
}

// fakeJobs stores jobs without timers so tests fire them explicitly.
type fakeJobs struct {
	mu      sync.Mutex
	pending map[string]fakeJob
	resched []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{pending: map[string]fakeJob{}}
}

func (f *fakeJobs) Schedule(id string, runAt time.Time, job func(ctx context.Context) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[id] = fakeJob{runAt: runAt, run: job}
}

func (f *fakeJobs) Reschedule(id string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.pending[id]
	if !ok {
		return errNoJob
	}
	e.runAt = runAt
	f.pending[id] = e
	f.resched = append(f.resched, id)
	return nil
}

func (f *fakeJobs) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[id]; !ok {
		return errNoJob
	}
	delete(f.pending, id)
	return nil
}

func (f *fakeJobs) Fire(ctx context.Context, id string) error {
	f.mu.Lock()
	e, ok := f.pending[id]
	if ok {
		delete(f.pending, id)
	}
	f.mu.Unlock()
	if !ok {
		return errNoJob
	}
	return e.run(ctx)
}

func (f *fakeJobs) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[id]
	return ok
}

// runNow simulates the timer firing: remove first, then run, like the real
// scheduler does.
func (f *fakeJobs) runNow(t *testing.T, ctx context.Context, id string) {
	t.Helper()
	f.mu.Lock()
	e, ok := f.pending[id]
	if ok {
		delete(f.pending, id)
	}
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no pending job %q", id)
	}
	if err := e.run(ctx); err != nil {
		t.Fatalf("job %q failed: %v", id, err)
	}
}

type fakePublisher struct {
	mu         sync.Mutex
	submitErr  error
	statusErrs []error // consumed one per Status call; nil entry = success
	clear      bool

	submittedText   string
	submittedImages [][]byte
	statusCalls     int
}

func (p *fakePublisher) Submit(_ context.Context, text string, images [][]byte) (publish.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return publish.Handle{}, p.submitErr
	}
	p.submittedText = text
	p.submittedImages = images
	return publish.Handle{DynamicID: "42"}, nil
}

func (p *fakePublisher) Status(context.Context, publish.Handle) (publish.Moderation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if len(p.statusErrs) > 0 {
		err := p.statusErrs[0]
		p.statusErrs = p.statusErrs[1:]
		if err != nil {
			return publish.Moderation{}, err
		}
	}
	return publish.Moderation{Clear: p.clear}, nil
}

type fakeOut struct {
	mu   sync.Mutex
	sent []transport.OutMessage
}

func (o *fakeOut) Send(_ context.Context, _ transport.ChatTarget, msg transport.OutMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *fakeOut) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.sent))
	for i, m := range o.sent {
		out[i] = m.Text
	}
	return out
}

func (o *fakeOut) lastText(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return o.sent[len(o.sent)-1].Text
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeJobs, *fakePublisher, *fakeOut) {
	t.Helper()
	jobs := newFakeJobs()
	pub := &fakePublisher{}
	out := &fakeOut{}
	c := NewCoordinator(Options{
		ImageWindow:  time.Minute,
		Debounce:     time.Minute,
		WindowGrace:  time.Millisecond,
		MaxItemAge:   72 * time.Hour,
		Topic:        "#测试话题#",
		SettleDelay:  time.Millisecond,
		PollInterval: time.Millisecond,
		PollAttempts: 3,
		Location:     time.UTC,
	}, jobs, pub, out, nil, logx.Nop())
	return c, jobs, pub, out
}

var testChat = transport.ChatTarget{ChatID: -100}

const captionA = "时间：2024年5月1日 10:00"

var keyA = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Unix()

func TestCaptionOpensWindowAndCollectsPhotos(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	if !jobs.has(jobCollect) {
		t.Fatal("collection window job not armed")
	}

	c.HandlePhoto(ctx, []byte{1})
	c.HandlePhoto(ctx, []byte{2})
	jobs.runNow(t, ctx, jobCollect)

	items := c.Items()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	it := items[0]
	if it.Key != keyA {
		t.Fatalf("key = %d, want %d", it.Key, keyA)
	}
	if it.State != StateImagesReady {
		t.Fatalf("state = %s, want images_ready", it.State)
	}
	if len(it.Images) != 2 {
		t.Fatalf("images = %d, want 2", len(it.Images))
	}
}

func TestPhotoWithoutWindowIsDropped(t *testing.T) {
	t.Parallel()
	c, _, _, _ := newTestCoordinator(t)
	c.HandlePhoto(context.Background(), []byte{1})
	if n := len(c.Items()); n != 0 {
		t.Fatalf("items = %d, want 0", n)
	}
}

func TestBadCaptionRejectedWithReply(t *testing.T) {
	t.Parallel()
	c, jobs, _, out := newTestCoordinator(t)
	c.HandleCaption(context.Background(), testChat, "时间：5月1日 10:00", SourceMail)
	if jobs.has(jobCollect) {
		t.Fatal("window armed for a bad caption")
	}
	if got := out.lastText(t); !strings.HasPrefix(got, "导入时间信息出错：") {
		t.Fatalf("reply = %q", got)
	}
}

func TestSecondCaptionForceClosesWindow(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	c.HandlePhoto(ctx, []byte{1})

	captionB := "时间：2024年5月2日 11:30"
	c.HandleCaption(ctx, testChat, captionB, SourceMail)
	c.HandlePhoto(ctx, []byte{2})
	c.HandlePhoto(ctx, []byte{3})
	jobs.runNow(t, ctx, jobCollect)

	items := c.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	first, second := items[0], items[1]
	if len(first.Images) != 1 || first.State != StateImagesReady {
		t.Fatalf("first item: images=%d state=%s", len(first.Images), first.State)
	}
	if len(second.Images) != 2 || second.State != StateImagesReady {
		t.Fatalf("second item: images=%d state=%s", len(second.Images), second.State)
	}
}

func TestDuplicateCaptionOverwritesItem(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleCaption(ctx, testChat, captionA+" 修正版", SourceMail)
	jobs.runNow(t, ctx, jobCollect)

	items := c.Items()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if !strings.Contains(items[0].RawCaption, "修正版") {
		t.Fatalf("caption not overwritten: %q", items[0].RawCaption)
	}
}

func TestTranslationBeforeWindowCloseArmsOnClose(t *testing.T) {
	t.Parallel()
	c, jobs, _, out := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")

	items := c.Items()
	if items[0].State != StateTranslationReady {
		t.Fatalf("state = %s, want translation_ready", items[0].State)
	}
	seq := items[0].Seq
	if jobs.has(publishJobID(seq)) {
		t.Fatal("debounce armed while window still open")
	}

	c.HandlePhoto(ctx, []byte{1})
	jobs.runNow(t, ctx, jobCollect)

	items = c.Items()
	if items[0].State != StateReadyToPublish {
		t.Fatalf("state = %s, want ready_to_publish", items[0].State)
	}
	if !jobs.has(publishJobID(seq)) {
		t.Fatal("debounce not armed after window close")
	}
	if got := out.lastText(t); !strings.Contains(got, "【发送预览】") {
		t.Fatalf("preview not sent, last = %q", got)
	}
}

func TestTranslationStoredWithoutTimestampFragment(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")

	if got := c.Items()[0].Translation; got != "こんにちは" {
		t.Fatalf("translation = %q, want こんにちは", got)
	}
}

func TestTranslationLastWriteWins(t *testing.T) {
	t.Parallel()
	c, jobs, _, out := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\n第一版")
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\n第二版")

	it := c.Items()[0]
	if it.Translation != "第二版" {
		t.Fatalf("translation = %q, want 第二版", it.Translation)
	}
	found := false
	for _, txt := range out.texts() {
		if strings.Contains(txt, "翻译已覆盖") {
			found = true
		}
	}
	if !found {
		t.Fatal("overwrite notice not sent")
	}
	if len(jobs.resched) != 1 {
		t.Fatalf("reschedule calls = %d, want 1", len(jobs.resched))
	}
}

func TestTranslationWithNoMatchingItem(t *testing.T) {
	t.Parallel()
	c, _, _, out := newTestCoordinator(t)
	c.HandleTranslation(context.Background(), testChat, "2024年5月1日 10:00\nこんにちは")
	if got := out.lastText(t); got != "没有在队列中找到与时间相匹配的mail" {
		t.Fatalf("reply = %q", got)
	}
}

func TestCorrectionsResetDebounceNotStack(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	for i := 0; i < 5; i++ {
		c.HandleTranslation(ctx, testChat, fmt.Sprintf("2024年5月1日 10:00\n第%d版", i+1))
	}

	seq := c.Items()[0].Seq
	jobs.mu.Lock()
	n := 0
	for id := range jobs.pending {
		if id == publishJobID(seq) {
			n++
		}
	}
	jobs.mu.Unlock()
	if n != 1 {
		t.Fatalf("publish jobs pending = %d, want exactly 1", n)
	}
	if len(jobs.resched) != 4 {
		t.Fatalf("reschedule calls = %d, want 4", len(jobs.resched))
	}
}

func TestPublishSuccessRemovesItem(t *testing.T) {
	t.Parallel()
	c, jobs, pub, out := newTestCoordinator(t)
	pub.clear = true
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	c.HandlePhoto(ctx, []byte{1})
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")

	seq := c.Items()[0].Seq
	jobs.runNow(t, ctx, publishJobID(seq))

	if pub.submittedText != "#测试话题#\nこんにちは" {
		t.Fatalf("submitted text = %q", pub.submittedText)
	}
	if len(pub.submittedImages) != 1 {
		t.Fatalf("submitted images = %d, want 1", len(pub.submittedImages))
	}
	if n := len(c.Items()); n != 0 {
		t.Fatalf("items after publish = %d, want 0", n)
	}
	want := fmt.Sprintf("mail[%d]：发送成功（b站已发）", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("status message = %q, want %q", got, want)
	}
}

func TestPublishRetriesOnlyDisconnects(t *testing.T) {
	t.Parallel()
	c, jobs, pub, out := newTestCoordinator(t)
	pub.statusErrs = []error{publish.ErrDisconnected, publish.ErrDisconnected, nil}
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")
	seq := c.Items()[0].Seq
	jobs.runNow(t, ctx, publishJobID(seq))

	if pub.statusCalls != 3 {
		t.Fatalf("status calls = %d, want 3", pub.statusCalls)
	}
	want := fmt.Sprintf("mail[%d]：发送成功（进入审核队列）", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("status message = %q, want %q", got, want)
	}
}

func TestPublishUnknownAfterPollBudget(t *testing.T) {
	t.Parallel()
	c, jobs, pub, out := newTestCoordinator(t)
	pub.statusErrs = []error{publish.ErrDisconnected, publish.ErrDisconnected, publish.ErrDisconnected}
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")
	seq := c.Items()[0].Seq
	jobs.runNow(t, ctx, publishJobID(seq))

	if pub.statusCalls != 3 {
		t.Fatalf("status calls = %d, want 3", pub.statusCalls)
	}
	if n := len(c.Items()); n != 0 {
		t.Fatalf("unconfirmed publish should still remove the item, items = %d", n)
	}
	want := fmt.Sprintf("mail[%d]：发送完毕（状态未知）", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("status message = %q, want %q", got, want)
	}
}

func TestPublishAbortsPollOnOtherErrors(t *testing.T) {
	t.Parallel()
	c, jobs, pub, out := newTestCoordinator(t)
	pub.statusErrs = []error{errors.New("500 internal"), nil, nil}
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")
	seq := c.Items()[0].Seq
	jobs.runNow(t, ctx, publishJobID(seq))

	if pub.statusCalls != 1 {
		t.Fatalf("status calls = %d, want 1 (no retry on non-disconnect)", pub.statusCalls)
	}
	want := fmt.Sprintf("mail[%d]：发送完毕（状态未知）", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("status message = %q, want %q", got, want)
	}
}

func TestPublishRejectionKeepsItem(t *testing.T) {
	t.Parallel()
	c, jobs, pub, out := newTestCoordinator(t)
	pub.submitErr = &publish.RejectedError{Code: 2200, Message: "内容待审核"}
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")
	seq := c.Items()[0].Seq
	jobs.runNow(t, ctx, publishJobID(seq))

	if pub.statusCalls != 0 {
		t.Fatalf("status polled after rejection: %d calls", pub.statusCalls)
	}
	items := c.Items()
	if len(items) != 1 || items[0].State != StateReadyToPublish {
		t.Fatalf("rejected item must stay ready, items = %d", len(items))
	}
	want := fmt.Sprintf("mail[%d]：发送失败，内容待审核", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("status message = %q, want %q", got, want)
	}

	// a corrected translation re-arms the debounce, retrying manually
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\n修正稿")
	if !jobs.has(publishJobID(seq)) {
		t.Fatal("debounce not re-armed after correction")
	}
}

func TestCancelArmedItem(t *testing.T) {
	t.Parallel()
	c, jobs, _, out := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	c.HandleTranslation(ctx, testChat, "2024年5月1日 10:00\nこんにちは")
	seq := c.Items()[0].Seq

	c.HandleCancel(ctx, testChat, seq)
	if n := len(c.Items()); n != 0 {
		t.Fatalf("items = %d, want 0", n)
	}
	if jobs.has(publishJobID(seq)) {
		t.Fatal("publish job still armed after cancel")
	}
	want := fmt.Sprintf("mail[%d]：已取消发送", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestCancelUnarmedItem(t *testing.T) {
	t.Parallel()
	c, jobs, _, out := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	jobs.runNow(t, ctx, jobCollect)
	seq := c.Items()[0].Seq

	c.HandleCancel(ctx, testChat, seq)
	if n := len(c.Items()); n != 0 {
		t.Fatalf("items = %d, want 0", n)
	}
	want := fmt.Sprintf("mail[%d]：尚未进入发送队列，已从处理队列中移出", seq)
	if got := out.lastText(t); got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestCancelUnknownSeq(t *testing.T) {
	t.Parallel()
	c, _, _, out := newTestCoordinator(t)
	c.HandleCancel(context.Background(), testChat, 99)
	if got := out.lastText(t); got != "没有在处理和发送队列中找到对应mail" {
		t.Fatalf("reply = %q", got)
	}
}

func TestCancelWhileCollectingReleasesWindow(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.HandleCaption(ctx, testChat, captionA, SourceMail)
	seq := c.Items()[0].Seq
	c.HandleCancel(ctx, testChat, seq)

	if jobs.has(jobCollect) {
		t.Fatal("window job still armed after cancel")
	}
	// photos arriving now must be dropped, not attributed to a ghost item
	c.HandlePhoto(ctx, []byte{1})
	if n := len(c.Items()); n != 0 {
		t.Fatalf("items = %d, want 0", n)
	}
}

func TestTweetCaptionStripsBanner(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	text := "时间：2024年5月1日 10:00\n【推特更新】\n\n本文です"
	c.HandleCaption(ctx, testChat, text, SourceTweet)
	jobs.runNow(t, ctx, jobCollect)

	got := c.Items()[0].RawCaption
	if strings.Contains(got, "【推特更新】") {
		t.Fatalf("banner not stripped: %q", got)
	}
	if !strings.Contains(got, "本文です") {
		t.Fatalf("body lost: %q", got)
	}
}

func TestAddReadyDeduplicatesByKey(t *testing.T) {
	t.Parallel()
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	seq, ok := c.AddReady(ctx, keyA, "本文", [][]byte{{1}}, SourceTweet)
	if !ok || seq == 0 {
		t.Fatalf("first AddReady = (%d, %v)", seq, ok)
	}
	if _, ok := c.AddReady(ctx, keyA, "本文", nil, SourceTweet); ok {
		t.Fatal("duplicate key accepted")
	}
	it := c.Items()[0]
	if it.State != StateImagesReady {
		t.Fatalf("state = %s, want images_ready", it.State)
	}
}

func TestSweepEvictsOnlyPastCeiling(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	oldKey := now.Add(-72*time.Hour - time.Second).Unix()
	edgeKey := now.Add(-72 * time.Hour).Unix()
	freshKey := now.Add(-time.Hour).Unix()
	oldSeq, _ := c.AddReady(ctx, oldKey, "旧", nil, SourceMail)
	c.AddReady(ctx, edgeKey, "边界", nil, SourceMail)
	c.AddReady(ctx, freshKey, "新", nil, SourceMail)
	jobs.Schedule(publishJobID(oldSeq), now.Add(time.Hour), func(context.Context) error { return nil })

	if got := c.Sweep(now); got != 1 {
		t.Fatalf("evicted = %d, want 1", got)
	}
	if n := len(c.Items()); n != 2 {
		t.Fatalf("items = %d, want 2", n)
	}
	if jobs.has(publishJobID(oldSeq)) {
		t.Fatal("evicted item's publish job still armed")
	}
	for _, it := range c.Items() {
		if it.Key == oldKey {
			t.Fatal("stale item survived the sweep")
		}
	}
}

func TestSweepEvictsArmedItemAndHeldWindow(t *testing.T) {
	t.Parallel()
	c, jobs, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	old := time.Now().Add(-100 * time.Hour)
	caption := fmt.Sprintf("时间：%d年%d月%d日 %02d:%02d",
		old.Year(), int(old.Month()), old.Day(), old.Hour(), old.Minute())
	c.HandleCaption(ctx, testChat, caption, SourceMail)

	if got := c.Sweep(time.Now()); got != 1 {
		t.Fatalf("evicted = %d, want 1", got)
	}
	if jobs.has(jobCollect) {
		t.Fatal("window job survived the sweep")
	}
	c.HandlePhoto(ctx, []byte{1})
	if n := len(c.Items()); n != 0 {
		t.Fatalf("items = %d, want 0", n)
	}
}

func TestListEmptyQueue(t *testing.T) {
	t.Parallel()
	c, _, _, out := newTestCoordinator(t)
	c.List(context.Background(), testChat)
	if got := out.lastText(t); got != "处理队列为空" {
		t.Fatalf("reply = %q", got)
	}
}

func TestListShowsEveryItem(t *testing.T) {
	t.Parallel()
	c, _, _, out := newTestCoordinator(t)
	ctx := context.Background()

	c.AddReady(ctx, keyA, "第一条", nil, SourceMail)
	c.AddReady(ctx, keyA+60, "第二条", nil, SourceTweet)
	c.List(ctx, testChat)

	texts := out.texts()
	if len(texts) != 2 {
		t.Fatalf("messages = %d, want 2", len(texts))
	}
	if !strings.Contains(texts[0], "第一条") || !strings.Contains(texts[1], "第二条") {
		t.Fatalf("listing order wrong: %q", texts)
	}
	if !strings.Contains(texts[0], "图片收集完成，等待翻译") {
		t.Fatalf("state label missing: %q", texts[0])
	}
}
