// Package relay implements the submission aggregation core: the item
// registry, the collection coordinator state machine, the publish debounce
// and worker, and the daily registry sweep.
package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/BesiegedCity/sakamichibot/internal/transport"
)

// State tracks how far an item's pieces have arrived.
type State int

const (
	// StateAwaitingBoth: caption received, images still collecting,
	// translation not yet arrived.
	StateAwaitingBoth State = iota
	// StateImagesReady: image window closed, waiting for the translation.
	StateImagesReady
	// StateTranslationReady: translation stored, image window still open.
	StateTranslationReady
	// StateReadyToPublish: both present; a debounce job is armed.
	StateReadyToPublish
)

func (s State) String() string {
	switch s {
	case StateAwaitingBoth:
		return "awaiting_both"
	case StateImagesReady:
		return "images_ready"
	case StateTranslationReady:
		return "translation_ready"
	case StateReadyToPublish:
		return "ready_to_publish"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) label() string {
	switch s {
	case StateAwaitingBoth:
		return "正在收集配图和翻译"
	case StateImagesReady:
		return "图片收集完成，等待翻译"
	case StateTranslationReady:
		return "翻译收集完成，等待图片"
	case StateReadyToPublish:
		return "准备完毕，等待发送"
	default:
		return "未知状态"
	}
}

// Source records where the caption came from; it affects text
// post-processing only.
type Source int

const (
	SourceMail Source = iota
	SourceTweet
	SourceManual
)

func (s Source) String() string {
	switch s {
	case SourceMail:
		return "mail"
	case SourceTweet:
		return "tweet"
	default:
		return "manual"
	}
}

// Item is one aggregated submission. All mutation goes through the
// Coordinator while it holds the registry mutex; nothing else may keep a
// reference across a blocking call.
type Item struct {
	// Key is the timestamp parsed from the caption's leading date/time
	// fragment. It is the registry key and the base of the item's job ids.
	Key         int64
	Seq         int64
	Source      Source
	RawCaption  string
	Translation string
	Images      [][]byte
	State       State
	CreatedAt   time.Time
}

// Info renders the operator-facing queue entry.
func (it *Item) Info() transport.OutMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "序号：%d\n", it.Seq)
	fmt.Fprintf(&b, "来源：%s\n", it.Source)
	b.WriteString("原文：\n")
	if it.RawCaption != "" {
		b.WriteString("*************\n")
		b.WriteString(it.RawCaption)
		b.WriteString("\n*************\n")
	}
	fmt.Fprintf(&b, "图片：%d张\n", len(it.Images))
	b.WriteString("翻译：\n")
	if it.Translation != "" {
		b.WriteString("*************\n")
		b.WriteString(it.Translation)
		b.WriteString("\n*************\n")
	}
	b.WriteString("状态：" + it.State.label())
	return transport.OutMessage{Text: b.String(), Images: it.Images}
}

// Preview renders the pre-publish check message sent when the debounce is
// armed or re-armed.
func (it *Item) Preview(topic string) transport.OutMessage {
	var b strings.Builder
	b.WriteString("【发送预览】\n-检查翻译错误/图片缺失情况-\n")
	if topic != "" {
		b.WriteString(topic + "\n")
	}
	b.WriteString(it.Translation)
	b.WriteString("\n—————————\n")
	b.WriteString("*如需修改请重新发送翻译，无需取消，旧翻译会被覆盖\n")
	fmt.Fprintf(&b, "**发送“取消发送 %d”取消", it.Seq)
	return transport.OutMessage{Text: b.String(), Images: it.Images}
}
