package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/BesiegedCity/sakamichibot/internal/relay"
	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

// route dispatches one inbound message. Only admin groups are listened to;
// within them the sender accounts contribute captions and photos, everyone
// else replies translations. Any member may cancel a queued item or pull the
// latest feed entry; the queue listing stays with the masters.
func (a *App) route(ctx context.Context, m *transport.Message) {
	cfg := a.cfgm.Get()
	if !containsInt64(cfg.Groups.AdminGroupIDs, m.ChatID) {
		return
	}
	chat := transport.ChatTarget{ChatID: m.ChatID}
	isSender := containsInt64(cfg.Groups.SenderIDs, m.FromID)
	isMaster := containsInt64(cfg.Groups.MasterIDs, m.FromID)

	if len(m.Photo) > 0 {
		if isSender {
			a.coord.HandlePhoto(ctx, m.Photo)
		}
		return
	}

	text := strings.TrimSpace(m.Text)
	switch {
	case text == "":
		return

	case strings.HasPrefix(text, "时间"):
		if isSender {
			a.coord.HandleCaption(ctx, chat, text, relay.SourceMail)
		} else {
			a.coord.HandleTranslation(ctx, chat, text)
		}

	case text == "发送队列":
		if isMaster {
			a.coord.List(ctx, chat)
		}

	case strings.HasPrefix(text, "取消发送"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "取消发送"))
		seq, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			a.reply(ctx, chat, "请在取消发送后附上mail的数字序号")
			return
		}
		a.coord.HandleCancel(ctx, chat, seq)

	case text == "最新博客":
		a.manualFeed(ctx, chat, a.blogAsFeed(), relay.SourceManual)

	case text == "最新推文":
		a.manualFeed(ctx, chat, a.tweetAsFeed(), relay.SourceTweet)
	}
}

func (a *App) reply(ctx context.Context, chat transport.ChatTarget, text string) {
	if err := a.adapter.Send(ctx, chat, transport.OutMessage{Text: text}); err != nil {
		a.log.Warn("reply failed", logx.Err(err), logx.Int64("chat", chat.ChatID))
	}
}

func containsInt64(xs []int64, x int64) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
