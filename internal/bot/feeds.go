package bot

import (
	"context"

	"github.com/BesiegedCity/sakamichibot/internal/ingest"
	"github.com/BesiegedCity/sakamichibot/internal/relay"
	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

const translateNote = "\n—————————\n*请以开头的时间信息回复翻译内容，随后自动进入发送流程"

// blogAsFeed avoids handing a typed nil pointer to the Feed interface.
func (a *App) blogAsFeed() ingest.Feed {
	if a.blogFeed == nil {
		return nil
	}
	return a.blogFeed
}

func (a *App) tweetAsFeed() ingest.Feed {
	if a.tweetFeed == nil {
		return nil
	}
	return a.tweetFeed
}

// pollFeed checks a feed and pushes new content to the push group,
// registering each piece with the coordinator so translators can finish it.
func (a *App) pollFeed(ctx context.Context, feed ingest.Feed, source relay.Source, manual bool) error {
	if feed == nil {
		return nil
	}
	var (
		contents []ingest.ParsedContent
		err      error
	)
	if manual {
		contents, err = feed.Latest(ctx)
	} else {
		contents, err = feed.CheckUpdate(ctx)
	}
	if err != nil {
		a.log.Warn("feed check failed", logx.String("feed", feed.Name()), logx.Err(err))
		return err
	}
	if len(contents) == 0 {
		return nil
	}

	chat, ok := a.pushChat()
	if !ok {
		a.log.Warn("push group not configured, feed content dropped",
			logx.String("feed", feed.Name()), logx.Int("count", len(contents)))
		return nil
	}
	for _, c := range contents {
		imgs, err := a.fetcher.Images(ctx, c.ImageURLs)
		if err != nil {
			a.log.Warn("feed image download failed", logx.String("feed", feed.Name()), logx.Err(err))
			continue
		}
		seq, added := a.coord.AddReady(ctx, c.Timestamp, c.Text, imgs, source)
		if !added {
			continue
		}
		a.log.Info("feed content registered",
			logx.String("feed", feed.Name()), logx.Int64("seq", seq), logx.Int("images", len(imgs)))
		msg := transport.OutMessage{Text: c.Text + translateNote, Images: imgs}
		if err := a.adapter.Send(ctx, chat, msg); err != nil {
			a.log.Warn("feed push failed", logx.String("feed", feed.Name()), logx.Err(err))
		}
	}
	return nil
}

func (a *App) manualFeed(ctx context.Context, chat transport.ChatTarget, feed ingest.Feed, source relay.Source) {
	if feed == nil {
		a.reply(ctx, chat, "该订阅源未启用")
		return
	}
	if err := a.pollFeed(ctx, feed, source, true); err != nil {
		a.reply(ctx, chat, "获取最新内容失败："+err.Error())
	}
}

func (a *App) pushChat() (transport.ChatTarget, bool) {
	cfg := a.cfgm.Get()
	idx := cfg.Groups.PushGroupIndex
	if idx < 0 || idx >= len(cfg.Groups.AdminGroupIDs) {
		return transport.ChatTarget{}, false
	}
	return transport.ChatTarget{ChatID: cfg.Groups.AdminGroupIDs[idx]}, true
}
