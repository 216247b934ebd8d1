// Package telegram adapts the Telegram Bot API (via telebot long polling)
// to the transport types used by the core.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		a.deliver(out, transport.Update{Message: &transport.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
		}})
		return nil
	})

	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Photo == nil {
			return nil
		}
		data, err := a.downloadPhoto(rctx, m.Photo)
		if err != nil {
			a.log.Warn("photo download failed", logx.Err(err), logx.Int64("chat", m.Chat.ID))
			return nil
		}
		a.deliver(out, transport.Update{Message: &transport.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Caption,
			Photo:        data,
		}})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
	}()

	return nil
}

func (a *Adapter) deliver(out chan<- transport.Update, up transport.Update) {
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) downloadPhoto(ctx context.Context, p *tele.Photo) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		rc, err := a.bot.File(&p.File)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		ch <- result{data, err}
	}()
	select {
	case <-dctx.Done():
		return nil, dctx.Err()
	case r := <-ch:
		return r.data, r.err
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop() // telebot Stop should be fast; never block shutdown on it

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a composite message. Multiple images go out as an album;
// text rides along as the first item's caption when it fits.
func (a *Adapter) Send(ctx context.Context, to transport.ChatTarget, msg transport.OutMessage) error {
	chat := &tele.Chat{ID: to.ChatID}

	if len(msg.Images) == 0 {
		if strings.TrimSpace(msg.Text) == "" {
			return nil
		}
		_, err := a.bot.Send(chat, msg.Text)
		return err
	}

	if len(msg.Images) == 1 {
		photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(msg.Images[0]))}
		if len(msg.Text) <= 1024 {
			photo.Caption = msg.Text
			_, err := a.bot.Send(chat, photo)
			return err
		}
		if _, err := a.bot.Send(chat, msg.Text); err != nil {
			return err
		}
		_, err := a.bot.Send(chat, photo)
		return err
	}

	// Telegram albums carry at most 10 entries.
	album := tele.Album{}
	for i, img := range msg.Images {
		if i >= 10 {
			break
		}
		album = append(album, &tele.Photo{File: tele.FromReader(bytes.NewReader(img))})
	}
	if strings.TrimSpace(msg.Text) != "" {
		if _, err := a.bot.Send(chat, msg.Text); err != nil {
			return err
		}
	}
	_, err := a.bot.SendAlbum(chat, album)
	return err
}
