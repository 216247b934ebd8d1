// Package bot wires the gateway, the scheduler, storage, the publish
// client, the ingestion feeds and the relay coordinator into one process.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BesiegedCity/sakamichibot/internal/config"
	"github.com/BesiegedCity/sakamichibot/internal/ingest"
	"github.com/BesiegedCity/sakamichibot/internal/publish"
	"github.com/BesiegedCity/sakamichibot/internal/relay"
	"github.com/BesiegedCity/sakamichibot/internal/scheduler"
	"github.com/BesiegedCity/sakamichibot/internal/storage"
	"github.com/BesiegedCity/sakamichibot/internal/transport"
	"github.com/BesiegedCity/sakamichibot/internal/transport/telegram"
	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

const defaultPublishBaseURL = "https://api.vc.bilibili.com"

type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter transport.Adapter
	sched   *scheduler.Service
	store   storage.Store
	coord   *relay.Coordinator

	fetcher   *ingest.Fetcher
	blogFeed  *ingest.BlogFeed
	tweetFeed *ingest.TweetFeed

	updates chan transport.Update

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.DurationOrDefault(cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	sched := scheduler.New(scheduler.Config{Workers: 2}, log.With(logx.String("comp", "scheduler")))

	baseURL := cfg.Publish.BaseURL
	if baseURL == "" {
		baseURL = defaultPublishBaseURL
	}
	pub, err := publish.NewClient(publish.Config{
		BaseURL:    baseURL,
		SessData:   cfg.Publish.SessData,
		CSRF:       cfg.Publish.CSRF,
		RatePerMin: cfg.Publish.RatePerMin,
	}, log.With(logx.String("comp", "publish")))
	if err != nil {
		return nil, err
	}

	opts, err := relayOptions(cfg)
	if err != nil {
		return nil, err
	}
	var seqSource relay.SequenceSource
	if store != nil {
		seqSource = storeSeq{store}
	}

	app := &App{
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log.With(logx.String("comp", "app")),
		adapter: adapter,
		sched:   sched,
		store:   store,
		updates: make(chan transport.Update, 64),
	}
	app.coord = relay.NewCoordinator(opts, sched, pub, app, seqSource, log.With(logx.String("comp", "relay")))

	var cursors ingest.CursorStore
	if store != nil {
		cursors = store
	} else {
		cursors = ingest.NewMemCursors()
	}
	fetcher, err := ingest.NewFetcher(cfg.Ingest.Tweet.Proxy, log.With(logx.String("comp", "fetch")))
	if err != nil {
		return nil, err
	}
	app.fetcher = fetcher
	if cfg.Ingest.Blog.Enabled {
		app.blogFeed = ingest.NewBlogFeed(fetcher, cursors, cfg.Ingest.Blog.MemberAbbr,
			opts.Location, log.With(logx.String("comp", "blog")))
	}
	if cfg.Ingest.Tweet.Enabled {
		app.tweetFeed = ingest.NewTweetFeed(fetcher, cursors, cfg.Ingest.Tweet.Keywords,
			cfg.Ingest.Tweet.BearerToken, opts.Location,
			log.With(logx.String("comp", "tweet")))
	}

	return app, nil
}

func relayOptions(cfg *config.Config) (relay.Options, error) {
	imageWindow, err := config.DurationOrDefault(cfg.Relay.ImageWindow, 2*time.Minute)
	if err != nil {
		return relay.Options{}, err
	}
	debounce, err := config.DurationOrDefault(cfg.Relay.Debounce, 10*time.Minute)
	if err != nil {
		return relay.Options{}, err
	}
	grace, err := config.DurationOrDefault(cfg.Relay.WindowGrace, 2*time.Second)
	if err != nil {
		return relay.Options{}, err
	}
	maxAge, err := config.DurationOrDefault(cfg.Relay.MaxItemAge, 72*time.Hour)
	if err != nil {
		return relay.Options{}, err
	}
	settle, err := config.DurationOrDefault(cfg.Publish.SettleDelay, 5*time.Second)
	if err != nil {
		return relay.Options{}, err
	}
	pollInterval, err := config.DurationOrDefault(cfg.Publish.PollInterval, 5*time.Second)
	if err != nil {
		return relay.Options{}, err
	}
	return relay.Options{
		ImageWindow:  imageWindow,
		Debounce:     debounce,
		WindowGrace:  grace,
		MaxItemAge:   maxAge,
		Topic:        cfg.Publish.Topic,
		SettleDelay:  settle,
		PollInterval: pollInterval,
		PollAttempts: cfg.Publish.PollAttempts,
	}, nil
}

// storeSeq adapts storage.Store to the coordinator's sequence source.
type storeSeq struct{ st storage.Store }

func (s storeSeq) Next(ctx context.Context) (int64, error) { return s.st.NextSequence(ctx) }

// Send implements relay.Outbound.
func (a *App) Send(ctx context.Context, to transport.ChatTarget, msg transport.OutMessage) error {
	return a.adapter.Send(ctx, to, msg)
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCancel != nil {
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.sched.Start(rctx)
	if err := a.adapter.Start(rctx, a.updates); err != nil {
		cancel()
		return err
	}

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		a.consumeUpdates(rctx)
	}()

	if err := a.registerJobs(rctx); err != nil {
		cancel()
		return err
	}

	a.runWG.Add(2)
	go func() {
		defer a.runWG.Done()
		_ = a.cfgm.Watch(rctx)
	}()
	go func() {
		defer a.runWG.Done()
		a.applyConfigUpdates(rctx)
	}()

	a.log.Info("started")
	return nil
}

func (a *App) registerJobs(ctx context.Context) error {
	cfg := a.cfgm.Get()

	sweepAt := cfg.Relay.SweepAt
	if sweepAt == "" {
		sweepAt = "04:00"
	}
	if err := a.sched.AddDaily("relay:sweep", sweepAt, func(context.Context) error {
		evicted := a.coord.Sweep(time.Now())
		if evicted > 0 {
			a.log.Warn("registry sweep evicted items", logx.Int("count", evicted))
		}
		return nil
	}); err != nil {
		return err
	}

	if a.blogFeed != nil {
		spec, err := feedSpec(cfg.Ingest.Blog.CheckEvery, 10*time.Minute)
		if err != nil {
			return err
		}
		if err := a.sched.AddCron("ingest:blog", spec, func(jctx context.Context) error {
			return a.pollFeed(jctx, a.blogFeed, relay.SourceManual, false)
		}); err != nil {
			return err
		}
	}
	if a.tweetFeed != nil {
		spec, err := feedSpec(cfg.Ingest.Tweet.CheckEvery, 5*time.Minute)
		if err != nil {
			return err
		}
		if err := a.sched.AddCron("ingest:tweet", spec, func(jctx context.Context) error {
			return a.pollFeed(jctx, a.tweetFeed, relay.SourceTweet, false)
		}); err != nil {
			return err
		}
	}
	return nil
}

// feedSpec builds the poll cron spec; checks run only during waking hours,
// like the original push windows.
func feedSpec(every string, def time.Duration) (string, error) {
	d, err := config.DurationOrDefault(every, def)
	if err != nil {
		return "", err
	}
	mins := int(d.Minutes())
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("*/%d 7-23 * * *", mins), nil
}

func (a *App) consumeUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			if up.Message == nil {
				continue
			}
			a.route(ctx, up.Message)
		}
	}
}

func (a *App) applyConfigUpdates(ctx context.Context) {
	ch := a.cfgm.Subscribe(2)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.SetLevel(cfg.Logging.Level)
			imageWindow, err1 := config.DurationOrDefault(cfg.Relay.ImageWindow, 0)
			debounce, err2 := config.DurationOrDefault(cfg.Relay.Debounce, 0)
			grace, err3 := config.DurationOrDefault(cfg.Relay.WindowGrace, 0)
			if err1 == nil && err2 == nil && err3 == nil {
				a.coord.SetDurations(imageWindow, debounce, grace)
			}
			a.log.Info("config applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	_ = a.adapter.Stop(ctx)
	a.sched.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
	a.log.Info("stopped")
	return nil
}
