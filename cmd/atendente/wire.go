package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lojaortopedic/atendente/internal/assistant"
	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/db"
	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/notify/discord"
	"github.com/lojaortopedic/atendente/internal/notify/slack"
	"github.com/lojaortopedic/atendente/internal/nuvemshop"
	"github.com/lojaortopedic/atendente/internal/tools"
	"github.com/lojaortopedic/atendente/internal/tracking"
	"github.com/lojaortopedic/atendente/internal/whatsapp"
	"gorm.io/gorm"
)

// openDB connects to the configured SQL database and migrates its tables.
func openDB(cfg *config.Config, out io.Writer) (*gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Database ready (%s)\n", cfg.Database.Driver)
	return gormDB, nil
}

// openStore returns the key-value store selected by cfg.Store. The SQL store
// shares gormDB.
func openStore(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, out io.Writer) (kvstore.Store, error) {
	switch cfg.Store {
	case "redis":
		s, err := kvstore.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Key-value store: redis\n")
		return s, nil
	default:
		s, err := kvstore.NewSQL(kvstore.SQLOpts{DB: gormDB})
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Key-value store: sql\n")
		return s, nil
	}
}

func newBackend(cfg *config.Config) (*assistant.OpenAI, error) {
	return assistant.NewOpenAI(assistant.OpenAIOpts{
		APIKey:      cfg.Assistant.APIKey,
		AssistantID: cfg.Assistant.AssistantID,
		BaseURL:     cfg.Assistant.BaseURL,
		Timeout:     time.Duration(cfg.Assistant.RequestTimeoutSec) * time.Second,
	})
}

func newWhatsApp(cfg *config.Config) (*whatsapp.Client, error) {
	return whatsapp.NewClient(whatsapp.ClientOpts{
		BaseURL:       cfg.WhatsApp.APIURL,
		Token:         cfg.WhatsApp.Token,
		ConnectionKey: cfg.WhatsApp.ConnectionKey,
		MessageDelay:  time.Duration(cfg.WhatsApp.MessageDelayMs) * time.Millisecond,
	})
}

// newNotifier fans finance notices out to every configured channel. With
// none configured, notices are printed to out.
func newNotifier(cfg *config.Config, wa *whatsapp.Client, out io.Writer) (notify.Notifier, error) {
	var targets notify.Multi
	if cfg.Notify.Slack.BotToken != "" && cfg.Notify.Slack.Channel != "" {
		n, err := slack.New(slack.Opts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.Channel,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, n)
	}
	if cfg.Notify.Discord.BotToken != "" && cfg.Notify.Discord.Channel != "" {
		n, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.Channel,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, n)
	}
	if wa != nil && cfg.WhatsApp.FinanceNumber != "" {
		n, err := whatsapp.NewNotifier(wa, cfg.WhatsApp.FinanceNumber)
		if err != nil {
			return nil, err
		}
		targets = append(targets, n)
	}
	if len(targets) == 0 {
		fmt.Fprintf(out, "No finance channel configured; notices go to stdout\n")
		return &notify.Writer{Out: out}, nil
	}
	fmt.Fprintf(out, "Finance notices: %d channel(s)\n", len(targets))
	return targets, nil
}

func newTracking(cfg *config.Config, store kvstore.Store, notifier notify.Notifier) (*tracking.Client, error) {
	provider, err := tracking.NewTrack17(tracking.Track17Opts{
		BaseURL: cfg.Tracking.APIURL,
		APIKey:  cfg.Tracking.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return newTrackingClient(cfg, provider, store, notifier)
}

func newTrackingClient(cfg *config.Config, provider tracking.Provider, store kvstore.Store, notifier notify.Notifier) (*tracking.Client, error) {
	t := cfg.Tracking
	return tracking.NewClient(tracking.ClientOpts{
		Provider:  provider,
		Cache:     store,
		Notifier:  notifier,
		Sanitizer: tracking.NewSanitizer(t.Keywords, t.CustomsStatuses, t.Replacement),
		CacheTTL:  time.Duration(t.CacheTTLMin) * time.Minute,
		NoticeTTL: time.Duration(t.NoticeTTLHours) * time.Hour,
	})
}

func newOrders(cfg *config.Config, store kvstore.Store) (*nuvemshop.Client, error) {
	n := cfg.Nuvemshop
	return nuvemshop.NewClient(nuvemshop.ClientOpts{
		BaseURL:     n.APIURL,
		StoreID:     n.StoreID,
		AccessToken: n.AccessToken,
		UserAgent:   n.UserAgent,
		Cache:       store,
		CacheTTL:    time.Duration(n.CacheTTLMin) * time.Minute,
	})
}

// orchestratorOpts maps the attendant config onto OrchestratorOpts. The
// caller fills in the collaborators.
func orchestratorOpts(cfg *config.Config) attendant.OrchestratorOpts {
	a := cfg.Attendant
	debounce := time.Duration(a.DebounceMs) * time.Millisecond
	if a.DebounceMs < 0 {
		debounce = -1
	}
	return attendant.OrchestratorOpts{
		PollInterval:    time.Duration(a.PollIntervalMs) * time.Millisecond,
		MaxPolls:        a.MaxPolls,
		RunTimeout:      time.Duration(a.RunTimeoutSec) * time.Second,
		ThreadTTL:       time.Duration(a.ThreadTTLDays) * 24 * time.Hour,
		Debounce:        debounce,
		ToolConcurrency: a.ToolConcurrency,
		WaitMessage:     a.WaitMessage,
		ApologyMessage:  a.ApologyMessage,
	}
}

func newRunLock(cfg *config.Config, store kvstore.Store) (*attendant.RunLock, error) {
	return attendant.NewRunLock(attendant.RunLockOpts{
		Store:      store,
		TTL:        time.Duration(cfg.Attendant.LockTTLSec) * time.Second,
		StaleAfter: time.Duration(cfg.Attendant.LockStaleSec) * time.Second,
	})
}

// newToolRegistry registers the built-in tools over live collaborators.
func newToolRegistry(orders nuvemshop.OrderFinder, tr tools.Tracker, store kvstore.Store, gormDB *gorm.DB, notifier notify.Notifier) (*tools.Registry, error) {
	return tools.New(tools.Deps{
		Orders:   orders,
		Tracking: tr,
		Store:    store,
		DB:       gormDB,
		Notifier: notifier,
	})
}
