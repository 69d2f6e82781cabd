package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the attendant and its HTTP server",
		Long: "Starts the inbound webhook, the per-customer attendant workers and, when enabled, " +
			"the daily customs summary. Stops gracefully on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gormDB, err := openDB(cfg, out)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, gormDB, out)
	if err != nil {
		return err
	}
	defer store.Close()

	wa, err := newWhatsApp(cfg)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg, wa, out)
	if err != nil {
		return err
	}
	tr, err := newTracking(cfg, store, notifier)
	if err != nil {
		return err
	}
	orders, err := newOrders(cfg, store)
	if err != nil {
		return err
	}
	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	registry, err := newToolRegistry(orders, tr, store, gormDB, notifier)
	if err != nil {
		return err
	}
	lock, err := newRunLock(cfg, store)
	if err != nil {
		return err
	}
	chatLog, err := attendant.NewChatLog(attendant.ChatLogOpts{Store: store})
	if err != nil {
		return err
	}

	opts := orchestratorOpts(cfg)
	opts.Backend = backend
	opts.Store = store
	opts.Registry = registry
	opts.Gateway = wa
	opts.Lock = lock
	opts.ChatLog = chatLog
	opts.Out = out
	orch, err := attendant.NewOrchestrator(opts)
	if err != nil {
		return err
	}

	router, err := attendant.NewRouter(attendant.RouterOpts{
		Orchestrator: orch,
		Gateway:      wa,
		Store:        store,
		ResetCommand: cfg.Attendant.ResetCommand,
		ResetMessage: cfg.Attendant.ResetMessage,
		Out:          out,
	})
	if err != nil {
		return err
	}

	var summary *attendant.Summary
	if cfg.Summary.Enabled {
		summary, err = attendant.NewSummary(attendant.SummaryOpts{
			Source:   tr,
			Notifier: notifier,
			Cron:     cfg.Summary.Cron,
			Timezone: cfg.Summary.Timezone,
			Out:      out,
		})
		if err != nil {
			return err
		}
	}

	daemon, err := attendant.NewDaemon(attendant.DaemonOpts{
		Orchestrator: orch,
		Router:       router,
		Summary:      summary,
		Out:          out,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return daemon.Run(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx, server.StartOpts{
			Opts: server.Opts{
				Inbox:        daemon,
				Resetter:     orch,
				ChatLog:      chatLog,
				Tracking:     tr,
				DB:           gormDB,
				AdminToken:   cfg.Server.AdminToken,
				WebhookToken: cfg.Server.WebhookToken,
			},
			Port: cfg.Server.Port,
			Out:  out,
		})
	})
	return g.Wait()
}
