package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/whatsapp"
)

func newSummaryCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Send the daily package summary now",
		Long: "Builds the digest of tracked packages held in customs, on alert or with delivery problems " +
			"and sends it to the finance channels. With --dry-run the digest is printed instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(cmd, configPath, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the digest without sending it")
	return cmd
}

func runSummary(cmd *cobra.Command, configPath string, dryRun bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	cfg, gormDB, err := connectFromConfig(configPath, io.Discard)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, gormDB, io.Discard)
	if err != nil {
		return err
	}
	defer store.Close()

	var n notify.Notifier = &notify.Writer{Out: out}
	if !dryRun {
		var wa *whatsapp.Client
		if cfg.WhatsApp.Token != "" {
			if wa, err = newWhatsApp(cfg); err != nil {
				return err
			}
		}
		if n, err = newNotifier(cfg, wa, out); err != nil {
			return err
		}
	}
	tr, err := newTracking(cfg, store, nil)
	if err != nil {
		return err
	}
	summary, err := attendant.NewSummary(attendant.SummaryOpts{
		Source:   tr,
		Notifier: n,
		Cron:     cfg.Summary.Cron,
		Timezone: cfg.Summary.Timezone,
		Out:      out,
	})
	if err != nil {
		return err
	}

	if dryRun {
		d, err := summary.Build(ctx)
		if err != nil {
			return err
		}
		if d.Empty() {
			fmt.Fprintln(out, "Nothing to report.")
			return nil
		}
		fmt.Fprintln(out, d.Format())
		return nil
	}
	_, err = summary.Send(ctx)
	return err
}
