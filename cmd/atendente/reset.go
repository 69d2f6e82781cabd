package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/tools"
	"github.com/lojaortopedic/atendente/internal/whatsapp"
)

func newResetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reset <phone>",
		Short: "Reset a customer's conversation",
		Long: "Cancels the customer's active run, clears queued messages and per-thread state, " +
			"deletes the assistant thread and starts a new one. A running serve process keeps " +
			"its in-memory queue; prefer POST /admin/customers/:id/reset against a live server.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	return cmd
}

func runReset(cmd *cobra.Command, configPath, phone string) error {
	out := cmd.OutOrStdout()
	customerID := whatsapp.NormalizePhone(phone)
	if customerID == "" {
		return fmt.Errorf("invalid phone %q", phone)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()

	gormDB, err := openDB(cfg, out)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, gormDB, out)
	if err != nil {
		return err
	}
	defer store.Close()
	backend, err := newBackend(cfg)
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
	opts.Registry = tools.NewRegistry()
	opts.Lock = lock
	opts.ChatLog = chatLog
	opts.Out = out
	orch, err := attendant.NewOrchestrator(opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	threadID, err := orch.Reset(ctx, customerID)
	if err != nil {
		return fmt.Errorf("reset %s: %w", customerID, err)
	}
	fmt.Fprintf(out, "Conversation for %s reset (new thread %s)\n", customerID, threadID)
	return nil
}
