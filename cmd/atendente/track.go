package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/tracking"
)

func newTrackCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "track <code>",
		Short: "Look up a tracking code as the customer would see it",
		Long:  "Queries 17TRACK through the cache and prints the sanitized result the assistant receives.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, configPath, args[0], asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func runTrack(cmd *cobra.Command, configPath, code string, asJSON bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()

	gormDB, err := openDB(cfg, io.Discard)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, gormDB, io.Discard)
	if err != nil {
		return err
	}
	defer store.Close()

	// Customs notices are left to the running service.
	tr, err := newTracking(cfg, store, nil)
	if err != nil {
		return err
	}
	res, err := tr.Query(ctx, code)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printTrackingResult(out, res)
	return nil
}

func printTrackingResult(out io.Writer, res *tracking.Result) {
	fmt.Fprintf(out, "Code:      %s\n", res.Code)
	fmt.Fprintf(out, "Status:    %s\n", res.Status)
	if res.Location != "" {
		fmt.Fprintf(out, "Location:  %s\n", res.Location)
	}
	if !res.LastUpdate.IsZero() {
		fmt.Fprintf(out, "Updated:   %s\n", res.LastUpdate.Format(time.DateTime))
	}
	if res.Cached {
		fmt.Fprintf(out, "(cached)\n")
	}
	if res.Pending {
		fmt.Fprintf(out, "Registered; no carrier data yet.\n")
		return
	}
	if len(res.Events) > 0 {
		fmt.Fprintf(out, "\nEvents:\n")
		for _, e := range res.Events {
			fmt.Fprintf(out, "  %s  %s\n", formatEventTime(e.Time), e.Description)
		}
	}
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return "                   "
	}
	return t.Format(time.DateTime)
}
