package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "atendente.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "atendente",
		Short: "Atendente: WhatsApp customer support assistant",
		Long: "Atendente answers customers on WhatsApp through a conversational assistant, " +
			"serializing runs per conversation and forwarding finance cases to the team.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newTrackCmd())
	cmd.AddCommand(newOrderCmd())
	cmd.AddCommand(newCasesCmd())
	cmd.AddCommand(newSummaryCmd())
	cmd.AddCommand(newDBCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atendente %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
