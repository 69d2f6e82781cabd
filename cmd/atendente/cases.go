package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lojaortopedic/atendente/internal/cases"
	"github.com/lojaortopedic/atendente/internal/whatsapp"
)

func newCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Finance case management commands",
	}

	cmd.AddCommand(newCasesListCmd())
	cmd.AddCommand(newCasesShowCmd())
	cmd.AddCommand(newCasesAckCmd())
	return cmd
}

func newCasesListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		customer   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finance cases",
		Long:  "Lists finance cases, newest first, followed by the open count per reason.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCasesList(cmd, configPath, cases.ListOpts{
				Status:     status,
				CustomerID: whatsapp.NormalizePhone(customer),
				Limit:      limit,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	cmd.Flags().StringVar(&status, "status", cases.StatusOpen, "filter by status (open, acknowledged, or empty for all)")
	cmd.Flags().StringVar(&customer, "customer", "", "filter by customer phone")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of cases")
	return cmd
}

func runCasesList(cmd *cobra.Command, configPath string, opts cases.ListOpts) error {
	_, gormDB, err := connectFromConfig(configPath, io.Discard)
	if err != nil {
		return err
	}

	list, err := cases.List(gormDB, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No cases found.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCUSTOMER\tREASON\tPRI\tORDER\tSTATUS\tCREATED")
		for _, c := range list {
			order := c.OrderNumber
			if order == "" {
				order = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.CustomerID, c.Reason, c.Priority, order, c.Status,
				c.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
	}

	counts, err := cases.CountOpen(gormDB)
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		reasons := make([]string, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Open by reason:")
		for _, r := range reasons {
			fmt.Fprintf(out, "  %-14s %d\n", r, counts[r])
		}
	}
	return nil
}

func newCasesShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a finance case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCaseID(args[0])
			if err != nil {
				return err
			}
			return runCasesShow(cmd, configPath, id)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	return cmd
}

func runCasesShow(cmd *cobra.Command, configPath string, id uint) error {
	_, gormDB, err := connectFromConfig(configPath, io.Discard)
	if err != nil {
		return err
	}
	c, err := cases.Get(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Case:      %d\n", c.ID)
	fmt.Fprintf(out, "Customer:  %s\n", c.CustomerID)
	fmt.Fprintf(out, "Reason:    %s\n", c.Reason)
	fmt.Fprintf(out, "Priority:  %s\n", c.Priority)
	fmt.Fprintf(out, "Status:    %s\n", c.Status)
	if c.OrderNumber != "" {
		fmt.Fprintf(out, "Order:     %s\n", c.OrderNumber)
	}
	if c.TrackingCode != "" {
		fmt.Fprintf(out, "Tracking:  %s\n", c.TrackingCode)
	}
	if c.AttachmentURL != "" {
		fmt.Fprintf(out, "Proof:     %s\n", c.AttachmentURL)
	}
	fmt.Fprintf(out, "Created:   %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
	if c.AcknowledgedAt != nil {
		fmt.Fprintf(out, "Ack:       %s by %s\n", c.AcknowledgedAt.Format("2006-01-02 15:04:05"), c.AcknowledgedBy)
	}
	if c.Details != "" {
		fmt.Fprintf(out, "\n%s\n", c.Details)
	}
	return nil
}

func newCasesAckCmd() *cobra.Command {
	var (
		configPath string
		by         string
	)

	cmd := &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge an open finance case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCaseID(args[0])
			if err != nil {
				return err
			}
			return runCasesAck(cmd, configPath, id, by)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	cmd.Flags().StringVar(&by, "by", "", "who handled the case (required)")
	cmd.MarkFlagRequired("by")
	return cmd
}

func runCasesAck(cmd *cobra.Command, configPath string, id uint, by string) error {
	_, gormDB, err := connectFromConfig(configPath, io.Discard)
	if err != nil {
		return err
	}
	if err := cases.Acknowledge(gormDB, id, by); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Case %d acknowledged by %s\n", id, by)
	return nil
}

func parseCaseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid case id %q", s)
	}
	return uint(n), nil
}
