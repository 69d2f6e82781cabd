package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/nuvemshop"
)

func newOrderCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "order <number>",
		Short: "Look up a store order",
		Long:  "Fetches an order from Nuvemshop and prints the customer-safe summary the assistant receives.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	return cmd
}

func runOrder(cmd *cobra.Command, configPath, number string) error {
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

	orders, err := newOrders(cfg, store)
	if err != nil {
		return err
	}
	order, err := orders.FindOrder(ctx, strings.TrimPrefix(strings.TrimSpace(number), "#"))
	if errors.Is(err, nuvemshop.ErrOrderNotFound) {
		fmt.Fprintf(out, "Order %s not found\n", number)
		return nil
	}
	if err != nil {
		return err
	}
	printOrderSummary(out, order.Summarize())
	return nil
}

func printOrderSummary(out io.Writer, s nuvemshop.Summary) {
	fmt.Fprintf(out, "Order:     #%s\n", s.Number)
	fmt.Fprintf(out, "Customer:  %s\n", s.CustomerName)
	fmt.Fprintf(out, "Status:    %s\n", s.Status)
	fmt.Fprintf(out, "Payment:   %s\n", s.PaymentStatus)
	fmt.Fprintf(out, "Shipping:  %s\n", s.ShippingStatus)
	if s.TrackingCode != "" {
		fmt.Fprintf(out, "Tracking:  %s\n", s.TrackingCode)
	}
	fmt.Fprintf(out, "Total:     %s\n", s.Total)
	fmt.Fprintf(out, "Created:   %s\n", s.CreatedAt)
	for _, p := range s.Products {
		fmt.Fprintf(out, "  - %s\n", p)
	}
}
