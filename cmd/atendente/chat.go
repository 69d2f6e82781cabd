package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lojaortopedic/atendente/internal/assistant"
	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/nuvemshop"
	"github.com/lojaortopedic/atendente/internal/tools"
	"github.com/lojaortopedic/atendente/internal/tracking"
	"github.com/lojaortopedic/atendente/internal/whatsapp"
)

const (
	defaultChatCustomer = "5511900000000"
	sampleOrderNumber   = 1001
	sampleTrackingCode  = "NM123456789BR"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		customer   string
		live       bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the attendant from the terminal",
		Long: `Runs the attendant against an in-memory store with sample order and tracking data.

Without --live the assistant is a local stand-in that calls the lookup tools
when a message mentions "pedido <number>", four CPF digits or a tracking code,
and echoes everything else. With --live the configured assistant is used.

Type the reset command (default #reset) to start over, or "sair" to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, customer, live)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file (used with --live)")
	cmd.Flags().StringVar(&customer, "customer", defaultChatCustomer, "customer phone for the session")
	cmd.Flags().BoolVar(&live, "live", false, "use the configured assistant instead of the local stand-in")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, customer string, live bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	customerID := whatsapp.NormalizePhone(customer)
	if customerID == "" {
		return fmt.Errorf("invalid phone %q", customer)
	}

	resetCommand, resetMessage := attendant.DefaultResetCommand, attendant.DefaultResetMessage
	var backend assistant.Backend
	if live {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if backend, err = newBackend(cfg); err != nil {
			return err
		}
		resetCommand, resetMessage = cfg.Attendant.ResetCommand, cfg.Attendant.ResetMessage
	} else {
		fake := assistant.NewFake()
		fake.Script = offlineScript
		backend = fake
	}

	store, err := kvstore.OpenSQLite(":memory:")
	if err != nil {
		return err
	}
	defer store.Close()

	session, err := newChatSession(backend, store, out)
	if err != nil {
		return err
	}
	defer session.orch.Close()

	in := cmd.InOrStdin()
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	if interactive {
		fmt.Fprintf(out, "Atendente console (customer %s). Sample order #%d, CPF ending 8909, tracking %s.\n",
			customerID, sampleOrderNumber, sampleTrackingCode)
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "sair"), strings.EqualFold(line, "exit"):
			return nil
		case strings.EqualFold(line, resetCommand):
			if _, err := session.orch.Reset(ctx, customerID); err != nil {
				fmt.Fprintf(out, "reset failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "< "+resetMessage)
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		reply, err := session.orch.ProcessTurn(turnCtx, customerID, line)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "(%v)\n", err)
		}
		if reply.Text != "" {
			fmt.Fprintln(out, "< "+reply.Text)
		}
	}
	return scanner.Err()
}

type chatSession struct {
	orch *attendant.Orchestrator
}

// newChatSession wires an orchestrator over sample data. Finance notices
// are printed inline.
func newChatSession(backend assistant.Backend, store kvstore.Store, out io.Writer) (*chatSession, error) {
	orders := nuvemshop.NewMockFinder(sampleOrder())
	provider := tracking.NewMockProvider()
	provider.Set(tracking.Info{
		Code:        sampleTrackingCode,
		Status:      tracking.StatusInTransit,
		LatestEvent: "Objeto em trânsito - por favor aguarde",
		Location:    "CURITIBA - PR",
		Events: []tracking.Event{
			{Time: time.Now().Add(-6 * time.Hour), Description: "Objeto em trânsito - por favor aguarde", Location: "CURITIBA - PR"},
			{Time: time.Now().Add(-30 * time.Hour), Description: "Objeto postado", Location: "SAO PAULO - SP"},
		},
	})
	notifier := &notify.Writer{Out: out}

	tr, err := tracking.NewClient(tracking.ClientOpts{
		Provider:  provider,
		Cache:     store,
		Notifier:  notifier,
		Sanitizer: tracking.NewSanitizer(config.DefaultKeywords, config.DefaultCustomsStatuses, "Em processamento"),
	})
	if err != nil {
		return nil, err
	}
	registry, err := newToolRegistry(orders, tr, store, nil, notifier)
	if err != nil {
		return nil, err
	}
	orch, err := attendant.NewOrchestrator(attendant.OrchestratorOpts{
		Backend:  backend,
		Store:    store,
		Registry: registry,
		Debounce: -1,
		Out:      io.Discard,
	})
	if err != nil {
		return nil, err
	}
	return &chatSession{orch: orch}, nil
}

func sampleOrder() nuvemshop.Order {
	return nuvemshop.Order{
		ID:             900001,
		Number:         sampleOrderNumber,
		Status:         "open",
		PaymentStatus:  "paid",
		ShippingStatus: "shipped",
		TrackingNumber: sampleTrackingCode,
		Total:          "289.90",
		Currency:       "BRL",
		CreatedAt:      "2026-03-02T14:10:00+0000",
		Customer: nuvemshop.Customer{
			Name:           "Maria Souza",
			Phone:          "+55 11 90000-0000",
			Identification: "123.456.789-09",
		},
		Products: []nuvemshop.Product{{Name: "Palmilha ortopédica"}},
	}
}

var (
	orderPattern    = regexp.MustCompile(`(?i)pedido\s*#?\s*(\d{3,})`)
	digitsPattern   = regexp.MustCompile(`^\d{4}$`)
	trackingPattern = regexp.MustCompile(`(?i)\b([a-z]{2}\d{9}[a-z]{2})\b`)
)

// offlineScript stands in for the assistant in the console: it picks a
// lookup tool from the message and replies with the raw tool output.
func offlineScript(_, input string) []assistant.FakeStep {
	var call *assistant.ToolCall
	switch {
	case trackingPattern.MatchString(input):
		code := trackingPattern.FindStringSubmatch(input)[1]
		call = &assistant.ToolCall{Name: string(tools.RastrearPedido), Arguments: toolArgs("tracking_code", code)}
	case orderPattern.MatchString(input):
		number := orderPattern.FindStringSubmatch(input)[1]
		call = &assistant.ToolCall{Name: string(tools.ConsultarPedido), Arguments: toolArgs("order_number", number)}
	case digitsPattern.MatchString(input):
		call = &assistant.ToolCall{Name: string(tools.VerificarIdentidade), Arguments: toolArgs("digits", input)}
	default:
		return nil
	}
	call.ID = "call_console"
	return []assistant.FakeStep{
		assistant.ToolCallStep(*call),
		{Status: assistant.RunCompleted, ReplyFunc: assistant.JoinOutputs},
	}
}

func toolArgs(key, value string) string {
	data, _ := json.Marshal(map[string]string{key: value})
	return string(data)
}
