package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lojaortopedic/atendente/internal/cases"
	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/metrics"
	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/nuvemshop"
	"github.com/lojaortopedic/atendente/internal/tracking"
)

const (
	defaultStateTTL = 30 * time.Minute
	// identityDigits is how many trailing CPF digits confirm ownership.
	identityDigits = 4
)

// Tracker is the tracking lookup the rastrear_pedido tool uses.
type Tracker interface {
	Query(ctx context.Context, code string) (*tracking.Result, error)
}

// Deps are the collaborators of the built-in tools.
type Deps struct {
	Orders   nuvemshop.OrderFinder
	Tracking Tracker
	Store    kvstore.Store
	DB       *gorm.DB        // optional; cases are only notified without it
	Notifier notify.Notifier // optional
	StateTTL time.Duration   // payment-proof and verification keys
}

// toolset holds Deps for the executor methods.
type toolset struct {
	Deps
}

// New returns a registry with every built-in tool registered.
func New(d Deps) (*Registry, error) {
	if d.Orders == nil {
		return nil, fmt.Errorf("tools: orders is required")
	}
	if d.Tracking == nil {
		return nil, fmt.Errorf("tools: tracking is required")
	}
	if d.Store == nil {
		return nil, fmt.Errorf("tools: store is required")
	}
	if d.StateTTL <= 0 {
		d.StateTTL = defaultStateTTL
	}
	t := &toolset{Deps: d}
	r := NewRegistry()

	Register(r, ConsultarPedido,
		"Consulta um pedido pelo número. Depois de encontrado, peça os últimos 4 dígitos do CPF do titular.",
		object(props{"order_number": str("Número do pedido, sem #")}, "order_number"),
		t.consultarPedido)
	Register(r, VerificarIdentidade,
		"Confere os últimos 4 dígitos do CPF do titular do pedido consultado e devolve os detalhes do pedido.",
		object(props{"digits": str("Últimos 4 dígitos do CPF informados pelo cliente")}, "digits"),
		t.verificarIdentidade)
	Register(r, RastrearPedido,
		"Consulta o rastreio de uma encomenda pelo código de rastreio ou pelo número do pedido.",
		object(props{
			"tracking_code": str("Código de rastreio, ex. BR123456789BR"),
			"order_number":  str("Número do pedido, quando o cliente não tiver o código"),
		}),
		t.rastrearPedido)
	Register(r, EncaminharFinanceiro,
		"Encaminha um caso ao setor financeiro.",
		object(props{
			"reason":        enum("Motivo do encaminhamento", cases.Reasons...),
			"priority":      enum("Prioridade", cases.Priorities...),
			"details":       str("Resumo do problema"),
			"order_number":  str("Número do pedido, se houver"),
			"tracking_code": str("Código de rastreio, se houver"),
		}, "reason", "details"),
		t.encaminharFinanceiro)
	Register(r, SolicitarComprovante,
		"Inicia o envio de comprovante de pagamento: o cliente deve mandar a foto em seguida.",
		object(props{"order_number": str("Número do pedido do comprovante")}, "order_number"),
		t.solicitarComprovante)
	Register(r, ValidarComprovante,
		"Confere se a imagem recebida pode ser aceita como comprovante do pedido em andamento.",
		object(props{"image_url": str("URL da imagem recebida")}, "image_url"),
		t.validarComprovante)
	Register(r, ProcessarComprovante,
		"Registra o comprovante validado e avisa o financeiro.",
		object(props{
			"image_url": str("URL da imagem do comprovante"),
			"notes":     str("Observações do cliente"),
		}, "image_url"),
		t.processarComprovante)
	Register(r, CancelarComprovante,
		"Cancela o envio de comprovante em andamento.",
		nil,
		t.cancelarComprovante)
	return r, nil
}

// --- Order lookup and identity verification ---

type orderArgs struct {
	OrderNumber string `json:"order_number"`
}

type orderLookup struct {
	Found       bool   `json:"found"`
	OrderNumber string `json:"order_number"`
	Message     string `json:"message,omitempty"`
	NextStep    string `json:"next_step,omitempty"`
}

func (t *toolset) consultarPedido(ctx context.Context, a orderArgs, tc ThreadContext) (any, error) {
	number := normalizeOrderNumber(a.OrderNumber)
	if number == "" {
		return nil, Fail(CodeInvalidArgs, "informe o número do pedido")
	}

	_, err := t.Orders.FindOrder(ctx, number)
	if errors.Is(err, nuvemshop.ErrOrderNotFound) {
		return orderLookup{
			Found:       false,
			OrderNumber: number,
			Message:     fmt.Sprintf("Não encontrei o pedido #%s. Confira o número e tente novamente.", number),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := t.Store.Set(ctx, kvstore.PendingOrderKey(tc.ThreadID), number, t.StateTTL); err != nil {
		log.Printf("tools: store pending order for %s: %v", tc.ThreadID, err)
	}
	return orderLookup{
		Found:       true,
		OrderNumber: number,
		NextStep:    fmt.Sprintf("Pedido #%s encontrado. Para sua segurança, informe os últimos 4 dígitos do CPF do titular do pedido.", number),
	}, nil
}

type identityArgs struct {
	Digits string `json:"digits"`
}

type identityResult struct {
	Verified bool               `json:"verified"`
	Message  string             `json:"message,omitempty"`
	Order    *nuvemshop.Summary `json:"pedido,omitempty"`
}

func (t *toolset) verificarIdentidade(ctx context.Context, a identityArgs, tc ThreadContext) (any, error) {
	if len(onlyDigits(a.Digits)) < identityDigits {
		return nil, Fail(CodeInvalidArgs, "informe os últimos %d dígitos do CPF", identityDigits)
	}
	number, err := t.Store.Get(ctx, kvstore.PendingOrderKey(tc.ThreadID))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Printf("tools: read pending order for %s: %v", tc.ThreadID, err)
		}
		return nil, Fail(CodeNoPendingOrder, "nenhum pedido aguardando verificação; consulte o pedido primeiro")
	}

	order, err := t.Orders.FindOrder(ctx, number)
	if err != nil {
		return nil, err
	}
	if !order.MatchesIdentification(a.Digits, identityDigits) {
		return identityResult{
			Verified: false,
			Message:  "Os dígitos informados não conferem com o titular do pedido.",
		}, nil
	}

	if err := t.Store.Del(ctx, kvstore.PendingOrderKey(tc.ThreadID)); err != nil {
		log.Printf("tools: clear pending order for %s: %v", tc.ThreadID, err)
	}
	summary := order.Summarize()
	return identityResult{Verified: true, Order: &summary}, nil
}

// --- Tracking ---

type trackArgs struct {
	TrackingCode string `json:"tracking_code"`
	OrderNumber  string `json:"order_number"`
}

func (t *toolset) rastrearPedido(ctx context.Context, a trackArgs, _ ThreadContext) (any, error) {
	code := tracking.NormalizeCode(a.TrackingCode)
	if code == "" {
		number := normalizeOrderNumber(a.OrderNumber)
		if number == "" {
			return nil, Fail(CodeInvalidArgs, "informe o código de rastreio ou o número do pedido")
		}
		order, err := t.Orders.FindOrder(ctx, number)
		if errors.Is(err, nuvemshop.ErrOrderNotFound) {
			return orderLookup{
				OrderNumber: number,
				Message:     fmt.Sprintf("Não encontrei o pedido #%s.", number),
			}, nil
		}
		if err != nil {
			return nil, err
		}
		if order.TrackingNumber == "" {
			return orderLookup{
				Found:       true,
				OrderNumber: number,
				Message:     fmt.Sprintf("O pedido #%s ainda não possui código de rastreio.", number),
			}, nil
		}
		code = tracking.NormalizeCode(order.TrackingNumber)
	}

	res, err := t.Tracking.Query(ctx, code)
	if err != nil {
		log.Printf("tools: tracking %s: %v", code, err)
		return nil, Fail(CodeTrackingDown, "não foi possível consultar o rastreio agora, tente novamente mais tarde")
	}
	return res, nil
}

// --- Finance escalation ---

type escalateArgs struct {
	Reason       string `json:"reason"`
	Priority     string `json:"priority"`
	Details      string `json:"details"`
	OrderNumber  string `json:"order_number"`
	TrackingCode string `json:"tracking_code"`
}

type caseResult struct {
	CaseID  uint   `json:"case_id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *toolset) encaminharFinanceiro(ctx context.Context, a escalateArgs, tc ThreadContext) (any, error) {
	if !cases.ValidReason(a.Reason) {
		return nil, Fail(CodeInvalidArgs, "motivo deve ser um de: %s", strings.Join(cases.Reasons, ", "))
	}
	if a.Priority != "" && !cases.ValidPriority(a.Priority) {
		return nil, Fail(CodeInvalidArgs, "prioridade deve ser uma de: %s", strings.Join(cases.Priorities, ", "))
	}

	opts := cases.OpenOpts{
		ThreadID:     tc.ThreadID,
		CustomerID:   tc.CustomerID,
		OrderNumber:  normalizeOrderNumber(a.OrderNumber),
		TrackingCode: tracking.NormalizeCode(a.TrackingCode),
		Reason:       a.Reason,
		Priority:     a.Priority,
		Details:      strings.TrimSpace(a.Details),
	}
	id, err := t.escalate(ctx, notify.KindEscalation, opts)
	if err != nil {
		return nil, err
	}
	return caseResult{
		CaseID:  id,
		Status:  "encaminhado",
		Message: "Seu caso foi encaminhado ao setor financeiro, que retornará o contato em breve.",
	}, nil
}

// escalate records a case when a database is configured and notifies the
// finance team. It fails only when neither step succeeds.
func (t *toolset) escalate(ctx context.Context, kind notify.Kind, opts cases.OpenOpts) (uint, error) {
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	var (
		id       uint
		recorded bool
	)
	if t.DB != nil {
		c, err := cases.Open(t.DB.WithContext(ctx), opts)
		if err != nil {
			log.Printf("tools: open case: %v", err)
		} else {
			id, recorded = c.ID, true
		}
	}

	if t.Notifier == nil {
		if !recorded {
			return 0, fmt.Errorf("tools: escalate: no case store or notifier configured")
		}
		return id, nil
	}
	err := t.Notifier.Notify(ctx, caseNotice(kind, id, opts))
	metrics.Notifications.WithLabelValues(string(kind), metrics.Outcome(err)).Inc()
	if err != nil {
		if !recorded {
			return 0, fmt.Errorf("tools: escalate: %w", err)
		}
		log.Printf("tools: notify case %d: %v", id, err)
	}
	return id, nil
}

func caseNotice(kind notify.Kind, id uint, opts cases.OpenOpts) notify.Notice {
	title := "Novo caso financeiro"
	if kind == notify.KindPaymentProof {
		title = "Comprovante de pagamento recebido"
	}
	if id > 0 {
		title = fmt.Sprintf("%s #%d", title, id)
	}
	n := notify.Notice{
		Kind:     kind,
		Title:    title,
		Body:     opts.Details,
		Severity: prioritySeverity(opts.Priority),
		ImageURL: opts.AttachmentURL,
		Fields: []notify.Field{
			{Name: "Cliente", Value: opts.CustomerID, Short: true},
			{Name: "Motivo", Value: opts.Reason, Short: true},
			{Name: "Prioridade", Value: opts.Priority, Short: true},
		},
	}
	if opts.OrderNumber != "" {
		n.Fields = append(n.Fields, notify.Field{Name: "Pedido", Value: "#" + opts.OrderNumber, Short: true})
	}
	if opts.TrackingCode != "" {
		n.Fields = append(n.Fields, notify.Field{Name: "Rastreio", Value: opts.TrackingCode, Short: true})
	}
	return n
}

func prioritySeverity(p string) string {
	switch p {
	case "urgent":
		return "error"
	case "high":
		return "warning"
	default:
		return "info"
	}
}

// --- Payment proof ---

type proofRequestArgs struct {
	OrderNumber string `json:"order_number"`
}

type proofArgs struct {
	ImageURL string `json:"image_url"`
	Notes    string `json:"notes"`
}

type proofResult struct {
	Waiting     bool   `json:"waiting,omitempty"`
	Valid       bool   `json:"valid,omitempty"`
	Processed   bool   `json:"processed,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	CaseID      uint   `json:"case_id,omitempty"`
	Message     string `json:"message"`
}

func (t *toolset) solicitarComprovante(ctx context.Context, a proofRequestArgs, tc ThreadContext) (any, error) {
	number := normalizeOrderNumber(a.OrderNumber)
	if number == "" {
		return nil, Fail(CodeInvalidArgs, "informe o número do pedido")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.Store.Set(gctx, kvstore.PaymentWaitingKey(tc.ThreadID), "1", t.StateTTL)
	})
	g.Go(func() error {
		return t.Store.Set(gctx, kvstore.PaymentOrderKey(tc.ThreadID), number, t.StateTTL)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tools: request proof: %w", err)
	}
	return proofResult{
		Waiting:     true,
		OrderNumber: number,
		Message:     "Envie a foto ou o print do comprovante de pagamento por aqui.",
	}, nil
}

// pendingProof returns the order number of the payment proof in progress.
func (t *toolset) pendingProof(ctx context.Context, threadID string) (string, error) {
	if _, err := t.Store.Get(ctx, kvstore.PaymentWaitingKey(threadID)); err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Printf("tools: read payment flag for %s: %v", threadID, err)
		}
		return "", Fail(CodeProofNotWaiting, "nenhum comprovante foi solicitado; use solicitar_comprovante primeiro")
	}
	number, err := t.Store.Get(ctx, kvstore.PaymentOrderKey(threadID))
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		log.Printf("tools: read payment order for %s: %v", threadID, err)
	}
	return number, nil
}

func validImageURL(u string) bool {
	u = strings.TrimSpace(u)
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

func (t *toolset) validarComprovante(ctx context.Context, a proofArgs, tc ThreadContext) (any, error) {
	number, err := t.pendingProof(ctx, tc.ThreadID)
	if err != nil {
		return nil, err
	}
	if !validImageURL(a.ImageURL) {
		return nil, Fail(CodeMissingImage, "nenhuma imagem de comprovante foi recebida")
	}
	return proofResult{
		Valid:       true,
		OrderNumber: number,
		Message:     "Comprovante recebido. Confirme com o cliente e chame processar_comprovante.",
	}, nil
}

func (t *toolset) processarComprovante(ctx context.Context, a proofArgs, tc ThreadContext) (any, error) {
	number, err := t.pendingProof(ctx, tc.ThreadID)
	if err != nil {
		return nil, err
	}
	if !validImageURL(a.ImageURL) {
		return nil, Fail(CodeMissingImage, "nenhuma imagem de comprovante foi recebida")
	}

	details := "Comprovante de pagamento enviado pelo cliente."
	if notes := strings.TrimSpace(a.Notes); notes != "" {
		details += "\n" + notes
	}
	id, err := t.escalate(ctx, notify.KindPaymentProof, cases.OpenOpts{
		ThreadID:      tc.ThreadID,
		CustomerID:    tc.CustomerID,
		OrderNumber:   number,
		Reason:        "payment_proof",
		Priority:      "high",
		Details:       details,
		AttachmentURL: strings.TrimSpace(a.ImageURL),
	})
	if err != nil {
		return nil, err
	}
	if err := t.clearProof(ctx, tc.ThreadID); err != nil {
		log.Printf("tools: clear payment state for %s: %v", tc.ThreadID, err)
	}
	return proofResult{
		Processed:   true,
		OrderNumber: number,
		CaseID:      id,
		Message:     "Comprovante encaminhado ao financeiro. A confirmação do pagamento é feita em até 1 dia útil.",
	}, nil
}

func (t *toolset) cancelarComprovante(ctx context.Context, _ struct{}, tc ThreadContext) (any, error) {
	if err := t.clearProof(ctx, tc.ThreadID); err != nil {
		return nil, fmt.Errorf("tools: cancel proof: %w", err)
	}
	return proofResult{Cancelled: true, Message: "Envio de comprovante cancelado."}, nil
}

// clearProof deletes both payment-proof keys in parallel.
func (t *toolset) clearProof(ctx context.Context, threadID string) error {
	var g errgroup.Group
	g.Go(func() error { return t.Store.Del(ctx, kvstore.PaymentWaitingKey(threadID)) })
	g.Go(func() error { return t.Store.Del(ctx, kvstore.PaymentOrderKey(threadID)) })
	return g.Wait()
}

// --- helpers ---

func normalizeOrderNumber(s string) string {
	return onlyDigits(s)
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
