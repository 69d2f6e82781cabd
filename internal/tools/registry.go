// Package tools maps the functions the assistant may call to typed
// executors. Every execution yields a JSON string for the tool output;
// failures are reported as structured error objects, never as raw errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/lojaortopedic/atendente/internal/assistant"
	"github.com/lojaortopedic/atendente/internal/metrics"
)

// Name identifies a tool.
type Name string

const (
	ConsultarPedido      Name = "consultar_pedido"
	VerificarIdentidade  Name = "verificar_identidade"
	RastrearPedido       Name = "rastrear_pedido"
	EncaminharFinanceiro Name = "encaminhar_financeiro"
	SolicitarComprovante Name = "solicitar_comprovante"
	ValidarComprovante   Name = "validar_comprovante"
	ProcessarComprovante Name = "processar_comprovante"
	CancelarComprovante  Name = "cancelar_comprovante"
)

// Error codes reported in tool outputs.
const (
	CodeUnsupported     = "unsupported_tool"
	CodeInvalidArgs     = "invalid_arguments"
	CodeFailed          = "tool_failed"
	CodeNoPendingOrder  = "no_pending_order"
	CodeProofNotWaiting = "proof_not_requested"
	CodeMissingImage    = "missing_image"
	CodeTrackingDown    = "tracking_unavailable"
)

// ThreadContext identifies the conversation a tool call belongs to.
type ThreadContext struct {
	ThreadID   string
	CustomerID string
}

// Error is a failure whose message is safe to show the assistant.
// Executors return it for expected business outcomes.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Fail builds an *Error.
func Fail(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type errorOutput struct {
	Error *Error `json:"error"`
}

type executor func(ctx context.Context, raw json.RawMessage, tc ThreadContext) (any, error)

type entry struct {
	spec assistant.ToolSpec
	run  executor
}

// Registry is the dispatch table from tool name to executor. It is
// populated at startup and read-only afterwards, so Execute may be called
// concurrently.
type Registry struct {
	entries map[Name]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Name]entry)}
}

// Register adds a tool whose arguments decode into A. params is the JSON
// schema advertised to the backend.
func Register[A any](r *Registry, name Name, description string, params map[string]any, fn func(ctx context.Context, args A, tc ThreadContext) (any, error)) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	r.entries[name] = entry{
		spec: assistant.ToolSpec{Name: string(name), Description: description, Parameters: params},
		run: func(ctx context.Context, raw json.RawMessage, tc ThreadContext) (any, error) {
			var args A
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, Fail(CodeInvalidArgs, "argumentos inválidos para %s", name)
				}
			}
			return fn(ctx, args, tc)
		},
	}
}

// Specs returns the tool descriptions in name order.
func (r *Registry) Specs() []assistant.ToolSpec {
	names := r.Names()
	specs := make([]assistant.ToolSpec, len(names))
	for i, n := range names {
		specs[i] = r.entries[n].spec
	}
	return specs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Execute runs one tool call and returns its JSON output. It never fails:
// unknown tools, bad arguments, executor errors and panics all become
// error objects.
func (r *Registry) Execute(ctx context.Context, call assistant.ToolCall, tc ThreadContext) (out string) {
	name := Name(call.Name)
	e, ok := r.entries[name]
	if !ok {
		log.Printf("tools: unsupported tool %q (thread %s)", call.Name, tc.ThreadID)
		metrics.ToolCalls.WithLabelValues("unknown", "unsupported").Inc()
		return encodeError(Fail(CodeUnsupported, "ferramenta %s não suportada", call.Name))
	}

	defer func() {
		if p := recover(); p != nil {
			log.Printf("tools: %s: panic: %v", name, p)
			metrics.ToolCalls.WithLabelValues(string(name), "error").Inc()
			out = encodeError(Fail(CodeFailed, "não foi possível concluir a operação"))
		}
	}()

	result, err := e.run(ctx, json.RawMessage(call.Arguments), tc)
	metrics.ToolCalls.WithLabelValues(string(name), metrics.Outcome(err)).Inc()
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			return encodeError(te)
		}
		log.Printf("tools: %s (thread %s): %v", name, tc.ThreadID, err)
		return encodeError(Fail(CodeFailed, "não foi possível concluir a operação"))
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("tools: %s: encode result: %v", name, err)
		return encodeError(Fail(CodeFailed, "não foi possível concluir a operação"))
	}
	return string(data)
}

func encodeError(e *Error) string {
	data, err := json.Marshal(errorOutput{Error: e})
	if err != nil {
		return `{"error":{"code":"tool_failed"}}`
	}
	return string(data)
}
