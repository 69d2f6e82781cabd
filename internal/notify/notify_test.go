package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"success", ColorSuccess},
		{"info", ColorInfo},
		{"warning", ColorWarning},
		{"error", ColorError},
		{"", ColorInfo},
		{"unknown", ColorInfo},
	}
	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			if got := SeverityColor(tt.severity); got != tt.want {
				t.Errorf("SeverityColor(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestNotice_Color(t *testing.T) {
	n := Notice{Severity: "warning"}
	if n.Color() != ColorWarning {
		t.Errorf("Color() = %q, want %q", n.Color(), ColorWarning)
	}
}

func TestPlainText(t *testing.T) {
	n := Notice{
		Title: "Taxa alfandegaria",
		Body:  "Pedido aguardando pagamento.",
		Fields: []Field{
			{Name: "Pedido", Value: "1234"},
			{Name: "Rastreio", Value: "LB123BR"},
		},
		ImageURL: "https://cdn.example/p.jpg",
	}
	got := PlainText(n)
	want := "*Taxa alfandegaria*\nPedido aguardando pagamento.\n\nPedido: 1234\nRastreio: LB123BR\n\nhttps://cdn.example/p.jpg"
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainText_TitleOnly(t *testing.T) {
	if got := PlainText(Notice{Title: "Oi"}); got != "*Oi*" {
		t.Errorf("PlainText = %q, want %q", got, "*Oi*")
	}
}

func TestMulti_AllSucceed(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, b}
	if err := m.Notify(context.Background(), Notice{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if a.Count() != 1 || b.Count() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", a.Count(), b.Count())
	}
}

func TestMulti_PartialFailure(t *testing.T) {
	ok, bad := NewRecorder(), NewRecorder()
	bad.SetErr(errors.New("boom"))
	if err := (Multi{bad, ok}).Notify(context.Background(), Notice{}); err != nil {
		t.Errorf("Notify = %v, want nil when one notifier succeeds", err)
	}
	if ok.Count() != 1 {
		t.Errorf("ok.Count() = %d, want 1", ok.Count())
	}
}

func TestMulti_AllFail(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.SetErr(errors.New("slack down"))
	b.SetErr(errors.New("discord down"))
	err := (Multi{a, b}).Notify(context.Background(), Notice{})
	if err == nil {
		t.Fatal("expected error when every notifier fails")
	}
	for _, want := range []string{"slack down", "discord down"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to contain %q", err.Error(), want)
		}
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Notify(context.Background(), Notice{}); err == nil {
		t.Fatal("expected error for empty Multi")
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &Writer{Out: &buf}
	if err := w.Notify(context.Background(), Notice{Kind: KindEscalation, Title: "Reembolso"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := buf.String(); got != "[escalation] *Reembolso*\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRecorder_ByKind(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.Notify(ctx, Notice{Kind: KindTaxation})
	r.Notify(ctx, Notice{Kind: KindSummary})
	r.Notify(ctx, Notice{Kind: KindTaxation})

	if got := len(r.ByKind(KindTaxation)); got != 2 {
		t.Errorf("ByKind(taxation) = %d, want 2", got)
	}
	if r.Last().Kind != KindTaxation {
		t.Errorf("Last().Kind = %q, want taxation", r.Last().Kind)
	}
	if len(r.All()) != 3 {
		t.Errorf("All() = %d, want 3", len(r.All()))
	}
}

func TestRecorder_LastEmpty(t *testing.T) {
	if NewRecorder().Last() != nil {
		t.Error("Last() on empty recorder should be nil")
	}
}
