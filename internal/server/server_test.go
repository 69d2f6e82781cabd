package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lojaortopedic/atendente/internal/attendant"
	"github.com/lojaortopedic/atendente/internal/cases"
	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/models"
	"github.com/lojaortopedic/atendente/internal/tracking"
)

const adminToken = "admin-secret"

type fakeInbox struct {
	mu   sync.Mutex
	msgs []attendant.InboundMessage
	err  error
}

func (f *fakeInbox) Submit(msg attendant.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeResetter struct {
	customers []string
	err       error
}

func (f *fakeResetter) Reset(_ context.Context, customerID string) (string, error) {
	f.customers = append(f.customers, customerID)
	if f.err != nil {
		return "", f.err
	}
	return "thread_new", nil
}

type fakeTracker struct{}

func (fakeTracker) Query(_ context.Context, code string) (*tracking.Result, error) {
	if code == "FAIL" {
		return nil, errors.New("tracking: 17track: 503")
	}
	return &tracking.Result{Code: code, Status: "Em trânsito"}, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.FinanceCase{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testServer struct {
	router   *gin.Engine
	inbox    *fakeInbox
	resetter *fakeResetter
	chat     *attendant.ChatLog
	db       *gorm.DB
}

func newTestServer(t *testing.T, mutate func(*Opts)) *testServer {
	t.Helper()
	store, err := kvstore.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	chat, err := attendant.NewChatLog(attendant.ChatLogOpts{Store: store})
	if err != nil {
		t.Fatal(err)
	}

	ts := &testServer{
		inbox:    &fakeInbox{},
		resetter: &fakeResetter{},
		chat:     chat,
		db:       openTestDB(t),
	}
	opts := Opts{
		Inbox:      ts.inbox,
		Resetter:   ts.resetter,
		ChatLog:    chat,
		Tracking:   fakeTracker{},
		DB:         ts.db,
		AdminToken: adminToken,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts.router, err = NewHandler(opts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return ts
}

func (ts *testServer) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) admin(method, path, body string) *httptest.ResponseRecorder {
	return ts.do(method, path, body, map[string]string{"Authorization": "Bearer " + adminToken})
}

func TestNewHandler_RequiresInbox(t *testing.T) {
	_, err := NewHandler(Opts{})
	if err == nil {
		t.Fatal("expected error for nil inbox")
	}
	if !strings.Contains(err.Error(), "inbox is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "inbox is required")
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}

func TestWebhook_Accepts(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodPost, "/webhook/inbound",
		`{"phone":"(11) 99999-0000","name":"Maria","text":"Oi","message_id":"wamid.1"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", w.Code, w.Body.String())
	}
	if len(ts.inbox.msgs) != 1 {
		t.Fatalf("submitted = %d, want 1", len(ts.inbox.msgs))
	}
	msg := ts.inbox.msgs[0]
	if msg.CustomerID != "5511999990000" {
		t.Errorf("CustomerID = %q, want 5511999990000", msg.CustomerID)
	}
	if msg.Text != "Oi" || msg.UserName != "Maria" || msg.MessageID != "wamid.1" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp not defaulted")
	}
}

func TestWebhook_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"no phone", `{"text":"Oi"}`, http.StatusBadRequest},
		{"no content", `{"phone":"5511999990000","text":"  "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			w := ts.do(http.MethodPost, "/webhook/inbound", tt.body, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(ts.inbox.msgs) != 0 {
				t.Error("invalid request was submitted")
			}
		})
	}
}

func TestWebhook_ImageOnly(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodPost, "/webhook/inbound",
		`{"phone":"5511999990000","image_url":"https://cdn.example.com/p.jpg"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if ts.inbox.msgs[0].ImageURL != "https://cdn.example.com/p.jpg" {
		t.Errorf("ImageURL = %q", ts.inbox.msgs[0].ImageURL)
	}
}

func TestWebhook_InboxFull(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.inbox.err = attendant.ErrInboxFull
	w := ts.do(http.MethodPost, "/webhook/inbound", `{"phone":"5511999990000","text":"Oi"}`, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestWebhook_Token(t *testing.T) {
	ts := newTestServer(t, func(o *Opts) { o.WebhookToken = "hook" })
	body := `{"phone":"5511999990000","text":"Oi"}`

	if w := ts.do(http.MethodPost, "/webhook/inbound", body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", w.Code)
	}
	if w := ts.do(http.MethodPost, "/webhook/inbound", body, map[string]string{"X-Webhook-Token": "hook"}); w.Code != http.StatusAccepted {
		t.Errorf("with token: status = %d, want 202", w.Code)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodPost, "/admin/customers/5511999990000/reset", "", map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(ts.resetter.customers) != 0 {
		t.Error("reset ran without authorization")
	}
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, func(o *Opts) { o.AdminToken = "" })
	w := ts.do(http.MethodGet, "/admin/cases", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAdmin_Reset(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.admin(http.MethodPost, "/admin/customers/11999990000/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if len(ts.resetter.customers) != 1 || ts.resetter.customers[0] != "5511999990000" {
		t.Errorf("reset customers = %v", ts.resetter.customers)
	}
	if !strings.Contains(w.Body.String(), "thread_new") {
		t.Errorf("body = %q, want new thread id", w.Body.String())
	}

	ts.resetter.err = errors.New("openai: 500")
	if w := ts.admin(http.MethodPost, "/admin/customers/5511999990000/reset", ""); w.Code != http.StatusBadGateway {
		t.Errorf("failing reset: status = %d, want 502", w.Code)
	}
}

func TestAdmin_History(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	ts.chat.Append(ctx, "5511999990000", "thread_1", "user", "Oi")
	ts.chat.Append(ctx, "5511999990000", "thread_1", "assistant", "Olá!")

	w := ts.admin(http.MethodGet, "/admin/customers/5511999990000/history?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Entries []attendant.ChatEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Text != "Olá!" {
		t.Errorf("entries = %+v, want the newest entry", resp.Entries)
	}
}

func TestAdmin_Tracking(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.admin(http.MethodGet, "/admin/tracking/BR123456789BR", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "BR123456789BR") {
		t.Errorf("body = %q", w.Body.String())
	}
	if w := ts.admin(http.MethodGet, "/admin/tracking/FAIL", ""); w.Code != http.StatusBadGateway {
		t.Errorf("failing lookup: status = %d, want 502", w.Code)
	}
}

func TestAdmin_NotConfigured(t *testing.T) {
	ts := newTestServer(t, func(o *Opts) {
		o.Tracking = nil
		o.DB = nil
	})
	if w := ts.admin(http.MethodGet, "/admin/tracking/BR1", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("tracking: status = %d, want 501", w.Code)
	}
	if w := ts.admin(http.MethodGet, "/admin/cases", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("cases: status = %d, want 501", w.Code)
	}
}

func TestAdmin_Cases(t *testing.T) {
	ts := newTestServer(t, nil)
	opened, err := cases.Open(ts.db, cases.OpenOpts{CustomerID: "5511999990000", Reason: "refund", Details: "estorno"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cases.Open(ts.db, cases.OpenOpts{CustomerID: "5511888880000", Reason: "taxation"}); err != nil {
		t.Fatal(err)
	}

	w := ts.admin(http.MethodGet, "/admin/cases?customer=5511999990000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Cases []models.FinanceCase `json:"cases"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Cases) != 1 || resp.Cases[0].ID != opened.ID {
		t.Fatalf("cases = %+v, want only case %d", resp.Cases, opened.ID)
	}

	path := "/admin/cases/" + strconv.FormatUint(uint64(opened.ID), 10) + "/ack"
	if w := ts.admin(http.MethodPost, path, `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("ack without by: status = %d, want 400", w.Code)
	}
	if w := ts.admin(http.MethodPost, path, `{"by":"ana"}`); w.Code != http.StatusNoContent {
		t.Errorf("ack: status = %d, want 204", w.Code)
	}
	if w := ts.admin(http.MethodPost, path, `{"by":"ana"}`); w.Code != http.StatusNotFound {
		t.Errorf("second ack: status = %d, want 404", w.Code)
	}
	if w := ts.admin(http.MethodPost, "/admin/cases/abc/ack", `{"by":"ana"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", w.Code)
	}

	got, err := cases.Get(ts.db, opened.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != cases.StatusAcknowledged || got.AcknowledgedBy != "ana" {
		t.Errorf("case = %+v, want acknowledged by ana", got)
	}
}
