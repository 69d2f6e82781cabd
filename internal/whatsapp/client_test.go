package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lojaortopedic/atendente/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}

type recorded struct {
	Path  string
	Query string
	Auth  string
	Body  map[string]string
}

type stub struct {
	mu       sync.Mutex
	requests []recorded
	fail     int32 // respond 503 this many times first
	status   int
	body     string
}

func (s *stub) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.requests = append(s.requests, recorded{
		Path:  r.URL.Path,
		Query: r.URL.RawQuery,
		Auth:  r.Header.Get("Authorization"),
		Body:  body,
	})
	s.mu.Unlock()

	if atomic.AddInt32(&s.fail, -1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	if s.body != "" {
		w.Write([]byte(s.body))
		return
	}
	w.Write([]byte(`{"error":false,"messageId":"wamid.1"}`))
}

func (s *stub) all() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.requests...)
}

func newTestClient(t *testing.T, s *stub) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientOpts{
		BaseURL:       srv.URL,
		Token:         "tok",
		ConnectionKey: "conn-1",
		MessageDelay:  -1,
		Retry:         &fastRetry,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientOpts{ConnectionKey: "k"}); err == nil || !strings.Contains(err.Error(), "token is required") {
		t.Errorf("err = %v, want token is required", err)
	}
	if _, err := NewClient(ClientOpts{Token: "t"}); err == nil || !strings.Contains(err.Error(), "connection key is required") {
		t.Errorf("err = %v, want connection key is required", err)
	}
	c, err := NewClient(ClientOpts{Token: "t", ConnectionKey: "k"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, defaultBaseURL)
	}
	if c.delay != defaultDelay {
		t.Errorf("delay = %v, want %v", c.delay, defaultDelay)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5511999990000", "5511999990000"},
		{"(11) 99999-0000", "5511999990000"},
		{"+55 11 99999-0000", "5511999990000"},
		{"5511999990000@s.whatsapp.net", "5511999990000"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSendText(t *testing.T) {
	s := &stub{}
	c := newTestClient(t, s)

	if err := c.SendText(context.Background(), "11 99999-0000", "Olá!"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	reqs := s.all()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	r := reqs[0]
	if r.Path != "/message/send-text" {
		t.Errorf("path = %q, want /message/send-text", r.Path)
	}
	if r.Query != "connectionKey=conn-1" {
		t.Errorf("query = %q, want connectionKey=conn-1", r.Query)
	}
	if r.Auth != "Bearer tok" {
		t.Errorf("auth = %q, want Bearer tok", r.Auth)
	}
	if r.Body["phoneNumber"] != "5511999990000" {
		t.Errorf("phoneNumber = %q, want 5511999990000", r.Body["phoneNumber"])
	}
	if r.Body["text"] != "Olá!" {
		t.Errorf("text = %q, want Olá!", r.Body["text"])
	}
}

func TestSendText_InvalidRecipient(t *testing.T) {
	s := &stub{}
	c := newTestClient(t, s)
	if err := c.SendText(context.Background(), "n/a", "x"); err == nil {
		t.Fatal("expected error for invalid recipient")
	}
	if len(s.all()) != 0 {
		t.Error("no request should be sent for an invalid recipient")
	}
}

func TestSendText_Chunks(t *testing.T) {
	s := &stub{}
	c := newTestClient(t, s)

	long := strings.Repeat("palavra ", maxChunk/4)
	if err := c.SendText(context.Background(), "5511999990000", long); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	reqs := s.all()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	var joined []string
	for _, r := range reqs {
		if len(r.Body["text"]) > maxChunk {
			t.Errorf("chunk length = %d, want <= %d", len(r.Body["text"]), maxChunk)
		}
		joined = append(joined, r.Body["text"])
	}
	if got := strings.Join(joined, " "); got != strings.TrimSpace(long) {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestSend_RetriesTransient(t *testing.T) {
	s := &stub{fail: 2}
	c := newTestClient(t, s)
	if err := c.SendText(context.Background(), "5511999990000", "oi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if n := len(s.all()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	s := &stub{status: http.StatusUnauthorized, body: `{"message":"invalid token"}`}
	c := newTestClient(t, s)
	err := c.SendText(context.Background(), "5511999990000", "oi")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := len(s.all()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
	if strings.Contains(err.Error(), "5511999990000") {
		t.Errorf("error leaks the full phone number: %v", err)
	}
}

func TestSend_APIErrorFlag(t *testing.T) {
	s := &stub{body: `{"error":true,"message":"instance disconnected"}`}
	c := newTestClient(t, s)
	err := c.SendText(context.Background(), "5511999990000", "oi")
	if err == nil || !strings.Contains(err.Error(), "instance disconnected") {
		t.Fatalf("err = %v, want api error", err)
	}
	if n := len(s.all()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestSendImageAndDocument(t *testing.T) {
	s := &stub{}
	c := newTestClient(t, s)
	ctx := context.Background()

	if err := c.SendImage(ctx, "5511999990000", "https://cdn/x.jpg", "Comprovante"); err != nil {
		t.Fatalf("SendImage: %v", err)
	}
	if err := c.SendDocument(ctx, "5511999990000", "https://cdn/nf.pdf", "nota.pdf"); err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	reqs := s.all()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].Path != "/message/send-image" || reqs[0].Body["image"] != "https://cdn/x.jpg" || reqs[0].Body["caption"] != "Comprovante" {
		t.Errorf("image request = %+v", reqs[0])
	}
	if reqs[1].Path != "/message/send-document" || reqs[1].Body["document"] != "https://cdn/nf.pdf" || reqs[1].Body["fileName"] != "nota.pdf" {
		t.Errorf("document request = %+v", reqs[1])
	}
}

func TestSend_PacesPerRecipient(t *testing.T) {
	s := &stub{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()
	c, err := NewClient(ClientOpts{BaseURL: srv.URL, Token: "t", ConnectionKey: "k", MessageDelay: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.SendText(context.Background(), "5511999990000", "oi"); err != nil {
			t.Fatalf("SendText: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 sends took %v, want >= 100ms of pacing", elapsed)
	}

	// Another recipient has its own budget.
	start = time.Now()
	if err := c.SendText(context.Background(), "5511888880000", "oi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("first send to a new recipient took %v, want no wait", elapsed)
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"empty", "   ", 10, nil},
		{"short", "oi", 10, []string{"oi"}},
		{"paragraphs", "aaaaaa\n\nbbbbbb", 10, []string{"aaaaaa", "bbbbbb"}},
		{"spaces", "aaaa bbbb cccc", 10, []string{"aaaa bbbb", "cccc"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"multibyte", "ééééé", 3, []string{"é", "é", "é", "é", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.max)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Chunk = %q, want %q", got, tt.want)
			}
		})
	}
}
