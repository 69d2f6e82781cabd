// Package whatsapp sends and receives WhatsApp messages through W-API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/lojaortopedic/atendente/internal/retry"
)

const (
	defaultBaseURL = "https://api.w-api.app/v1"
	defaultDelay   = time.Second
	// maxChunk keeps each message readable on a phone screen.
	maxChunk = 4000
)

// Client is a W-API client. It implements attendant.Gateway.
type Client struct {
	baseURL       string
	token         string
	connectionKey string
	delay         time.Duration
	http          *http.Client
	policy        retry.Policy

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL       string
	Token         string
	ConnectionKey string
	MessageDelay  time.Duration // spacing between messages to one recipient; negative disables
	HTTPClient    *http.Client
	Retry         *retry.Policy // defaults to retry.Default
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("whatsapp: token is required")
	}
	if opts.ConnectionKey == "" {
		return nil, fmt.Errorf("whatsapp: connection key is required")
	}
	c := &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		connectionKey: opts.ConnectionKey,
		delay:         opts.MessageDelay,
		http:          opts.HTTPClient,
		policy:        retry.Default,
		limiters:      make(map[string]*rate.Limiter),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	switch {
	case c.delay == 0:
		c.delay = defaultDelay
	case c.delay < 0:
		c.delay = 0
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.Retry != nil {
		c.policy = *opts.Retry
	}
	c.policy.Name = "whatsapp"
	return c, nil
}

// NormalizePhone strips everything but digits and adds the Brazilian
// country code when it is missing.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if d == "" {
		return ""
	}
	if !strings.HasPrefix(d, "55") {
		d = "55" + d
	}
	return d
}

// SendText sends text to recipient, split into several messages when long.
func (c *Client) SendText(ctx context.Context, recipient, text string) error {
	phone := NormalizePhone(recipient)
	if phone == "" {
		return fmt.Errorf("whatsapp: invalid recipient %q", recipient)
	}
	for _, chunk := range Chunk(text, maxChunk) {
		err := c.send(ctx, phone, "send-text", map[string]string{
			"phoneNumber":  phone,
			"text":         chunk,
			"delayMessage": c.delaySeconds(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendImage sends an image by URL.
func (c *Client) SendImage(ctx context.Context, recipient, imageURL, caption string) error {
	phone := NormalizePhone(recipient)
	if phone == "" {
		return fmt.Errorf("whatsapp: invalid recipient %q", recipient)
	}
	return c.send(ctx, phone, "send-image", map[string]string{
		"phoneNumber":  phone,
		"image":        imageURL,
		"caption":      caption,
		"delayMessage": c.delaySeconds(),
	})
}

// SendDocument sends a document by URL.
func (c *Client) SendDocument(ctx context.Context, recipient, documentURL, fileName string) error {
	phone := NormalizePhone(recipient)
	if phone == "" {
		return fmt.Errorf("whatsapp: invalid recipient %q", recipient)
	}
	return c.send(ctx, phone, "send-document", map[string]string{
		"phoneNumber":  phone,
		"document":     documentURL,
		"fileName":     fileName,
		"delayMessage": c.delaySeconds(),
	})
}

func (c *Client) delaySeconds() string {
	return fmt.Sprint(int(c.delay / time.Second))
}

// limiter returns the pacing limiter for one recipient.
func (c *Client) limiter(phone string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[phone]
	if !ok {
		limit := rate.Inf
		if c.delay > 0 {
			limit = rate.Every(c.delay)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[phone] = l
	}
	return l
}

type sendResponse struct {
	Error     bool   `json:"error"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

func (c *Client) send(ctx context.Context, phone, endpoint string, payload map[string]string) error {
	if err := c.limiter(phone).Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp: %s: %w", endpoint, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: encode %s: %w", endpoint, err)
	}
	target := fmt.Sprintf("%s/message/%s?connectionKey=%s", c.baseURL, endpoint, url.QueryEscape(c.connectionKey))

	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return retry.Classify(&retry.StatusError{Service: "w-api", Code: resp.StatusCode, Body: string(data)})
		}
		var out sendResponse
		if len(data) > 0 {
			if err := json.Unmarshal(data, &out); err != nil {
				return retry.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		if out.Error {
			return retry.Permanent(fmt.Errorf("api error: %s", out.Message))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("whatsapp: %s to %s: %w", endpoint, maskPhone(phone), err)
	}
	return nil
}

// maskPhone hides all but the last four digits for logs.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// Chunk splits text into pieces of at most max bytes, preferring paragraph
// breaks, then line breaks, then spaces.
func Chunk(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > max {
		cut := bestCut(text[:max])
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func bestCut(window string) int {
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i > len(window)/2 {
			return i
		}
	}
	// No natural break: cut before a truncated rune.
	i := len(window) - 1
	for i > 0 && !utf8.RuneStart(window[i]) {
		i--
	}
	if r, _ := utf8.DecodeRuneInString(window[i:]); r == utf8.RuneError && i > 0 {
		return i
	}
	return len(window)
}
