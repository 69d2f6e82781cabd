package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/metrics"
	"github.com/lojaortopedic/atendente/internal/notify"
	"github.com/lojaortopedic/atendente/internal/retry"
)

const (
	defaultCacheTTL  = 30 * time.Minute
	defaultNoticeTTL = 24 * time.Hour
	maxEvents        = 5
)

// Result is the customer-safe tracking status. It is what gets cached and
// what tools return, so it never carries customs wording.
type Result struct {
	Code       string    `json:"code"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	Delivered  bool      `json:"delivered"`
	Pending    bool      `json:"pending,omitempty"` // registered, no carrier data yet
	LastUpdate time.Time `json:"last_update,omitzero"`
	Events     []Event   `json:"events,omitempty"`
	Cached     bool      `json:"-"`
}

// Client serves tracking lookups from a cache in front of a Provider and
// forwards customs holds to the finance team.
type Client struct {
	provider  Provider
	cache     kvstore.Store
	notifier  notify.Notifier
	sanitizer *Sanitizer
	cacheTTL  time.Duration
	noticeTTL time.Duration
	policy    retry.Policy
	now       func() time.Time
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Provider  Provider
	Cache     kvstore.Store
	Notifier  notify.Notifier // optional; customs holds are only logged without it
	Sanitizer *Sanitizer
	CacheTTL  time.Duration
	NoticeTTL time.Duration
	Retry     *retry.Policy // defaults to retry.Default
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("tracking: provider is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("tracking: cache is required")
	}
	c := &Client{
		provider:  opts.Provider,
		cache:     opts.Cache,
		notifier:  opts.Notifier,
		sanitizer: opts.Sanitizer,
		cacheTTL:  opts.CacheTTL,
		noticeTTL: opts.NoticeTTL,
		policy:    retry.Default,
		now:       time.Now,
	}
	if c.sanitizer == nil {
		c.sanitizer = NewSanitizer(nil, nil, "")
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = defaultCacheTTL
	}
	if c.noticeTTL <= 0 {
		c.noticeTTL = defaultNoticeTTL
	}
	if opts.Retry != nil {
		c.policy = *opts.Retry
	}
	c.policy.Name = "tracking"
	return c, nil
}

// NormalizeCode upper-cases a tracking code and strips whitespace.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

// Query returns the sanitized status for code. Unknown codes are registered
// with the provider and queried again.
func (c *Client) Query(ctx context.Context, code string) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("tracking: code is required")
	}

	var cached Result
	err := kvstore.GetJSON(ctx, c.cache, kvstore.TrackingKey(code), &cached)
	if err == nil {
		metrics.TrackingCache.WithLabelValues("hit").Inc()
		cached.Cached = true
		return &cached, nil
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		log.Printf("tracking: cache read %s: %v", code, err)
	}
	metrics.TrackingCache.WithLabelValues("miss").Inc()

	info, err := c.fetch(ctx, code)
	if errors.Is(err, ErrNotTracked) {
		return &Result{Code: code, Status: StatusLabel(StatusNotFound), Pending: true}, nil
	}
	if err != nil {
		return nil, err
	}

	res, flagged := c.sanitize(info)
	if flagged {
		c.notifyCustoms(ctx, info)
	}
	if err := kvstore.SetJSON(ctx, c.cache, kvstore.TrackingKey(code), res, c.cacheTTL); err != nil {
		log.Printf("tracking: cache write %s: %v", code, err)
	}
	return res, nil
}

// fetch queries the provider, registering the code first when it is unknown.
func (c *Client) fetch(ctx context.Context, code string) (*Info, error) {
	query := func(ctx context.Context) (*Info, error) {
		info, err := c.provider.Query(ctx, code)
		if errors.Is(err, ErrNotTracked) {
			return nil, retry.Permanent(err)
		}
		return info, err
	}

	info, err := retry.DoValue(ctx, c.policy, query)
	if !errors.Is(err, ErrNotTracked) {
		return info, err
	}

	log.Printf("tracking: registering %s", code)
	if err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.provider.Register(ctx, code)
	}); err != nil {
		return nil, fmt.Errorf("tracking: register %s: %w", code, err)
	}
	return retry.DoValue(ctx, c.policy, query)
}

// sanitize builds the customer-facing Result from raw provider data.
func (c *Client) sanitize(info *Info) (*Result, bool) {
	flagged := c.sanitizer.Flagged(info)

	res := &Result{
		Code:      info.Code,
		Status:    StatusLabel(info.Status),
		Delivered: info.Status == StatusDelivered,
	}
	if res.Code == "" {
		res.Code = NormalizeCode(info.Code)
	}
	if flagged {
		res.Status = c.sanitizer.Replacement()
	}
	res.Location, _ = c.sanitizer.Clean(info.Location)

	for i, e := range info.Events {
		if i == maxEvents {
			break
		}
		desc, _ := c.sanitizer.CleanEvent(e.Description)
		loc, _ := c.sanitizer.Clean(e.Location)
		res.Events = append(res.Events, Event{Time: e.Time, Description: desc, Location: loc})
	}
	if len(info.Events) > 0 {
		res.LastUpdate = info.Events[0].Time
	}
	if len(res.Events) == 0 && info.LatestEvent != "" {
		desc, _ := c.sanitizer.CleanEvent(info.LatestEvent)
		res.Events = []Event{{Description: desc, Location: res.Location}}
	}
	return res, flagged
}

// notifyCustoms tells finance about a customs hold at most once per
// noticeTTL per code. The marker is removed when delivery fails so a later
// query can try again.
func (c *Client) notifyCustoms(ctx context.Context, info *Info) {
	if c.notifier == nil {
		log.Printf("tracking: customs hold on %s (no notifier configured)", info.Code)
		return
	}
	key := kvstore.TrackingNoticeKey(info.Code)
	first, err := c.cache.SetNX(ctx, key, c.now().UTC().Format(time.RFC3339), c.noticeTTL)
	if err != nil {
		log.Printf("tracking: notice marker %s: %v", info.Code, err)
		return
	}
	if !first {
		return
	}

	err = c.notifier.Notify(ctx, customsNotice(info, c.sanitizer.Replacement()))
	metrics.Notifications.WithLabelValues(string(notify.KindTaxation), metrics.Outcome(err)).Inc()
	if err != nil {
		log.Printf("tracking: notify customs hold %s: %v", info.Code, err)
		if delErr := c.cache.Del(ctx, key); delErr != nil {
			log.Printf("tracking: clear notice marker %s: %v", info.Code, delErr)
		}
	}
}

func customsNotice(info *Info, replacement string) notify.Notice {
	status := info.Status
	if info.SubStatus != "" {
		status = info.SubStatus
	}
	n := notify.Notice{
		Kind:     notify.KindTaxation,
		Title:    "Pacote retido na alfândega",
		Body:     fmt.Sprintf("O pacote %s está com pendência alfandegária. O cliente vê apenas %q.", info.Code, replacement),
		Severity: "warning",
		Fields: []notify.Field{
			{Name: "Rastreio", Value: info.Code, Short: true},
			{Name: "Status", Value: status, Short: true},
		},
	}
	if info.LatestEvent != "" {
		n.Fields = append(n.Fields, notify.Field{Name: "Último evento", Value: info.LatestEvent})
	} else if len(info.Events) > 0 {
		n.Fields = append(n.Fields, notify.Field{Name: "Último evento", Value: info.Events[0].Description})
	}
	return n
}

// Packages lists every package the provider is tracking, with raw status.
// It is meant for internal reports only.
func (c *Client) Packages(ctx context.Context) ([]Info, error) {
	return retry.DoValue(ctx, c.policy, c.provider.List)
}

// Sanitizer returns the client's sanitizer.
func (c *Client) Sanitizer() *Sanitizer { return c.sanitizer }
