// Package nuvemshop looks up store orders through the Nuvemshop REST API.
package nuvemshop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/retry"
)

// ErrOrderNotFound is returned when no order carries the requested number.
var ErrOrderNotFound = errors.New("nuvemshop: order not found")

const (
	defaultBaseURL   = "https://api.nuvemshop.com.br/v1"
	defaultUserAgent = "atendente (suporte@lojaortopedic.com.br)"
	defaultCacheTTL  = 10 * time.Minute
	orderFields      = "id,number,status,total,currency,created_at,customer,products,shipping_tracking_number,shipping_tracking_url,shipping_status,payment_status"
)

// OrderFinder looks up an order by its public number.
type OrderFinder interface {
	FindOrder(ctx context.Context, number string) (*Order, error)
}

// Client is a Nuvemshop API client with a KV read-through cache.
type Client struct {
	baseURL     string
	storeID     string
	accessToken string
	userAgent   string
	http        *http.Client
	cache       kvstore.Store
	cacheTTL    time.Duration
	policy      retry.Policy
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL     string
	StoreID     string
	AccessToken string
	UserAgent   string
	HTTPClient  *http.Client
	Cache       kvstore.Store // optional
	CacheTTL    time.Duration
	Retry       *retry.Policy // defaults to retry.Default
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.StoreID == "" {
		return nil, fmt.Errorf("nuvemshop: store id is required")
	}
	if opts.AccessToken == "" {
		return nil, fmt.Errorf("nuvemshop: access token is required")
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		storeID:     opts.StoreID,
		accessToken: opts.AccessToken,
		userAgent:   opts.UserAgent,
		http:        opts.HTTPClient,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		policy:      retry.Default,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = defaultCacheTTL
	}
	if opts.Retry != nil {
		c.policy = *opts.Retry
	}
	c.policy.Name = "nuvemshop"
	return c, nil
}

// FindOrder returns the order whose number equals number exactly. Cached
// orders are served without an API call; cache failures fall through to
// the API.
func (c *Client) FindOrder(ctx context.Context, number string) (*Order, error) {
	number = strings.TrimPrefix(strings.TrimSpace(number), "#")
	if number == "" {
		return nil, fmt.Errorf("nuvemshop: order number is required")
	}

	if c.cache != nil {
		var cached Order
		err := kvstore.GetJSON(ctx, c.cache, kvstore.OrderCacheKey(number), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Printf("nuvemshop: cache read %s: %v", number, err)
		}
	}

	orders, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) ([]Order, error) {
		return c.searchOrders(ctx, number)
	})
	if err != nil {
		return nil, err
	}

	for i := range orders {
		if fmt.Sprint(orders[i].Number) != number {
			continue
		}
		o := orders[i]
		if c.cache != nil {
			if err := kvstore.SetJSON(ctx, c.cache, kvstore.OrderCacheKey(number), o, c.cacheTTL); err != nil {
				log.Printf("nuvemshop: cache write %s: %v", number, err)
			}
		}
		return &o, nil
	}
	return nil, ErrOrderNotFound
}

func (c *Client) searchOrders(ctx context.Context, number string) ([]Order, error) {
	q := url.Values{}
	q.Set("q", number)
	q.Set("fields", orderFields)
	q.Set("per_page", "5")
	endpoint := fmt.Sprintf("%s/%s/orders?%s", c.baseURL, url.PathEscape(c.storeID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("nuvemshop: build request: %w", err))
	}
	req.Header.Set("Authentication", "bearer "+c.accessToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nuvemshop: search orders: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("nuvemshop: read response: %w", err)
	}

	// The search endpoint answers 404 when the result set is empty.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Classify(&retry.StatusError{Service: "nuvemshop", Code: resp.StatusCode, Body: truncate(string(body), 200)})
	}

	var orders []Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, retry.Permanent(fmt.Errorf("nuvemshop: decode orders: %w", err))
	}
	return orders, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
