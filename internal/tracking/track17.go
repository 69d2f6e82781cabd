package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lojaortopedic/atendente/internal/retry"
)

const (
	defaultTrack17URL = "https://api.17track.net/track/v2.2"
	listPageSize      = 40

	// 17TRACK rejection codes.
	track17AlreadyRegistered = -18019901
	track17NotRegistered     = -18019902
)

// Track17 is a Provider backed by the 17TRACK v2.2 API.
type Track17 struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Track17Opts holds parameters for creating a Track17 provider.
type Track17Opts struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewTrack17 creates a Track17 provider.
func NewTrack17(opts Track17Opts) (*Track17, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("tracking: 17track api key is required")
	}
	p := &Track17{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
	}
	if p.baseURL == "" {
		p.baseURL = defaultTrack17URL
	}
	if p.http == nil {
		p.http = &http.Client{Timeout: 20 * time.Second}
	}
	return p, nil
}

type track17Number struct {
	Number string `json:"number"`
}

type track17Envelope struct {
	Code int `json:"code"`
	Data struct {
		Accepted json.RawMessage `json:"accepted"`
		Rejected []struct {
			Number string `json:"number"`
			Error  struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"rejected"`
		ErrorCode int    `json:"errors_code"`
		Message   string `json:"message"`
	} `json:"data"`
	Page *struct {
		DataTotal int  `json:"data_total"`
		PageTotal int  `json:"page_total"`
		PageNo    int  `json:"page_no"`
		HasNext   bool `json:"has_next"`
	} `json:"page"`
}

type track17Event struct {
	TimeISO     string `json:"time_iso"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type track17Item struct {
	Number    string `json:"number"`
	Carrier   int    `json:"carrier"`
	TrackInfo *struct {
		LatestStatus struct {
			Status    string `json:"status"`
			SubStatus string `json:"sub_status"`
		} `json:"latest_status"`
		LatestEvent *track17Event `json:"latest_event"`
		TimeMetrics struct {
			DaysAfterLastUpdate int `json:"days_after_last_update"`
			DaysOfTransit       int `json:"days_of_transit"`
		} `json:"time_metrics"`
		Tracking struct {
			Providers []struct {
				Events []track17Event `json:"events"`
			} `json:"providers"`
		} `json:"tracking"`
	} `json:"track_info"`
}

type track17ListItem struct {
	Number              string `json:"number"`
	Carrier             int    `json:"carrier"`
	PackageStatus       string `json:"package_status"`
	LatestEventInfo     string `json:"latest_event_info"`
	DaysAfterLastUpdate int    `json:"days_after_last_update"`
	DaysOfTransit       int    `json:"days_of_transit"`
}

// Register implements Provider.
func (p *Track17) Register(ctx context.Context, code string) error {
	env, err := p.post(ctx, "register", []track17Number{{Number: code}})
	if err != nil {
		return err
	}
	for _, r := range env.Data.Rejected {
		if r.Error.Code == track17AlreadyRegistered {
			continue
		}
		return retry.Permanent(fmt.Errorf("tracking: register %s: %s (%d)", code, r.Error.Message, r.Error.Code))
	}
	return nil
}

// Query implements Provider.
func (p *Track17) Query(ctx context.Context, code string) (*Info, error) {
	env, err := p.post(ctx, "gettrackinfo", []track17Number{{Number: code}})
	if err != nil {
		return nil, err
	}
	for _, r := range env.Data.Rejected {
		if r.Error.Code == track17NotRegistered {
			return nil, retry.Permanent(ErrNotTracked)
		}
		return nil, retry.Permanent(fmt.Errorf("tracking: query %s: %s (%d)", code, r.Error.Message, r.Error.Code))
	}

	var items []track17Item
	if err := decodeAccepted(env, &items); err != nil {
		return nil, err
	}
	for _, it := range items {
		if strings.EqualFold(it.Number, code) {
			return it.toInfo(), nil
		}
	}
	return nil, retry.Permanent(ErrNotTracked)
}

// List implements Provider. It pages through every package in the
// "Tracking" state.
func (p *Track17) List(ctx context.Context) ([]Info, error) {
	var out []Info
	for page := 1; ; page++ {
		req := map[string]any{
			"tracking_status": "Tracking",
			"page_no":         page,
			"page_size":       listPageSize,
		}
		env, err := p.post(ctx, "gettracklist", req)
		if err != nil {
			return nil, err
		}
		var items []track17ListItem
		if err := decodeAccepted(env, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			out = append(out, Info{
				Code:            it.Number,
				Carrier:         it.Carrier,
				Status:          it.PackageStatus,
				LatestEvent:     it.LatestEventInfo,
				DaysInTransit:   it.DaysOfTransit,
				DaysSinceUpdate: it.DaysAfterLastUpdate,
			})
		}

		more := len(items) == listPageSize
		if env.Page != nil {
			more = env.Page.HasNext || page < env.Page.PageTotal
		}
		if !more || len(items) == 0 {
			return out, nil
		}
	}
}

func (it track17Item) toInfo() *Info {
	info := &Info{Code: it.Number, Carrier: it.Carrier, Status: StatusNotFound}
	ti := it.TrackInfo
	if ti == nil {
		return info
	}
	if ti.LatestStatus.Status != "" {
		info.Status = ti.LatestStatus.Status
	}
	info.SubStatus = ti.LatestStatus.SubStatus
	info.DaysInTransit = ti.TimeMetrics.DaysOfTransit
	info.DaysSinceUpdate = ti.TimeMetrics.DaysAfterLastUpdate
	if ti.LatestEvent != nil {
		info.LatestEvent = ti.LatestEvent.Description
		info.Location = ti.LatestEvent.Location
	}
	for _, prov := range ti.Tracking.Providers {
		for _, e := range prov.Events {
			info.Events = append(info.Events, Event{
				Time:        parseEventTime(e.TimeISO),
				Description: e.Description,
				Location:    e.Location,
			})
		}
	}
	return info
}

func parseEventTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02T15:04:05", s)
	return t
}

func decodeAccepted(env *track17Envelope, v any) error {
	if len(env.Data.Accepted) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data.Accepted, v); err != nil {
		return retry.Permanent(fmt.Errorf("tracking: decode 17track response: %w", err))
	}
	return nil
}

// post sends a request to a 17TRACK endpoint. Transport errors and
// retryable statuses are returned as-is; everything else is Permanent.
func (p *Track17) post(ctx context.Context, endpoint string, body any) (*track17Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("tracking: encode %s: %w", endpoint, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("tracking: build %s: %w", endpoint, err))
	}
	req.Header.Set("17token", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracking: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("tracking: read %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Classify(&retry.StatusError{Service: "17track", Code: resp.StatusCode, Body: string(data)})
	}

	var env track17Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, retry.Permanent(fmt.Errorf("tracking: decode %s: %w", endpoint, err))
	}
	if env.Code != 0 {
		return nil, retry.Permanent(fmt.Errorf("tracking: %s: api code %d: %s", endpoint, env.Code, env.Data.Message))
	}
	return &env, nil
}
