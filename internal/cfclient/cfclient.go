// Package cfclient implements component E, the Cloudflare client: a thin
// REST v4 wrapper plus a 24h zone-cache refresh cron. Grounded on the
// teacher's internal/cloudflare/tunnel.go (manual JSON response types,
// Bearer auth, one *http.Client per Manager); adapted here from tunnel
// lifecycle management to the DNS-record operations the CNAME lifecycle
// needs, with rate-limit-aware retry added per spec.md §4.E.
package cfclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/domainerr"
)

const apiBaseURL = "https://api.cloudflare.com/client/v4"

const (
	maxRetries  = 4
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 8 * time.Second
)

// Credentials identifies the Cloudflare account to operate against.
type Credentials struct {
	APIToken  string
	AccountID string
}

// Client is the public API for component E.
type Client struct {
	creds   Credentials
	client  *http.Client
	baseURL string
}

// New builds a Client with the teacher's fixed-timeout *http.Client style.
func New(creds Credentials) *Client {
	return NewWithBaseURL(creds, apiBaseURL)
}

// NewWithBaseURL builds a Client against a non-default API base URL, for
// tests that stand up an httptest.Server in place of the real Cloudflare API.
func NewWithBaseURL(creds Credentials, baseURL string) *Client {
	return &Client{
		creds:   creds,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  T          `json:"result"`
}

// Zone is a Cloudflare DNS zone.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is a DNS record.
type Record struct {
	ID      string `json:"id"`
	ZoneID  string `json:"zone_id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

// ListZones returns every zone visible to the account's API token.
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var env envelope[[]Zone]
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/zones", nil, &env); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// ListRecords returns DNS records in zoneID filtered by recordType and name.
func (c *Client) ListRecords(ctx context.Context, zoneID, recordType, name string) ([]Record, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records?type=%s&name=%s", c.baseURL, zoneID, recordType, name)
	var env envelope[[]Record]
	if err := c.do(ctx, http.MethodGet, url, nil, &env); err != nil {
		return nil, err
	}
	return env.Result, nil
}

type dnsRecordRequest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

// CreateCNAME publishes a proxied CNAME record pointing at the tunnel's
// cfargotunnel.com alias (spec.md §4.J step 6).
func (c *Client) CreateCNAME(ctx context.Context, zoneID, hostname, tunnelID string) (Record, error) {
	body := dnsRecordRequest{
		Type:    constants.CloudflareCNAMEType,
		Name:    hostname,
		Content: fmt.Sprintf(constants.CloudflareCNAMEContentFmt, tunnelID),
		Proxied: true,
	}
	var env envelope[Record]
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/zones/%s/dns_records", c.baseURL, zoneID), body, &env); err != nil {
		return Record{}, err
	}
	return env.Result, nil
}

// CreateA publishes a proxied A record pointing directly at an IP, used
// when a target is externally reachable without a tunnel.
func (c *Client) CreateA(ctx context.Context, zoneID, hostname, ipAddress string) (Record, error) {
	body := dnsRecordRequest{Type: "A", Name: hostname, Content: ipAddress, Proxied: true}
	var env envelope[Record]
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/zones/%s/dns_records", c.baseURL, zoneID), body, &env); err != nil {
		return Record{}, err
	}
	return env.Result, nil
}

// DeleteRecord removes a DNS record by ID.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", c.baseURL, zoneID, recordID)
	var env envelope[struct{}]
	return c.do(ctx, http.MethodDelete, url, nil, &env)
}

// do executes one API call, retrying with jittered backoff on 429/5xx up to
// maxRetries times (spec.md §4.E rate-limit handling).
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffFor(attempt)
			slog.Debug("retrying cloudflare request", "attempt", attempt, "wait", wait, "url", url)
			select {
			case <-ctx.Done():
				return domainerr.WrapUpstreamTimeout("cloudflare API retry", ctx.Err())
			case <-time.After(wait):
			}
		}

		err, retryAfter := c.doOnce(ctx, method, url, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if retryAfter > 0 {
			time.Sleep(retryAfter)
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, url string, reqBody any, out any) (err error, retryAfter time.Duration) {
	var payload io.Reader
	if reqBody != nil {
		encoded, marshalErr := json.Marshal(reqBody)
		if marshalErr != nil {
			return domainerr.WrapInternal("marshal cloudflare request", marshalErr), 0
		}
		payload = bytes.NewReader(encoded)
	}

	req, err2 := http.NewRequestWithContext(ctx, method, url, payload)
	if err2 != nil {
		return domainerr.WrapInternal("build cloudflare request", err2), 0
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err2 := c.client.Do(req)
	if err2 != nil {
		return domainerr.WrapConnectivity("cloudflare API unreachable", "check network connectivity to api.cloudflare.com", err2), 0
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domainerr.WrapRateLimited(resp.Header.Get("Retry-After"), nil), parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode >= 500 {
		return domainerr.WrapConnectivity(fmt.Sprintf("cloudflare API returned %d", resp.StatusCode), "cloudflare may be degraded, retry later", nil), 0
	}

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return domainerr.WrapInternal("read cloudflare response", readErr), 0
	}
	if err2 := json.Unmarshal(raw, out); err2 != nil {
		return domainerr.WrapInternal("decode cloudflare response", err2), 0
	}
	return nil, 0
}

func isRetryable(err error) bool {
	return domainerr.Is(err, domainerr.KindRateLimited) || domainerr.Is(err, domainerr.KindConnectivity)
}

func backoffFor(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
