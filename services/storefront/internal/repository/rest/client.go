// Package rest implements the persistence service against a hosted
// backend-as-a-service that exposes PostgREST-style table endpoints and RPC
// functions.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/pkg/httpclient"
)

const serviceName = "baas"

// Config holds the BaaS connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Backend implements repository.Backend over the BaaS REST API. Table reads
// and writes go through a retrying client; the order placement RPC is sent
// exactly once.
type Backend struct {
	baseURL string
	tables  httpclient.Doer
	rpc     httpclient.Doer
	logger  *slog.Logger
}

// NewBackend creates a BaaS-backed persistence service. Both clients sit
// behind their own circuit breaker.
func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	hc := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	hc.Headers = map[string]string{
		"apikey":        cfg.APIKey,
		"Authorization": "Bearer " + cfg.APIKey,
		"Accept":        "application/json",
	}
	base := httpclient.New(hc)

	return NewBackendWithClients(cfg.BaseURL,
		httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("baas-tables"), logger),
		httpclient.NewCircuitBreakerClient(base.WithoutRetries(), httpclient.DefaultCircuitBreakerConfig("baas-rpc"), logger),
		logger,
	)
}

// NewBackendWithClients creates a Backend over caller-supplied clients.
func NewBackendWithClients(baseURL string, tables, rpc httpclient.Doer, logger *slog.Logger) *Backend {
	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		tables:  tables,
		rpc:     rpc,
		logger:  logger,
	}
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	prefer string
}

// send performs one BaaS call and decodes a 2xx JSON body into out. Non-2xx
// responses come back as a wrapped *httpclient.RemoteError.
func (b *Backend) send(ctx context.Context, doer httpclient.Doer, r request, out any) (http.Header, error) {
	u := b.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", r.method, r.path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s %s: %w", r.method, r.path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := doer.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, httpclient.DecodeError(resp, serviceName))
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
		}
	}
	return resp.Header, nil
}

func eq(v string) string { return "eq." + v }

func inList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "in.(" + strings.Join(parts, ",") + ")"
}

// toMinor converts a decimal amount in major units (12.50) to minor units
// (1250), rounding half away from zero.
func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// parseContentRangeTotal reads the total from a "0-9/42" Content-Range.
func parseContentRangeTotal(h http.Header) (int, bool) {
	cr := h.Get("Content-Range")
	i := strings.LastIndexByte(cr, '/')
	if i < 0 || cr[i+1:] == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(cr[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Ping checks that the BaaS answers an authenticated table read.
func (b *Backend) Ping(ctx context.Context) error {
	q := url.Values{"select": {"id"}, "limit": {"1"}}
	var rows []json.RawMessage
	_, err := b.send(ctx, b.tables, request{method: http.MethodGet, path: "/rest/v1/products", query: q}, &rows)
	return err
}
