// Package opm is an HTTP client for the SPEI payment processor: order
// submission, order listing and balance queries.
package opm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
)

const (
	apiKeyHeader    = "X-Custom-Auth"
	ordersPath      = "/api/1.0/orders/"
	balancePath     = "/api/1.0/balance/"
	maxResponseSize = 4 << 20
)

// Client talks to the processor's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client from configuration. httpClient may be nil, in
// which case one with cfg.Timeout is created.
func NewClient(logger *slog.Logger, cfg *config.OPMConfig, httpClient *http.Client) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid OPM base url %q: %w", cfg.BaseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateOrder submits a signed order.
func (c *Client) CreateOrder(ctx context.Context, o *order.SignedOrder) (*OrderAck, error) {
	var ack OrderAck
	if err := c.do(ctx, http.MethodPost, ordersPath, nil, o, &ack); err != nil {
		return nil, err
	}
	if ack.ID == "" {
		return nil, fmt.Errorf("%w: order acknowledgement without id", ErrUpstreamUnavailable)
	}
	return &ack, nil
}

// ListOrders returns one page of orders. A page shorter than q.Size is the last.
func (c *Client) ListOrders(ctx context.Context, q ListOrdersQuery) ([]RemoteOrder, error) {
	direction := directionOutgoing
	if q.Type == transaction.TypeIncoming {
		direction = directionIncoming
	}

	params := url.Values{}
	params.Set("type", direction)
	params.Set("from", strconv.FormatInt(q.From.UnixMilli(), 10))
	params.Set("to", strconv.FormatInt(q.To.UnixMilli(), 10))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("size", strconv.Itoa(q.Size))

	var orders []RemoteOrder
	if err := c.do(ctx, http.MethodGet, ordersPath, params, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetBalance returns the processor's balance for account.
func (c *Client) GetBalance(ctx context.Context, account string) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, http.MethodGet, balancePath+url.PathEscape(account), nil, nil, &balance); err != nil {
		return nil, err
	}
	balance.Account = account
	return &balance, nil
}

// do performs one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to reach payment processor", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Error("Payment processor returned server error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return fmt.Errorf("%w: http %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	env := envelope[json.RawMessage]{}
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%w: malformed response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || env.Error != "" {
		c.logger.Warn("Payment processor rejected request",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"code", env.Code,
			"error", env.Error,
		)
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Error}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: malformed data: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}
