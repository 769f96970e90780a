// Package quantbench is a Go client for the quantbench-server REST API.
package quantbench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quantbench/internal/api"
	"quantbench/internal/domain"
)

// Client provides a Go SDK for interacting with the quantbench-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantbench API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response. It unwraps to the matching domain error
// so callers can test it with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quantbench: %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "invalid_parameters":
		return domain.ErrInvalidParameters
	case "not_found":
		return domain.ErrNotFound
	case "insufficient_data":
		return domain.ErrInsufficientData
	case "data_integrity":
		return domain.ErrDataIntegrity
	case "numeric_anomaly":
		return domain.ErrNumericAnomaly
	case "cancelled":
		return domain.ErrCancelled
	}
	if e.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

// SubmitBacktest schedules a run. Dates are YYYY-MM-DD; empty means
// unbounded start or today.
func (c *Client) SubmitBacktest(ctx context.Context, def domain.StrategyDefinition, startDate, endDate string) (*domain.BacktestResult, error) {
	req := api.SubmitRequest{Strategy: def, StartDate: startDate, EndDate: endDate}
	var out domain.BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBacktest returns a run's current result.
func (c *Client) GetBacktest(ctx context.Context, id string) (*domain.BacktestResult, error) {
	var out domain.BacktestResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBacktests returns run summaries, newest first.
func (c *Client) ListBacktests(ctx context.Context, limit int) ([]domain.BacktestResult, error) {
	var out api.ListResponse
	path := "/api/v1/backtests?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Backtests, nil
}

// CancelBacktest requests cancellation of a run.
func (c *Client) CancelBacktest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/backtests/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// StrategyTypes lists the strategy families the server accepts.
func (c *Client) StrategyTypes(ctx context.Context) ([]api.FamilyResponse, error) {
	var out []api.FamilyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategy-types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitBacktest polls until the run is terminal or ctx is done.
func (c *Client) WaitBacktest(ctx context.Context, id string, interval time.Duration) (*domain.BacktestResult, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := c.GetBacktest(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Kind: e.Kind}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
