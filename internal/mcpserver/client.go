package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/humancheck/internal/auditlog"
)

// Config holds the configuration for connecting to a humancheck server.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:3000"
}

// Client is a pure HTTP client for the humancheck reporting API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the humancheck API.
func NewClient(cfg Config) *Client {
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	Code int
	Body json.RawMessage
	msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Code, e.msg)
}

// doRequest makes a GET request and returns the response body.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		se := &StatusError{Code: resp.StatusCode, Body: respBody, msg: string(respBody)}
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			se.msg = apiErr.Message
		}
		return nil, se
	}

	return json.RawMessage(respBody), nil
}

// GetReport fetches GET /api/logs. An empty decision and a zero limit are
// omitted from the query.
func (c *Client) GetReport(ctx context.Context, decision string, limit int) (auditlog.Report, error) {
	q := url.Values{}
	if decision != "" {
		q.Set("decision", decision)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	raw, err := c.doRequest(ctx, "/api/logs", q)
	if err != nil {
		return auditlog.Report{}, err
	}

	var report auditlog.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return auditlog.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// GetReadiness fetches GET /api/health/ready. A 503 body is returned as-is
// so callers can show which subsystem is down.
func (c *Client) GetReadiness(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.doRequest(ctx, "/api/health/ready", nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
		return se.Body, nil
	}
	return raw, err
}
