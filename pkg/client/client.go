// Package client is the Go SDK for the medledger integrity ledger API.
//
// It wraps the ledgerd HTTP surface: chain overview and validation, block
// queries, record verification, and triggering reconciliation passes.
// Hospital application layers embed it to check attestations without
// speaking raw HTTP:
//
//	c := client.New("http://localhost:8080")
//	ok, err := c.VerifyRecord(ctx, "PATIENTS", "42", rowHash)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Block mirrors one ledger block as served by the API.
type Block struct {
	Index     int       `json:"index"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"previous_hash"`
	BlockHash string    `json:"block_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Overview is the chain summary returned by GET /api/v1/ledger.
type Overview struct {
	Blocks int    `json:"blocks"`
	Tip    string `json:"tip"`
}

// ValidationResult is returned by GET /api/v1/ledger/validate.
type ValidationResult struct {
	Valid       bool   `json:"valid"`
	FailedIndex int    `json:"failed_index,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SyncSummary mirrors the reconciliation summary returned by the sync
// endpoint.
type SyncSummary struct {
	RunID     string            `json:"run_id"`
	Processed int               `json:"processed"`
	Attested  int               `json:"attested"`
	Errors    map[string]string `json:"errors,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Client talks to a ledgerd instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout (default 15s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Overview returns the chain length and tip hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate asks the server to recompute the full chain.
func (c *Client) Validate(ctx context.Context) (*ValidationResult, error) {
	var out ValidationResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/validate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Blocks returns the most recent limit blocks in ascending index order.
func (c *Client) Blocks(ctx context.Context, limit int) ([]Block, error) {
	var out struct {
		Blocks []Block `json:"blocks"`
	}
	path := fmt.Sprintf("/api/v1/ledger/blocks?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// Block returns a single block by 1-based index.
func (c *Client) Block(ctx context.Context, index int) (*Block, error) {
	var out Block
	path := fmt.Sprintf("/api/v1/ledger/blocks/%d", index)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyRecord reports whether (table, recordID, dataHash) is attested.
func (c *Client) VerifyRecord(ctx context.Context, table, recordID, dataHash string) (bool, error) {
	req := map[string]any{
		"table_name": table,
		"record_id":  recordID,
		"data_hash":  dataHash,
	}
	var out struct {
		Attested bool `json:"attested"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/verify", req, &out); err != nil {
		return false, err
	}
	return out.Attested, nil
}

// Sync triggers a reconciliation pass. An empty table list syncs every
// tracked table.
func (c *Client) Sync(ctx context.Context, tables []string) (*SyncSummary, error) {
	req := map[string]any{"tables": tables}
	var out SyncSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordIntegrity checks a row's current content against the chain.
func (c *Client) RecordIntegrity(ctx context.Context, table, id string) (bool, error) {
	var out struct {
		Attested bool `json:"attested"`
	}
	path := fmt.Sprintf("/api/v1/records/%s/%s/integrity", table, id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Attested, nil
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError extracts the server's {"error": "..."} message when present.
func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
