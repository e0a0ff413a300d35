// Package hubspot creates and looks up deals in the HubSpot CRM.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/retry"
)

const DefaultBaseURL = "https://api.hubapi.com"

// Options configures Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DealStage  string
	Pipeline   string
}

// Client issues single attempts; callers own the retry loop.
// Errors that must not be retried are wrapped with retry.Permanent.
type Client struct {
	client   *http.Client
	baseURL  string
	token    string
	stage    string
	pipeline string
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("hubspot returned %d", e.Code)
	}
	return fmt.Sprintf("hubspot returned %d: %s", e.Code, e.Body)
}

// Transient reports whether the response is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// NewClient wires an HTTP client; the timeout defaults to 30s.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:   client,
		baseURL:  baseURL,
		token:    opts.Token,
		stage:    opts.DealStage,
		pipeline: opts.Pipeline,
	}
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

type dealResponse struct {
	ID string `json:"id"`
}

// FindDeal searches for a deal carrying the announcement number.
func (c *Client) FindDeal(ctx context.Context, number string) (string, bool, error) {
	payload := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{PropertyName: PropertyNumber, Operator: "EQ", Value: number}}}},
		Properties:   []string{PropertyNumber},
		Limit:        1,
	}

	var resp searchResponse
	if err := c.post(ctx, "/crm/v3/objects/deals/search", payload, &resp); err != nil {
		return "", false, fmt.Errorf("search deal %s: %w", number, err)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID == "" {
		return "", false, nil
	}
	return resp.Results[0].ID, true, nil
}

// CreateDeal creates a deal for the announcement and returns its id.
func (c *Client) CreateDeal(ctx context.Context, a domain.Announcement) (string, error) {
	payload := map[string]any{"properties": DealProperties(a, c.stage, c.pipeline)}

	var resp dealResponse
	if err := c.post(ctx, "/crm/v3/objects/deals", payload, &resp); err != nil {
		return "", fmt.Errorf("create deal for %s: %w", dealLabel(a), err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create deal for %s: response without id", dealLabel(a))
	}
	return resp.ID, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient.
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 300)}
		if statusErr.Transient() {
			return statusErr
		}
		return retry.Permanent(statusErr)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
