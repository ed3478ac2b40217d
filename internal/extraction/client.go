package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the service rejects the access token
var ErrUnauthorized = errors.New("extraction: access token rejected")

// Source is one invoice email found in a user's mailbox
type Source struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// ChartPoint is one monthly bar of the consumption chart printed on an invoice
type ChartPoint struct {
	Date string  `json:"date"`
	KWh  float64 `json:"kwh"`
}

// ParsedInvoice is the structured content extracted from one source
type ParsedInvoice struct {
	NIC            string       `json:"nic"`
	ReadingDate    string       `json:"reading_date"`
	ConsumptionKWh float64      `json:"consumption_kwh"`
	Address        string       `json:"address"`
	ChartArtifact  string       `json:"chart_artifact,omitempty"`
	ChartTable     []ChartPoint `json:"chart_table,omitempty"`
}

type searchRequest struct {
	UserID      int64     `json:"user_id"`
	AccessToken string    `json:"access_token"`
	Since       time.Time `json:"since"`
}

type searchResponse struct {
	Sources []Source `json:"sources"`
}

type parseRequest struct {
	AccessToken string `json:"access_token"`
	Source      Source `json:"source"`
}

// Client talks to the invoice extraction service over JSON/HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new extraction client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SearchSources lists invoice emails received since the watermark
func (c *Client) SearchSources(ctx context.Context, userID int64, accessToken string, since time.Time) ([]Source, error) {
	var resp searchResponse
	req := searchRequest{UserID: userID, AccessToken: accessToken, Since: since.UTC()}
	if err := c.post(ctx, "/sources/search", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to search sources: %w", err)
	}
	return resp.Sources, nil
}

// ParseSource downloads and parses one invoice
func (c *Client) ParseSource(ctx context.Context, accessToken string, source Source) (*ParsedInvoice, error) {
	var parsed ParsedInvoice
	if err := c.post(ctx, "/sources/parse", parseRequest{AccessToken: accessToken, Source: source}, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse source %s: %w", source.ID, err)
	}
	return &parsed, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
