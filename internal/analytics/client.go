package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/victormalit/mutsynchub/pkg/logging"
)

// Request describes one analysis invocation against the analytics engine.
type Request struct {
	Data       json.RawMessage        `json:"data"`
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Metrics    []string               `json:"metrics"`
}

// Client calls the external analytics engine. Results are opaque JSON;
// interpretation belongs to the callers that persist them.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
}

// Config represents the configuration for the analytics engine client
type Config struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	Logger       logging.Logger
}

// NewClient creates a new analytics engine client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   &http.Client{Timeout: config.Timeout},
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
	}
}

// PerformAnalysis runs one analysis and returns the engine's result JSON.
// There is no retry here; scheduled callers treat the next firing as the
// retry mechanism.
func (c *Client) PerformAnalysis(ctx context.Context, analysisReq Request) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(analysisReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/analysis", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analytics engine: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analytics engine error (%d): %s", resp.StatusCode, string(body))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("analytics engine returned invalid JSON")
	}
	return json.RawMessage(body), nil
}
