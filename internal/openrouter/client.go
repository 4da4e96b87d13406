package openrouter

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

type Config struct {
	BaseURL string
	APIKey  string
	Referer string
	Title   string
	Timeout time.Duration
}

type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	referer string
	title   string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		referer: cfg.Referer,
		title:   cfg.Title,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, *RawResponse, error) {
	raw, err := c.RawRequest(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		return nil, raw, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, raw, fmt.Errorf("decode chat completion response: %w", err)
	}
	return &resp, raw, nil
}

func (c *Client) RawRequest(ctx context.Context, method, path string, body any) (*RawResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		request.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		request.Header.Set("X-Title", c.title)
	}

	start := time.Now()
	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer response.Body.Close()

	bodyBytes, readErr := io.ReadAll(response.Body)
	raw := &RawResponse{
		StatusCode: response.StatusCode,
		Headers:    response.Header.Clone(),
		Body:       bodyBytes,
		Duration:   time.Since(start),
	}
	if readErr != nil {
		return raw, fmt.Errorf("read response body: %w", readErr)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		envelope, ok := ParseAPIErrorEnvelope(bodyBytes)
		if !ok {
			return raw, fmt.Errorf("api status %d: %s", response.StatusCode, string(bodyBytes))
		}
		return raw, &APIError{
			StatusCode: response.StatusCode,
			Envelope:   envelope,
			Body:       bodyBytes,
		}
	}
	return raw, nil
}

func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
