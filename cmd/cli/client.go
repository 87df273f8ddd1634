package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the testflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	debug      bool
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration, debug bool) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		debug: debug,
	}
}

func getClient() (*Client, error) {
	baseURL := getConfigURL()
	if baseURL == "" {
		return nil, fmt.Errorf("API URL is required. Set it via --url flag, TESTFLOW_URL env var, or ~/.testflow.yaml")
	}
	return NewClient(baseURL, cfg.GetDuration("timeout"), flagDebug), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.debug {
		fmt.Fprintf(os.Stderr, "DEBUG: %s %s\n", req.Method, req.URL.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		fmt.Fprintf(os.Stderr, "DEBUG: Status %d\n", resp.StatusCode)
		fmt.Fprintf(os.Stderr, "DEBUG: Body: %s\n", string(body))
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return body, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) Get(path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) Post(path string, body interface{}) ([]byte, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint(path, nil), r)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// PostFile posts a file body with the given content type.
func (c *Client) PostFile(path string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}
