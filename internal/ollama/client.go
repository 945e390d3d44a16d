package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Client calls a local Ollama instance over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Stats tracks recent call latencies. Optional.
	Stats *CallStats
}

// NewClient creates a client for the Ollama API at baseURL.
// readTimeout bounds the whole call; connectTimeout bounds dialing.
func NewClient(baseURL string, connectTimeout, readTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 300 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		Stats: NewCallStats(time.Hour),
	}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Model       string          `json:"model"`
	Prompt      string          `json:"prompt"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Format      json.RawMessage `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Format      json.RawMessage `json:"format,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Generate calls /api/generate and returns the raw response text.
// format, when set, constrains the model to JSON matching the schema.
func (c *Client) Generate(ctx context.Context, prompt, model string, temperature float64, format json.RawMessage) (string, error) {
	defer c.record("generate", time.Now())
	body, err := c.post(ctx, "/api/generate", generateRequest{
		Model:       model,
		Prompt:      prompt,
		Temperature: temperature,
		Stream:      false,
		Format:      format,
	})
	if err != nil {
		return "", err
	}
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &RequestError{Message: fmt.Sprintf("ollama returned invalid JSON: %s", err)}
	}
	if resp.Error != "" {
		return "", &RequestError{Message: resp.Error}
	}
	return resp.Response, nil
}

// Chat calls /api/chat. Preferred over Generate when a structured
// output schema is supplied.
func (c *Client) Chat(ctx context.Context, messages []Message, model string, temperature float64, format json.RawMessage) (string, error) {
	defer c.record("chat", time.Now())
	body, err := c.post(ctx, "/api/chat", chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      false,
		Format:      format,
	})
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &RequestError{Message: fmt.Sprintf("ollama returned invalid JSON: %s", err)}
	}
	if resp.Error != "" {
		return "", &RequestError{Message: resp.Error}
	}
	return resp.Message.Content, nil
}

// ListModels returns the names of locally available models, sorted.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("unable to reach ollama at %s: %s", c.baseURL, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := statusError(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var tags tagsResponse
	if err := json.Unmarshal(respBody, &tags); err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("ollama returned invalid JSON: %s", err)}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("unable to reach ollama at %s: %s", c.baseURL, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := statusError(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func statusError(code int, body []byte) error {
	if code == http.StatusOK {
		return nil
	}
	details := string(body)
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		details = parsed.Error
	}
	details = strings.TrimSpace(details)
	if len(details) > 500 {
		details = details[:500]
	}
	return &RequestError{StatusCode: code, Message: details}
}

func (c *Client) record(op string, start time.Time) {
	if c.Stats != nil {
		c.Stats.Record(op, time.Since(start).Milliseconds())
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// RequestError is a failed model-transport call: unreachable host,
// non-success status, or a malformed transport payload.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ollama request failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ollama request failed: %s", e.Message)
}
