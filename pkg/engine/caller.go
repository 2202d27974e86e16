package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeoutSeconds = 30

// ErrHTTPServerError is returned when the remote end answers with a 5xx status.
var ErrHTTPServerError = errors.New("server error during HTTP request")

// APIRequest is a fully rendered outbound call.
type APIRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// APIResponse is the result of an API node call. Body holds decoded JSON when
// the response is JSON, otherwise the raw text.
type APIResponse struct {
	StatusCode int `json:"status_code"`
	Body       any `json:"body"`
}

// APICaller performs the side effect of an api node.
type APICaller interface {
	Call(ctx context.Context, req APIRequest) (*APIResponse, error)
}

// SimulatedCaller answers every request locally without touching the network.
// The response echoes the request so later nodes have something to branch on.
type SimulatedCaller struct{}

func (SimulatedCaller) Call(_ context.Context, req APIRequest) (*APIResponse, error) {
	body := map[string]any{
		"status": "ok",
		"method": req.Method,
		"url":    req.URL,
	}

	if req.Body != "" {
		var payload any
		if err := json.Unmarshal([]byte(req.Body), &payload); err == nil {
			body["request"] = payload
		} else {
			body["request"] = req.Body
		}
	}

	return &APIResponse{StatusCode: http.StatusOK, Body: body}, nil
}

// HTTPCaller performs real HTTP requests.
type HTTPCaller struct {
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPCaller returns a caller using a client without a global timeout;
// per-request timeouts come from the node payload.
func NewHTTPCaller(logger *slog.Logger) *HTTPCaller {
	return &HTTPCaller{
		Client: &http.Client{},
		Logger: logger.With("module", "http_caller"),
	}
}

func (c *HTTPCaller) Call(ctx context.Context, req APIRequest) (*APIResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.Logger.DebugContext(ctx, "Calling API", "method", method, "url", req.URL)

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrHTTPServerError)
	}

	var decoded any
	if err := json.Unmarshal(bodyBytes, &decoded); err != nil {
		decoded = string(bodyBytes)
	}

	return &APIResponse{StatusCode: resp.StatusCode, Body: decoded}, nil
}
