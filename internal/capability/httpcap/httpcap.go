// Package httpcap is the default services.http capability: a
// net/http-backed implementation of actionrun.HTTPService, registered
// under registry.Services by the CLI's default wiring. Retry/backoff
// are the action runner's job (spec §4.E); this capability only
// performs one request attempt per call.
package httpcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowcraft/orcd/internal/actionrun"
)

// Client implements actionrun.HTTPService over net/http.
type Client struct {
	HTTP *http.Client
}

// New returns a Client with a sane default timeout; per-call timeouts
// are still enforced by the caller via ctx (runHTTP wraps ctx with
// context.WithTimeout per spec §4.E step 3).
func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Do(ctx context.Context, req actionrun.HTTPRequest) (actionrun.HTTPResponse, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return actionrun.HTTPResponse{}, fmt.Errorf("httpcap: marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return actionrun.HTTPResponse{}, fmt.Errorf("httpcap: build request: %w", err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, fmt.Sprintf("%v", v))
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return actionrun.HTTPResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return actionrun.HTTPResponse{}, fmt.Errorf("httpcap: read response body: %w", err)
	}

	var parsed any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	}

	return actionrun.HTTPResponse{Status: resp.StatusCode, Body: parsed}, nil
}
