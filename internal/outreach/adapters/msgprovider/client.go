// Package msgprovider is the adapter for the external messaging platform.
// The platform's REST contract is not stable: endpoints and field names vary
// across providers and versions, so every operation is expressed as an
// ordered table of (endpoint, body) candidates evaluated by a single
// first-success executor that accumulates per-attempt diagnostics.
package msgprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "X-API-KEY"

// maxErrorBodyLen bounds how much of a provider error body is kept in
// diagnostics.
const maxErrorBodyLen = 512

// Client talks to the external messaging platform.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a provider client. baseURL has no trailing slash.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "msgprovider"),
	}
}

// attempt is one candidate request shape inside a fallback chain.
type attempt struct {
	name   string
	method string
	path   string
	body   map[string]any // nil for body-less requests
}

// doAttempts runs a fallback chain: each attempt in order, stopping at the
// first response that is 2xx AND satisfies parse. parse receives the decoded
// JSON body and reports whether it found what the operation needs; a 2xx
// response that parse rejects is recorded as a failure and the chain moves
// on. On total exhaustion the full failure list is returned.
func (c *Client) doAttempts(ctx context.Context, op string, attempts []attempt, parse func(v any) bool) (any, []AttemptFailure) {
	var failures []AttemptFailure

	for _, a := range attempts {
		endpoint := c.baseURL + a.path

		var bodySent string
		var reqBody io.Reader
		if a.body != nil {
			encoded, err := json.Marshal(a.body)
			if err != nil {
				failures = append(failures, AttemptFailure{Name: a.name, Endpoint: endpoint, Error: "encode body: " + err.Error()})
				continue
			}
			bodySent = string(encoded)
			reqBody = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, a.method, endpoint, reqBody)
		if err != nil {
			failures = append(failures, AttemptFailure{Name: a.name, Endpoint: endpoint, BodySent: bodySent, Error: "build request: " + err.Error()})
			continue
		}
		req.Header.Set(apiKeyHeader, c.apiKey)
		req.Header.Set("Accept", "application/json")
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			failures = append(failures, AttemptFailure{Name: a.name, Endpoint: endpoint, BodySent: bodySent, Error: err.Error()})
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			failures = append(failures, AttemptFailure{Name: a.name, Endpoint: endpoint, Status: resp.StatusCode, BodySent: bodySent, Error: "read response: " + readErr.Error()})
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			failures = append(failures, AttemptFailure{
				Name:     a.name,
				Endpoint: endpoint,
				Status:   resp.StatusCode,
				BodySent: bodySent,
				Error:    truncate(string(respBody), maxErrorBodyLen),
			})
			c.logger.DebugContext(ctx, "provider attempt rejected",
				"op", op, "attempt", a.name, "status", resp.StatusCode)
			continue
		}

		var decoded any
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, &decoded); err != nil {
				failures = append(failures, AttemptFailure{Name: a.name, Endpoint: endpoint, Status: resp.StatusCode, BodySent: bodySent, Error: "decode response: " + err.Error()})
				continue
			}
		}
		if decoded == nil {
			// Empty or null 2xx body. Still a success for operations that
			// only need the status; parse decides.
			decoded = map[string]any{}
		}

		if !parse(decoded) {
			failures = append(failures, AttemptFailure{
				Name:     a.name,
				Endpoint: endpoint,
				Status:   resp.StatusCode,
				BodySent: bodySent,
				Error:    "2xx response lacked a usable id",
			})
			continue
		}

		c.logger.DebugContext(ctx, "provider attempt succeeded",
			"op", op, "attempt", a.name, "prior_failures", len(failures))
		return decoded, failures
	}

	return nil, failures
}

func (c *Client) requestError(op string, sentinel error, failures []AttemptFailure) *RequestError {
	return &RequestError{
		Op:       op,
		Sentinel: sentinel,
		Failures: failures,
		Reason:   classifyFailures(failures),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func queryAccount(accountID string) string {
	return fmt.Sprintf("?account_id=%s", accountID)
}
