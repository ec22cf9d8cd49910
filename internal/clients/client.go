// Package clients holds the HTTP clients for the remote collaborators the
// onboarding core orchestrates: the availability verifier, the OTP service,
// the tax-ID verifier, and the account/vendor creation service.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIResponse represents the standard envelope the collaborator services
// respond with
type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// APIError represents an API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// RequestError is a collaborator response with a non-success HTTP status.
// Transport-level failures are returned as plain wrapped errors instead,
// so callers can tell "the service answered no" from "the service is down".
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
	Field      string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRequestError checks if an error is a RequestError
func IsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// httpClient is the shared request plumbing for all collaborator clients
type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPClient(baseURL, apiKey string, timeout time.Duration) *httpClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// makeRequest sends a JSON request and decodes the envelope. A non-2xx
// status or success=false becomes a *RequestError; result, when non-nil,
// receives the envelope's data payload.
func (c *httpClient) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	var envelope APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !envelope.Success {
		reqErr := &RequestError{
			StatusCode: resp.StatusCode,
			Message:    envelope.Message,
		}
		if envelope.Error != nil {
			reqErr.Code = envelope.Error.Code
			reqErr.Field = envelope.Error.Field
			if envelope.Error.Message != "" {
				reqErr.Message = envelope.Error.Message
			}
		}
		if reqErr.StatusCode < 400 {
			reqErr.StatusCode = http.StatusBadRequest
		}
		return reqErr
	}

	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("failed to unmarshal response data: %w", err)
		}
	}

	return nil
}
