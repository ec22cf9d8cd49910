package clients

import (
	"context"
	"time"
)

// AvailabilityClient talks to the remote availability verifier that decides
// whether an identifier (username, email, tax ID) is usable
type AvailabilityClient struct {
	http *httpClient
}

// NewAvailabilityClient creates a new availability verifier client
func NewAvailabilityClient(baseURL, apiKey string) *AvailabilityClient {
	return &AvailabilityClient{
		http: newHTTPClient(baseURL, apiKey, 10*time.Second),
	}
}

// CheckAvailabilityRequest asks whether a candidate value is available
type CheckAvailabilityRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// CheckAvailabilityResponse is the verifier's answer
type CheckAvailabilityResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// CheckAvailable queries the verifier for one field/value pair
func (c *AvailabilityClient) CheckAvailable(ctx context.Context, field, value string) (bool, error) {
	var result CheckAvailabilityResponse
	req := &CheckAvailabilityRequest{Field: field, Value: value}
	if err := c.http.makeRequest(ctx, "POST", "/api/v1/availability/check", req, &result); err != nil {
		return false, err
	}
	return result.Available, nil
}
