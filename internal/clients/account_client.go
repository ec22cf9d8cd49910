package clients

import (
	"context"
	"time"

	"onboarding-service/internal/models"
)

// AccountClient talks to the remote account/vendor creation service that
// turns a completed onboarding session into a durable resource
type AccountClient struct {
	http *httpClient
}

// NewAccountClient creates a new account service client
func NewAccountClient(baseURL, apiKey string) *AccountClient {
	return &AccountClient{
		http: newHTTPClient(baseURL, apiKey, 30*time.Second),
	}
}

// CreateAccountResponse is the created personal account resource
type CreateAccountResponse struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// CreateVendorResponse is the created vendor store resource
type CreateVendorResponse struct {
	VendorID string `json:"vendor_id"`
	Handle   string `json:"handle"`
	StoreURL string `json:"store_url"`
}

// CreateAccount creates a personal account
func (c *AccountClient) CreateAccount(ctx context.Context, payload *models.AccountCreationRequest) (*CreateAccountResponse, error) {
	var result CreateAccountResponse
	if err := c.http.makeRequest(ctx, "POST", "/api/v1/accounts", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateVendor creates a vendor store
func (c *AccountClient) CreateVendor(ctx context.Context, payload *models.VendorCreationRequest) (*CreateVendorResponse, error) {
	var result CreateVendorResponse
	if err := c.http.makeRequest(ctx, "POST", "/api/v1/vendors", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
