package clients

import (
	"context"
	"time"

	"onboarding-service/internal/models"
)

// TaxClient talks to the remote tax-ID verifier
type TaxClient struct {
	http *httpClient
}

// NewTaxClient creates a new tax-ID verifier client
func NewTaxClient(baseURL, apiKey string) *TaxClient {
	return &TaxClient{
		http: newHTTPClient(baseURL, apiKey, 20*time.Second),
	}
}

// VerifyTaxIDRequest submits a tax ID with the registered business context
type VerifyTaxIDRequest struct {
	TaxID        string         `json:"tax_id"`
	BusinessName string         `json:"business_name"`
	Address      models.Address `json:"address"`
}

// VerifyTaxIDResponse is the verifier's verdict
type VerifyTaxIDResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// VerifyTaxID checks a tax ID against the registered business details
func (c *TaxClient) VerifyTaxID(ctx context.Context, taxID, businessName string, address models.Address) (*VerifyTaxIDResponse, error) {
	var result VerifyTaxIDResponse
	req := &VerifyTaxIDRequest{TaxID: taxID, BusinessName: businessName, Address: address}
	if err := c.http.makeRequest(ctx, "POST", "/api/v1/tax/verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
