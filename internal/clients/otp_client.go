package clients

import (
	"context"
	"time"
)

// OtpClient talks to the remote OTP service that issues and confirms
// one-time codes. Codes never live in this service; only challenge IDs do.
type OtpClient struct {
	http *httpClient
}

// NewOtpClient creates a new OTP service client
func NewOtpClient(baseURL, apiKey string) *OtpClient {
	return &OtpClient{
		http: newHTTPClient(baseURL, apiKey, 15*time.Second),
	}
}

// IssueOtpRequest asks the OTP service to issue a code
type IssueOtpRequest struct {
	Channel     string `json:"channel"` // email, phone
	Destination string `json:"destination"`
}

// IssueOtpResponse carries the issued challenge's identifier
type IssueOtpResponse struct {
	ChallengeID string    `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ConfirmOtpRequest submits a code for an issued challenge
type ConfirmOtpRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// ConfirmOtpResponse is the OTP service's verdict
type ConfirmOtpResponse struct {
	Valid bool `json:"valid"`
}

// IssueOtp requests a fresh code for a contact channel. Re-issuing for the
// same destination invalidates any previously issued code server-side.
func (c *OtpClient) IssueOtp(ctx context.Context, channel, destination string) (*IssueOtpResponse, error) {
	var result IssueOtpResponse
	req := &IssueOtpRequest{Channel: channel, Destination: destination}
	if err := c.http.makeRequest(ctx, "POST", "/api/v1/otp/issue", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfirmOtp checks a submitted code against the issuing service
func (c *OtpClient) ConfirmOtp(ctx context.Context, challengeID, code string) (bool, error) {
	var result ConfirmOtpResponse
	req := &ConfirmOtpRequest{ChallengeID: challengeID, Code: code}
	if err := c.http.makeRequest(ctx, "POST", "/api/v1/otp/confirm", req, &result); err != nil {
		return false, err
	}
	return result.Valid, nil
}
