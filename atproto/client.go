package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	procCreateAccount = "/xrpc/com.atproto.server.createAccount"
	procResolveHandle = "/xrpc/com.atproto.identity.resolveHandle"
)

// XRPC error codes the provisioner cares about.
const (
	ErrorCodeHandleNotAvailable = "HandleNotAvailable"
	ErrorCodeInvalidHandle      = "InvalidHandle"
)

// APIError is a normalized identity-server error response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "identity server error"
	}
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("identity server %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("identity server %d %s", e.StatusCode, e.Code)
	}
	if e.Message != "" {
		return fmt.Sprintf("identity server %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("identity server %d", e.StatusCode)
}

// CreateAccountRequest is the payload for com.atproto.server.createAccount.
type CreateAccountRequest struct {
	Handle   string `json:"handle"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// CreateAccountResponse is the identity server's account creation result.
type CreateAccountResponse struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJWT  string `json:"accessJwt,omitempty"`
	RefreshJWT string `json:"refreshJwt,omitempty"`
}

// Client talks XRPC to a PDS identity server.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient returns a client for the configured identity server.
func NewClient(cfg Config) *Client {
	cfg = cfg.normalized()
	return &Client{
		config:     cfg,
		httpClient: cfg.httpClient(),
	}
}

// CreateAccount provisions an account on the identity server.
func (c *Client) CreateAccount(ctx context.Context, in CreateAccountRequest) (*CreateAccountResponse, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.IdentityServerURL+procCreateAccount, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	var out CreateAccountResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: "InvalidResponse", Message: "failed to decode createAccount response"}
	}
	if out.DID == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: "InvalidResponse", Message: "createAccount response missing did"}
	}

	return &out, nil
}

// ResolveHandle resolves a handle to its DID on the identity server.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{"handle": {handle}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.IdentityServerURL+procResolveHandle+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp.StatusCode, body)
	}

	var out struct {
		DID string `json:"did"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Code: "InvalidResponse", Message: "failed to decode resolveHandle response"}
	}

	return out.DID, nil
}

// HandleAvailable probes handle availability. A handle that resolves is
// taken; a 400 means the server knows nothing about it, so it is free.
// Transport and server failures are reported, not treated as availability.
func (c *Client) HandleAvailable(ctx context.Context, handle string) (bool, error) {
	_, err := c.ResolveHandle(ctx, handle)
	if err == nil {
		return false, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return true, nil
	}

	return false, err
}

func decodeAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && (payload.Error != "" || payload.Message != "") {
		return &APIError{StatusCode: status, Code: payload.Error, Message: payload.Message}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "identity server request failed"
	}

	return &APIError{StatusCode: status, Message: msg}
}
