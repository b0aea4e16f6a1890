// Package identitytoolkit creates principals through the Identity Toolkit
// (Firebase Authentication) REST API.
package identitytoolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"lab-access/backend/internal/principal"
)

// DefaultBaseURL is the public Identity Toolkit endpoint.
const DefaultBaseURL = "https://identitytoolkit.googleapis.com"

// Client is a principal.Provider backed by accounts:signUp.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient returns a Client. An empty baseURL uses DefaultBaseURL; a nil httpClient
// uses a client with a 10s timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type signUpRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// CreatePrincipal signs up email/secret and returns the new account's localId.
func (c *Client) CreatePrincipal(ctx context.Context, email, secret string) (string, error) {
	body, err := json.Marshal(signUpRequest{Email: email, Password: secret, ReturnSecureToken: true})
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}
	endpoint := c.baseURL + "/v1/accounts:signUp?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		return "", &principal.Error{
			Kind: kindForMessage(msg),
			Err:  fmt.Errorf("identitytoolkit: status %d: %s", resp.StatusCode, msg),
		}
	}
	localID := gjson.GetBytes(raw, "localId").String()
	if localID == "" {
		return "", &principal.Error{Kind: principal.KindOther, Err: fmt.Errorf("identitytoolkit: response has no localId")}
	}
	return localID, nil
}

// kindForMessage maps an Identity Toolkit error message (e.g. "WEAK_PASSWORD : Password
// should be at least 6 characters") to a principal error kind.
func kindForMessage(msg string) principal.ErrorKind {
	code := msg
	if i := strings.IndexAny(code, " :"); i >= 0 {
		code = code[:i]
	}
	switch code {
	case "EMAIL_EXISTS":
		return principal.KindEmailInUse
	case "INVALID_EMAIL", "MISSING_EMAIL":
		return principal.KindInvalidEmail
	case "OPERATION_NOT_ALLOWED", "ADMIN_ONLY_OPERATION":
		return principal.KindOperationDisabled
	case "WEAK_PASSWORD", "MISSING_PASSWORD":
		return principal.KindWeakSecret
	}
	return principal.KindOther
}

var _ principal.Provider = (*Client)(nil)
