// Package feedconnect authenticates against the upstream market-data
// provider's REST API and hands out the short-lived token the WebSocket
// feed expects on its handshake.
//
// Usage:
//
//	fc := feedconnect.New(feedconnect.Config{BaseURL: "...", APIKey: "..."})
//	sess, err := fc.Login("CLIENT", "PASSWORD", "TOTPSECRET")
//	if err != nil { log.Fatal(err) }
//	// sess.FeedToken goes on the WS handshake
package feedconnect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultTimeout = 7 * time.Second

	loginPath   = "/auth/v1/login"
	refreshPath = "/auth/v1/refresh"
	logoutPath  = "/auth/v1/logout"
)

// Config configures the feedconnect client.
type Config struct {
	BaseURL string // e.g. "https://feed.example.com"
	APIKey  string
	Timeout time.Duration // default: 7s
}

// Session holds the tokens returned by a successful login.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	FeedToken    string `json:"feed_token"`
}

// Client is a minimal REST client for the provider's auth endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a feedconnect client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Login authenticates with client code, password, and a TOTP code
// generated from the shared secret, returning the session tokens.
func (c *Client) Login(clientCode, password, totpSecret string) (*Session, error) {
	code, err := totp.GenerateCode(totpSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("feedconnect: totp: %w", err)
	}

	body := map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       code,
	}
	var sess Session
	if err := c.post(loginPath, "", body, &sess); err != nil {
		return nil, err
	}
	if sess.FeedToken == "" {
		return nil, fmt.Errorf("feedconnect: login response missing feed token")
	}
	return &sess, nil
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(refreshToken string) (*Session, error) {
	var sess Session
	err := c.post(refreshPath, "", map[string]string{"refresh_token": refreshToken}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Logout invalidates the session.
func (c *Client) Logout(sess *Session, clientCode string) error {
	return c.post(logoutPath, sess.AccessToken, map[string]string{"clientcode": clientCode}, nil)
}

func (c *Client) post(path, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("feedconnect: marshal: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("feedconnect: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feedconnect: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("feedconnect: read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feedconnect: %s: status %d: %s", path, resp.StatusCode, truncate(data, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("feedconnect: decode %s: %w", path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
