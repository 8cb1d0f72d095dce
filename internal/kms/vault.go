// Package kms provides a thin HTTP client for the Vault Transit secrets
// engine, used as the optional remote encrypt/decrypt oracle for sensitive
// account fields.
package kms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// ciphertextPrefix is how Transit ciphertext is recognized; the format
	// beyond the prefix is opaque to this service.
	ciphertextPrefix = "vault:"

	defaultTransitMount = "transit"
	defaultTimeout      = 5 * time.Second
)

var (
	ErrNotConfigured = errors.New("kms: client is not configured")
	ErrRemote        = errors.New("kms: remote operation failed")
)

// Config carries connection and AppRole settings, typically sourced from
// VAULT_* environment variables.
type Config struct {
	Addr      string
	RoleID    string
	SecretID  string
	Token     string // pre-issued token; skips AppRole login when set
	Namespace string
	Mount     string // transit mount path, default "transit"
	Timeout   time.Duration
}

// Client talks to one Vault server. It caches the token obtained from
// AppRole login and re-authenticates on 403.
type Client struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	token string
}

// NewClient validates the config and builds a client. No network traffic
// happens until the first operation.
func NewClient(cfg Config) (*Client, error) {
	cfg.Addr = strings.TrimRight(strings.TrimSpace(cfg.Addr), "/")
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: address is required", ErrNotConfigured)
	}
	if cfg.Token == "" && (cfg.RoleID == "" || cfg.SecretID == "") {
		return nil, fmt.Errorf("%w: token or approle credentials are required", ErrNotConfigured)
	}
	if cfg.Mount == "" {
		cfg.Mount = defaultTransitMount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		token: cfg.Token,
	}, nil
}

// Prefix identifies remote ciphertext, satisfying fieldcrypt.Remote.
func (c *Client) Prefix() string { return ciphertextPrefix }

// Healthy probes the Vault health endpoint. Sealed or unreachable servers
// report unhealthy; callers then fall back to local encryption.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Addr+"/v1/sys/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// 200 = initialized, unsealed, active; 429 = unsealed standby.
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusTooManyRequests
}

// Encrypt encrypts plaintext under the named transit key. The returned
// ciphertext keeps Vault's own "vault:vN:..." format.
func (c *Client) Encrypt(ctx context.Context, plaintext, keyName string) (string, error) {
	payload := map[string]string{
		"plaintext": base64.StdEncoding.EncodeToString([]byte(plaintext)),
	}
	var out struct {
		Data struct {
			Ciphertext string `json:"ciphertext"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v1/%s/encrypt/%s", c.cfg.Mount, keyName)
	if err := c.write(ctx, path, payload, &out); err != nil {
		return "", err
	}
	if out.Data.Ciphertext == "" {
		return "", fmt.Errorf("%w: no ciphertext returned", ErrRemote)
	}
	return out.Data.Ciphertext, nil
}

// Decrypt reverses Encrypt for a transit ciphertext.
func (c *Client) Decrypt(ctx context.Context, ciphertext, keyName string) (string, error) {
	payload := map[string]string{"ciphertext": ciphertext}
	var out struct {
		Data struct {
			Plaintext string `json:"plaintext"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v1/%s/decrypt/%s", c.cfg.Mount, keyName)
	if err := c.write(ctx, path, payload, &out); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(out.Data.Plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed plaintext", ErrRemote)
	}
	return string(raw), nil
}

// RotateKey rotates the named transit key. Existing ciphertext remains
// decryptable; new encryptions use the new key version.
func (c *Client) RotateKey(ctx context.Context, keyName string) error {
	path := fmt.Sprintf("/v1/%s/keys/%s/rotate", c.cfg.Mount, keyName)
	return c.write(ctx, path, map[string]string{}, nil)
}

func (c *Client) write(ctx context.Context, path string, payload any, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	status, err := c.doWrite(ctx, path, token, payload, out)
	if err != nil {
		return err
	}
	if status == http.StatusForbidden && c.cfg.RoleID != "" {
		// Token likely expired: login once more and retry.
		token, err = c.login(ctx)
		if err != nil {
			return err
		}
		status, err = c.doWrite(ctx, path, token, payload, out)
		if err != nil {
			return err
		}
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: status %d", ErrRemote, status)
	}
	return nil
}

func (c *Client) doWrite(ctx context.Context, path, token string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Addr+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vault-Token", token)
	if c.cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.cfg.Namespace)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrRemote, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"role_id":   c.cfg.RoleID,
		"secret_id": c.cfg.SecretID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Addr+"/v1/auth/approle/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.cfg.Namespace)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: approle login status %d", ErrRemote, resp.StatusCode)
	}
	var out struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode login response: %v", ErrRemote, err)
	}
	if out.Auth.ClientToken == "" {
		return "", fmt.Errorf("%w: no token received", ErrRemote)
	}
	c.mu.Lock()
	c.token = out.Auth.ClientToken
	c.mu.Unlock()
	return out.Auth.ClientToken, nil
}
