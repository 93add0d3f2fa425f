// Package connectors holds the capability connectors: one authenticated
// connection to one external service per instance ("gmail:work",
// "wmata:default"). Connectors are thin provider clients; normalization and
// ordering happen in the owning agent.
package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config is the per-connector configuration block loaded from the config
// file. Extra carries provider-specific settings (station ids, units).
type Config struct {
	Account string            `yaml:"account"`
	APIKey  string            `yaml:"api_key"`
	Token   string            `yaml:"token"`
	BaseURL string            `yaml:"base_url"`
	Extra   map[string]string `yaml:"extra"`
}

func (c Config) extra(key, fallback string) string {
	if v, ok := c.Extra[key]; ok && v != "" {
		return v
	}
	return fallback
}

// base carries the identity and readiness bookkeeping shared by all
// connectors.
type base struct {
	typ     string
	account string
	ready   bool
}

func newBase(typ, account string) base {
	if account == "" {
		account = "default"
	}
	return base{typ: typ, account: account}
}

func (b *base) Name() string    { return b.typ + ":" + b.account }
func (b *base) Type() string    { return b.typ }
func (b *base) Account() string { return b.account }
func (b *base) Ready() bool     { return b.ready }
func (b *base) Close() error    { return nil }

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// getJSON issues a GET and decodes the JSON body into out. Non-2xx
// responses become errors carrying the body.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doJSON issues a request with an optional JSON payload, discarding the
// response body. Used for PATCH and DELETE calls where only the status
// matters.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// postJSON issues a POST with a JSON payload and decodes the JSON response
// into out (out may be nil).
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
