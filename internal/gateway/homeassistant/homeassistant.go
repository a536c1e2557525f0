// Package homeassistant implements actionexec.HomeAssistantGateway over
// Home Assistant's REST API, using the standard library HTTP client
// wrapped in the gatewayerr hierarchy the way every other outbound
// integration in this tree reports failures.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend/internal/gatewayerr"
	"github.com/cenkalti/backoff/v4"
)

// Config holds the Home Assistant connection settings.
type Config struct {
	BaseURL     string // e.g. "http://homeassistant.local:8123"
	AccessToken string // long-lived access token
	Timeout     time.Duration
	MaxRetries  uint64
}

// DefaultConfig returns sane defaults for the optional fields.
func DefaultConfig(baseURL, token string) Config {
	return Config{BaseURL: baseURL, AccessToken: token, Timeout: 10 * time.Second, MaxRetries: 2}
}

// Gateway calls Home Assistant's /api/services/<domain>/<service> endpoint.
type Gateway struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and returns a ready-to-use Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, gatewayerr.NotConfigured("home_assistant", "missing base URL")
	}
	if cfg.AccessToken == "" {
		return nil, gatewayerr.NotConfigured("home_assistant", "missing access token")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Gateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// CallService invokes domain.service with the given target/data body,
// retrying transient network failures with exponential backoff before
// surfacing a gatewayerr.Error.
func (g *Gateway) CallService(ctx context.Context, domain, service string, target, data map[string]any) error {
	body := map[string]any{}
	for k, v := range target {
		body[k] = v
	}
	for k, v := range data {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return gatewayerr.Validation("home_assistant", "marshal call_service body")
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", g.cfg.BaseURL, domain, service)

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.cfg.MaxRetries)
	return backoff.Retry(func() error {
		return g.doCall(ctx, url, payload)
	}, backoff.WithContext(policy, ctx))
}

func (g *Gateway) doCall(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(gatewayerr.Validation("home_assistant", "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(gatewayerr.Timeout("home_assistant", "call_service", err))
		}
		return gatewayerr.NotReachable("home_assistant", "call_service", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(gatewayerr.Unauthorized("home_assistant", "call_service rejected"))
	case resp.StatusCode >= 500:
		return gatewayerr.NotReachable("home_assistant", fmt.Sprintf("call_service %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		return backoff.Permanent(gatewayerr.Validation("home_assistant", fmt.Sprintf("call_service %d: %s", resp.StatusCode, string(respBody))))
	}
	return nil
}
