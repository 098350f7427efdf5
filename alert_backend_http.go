package mlwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAlertBackend talks to an alert policy API over JSON. Transient
// failures (transport errors, 5xx, 429) are retried; other statuses fail
// the call with a BackendError.
type HTTPAlertBackend struct {
	baseURL string
	token   string
	client  *http.Client
	retryer *Retryer
}

// NewHTTPAlertBackend creates a backend client for the given base URL. The
// token, when non-empty, is sent as a bearer token on every request.
func NewHTTPAlertBackend(baseURL, token string) *HTTPAlertBackend {
	return &HTTPAlertBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		retryer: NewRetryer(DefaultRetryConfig()),
	}
}

func (b *HTTPAlertBackend) ListPolicies(ctx context.Context) ([]AlertPolicy, error) {
	var out struct {
		Policies []AlertPolicy `json:"alert_policies"`
	}
	if err := b.call(ctx, http.MethodGet, "/v1/alertPolicies", nil, &out); err != nil {
		return nil, err
	}
	return out.Policies, nil
}

func (b *HTTPAlertBackend) CreatePolicy(ctx context.Context, policy AlertPolicy) (AlertPolicy, error) {
	var out AlertPolicy
	if err := b.call(ctx, http.MethodPost, "/v1/alertPolicies", policy, &out); err != nil {
		return AlertPolicy{}, err
	}
	return out, nil
}

func (b *HTTPAlertBackend) UpdatePolicy(ctx context.Context, policy AlertPolicy) (AlertPolicy, error) {
	if policy.Name == "" {
		return AlertPolicy{}, fmt.Errorf("update requires a policy name")
	}
	var out AlertPolicy
	if err := b.call(ctx, http.MethodPut, "/v1/"+policy.Name, policy, &out); err != nil {
		return AlertPolicy{}, err
	}
	return out, nil
}

func (b *HTTPAlertBackend) ListNotificationChannels(ctx context.Context) ([]NotificationChannel, error) {
	var out struct {
		Channels []NotificationChannel `json:"notification_channels"`
	}
	if err := b.call(ctx, http.MethodGet, "/v1/notificationChannels", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// call performs one JSON round trip with retries.
func (b *HTTPAlertBackend) call(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	return b.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if b.token != "" {
			req.Header.Set("Authorization", "Bearer "+b.token)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return &BackendError{Op: op, Cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &BackendError{Op: op, Status: resp.StatusCode}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	})
}
