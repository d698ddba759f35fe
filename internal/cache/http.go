package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/contentmirror/internal/retry"
)

type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a provider that always yields token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

type HTTPOptions struct {
	URL           string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// HTTPInvalidator POSTs a purge request to a cache endpoint.
type HTTPInvalidator struct {
	url           string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	retry         retry.Policy
}

type purgeRequest struct {
	Source      string `json:"source"`
	RequestedAt string `json:"requestedAt"`
}

func NewHTTPInvalidator(opts HTTPOptions) *HTTPInvalidator {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPInvalidator{
		url:           strings.TrimSpace(opts.URL),
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		retry:         retry.Policy{MaxRetries: opts.MaxRetries, BaseDelay: opts.BaseDelay, MaxDelay: opts.MaxDelay},
	}
}

func (c *HTTPInvalidator) Invalidate(ctx context.Context) error {
	if c == nil || c.url == "" {
		return fmt.Errorf("cache invalidation url is required")
	}
	token := ""
	if c.tokenProvider != nil {
		var err error
		token, err = c.tokenProvider(ctx)
		if err != nil {
			return err
		}
		token = strings.TrimSpace(token)
	}
	now := time.Now().UTC()
	bodyBytes, err := json.Marshal(purgeRequest{Source: "contentmirror", RequestedAt: now.Format(time.RFC3339)})
	if err != nil {
		return err
	}
	correlationID := fmt.Sprintf("purge_%d", now.UnixNano())

	return retry.Do(ctx, c.retry, func(bo *retry.BackOff) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
		if err != nil {
			return retry.Permanent(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		failure := fmt.Errorf("cache invalidation failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if retry.Retryable(resp.StatusCode) {
			bo.Hint(resp.Header.Get("Retry-After"))
			return failure
		}
		return retry.Permanent(failure)
	})
}
