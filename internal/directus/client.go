// Package directus is a small client for the Directus items API: it fetches
// whole collections with nested relations and patches single items.
package directus

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
	"sync"
	"time"

	"github.com/agentworkforce/contentmirror/internal/retry"
)

var ErrUnauthorized = errors.New("directus: unauthorized")

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	Email      string
	Password   string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	UserAgent  string
}

type Client struct {
	baseURL    string
	staticTok  string
	email      string
	password   string
	httpClient *http.Client
	retry      retry.Policy
	userAgent  string

	mu          sync.Mutex
	accessToken string
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8055"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		staticTok:  strings.TrimSpace(opts.Token),
		email:      strings.TrimSpace(opts.Email),
		password:   opts.Password,
		httpClient: httpClient,
		retry:      retry.Policy{MaxRetries: opts.MaxRetries, BaseDelay: opts.BaseDelay, MaxDelay: opts.MaxDelay},
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

// Fetch returns every item of collection, resolving relations depth levels
// deep. filter is sent as the Directus filter object when non-empty.
func (c *Client) Fetch(ctx context.Context, collection string, depth int, filter map[string]any) ([]Record, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	q := url.Values{}
	q.Set("fields", FieldsForDepth(depth))
	q.Set("limit", "-1")
	if len(filter) > 0 {
		encoded, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		q.Set("filter", string(encoded))
	}
	var out struct {
		Data []Record `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/items/"+url.PathEscape(collection)+"?"+q.Encode(), nil, &out, true); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// UpdateItem issues a partial update of one item.
func (c *Client) UpdateItem(ctx context.Context, collection, id string, data map[string]any) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("collection and id are required")
	}
	path := "/items/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	return c.doJSON(ctx, http.MethodPatch, path, data, nil, true)
}

// FieldsForDepth renders the fields selector that expands relations depth
// levels deep: 0 -> "*", 2 -> "*.*.*".
func FieldsForDepth(depth int) string {
	if depth < 0 {
		depth = 0
	}
	return "*" + strings.Repeat(".*", depth)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.staticTok != "" {
		return c.staticTok, nil
	}
	if c.email == "" {
		return "", nil
	}
	c.mu.Lock()
	cached := c.accessToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	var out struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	body := map[string]any{"email": c.email, "password": c.password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &out, false); err != nil {
		return "", fmt.Errorf("directus login: %w", err)
	}
	if out.Data.AccessToken == "" {
		return "", fmt.Errorf("directus login: empty access token")
	}
	c.mu.Lock()
	c.accessToken = out.Data.AccessToken
	c.mu.Unlock()
	return out.Data.AccessToken, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any, authenticated bool) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	relogged := false
	return retry.Do(ctx, c.retry, func(bo *retry.BackOff) error {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return retry.Permanent(err)
		}
		if authenticated {
			tok, err := c.token(ctx)
			if err != nil {
				return retry.Permanent(err)
			}
			if tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
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
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return retry.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}

		httpErr := decodeHTTPError(resp.StatusCode, payload)
		if resp.StatusCode == http.StatusUnauthorized && authenticated && c.staticTok == "" && c.email != "" && !relogged {
			relogged = true
			c.dropToken()
			return httpErr
		}
		if retry.Retryable(resp.StatusCode) {
			bo.Hint(resp.Header.Get("Retry-After"))
			return httpErr
		}
		return retry.Permanent(httpErr)
	})
}

func decodeHTTPError(status int, payload []byte) *HTTPError {
	var errPayload struct {
		Errors []struct {
			Message    string `json:"message"`
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	httpErr := &HTTPError{StatusCode: status, Message: strings.TrimSpace(string(payload))}
	if json.Unmarshal(payload, &errPayload) == nil && len(errPayload.Errors) > 0 {
		httpErr.Code = errPayload.Errors[0].Extensions.Code
		httpErr.Message = errPayload.Errors[0].Message
	}
	return httpErr
}
