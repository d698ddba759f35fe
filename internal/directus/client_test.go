package directus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientFetchDecodesRecordsAndTranslations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items/articles" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("fields"); got != "*.*.*" {
			t.Fatalf("expected fields *.*.*, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "-1" {
			t.Fatalf("expected limit -1, got %q", got)
		}
		if got := r.URL.Query().Get("filter"); got != `{"category":{"_eq":"news"}}` {
			t.Fatalf("expected filter to be forwarded, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer static-token" {
			t.Fatalf("expected static bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":7,"status":"published","title":"Hello","sort":3,"slug":"hello","translations":[
				{"id":1,"languages_code":{"code":"de-DE"},"title":"Hallo"},
				{"id":2,"languages_code":"en-US","title":"Hi"}
			]},
			{"id":"abc","title":"No status"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, Token: "static-token", HTTPClient: server.Client()})
	records, err := client.Fetch(context.Background(), "articles", 2, map[string]any{
		"category": map[string]any{"_eq": "news"},
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.ID != "7" || first.Status != StatusPublished || !first.HasStatus {
		t.Fatalf("unexpected first record header: %+v", first)
	}
	if sort, ok := first.Field("sort"); !ok || sort != "3" {
		t.Fatalf("expected sort 3, got %q (%v)", sort, ok)
	}
	if len(first.Translations) != 2 {
		t.Fatalf("expected 2 translations, got %d", len(first.Translations))
	}
	if first.Translations[0].LanguageCode != "de-DE" || first.Translations[1].LanguageCode != "en-US" {
		t.Fatalf("unexpected language codes: %+v", first.Translations)
	}
	if _, ok := first.Fields["translations"]; ok {
		t.Fatalf("expected translations to be lifted out of fields")
	}
	if records[1].ID != "abc" || records[1].HasStatus {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"errors":[{"message":"retry","extensions":{"code":"SERVICE_UNAVAILABLE"}}]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, HTTPClient: server.Client(), BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	records, err := client.Fetch(context.Background(), "pages", 0, nil)
	if err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"message":"You don't have permission","extensions":{"code":"FORBIDDEN"}}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, HTTPClient: server.Client(), BaseDelay: time.Millisecond})
	_, err := client.Fetch(context.Background(), "pages", 1, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusForbidden || httpErr.Code != "FORBIDDEN" {
		t.Fatalf("unexpected http error: %+v", httpErr)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected forbidden to match ErrUnauthorized")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", atomic.LoadInt32(&calls))
	}
}

func TestClientLogsInAndPatchesItem(t *testing.T) {
	var logins int32
	var patched map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/login" && r.Method == http.MethodPost:
			atomic.AddInt32(&logins, 1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["email"] != "editor@example.com" || body["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"access_token":"session-token","expires":900000}}`))
		case r.URL.Path == "/items/pages/12" && r.Method == http.MethodPatch:
			if r.Header.Get("Authorization") != "Bearer session-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &patched)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"id":12}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(ClientOptions{
		BaseURL:    server.URL,
		Email:      "editor@example.com",
		Password:   "secret",
		HTTPClient: server.Client(),
		BaseDelay:  time.Millisecond,
	})
	for i := 0; i < 2; i++ {
		if err := client.UpdateItem(context.Background(), "pages", "12", map[string]any{"slug": "ueber-uns"}); err != nil {
			t.Fatalf("update item failed: %v", err)
		}
	}
	if patched["slug"] != "ueber-uns" {
		t.Fatalf("expected slug patch, got %+v", patched)
	}
	if atomic.LoadInt32(&logins) != 1 {
		t.Fatalf("expected access token to be cached after one login, got %d logins", atomic.LoadInt32(&logins))
	}
}

func TestFieldsForDepth(t *testing.T) {
	cases := map[int]string{-1: "*", 0: "*", 1: "*.*", 3: "*.*.*.*"}
	for depth, want := range cases {
		if got := FieldsForDepth(depth); got != want {
			t.Fatalf("depth %d: expected %q, got %q", depth, want, got)
		}
	}
}

func TestRecordRejectsMissingID(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`{"title":"x"}`), &rec); err == nil {
		t.Fatalf("expected error for record without id")
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{json.Number("4.50"), "4.50"},
		{true, "1"},
		{false, ""},
		{float64(3), "3"},
		{[]any{"a", "b"}, `["a","b"]`},
	}
	for _, tc := range cases {
		if got := FormatValue(tc.in); got != tc.want {
			t.Fatalf("FormatValue(%#v): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
