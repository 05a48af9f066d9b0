package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		outcome domain.Outcome
	}{
		{"ok", http.StatusOK, domain.OutcomeSuccess},
		{"created", http.StatusCreated, domain.OutcomeSuccess},
		{"rate limited", http.StatusTooManyRequests, domain.OutcomeRateLimited},
		{"timeout", http.StatusRequestTimeout, domain.OutcomeRetryable},
		{"server error", http.StatusInternalServerError, domain.OutcomeRetryable},
		{"bad gateway", http.StatusBadGateway, domain.OutcomeRetryable},
		{"unauthorized", http.StatusUnauthorized, domain.OutcomeFatal},
		{"bad request", http.StatusBadRequest, domain.OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.code, Header: http.Header{}}
			err := classifyStatus("test-dep", resp, nil)
			if got := domain.ClassifyError(err); got != tt.outcome {
				t.Errorf("classifyStatus(%d) outcome = %v, want %v", tt.code, got, tt.outcome)
			}
		})
	}
}

func TestClassifyStatusCarriesRetryAfter(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"7"}},
	}
	err := classifyStatus("test-dep", resp, nil)

	hint, ok := domain.RetryAfterHint(err)
	if !ok || hint != 7*time.Second {
		t.Errorf("RetryAfterHint = (%v, %v), want (7s, true)", hint, ok)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("parseRetryAfter(30) = %v, want 30s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v, want 0", got)
	}
	if got := parseRetryAfter("not-a-number"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v, want 0", got)
	}

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Errorf("parseRetryAfter(http date) = %v, want ~1m", got)
	}
}

func TestDoJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("Authorization = %q", got)
		}
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(map[string]string{"echo": in["value"]})
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := doJSON(context.Background(), srv.Client(), "test-dep", http.MethodPost, srv.URL,
		"key-1", map[string]string{"value": "hello"}, &out)
	if err != nil {
		t.Fatalf("doJSON: %v", err)
	}
	if out.Echo != "hello" {
		t.Errorf("echo = %q, want hello", out.Echo)
	}
}

func TestDoJSONMapsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := doJSON(context.Background(), srv.Client(), "test-dep", http.MethodGet, srv.URL, "", nil, nil)
	var re *domain.RetryableError
	if !errors.As(err, &re) {
		t.Errorf("doJSON 503 = %v, want RetryableError", err)
	}
}

func TestDoJSONConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	err := doJSON(context.Background(), newHTTPClient(time.Second), "test-dep", http.MethodGet, srv.URL, "", nil, nil)
	var re *domain.RetryableError
	if !errors.As(err, &re) {
		t.Errorf("doJSON refused conn = %v, want RetryableError", err)
	}
}
