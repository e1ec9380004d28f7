package msa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

func TestExchangeCodeSendsPKCEAndScope(t *testing.T) {
	t.Parallel()

	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		form = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"code":          r.PostFormValue("code"),
			"code_verifier": r.PostFormValue("code_verifier"),
			"redirect_uri":  r.PostFormValue("redirect_uri"),
			"scope":         r.PostFormValue("scope"),
			"client_id":     r.PostFormValue("client_id"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":86400}`))
	}))
	defer srv.Close()

	client := &TokenClient{TokenURL: srv.URL, HTTPClient: srv.Client()}
	token, err := client.ExchangeCode(context.Background(), "code-1", "verifier-1", "http://127.0.0.1:43210/callback")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if token.AccessToken != "at-1" || token.RefreshToken != "rt-1" {
		t.Errorf("token = %+v", token)
	}
	if token.Expiry.IsZero() {
		t.Error("token expiry not set")
	}

	want := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "code-1",
		"code_verifier": "verifier-1",
		"redirect_uri":  "http://127.0.0.1:43210/callback",
		"scope":         Scope,
		"client_id":     ClientID,
	}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%q] = %q, want %q", k, form[k], v)
		}
	}
}

func TestExchangeCodeNormalizesMissingExpiry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer"}`))
	}))
	defer srv.Close()

	client := &TokenClient{TokenURL: srv.URL, HTTPClient: srv.Client()}
	token, err := client.ExchangeCode(context.Background(), "code-1", "verifier-1", "http://127.0.0.1:1/callback")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token.Expiry.IsZero() {
		t.Error("expiry should be defaulted when expires_in is absent")
	}
}

func TestRefreshMapsInvalidGrant(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer srv.Close()

	client := &TokenClient{TokenURL: srv.URL, HTTPClient: srv.Client()}
	_, err := client.Refresh(context.Background(), "dead-refresh-token")

	var oauthErr *auth.OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("Refresh() error = %v, want *auth.OAuthError", err)
	}
	if oauthErr.Code != "invalid_grant" {
		t.Errorf("Code = %q, want invalid_grant", oauthErr.Code)
	}
}

func TestRefreshKeepsOldRefreshToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	client := &TokenClient{TokenURL: srv.URL, HTTPClient: srv.Client()}
	token, err := client.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if token.RefreshToken != "rt-old" {
		t.Errorf("RefreshToken = %q, want rt-old", token.RefreshToken)
	}
}
