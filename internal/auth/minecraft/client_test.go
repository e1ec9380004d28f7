package minecraft

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

func TestLoginWithXbox(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/authentication/login_with_xbox" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		want := `{"identityToken":"XBL3.0 x=uhs-1;xsts-token-1"}`
		if string(body) != want {
			t.Errorf("body = %s, want %s", body, want)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"internal-id","access_token":"mc-token-1","token_type":"Bearer","expires_in":86400}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	resp, err := client.LoginWithXbox(context.Background(), "uhs-1", "xsts-token-1")
	if err != nil {
		t.Fatalf("LoginWithXbox() error = %v", err)
	}
	if resp.AccessToken != "mc-token-1" || resp.TokenType != "Bearer" || resp.ExpiresIn != 86400 {
		t.Errorf("response = %+v", resp)
	}
}

func TestLoginWithXboxMissingToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"internal-id"}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := client.LoginWithXbox(context.Background(), "uhs-1", "xsts-token-1")

	var protoErr *auth.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Field != "access_token" {
		t.Fatalf("error = %v, want protocol error for access_token", err)
	}
}

func TestGetProfile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/minecraft/profile" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mc-token-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc-123","name":"Steve"}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	profile, err := client.GetProfile(context.Background(), "mc-token-1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if profile.ID != "abc-123" || profile.Name != "Steve" {
		t.Errorf("profile = %+v", profile)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errorType":"NOT_FOUND"}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := client.GetProfile(context.Background(), "mc-token-1")

	var transportErr *auth.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *auth.TransportError", err)
	}
	if transportErr.Hop != "minecraft_profile" || transportErr.StatusCode != http.StatusNotFound {
		t.Errorf("transport error = %+v", transportErr)
	}
}
