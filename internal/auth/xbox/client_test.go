package xbox

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(NewSignedTransport(srv.Client(), key))
	client.DeviceAuthURL = srv.URL
	client.SisuURL = srv.URL
	return client, srv
}

// verifySignature checks the Signature header against the request bytes using
// the signing key's public half.
func verifySignature(t *testing.T, key *DeviceKey, r *http.Request, body []byte) {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(r.Header.Get("Signature"))
	if err != nil {
		t.Errorf("Signature header is not base64: %v", err)
		return
	}
	if len(raw) != 4+8+32+32 {
		t.Errorf("Signature header decodes to %d bytes", len(raw))
		return
	}
	filetime := binary.BigEndian.Uint64(raw[4:12])
	payload := buildSigningPayload(filetime, r.URL.RequestURI(), body)
	if !key.Verify(payload, raw[12:]) {
		t.Error("Signature header does not verify against the request")
	}
}

func TestAuthenticateDevice(t *testing.T) {
	t.Parallel()

	var client *Client
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/device/authenticate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-xbl-contract-version"); got != "1" {
			t.Errorf("x-xbl-contract-version = %q, want 1", got)
		}
		body, _ := io.ReadAll(r.Body)
		verifySignature(t, client.Transport.Key, r, body)

		var req struct {
			Properties struct {
				AuthMethod string            `json:"AuthMethod"`
				ID         string            `json:"Id"`
				DeviceType string            `json:"DeviceType"`
				ProofKey   map[string]string `json:"ProofKey"`
			} `json:"Properties"`
			RelyingParty string `json:"RelyingParty"`
			TokenType    string `json:"TokenType"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if req.Properties.AuthMethod != "ProofOfPossession" || req.Properties.DeviceType != "Win32" {
			t.Errorf("properties = %+v", req.Properties)
		}
		if req.RelyingParty != "http://auth.xboxlive.com" || req.TokenType != "JWT" {
			t.Errorf("relying party = %q, token type = %q", req.RelyingParty, req.TokenType)
		}
		if req.Properties.ProofKey["x"] != client.Transport.Key.X {
			t.Error("proof key does not match the signing key")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"IssueInstant":"2026-08-28T10:00:00.0000000Z","NotAfter":"2026-08-29T10:00:00.0000000Z","Token":"device-token-1"}`))
	})
	client, _ = newTestClient(t, handler)

	token, err := client.AuthenticateDevice(context.Background())
	if err != nil {
		t.Fatalf("AuthenticateDevice() error = %v", err)
	}
	if token.Token != "device-token-1" {
		t.Errorf("Token = %q", token.Token)
	}
}

func TestAuthenticateSession(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			AppId       string            `json:"AppId"`
			DeviceToken string            `json:"DeviceToken"`
			Offers      []string          `json:"Offers"`
			Query       map[string]string `json:"Query"`
			RedirectUri string            `json:"RedirectUri"`
			Sandbox     string            `json:"Sandbox"`
			TitleId     string            `json:"TitleId"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if req.AppId != AppID || req.Sandbox != "RETAIL" || req.TitleId != TitleID {
			t.Errorf("request = %+v", req)
		}
		if req.Query["code_challenge"] != "challenge-1" || req.Query["code_challenge_method"] != "S256" {
			t.Errorf("query = %v", req.Query)
		}
		if req.RedirectUri != "http://127.0.0.1:45678/callback" {
			t.Errorf("redirect uri = %q", req.RedirectUri)
		}

		w.Header().Set("X-SessionId", "session-1")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MsaOauthRedirect":"https://login.live.com/oauth20_authorize.srf?x=1"}`))
	})
	client, _ := newTestClient(t, handler)

	session, err := client.AuthenticateSession(context.Background(), "device-token-1", "challenge-1", "state-1", "http://127.0.0.1:45678/callback")
	if err != nil {
		t.Fatalf("AuthenticateSession() error = %v", err)
	}
	if session.SessionID != "session-1" {
		t.Errorf("SessionID = %q", session.SessionID)
	}
	if session.RedirectURL == "" {
		t.Error("RedirectURL is empty")
	}
}

func TestAuthenticateSessionMissingSessionID(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MsaOauthRedirect":"https://login.live.com/oauth20_authorize.srf"}`))
	})
	client, _ := newTestClient(t, handler)

	_, err := client.AuthenticateSession(context.Background(), "dt", "c", "s", "http://127.0.0.1:1/callback")
	var protoErr *auth.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Field != "X-SessionId" {
		t.Fatalf("error = %v, want protocol error for X-SessionId", err)
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-xbl-contract-version") != "" {
			t.Error("authorize must not carry x-xbl-contract-version")
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			AccessToken string `json:"AccessToken"`
			SessionId   string `json:"SessionId"`
			SiteName    string `json:"SiteName"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if req.AccessToken != "t=msa-access-1" {
			t.Errorf("AccessToken = %q", req.AccessToken)
		}
		if req.SessionId != "session-1" {
			t.Errorf("SessionId = %q", req.SessionId)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"AuthorizationToken":{"Token":"xsts-1","DisplayClaims":{"xui":[{"uhs":"uhs-1"}]}}}`))
	})
	client, _ := newTestClient(t, handler)

	authz, err := client.Authorize(context.Background(), "device-token-1", "msa-access-1", "session-1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if authz.Token != "xsts-1" || authz.UserHash != "uhs-1" {
		t.Errorf("authorization = %+v", authz)
	}
}

func TestAuthorizeOmitsEmptySessionID(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if _, ok := req["SessionId"]; ok {
			t.Error("refresh authorize must not carry SessionId")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"AuthorizationToken":{"Token":"xsts-2","DisplayClaims":{"xui":[{"uhs":"uhs-2"}]}}}`))
	})
	client, _ := newTestClient(t, handler)

	if _, err := client.Authorize(context.Background(), "device-token-1", "msa-access-2", ""); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
}

func TestAuthorizeMissingUserHash(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"AuthorizationToken":{"Token":"xsts-1","DisplayClaims":{"xui":[]}}}`))
	})
	client, _ := newTestClient(t, handler)

	_, err := client.Authorize(context.Background(), "dt", "at", "sid")
	var protoErr *auth.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Field != "xui[0].uhs" {
		t.Fatalf("error = %v, want protocol error for xui[0].uhs", err)
	}
}

func TestPostSurfacesServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"XErr":2148916233}`))
	})
	client, _ := newTestClient(t, handler)

	_, err := client.AuthenticateDevice(context.Background())
	var transportErr *auth.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *auth.TransportError", err)
	}
	if transportErr.Hop != "device_auth" || transportErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("transport error = %+v", transportErr)
	}
}
