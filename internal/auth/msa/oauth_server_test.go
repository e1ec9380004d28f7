package msa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

func startTestServer(t *testing.T, state string) *CallbackServer {
	t.Helper()
	s := NewCallbackServer(0, state)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestCallbackServerDeliversCode(t *testing.T) {
	t.Parallel()

	s := startTestServer(t, "state-1")

	resp, err := http.Get(s.RedirectURI() + "?code=abc-123&state=state-1")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	result, err := s.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Code != "abc-123" || result.State != "state-1" {
		t.Errorf("result = %+v", result)
	}
}

func TestCallbackServerDeliversOAuthError(t *testing.T) {
	t.Parallel()

	s := startTestServer(t, "state-1")

	resp, err := http.Get(s.RedirectURI() + "?error=access_denied&error_description=user+said+no")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	resp.Body.Close()

	result, err := s.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Error != "access_denied" {
		t.Errorf("result.Error = %q, want access_denied", result.Error)
	}
	if result.ErrorDescription != "user said no" {
		t.Errorf("result.ErrorDescription = %q", result.ErrorDescription)
	}
}

func TestCallbackServerRejectsWrongState(t *testing.T) {
	t.Parallel()

	s := startTestServer(t, "expected-state")

	resp, err := http.Get(s.RedirectURI() + "?code=stolen&state=attacker-state")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	// The mismatch fails the attempt right away instead of leaving it to
	// run into the timeout.
	_, err = s.Wait(context.Background(), 300*time.Millisecond)
	if !errors.Is(err, auth.ErrStateMismatch) {
		t.Fatalf("Wait() error = %v, want state mismatch", err)
	}
}

func TestCallbackServerSubmitRejectsWrongState(t *testing.T) {
	t.Parallel()

	s := startTestServer(t, "expected-state")

	err := s.Submit(s.RedirectURI() + "?code=stolen&state=attacker-state")
	if !errors.Is(err, auth.ErrStateMismatch) {
		t.Fatalf("Submit() error = %v, want state mismatch", err)
	}
	_, err = s.Wait(context.Background(), 300*time.Millisecond)
	if !errors.Is(err, auth.ErrStateMismatch) {
		t.Fatalf("Wait() error = %v, want state mismatch", err)
	}
}

func TestCallbackServerStopFreesPort(t *testing.T) {
	t.Parallel()

	s := NewCallbackServer(0, "state")
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port := s.Port()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("port %d not released: %v", port, err)
	}
	ln.Close()
}

func TestCallbackServerWaitCancelled(t *testing.T) {
	t.Parallel()

	s := startTestServer(t, "state")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Wait(ctx, time.Second)
	var authErr *auth.AuthenticationError
	if !errors.As(err, &authErr) || authErr.Type != "login_cancelled" {
		t.Fatalf("Wait() error = %v, want login_cancelled", err)
	}
}
