package msa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dome-launcher/dome-auth/internal/auth"
	"github.com/dome-launcher/dome-auth/internal/misc"
)

// CallbackServer is the loopback HTTP listener that receives the OAuth
// redirect from the browser. It captures the authorization code and state for
// exactly one login attempt and then shuts down.
type CallbackServer struct {
	// server is the underlying HTTP server instance
	server *http.Server
	// listener is the bound loopback listener
	listener net.Listener
	// port is the actual bound port, resolved after Start for port 0
	port int
	// state is the expected state parameter for this attempt
	state string
	// resultChan is a channel for delivering the captured callback
	resultChan chan *CallbackResult
	// errorChan is a channel for delivering listener failures
	errorChan chan error
	// mu protects server state
	mu sync.Mutex
	// running indicates whether the server is currently listening
	running bool
}

// CallbackResult contains the parameters captured from the OAuth redirect.
type CallbackResult struct {
	// Code is the authorization code received from the OAuth provider
	Code string
	// State is the state parameter echoed back by the provider
	State string
	// Error contains the OAuth error code if the flow failed
	Error string
	// ErrorDescription is the provider's description of the failure
	ErrorDescription string
}

// NewCallbackServer creates a callback server bound to the given loopback
// port for the given attempt state. Port 0 asks the OS for an ephemeral port;
// call Port after Start to learn which one was chosen.
func NewCallbackServer(port int, state string) *CallbackServer {
	return &CallbackServer{
		port:       port,
		state:      state,
		resultChan: make(chan *CallbackResult, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start binds the listener and begins serving the callback endpoint.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("callback server is already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return auth.WrapAuthenticationError(auth.ErrServerStartFailed, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.errorChan <- auth.WrapAuthenticationError(auth.ErrServerStartFailed, errServe)
		}
	}()

	log.Debugf("callback server listening on 127.0.0.1:%d", s.port)
	return nil
}

// Port returns the bound port. Only meaningful after Start.
func (s *CallbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// RedirectURI returns the redirect URI registered with this attempt. The
// exact same string must be sent on the token exchange.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", s.Port())
}

// Stop shuts the server down and releases the port. Safe to call more than
// once.
func (s *CallbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("stopping callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil

	return err
}

// Wait blocks until the redirect arrives, the listener fails, the timeout
// elapses, or the context is cancelled.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-time.After(timeout):
		return nil, auth.ErrLoginTimeout
	case <-ctx.Done():
		return nil, auth.WrapAuthenticationError(auth.ErrLoginCancelled, ctx.Err())
	}
}

// handleCallback handles the OAuth redirect. A callback carrying the wrong
// state fails the attempt outright: accepting the code would bind the session
// to whoever initiated that foreign flow.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("received OAuth callback")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errorParam := query.Get("error")

	if errorParam != "" {
		log.Warnf("OAuth error received on callback: %s", errorParam)
		s.sendResult(&CallbackResult{
			Error:            errorParam,
			ErrorDescription: query.Get("error_description"),
		})
		s.writePage(w, http.StatusBadRequest, LoginErrorHTML)
		return
	}

	if code == "" {
		log.Warn("callback carried no authorization code")
		s.writePage(w, http.StatusBadRequest, LoginErrorHTML)
		return
	}

	if state != s.state {
		log.Warn("callback state does not match this attempt")
		s.sendError(auth.ErrStateMismatch)
		s.writePage(w, http.StatusBadRequest, LoginErrorHTML)
		return
	}

	s.sendResult(&CallbackResult{Code: code, State: state})
	s.writePage(w, http.StatusOK, LoginSuccessHTML)
}

// Submit feeds a manually pasted redirect URL into the attempt, for setups
// where the browser cannot reach the loopback listener. Accepts anything
// ParseOAuthCallback understands.
func (s *CallbackServer) Submit(raw string) error {
	callback, err := misc.ParseOAuthCallback(raw)
	if err != nil {
		return err
	}
	if callback == nil {
		return fmt.Errorf("empty callback input")
	}

	if callback.Error != "" {
		s.sendResult(&CallbackResult{
			Error:            callback.Error,
			ErrorDescription: callback.ErrorDescription,
		})
		return nil
	}
	if callback.State != s.state {
		s.sendError(auth.ErrStateMismatch)
		return auth.ErrStateMismatch
	}

	s.sendResult(&CallbackResult{Code: callback.Code, State: callback.State})
	return nil
}

// sendResult delivers the result without blocking the handler. Only the first
// result per attempt is kept.
func (s *CallbackServer) sendResult(result *CallbackResult) {
	select {
	case s.resultChan <- result:
	default:
		log.Warn("callback result channel is full, result dropped")
	}
}

// sendError fails the waiting attempt without blocking the handler.
func (s *CallbackServer) sendError(err error) {
	select {
	case s.errorChan <- err:
	default:
		log.Warn("callback error channel is full, error dropped")
	}
}

func (s *CallbackServer) writePage(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("failed to write callback page: %v", err)
	}
}
