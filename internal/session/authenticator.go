// Package session orchestrates the full Microsoft/Xbox/Minecraft sign-in
// chain and keeps stored sessions launch-ready. It owns the interactive login
// flow end to end and the silent refresh performed before a game launch.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dome-launcher/dome-auth/internal/accounts"
	"github.com/dome-launcher/dome-auth/internal/auth"
	"github.com/dome-launcher/dome-auth/internal/auth/minecraft"
	"github.com/dome-launcher/dome-auth/internal/auth/msa"
	"github.com/dome-launcher/dome-auth/internal/auth/xbox"
	"github.com/dome-launcher/dome-auth/internal/browser"
	"github.com/dome-launcher/dome-auth/internal/config"
	"github.com/dome-launcher/dome-auth/internal/util"
)

const (
	// refreshMargin is how close to expiry a session may get before a launch
	// triggers a silent refresh.
	refreshMargin = 5 * time.Minute

	// sisuSettleDelay is how long to wait between capturing the redirect and
	// redeeming the code. The SISU session is not always ready server-side
	// the instant the browser lands.
	sisuSettleDelay = 500 * time.Millisecond

	// defaultSessionLifetime is assumed when the Minecraft login response
	// omits expires_in.
	defaultSessionLifetime int64 = 86400
)

// Endpoints collects the service base URLs the chain talks to. Tests swap
// them for local servers.
type Endpoints struct {
	DeviceAuthURL string
	SisuURL       string
	TokenURL      string
	MinecraftURL  string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DeviceAuthURL: xbox.DefaultDeviceAuthURL,
		SisuURL:       xbox.DefaultSisuURL,
		TokenURL:      msa.DefaultTokenURL,
		MinecraftURL:  minecraft.DefaultBaseURL,
	}
}

// CallbackListener is the surface of the loopback redirect listener the
// interactive flow drives. *msa.CallbackServer is the production
// implementation.
type CallbackListener interface {
	Start() error
	RedirectURI() string
	Wait(ctx context.Context, timeout time.Duration) (*msa.CallbackResult, error)
	Submit(raw string) error
	Stop(ctx context.Context) error
}

// Authenticator runs the sign-in chain. One authenticator serves the whole
// launcher; at most one interactive attempt is in flight at a time and a new
// one supersedes the old.
type Authenticator struct {
	cfg       *config.Config
	store     *accounts.Store
	endpoints Endpoints

	// HTTPClient serves the Xbox and Minecraft hops.
	HTTPClient *http.Client
	// TokenClient serves the live.com consumer token endpoint.
	TokenClient *msa.TokenClient

	// NewListener builds the redirect listener for an attempt. Tests inject
	// a fake here.
	NewListener func(port int, state string) CallbackListener
	// OpenURL sends the user's browser to the login page. It is the default
	// opener; Login accepts a per-attempt override.
	OpenURL func(url string) error

	mu             sync.Mutex
	cancelActive   context.CancelFunc
	activeListener CallbackListener
	generation     uint64
}

// NewAuthenticator wires an authenticator against the production endpoints.
// The token endpoint gets the browser-fingerprint client; the Xbox and
// Minecraft hops use a plain proxied client.
func NewAuthenticator(cfg *config.Config, store *accounts.Store) *Authenticator {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	util.SetProxy(cfg, httpClient)

	return &Authenticator{
		cfg:         cfg,
		store:       store,
		endpoints:   DefaultEndpoints(),
		HTTPClient:  httpClient,
		TokenClient: msa.NewTokenClient(msa.NewConsumerHTTPClient(cfg)),
		NewListener: func(port int, state string) CallbackListener {
			return msa.NewCallbackServer(port, state)
		},
		OpenURL: browser.OpenURL,
	}
}

// SetEndpoints overrides the service endpoints. Intended for tests.
func (a *Authenticator) SetEndpoints(e Endpoints) {
	a.endpoints = e
	a.TokenClient.TokenURL = e.TokenURL
}

// Login runs the interactive sign-in chain end to end and persists the
// resulting account as active. A login already in flight is cancelled; the
// newest attempt wins. Nothing is persisted unless every hop succeeds.
// A non-nil opener replaces OpenURL for this attempt only, so concurrent
// attempts cannot see each other's opener.
func (a *Authenticator) Login(ctx context.Context, opener func(url string) error) (*accounts.Account, error) {
	if opener == nil {
		opener = a.OpenURL
	}

	ctx, cancel := context.WithCancel(ctx)
	gen := a.takeOver(cancel)
	defer a.release(gen, cancel)

	attempt, err := a.beginAttempt(ctx)
	if err != nil {
		return nil, err
	}
	a.setActiveListener(attempt.listener)
	defer func() {
		a.setActiveListener(nil)
		_ = attempt.listener.Stop(context.Background())
	}()

	sisuSession, err := attempt.xbox.AuthenticateSession(ctx, attempt.deviceToken,
		attempt.pkce.CodeChallenge, attempt.state, attempt.listener.RedirectURI())
	if err != nil {
		return nil, err
	}

	log.Info("opening browser for Microsoft sign-in")
	if err := opener(sisuSession.RedirectURL); err != nil {
		log.WithError(err).Warnf("could not open browser, visit manually: %s", sisuSession.RedirectURL)
	}

	result, err := attempt.listener.Wait(ctx, a.cfg.LoginTimeout())
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, &auth.OAuthError{Code: result.Error, Description: result.ErrorDescription}
	}

	// Give the SISU session time to settle before redeeming the code.
	select {
	case <-time.After(sisuSettleDelay):
	case <-ctx.Done():
		return nil, auth.WrapAuthenticationError(auth.ErrLoginCancelled, ctx.Err())
	}

	token, err := a.TokenClient.ExchangeCode(ctx, result.Code, attempt.pkce.CodeVerifier, attempt.listener.RedirectURI())
	if err != nil {
		return nil, err
	}

	account, err := a.finishChain(ctx, attempt.xbox, attempt.deviceToken, token.AccessToken, token.RefreshToken, sisuSession.SessionID)
	if err != nil {
		return nil, err
	}

	if err := a.store.Upsert(account); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"account": account.Name}).Info("signed in")
	return account, nil
}

// attempt bundles the per-attempt state assembled before the browser opens.
type attempt struct {
	xbox        *xbox.Client
	deviceToken string
	pkce        *msa.PKCECodes
	state       string
	listener    CallbackListener
}

// beginAttempt prepares the attempt: the device key and token on one side,
// the PKCE material and redirect listener on the other. The device hop is
// network-bound so the two run concurrently.
func (a *Authenticator) beginAttempt(ctx context.Context) (*attempt, error) {
	key, err := xbox.GenerateKey()
	if err != nil {
		return nil, err
	}

	xboxClient := &xbox.Client{
		Transport:     xbox.NewSignedTransport(a.HTTPClient, key),
		DeviceAuthURL: a.endpoints.DeviceAuthURL,
		SisuURL:       a.endpoints.SisuURL,
	}

	att := &attempt{xbox: xboxClient}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		deviceToken, errDevice := xboxClient.AuthenticateDevice(groupCtx)
		if errDevice != nil {
			return errDevice
		}
		att.deviceToken = deviceToken.Token
		return nil
	})
	group.Go(func() error {
		pkce, errPKCE := msa.GeneratePKCECodes()
		if errPKCE != nil {
			return errPKCE
		}
		state, errState := msa.GenerateState()
		if errState != nil {
			return errState
		}
		listener := a.NewListener(a.cfg.CallbackPort, state)
		if errStart := listener.Start(); errStart != nil {
			return errStart
		}
		att.pkce = pkce
		att.state = state
		att.listener = listener
		return nil
	})
	if err := group.Wait(); err != nil {
		if att.listener != nil {
			_ = att.listener.Stop(context.Background())
		}
		return nil, err
	}
	return att, nil
}

// finishChain runs the back half shared by login and refresh: SISU authorize,
// Minecraft login, profile fetch. sessionID is empty on the refresh path.
func (a *Authenticator) finishChain(ctx context.Context, xboxClient *xbox.Client, deviceToken, msaAccessToken, refreshToken, sessionID string) (*accounts.Account, error) {
	authz, err := xboxClient.Authorize(ctx, deviceToken, msaAccessToken, sessionID)
	if err != nil {
		return nil, err
	}

	mcClient := &minecraft.Client{BaseURL: a.endpoints.MinecraftURL, HTTPClient: a.HTTPClient}
	login, err := mcClient.LoginWithXbox(ctx, authz.UserHash, authz.Token)
	if err != nil {
		return nil, err
	}

	profile, err := mcClient.GetProfile(ctx, login.AccessToken)
	if err != nil {
		return nil, err
	}

	lifetime := login.ExpiresIn
	if lifetime <= 0 {
		lifetime = defaultSessionLifetime
	}

	return &accounts.Account{
		ID:           profile.ID,
		UUID:         profile.ID,
		Name:         profile.Name,
		AccessToken:  login.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Unix() + lifetime,
		TokenType:    login.TokenType,
	}, nil
}

// SubmitCallback forwards a manually pasted redirect URL to the login attempt
// currently waiting for one.
func (a *Authenticator) SubmitCallback(raw string) error {
	a.mu.Lock()
	listener := a.activeListener
	a.mu.Unlock()
	if listener == nil {
		return auth.ErrLoginCancelled
	}
	return listener.Submit(raw)
}

func (a *Authenticator) setActiveListener(listener CallbackListener) {
	a.mu.Lock()
	a.activeListener = listener
	a.mu.Unlock()
}

// takeOver cancels any login already in flight and records this one.
func (a *Authenticator) takeOver(cancel context.CancelFunc) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelActive != nil {
		log.Debug("superseding in-flight login attempt")
		a.cancelActive()
	}
	a.cancelActive = cancel
	a.generation++
	return a.generation
}

// release clears the in-flight slot unless a newer attempt already owns it.
func (a *Authenticator) release(gen uint64, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation == gen {
		a.cancelActive = nil
	}
	cancel()
}
