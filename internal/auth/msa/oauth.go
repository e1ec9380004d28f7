package msa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

const (
	// ClientID is the public client id of the legacy Minecraft launcher,
	// the only consumer client the XASU sandbox accepts codes from.
	ClientID = "00000000402b5328"

	// Scope is the consumer scope that yields tokens usable against
	// user.auth.xboxlive.com.
	Scope = "service::user.auth.xboxlive.com::MBI_SSL"

	// DefaultTokenURL is the live.com consumer token endpoint.
	DefaultTokenURL = "https://login.live.com/oauth20_token.srf"

	// defaultTokenLifetime is assumed when the token response carries no
	// expires_in field.
	defaultTokenLifetime = 24 * time.Hour
)

// TokenClient talks to the Microsoft consumer token endpoint. The endpoint
// URL is injectable so tests can point it at a local server.
type TokenClient struct {
	// TokenURL is the token endpoint, DefaultTokenURL unless overridden.
	TokenURL string
	// HTTPClient performs the exchange. When nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// NewTokenClient creates a token client against the production endpoint.
func NewTokenClient(httpClient *http.Client) *TokenClient {
	return &TokenClient{TokenURL: DefaultTokenURL, HTTPClient: httpClient}
}

func (c *TokenClient) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    ClientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.TokenURL,
		},
	}
}

func (c *TokenClient) context(ctx context.Context) context.Context {
	if c.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}
	return ctx
}

// ExchangeCode trades the authorization code captured from the redirect for
// an access/refresh token pair. The redirect URI must be character for
// character the one the browser was sent to, and the verifier must belong to
// the same attempt that minted the code challenge.
func (c *TokenClient) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error) {
	conf := c.config(redirectURI)
	token, err := conf.Exchange(c.context(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
		oauth2.SetAuthURLParam("scope", Scope),
	)
	if err != nil {
		return nil, mapTokenError("token_exchange", err)
	}
	return normalizeExpiry(token), nil
}

// Refresh redeems a stored refresh token for a fresh token pair without any
// user interaction. An invalid_grant answer means the refresh credential is
// dead and the account needs an interactive login.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	conf := c.config("")
	src := conf.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, mapTokenError("token_refresh", err)
	}
	// The token source may keep the old refresh token when the server did
	// not rotate it.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return normalizeExpiry(token), nil
}

// normalizeExpiry fills in the assumed lifetime when the endpoint omitted
// expires_in.
func normalizeExpiry(token *oauth2.Token) *oauth2.Token {
	if token.Expiry.IsZero() {
		token.Expiry = time.Now().Add(defaultTokenLifetime)
		log.Debug("token response carried no expiry, assuming default lifetime")
	}
	return token
}

// mapTokenError converts oauth2 retrieve errors into the shared taxonomy so
// callers can distinguish a rejected grant from a dead network.
func mapTokenError(hop string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return &auth.OAuthError{
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				StatusCode:  statusCode(retrieveErr),
			}
		}
		return auth.NewTransportError(hop, statusCode(retrieveErr), retrieveErr.Body, err)
	}
	return auth.NewTransportError(hop, 0, nil, fmt.Errorf("%s: %w", hop, err))
}

func statusCode(err *oauth2.RetrieveError) int {
	if err.Response != nil {
		return err.Response.StatusCode
	}
	return 0
}
