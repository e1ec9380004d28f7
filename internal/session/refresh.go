package session

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dome-launcher/dome-auth/internal/accounts"
	"github.com/dome-launcher/dome-auth/internal/auth"
	"github.com/dome-launcher/dome-auth/internal/auth/xbox"
)

// NeedsRefresh reports whether the account is inside the refresh margin of
// its expiry. An unknown expiry counts as needing one.
func NeedsRefresh(account *accounts.Account, now time.Time) bool {
	if account.ExpiresAt == 0 {
		return true
	}
	return now.Add(refreshMargin).Unix() >= account.ExpiresAt
}

// EnsureFresh returns a launch-ready version of the account. A fresh session
// is returned untouched with no network traffic. A stale one is silently
// refreshed through the headless chain and persisted. When the refresh
// credential is rejected the caller gets ErrReauthRequired; when the network
// simply failed and the session has not actually expired yet, the stale
// session is returned as a best effort.
func (a *Authenticator) EnsureFresh(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	now := time.Now()
	if !NeedsRefresh(account, now) {
		return account, nil
	}

	if account.RefreshToken == "" {
		return nil, auth.ErrReauthRequired
	}

	log.WithFields(log.Fields{"account": account.Name}).Info("refreshing session")

	refreshed, err := a.refresh(ctx, account)
	if err != nil {
		return a.refreshFailure(account, now, err)
	}

	if err := a.store.Upsert(refreshed); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"account": refreshed.Name}).Info("session refreshed")
	return refreshed, nil
}

// refresh runs the headless chain: fresh device key and token, refresh grant,
// SISU authorize without a session id, then the Minecraft hops.
func (a *Authenticator) refresh(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	key, err := xbox.GenerateKey()
	if err != nil {
		return nil, err
	}
	xboxClient := &xbox.Client{
		Transport:     xbox.NewSignedTransport(a.HTTPClient, key),
		DeviceAuthURL: a.endpoints.DeviceAuthURL,
		SisuURL:       a.endpoints.SisuURL,
	}

	deviceToken, err := xboxClient.AuthenticateDevice(ctx)
	if err != nil {
		return nil, err
	}

	token, err := a.TokenClient.Refresh(ctx, account.RefreshToken)
	if err != nil {
		return nil, err
	}

	return a.finishChain(ctx, xboxClient, deviceToken.Token, token.AccessToken, token.RefreshToken, "")
}

// refreshFailure decides between failing hard and degrading to the stale
// session. A rejected grant or an already-expired session cannot limp along.
func (a *Authenticator) refreshFailure(account *accounts.Account, now time.Time, err error) (*accounts.Account, error) {
	var oauthErr *auth.OAuthError
	if errors.As(err, &oauthErr) && oauthErr.Code == "invalid_grant" {
		log.WithFields(log.Fields{"account": account.Name}).Warn("refresh credential rejected")
		return nil, auth.WrapAuthenticationError(auth.ErrReauthRequired, err)
	}

	if account.ExpiresAt != 0 && now.Unix() >= account.ExpiresAt {
		log.WithFields(log.Fields{"account": account.Name, "error": err}).
			Warn("refresh failed and session already expired")
		return nil, auth.WrapAuthenticationError(auth.ErrReauthRequired, err)
	}

	log.WithFields(log.Fields{"account": account.Name, "error": err}).
		Warn("refresh failed, continuing with the unexpired session")
	return account, nil
}
