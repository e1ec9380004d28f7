package session

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"

	"github.com/dome-launcher/dome-auth/internal/accounts"
	"github.com/dome-launcher/dome-auth/internal/auth"
	"github.com/dome-launcher/dome-auth/internal/config"
)

// Manager is the launcher-facing surface over the account store and the
// authenticator: interactive login, account switching, and the pre-launch
// freshness check.
type Manager struct {
	cfg           *config.Config
	store         *accounts.Store
	authenticator *Authenticator
}

// LoginOptions tweak one interactive login.
type LoginOptions struct {
	// NoBrowser prints the sign-in URL and copies it to the clipboard
	// instead of opening a browser.
	NoBrowser bool
}

// Status describes how launch-ready the active session is.
type Status struct {
	// Account is the active account, nil when nobody is signed in.
	Account *accounts.Account
	// Fresh reports whether the session can launch without a refresh.
	Fresh bool
	// ExpiresIn is the time until expiry; negative when already expired,
	// zero when the expiry is unknown.
	ExpiresIn time.Duration
}

// NewManager opens the account store under the configured data directory and
// wires the authenticator.
func NewManager(cfg *config.Config) (*Manager, error) {
	store, err := accounts.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		authenticator: NewAuthenticator(cfg, store),
	}, nil
}

// Store exposes the underlying account store.
func (m *Manager) Store() *accounts.Store { return m.store }

// Authenticator exposes the underlying authenticator.
func (m *Manager) Authenticator() *Authenticator { return m.authenticator }

// Login runs the interactive sign-in flow and returns the account that was
// signed in and made active.
func (m *Manager) Login(ctx context.Context, opts LoginOptions) (*accounts.Account, error) {
	var opener func(url string) error
	if opts.NoBrowser {
		opener = func(url string) error {
			fmt.Printf("Open this URL to sign in:\n\n  %s\n\n", url)
			if err := clipboard.WriteAll(url); err == nil {
				fmt.Println("The URL has been copied to your clipboard.")
			}
			fmt.Println("If the browser cannot reach this machine, paste the final redirect URL here.")
			return nil
		}
	}
	return m.authenticator.Login(ctx, opener)
}

// SubmitCallback feeds a manually pasted redirect URL to the waiting login.
func (m *Manager) SubmitCallback(raw string) error {
	return m.authenticator.SubmitCallback(raw)
}

// CheckStatus reports on the active session without touching the network.
func (m *Manager) CheckStatus() *Status {
	account := m.store.Active()
	if account == nil {
		return &Status{}
	}

	status := &Status{
		Account: account,
		Fresh:   !NeedsRefresh(account, time.Now()),
	}
	if account.ExpiresAt != 0 {
		status.ExpiresIn = time.Until(time.Unix(account.ExpiresAt, 0))
	}
	return status
}

// ListAccounts returns every stored account.
func (m *Manager) ListAccounts() []*accounts.Account {
	return m.store.List()
}

// SwitchActive makes the given stored account the active one.
func (m *Manager) SwitchActive(id string) (*accounts.Account, error) {
	account, err := m.store.SetActive(id)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"account": account.Name}).Info("switched active account")
	return account, nil
}

// RemoveAccount deletes the account from the store. Removing the active
// account leaves the launcher signed out.
func (m *Manager) RemoveAccount(id string) error {
	return m.store.Remove(id)
}

// Logout clears the active session but keeps the account stored for a later
// switch.
func (m *Manager) Logout() error {
	return m.store.Logout()
}

// EnsureFreshForLaunch returns the active session in a launch-ready state,
// refreshing it first when it is at or near expiry.
func (m *Manager) EnsureFreshForLaunch(ctx context.Context) (*accounts.Account, error) {
	account := m.store.Active()
	if account == nil {
		return nil, auth.ErrReauthRequired
	}
	return m.authenticator.EnsureFresh(ctx, account)
}

// Watch mirrors external edits of the account files into memory until the
// context ends.
func (m *Manager) Watch(ctx context.Context) error {
	return m.store.Watch(ctx)
}
