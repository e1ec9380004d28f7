// Package accounts persists authenticated Minecraft identities for the
// launcher. It maintains a multi-account list plus a single-slot current
// session consumed by the instance-launch component, flushing both to disk
// synchronously after every mutation.
package accounts

// Account is one persisted Minecraft identity. Field names mirror the legacy
// launcher files so existing installations keep working.
type Account struct {
	// ID is the durable player identity (profile UUID without dashes).
	ID string `json:"id"`

	// UUID duplicates ID; the legacy file carried both and the launch
	// component still reads this field.
	UUID string `json:"uuid"`

	// Name is the player display name.
	Name string `json:"name"`

	// AccessToken is the Minecraft services bearer token.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived Microsoft refresh credential, when the
	// consent grant included offline access.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the bearer token expiry as unix seconds. 0 means unknown.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// TokenType is the credential kind presented to the game service,
	// always "Bearer" today.
	TokenType string `json:"token_type"`
}

// Clone returns a copy so callers cannot mutate store-owned state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	copied := *a
	return &copied
}
