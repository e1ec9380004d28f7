// Package minecraft implements the final hops of the sign-in chain against
// the Minecraft services API: trading the Xbox authorization for a Minecraft
// access token and fetching the owning profile.
package minecraft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

// DefaultBaseURL is the production Minecraft services endpoint.
const DefaultBaseURL = "https://api.minecraftservices.com"

const (
	loginWithXboxPath = "/authentication/login_with_xbox"
	profilePath       = "/minecraft/profile"
)

// LoginResponse is the Minecraft session minted from an Xbox authorization.
type LoginResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Profile is the Minecraft profile owning the session.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the Minecraft services API.
type Client struct {
	// BaseURL overrides the production endpoint.
	BaseURL string
	// HTTPClient performs the requests. When nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// NewClient creates a client against the production endpoint.
func NewClient(httpClient *http.Client) *Client {
	return &Client{BaseURL: DefaultBaseURL, HTTPClient: httpClient}
}

// LoginWithXbox exchanges the Xbox authorization for a Minecraft access
// token. The identity token pairs the user hash with the Xbox token.
func (c *Client) LoginWithXbox(ctx context.Context, userHash, xboxToken string) (*LoginResponse, error) {
	body := map[string]string{
		"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", userHash, xboxToken),
	}

	var resp LoginResponse
	if err := c.postJSON(ctx, "minecraft_login", loginWithXboxPath, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &auth.ProtocolError{Hop: "minecraft_login", Field: "access_token"}
	}
	if resp.TokenType == "" {
		resp.TokenType = "Bearer"
	}
	return &resp, nil
}

// GetProfile fetches the profile that owns the session. A session without a
// profile means the Microsoft account does not own the game.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+profilePath, nil)
	if err != nil {
		return nil, auth.NewTransportError("minecraft_profile", 0, nil, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var profile Profile
	if err := c.do(req, "minecraft_profile", &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, &auth.ProtocolError{Hop: "minecraft_profile", Field: "id"}
	}
	if profile.Name == "" {
		return nil, &auth.ProtocolError{Hop: "minecraft_profile", Field: "name"}
	}
	return &profile, nil
}

func (c *Client) postJSON(ctx context.Context, hop, path, bearer string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return auth.NewTransportError(hop, 0, nil, fmt.Errorf("failed to encode request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return auth.NewTransportError(hop, 0, nil, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return c.do(req, hop, out)
}

func (c *Client) do(req *http.Request, hop string, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return auth.NewTransportError(hop, 0, nil, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close response body")
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.NewTransportError(hop, resp.StatusCode, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{"hop": hop, "status": resp.StatusCode}).Error("minecraft services request rejected")
		return auth.NewTransportError(hop, resp.StatusCode, raw, nil)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return auth.NewTransportError(hop, resp.StatusCode, raw, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
