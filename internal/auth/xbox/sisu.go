package xbox

import (
	"context"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

const (
	// AppID is the public client id of the legacy Minecraft launcher.
	AppID = "00000000402b5328"
	// TitleID identifies the Minecraft title to SISU.
	TitleID = "1794566092"

	sandbox            = "RETAIL"
	offerScope         = "service::user.auth.xboxlive.com::MBI_SSL"
	siteName           = "user.auth.xboxlive.com"
	sisuRelyingParty   = "rp://api.minecraftservices.com/"
	sisuAuthPath       = "/authenticate"
	sisuAuthorizePath  = "/authorize"
	sessionIDHeaderKey = "X-SessionId"
)

// SisuSession is the outcome of the SISU authenticate hop: the URL the user
// must visit and the session the authorize hop closes out.
type SisuSession struct {
	// RedirectURL is the Microsoft login page bound to this attempt's PKCE
	// challenge and state.
	RedirectURL string
	// SessionID ties the eventual authorize call back to this session.
	SessionID string
}

// SisuAuthorization is the outcome of the SISU authorize hop.
type SisuAuthorization struct {
	// Token is the Xbox authorization token.
	Token string
	// UserHash is the user hash paired with the token in the Minecraft
	// identity token.
	UserHash string
}

type sisuAuthenticateResponse struct {
	MsaOauthRedirect string `json:"MsaOauthRedirect"`
}

type sisuAuthorizeResponse struct {
	AuthorizationToken struct {
		Token         string `json:"Token"`
		DisplayClaims struct {
			XUI []struct {
				UserHash string `json:"uhs"`
			} `json:"xui"`
		} `json:"DisplayClaims"`
	} `json:"AuthorizationToken"`
}

// AuthenticateSession opens a SISU session bound to the attempt's PKCE
// challenge, state, and redirect URI. The returned URL is where the user
// signs in; the session id must be echoed on Authorize.
func (c *Client) AuthenticateSession(ctx context.Context, deviceToken, codeChallenge, state, redirectURI string) (*SisuSession, error) {
	req := SignedRequest{
		Hop:          "sisu_authenticate",
		URL:          c.SisuURL + sisuAuthPath,
		PathAndQuery: sisuAuthPath,
		Body: map[string]any{
			"AppId":       AppID,
			"DeviceToken": deviceToken,
			"Offers":      []string{offerScope},
			"Query": map[string]string{
				"code_challenge":        codeChallenge,
				"code_challenge_method": "S256",
				"state":                 state,
				"prompt":                "select_account",
			},
			"RedirectUri": redirectURI,
			"Sandbox":     sandbox,
			"TokenType":   "code",
			"TitleId":     TitleID,
		},
	}

	var body sisuAuthenticateResponse
	headers, err := c.Transport.Post(ctx, req, &body)
	if err != nil {
		return nil, err
	}
	if body.MsaOauthRedirect == "" {
		return nil, &auth.ProtocolError{Hop: "sisu_authenticate", Field: "MsaOauthRedirect"}
	}

	// http.Header lookups are canonicalized, so this covers every casing the
	// service has been seen to use.
	sessionID := headers.Get(sessionIDHeaderKey)
	if sessionID == "" {
		return nil, &auth.ProtocolError{Hop: "sisu_authenticate", Field: sessionIDHeaderKey}
	}

	return &SisuSession{RedirectURL: body.MsaOauthRedirect, SessionID: sessionID}, nil
}

// Authorize trades the Microsoft access token for an Xbox authorization token
// scoped to the Minecraft services relying party. sessionID is empty on the
// refresh path, which never opened a SISU session.
func (c *Client) Authorize(ctx context.Context, deviceToken, accessToken, sessionID string) (*SisuAuthorization, error) {
	body := map[string]any{
		"AppId":             AppID,
		"DeviceToken":       deviceToken,
		"Sandbox":           sandbox,
		"UseModernGamertag": true,
		"SiteName":          siteName,
		"RelyingParty":      sisuRelyingParty,
		"ProofKey":          c.Transport.Key.ProofKey(),
		"AccessToken":       "t=" + accessToken,
	}
	if sessionID != "" {
		body["SessionId"] = sessionID
	}

	req := SignedRequest{
		Hop:                 "sisu_authorize",
		URL:                 c.SisuURL + sisuAuthorizePath,
		PathAndQuery:        sisuAuthorizePath,
		Body:                body,
		OmitContractVersion: true,
	}

	var resp sisuAuthorizeResponse
	if _, err := c.Transport.Post(ctx, req, &resp); err != nil {
		return nil, err
	}

	if resp.AuthorizationToken.Token == "" {
		return nil, &auth.ProtocolError{Hop: "sisu_authorize", Field: "AuthorizationToken.Token"}
	}
	xui := resp.AuthorizationToken.DisplayClaims.XUI
	if len(xui) == 0 || xui[0].UserHash == "" {
		return nil, &auth.ProtocolError{Hop: "sisu_authorize", Field: "xui[0].uhs"}
	}

	return &SisuAuthorization{
		Token:    resp.AuthorizationToken.Token,
		UserHash: xui[0].UserHash,
	}, nil
}
