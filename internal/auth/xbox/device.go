package xbox

import (
	"context"
	"time"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

// Default production endpoints. Tests point these at local servers.
const (
	DefaultDeviceAuthURL = "https://device.auth.xboxlive.com"
	DefaultSisuURL       = "https://sisu.xboxlive.com"
)

const (
	deviceAuthPath      = "/device/authenticate"
	deviceRelyingParty  = "http://auth.xboxlive.com"
	deviceType          = "Win32"
	deviceVersion       = "10.0.0"
	deviceAuthMethod    = "ProofOfPossession"
	deviceAuthTokenType = "JWT"
)

// DeviceToken is the device identity token minted by the device-auth service.
type DeviceToken struct {
	IssueInstant time.Time `json:"IssueInstant"`
	NotAfter     time.Time `json:"NotAfter"`
	Token        string    `json:"Token"`
}

// Client performs the Xbox hops of the chain over one signed transport.
type Client struct {
	// Transport signs and sends the requests.
	Transport *SignedTransport
	// DeviceAuthURL and SisuURL override the production endpoints.
	DeviceAuthURL string
	SisuURL       string
}

// NewClient creates a client against the production endpoints.
func NewClient(transport *SignedTransport) *Client {
	return &Client{
		Transport:     transport,
		DeviceAuthURL: DefaultDeviceAuthURL,
		SisuURL:       DefaultSisuURL,
	}
}

// AuthenticateDevice registers the attempt's device key with the device-auth
// service and returns the device token the SISU hops require.
func (c *Client) AuthenticateDevice(ctx context.Context) (*DeviceToken, error) {
	key := c.Transport.Key
	req := SignedRequest{
		Hop:          "device_auth",
		URL:          c.DeviceAuthURL + deviceAuthPath,
		PathAndQuery: deviceAuthPath,
		Body: map[string]any{
			"Properties": map[string]any{
				"AuthMethod": deviceAuthMethod,
				"Id":         key.DeviceID(),
				"DeviceType": deviceType,
				"Version":    deviceVersion,
				"ProofKey":   key.ProofKey(),
			},
			"RelyingParty": deviceRelyingParty,
			"TokenType":    deviceAuthTokenType,
		},
	}

	var token DeviceToken
	if _, err := c.Transport.Post(ctx, req, &token); err != nil {
		return nil, err
	}
	if token.Token == "" {
		return nil, &auth.ProtocolError{Hop: "device_auth", Field: "Token"}
	}
	return &token, nil
}
