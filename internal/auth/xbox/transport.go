package xbox

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dome-launcher/dome-auth/internal/auth"
)

// userAgent mimics a desktop browser; the Xbox endpoints are picky about
// unfamiliar clients.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// redactedFields are stripped from response bodies before debug logging.
var redactedFields = []string{
	"Token",
	"DeviceToken",
	"AccessToken",
	"AuthorizationToken.Token",
	"access_token",
	"refresh_token",
}

// SignedRequest describes one POST to a proof-of-possession signed endpoint.
type SignedRequest struct {
	// Hop names the chain step for logging and errors.
	Hop string
	// URL is the full request URL.
	URL string
	// PathAndQuery is the path portion covered by the signature. It must
	// match the URL exactly or the server rejects the signature.
	PathAndQuery string
	// Body is marshalled to JSON; the exact bytes sent are the bytes signed.
	Body any
	// OmitContractVersion drops the x-xbl-contract-version header, which the
	// SISU authorize endpoint does not accept.
	OmitContractVersion bool
}

// SignedTransport posts signed requests on behalf of one device key. It
// tracks the skew between the local clock and the server's Date header so
// later hops in the same attempt sign with server time.
type SignedTransport struct {
	// HTTPClient performs the requests. When nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Key is the attempt's device key.
	Key *DeviceKey

	mu   sync.Mutex
	skew time.Duration
}

// NewSignedTransport creates a transport for one login or refresh attempt.
func NewSignedTransport(httpClient *http.Client, key *DeviceKey) *SignedTransport {
	return &SignedTransport{HTTPClient: httpClient, Key: key}
}

// Post signs and sends the request, decodes the JSON response into out, and
// returns the response headers. Failures carry the hop name so the caller can
// tell which step of the chain broke.
func (t *SignedTransport) Post(ctx context.Context, req SignedRequest, out any) (http.Header, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, auth.NewTransportError(req.Hop, 0, nil, fmt.Errorf("failed to encode request body: %w", err))
	}

	filetime := windowsFiletime(t.now())
	signature, err := t.Key.SignRequest(filetime, req.PathAndQuery, body)
	if err != nil {
		return nil, auth.NewTransportError(req.Hop, 0, nil, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, auth.NewTransportError(req.Hop, 0, nil, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Signature", signature)
	if !req.OmitContractVersion {
		httpReq.Header.Set("x-xbl-contract-version", "1")
	}

	resp, err := t.client().Do(httpReq)
	if err != nil {
		return nil, auth.NewTransportError(req.Hop, 0, nil, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close response body")
		}
	}()

	t.observeServerDate(resp.Header.Get("Date"))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, auth.NewTransportError(req.Hop, resp.StatusCode, nil, err)
	}

	decoded, err := decompressBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, auth.NewTransportError(req.Hop, resp.StatusCode, raw, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{"hop": req.Hop, "status": resp.StatusCode, "path": req.PathAndQuery}).
			Error("signed request rejected")
		return nil, auth.NewTransportError(req.Hop, resp.StatusCode, decoded, nil)
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{"hop": req.Hop, "status": resp.StatusCode}).
			Debugf("signed response: %s", redactForLog(decoded))
	}

	if out != nil {
		if err := json.Unmarshal(decoded, out); err != nil {
			return nil, auth.NewTransportError(req.Hop, resp.StatusCode, decoded, fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return resp.Header, nil
}

// now returns the local clock corrected by the last observed server skew.
func (t *SignedTransport) now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Now().Add(t.skew)
}

// observeServerDate records the offset between the server's Date header and
// the local clock. Signatures timestamped from a drifted local clock get
// rejected outright.
func (t *SignedTransport) observeServerDate(date string) {
	if date == "" {
		return
	}
	serverTime, err := http.ParseTime(date)
	if err != nil {
		log.Debugf("unparseable Date header %q: %v", date, err)
		return
	}
	t.mu.Lock()
	t.skew = time.Until(serverTime)
	t.mu.Unlock()
}

func (t *SignedTransport) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

// decompressBody undoes the response Content-Encoding, if any.
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}

	switch strings.ToLower(contentEncoding) {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close gzip reader")
			}
		}()
		return io.ReadAll(reader)
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close deflate reader")
			}
		}()
		return io.ReadAll(reader)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		reader, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)
	default:
		return body, nil
	}
}

// redactForLog strips token material from a JSON body before it reaches the
// debug log.
func redactForLog(body []byte) string {
	redacted := body
	for _, field := range redactedFields {
		if !gjson.GetBytes(redacted, field).Exists() {
			continue
		}
		if out, err := sjson.SetBytes(redacted, field, "[REDACTED]"); err == nil {
			redacted = out
		}
	}
	return string(redacted)
}
