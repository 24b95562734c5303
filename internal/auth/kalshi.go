package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Kalshi header names.
const (
	HeaderKalshiKey       = "KALSHI-ACCESS-KEY"
	HeaderKalshiTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderKalshiSignature = "KALSHI-ACCESS-SIGNATURE"
)

// KalshiWebSocketPath is the path signed for the websocket handshake.
const KalshiWebSocketPath = "/trade-api/ws/v2"

// KalshiCredentials holds the API key id and RSA key for Kalshi.
type KalshiCredentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// LogValue keeps the private key out of logs.
func (c *KalshiCredentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("key_id", c.KeyID))
}

// LoadKalshiCredentials loads credentials from a key id and PEM file path.
// The key is validated here, not on first use.
func LoadKalshiCredentials(keyID, privateKeyPath string) (*KalshiCredentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("%w: kalshi api key id is required", ErrAuthConfig)
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("%w: kalshi private key path is required", ErrAuthConfig)
	}

	key, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load kalshi private key: %w", err)
	}

	return &KalshiCredentials{KeyID: keyID, PrivateKey: key}, nil
}

// KalshiSigner signs requests with RSA-PSS over timestamp_ms + METHOD + path.
type KalshiSigner struct {
	creds *KalshiCredentials
	rand  io.Reader
}

// NewKalshiSigner creates a signer. creds may be nil, in which case every
// signing call fails with ErrAuthConfig.
func NewKalshiSigner(creds *KalshiCredentials) *KalshiSigner {
	return &KalshiSigner{creds: creds, rand: rand.Reader}
}

// HasCredentials reports whether a key is loaded.
func (s *KalshiSigner) HasCredentials() bool {
	return s.creds != nil && s.creds.PrivateKey != nil
}

// SignREST returns the three KALSHI-ACCESS headers. The body is not part of
// the signed message.
func (s *KalshiSigner) SignREST(method, path string, _ []byte, ts time.Time) (http.Header, error) {
	if !s.HasCredentials() {
		return nil, fmt.Errorf("%w: no kalshi key loaded", ErrAuthConfig)
	}

	timestampMs := strconv.FormatInt(ts.UnixMilli(), 10)
	signature, err := s.sign(timestampMs + method + path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderKalshiKey, s.creds.KeyID)
	h.Set(HeaderKalshiTimestamp, timestampMs)
	h.Set(HeaderKalshiSignature, signature)
	return h, nil
}

// SignHandshake signs the websocket upgrade request.
func (s *KalshiSigner) SignHandshake(ts time.Time) (http.Header, error) {
	return s.SignREST(http.MethodGet, KalshiWebSocketPath, nil, ts)
}

// SignStreamSubscribe is a no-op: Kalshi authenticates the whole socket at handshake.
func (s *KalshiSigner) SignStreamSubscribe(string, map[string]any) (StreamAuth, error) {
	return StreamAuth{}, nil
}

func (s *KalshiSigner) sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPSS(
		s.rand,
		s.creds.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("%w: rsa-pss: %v", ErrSigning, err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}
