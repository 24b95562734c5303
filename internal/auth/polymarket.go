package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Polymarket L2 header names.
const (
	HeaderPolyAddress    = "POLY_ADDRESS"
	HeaderPolySignature  = "POLY_SIGNATURE"
	HeaderPolyTimestamp  = "POLY_TIMESTAMP"
	HeaderPolyAPIKey     = "POLY_API_KEY"
	HeaderPolyPassphrase = "POLY_PASSPHRASE"
)

// PolymarketCredentials are CLOB L2 API credentials.
type PolymarketCredentials struct {
	Address    string
	APIKey     string
	Passphrase string
	secret     []byte
}

// LogValue keeps the secret and passphrase out of logs.
func (c *PolymarketCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", c.Address),
		slog.String("api_key", c.APIKey),
	)
}

// NewPolymarketCredentials validates and decodes the base64url secret.
func NewPolymarketCredentials(address, apiKey, secret, passphrase string) (*PolymarketCredentials, error) {
	switch {
	case address == "":
		return nil, fmt.Errorf("%w: polymarket address is required", ErrAuthConfig)
	case apiKey == "":
		return nil, fmt.Errorf("%w: polymarket api key is required", ErrAuthConfig)
	case secret == "":
		return nil, fmt.Errorf("%w: polymarket api secret is required", ErrAuthConfig)
	case passphrase == "":
		return nil, fmt.Errorf("%w: polymarket passphrase is required", ErrAuthConfig)
	}

	raw, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}

	return &PolymarketCredentials{
		Address:    address,
		APIKey:     apiKey,
		Passphrase: passphrase,
		secret:     raw,
	}, nil
}

func decodeSecret(secret string) ([]byte, error) {
	enc := base64.URLEncoding
	if !strings.HasSuffix(secret, "=") && len(secret)%4 != 0 {
		enc = base64.RawURLEncoding
	}

	raw, err := enc.DecodeString(secret)
	if err != nil {
		var corrupt base64.CorruptInputError
		offset := 0
		if errors.As(err, &corrupt) {
			offset = int(corrupt)
		}
		return nil, &InvalidKeyFormatError{Source: "polymarket api secret", Offset: offset, Reason: "not base64url"}
	}
	if len(raw) == 0 {
		return nil, &InvalidKeyFormatError{Source: "polymarket api secret", Reason: "empty secret"}
	}
	return raw, nil
}

// PolymarketSigner produces L2 HMAC headers.
type PolymarketSigner struct {
	creds *PolymarketCredentials
}

// NewPolymarketSigner creates a signer. A nil creds yields ErrAuthConfig on use.
func NewPolymarketSigner(creds *PolymarketCredentials) *PolymarketSigner {
	return &PolymarketSigner{creds: creds}
}

func (s *PolymarketSigner) HasCredentials() bool {
	return s.creds != nil
}

// SignREST signs timestamp_s + METHOD + path + body.
func (s *PolymarketSigner) SignREST(method, path string, body []byte, ts time.Time) (http.Header, error) {
	if !s.HasCredentials() {
		return nil, fmt.Errorf("%w: no polymarket credentials loaded", ErrAuthConfig)
	}

	timestamp := strconv.FormatInt(ts.Unix(), 10)

	mac := hmac.New(sha256.New, s.creds.secret)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set(HeaderPolyAddress, s.creds.Address)
	h.Set(HeaderPolySignature, signature)
	h.Set(HeaderPolyTimestamp, timestamp)
	h.Set(HeaderPolyAPIKey, s.creds.APIKey)
	h.Set(HeaderPolyPassphrase, s.creds.Passphrase)
	return h, nil
}

// SignStreamSubscribe returns the auth object for the "user" channel. The
// public "market" channel needs none.
func (s *PolymarketSigner) SignStreamSubscribe(channel string, _ map[string]any) (StreamAuth, error) {
	if channel != "user" {
		return StreamAuth{}, nil
	}
	if !s.HasCredentials() {
		return StreamAuth{}, fmt.Errorf("%w: user channel needs polymarket credentials", ErrAuthConfig)
	}
	return StreamAuth{Payload: map[string]any{
		"auth": map[string]string{
			"apiKey":     s.creds.APIKey,
			"secret":     base64.URLEncoding.EncodeToString(s.creds.secret),
			"passphrase": s.creds.Passphrase,
		},
	}}, nil
}
