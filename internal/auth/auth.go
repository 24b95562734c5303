// Package auth produces venue authentication artifacts: signed REST headers
// and stream handshake/subscribe credentials. Nothing in this package does
// network I/O and no key material is ever logged.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrAuthConfig means credentials are missing or incomplete for a venue.
	ErrAuthConfig = errors.New("auth config error")

	// ErrSigning means a signature could not be produced with the loaded key.
	ErrSigning = errors.New("signing error")
)

// InvalidKeyFormatError reports malformed key material at load time.
type InvalidKeyFormatError struct {
	Source string // file path or field name, never the key itself
	Offset int    // byte offset into the source where parsing failed
	Reason string
}

func (e *InvalidKeyFormatError) Error() string {
	return fmt.Sprintf("invalid key format in %s at offset %d: %s", e.Source, e.Offset, e.Reason)
}

// StreamAuth is what a stream subscription needs beyond the subscribe
// message itself. Both fields are empty for venues that only authenticate at
// the handshake.
type StreamAuth struct {
	Header  http.Header
	Payload map[string]any
}

// Signer authenticates requests for one venue.
type Signer interface {
	// SignREST returns the headers to attach to a REST request. path is the
	// request path without query string.
	SignREST(method, path string, body []byte, ts time.Time) (http.Header, error)

	// SignStreamSubscribe returns per-subscription auth for a channel.
	SignStreamSubscribe(channel string, params map[string]any) (StreamAuth, error)

	// HasCredentials reports whether private endpoints can be signed.
	HasCredentials() bool
}

// NopSigner signs nothing. Public endpoints and the Polymarket market channel use it.
type NopSigner struct{}

func (NopSigner) SignREST(string, string, []byte, time.Time) (http.Header, error) {
	return http.Header{}, nil
}

func (NopSigner) SignStreamSubscribe(string, map[string]any) (StreamAuth, error) {
	return StreamAuth{}, nil
}

func (NopSigner) HasCredentials() bool { return false }
