package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

const testPolySecret = "c2VjcmV0LWJ5dGVzLWZvci10ZXN0aW5nIQ=="

func testPolyCreds(t *testing.T) *PolymarketCredentials {
	t.Helper()
	creds, err := NewPolymarketCredentials("0xabc", "api-key", testPolySecret, "pass")
	if err != nil {
		t.Fatalf("NewPolymarketCredentials failed: %v", err)
	}
	return creds
}

func TestPolymarketSigner_SignREST(t *testing.T) {
	signer := NewPolymarketSigner(testPolyCreds(t))

	ts := time.Unix(1705321845, 0)
	body := []byte(`{"orderID":"0x1"}`)

	headers, err := signer.SignREST("DELETE", "/order", body, ts)
	if err != nil {
		t.Fatalf("SignREST failed: %v", err)
	}

	secret, _ := base64.URLEncoding.DecodeString(testPolySecret)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(`1705321845DELETE/order{"orderID":"0x1"}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if got := headers.Get(HeaderPolySignature); got != want {
		t.Errorf("%s = %q, want %q", HeaderPolySignature, got, want)
	}
	if got := headers.Get(HeaderPolyTimestamp); got != "1705321845" {
		t.Errorf("%s = %q, want 1705321845", HeaderPolyTimestamp, got)
	}
	if got := headers.Get(HeaderPolyAddress); got != "0xabc" {
		t.Errorf("%s = %q, want 0xabc", HeaderPolyAddress, got)
	}

	again, _ := signer.SignREST("DELETE", "/order", body, ts)
	if again.Get(HeaderPolySignature) != headers.Get(HeaderPolySignature) {
		t.Error("signing is not deterministic")
	}
}

func TestPolymarketSigner_StreamAuth(t *testing.T) {
	signer := NewPolymarketSigner(testPolyCreds(t))

	auth, err := signer.SignStreamSubscribe("market", nil)
	if err != nil {
		t.Fatalf("SignStreamSubscribe failed: %v", err)
	}
	if auth.Payload != nil {
		t.Errorf("market channel payload = %v, want nil", auth.Payload)
	}

	auth, err = signer.SignStreamSubscribe("user", nil)
	if err != nil {
		t.Fatalf("SignStreamSubscribe failed: %v", err)
	}
	if _, ok := auth.Payload["auth"]; !ok {
		t.Errorf("user channel payload = %v, want auth object", auth.Payload)
	}

	_, err = NewPolymarketSigner(nil).SignStreamSubscribe("user", nil)
	if !errors.Is(err, ErrAuthConfig) {
		t.Errorf("err = %v, want ErrAuthConfig", err)
	}
}

func TestNewPolymarketCredentials_Validation(t *testing.T) {
	tests := []struct {
		name                               string
		address, apiKey, secret, passphrase string
		wantAuthConfig                     bool
		wantKeyFormat                      bool
	}{
		{"missing address", "", "k", testPolySecret, "p", true, false},
		{"missing key", "0x1", "", testPolySecret, "p", true, false},
		{"missing secret", "0x1", "k", "", "p", true, false},
		{"missing passphrase", "0x1", "k", testPolySecret, "", true, false},
		{"bad secret", "0x1", "k", "abc$def=", "p", false, true},
		{"unpadded secret", "0x1", "k", "c2VjcmV0", "p", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolymarketCredentials(tt.address, tt.apiKey, tt.secret, tt.passphrase)
			if got := errors.Is(err, ErrAuthConfig); got != tt.wantAuthConfig {
				t.Errorf("errors.Is(ErrAuthConfig) = %v, want %v (err=%v)", got, tt.wantAuthConfig, err)
			}
			var keyErr *InvalidKeyFormatError
			if got := errors.As(err, &keyErr); got != tt.wantKeyFormat {
				t.Errorf("InvalidKeyFormatError = %v, want %v (err=%v)", got, tt.wantKeyFormat, err)
			}
			if tt.wantKeyFormat && keyErr.Offset != 3 {
				t.Errorf("Offset = %d, want 3", keyErr.Offset)
			}
			if !tt.wantAuthConfig && !tt.wantKeyFormat && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNopSigner(t *testing.T) {
	var s Signer = NopSigner{}
	h, err := s.SignREST("GET", "/book", nil, time.Now())
	if err != nil || len(h) != 0 {
		t.Errorf("SignREST = %v, %v; want empty headers", h, err)
	}
	if s.HasCredentials() {
		t.Error("HasCredentials = true, want false")
	}
}
