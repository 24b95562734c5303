package auth

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// MinRSABits is the smallest modulus accepted for signing keys.
const MinRSABits = 2048

var pemBegin = []byte("-----BEGIN")

// LoadPrivateKey loads and validates an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file: %w", ErrAuthConfig, err)
	}
	return ParsePrivateKey(path, data)
}

// ParsePrivateKey parses PKCS#8 or PKCS#1 PEM data. source names the origin
// in error messages.
func ParsePrivateKey(source string, data []byte) (*rsa.PrivateKey, error) {
	start := bytes.Index(data, pemBegin)
	if start < 0 {
		return nil, &InvalidKeyFormatError{Source: source, Offset: 0, Reason: "no PEM header found"}
	}

	block, _ := pem.Decode(data[start:])
	if block == nil {
		return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: "malformed PEM block"}
	}
	if _, ok := block.Headers["DEK-Info"]; ok {
		return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: "encrypted keys are not supported"}
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: "pkcs8: " + err.Error()}
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: fmt.Sprintf("unsupported key type %T", parsed)}
		}
		key = rsaKey
	case "RSA PRIVATE KEY":
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: "pkcs1: " + err.Error()}
		}
		key = rsaKey
	default:
		return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: fmt.Sprintf("unexpected PEM type %q", block.Type)}
	}

	if bits := key.N.BitLen(); bits < MinRSABits {
		return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: fmt.Sprintf("modulus is %d bits, need at least %d", bits, MinRSABits)}
	}
	if err := key.Validate(); err != nil {
		return nil, &InvalidKeyFormatError{Source: source, Offset: start, Reason: err.Error()}
	}
	return key, nil
}
