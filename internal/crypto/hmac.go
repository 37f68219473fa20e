package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// APICredentials holds the key material for HMAC-authenticated requests
// against a venue REST or websocket API.
type APICredentials struct {
	Key        string // API key
	Secret     string // API secret, base64-encoded where the venue issues it so
	Passphrase string // API passphrase, empty if the venue does not use one
}

// Headers returns the HTTP headers for an authenticated venue request.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded
// as base64. The secret is base64-decoded first; venues that issue raw
// secrets fall back to the raw bytes.
//
// Returned header keys:
//   - X-API-KEY
//   - X-TIMESTAMP
//   - X-PASSPHRASE (only when a passphrase is configured)
//   - X-SIGNATURE
func (c *APICredentials) Headers(method, path, body string) map[string]string {
	return c.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (c *APICredentials) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(c.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64(secretBytes, message)

	headers := map[string]string{
		"X-API-KEY":   c.Key,
		"X-TIMESTAMP": ts,
		"X-SIGNATURE": sig,
	}
	if c.Passphrase != "" {
		headers["X-PASSPHRASE"] = c.Passphrase
	}
	return headers
}

// String returns a redacted representation suitable for logging.
func (c *APICredentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("APICredentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
