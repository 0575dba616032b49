package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// APICredentials holds the L2 credential triple issued by the CLOB.
type APICredentials struct {
	Key        string
	Secret     string // url-safe base64
	Passphrase string
}

// L2Headers returns the authentication headers for an L2 CLOB request. The
// signature is HMAC-SHA256 over timestamp+method+path+body, keyed with the
// decoded secret, url-safe base64 encoded.
//
// Header keys: POLY_ADDRESS, POLY_API_KEY, POLY_TIMESTAMP, POLY_PASSPHRASE,
// POLY_SIGNATURE.
func (c *APICredentials) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is L2Headers with a caller-supplied Unix timestamp, so tests
// can pin the signature.
func (c *APICredentials) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := c.sign(ts + method + path + body)

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// sign computes the url-safe base64 HMAC-SHA256 of message.
func (c *APICredentials) sign(message string) string {
	// Venue secrets are url-safe base64; tolerate standard encoding too.
	key, err := base64.URLEncoding.DecodeString(c.Secret)
	if err != nil {
		if std, stdErr := base64.StdEncoding.DecodeString(c.Secret); stdErr == nil {
			key = std
		} else {
			key = []byte(c.Secret)
		}
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (c *APICredentials) String() string {
	return fmt.Sprintf("APICredentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}

// redact keeps a four-character prefix so operators can tell credentials
// apart in logs without exposing them.
func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
