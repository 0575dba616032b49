package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials() *APICredentials {
	return &APICredentials{
		Key:        "6f7c9e2a-1b3d-4f5e-8a9b-0c1d2e3f4a5b",
		Secret:     base64.URLEncoding.EncodeToString([]byte("super-secret-hmac-signing-key")),
		Passphrase: "open-sesame",
	}
}

func TestL2HeadersAtFields(t *testing.T) {
	c := testCredentials()
	h := c.L2HeadersAt("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", "POST", "/order", `{"size":1}`, 1700000000)

	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", h["POLY_ADDRESS"])
	assert.Equal(t, c.Key, h["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h["POLY_TIMESTAMP"])
	assert.Equal(t, c.Passphrase, h["POLY_PASSPHRASE"])

	// Signature is url-safe base64 of a SHA-256 MAC.
	raw, err := base64.URLEncoding.DecodeString(h["POLY_SIGNATURE"])
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestL2HeadersAtDeterministic(t *testing.T) {
	c := testCredentials()
	h1 := c.L2HeadersAt("0xabc", "GET", "/markets", "", 1700000000)
	h2 := c.L2HeadersAt("0xabc", "GET", "/markets", "", 1700000000)
	assert.Equal(t, h1, h2)
}

func TestL2HeadersSignatureSensitivity(t *testing.T) {
	c := testCredentials()
	base := c.L2HeadersAt("0xabc", "POST", "/order", `{"size":1}`, 1700000000)

	diffBody := c.L2HeadersAt("0xabc", "POST", "/order", `{"size":2}`, 1700000000)
	assert.NotEqual(t, base["POLY_SIGNATURE"], diffBody["POLY_SIGNATURE"])

	diffPath := c.L2HeadersAt("0xabc", "POST", "/orders", `{"size":1}`, 1700000000)
	assert.NotEqual(t, base["POLY_SIGNATURE"], diffPath["POLY_SIGNATURE"])

	diffMethod := c.L2HeadersAt("0xabc", "DELETE", "/order", `{"size":1}`, 1700000000)
	assert.NotEqual(t, base["POLY_SIGNATURE"], diffMethod["POLY_SIGNATURE"])

	diffTS := c.L2HeadersAt("0xabc", "POST", "/order", `{"size":1}`, 1700000001)
	assert.NotEqual(t, base["POLY_SIGNATURE"], diffTS["POLY_SIGNATURE"])
}

func TestL2HeadersToleratesStdEncodedSecret(t *testing.T) {
	// 0xff 0xfe 0xfd encodes to "__79" url-safe and "//79" standard. Both
	// spellings must yield the same MAC key.
	urlSafe := &APICredentials{Key: "k", Secret: "__79", Passphrase: "p"}
	std := &APICredentials{Key: "k", Secret: "//79", Passphrase: "p"}

	h1 := urlSafe.L2HeadersAt("0xabc", "GET", "/ok", "", 1700000000)
	h2 := std.L2HeadersAt("0xabc", "GET", "/ok", "", 1700000000)
	assert.Equal(t, h1["POLY_SIGNATURE"], h2["POLY_SIGNATURE"])
}

func TestAPICredentialsStringRedacts(t *testing.T) {
	c := testCredentials()
	s := c.String()
	assert.Contains(t, s, "****")
	assert.NotContains(t, s, c.Secret)
	assert.NotContains(t, s, c.Passphrase)
}
