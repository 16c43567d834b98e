package msgcrypt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	sb, err := NewSecretbox("k3y")
	require.NoError(t, err)
	ciphers := map[string]Cipher{
		"openssl":   OpenSSL{Passphrase: "k3y"},
		"secretbox": sb,
	}
	texts := []string{"hi", "hello, world", "ünïcødé ✓", strings.Repeat("x", 16), strings.Repeat("long ", 100)}
	for name, c := range ciphers {
		t.Run(name, func(t *testing.T) {
			for _, text := range texts {
				enc, err := c.Encrypt(text)
				require.NoError(t, err)
				assert.NotEqual(t, text, enc)
				assert.Equal(t, text, c.Decrypt(enc))
			}
		})
	}
}

func TestDecryptFallsBackToRaw(t *testing.T) {
	c := OpenSSL{Passphrase: "k3y"}
	for _, raw := range []string{"", "plain legacy text", "U2FsdGVkX1", "aGVsbG8=", "sb1:zzz"} {
		assert.Equal(t, raw, c.Decrypt(raw))
	}

	enc, err := c.Encrypt("secret")
	require.NoError(t, err)
	other := OpenSSL{Passphrase: "wrong"}
	assert.Equal(t, enc, other.Decrypt(enc), "a wrong key never yields garbage")

	sb, err := NewSecretbox("k3y")
	require.NoError(t, err)
	assert.Equal(t, "secret", sb.Decrypt(enc), "secretbox reads the openssl format")
	assert.Equal(t, "sb1:AAAA", sb.Decrypt("sb1:AAAA"))
}

// Ciphertext from: openssl enc -aes-256-cbc -md md5 -S 0102030405060708 -pass pass:secret
func TestOpenSSLEnvelope(t *testing.T) {
	c := OpenSSL{Passphrase: "secret"}
	assert.Equal(t, "hello", c.Decrypt("U2FsdGVkX18BAgMEBQYHCN4vTQH4jGLp+Wak1VrMt48="))

	enc, err := c.Encrypt("hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "U2FsdGVkX1"), "base64 of Salted__")
}

func TestNew(t *testing.T) {
	c, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, OpenSSL{Passphrase: DefaultKey}, c)

	_, err = New("rot13", "k")
	assert.Error(t, err)
}
