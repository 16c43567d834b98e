// Package msgcrypt is the local transform applied to message bodies: text is
// encrypted before it leaves the client and decrypted on arrival. Decrypt
// never fails; a value it cannot open is returned as is, so plain legacy
// messages still display.
package msgcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// DefaultKey is used when no key is configured.
const DefaultKey = "default-secret-key-123"

const (
	SchemeOpenSSL   = "openssl"
	SchemeSecretbox = "secretbox"
)

var errMalformed = errors.New("malformed ciphertext")

// Cipher encrypts and decrypts message bodies.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(value string) string
}

// New returns the cipher for scheme; an empty scheme means openssl.
func New(scheme, key string) (Cipher, error) {
	if key == "" {
		key = DefaultKey
	}
	switch scheme {
	case "", SchemeOpenSSL:
		return OpenSSL{Passphrase: key}, nil
	case SchemeSecretbox:
		return NewSecretbox(key)
	}
	return nil, fmt.Errorf("unknown crypto scheme %q", scheme)
}

// ── OpenSSL ──────────────────────────────────────────────────────────────────

var saltedMagic = []byte("Salted__")

// OpenSSL is passphrase AES-256-CBC in the OpenSSL "Salted__" envelope with
// EVP_BytesToKey(MD5) key derivation, base64 encoded. Other clients of the
// same relay produce this format.
type OpenSSL struct {
	Passphrase string
}

func (c OpenSSL) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key, iv := bytesToKey([]byte(c.Passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	data := pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(saltedMagic)+len(salt)+len(data))
	n := copy(out, saltedMagic)
	n += copy(out[n:], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[n:], data)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c OpenSSL) Decrypt(value string) string {
	plain, err := c.open(value)
	if err != nil || plain == "" {
		return value
	}
	return plain
}

func (c OpenSSL) open(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}
	if len(raw) < 16+aes.BlockSize || !bytes.Equal(raw[:8], saltedMagic) {
		return "", errMalformed
	}
	salt, data := raw[8:16], raw[16:]
	if len(data)%aes.BlockSize != 0 {
		return "", errMalformed
	}
	key, iv := bytesToKey([]byte(c.Passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	out, err = unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", errMalformed
	}
	return string(out), nil
}

// bytesToKey is EVP_BytesToKey with MD5 and one iteration, producing a
// 32-byte key and a 16-byte IV.
func bytesToKey(pass, salt []byte) (key, iv []byte) {
	var buf, prev []byte
	for len(buf) < 48 {
		h := md5.New()
		h.Write(prev)
		h.Write(pass)
		h.Write(salt)
		prev = h.Sum(nil)
		buf = append(buf, prev...)
	}
	return buf[:32], buf[32:48]
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errMalformed
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errMalformed
		}
	}
	return b[:len(b)-n], nil
}

// ── Secretbox ────────────────────────────────────────────────────────────────

// SecretboxPrefix marks values sealed by Secretbox.
const SecretboxPrefix = "sb1:"

var kdfSalt = []byte("goopchat/msgcrypt/v1")

// Secretbox seals with NaCl secretbox under a key stretched from the
// passphrase with scrypt. Values it cannot open fall back to the OpenSSL
// format, then to the raw value.
type Secretbox struct {
	key    [32]byte
	legacy OpenSSL
}

func NewSecretbox(passphrase string) (*Secretbox, error) {
	k, err := scrypt.Key([]byte(passphrase), kdfSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	s := &Secretbox{legacy: OpenSSL{Passphrase: passphrase}}
	copy(s.key[:], k)
	return s, nil
}

func (s *Secretbox) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return SecretboxPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Secretbox) Decrypt(value string) string {
	body, ok := strings.CutPrefix(value, SecretboxPrefix)
	if !ok {
		return s.legacy.Decrypt(value)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return value
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok || len(plain) == 0 {
		return value
	}
	return string(plain)
}
