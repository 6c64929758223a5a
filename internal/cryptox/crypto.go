// Package cryptox implements the at-rest envelope encryption used for stored
// blobs: AES-256-GCM with a fresh 96-bit random nonce per call.
//
// Envelope layout (bit-exact, shared with previously stored blobs):
//
//	nonce (12 bytes) || ciphertext (len(plaintext) bytes) || tag (16 bytes)
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
	// Overhead is the number of bytes an envelope adds to its plaintext.
	Overhead = NonceSize + TagSize
)

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrInvalidKeyMaterial, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidKeyMaterial, err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key and returns nonce||ciphertext||tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, plaintext), nil
}

// Decrypt opens an envelope produced by Encrypt. Any tampering, truncation
// or wrong key yields common.ErrAuthentication and no plaintext.
func Decrypt(envelope, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return open(aead, envelope)
}

func seal(aead cipher.AEAD, plaintext []byte) []byte {
	nonce := common.GenerateRandByteArray(NonceSize)

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil)
}

func open(aead cipher.AEAD, envelope []byte) ([]byte, error) {
	if len(envelope) < Overhead {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", common.ErrAuthentication, len(envelope))
	}

	nonce, sealed := envelope[:NonceSize], envelope[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, common.ErrAuthentication
	}
	return plaintext, nil
}

// LoadKey decodes a base64 (standard encoding) 256-bit key. An empty or
// blank value returns (nil, nil): no key configured.
func LoadKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %w", common.ErrInvalidKeyMaterial, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrInvalidKeyMaterial, KeySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// GenerateKeyBase64 returns a fresh key in the form LoadKey accepts.
func GenerateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(GenerateKey())
}

// DeriveKey stretches a passphrase into a 256-bit key with argon2id.
// The same passphrase and salt always yield the same key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}
