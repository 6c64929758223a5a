package cryptox

import (
	"crypto/cipher"

	"github.com/dmitrijs2005/clipdrop/internal/common"
)

// Config carries the process-wide encryption key. A nil or empty Key puts the
// engine into pass-through mode.
type Config struct {
	Key []byte
}

// Engine holds the process-wide key for the lifetime of the process.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine builds an Engine from cfg. A key of the wrong length fails with
// common.ErrInvalidKeyMaterial. The key bytes are copied into the cipher
// state and the caller's slice is wiped.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.Key) == 0 {
		return &Engine{}, nil
	}

	aead, err := newAEAD(cfg.Key)
	if err != nil {
		return nil, err
	}
	common.WipeByteArray(cfg.Key)

	return &Engine{aead: aead}, nil
}

// Enabled reports whether a key is configured. Callers record the result as
// the item's is_encrypted flag at creation time.
func (e *Engine) Enabled() bool {
	return e.aead != nil
}

// Seal encrypts plaintext when a key is configured and returns the stored
// bytes plus whether they are encrypted. In pass-through mode plaintext is
// returned unchanged.
func (e *Engine) Seal(plaintext []byte) ([]byte, bool) {
	if e.aead == nil {
		return plaintext, false
	}
	return seal(e.aead, plaintext), true
}

// Open reverses Seal for a blob stored with the given encrypted flag.
// Opening an encrypted blob without a configured key fails with
// common.ErrInvalidKeyMaterial.
func (e *Engine) Open(stored []byte, encrypted bool) ([]byte, error) {
	if !encrypted {
		return stored, nil
	}
	if e.aead == nil {
		return nil, common.ErrInvalidKeyMaterial
	}
	return open(e.aead, stored)
}
