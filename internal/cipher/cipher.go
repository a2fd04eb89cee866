// Package cipher provides the symmetric encryption used between the chat server
// and its clients: AES-128 in GCM mode, carried as base64 text so that every
// encrypted value travels as a single printable frame.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the length in bytes of every personal and room key.
const KeySize = 16

var (
	// ErrDecrypt is returned when a ciphertext cannot be opened, either because
	// it was produced under a different key or because it was corrupted.
	ErrDecrypt = errors.New("cipher: decryption failed")
	// ErrKeySize is returned when raw key material is not KeySize bytes long.
	ErrKeySize = errors.New("cipher: invalid key size")
)

// Key is a 128-bit AES key.
type Key [KeySize]byte

// GenerateKey returns a fresh random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("cipher: generate key: %w", err)
	}
	return k, nil
}

// KeyFromBytes copies raw key material into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("%w: got %d bytes", ErrKeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// ParseKey decodes a base64 encoded key as produced by Key.Base64.
func ParseKey(encoded string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Key{}, fmt.Errorf("cipher: decode key: %w", err)
	}
	return KeyFromBytes(raw)
}

// Bytes returns a copy of the raw key material.
func (k Key) Bytes() []byte {
	b := make([]byte, KeySize)
	copy(b, k[:])
	return b
}

// Base64 returns the standard base64 encoding of the key.
func (k Key) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func newAEAD(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key and returns base64(nonce || ciphertext || tag).
// A fresh nonce is drawn for every call, so encrypting the same text twice
// yields different output.
func Encrypt(key Key, plaintext string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", fmt.Errorf("cipher: init: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cipher: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Every failure, including malformed
// base64 and truncated input, is reported as ErrDecrypt.
func Decrypt(key Key, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", fmt.Errorf("cipher: init: %w", err)
	}

	if len(data) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
