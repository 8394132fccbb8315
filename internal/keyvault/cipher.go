package keyvault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// MasterKeySize is the required master secret length (AES-256).
	MasterKeySize = 32

	ivSize    = aes.BlockSize
	recordSep = ":"
)

var (
	ErrInvalidKeyLength = errors.New("keyvault: master key must be 32 bytes")
	ErrIntegrityOrKey   = errors.New("keyvault: malformed vault record or wrong key")
)

// Cipher encrypts the vault payload with AES-256-CBC under a single master
// secret. Records are rendered as "<hex-iv>:<hex-ciphertext>".
//
// CBC gives confidentiality only. A record that decrypts and unpads cleanly
// has not been authenticated.
type Cipher struct {
	block cipher.Block
}

// NewCipher returns ErrInvalidKeyLength unless masterKey is exactly
// MasterKeySize bytes.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeyLength, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("keyvault: aes: %w", err)
	}
	return &Cipher{block: block}, nil
}

// ParseMasterKey decodes a hex master key as supplied in the environment.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w (empty)", ErrInvalidKeyLength)
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrInvalidKeyLength)
	}
	if len(key) != MasterKeySize {
		Zero(key)
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeyLength, len(key))
	}
	return key, nil
}

// Encrypt draws a fresh IV from crypto/rand on every call.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("keyvault: iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, ivSize)
	defer Zero(padded)

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + recordSep + hex.EncodeToString(ct), nil
}

// Decrypt parses and decrypts a record produced by Encrypt. Every failure
// mode (shape, hex, block size, padding) maps to ErrIntegrityOrKey.
func (c *Cipher) Decrypt(record string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(strings.TrimSpace(record), recordSep)
	if !ok {
		return nil, fmt.Errorf("%w: missing delimiter", ErrIntegrityOrKey)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("%w: bad iv", ErrIntegrityOrKey)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrIntegrityOrKey)
	}
	if len(ct) == 0 || len(ct)%ivSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrIntegrityOrKey)
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(pt, ct)

	out, err := pkcs7Unpad(pt, ivSize)
	if err != nil {
		Zero(pt)
		return nil, err
	}
	return out, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrIntegrityOrKey)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrIntegrityOrKey)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrIntegrityOrKey)
		}
	}
	return b[:len(b)-n], nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
