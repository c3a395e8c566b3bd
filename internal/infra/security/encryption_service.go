package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values written by Seal so that rows stored before
// encryption was switched on still read back as plaintext. v1 values used
// padded base64 and are still readable.
const (
	sealedPrefix   = "enc:v2:"
	sealedPrefixV1 = "enc:v1:"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// EncryptionService is AES-GCM with a random nonce per message.
type EncryptionService struct {
	gcm cipher.AEAD
}

// NewEncryptionService takes a 16, 24 or 32 byte key (AES-128/192/256).
func NewEncryptionService(key string) (*EncryptionService, error) {
	k := []byte(key)
	n := len(k)
	if n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	ct, err := e.seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (e *EncryptionService) Decrypt(b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	return e.open(data)
}

func (e *EncryptionService) seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (e *EncryptionService) open(data []byte) (string, error) {
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return "", ErrCiphertextTooShort
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := e.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm open: %w", err)
	}
	return string(pt), nil
}

// Seal encrypts plaintext into a prefixed, unpadded base64 value. The empty
// string stays empty.
//
// The sealed length is strictly increasing in the plaintext length (unpadded
// base64 grows by at least one character per byte), so stores that only let
// output grow by comparing lengths behave the same on sealed values.
func (e *EncryptionService) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := e.seal(plaintext)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal. Values without a known prefix are returned unchanged.
func (e *EncryptionService) Open(v string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(v, sealedPrefix):
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	case strings.HasPrefix(v, sealedPrefixV1):
		data, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefixV1))
	default:
		return v, nil
	}
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	return e.open(data)
}
