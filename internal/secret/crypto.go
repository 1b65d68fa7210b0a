package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/gravitational/trace"
)

// ErrDecrypt is returned by Decrypt when the payload cannot be recovered
// with the given key: either it is malformed, or it was encrypted under a
// different key. Callers (BookmarksStore.GetBookmark) treat this as
// "password missing" and log rather than propagating a fatal error.
var ErrDecrypt = errors.New("failed to decrypt payload")

// deriveKey reduces the long per-install key material (see
// EncryptionKey, 256 alphanumeric characters by default) to the 16 bytes
// AES-128 requires. SHA-256 truncated to 16 bytes is used rather than a raw
// slice of the source string so that key derivation is independent of the
// source material's length and alphabet; this must stay stable across
// versions; changing it would make every existing encrypted bookmark
// password undecryptable (see spec.md §9 open question (a)).
func deriveKey(keyMaterial string) []byte {
	sum := sha256.Sum256([]byte(keyMaterial))
	return sum[:16]
}

// Encrypt encrypts plaintext under keyMaterial (see deriveKey) using
// AES-128-CBC with a random IV prefixed to the ciphertext, then base64s the
// whole envelope for safe storage in a TOML string field.
func Encrypt(keyMaterial, plaintext string) (string, error) {
	key := deriveKey(keyMaterial)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", trace.Wrap(err)
	}

	padded := pkcs7Pad([]byte(plaintext), block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := cryptorand.Read(iv); err != nil {
		return "", trace.Wrap(err)
	}

	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	envelope := append(iv, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt reverses Encrypt. Decrypting a payload produced under a different
// key, or a malformed payload, fails with ErrDecrypt rather than returning
// garbage.
func Decrypt(keyMaterial, payload string) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", trace.Wrap(ErrDecrypt, "base64: %v", err)
	}

	key := deriveKey(keyMaterial)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", trace.Wrap(err)
	}
	blockSize := block.BlockSize()
	if len(envelope) < blockSize || (len(envelope)-blockSize)%blockSize != 0 {
		return "", trace.Wrap(ErrDecrypt, "malformed envelope")
	}

	iv, ciphertext := envelope[:blockSize], envelope[blockSize:]
	if len(ciphertext) == 0 {
		return "", trace.Wrap(ErrDecrypt, "empty ciphertext")
	}

	plain := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plain, ciphertext)

	unpadded, err := pkcs7Unpad(plain, blockSize)
	if err != nil {
		return "", trace.Wrap(ErrDecrypt, "%v", err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
