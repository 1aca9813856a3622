// Package secret seals credentials into opaque at-rest blobs.
// Blobs are hex(iv) + ":" + hex(ciphertext) under AES-256-CBC with PKCS#7
// padding, readable by any deployment sharing the same ENCRYPTION_KEY.
package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter (2^14).
	scryptN = 16384

	// scryptR is the block size parameter.
	scryptR = 8

	// scryptP is the parallelization parameter.
	scryptP = 1

	// keyLen is the AES-256 key length in bytes.
	keyLen = 32

	// ivLen is the CBC initialization vector length.
	ivLen = aes.BlockSize

	// delimiter separates the hex IV from the hex ciphertext.
	delimiter = ":"
)

// fixedSalt is shared by every blob so existing sessions stay readable
// across restarts.
var fixedSalt = []byte("salt")

// DeriveKey derives the 32-byte AES key from the configured secret.
// An empty secret is a configuration error.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, &apperrors.ConfigError{Var: "ENCRYPTION_KEY"}
	}

	secret = norm.NFKC.String(secret)

	key, err := scrypt.Key([]byte(secret), fixedSalt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// Cipher seals and opens credential blobs.
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	return &Cipher{block: block}, nil
}

// NewCipherFromSecret derives the key and builds a cipher in one step.
func NewCipherFromSecret(secret string) (*Cipher, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}

	return NewCipher(key)
}

// Seal JSON-encodes v and encrypts it under a fresh random IV.
func (c *Cipher) Seal(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling plaintext: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + delimiter + hex.EncodeToString(ciphertext), nil
}

// Open decrypts blob into v. It never panics: an empty blob returns
// ErrNoCredential and every other failure returns a DecryptionError.
func (c *Cipher) Open(blob string, v any) error {
	if blob == "" {
		return apperrors.ErrNoCredential
	}

	ivHex, ctHex, ok := strings.Cut(blob, delimiter)
	if !ok {
		return &apperrors.DecryptionError{Reason: "missing delimiter"}
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return &apperrors.DecryptionError{Reason: "decoding IV", Err: err}
	}

	if len(iv) != ivLen {
		return &apperrors.DecryptionError{Reason: fmt.Sprintf("IV is %d bytes", len(iv))}
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return &apperrors.DecryptionError{Reason: "decoding ciphertext", Err: err}
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return &apperrors.DecryptionError{Reason: fmt.Sprintf("ciphertext length %d", len(ciphertext))}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return &apperrors.DecryptionError{Reason: "bad padding", Err: err}
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return &apperrors.DecryptionError{Reason: "decoding plaintext", Err: err}
	}

	return nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("invalid pad byte %d", n)
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}

	return data[:len(data)-n], nil
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
