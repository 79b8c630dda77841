// Package fieldcrypt implements the field-level encryption envelope
// ({e,i,a} hex-encoded AES-256-GCM) and on-disk key persistence. The wire
// format is kept bit-compatible across implementations so encrypted rows
// can migrate.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

func sha256New() hash.Hash { return sha256.New() }

const (
	keySize        = 32 // AES-256
	gcmNonceSize   = 12
	cbcIVSize      = aes.BlockSize
	pbkdf2SaltSize = 16
	pbkdf2Iters    = 100_000
)

// Envelope is the field-level ciphertext format: {e: hex, i: hex, a: hex}.
// e = ciphertext, i = nonce, a = auth tag (GCM appends the tag to the
// ciphertext internally in the Go stdlib, so Tag is split out explicitly to
// keep the envelope shape stable for cross-implementation consumers).
type Envelope struct {
	E string `json:"e"`
	I string `json:"i"`
	A string `json:"a"`
}

// Service owns a 32-byte master key held in process memory for the life of
// the process. Rotation requires re-encrypting all
// affected rows; this package exposes Encrypt/Decrypt only, the rotation
// workflow (read-decrypt-with-old, encrypt-with-new, write) is the caller's
// responsibility.
type Service struct {
	key [keySize]byte
}

// New constructs a Service from an existing 32-byte key.
func New(key []byte) (*Service, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("fieldcrypt: key must be %d bytes, got %d", keySize, len(key))
	}
	s := &Service{}
	copy(s.key[:], key)
	return s, nil
}

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("fieldcrypt: generate key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKeyFile reads a 32-byte key from path, creating one with 0600
// permissions if it does not exist yet.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if len(b) != keySize {
			return nil, fmt.Errorf("fieldcrypt: key file %s has wrong length %d", path, len(b))
		}
		return b, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("fieldcrypt: read key file: %w", err)
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("fieldcrypt: write key file: %w", err)
	}
	return key, nil
}

// Encrypt produces an Envelope for plaintext using AES-256-GCM with a random
// 12-byte nonce.
func (s *Service) Encrypt(plaintext string) (Envelope, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("fieldcrypt: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("fieldcrypt: new gcm: %w", err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("fieldcrypt: read nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]
	return Envelope{
		E: hex.EncodeToString(ciphertext),
		I: hex.EncodeToString(nonce),
		A: hex.EncodeToString(tag),
	}, nil
}

// Decrypt reverses Encrypt. decrypt(encrypt(s)) == s for all strings s
//.
func (s *Service) Decrypt(env Envelope) (string, error) {
	ciphertext, err := hex.DecodeString(env.E)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decode ciphertext: %w", err)
	}
	nonce, err := hex.DecodeString(env.I)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decode nonce: %w", err)
	}
	tag, err := hex.DecodeString(env.A)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decode tag: %w", err)
	}
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: new gcm: %w", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: open: %w", err)
	}
	return string(plaintext), nil
}

// MarshalJSON makes Envelope a drop-in value for JSON side-metadata columns;
// decoding uses the default struct-tag unmarshalling.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	return json.Marshal(alias(e))
}

// EncryptKeyBackup produces an encrypted backup of the master key file using
// PBKDF2-SHA256 (100k iterations) to derive an AES-256-CBC key from
// passphrase, with a random per-file salt and IV// disk").
func EncryptKeyBackup(key []byte, passphrase string) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("fieldcrypt: key must be %d bytes", keySize)
	}
	salt := make([]byte, pbkdf2SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("fieldcrypt: read salt: %w", err)
	}
	iv := make([]byte, cbcIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("fieldcrypt: read iv: %w", err)
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, keySize, sha256New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: new cipher: %w", err)
	}
	padded := pkcs7Pad(key, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(salt)+len(iv)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptKeyBackup reverses EncryptKeyBackup.
func DecryptKeyBackup(backup []byte, passphrase string) ([]byte, error) {
	if len(backup) < pbkdf2SaltSize+cbcIVSize+aes.BlockSize {
		return nil, errors.New("fieldcrypt: backup too short")
	}
	salt := backup[:pbkdf2SaltSize]
	iv := backup[pbkdf2SaltSize : pbkdf2SaltSize+cbcIVSize]
	ciphertext := backup[pbkdf2SaltSize+cbcIVSize:]
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, keySize, sha256New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: new cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("fieldcrypt: corrupt backup ciphertext")
	}
	plainPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ciphertext)
	return pkcs7Unpad(plainPadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("fieldcrypt: empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("fieldcrypt: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
