package cypher

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100_000
)

var ErrInvalidPassword = errors.New("invalid password")

type cryptoService struct{}

func New() ports.Cypher {
	return &cryptoService{}
}

// Encrypt returns nonce || AES-GCM(seed) || salt.
func (c *cryptoService) Encrypt(_ context.Context, seed []byte, password string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("missing plaintext seed")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing encryption password")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	gcm, err := newGCM([]byte(password), salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, seed, nil)
	return append(ciphertext, salt...), nil
}

func (c *cryptoService) Decrypt(_ context.Context, encryptedSeed []byte, password string) ([]byte, error) {
	if len(encryptedSeed) == 0 {
		return nil, fmt.Errorf("missing encrypted seed")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing decryption password")
	}
	if len(encryptedSeed) <= saltSize {
		return nil, fmt.Errorf("encrypted seed is too short")
	}

	salt := encryptedSeed[len(encryptedSeed)-saltSize:]
	data := encryptedSeed[:len(encryptedSeed)-saltSize]

	gcm, err := newGCM([]byte(password), salt)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted seed is too short")
	}

	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	// #nosec G407
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plaintext, nil
}

func newGCM(password, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(password, salt, iterations, keySize, sha256.New)
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}
