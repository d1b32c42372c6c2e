package ports

import "context"

// SeedRepository stores the encrypted wallet seed.
type SeedRepository interface {
	IsInitialized(context.Context) bool
	GetEncryptedSeed(context.Context) ([]byte, error)
	AddEncryptedSeed(context.Context, []byte) error
	Close()
}

// Cypher encrypts and decrypts the wallet seed with a password.
type Cypher interface {
	Encrypt(ctx context.Context, seed []byte, password string) (encryptedSeed []byte, err error)
	Decrypt(ctx context.Context, encryptedSeed []byte, password string) (seed []byte, err error)
}
