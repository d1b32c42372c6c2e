package adaptor

import "errors"

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid adaptor signature")
	ErrSecretMismatch   = errors.New("secret does not match encryption point")
	ErrExtractionFailed = errors.New("failed to extract secret from signature")
)
