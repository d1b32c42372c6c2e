package adaptor_test

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

func TestAdaptorSignature(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			msg := sha256.Sum256([]byte(fmt.Sprintf("message %d", i)))
			key, secret, point := newFixture(t)

			sig, err := adaptor.Encrypt(msg[:], key, point)
			require.NoError(t, err)
			require.NoError(t, adaptor.Verify(sig, msg[:], key.PubKey(), point))

			completed, err := adaptor.Decrypt(sig, &secret.Key)
			require.NoError(t, err)
			require.True(t, completed.Verify(msg[:], key.PubKey()))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		msg := sha256.Sum256([]byte("deterministic"))
		key, _, point := newFixture(t)

		sig1, err := adaptor.Encrypt(msg[:], key, point)
		require.NoError(t, err)
		sig2, err := adaptor.Encrypt(msg[:], key, point)
		require.NoError(t, err)
		require.Equal(t, sig1.Serialize(), sig2.Serialize())
	})

	t.Run("serialize", func(t *testing.T) {
		msg := sha256.Sum256([]byte("serialize"))
		key, _, point := newFixture(t)

		sig, err := adaptor.Encrypt(msg[:], key, point)
		require.NoError(t, err)

		parsed, err := adaptor.ParseSignature(sig.Serialize())
		require.NoError(t, err)
		require.NoError(t, adaptor.Verify(parsed, msg[:], key.PubKey(), point))

		_, err = adaptor.ParseSignature(sig.Serialize()[1:])
		require.ErrorIs(t, err, adaptor.ErrInvalidSignature)
	})

	t.Run("non malleability", func(t *testing.T) {
		msg := sha256.Sum256([]byte("wrong secret"))
		key, _, point := newFixture(t)
		_, wrong, _ := newFixture(t)

		sig, err := adaptor.Encrypt(msg[:], key, point)
		require.NoError(t, err)

		completed, err := adaptor.Decrypt(sig, &wrong.Key)
		require.ErrorIs(t, err, adaptor.ErrSecretMismatch)
		require.Nil(t, completed)
	})

	t.Run("extraction", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			msg := sha256.Sum256([]byte(fmt.Sprintf("extract %d", i)))
			key, secret, point := newFixture(t)

			sig, err := adaptor.Encrypt(msg[:], key, point)
			require.NoError(t, err)
			completed, err := adaptor.Decrypt(sig, &secret.Key)
			require.NoError(t, err)

			extracted, err := adaptor.ExtractSecret(sig, completed, point)
			require.NoError(t, err)
			require.True(t, extracted.Equals(&secret.Key))
		}
	})

	t.Run("invalid", func(t *testing.T) {
		msg := sha256.Sum256([]byte("invalid"))
		otherMsg := sha256.Sum256([]byte("other"))
		key, secret, point := newFixture(t)
		otherKey, _, otherPoint := newFixture(t)

		sig, err := adaptor.Encrypt(msg[:], key, point)
		require.NoError(t, err)

		t.Run("encrypt", func(t *testing.T) {
			zeroKey, _ := btcec.PrivKeyFromBytes(make([]byte, 32))
			_, err := adaptor.Encrypt(msg[:], zeroKey, point)
			require.ErrorIs(t, err, adaptor.ErrInvalidKey)

			_, err = adaptor.Encrypt(msg[:], key, nil)
			require.ErrorIs(t, err, adaptor.ErrInvalidKey)

			_, err = adaptor.Encrypt(msg[:31], key, point)
			require.Error(t, err)
		})

		t.Run("verify", func(t *testing.T) {
			fixtures := []struct {
				name  string
				sig   *adaptor.Signature
				msg   []byte
				key   *btcec.PublicKey
				point *btcec.PublicKey
			}{
				{"nil signature", nil, msg[:], key.PubKey(), point},
				{"wrong message", sig, otherMsg[:], key.PubKey(), point},
				{"wrong key", sig, msg[:], otherKey.PubKey(), point},
				{"wrong point", sig, msg[:], key.PubKey(), otherPoint},
				{"nil key", sig, msg[:], nil, point},
				{"short message", sig, msg[:16], key.PubKey(), point},
				{"tampered scalar", tamper(sig, 63), msg[:], key.PubKey(), point},
				{"tampered nonce", tamper(sig, 0), msg[:], key.PubKey(), point},
				{"overflowing nonce", overflowNonce(sig), msg[:], key.PubKey(), point},
			}
			for _, f := range fixtures {
				t.Run(f.name, func(t *testing.T) {
					require.NotPanics(t, func() {
						err := adaptor.Verify(f.sig, f.msg, f.key, f.point)
						require.ErrorIs(t, err, adaptor.ErrInvalidSignature)
						require.False(t, adaptor.IsValid(f.sig, f.msg, f.key, f.point))
					})
				})
			}
		})

		t.Run("extract", func(t *testing.T) {
			completed, err := adaptor.Decrypt(sig, &secret.Key)
			require.NoError(t, err)

			unrelated, err := schnorr.Sign(otherKey, msg[:])
			require.NoError(t, err)
			_, err = adaptor.ExtractSecret(sig, unrelated, point)
			require.ErrorIs(t, err, adaptor.ErrExtractionFailed)

			_, err = adaptor.ExtractSecret(sig, completed, otherPoint)
			require.ErrorIs(t, err, adaptor.ErrExtractionFailed)

			_, err = adaptor.ExtractSecret(nil, completed, point)
			require.ErrorIs(t, err, adaptor.ErrExtractionFailed)
		})
	})
}

func newFixture(t *testing.T) (*btcec.PrivateKey, *btcec.PrivateKey, *btcec.PublicKey) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	secret, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key, secret, secret.PubKey()
}

func tamper(sig *adaptor.Signature, index int) *adaptor.Signature {
	tampered := &adaptor.Signature{
		EncryptedData:   sig.EncryptedData,
		EncryptionPoint: sig.EncryptionPoint,
	}
	tampered.EncryptedData[index] ^= 0x01
	return tampered
}

func overflowNonce(sig *adaptor.Signature) *adaptor.Signature {
	tampered := &adaptor.Signature{
		EncryptedData:   sig.EncryptedData,
		EncryptionPoint: sig.EncryptionPoint,
	}
	for i := 0; i < 32; i++ {
		tampered.EncryptedData[i] = 0xff
	}
	return tampered
}
