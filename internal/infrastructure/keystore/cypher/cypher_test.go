package cypher_test

import (
	"context"
	"testing"

	"github.com/Anya-org/dlcd/internal/infrastructure/keystore/cypher"
	"github.com/stretchr/testify/require"
)

func TestCypher(t *testing.T) {
	ctx := context.Background()
	svc := cypher.New()
	seed := []byte("0123456789abcdef0123456789abcdef")

	t.Run("valid", func(t *testing.T) {
		encrypted, err := svc.Encrypt(ctx, seed, "password")
		require.NoError(t, err)
		require.NotContains(t, string(encrypted), string(seed))

		other, err := svc.Encrypt(ctx, seed, "password")
		require.NoError(t, err)
		require.NotEqual(t, encrypted, other)

		decrypted, err := svc.Decrypt(ctx, encrypted, "password")
		require.NoError(t, err)
		require.Equal(t, seed, decrypted)
	})

	t.Run("invalid", func(t *testing.T) {
		encrypted, err := svc.Encrypt(ctx, seed, "password")
		require.NoError(t, err)

		fixtures := []struct {
			name      string
			encrypted []byte
			password  string
			err       string
		}{
			{"wrong password", encrypted, "wrong", "invalid password"},
			{"empty password", encrypted, "", "missing decryption password"},
			{"empty seed", nil, "password", "missing encrypted seed"},
			{"truncated seed", encrypted[:16], "password", "too short"},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				_, err := svc.Decrypt(ctx, f.encrypted, f.password)
				require.ErrorContains(t, err, f.err)
			})
		}

		_, err = svc.Encrypt(ctx, nil, "password")
		require.Error(t, err)
		_, err = svc.Encrypt(ctx, seed, "")
		require.Error(t, err)
	})
}
