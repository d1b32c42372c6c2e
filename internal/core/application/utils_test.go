package application

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestFundingFeeEstimate(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	changeScript, err := script.P2TRScript(key.PubKey())
	require.NoError(t, err)

	fixtures := []struct {
		name        string
		numOfInputs int
		feeRate     uint64
	}{
		{"single input", 1, 1},
		{"many inputs", 5, 1},
		{"high fee rate", 1, 300},
	}
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			fee := fundingFeeEstimate(f.numOfInputs, changeScript, f.feeRate)
			require.Positive(t, fee)
			require.Zero(t, fee%f.feeRate)
			require.Greater(t, fundingFeeEstimate(f.numOfInputs+1, changeScript, f.feeRate), fee)
			require.Equal(
				t, fee/f.feeRate*(f.feeRate+1),
				fundingFeeEstimate(f.numOfInputs, changeScript, f.feeRate+1),
			)
		})
	}
}

func TestSelectFundingInputs(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(startHeight)
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pkScript, err := script.P2TRScript(key.PubKey())
	require.NoError(t, err)
	addr, err := btcutil.NewAddressTaproot(pkScript[2:], &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	address := addr.EncodeAddress()
	chain.fund(t, address, 30_000_000)
	chain.fund(t, address, 30_000_001)

	t.Run("valid", func(t *testing.T) {
		inputs, err := selectFundingInputs(
			ctx, chain, address, hex.EncodeToString(pkScript), 50_000_000, 2, 1,
		)
		require.NoError(t, err)
		require.Len(t, inputs, 2)

		inputs, err = selectFundingInputs(ctx, chain, address, hex.EncodeToString(pkScript), 0, 2, 1)
		require.NoError(t, err)
		require.Empty(t, inputs)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := selectFundingInputs(
			ctx, chain, address, hex.EncodeToString(pkScript), 60_000_000, 2, 1,
		)
		require.ErrorContains(t, err, "not enough funds")

		_, err = selectFundingInputs(ctx, chain, address, "zz", 10_000_000, 2, 1)
		require.ErrorContains(t, err, "invalid wallet script")
	})
}
