package dlclib

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

type Network struct {
	Name   string
	Params *chaincfg.Params
}

var (
	Bitcoin = Network{
		Name:   "bitcoin",
		Params: &chaincfg.MainNetParams,
	}
	BitcoinTestNet = Network{
		Name:   "testnet",
		Params: &chaincfg.TestNet3Params,
	}
	BitcoinSigNet = Network{
		Name:   "signet",
		Params: &chaincfg.SigNetParams,
	}
	BitcoinRegTest = Network{
		Name:   "regtest",
		Params: &chaincfg.RegressionNetParams,
	}

	supportedNetworks = map[string]Network{
		Bitcoin.Name:        Bitcoin,
		BitcoinTestNet.Name: BitcoinTestNet,
		BitcoinSigNet.Name:  BitcoinSigNet,
		BitcoinRegTest.Name: BitcoinRegTest,
	}
)

// NetworkFromString returns the network matching the given name, the alias
// "mainnet" is accepted for bitcoin.
func NetworkFromString(name string) (Network, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "mainnet" {
		name = Bitcoin.Name
	}
	net, ok := supportedNetworks[name]
	if !ok {
		return Network{}, fmt.Errorf(
			"unknown network %s, must be one of bitcoin | testnet | signet | regtest",
			name,
		)
	}
	return net, nil
}
