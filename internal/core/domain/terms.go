package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// maxLockTimeHeight is the lower bound of locktimes interpreted as unix
	// timestamps, refund timeouts are block heights.
	maxLockTimeHeight = txscript.LockTimeThreshold
	// MaxFeeRate in sat/vbyte, keeps fee arithmetic far from overflowing.
	MaxFeeRate = 100_000
)

var tagTerms = []byte("DLC/contract/terms")

type Payout struct {
	Outcome      string
	OfferPayout  uint64
	AcceptPayout uint64
}

type FundingInput struct {
	Txid     string
	VOut     uint32
	Amount   uint64
	PkScript string
}

// PartyParams are the parameters each counterparty contributes to the
// contract.
type PartyParams struct {
	FundingPubKey string
	PayoutScript  string
	ChangeScript  string
	Inputs        []FundingInput
}

func (p PartyParams) IsEmpty() bool {
	return len(p.FundingPubKey) <= 0
}

func (p PartyParams) InputsAmount() uint64 {
	var sum uint64
	for _, in := range p.Inputs {
		sum += in.Amount
	}
	return sum
}

func (p PartyParams) PubKey() (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(p.FundingPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid funding pubkey encoding: %s", err)
	}
	return btcec.ParsePubKey(buf)
}

func (p PartyParams) validate(collateral uint64) error {
	if _, err := p.PubKey(); err != nil {
		return fmt.Errorf("invalid funding pubkey: %s", err)
	}
	if _, err := hex.DecodeString(p.PayoutScript); err != nil || len(p.PayoutScript) <= 0 {
		return fmt.Errorf("invalid payout script")
	}
	if _, err := hex.DecodeString(p.ChangeScript); err != nil {
		return fmt.Errorf("invalid change script")
	}
	if collateral > 0 && len(p.Inputs) <= 0 {
		return fmt.Errorf("missing funding inputs")
	}
	seen := make(map[string]struct{})
	for _, in := range p.Inputs {
		if _, err := chainhash.NewHashFromStr(in.Txid); err != nil {
			return fmt.Errorf("invalid funding input txid %s", in.Txid)
		}
		key := fmt.Sprintf("%s:%d", in.Txid, in.VOut)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("duplicated funding input %s", key)
		}
		seen[key] = struct{}{}
		if _, err := hex.DecodeString(in.PkScript); err != nil || len(in.PkScript) <= 0 {
			return fmt.Errorf("invalid pkscript for funding input %s", key)
		}
	}
	if p.InputsAmount() < collateral {
		return fmt.Errorf(
			"funding inputs amount %d is lower than collateral %d",
			p.InputsAmount(), collateral,
		)
	}
	return nil
}

// ContractTerms are immutable once both parties signed. The outcome order is
// the one chosen by the offerer and is preserved everywhere.
type ContractTerms struct {
	EventId          string
	Oracles          []string
	Threshold        uint32
	Outcomes         []Payout
	OfferCollateral  uint64
	AcceptCollateral uint64
	FeeRate          uint64
	Timeout          uint32
	Offer            PartyParams
	Accept           PartyParams
}

func (t ContractTerms) TotalCollateral() uint64 {
	return t.OfferCollateral + t.AcceptCollateral
}

func (t ContractTerms) OutcomeLabels() []string {
	labels := make([]string, 0, len(t.Outcomes))
	for _, p := range t.Outcomes {
		labels = append(labels, p.Outcome)
	}
	return labels
}

func (t ContractTerms) PayoutFor(outcome string) (Payout, bool) {
	for _, p := range t.Outcomes {
		if p.Outcome == outcome {
			return p, true
		}
	}
	return Payout{}, false
}

// Validate checks the terms as offered, acceptor params may be missing.
func (t ContractTerms) Validate() error {
	if len(t.EventId) <= 0 {
		return fmt.Errorf("missing oracle event id")
	}
	if len(t.Oracles) <= 0 {
		return fmt.Errorf("missing oracles")
	}
	oracles := make(map[string]struct{})
	for _, o := range t.Oracles {
		if _, ok := oracles[o]; ok {
			return fmt.Errorf("duplicated oracle %s", o)
		}
		oracles[o] = struct{}{}
	}
	if t.Threshold <= 0 || int(t.Threshold) > len(t.Oracles) {
		return fmt.Errorf(
			"invalid oracle threshold %d, must be in range [1, %d]",
			t.Threshold, len(t.Oracles),
		)
	}
	if len(t.Outcomes) <= 0 {
		return fmt.Errorf("missing outcomes")
	}
	if t.TotalCollateral() <= 0 {
		return fmt.Errorf("missing collateral")
	}
	if t.TotalCollateral() < t.OfferCollateral {
		return fmt.Errorf("collateral overflow")
	}
	outcomes := make(map[string]struct{})
	for _, p := range t.Outcomes {
		if len(p.Outcome) <= 0 {
			return fmt.Errorf("empty outcome label")
		}
		if _, ok := outcomes[p.Outcome]; ok {
			return fmt.Errorf("duplicated outcome %s", p.Outcome)
		}
		outcomes[p.Outcome] = struct{}{}
		if p.OfferPayout+p.AcceptPayout != t.TotalCollateral() ||
			p.OfferPayout > t.TotalCollateral() {
			return fmt.Errorf(
				"payout for outcome %s does not match total collateral %d",
				p.Outcome, t.TotalCollateral(),
			)
		}
	}
	if t.FeeRate <= 0 {
		return fmt.Errorf("missing fee rate")
	}
	if t.FeeRate > MaxFeeRate {
		return fmt.Errorf("fee rate %d exceeds max %d sat/vbyte", t.FeeRate, MaxFeeRate)
	}
	if t.Timeout <= 0 || t.Timeout >= maxLockTimeHeight {
		return fmt.Errorf("invalid refund timeout %d, must be a block height", t.Timeout)
	}
	if err := t.Offer.validate(t.OfferCollateral); err != nil {
		return fmt.Errorf("invalid offer params: %s", err)
	}
	return nil
}

// ValidateComplete checks the terms once the acceptor params are known.
func (t ContractTerms) ValidateComplete() error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Accept.IsEmpty() {
		return fmt.Errorf("missing accept params")
	}
	if err := t.Accept.validate(t.AcceptCollateral); err != nil {
		return fmt.Errorf("invalid accept params: %s", err)
	}
	if t.Accept.FundingPubKey == t.Offer.FundingPubKey {
		return fmt.Errorf("counterparties must use distinct funding keys")
	}
	offerInputs := make(map[string]struct{})
	for _, in := range t.Offer.Inputs {
		offerInputs[fmt.Sprintf("%s:%d", in.Txid, in.VOut)] = struct{}{}
	}
	for _, in := range t.Accept.Inputs {
		if _, ok := offerInputs[fmt.Sprintf("%s:%d", in.Txid, in.VOut)]; ok {
			return fmt.Errorf("funding input %s:%d used by both parties", in.Txid, in.VOut)
		}
	}
	return nil
}

// Hash is the digest both parties compare to make sure they agree on the
// same terms.
func (t ContractTerms) Hash() (string, error) {
	buf, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to serialize terms: %s", err)
	}
	return chainhash.TaggedHash(tagTerms, buf).String(), nil
}
