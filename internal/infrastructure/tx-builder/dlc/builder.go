package txbuilder

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/script"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	txVersion = 2
	// Sequence enabling the locktime of the spending tx.
	lockTimeSequence = wire.MaxTxInSequenceNum - 1
)

type txBuilder struct{}

func NewTxBuilder() ports.TxBuilder {
	return &txBuilder{}
}

func (b *txBuilder) BuildFunding(terms domain.ContractTerms) (*wire.MsgTx, error) {
	if err := terms.ValidateComplete(); err != nil {
		return nil, fmt.Errorf("invalid terms: %s", err)
	}

	funding, err := fundingScript(terms)
	if err != nil {
		return nil, err
	}
	fundingPkScript, err := funding.PkScript()
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	for _, party := range []domain.PartyParams{terms.Offer, terms.Accept} {
		for _, in := range party.Inputs {
			outpoint, err := toOutpoint(in)
			if err != nil {
				return nil, err
			}
			tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
		}
	}
	tx.AddTxOut(wire.NewTxOut(int64(terms.TotalCollateral()), fundingPkScript))

	offerFee, acceptFee, err := fundingFees(terms)
	if err != nil {
		return nil, err
	}
	changes := []struct {
		party      domain.PartyParams
		collateral uint64
		fee        uint64
		name       string
	}{
		{terms.Offer, terms.OfferCollateral, offerFee, "offer"},
		{terms.Accept, terms.AcceptCollateral, acceptFee, "accept"},
	}
	for _, c := range changes {
		if c.party.InputsAmount() < c.collateral+c.fee {
			return nil, fmt.Errorf(
				"%s inputs amount %d not enough to cover collateral %d and fees %d",
				c.name, c.party.InputsAmount(), c.collateral, c.fee,
			)
		}
		change := c.party.InputsAmount() - c.collateral - c.fee
		out, err := newOutput(change, changeScript(c.party))
		if err != nil {
			return nil, err
		}
		if out != nil {
			tx.AddTxOut(out)
		}
	}

	txsort.InPlaceSort(tx)
	return tx, nil
}

func (b *txBuilder) BuildCets(
	terms domain.ContractTerms, announcements []oracle.Announcement,
) (map[string]*wire.MsgTx, error) {
	if err := checkOutcomes(terms, announcements); err != nil {
		return nil, err
	}
	_, outpoint, err := b.FundingOutput(terms)
	if err != nil {
		return nil, err
	}

	offerFee, acceptFee, err := spendFees(terms)
	if err != nil {
		return nil, err
	}
	cets := make(map[string]*wire.MsgTx, len(terms.Outcomes))
	for _, payout := range terms.Outcomes {
		tx, err := buildSpend(
			outpoint, 0,
			subtractFee(payout.OfferPayout, offerFee), terms.Offer.PayoutScript,
			subtractFee(payout.AcceptPayout, acceptFee), terms.Accept.PayoutScript,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build CET for outcome %s: %s", payout.Outcome, err)
		}
		cets[payout.Outcome] = tx
	}
	return cets, nil
}

func (b *txBuilder) BuildRefund(terms domain.ContractTerms) (*wire.MsgTx, error) {
	_, outpoint, err := b.FundingOutput(terms)
	if err != nil {
		return nil, err
	}

	offerFee, acceptFee, err := spendFees(terms)
	if err != nil {
		return nil, err
	}
	return buildSpend(
		outpoint, terms.Timeout,
		subtractFee(terms.OfferCollateral, offerFee), terms.Offer.PayoutScript,
		subtractFee(terms.AcceptCollateral, acceptFee), terms.Accept.PayoutScript,
	)
}

func (b *txBuilder) Sighash(terms domain.ContractTerms, tx *wire.MsgTx) ([]byte, error) {
	fundingOut, outpoint, err := b.FundingOutput(terms)
	if err != nil {
		return nil, err
	}
	if len(tx.TxIn) != 1 || tx.TxIn[0].PreviousOutPoint != *outpoint {
		return nil, fmt.Errorf("tx does not spend the contract funding output")
	}
	funding, err := fundingScript(terms)
	if err != nil {
		return nil, err
	}

	return getTaprootPreimage(tx, fundingOut, funding.Leaf())
}

func (b *txBuilder) FinalizeSpend(
	terms domain.ContractTerms, tx *wire.MsgTx, signatures map[string][]byte,
) (*wire.MsgTx, error) {
	if len(tx.TxIn) != 1 {
		return nil, fmt.Errorf("expected tx with 1 input, got %d", len(tx.TxIn))
	}
	funding, err := fundingScript(terms)
	if err != nil {
		return nil, err
	}
	witness, err := funding.Witness(signatures)
	if err != nil {
		return nil, err
	}

	signed := tx.Copy()
	signed.TxIn[0].Witness = witness
	return signed, nil
}

func (b *txBuilder) FundingOutput(
	terms domain.ContractTerms,
) (*wire.TxOut, *wire.OutPoint, error) {
	fundingTx, err := b.BuildFunding(terms)
	if err != nil {
		return nil, nil, err
	}
	funding, err := fundingScript(terms)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := funding.PkScript()
	if err != nil {
		return nil, nil, err
	}

	txid := fundingTx.TxHash()
	for i, out := range fundingTx.TxOut {
		if out.Value == int64(terms.TotalCollateral()) &&
			hex.EncodeToString(out.PkScript) == hex.EncodeToString(pkScript) {
			return out, wire.NewOutPoint(&txid, uint32(i)), nil
		}
	}
	return nil, nil, fmt.Errorf("funding output not found in funding tx")
}

func buildSpend(
	outpoint *wire.OutPoint, lockTime uint32,
	offerAmount uint64, offerScript string,
	acceptAmount uint64, acceptScript string,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(txVersion)
	in := wire.NewTxIn(outpoint, nil, nil)
	in.Sequence = lockTimeSequence
	tx.AddTxIn(in)
	tx.LockTime = lockTime

	for _, o := range []struct {
		amount uint64
		script string
	}{{offerAmount, offerScript}, {acceptAmount, acceptScript}} {
		out, err := newOutput(o.amount, o.script)
		if err != nil {
			return nil, err
		}
		if out != nil {
			tx.AddTxOut(out)
		}
	}
	if len(tx.TxOut) <= 0 {
		return nil, fmt.Errorf("all outputs are below dust")
	}

	txsort.InPlaceSort(tx)
	return tx, nil
}

func fundingScript(terms domain.ContractTerms) (*script.FundingScript, error) {
	offerKey, err := terms.Offer.PubKey()
	if err != nil {
		return nil, fmt.Errorf("invalid offer funding pubkey: %s", err)
	}
	acceptKey, err := terms.Accept.PubKey()
	if err != nil {
		return nil, fmt.Errorf("invalid accept funding pubkey: %s", err)
	}
	return script.NewFundingScript(offerKey, acceptKey)
}

func checkOutcomes(terms domain.ContractTerms, announcements []oracle.Announcement) error {
	if len(announcements) != len(terms.Oracles) {
		return fmt.Errorf(
			"expected %d announcements, got %d", len(terms.Oracles), len(announcements),
		)
	}
	expected := terms.OutcomeLabels()
	sort.Strings(expected)
	for i, ann := range announcements {
		if ann.EventId != terms.EventId {
			return fmt.Errorf("announcement %d is for event %s", i, ann.EventId)
		}
		got := append([]string{}, ann.Outcomes...)
		sort.Strings(got)
		if len(got) != len(expected) {
			return fmt.Errorf("announcement %d outcome set mismatch", i)
		}
		for j := range got {
			if got[j] != expected[j] {
				return fmt.Errorf("announcement %d outcome set mismatch", i)
			}
		}
	}
	return nil
}

func getTaprootPreimage(
	tx *wire.MsgTx, prevout *wire.TxOut, leaf txscript.TapLeaf,
) ([]byte, error) {
	prevoutFetcher := txscript.NewCannedPrevOutputFetcher(prevout.PkScript, prevout.Value)
	return txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(tx, prevoutFetcher),
		txscript.SigHashDefault,
		tx,
		0,
		prevoutFetcher,
		leaf,
	)
}
