package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/adaptor"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"
)

// contractTxs are the transactions both parties rebuild from the terms.
type contractTxs struct {
	funding *wire.MsgTx
	cets    map[string]*wire.MsgTx
	refund  *wire.MsgTx
}

func (t *contractTxs) txids() domain.ContractTxids {
	cets := make(map[string]string, len(t.cets))
	for outcome, cet := range t.cets {
		cets[outcome] = cet.TxHash().String()
	}
	return domain.ContractTxids{
		Funding: t.funding.TxHash().String(),
		Refund:  t.refund.TxHash().String(),
		Cets:    cets,
	}
}

// contractManager builds, signs and verifies the transactions of a contract.
type contractManager struct {
	builder ports.TxBuilder
	signer  ports.Signer
}

func (m *contractManager) buildTxs(
	terms domain.ContractTerms, announcements []oracle.Announcement,
) (*contractTxs, error) {
	funding, err := m.builder.BuildFunding(terms)
	if err != nil {
		return nil, fmt.Errorf("failed to build funding tx: %w", err)
	}
	cets, err := m.builder.BuildCets(terms, announcements)
	if err != nil {
		return nil, fmt.Errorf("failed to build CETs: %w", err)
	}
	refund, err := m.builder.BuildRefund(terms)
	if err != nil {
		return nil, fmt.Errorf("failed to build refund tx: %w", err)
	}
	return &contractTxs{funding, cets, refund}, nil
}

// sign produces one adaptor signature per CET and oracle subset plus the
// refund signature.
func (m *contractManager) sign(
	ctx context.Context, terms domain.ContractTerms,
	announcements []oracle.Announcement, txs *contractTxs,
) (*domain.PartySignatures, error) {
	points, err := encryptionPoints(terms, announcements)
	if err != nil {
		return nil, err
	}

	var lock sync.Mutex
	cetSigs := make(map[string][]string, len(txs.cets))

	eg, gctx := errgroup.WithContext(ctx)
	for _, outcome := range terms.OutcomeLabels() {
		outcome := outcome
		eg.Go(func() error {
			sighash, err := m.builder.Sighash(terms, txs.cets[outcome])
			if err != nil {
				return err
			}
			sigs := make([]string, 0, len(points[outcome]))
			for _, point := range points[outcome] {
				if err := gctx.Err(); err != nil {
					return err
				}
				sig, err := m.signer.AdaptorSign(gctx, sighash, point)
				if err != nil {
					return fmt.Errorf("failed to sign CET for outcome %s: %w", outcome, err)
				}
				sigs = append(sigs, hex.EncodeToString(sig.Serialize()))
			}
			lock.Lock()
			cetSigs[outcome] = sigs
			lock.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sighash, err := m.builder.Sighash(terms, txs.refund)
	if err != nil {
		return nil, err
	}
	refundSig, err := m.signer.Sign(ctx, sighash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refund tx: %w", err)
	}

	return &domain.PartySignatures{
		CetSignatures:   cetSigs,
		RefundSignature: hex.EncodeToString(refundSig.Serialize()),
	}, nil
}

// verifyCetSignatures checks in parallel every adaptor signature of the
// counterparty against the rebuilt CETs.
func (m *contractManager) verifyCetSignatures(
	terms domain.ContractTerms, announcements []oracle.Announcement,
	txs *contractTxs, sigs domain.PartySignatures, pubkey *btcec.PublicKey,
) error {
	points, err := encryptionPoints(terms, announcements)
	if err != nil {
		return err
	}

	eg := &errgroup.Group{}
	for _, outcome := range terms.OutcomeLabels() {
		outcome := outcome
		eg.Go(func() error {
			encodedSigs, ok := sigs.CetSignatures[outcome]
			if !ok || len(encodedSigs) != len(points[outcome]) {
				return fmt.Errorf("missing CET signatures for outcome %s", outcome)
			}
			sighash, err := m.builder.Sighash(terms, txs.cets[outcome])
			if err != nil {
				return err
			}
			for i, encodedSig := range encodedSigs {
				sig, err := parseAdaptorSignature(encodedSig)
				if err != nil {
					return fmt.Errorf("outcome %s subset %d: %w", outcome, i, err)
				}
				if err := adaptor.Verify(sig, sighash, pubkey, points[outcome][i]); err != nil {
					return fmt.Errorf("outcome %s subset %d: %w", outcome, i, err)
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (m *contractManager) verifyRefundSignature(
	terms domain.ContractTerms, txs *contractTxs, encodedSig string,
	pubkey *btcec.PublicKey,
) error {
	sighash, err := m.builder.Sighash(terms, txs.refund)
	if err != nil {
		return err
	}
	sig, err := parseSchnorrSignature(encodedSig)
	if err != nil {
		return err
	}
	if !sig.Verify(sighash, pubkey) {
		return fmt.Errorf("invalid refund signature")
	}
	return nil
}

// fundingPsbt returns the funding tx as psbt with the witness utxo of every
// input set from the terms.
func (m *contractManager) fundingPsbt(
	terms domain.ContractTerms, funding *wire.MsgTx,
) (*psbt.Packet, error) {
	ptx, err := psbt.NewFromUnsignedTx(funding.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to create funding psbt: %s", err)
	}
	if err := setFundingPrevouts(terms, ptx); err != nil {
		return nil, err
	}
	return ptx, nil
}

// signFunding signs the funding inputs owned by the signer and makes sure
// all the given ones got signed.
func (m *contractManager) signFunding(
	ctx context.Context, ptx *psbt.Packet, inputs []domain.FundingInput,
) error {
	signed, err := m.signer.SignFundingInputs(ctx, ptx)
	if err != nil {
		return fmt.Errorf("failed to sign funding inputs: %w", err)
	}
	signedOutpoints := make(map[wire.OutPoint]struct{}, len(signed))
	for _, i := range signed {
		signedOutpoints[ptx.UnsignedTx.TxIn[i].PreviousOutPoint] = struct{}{}
	}
	for _, in := range inputs {
		outpoint, err := toOutpoint(in)
		if err != nil {
			return err
		}
		if _, ok := signedOutpoints[*outpoint]; !ok {
			return fmt.Errorf("funding input %s:%d not owned by wallet", in.Txid, in.VOut)
		}
	}
	return nil
}

// settlementTx completes the CET of the resolved outcome: the counterparty
// adaptor signature for the attesting subset is decrypted with the oracles
// secret and combined with our own signature.
func (m *contractManager) settlementTx(
	ctx context.Context, contract *domain.Contract, txs *contractTxs,
	resolution *ports.Resolution,
) (*wire.MsgTx, error) {
	terms := contract.Terms
	cet, ok := txs.cets[resolution.Outcome]
	if !ok {
		return nil, domain.NewContractError(
			contract, domain.OracleError, domain.InvariantAttestation,
			fmt.Errorf("outcome %s not in contract outcome set", resolution.Outcome),
		)
	}

	subsetIndex := findSubset(
		oracle.Combinations(len(terms.Oracles), int(terms.Threshold)), resolution.Subset,
	)
	remoteSigs := contract.RemoteSignatures.CetSignatures[resolution.Outcome]
	if subsetIndex < 0 || subsetIndex >= len(remoteSigs) {
		return nil, domain.NewContractError(
			contract, domain.OracleError, domain.InvariantAttestation,
			fmt.Errorf("no signature for oracle subset %v", resolution.Subset),
		)
	}

	secret, err := oracle.AggregateSecret(resolution.Attestations)
	if err != nil {
		return nil, domain.NewContractError(
			contract, domain.OracleError, domain.InvariantAttestation, err,
		)
	}
	defer secret.Zero()

	remoteSig, err := parseAdaptorSignature(remoteSigs[subsetIndex])
	if err != nil {
		return nil, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantSettlement, err,
		)
	}
	decrypted, err := adaptor.Decrypt(remoteSig, secret)
	if err != nil {
		return nil, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantSettlement, err,
		)
	}

	sighash, err := m.builder.Sighash(terms, cet)
	if err != nil {
		return nil, err
	}
	localKey, remoteKey, err := fundingKeys(contract)
	if err != nil {
		return nil, err
	}
	if !decrypted.Verify(sighash, remoteKey) {
		return nil, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantSettlement,
			fmt.Errorf("decrypted counterparty signature is invalid"),
		)
	}

	localSig, err := m.signer.Sign(ctx, sighash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign CET: %w", err)
	}

	return m.builder.FinalizeSpend(terms, cet, map[string][]byte{
		xOnlyHex(localKey):  localSig.Serialize(),
		xOnlyHex(remoteKey): decrypted.Serialize(),
	})
}

func (m *contractManager) refundTx(
	ctx context.Context, contract *domain.Contract, txs *contractTxs,
) (*wire.MsgTx, error) {
	terms := contract.Terms
	sighash, err := m.builder.Sighash(terms, txs.refund)
	if err != nil {
		return nil, err
	}
	localKey, remoteKey, err := fundingKeys(contract)
	if err != nil {
		return nil, err
	}
	remoteSig, err := parseSchnorrSignature(contract.RemoteSignatures.RefundSignature)
	if err != nil {
		return nil, err
	}
	localSig, err := m.signer.Sign(ctx, sighash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refund tx: %w", err)
	}

	return m.builder.FinalizeSpend(terms, txs.refund, map[string][]byte{
		xOnlyHex(localKey):  localSig.Serialize(),
		xOnlyHex(remoteKey): remoteSig.Serialize(),
	})
}

// extractOracleSecret recovers the aggregated oracle secret from a CET
// broadcast by the counterparty. The witness holds our adaptor signature
// decrypted by the counterparty.
func extractOracleSecret(
	contract *domain.Contract, outcome string, cet *wire.MsgTx,
) (*btcec.ModNScalar, error) {
	if len(cet.TxIn) != 1 || len(cet.TxIn[0].Witness) < 2 {
		return nil, fmt.Errorf("unexpected CET witness")
	}
	if contract.LocalSignatures == nil {
		return nil, fmt.Errorf("missing local signatures")
	}

	for _, item := range cet.TxIn[0].Witness[:2] {
		completed, err := schnorr.ParseSignature(item)
		if err != nil {
			continue
		}
		for _, encodedSig := range contract.LocalSignatures.CetSignatures[outcome] {
			sig, err := parseAdaptorSignature(encodedSig)
			if err != nil {
				continue
			}
			secret, err := adaptor.ExtractSecret(sig, completed, sig.EncryptionPoint)
			if err == nil {
				return secret, nil
			}
		}
	}
	return nil, adaptor.ErrExtractionFailed
}

// encryptionPoints returns, for every outcome, the aggregated attestation
// point of every oracle subset in canonical order.
func encryptionPoints(
	terms domain.ContractTerms, announcements []oracle.Announcement,
) (map[string][]*btcec.PublicKey, error) {
	subsets := oracle.Combinations(len(terms.Oracles), int(terms.Threshold))
	if len(subsets) <= 0 {
		return nil, fmt.Errorf("invalid oracle threshold")
	}
	if len(announcements) != len(terms.Oracles) {
		return nil, fmt.Errorf(
			"expected %d announcements, got %d", len(terms.Oracles), len(announcements),
		)
	}

	points := make(map[string][]*btcec.PublicKey, len(terms.Outcomes))
	for _, outcome := range terms.OutcomeLabels() {
		for _, subset := range subsets {
			anns := make([]*oracle.Announcement, 0, len(subset))
			for _, i := range subset {
				anns = append(anns, &announcements[i])
			}
			point, err := oracle.AggregateAttestationPoint(anns, outcome)
			if err != nil {
				return nil, fmt.Errorf(
					"failed to compute encryption point for outcome %s: %w", outcome, err,
				)
			}
			points[outcome] = append(points[outcome], point)
		}
	}
	return points, nil
}

func setFundingPrevouts(terms domain.ContractTerms, ptx *psbt.Packet) error {
	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for _, in := range append(
		append([]domain.FundingInput{}, terms.Offer.Inputs...), terms.Accept.Inputs...,
	) {
		outpoint, err := toOutpoint(in)
		if err != nil {
			return err
		}
		script, err := hex.DecodeString(in.PkScript)
		if err != nil {
			return fmt.Errorf("invalid pkscript for input %s:%d", in.Txid, in.VOut)
		}
		prevouts[*outpoint] = wire.NewTxOut(int64(in.Amount), script)
	}
	for i, in := range ptx.UnsignedTx.TxIn {
		prevout, ok := prevouts[in.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("unknown funding input %s", in.PreviousOutPoint)
		}
		ptx.Inputs[i].WitnessUtxo = prevout
	}
	return nil
}

func fundingKeys(contract *domain.Contract) (local, remote *btcec.PublicKey, err error) {
	offerKey, err := contract.Terms.Offer.PubKey()
	if err != nil {
		return nil, nil, err
	}
	acceptKey, err := contract.Terms.Accept.PubKey()
	if err != nil {
		return nil, nil, err
	}
	if contract.Role == domain.RoleOffer {
		return offerKey, acceptKey, nil
	}
	return acceptKey, offerKey, nil
}

func findSubset(subsets [][]int, subset []int) int {
	for i, s := range subsets {
		if len(s) != len(subset) {
			continue
		}
		match := true
		for j := range s {
			if s[j] != subset[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func parseAdaptorSignature(encoded string) (*adaptor.Signature, error) {
	buf, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", adaptor.ErrInvalidSignature)
	}
	return adaptor.ParseSignature(buf)
}

func parseSchnorrSignature(encoded string) (*schnorr.Signature, error) {
	buf, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}
	return schnorr.ParseSignature(buf)
}

func xOnlyHex(key *btcec.PublicKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(key))
}

func toOutpoint(in domain.FundingInput) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(in.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s", in.Txid)
	}
	return wire.NewOutPoint(hash, in.VOut), nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTx(txHex string) (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(hex.NewDecoder(strings.NewReader(txHex))); err != nil {
		return nil, err
	}
	return &tx, nil
}
