// Package oracle defines the oracle announcement and attestation formats and
// how they are verified.
//
// An oracle with key P announces, for an event, a one-time nonce R and the
// set of possible outcomes. When the event happens the oracle publishes the
// BIP340 signature (R, s) of sha256(outcome) under P. The scalar s is the
// discrete log of the attestation point S = R + e*P, which is computable by
// anyone from the announcement alone and used as adaptor encryption point.
package oracle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	ErrInvalidAnnouncement = errors.New("invalid oracle announcement")
	ErrInvalidAttestation  = errors.New("invalid oracle attestation")

	tagAnnouncement = []byte("DLC/oracle/announcement/v0")
)

// Info describes an oracle as exposed by its info endpoint.
type Info struct {
	Name       string            `json:"name"`
	PubKey     string            `json:"public_key"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Announcement metadata is informational, it's not covered by the oracle
// signature.
type Announcement struct {
	EventId          string            `json:"event_id"`
	Description      string            `json:"description"`
	OraclePubKey     string            `json:"oracle_public_key"`
	Nonce            string            `json:"nonce"`
	Outcomes         []string          `json:"outcomes"`
	MaturityTime     int64             `json:"maturity_time"`
	AnnouncementTime int64             `json:"announcement_time"`
	Signature        string            `json:"signature"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Hash returns the digest signed by the oracle.
func (a *Announcement) Hash() ([]byte, error) {
	pubkey, err := hex.DecodeString(a.OraclePubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle pubkey: %s", err)
	}
	nonce, err := hex.DecodeString(a.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %s", err)
	}

	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, a.EventId); err != nil {
		return nil, err
	}
	if err := wire.WriteVarString(&buf, 0, a.Description); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, pubkey); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, nonce); err != nil {
		return nil, err
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(len(a.Outcomes))); err != nil {
		return nil, err
	}
	for _, outcome := range a.Outcomes {
		if err := wire.WriteVarString(&buf, 0, outcome); err != nil {
			return nil, err
		}
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(a.MaturityTime)); err != nil {
		return nil, err
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(a.AnnouncementTime)); err != nil {
		return nil, err
	}

	return chainhash.TaggedHash(tagAnnouncement, buf.Bytes())[:], nil
}

func (a *Announcement) PubKey() (*btcec.PublicKey, error) {
	return parseXOnly(a.OraclePubKey)
}

func (a *Announcement) NonceKey() (*btcec.PublicKey, error) {
	return parseXOnly(a.Nonce)
}

func (a *Announcement) HasOutcome(outcome string) bool {
	for _, o := range a.Outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

// Verify checks the structure of the announcement and the oracle signature
// over it.
func (a *Announcement) Verify() error {
	if a == nil {
		return fmt.Errorf("%w: missing announcement", ErrInvalidAnnouncement)
	}
	if len(a.EventId) == 0 {
		return fmt.Errorf("%w: missing event id", ErrInvalidAnnouncement)
	}
	if len(a.Outcomes) == 0 {
		return fmt.Errorf("%w: empty outcome set", ErrInvalidAnnouncement)
	}
	seen := make(map[string]struct{}, len(a.Outcomes))
	for _, outcome := range a.Outcomes {
		if len(outcome) == 0 {
			return fmt.Errorf("%w: empty outcome label", ErrInvalidAnnouncement)
		}
		if _, ok := seen[outcome]; ok {
			return fmt.Errorf("%w: duplicated outcome %s", ErrInvalidAnnouncement, outcome)
		}
		seen[outcome] = struct{}{}
	}

	pubkey, err := a.PubKey()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncement, err)
	}
	if _, err := a.NonceKey(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncement, err)
	}

	sigBytes, err := hex.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", ErrInvalidAnnouncement)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncement, err)
	}
	hash, err := a.Hash()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncement, err)
	}
	if !sig.Verify(hash, pubkey) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidAnnouncement)
	}
	return nil
}

// AttestationPoint returns S = R + e*P for the given outcome, the point whose
// discrete log the oracle reveals when attesting that outcome.
func (a *Announcement) AttestationPoint(outcome string) (*btcec.PublicKey, error) {
	if !a.HasOutcome(outcome) {
		return nil, fmt.Errorf("outcome %s not in announced set", outcome)
	}
	pubkey, err := a.PubKey()
	if err != nil {
		return nil, err
	}
	nonce, err := a.NonceKey()
	if err != nil {
		return nil, err
	}

	msg := OutcomeHash(outcome)
	e := challenge(schnorr.SerializePubKey(nonce), schnorr.SerializePubKey(pubkey), msg)

	var R, P, eP, S secp256k1.JacobianPoint
	nonce.AsJacobian(&R)
	pubkey.AsJacobian(&P)
	secp256k1.ScalarMultNonConst(e, &P, &eP)
	secp256k1.AddNonConst(&R, &eP, &S)
	if S.Z.IsZero() {
		return nil, fmt.Errorf("attestation point is infinity")
	}
	S.ToAffine()
	return btcec.NewPublicKey(&S.X, &S.Y), nil
}

type Attestation struct {
	EventId   string            `json:"event_id"`
	Outcome   string            `json:"outcome"`
	Signature string            `json:"signature"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Verify checks the attestation against the given announcement: same event,
// outcome in the announced set, announced nonce used and valid signature.
func (a *Attestation) Verify(announcement *Announcement) error {
	if a == nil || announcement == nil {
		return fmt.Errorf("%w: missing attestation or announcement", ErrInvalidAttestation)
	}
	if a.EventId != announcement.EventId {
		return fmt.Errorf(
			"%w: event id mismatch, expected %s got %s",
			ErrInvalidAttestation, announcement.EventId, a.EventId,
		)
	}
	if !announcement.HasOutcome(a.Outcome) {
		return fmt.Errorf("%w: unknown outcome %s", ErrInvalidAttestation, a.Outcome)
	}

	sig, err := a.parseSignature()
	if err != nil {
		return err
	}
	nonce, err := hex.DecodeString(announcement.Nonce)
	if err != nil {
		return fmt.Errorf("%w: invalid announced nonce", ErrInvalidAttestation)
	}
	if !bytes.Equal(sig.Serialize()[:32], nonce) {
		return fmt.Errorf("%w: nonce does not match announcement", ErrInvalidAttestation)
	}
	pubkey, err := announcement.PubKey()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAttestation, err)
	}
	if !sig.Verify(OutcomeHash(a.Outcome), pubkey) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidAttestation)
	}
	return nil
}

// Secret returns the attestation scalar, the discrete log of the attestation
// point of the attested outcome.
func (a *Attestation) Secret() (*btcec.ModNScalar, error) {
	sig, err := a.parseSignature()
	if err != nil {
		return nil, err
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(sig.Serialize()[32:]); overflow {
		return nil, fmt.Errorf("%w: scalar overflow", ErrInvalidAttestation)
	}
	return &s, nil
}

func (a *Attestation) parseSignature() (*schnorr.Signature, error) {
	buf, err := hex.DecodeString(a.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding", ErrInvalidAttestation)
	}
	sig, err := schnorr.ParseSignature(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAttestation, err)
	}
	return sig, nil
}

// OutcomeHash is the message the oracle signs to attest an outcome.
func OutcomeHash(outcome string) []byte {
	h := sha256.Sum256([]byte(outcome))
	return h[:]
}

func challenge(rx, px, msg []byte) *secp256k1.ModNScalar {
	h := chainhash.TaggedHash(chainhash.TagBIP0340Challenge, rx, px, msg)
	var e secp256k1.ModNScalar
	e.SetByteSlice(h[:])
	return &e
}

func parseXOnly(key string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %s", err)
	}
	return schnorr.ParsePubKey(buf)
}
