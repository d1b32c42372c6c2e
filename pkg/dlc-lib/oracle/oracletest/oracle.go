// Package oracletest provides a deterministic in-process oracle producing
// signed announcements and attestations, for use in tests.
package oracletest

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type Oracle struct {
	Name string

	key    *btcec.PrivateKey
	lock   sync.Mutex
	nonces map[string]*btcec.PrivateKey
	events map[string]*oracle.Announcement
	// attestations published on the oracle http api.
	published map[string]*oracle.Attestation
}

func New(name string) (*Oracle, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Oracle{
		Name:      name,
		key:       key,
		nonces:    make(map[string]*btcec.PrivateKey),
		events:    make(map[string]*oracle.Announcement),
		published: make(map[string]*oracle.Attestation),
	}, nil
}

func (o *Oracle) Info() oracle.Info {
	return oracle.Info{
		Name:       o.Name,
		PubKey:     hex.EncodeToString(schnorr.SerializePubKey(o.key.PubKey())),
		Properties: map[string]string{"version": "0"},
	}
}

// Announce commits to a fresh nonce for the event and signs the
// announcement.
func (o *Oracle) Announce(
	eventId string, outcomes []string, maturity time.Time,
) (*oracle.Announcement, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if _, ok := o.events[eventId]; ok {
		return nil, fmt.Errorf("event %s already announced", eventId)
	}

	nonce, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	ann := &oracle.Announcement{
		EventId:          eventId,
		Description:      fmt.Sprintf("outcome of %s", eventId),
		OraclePubKey:     hex.EncodeToString(schnorr.SerializePubKey(o.key.PubKey())),
		Nonce:            hex.EncodeToString(schnorr.SerializePubKey(nonce.PubKey())),
		Outcomes:         append([]string{}, outcomes...),
		MaturityTime:     maturity.Unix(),
		AnnouncementTime: time.Now().Unix(),
	}
	hash, err := ann.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(o.key, hash)
	if err != nil {
		return nil, err
	}
	ann.Signature = hex.EncodeToString(sig.Serialize())

	o.nonces[eventId] = nonce
	o.events[eventId] = ann
	return ann, nil
}

// Announcements returns every announced event, sorted by event id.
func (o *Oracle) Announcements() []*oracle.Announcement {
	o.lock.Lock()
	defer o.lock.Unlock()
	list := make([]*oracle.Announcement, 0, len(o.events))
	for _, ann := range o.events {
		list = append(list, ann)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EventId < list[j].EventId })
	return list
}

func (o *Oracle) Announcement(eventId string) (*oracle.Announcement, bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	ann, ok := o.events[eventId]
	return ann, ok
}

// Attest signs the outcome with the nonce committed for the event.
func (o *Oracle) Attest(eventId, outcome string) (*oracle.Attestation, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	ann, ok := o.events[eventId]
	if !ok {
		return nil, fmt.Errorf("event %s not announced", eventId)
	}
	if !ann.HasOutcome(outcome) {
		return nil, fmt.Errorf("outcome %s not announced for event %s", outcome, eventId)
	}
	nonce := o.nonces[eventId]

	sig := signWithNonce(o.key, nonce, oracle.OutcomeHash(outcome))
	return &oracle.Attestation{
		EventId:   eventId,
		Outcome:   outcome,
		Signature: hex.EncodeToString(sig.Serialize()),
		CreatedAt: time.Now().Unix(),
	}, nil
}

// Publish attests the outcome and makes the attestation available on the
// oracle http api.
func (o *Oracle) Publish(eventId, outcome string) (*oracle.Attestation, error) {
	att, err := o.Attest(eventId, outcome)
	if err != nil {
		return nil, err
	}
	o.lock.Lock()
	defer o.lock.Unlock()
	o.published[eventId] = att
	return att, nil
}

// PublishAttestation serves the given attestation as is, without checking it
// against the announcement.
func (o *Oracle) PublishAttestation(att oracle.Attestation) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.published[att.EventId] = &att
}

func (o *Oracle) attestation(eventId string) (*oracle.Attestation, bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	att, ok := o.published[eventId]
	return att, ok
}

// signWithNonce produces a BIP340 signature using the given nonce instead of
// a derived one.
func signWithNonce(key, nonce *btcec.PrivateKey, msg []byte) *schnorr.Signature {
	var d, k secp256k1.ModNScalar
	d.Set(&key.Key)
	k.Set(&nonce.Key)
	if key.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}
	var R secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &R)
	R.ToAffine()
	if R.Y.IsOdd() {
		k.Negate()
	}

	rx := R.X.Bytes()
	h := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge, rx[:],
		schnorr.SerializePubKey(key.PubKey()), msg,
	)
	var e, s secp256k1.ModNScalar
	e.SetByteSlice(h[:])
	s.Mul2(&e, &d).Add(&k)

	return schnorr.NewSignature(&R.X, &s)
}
