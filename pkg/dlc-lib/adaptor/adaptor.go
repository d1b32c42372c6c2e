// Package adaptor implements Schnorr adaptor signatures compatible with BIP340.
//
// An adaptor signature produced for message m, key P and encryption point T
// becomes a valid BIP340 signature for (m, P) once it is decrypted with the
// discrete log t of T. Conversely, given the adaptor signature and the
// decrypted signature anyone can extract t.
package adaptor

import (
	"bytes"
	"crypto/subtle"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// SignatureSize is the size of the encrypted data, R'.x || s'.
	SignatureSize = 64
	// SerializedSize is the size of a serialized adaptor signature, encrypted
	// data followed by the compressed encryption point.
	SerializedSize = SignatureSize + btcec.PubKeyBytesLenCompressed
)

var tagAdaptorNonce = []byte("DLC/adaptor/nonce")

// Signature is an encrypted Schnorr signature.
type Signature struct {
	EncryptedData   [SignatureSize]byte
	EncryptionPoint *btcec.PublicKey
}

func (s *Signature) Serialize() []byte {
	buf := make([]byte, 0, SerializedSize)
	buf = append(buf, s.EncryptedData[:]...)
	return append(buf, s.EncryptionPoint.SerializeCompressed()...)
}

func ParseSignature(buf []byte) (*Signature, error) {
	if len(buf) != SerializedSize {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d", ErrInvalidSignature, SerializedSize, len(buf),
		)
	}
	point, err := btcec.ParsePubKey(buf[SignatureSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	sig := &Signature{EncryptionPoint: point}
	copy(sig.EncryptedData[:], buf[:SignatureSize])
	return sig, nil
}

// Encrypt signs msgHash with signingKey and encrypts the result under
// encryptionPoint.
func Encrypt(
	msgHash []byte, signingKey *btcec.PrivateKey, encryptionPoint *btcec.PublicKey,
) (*Signature, error) {
	if len(msgHash) != chainhash.HashSize {
		return nil, fmt.Errorf("invalid message hash length %d", len(msgHash))
	}
	if signingKey == nil || signingKey.Key.IsZero() {
		return nil, fmt.Errorf("%w: signing key is zero", ErrInvalidKey)
	}
	if !isValidPoint(encryptionPoint) {
		return nil, fmt.Errorf("%w: encryption point is not on curve", ErrInvalidKey)
	}

	pubKey := signingKey.PubKey()
	var d secp256k1.ModNScalar
	d.Set(&signingKey.Key)
	if pubKey.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}
	defer d.Zero()

	var T secp256k1.JacobianPoint
	encryptionPoint.AsJacobian(&T)

	pubKeyX := schnorr.SerializePubKey(pubKey)
	extra := chainhash.TaggedHash(tagAdaptorNonce, encryptionPoint.SerializeCompressed())
	dBytes := d.Bytes()
	defer zeroArray(&dBytes)

	for iter := uint32(0); ; iter++ {
		k := secp256k1.NonceRFC6979(dBytes[:], msgHash, extra[:], nil, iter)
		if k.IsZero() {
			continue
		}

		// R' = kG + T, retry until R' has an even Y.
		var R, Rp secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(k, &R)
		secp256k1.AddNonConst(&R, &T, &Rp)
		if isInfinity(&Rp) {
			k.Zero()
			continue
		}
		Rp.ToAffine()
		if Rp.Y.IsOdd() {
			k.Zero()
			continue
		}

		rBytes := Rp.X.Bytes()
		e := challenge(rBytes[:], pubKeyX, msgHash)

		// s' = k + e*d
		var sp secp256k1.ModNScalar
		sp.Mul2(e, &d).Add(k)
		k.Zero()

		sig := &Signature{EncryptionPoint: encryptionPoint}
		spBytes := sp.Bytes()
		copy(sig.EncryptedData[:32], rBytes[:])
		copy(sig.EncryptedData[32:], spBytes[:])
		return sig, nil
	}
}

// Verify checks that sig is a valid encryption of a signature of msgHash by
// verificationKey under encryptionPoint.
func Verify(
	sig *Signature, msgHash []byte,
	verificationKey, encryptionPoint *btcec.PublicKey,
) error {
	if sig == nil || len(msgHash) != chainhash.HashSize {
		return ErrInvalidSignature
	}
	if !isValidPoint(verificationKey) || !isValidPoint(encryptionPoint) {
		return ErrInvalidSignature
	}
	if sig.EncryptionPoint == nil ||
		!bytes.Equal(
			sig.EncryptionPoint.SerializeCompressed(),
			encryptionPoint.SerializeCompressed(),
		) {
		return fmt.Errorf("%w: encryption point mismatch", ErrInvalidSignature)
	}

	Rp, sp, err := parseEncryptedData(sig.EncryptedData)
	if err != nil {
		return err
	}

	pubKeyX := schnorr.SerializePubKey(verificationKey)
	evenPubKey, err := schnorr.ParsePubKey(pubKeyX)
	if err != nil {
		return ErrInvalidSignature
	}
	rBytes := Rp.X.Bytes()
	e := challenge(rBytes[:], pubKeyX, msgHash)

	// s'G == R' - T + eP
	var P, T, eP, sum, expected, sG secp256k1.JacobianPoint
	evenPubKey.AsJacobian(&P)
	encryptionPoint.AsJacobian(&T)
	T.Y.Negate(1).Normalize()

	secp256k1.ScalarMultNonConst(e, &P, &eP)
	secp256k1.AddNonConst(Rp, &T, &sum)
	secp256k1.AddNonConst(&sum, &eP, &expected)
	secp256k1.ScalarBaseMultNonConst(sp, &sG)

	if isInfinity(&expected) || isInfinity(&sG) {
		return ErrInvalidSignature
	}
	expected.ToAffine()
	sG.ToAffine()
	if !expected.X.Equals(&sG.X) || !expected.Y.Equals(&sG.Y) {
		return ErrInvalidSignature
	}
	return nil
}

// IsValid is the boolean form of Verify.
func IsValid(
	sig *Signature, msgHash []byte,
	verificationKey, encryptionPoint *btcec.PublicKey,
) bool {
	return Verify(sig, msgHash, verificationKey, encryptionPoint) == nil
}

// Decrypt completes the adaptor signature with the discrete log of its
// encryption point and returns a standard BIP340 signature.
func Decrypt(sig *Signature, secret *btcec.ModNScalar) (*schnorr.Signature, error) {
	if sig == nil || secret == nil || !isValidPoint(sig.EncryptionPoint) {
		return nil, ErrSecretMismatch
	}
	if !matchesPoint(secret, sig.EncryptionPoint) {
		return nil, ErrSecretMismatch
	}

	Rp, sp, err := parseEncryptedData(sig.EncryptedData)
	if err != nil {
		return nil, err
	}

	var s secp256k1.ModNScalar
	s.Add2(sp, secret)
	return schnorr.NewSignature(&Rp.X, &s), nil
}

// ExtractSecret recovers the discrete log of encryptionPoint from an adaptor
// signature and the signature obtained by decrypting it.
func ExtractSecret(
	sig *Signature, completed *schnorr.Signature, encryptionPoint *btcec.PublicKey,
) (*btcec.ModNScalar, error) {
	if sig == nil || completed == nil || !isValidPoint(encryptionPoint) {
		return nil, ErrExtractionFailed
	}

	buf := completed.Serialize()
	if subtle.ConstantTimeCompare(buf[:32], sig.EncryptedData[:32]) != 1 {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrExtractionFailed)
	}

	var s, sp secp256k1.ModNScalar
	if overflow := s.SetByteSlice(buf[32:]); overflow {
		return nil, ErrExtractionFailed
	}
	if overflow := sp.SetByteSlice(sig.EncryptedData[32:]); overflow {
		return nil, ErrExtractionFailed
	}

	// t = s - s'
	secret := new(secp256k1.ModNScalar)
	secret.NegateVal(&sp).Add(&s)
	if !matchesPoint(secret, encryptionPoint) {
		secret.Zero()
		return nil, ErrExtractionFailed
	}
	return secret, nil
}

func parseEncryptedData(
	data [SignatureSize]byte,
) (*secp256k1.JacobianPoint, *secp256k1.ModNScalar, error) {
	var rx, ry secp256k1.FieldVal
	if overflow := rx.SetByteSlice(data[:32]); overflow {
		return nil, nil, fmt.Errorf("%w: nonce overflows field", ErrInvalidSignature)
	}
	if !secp256k1.DecompressY(&rx, false, &ry) {
		return nil, nil, fmt.Errorf("%w: nonce not on curve", ErrInvalidSignature)
	}
	ry.Normalize()

	sp := new(secp256k1.ModNScalar)
	if overflow := sp.SetByteSlice(data[32:]); overflow {
		return nil, nil, fmt.Errorf("%w: scalar overflows group order", ErrInvalidSignature)
	}

	Rp := &secp256k1.JacobianPoint{}
	Rp.X.Set(&rx)
	Rp.Y.Set(&ry)
	Rp.Z.SetInt(1)
	return Rp, sp, nil
}

func challenge(rx, px, msg []byte) *secp256k1.ModNScalar {
	h := chainhash.TaggedHash(chainhash.TagBIP0340Challenge, rx, px, msg)
	var e secp256k1.ModNScalar
	e.SetByteSlice(h[:])
	return &e
}

func matchesPoint(secret *secp256k1.ModNScalar, point *btcec.PublicKey) bool {
	var tG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(secret, &tG)
	if isInfinity(&tG) {
		return false
	}
	tG.ToAffine()
	got := btcec.NewPublicKey(&tG.X, &tG.Y).SerializeCompressed()
	return subtle.ConstantTimeCompare(got, point.SerializeCompressed()) == 1
}

func isValidPoint(key *btcec.PublicKey) bool {
	if key == nil {
		return false
	}
	var p secp256k1.JacobianPoint
	key.AsJacobian(&p)
	return !isInfinity(&p) && key.IsOnCurve()
}

func isInfinity(p *secp256k1.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

func zeroArray(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
}
