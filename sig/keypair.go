// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package sig implements the two signature algorithms a Biscuit public
// key can carry: Ed25519 and ECDSA over NIST P-256 ("Secp256r1" in the
// wire format). Every signing entry point accepts an injectable
// io.Reader so callers can swap in a test RNG; the zero value defaults
// to crypto/rand.Reader.
package sig

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"io"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
)

// Algorithm identifies which curve a PublicKey/KeyPair uses. Values
// match the wire enum exactly: Ed25519=0, Secp256r1=1.
type Algorithm uint32

const (
	Ed25519   Algorithm = 0
	Secp256r1 Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "ed25519"
	case Secp256r1:
		return "secp256r1"
	default:
		return "unknown"
	}
}

// PublicKey is an algorithm-tagged public key, interned by index in a
// token's public-key table and referenced from Scope(PublicKey(...)).
type PublicKey struct {
	Algorithm Algorithm
	Bytes     []byte
}

func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.Algorithm == other.Algorithm && bytes.Equal(pk.Bytes, other.Bytes)
}

// KeyPair signs block payloads and exposes the matching PublicKey.
// Ed25519KeyPair and P256KeyPair are the only implementations; a
// sealed/closed type set, the same way block's proof variants are a
// closed set of concrete types rather than an open interface.
type KeyPair interface {
	Sign(rand io.Reader, message []byte) ([]byte, error)
	Public() PublicKey
}

// Verify checks sig over message under pk, dispatching on pk.Algorithm.
func Verify(pk PublicKey, message, signature []byte) error {
	switch pk.Algorithm {
	case Ed25519:
		if len(pk.Bytes) != ed25519.PublicKeySize {
			return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKeySize, "ed25519 public key must be 32 bytes")
		}
		if !ed25519.Verify(ed25519.PublicKey(pk.Bytes), message, signature) {
			return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidSignature, "ed25519 signature verification failed")
		}
		return nil
	case Secp256r1:
		pub, err := decodeP256PublicKey(pk.Bytes)
		if err != nil {
			return bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeInvalidKey, err)
		}
		if !ecdsa.VerifyASN1(pub, digestP256(message), signature) {
			return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidSignature, "p256 signature verification failed")
		}
		return nil
	default:
		return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKey, "unknown public key algorithm")
	}
}

// Ed25519KeyPair wraps crypto/ed25519. Neither supported curve has an
// ecosystem-specific binding worth importing over the stdlib
// implementation (see DESIGN.md).
type Ed25519KeyPair struct {
	Private ed25519.PrivateKey
	Pub     ed25519.PublicKey
}

// GenerateEd25519KeyPair creates a fresh keypair from rnd (crypto/rand.Reader
// if nil), so callers can inject a deterministic source in tests.
func GenerateEd25519KeyPair(rnd io.Reader) (*Ed25519KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return nil, err
	}
	return &Ed25519KeyPair{Private: priv, Pub: pub}, nil
}

func (k *Ed25519KeyPair) Sign(_ io.Reader, message []byte) ([]byte, error) {
	return ed25519.Sign(k.Private, message), nil
}

func (k *Ed25519KeyPair) Public() PublicKey {
	return PublicKey{Algorithm: Ed25519, Bytes: append([]byte(nil), k.Pub...)}
}

// P256KeyPair wraps crypto/ecdsa over crypto/elliptic.P256(). Same
// stdlib-only rationale as Ed25519KeyPair.
type P256KeyPair struct {
	Private *ecdsa.PrivateKey
}

func GenerateP256KeyPair(rnd io.Reader) (*P256KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rnd)
	if err != nil {
		return nil, err
	}
	return &P256KeyPair{Private: priv}, nil
}

func (k *P256KeyPair) Sign(rnd io.Reader, message []byte) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	return ecdsa.SignASN1(rnd, k.Private, digestP256(message))
}

func (k *P256KeyPair) Public() PublicKey {
	der, err := x509.MarshalPKIXPublicKey(&k.Private.PublicKey)
	if err != nil {
		// elliptic.P256 keys always marshal; this would indicate a
		// stdlib invariant violation, not a caller error.
		panic(err)
	}
	return PublicKey{Algorithm: Secp256r1, Bytes: der}
}

func decodeP256PublicKey(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecPub.Curve != elliptic.P256() {
		return nil, errors.New("not a p256 public key")
	}
	return ecPub, nil
}

// digestP256 hashes message with SHA-256 before signing/verifying,
// standard practice for ECDSA over P-256.
func digestP256(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}
