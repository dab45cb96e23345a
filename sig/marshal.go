// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package sig

import (
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
)

// MarshalPrivateKey serializes a keypair's private half for the
// NextSecret proof slot. Ed25519 keys travel as their 32-byte seed,
// P-256 keys as SEC 1 DER.
func MarshalPrivateKey(kp KeyPair) (Algorithm, []byte, error) {
	switch k := kp.(type) {
	case *Ed25519KeyPair:
		return Ed25519, k.Private.Seed(), nil
	case *P256KeyPair:
		der, err := x509.MarshalECPrivateKey(k.Private)
		if err != nil {
			return 0, nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeInvalidKey, err)
		}
		return Secp256r1, der, nil
	default:
		return 0, nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKey, "unknown keypair type")
	}
}

// UnmarshalPrivateKey rebuilds a keypair from MarshalPrivateKey's
// output.
func UnmarshalPrivateKey(alg Algorithm, data []byte) (KeyPair, error) {
	switch alg {
	case Ed25519:
		if len(data) != ed25519.SeedSize {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKeySize, "ed25519 seed must be 32 bytes")
		}
		priv := ed25519.NewKeyFromSeed(data)
		return &Ed25519KeyPair{Private: priv, Pub: priv.Public().(ed25519.PublicKey)}, nil
	case Secp256r1:
		priv, err := x509.ParseECPrivateKey(data)
		if err != nil {
			return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeInvalidKey, err)
		}
		if priv.Curve != elliptic.P256() {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKey, "not a p256 private key")
		}
		return &P256KeyPair{Private: priv}, nil
	default:
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKey, "unknown private key algorithm")
	}
}
