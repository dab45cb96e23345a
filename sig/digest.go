// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package sig

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// AuthorityPreimage builds H_auth = payload ‖ u32le(blockVersion) ‖
// u32le(algorithm(nextPub)) ‖ nextPub.Bytes.
func AuthorityPreimage(payload []byte, blockVersion uint32, nextPub PublicKey) []byte {
	return blockPreimage(payload, blockVersion, nextPub)
}

// BlockPreimage builds H_block for a regular (non-authority) append,
// same shape as AuthorityPreimage: the signed payload always commits
// to the *next* block's nominated key.
func BlockPreimage(payload []byte, blockVersion uint32, nextPub PublicKey) []byte {
	return blockPreimage(payload, blockVersion, nextPub)
}

func blockPreimage(payload []byte, blockVersion uint32, nextPub PublicKey) []byte {
	buf := make([]byte, 0, len(payload)+4+4+len(nextPub.Bytes))
	buf = append(buf, payload...)
	buf = appendUint32LE(buf, blockVersion)
	buf = appendUint32LE(buf, uint32(nextPub.Algorithm))
	buf = append(buf, nextPub.Bytes...)
	return buf
}

// ThirdPartySigV1Preimage builds the current-format (SIG_V_TP=1)
// third-party signature preimage: payload ‖ u32le(1) ‖ previousSignature.
func ThirdPartySigV1Preimage(payload []byte, previousSignature []byte) []byte {
	buf := make([]byte, 0, len(payload)+4+len(previousSignature))
	buf = append(buf, payload...)
	buf = appendUint32LE(buf, 1)
	buf = append(buf, previousSignature...)
	return buf
}

// ThirdPartyLegacyPreimage builds the deprecated preimage: payload ‖
// algorithm ‖ externalPublicKeyBytes. Only reachable through the
// explicit "unsafe legacy" entry point.
func ThirdPartyLegacyPreimage(payload []byte, externalKey PublicKey) []byte {
	buf := make([]byte, 0, len(payload)+4+len(externalKey.Bytes))
	buf = append(buf, payload...)
	buf = appendUint32LE(buf, uint32(externalKey.Algorithm))
	buf = append(buf, externalKey.Bytes...)
	return buf
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Digest256 is the hash behind Biscuit.Fingerprint (not used for
// signing preimages, which are signed over raw concatenations, nor for
// revocation ids, which are the raw signatures).
func Digest256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}
