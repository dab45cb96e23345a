// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package biscuit

import (
	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/block"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// Proof kinds on the wire.
const (
	proofKindNextSecret uint8 = iota
	proofKindFinalSignature
)

type externalSignatureRecord struct {
	Signature []byte
	PublicKey format.PublicKeyRecord
}

type signedBlockRecord struct {
	Block     []byte
	NextKey   format.PublicKeyRecord
	Signature []byte
	Version   uint32
	External  *externalSignatureRecord `rlp:"optional"`
}

type proofRecord struct {
	Kind      uint8
	Algorithm uint32 // only meaningful for next-secret proofs
	Data      []byte
}

type biscuitRecord struct {
	Authority signedBlockRecord
	Blocks    []signedBlockRecord
	Proof     proofRecord
	RootKeyID *uint32 `rlp:"optional"`
}

func newSignedBlockRecord(sb SignedBlock) signedBlockRecord {
	rec := signedBlockRecord{
		Block:     sb.Payload,
		NextKey:   format.NewPublicKeyRecord(sb.NextKey),
		Signature: sb.Signature,
		Version:   sb.Version,
	}
	if sb.External != nil {
		rec.External = &externalSignatureRecord{
			Signature: sb.External.Signature,
			PublicKey: format.NewPublicKeyRecord(sb.External.PublicKey),
		}
	}
	return rec
}

func (r signedBlockRecord) signedBlock() (SignedBlock, error) {
	nextKey, err := r.NextKey.PublicKey()
	if err != nil {
		return SignedBlock{}, err
	}
	if len(r.Signature) == 0 {
		return SignedBlock{}, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidSignatureSize, "empty block signature")
	}
	sb := SignedBlock{
		Payload:   r.Block,
		NextKey:   nextKey,
		Signature: r.Signature,
		Version:   r.Version,
	}
	if r.External != nil {
		pk, err := r.External.PublicKey.PublicKey()
		if err != nil {
			return SignedBlock{}, err
		}
		sb.External = &ExternalSignature{Signature: r.External.Signature, PublicKey: pk}
	}
	return sb, nil
}

// ToBytes serializes the token. Base64 framing is the caller's concern.
func (b *Biscuit) ToBytes() ([]byte, error) {
	rec := biscuitRecord{
		Authority: newSignedBlockRecord(b.authority),
		RootKeyID: b.rootKeyID,
	}
	for _, sb := range b.blocks {
		rec.Blocks = append(rec.Blocks, newSignedBlockRecord(sb))
	}
	switch proof := b.proof.(type) {
	case NextSecret:
		alg, data, err := sig.MarshalPrivateKey(proof.KeyPair)
		if err != nil {
			return nil, err
		}
		rec.Proof = proofRecord{Kind: proofKindNextSecret, Algorithm: uint32(alg), Data: data}
	case FinalSignature:
		rec.Proof = proofRecord{Kind: proofKindFinalSignature, Data: proof}
	default:
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeSerializationError, "unknown proof kind")
	}

	data, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeSerializationError, err)
	}
	return data, nil
}

// FromBytes parses and verifies a token: structural decoding, symbol
// table accumulation, and the full signature chain under the key the
// provider returns.
func FromBytes(data []byte, provider RootKeyProvider, opts ...VerifyOption) (*Biscuit, error) {
	b, err := UnverifiedFromBytes(data)
	if err != nil {
		return nil, err
	}
	if err := b.Verify(provider, opts...); err != nil {
		return nil, err
	}
	return b, nil
}

// decode parses the outer record and rebuilds the container with its
// accumulated symbol and key tables, without touching any signature.
func decode(data []byte) (*Biscuit, error) {
	var rec biscuitRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeDeserializationError, err)
	}

	authority, err := rec.Authority.signedBlock()
	if err != nil {
		return nil, err
	}
	if authority.External != nil {
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidBlockID, "authority block cannot be third-party")
	}

	b := &Biscuit{
		rootKeyID: rec.RootKeyID,
		authority: authority,
		symbols:   format.DefaultSymbolTable(),
		keyTable:  format.NewPublicKeyTable(),
	}

	for _, blockRec := range rec.Blocks {
		sb, err := blockRec.signedBlock()
		if err != nil {
			return nil, err
		}
		b.blocks = append(b.blocks, sb)
	}

	for i, sb := range b.allSignedBlocks() {
		blk, err := block.Decode(sb.Payload)
		if err != nil {
			return nil, errors.WithMessagef(err, "block %d", i)
		}
		if err := checkExternalKeyInvariants(i, blk, sb); err != nil {
			return nil, err
		}
		if err := b.symbols.Extend(blk.Symbols); err != nil {
			return nil, err
		}
		if err := b.keyTable.Extend(blk.PublicKeys); err != nil {
			return nil, err
		}
		b.parsed = append(b.parsed, blk)
	}

	switch rec.Proof.Kind {
	case proofKindNextSecret:
		kp, err := sig.UnmarshalPrivateKey(sig.Algorithm(rec.Proof.Algorithm), rec.Proof.Data)
		if err != nil {
			return nil, err
		}
		b.proof = NextSecret{KeyPair: kp}
	case proofKindFinalSignature:
		if len(rec.Proof.Data) == 0 {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidSignatureSize, "empty final signature")
		}
		b.proof = FinalSignature(rec.Proof.Data)
	default:
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown proof kind").WithPayload(rec.Proof.Kind)
	}
	return b, nil
}

// checkExternalKeyInvariants enforces that a block's declared external
// key and its external signature agree, both ways.
func checkExternalKeyInvariants(index int, blk *block.Block, sb SignedBlock) error {
	switch {
	case blk.ExternalKey == nil && sb.External == nil:
		return nil
	case blk.ExternalKey == nil || sb.External == nil:
		return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeUnknownExternalKey,
			"third-party block must carry both an external key and an external signature").WithPayload(index)
	case !blk.ExternalKey.Equal(sb.External.PublicKey):
		return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeUnknownExternalKey,
			"block external key does not match its external signature key").WithPayload(index)
	default:
		return nil
	}
}
