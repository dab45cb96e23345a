// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package biscuit

import (
	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/block"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
)

// ThirdPartyRequest is what a token holder hands to an external signer:
// the previous block's signature (which the external signature must
// commit to) and the accumulated tables the new block must intern
// against.
type ThirdPartyRequest struct {
	PreviousSignature []byte
	Symbols           *format.SymbolTable
	Keys              *format.PublicKeyTable
}

// ThirdPartyBlock is the signer's answer: an encoded block payload and
// the external signature over it.
type ThirdPartyBlock struct {
	Payload  []byte
	External ExternalSignature
}

// ThirdPartyRequest prepares a signing request for the token's next
// block. Sealed tokens cannot take more blocks, so they refuse.
func (b *Biscuit) ThirdPartyRequest() (*ThirdPartyRequest, error) {
	if b.Sealed() {
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeAppendOnSealed, "cannot request a block for a sealed token")
	}
	last := b.authority
	if n := len(b.blocks); n > 0 {
		last = b.blocks[n-1]
	}
	return &ThirdPartyRequest{
		PreviousSignature: append([]byte(nil), last.Signature...),
		Symbols:           b.symbols.Clone(),
		Keys:              b.keyTable.Clone(),
	}, nil
}

// Sign builds the block and signs it with the external key, committing
// to the previous block signature (the current format).
func (r *ThirdPartyRequest) Sign(externalKey sig.KeyPair, builder *block.Builder, opts ...Option) (*ThirdPartyBlock, error) {
	o := buildOptions(opts)
	payload, pub, err := r.buildPayload(externalKey, builder)
	if err != nil {
		return nil, err
	}
	signature, err := externalKey.Sign(o.rng, sig.ThirdPartySigV1Preimage(payload, r.PreviousSignature))
	if err != nil {
		return nil, err
	}
	return &ThirdPartyBlock{
		Payload:  payload,
		External: ExternalSignature{Signature: signature, PublicKey: pub},
	}, nil
}

// UnsafeSignLegacy signs with the deprecated preimage that does not
// commit to the previous signature. Kept only so tokens issued before
// the format change can be migrated; new signers must use Sign.
func (r *ThirdPartyRequest) UnsafeSignLegacy(externalKey sig.KeyPair, builder *block.Builder, opts ...Option) (*ThirdPartyBlock, error) {
	o := buildOptions(opts)
	payload, pub, err := r.buildPayload(externalKey, builder)
	if err != nil {
		return nil, err
	}
	signature, err := externalKey.Sign(o.rng, sig.ThirdPartyLegacyPreimage(payload, pub))
	if err != nil {
		return nil, err
	}
	return &ThirdPartyBlock{
		Payload:  payload,
		External: ExternalSignature{Signature: signature, PublicKey: pub},
	}, nil
}

func (r *ThirdPartyRequest) buildPayload(externalKey sig.KeyPair, builder *block.Builder) ([]byte, sig.PublicKey, error) {
	symbols := r.Symbols.Fork()
	keys := r.Keys.Fork()
	blk, err := builder.Build(symbols, keys)
	if err != nil {
		return nil, sig.PublicKey{}, err
	}
	if blk.UsesPreviousScope() {
		return nil, sig.PublicKey{}, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
			"third-party blocks cannot use the previous scope")
	}
	pub := externalKey.Public()
	blk.ExternalKey = &pub
	if blk.Version < format.DatalogV3_2 {
		blk.Version = format.DatalogV3_2
	}
	payload, err := blk.Encode()
	if err != nil {
		return nil, sig.PublicKey{}, err
	}
	return payload, pub, nil
}

// AppendThirdParty attaches a third-party block: the attenuator's own
// signature covers the payload, the nominated next key and the
// external signature bytes, binding the external contribution into the
// chain.
func (b *Biscuit) AppendThirdParty(tp *ThirdPartyBlock, opts ...Option) (*Biscuit, error) {
	return b.appendThirdParty(tp, sigVersionV1, opts)
}

// AppendThirdPartyUnsafeLegacy accepts a block signed with the
// deprecated preimage. The resulting signed block carries the legacy
// signature version, and verifying the token will require the matching
// unsafe verify option.
func (b *Biscuit) AppendThirdPartyUnsafeLegacy(tp *ThirdPartyBlock, opts ...Option) (*Biscuit, error) {
	return b.appendThirdParty(tp, sigVersionLegacy, opts)
}

func (b *Biscuit) appendThirdParty(tp *ThirdPartyBlock, sigVersion uint32, opts []Option) (*Biscuit, error) {
	o := buildOptions(opts)

	secret, ok := b.proof.(NextSecret)
	if !ok {
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeAppendOnSealed, "cannot append to a sealed token")
	}

	blk, err := block.Decode(tp.Payload)
	if err != nil {
		return nil, err
	}
	if blk.ExternalKey == nil || !blk.ExternalKey.Equal(tp.External.PublicKey) {
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeUnknownExternalKey,
			"block external key does not match its external signature key")
	}

	last := b.authority
	if n := len(b.blocks); n > 0 {
		last = b.blocks[n-1]
	}
	signed := SignedBlock{
		Payload:  tp.Payload,
		Version:  sigVersion,
		External: &ExternalSignature{Signature: tp.External.Signature, PublicKey: tp.External.PublicKey},
	}
	if err := verifyExternal(&signed, last.Signature, sigVersion == sigVersionLegacy); err != nil {
		return nil, err
	}

	symbols := b.symbols.Clone()
	if err := symbols.Extend(blk.Symbols); err != nil {
		return nil, err
	}
	keyTable := b.keyTable.Clone()
	if err := keyTable.Extend(blk.PublicKeys); err != nil {
		return nil, err
	}

	next, err := o.next()
	if err != nil {
		return nil, err
	}
	signed.NextKey = next.Public()
	signed.Signature, err = secret.KeyPair.Sign(o.rng, signed.signingPreimage())
	if err != nil {
		return nil, err
	}

	return &Biscuit{
		rootKeyID: b.rootKeyID,
		authority: b.authority,
		blocks:    append(append([]SignedBlock(nil), b.blocks...), signed),
		proof:     NextSecret{KeyPair: next},
		symbols:   symbols,
		keyTable:  keyTable,
		parsed:    append(append([]*block.Block(nil), b.parsed...), blk),
	}, nil
}
