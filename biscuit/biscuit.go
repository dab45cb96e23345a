// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package biscuit implements the token container: the signature chain
// that binds blocks together and supports attenuation, sealing and
// third-party blocks. The authority block is signed by the root key;
// every block nominates the public half of an ephemeral "next" keypair,
// whose private half travels in the proof as the attenuation secret.
package biscuit

import (
	"io"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/block"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/ethereum/go-ethereum/log"
)

var logger = log.New("pkg", "biscuit")

// Signature scheme versions carried per signed block. The version is
// part of every block preimage. On a third-party block, version 0 marks
// a legacy external signature that does not commit to the previous
// block signature; only the explicit unsafe entry points produce or
// accept those.
const (
	sigVersionLegacy uint32 = 0
	sigVersionV1     uint32 = 1
)

// ExternalSignature is a third party's signature over a block payload,
// together with the key to verify it.
type ExternalSignature struct {
	Signature []byte
	PublicKey sig.PublicKey
}

// SignedBlock is one link of the chain: the encoded block payload, the
// next nominated public key, the signature binding both, and, for
// third-party blocks, the external signature.
type SignedBlock struct {
	Payload   []byte
	NextKey   sig.PublicKey
	Signature []byte
	External  *ExternalSignature
	Version   uint32
}

// signingPreimage is what the chain signature covers: the block
// payload, the signature version, and the nominated next key. A
// third-party block's outer signature additionally covers the external
// signature bytes.
func (sb *SignedBlock) signingPreimage() []byte {
	buf := sig.BlockPreimage(sb.Payload, sb.Version, sb.NextKey)
	if sb.External != nil {
		buf = append(buf, sb.External.Signature...)
	}
	return buf
}

// Proof is either the attenuation secret (NextSecret) or the final
// signature of a sealed token.
type Proof interface {
	isProof()
}

// NextSecret carries the private half of the last block's nominated
// keypair; whoever holds it can append.
type NextSecret struct {
	KeyPair sig.KeyPair
}

func (NextSecret) isProof() {}

// FinalSignature seals the token: it replaces the next secret with a
// signature over the whole chain, making append impossible.
type FinalSignature []byte

func (FinalSignature) isProof() {}

// Biscuit is a parsed, structurally valid token. Signature
// verification happens in FromBytes or Verify; UnverifiedFromBytes
// skips it on request.
type Biscuit struct {
	rootKeyID *uint32
	authority SignedBlock
	blocks    []SignedBlock
	proof     Proof

	symbols  *format.SymbolTable
	keyTable *format.PublicKeyTable
	parsed   []*block.Block // parsed[0] is the authority
}

// Option tweaks Build/Append behavior.
type Option func(*options)

type options struct {
	rng       io.Reader
	nextKey   sig.KeyPair
	rootKeyID *uint32
}

// WithRNG injects the CSPRNG used for keypair generation and signing;
// the default is the operating system's.
func WithRNG(rng io.Reader) Option {
	return func(o *options) { o.rng = rng }
}

// WithNextKey pins the ephemeral next keypair instead of generating
// one. Deterministic tests use this; production callers should not.
func WithNextKey(kp sig.KeyPair) Option {
	return func(o *options) { o.nextKey = kp }
}

// WithRootKeyID records a hint for the verifier's key provider.
func WithRootKeyID(id uint32) Option {
	return func(o *options) { o.rootKeyID = &id }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) next() (sig.KeyPair, error) {
	if o.nextKey != nil {
		return o.nextKey, nil
	}
	return sig.GenerateEd25519KeyPair(o.rng)
}

// Build signs builder's contents as the authority block of a fresh
// token. The proof carries the new attenuation secret.
func Build(rootKey sig.KeyPair, builder *block.Builder, opts ...Option) (*Biscuit, error) {
	o := buildOptions(opts)

	symbols := format.DefaultSymbolTable().Fork()
	keys := format.NewPublicKeyTable().Fork()
	blk, err := builder.Build(symbols, keys)
	if err != nil {
		return nil, err
	}
	payload, err := blk.Encode()
	if err != nil {
		return nil, err
	}

	next, err := o.next()
	if err != nil {
		return nil, err
	}
	authority := SignedBlock{
		Payload: payload,
		NextKey: next.Public(),
		Version: sigVersionV1,
	}
	authority.Signature, err = rootKey.Sign(o.rng, authority.signingPreimage())
	if err != nil {
		return nil, err
	}

	return &Biscuit{
		rootKeyID: o.rootKeyID,
		authority: authority,
		proof:     NextSecret{KeyPair: next},
		symbols:   symbols.SymbolTable,
		keyTable:  keys.PublicKeyTable,
		parsed:    []*block.Block{blk},
	}, nil
}

// Append signs builder's contents with the current attenuation secret,
// producing a new token with one more block. The receiver is left
// untouched.
func (b *Biscuit) Append(builder *block.Builder, opts ...Option) (*Biscuit, error) {
	o := buildOptions(opts)

	secret, ok := b.proof.(NextSecret)
	if !ok {
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeAppendOnSealed, "cannot append to a sealed token")
	}

	symbols := b.symbols.Fork()
	keys := b.keyTable.Fork()
	blk, err := builder.Build(symbols, keys)
	if err != nil {
		return nil, err
	}
	payload, err := blk.Encode()
	if err != nil {
		return nil, err
	}

	next, err := o.next()
	if err != nil {
		return nil, err
	}
	signed := SignedBlock{
		Payload: payload,
		NextKey: next.Public(),
		Version: sigVersionV1,
	}
	signed.Signature, err = secret.KeyPair.Sign(o.rng, signed.signingPreimage())
	if err != nil {
		return nil, err
	}

	return &Biscuit{
		rootKeyID: b.rootKeyID,
		authority: b.authority,
		blocks:    append(append([]SignedBlock(nil), b.blocks...), signed),
		proof:     NextSecret{KeyPair: next},
		symbols:   symbols.SymbolTable,
		keyTable:  keys.PublicKeyTable,
		parsed:    append(append([]*block.Block(nil), b.parsed...), blk),
	}, nil
}

// Seal replaces the attenuation secret with a final signature over the
// whole chain; appending to the result is impossible.
func (b *Biscuit) Seal(opts ...Option) (*Biscuit, error) {
	o := buildOptions(opts)

	secret, ok := b.proof.(NextSecret)
	if !ok {
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeAlreadySealed, "token is already sealed")
	}
	final, err := secret.KeyPair.Sign(o.rng, b.sealPreimage())
	if err != nil {
		return nil, err
	}
	return &Biscuit{
		rootKeyID: b.rootKeyID,
		authority: b.authority,
		blocks:    b.blocks,
		proof:     FinalSignature(final),
		symbols:   b.symbols,
		keyTable:  b.keyTable,
		parsed:    b.parsed,
	}, nil
}

// sealPreimage encodes every signed block up to now, in order.
func (b *Biscuit) sealPreimage() []byte {
	var buf []byte
	for _, sb := range b.allSignedBlocks() {
		buf = append(buf, sb.signingPreimage()...)
		buf = append(buf, sb.Signature...)
	}
	return buf
}

func (b *Biscuit) allSignedBlocks() []SignedBlock {
	return append([]SignedBlock{b.authority}, b.blocks...)
}

// Sealed reports whether the token's proof is a final signature.
func (b *Biscuit) Sealed() bool {
	_, sealed := b.proof.(FinalSignature)
	return sealed
}

// RootKeyID returns the root key hint, if the token carries one.
func (b *Biscuit) RootKeyID() *uint32 {
	return b.rootKeyID
}

// BlockCount counts all blocks, authority included.
func (b *Biscuit) BlockCount() int {
	return 1 + len(b.blocks)
}

// Blocks returns the parsed blocks, authority first.
func (b *Biscuit) Blocks() []*block.Block {
	return append([]*block.Block(nil), b.parsed...)
}

// Symbols returns the token's accumulated symbol table.
func (b *Biscuit) Symbols() *format.SymbolTable {
	return b.symbols
}

// KeyTable returns the token's accumulated public-key table.
func (b *Biscuit) KeyTable() *format.PublicKeyTable {
	return b.keyTable
}

// RevocationIDs returns the raw signature bytes of each block, one per
// block, in order. Revocation stores match on these.
func (b *Biscuit) RevocationIDs() [][]byte {
	out := make([][]byte, 0, b.BlockCount())
	for _, sb := range b.allSignedBlocks() {
		out = append(out, append([]byte(nil), sb.Signature...))
	}
	return out
}

// Fingerprint digests the signed chain into a stable identifier for
// logs and caches. Unlike ToBytes output it never covers the proof, so
// it is identical before and after sealing.
func (b *Biscuit) Fingerprint() [32]byte {
	return sig.Digest256(b.sealPreimage())
}

// RootKeyProvider resolves the verification key from the token's
// optional root key id hint.
type RootKeyProvider func(keyID *uint32) (sig.PublicKey, error)

// SingleRootKey is the common provider: one known root key, any hint
// accepted.
func SingleRootKey(pk sig.PublicKey) RootKeyProvider {
	return func(*uint32) (sig.PublicKey, error) { return pk, nil }
}

// VerifyOption tweaks Verify behavior.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	allowLegacyThirdParty bool
}

// WithUnsafeLegacyThirdParty accepts third-party signatures in the
// deprecated format that does not commit to the previous block
// signature. A migration carve-out; never enable by default.
func WithUnsafeLegacyThirdParty() VerifyOption {
	return func(o *verifyOptions) { o.allowLegacyThirdParty = true }
}

// Verify checks the whole signature chain: the authority under the
// root key, every appended block under its predecessor's nominated
// key, third-party signatures under their own keys, and the proof.
func (b *Biscuit) Verify(provider RootKeyProvider, opts ...VerifyOption) error {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	if provider == nil {
		return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeEmptyKeys, "no root key provider")
	}
	rootKey, err := provider(b.rootKeyID)
	if err != nil {
		return bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeUnknownPublicKey, err)
	}

	if err := sig.Verify(rootKey, b.authority.signingPreimage(), b.authority.Signature); err != nil {
		return err
	}

	prev := &b.authority
	for i := range b.blocks {
		sb := &b.blocks[i]
		if err := sig.Verify(prev.NextKey, sb.signingPreimage(), sb.Signature); err != nil {
			logger.Debug("block signature verification failed", "block", i+1, "err", err)
			return err
		}
		if sb.External != nil {
			if err := verifyExternal(sb, prev.Signature, o.allowLegacyThirdParty); err != nil {
				return err
			}
		}
		prev = sb
	}

	switch proof := b.proof.(type) {
	case FinalSignature:
		if err := sig.Verify(prev.NextKey, b.sealPreimage(), []byte(proof)); err != nil {
			return bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeSealedSignature, err)
		}
	case NextSecret:
		if !proof.KeyPair.Public().Equal(prev.NextKey) {
			return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidSignature, "proof secret does not match the last nominated key")
		}
	default:
		return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown proof kind")
	}
	return nil
}

func verifyExternal(sb *SignedBlock, prevSignature []byte, allowLegacy bool) error {
	ext := sb.External
	if sb.Version >= sigVersionV1 {
		preimage := sig.ThirdPartySigV1Preimage(sb.Payload, prevSignature)
		return sig.Verify(ext.PublicKey, preimage, ext.Signature)
	}
	if !allowLegacy {
		return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidSignature,
			"legacy third-party signature format requires the explicit unsafe entry point")
	}
	preimage := sig.ThirdPartyLegacyPreimage(sb.Payload, ext.PublicKey)
	return sig.Verify(ext.PublicKey, preimage, ext.Signature)
}
