// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package block

import (
	"io"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/ethereum/go-ethereum/rlp"
)

// Block is a frozen, interned block: the unit a token signs. Symbols
// and PublicKeys are only this block's additions on top of the token's
// accumulated tables. ExternalKey is set iff the block was contributed
// by a third party.
type Block struct {
	Symbols     []string
	Context     string
	Version     uint32
	Facts       []datalog.Predicate
	Rules       []datalog.Rule
	Checks      []datalog.Check
	Scopes      []datalog.Scope
	PublicKeys  []sig.PublicKey
	ExternalKey *sig.PublicKey
}

// body is the RLP shape of a Block. Context and ExternalKey are
// trailing optionals so that blocks without them stay byte-stable.
type body struct {
	Symbols     []string
	Version     uint32
	Facts       []format.PredicateRecord
	Rules       []format.RuleRecord
	Checks      []format.CheckRecord
	Scopes      []format.ScopeRecord
	PublicKeys  []format.PublicKeyRecord
	Context     string                   `rlp:"optional"`
	ExternalKey *format.PublicKeyRecord  `rlp:"optional"`
}

// EncodeRLP implements rlp.Encoder.
func (b *Block) EncodeRLP(w io.Writer) error {
	facts, err := format.NewPredicateRecords(b.Facts)
	if err != nil {
		return err
	}
	rules, err := format.NewRuleRecords(b.Rules)
	if err != nil {
		return err
	}
	checks, err := format.NewCheckRecords(b.Checks)
	if err != nil {
		return err
	}
	enc := body{
		Symbols:    b.Symbols,
		Version:    b.Version,
		Facts:      facts,
		Rules:      rules,
		Checks:     checks,
		Scopes:     format.NewScopeRecords(b.Scopes),
		PublicKeys: format.NewPublicKeyRecords(b.PublicKeys),
		Context:    b.Context,
	}
	if b.ExternalKey != nil {
		rec := format.NewPublicKeyRecord(*b.ExternalKey)
		enc.ExternalKey = &rec
	}
	return rlp.Encode(w, &enc)
}

// DecodeRLP implements rlp.Decoder. Besides structural decoding it
// enforces the schema version gates: contents using a feature from a
// later version than the block declares are rejected, not normalized.
func (b *Block) DecodeRLP(s *rlp.Stream) error {
	var dec body
	if err := s.Decode(&dec); err != nil {
		return bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeBlockDeserializationError, err)
	}
	if err := format.CheckVersionBounds(dec.Version); err != nil {
		return err
	}
	facts, err := decodePredicates(dec.Facts)
	if err != nil {
		return err
	}
	rules, err := format.Rules(dec.Rules)
	if err != nil {
		return err
	}
	checks, err := format.Checks(dec.Checks)
	if err != nil {
		return err
	}
	scopes, err := format.Scopes(dec.Scopes)
	if err != nil {
		return err
	}
	keys, err := format.PublicKeys(dec.PublicKeys)
	if err != nil {
		return err
	}
	var externalKey *sig.PublicKey
	if dec.ExternalKey != nil {
		pk, err := dec.ExternalKey.PublicKey()
		if err != nil {
			return err
		}
		externalKey = &pk
	}
	if err := format.ValidateBlockVersion(dec.Version, facts, rules, checks, scopes, externalKey != nil); err != nil {
		return err
	}
	// wire data is untrusted: an unsafe rule reaching the engine would
	// leave head variables unbound after a body match
	for _, r := range rules {
		if err := validateRuleSafety(r); err != nil {
			return err
		}
	}
	for _, c := range checks {
		for _, q := range c.Queries {
			if err := validateRuleSafety(q); err != nil {
				return err
			}
		}
	}
	if externalKey != nil && hasPreviousScope(rules, checks, scopes) {
		return bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
			"third-party blocks cannot use the previous scope")
	}
	*b = Block{
		Symbols:     dec.Symbols,
		Context:     dec.Context,
		Version:     dec.Version,
		Facts:       facts,
		Rules:       rules,
		Checks:      checks,
		Scopes:      scopes,
		PublicKeys:  keys,
		ExternalKey: externalKey,
	}
	return nil
}

func decodePredicates(records []format.PredicateRecord) ([]datalog.Predicate, error) {
	out := make([]datalog.Predicate, len(records))
	for i, r := range records {
		p, err := r.Predicate()
		if err != nil {
			return nil, err
		}
		if !p.IsGround() {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeBlockDeserializationError, "block fact contains a variable")
		}
		out[i] = p
	}
	return out, nil
}

// Encode serializes b to the payload bytes that get signed.
func (b *Block) Encode() ([]byte, error) {
	data, err := rlp.EncodeToBytes(b)
	if err != nil {
		return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeSerializationError, err)
	}
	return data, nil
}

// hasPreviousScope reports whether any rule, check query or block-wide
// scope is the "previous" scope, which only first-party blocks may use.
func hasPreviousScope(rules []datalog.Rule, checks []datalog.Check, scopes []datalog.Scope) bool {
	contains := func(scopes []datalog.Scope) bool {
		for _, s := range scopes {
			if s.Kind == datalog.ScopePrevious {
				return true
			}
		}
		return false
	}
	if contains(scopes) {
		return true
	}
	for _, r := range rules {
		if contains(r.Scope) {
			return true
		}
	}
	for _, c := range checks {
		for _, q := range c.Queries {
			if contains(q.Scope) {
				return true
			}
		}
	}
	return false
}

// UsesPreviousScope reports whether the block relies on the "previous"
// scope anywhere; third-party signing paths refuse such blocks.
func (b *Block) UsesPreviousScope() bool {
	return hasPreviousScope(b.Rules, b.Checks, b.Scopes)
}

// Decode parses payload bytes back into a Block.
func Decode(payload []byte) (*Block, error) {
	var b Block
	if err := rlp.DecodeBytes(payload, &b); err != nil {
		if _, ok := err.(*bisckerr.Error); ok {
			return nil, err
		}
		return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeBlockDeserializationError, err)
	}
	return &b, nil
}
