// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package block

import (
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
)

// Builder accumulates untrusted user data for one block. Methods chain;
// Build interns everything against the token's symbol tables and
// freezes the result.
type Builder struct {
	facts     []Fact
	rules     []Rule
	checks    []Check
	scopes    []Scope
	context   string
	params    map[string]Term
	keyParams map[string]sig.PublicKey
}

// NewBuilder creates an empty block builder.
func NewBuilder() *Builder {
	return &Builder{
		params:    make(map[string]Term),
		keyParams: make(map[string]sig.PublicKey),
	}
}

// Fact adds a fact.
func (b *Builder) Fact(f Fact) *Builder {
	b.facts = append(b.facts, f)
	return b
}

// Rule adds a rule.
func (b *Builder) Rule(r Rule) *Builder {
	b.rules = append(b.rules, r)
	return b
}

// Check adds a check.
func (b *Builder) Check(c Check) *Builder {
	b.checks = append(b.checks, c)
	return b
}

// Scope adds a block-wide default scope applied to rules and checks
// that carry none of their own.
func (b *Builder) Scope(s Scope) *Builder {
	b.scopes = append(b.scopes, s)
	return b
}

// Context sets the free-form context string.
func (b *Builder) Context(ctx string) *Builder {
	b.context = ctx
	return b
}

// Set binds a named term parameter.
func (b *Builder) Set(name string, value Term) *Builder {
	b.params[name] = value
	return b
}

// SetPublicKey binds a named public key parameter used by scopes.
func (b *Builder) SetPublicKey(name string, pk sig.PublicKey) *Builder {
	b.keyParams[name] = pk
	return b
}

// Build interns the builder's contents against forks of the token's
// accumulated tables and freezes the block. The block's Symbols and
// PublicKeys are only the strings/keys this block introduced; its
// Version is the lowest schema version its features allow.
func (b *Builder) Build(symbols *format.ForkedSymbolTable, keys *format.ForkedPublicKeyTable) (*Block, error) {
	c := &Compiler{
		Symbols:   symbols,
		Keys:      keys.PublicKeyTable,
		Params:    b.params,
		KeyParams: b.keyParams,
	}

	blk := &Block{Context: b.context}
	for _, f := range b.facts {
		compiled, err := c.Fact(f)
		if err != nil {
			return nil, err
		}
		blk.Facts = append(blk.Facts, compiled)
	}
	for _, r := range b.rules {
		compiled, err := c.Rule(r)
		if err != nil {
			return nil, err
		}
		blk.Rules = append(blk.Rules, compiled)
	}
	for _, ch := range b.checks {
		compiled, err := c.Check(ch)
		if err != nil {
			return nil, err
		}
		blk.Checks = append(blk.Checks, compiled)
	}
	scopes, err := c.Scopes(b.scopes)
	if err != nil {
		return nil, err
	}
	blk.Scopes = scopes

	blk.Symbols = symbols.Additions()
	blk.PublicKeys = keys.Additions()
	blk.Version = format.RequiredBlockVersion(blk.Facts, blk.Rules, blk.Checks, blk.Scopes, false)
	return blk, nil
}
