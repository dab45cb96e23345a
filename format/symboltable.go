// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package format holds what every other package must agree on for wire
// compatibility: the default symbol table, the schema version gates,
// and the RLP codec for Datalog values.
package format

import (
	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/sig"
)

// defaultSymbols is the default prefix shared by every implementation.
// It is never serialized; a token only carries the strings it adds on
// top. Order matters: it fixes the first len(defaultSymbols) indices.
var defaultSymbols = []string{
	"read",
	"write",
	"resource",
	"operation",
	"right",
	"time",
	"role",
	"owner",
	"tenant",
	"namespace",
	"user",
	"team",
	"service",
	"admin",
	"email",
	"group",
	"member",
	"ip_address",
	"client",
	"client_ip",
	"domain",
	"path",
	"version",
	"cluster",
	"node",
	"hostname",
	"nonce",
	"query",
}

// SymbolTable interns strings in insertion order. Indices below the
// default prefix length resolve into defaultSymbols; user symbols
// start right after it.
type SymbolTable struct {
	strings []string
	index   map[string]datalog.Symbol
}

// DefaultSymbolTable returns a fresh table holding only the default
// prefix. The prefix itself is shared, read-only state.
func DefaultSymbolTable() *SymbolTable {
	t := &SymbolTable{index: make(map[string]datalog.Symbol, len(defaultSymbols))}
	for i, s := range defaultSymbols {
		t.index[s] = datalog.Symbol(i)
	}
	return t
}

// Len counts all resolvable symbols, default prefix included.
func (t *SymbolTable) Len() int {
	return len(defaultSymbols) + len(t.strings)
}

// Strings returns the non-default symbols, in insertion order. This is
// what a block serializes.
func (t *SymbolTable) Strings() []string {
	return append([]string(nil), t.strings...)
}

// Intern returns the index of s, inserting it if absent.
func (t *SymbolTable) Intern(s string) datalog.Symbol {
	if id, ok := t.index[s]; ok {
		return id
	}
	id := datalog.Symbol(len(defaultSymbols) + len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = id
	return id
}

// Lookup returns the index of s without inserting.
func (t *SymbolTable) Lookup(s string) (datalog.Symbol, bool) {
	id, ok := t.index[s]
	return id, ok
}

// Resolve maps an index back to its string.
func (t *SymbolTable) Resolve(id datalog.Symbol) (string, bool) {
	if int(id) < len(defaultSymbols) {
		return defaultSymbols[id], true
	}
	i := int(id) - len(defaultSymbols)
	if i < len(t.strings) {
		return t.strings[i], true
	}
	return "", false
}

// PrintSymbol implements datalog.SymbolPrinter.
func (t *SymbolTable) PrintSymbol(id datalog.Symbol) string {
	if s, ok := t.Resolve(id); ok {
		return s
	}
	return "<unknown symbol>"
}

// Extend appends other's strings to t. The two tables must be disjoint:
// re-introducing a string already present (default prefix included)
// would make two indices resolve to it.
func (t *SymbolTable) Extend(strings []string) error {
	for _, s := range strings {
		if _, ok := t.index[s]; ok {
			return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeSymbolTableOverlap, "symbol already interned").WithPayload(s)
		}
	}
	for _, s := range strings {
		t.Intern(s)
	}
	return nil
}

// Clone returns an independent copy of t.
func (t *SymbolTable) Clone() *SymbolTable {
	out := DefaultSymbolTable()
	out.strings = append([]string(nil), t.strings...)
	for i, s := range t.strings {
		out.index[s] = datalog.Symbol(len(defaultSymbols) + i)
	}
	return out
}

// Fork returns a copy that remembers where t ended, so Additions can
// report just the strings interned since. Builders build against a
// fork and serialize only the additions.
func (t *SymbolTable) Fork() *ForkedSymbolTable {
	return &ForkedSymbolTable{SymbolTable: t.Clone(), base: t.Len()}
}

// ForkedSymbolTable is a SymbolTable that tracks its fork point.
type ForkedSymbolTable struct {
	*SymbolTable
	base int
}

// Additions returns the strings interned since the fork, as a non-nil
// slice so a block with no additions compares equal to its decoded form.
func (f *ForkedSymbolTable) Additions() []string {
	return append([]string{}, f.strings[f.base-len(defaultSymbols):]...)
}

// PublicKeyTable interns public keys the way SymbolTable interns
// strings; Scope(PublicKey(i)) indices resolve here. There is no
// default prefix: tokens carry every key they reference.
type PublicKeyTable struct {
	keys []sig.PublicKey
}

func NewPublicKeyTable() *PublicKeyTable {
	return &PublicKeyTable{}
}

func (t *PublicKeyTable) Len() int { return len(t.keys) }

// Keys returns all interned keys in insertion order.
func (t *PublicKeyTable) Keys() []sig.PublicKey {
	return append([]sig.PublicKey(nil), t.keys...)
}

// Intern returns the index of pk, inserting it if absent.
func (t *PublicKeyTable) Intern(pk sig.PublicKey) int64 {
	for i, k := range t.keys {
		if k.Equal(pk) {
			return int64(i)
		}
	}
	t.keys = append(t.keys, pk)
	return int64(len(t.keys) - 1)
}

// Resolve maps an index back to its key.
func (t *PublicKeyTable) Resolve(i int64) (sig.PublicKey, bool) {
	if i < 0 || i >= int64(len(t.keys)) {
		return sig.PublicKey{}, false
	}
	return t.keys[i], true
}

// Extend appends keys to t, requiring disjointness like
// SymbolTable.Extend.
func (t *PublicKeyTable) Extend(keys []sig.PublicKey) error {
	for _, pk := range keys {
		for _, k := range t.keys {
			if k.Equal(pk) {
				return bisckerr.New(bisckerr.KindFormat, bisckerr.CodePublicKeyTableOverlap, "public key already interned")
			}
		}
	}
	t.keys = append(t.keys, keys...)
	return nil
}

// Clone returns an independent copy of t.
func (t *PublicKeyTable) Clone() *PublicKeyTable {
	return &PublicKeyTable{keys: append([]sig.PublicKey(nil), t.keys...)}
}

// Fork mirrors SymbolTable.Fork for public keys.
func (t *PublicKeyTable) Fork() *ForkedPublicKeyTable {
	return &ForkedPublicKeyTable{PublicKeyTable: t.Clone(), base: t.Len()}
}

type ForkedPublicKeyTable struct {
	*PublicKeyTable
	base int
}

// Additions returns the keys interned since the fork.
func (f *ForkedPublicKeyTable) Additions() []sig.PublicKey {
	return append([]sig.PublicKey(nil), f.keys[f.base:]...)
}
