// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package datalog implements Biscuit's restricted Datalog dialect: the
// term/expression value model, the stack-based expression VM, and the
// naive fixed-point rule engine with origin-scoped trust.
package datalog

import (
	"fmt"
	"sort"
)

// Symbol is an interned string index into a token's symbol table.
type Symbol uint64

// BlockID identifies the block (or the authorizer) that produced a
// fact. 0 is the authority block, 1..n are appended blocks, and
// AuthorizerOrigin (∞) marks authorizer-local facts.
type BlockID uint32

// AuthorizerOrigin is the synthetic "∞" block id used for facts and
// rules contributed directly by the authorizer rather than any token
// block.
const AuthorizerOrigin BlockID = ^BlockID(0)

// Term is the closed set of value kinds a fact argument or expression
// result can hold. Each concrete type implements the unexported
// isTerm marker, the same closed-set-via-marker-method shape the
// container package uses for its proof variants.
type Term interface {
	isTerm()
	String(symbols SymbolPrinter) string
}

// SymbolPrinter resolves a Symbol back to its string for display;
// satisfied by format.SymbolTable without datalog importing format
// (which would create an import cycle, since format decodes datalog
// values).
type SymbolPrinter interface {
	PrintSymbol(Symbol) string
}

type Variable uint32

func (Variable) isTerm() {}
func (v Variable) String(SymbolPrinter) string { return fmt.Sprintf("$%d", uint32(v)) }

type Integer int64

func (Integer) isTerm() {}
func (i Integer) String(SymbolPrinter) string { return fmt.Sprintf("%d", int64(i)) }

// Str is an interned string term.
type Str Symbol

func (Str) isTerm() {}
func (s Str) String(sp SymbolPrinter) string { return fmt.Sprintf("%q", sp.PrintSymbol(Symbol(s))) }

// Date is a unix-seconds timestamp.
type Date uint64

func (Date) isTerm() {}
func (d Date) String(SymbolPrinter) string { return fmt.Sprintf("%d", uint64(d)) }

type Bytes []byte

func (Bytes) isTerm() {}
func (b Bytes) String(SymbolPrinter) string { return fmt.Sprintf("hex:%x", []byte(b)) }

type Bool bool

func (Bool) isTerm() {}
func (b Bool) String(SymbolPrinter) string {
	if b {
		return "true"
	}
	return "false"
}

type Null struct{}

func (Null) isTerm() {}
func (Null) String(SymbolPrinter) string { return "null" }

// Set is a homogeneous, deduplicated, sorted collection of primitive
// terms. Nested sets and Variables are forbidden.
type Set []Term

func (Set) isTerm() {}
func (s Set) String(sp SymbolPrinter) string {
	out := "{"
	for i, t := range s {
		if i > 0 {
			out += ", "
		}
		out += t.String(sp)
	}
	return out + "}"
}

// NewSet builds a Set from elements, validating homogeneity and
// de-duplicating+sorting by the term's canonical ordering key.
func NewSet(elements ...Term) (Set, error) {
	if len(elements) == 0 {
		return Set{}, nil
	}
	kind := termKind(elements[0])
	seen := make(map[string]Term, len(elements))
	order := make([]string, 0, len(elements))
	for _, e := range elements {
		if termKind(e) != kind {
			return nil, fmt.Errorf("datalog: set elements must share one kind, got %s and %s", kind, termKind(e))
		}
		if kind == "set" {
			return nil, fmt.Errorf("datalog: nested sets are forbidden")
		}
		if kind == "variable" {
			return nil, fmt.Errorf("datalog: sets cannot contain variables")
		}
		key := canonicalKey(e)
		if _, dup := seen[key]; !dup {
			seen[key] = e
			order = append(order, key)
		}
	}
	sort.Strings(order)
	out := make(Set, len(order))
	for i, k := range order {
		out[i] = seen[k]
	}
	return out, nil
}

// Array is an ordered, possibly heterogeneous collection.
type Array []Term

func (Array) isTerm() {}
func (a Array) String(sp SymbolPrinter) string {
	out := "["
	for i, t := range a {
		if i > 0 {
			out += ", "
		}
		out += t.String(sp)
	}
	return out + "]"
}

// MapKey is the restricted key domain for Map: Integer or Str.
type MapKey interface {
	Term
	isMapKey()
}

func (Integer) isMapKey() {}
func (Str) isMapKey()     {}

// Map is sorted by key for deterministic encoding/printing.
type Map struct {
	keys   []MapKey
	values []Term
}

func (Map) isTerm() {}

func NewMap() Map { return Map{} }

func (m Map) Len() int { return len(m.keys) }

func (m Map) Get(key MapKey) (Term, bool) {
	i := m.search(key)
	if i < len(m.keys) && mapKeyEqual(m.keys[i], key) {
		return m.values[i], true
	}
	return nil, false
}

// Insert returns a new Map with key bound to value, keeping keys sorted.
func (m Map) Insert(key MapKey, value Term) Map {
	i := m.search(key)
	keys := append([]MapKey(nil), m.keys...)
	values := append([]Term(nil), m.values...)
	if i < len(keys) && mapKeyEqual(keys[i], key) {
		values[i] = value
		return Map{keys: keys, values: values}
	}
	keys = append(keys, nil)
	copy(keys[i+1:], keys[i:])
	keys[i] = key
	values = append(values, nil)
	copy(values[i+1:], values[i:])
	values[i] = value
	return Map{keys: keys, values: values}
}

func (m Map) Each(fn func(MapKey, Term)) {
	for i := range m.keys {
		fn(m.keys[i], m.values[i])
	}
}

func (m Map) search(key MapKey) int {
	return sort.Search(len(m.keys), func(i int) bool {
		return mapKeyLess(key, m.keys[i]) || mapKeyEqual(key, m.keys[i])
	})
}

func (m Map) String(sp SymbolPrinter) string {
	out := "{"
	for i := range m.keys {
		if i > 0 {
			out += ", "
		}
		out += m.keys[i].String(sp) + ": " + m.values[i].String(sp)
	}
	return out + "}"
}

func mapKeyLess(a, b MapKey) bool {
	ak, bk := termKind(a), termKind(b)
	if ak != bk {
		return ak < bk
	}
	switch av := a.(type) {
	case Integer:
		return av < b.(Integer)
	case Str:
		return av < b.(Str)
	}
	return false
}

func mapKeyEqual(a, b MapKey) bool {
	return termKind(a) == termKind(b) && canonicalKey(a) == canonicalKey(b)
}

func termKind(t Term) string {
	switch t.(type) {
	case Variable:
		return "variable"
	case Integer:
		return "integer"
	case Str:
		return "string"
	case Date:
		return "date"
	case Bytes:
		return "bytes"
	case Bool:
		return "bool"
	case Null:
		return "null"
	case Set:
		return "set"
	case Array:
		return "array"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// canonicalKey produces a sortable, unique string per distinct value,
// used for Set de-duplication and Map key comparisons.
func canonicalKey(t Term) string {
	switch v := t.(type) {
	case Integer:
		return fmt.Sprintf("i:%020d", int64(v))
	case Str:
		return fmt.Sprintf("s:%020d", uint64(v))
	case Date:
		return fmt.Sprintf("d:%020d", uint64(v))
	case Bytes:
		return fmt.Sprintf("b:%x", []byte(v))
	case Bool:
		return fmt.Sprintf("o:%t", bool(v))
	case Null:
		return "n:"
	default:
		return fmt.Sprintf("?:%v", t)
	}
}

// Equal implements strict (same-kind-required) equality used by
// Binary.Equal; type mismatch is the caller's concern (InvalidType).
func Equal(a, b Term) (bool, bool) {
	if termKind(a) != termKind(b) {
		return false, false
	}
	return heterogeneousEqual(a, b), true
}

// HeterogeneousEqual never fails: mismatched kinds compare unequal,
// Null equals only Null.
func HeterogeneousEqual(a, b Term) bool {
	return heterogeneousEqual(a, b)
}

func heterogeneousEqual(a, b Term) bool {
	if termKind(a) != termKind(b) {
		return false
	}
	switch av := a.(type) {
	case Variable:
		return av == b.(Variable)
	case Integer:
		return av == b.(Integer)
	case Str:
		return av == b.(Str)
	case Date:
		return av == b.(Date)
	case Bytes:
		bv := b.(Bytes)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Bool:
		return av == b.(Bool)
	case Null:
		return true
	case Set:
		bv := b.(Set)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !heterogeneousEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !heterogeneousEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if av.Len() != bv.Len() {
			return false
		}
		eq := true
		av.Each(func(k MapKey, v Term) {
			other, ok := bv.Get(k)
			if !ok || !heterogeneousEqual(v, other) {
				eq = false
			}
		})
		return eq
	default:
		return false
	}
}
