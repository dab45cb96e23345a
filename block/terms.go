// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package block holds the block model: the frozen Block carried by a
// token, and the Builder surface that accumulates untrusted user data
// (facts, rules, checks, scopes, named parameters) until Build interns
// it against a token's symbol tables.
package block

import (
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/sig"
)

// Term is a builder-level value: strings are still strings (interning
// happens at Build), variables and parameters are named. The closed
// set of implementations mirrors datalog.Term plus Parameter, the
// named hole filled at build time.
type Term interface {
	isTerm()
}

type String string

func (String) isTerm() {}

type Integer int64

func (Integer) isTerm() {}

// Date is a unix-seconds timestamp.
type Date uint64

func (Date) isTerm() {}

type Bytes []byte

func (Bytes) isTerm() {}

type Bool bool

func (Bool) isTerm() {}

type Null struct{}

func (Null) isTerm() {}

// Variable is a named rule variable; Build assigns it a numeric id
// scoped to its rule.
type Variable string

func (Variable) isTerm() {}

// Parameter is a named hole. Build substitutes the value bound via
// Builder.Set / Compiler.Params and fails on an unbound one.
type Parameter string

func (Parameter) isTerm() {}

type Set []Term

func (Set) isTerm() {}

type Array []Term

func (Array) isTerm() {}

// MapEntry pairs a key (String or Integer) with a value.
type MapEntry struct {
	Key   Term
	Value Term
}

type Map []MapEntry

func (Map) isTerm() {}

// Predicate is `name(terms...)` with the name still a plain string.
type Predicate struct {
	Name  string
	Terms []Term
}

// Fact is a predicate asserted as ground truth; Build rejects it if a
// Variable survives substitution.
type Fact struct {
	Predicate
}

// Op is one builder-level expression step.
type Op interface {
	isOp()
}

type Value struct{ Term Term }

func (Value) isOp() {}

type Unary struct {
	Op datalog.UnaryOp
	// Name is the extern name for datalog.OpUnaryFfi, unused otherwise.
	Name string
}

func (Unary) isOp() {}

type Binary struct {
	Op   datalog.BinaryOp
	Name string
}

func (Binary) isOp() {}

type Closure struct {
	Params []Variable
	Body   []Op
}

func (Closure) isOp() {}

// Expression is a postfix op sequence, same protocol as
// datalog.Expression.
type Expression []Op

// Scope restricts a rule's readable origins. Key is only set for
// datalog.ScopePublicKey; KeyParam names a parameter to be bound via
// Builder.SetPublicKey instead.
type Scope struct {
	Kind     datalog.ScopeKind
	Key      *sig.PublicKey
	KeyParam string
}

// AuthorityScope, PreviousScope and PublicKeyScope are the three scope
// constructors.
func AuthorityScope() Scope { return Scope{Kind: datalog.ScopeAuthority} }

func PreviousScope() Scope { return Scope{Kind: datalog.ScopePrevious} }

func PublicKeyScope(pk sig.PublicKey) Scope {
	return Scope{Kind: datalog.ScopePublicKey, Key: &pk}
}

// Rule derives Head whenever Body matches and all Expressions hold.
type Rule struct {
	Head        Predicate
	Body        []Predicate
	Expressions []Expression
	Scopes      []Scope
}

// Check is a per-block assertion; Queries reuse Rule with the head
// ignored.
type Check struct {
	Kind    datalog.CheckKind
	Queries []Rule
}

// Policy is an authorizer-only allow/deny rule.
type Policy struct {
	Kind    datalog.PolicyKind
	Queries []Rule
}
