// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"context"
	"testing"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allOrigins trusts every block id it is ever asked about; good enough
// for tests that don't exercise scope restriction itself.
type allOrigins struct{}

func (allOrigins) OriginsForScope(_ []Scope, _ BlockID) map[BlockID]bool {
	return map[BlockID]bool{0: true, 1: true, AuthorizerOrigin: true}
}

func TestWorldDerivesFactsToFixedPoint(t *testing.T) {
	sym := newTestSymbols("parent", "ancestor")
	parent := Symbol(0)
	ancestor := Symbol(1)

	w := NewWorld(sym, FFIRegistry{})
	w.AddFact(Fact{Predicate: Predicate{Name: parent, Terms: []Term{sym.str("a"), sym.str("b")}}})
	w.AddFact(Fact{Predicate: Predicate{Name: parent, Terms: []Term{sym.str("b"), sym.str("c")}}})

	rules := []Rule{
		// ancestor($x, $y) <- parent($x, $y)
		{
			Head: Predicate{Name: ancestor, Terms: []Term{Variable(0), Variable(1)}},
			Body: []Predicate{{Name: parent, Terms: []Term{Variable(0), Variable(1)}}},
		},
		// ancestor($x, $z) <- parent($x, $y), ancestor($y, $z)
		{
			Head: Predicate{Name: ancestor, Terms: []Term{Variable(0), Variable(2)}},
			Body: []Predicate{
				{Name: parent, Terms: []Term{Variable(0), Variable(1)}},
				{Name: ancestor, Terms: []Term{Variable(1), Variable(2)}},
			},
		},
	}

	err := w.Run(context.Background(), rules, allOrigins{}, DefaultLimits)
	require.NoError(t, err)

	found := false
	for _, f := range w.Facts() {
		if f.Predicate.Name == ancestor &&
			HeterogeneousEqual(f.Predicate.Terms[0], sym.str("a")) &&
			HeterogeneousEqual(f.Predicate.Terms[1], sym.str("c")) {
			found = true
		}
	}
	assert.True(t, found, "expected transitive ancestor(a, c) to be derived")
}

func TestWorldRespectsMaxFacts(t *testing.T) {
	sym := newTestSymbols("parent", "ancestor")
	parent := Symbol(0)
	ancestor := Symbol(1)

	w := NewWorld(sym, FFIRegistry{})
	w.AddFact(Fact{Predicate: Predicate{Name: parent, Terms: []Term{sym.str("a"), sym.str("b")}}})
	w.AddFact(Fact{Predicate: Predicate{Name: parent, Terms: []Term{sym.str("b"), sym.str("c")}}})
	w.AddFact(Fact{Predicate: Predicate{Name: parent, Terms: []Term{sym.str("c"), sym.str("d")}}})

	rules := []Rule{
		{
			Head: Predicate{Name: ancestor, Terms: []Term{Variable(0), Variable(1)}},
			Body: []Predicate{{Name: parent, Terms: []Term{Variable(0), Variable(1)}}},
		},
		{
			Head: Predicate{Name: ancestor, Terms: []Term{Variable(0), Variable(2)}},
			Body: []Predicate{
				{Name: parent, Terms: []Term{Variable(0), Variable(1)}},
				{Name: ancestor, Terms: []Term{Variable(1), Variable(2)}},
			},
		},
	}

	limits := Limits{MaxFacts: 1, MaxIterations: 10, MaxTime: DefaultLimits.MaxTime}
	err := w.Run(context.Background(), rules, allOrigins{}, limits)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeTooManyFacts))
}

func TestCheckKindOneAndAll(t *testing.T) {
	sym := newTestSymbols("right")
	right := Symbol(0)

	w := NewWorld(sym, FFIRegistry{})
	w.AddFact(Fact{Predicate: Predicate{Name: right, Terms: []Term{sym.str("read")}}})

	oneCheck := Check{
		Kind: CheckKindOne,
		Queries: []Rule{
			{Body: []Predicate{{Name: right, Terms: []Term{sym.str("read")}}}},
		},
	}
	ok, err := EvaluateCheck(w, oneCheck, allOrigins{})
	require.NoError(t, err)
	assert.True(t, ok)

	// a body that never matches is vacuously satisfied: no
	// counterexample exists
	vacuousAll := Check{
		Kind: CheckKindAll,
		Queries: []Rule{
			{Body: []Predicate{{Name: right, Terms: []Term{sym.str("write")}}}},
		},
	}
	ok, err = EvaluateCheck(w, vacuousAll, allOrigins{})
	require.NoError(t, err)
	assert.True(t, ok)

	// a binding whose expression yields false is a counterexample
	failingAll := Check{
		Kind: CheckKindAll,
		Queries: []Rule{
			{
				Body:        []Predicate{{Name: right, Terms: []Term{Variable(0)}}},
				Expressions: []Expression{{Ops: []Op{OpValue{Term: Bool(false)}}}},
			},
		},
	}
	ok, err = EvaluateCheck(w, failingAll, allOrigins{})
	require.NoError(t, err)
	assert.False(t, ok)

	// and one where every binding satisfies the expression
	passingAll := Check{
		Kind: CheckKindAll,
		Queries: []Rule{
			{
				Body:        []Predicate{{Name: right, Terms: []Term{Variable(0)}}},
				Expressions: []Expression{{Ops: []Op{OpValue{Term: Bool(true)}}}},
			},
		},
	}
	ok, err = EvaluateCheck(w, passingAll, allOrigins{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicyAllowWins(t *testing.T) {
	sym := newTestSymbols("user")
	user := Symbol(0)
	w := NewWorld(sym, FFIRegistry{})
	w.AddFact(Fact{Predicate: Predicate{Name: user, Terms: []Term{Integer(1)}}})

	allow := Policy{
		Kind:    PolicyAllow,
		Queries: []Rule{{Body: []Predicate{{Name: user, Terms: []Term{Integer(1)}}}}},
	}
	matched, err := EvaluatePolicy(w, allow, allOrigins{})
	require.NoError(t, err)
	assert.True(t, matched)
}
