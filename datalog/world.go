// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"context"
	"time"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
)

// Rule is a Datalog rule: Head is derived whenever Body unifies against
// known facts restricted to the origins its Scope resolves to and every Expression
// evaluates to true.
type Rule struct {
	Head        Predicate
	Body        []Predicate
	Expressions []Expression
	Scope       []Scope
	Origin      BlockID
}

// Check is a rule-shaped condition with no Head: it must produce at
// least one match (CheckKindOne) or fail on any non-match
// (CheckKindAll).
type CheckKind uint8

const (
	CheckKindOne CheckKind = iota
	CheckKindAll
	CheckKindReject
)

type Check struct {
	Queries []Rule // Head is ignored; only Body+Expressions+Scope matter
	Kind    CheckKind
	Origin  BlockID
}

// TrustContext resolves a rule or check's Scope into the concrete set
// of block origins it may read facts from. Implemented by the token
// layer, which alone knows the block list and which public key signed
// which block.
type TrustContext interface {
	OriginsForScope(scope []Scope, origin BlockID) map[BlockID]bool
}

// Limits bounds one evaluation run.
type Limits struct {
	MaxFacts      int
	MaxIterations int
	MaxTime       time.Duration
}

// DefaultLimits is the budget applied when callers set none.
var DefaultLimits = Limits{MaxFacts: 1000, MaxIterations: 100, MaxTime: 1 * time.Second}

// World holds the fact base for one authorization run and the rules
// that populate it via naive fixed-point evaluation: each round
// re-matches every rule against the whole fact base, not only against
// the facts derived in the previous round.
type World struct {
	facts   map[string]Fact
	symbols Symbols
	ffi     FFIRegistry
	scopes  *scopeCache
}

func NewWorld(symbols Symbols, ffi FFIRegistry) *World {
	return &World{facts: make(map[string]Fact), symbols: symbols, ffi: ffi, scopes: newScopeCache(64)}
}

func (w *World) AddFact(f Fact) bool {
	key := f.key(w.symbols)
	if _, exists := w.facts[key]; exists {
		return false
	}
	w.facts[key] = f
	return true
}

func (w *World) Facts() []Fact {
	out := make([]Fact, 0, len(w.facts))
	for _, f := range w.facts {
		out = append(out, f)
	}
	return out
}

func (w *World) Len() int { return len(w.facts) }

// Run drives rules to a fixed point: repeatedly matching every rule's
// body against the current fact base and adding newly derivable
// facts, until a round adds nothing or a Limits bound trips.
func (w *World) Run(ctx context.Context, rules []Rule, trust TrustContext, limits Limits) error {
	deadline := time.Now().Add(limits.MaxTime)
	iterations := 0
	for {
		iterations++
		if limits.MaxIterations > 0 && iterations > limits.MaxIterations {
			return bisckerr.New(bisckerr.KindRunLimit, bisckerr.CodeTooManyIterations, "rule evaluation did not reach a fixed point in time")
		}
		if limits.MaxTime > 0 && time.Now().After(deadline) {
			return bisckerr.New(bisckerr.KindRunLimit, bisckerr.CodeTimeout, "rule evaluation exceeded its time budget")
		}
		select {
		case <-ctx.Done():
			return bisckerr.Wrap(bisckerr.KindRunLimit, bisckerr.CodeTimeout, ctx.Err())
		default:
		}

		var derived []Fact
		for _, r := range rules {
			origins := w.scopes.originsFor(r.Scope, r.Origin, trust)
			facts, err := w.evalRule(r, origins)
			if err != nil {
				return err
			}
			derived = append(derived, facts...)
		}

		added := false
		for _, f := range derived {
			if w.AddFact(f) {
				added = true
			}
			if limits.MaxFacts > 0 && w.Len() > limits.MaxFacts {
				return bisckerr.New(bisckerr.KindRunLimit, bisckerr.CodeTooManyFacts, "rule evaluation produced too many facts")
			}
		}
		if !added {
			return nil
		}
	}
}

// QueryRule runs a single standalone rule against the current fact
// base and returns the facts it derives, without adding them to the
// world. The authorizer's query surface sits on top of this.
func (w *World) QueryRule(r Rule, trust TrustContext) ([]Fact, error) {
	origins := w.scopes.originsFor(r.Scope, r.Origin, trust)
	return w.evalRule(r, origins)
}

// evalRule joins r.Body against facts visible under origins, filters
// by r.Expressions, and instantiates r.Head for every surviving match.
// A derived fact's origin is the union of the origins of the facts
// that produced it plus the rule's own producing block id.
func (w *World) evalRule(r Rule, origins map[BlockID]bool) ([]Fact, error) {
	var out []Fact
	var evalErr error
	w.solve(r.Body, 0, origins, Env{}, Origin{}, func(env Env, used Origin) bool {
		ok, err := checkExpressions(r.Expressions, env, w.symbols, w.ffi)
		if err != nil {
			evalErr = err
			return false
		}
		if !ok {
			return true
		}
		origin := used.Union(NewOrigin(r.Origin))
		out = append(out, Fact{Predicate: instantiate(r.Head, env), Origin: origin})
		return true
	})
	return out, evalErr
}

// solve performs a naive backtracking join over body, calling emit
// once per fully-bound environment; emit returns false to stop early
// (propagated up so an evaluation error aborts the whole join). used
// accumulates the origins of every fact consulted along the current
// path, so callers that care about provenance (evalRule) can see it.
func (w *World) solve(body []Predicate, idx int, origins map[BlockID]bool, env Env, used Origin, emit func(Env, Origin) bool) bool {
	if idx == len(body) {
		return emit(env, used)
	}
	pattern := body[idx]
	for _, f := range w.facts {
		if !f.Origin.SubsetOf(origins) {
			continue
		}
		next, ok := unifyPredicate(pattern, f.Predicate, env)
		if !ok {
			continue
		}
		if !w.solve(body, idx+1, origins, next, used.Union(f.Origin), emit) {
			return false
		}
	}
	return true
}

// checkExpressions evaluates every expr with env and reports whether
// all of them produced Bool(true); a non-Bool result is InvalidType.
func checkExpressions(exprs []Expression, env Env, symbols Symbols, ffi FFIRegistry) (bool, error) {
	for _, e := range exprs {
		v, err := Evaluate(e.Ops, env, symbols, ffi)
		if err != nil {
			return false, err
		}
		b, ok := v.(Bool)
		if !ok {
			return false, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidType, "expression must evaluate to a boolean")
		}
		if !bool(b) {
			return false, nil
		}
	}
	return true, nil
}

// EvaluateCheck reports whether c is satisfied against w:
//   - CheckKindOne passes if any query finds at least one binding that
//     satisfies all of its expressions.
//   - CheckKindAll passes if no counterexample exists: every binding
//     of every query body must satisfy every expression. A query whose
//     body never matches anything is vacuously satisfied.
//   - CheckKindReject passes iff no query produces any answer at all.
func EvaluateCheck(w *World, c Check, trust TrustContext) (bool, error) {
	switch c.Kind {
	case CheckKindOne:
		for _, q := range c.Queries {
			found, err := queryHasSatisfyingMatch(w, q, trust)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		return false, nil
	case CheckKindAll:
		for _, q := range c.Queries {
			origins := w.scopes.originsFor(q.Scope, q.Origin, trust)
			passed := true
			var evalErr error
			w.solve(q.Body, 0, origins, Env{}, Origin{}, func(env Env, _ Origin) bool {
				ok, err := checkExpressions(q.Expressions, env, w.symbols, w.ffi)
				if err != nil {
					evalErr = err
					return false
				}
				if !ok {
					passed = false
					return false // a single counterexample kills this query
				}
				return true
			})
			if evalErr != nil {
				return false, evalErr
			}
			if !passed {
				return false, nil
			}
		}
		return true, nil
	case CheckKindReject:
		for _, q := range c.Queries {
			found, err := queryHasSatisfyingMatch(w, q, trust)
			if err != nil {
				return false, err
			}
			if found {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "unknown check kind")
	}
}

// queryHasSatisfyingMatch reports whether q's body matches anything
// for which every expression evaluates to true.
func queryHasSatisfyingMatch(w *World, q Rule, trust TrustContext) (bool, error) {
	origins := w.scopes.originsFor(q.Scope, q.Origin, trust)
	found := false
	var evalErr error
	w.solve(q.Body, 0, origins, Env{}, Origin{}, func(env Env, _ Origin) bool {
		ok, err := checkExpressions(q.Expressions, env, w.symbols, w.ffi)
		if err != nil {
			evalErr = err
			return false
		}
		if ok {
			found = true
			return false
		}
		return true
	})
	return found, evalErr
}
