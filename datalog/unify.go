// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

// unifyPredicate tries to match pattern (a rule body predicate, which
// may contain Variables) against fact (always ground), extending
// bindings. It returns a new Env on success; the caller's env is left
// untouched so backtracking is just "discard the result".
func unifyPredicate(pattern Predicate, fact Predicate, bindings Env) (Env, bool) {
	if pattern.Name != fact.Name || len(pattern.Terms) != len(fact.Terms) {
		return nil, false
	}
	next := make(Env, len(bindings)+len(pattern.Terms))
	for k, v := range bindings {
		next[k] = v
	}
	for i, pt := range pattern.Terms {
		ft := fact.Terms[i]
		v, isVar := pt.(Variable)
		if !isVar {
			eq, sameKind := Equal(pt, ft)
			if !sameKind || !eq {
				return nil, false
			}
			continue
		}
		if bound, already := next[v]; already {
			eq, sameKind := Equal(bound, ft)
			if !sameKind || !eq {
				return nil, false
			}
			continue
		}
		next[v] = ft
	}
	return next, true
}

// instantiate substitutes every bound Variable in pred with its Env
// value, producing a ground Predicate suitable for Fact.Predicate.
// It panics if a Variable is left unbound, since the rule engine only
// calls this once a body has fully matched (safe rules:
// every head Variable appears in the body).
func instantiate(pred Predicate, env Env) Predicate {
	terms := make([]Term, len(pred.Terms))
	for i, t := range pred.Terms {
		if v, ok := t.(Variable); ok {
			bound, ok := env[v]
			if !ok {
				panic("datalog: unbound head variable after body match")
			}
			terms[i] = bound
			continue
		}
		terms[i] = t
	}
	return Predicate{Name: pred.Name, Terms: terms}
}
