// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

// PolicyKind is a policy's verdict when one of its Queries matches.
type PolicyKind uint8

const (
	PolicyAllow PolicyKind = iota
	PolicyDeny
)

// Policy is an authorizer-only rule evaluated after the checks, whether
// or not they passed: the first Policy whose Queries find a match
// decides the authorization outcome.
type Policy struct {
	Queries []Rule
	Kind    PolicyKind
}

// EvaluatePolicy reports whether p matches against w: at least one of
// its Queries must find a binding that satisfies all Expressions.
func EvaluatePolicy(w *World, p Policy, trust TrustContext) (bool, error) {
	for _, q := range p.Queries {
		origins := w.scopes.originsFor(q.Scope, q.Origin, trust)
		matched := false
		var evalErr error
		w.solve(q.Body, 0, origins, Env{}, Origin{}, func(env Env, _ Origin) bool {
			ok, err := checkExpressions(q.Expressions, env, w.symbols, w.ffi)
			if err != nil {
				evalErr = err
				return false
			}
			if ok {
				matched = true
				return false
			}
			return true
		})
		if evalErr != nil {
			return false, evalErr
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
