// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package block

import (
	"fmt"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
)

// Compiler turns builder values into datalog values: it substitutes
// parameters, assigns variable ids, interns strings into Symbols and
// public keys into Keys. The authorizer uses one directly for its own
// facts/rules/policies; Builder.Build wraps one for token blocks.
type Compiler struct {
	Symbols   SymbolInterner
	Keys      *format.PublicKeyTable
	Params    map[string]Term
	KeyParams map[string]sig.PublicKey
}

// SymbolInterner is the single method the compiler needs from
// format.SymbolTable.
type SymbolInterner interface {
	Intern(string) datalog.Symbol
}

// Fact compiles f into a ground predicate. Unbound parameters and
// surviving variables are rejected.
func (c *Compiler) Fact(f Fact) (datalog.Predicate, error) {
	pred, err := c.predicate(f.Predicate, nil)
	if err != nil {
		return datalog.Predicate{}, err
	}
	if !pred.IsGround() {
		return datalog.Predicate{}, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
			fmt.Sprintf("fact %q must not contain variables", f.Name))
	}
	return pred, nil
}

// Rule compiles r, enforcing the safety invariant: every variable in
// the head or in an expression must be bound by the body, and a rule
// with head variables must have a non-empty body.
func (c *Compiler) Rule(r Rule) (datalog.Rule, error) {
	vars := newVarScope()
	head, err := c.predicate(r.Head, vars)
	if err != nil {
		return datalog.Rule{}, err
	}
	body := make([]datalog.Predicate, len(r.Body))
	for i, p := range r.Body {
		body[i], err = c.predicate(p, vars)
		if err != nil {
			return datalog.Rule{}, err
		}
	}
	exprs := make([]datalog.Expression, len(r.Expressions))
	for i, e := range r.Expressions {
		ops, err := c.ops(e, vars)
		if err != nil {
			return datalog.Rule{}, err
		}
		exprs[i] = datalog.Expression{Ops: ops}
	}
	scopes, err := c.scopes(r.Scopes)
	if err != nil {
		return datalog.Rule{}, err
	}
	out := datalog.Rule{Head: head, Body: body, Expressions: exprs, Scope: scopes}
	if err := validateRuleSafety(out); err != nil {
		return datalog.Rule{}, err
	}
	return out, nil
}

// Check compiles ch; query heads are replaced by an empty-tuple head.
func (c *Compiler) Check(ch Check) (datalog.Check, error) {
	queries := make([]datalog.Rule, len(ch.Queries))
	for i, q := range ch.Queries {
		q.Head = Predicate{Name: "query"}
		compiled, err := c.Rule(q)
		if err != nil {
			return datalog.Check{}, err
		}
		queries[i] = compiled
	}
	return datalog.Check{Kind: ch.Kind, Queries: queries}, nil
}

// Policy compiles p the same way Check compiles its queries.
func (c *Compiler) Policy(p Policy) (datalog.Policy, error) {
	queries := make([]datalog.Rule, len(p.Queries))
	for i, q := range p.Queries {
		q.Head = Predicate{Name: "query"}
		compiled, err := c.Rule(q)
		if err != nil {
			return datalog.Policy{}, err
		}
		queries[i] = compiled
	}
	return datalog.Policy{Kind: p.Kind, Queries: queries}, nil
}

// Scopes compiles builder scopes, interning referenced public keys.
func (c *Compiler) Scopes(scopes []Scope) ([]datalog.Scope, error) {
	return c.scopes(scopes)
}

func (c *Compiler) scopes(scopes []Scope) ([]datalog.Scope, error) {
	out := make([]datalog.Scope, len(scopes))
	for i, s := range scopes {
		switch s.Kind {
		case datalog.ScopeAuthority, datalog.ScopePrevious:
			out[i] = datalog.Scope{Kind: s.Kind}
		case datalog.ScopePublicKey:
			key := s.Key
			if key == nil && s.KeyParam != "" {
				bound, ok := c.KeyParams[s.KeyParam]
				if !ok {
					return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
						fmt.Sprintf("unbound public key parameter %q", s.KeyParam))
				}
				key = &bound
			}
			if key == nil {
				return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "public key scope without a key")
			}
			if c.Keys == nil {
				return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "no public key table to intern scope key into")
			}
			out[i] = datalog.PublicKeyScope(c.Keys.Intern(*key))
		default:
			return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "unknown scope kind")
		}
	}
	return out, nil
}

// varScope assigns dense numeric ids to named variables, scoped to one
// rule so that bindings never leak across rules.
type varScope struct {
	ids map[Variable]datalog.Variable
}

func newVarScope() *varScope {
	return &varScope{ids: make(map[Variable]datalog.Variable)}
}

func (vs *varScope) id(v Variable) datalog.Variable {
	if id, ok := vs.ids[v]; ok {
		return id
	}
	id := datalog.Variable(len(vs.ids))
	vs.ids[v] = id
	return id
}

func (c *Compiler) predicate(p Predicate, vars *varScope) (datalog.Predicate, error) {
	terms := make([]datalog.Term, len(p.Terms))
	for i, t := range p.Terms {
		converted, err := c.term(t, vars)
		if err != nil {
			return datalog.Predicate{}, err
		}
		terms[i] = converted
	}
	return datalog.Predicate{Name: c.Symbols.Intern(p.Name), Terms: terms}, nil
}

func (c *Compiler) term(t Term, vars *varScope) (datalog.Term, error) {
	switch v := t.(type) {
	case String:
		return datalog.Str(c.Symbols.Intern(string(v))), nil
	case Integer:
		return datalog.Integer(v), nil
	case Date:
		return datalog.Date(v), nil
	case Bytes:
		return datalog.Bytes(v), nil
	case Bool:
		return datalog.Bool(v), nil
	case Null:
		return datalog.Null{}, nil
	case Variable:
		if vars == nil {
			return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
				fmt.Sprintf("variable $%s is not allowed here", string(v)))
		}
		return vars.id(v), nil
	case Parameter:
		bound, ok := c.Params[string(v)]
		if !ok {
			return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
				fmt.Sprintf("unbound parameter {%s}", string(v)))
		}
		if _, nested := bound.(Parameter); nested {
			return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
				fmt.Sprintf("parameter {%s} is bound to another parameter", string(v)))
		}
		return c.term(bound, vars)
	case Set:
		elems, err := c.terms(v, vars)
		if err != nil {
			return nil, err
		}
		set, err := datalog.NewSet(elems...)
		if err != nil {
			return nil, bisckerr.Wrap(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, err)
		}
		return set, nil
	case Array:
		elems, err := c.terms(v, vars)
		if err != nil {
			return nil, err
		}
		return datalog.Array(elems), nil
	case Map:
		m := datalog.NewMap()
		for _, entry := range v {
			kt, err := c.term(entry.Key, vars)
			if err != nil {
				return nil, err
			}
			key, ok := kt.(datalog.MapKey)
			if !ok {
				return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "map keys must be strings or integers")
			}
			vt, err := c.term(entry.Value, vars)
			if err != nil {
				return nil, err
			}
			m = m.Insert(key, vt)
		}
		return m, nil
	default:
		return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "unknown term kind")
	}
}

func (c *Compiler) terms(in []Term, vars *varScope) ([]datalog.Term, error) {
	out := make([]datalog.Term, len(in))
	for i, t := range in {
		converted, err := c.term(t, vars)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

func (c *Compiler) ops(expr Expression, vars *varScope) ([]datalog.Op, error) {
	out := make([]datalog.Op, len(expr))
	for i, op := range expr {
		switch o := op.(type) {
		case Value:
			t, err := c.term(o.Term, vars)
			if err != nil {
				return nil, err
			}
			out[i] = datalog.OpValue{Term: t}
		case Unary:
			rec := datalog.OpUnary{Op: o.Op}
			if o.Op == datalog.OpUnaryFfi {
				rec.Name = c.Symbols.Intern(o.Name)
			}
			out[i] = rec
		case Binary:
			rec := datalog.OpBinary{Op: o.Op}
			if o.Op == datalog.OpBinaryFfi {
				rec.Name = c.Symbols.Intern(o.Name)
			}
			out[i] = rec
		case Closure:
			params := make([]datalog.Variable, len(o.Params))
			for j, p := range o.Params {
				params[j] = vars.id(p)
			}
			body, err := c.ops(Expression(o.Body), vars)
			if err != nil {
				return nil, err
			}
			out[i] = datalog.OpClosure{Params: params, Body: body}
		default:
			return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "unknown op kind")
		}
	}
	return out, nil
}

// validateRuleSafety enforces rule safety: every variable in the head or in
// an expression must appear in the body, and a head variable implies a
// non-empty body.
func validateRuleSafety(r datalog.Rule) error {
	bodyVars := make(map[datalog.Variable]bool)
	for _, p := range r.Body {
		for _, t := range p.Terms {
			collectVars(t, bodyVars)
		}
	}
	headVars := make(map[datalog.Variable]bool)
	for _, t := range r.Head.Terms {
		collectVars(t, headVars)
	}
	if len(headVars) > 0 && len(r.Body) == 0 {
		return bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule, "rule with head variables must have a body")
	}
	for v := range headVars {
		if !bodyVars[v] {
			return bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
				fmt.Sprintf("head variable $%d is not bound by the body", uint32(v)))
		}
	}
	for _, e := range r.Expressions {
		if err := validateExprVars(e.Ops, bodyVars, nil); err != nil {
			return err
		}
	}
	return nil
}

// validateExprVars walks an op stream; closureParams tracks variables
// introduced by enclosing closures, which are legitimately not body
// variables.
func validateExprVars(ops []datalog.Op, bodyVars map[datalog.Variable]bool, closureParams map[datalog.Variable]bool) error {
	for _, op := range ops {
		switch o := op.(type) {
		case datalog.OpValue:
			if v, ok := o.Term.(datalog.Variable); ok {
				if !bodyVars[v] && !closureParams[v] {
					return bisckerr.New(bisckerr.KindLogic, bisckerr.CodeInvalidBlockRule,
						fmt.Sprintf("expression variable $%d is not bound by the body", uint32(v)))
				}
			}
		case datalog.OpClosure:
			inner := make(map[datalog.Variable]bool, len(closureParams)+len(o.Params))
			for v := range closureParams {
				inner[v] = true
			}
			for _, p := range o.Params {
				inner[p] = true
			}
			if err := validateExprVars(o.Body, bodyVars, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectVars(t datalog.Term, into map[datalog.Variable]bool) {
	if v, ok := t.(datalog.Variable); ok {
		into[v] = true
	}
}
