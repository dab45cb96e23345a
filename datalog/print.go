// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"fmt"
	"strings"
)

// This file renders rules and checks back into Datalog source text.
// The output is for humans reading a verdict, not for re-parsing; an
// op stream the printer cannot fold back into an infix expression is
// shown in postfix with a leading '?'.

// String renders r as "head <- body, expressions [trusting scopes]".
func (r Rule) String(sp SymbolPrinter) string {
	var b strings.Builder
	b.WriteString(r.Head.String(sp))
	b.WriteString(" <- ")
	b.WriteString(r.bodyString(sp))
	return b.String()
}

func (r Rule) bodyString(sp SymbolPrinter) string {
	parts := make([]string, 0, len(r.Body)+len(r.Expressions))
	for _, p := range r.Body {
		parts = append(parts, p.String(sp))
	}
	for _, e := range r.Expressions {
		parts = append(parts, printExpression(e.Ops, sp))
	}
	out := strings.Join(parts, ", ")
	if len(r.Scope) > 0 {
		scopes := make([]string, len(r.Scope))
		for i, s := range r.Scope {
			scopes[i] = s.String()
		}
		out += " trusting " + strings.Join(scopes, ", ")
	}
	return out
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAuthority:
		return "authority"
	case ScopePrevious:
		return "previous"
	default:
		return fmt.Sprintf("{pubkey %d}", s.PublicKeyIndex)
	}
}

// String renders c as "check if ..." / "check all ..." / "reject if ...",
// one clause per query, joined by " or ".
func (c Check) String(sp SymbolPrinter) string {
	var prefix string
	switch c.Kind {
	case CheckKindAll:
		prefix = "check all"
	case CheckKindReject:
		prefix = "reject if"
	default:
		prefix = "check if"
	}
	clauses := make([]string, len(c.Queries))
	for i, q := range c.Queries {
		clauses[i] = q.bodyString(sp)
	}
	return prefix + " " + strings.Join(clauses, " or ")
}

// String renders p as "allow if ..." / "deny if ...".
func (p Policy) String(sp SymbolPrinter) string {
	prefix := "allow if"
	if p.Kind == PolicyDeny {
		prefix = "deny if"
	}
	clauses := make([]string, len(p.Queries))
	for i, q := range p.Queries {
		clauses[i] = q.bodyString(sp)
	}
	return prefix + " " + strings.Join(clauses, " or ")
}

var binaryOpSymbols = map[BinaryOp]string{
	OpLessThan:              "<",
	OpGreaterThan:           ">",
	OpLessOrEqual:           "<=",
	OpGreaterOrEqual:        ">=",
	OpEqual:                 "===",
	OpNotEqual:              "!==",
	OpHeterogeneousEqual:    "==",
	OpHeterogeneousNotEqual: "!=",
	OpAdd:                   "+",
	OpSub:                   "-",
	OpMul:                   "*",
	OpDiv:                   "/",
	OpAnd:                   "&&",
	OpOr:                    "||",
	OpBitwiseAnd:            "&",
	OpBitwiseOr:             "|",
	OpBitwiseXor:            "^",
}

var binaryOpMethods = map[BinaryOp]string{
	OpContains:     "contains",
	OpPrefix:       "starts_with",
	OpSuffix:       "ends_with",
	OpRegex:        "matches",
	OpIntersection: "intersection",
	OpUnion:        "union",
	OpGet:          "get",
	OpAll:          "all",
	OpAny:          "any",
	OpTryOr:        "try_or",
	OpLazyAnd:      "and",
	OpLazyOr:       "or",
}

// printExpression folds a postfix op stream back into infix source by
// running it on a string stack. A malformed stream falls back to raw
// postfix so the verdict still shows something.
func printExpression(ops []Op, sp SymbolPrinter) string {
	var stack []string
	pop := func() (string, bool) {
		if len(stack) == 0 {
			return "", false
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, true
	}
	for _, op := range ops {
		switch o := op.(type) {
		case OpValue:
			stack = append(stack, o.Term.String(sp))
		case OpClosure:
			params := make([]string, len(o.Params))
			for i, p := range o.Params {
				params[i] = Variable(p).String(sp)
			}
			stack = append(stack, strings.Join(params, ", ")+" -> "+printExpression(o.Body, sp))
		case OpUnary:
			v, ok := pop()
			if !ok {
				return postfixFallback(ops)
			}
			switch o.Op {
			case OpNegate:
				stack = append(stack, "!"+v)
			case OpParens:
				stack = append(stack, "("+v+")")
			case OpLength:
				stack = append(stack, v+".length()")
			case OpTypeOf:
				stack = append(stack, v+".type()")
			case OpUnaryFfi:
				stack = append(stack, fmt.Sprintf("%s.extern::%s()", v, sp.PrintSymbol(o.Name)))
			}
		case OpBinary:
			right, ok1 := pop()
			left, ok2 := pop()
			if !ok1 || !ok2 {
				return postfixFallback(ops)
			}
			if sym, ok := binaryOpSymbols[o.Op]; ok {
				stack = append(stack, left+" "+sym+" "+right)
			} else if method, ok := binaryOpMethods[o.Op]; ok {
				stack = append(stack, fmt.Sprintf("%s.%s(%s)", left, method, right))
			} else if o.Op == OpBinaryFfi {
				stack = append(stack, fmt.Sprintf("%s.extern::%s(%s)", left, sp.PrintSymbol(o.Name), right))
			} else {
				return postfixFallback(ops)
			}
		}
	}
	if len(stack) != 1 {
		return postfixFallback(ops)
	}
	return stack[0]
}

func postfixFallback(ops []Op) string {
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case OpValue:
			parts = append(parts, "value")
		case OpUnary:
			parts = append(parts, o.Op.String())
		case OpBinary:
			parts = append(parts, o.Op.String())
		case OpClosure:
			parts = append(parts, "CLOSURE")
		}
	}
	return "?[" + strings.Join(parts, " ") + "]"
}
