// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"math"
	"regexp"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
)

// Symbols is the subset of format.SymbolTable the VM needs: resolving
// a Symbol to its string, and interning new strings created during
// evaluation (string concatenation, TypeOf). Kept as an interface here
// to avoid datalog importing format, which decodes datalog values.
type Symbols interface {
	SymbolPrinter
	Resolve(Symbol) (string, bool)
	Intern(string) Symbol
}

// ExternFunc is a registered FFI callable. hasRight is false for the
// unary-FFI call form.
type ExternFunc func(left Term, right Term, hasRight bool) (Term, error)

// FFIRegistry maps an extern name to its callable.
type FFIRegistry map[string]ExternFunc

// Env binds Variables to concrete Terms for one rule-body match.
type Env map[Variable]Term

// Evaluate runs ops on a fresh pooled stack and returns the single
// resulting Term, or an error (stack protocol: a
// well-formed expression leaves exactly one Term on the stack).
func Evaluate(ops []Op, env Env, symbols Symbols, ffi FFIRegistry) (Term, error) {
	s := newstack()
	defer returnStack(s)

	if err := run(ops, env, symbols, ffi, s); err != nil {
		return nil, err
	}
	if s.len() != 1 {
		return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "expression did not leave exactly one value")
	}
	top, _ := s.pop()
	if top.isClosure() {
		return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "expression left a closure, not a value")
	}
	return top.term, nil
}

func run(ops []Op, env Env, symbols Symbols, ffi FFIRegistry, s *stack) error {
	for _, op := range ops {
		switch o := op.(type) {
		case OpValue:
			t, err := resolveValue(o.Term, env)
			if err != nil {
				return err
			}
			s.pushTerm(t)
		case OpClosure:
			s.pushClosure(&closureValue{params: o.Params, body: o.Body})
		case OpUnary:
			v, ok := s.pop()
			if !ok || v.isClosure() {
				return bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "unary op needs one value")
			}
			res, err := evalUnary(o, v.term, symbols, ffi)
			if err != nil {
				return err
			}
			s.pushTerm(res)
		case OpBinary:
			right, ok := s.pop()
			if !ok {
				return bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "binary op needs two values")
			}
			left, ok := s.pop()
			if !ok || left.isClosure() {
				return bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "binary op needs two values")
			}
			if o.Op.isClosureTaking() {
				if !right.isClosure() {
					return bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "expected closure operand")
				}
				res, err := evalClosureBinary(o.Op, left.term, right.closure, env, symbols, ffi)
				if err != nil {
					return err
				}
				s.pushTerm(res)
			} else {
				if right.isClosure() {
					return bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "unexpected closure operand")
				}
				var res Term
				var err error
				if o.Op == OpBinaryFfi {
					var fn ExternFunc
					fn, _, err = resolveFFI(o.Name, symbols, ffi)
					if err == nil {
						var cerr error
						res, cerr = fn(left.term, right.term, true)
						if cerr != nil {
							err = bisckerr.New(bisckerr.KindExecution, bisckerr.CodeExternEvalError, cerr.Error())
						}
					}
				} else {
					res, err = evalBinary(o.Op, left.term, right.term, symbols, ffi)
				}
				if err != nil {
					return err
				}
				s.pushTerm(res)
			}
		}
	}
	return nil
}

func resolveValue(t Term, env Env) (Term, error) {
	v, ok := t.(Variable)
	if !ok {
		return t, nil
	}
	bound, ok := env[v]
	if !ok {
		return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeUnknownVariable, "unbound variable").WithPayload(v)
	}
	return bound, nil
}

func invalidType() error {
	return bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidType, "operand has the wrong type")
}

func evalUnary(op OpUnary, v Term, symbols Symbols, ffi FFIRegistry) (Term, error) {
	switch op.Op {
	case OpNegate:
		b, ok := v.(Bool)
		if !ok {
			return nil, invalidType()
		}
		return Bool(!b), nil
	case OpParens:
		return v, nil
	case OpLength:
		switch tv := v.(type) {
		case Str:
			str, ok := symbols.Resolve(Symbol(tv))
			if !ok {
				return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeUnknownSymbol, "unknown symbol")
			}
			return Integer(len(str)), nil
		case Bytes:
			return Integer(len(tv)), nil
		case Set:
			return Integer(len(tv)), nil
		case Array:
			return Integer(len(tv)), nil
		case Map:
			return Integer(tv.Len()), nil
		default:
			return nil, invalidType()
		}
	case OpTypeOf:
		name, err := typeName(v)
		if err != nil {
			return nil, err
		}
		return Str(symbols.Intern(name)), nil
	case OpUnaryFfi:
		fn, name, err := resolveFFI(op.Name, symbols, ffi)
		if err != nil {
			return nil, err
		}
		res, cerr := fn(v, nil, false)
		if cerr != nil {
			return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeExternEvalError, cerr.Error()).WithPayload(name)
		}
		return res, nil
	default:
		return nil, invalidType()
	}
}

func typeName(t Term) (string, error) {
	switch t.(type) {
	case Variable:
		return "", invalidType()
	case Integer:
		return "integer", nil
	case Str:
		return "string", nil
	case Date:
		return "date", nil
	case Bytes:
		return "bytes", nil
	case Bool:
		return "bool", nil
	case Null:
		return "null", nil
	case Set:
		return "set", nil
	case Array:
		return "array", nil
	case Map:
		return "map", nil
	default:
		return "", invalidType()
	}
}

func resolveFFI(name Symbol, symbols Symbols, ffi FFIRegistry) (ExternFunc, string, error) {
	str, ok := symbols.Resolve(name)
	if !ok {
		return nil, "", bisckerr.New(bisckerr.KindExecution, bisckerr.CodeUnknownSymbol, "unknown extern name symbol")
	}
	fn, ok := ffi[str]
	if !ok {
		return nil, str, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeUndefinedExtern, "no such extern registered").WithPayload(str)
	}
	return fn, str, nil
}

func evalBinary(op BinaryOp, left, right Term, symbols Symbols, ffi FFIRegistry) (Term, error) {
	switch op {
	case OpLessThan, OpGreaterThan, OpLessOrEqual, OpGreaterOrEqual:
		return evalOrdering(op, left, right)
	case OpEqual:
		eq, sameKind := Equal(left, right)
		if !sameKind {
			return nil, invalidType()
		}
		return Bool(eq), nil
	case OpNotEqual:
		eq, sameKind := Equal(left, right)
		if !sameKind {
			return nil, invalidType()
		}
		return Bool(!eq), nil
	case OpHeterogeneousEqual:
		return Bool(HeterogeneousEqual(left, right)), nil
	case OpHeterogeneousNotEqual:
		return Bool(!HeterogeneousEqual(left, right)), nil
	case OpContains:
		return evalContains(left, right, symbols)
	case OpPrefix:
		return evalAffix(left, right, symbols, true)
	case OpSuffix:
		return evalAffix(left, right, symbols, false)
	case OpRegex:
		return evalRegex(left, right, symbols)
	case OpAdd:
		return evalAdd(left, right, symbols)
	case OpSub, OpMul, OpDiv:
		return evalArith(op, left, right)
	case OpAnd:
		lb, lok := left.(Bool)
		rb, rok := right.(Bool)
		if !lok || !rok {
			return nil, invalidType()
		}
		return Bool(lb && rb), nil
	case OpOr:
		lb, lok := left.(Bool)
		rb, rok := right.(Bool)
		if !lok || !rok {
			return nil, invalidType()
		}
		return Bool(lb || rb), nil
	case OpIntersection:
		return evalSetOp(left, right, true)
	case OpUnion:
		return evalSetOp(left, right, false)
	case OpBitwiseAnd, OpBitwiseOr, OpBitwiseXor:
		return evalBitwise(op, left, right)
	case OpGet:
		return evalGet(left, right)
	default:
		return nil, invalidType()
	}
}

// OpBinaryFfi is dispatched directly in run(), since it needs the
// opcode's Name field to resolve the extern; it never reaches here.

func evalClosureBinary(op BinaryOp, left Term, closure *closureValue, env Env, symbols Symbols, ffi FFIRegistry) (Term, error) {
	switch op {
	case OpTryOr:
		fallback := left
		v, err := evalClosure(closure, nil, env, symbols, ffi)
		if err != nil {
			return fallback, nil
		}
		return v, nil
	case OpLazyOr:
		b, ok := left.(Bool)
		if !ok {
			return nil, invalidType()
		}
		if b {
			return Bool(true), nil
		}
		v, err := evalClosure(closure, nil, env, symbols, ffi)
		if err != nil {
			return nil, err
		}
		vb, ok := v.(Bool)
		if !ok {
			return nil, invalidType()
		}
		return vb, nil
	case OpLazyAnd:
		b, ok := left.(Bool)
		if !ok {
			return nil, invalidType()
		}
		if !b {
			return Bool(false), nil
		}
		v, err := evalClosure(closure, nil, env, symbols, ffi)
		if err != nil {
			return nil, err
		}
		vb, ok := v.(Bool)
		if !ok {
			return nil, invalidType()
		}
		return vb, nil
	case OpAll:
		elems, err := iterableElements(left)
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			v, err := evalClosure(closure, e, env, symbols, ffi)
			if err != nil {
				return nil, err
			}
			b, ok := v.(Bool)
			if !ok {
				return nil, invalidType()
			}
			if !bool(b) {
				return Bool(false), nil
			}
		}
		return Bool(true), nil
	case OpAny:
		elems, err := iterableElements(left)
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			v, err := evalClosure(closure, e, env, symbols, ffi)
			if err != nil {
				return nil, err
			}
			b, ok := v.(Bool)
			if !ok {
				return nil, invalidType()
			}
			if bool(b) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	default:
		return nil, invalidType()
	}
}

// iterableElements turns Set/Array/Map into the element sequence All/Any
// iterate, binding Map entries as a 2-element [key, value] Array.
func iterableElements(t Term) ([]Term, error) {
	switch v := t.(type) {
	case Set:
		return []Term(v), nil
	case Array:
		return []Term(v), nil
	case Map:
		out := make([]Term, 0, v.Len())
		v.Each(func(k MapKey, val Term) {
			out = append(out, Array{k, val})
		})
		return out, nil
	default:
		return nil, invalidType()
	}
}

// evalClosure binds closure.params[0] (if any) to elem and evaluates
// the body, enforcing the ShadowedVariable static check before binding.
func evalClosure(closure *closureValue, elem Term, env Env, symbols Symbols, ffi FFIRegistry) (Term, error) {
	inner := make(Env, len(env)+1)
	for k, v := range env {
		inner[k] = v
	}
	if len(closure.params) > 0 {
		p := closure.params[0]
		if _, shadowed := env[p]; shadowed {
			return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeShadowedVariable, "closure parameter shadows an outer variable").WithPayload(p)
		}
		inner[p] = elem
	}
	s := newstack()
	defer returnStack(s)
	if err := run(closure.body, inner, symbols, ffi, s); err != nil {
		return nil, err
	}
	if s.len() != 1 {
		return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "closure body did not leave exactly one value")
	}
	top, _ := s.pop()
	if top.isClosure() {
		return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeInvalidStack, "closure body left a closure")
	}
	return top.term, nil
}

func evalOrdering(op BinaryOp, left, right Term) (Term, error) {
	cmp := func(a, b int64) bool {
		switch op {
		case OpLessThan:
			return a < b
		case OpGreaterThan:
			return a > b
		case OpLessOrEqual:
			return a <= b
		default:
			return a >= b
		}
	}
	switch lv := left.(type) {
	case Integer:
		rv, ok := right.(Integer)
		if !ok {
			return nil, invalidType()
		}
		return Bool(cmp(int64(lv), int64(rv))), nil
	case Date:
		rv, ok := right.(Date)
		if !ok {
			return nil, invalidType()
		}
		return Bool(cmp(int64(lv), int64(rv))), nil
	default:
		return nil, invalidType()
	}
}

func evalContains(left, right Term, symbols Symbols) (Term, error) {
	switch lv := left.(type) {
	case Str:
		rv, ok := right.(Str)
		if !ok {
			return nil, invalidType()
		}
		ls, _ := symbols.Resolve(Symbol(lv))
		rs, _ := symbols.Resolve(Symbol(rv))
		return Bool(containsString(ls, rs)), nil
	case Set:
		return Bool(setContains(lv, right)), nil
	case Array:
		for _, e := range lv {
			if HeterogeneousEqual(e, right) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case Map:
		key, ok := right.(MapKey)
		if !ok {
			return nil, invalidType()
		}
		_, found := lv.Get(key)
		return Bool(found), nil
	default:
		return nil, invalidType()
	}
}

func containsString(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

func setContains(s Set, elem Term) bool {
	for _, e := range s {
		if HeterogeneousEqual(e, elem) {
			return true
		}
	}
	return false
}

func evalAffix(left, right Term, symbols Symbols, prefix bool) (Term, error) {
	switch lv := left.(type) {
	case Str:
		rv, ok := right.(Str)
		if !ok {
			return nil, invalidType()
		}
		ls, _ := symbols.Resolve(Symbol(lv))
		rs, _ := symbols.Resolve(Symbol(rv))
		if prefix {
			return Bool(len(rs) <= len(ls) && ls[:len(rs)] == rs), nil
		}
		return Bool(len(rs) <= len(ls) && ls[len(ls)-len(rs):] == rs), nil
	default:
		return nil, invalidType()
	}
}

func evalRegex(left, right Term, symbols Symbols) (Term, error) {
	lv, ok := left.(Str)
	if !ok {
		return nil, invalidType()
	}
	rv, ok := right.(Str)
	if !ok {
		return nil, invalidType()
	}
	subject, _ := symbols.Resolve(Symbol(lv))
	pattern, _ := symbols.Resolve(Symbol(rv))
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, bisckerr.Wrap(bisckerr.KindExecution, bisckerr.CodeInvalidType, err)
	}
	return Bool(re.MatchString(subject)), nil
}

func evalAdd(left, right Term, symbols Symbols) (Term, error) {
	switch lv := left.(type) {
	case Integer:
		rv, ok := right.(Integer)
		if !ok {
			return nil, invalidType()
		}
		return checkedAdd(int64(lv), int64(rv))
	case Str:
		rv, ok := right.(Str)
		if !ok {
			return nil, invalidType()
		}
		ls, _ := symbols.Resolve(Symbol(lv))
		rs, _ := symbols.Resolve(Symbol(rv))
		return Str(symbols.Intern(ls + rs)), nil
	default:
		return nil, invalidType()
	}
}

func checkedAdd(a, b int64) (Term, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeOverflow, "integer addition overflow")
	}
	return Integer(sum), nil
}

func evalArith(op BinaryOp, left, right Term) (Term, error) {
	lv, ok := left.(Integer)
	if !ok {
		return nil, invalidType()
	}
	rv, ok := right.(Integer)
	if !ok {
		return nil, invalidType()
	}
	a, b := int64(lv), int64(rv)
	switch op {
	case OpSub:
		diff := a - b
		if (b < 0 && diff < a) || (b > 0 && diff > a) {
			return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeOverflow, "integer subtraction overflow")
		}
		return Integer(diff), nil
	case OpMul:
		if a == 0 || b == 0 {
			return Integer(0), nil
		}
		prod := a * b
		if prod/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeOverflow, "integer multiplication overflow")
		}
		return Integer(prod), nil
	case OpDiv:
		if b == 0 {
			return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeDivideByZero, "integer division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return nil, bisckerr.New(bisckerr.KindExecution, bisckerr.CodeOverflow, "integer division overflow")
		}
		return Integer(a / b), nil
	default:
		return nil, invalidType()
	}
}

func evalSetOp(left, right Term, intersect bool) (Term, error) {
	lv, ok := left.(Set)
	if !ok {
		return nil, invalidType()
	}
	rv, ok := right.(Set)
	if !ok {
		return nil, invalidType()
	}
	if intersect {
		var out []Term
		for _, e := range lv {
			if setContains(rv, e) {
				out = append(out, e)
			}
		}
		s, err := NewSet(out...)
		return s, err
	}
	out := append([]Term(nil), []Term(lv)...)
	out = append(out, []Term(rv)...)
	s, err := NewSet(out...)
	return s, err
}

func evalBitwise(op BinaryOp, left, right Term) (Term, error) {
	lv, ok := left.(Integer)
	if !ok {
		return nil, invalidType()
	}
	rv, ok := right.(Integer)
	if !ok {
		return nil, invalidType()
	}
	switch op {
	case OpBitwiseAnd:
		return Integer(int64(lv) & int64(rv)), nil
	case OpBitwiseOr:
		return Integer(int64(lv) | int64(rv)), nil
	default:
		return Integer(int64(lv) ^ int64(rv)), nil
	}
}

func evalGet(left, right Term) (Term, error) {
	switch lv := left.(type) {
	case Array:
		idx, ok := right.(Integer)
		if !ok {
			return nil, invalidType()
		}
		if idx < 0 || int(idx) >= len(lv) {
			return Null{}, nil
		}
		return lv[idx], nil
	case Map:
		key, ok := right.(MapKey)
		if !ok {
			return nil, invalidType()
		}
		v, found := lv.Get(key)
		if !found {
			return Null{}, nil
		}
		return v, nil
	default:
		return nil, invalidType()
	}
}
