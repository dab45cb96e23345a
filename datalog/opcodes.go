// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

// UnaryOp is the opcode for a one-operand expression step.
type UnaryOp uint8

const (
	OpNegate UnaryOp = iota
	OpParens
	OpLength
	OpTypeOf
	OpUnaryFfi
)

func (u UnaryOp) String() string {
	switch u {
	case OpNegate:
		return "NEGATE"
	case OpParens:
		return "PARENS"
	case OpLength:
		return "LENGTH"
	case OpTypeOf:
		return "TYPEOF"
	case OpUnaryFfi:
		return "FFI"
	default:
		return "UNKNOWN_UNARY"
	}
}

// BinaryOp is the opcode for a two-operand expression step.
type BinaryOp uint8

const (
	OpLessThan BinaryOp = iota
	OpGreaterThan
	OpLessOrEqual
	OpGreaterOrEqual
	OpEqual
	OpContains
	OpPrefix
	OpSuffix
	OpRegex
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpIntersection
	OpUnion
	OpBitwiseAnd
	OpBitwiseOr
	OpBitwiseXor
	OpNotEqual
	OpHeterogeneousEqual
	OpHeterogeneousNotEqual
	OpLazyAnd
	OpLazyOr
	OpAll
	OpAny
	OpGet
	OpBinaryFfi
	OpTryOr
)

func (b BinaryOp) String() string {
	names := [...]string{
		"LESS_THAN", "GREATER_THAN", "LESS_OR_EQUAL", "GREATER_OR_EQUAL",
		"EQUAL", "CONTAINS", "PREFIX", "SUFFIX", "REGEX", "ADD", "SUB",
		"MUL", "DIV", "AND", "OR", "INTERSECTION", "UNION", "BITWISE_AND",
		"BITWISE_OR", "BITWISE_XOR", "NOT_EQUAL", "HETEROGENEOUS_EQUAL",
		"HETEROGENEOUS_NOT_EQUAL", "LAZY_AND", "LAZY_OR", "ALL", "ANY",
		"GET", "FFI", "TRY_OR",
	}
	if int(b) < len(names) {
		return names[b]
	}
	return "UNKNOWN_BINARY"
}

// isClosureTaking reports whether this binary opcode's right-hand
// operand must be a Closure rather than an evaluated Term.
func (b BinaryOp) isClosureTaking() bool {
	switch b {
	case OpLazyAnd, OpLazyOr, OpTryOr, OpAll, OpAny:
		return true
	default:
		return false
	}
}

// Op is one step of an expression's postfix op stream.
type Op interface {
	isOp()
}

type OpValue struct{ Term Term }

func (OpValue) isOp() {}

type OpUnary struct {
	Op   UnaryOp
	Name Symbol // only meaningful when Op == OpUnaryFfi
}

func (OpUnary) isOp() {}

type OpBinary struct {
	Op   BinaryOp
	Name Symbol // only meaningful when Op == OpBinaryFfi
}

func (OpBinary) isOp() {}

// OpClosure pushes a closure value: a captured-nothing function of its
// Params bound one at a time by All/Any/LazyAnd/LazyOr/TryOr, whose
// Body is itself an op stream; closures capture nothing.
type OpClosure struct {
	Params []Variable
	Body   []Op
}

func (OpClosure) isOp() {}

// Expression is an ordered sequence of Ops evaluated on a stack; a
// well-formed Expression leaves exactly one Term.
type Expression struct {
	Ops []Op
}
