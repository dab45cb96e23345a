// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"testing"

	"github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
)

// TestExpressionEvaluationIsDeterministic generates random small
// arithmetic expressions and checks that evaluating the same op
// stream twice always yields the same result: the VM has no hidden
// state that leaks between runs.
func TestExpressionEvaluationIsDeterministic(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 6)
	sym := newTestSymbols()

	for i := 0; i < 200; i++ {
		var a, b int8
		f.Fuzz(&a)
		f.Fuzz(&b)
		var opPick uint8
		f.Fuzz(&opPick)

		ops := randomArithOps(int64(a), int64(b), opPick)

		v1, err1 := Evaluate(ops, nil, sym, FFIRegistry{})
		v2, err2 := Evaluate(ops, nil, sym, FFIRegistry{})

		if err1 != nil || err2 != nil {
			assert.Equal(t, err1 != nil, err2 != nil, "error-ness must be deterministic")
			continue
		}
		assert.Equal(t, v1, v2, "same ops+env must evaluate to the same term")
	}
}

func randomArithOps(a, b int64, opPick uint8) []Op {
	ops := []BinaryOp{OpAdd, OpSub, OpMul, OpLessThan, OpGreaterThan, OpEqual}
	return []Op{
		OpValue{Term: Integer(a)},
		OpValue{Term: Integer(b)},
		OpBinary{Op: ops[int(opPick)%len(ops)]},
	}
}
