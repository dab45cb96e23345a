// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package format

import (
	"testing"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripTerm(t *testing.T, term datalog.Term) datalog.Term {
	rec, err := NewTermRecord(term)
	require.NoError(t, err)

	data, err := rlp.EncodeToBytes(rec)
	require.NoError(t, err)

	var decoded TermRecord
	require.NoError(t, rlp.DecodeBytes(data, &decoded))

	out, err := decoded.Term()
	require.NoError(t, err)
	return out
}

func TestTermRecordRoundTrip(t *testing.T) {
	set, err := datalog.NewSet(datalog.Integer(3), datalog.Integer(1))
	require.NoError(t, err)

	terms := []datalog.Term{
		datalog.Variable(7),
		datalog.Integer(-42),
		datalog.Str(12),
		datalog.Date(1716800000),
		datalog.Bytes{0xde, 0xad},
		datalog.Bool(true),
		datalog.Null{},
		set,
		datalog.Array{datalog.Integer(1), datalog.Bool(false)},
		datalog.NewMap().Insert(datalog.Str(3), datalog.Integer(9)),
	}
	for _, term := range terms {
		got := roundTripTerm(t, term)
		assert.True(t, datalog.HeterogeneousEqual(term, got),
			"term %T did not survive the round trip", term)
	}
}

func TestTermRecordRejectsUnknownKind(t *testing.T) {
	_, err := TermRecord{Kind: 200}.Term()
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeDeserializationError))
}

func TestOpRecordRoundTrip(t *testing.T) {
	ops := []datalog.Op{
		datalog.OpValue{Term: datalog.Integer(1)},
		datalog.OpValue{Term: datalog.Variable(0)},
		datalog.OpBinary{Op: datalog.OpAdd},
		datalog.OpUnary{Op: datalog.OpUnaryFfi, Name: 31},
		datalog.OpClosure{
			Params: []datalog.Variable{1},
			Body: []datalog.Op{
				datalog.OpValue{Term: datalog.Variable(1)},
				datalog.OpValue{Term: datalog.Integer(0)},
				datalog.OpBinary{Op: datalog.OpGreaterThan},
			},
		},
	}
	records, err := NewOpRecords(ops)
	require.NoError(t, err)

	data, err := rlp.EncodeToBytes(records)
	require.NoError(t, err)
	var decoded []OpRecord
	require.NoError(t, rlp.DecodeBytes(data, &decoded))

	got, err := Ops(decoded)
	require.NoError(t, err)
	require.Len(t, got, len(ops))

	closure, ok := got[4].(datalog.OpClosure)
	require.True(t, ok)
	assert.Equal(t, []datalog.Variable{1}, closure.Params)
	assert.Len(t, closure.Body, 3)
}

func TestOpRecordRejectsUnknownOpcode(t *testing.T) {
	payload, err := rlp.EncodeToBytes(binaryOpRecord{Op: 250})
	require.NoError(t, err)
	_, err = OpRecord{Kind: opKindBinary, Data: payload}.Op()
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeDeserializationError))
}

func TestRuleRecordRoundTrip(t *testing.T) {
	rule := datalog.Rule{
		Head: datalog.Predicate{Name: 100, Terms: []datalog.Term{datalog.Variable(0)}},
		Body: []datalog.Predicate{
			{Name: 101, Terms: []datalog.Term{datalog.Variable(0), datalog.Str(5)}},
		},
		Expressions: []datalog.Expression{
			{Ops: []datalog.Op{
				datalog.OpValue{Term: datalog.Variable(0)},
				datalog.OpValue{Term: datalog.Integer(10)},
				datalog.OpBinary{Op: datalog.OpLessThan},
			}},
		},
		Scope: []datalog.Scope{datalog.Authority, datalog.PublicKeyScope(2)},
	}

	rec, err := NewRuleRecord(rule)
	require.NoError(t, err)
	data, err := rlp.EncodeToBytes(rec)
	require.NoError(t, err)

	var decoded RuleRecord
	require.NoError(t, rlp.DecodeBytes(data, &decoded))
	got, err := decoded.Rule()
	require.NoError(t, err)

	assert.EqualValues(t, 100, got.Head.Name)
	require.Len(t, got.Body, 1)
	assert.EqualValues(t, 101, got.Body[0].Name)
	require.Len(t, got.Expressions, 1)
	assert.Len(t, got.Expressions[0].Ops, 3)
	require.Len(t, got.Scope, 2)
	assert.Equal(t, datalog.ScopePublicKey, got.Scope[1].Kind)
	assert.EqualValues(t, 2, got.Scope[1].PublicKeyIndex)
}

func TestRequiredBlockVersion(t *testing.T) {
	plainRule := datalog.Rule{
		Head: datalog.Predicate{Name: 1},
		Body: []datalog.Predicate{{Name: 2, Terms: []datalog.Term{datalog.Str(0)}}},
	}

	tests := []struct {
		name     string
		facts    []datalog.Predicate
		rules    []datalog.Rule
		checks   []datalog.Check
		scopes   []datalog.Scope
		external bool
		want     uint32
	}{
		{
			name:  "plain block stays at the minimum",
			rules: []datalog.Rule{plainRule},
			want:  MinSchemaVersion,
		},
		{
			name:   "block scopes need 3.1",
			scopes: []datalog.Scope{datalog.Authority},
			want:   DatalogV3_1,
		},
		{
			name:   "check all needs 3.1",
			checks: []datalog.Check{{Kind: datalog.CheckKindAll, Queries: []datalog.Rule{plainRule}}},
			want:   DatalogV3_1,
		},
		{
			name:     "external key needs 3.2",
			external: true,
			want:     DatalogV3_2,
		},
		{
			name:   "reject if needs 3.3",
			checks: []datalog.Check{{Kind: datalog.CheckKindReject, Queries: []datalog.Rule{plainRule}}},
			want:   DatalogV3_3,
		},
		{
			name:  "null term needs 3.3",
			facts: []datalog.Predicate{{Name: 1, Terms: []datalog.Term{datalog.Null{}}}},
			want:  DatalogV3_3,
		},
		{
			name: "closure needs 3.3",
			rules: []datalog.Rule{{
				Head: datalog.Predicate{Name: 1},
				Body: []datalog.Predicate{{Name: 2, Terms: []datalog.Term{datalog.Variable(0)}}},
				Expressions: []datalog.Expression{{Ops: []datalog.Op{
					datalog.OpValue{Term: datalog.Variable(0)},
					datalog.OpClosure{Params: []datalog.Variable{1}, Body: []datalog.Op{datalog.OpValue{Term: datalog.Bool(true)}}},
					datalog.OpBinary{Op: datalog.OpAll},
				}}},
			}},
			want: DatalogV3_3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequiredBlockVersion(tt.facts, tt.rules, tt.checks, tt.scopes, tt.external)
			assert.Equal(t, tt.want, got)

			err := ValidateBlockVersion(tt.want, tt.facts, tt.rules, tt.checks, tt.scopes, tt.external)
			assert.NoError(t, err)
			if tt.want > MinSchemaVersion {
				err = ValidateBlockVersion(tt.want-1, tt.facts, tt.rules, tt.checks, tt.scopes, tt.external)
				require.Error(t, err)
				assert.True(t, bisckerr.Is(err, bisckerr.CodeVersion))
			}
		})
	}
}

func TestCheckVersionBounds(t *testing.T) {
	assert.NoError(t, CheckVersionBounds(3))
	assert.NoError(t, CheckVersionBounds(6))
	assert.Error(t, CheckVersionBounds(2))
	assert.Error(t, CheckVersionBounds(7))
}
