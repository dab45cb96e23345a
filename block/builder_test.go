// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package block

import (
	"testing"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTables() (*format.ForkedSymbolTable, *format.ForkedPublicKeyTable) {
	return format.DefaultSymbolTable().Fork(), format.NewPublicKeyTable().Fork()
}

func TestBuilderBuildsFactsAndInternsSymbols(t *testing.T) {
	symbols, keys := buildTables()

	blk, err := NewBuilder().
		Fact(Fact{Predicate{Name: "right", Terms: []Term{String("/a/file1.txt"), String("read")}}}).
		Context("test block").
		Build(symbols, keys)
	require.NoError(t, err)

	require.Len(t, blk.Facts, 1)
	assert.Equal(t, "test block", blk.Context)
	// "right" and "read" are default symbols; only the path is new
	assert.Equal(t, []string{"/a/file1.txt"}, blk.Symbols)
	assert.Equal(t, format.MinSchemaVersion, blk.Version)

	name, ok := symbols.Resolve(blk.Facts[0].Name)
	require.True(t, ok)
	assert.Equal(t, "right", name)
}

func TestBuilderSubstitutesParameters(t *testing.T) {
	symbols, keys := buildTables()

	blk, err := NewBuilder().
		Fact(Fact{Predicate{Name: "resource", Terms: []Term{Parameter("res")}}}).
		Set("res", String("/tmp/x")).
		Build(symbols, keys)
	require.NoError(t, err)
	require.Len(t, blk.Facts, 1)

	str, ok := blk.Facts[0].Terms[0].(datalog.Str)
	require.True(t, ok)
	s, _ := symbols.Resolve(datalog.Symbol(str))
	assert.Equal(t, "/tmp/x", s)
}

func TestBuilderRejectsUnboundParameter(t *testing.T) {
	symbols, keys := buildTables()

	_, err := NewBuilder().
		Fact(Fact{Predicate{Name: "resource", Terms: []Term{Parameter("res")}}}).
		Build(symbols, keys)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidBlockRule))
}

func TestBuilderRejectsVariableInFact(t *testing.T) {
	symbols, keys := buildTables()

	_, err := NewBuilder().
		Fact(Fact{Predicate{Name: "resource", Terms: []Term{Variable("x")}}}).
		Build(symbols, keys)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidBlockRule))
}

func TestBuilderRejectsUnsafeRule(t *testing.T) {
	symbols, keys := buildTables()

	// head variable $y never appears in the body
	_, err := NewBuilder().
		Rule(Rule{
			Head: Predicate{Name: "out", Terms: []Term{Variable("y")}},
			Body: []Predicate{{Name: "in", Terms: []Term{Variable("x")}}},
		}).
		Build(symbols, keys)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidBlockRule))
}

func TestBuilderAllowsClosureParamsInExpressions(t *testing.T) {
	symbols, keys := buildTables()

	blk, err := NewBuilder().
		Check(Check{
			Kind: datalog.CheckKindOne,
			Queries: []Rule{{
				Body: []Predicate{{Name: "values", Terms: []Term{Variable("xs")}}},
				Expressions: []Expression{{
					Value{Term: Variable("xs")},
					Closure{Params: []Variable{"p"}, Body: []Op{
						Value{Term: Variable("p")},
						Value{Term: Integer(0)},
						Binary{Op: datalog.OpGreaterThan},
					}},
					Binary{Op: datalog.OpAll},
				}},
			}},
		}).
		Build(symbols, keys)
	require.NoError(t, err)
	require.Len(t, blk.Checks, 1)
	assert.Equal(t, format.DatalogV3_3, blk.Version)
}

func TestBuilderScopesInternPublicKeys(t *testing.T) {
	symbols, keys := buildTables()

	kp, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)

	blk, err := NewBuilder().
		Rule(Rule{
			Head:   Predicate{Name: "trusted", Terms: []Term{Variable("f")}},
			Body:   []Predicate{{Name: "external_fact", Terms: []Term{Variable("f")}}},
			Scopes: []Scope{PublicKeyScope(kp.Public())},
		}).
		Build(symbols, keys)
	require.NoError(t, err)

	require.Len(t, blk.Rules, 1)
	require.Len(t, blk.Rules[0].Scope, 1)
	assert.Equal(t, datalog.ScopePublicKey, blk.Rules[0].Scope[0].Kind)
	require.Len(t, blk.PublicKeys, 1)
	assert.True(t, blk.PublicKeys[0].Equal(kp.Public()))
	assert.Equal(t, format.DatalogV3_1, blk.Version)
}

func TestBuilderPublicKeyParameter(t *testing.T) {
	symbols, keys := buildTables()

	kp, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)

	blk, err := NewBuilder().
		Scope(Scope{Kind: datalog.ScopePublicKey, KeyParam: "issuer"}).
		SetPublicKey("issuer", kp.Public()).
		Build(symbols, keys)
	require.NoError(t, err)
	require.Len(t, blk.Scopes, 1)
	require.Len(t, blk.PublicKeys, 1)
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	symbols, keys := buildTables()

	kp, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)

	blk, err := NewBuilder().
		Fact(Fact{Predicate{Name: "right", Terms: []Term{String("/a"), String("read")}}}).
		Rule(Rule{
			Head:   Predicate{Name: "allowed", Terms: []Term{Variable("r")}},
			Body:   []Predicate{{Name: "right", Terms: []Term{Variable("r"), String("read")}}},
			Scopes: []Scope{PublicKeyScope(kp.Public())},
		}).
		Check(Check{
			Kind:    datalog.CheckKindOne,
			Queries: []Rule{{Body: []Predicate{{Name: "operation", Terms: []Term{String("read")}}}}},
		}).
		Context("round trip").
		Build(symbols, keys)
	require.NoError(t, err)

	payload, err := blk.Encode()
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, blk.Symbols, decoded.Symbols)
	assert.Equal(t, blk.Context, decoded.Context)
	assert.Equal(t, blk.Version, decoded.Version)
	require.Len(t, decoded.Facts, 1)
	require.Len(t, decoded.Rules, 1)
	require.Len(t, decoded.Checks, 1)
	require.Len(t, decoded.PublicKeys, 1)
	assert.True(t, decoded.PublicKeys[0].Equal(kp.Public()))
	assert.Nil(t, decoded.ExternalKey)
}

func TestBlockDecodeRejectsUnderdeclaredVersion(t *testing.T) {
	symbols, keys := buildTables()

	blk, err := NewBuilder().
		Check(Check{
			Kind:    datalog.CheckKindReject,
			Queries: []Rule{{Body: []Predicate{{Name: "operation", Terms: []Term{String("write")}}}}},
		}).
		Build(symbols, keys)
	require.NoError(t, err)
	require.Equal(t, format.DatalogV3_3, blk.Version)

	// lie about the version: reject-if needs 3.3
	blk.Version = format.MinSchemaVersion
	payload, err := blk.Encode()
	require.NoError(t, err)

	_, err = Decode(payload)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeVersion))
}

func TestBlockDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestBlockDecodeRejectsUnsafeRule(t *testing.T) {
	// the builder refuses unsafe rules, so forge the frozen block by
	// hand: a head variable with an empty body would leave the engine
	// with an unbindable variable
	blk := &Block{
		Version: format.MinSchemaVersion,
		Rules: []datalog.Rule{{
			Head: datalog.Predicate{Name: 0, Terms: []datalog.Term{datalog.Variable(0)}},
		}},
	}
	payload, err := blk.Encode()
	require.NoError(t, err)

	_, err = Decode(payload)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidBlockRule))
}

func TestBlockDecodeRejectsUnsafeCheckQuery(t *testing.T) {
	// an expression variable the body never binds
	blk := &Block{
		Version: format.MinSchemaVersion,
		Checks: []datalog.Check{{
			Kind: datalog.CheckKindOne,
			Queries: []datalog.Rule{{
				Head: datalog.Predicate{Name: 27},
				Body: []datalog.Predicate{{Name: 0, Terms: []datalog.Term{datalog.Variable(0)}}},
				Expressions: []datalog.Expression{{Ops: []datalog.Op{
					datalog.OpValue{Term: datalog.Variable(1)},
				}}},
			}},
		}},
	}
	payload, err := blk.Encode()
	require.NoError(t, err)

	_, err = Decode(payload)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidBlockRule))
}

func TestBlockDecodeRejectsPreviousScopeInThirdPartyBlock(t *testing.T) {
	kp, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)
	pub := kp.Public()

	blk := &Block{
		Version:     format.DatalogV3_2,
		Scopes:      []datalog.Scope{datalog.Previous},
		ExternalKey: &pub,
	}
	payload, err := blk.Encode()
	require.NoError(t, err)

	_, err = Decode(payload)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidBlockRule))
}
