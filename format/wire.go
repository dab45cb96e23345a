// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package format

import (
	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/ethereum/go-ethereum/rlp"
)

// The *Record types are the RLP shapes of the Datalog model. Sum types
// (Term, Op) become a kind tag plus a kind-specific payload, itself
// RLP-encoded, so that rlp's reflection-driven codec never has to see
// a Go interface value. Unknown kind tags are rejected on decode, never
// skipped.

// Term kinds on the wire.
const (
	termKindVariable uint8 = iota
	termKindInteger
	termKindString
	termKindDate
	termKindBytes
	termKindBool
	termKindNull
	termKindSet
	termKindArray
	termKindMap
)

// TermRecord is the wire form of a datalog.Term.
type TermRecord struct {
	Kind uint8
	Data []byte
}

type mapEntryRecord struct {
	Key   TermRecord
	Value TermRecord
}

// NewTermRecord converts a datalog.Term for serialization.
func NewTermRecord(t datalog.Term) (TermRecord, error) {
	switch v := t.(type) {
	case datalog.Variable:
		return termRecord(termKindVariable, uint32(v))
	case datalog.Integer:
		return termRecord(termKindInteger, uint64(v))
	case datalog.Str:
		return termRecord(termKindString, uint64(v))
	case datalog.Date:
		return termRecord(termKindDate, uint64(v))
	case datalog.Bytes:
		return termRecord(termKindBytes, []byte(v))
	case datalog.Bool:
		return termRecord(termKindBool, bool(v))
	case datalog.Null:
		return TermRecord{Kind: termKindNull}, nil
	case datalog.Set:
		elems, err := NewTermRecords([]datalog.Term(v))
		if err != nil {
			return TermRecord{}, err
		}
		return termRecord(termKindSet, elems)
	case datalog.Array:
		elems, err := NewTermRecords([]datalog.Term(v))
		if err != nil {
			return TermRecord{}, err
		}
		return termRecord(termKindArray, elems)
	case datalog.Map:
		var entries []mapEntryRecord
		var convErr error
		v.Each(func(k datalog.MapKey, val datalog.Term) {
			kr, err := NewTermRecord(k)
			if err != nil {
				convErr = err
				return
			}
			vr, err := NewTermRecord(val)
			if err != nil {
				convErr = err
				return
			}
			entries = append(entries, mapEntryRecord{Key: kr, Value: vr})
		})
		if convErr != nil {
			return TermRecord{}, convErr
		}
		return termRecord(termKindMap, entries)
	default:
		return TermRecord{}, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeSerializationError, "unencodable term kind")
	}
}

func termRecord(kind uint8, payload any) (TermRecord, error) {
	data, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return TermRecord{}, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeSerializationError, err)
	}
	return TermRecord{Kind: kind, Data: data}, nil
}

// NewTermRecords converts a term slice.
func NewTermRecords(terms []datalog.Term) ([]TermRecord, error) {
	out := make([]TermRecord, len(terms))
	for i, t := range terms {
		r, err := NewTermRecord(t)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// Term decodes the record back into a datalog.Term, re-validating the
// Set invariants rather than trusting the sender.
func (r TermRecord) Term() (datalog.Term, error) {
	switch r.Kind {
	case termKindVariable:
		var v uint32
		if err := decodePayload(r.Data, &v); err != nil {
			return nil, err
		}
		return datalog.Variable(v), nil
	case termKindInteger:
		var v uint64
		if err := decodePayload(r.Data, &v); err != nil {
			return nil, err
		}
		return datalog.Integer(int64(v)), nil
	case termKindString:
		var v uint64
		if err := decodePayload(r.Data, &v); err != nil {
			return nil, err
		}
		return datalog.Str(v), nil
	case termKindDate:
		var v uint64
		if err := decodePayload(r.Data, &v); err != nil {
			return nil, err
		}
		return datalog.Date(v), nil
	case termKindBytes:
		var v []byte
		if err := decodePayload(r.Data, &v); err != nil {
			return nil, err
		}
		return datalog.Bytes(v), nil
	case termKindBool:
		var v bool
		if err := decodePayload(r.Data, &v); err != nil {
			return nil, err
		}
		return datalog.Bool(v), nil
	case termKindNull:
		return datalog.Null{}, nil
	case termKindSet:
		var elems []TermRecord
		if err := decodePayload(r.Data, &elems); err != nil {
			return nil, err
		}
		terms, err := termRecordsToTerms(elems)
		if err != nil {
			return nil, err
		}
		set, err := datalog.NewSet(terms...)
		if err != nil {
			return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeDeserializationError, err)
		}
		return set, nil
	case termKindArray:
		var elems []TermRecord
		if err := decodePayload(r.Data, &elems); err != nil {
			return nil, err
		}
		terms, err := termRecordsToTerms(elems)
		if err != nil {
			return nil, err
		}
		return datalog.Array(terms), nil
	case termKindMap:
		var entries []mapEntryRecord
		if err := decodePayload(r.Data, &entries); err != nil {
			return nil, err
		}
		m := datalog.NewMap()
		for _, e := range entries {
			kt, err := e.Key.Term()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(datalog.MapKey)
			if !ok {
				return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "map key must be an integer or a string")
			}
			vt, err := e.Value.Term()
			if err != nil {
				return nil, err
			}
			m = m.Insert(key, vt)
		}
		return m, nil
	default:
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown term kind").WithPayload(r.Kind)
	}
}

func termRecordsToTerms(records []TermRecord) ([]datalog.Term, error) {
	out := make([]datalog.Term, len(records))
	for i, r := range records {
		t, err := r.Term()
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func decodePayload(data []byte, dst any) error {
	if err := rlp.DecodeBytes(data, dst); err != nil {
		return bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeDeserializationError, err)
	}
	return nil
}

// Op kinds on the wire.
const (
	opKindValue uint8 = iota
	opKindUnary
	opKindBinary
	opKindClosure
)

// OpRecord is the wire form of one expression opcode.
type OpRecord struct {
	Kind uint8
	Data []byte
}

type unaryOpRecord struct {
	Op   uint8
	Name uint64
}

type binaryOpRecord struct {
	Op   uint8
	Name uint64
}

type closureOpRecord struct {
	Params []uint32
	Body   []OpRecord
}

// NewOpRecords converts an op stream for serialization.
func NewOpRecords(ops []datalog.Op) ([]OpRecord, error) {
	out := make([]OpRecord, len(ops))
	for i, op := range ops {
		r, err := newOpRecord(op)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func newOpRecord(op datalog.Op) (OpRecord, error) {
	switch o := op.(type) {
	case datalog.OpValue:
		tr, err := NewTermRecord(o.Term)
		if err != nil {
			return OpRecord{}, err
		}
		return opRecord(opKindValue, tr)
	case datalog.OpUnary:
		return opRecord(opKindUnary, unaryOpRecord{Op: uint8(o.Op), Name: uint64(o.Name)})
	case datalog.OpBinary:
		return opRecord(opKindBinary, binaryOpRecord{Op: uint8(o.Op), Name: uint64(o.Name)})
	case datalog.OpClosure:
		params := make([]uint32, len(o.Params))
		for i, p := range o.Params {
			params[i] = uint32(p)
		}
		body, err := NewOpRecords(o.Body)
		if err != nil {
			return OpRecord{}, err
		}
		return opRecord(opKindClosure, closureOpRecord{Params: params, Body: body})
	default:
		return OpRecord{}, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeSerializationError, "unencodable op kind")
	}
}

func opRecord(kind uint8, payload any) (OpRecord, error) {
	data, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return OpRecord{}, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeSerializationError, err)
	}
	return OpRecord{Kind: kind, Data: data}, nil
}

// Ops decodes a record stream back into datalog ops.
func Ops(records []OpRecord) ([]datalog.Op, error) {
	out := make([]datalog.Op, len(records))
	for i, r := range records {
		op, err := r.Op()
		if err != nil {
			return nil, err
		}
		out[i] = op
	}
	return out, nil
}

// Op decodes a single opcode record.
func (r OpRecord) Op() (datalog.Op, error) {
	switch r.Kind {
	case opKindValue:
		var tr TermRecord
		if err := decodePayload(r.Data, &tr); err != nil {
			return nil, err
		}
		t, err := tr.Term()
		if err != nil {
			return nil, err
		}
		return datalog.OpValue{Term: t}, nil
	case opKindUnary:
		var u unaryOpRecord
		if err := decodePayload(r.Data, &u); err != nil {
			return nil, err
		}
		if u.Op > uint8(datalog.OpUnaryFfi) {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown unary opcode").WithPayload(u.Op)
		}
		return datalog.OpUnary{Op: datalog.UnaryOp(u.Op), Name: datalog.Symbol(u.Name)}, nil
	case opKindBinary:
		var b binaryOpRecord
		if err := decodePayload(r.Data, &b); err != nil {
			return nil, err
		}
		if b.Op > uint8(datalog.OpTryOr) {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown binary opcode").WithPayload(b.Op)
		}
		return datalog.OpBinary{Op: datalog.BinaryOp(b.Op), Name: datalog.Symbol(b.Name)}, nil
	case opKindClosure:
		var c closureOpRecord
		if err := decodePayload(r.Data, &c); err != nil {
			return nil, err
		}
		params := make([]datalog.Variable, len(c.Params))
		for i, p := range c.Params {
			params[i] = datalog.Variable(p)
		}
		body, err := Ops(c.Body)
		if err != nil {
			return nil, err
		}
		return datalog.OpClosure{Params: params, Body: body}, nil
	default:
		return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown op kind").WithPayload(r.Kind)
	}
}

// PredicateRecord is the wire form of a datalog.Predicate.
type PredicateRecord struct {
	Name  uint64
	Terms []TermRecord
}

func NewPredicateRecord(p datalog.Predicate) (PredicateRecord, error) {
	terms, err := NewTermRecords(p.Terms)
	if err != nil {
		return PredicateRecord{}, err
	}
	return PredicateRecord{Name: uint64(p.Name), Terms: terms}, nil
}

func NewPredicateRecords(preds []datalog.Predicate) ([]PredicateRecord, error) {
	out := make([]PredicateRecord, len(preds))
	for i, p := range preds {
		r, err := NewPredicateRecord(p)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (r PredicateRecord) Predicate() (datalog.Predicate, error) {
	terms, err := termRecordsToTerms(r.Terms)
	if err != nil {
		return datalog.Predicate{}, err
	}
	return datalog.Predicate{Name: datalog.Symbol(r.Name), Terms: terms}, nil
}

func predicateRecordsToPredicates(records []PredicateRecord) ([]datalog.Predicate, error) {
	out := make([]datalog.Predicate, len(records))
	for i, r := range records {
		p, err := r.Predicate()
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// ScopeRecord is the wire form of a datalog.Scope.
type ScopeRecord struct {
	Kind           uint8
	PublicKeyIndex uint64
}

func NewScopeRecords(scopes []datalog.Scope) []ScopeRecord {
	out := make([]ScopeRecord, len(scopes))
	for i, s := range scopes {
		out[i] = ScopeRecord{Kind: uint8(s.Kind), PublicKeyIndex: uint64(s.PublicKeyIndex)}
	}
	return out
}

func Scopes(records []ScopeRecord) ([]datalog.Scope, error) {
	out := make([]datalog.Scope, len(records))
	for i, r := range records {
		if r.Kind > uint8(datalog.ScopePublicKey) {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown scope kind").WithPayload(r.Kind)
		}
		out[i] = datalog.Scope{Kind: datalog.ScopeKind(r.Kind), PublicKeyIndex: int64(r.PublicKeyIndex)}
	}
	return out, nil
}

// RuleRecord is the wire form of a datalog.Rule. Expressions flatten
// to one op stream per expression.
type RuleRecord struct {
	Head        PredicateRecord
	Body        []PredicateRecord
	Expressions [][]OpRecord
	Scopes      []ScopeRecord
}

func NewRuleRecord(r datalog.Rule) (RuleRecord, error) {
	head, err := NewPredicateRecord(r.Head)
	if err != nil {
		return RuleRecord{}, err
	}
	body, err := NewPredicateRecords(r.Body)
	if err != nil {
		return RuleRecord{}, err
	}
	exprs := make([][]OpRecord, len(r.Expressions))
	for i, e := range r.Expressions {
		ops, err := NewOpRecords(e.Ops)
		if err != nil {
			return RuleRecord{}, err
		}
		exprs[i] = ops
	}
	return RuleRecord{Head: head, Body: body, Expressions: exprs, Scopes: NewScopeRecords(r.Scope)}, nil
}

func NewRuleRecords(rules []datalog.Rule) ([]RuleRecord, error) {
	out := make([]RuleRecord, len(rules))
	for i, r := range rules {
		rec, err := NewRuleRecord(r)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

func (r RuleRecord) Rule() (datalog.Rule, error) {
	head, err := r.Head.Predicate()
	if err != nil {
		return datalog.Rule{}, err
	}
	body, err := predicateRecordsToPredicates(r.Body)
	if err != nil {
		return datalog.Rule{}, err
	}
	exprs := make([]datalog.Expression, len(r.Expressions))
	for i, e := range r.Expressions {
		ops, err := Ops(e)
		if err != nil {
			return datalog.Rule{}, err
		}
		exprs[i] = datalog.Expression{Ops: ops}
	}
	scopes, err := Scopes(r.Scopes)
	if err != nil {
		return datalog.Rule{}, err
	}
	return datalog.Rule{Head: head, Body: body, Expressions: exprs, Scope: scopes}, nil
}

func Rules(records []RuleRecord) ([]datalog.Rule, error) {
	out := make([]datalog.Rule, len(records))
	for i, r := range records {
		rule, err := r.Rule()
		if err != nil {
			return nil, err
		}
		out[i] = rule
	}
	return out, nil
}

// CheckRecord is the wire form of a datalog.Check.
type CheckRecord struct {
	Queries []RuleRecord
	Kind    uint8
}

func NewCheckRecords(checks []datalog.Check) ([]CheckRecord, error) {
	out := make([]CheckRecord, len(checks))
	for i, c := range checks {
		queries, err := NewRuleRecords(c.Queries)
		if err != nil {
			return nil, err
		}
		out[i] = CheckRecord{Queries: queries, Kind: uint8(c.Kind)}
	}
	return out, nil
}

func Checks(records []CheckRecord) ([]datalog.Check, error) {
	out := make([]datalog.Check, len(records))
	for i, r := range records {
		if r.Kind > uint8(datalog.CheckKindReject) {
			return nil, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeDeserializationError, "unknown check kind").WithPayload(r.Kind)
		}
		queries, err := Rules(r.Queries)
		if err != nil {
			return nil, err
		}
		out[i] = datalog.Check{Queries: queries, Kind: datalog.CheckKind(r.Kind)}
	}
	return out, nil
}

// PublicKeyRecord is the wire form of a sig.PublicKey.
type PublicKeyRecord struct {
	Algorithm uint32
	Key       []byte
}

func NewPublicKeyRecord(pk sig.PublicKey) PublicKeyRecord {
	return PublicKeyRecord{Algorithm: uint32(pk.Algorithm), Key: append([]byte(nil), pk.Bytes...)}
}

func NewPublicKeyRecords(keys []sig.PublicKey) []PublicKeyRecord {
	out := make([]PublicKeyRecord, len(keys))
	for i, pk := range keys {
		out[i] = NewPublicKeyRecord(pk)
	}
	return out
}

func (r PublicKeyRecord) PublicKey() (sig.PublicKey, error) {
	if r.Algorithm > uint32(sig.Secp256r1) {
		return sig.PublicKey{}, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKey, "unknown public key algorithm").WithPayload(r.Algorithm)
	}
	if len(r.Key) == 0 {
		return sig.PublicKey{}, bisckerr.New(bisckerr.KindFormat, bisckerr.CodeInvalidKeySize, "empty public key")
	}
	return sig.PublicKey{Algorithm: sig.Algorithm(r.Algorithm), Bytes: append([]byte(nil), r.Key...)}, nil
}

func PublicKeys(records []PublicKeyRecord) ([]sig.PublicKey, error) {
	out := make([]sig.PublicKey, len(records))
	for i, r := range records {
		pk, err := r.PublicKey()
		if err != nil {
			return nil, err
		}
		out[i] = pk
	}
	return out, nil
}
