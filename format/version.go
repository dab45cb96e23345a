// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package format

import (
	"fmt"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
)

// Schema version bounds and feature gates. A block declaring version V
// must not use a feature gated behind a later version; decoders reject
// such blocks instead of guessing at their meaning.
const (
	MinSchemaVersion uint32 = 3
	MaxSchemaVersion uint32 = 6

	// DatalogV3_1 enables check kinds ("check all") and rule scopes.
	DatalogV3_1 uint32 = 4
	// DatalogV3_2 enables third-party blocks.
	DatalogV3_2 uint32 = 5
	// DatalogV3_3 enables "reject if", closures, arrays, maps, null
	// and FFI opcodes.
	DatalogV3_3 uint32 = 6
)

// CheckVersionBounds rejects versions outside [MinSchemaVersion,
// MaxSchemaVersion].
func CheckVersionBounds(v uint32) error {
	if v < MinSchemaVersion || v > MaxSchemaVersion {
		return versionError(MinSchemaVersion, MaxSchemaVersion, v)
	}
	return nil
}

// ValidateBlockVersion verifies that no feature used by the block's
// contents requires a schema version later than the declared one.
func ValidateBlockVersion(declared uint32, facts []datalog.Predicate, rules []datalog.Rule, checks []datalog.Check, scopes []datalog.Scope, hasExternalKey bool) error {
	required := RequiredBlockVersion(facts, rules, checks, scopes, hasExternalKey)
	if required > declared {
		return versionError(required, MaxSchemaVersion, declared)
	}
	return nil
}

// RequiredBlockVersion computes the minimum schema version the given
// block contents need to be representable.
func RequiredBlockVersion(facts []datalog.Predicate, rules []datalog.Rule, checks []datalog.Check, scopes []datalog.Scope, hasExternalKey bool) uint32 {
	required := MinSchemaVersion
	bump := func(v uint32) {
		if v > required {
			required = v
		}
	}
	if hasExternalKey {
		bump(DatalogV3_2)
	}
	if len(scopes) > 0 {
		bump(DatalogV3_1)
	}
	for _, f := range facts {
		bump(requiredTermsVersion(f.Terms))
	}
	for _, r := range rules {
		bump(requiredRuleVersion(r))
	}
	for _, c := range checks {
		if c.Kind != datalog.CheckKindOne {
			bump(DatalogV3_1)
		}
		if c.Kind == datalog.CheckKindReject {
			bump(DatalogV3_3)
		}
		for _, q := range c.Queries {
			bump(requiredRuleVersion(q))
		}
	}
	return required
}

func requiredRuleVersion(r datalog.Rule) uint32 {
	required := MinSchemaVersion
	if len(r.Scope) > 0 {
		required = DatalogV3_1
	}
	bump := func(v uint32) {
		if v > required {
			required = v
		}
	}
	bump(requiredTermsVersion(r.Head.Terms))
	for _, p := range r.Body {
		bump(requiredTermsVersion(p.Terms))
	}
	for _, e := range r.Expressions {
		bump(requiredOpsVersion(e.Ops))
	}
	return required
}

func requiredTermsVersion(terms []datalog.Term) uint32 {
	required := MinSchemaVersion
	for _, t := range terms {
		if v := requiredTermVersion(t); v > required {
			required = v
		}
	}
	return required
}

func requiredTermVersion(t datalog.Term) uint32 {
	switch v := t.(type) {
	case datalog.Null:
		return DatalogV3_3
	case datalog.Array:
		return DatalogV3_3
	case datalog.Map:
		return DatalogV3_3
	case datalog.Set:
		return requiredTermsVersion(v)
	default:
		return MinSchemaVersion
	}
}

func requiredOpsVersion(ops []datalog.Op) uint32 {
	required := MinSchemaVersion
	bump := func(v uint32) {
		if v > required {
			required = v
		}
	}
	for _, op := range ops {
		switch o := op.(type) {
		case datalog.OpValue:
			bump(requiredTermVersion(o.Term))
		case datalog.OpUnary:
			if o.Op == datalog.OpUnaryFfi {
				bump(DatalogV3_3)
			}
		case datalog.OpBinary:
			switch o.Op {
			case datalog.OpBinaryFfi, datalog.OpLazyAnd, datalog.OpLazyOr,
				datalog.OpTryOr, datalog.OpAll, datalog.OpAny, datalog.OpGet,
				datalog.OpHeterogeneousEqual, datalog.OpHeterogeneousNotEqual:
				bump(DatalogV3_3)
			}
		case datalog.OpClosure:
			bump(DatalogV3_3)
			bump(requiredOpsVersion(o.Body))
		}
	}
	return required
}

func versionError(min, max, actual uint32) error {
	return bisckerr.New(bisckerr.KindFormat, bisckerr.CodeVersion,
		fmt.Sprintf("unsupported schema version %d, supported range [%d, %d]", actual, min, max)).
		WithPayload(struct{ Min, Max, Actual uint32 }{min, max, actual})
}
