// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"fmt"
	"sort"
	"strings"
)

// Predicate is `name(terms...)`. Arity is fixed per name within a
// proof but not by the grammar itself.
type Predicate struct {
	Name  Symbol
	Terms []Term
}

func (p Predicate) String(sp SymbolPrinter) string {
	out := sp.PrintSymbol(p.Name) + "("
	for i, t := range p.Terms {
		if i > 0 {
			out += ", "
		}
		out += t.String(sp)
	}
	return out + ")"
}

// Origin is the set of block ids whose facts participated in producing
// a fact: a singleton for a fact stated directly in a block, the
// union of its antecedents' origins for a derived fact. Two facts
// with equal Predicate but different Origin are distinct world
// entries: origin is part of a fact's identity, not
// metadata bolted onto it, which is what makes the trust check in
// World.solve ("visible iff Origin is a subset of the rule's trusted
// set") sound against a later block trying to widen an earlier one's
// provenance.
type Origin map[BlockID]bool

// NewOrigin builds an Origin from a list of contributing block ids.
func NewOrigin(ids ...BlockID) Origin {
	o := make(Origin, len(ids))
	for _, id := range ids {
		o[id] = true
	}
	return o
}

// Union returns a new Origin containing every id in o or other.
func (o Origin) Union(other Origin) Origin {
	out := make(Origin, len(o)+len(other))
	for id := range o {
		out[id] = true
	}
	for id := range other {
		out[id] = true
	}
	return out
}

// SubsetOf reports whether every id in o is present in trusted.
func (o Origin) SubsetOf(trusted map[BlockID]bool) bool {
	for id := range o {
		if !trusted[id] {
			return false
		}
	}
	return true
}

func (o Origin) key() string {
	ids := make([]int, 0, len(o))
	for id := range o {
		ids = append(ids, int(int32(id)))
	}
	sort.Ints(ids)
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%d,", id)
	}
	return b.String()
}

// Fact is a ground Predicate (no Variable terms) tagged with the set
// of blocks that contributed to it.
type Fact struct {
	Predicate Predicate
	Origin    Origin
}

// IsGround reports whether p contains no Variable terms, i.e. is valid
// as a Fact.
func (p Predicate) IsGround() bool {
	for _, t := range p.Terms {
		if _, ok := t.(Variable); ok {
			return false
		}
	}
	return true
}

// key is a comparable representation used for fact-set deduplication:
// facts with the same predicate text but a different origin set are
// kept as distinct world entries (see Origin's doc comment).
func (f Fact) key(sp SymbolPrinter) string {
	return f.Predicate.String(sp) + "|" + f.Origin.key()
}
