// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

// ScopeKind distinguishes Biscuit's three scope shapes.
type ScopeKind uint8

const (
	ScopeAuthority ScopeKind = iota
	ScopePrevious
	ScopePublicKey
)

// Scope restricts which block facts a rule/check may unify against.
// PublicKeyIndex is only meaningful when Kind == ScopePublicKey.
type Scope struct {
	Kind           ScopeKind
	PublicKeyIndex int64
}

var (
	Authority = Scope{Kind: ScopeAuthority}
	Previous  = Scope{Kind: ScopePrevious}
)

func PublicKeyScope(index int64) Scope {
	return Scope{Kind: ScopePublicKey, PublicKeyIndex: index}
}
