// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package biscuit

import (
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
)

// trust resolves a rule's scope list into the concrete set of block
// ids it may read facts from (spec: trusted origins). It is the only
// place that knows which block was signed by which external key.
type trust struct {
	blockCount   int
	externalKeys []*sig.PublicKey // indexed by block id, nil for first-party
	keyTable     *format.PublicKeyTable
}

// TrustContext returns the token's datalog.TrustContext for evaluation.
func (b *Biscuit) TrustContext() datalog.TrustContext {
	return b.TrustContextWithKeys(b.keyTable)
}

// TrustContextWithKeys resolves scope key indices against the given
// table instead of the token's own. The authorizer compiles its rules
// against an extended copy of the token table and needs indices from
// that copy to resolve.
func (b *Biscuit) TrustContextWithKeys(keys *format.PublicKeyTable) datalog.TrustContext {
	t := &trust{
		blockCount: b.BlockCount(),
		keyTable:   keys,
	}
	for _, blk := range b.parsed {
		t.externalKeys = append(t.externalKeys, blk.ExternalKey)
	}
	return t
}

// AuthorizerTrust is the trust context for an authorizer with no token:
// only authority (none) and authorizer-local facts exist.
func AuthorizerTrust() datalog.TrustContext {
	return &trust{blockCount: 0, keyTable: format.NewPublicKeyTable()}
}

// OriginsForScope implements datalog.TrustContext. The producing block
// and the authorizer are always readable; an empty scope list adds the
// authority; explicit scopes replace that default.
func (t *trust) OriginsForScope(scope []datalog.Scope, origin datalog.BlockID) map[datalog.BlockID]bool {
	trusted := map[datalog.BlockID]bool{
		origin:                   true,
		datalog.AuthorizerOrigin: true,
	}
	if len(scope) == 0 {
		trusted[0] = true
		return trusted
	}
	for _, s := range scope {
		switch s.Kind {
		case datalog.ScopeAuthority:
			trusted[0] = true
		case datalog.ScopePrevious:
			// every block up to and including the producing one; for
			// authorizer rules this means the whole token. Third-party
			// blocks may not use it (block decode rejects them, this
			// guards rules injected by other paths).
			limit := t.blockCount
			if origin != datalog.AuthorizerOrigin {
				if int(origin) < len(t.externalKeys) && t.externalKeys[origin] != nil {
					continue
				}
				limit = int(origin) + 1
			}
			for i := 0; i < limit; i++ {
				trusted[datalog.BlockID(i)] = true
			}
		case datalog.ScopePublicKey:
			key, ok := t.keyTable.Resolve(s.PublicKeyIndex)
			if !ok {
				continue
			}
			for i, ext := range t.externalKeys {
				if ext != nil && ext.Equal(key) {
					trusted[datalog.BlockID(i)] = true
				}
			}
		}
	}
	return trusted
}
