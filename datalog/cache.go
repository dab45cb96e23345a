// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"fmt"
	"strings"

	"github.com/biscuit-auth/biscuit-go/cache"
)

// scopeCache memoizes TrustContext.OriginsForScope results within one
// evaluation run: the same rule's scope is resolved once per World.Run
// call but queried on every fixed-point iteration, so caching it turns
// an O(iterations) cost into O(1) after the first hit. Grounded on
// cache/lru.go's GetOrLoad wrapper around github.com/hashicorp/golang-lru.
type scopeCache struct {
	lru *cache.LRU
}

func newScopeCache(size int) *scopeCache {
	return &scopeCache{lru: cache.NewLRU(size)}
}

func (c *scopeCache) originsFor(scope []Scope, origin BlockID, trust TrustContext) map[BlockID]bool {
	key := scopeCacheKey(scope, origin)
	v, _ := c.lru.GetOrLoad(key, func(interface{}) (interface{}, error) {
		return trust.OriginsForScope(scope, origin), nil
	})
	return v.(map[BlockID]bool)
}

func scopeCacheKey(scope []Scope, origin BlockID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|", origin)
	for _, s := range scope {
		fmt.Fprintf(&b, "%d:%d,", s.Kind, s.PublicKeyIndex)
	}
	return b.String()
}
