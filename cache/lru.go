// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package cache wraps golang-lru with the load-on-miss access pattern
// the evaluator uses for memoizing scope resolutions.
package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRU is an LRU cache extending golang-lru with GetOrLoad.
type LRU struct {
	*lru.Cache
}

// NewLRU creates an LRU cache instance. Sizes below 16 are clamped up:
// the evaluator's workloads never benefit from smaller caches and tiny
// sizes just cause thrashing between fixed-point iterations.
func NewLRU(maxSize int) *LRU {
	if maxSize < 16 {
		maxSize = 16
	}
	cache, _ := lru.New(maxSize)
	return &LRU{cache}
}

// Loader computes the value for a missing key.
type Loader func(key interface{}) (interface{}, error)

// GetOrLoad returns the cached value for key, calling loader and
// caching its result on a miss. A loader error is returned as-is and
// nothing is cached.
func (l *LRU) GetOrLoad(key interface{}, loader Loader) (interface{}, error) {
	if v, ok := l.Get(key); ok {
		return v, nil
	}
	v, err := loader(key)
	if err != nil {
		return nil, err
	}

	l.Add(key, v)
	return v, nil
}
