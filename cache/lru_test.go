// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache_test

import (
	"errors"
	"testing"

	"github.com/biscuit-auth/biscuit-go/cache"
	"github.com/stretchr/testify/assert"
)

func TestLRUGetOrLoad(t *testing.T) {
	assert := assert.New(t)
	lru := cache.NewLRU(10)

	loads := 0
	loader := func(interface{}) (interface{}, error) {
		loads++
		return "bar", nil
	}

	v, err := lru.GetOrLoad("foo", loader)
	assert.NoError(err)
	assert.Equal("bar", v)

	// second access must hit the cache, not the loader
	v, err = lru.GetOrLoad("foo", loader)
	assert.NoError(err)
	assert.Equal("bar", v)
	assert.Equal(1, loads)
}

func TestLRULoaderError(t *testing.T) {
	assert := assert.New(t)
	lru := cache.NewLRU(10)

	wantErr := errors.New("load failed")
	_, err := lru.GetOrLoad("foo", func(interface{}) (interface{}, error) {
		return nil, wantErr
	})
	assert.ErrorIs(err, wantErr)

	// a failed load must not poison the cache
	_, ok := lru.Get("foo")
	assert.False(ok)
}
