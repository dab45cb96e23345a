// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetDeduplicatesAndSorts(t *testing.T) {
	s, err := NewSet(Integer(3), Integer(1), Integer(2), Integer(1))
	require.NoError(t, err)
	assert.Equal(t, Set{Integer(1), Integer(2), Integer(3)}, s)
}

func TestNewSetRejectsMixedKinds(t *testing.T) {
	_, err := NewSet(Integer(1), Bool(true))
	assert.Error(t, err)
}

func TestNewSetRejectsNestedSets(t *testing.T) {
	inner, err := NewSet(Integer(1))
	require.NoError(t, err)
	_, err = NewSet(inner)
	assert.Error(t, err)
}

func TestNewSetRejectsVariables(t *testing.T) {
	_, err := NewSet(Variable(0))
	assert.Error(t, err)
}

func TestMapInsertAndGet(t *testing.T) {
	m := NewMap()
	m = m.Insert(Integer(2), Bool(true))
	m = m.Insert(Integer(1), Bool(false))

	v, ok := m.Get(Integer(1))
	require.True(t, ok)
	assert.Equal(t, Bool(false), v)

	_, ok = m.Get(Integer(3))
	assert.False(t, ok)
	assert.Equal(t, 2, m.Len())
}

func TestEqualRequiresSameKind(t *testing.T) {
	_, sameKind := Equal(Integer(1), Bool(true))
	assert.False(t, sameKind)

	eq, sameKind := Equal(Integer(1), Integer(1))
	assert.True(t, sameKind)
	assert.True(t, eq)
}

func TestHeterogeneousEqualNeverFails(t *testing.T) {
	assert.False(t, HeterogeneousEqual(Integer(1), Bool(true)))
	assert.True(t, HeterogeneousEqual(Null{}, Null{}))
}

func TestMapKeyOrderingIsStable(t *testing.T) {
	// Str sorts by its underlying interned Symbol id, not by the
	// string it resolves to, so insertion/interning order decides it.
	sym := newTestSymbols()
	m := NewMap()
	m = m.Insert(sym.str("b"), Integer(1))
	m = m.Insert(sym.str("a"), Integer(2))

	var keys []string
	m.Each(func(k MapKey, _ Term) {
		keys = append(keys, k.String(sym))
	})
	assert.Equal(t, []string{`"b"`, `"a"`}, keys)
}
