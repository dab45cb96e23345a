// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package format

import (
	"testing"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTableDefaultPrefix(t *testing.T) {
	st := DefaultSymbolTable()

	id, ok := st.Lookup("read")
	require.True(t, ok)
	assert.EqualValues(t, 0, id)

	s, ok := st.Resolve(0)
	require.True(t, ok)
	assert.Equal(t, "read", s)

	// interning a default symbol must return the default index, not
	// grow the table
	assert.EqualValues(t, 2, st.Intern("resource"))
	assert.Empty(t, st.Strings())
}

func TestSymbolTableInternAndResolve(t *testing.T) {
	st := DefaultSymbolTable()
	base := st.Len()

	id := st.Intern("file1")
	assert.EqualValues(t, base, id)
	assert.Equal(t, id, st.Intern("file1"))

	s, ok := st.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, "file1", s)

	_, ok = st.Resolve(id + 1)
	assert.False(t, ok)
	assert.Equal(t, []string{"file1"}, st.Strings())
}

func TestSymbolTableExtendRejectsOverlap(t *testing.T) {
	st := DefaultSymbolTable()
	st.Intern("alpha")

	err := st.Extend([]string{"beta", "alpha"})
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeSymbolTableOverlap))
	// a failed extend must not partially apply
	_, ok := st.Lookup("beta")
	assert.False(t, ok)

	err = st.Extend([]string{"read"})
	require.Error(t, err, "default prefix strings cannot be re-introduced")

	require.NoError(t, st.Extend([]string{"beta", "gamma"}))
	id, ok := st.Lookup("gamma")
	require.True(t, ok)
	s, _ := st.Resolve(id)
	assert.Equal(t, "gamma", s)
}

func TestSymbolTableFork(t *testing.T) {
	st := DefaultSymbolTable()
	st.Intern("base")

	fork := st.Fork()
	fork.Intern("added1")
	fork.Intern("base") // already known, not an addition
	fork.Intern("added2")

	assert.Equal(t, []string{"added1", "added2"}, fork.Additions())
	// the parent is untouched
	_, ok := st.Lookup("added1")
	assert.False(t, ok)
}

func TestPublicKeyTable(t *testing.T) {
	kp1, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)
	kp2, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)

	kt := NewPublicKeyTable()
	i1 := kt.Intern(kp1.Public())
	i2 := kt.Intern(kp2.Public())
	assert.EqualValues(t, 0, i1)
	assert.EqualValues(t, 1, i2)
	assert.Equal(t, i1, kt.Intern(kp1.Public()))

	got, ok := kt.Resolve(i2)
	require.True(t, ok)
	assert.True(t, got.Equal(kp2.Public()))

	err = kt.Extend([]sig.PublicKey{kp1.Public()})
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodePublicKeyTableOverlap))

	fork := kt.Fork()
	kp3, err := sig.GenerateEd25519KeyPair(nil)
	require.NoError(t, err)
	fork.Intern(kp3.Public())
	adds := fork.Additions()
	require.Len(t, adds, 1)
	assert.True(t, adds[0].Equal(kp3.Public()))
}
