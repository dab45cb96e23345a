// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package authorizer

import (
	"context"
	"testing"

	"github.com/biscuit-auth/biscuit-go/block"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRequiresEvaluation(t *testing.T) {
	_, err := New().Snapshot()
	require.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	token, _ := buildToken(t)

	a := ForToken(token).
		Fact(fact("operation", block.String("read"))).
		Fact(fact("resource", block.String("/a/file1.txt"))).
		Policy(readPolicy())
	_, err := a.Authorize(context.Background())
	require.NoError(t, err)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, snap.Facts)
	assert.Equal(t, datalog.DefaultLimits.MaxFacts, snap.Limits.MaxFacts)

	// authority fact carries origin 0, authorizer facts -1
	var sawAuthority, sawAuthorizer bool
	for _, f := range snap.Facts {
		for _, o := range f.Origins {
			if o == 0 {
				sawAuthority = true
			}
			if o == -1 {
				sawAuthorizer = true
			}
		}
	}
	assert.True(t, sawAuthority)
	assert.True(t, sawAuthorizer)

	data, err := snap.ToYAML()
	require.NoError(t, err)

	reloaded, err := SnapshotFromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Facts, reloaded.Facts)
	assert.Equal(t, snap.Limits, reloaded.Limits)
	assert.Equal(t, snap.Elapsed, reloaded.Elapsed)
}
