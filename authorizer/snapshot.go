// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package authorizer

import (
	"fmt"
	"sort"
	"time"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"gopkg.in/yaml.v3"
)

// Snapshot captures the post-evaluation world for debugging: every
// fact with its origin set, the limits the run was subject to, and the
// elapsed wall time. It serializes to YAML so a failing authorization
// can be attached to a bug report and reloaded later.
type Snapshot struct {
	Facts   []SnapshotFact `yaml:"facts"`
	Limits  SnapshotLimits `yaml:"limits"`
	Elapsed time.Duration  `yaml:"elapsed"`
}

// SnapshotFact is one world fact: its rendered source plus the block
// ids that produced it. The authorizer origin renders as -1.
type SnapshotFact struct {
	Fact    string  `yaml:"fact"`
	Origins []int64 `yaml:"origins"`
}

type SnapshotLimits struct {
	MaxFacts      int           `yaml:"max_facts"`
	MaxIterations int           `yaml:"max_iterations"`
	MaxTime       time.Duration `yaml:"max_time"`
}

// Snapshot captures the current world. It requires Authorize or Query
// to have run; an unevaluated authorizer has no world to snapshot.
func (a *Authorizer) Snapshot() (*Snapshot, error) {
	if a.world == nil {
		return nil, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeAuthorizerNotEmpty, "authorize or query before taking a snapshot")
	}
	snap := &Snapshot{
		Limits: SnapshotLimits{
			MaxFacts:      a.limits.MaxFacts,
			MaxIterations: a.limits.MaxIterations,
			MaxTime:       a.limits.MaxTime,
		},
		Elapsed: a.elapsed,
	}
	for _, f := range a.world.Facts() {
		snap.Facts = append(snap.Facts, SnapshotFact{
			Fact:    f.Predicate.String(a.symbols),
			Origins: originIDs(f.Origin),
		})
	}
	// map iteration order is random; fixture diffs need stability
	sort.Slice(snap.Facts, func(i, j int) bool {
		if snap.Facts[i].Fact != snap.Facts[j].Fact {
			return snap.Facts[i].Fact < snap.Facts[j].Fact
		}
		return fmt.Sprint(snap.Facts[i].Origins) < fmt.Sprint(snap.Facts[j].Origins)
	})
	return snap, nil
}

func originIDs(o datalog.Origin) []int64 {
	var ids []int64
	for id := range o {
		if id == datalog.AuthorizerOrigin {
			ids = append(ids, -1)
			continue
		}
		ids = append(ids, int64(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// The YAML shape comes from the struct tags; ToYAML and SnapshotFromYAML
// wrap the encoding for callers that just want bytes.
func (s *Snapshot) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeSerializationError, err)
	}
	return data, nil
}

func SnapshotFromYAML(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, bisckerr.Wrap(bisckerr.KindFormat, bisckerr.CodeDeserializationError, err)
	}
	return &s, nil
}
