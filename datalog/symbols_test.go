// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package datalog

// testSymbols is a minimal in-memory Symbols implementation used only
// by this package's own tests; format.SymbolTable is the real one.
type testSymbols struct {
	strs []string
	idx  map[string]Symbol
}

func newTestSymbols(seed ...string) *testSymbols {
	ts := &testSymbols{idx: make(map[string]Symbol)}
	for _, s := range seed {
		ts.Intern(s)
	}
	return ts
}

func (ts *testSymbols) PrintSymbol(s Symbol) string {
	if int(s) < len(ts.strs) {
		return ts.strs[s]
	}
	return "?"
}

func (ts *testSymbols) Resolve(s Symbol) (string, bool) {
	if int(s) < len(ts.strs) {
		return ts.strs[s], true
	}
	return "", false
}

func (ts *testSymbols) Intern(s string) Symbol {
	if id, ok := ts.idx[s]; ok {
		return id
	}
	id := Symbol(len(ts.strs))
	ts.strs = append(ts.strs, s)
	ts.idx[s] = id
	return id
}

func (ts *testSymbols) str(s string) Str {
	return Str(ts.Intern(s))
}
