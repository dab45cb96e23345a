// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package biscuit

// UnverifiedFromBytes parses a token without checking any signature.
// The result exposes the same read surface as a verified token —
// blocks, symbols, revocation ids — and is meant for inspection and
// debugging only. Call Verify before trusting anything in it.
func UnverifiedFromBytes(data []byte) (*Biscuit, error) {
	return decode(data)
}
