// Copyright 2017 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
// Copyright 2026 The ndtsdb Authors
// (adapted for columnar integer truncation)
// This file is part of ndtsdb.
//
// ndtsdb is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ndtsdb is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with ndtsdb. If not, see <http://www.gnu.org/licenses/>.

package column

// Integer limit values, used by numeric-column coercion to apply
// two's-complement truncation semantics (spec: "integer columns
// truncate to their integer width using two's-complement semantics").
const (
	MaxInt32 = 1<<31 - 1
	MinInt32 = -1 << 31
	MaxInt64 = 1<<63 - 1
	MinInt64 = -1 << 63
)

// truncateToInt32 reproduces C-style truncation of a wider integer
// into int32 by keeping the low 32 bits and sign-extending.
func truncateToInt32(v int64) int32 {
	return int32(uint32(v))
}
