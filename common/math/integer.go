// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

// Package math provides overflow-checked integer arithmetic for monetary
// amounts. Every amount in the relay is a uint64 in the smallest unit of its
// token; callers must check the overflow flag instead of relying on wrap.
package math

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

const (
	MaxUint64 = 1<<64 - 1
)

// SafeAdd returns x+y and reports whether the sum overflowed.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum := x + y
	return sum, sum < x
}

// SafeSub returns x-y and reports whether the subtraction underflowed.
func SafeSub(x, y uint64) (uint64, bool) {
	return x - y, x < y
}

// SafeMul returns x*y and reports whether the product overflowed.
func SafeMul(x, y uint64) (uint64, bool) {
	if x == 0 || y == 0 {
		return 0, false
	}
	prod := x * y
	return prod, prod/y != x
}

// CeilDiv returns ceil(x/y). y must be non-zero.
func CeilDiv(x, y uint64) uint64 {
	return (x + y - 1) / y
}

// Amount is a uint64 token amount that travels as a decimal string on the
// wire. 64-bit amounts do not survive IEEE-754 JSON numbers, so both
// directions use quoted decimals.
type Amount uint64

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(a), 10)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(input []byte) error {
	v, ok := ParseUint64(string(input))
	if !ok {
		return fmt.Errorf("invalid decimal amount %q", input)
	}
	*a = Amount(v)
	return nil
}

// UnmarshalJSON accepts both quoted decimal strings and bare JSON numbers.
// Bare numbers are tolerated for hand-written requests; quoted strings are
// what the relay itself emits.
func (a *Amount) UnmarshalJSON(input []byte) error {
	if len(input) > 0 && input[0] == '"' {
		input = input[1 : len(input)-1]
	}
	return a.UnmarshalText(input)
}

// MarshalJSON implements json.Marshaler, always quoting.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(a), 10) + `"`), nil
}

// String implements fmt.Stringer.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Value implements driver.Valuer so amounts insert into NUMERIC columns
// without passing through float64.
func (a Amount) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(a), 10), nil
}

// Scan implements sql.Scanner for NUMERIC and BIGINT columns.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = 0
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("negative amount %d", v)
		}
		*a = Amount(v)
		return nil
	case []byte:
		return a.UnmarshalText(v)
	case string:
		return a.UnmarshalText([]byte(v))
	}
	return fmt.Errorf("cannot scan %T into Amount", src)
}

// ParseUint64 parses s as a decimal integer. Leading zeros are accepted.
// The empty string parses as zero.
func ParseUint64(s string) (uint64, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

// MustParseUint64 parses s as an integer and panics if the string is invalid.
func MustParseUint64(s string) uint64 {
	v, ok := ParseUint64(s)
	if !ok {
		panic("invalid unsigned 64 bit integer: " + s)
	}
	return v
}
