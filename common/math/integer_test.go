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

package math

import (
	"encoding/json"
	"testing"
)

type operation func(x, y uint64) (uint64, bool)

func TestOverflowCheck(t *testing.T) {
	for i, test := range []struct {
		x        uint64
		y        uint64
		overflow bool
		op       operation
	}{
		// add operations
		{MaxUint64, 1, true, SafeAdd},
		{MaxUint64 - 1, 1, false, SafeAdd},
		{0, 0, false, SafeAdd},
		// sub operations
		{0, 1, true, SafeSub},
		{0, 0, false, SafeSub},
		{MaxUint64, MaxUint64, false, SafeSub},
		// mul operations
		{0, 0, false, SafeMul},
		{10, 10, false, SafeMul},
		{MaxUint64, 2, true, SafeMul},
		{MaxUint64, 1, false, SafeMul},
	} {
		_, overflow := test.op(test.x, test.y)
		if overflow != test.overflow {
			t.Errorf("%d: overflow mismatch: have %v, want %v", i, overflow, test.overflow)
		}
	}
}

func TestSafeArithmeticValues(t *testing.T) {
	if v, _ := SafeAdd(50_000, 200); v != 50_200 {
		t.Errorf("SafeAdd: have %d, want 50200", v)
	}
	if v, _ := SafeSub(100, 36); v != 64 {
		t.Errorf("SafeSub: have %d, want 64", v)
	}
	if v, _ := SafeMul(21, 1000); v != 21_000 {
		t.Errorf("SafeMul: have %d, want 21000", v)
	}
}

func TestCeilDiv(t *testing.T) {
	for _, test := range []struct {
		x, y, want uint64
	}{
		{0, 3, 0},
		{1, 3, 1},
		{3, 3, 1},
		{4, 3, 2},
		{5_000, 236, 22}, // 21.18… rounds up
	} {
		if got := CeilDiv(test.x, test.y); got != test.want {
			t.Errorf("CeilDiv(%d, %d): have %d, want %d", test.x, test.y, got, test.want)
		}
	}
}

func TestParseUint64(t *testing.T) {
	for _, test := range []struct {
		input string
		num   uint64
		ok    bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"18446744073709551615", MaxUint64, true},
		{"18446744073709551616", 0, false},
		{"007", 7, true},
		{"-1", 0, false},
		{"0x10", 0, false},
		{"nan", 0, false},
	} {
		num, ok := ParseUint64(test.input)
		if ok != test.ok || num != test.num {
			t.Errorf("ParseUint64(%q): have (%d, %v), want (%d, %v)", test.input, num, ok, test.num, test.ok)
		}
	}
}

func TestAmountJSON(t *testing.T) {
	out, err := json.Marshal(Amount(18446744073709551615))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"18446744073709551615"` {
		t.Errorf("marshal: have %s, want quoted decimal", out)
	}

	var a Amount
	if err := json.Unmarshal([]byte(`"5000"`), &a); err != nil || a != 5000 {
		t.Errorf("unmarshal quoted: have (%d, %v)", a, err)
	}
	if err := json.Unmarshal([]byte(`5000`), &a); err != nil || a != 5000 {
		t.Errorf("unmarshal bare: have (%d, %v)", a, err)
	}
	if err := json.Unmarshal([]byte(`"1e9"`), &a); err == nil {
		t.Error("unmarshal accepted scientific notation")
	}
}
