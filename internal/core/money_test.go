package core

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"3000", 3000, true},
		{"3,000", 3000, true},
		{"¥1,280", 1280, true},
		{"￥500", 500, true},
		{"1200円", 1200, true},
		{"0", 0, true},
		{"-5", 0, false},
		{"12.5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseAmount(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseAmount(%q) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAmountFromNumber(t *testing.T) {
	if v, ok := AmountFromNumber(3000); !ok || v != 3000 {
		t.Fatalf("AmountFromNumber(3000) = %d, %v", v, ok)
	}
	for _, f := range []float64{-1, 10.5} {
		if _, ok := AmountFromNumber(f); ok {
			t.Errorf("AmountFromNumber(%v) should fail", f)
		}
	}
}

func TestFindYenAmount(t *testing.T) {
	cases := []struct {
		text string
		want int64
		ok   bool
	}{
		{"合計 ¥3,000", 3000, true},
		{"小計\\1,500\n合計\\1,650", 1500, true},
		{"お預り ￥ 10,000", 10000, true},
		{"no amount here", 0, false},
	}
	for _, tc := range cases {
		got, ok := FindYenAmount(tc.text)
		if got != tc.want || ok != tc.ok {
			t.Errorf("FindYenAmount(%q) = %d, %v; want %d, %v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFloorExpense(t *testing.T) {
	cases := []struct {
		amount int64
		ratio  float64
		want   int64
	}{
		{10000, 0, 0},
		{10000, 0.3, 3000},
		{10000, 0.5, 5000},
		{10000, 1.0, 10000},
		{3000, 0.5, 1500},
		{999, 0.5, 499},
	}
	for _, tc := range cases {
		if got := FloorExpense(tc.amount, tc.ratio); got != tc.want {
			t.Errorf("FloorExpense(%d, %v) = %d, want %d", tc.amount, tc.ratio, got, tc.want)
		}
	}
}

func TestParseRatio(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0.5", 0.5, true},
		{"50%", 0.5, true},
		{"1", 1, true},
		{"1.5", 0, false},
		{"x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseRatio(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseRatio(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
