package lib

import "testing"

func TestBigNatAddSub(t *testing.T) {
	a := NatFromUint64(10)
	b := NatFromUint64(3)
	if got := a.Add(b).String(); got != "13" {
		t.Errorf("Add: got %s, want 13", got)
	}
	sub, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: unexpected error: %v", err)
	}
	if got := sub.String(); got != "7" {
		t.Errorf("Sub: got %s, want 7", got)
	}
}

func TestBigNatSubUnderflow(t *testing.T) {
	a := NatFromUint64(3)
	b := NatFromUint64(10)
	if _, err := a.Sub(b); err == nil {
		t.Fatal("Sub: expected underflow error, got nil")
	}
}

func TestBigNatSaturatingSub(t *testing.T) {
	a := NatFromUint64(3)
	b := NatFromUint64(10)
	if got := a.SaturatingSub(b).String(); got != "0" {
		t.Errorf("SaturatingSub: got %s, want 0", got)
	}
}

func TestBigNatMulDiv(t *testing.T) {
	n := NatFromUint64(100)
	got, err := n.MulDiv(NatFromUint64(3), NatFromUint64(10))
	if err != nil {
		t.Fatalf("MulDiv: unexpected error: %v", err)
	}
	if want := "30"; got.String() != want {
		t.Errorf("MulDiv: got %s, want %s", got.String(), want)
	}
}

func TestBigNatDivByZero(t *testing.T) {
	n := NatFromUint64(100)
	if _, err := n.Div(ZeroNat()); err == nil {
		t.Fatal("Div: expected error dividing by zero, got nil")
	}
}

func TestBigNatSqrt(t *testing.T) {
	cases := map[uint64]uint64{
		0:   0,
		1:   1,
		4:   2,
		99:  9, // floor(sqrt(99)) = 9
		100: 10,
	}
	for in, want := range cases {
		got := NatFromUint64(in).Sqrt()
		wantNat := NatFromUint64(want)
		if got.Cmp(wantNat) != 0 {
			t.Errorf("Sqrt(%d): got %s, want %d", in, got.String(), want)
		}
	}
}

func TestBigNatRescale(t *testing.T) {
	// 1.00000000 in 8-decimal units rescaled to 6-decimal units should be
	// 1.000000 in 6-decimal units: 100_000_000 -> 1_000_000.
	n := NatFromUint64(100_000_000)
	got := n.Rescale(8, 6)
	if want := "1000000"; got.String() != want {
		t.Errorf("Rescale down: got %s, want %s", got.String(), want)
	}

	// The reverse: 6-decimal units rescaled up to 8 decimals.
	n2 := NatFromUint64(1_000_000)
	got2 := n2.Rescale(6, 8)
	if want := "100000000"; got2.String() != want {
		t.Errorf("Rescale up: got %s, want %s", got2.String(), want)
	}

	// No-op when decimals match.
	n3 := NatFromUint64(42)
	if got3 := n3.Rescale(8, 8); got3.Cmp(n3) != 0 {
		t.Errorf("Rescale same decimals: got %s, want 42", got3.String())
	}
}

func TestBigNatMinCmp(t *testing.T) {
	a := NatFromUint64(5)
	b := NatFromUint64(9)
	if got := a.Min(b).String(); got != "5" {
		t.Errorf("Min: got %s, want 5", got)
	}
	if !a.LessThan(b) {
		t.Error("expected 5 < 9")
	}
	if !b.GreaterThan(a) {
		t.Error("expected 9 > 5")
	}
}

func TestBigNatJSONRoundTrip(t *testing.T) {
	n := NatFromUint64(123456789)
	raw, err := n.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var out BigNat
	if err := out.UnmarshalJSON(raw); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if out.Cmp(n) != 0 {
		t.Errorf("round trip mismatch: got %s, want %s", out.String(), n.String())
	}
}

func TestBigNatZeroValueIsSafe(t *testing.T) {
	var zero BigNat
	if !zero.IsZero() {
		t.Error("zero-value BigNat should be IsZero")
	}
	if got := zero.String(); got != "0" {
		t.Errorf("zero-value BigNat String(): got %s, want 0", got)
	}
	if got := zero.Add(NatFromUint64(5)).String(); got != "5" {
		t.Errorf("zero-value BigNat Add: got %s, want 5", got)
	}
}
