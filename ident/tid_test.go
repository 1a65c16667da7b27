package ident

import "testing"

func TestTIDOrdering(t *testing.T) {
	a := TIDFromUint64(1)
	b := TIDFromUint64(2)
	if !a.Before(b) {
		t.Fatalf("TIDFromUint64(1).Before(TIDFromUint64(2)) = false, want true")
	}
	if b.Before(a) {
		t.Fatalf("TIDFromUint64(2).Before(TIDFromUint64(1)) = true, want false")
	}
	if !a.BeforeOrEqual(a) {
		t.Fatalf("a.BeforeOrEqual(a) = false, want true")
	}
}

func TestTIDFromUint64BigEndian(t *testing.T) {
	tid := TIDFromUint64(0x0102030405060708)
	want := TID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if tid != want {
		t.Fatalf("TIDFromUint64(...) = %x, want %x", tid, want)
	}
}

func TestZeroTID(t *testing.T) {
	if !ZeroTID.IsZero() {
		t.Fatalf("ZeroTID.IsZero() = false, want true")
	}
	if TIDFromUint64(1).IsZero() {
		t.Fatalf("TIDFromUint64(1).IsZero() = true, want false")
	}
}
