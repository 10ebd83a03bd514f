package memmap

import "testing"

type byteSlice []byte

func (b byteSlice) ReadByteAt(off uint64) (byte, error) {
	if off >= uint64(len(b)) {
		return 0, &ErrUnmapped{Addr: off}
	}
	return b[off], nil
}

func (b byteSlice) Size() uint64 { return uint64(len(b)) }

func TestAddBackerAndRead(t *testing.T) {
	var m Map
	mem := byteSlice{0xde, 0xad, 0xbe, 0xef}
	if err := m.AddBacker(0x1000, mem); err != nil {
		t.Fatalf("AddBacker: %v", err)
	}

	b, err := m.Read(0x1002)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b != 0xbe {
		t.Errorf("Read(0x1002) = %#x, want 0xbe", b)
	}

	if !m.Contains(0x1000) || !m.Contains(0x1003) {
		t.Errorf("Contains should be true within backer range")
	}
	if m.Contains(0x1004) {
		t.Errorf("Contains(0x1004) should be false (exclusive end)")
	}
}

func TestAddBackerOverlap(t *testing.T) {
	var m Map
	if err := m.AddBacker(0x1000, byteSlice(make([]byte, 0x100))); err != nil {
		t.Fatalf("AddBacker: %v", err)
	}

	cases := []uint64{0x1000, 0x1050, 0x1080}
	for _, base := range cases {
		if err := m.AddBacker(base, byteSlice(make([]byte, 0x100))); err == nil {
			t.Errorf("AddBacker(%#x) should overlap and fail", base)
		} else if _, ok := err.(*ErrOverlap); !ok {
			t.Errorf("AddBacker(%#x) error = %T, want *ErrOverlap", base, err)
		}
	}

	// Adjacent, non-overlapping backer succeeds.
	if err := m.AddBacker(0x1100, byteSlice(make([]byte, 0x10))); err != nil {
		t.Errorf("adjacent AddBacker should succeed: %v", err)
	}
}

func TestUpdateBacker(t *testing.T) {
	var m Map
	if err := m.AddBacker(0x2000, byteSlice{1, 2, 3}); err != nil {
		t.Fatalf("AddBacker: %v", err)
	}

	if err := m.UpdateBacker(0x3000, byteSlice{9}); err == nil {
		t.Errorf("UpdateBacker at unregistered base should fail")
	}

	if err := m.UpdateBacker(0x2000, byteSlice{9, 9, 9}); err != nil {
		t.Fatalf("UpdateBacker: %v", err)
	}
	got, err := m.Read(0x2001)
	if err != nil || got != 9 {
		t.Errorf("Read after update = (%v, %v), want (9, nil)", got, err)
	}
}

func TestReadUnmapped(t *testing.T) {
	var m Map
	if err := m.AddBacker(0x1000, byteSlice{1, 2}); err != nil {
		t.Fatalf("AddBacker: %v", err)
	}
	if _, err := m.Read(0x5000); err == nil {
		t.Errorf("Read of unmapped address should fail")
	}
}

func TestBounds(t *testing.T) {
	var m Map
	if _, _, ok := m.Bounds(); ok {
		t.Errorf("Bounds of empty map should report ok=false")
	}

	if err := m.AddBacker(0x1000, byteSlice(make([]byte, 0x10))); err != nil {
		t.Fatalf("AddBacker: %v", err)
	}
	if err := m.AddBacker(0x2000, byteSlice(make([]byte, 0x20))); err != nil {
		t.Fatalf("AddBacker: %v", err)
	}

	min, max, ok := m.Bounds()
	if !ok || min != 0x1000 || max != 0x2020 {
		t.Errorf("Bounds() = (%#x, %#x, %v), want (0x1000, 0x2020, true)", min, max, ok)
	}
}
