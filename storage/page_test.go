package storage

import "testing"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CellsPerPage = 8
	return cfg
}

func TestPageWriteNextAdvancesCursor(t *testing.T) {
	p := NewPage(testConfig())
	for i := 0; i < 7; i++ {
		v := int64(i * 10)
		offset, err := p.WriteNext(&v)
		if err != nil {
			t.Fatalf("write_next %d: %v", i, err)
		}
		if offset != i {
			t.Fatalf("write_next %d: got offset %d, want %d", i, offset, i)
		}
	}
}

func TestPageWriteNextFailsWhenFull(t *testing.T) {
	p := NewPage(testConfig())
	for i := 0; i < 7; i++ {
		v := int64(i)
		if _, err := p.WriteNext(&v); err != nil {
			t.Fatalf("unexpected error filling page: %v", err)
		}
	}
	v := int64(99)
	if _, err := p.WriteNext(&v); err == nil {
		t.Fatal("expected OffsetOutOfBounds once page is full")
	}
}

func TestPageReadReturnsNilForNull(t *testing.T) {
	p := NewPage(testConfig())
	if _, err := p.WriteNext(nil); err != nil {
		t.Fatalf("write_next nil: %v", err)
	}
	v, err := p.Read(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil for null cell, got %v", *v)
	}
}

func TestPageReadOutOfBounds(t *testing.T) {
	p := NewPage(testConfig())
	if _, err := p.Read(100); err == nil {
		t.Fatal("expected OffsetOutOfBounds for offset beyond cursor cell")
	}
	if _, err := p.Read(7); err == nil {
		t.Fatal("expected OffsetOutOfBounds for the cursor cell itself")
	}
}

func TestPageWriteDoesNotMoveCursor(t *testing.T) {
	p := NewPage(testConfig())
	v := int64(5)
	if err := p.Write(3, &v); err != nil {
		t.Fatalf("write: %v", err)
	}
	if p.cursor() != 0 {
		t.Fatalf("write at offset should not move cursor, got %d", p.cursor())
	}
	got, err := p.Read(3)
	if err != nil || got == nil || *got != 5 {
		t.Fatalf("read back: got %v, err %v", got, err)
	}
}

func TestPageBytesRoundTrip(t *testing.T) {
	p := NewPage(testConfig())
	v := int64(42)
	if _, err := p.WriteNext(&v); err != nil {
		t.Fatalf("write_next: %v", err)
	}
	encoded := p.Bytes()
	decoded := PageFromBytes(encoded)
	got, err := decoded.Read(0)
	if err != nil || got == nil || *got != 42 {
		t.Fatalf("round trip mismatch: got %v, err %v", got, err)
	}
}
