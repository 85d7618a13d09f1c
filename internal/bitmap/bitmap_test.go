package bitmap

import "testing"

func TestFindClaimsEachBitOnceInOrder(t *testing.T) {
	b := New(8)
	for want := 0; want < 8; want++ {
		got := b.Find()
		if got != want {
			t.Fatalf("Find() = %d, want %d", got, want)
		}
	}
	if got := b.Find(); got != -1 {
		t.Fatalf("Find() on a full bitmap = %d, want -1", got)
	}
}

func TestMarkClearTestRoundTrip(t *testing.T) {
	b := New(16)
	b.Mark(5)
	if !b.Test(5) {
		t.Fatalf("Test(5) = false after Mark(5)")
	}
	b.Clear(5)
	if b.Test(5) {
		t.Fatalf("Test(5) = true after Clear(5)")
	}
}

func TestCountClearTracksMarkedBits(t *testing.T) {
	b := New(10)
	if got := b.CountClear(); got != 10 {
		t.Fatalf("CountClear() = %d, want 10", got)
	}
	b.Mark(0)
	b.Mark(9)
	if got := b.CountClear(); got != 8 {
		t.Fatalf("CountClear() = %d, want 8", got)
	}
}

func TestWriteBackThenFetchFromRoundTrips(t *testing.T) {
	b := New(32)
	b.Mark(0)
	b.Mark(17)
	b.Mark(31)

	var buf rawBuffer
	if err := b.WriteBack(&buf); err != nil {
		t.Fatalf("WriteBack: %v", err)
	}

	got := New(32)
	if err := got.FetchFrom(&buf); err != nil {
		t.Fatalf("FetchFrom: %v", err)
	}
	for _, s := range []int{0, 17, 31} {
		if !got.Test(s) {
			t.Fatalf("bit %d lost across WriteBack/FetchFrom", s)
		}
	}
	if got.CountClear() != b.CountClear() {
		t.Fatalf("CountClear() = %d, want %d", got.CountClear(), b.CountClear())
	}
}

// rawBuffer is a fixed-size in-memory ReaderAt/WriterAt, standing in for
// the disk sector a real bitmap is staged against.
type rawBuffer struct {
	data [4]byte
}

func (r *rawBuffer) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, r.data[off:])
	return n, nil
}

func (r *rawBuffer) WriteAt(p []byte, off int64) (int, error) {
	n := copy(r.data[off:], p)
	return n, nil
}
