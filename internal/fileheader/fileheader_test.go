package fileheader

import (
	"testing"

	"github.com/IgnacioCantore/Nachos/internal/bitmap"
	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/disk"
)

func newFreeMap() *bitmap.Bitmap {
	fm := bitmap.New(config.NumSectors)
	fm.Mark(config.FreeMapSector)
	fm.Mark(config.DirectorySector)
	return fm
}

func TestAllocateSmallFile(t *testing.T) {
	fm := newFreeMap()
	h := New()

	if err := h.Allocate(fm, 100); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if h.FileLength() != 100 {
		t.Fatalf("FileLength() = %d, want 100", h.FileLength())
	}
	if h.NumSectors() != 1 {
		t.Fatalf("NumSectors() = %d, want 1", h.NumSectors())
	}
	if h.Raw().IndirSector != config.NoSector {
		t.Fatalf("small file should not claim an indirect sector")
	}
}

func TestAllocateExactlyDirectLimit(t *testing.T) {
	fm := newFreeMap()
	h := New()

	if err := h.Allocate(fm, config.MaxDirectSize); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if h.Raw().IndirSector != config.NoSector {
		t.Fatalf("file at exactly MaxDirectSize should not need an indirect block")
	}
	if h.ByteToSector(config.MaxDirectSize-1) == config.NoSector {
		t.Fatalf("last byte of a direct-only file must map to a real sector")
	}
}

func TestAllocateRequiresIndirection(t *testing.T) {
	fm := newFreeMap()
	h := New()

	size := config.MaxDirectSize + config.SectorSize*5
	if err := h.Allocate(fm, size); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if h.Raw().IndirSector == config.NoSector {
		t.Fatalf("file beyond MaxDirectSize must claim an indirect sector")
	}
	if h.ByteToSector(size-1) == config.NoSector {
		t.Fatalf("last byte must map to a real sector")
	}
}

func TestAllocateNoSpace(t *testing.T) {
	fm := bitmap.New(config.NumSectors)
	for i := 0; i < config.NumSectors-2; i++ {
		fm.Find()
	}

	h := New()
	if err := h.Allocate(fm, config.MaxDirectSize); err == nil {
		t.Fatalf("expected no-space error")
	}
	if fm.CountClear() != 2 {
		t.Fatalf("failed allocation must not touch the free map, got %d clear bits", fm.CountClear())
	}
}

func TestByteToSectorCoversEveryDataSector(t *testing.T) {
	fm := newFreeMap()
	h := New()
	size := config.MaxDirectSize + config.NumIndirect*config.SectorSize + config.SectorSize

	if err := h.Allocate(fm, size); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	seen := make(map[int]bool)
	for off := 0; off < size; off += config.SectorSize {
		s := h.ByteToSector(off)
		if s == config.NoSector {
			t.Fatalf("offset %d has no sector", off)
		}
		if seen[s] {
			t.Fatalf("sector %d mapped from two different offsets", s)
		}
		seen[s] = true
	}
}

func TestFetchWriteBackRoundTrip(t *testing.T) {
	fm := newFreeMap()
	h := New()
	size := config.MaxDirectSize + config.NumIndirect*config.SectorSize + config.SectorSize
	if err := h.Allocate(fm, size); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	d := disk.NewMemDisk(config.NumSectors)
	const headerSector = 5
	if err := h.WriteBack(d, headerSector); err != nil {
		t.Fatalf("write back: %v", err)
	}

	got := New()
	if err := got.FetchFrom(d, headerSector); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if got.FileLength() != h.FileLength() {
		t.Fatalf("FileLength mismatch: got %d want %d", got.FileLength(), h.FileLength())
	}
	for off := 0; off < size; off += config.SectorSize {
		if got.ByteToSector(off) != h.ByteToSector(off) {
			t.Fatalf("ByteToSector(%d) mismatch after round trip", off)
		}
	}
}

func TestDeallocateClearsEveryClaimedSector(t *testing.T) {
	fm := newFreeMap()
	h := New()
	size := config.MaxDirectSize + config.NumIndirect*config.SectorSize + config.SectorSize
	if err := h.Allocate(fm, size); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	before := fm.CountClear()
	h.Deallocate(fm)
	after := fm.CountClear()

	// Data sectors, the single-indirect block, and two second-level blocks:
	// NumIndirect+1 data sectors lie past the direct range.
	wantFreed := h.NumSectors() + 1 + 2
	if after-before != wantFreed {
		t.Fatalf("deallocate freed %d sectors, want %d", after-before, wantFreed)
	}
}

func TestExpandGrowsWithinDirectRegion(t *testing.T) {
	fm := newFreeMap()
	h := New()
	if err := h.Allocate(fm, config.SectorSize/2); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := h.Expand(fm, config.SectorSize); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if h.FileLength() != config.SectorSize/2+config.SectorSize {
		t.Fatalf("FileLength() = %d after expand", h.FileLength())
	}
	for off := 0; off < h.FileLength(); off += config.SectorSize {
		if h.ByteToSector(off) == config.NoSector {
			t.Fatalf("offset %d unmapped after expand", off)
		}
	}
}

func TestExpandCrossesIntoIndirection(t *testing.T) {
	fm := newFreeMap()
	h := New()
	if err := h.Allocate(fm, config.MaxDirectSize-config.SectorSize); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if h.Raw().IndirSector != config.NoSector {
		t.Fatalf("setup file should still be direct-only")
	}

	if err := h.Expand(fm, config.SectorSize*3); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if h.Raw().IndirSector == config.NoSector {
		t.Fatalf("expand across MaxDirectSize must claim an indirect sector")
	}
	for off := 0; off < h.FileLength(); off += config.SectorSize {
		if h.ByteToSector(off) == config.NoSector {
			t.Fatalf("offset %d unmapped after expand", off)
		}
	}
}
