package disk

import (
	"bytes"
	"testing"

	"github.com/IgnacioCantore/Nachos/internal/config"
)

func TestWriteSectorThenReadSectorRoundTrips(t *testing.T) {
	d := NewMemDisk(4)
	want := bytes.Repeat([]byte{0xAB}, config.SectorSize)

	if err := d.WriteSector(2, want); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}

	got := make([]byte, config.SectorSize)
	if err := d.ReadSector(2, got); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back %x, want %x", got, want)
	}
}

func TestWriteSectorDoesNotTouchAdjacentSectors(t *testing.T) {
	d := NewMemDisk(4)
	if err := d.WriteSector(1, bytes.Repeat([]byte{0xFF}, config.SectorSize)); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}

	zero := make([]byte, config.SectorSize)
	got := make([]byte, config.SectorSize)
	if err := d.ReadSector(0, got); err != nil {
		t.Fatalf("ReadSector(0): %v", err)
	}
	if !bytes.Equal(got, zero) {
		t.Fatalf("sector 0 was touched by a write to sector 1")
	}
	if err := d.ReadSector(2, got); err != nil {
		t.Fatalf("ReadSector(2): %v", err)
	}
	if !bytes.Equal(got, zero) {
		t.Fatalf("sector 2 was touched by a write to sector 1")
	}
}

func TestReadSectorRejectsOutOfRangeSector(t *testing.T) {
	d := NewMemDisk(4)
	buf := make([]byte, config.SectorSize)
	if err := d.ReadSector(4, buf); err == nil {
		t.Fatalf("expected an error reading sector 4 of a 4-sector disk")
	}
	if err := d.ReadSector(-1, buf); err == nil {
		t.Fatalf("expected an error reading sector -1")
	}
}

func TestWriteSectorRejectsWrongSizedBuffer(t *testing.T) {
	d := NewMemDisk(4)
	if err := d.WriteSector(0, make([]byte, config.SectorSize-1)); err == nil {
		t.Fatalf("expected an error writing an undersized buffer")
	}
}

func TestConcurrentWritesToDistinctSectorsDoNotCorruptEachOther(t *testing.T) {
	d := NewMemDisk(4)
	done := make(chan struct{})

	for s := 0; s < 4; s++ {
		go func(sector int) {
			buf := bytes.Repeat([]byte{byte(sector + 1)}, config.SectorSize)
			d.WriteSector(sector, buf)
			done <- struct{}{}
		}(s)
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	for s := 0; s < 4; s++ {
		got := make([]byte, config.SectorSize)
		if err := d.ReadSector(s, got); err != nil {
			t.Fatalf("ReadSector(%d): %v", s, err)
		}
		want := bytes.Repeat([]byte{byte(s + 1)}, config.SectorSize)
		if !bytes.Equal(got, want) {
			t.Fatalf("sector %d = %x, want %x", s, got, want)
		}
	}
}
