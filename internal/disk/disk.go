// Package disk implements the synchronous disk abstraction every other
// component reads and writes sectors through. A real disk can only service
// one request at a time; that is modelled here with a weighted semaphore of
// size one, so any two callers racing to read or write a sector serialize
// exactly the way a blocking disk request would, per the kernel's
// concurrency model.
package disk

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/IgnacioCantore/Nachos/internal/config"
)

// Disk is a fixed-size sequence of config.NumSectors sectors of
// config.SectorSize bytes each, backed by a regular file or, for tests, an
// in-memory buffer.
type Disk struct {
	backing    backing
	numSectors int
	sem        *semaphore.Weighted
}

type backing interface {
	io.ReaderAt
	io.WriterAt
	Close() error
}

// Open opens (creating if necessary) a disk image file of exactly
// numSectors*config.SectorSize bytes.
func Open(path string, numSectors int) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}

	size := int64(numSectors) * config.SectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("disk: truncate %s: %w", path, err)
		}
	}

	return &Disk{backing: f, numSectors: numSectors, sem: semaphore.NewWeighted(1)}, nil
}

// memBacking is an in-memory disk image used by tests so they never touch
// the filesystem.
type memBacking struct {
	data []byte
}

func (m *memBacking) ReadAt(p []byte, off int64) (int, error)  { return copyAt(m.data, p, off) }
func (m *memBacking) WriteAt(p []byte, off int64) (int, error) { return writeAt(m.data, p, off) }
func (m *memBacking) Close() error                             { return nil }

func copyAt(src, dst []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(src)) {
		return 0, io.EOF
	}
	n := copy(dst, src[off:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

func writeAt(dst, src []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(src)) > int64(len(dst)) {
		return 0, io.EOF
	}
	return copy(dst[off:], src), nil
}

// NewMemDisk returns a zeroed, in-memory disk of numSectors sectors. Used
// by tests.
func NewMemDisk(numSectors int) *Disk {
	return &Disk{
		backing:    &memBacking{data: make([]byte, numSectors*config.SectorSize)},
		numSectors: numSectors,
		sem:        semaphore.NewWeighted(1),
	}
}

func (d *Disk) NumSectors() int { return d.numSectors }

func (d *Disk) checkSector(sector int) error {
	if sector < 0 || sector >= d.numSectors {
		return fmt.Errorf("disk: sector %d out of range [0,%d)", sector, d.numSectors)
	}
	return nil
}

// ReadSector blocks until the disk is free, then reads exactly
// config.SectorSize bytes into buf.
func (d *Disk) ReadSector(sector int, buf []byte) error {
	if err := d.checkSector(sector); err != nil {
		return err
	}
	if len(buf) != config.SectorSize {
		return fmt.Errorf("disk: read buffer must be %d bytes, got %d", config.SectorSize, len(buf))
	}

	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	off := int64(sector) * config.SectorSize
	if _, err := d.backing.ReadAt(buf, off); err != nil && err != io.EOF {
		return fmt.Errorf("disk: read sector %d: %w", sector, err)
	}
	return nil
}

// WriteSector blocks until the disk is free, then writes exactly
// config.SectorSize bytes from buf.
func (d *Disk) WriteSector(sector int, buf []byte) error {
	if err := d.checkSector(sector); err != nil {
		return err
	}
	if len(buf) != config.SectorSize {
		return fmt.Errorf("disk: write buffer must be %d bytes, got %d", config.SectorSize, len(buf))
	}

	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	off := int64(sector) * config.SectorSize
	if _, err := d.backing.WriteAt(buf, off); err != nil {
		return fmt.Errorf("disk: write sector %d: %w", sector, err)
	}
	return nil
}

func (d *Disk) Close() error { return d.backing.Close() }
