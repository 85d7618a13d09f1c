// Package vfile implements the in-memory, open-file view over a
// fileheader.FileHeader: sector-granular io.ReaderAt/io.WriterAt access
// with the read clamped to the file's current length and the write
// path able to grow the file through a caller-supplied Expander.
//
// vfile intentionally does not import the façade package that grows
// files (internal/fs): a write past the end of the file needs
// more sectors allocated, and allocation needs the free map and its
// lock, both of which live above vfile in the dependency graph. Taking
// an Expander interface instead of a concrete type keeps that edge
// pointing the right way.
package vfile

import (
	"fmt"
	"io"

	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/disk"
	"github.com/IgnacioCantore/Nachos/internal/fileheader"
)

// Expander grows the file described by h, which occupies sector on disk,
// by newBytes. A correct implementation allocates the additional sectors
// under the free-map lock, calls h.Expand, and persists both the free map
// and h before returning.
type Expander interface {
	ExpandFile(h *fileheader.FileHeader, sector int, newBytes int) error
}

// File is a sector-backed open file. It holds no operating-system file
// descriptor of its own; sector is the header's location on disk and
// header is the already-fetched block index for the data.
type File struct {
	disk     *disk.Disk
	header   *fileheader.FileHeader
	sector   int
	expander Expander
}

// Open wraps an already-fetched header as a readable and, if expander is
// non-nil, writable file view.
func Open(d *disk.Disk, header *fileheader.FileHeader, sector int, expander Expander) *File {
	return &File{disk: d, header: header, sector: sector, expander: expander}
}

// Header returns the file's block index, e.g. so the caller can write it
// back after a Remove-pending flag change.
func (f *File) Header() *fileheader.FileHeader { return f.header }

// Length returns the file's current length in bytes.
func (f *File) Length() int { return f.header.FileLength() }

// ReadAt implements io.ReaderAt, reading at most the bytes available
// before the file's current length. Reads entirely past the end of the
// file return (0, io.EOF); partial reads return a nil error only when the
// whole of p was satisfied.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("vfile: ReadAt: negative offset %d", off)
	}

	length := int64(f.header.FileLength())
	if off >= length {
		return 0, io.EOF
	}

	want := len(p)
	if off+int64(want) > length {
		want = int(length - off)
	}

	n, err := f.transferSectors(p[:want], off, false)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. A write that extends past the file's
// current length grows the file first, through the Expander supplied at
// Open; with a nil Expander, writes past the end fail rather than
// silently truncating.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("vfile: WriteAt: negative offset %d", off)
	}

	end := off + int64(len(p))
	length := int64(f.header.FileLength())
	if end > length {
		if f.expander == nil {
			return 0, fmt.Errorf("vfile: WriteAt: write past end of file and no expander configured")
		}
		growBy := int(end - length)
		if err := f.expander.ExpandFile(f.header, f.sector, growBy); err != nil {
			return 0, fmt.Errorf("vfile: WriteAt: %w", err)
		}
	}

	return f.transferSectors(p, off, true)
}

// transferSectors copies p to or from the sectors backing [off, off+len(p))
// one sector at a time, since a run may straddle several non-contiguous
// disk sectors.
func (f *File) transferSectors(p []byte, off int64, write bool) (int, error) {
	transferred := 0
	for transferred < len(p) {
		curOff := off + int64(transferred)
		sectorIndex := int(curOff) / config.SectorSize
		sectorOff := int(curOff) % config.SectorSize
		sector := f.header.ByteToSector(sectorIndex * config.SectorSize)
		if sector == config.NoSector {
			return transferred, fmt.Errorf("vfile: offset %d has no backing sector", curOff)
		}

		chunk := config.SectorSize - sectorOff
		if remaining := len(p) - transferred; chunk > remaining {
			chunk = remaining
		}

		buf := make([]byte, config.SectorSize)
		if write && chunk != config.SectorSize {
			if err := f.disk.ReadSector(sector, buf); err != nil {
				return transferred, fmt.Errorf("vfile: read-modify-write sector %d: %w", sector, err)
			}
		}

		if write {
			copy(buf[sectorOff:sectorOff+chunk], p[transferred:transferred+chunk])
			if err := f.disk.WriteSector(sector, buf); err != nil {
				return transferred, fmt.Errorf("vfile: write sector %d: %w", sector, err)
			}
		} else {
			if err := f.disk.ReadSector(sector, buf); err != nil {
				return transferred, fmt.Errorf("vfile: read sector %d: %w", sector, err)
			}
			copy(p[transferred:transferred+chunk], buf[sectorOff:sectorOff+chunk])
		}

		transferred += chunk
	}
	return transferred, nil
}
