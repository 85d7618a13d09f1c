// Package fileheader implements the on-disk file header: the per-file
// block index of direct pointers plus one level of single-indirect and one
// level of double-indirect pointers described in §3 of the design. It is
// grounded directly on the teaching kernel's own file_header.cc, translated
// from C's fixed-size arrays to Go slices sized by internal/config's
// sector-derived constants.
package fileheader

import (
	"encoding/binary"
	"fmt"

	"github.com/IgnacioCantore/Nachos/internal/bitmap"
	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/disk"
	"github.com/IgnacioCantore/Nachos/internal/kernelerr"
)

// RawFileHeader is the part of a FileHeader that fits in exactly one
// sector, matching the bit-exact layout of §6: numBytes (u32), numSectors
// (u32), indirSector (i32), then NumDirect data-sector ids.
type RawFileHeader struct {
	NumBytes    uint32
	NumSectors  uint32
	IndirSector int32
	DataSectors [config.NumDirect]int32
}

// FileHeader is the in-memory representation of a file's metadata and
// block index: the raw header sector plus, when present, the single- and
// double-indirect blocks it points to.
type FileHeader struct {
	raw         RawFileHeader
	firstIndir  [config.NumIndirect]int32
	secondIndir [config.NumIndirect][config.NumIndirect]int32
}

// New returns a FileHeader with every slot set to the "none" sentinel,
// ready for Allocate.
func New() *FileHeader {
	h := &FileHeader{}
	h.raw.IndirSector = config.NoSector
	for i := range h.raw.DataSectors {
		h.raw.DataSectors[i] = config.NoSector
	}
	for i := range h.firstIndir {
		h.firstIndir[i] = config.NoSector
		for j := range h.secondIndir[i] {
			h.secondIndir[i][j] = config.NoSector
		}
	}
	return h
}

func divRoundUp(n, d int) int { return (n + d - 1) / d }

// Allocate reserves ceil(fileSize/SectorSize) data sectors, plus whatever
// indirect infrastructure is needed, out of freeMap. On failure it leaves
// freeMap completely untouched: it first checks CountClear against the
// total it will need, and only claims sectors once the check passes.
func (h *FileHeader) Allocate(freeMap *bitmap.Bitmap, fileSize int) error {
	h.raw.NumBytes = uint32(fileSize)
	h.raw.NumSectors = uint32(divRoundUp(fileSize, config.SectorSize))

	var indirSectors int
	if fileSize > config.MaxDirectSize {
		indirData := fileSize - config.MaxDirectSize
		indirSectors = divRoundUp(indirData, config.MaxIndirSize) + 1
	}

	if freeMap.CountClear() < int(h.raw.NumSectors)+indirSectors {
		return fmt.Errorf("fileheader: allocate %d bytes: %w", fileSize, kernelerr.ErrNoSpace)
	}

	dirSectors := min(int(h.raw.NumSectors), config.NumDirect)
	for i := 0; i < dirSectors; i++ {
		h.raw.DataSectors[i] = int32(freeMap.Find())
	}
	for i := dirSectors; i < config.NumDirect; i++ {
		h.raw.DataSectors[i] = config.NoSector
	}

	if indirSectors == 0 {
		h.raw.IndirSector = config.NoSector
		return nil
	}

	h.raw.IndirSector = int32(freeMap.Find())
	indirSectors--
	sectorsLeft := int(h.raw.NumSectors) - config.NumDirect

	for i := 0; i < config.NumIndirect; i++ {
		if i < indirSectors {
			h.firstIndir[i] = int32(freeMap.Find())
			for j := 0; j < config.NumIndirect; j++ {
				if sectorsLeft > 0 {
					h.secondIndir[i][j] = int32(freeMap.Find())
					sectorsLeft--
				} else {
					h.secondIndir[i][j] = config.NoSector
				}
			}
		} else {
			h.firstIndir[i] = config.NoSector
			for j := 0; j < config.NumIndirect; j++ {
				h.secondIndir[i][j] = config.NoSector
			}
		}
	}
	return nil
}

// Deallocate clears every sector this header references. Every referenced
// sector must already be marked in freeMap; violating that is a corrupted
// free map, not a recoverable error, so it panics rather than returning one
// (§7: fatal invariant violations trip a hard assertion).
func (h *FileHeader) Deallocate(freeMap *bitmap.Bitmap) {
	dirSectors := min(int(h.raw.NumSectors), config.NumDirect)
	for i := 0; i < dirSectors; i++ {
		s := int(h.raw.DataSectors[i])
		if !freeMap.Test(s) {
			panic(fmt.Sprintf("fileheader: deallocate: sector %d not marked", s))
		}
		freeMap.Clear(s)
	}

	if h.raw.IndirSector == config.NoSector {
		return
	}

	if !freeMap.Test(int(h.raw.IndirSector)) {
		panic(fmt.Sprintf("fileheader: deallocate: indirect sector %d not marked", h.raw.IndirSector))
	}
	freeMap.Clear(int(h.raw.IndirSector))

	for i := 0; i < config.NumIndirect && h.firstIndir[i] != config.NoSector; i++ {
		s := int(h.firstIndir[i])
		if !freeMap.Test(s) {
			panic(fmt.Sprintf("fileheader: deallocate: first-indirect sector %d not marked", s))
		}
		freeMap.Clear(s)

		for j := 0; j < config.NumIndirect && h.secondIndir[i][j] != config.NoSector; j++ {
			s := int(h.secondIndir[i][j])
			if !freeMap.Test(s) {
				panic(fmt.Sprintf("fileheader: deallocate: data sector %d not marked", s))
			}
			freeMap.Clear(s)
		}
	}
}

// FetchFrom reads the header sector and, if present, the single-indirect
// block and every active second-indirect block it names.
func (h *FileHeader) FetchFrom(d *disk.Disk, sector int) error {
	buf := make([]byte, config.SectorSize)
	if err := d.ReadSector(sector, buf); err != nil {
		return fmt.Errorf("fileheader: fetch: %w", err)
	}
	h.decodeRaw(buf)

	if h.raw.IndirSector == config.NoSector {
		return nil
	}

	if err := d.ReadSector(int(h.raw.IndirSector), buf); err != nil {
		return fmt.Errorf("fileheader: fetch indirect: %w", err)
	}
	decodeInt32Block(buf, h.firstIndir[:])

	for i := 0; i < config.NumIndirect && h.firstIndir[i] != config.NoSector; i++ {
		if err := d.ReadSector(int(h.firstIndir[i]), buf); err != nil {
			return fmt.Errorf("fileheader: fetch second-indirect: %w", err)
		}
		decodeInt32Block(buf, h.secondIndir[i][:])
	}
	return nil
}

// WriteBack writes the header sector and, if present, the single-indirect
// block and every active second-indirect block back to disk.
func (h *FileHeader) WriteBack(d *disk.Disk, sector int) error {
	buf := make([]byte, config.SectorSize)
	h.encodeRaw(buf)
	if err := d.WriteSector(sector, buf); err != nil {
		return fmt.Errorf("fileheader: write back: %w", err)
	}

	if h.raw.IndirSector == config.NoSector {
		return nil
	}

	encodeInt32Block(buf, h.firstIndir[:])
	if err := d.WriteSector(int(h.raw.IndirSector), buf); err != nil {
		return fmt.Errorf("fileheader: write back indirect: %w", err)
	}

	for i := 0; i < config.NumIndirect && h.firstIndir[i] != config.NoSector; i++ {
		encodeInt32Block(buf, h.secondIndir[i][:])
		if err := d.WriteSector(int(h.firstIndir[i]), buf); err != nil {
			return fmt.Errorf("fileheader: write back second-indirect: %w", err)
		}
	}
	return nil
}

// ByteToSector translates an offset within the file to the disk sector
// storing it. Undefined for offset >= FileLength().
func (h *FileHeader) ByteToSector(offset int) int {
	sectorIndex := offset / config.SectorSize
	if sectorIndex < config.NumDirect {
		return int(h.raw.DataSectors[sectorIndex])
	}
	indirIndex := sectorIndex - config.NumDirect
	return int(h.secondIndir[indirIndex/config.NumIndirect][indirIndex%config.NumIndirect])
}

// FileLength returns the number of bytes in the file.
func (h *FileHeader) FileLength() int { return int(h.raw.NumBytes) }

// NumSectors returns the number of data sectors currently allocated.
func (h *FileHeader) NumSectors() int { return int(h.raw.NumSectors) }

// Raw exposes the fixed-size on-disk fields, e.g. for the consistency
// checker.
func (h *FileHeader) Raw() *RawFileHeader { return &h.raw }

// FirstIndirectSectors returns a copy of the single-indirect block's
// sector pointers, for the consistency checker to verify without also
// walking every second-indirect leaf (those are already covered by
// ByteToSector over the file's data range).
func (h *FileHeader) FirstIndirectSectors() [config.NumIndirect]int32 {
	return h.firstIndir
}

// Expand grows the file in place by newBytes, claiming whatever additional
// data and indirect sectors are needed. On failure freeMap is left
// untouched and the header's own fields are unmodified; the caller is
// responsible for writing the header back on success.
func (h *FileHeader) Expand(freeMap *bitmap.Bitmap, newBytes int) error {
	if newBytes == 0 {
		return fmt.Errorf("fileheader: expand: newBytes must be positive")
	}

	onLastSector := (config.SectorSize - int(h.raw.NumBytes)%config.SectorSize) % config.SectorSize
	remainingData := 0
	if newBytes > onLastSector {
		remainingData = newBytes - onLastSector
	}
	newSectors := divRoundUp(remainingData, config.SectorSize)

	var indirSectors int
	if h.raw.IndirSector != config.NoSector {
		used := (int(h.raw.NumSectors) - config.NumDirect) % config.NumIndirect
		onLastIndir := (config.NumIndirect - used) % config.NumIndirect
		remainingSectors := 0
		if newSectors > onLastIndir {
			remainingSectors = newSectors - onLastIndir
		}
		indirSectors = divRoundUp(remainingSectors, config.NumIndirect)
	} else if int(h.raw.NumBytes)+newBytes > config.MaxDirectSize {
		onDirSectors := config.NumDirect - int(h.raw.NumSectors)
		indirSectors = divRoundUp(newSectors-onDirSectors, config.NumIndirect) + 1
	}

	if freeMap.CountClear() < newSectors+indirSectors {
		return fmt.Errorf("fileheader: expand by %d bytes: %w", newBytes, kernelerr.ErrNoSpace)
	}

	oldSectors := int(h.raw.NumSectors)
	h.raw.NumBytes += uint32(newBytes)
	h.raw.NumSectors += uint32(newSectors)

	if oldSectors < config.NumDirect {
		for i := oldSectors; i < min(int(h.raw.NumSectors), config.NumDirect); i++ {
			h.raw.DataSectors[i] = int32(freeMap.Find())
			newSectors--
		}
	}

	if int(h.raw.NumSectors) > config.NumDirect {
		if h.raw.IndirSector == config.NoSector {
			h.raw.IndirSector = int32(freeMap.Find())
			indirSectors--
		}

		if indirSectors > 0 || newSectors > 0 {
			for i := 0; i < config.NumIndirect && (indirSectors > 0 || newSectors > 0); i++ {
				if h.firstIndir[i] == config.NoSector {
					h.firstIndir[i] = int32(freeMap.Find())
					indirSectors--
				}
				for j := 0; j < config.NumIndirect && newSectors > 0; j++ {
					if h.secondIndir[i][j] == config.NoSector {
						h.secondIndir[i][j] = int32(freeMap.Find())
						newSectors--
					}
				}
			}
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (h *FileHeader) decodeRaw(buf []byte) {
	h.raw.NumBytes = binary.LittleEndian.Uint32(buf[0:4])
	h.raw.NumSectors = binary.LittleEndian.Uint32(buf[4:8])
	h.raw.IndirSector = int32(binary.LittleEndian.Uint32(buf[8:12]))
	off := 12
	for i := 0; i < config.NumDirect; i++ {
		h.raw.DataSectors[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
}

func (h *FileHeader) encodeRaw(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.raw.NumBytes)
	binary.LittleEndian.PutUint32(buf[4:8], h.raw.NumSectors)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.raw.IndirSector))
	off := 12
	for i := 0; i < config.NumDirect; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(h.raw.DataSectors[i]))
		off += 4
	}
}

func decodeInt32Block(buf []byte, dst []int32) {
	off := 0
	for i := range dst {
		dst[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
}

func encodeInt32Block(buf []byte, src []int32) {
	off := 0
	for _, v := range src {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
		off += 4
	}
	for ; off < len(buf); off++ {
		buf[off] = 0
	}
}
