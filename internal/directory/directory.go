// Package directory implements the fixed-record directory table: a
// UNIX-like mapping from file name to header sector, stored as an
// ordinary file and grown in place when it runs out of entries.
package directory

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/disk"
	"github.com/IgnacioCantore/Nachos/internal/fileheader"
	"github.com/IgnacioCantore/Nachos/internal/vfile"
)

// entrySize is the on-disk size of one DirectoryEntry: 1 byte in-use flag,
// 4 byte sector, FileNameMaxLen+1 bytes of name, 1 byte isDir flag.
const entrySize = 1 + 4 + (config.FileNameMaxLen + 1) + 1

// DirectoryEntry names one file or subdirectory and the sector holding
// its header.
type DirectoryEntry struct {
	InUse  bool
	Sector int
	Name   string
	IsDir  bool
}

// Directory is an in-memory directory table. The zero value is not
// usable; build one with New or FetchFrom.
type Directory struct {
	entries []DirectoryEntry
}

// New returns an empty directory with room for size entries.
func New(size int) *Directory {
	return &Directory{entries: make([]DirectoryEntry, size)}
}

// EntrySize returns the fixed size, in bytes, of one directory entry,
// e.g. so a caller can size the backing file.
func EntrySize() int { return entrySize }

// Len returns the directory's current table size.
func (d *Directory) Len() int { return len(d.entries) }

// reader is the minimal surface Directory needs to load its table; both
// vfile.File and a plain bytes.Reader-backed stub satisfy it.
type reader interface {
	ReadAt(p []byte, off int64) (int, error)
}

type writer interface {
	WriteAt(p []byte, off int64) (int, error)
}

// FetchFrom loads the table from a file of length fileLength bytes,
// replacing whatever table New built.
func (d *Directory) FetchFrom(r reader, fileLength int) error {
	if fileLength%entrySize != 0 {
		return fmt.Errorf("directory: fetch: file length %d is not a multiple of entry size %d", fileLength, entrySize)
	}
	tableSize := fileLength / entrySize
	buf := make([]byte, fileLength)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("directory: fetch: %w", err)
	}

	d.entries = make([]DirectoryEntry, tableSize)
	for i := 0; i < tableSize; i++ {
		d.entries[i] = decodeEntry(buf[i*entrySize : (i+1)*entrySize])
	}
	return nil
}

// WriteBack persists the table to w.
func (d *Directory) WriteBack(w writer) error {
	buf := make([]byte, len(d.entries)*entrySize)
	for i, e := range d.entries {
		encodeEntry(buf[i*entrySize:(i+1)*entrySize], e)
	}
	if _, err := w.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("directory: write back: %w", err)
	}
	return nil
}

// FindIndex returns the table index of name, or -1 if absent.
func (d *Directory) FindIndex(name string) int {
	for i, e := range d.entries {
		if e.InUse && e.Name == name {
			return i
		}
	}
	return -1
}

// Find returns the header sector for name, or config.NoSector if absent.
func (d *Directory) Find(name string) int {
	if i := d.FindIndex(name); i != -1 {
		return d.entries[i].Sector
	}
	return config.NoSector
}

// Add inserts name into the first free slot, or, if the table is full,
// calls grow to extend the backing file by one batch of entries and
// retries once. It returns false, without error, when name is already
// present, or when the table is full and grow is nil. A nil grow means the caller never wants this
// directory to expand past its initial size.
func (d *Directory) Add(name string, sector int, isDir bool, grow func(extraBytes int) error) (bool, error) {
	if len(name) > config.FileNameMaxLen {
		return false, fmt.Errorf("directory: add %q: name longer than %d bytes", name, config.FileNameMaxLen)
	}
	if d.FindIndex(name) != -1 {
		return false, nil
	}

	if i := d.firstFree(); i != -1 {
		d.entries[i] = DirectoryEntry{InUse: true, Sector: sector, Name: name, IsDir: isDir}
		return true, nil
	}

	if grow == nil {
		return false, nil
	}
	if err := grow(config.NewDirEntries * entrySize); err != nil {
		return false, fmt.Errorf("directory: add %q: expand: %w", name, err)
	}

	oldSize := len(d.entries)
	grown := make([]DirectoryEntry, oldSize+config.NewDirEntries)
	copy(grown, d.entries)
	d.entries = grown
	d.entries[oldSize] = DirectoryEntry{InUse: true, Sector: sector, Name: name, IsDir: isDir}
	return true, nil
}

func (d *Directory) firstFree() int {
	for i, e := range d.entries {
		if !e.InUse {
			return i
		}
	}
	return -1
}

// Remove clears name's entry. It returns false if name was not present.
func (d *Directory) Remove(name string) bool {
	i := d.FindIndex(name)
	if i == -1 {
		return false
	}
	d.entries[i] = DirectoryEntry{}
	return true
}

// IsDir reports whether name names a subdirectory. It returns false for
// an absent name, same as the teaching kernel's version.
func (d *Directory) IsDir(name string) bool {
	if i := d.FindIndex(name); i != -1 {
		return d.entries[i].IsDir
	}
	return false
}

// IsEmpty reports whether every entry is free.
func (d *Directory) IsEmpty() bool {
	for _, e := range d.entries {
		if e.InUse {
			return false
		}
	}
	return true
}

// List returns the in-use entries at this level, directories first-class
// alongside files (callers distinguish via each entry's IsDir field).
func (d *Directory) List() []DirectoryEntry {
	var out []DirectoryEntry
	for _, e := range d.entries {
		if e.InUse {
			out = append(out, e)
		}
	}
	return out
}

// FindSwapFile returns the name of the first in-use entry whose name
// carries the reserved swap-file prefix, clearing that entry as it goes,
// or "", false if none exists. Used during boot cleanup.
func (d *Directory) FindSwapFile() (string, bool) {
	for i, e := range d.entries {
		if e.InUse && !e.IsDir && strings.HasPrefix(e.Name, config.SwapFilePrefix) {
			d.entries[i] = DirectoryEntry{}
			return e.Name, true
		}
	}
	return "", false
}

func decodeEntry(buf []byte) DirectoryEntry {
	inUse := buf[0] != 0
	sector := int(int32(binary.LittleEndian.Uint32(buf[1:5])))
	nameBuf := buf[5 : 5+config.FileNameMaxLen+1]
	nul := len(nameBuf)
	for i, c := range nameBuf {
		if c == 0 {
			nul = i
			break
		}
	}
	name := string(nameBuf[:nul])
	isDir := buf[5+config.FileNameMaxLen+1] != 0
	return DirectoryEntry{InUse: inUse, Sector: sector, Name: name, IsDir: isDir}
}

// loadAt fetches the header and table for the directory at sector,
// bypassing the synchronization registry entirely. It exists only for
// the read-only debugging tree walks below (ListTree, PrintTree), which
// open a directory's file directly instead of going through its
// synchronization record.
func loadAt(d *disk.Disk, sector int) (*Directory, error) {
	h := fileheader.New()
	if err := h.FetchFrom(d, sector); err != nil {
		return nil, fmt.Errorf("directory: load sector %d: %w", sector, err)
	}
	f := vfile.Open(d, h, sector, nil)
	dir := New(0)
	if err := dir.FetchFrom(f, h.FileLength()); err != nil {
		return nil, fmt.Errorf("directory: load sector %d: %w", sector, err)
	}
	return dir, nil
}

// ListTree lists every file and subdirectory under this directory,
// recursing depth-first the way the original's List does: a level's own
// entries first, then each of its subdirectories in turn. Directory
// names carry a trailing slash.
func (d *Directory) ListTree(disk *disk.Disk, path string) ([]string, error) {
	entries := d.List()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			out = append(out, path+"/"+e.Name+"/")
		} else {
			out = append(out, path+"/"+e.Name)
		}
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		sub, err := loadAt(disk, e.Sector)
		if err != nil {
			return nil, err
		}
		nested, err := sub.ListTree(disk, path+"/"+e.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// PrintTree renders this directory and every subdirectory's entries,
// including each file's header metadata, for debugging.
func (d *Directory) PrintTree(disk *disk.Disk, path string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory contents:\n")
	entries := d.List()
	for _, e := range entries {
		typ := "file"
		if e.IsDir {
			typ = "directory"
		}
		fmt.Fprintf(&b, "\nDirectory entry:\n    name: %s\n    sector: %d\n    type: %s\n", e.Name, e.Sector, typ)

		h := fileheader.New()
		if err := h.FetchFrom(disk, e.Sector); err != nil {
			return "", fmt.Errorf("directory: print %q: %w", e.Name, err)
		}
		fmt.Fprintf(&b, "    length: %d bytes, sectors: %d\n", h.FileLength(), h.NumSectors())
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		sub, err := loadAt(disk, e.Sector)
		if err != nil {
			return "", err
		}
		subPath := path + "/" + e.Name
		nested, err := sub.PrintTree(disk, subPath)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "--------------------------------\n--- Directory path: %s\n%s", subPath, nested)
	}
	return b.String(), nil
}

func encodeEntry(buf []byte, e DirectoryEntry) {
	for i := range buf {
		buf[i] = 0
	}
	if e.InUse {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], uint32(int32(e.Sector)))
	copy(buf[5:5+config.FileNameMaxLen+1], []byte(e.Name))
	if e.IsDir {
		buf[5+config.FileNameMaxLen+1] = 1
	}
}
