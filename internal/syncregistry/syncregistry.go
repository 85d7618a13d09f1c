// Package syncregistry implements the synchronization records that let
// multiple threads share a single open file or directory safely: a
// writer-preference reader/writer protocol per open file, a plain mutex
// per directory/free-map, and the sector-keyed registries that hand out
// exactly one record per sector no matter how many callers race to open
// it.
//
// Lock ordering, enforced by convention rather than the type system:
// a registry's own mutex (guarding its map) is always released before any
// record's own lock is taken; among directory records, locks are taken
// root-to-leaf along a path; the free-map record's lock is always
// acquired last.
//
// Priority donation is not implemented: the records are built on
// sync.Mutex and sync.Cond, which carry no notion of thread priority, so
// a waiter never raises the priority of the holder it is blocked on.
package syncregistry

import (
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/IgnacioCantore/Nachos/internal/fileheader"
	"github.com/IgnacioCantore/Nachos/internal/kernelerr"
)

// FileSynch is the per-open-file synchronization record: a
// writer-preference reader/writer lock over the file's data, plus the
// open/remove bookkeeping needed to defer a Remove until the last reader
// or writer closes the file.
type FileSynch struct {
	mu   sync.Mutex
	cond *sync.Cond

	path   string
	header *fileheader.FileHeader

	opened         int
	beingRemoved   bool
	reading        int
	writing        bool
	waitingToWrite int
}

func newFileSynch(path string, header *fileheader.FileHeader) *FileSynch {
	fs := &FileSynch{path: path, header: header}
	fs.cond = sync.NewCond(&fs.mu)
	return fs
}

// Path returns the file's path as it was at the time this record was
// created.
func (f *FileSynch) Path() string { return f.path }

// Header returns the shared, in-memory block index for this file. Callers
// must hold the read or write side of the lock before touching it.
func (f *FileSynch) Header() *fileheader.FileHeader { return f.header }

// FileOpened registers a new opener. It returns true, without registering
// anything, if the file is already flagged for removal.
func (f *FileSynch) FileOpened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beingRemoved {
		return true
	}
	f.opened++
	return false
}

// FileClosed unregisters one opener and reports whether that was the
// last one.
func (f *FileSynch) FileClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened--
	return f.opened == 0
}

// SetToRemove flags the file for removal once every opener has closed it.
func (f *FileSynch) SetToRemove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beingRemoved = true
}

// ReadyToRemove reports whether the file is flagged for removal and every
// opener has already closed it.
func (f *FileSynch) ReadyToRemove() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beingRemoved && f.opened == 0
}

// BeginReading blocks until no writer holds or is waiting for the lock,
// then registers as a reader.
func (f *FileSynch) BeginReading() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.writing || f.waitingToWrite > 0 {
		f.cond.Wait()
	}
	f.reading++
}

// FinishReading unregisters as a reader, waking any writer once the last
// reader leaves.
func (f *FileSynch) FinishReading() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading--
	if f.reading == 0 {
		f.cond.Broadcast()
	}
}

// BeginWriting registers as a waiting writer, giving writers priority
// over any reader that arrives afterward, then blocks until the file is
// free of both readers and a current writer.
func (f *FileSynch) BeginWriting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitingToWrite++
	for f.writing || f.reading > 0 {
		f.cond.Wait()
	}
	f.waitingToWrite--
	f.writing = true
}

// FinishWriting releases the write lock and wakes any waiter.
func (f *FileSynch) FinishWriting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writing = false
	f.cond.Broadcast()
}

// FileRegistry hands out exactly one FileSynch per header sector,
// deduplicating concurrent first-opens of the same file so its header is
// fetched from disk only once.
type FileRegistry struct {
	mu    sync.Mutex
	files map[int]*FileSynch
	group singleflight.Group
}

// NewFileRegistry returns an empty registry.
func NewFileRegistry() *FileRegistry {
	return &FileRegistry{files: make(map[int]*FileSynch)}
}

// Open returns the shared FileSynch for sector, creating it via
// fetchHeader on first use, and registers the caller as an opener. It
// returns kernelerr.ErrBusy if the file is flagged for removal.
func (r *FileRegistry) Open(sector int, path string, fetchHeader func() (*fileheader.FileHeader, error)) (*FileSynch, error) {
	fs, err := r.lookupOrCreate(sector, path, fetchHeader)
	if err != nil {
		return nil, err
	}
	if fs.FileOpened() {
		return nil, fmt.Errorf("syncregistry: open %q: %w", path, kernelerr.ErrBusy)
	}
	return fs, nil
}

func (r *FileRegistry) lookupOrCreate(sector int, path string, fetchHeader func() (*fileheader.FileHeader, error)) (*FileSynch, error) {
	r.mu.Lock()
	if fs, ok := r.files[sector]; ok {
		r.mu.Unlock()
		return fs, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(strconv.Itoa(sector), func() (interface{}, error) {
		r.mu.Lock()
		if fs, ok := r.files[sector]; ok {
			r.mu.Unlock()
			return fs, nil
		}
		r.mu.Unlock()

		header, err := fetchHeader()
		if err != nil {
			return nil, fmt.Errorf("syncregistry: fetch header for sector %d: %w", sector, err)
		}
		fs := newFileSynch(path, header)

		r.mu.Lock()
		r.files[sector] = fs
		r.mu.Unlock()
		return fs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FileSynch), nil
}

// Close unregisters one opener of the file at sector and, if that drops
// it to zero openers while it is flagged for removal, evicts it from the
// registry and returns the record with ready=true so the caller can
// finish the removal (clear the directory entry, deallocate the header's
// sectors) using the record's still-valid, cached header.
func (r *FileRegistry) Close(sector int) (record *FileSynch, ready bool) {
	r.mu.Lock()
	fs, ok := r.files[sector]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if !fs.FileClosed() {
		return fs, false
	}
	if !fs.ReadyToRemove() {
		return fs, false
	}

	r.mu.Lock()
	delete(r.files, sector)
	r.mu.Unlock()
	return fs, true
}

// SetToRemove flags the file at sector for removal, if it is currently
// open; it is a no-op if no record exists for that sector.
func (r *FileRegistry) SetToRemove(sector int) {
	r.mu.Lock()
	fs, ok := r.files[sector]
	r.mu.Unlock()
	if ok {
		fs.SetToRemove()
	}
}

// Lookup returns the record for sector without registering a new opener,
// or nil if none exists.
func (r *FileRegistry) Lookup(sector int) *FileSynch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[sector]
}

// DirSynch is the synchronization record for a directory or the free
// map, both of which are represented as ordinary files that several
// threads may need to modify at once. Unlike FileSynch, access is plain
// mutual exclusion: directory and free-map edits are always short,
// uninterrupted read-modify-write sequences. Like FileSynch, it caches
// the file's header in memory for as long as the record exists, so the
// header is fetched from disk only once.
type DirSynch struct {
	mu     sync.Mutex
	sector int
	header *fileheader.FileHeader
}

func newDirSynch(sector int, header *fileheader.FileHeader) *DirSynch {
	return &DirSynch{sector: sector, header: header}
}

// Sector returns the disk sector holding this directory's (or the free
// map's) file header.
func (d *DirSynch) Sector() int { return d.sector }

// Header returns the shared, in-memory block index for this directory or
// free map. Callers must hold the lock before touching it.
func (d *DirSynch) Header() *fileheader.FileHeader { return d.header }

// Lock acquires exclusive access for a read-modify-write sequence.
func (d *DirSynch) Lock() { d.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (d *DirSynch) Unlock() { d.mu.Unlock() }

// DirRegistry hands out exactly one DirSynch per sector. Entries are
// never evicted except through an explicit Remove: a directory record
// lives as long as the kernel does, the same way the free map's and root
// directory's records do.
type DirRegistry struct {
	mu    sync.Mutex
	dirs  map[int]*DirSynch
	group singleflight.Group
}

// NewDirRegistry returns an empty registry.
func NewDirRegistry() *DirRegistry {
	return &DirRegistry{dirs: make(map[int]*DirSynch)}
}

// GetOrCreate returns the DirSynch for sector, fetching its header via
// fetchHeader and creating the record on first use. Concurrent misses
// for the same sector are deduplicated, so fetchHeader runs at most once.
func (r *DirRegistry) GetOrCreate(sector int, fetchHeader func() (*fileheader.FileHeader, error)) (*DirSynch, error) {
	r.mu.Lock()
	if d, ok := r.dirs[sector]; ok {
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(strconv.Itoa(sector), func() (interface{}, error) {
		r.mu.Lock()
		if d, ok := r.dirs[sector]; ok {
			r.mu.Unlock()
			return d, nil
		}
		r.mu.Unlock()

		header, err := fetchHeader()
		if err != nil {
			return nil, fmt.Errorf("syncregistry: fetch header for sector %d: %w", sector, err)
		}
		d := newDirSynch(sector, header)

		r.mu.Lock()
		r.dirs[sector] = d
		r.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DirSynch), nil
}

// Lookup returns the record for sector, or nil if none exists.
func (r *DirRegistry) Lookup(sector int) *DirSynch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirs[sector]
}

// Remove evicts the record for sector, e.g. once its directory has been
// deleted from its parent.
func (r *DirRegistry) Remove(sector int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirs, sector)
}
