// Package fs implements the file-system façade: mapping textual paths to
// files and directories, formatting a fresh disk, and the consistency
// checker that walks the whole tree looking for a corrupted free map or
// directory.
//
// FS implements vfile.Expander so that any open regular file can grow
// past its allocated length on a write; directory growth (Directory.Add
// running out of entries) is handled inline instead, against a free map
// already fetched and locked by the caller, to avoid taking the free-map
// lock twice from the same goroutine.
package fs

import (
	"fmt"
	"strings"

	"github.com/IgnacioCantore/Nachos/internal/bitmap"
	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/directory"
	"github.com/IgnacioCantore/Nachos/internal/disk"
	"github.com/IgnacioCantore/Nachos/internal/fileheader"
	"github.com/IgnacioCantore/Nachos/internal/kernelerr"
	"github.com/IgnacioCantore/Nachos/internal/logger"
	"github.com/IgnacioCantore/Nachos/internal/syncregistry"
	"github.com/IgnacioCantore/Nachos/internal/vfile"
)

// FS is the mounted file system: the disk it's backed by, and the two
// registries that hand out synchronization records for every open file,
// directory, and the free map.
type FS struct {
	disk *disk.Disk

	fileRegistry *syncregistry.FileRegistry
	dirRegistry  *syncregistry.DirRegistry

	freeMapSynch *syncregistry.DirSynch
	rootSynch    *syncregistry.DirSynch
}

func fetchHeaderAt(d *disk.Disk, sector int) func() (*fileheader.FileHeader, error) {
	return func() (*fileheader.FileHeader, error) {
		h := fileheader.New()
		if err := h.FetchFrom(d, sector); err != nil {
			return nil, err
		}
		return h, nil
	}
}

// New mounts an already-formatted disk: it fetches the free map's and
// root directory's headers and leaves both open for the life of the FS;
// nothing in FS ever closes them.
func New(d *disk.Disk) (*FS, error) {
	fsys := &FS{
		disk:         d,
		fileRegistry: syncregistry.NewFileRegistry(),
		dirRegistry:  syncregistry.NewDirRegistry(),
	}

	freeMapSynch, err := fsys.dirRegistry.GetOrCreate(config.FreeMapSector, fetchHeaderAt(d, config.FreeMapSector))
	if err != nil {
		return nil, fmt.Errorf("fs: mount: %w", err)
	}
	rootSynch, err := fsys.dirRegistry.GetOrCreate(config.DirectorySector, fetchHeaderAt(d, config.DirectorySector))
	if err != nil {
		return nil, fmt.Errorf("fs: mount: %w", err)
	}
	fsys.freeMapSynch = freeMapSynch
	fsys.rootSynch = rootSynch
	return fsys, nil
}

// Format initializes a blank disk with an empty free map and root
// directory, then mounts it. Run once, at boot, only when the disk has
// nothing on it yet.
func Format(d *disk.Disk) (*FS, error) {
	logger.Info("formatting the file system")

	freeMap := bitmap.New(config.NumSectors)
	freeMap.Mark(config.FreeMapSector)
	freeMap.Mark(config.DirectorySector)

	freeMapFileSize := config.NumSectors / 8
	mapHeader := fileheader.New()
	if err := mapHeader.Allocate(freeMap, freeMapFileSize); err != nil {
		return nil, fmt.Errorf("fs: format: allocate free-map header: %w", err)
	}

	dirFileSize := config.NumDirEntries * directory.EntrySize()
	dirHeader := fileheader.New()
	if err := dirHeader.Allocate(freeMap, dirFileSize); err != nil {
		return nil, fmt.Errorf("fs: format: allocate root directory header: %w", err)
	}

	if err := mapHeader.WriteBack(d, config.FreeMapSector); err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}
	if err := dirHeader.WriteBack(d, config.DirectorySector); err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}

	fsys, err := New(d)
	if err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}

	freeMapFile := vfile.Open(d, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	if err := freeMap.WriteBack(freeMapFile); err != nil {
		return nil, fmt.Errorf("fs: format: write free map: %w", err)
	}

	rootDir := directory.New(config.NumDirEntries)
	rootDirFile := vfile.Open(d, fsys.rootSynch.Header(), config.DirectorySector, fsys)
	if err := rootDir.WriteBack(rootDirFile); err != nil {
		return nil, fmt.Errorf("fs: format: write root directory: %w", err)
	}

	return fsys, nil
}

// ExpandFile implements vfile.Expander: it grows h by newBytes under the
// free-map lock and persists both h and the free map. Used by any open
// regular file that outgrows its allocation on write; directory growth
// never goes through this path (see the package doc).
func (fsys *FS) ExpandFile(h *fileheader.FileHeader, sector int, newBytes int) error {
	fsys.freeMapSynch.Lock()
	defer fsys.freeMapSynch.Unlock()

	freeMapFile := vfile.Open(fsys.disk, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	freeMap := bitmap.New(config.NumSectors)
	if err := freeMap.FetchFrom(freeMapFile); err != nil {
		return fmt.Errorf("fs: expand sector %d: %w", sector, err)
	}

	if err := h.Expand(freeMap, newBytes); err != nil {
		return fmt.Errorf("fs: expand sector %d: %w", sector, err)
	}
	if err := h.WriteBack(fsys.disk, sector); err != nil {
		return fmt.Errorf("fs: expand sector %d: %w", sector, err)
	}
	if err := freeMap.WriteBack(freeMapFile); err != nil {
		return fmt.Errorf("fs: expand sector %d: %w", sector, err)
	}
	return nil
}

// SplitPath separates path into a directory portion and a leaf name. A
// leading '/' is preserved in dirPath to mark an absolute path; a
// trailing '/' is trimmed unless path is exactly "/"; a path with no '/'
// at all yields an empty dirPath, meaning "the caller's current
// directory".
func SplitPath(path string) (dirPath, name string) {
	dirPath = path
	if len(dirPath) > 1 && strings.HasSuffix(dirPath, "/") {
		dirPath = dirPath[:len(dirPath)-1]
	}

	firstSlash := strings.IndexByte(dirPath, '/')
	if firstSlash == -1 {
		return "", dirPath
	}

	lastSlash := strings.LastIndexByte(dirPath, '/')
	name = dirPath[lastSlash+1:]
	if lastSlash == 0 {
		dirPath = "/"
	} else {
		dirPath = dirPath[:lastSlash]
	}
	return dirPath, name
}

// FindDirectory walks dirPath component by component, starting from the
// root for an absolute path or from cwd (the caller's current directory;
// the root if cwd is nil) otherwise. Each component's own record is
// looked up or created in the directory registry; the parent's lock is
// released before the child's record is created, per the lock-ordering
// rule of never holding the registry mutex and a directory mutex at once
// longer than necessary.
func (fsys *FS) FindDirectory(dirPath string, cwd *syncregistry.DirSynch) (*syncregistry.DirSynch, error) {
	cur := cwd
	if cur == nil || strings.HasPrefix(dirPath, "/") {
		cur = fsys.rootSynch
	}

	trimmed := strings.Trim(dirPath, "/")
	if trimmed == "" {
		return cur, nil
	}

	for _, token := range strings.Split(trimmed, "/") {
		cur.Lock()
		dir := directory.New(0)
		f := vfile.Open(fsys.disk, cur.Header(), cur.Sector(), fsys)
		if err := dir.FetchFrom(f, cur.Header().FileLength()); err != nil {
			cur.Unlock()
			return nil, fmt.Errorf("fs: find directory %q: %w", dirPath, err)
		}
		if !dir.IsDir(token) {
			cur.Unlock()
			return nil, fmt.Errorf("fs: find directory %q: %w", dirPath, kernelerr.ErrPathNotFound)
		}
		sector := dir.Find(token)
		cur.Unlock()

		child, err := fsys.dirRegistry.GetOrCreate(sector, fetchHeaderAt(fsys.disk, sector))
		if err != nil {
			return nil, fmt.Errorf("fs: find directory %q: %w", dirPath, err)
		}
		cur = child
	}
	return cur, nil
}

// Create adds a new file or directory at path, sized initialSize bytes
// (ignored for directories, which always get room for
// config.NumDirEntries entries). A root-level directory whose name
// carries the reserved swap-file prefix is rejected.
func (fsys *FS) Create(path string, cwd *syncregistry.DirSynch, initialSize int, isDir bool) error {
	dirPath, name := SplitPath(path)
	if name == "" || len(name) > config.FileNameMaxLen {
		return fmt.Errorf("fs: create %q: %w", path, kernelerr.ErrInvalidArgument)
	}

	dirSynch, err := fsys.FindDirectory(dirPath, cwd)
	if err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}
	if dirSynch == fsys.rootSynch && isDir && strings.HasPrefix(name, config.SwapFilePrefix) {
		return fmt.Errorf("fs: create %q: %w", path, kernelerr.ErrReserved)
	}

	dirSynch.Lock()
	defer dirSynch.Unlock()

	dirFile := vfile.Open(fsys.disk, dirSynch.Header(), dirSynch.Sector(), fsys)
	dir := directory.New(0)
	if err := dir.FetchFrom(dirFile, dirSynch.Header().FileLength()); err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}
	if dir.Find(name) != config.NoSector {
		return fmt.Errorf("fs: create %q: %w", path, kernelerr.ErrNameExists)
	}

	fsys.freeMapSynch.Lock()
	defer fsys.freeMapSynch.Unlock()

	freeMapFile := vfile.Open(fsys.disk, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	freeMap := bitmap.New(config.NumSectors)
	if err := freeMap.FetchFrom(freeMapFile); err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}

	sector := freeMap.Find()
	if sector == config.NoSector {
		return fmt.Errorf("fs: create %q: %w", path, kernelerr.ErrNoSpace)
	}

	// Directory growth runs against this already-fetched, already-locked
	// free map directly, never through ExpandFile: taking the free-map
	// lock twice from this goroutine would deadlock.
	grow := func(extraBytes int) error {
		if err := dirSynch.Header().Expand(freeMap, extraBytes); err != nil {
			return err
		}
		return dirSynch.Header().WriteBack(fsys.disk, dirSynch.Sector())
	}

	ok, err := dir.Add(name, sector, isDir, grow)
	if err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("fs: create %q: %w", path, kernelerr.ErrNoSpace)
	}

	size := initialSize
	if isDir {
		size = config.NumDirEntries * directory.EntrySize()
	}
	newHeader := fileheader.New()
	if err := newHeader.Allocate(freeMap, size); err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}

	if err := newHeader.WriteBack(fsys.disk, sector); err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}
	if err := dir.WriteBack(dirFile); err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}
	if err := freeMap.WriteBack(freeMapFile); err != nil {
		return fmt.Errorf("fs: create %q: %w", path, err)
	}

	if isDir {
		newDir := directory.New(config.NumDirEntries)
		newDirFile := vfile.Open(fsys.disk, newHeader, sector, fsys)
		if err := newDir.WriteBack(newDirFile); err != nil {
			return fmt.Errorf("fs: create %q: %w", path, err)
		}
	}
	return nil
}

// OpenFile is a handle returned by Open: reads and writes go through the
// file's writer-preference lock, and Close finalizes a pending Remove
// once the last handle on the file closes.
type OpenFile struct {
	fsys   *FS
	file   *vfile.File
	synch  *syncregistry.FileSynch
	sector int
}

// ReadAt implements io.ReaderAt under the file's read lock.
func (o *OpenFile) ReadAt(p []byte, off int64) (int, error) {
	o.synch.BeginReading()
	defer o.synch.FinishReading()
	return o.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt under the file's write lock.
func (o *OpenFile) WriteAt(p []byte, off int64) (int, error) {
	o.synch.BeginWriting()
	defer o.synch.FinishWriting()
	return o.file.WriteAt(p, off)
}

// Length returns the file's current length in bytes.
func (o *OpenFile) Length() int { return o.synch.Header().FileLength() }

// Close unregisters this handle. If it was the last handle on a file
// flagged for removal, the directory entry is cleared and the header's
// sectors are deallocated.
func (o *OpenFile) Close() error {
	record, ready := o.fsys.fileRegistry.Close(o.sector)
	if !ready {
		return nil
	}
	return o.fsys.finishRemoval(o.sector, record)
}

// Open opens path for reading and writing.
func (fsys *FS) Open(path string, cwd *syncregistry.DirSynch) (*OpenFile, error) {
	dirPath, name := SplitPath(path)
	dirSynch, err := fsys.FindDirectory(dirPath, cwd)
	if err != nil {
		return nil, fmt.Errorf("fs: open %q: %w", path, err)
	}

	dirSynch.Lock()
	dirFile := vfile.Open(fsys.disk, dirSynch.Header(), dirSynch.Sector(), fsys)
	dir := directory.New(0)
	if err := dir.FetchFrom(dirFile, dirSynch.Header().FileLength()); err != nil {
		dirSynch.Unlock()
		return nil, fmt.Errorf("fs: open %q: %w", path, err)
	}
	sector := dir.Find(name)
	isDirEntry := dir.IsDir(name)
	dirSynch.Unlock()

	if sector == config.NoSector {
		return nil, fmt.Errorf("fs: open %q: %w", path, kernelerr.ErrPathNotFound)
	}
	if isDirEntry {
		return nil, fmt.Errorf("fs: open %q: %w", path, kernelerr.ErrKindMismatch)
	}

	fileSynch, err := fsys.fileRegistry.Open(sector, path, fetchHeaderAt(fsys.disk, sector))
	if err != nil {
		return nil, fmt.Errorf("fs: open %q: %w", path, err)
	}

	return &OpenFile{
		fsys:   fsys,
		file:   vfile.Open(fsys.disk, fileSynch.Header(), sector, fsys),
		synch:  fileSynch,
		sector: sector,
	}, nil
}

// finishRemoval clears name's directory entry and deallocates its
// header's sectors, once the last handle on a pending-removal file has
// closed. The path is re-resolved from the record's own stored path,
// which must therefore be absolute to remain correct regardless of which
// goroutine's current directory happens to be in scope at close time.
func (fsys *FS) finishRemoval(sector int, record *syncregistry.FileSynch) error {
	dirPath, name := SplitPath(record.Path())
	dirSynch, err := fsys.FindDirectory(dirPath, nil)
	if err != nil {
		return fmt.Errorf("fs: finish removal of %q: %w", record.Path(), err)
	}

	dirSynch.Lock()
	defer dirSynch.Unlock()

	dirFile := vfile.Open(fsys.disk, dirSynch.Header(), dirSynch.Sector(), fsys)
	dir := directory.New(0)
	if err := dir.FetchFrom(dirFile, dirSynch.Header().FileLength()); err != nil {
		return fmt.Errorf("fs: finish removal of %q: %w", record.Path(), err)
	}
	dir.Remove(name)

	fsys.freeMapSynch.Lock()
	defer fsys.freeMapSynch.Unlock()

	freeMapFile := vfile.Open(fsys.disk, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	freeMap := bitmap.New(config.NumSectors)
	if err := freeMap.FetchFrom(freeMapFile); err != nil {
		return fmt.Errorf("fs: finish removal of %q: %w", record.Path(), err)
	}

	record.Header().Deallocate(freeMap)
	freeMap.Clear(sector)

	if err := freeMap.WriteBack(freeMapFile); err != nil {
		return fmt.Errorf("fs: finish removal of %q: %w", record.Path(), err)
	}
	return dir.WriteBack(dirFile)
}

// Remove deletes the file or empty directory at path. A currently open
// file is flagged for deferred removal instead: its directory entry and
// data sectors are freed once the last handle on it closes.
func (fsys *FS) Remove(path string, cwd *syncregistry.DirSynch) error {
	dirPath, name := SplitPath(path)
	dirSynch, err := fsys.FindDirectory(dirPath, cwd)
	if err != nil {
		return fmt.Errorf("fs: remove %q: %w", path, err)
	}

	dirSynch.Lock()
	defer dirSynch.Unlock()

	dirFile := vfile.Open(fsys.disk, dirSynch.Header(), dirSynch.Sector(), fsys)
	dir := directory.New(0)
	if err := dir.FetchFrom(dirFile, dirSynch.Header().FileLength()); err != nil {
		return fmt.Errorf("fs: remove %q: %w", path, err)
	}

	sector := dir.Find(name)
	if sector == config.NoSector {
		return fmt.Errorf("fs: remove %q: %w", path, kernelerr.ErrPathNotFound)
	}

	if dir.IsDir(name) {
		return fsys.removeDirectory(sector, dir, dirFile, name)
	}
	return fsys.removeFile(sector, dir, dirFile, name)
}

func (fsys *FS) removeDirectory(sector int, dir *directory.Directory, dirFile *vfile.File, name string) error {
	childSynch, err := fsys.dirRegistry.GetOrCreate(sector, fetchHeaderAt(fsys.disk, sector))
	if err != nil {
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}

	childSynch.Lock()
	childDirFile := vfile.Open(fsys.disk, childSynch.Header(), sector, fsys)
	childDir := directory.New(0)
	if err := childDir.FetchFrom(childDirFile, childSynch.Header().FileLength()); err != nil {
		childSynch.Unlock()
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}
	empty := childDir.IsEmpty()
	childSynch.Unlock()
	if !empty {
		return fmt.Errorf("fs: remove %q: %w", name, kernelerr.ErrNotEmpty)
	}
	fsys.dirRegistry.Remove(sector)

	fsys.freeMapSynch.Lock()
	freeMapFile := vfile.Open(fsys.disk, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	freeMap := bitmap.New(config.NumSectors)
	if err := freeMap.FetchFrom(freeMapFile); err != nil {
		fsys.freeMapSynch.Unlock()
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}
	childSynch.Header().Deallocate(freeMap)
	freeMap.Clear(sector)
	dir.Remove(name)
	if err := freeMap.WriteBack(freeMapFile); err != nil {
		fsys.freeMapSynch.Unlock()
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}
	fsys.freeMapSynch.Unlock()

	return dir.WriteBack(dirFile)
}

func (fsys *FS) removeFile(sector int, dir *directory.Directory, dirFile *vfile.File, name string) error {
	if fileSynch := fsys.fileRegistry.Lookup(sector); fileSynch != nil {
		fileSynch.SetToRemove()
		return nil
	}

	header := fileheader.New()
	if err := header.FetchFrom(fsys.disk, sector); err != nil {
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}

	fsys.freeMapSynch.Lock()
	freeMapFile := vfile.Open(fsys.disk, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	freeMap := bitmap.New(config.NumSectors)
	if err := freeMap.FetchFrom(freeMapFile); err != nil {
		fsys.freeMapSynch.Unlock()
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}

	header.Deallocate(freeMap)
	freeMap.Clear(sector)
	dir.Remove(name)

	if err := freeMap.WriteBack(freeMapFile); err != nil {
		fsys.freeMapSynch.Unlock()
		return fmt.Errorf("fs: remove %q: %w", name, err)
	}
	fsys.freeMapSynch.Unlock()

	return dir.WriteBack(dirFile)
}

// Cleanup removes every swap file left in the root directory, e.g. on
// boot after an unclean shutdown.
func (fsys *FS) Cleanup() error {
	for {
		fsys.rootSynch.Lock()
		dirFile := vfile.Open(fsys.disk, fsys.rootSynch.Header(), config.DirectorySector, fsys)
		dir := directory.New(0)
		if err := dir.FetchFrom(dirFile, fsys.rootSynch.Header().FileLength()); err != nil {
			fsys.rootSynch.Unlock()
			return fmt.Errorf("fs: cleanup: %w", err)
		}
		name, found := dir.FindSwapFile()
		fsys.rootSynch.Unlock()
		if !found {
			return nil
		}
		if err := fsys.Remove("/"+name, nil); err != nil {
			return fmt.Errorf("fs: cleanup: remove %q: %w", name, err)
		}
	}
}

// List returns every path in the file system, directories first-class
// with a trailing slash, depth-first from the root.
func (fsys *FS) List() ([]string, error) {
	fsys.rootSynch.Lock()
	dirFile := vfile.Open(fsys.disk, fsys.rootSynch.Header(), config.DirectorySector, fsys)
	dir := directory.New(0)
	err := dir.FetchFrom(dirFile, fsys.rootSynch.Header().FileLength())
	fsys.rootSynch.Unlock()
	if err != nil {
		return nil, fmt.Errorf("fs: list: %w", err)
	}
	return dir.ListTree(fsys.disk, "")
}

func checkForError(ok bool, message string) bool {
	if !ok {
		logger.Debug(message)
	}
	return !ok
}

func addToShadowBitmap(sector int, shadow *bitmap.Bitmap) bool {
	if shadow.Test(sector) {
		return false
	}
	shadow.Mark(sector)
	return true
}

func checkSector(sector int, shadow *bitmap.Bitmap) bool {
	bad := checkForError(sector >= 0 && sector < config.NumSectors, "sector number too big")
	bad = checkForError(addToShadowBitmap(sector, shadow), "sector number already used") || bad
	return bad
}

func checkFileHeader(h *fileheader.FileHeader, shadow *bitmap.Bitmap) bool {
	raw := h.Raw()
	expectSectors := (int(raw.NumBytes) + config.SectorSize - 1) / config.SectorSize

	bad := checkForError(int(raw.NumSectors) >= expectSectors, "sector count not compatible with file size")
	bad = checkForError(int(raw.NumSectors) < config.NumDirect+config.NumIndirect*config.NumIndirect, "too many blocks") || bad

	for i := 0; i < int(raw.NumSectors); i++ {
		s := h.ByteToSector(i * config.SectorSize)
		if checkSector(s, shadow) {
			bad = true
		}
	}

	if raw.IndirSector != config.NoSector {
		if checkSector(int(raw.IndirSector), shadow) {
			bad = true
		}
		for _, s := range h.FirstIndirectSectors() {
			if s == config.NoSector {
				break
			}
			if checkSector(int(s), shadow) {
				bad = true
			}
		}
	}
	return bad
}

func checkBitmaps(real, shadow *bitmap.Bitmap) bool {
	bad := false
	for i := 0; i < config.NumSectors; i++ {
		if checkForError(real.Test(i) == shadow.Test(i), "inconsistent bitmap") {
			bad = true
		}
	}
	return bad
}

func (fsys *FS) checkDirectory(dirSynch *syncregistry.DirSynch, shadow *bitmap.Bitmap, path string) (bool, error) {
	dirSynch.Lock()
	dirFile := vfile.Open(fsys.disk, dirSynch.Header(), dirSynch.Sector(), fsys)
	dir := directory.New(0)
	if err := dir.FetchFrom(dirFile, dirSynch.Header().FileLength()); err != nil {
		dirSynch.Unlock()
		return true, fmt.Errorf("fs: check %q: %w", path, err)
	}
	entries := dir.List()
	dirSynch.Unlock()

	bad := false
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if checkForError(len(e.Name) <= config.FileNameMaxLen, "name too long") {
			bad = true
		}
		if seen[e.Name] {
			bad = checkForError(false, "repeated file or directory name")
		} else {
			seen[e.Name] = true
		}

		if checkSector(e.Sector, shadow) {
			bad = true
		}

		h := fileheader.New()
		if err := h.FetchFrom(fsys.disk, e.Sector); err != nil {
			return true, fmt.Errorf("fs: check %q: %w", path, err)
		}
		if checkFileHeader(h, shadow) {
			bad = true
		}

		if !e.IsDir {
			continue
		}
		childPath := path + "/" + e.Name
		if checkForError(len(childPath) <= config.PathNameMaxLen, "path too long") {
			bad = true
		}

		childSynch, err := fsys.dirRegistry.GetOrCreate(e.Sector, fetchHeaderAt(fsys.disk, e.Sector))
		if err != nil {
			return true, fmt.Errorf("fs: check %q: %w", childPath, err)
		}
		childBad, err := fsys.checkDirectory(childSynch, shadow, childPath)
		if err != nil {
			return true, err
		}
		if childBad {
			bad = true
		}
	}
	return bad, nil
}

// Check walks the whole free map and directory tree and reports whether
// they are mutually consistent: every allocated sector belongs to
// exactly one file, every file header's sector count covers its length,
// and the on-disk free map agrees with what the walk actually found in
// use.
func (fsys *FS) Check() (bool, error) {
	logger.Debug("performing filesystem check")

	shadow := bitmap.New(config.NumSectors)
	shadow.Mark(config.FreeMapSector)
	shadow.Mark(config.DirectorySector)

	bitH := fileheader.New()
	if err := bitH.FetchFrom(fsys.disk, config.FreeMapSector); err != nil {
		return false, fmt.Errorf("fs: check: %w", err)
	}
	freeMapFileSize := config.NumSectors / 8
	bad := checkForError(bitH.FileLength() == freeMapFileSize, "bad bitmap header: wrong file size")
	bad = checkForError(bitH.NumSectors() == freeMapFileSize/config.SectorSize, "bad bitmap header: wrong number of sectors") || bad
	bad = checkFileHeader(bitH, shadow) || bad

	dirH := fileheader.New()
	if err := dirH.FetchFrom(fsys.disk, config.DirectorySector); err != nil {
		return false, fmt.Errorf("fs: check: %w", err)
	}
	bad = checkFileHeader(dirH, shadow) || bad

	childBad, err := fsys.checkDirectory(fsys.rootSynch, shadow, "")
	if err != nil {
		return false, err
	}
	bad = childBad || bad

	fsys.freeMapSynch.Lock()
	freeMapFile := vfile.Open(fsys.disk, fsys.freeMapSynch.Header(), config.FreeMapSector, nil)
	freeMap := bitmap.New(config.NumSectors)
	err = freeMap.FetchFrom(freeMapFile)
	fsys.freeMapSynch.Unlock()
	if err != nil {
		return false, fmt.Errorf("fs: check: %w", err)
	}
	bad = checkBitmaps(freeMap, shadow) || bad

	if bad {
		logger.Debug("filesystem check failed")
	} else {
		logger.Debug("filesystem check succeeded")
	}
	return !bad, nil
}
