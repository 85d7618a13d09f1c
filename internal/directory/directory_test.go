package directory

import (
	"strings"
	"testing"

	"github.com/IgnacioCantore/Nachos/internal/bitmap"
	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/disk"
	"github.com/IgnacioCantore/Nachos/internal/fileheader"
	"github.com/IgnacioCantore/Nachos/internal/vfile"
)

func TestAddFindRemove(t *testing.T) {
	d := New(10)

	ok, err := d.Add("foo.txt", 5, false, nil)
	if err != nil || !ok {
		t.Fatalf("Add: ok=%v err=%v", ok, err)
	}
	if sector := d.Find("foo.txt"); sector != 5 {
		t.Fatalf("Find(foo.txt) = %d, want 5", sector)
	}
	if d.Find("missing") != config.NoSector {
		t.Fatalf("Find(missing) should be NoSector")
	}

	ok, err = d.Add("foo.txt", 9, false, nil)
	if err != nil || ok {
		t.Fatalf("Add duplicate: ok=%v err=%v, want false,nil", ok, err)
	}

	if !d.Remove("foo.txt") {
		t.Fatalf("Remove(foo.txt) should succeed")
	}
	if d.Remove("foo.txt") {
		t.Fatalf("Remove(foo.txt) twice should fail")
	}
}

func TestIsDirAndIsEmpty(t *testing.T) {
	d := New(5)
	if !d.IsEmpty() {
		t.Fatalf("fresh directory should be empty")
	}

	if _, err := d.Add("sub", 3, true, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if d.IsEmpty() {
		t.Fatalf("directory with an entry should not be empty")
	}
	if !d.IsDir("sub") {
		t.Fatalf("IsDir(sub) should be true")
	}
	if d.IsDir("nonexistent") {
		t.Fatalf("IsDir(nonexistent) should be false")
	}
}

func TestAddGrowsWhenFull(t *testing.T) {
	d := New(2)
	grown := false
	grow := func(extraBytes int) error {
		grown = true
		if extraBytes != config.NewDirEntries*EntrySize() {
			t.Fatalf("grow called with %d bytes, want %d", extraBytes, config.NewDirEntries*EntrySize())
		}
		return nil
	}

	if _, err := d.Add("a", 1, false, grow); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if _, err := d.Add("b", 2, false, grow); err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if grown {
		t.Fatalf("grow should not be called while slots remain")
	}

	ok, err := d.Add("c", 3, false, grow)
	if err != nil || !ok {
		t.Fatalf("Add c: ok=%v err=%v", ok, err)
	}
	if !grown {
		t.Fatalf("grow should have been called once the table filled up")
	}
	if d.Len() != 2+config.NewDirEntries {
		t.Fatalf("Len() = %d after growth, want %d", d.Len(), 2+config.NewDirEntries)
	}
	if d.Find("c") != 3 {
		t.Fatalf("Find(c) after growth = %d, want 3", d.Find("c"))
	}
}

func TestAddWithoutGrowFailsWhenFull(t *testing.T) {
	d := New(1)
	if _, err := d.Add("a", 1, false, nil); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	ok, err := d.Add("b", 2, false, nil)
	if err != nil || ok {
		t.Fatalf("Add b with nil grow: ok=%v err=%v, want false,nil", ok, err)
	}
}

func TestFindSwapFile(t *testing.T) {
	d := New(5)
	if _, err := d.Add("readme", 1, false, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := d.Add(config.SwapFilePrefix+"3", 2, false, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	name, ok := d.FindSwapFile()
	if !ok || name != config.SwapFilePrefix+"3" {
		t.Fatalf("FindSwapFile() = %q,%v", name, ok)
	}
	if _, ok := d.FindSwapFile(); ok {
		t.Fatalf("FindSwapFile should not find a second swap file")
	}
	if d.Find(config.SwapFilePrefix+"3") != config.NoSector {
		t.Fatalf("swap entry should be cleared after FindSwapFile")
	}
}

func writeDirAt(t *testing.T, d *disk.Disk, fm *bitmap.Bitmap, sector int, dir *Directory) {
	t.Helper()
	h := fileheader.New()
	if err := h.Allocate(fm, dir.Len()*EntrySize()); err != nil {
		t.Fatalf("allocate header for sector %d: %v", sector, err)
	}
	if err := h.WriteBack(d, sector); err != nil {
		t.Fatalf("write header for sector %d: %v", sector, err)
	}
	f := vfile.Open(d, h, sector, nil)
	if err := dir.WriteBack(f); err != nil {
		t.Fatalf("write dir for sector %d: %v", sector, err)
	}
}

func TestListTreeAndPrintTreeRecurse(t *testing.T) {
	fm := bitmap.New(config.NumSectors)
	fm.Mark(config.FreeMapSector)
	fm.Mark(config.DirectorySector)
	d := disk.NewMemDisk(config.NumSectors)

	const subSector = 20
	sub := New(config.NumDirEntries)
	if _, err := sub.Add("leaf.txt", 21, false, nil); err != nil {
		t.Fatalf("Add leaf: %v", err)
	}
	writeDirAt(t, d, fm, subSector, sub)

	// The leaf file itself needs a real header on disk for PrintTree to
	// fetch its metadata.
	leafHeader := fileheader.New()
	if err := leafHeader.Allocate(fm, 42); err != nil {
		t.Fatalf("allocate leaf header: %v", err)
	}
	if err := leafHeader.WriteBack(d, 21); err != nil {
		t.Fatalf("write leaf header: %v", err)
	}

	root := New(config.NumDirEntries)
	if _, err := root.Add("sub", subSector, true, nil); err != nil {
		t.Fatalf("Add sub: %v", err)
	}
	if _, err := root.Add("toplevel.txt", 22, false, nil); err != nil {
		t.Fatalf("Add toplevel: %v", err)
	}
	topHeader := fileheader.New()
	if err := topHeader.Allocate(fm, 10); err != nil {
		t.Fatalf("allocate top header: %v", err)
	}
	if err := topHeader.WriteBack(d, 22); err != nil {
		t.Fatalf("write top header: %v", err)
	}

	names, err := root.ListTree(d, "")
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	want := map[string]bool{"/sub/": true, "/toplevel.txt": true, "/sub/leaf.txt": true}
	if len(names) != len(want) {
		t.Fatalf("ListTree() = %v, want entries matching %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected entry %q in ListTree() = %v", n, names)
		}
	}

	out, err := root.PrintTree(d, "")
	if err != nil {
		t.Fatalf("PrintTree: %v", err)
	}
	if !strings.Contains(out, "leaf.txt") || !strings.Contains(out, "toplevel.txt") {
		t.Fatalf("PrintTree() missing expected entries: %s", out)
	}
}

type memBuf struct {
	data []byte
}

func (m *memBuf) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memBuf) WriteAt(p []byte, off int64) (int, error) {
	if int(off)+len(p) > len(m.data) {
		m.data = append(m.data, make([]byte, int(off)+len(p)-len(m.data))...)
	}
	n := copy(m.data[off:], p)
	return n, nil
}

func TestWriteBackFetchFromRoundTrip(t *testing.T) {
	d := New(config.NumDirEntries)
	if _, err := d.Add("alpha", 10, false, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := d.Add("beta", 11, true, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	buf := &memBuf{data: make([]byte, d.Len()*EntrySize())}
	if err := d.WriteBack(buf); err != nil {
		t.Fatalf("write back: %v", err)
	}

	got := New(0)
	if err := got.FetchFrom(buf, len(buf.data)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Find("alpha") != 10 {
		t.Fatalf("alpha sector mismatch after round trip")
	}
	if !got.IsDir("beta") {
		t.Fatalf("beta should still be a directory after round trip")
	}
}
