package fs

import (
	"strings"
	"testing"

	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/disk"
)

func newFormatted(t *testing.T) *FS {
	t.Helper()
	fsys, err := Format(disk.NewMemDisk(config.NumSectors))
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fsys
}

func TestFormatProducesEmptyListableRoot(t *testing.T) {
	fsys := newFormatted(t)
	entries, err := fsys.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected an empty root, got %v", entries)
	}

	ok, err := fsys.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ok {
		t.Fatalf("freshly formatted disk should pass Check")
	}
}

func TestCreateOpenWriteReadRoundTrip(t *testing.T) {
	fsys := newFormatted(t)

	if err := fsys.Create("/hello.txt", nil, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f, err := fsys.Open("/hello.txt", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []byte("hello, nachos")
	if _, err := f.WriteAt(want, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("read back %q, want %q", got, want)
	}
	if f.Length() != len(want) {
		t.Fatalf("Length() = %d, want %d", f.Length(), len(want))
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ok, err := fsys.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ok {
		t.Fatalf("Check should pass after a normal write/close")
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create("/dup.txt", nil, 0, false); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := fsys.Create("/dup.txt", nil, 0, false); err == nil {
		t.Fatalf("expected the second Create of the same name to fail")
	}
}

func TestCreateDirectoryThenFileInsideIt(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create("/sub", nil, 0, true); err != nil {
		t.Fatalf("Create directory: %v", err)
	}

	sub, err := fsys.FindDirectory("/sub", nil)
	if err != nil {
		t.Fatalf("FindDirectory: %v", err)
	}

	if err := fsys.Create("inner.txt", sub, 0, false); err != nil {
		t.Fatalf("Create inside subdirectory: %v", err)
	}

	f, err := fsys.Open("inner.txt", sub)
	if err != nil {
		t.Fatalf("Open inside subdirectory: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := fsys.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	joined := strings.Join(entries, " ")
	if !strings.Contains(joined, "/sub/") {
		t.Fatalf("List() = %v, expected a /sub/ entry", entries)
	}
	if !strings.Contains(joined, "/sub/inner.txt") {
		t.Fatalf("List() = %v, expected a /sub/inner.txt entry", entries)
	}
}

func TestRemoveNonexistentFileFails(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Remove("/nope.txt", nil); err == nil {
		t.Fatalf("expected Remove of a nonexistent file to fail")
	}
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create("/sub", nil, 0, true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub, err := fsys.FindDirectory("/sub", nil)
	if err != nil {
		t.Fatalf("FindDirectory: %v", err)
	}
	if err := fsys.Create("inner.txt", sub, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := fsys.Remove("/sub", nil); err == nil {
		t.Fatalf("expected Remove of a non-empty directory to fail")
	}
}

func TestRemoveWhileOpenDefersUntilClose(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create("/pending.txt", nil, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f, err := fsys.Open("/pending.txt", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := fsys.Remove("/pending.txt", nil); err != nil {
		t.Fatalf("Remove on an open file should succeed by deferring: %v", err)
	}

	if _, err := fsys.Open("/pending.txt", nil); err == nil {
		t.Fatalf("a second Open of a file flagged for removal should be refused")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := fsys.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, e := range entries {
		if e == "/pending.txt" {
			t.Fatalf("pending.txt should be gone from the listing after the last close")
		}
	}
}

func TestWriteGrowsFileAcrossManySectors(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create("/big.txt", nil, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f, err := fsys.Open("/big.txt", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := make([]byte, config.SectorSize*5+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], payload[i])
		}
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ok, err := fsys.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ok {
		t.Fatalf("Check should pass after a multi-sector growth")
	}
}

func TestCleanupRemovesSwapFiles(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create(config.SwapFilePrefix+"3", nil, 0, false); err != nil {
		t.Fatalf("Create swap file: %v", err)
	}
	if err := fsys.Create("/keep.txt", nil, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := fsys.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	entries, err := fsys.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e, config.SwapFilePrefix) {
			t.Fatalf("Cleanup should have removed the swap file, still present: %v", entries)
		}
	}
	found := false
	for _, e := range entries {
		if e == "/keep.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Cleanup should leave non-swap files alone, got %v", entries)
	}
}

func TestCreateReservedSwapPrefixAtRootIsRejected(t *testing.T) {
	fsys := newFormatted(t)
	if err := fsys.Create(config.SwapFilePrefix+"dir", nil, 0, true); err == nil {
		t.Fatalf("expected creating a root directory named with the swap prefix to fail")
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path, wantDir, wantName string
	}{
		{"/a.txt", "/", "a.txt"},
		{"/sub/a.txt", "/sub", "a.txt"},
		{"a.txt", "", "a.txt"},
		{"/sub/", "/", "sub"},
	}
	for _, c := range cases {
		dir, name := SplitPath(c.path)
		if dir != c.wantDir || name != c.wantName {
			t.Errorf("SplitPath(%q) = (%q, %q), want (%q, %q)", c.path, dir, name, c.wantDir, c.wantName)
		}
	}
}
