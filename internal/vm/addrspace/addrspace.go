// Package addrspace implements a demand-paged user address space: a page
// table that starts out entirely invalid, pages loaded lazily on first
// fault either from the program's executable image or from a private swap
// file, and eviction delegated to a shared core map when physical memory
// runs out.
package addrspace

import (
	"fmt"
	"io"

	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/fs"
	"github.com/IgnacioCantore/Nachos/internal/kernelerr"
	"github.com/IgnacioCantore/Nachos/internal/vm/coremap"
)

// ExecutableLayout describes the parts of a loaded program image that
// addrspace needs to satisfy a page fault from the executable rather than
// from swap: the code and initialized-data segments' extents in the
// virtual address space and their offsets into the executable, plus the
// address space's total size in bytes. Parsing the executable's own
// header format is the loader's job, not this package's.
type ExecutableLayout struct {
	CodeSize       int
	CodeAddr       int
	CodeOffset     int
	InitDataSize   int
	InitDataAddr   int
	InitDataOffset int
	Size           int
}

// numMachineRegisters is the size of the register file InitRegisters hands
// back. It has nothing to do with paging; it is simply how many slots the
// hardware this address space eventually runs on is assumed to have.
const numMachineRegisters = 40

// Registers is a snapshot of the CPU registers belonging to one thread of
// execution within an address space. It is a plain data container: the
// values are read from and written to the actual machine by a caller this
// package never references, mirroring the hardware-interaction boundary
// the rest of the kernel keeps at arm's length.
type Registers [numMachineRegisters]int

// TLBEntry mirrors one slot of a software TLB, saved and restored across
// context switches. Like Registers, this package only stores and hands
// back what the caller gives it.
type TLBEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	ReadOnly     bool
	Use          bool
	Dirty        bool
}

// AddressSpace is one process's virtual-to-physical mapping. Pages are
// granted a physical frame lazily, on the first access that faults.
type AddressSpace struct {
	pageTable []coremap.TranslationEntry
	numPages  int

	cm *coremap.Coremap

	exe    io.ReaderAt
	layout ExecutableLayout

	fsys     *fs.FS
	swapPath string
	swap     *fs.OpenFile
}

// New builds an address space of layout.Size bytes (rounded up to a whole
// number of pages, with config.UserStackSize bytes of stack appended
// above it), backed by exe for code/data faults and by a freshly created
// swap file at swapPath for anything faulted in and later evicted.
// No frames are claimed yet; every page starts out invalid.
func New(cm *coremap.Coremap, exe io.ReaderAt, layout ExecutableLayout, fsys *fs.FS, swapPath string) (*AddressSpace, error) {
	size := layout.Size + config.UserStackSize
	numPages := (size + config.PageSize - 1) / config.PageSize

	if err := fsys.Create(swapPath, nil, numPages*config.PageSize, false); err != nil {
		return nil, fmt.Errorf("addrspace: create swap file: %w", err)
	}
	swap, err := fsys.Open(swapPath, nil)
	if err != nil {
		return nil, fmt.Errorf("addrspace: open swap file: %w", err)
	}

	pageTable := make([]coremap.TranslationEntry, numPages)
	for vpn := range pageTable {
		pageTable[vpn] = coremap.TranslationEntry{
			VirtualPage:  vpn,
			PhysicalPage: -1,
		}
	}

	return &AddressSpace{
		pageTable: pageTable,
		numPages:  numPages,
		cm:        cm,
		exe:       exe,
		layout:    layout,
		fsys:      fsys,
		swapPath:  swapPath,
		swap:      swap,
	}, nil
}

// NumPages reports the address space's size in pages.
func (as *AddressSpace) NumPages() int { return as.numPages }

// Close releases every frame this address space still holds and removes
// its swap file. Spec lifecycle: destruction deletes the swap file, so
// unlike the cooperative-scheduler original — which left abandoned swap
// files for the next boot's Cleanup to reclaim — this closes the loop
// immediately.
func (as *AddressSpace) Close() error {
	as.cm.Lock()
	for vpn := range as.pageTable {
		entry := &as.pageTable[vpn]
		if entry.Valid && as.cm.InMemoryLocked(as, *entry) {
			as.cm.FreeFrameLocked(entry.PhysicalPage)
			entry.Valid = false
			entry.PhysicalPage = -1
		}
	}
	as.cm.Unlock()

	if err := as.swap.Close(); err != nil {
		return fmt.Errorf("addrspace: close swap file: %w", err)
	}
	if err := as.fsys.Remove(as.swapPath, nil); err != nil {
		return fmt.Errorf("addrspace: remove swap file: %w", err)
	}
	return nil
}

// GetPage implements coremap.Owner. It must not take any lock of its own:
// the core map's lock is the single point of serialization across every
// address space's page table, and this is always called with that lock
// already held by the caller.
func (as *AddressSpace) GetPage(vpn int) *coremap.TranslationEntry {
	if vpn < 0 || vpn >= len(as.pageTable) {
		return nil
	}
	return &as.pageTable[vpn]
}

// SaveToSwap implements coremap.Owner: if vpn's page has been modified
// since it was loaded, it persists the frame's contents to this address
// space's private swap file and marks the entry swap-backed. A clean
// page — never written to, so still identical to whatever it was loaded
// from — is left alone: it reloads from the executable (or, if already
// swap-backed from an earlier eviction, from swap) exactly as before.
// Like GetPage, this takes no lock of its own — the core map holds its
// lock for the whole eviction, including this write, so the frame cannot
// be reclaimed out from under the data in flight to disk.
func (as *AddressSpace) SaveToSwap(vpn int) error {
	entry := as.GetPage(vpn)
	if entry == nil || entry.PhysicalPage < 0 {
		return fmt.Errorf("addrspace: save to swap: vpn %d has no frame", vpn)
	}
	if !entry.Dirty {
		return nil
	}
	data := as.cm.FrameBytes(entry.PhysicalPage)
	if _, err := as.swap.WriteAt(data, int64(vpn*config.PageSize)); err != nil {
		return fmt.Errorf("addrspace: write swap page %d: %w", vpn, err)
	}
	entry.Swap = true
	return nil
}

// LoadPage services a fault on vpn: claims a frame (evicting a victim via
// the core map's clock policy if none is free), fills it from the
// executable image or from swap depending on whether this page has ever
// been written out before, and marks the entry valid. The whole
// check-evict-claim-load sequence runs under one core map lock so that no
// other address space's fault can observe or reclaim the frame mid-load.
func (as *AddressSpace) LoadPage(vpn int) (coremap.TranslationEntry, error) {
	if vpn < 0 || vpn >= len(as.pageTable) {
		return coremap.TranslationEntry{}, kernelerr.ErrInvalidArgument
	}

	as.cm.Lock()
	defer as.cm.Unlock()

	entry := &as.pageTable[vpn]
	if entry.Valid {
		return *entry, nil
	}

	if as.cm.NumFreeFramesLocked() == 0 {
		if err := as.cm.FreePageLocked(); err != nil {
			return coremap.TranslationEntry{}, err
		}
	}
	frame := as.cm.FindLocked(as, vpn)

	page := as.cm.FrameBytes(frame)
	for i := range page {
		page[i] = 0
	}

	if entry.Swap {
		if _, err := as.swap.ReadAt(page, int64(vpn*config.PageSize)); err != nil {
			return coremap.TranslationEntry{}, fmt.Errorf("addrspace: read swap page %d: %w", vpn, err)
		}
	} else if as.exe != nil {
		if err := as.loadFromExecutable(vpn, page); err != nil {
			return coremap.TranslationEntry{}, err
		}
	}

	entry.PhysicalPage = frame
	entry.Valid = true
	entry.Use = true
	entry.Dirty = false
	return *entry, nil
}

// loadFromExecutable copies whichever parts of the code and initialized-
// data segments overlap vpn's byte range out of the executable image and
// into page. Bytes in the page outside of both segments (uninitialized
// data, BSS, stack) stay zero, matching the caller's pre-zeroed buffer.
func (as *AddressSpace) loadFromExecutable(vpn int, page []byte) error {
	pageStart := vpn * config.PageSize
	pageEnd := pageStart + config.PageSize

	if start, end, ok := overlap(pageStart, pageEnd, as.layout.CodeAddr, as.layout.CodeAddr+as.layout.CodeSize); ok {
		fileOffset := as.layout.CodeOffset + (start - as.layout.CodeAddr)
		if _, err := as.exe.ReadAt(page[start-pageStart:end-pageStart], int64(fileOffset)); err != nil {
			return fmt.Errorf("addrspace: load code segment for vpn %d: %w", vpn, err)
		}
	}
	if start, end, ok := overlap(pageStart, pageEnd, as.layout.InitDataAddr, as.layout.InitDataAddr+as.layout.InitDataSize); ok {
		fileOffset := as.layout.InitDataOffset + (start - as.layout.InitDataAddr)
		if _, err := as.exe.ReadAt(page[start-pageStart:end-pageStart], int64(fileOffset)); err != nil {
			return fmt.Errorf("addrspace: load data segment for vpn %d: %w", vpn, err)
		}
	}
	return nil
}

// overlap returns the intersection of [aStart,aEnd) and [bStart,bEnd), and
// whether it is non-empty.
func overlap(aStart, aEnd, bStart, bEnd int) (start, end int, ok bool) {
	start = max(aStart, bStart)
	end = min(aEnd, bEnd)
	return start, end, start < end
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// InitRegisters returns a fresh register snapshot for this address
// space's entry thread: PC, next-PC (one instruction ahead of PC, so the
// first fetch-execute cycle already has the following instruction
// queued), and the stack pointer are the only registers the original
// kernel sets up before the first dispatch; everything else starts at
// zero.
func (as *AddressSpace) InitRegisters() Registers {
	var regs Registers
	const pcRegister = 0
	const nextPCRegister = 2
	const stackPointerRegister = 1
	regs[pcRegister] = 0
	regs[nextPCRegister] = 4
	regs[stackPointerRegister] = as.numPages*config.PageSize - 16
	return regs
}

// SaveState copies the live TLB into this address space's page table, so
// that whatever was learned via faults or reference/dirty bits while this
// address space was running isn't lost across a context switch. The TLB
// itself is a parameter, not ambient state: whatever runs the machine is
// responsible for supplying the entries actually loaded into hardware.
func (as *AddressSpace) SaveState(tlb []TLBEntry) {
	for _, e := range tlb {
		if !e.Valid {
			continue
		}
		entry := as.GetPage(e.VirtualPage)
		if entry == nil {
			continue
		}
		entry.Use = entry.Use || e.Use
		entry.Dirty = entry.Dirty || e.Dirty
	}
}

// RestoreState produces a fresh TLB image for this address space by
// invalidating every entry; the original kernel never preloads
// translations on a switch-in, relying on faults to repopulate them.
func (as *AddressSpace) RestoreState(tlb []TLBEntry) {
	for i := range tlb {
		tlb[i] = TLBEntry{}
	}
}
