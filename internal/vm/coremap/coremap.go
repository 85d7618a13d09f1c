// Package coremap implements the physical-frame registry backing demand
// paging: which address space and virtual page occupies each frame, and
// the second-chance (clock) policy that picks a victim to evict when every
// frame is taken.
//
// The whole subsystem is serialized behind one mutex rather than one per
// address space. The original kernel gets this for free from its
// cooperative, single-CPU scheduler; reconstructing the same guarantee
// with goroutines needs an explicit lock, and a coarse one is simplest to
// reason about: it also means a victim's dirty page finishes writing to
// swap before its frame is handed to anyone else, which a lock scoped
// around eviction alone would not guarantee.
package coremap

import (
	"fmt"
	"sync"

	"github.com/IgnacioCantore/Nachos/internal/bitmap"
	"github.com/IgnacioCantore/Nachos/internal/config"
)

// TranslationEntry is one page table slot: the mapping from a virtual page
// to its physical frame (when resident) plus the bits the replacement
// policy and the dirty-propagation path need.
type TranslationEntry struct {
	VirtualPage  int
	PhysicalPage int // -1 when the page does not hold a frame
	Valid        bool
	Use          bool
	Dirty        bool
	ReadOnly     bool
	Swap         bool // true once this page's data has been written to swap at least once
}

// Owner is the callback surface Coremap needs into whatever owns a
// resident page: enough to inspect/clear its use and dirty bits during
// eviction, and to hand off the actual write to the owner's own swap file.
type Owner interface {
	GetPage(vpn int) *TranslationEntry
	SaveToSwap(vpn int) error
}

// Coremap is the frame table for all of physical memory: config.NumPhysPages
// frames of config.PageSize bytes each.
type Coremap struct {
	mu sync.Mutex

	free   *bitmap.Bitmap
	owners []Owner
	vpns   []int
	memory []byte

	victim int
}

// New returns an empty core map with every frame free.
func New() *Coremap {
	return &Coremap{
		free:   bitmap.New(config.NumPhysPages),
		owners: make([]Owner, config.NumPhysPages),
		vpns:   make([]int, config.NumPhysPages),
		memory: make([]byte, config.NumPhysPages*config.PageSize),
	}
}

// Lock acquires the core map for a LoadPage-style check-evict-claim
// sequence. Every *Locked method below requires the caller to already
// hold it.
func (c *Coremap) Lock() { c.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (c *Coremap) Unlock() { c.mu.Unlock() }

// NumFreeFramesLocked reports how many frames are currently unclaimed.
func (c *Coremap) NumFreeFramesLocked() int { return c.free.CountClear() }

// InMemoryLocked reports whether entry's recorded frame is still actually
// backing (owner, entry.VirtualPage) — false once that frame has been
// reassigned to somebody else.
func (c *Coremap) InMemoryLocked(owner Owner, entry TranslationEntry) bool {
	p := entry.PhysicalPage
	if p < 0 || p >= len(c.owners) {
		return false
	}
	return c.owners[p] == owner && c.vpns[p] == entry.VirtualPage
}

// FindLocked claims a free frame for (owner, vpn). The caller must have
// already ensured one is free, e.g. via FreePageLocked; like the original
// kernel's hard ASSERT(physAddr != -1), calling this with every frame
// taken is a caller bug, not a recoverable error.
func (c *Coremap) FindLocked(owner Owner, vpn int) int {
	frame := c.free.Find()
	if frame == -1 {
		panic("coremap: find: no free physical frame")
	}
	c.owners[frame] = owner
	c.vpns[frame] = vpn
	return frame
}

// FreePageLocked runs the clock policy: advance the victim cursor past
// every frame whose page is currently marked used, clearing that bit as
// it passes, until landing on one that is not; then evict it, persisting
// its data to the owning address space's swap file before the frame is
// released for reuse. Forward progress is guaranteed within two sweeps of
// the frame table, since the first sweep clears every use bit it doesn't
// stop on.
func (c *Coremap) FreePageLocked() error {
	n := len(c.owners)
	for {
		entry := c.owners[c.victim].GetPage(c.vpns[c.victim])
		if !entry.Use {
			break
		}
		entry.Use = false
		c.victim = (c.victim + 1) % n
	}

	victim := c.victim
	owner := c.owners[victim]
	vpn := c.vpns[victim]
	c.victim = (c.victim + 1) % n

	if err := owner.SaveToSwap(vpn); err != nil {
		return fmt.Errorf("coremap: evict frame %d: %w", victim, err)
	}
	if entry := owner.GetPage(vpn); entry != nil {
		entry.Valid = false
		entry.PhysicalPage = -1
	}
	c.free.Clear(victim)
	c.owners[victim] = nil
	return nil
}

// FreeFrameLocked releases frame directly, without consulting the clock
// policy or writing anything to swap: for when the caller already knows
// the frame's contents don't need to survive, e.g. an address space being
// torn down.
func (c *Coremap) FreeFrameLocked(frame int) {
	c.free.Clear(frame)
	c.owners[frame] = nil
}

// UpdateEntryLocked propagates a just-observed write into the canonical
// page table entry for physPage's current occupant, but only if that
// frame still belongs to the owner it's recorded against — a write
// reported against a frame that has since been reassigned is stale and
// must not corrupt the new occupant's dirty bit.
func (c *Coremap) UpdateEntryLocked(physPage int) {
	owner := c.owners[physPage]
	if owner == nil {
		return
	}
	entry := owner.GetPage(c.vpns[physPage])
	if c.InMemoryLocked(owner, *entry) {
		entry.Dirty = true
	}
}

// FrameBytes returns the PageSize-byte slice of physical memory backing
// frame. Callers read or write it directly; access is not separately
// synchronized, matching the original kernel's direct pointer arithmetic
// into main memory.
func (c *Coremap) FrameBytes(frame int) []byte {
	start := frame * config.PageSize
	return c.memory[start : start+config.PageSize]
}
