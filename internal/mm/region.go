package mm

import "sort"

// Region is a contiguous range of virtual addresses within a Domain with
// uniform flags (spec.md §3 "Memory Region").
type Region struct {
	Base   uintptr
	Size   uintptr
	Flags  RegionFlags
	Prot   RegionFlags // protection mask, independent of Shared/CoW bookkeeping
	Frames []int       // physical frame indices backing this region, base-ordered
	// External marks a region installed by Map for a caller-owned physical
	// address (e.g. driver MMIO): Unmap must not free these frames.
	External bool
}

func (r *Region) end() uintptr { return r.Base + r.Size }

func (r *Region) overlaps(base, size uintptr) bool {
	end := base + size
	return r.Base < end && base < r.end()
}

func (r *Region) contains(addr uintptr) bool {
	return addr >= r.Base && addr < r.end()
}

// regionTable keeps a domain's regions ordered by base address (spec.md §4.B
// "Region table: per-domain, ordered by base address. Lookup is O(log n)
// via binary search; insertion is O(log n + region-shift)").
type regionTable struct {
	regions []*Region
}

func (t *regionTable) findIndex(addr uintptr) int {
	return sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].end() > addr
	})
}

// find returns the region containing addr, or nil.
func (t *regionTable) find(addr uintptr) *Region {
	i := t.findIndex(addr)
	if i < len(t.regions) && t.regions[i].contains(addr) {
		return t.regions[i]
	}
	return nil
}

// findByBase returns the region whose base address is exactly addr.
func (t *regionTable) findByBase(addr uintptr) *Region {
	i := t.findIndex(addr)
	if i < len(t.regions) && t.regions[i].Base == addr {
		return t.regions[i]
	}
	return nil
}

// overlapsAny reports whether [base, base+size) overlaps any existing region.
func (t *regionTable) overlapsAny(base, size uintptr) bool {
	i := t.findIndex(base)
	// A region ending exactly at base, or starting before the new range's
	// end, may overlap; check neighbors around the insertion point.
	for j := i - 1; j <= i+1; j++ {
		if j < 0 || j >= len(t.regions) {
			continue
		}
		if t.regions[j].overlaps(base, size) {
			return true
		}
	}
	return false
}

// insert adds r, keeping the table ordered by base address.
func (t *regionTable) insert(r *Region) {
	i := t.findIndex(r.Base)
	t.regions = append(t.regions, nil)
	copy(t.regions[i+1:], t.regions[i:])
	t.regions[i] = r
}

// remove deletes the region with the given base address; it is the
// caller's job to have located it with findByBase first.
func (t *regionTable) remove(r *Region) {
	for i, cur := range t.regions {
		if cur == r {
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			return
		}
	}
}

// firstFit scans the table's gaps for the first one of at least size,
// address-ordered, starting the search at floor (spec.md §4.B "Scans the
// domain's free virtual space for a gap >= size (first-fit,
// address-ordered)").
func (t *regionTable) firstFit(floor, ceil, size uintptr) (uintptr, bool) {
	cursor := floor
	for _, r := range t.regions {
		if r.Base < cursor {
			if r.end() > cursor {
				cursor = r.end()
			}
			continue
		}
		if r.Base-cursor >= size {
			return cursor, true
		}
		cursor = r.end()
	}
	if ceil-cursor >= size {
		return cursor, true
	}
	return 0, false
}
