package continuum

import (
	"github.com/continuum-os/continuum/internal/wire"
)

// ErrBadBootMagic is returned by Boot when the supplied boot context's
// magic number does not match wire.BootMagic (spec.md §6.1 "If the magic
// is wrong the core halts").
var ErrBadBootMagic = NewError("boot", CodeInvalidArgument, "boot context magic mismatch, halting")

// BootHandoff is the decoded firmware/bootloader-supplied boot record
// (spec.md §6.1): a magic number, an opaque boot mode, and the memory map
// enumerating usable/reserved/reclaimable RAM.
type BootHandoff = wire.BootContext

// ValidateBootHandoff checks a decoded boot context's magic number before
// the core does anything else with it. A bad magic means the handoff
// structure is not the core's own and Boot refuses to proceed, matching
// spec.md §6.1's "the core halts" (expressed here as an error return
// rather than a literal halt, since Boot is a library entry point, not
// the bottom of a boot loader).
func ValidateBootHandoff(h BootHandoff) error {
	if !h.Valid() {
		return ErrBadBootMagic
	}
	return nil
}

// DecodeBootHandoff unmarshals a raw boot-context buffer (as a loader
// would hand off in memory) and validates its magic in one step.
func DecodeBootHandoff(raw []byte) (BootHandoff, error) {
	h, err := wire.UnmarshalBootContext(raw)
	if err != nil {
		return BootHandoff{}, WrapError("boot.decode", err)
	}
	if err := ValidateBootHandoff(h); err != nil {
		return BootHandoff{}, err
	}
	return h, nil
}

// UsableRAM sums the usable (type 0) regions of a boot handoff's memory
// map, used by Boot to size the physical frame arena when BootConfig
// doesn't pin an explicit frame count.
func UsableRAM(h BootHandoff) uint64 {
	var total uint64
	for _, e := range h.MemoryMap {
		if e.Type == 0 {
			total += e.Length
		}
	}
	return total
}
