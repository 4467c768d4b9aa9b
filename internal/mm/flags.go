package mm

// RegionFlags describe a Region's protection and sharing discipline
// (spec.md §3 "Memory Region").
type RegionFlags uint32

const (
	Read RegionFlags = 1 << iota
	Write
	Exec
	User
	Shared
	CoW
	Compressed // declared by spec.md, unimplemented: see DESIGN.md Open Questions
	Encrypted  // declared by spec.md, unimplemented: see DESIGN.md Open Questions
	ReadOnly
)

// Executable is an alias of Exec; spec.md lists both names for the same bit.
const Executable = Exec

// Has reports whether all bits in want are set in f.
func (f RegionFlags) Has(want RegionFlags) bool { return f&want == want }

// AllocFlags modify how Allocate backs a region with physical pages.
type AllocFlags uint32

const (
	// Zero zero-fills pages before returning them to the caller.
	Zero AllocFlags = 1 << iota
	// Contiguous requires physically contiguous frames. Allocate rejects
	// this with InvalidArgument: see DESIGN.md Open Questions.
	Contiguous
	// Large requests a huge-page-backed mapping. Allocate rejects this
	// with InvalidArgument: see DESIGN.md Open Questions.
	Large
)
