package continuum

import "github.com/continuum-os/continuum/internal/constants"

// Re-exported tunables for callers that boot a Kernel without reaching into
// internal packages.
const (
	PageSize           = constants.PageSize
	HugePageSize       = constants.HugePageSize
	NumPriorities      = constants.NumPriorities
	BaseTimeSlice      = constants.BaseTimeSlice
	TickInterval       = constants.TickInterval
	DefaultConduitSize = constants.DefaultConduitCapacity
	MaxMessageSize     = constants.MaxMessageSize
)
