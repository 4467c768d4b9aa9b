// Package dispatch implements the kernel's single entry point from a
// task into kernel services (spec.md §4.E "System-Request Dispatcher"):
// request-id validation, capability enforcement, and routing into
// internal/mm, internal/sched, and internal/ipc.
package dispatch

// RequestID is the stable numeric ABI spec.md §6.3 requires: "numbering
// must be stable across a release." Bit position within a quantum's
// capability set matches the request id, per spec.md §4.E step 2.
type RequestID uint16

const (
	// Memory requests, routed into internal/mm.
	AllocRegion RequestID = iota
	FreeRegion
	MapRegion
	UnmapRegion
	ProtectRegion

	// Task requests, routed into internal/sched.
	SpawnQuantum
	TerminateQuantum
	YieldCpu
	WaitForQuantum

	// IPC requests, routed into internal/ipc.
	CreateConduit
	OpenConduit
	CloseConduit
	SendMessage
	ReceiveMessage
	PeekMessage
	SelectConduits
	BroadcastMessage

	// Meta requests.
	QueryTime
	QueryStats

	numRequestIDs
)

var requestNames = map[RequestID]string{
	AllocRegion:      "AllocRegion",
	FreeRegion:       "FreeRegion",
	MapRegion:        "MapRegion",
	UnmapRegion:      "UnmapRegion",
	ProtectRegion:    "ProtectRegion",
	SpawnQuantum:     "SpawnQuantum",
	TerminateQuantum: "TerminateQuantum",
	YieldCpu:         "YieldCpu",
	WaitForQuantum:   "WaitForQuantum",
	CreateConduit:    "CreateConduit",
	OpenConduit:      "OpenConduit",
	CloseConduit:     "CloseConduit",
	SendMessage:      "SendMessage",
	ReceiveMessage:   "ReceiveMessage",
	PeekMessage:      "PeekMessage",
	SelectConduits:   "SelectConduits",
	BroadcastMessage: "BroadcastMessage",
	QueryTime:        "QueryTime",
	QueryStats:       "QueryStats",
}

// Known reports whether id names an enumerated request (spec.md §4.E
// step 1: "Validates request_id is known; unknown -> NoSuchCall").
func (id RequestID) Known() bool {
	return id < numRequestIDs
}

func (id RequestID) String() string {
	if name, ok := requestNames[id]; ok {
		return name
	}
	return "unknown"
}

// NumRequests is the count of enumerated request ids, exposed so callers
// can size a quantum's capability bitmask (one bit per request id).
const NumRequests = int(numRequestIDs)

// Params is the fixed-width argument record a system request carries
// (spec.md §4.E "A request is a record { request_id: u16, params: [u64;
// N] }"). N is fixed at 6: enough for the widest call (SelectConduits:
// two handle/op pairs and a timeout in p[0..4]) with room to spare.
type Params [6]uint64
