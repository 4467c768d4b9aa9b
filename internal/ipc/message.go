package ipc

import "github.com/continuum-os/continuum/internal/wire"

// Message is the decoded result of a Receive/Peek: the fixed header plus
// however many payload bytes the caller's buffer actually held (spec.md
// §3 "Message").
type Message struct {
	Header  wire.MessageHeader
	Payload []byte
}
