package continuum

import "github.com/continuum-os/continuum/internal/kerr"

// Code is the closed taxonomy of kernel error kinds from spec.md §7. It is
// an alias of internal/kerr.Code so every subsystem package and the public
// surface share one identity of error codes without an import cycle.
type Code = kerr.Code

const (
	CodeInvalidArgument = kerr.InvalidArgument
	CodeDenied          = kerr.Denied
	CodeNotFound        = kerr.NotFound
	CodeExists          = kerr.Exists
	CodeOutOfMemory     = kerr.OutOfMemory
	CodeNoAddressSpace  = kerr.NoAddressSpace
	CodeConflict        = kerr.Conflict
	CodeWouldBlock      = kerr.WouldBlock
	CodeCancelled       = kerr.Cancelled
	CodePipe            = kerr.Pipe
	CodeMessageTooLarge = kerr.MessageTooLarge
	CodeBroken          = kerr.Broken
	CodeNoSuchCall      = kerr.NoSuchCall
)

// Error is the kernel's structured error type (alias of internal/kerr.Error).
type Error = kerr.Error

// NewError creates a structured error for the named operation.
func NewError(op string, code Code, msg string) *Error { return kerr.New(op, code, msg) }

// NewQuantumError creates an error scoped to a specific quantum.
func NewQuantumError(op string, quantum int64, code Code, msg string) *Error {
	return kerr.NewQuantum(op, quantum, code, msg)
}

// NewDomainError creates an error scoped to a specific memory domain.
func NewDomainError(op string, domain int64, code Code, msg string) *Error {
	return kerr.NewDomain(op, domain, code, msg)
}

// NewConduitError creates an error scoped to a specific conduit.
func NewConduitError(op string, conduit string, code Code, msg string) *Error {
	return kerr.NewConduit(op, conduit, code, msg)
}

// WrapError attaches operation context to an inner error.
func WrapError(op string, inner error) *Error { return kerr.Wrap(op, inner) }

// IsCode reports whether err is a structured *Error with the given code.
func IsCode(err error, code Code) bool { return kerr.Is(err, code) }
