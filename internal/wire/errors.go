package wire

import "errors"

// ErrShortBuffer is returned when a buffer is too small to decode.
var ErrShortBuffer = errors.New("wire: short buffer")
