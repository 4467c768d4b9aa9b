package continuum

import (
	"context"
	"io"
	"testing"

	"github.com/continuum-os/continuum/internal/logging"
	"github.com/continuum-os/continuum/internal/wire"
)

// TestLogger returns a Logger that discards everything, for tests that
// don't want boot/shutdown diagnostics on stderr.
func TestLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.LevelError, Output: io.Discard})
}

// BootForTest boots a Kernel over a small heap-backed arena with a
// discarding logger, failing the test immediately on any boot error. Tests
// that need a non-default BootConfig should set it before calling this and
// leave Logger/UseHeapArena zero; both get filled in here.
func BootForTest(t *testing.T, cfg BootConfig) *Kernel {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = TestLogger()
	}
	cfg.UseHeapArena = true
	if cfg.ArenaFrames == 0 {
		cfg.ArenaFrames = 256 // 1MiB, plenty for unit-scale scenarios
	}
	k, err := Boot(context.Background(), nil, cfg)
	if err != nil {
		t.Fatalf("continuum: BootForTest: %v", err)
	}
	t.Cleanup(func() { _ = k.Shutdown() })
	return k
}

// ValidBootHandoff builds a minimal, correctly-tagged boot handoff buffer
// for tests exercising Boot's handoff decoding path (DecodeBootHandoff,
// ValidateBootHandoff) rather than skipping it with a nil payload.
func ValidBootHandoff(usableBytes uint64) []byte {
	return wire.MarshalBootContext(wire.BootContext{
		Magic: wire.BootMagic,
		Mode:  0,
		MemoryMap: []wire.MemoryMapEntry{
			{Base: 0, Length: usableBytes, Type: 0},
		},
		TotalRAM: usableBytes,
	})
}

// InvalidBootHandoff builds a boot handoff buffer with a deliberately wrong
// magic, for tests exercising the halt-on-bad-magic path.
func InvalidBootHandoff() []byte {
	ctx := wire.BootContext{Magic: 0xDEADBEEF, Mode: 0}
	return wire.MarshalBootContext(ctx)
}
