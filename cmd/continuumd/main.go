package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	continuum "github.com/continuum-os/continuum"
	"github.com/continuum-os/continuum/internal/dispatch"
	"github.com/continuum-os/continuum/internal/logging"
	"github.com/continuum-os/continuum/internal/mm"
)

func main() {
	var (
		memStr  = flag.String("mem", "64M", "Size of the physical frame arena (e.g., 64M, 1G)")
		cpus    = flag.Int("cpus", 1, "Number of logical CPUs the scheduler manages")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	memBytes, err := parseSize(*memStr)
	if err != nil {
		log.Fatalf("invalid -mem %q: %v", *memStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := continuum.BootConfig{
		NumCPUs:     *cpus,
		ArenaFrames: int(memBytes / continuum.PageSize),
		Logger:      logger,
	}

	logger.Info("booting kernel", "cpus", *cpus, "arena", formatSize(memBytes))
	k, err := continuum.Boot(ctx, nil, cfg)
	if err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}

	logger.Info("kernel running", "state", k.State())
	runDemo(ctx, k, logger)

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			if f, err := os.Create(fmt.Sprintf("continuumd-stacks-%d.txt", time.Now().Unix())); err == nil {
				f.Write(buf[:n])
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()

	done := make(chan struct{})
	go func() {
		if err := k.Shutdown(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("kernel stopped")
	case <-time.After(time.Second):
		logger.Info("shutdown timed out, forcing exit")
	}
}

// runDemo spawns two quanta, hands them full capabilities, and drives a
// single conduit round trip so an operator watching the logs can see the
// dispatcher, scheduler, and IPC registry all cooperate before the daemon
// settles into waiting for a signal.
func runDemo(ctx context.Context, k *continuum.Kernel, logger *logging.Logger) {
	const allCaps = ^uint64(0)
	dom, err := k.CreateDomain(0)
	if err != nil {
		logger.Error("demo: create domain failed", "error", err)
		return
	}

	sender := k.Spawn("demo-sender", 2, dom.ID, allCaps)
	receiver := k.Spawn("demo-receiver", 2, dom.ID, allCaps)

	namePtr := k.Dispatch(ctx, sender, dispatch.AllocRegion, dispatch.Params{4096, uint64(mm.Read | mm.Write)})
	if namePtr < 0 {
		logger.Error("demo: alloc region failed", "code", namePtr)
		return
	}
	nameBytes, err := k.MM().Translate(dom, uintptr(namePtr))
	if err != nil {
		logger.Error("demo: translate failed", "error", err)
		return
	}
	const conduitName = "continuumd-demo"
	copy(nameBytes, conduitName)

	handle := k.Dispatch(ctx, sender, dispatch.CreateConduit, dispatch.Params{uint64(namePtr), uint64(len(conduitName)), 4096})
	if handle < 0 {
		logger.Error("demo: create conduit failed", "code", handle)
		return
	}

	payloadPtr := k.Dispatch(ctx, sender, dispatch.AllocRegion, dispatch.Params{4096, uint64(mm.Read | mm.Write)})
	payload, _ := k.MM().Translate(dom, uintptr(payloadPtr))
	copy(payload, "hello from continuumd")

	sent := k.Dispatch(ctx, sender, dispatch.SendMessage, dispatch.Params{uint64(handle), uint64(payloadPtr), uint64(len("hello from continuumd"))})
	logger.Info("demo: sent message", "bytes", sent)

	receiverNamePtr := k.Dispatch(ctx, receiver, dispatch.AllocRegion, dispatch.Params{4096, uint64(mm.Read | mm.Write)})
	receiverName, _ := k.MM().Translate(dom, uintptr(receiverNamePtr))
	copy(receiverName, conduitName)
	receiverHandle := k.Dispatch(ctx, receiver, dispatch.OpenConduit, dispatch.Params{uint64(receiverNamePtr), uint64(len(conduitName))})

	recvBufPtr := k.Dispatch(ctx, receiver, dispatch.AllocRegion, dispatch.Params{4096, uint64(mm.Read | mm.Write)})
	received := k.Dispatch(ctx, receiver, dispatch.ReceiveMessage, dispatch.Params{uint64(receiverHandle), uint64(recvBufPtr), 256})
	recvBytes, _ := k.MM().Translate(dom, uintptr(recvBufPtr))
	if received > 0 {
		logger.Info("demo: received message", "bytes", received, "payload", string(recvBytes[:received]))
	}

	snap := k.MetricsSnapshot()
	logger.Info("demo: metrics snapshot", "send_ops", snap.SendOps, "receive_ops", snap.ReceiveOps)
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
