// Command forkserver-probe drives a single instrumented binary through a
// fixed number of fuzzing iterations and reports the resulting
// execution statistics. It exists to exercise the forkserver package
// end-to-end against a real target from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	forkserver "github.com/behrlich/go-forkserver"
	"github.com/behrlich/go-forkserver/internal/logging"
)

func main() {
	var (
		iterations = flag.Int("n", 100, "Number of fuzzing iterations to run")
		timeoutMS  = flag.Uint("timeout-ms", 0, "Per-iteration timeout in milliseconds (0 = package default)")
		verbose    = flag.Bool("v", false, "Verbose output")
		crashCodes = flag.String("crash-exit-codes", "", "Comma-separated list of additional exit codes to treat as crashes")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: forkserver-probe [flags] <binary> [args...]")
		os.Exit(2)
	}
	binary := flag.Arg(0)
	targetArgs := flag.Args()[1:]

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	builder := forkserver.NewBuilder(binary).Args(targetArgs...).Logger(logger)
	if *timeoutMS > 0 {
		builder = builder.TimeoutMS(uint32(*timeoutMS))
	}
	for _, code := range parseCrashCodes(*crashCodes) {
		builder = builder.CrashExitCode(code)
	}

	fs, err := builder.Spawn()
	if err != nil {
		log.Fatalf("failed to spawn target: %v", err)
	}
	defer func() {
		logger.Info("stopping target")
		if err := fs.Close(); err != nil {
			logger.Error("error stopping target", "error", err)
		}
	}()

	logger.Info("target spawned", "binary", binary, "mode", fs.Mode().String(), "pid", fs.Pid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	ran := 0
	for i := 0; i < *iterations; i++ {
		select {
		case <-ctx.Done():
			logger.Info("stopping early due to shutdown signal", "completed", ran)
			i = *iterations
			continue
		default:
		}

		status, err := fs.Execute(ctx)
		if err != nil {
			logger.Error("iteration failed", "iteration", i, "error", err)
			continue
		}
		ran++
		if *verbose {
			logger.Debug("iteration complete", "iteration", i, "status", status.String())
		}
	}

	snap := fs.Stats()
	fmt.Printf("executions: %d\n", snap.Executions)
	fmt.Printf("crashes:    %d\n", snap.Crashes)
	fmt.Printf("timeouts:   %d\n", snap.Timeouts)
	fmt.Printf("errors:     %d\n", snap.Errors)
	fmt.Printf("avg latency: %s\n", time.Duration(snap.AvgLatencyNs))
	fmt.Printf("execs/sec:   %.1f\n", snap.ExecsPerSecond)

	if snap.Crashes > 0 {
		os.Exit(1)
	}
}

func parseCrashCodes(raw string) []uint8 {
	if raw == "" {
		return nil
	}
	var codes []uint8
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			continue
		}
		codes = append(codes, uint8(n))
	}
	return codes
}
