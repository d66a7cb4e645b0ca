//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/juniper-oj/judgebox/logger"
	"github.com/juniper-oj/judgebox/options"
	"github.com/juniper-oj/judgebox/sandbox"
)

/**
 * Application entry point.
 */
func main() {
	// Parse command-line options.
	opts, err := options.ParseCli(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parsing error:", err)
		os.Exit(1)
	} else if opts == nil {
		// No options means help or version was printed.
		os.Exit(0)
	}

	// Create the application logger.
	log := logger.CreateLogger(&logger.LoggerOpts{
		LogLevel:  opts.LogLevel,
		LogFormat: logger.LogText,
	})
	log.Info("options", slog.Any("opts", opts))

	// Mount the sandbox's overlay root.
	box, err := sandbox.New(opts.RootFS, opts.Work, opts.Target)
	if err != nil {
		log.Error("error while creating sandbox", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := box.Close(); err != nil {
			log.Warn("error while unmounting sandbox", slog.Any("err", err))
		}
	}()

	opts.Config.Stdin = os.Stdin
	opts.Config.Stdout = os.Stdout
	opts.Config.Stderr = os.Stderr

	// Run the command to completion.
	outcome, err := box.Run(opts.Config)
	if err != nil {
		log.Error("error while executing sandbox run", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Printf("status=%s used_time_ms=%d max_memory_bytes=%d return_code=%d\n",
		outcome.Status, outcome.UsedTimeMs(), outcome.MaxMemoryBytes, outcome.ReturnCode)

	// The outcome category lives in the printed output, not the exit code:
	// any non-crash completion exits 0.
	os.Exit(0)
}
