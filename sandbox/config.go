//go:build linux

package sandbox

import (
	"os"
	"time"
)

// Config describes one command to run inside a Sandbox.
type Config struct {
	// WallTimeLimit bounds real elapsed time before the run is terminated
	// and classified TimeLimitExceeded.
	WallTimeLimit time.Duration

	// MemoryLimit is the user-facing memory cap in bytes. The cgroup
	// bundle enforces a hard limit of twice this value so the peak can be
	// observed before the kernel OOM-kills the process.
	MemoryLimit uint64

	// PidsLimit caps the number of tasks the command's process tree may
	// hold at once.
	PidsLimit uint16

	// Command is executed as `/bin/sh -c Command` inside the sandbox root.
	Command string

	// Stdin, Stdout, Stderr are dup2'd onto the child's standard streams.
	// A nil entry inherits the corresponding stream from the host process.
	Stdin, Stdout, Stderr *os.File
}
