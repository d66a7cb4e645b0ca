//go:build linux

// Package sandbox is the public surface of the runtime: a Sandbox owns one
// overlay mount across possibly many sequential runs, creating and tearing
// down a fresh cgroup bundle for each.
package sandbox

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/goombaio/namegenerator"

	"github.com/juniper-oj/judgebox/cgroupv1"
	"github.com/juniper-oj/judgebox/launcher"
	"github.com/juniper-oj/judgebox/logger"
	"github.com/juniper-oj/judgebox/overlayfs"
	"github.com/juniper-oj/judgebox/supervisor"
)

// Sandbox owns one overlay mount and runs commands inside it one at a
// time: a mutex serializes Run and Close, so a Run that overlaps another
// call blocks until that call returns. Distinct Sandbox instances are
// independent.
type Sandbox struct {
	id uuid.UUID

	lowerDir, workDir, mountPoint string

	mu      sync.Mutex
	mount   *overlayfs.Mount
	mounted bool

	labels namegenerator.Generator
}

// New validates the host precondition (memory+swap cgroup accounting) and
// the three directory arguments, then establishes the overlay mount. On
// any error, no mount and no Sandbox are left behind.
func New(lowerDir, workDir, mountPoint string) (*Sandbox, error) {
	if !cgroupv1.HasSwapAccounting() {
		return nil, &overlayfs.PreconditionError{Path: "/sys/fs/cgroup/memory", Err: fmt.Errorf("memory+swap accounting unavailable")}
	}

	mount, err := overlayfs.New(lowerDir, workDir, mountPoint)
	if err != nil {
		return nil, err
	}

	s := &Sandbox{
		id:         uuid.New(),
		lowerDir:   lowerDir,
		workDir:    workDir,
		mountPoint: mountPoint,
		mount:      mount,
		mounted:    true,
		labels:     namegenerator.NewNameGenerator(time.Now().UTC().UnixNano()),
	}

	runtime.SetFinalizer(s, func(s *Sandbox) { _ = s.Close() })

	return s, nil
}

// Run executes one command to completion inside the Sandbox's mount,
// backed by a cgroup bundle created fresh for this call and destroyed
// before Run returns. Counters never leak between successive runs on the
// same Sandbox.
func (s *Sandbox) Run(cfg Config) (supervisor.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mounted {
		return supervisor.Outcome{}, &InternalError{Reason: "Run called on a released Sandbox"}
	}

	label := s.labels.Generate()
	cgroupName := fmt.Sprintf("%s-%s", s.id.String(), label)

	cg, err := cgroupv1.New(cgroupName)
	if err != nil {
		return supervisor.Outcome{}, err
	}
	defer func() {
		if err := cg.Close(); err != nil {
			logger.Log.Warn("cgroup teardown failed", slog.String("cgroup", cgroupName), slog.Any("err", err))
		}
	}()

	if err := cg.SetMemoryLimit(cfg.MemoryLimit); err != nil {
		return supervisor.Outcome{}, err
	}
	if err := cg.SetPidsLimit(cfg.PidsLimit); err != nil {
		return supervisor.Outcome{}, err
	}
	cg.ResetCounters()

	proc, err := launcher.Spawn(launcher.Options{
		MountPoint: s.mountPoint,
		Command:    cfg.Command,
		Stdin:      cfg.Stdin,
		Stdout:     cfg.Stdout,
		Stderr:     cfg.Stderr,
		Cgroup:     cg,
	})
	if err != nil {
		return supervisor.Outcome{}, err
	}
	defer func() {
		if err := proc.Close(); err != nil {
			logger.Log.Warn("releasing process handle failed", slog.Int("pid", proc.Pid()), slog.Any("err", err))
		}
	}()

	outcome, err := supervisor.Run(proc, cg, supervisor.Limits{
		WallTime:    cfg.WallTimeLimit,
		MemoryBytes: cfg.MemoryLimit,
	})
	if err != nil {
		return supervisor.Outcome{}, err
	}

	logger.Log.Info("run complete",
		slog.String("cgroup", cgroupName),
		slog.String("status", outcome.Status.String()),
		slog.Uint64("used_time_ms", outcome.UsedTimeMs()),
		slog.Uint64("max_memory_bytes", outcome.MaxMemoryBytes),
		slog.Int("return_code", int(outcome.ReturnCode)),
	)

	return outcome, nil
}

// Close unmounts the Sandbox's overlay. Idempotent: a second call is a
// no-op. A runtime finalizer also calls Close as a safety net against a
// forgotten explicit call leaking a mount across a long-lived process;
// callers should still call Close themselves rather than rely on it.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mounted {
		return nil
	}
	if err := s.mount.Unmount(); err != nil {
		return err
	}
	s.mounted = false
	runtime.SetFinalizer(s, nil)
	return nil
}

// ID returns the Sandbox's unique identifier.
func (s *Sandbox) ID() uuid.UUID { return s.id }
