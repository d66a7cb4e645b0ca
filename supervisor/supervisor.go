//go:build linux

// Package supervisor drives one run to completion: it races a child wait
// against a cgroup emptiness poll under a wall-clock deadline, then
// classifies the result from cgroup-reported counters rather than rusage,
// since a sandboxed command may spawn helpers whose usage rusage never
// aggregates.
package supervisor

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/juniper-oj/judgebox/cgroupv1"
	"github.com/juniper-oj/judgebox/launcher"
	"github.com/juniper-oj/judgebox/logger"
)

// sentinel is the launcher's fixed exit code for a pre-exec setup failure.
// It collides with a legitimate user exit(127), which is why Run consults
// Process.ReachedExec rather than the code alone.
const sentinel = 127

func withDefaults(l Limits) Limits {
	if l.Grace == 0 {
		l.Grace = DefaultGrace
	}
	if l.PollDelay == 0 {
		l.PollDelay = DefaultPollDelay
	}
	if l.KillTimeout == 0 {
		l.KillTimeout = DefaultKillTimeout
	}
	return l
}

// Run observes proc until it exits, the cgroup drains, or the deadline
// elapses, then drives the kill-all protocol and classifies the outcome.
// It always attempts KillAll before returning, win or lose; the bundle is
// drained of tasks on return unless KillAll reports a failure, which is
// logged as a warning and does not change the outcome.
func Run(proc *launcher.Process, cg *cgroupv1.Bundle, limits Limits) (Outcome, error) {
	limits = withDefaults(limits)
	deadline := limits.WallTime + limits.Grace

	exited, ws, timedOut := observe(proc, cg, deadline, limits.PollDelay)

	var usedTime time.Duration
	if timedOut {
		cpuTime, err := cg.CPUTime()
		if err != nil {
			logger.Log.Warn("reading cpu time after timeout failed", slog.Any("err", err))
		}
		usedTime = deadline
		if cpuTime > usedTime {
			usedTime = cpuTime
		}
	} else {
		cpuTime, err := cg.CPUTime()
		if err != nil {
			if kerr := cg.KillAll(limits.KillTimeout); kerr != nil {
				logger.Log.Warn("kill-all did not fully drain cgroup", slog.Any("err", kerr))
			}
			return Outcome{}, fmt.Errorf("read cpu time: %w", err)
		}
		usedTime = cpuTime
	}

	if err := cg.KillAll(limits.KillTimeout); err != nil {
		logger.Log.Warn("kill-all did not fully drain cgroup", slog.Any("err", err))
	}

	peakMemory, err := cg.PeakMemory()
	if err != nil {
		return Outcome{}, fmt.Errorf("read peak memory: %w", err)
	}

	returnCode, internal := classifyExit(exited, ws, proc)

	outcome := Outcome{UsedTime: usedTime, MaxMemoryBytes: peakMemory, ReturnCode: returnCode}
	if internal {
		outcome.Status = InternalError
		return outcome, nil
	}

	outcome.Status = classify(returnCode, peakMemory, usedTime, limits)
	return outcome, nil
}

// classify applies the status priority from spec.md §4.4 step 8: each
// check overwrites the previous verdict only when it applies, in the
// order Runtime, Memory, Time, so that a later write wins and the net
// priority is TimeLimitExceeded > MemoryLimitExceeded > RuntimeError >
// Success.
func classify(returnCode int32, peakMemory uint64, usedTime time.Duration, limits Limits) Status {
	status := Success
	if returnCode != 0 {
		status = RuntimeError
	}
	if peakMemory > limits.MemoryBytes {
		status = MemoryLimitExceeded
	}
	if usedTime > limits.WallTime {
		status = TimeLimitExceeded
	}
	return status
}

// observe races a non-blocking child wait (TryWait) against a cgroup
// emptiness poll, sleeping pollDelay between rounds until deadline. Once
// the cgroup reports empty it reaps the child with a blocking Wait.
func observe(proc *launcher.Process, cg *cgroupv1.Bundle, deadline, pollDelay time.Duration) (exited bool, ws unix.WaitStatus, timedOut bool) {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if done, status, err := proc.TryWait(); err == nil && done {
			return true, status, false
		}
		if empty, err := cg.IsEmpty(); err == nil && empty {
			status, err := proc.Wait()
			if err == nil {
				return true, status, false
			}
			return false, ws, false
		}
		time.Sleep(pollDelay)
	}
	if done, status, err := proc.TryWait(); err == nil && done {
		return true, status, false
	}
	return false, ws, true
}

// classifyExit turns a wait status into a return code, detecting the
// InternalError case: the child hit the launcher's failure sentinel
// without ever reaching its final exec attempt.
func classifyExit(exited bool, ws unix.WaitStatus, proc *launcher.Process) (returnCode int32, internal bool) {
	if !exited {
		return -1, false
	}
	reachedExec := proc.ReachedExec()
	if ws.Signaled() {
		return -1, false
	}
	code := int32(ws.ExitStatus())
	if code == sentinel && !reachedExec {
		return code, true
	}
	return code, false
}
