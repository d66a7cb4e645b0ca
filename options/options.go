//go:build linux

package options

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bytesize "github.com/inhies/go-bytesize"
	"github.com/urfave/cli/v3"

	"github.com/juniper-oj/judgebox/sandbox"
	"github.com/juniper-oj/judgebox/version"
)

// Options is the fully-parsed command line: the three Sandbox directory
// arguments plus one Config to run once.
type Options struct {
	RootFS string
	Work   string
	Target string

	Config sandbox.Config

	LogLevel slog.Level
}

// buildOptionsFromCLI translates a parsed *cli.Command into Options.
func buildOptionsFromCLI(c *cli.Command) (*Options, error) {
	logLevel, err := parseLogLevel(c.String("debug"))
	if err != nil {
		return nil, err
	}

	o := &Options{
		RootFS:   c.String("rootfs"),
		Work:     c.String("work"),
		Target:   c.String("target"),
		LogLevel: logLevel,
	}

	memory, err := parseMemory(c.String("memory"))
	if err != nil {
		return nil, fmt.Errorf("bad --memory %q: %w", c.String("memory"), err)
	}

	pids := c.Int("pids")
	if pids <= 0 || pids > 0xffff {
		return nil, fmt.Errorf("bad --pids %d: must be between 1 and 65535", pids)
	}

	argv := c.Args().Slice()
	if len(argv) == 0 {
		return nil, fmt.Errorf("missing command; usage: judgebox [options] -- command")
	}

	o.Config = sandbox.Config{
		WallTimeLimit: time.Duration(c.Int("time")) * time.Millisecond,
		MemoryLimit:   memory,
		PidsLimit:     uint16(pids),
		Command:       argv[0],
	}

	return o, nil
}

// parseMemory accepts either a raw KiB integer (the literal CLI contract)
// or a human-friendly bytesize string such as "256MB", widening the
// reference front-end beyond the bare-minimum flag surface.
func parseMemory(s string) (uint64, error) {
	if kib, err := parseUintStrict(s); err == nil {
		return kib * 1024, nil
	}
	size, err := bytesize.Parse(s)
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}

func parseUintStrict(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// ParseCli parses os.Args-style arguments into Options, or returns a nil
// Options and nil error when help/version was printed instead.
func ParseCli(ctx context.Context, args []string) (*Options, error) {
	var result *Options

	cmd := &cli.Command{
		Name:    "judgebox",
		Usage:   "A per-invocation Linux process sandbox for judging untrusted programs.",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "rootfs",
				Usage:    "Path to the read-only lower root filesystem image",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "work",
				Usage:    "Path to the writable upper directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "target",
				Usage:    "Path to the scratch mount point for the merged overlay view",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "pids",
				Value: 32,
				Usage: "Maximum number of tasks the command's process tree may hold",
			},
			&cli.IntFlag{
				Name:     "time",
				Usage:    "Wall time limit in milliseconds",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "memory",
				Value: "262144",
				Usage: "Memory limit, either a raw KiB integer or a size string like 256MB",
			},
			&cli.StringFlag{
				Name:  "debug",
				Value: "error",
				Usage: "Log verbosity (debug|info|warn|error)",
			},
		},

		Action: func(ctx context.Context, c *cli.Command) error {
			opts, err := buildOptionsFromCLI(c)
			if err != nil {
				return err
			}
			result = opts
			return nil
		},
	}

	if err := cmd.Run(ctx, args); err != nil {
		_ = cli.ShowAppHelp(cmd)
		return nil, err
	}

	return result, nil
}
