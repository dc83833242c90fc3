// Package emulator wraps the emulator console tool and adb. These are thin
// shell wrappers; retries and timeouts belong to the caller.
package emulator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Instance is one emulator reported by the console tool.
type Instance struct {
	Index   int
	Name    string
	Running bool
	PID     int
}

// Controller is the emulator process controller.
type Controller interface {
	List(ctx context.Context) ([]Instance, error)
	Start(ctx context.Context, index int) error
	Stop(ctx context.Context, index int) error
	IsRunning(ctx context.Context, index int) (bool, error)
	IsDeviceReady(ctx context.Context, index int) (bool, error)
}

// Defaults for LDConsole.
const (
	DefaultConsolePath = "ldconsole"
	DefaultADBPath     = "adb"
	// basePort is the adb console port of instance 0; each instance takes two.
	basePort = 5554
)

// LDConsole controls LDPlayer instances through ldconsole, and checks boot
// state through adb.
type LDConsole struct {
	ConsolePath string
	ADBPath     string
	Runner      CommandRunner
}

// NewLDConsole returns a controller using the given tool paths. Empty paths
// fall back to the binaries on PATH.
func NewLDConsole(consolePath, adbPath string, runner CommandRunner) *LDConsole {
	if consolePath == "" {
		consolePath = DefaultConsolePath
	}
	if adbPath == "" {
		adbPath = DefaultADBPath
	}
	if runner == nil {
		runner = &ExecCommandRunner{}
	}
	return &LDConsole{ConsolePath: consolePath, ADBPath: adbPath, Runner: runner}
}

// Serial is the adb serial of an instance.
func Serial(index int) string {
	return fmt.Sprintf("emulator-%d", basePort+2*index)
}

// List parses `ldconsole list2`. Each line is
// index,title,top-hwnd,bind-hwnd,android-started,pid,vbox-pid.
func (c *LDConsole) List(ctx context.Context) ([]Instance, error) {
	out, err := c.Runner.Run(ctx, c.ConsolePath, "list2")
	if err != nil {
		return nil, fmt.Errorf("list emulators: %w", err)
	}
	return parseList2(string(out))
}

func parseList2(out string) ([]Instance, error) {
	var instances []Instance
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			return nil, fmt.Errorf("list emulators: malformed line %q", line)
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("list emulators: bad index in %q: %w", line, err)
		}
		inst := Instance{Index: idx, Name: fields[1], Running: fields[4] == "1", PID: -1}
		if len(fields) > 5 {
			if pid, err := strconv.Atoi(fields[5]); err == nil {
				inst.PID = pid
			}
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Start launches an instance.
func (c *LDConsole) Start(ctx context.Context, index int) error {
	if _, err := c.Runner.Run(ctx, c.ConsolePath, "launch", "--index", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("start emulator %d: %w", index, err)
	}
	return nil
}

// Stop quits an instance.
func (c *LDConsole) Stop(ctx context.Context, index int) error {
	if _, err := c.Runner.Run(ctx, c.ConsolePath, "quit", "--index", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("stop emulator %d: %w", index, err)
	}
	return nil
}

// IsRunning asks the console whether the instance window is up.
func (c *LDConsole) IsRunning(ctx context.Context, index int) (bool, error) {
	out, err := c.Runner.Run(ctx, c.ConsolePath, "isrunning", "--index", strconv.Itoa(index))
	if err != nil {
		return false, fmt.Errorf("emulator %d running: %w", index, err)
	}
	return strings.TrimSpace(string(out)) == "running", nil
}

// IsDeviceReady reports whether Android inside the instance finished booting.
// adb failures while the device is still coming up read as "not ready".
func (c *LDConsole) IsDeviceReady(ctx context.Context, index int) (bool, error) {
	out, err := c.Runner.Run(ctx, c.ADBPath, "-s", Serial(index), "shell", "getprop", "sys.boot_completed")
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return strings.TrimSpace(string(out)) == "1", nil
}
