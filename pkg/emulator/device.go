package emulator

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Device talks to one running instance over adb. Executors drive it, and the
// CLI uses it for screenshots.
type Device struct {
	serial  string
	adbPath string
	runner  CommandRunner
}

// NewDevice returns a Device for the instance at index.
func NewDevice(index int, adbPath string, runner CommandRunner) *Device {
	if adbPath == "" {
		adbPath = DefaultADBPath
	}
	if runner == nil {
		runner = &ExecCommandRunner{}
	}
	return &Device{serial: Serial(index), adbPath: adbPath, runner: runner}
}

// Serial returns the adb serial this device targets.
func (d *Device) Serial() string { return d.serial }

func (d *Device) adb(ctx context.Context, args ...string) ([]byte, error) {
	return d.runner.Run(ctx, d.adbPath, append([]string{"-s", d.serial}, args...)...)
}

// Shell runs a shell command on the device and returns trimmed output.
func (d *Device) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := d.adb(ctx, append([]string{"shell"}, args...)...)
	if err != nil {
		return "", fmt.Errorf("%s shell: %w", d.serial, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// pngMagic starts every PNG file.
var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Screenshot captures the screen as PNG bytes.
func (d *Device) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.adb(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("%s screenshot: %w", d.serial, err)
	}
	if !bytes.HasPrefix(out, pngMagic) {
		return nil, fmt.Errorf("%s screenshot: not a PNG (%d bytes)", d.serial, len(out))
	}
	return out, nil
}

// Tap taps screen coordinates.
func (d *Device) Tap(ctx context.Context, x, y int) error {
	_, err := d.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// Swipe drags from (x1,y1) to (x2,y2) over dur.
func (d *Device) Swipe(ctx context.Context, x1, y1, x2, y2 int, dur time.Duration) error {
	_, err := d.Shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(dur.Milliseconds(), 10))
	return err
}

// IsScreenOn checks the power manager's wakefulness.
func (d *Device) IsScreenOn(ctx context.Context) (bool, error) {
	out, err := d.Shell(ctx, "dumpsys", "power")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "mWakefulness=Awake") || strings.Contains(out, "Display Power: state=ON"), nil
}
