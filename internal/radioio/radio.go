// Package radioio owns the per-interface open/close/read/write
// lifecycle for physical radio cards. It expresses the "SiK vs.
// non-SiK" branching that the original router scattered across every
// send path as a single tagged-variant interface instead, per §9's
// design note: the scheduler and link bring-up code stay oblivious to
// which concrete backend a card uses.
package radioio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ErrNotOpen is returned by Read/Write when the interface hasn't been
// opened for that direction.
var ErrNotOpen = errors.New("radioio: interface not open for this direction")

// Interface is the capability set every radio backend implements,
// regardless of whether it is a SiK serial radio opened once for both
// directions or a separate RX/TX pair of rig-controlled cards.
type Interface interface {
	// OpenRead opens the interface for receiving frames.
	OpenRead() error
	// OpenWrite opens the interface for transmitting frames. A no-op
	// for SiK backends, which open both directions in OpenRead.
	OpenWrite() error
	// Close releases whatever OpenRead/OpenWrite acquired.
	Close() error

	// ReadFrame blocks up to timeout for one frame. A zero timeout
	// blocks indefinitely. Returns (nil, nil) on timeout, a negative
	// wrapped error only for fatal I/O failures (spec §7
	// fatal-at-runtime).
	ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error)

	// WriteFrame writes one fully composed frame. Returns the number
	// of bytes written; a write failure is counted in stats by the
	// caller but the packet is never requeued (best-effort semantics).
	WriteFrame(frame []byte) (int, error)

	// SetFrequency tunes the interface, in kHz.
	SetFrequency(khz uint32) error

	// SetDatarate applies a TX datarate override, in kbps. Only
	// meaningful for Atheros-family cards: internal/linkup and the
	// router's datarate hook call it, both guarded on
	// hwinventory.AtherosFamily. The SiK backend treats it as a no-op;
	// the serial backend runs the datarate script for any non-zero rate.
	SetDatarate(kbps uint32) error

	OpenedForRead() bool
	OpenedForWrite() bool
}

// atherosDatarateScript is the vendor helper that actually reconfigures
// an Atheros card's TX rate, invoked the way samoyed's xmit.go shells
// out to an external script rather than reimplementing device-specific
// ioctls in Go.
const atherosDatarateScript = "/usr/sbin/ruby_set_datarate_atheros"

// setAtherosDatarate runs atherosDatarateScript against devicePath,
// shared by every backend that embeds or wraps a serial data path.
func setAtherosDatarate(devicePath string, kbps uint32) error {
	if kbps == 0 {
		return nil
	}
	cmd := exec.Command(atherosDatarateScript, devicePath, strconv.FormatUint(uint64(kbps), 10))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("radioio: set datarate on %s: %w", devicePath, err)
	}
	return nil
}

// State mirrors the mutable per-card fields of the data model: opened
// flags, current frequency, and the link this card is currently
// assigned to. Each backend keeps its own State; callers see it through
// OpenedForRead/OpenedForWrite. AssignedLink is set to -1 at
// construction and not updated here; the link a card serves is recorded
// in internal/linkup's Opened.Link.
type State struct {
	OpenedForRead  bool
	OpenedForWrite bool
	CurrentFreqKHz uint32
	AssignedLink   int // -1 if unassigned
}

// openErr wraps a backend-specific open failure with the device path,
// matching the init-soft error taxonomy of spec §7: the caller decides
// whether to treat it as fatal (no RX/TX anywhere) or soft (one card).
func openErr(devicePath string, dir string, err error) error {
	return fmt.Errorf("radioio: open %s for %s: %w", devicePath, dir, err)
}
