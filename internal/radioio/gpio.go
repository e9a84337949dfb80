package radioio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpioLine is the subset of *gpiocdev.Line EnableLine drives, narrowed
// to an interface so tests can swap in a mock without a real gpio-cdev
// chip, the same way samoyed's ptt_test.go fakes gpiod_line.
type gpioLine interface {
	SetValue(int) error
	Close() error
}

// requestLine opens chip/line as an output; overridden in tests.
var requestLine = func(chip string, line int) (gpioLine, error) {
	return gpiocdev.RequestLine(chip, line, gpiocdev.AsOutput(1))
}

// EnableLine drives a per-card GPIO output used to cut power to, or
// switch the antenna of, a radio card from link bring-up/tear-down. It
// plays the same role ptt.go's GPIO export/direction/value dance plays
// for push-to-talk, generalized here to a card enable/disable line
// rather than a transmit gate.
type EnableLine struct {
	chip string
	line int
	req  gpioLine
}

// NewEnableLine describes (without yet opening) the GPIO line on chip
// that controls a card's enable pin.
func NewEnableLine(chip string, line int) *EnableLine {
	return &EnableLine{chip: chip, line: line}
}

// Open requests the line as an output, initially deasserted (card
// enabled is the default state; callers call Set(false) to disable).
func (e *EnableLine) Open() error {
	req, err := requestLine(e.chip, e.line)
	if err != nil {
		return fmt.Errorf("radioio: gpio request %s:%d: %w", e.chip, e.line, err)
	}
	e.req = req
	return nil
}

// Set drives the line: true enables the card, false disables it.
func (e *EnableLine) Set(enabled bool) error {
	if e.req == nil {
		return ErrNotOpen
	}
	v := 0
	if enabled {
		v = 1
	}
	return e.req.SetValue(v)
}

// Close releases the GPIO line.
func (e *EnableLine) Close() error {
	if e.req == nil {
		return nil
	}
	err := e.req.Close()
	e.req = nil
	return err
}
