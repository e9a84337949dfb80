// Package linkup applies an interface assignment: it opens interfaces
// for read/write, sets their frequencies, and tears everything back
// down on failure or shutdown. See spec §4.2.
package linkup

import (
	"fmt"

	"github.com/vtol-link/groundrouter/internal/assign"
	"github.com/vtol-link/groundrouter/internal/hwinventory"
	"github.com/vtol-link/groundrouter/internal/radioio"
)

// Opened pairs a card with its live backend and the link it serves.
type Opened struct {
	Card    hwinventory.Card
	Backend radioio.Interface
	Link    int // -1 if unassigned (search mode)
	// Enable is the card's GPIO enable line, if it has one. Asserted
	// before the backend is opened, deasserted and closed on TearDown.
	Enable *radioio.EnableLine
}

// Result is the outcome of a bring-up attempt.
type Result struct {
	Opened []Opened
	// FirstFailedInterface is the index of the first card that failed
	// to open, or -1. Reported to Central via
	// RADIO_INTERFACE_FAILED_TO_INITIALIZE only after the router
	// announces readiness (§4.2).
	FirstFailedInterface int
	Alarms               []assign.AlarmNoInterfacesForLink
}

// Backends supplies a radioio.Interface for a given card; link bring-up
// doesn't know or care whether that backend is a SerialRadio, SiKRadio,
// or RigRadio.
type Backends interface {
	For(card hwinventory.Card) radioio.Interface
}

// BringUp opens every card with an assignment, following §4.2's rules:
// Atheros datarate override, SiK's single open_rw, RX-before-TX opens.
// On failure to open any RX or any TX interface in normal mode it tears
// everything already opened back down and returns an error (init-fatal
// per §7). linkByIndex supplies each link's frequency and datarate.
func BringUp(cards []hwinventory.Card, a assign.Assignment, links []assign.Link, backends Backends) (Result, error) {
	linkByIndex := make(map[int]assign.Link, len(links))
	for _, l := range links {
		linkByIndex[l.Index] = l
	}

	res := Result{FirstFailedInterface: -1, Alarms: a.Alarms}
	anyRead, anyWrite := false, false

	for _, c := range cards {
		// Guard 1: a disabled or relay-flagged card is never brought up.
		if !c.Enabled() || c.Flags&hwinventory.UsedForRelay != 0 {
			continue
		}

		k := a.LinkForCard(c.Index)
		if k == assign.Unassigned {
			continue
		}
		link, ok := linkByIndex[k]
		if !ok {
			continue
		}
		// Guard 2: the original carries a second, link-level relay check
		// alongside the card-level one above; §9 notes it reads as
		// redundant but instructs preserving both rather than collapsing
		// them, so it is kept here as a belt-and-braces re-check against
		// the link itself.
		if link.Relay {
			continue
		}

		backend := backends.For(c)
		opened := Opened{Card: c, Backend: backend, Link: k}

		var openErr error
		if c.HasEnableLine() {
			enable := radioio.NewEnableLine(c.GPIOChip, c.GPIOLine)
			if err := enable.Open(); err != nil {
				openErr = err
			} else if err := enable.Set(true); err != nil {
				openErr = err
			} else {
				opened.Enable = enable
			}
		}
		if c.Has(hwinventory.CanRX) {
			if err := backend.OpenRead(); err != nil {
				openErr = err
			} else {
				anyRead = true
			}
		}

		switch {
		case c.IsSiK():
			// Single open_rw entry point: OpenRead already covers write.
			if backend.OpenedForRead() {
				anyWrite = true
			}
		case c.Has(hwinventory.CanTX):
			if err := backend.OpenWrite(); err != nil {
				if openErr == nil {
					openErr = err
				}
			} else {
				anyWrite = true
			}
		}

		if err := backend.SetFrequency(link.Frequency); err != nil && openErr == nil {
			openErr = err
		}

		if c.Has(hwinventory.AtherosFamily) {
			rateKbps := c.DatarateOverride
			if rateKbps == 0 {
				rateKbps = link.DatarateKbps
			}
			if err := backend.SetDatarate(rateKbps); err != nil && openErr == nil {
				openErr = err
			}
		}

		if openErr != nil && res.FirstFailedInterface == -1 {
			res.FirstFailedInterface = c.Index
		}

		res.Opened = append(res.Opened, opened)
	}

	if !anyRead || !anyWrite {
		TearDown(res)
		return Result{FirstFailedInterface: -1}, fmt.Errorf("linkup: bring-up failed: anyRead=%v anyWrite=%v", anyRead, anyWrite)
	}

	return res, nil
}

// TearDown closes every backend opened in res, in reverse order,
// matching §5's "reverse construction order" release rule. A card's
// GPIO enable line, if any, is deasserted and released after its
// backend closes.
func TearDown(res Result) {
	for i := len(res.Opened) - 1; i >= 0; i-- {
		o := res.Opened[i]
		_ = o.Backend.Close()
		if o.Enable != nil {
			_ = o.Enable.Set(false)
			_ = o.Enable.Close()
		}
	}
}

// SearchMode brings up a single frequency across every capable card,
// with no link assignment. Every card supporting searchFreqKHz with
// both CAN_RX and CAN_USE_FOR_DATA is opened for read only; SiK cards
// are opened read/write via their single entry point. Returns the
// opened set so the caller can tear it down when search ends.
func SearchMode(cards []hwinventory.Card, searchFreqKHz uint32, backends Backends) Result {
	const required = hwinventory.CanRX | hwinventory.CanUseForData

	res := Result{FirstFailedInterface: -1}
	for _, c := range cards {
		if !c.Enabled() || !c.Supports(searchFreqKHz) {
			continue
		}
		if c.Flags&required != required {
			continue
		}

		backend := backends.For(c)
		opened := Opened{Card: c, Backend: backend, Link: -1}

		var err error
		if c.HasEnableLine() {
			enable := radioio.NewEnableLine(c.GPIOChip, c.GPIOLine)
			if err = enable.Open(); err == nil {
				if err = enable.Set(true); err == nil {
					opened.Enable = enable
				}
			}
		}
		if err == nil {
			err = backend.OpenRead() // SiK's single entry point also covers write
		}
		if err == nil {
			err = backend.SetFrequency(searchFreqKHz)
		}
		if err != nil && res.FirstFailedInterface == -1 {
			res.FirstFailedInterface = c.Index
		}
		res.Opened = append(res.Opened, opened)
	}
	return res
}
