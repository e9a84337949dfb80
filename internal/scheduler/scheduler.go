// Package scheduler implements the outgoing packet scheduler —
// "_process_and_send_packets" in the original ground station — per
// spec §4.3: a retransmission-first pass, MTU-bounded coalescing,
// duplicate sends for critical commands, and in-queue source-ID
// rewriting.
package scheduler

import (
	"time"

	"github.com/vtol-link/groundrouter/internal/pktqueue"
	"github.com/vtol-link/groundrouter/internal/wire"
)

// MaxPacketPayload bounds how much a composed frame may carry,
// independent of any user preference.
const MaxPacketPayload = 1400

// MaxPacketTotalSize is the hard ceiling on a composition buffer,
// covering the worst case of one maximal packet plus header slack.
const MaxPacketTotalSize = MaxPacketPayload + wire.HeaderSize

// interSendDelay is the gap inserted between duplicate sends of the
// same composed frame.
const interSendDelay = 2 * time.Millisecond

// Transmitter sends a composed frame to every radio interface assigned
// to a link, and records send statistics. The scheduler never keeps a
// link's interface list itself — that's internal/linkup's job — so it
// asks the transmitter for "every interface of this packet's link" by
// letting the transmitter inspect the packet itself when needed (e.g.
// retransmission requests, which carry their own link association via
// higher-level routing already applied by the caller).
type Transmitter interface {
	// SendToLink writes frame to every radio interface serving the
	// link the frame's header identifies. Retransmission requests are
	// sent this way too, per step 1 of §4.3.
	SendToLink(frame []byte) error
	// SendComposed writes the composed, multi-packet frame to the
	// radio exactly as SendToLink would, given it already carries the
	// rewritten source ID.
	SendComposed(frame []byte) error
}

// Sleeper abstracts the inter-send delay so tests can run without
// wall-clock waits.
type Sleeper func(time.Duration)

// Hooks lets the scheduler trigger side effects in other subsystems
// without this package depending on them directly.
type Hooks struct {
	// OnSetRadioLinkFrequency is called when a composed frame contains
	// a COMMAND_SET_RADIO_LINK_FREQUENCY packet, before the 10x
	// duplicate flush.
	OnSetRadioLinkFrequency func()
	// OnSetCameraParameters is called when a composed frame contains a
	// COMMAND_SET_CAMERA_PARAMETERS packet; triggers the adaptive-video
	// drop-to-medium side effect.
	OnSetCameraParameters func()
	// OnSetRadioLinkFlags is called, per popped packet, when one carries
	// a COMMAND_SET_RADIO_LINK_FLAGS payload — the Atheros TX-datarate
	// change hook, mirroring _check_for_atheros_datarate_change.
	OnSetRadioLinkFlags func(wire.RadioLinkFlags)
}

// Preferences carries the user-configurable packet size cap.
type Preferences struct {
	MaxPacketSize int
}

// Scheduler holds no state across ticks beyond what's passed in; the
// composition buffer and per-tick counters are always fresh per §4.3.
type Scheduler struct {
	Tx            Transmitter
	Sleep         Sleeper
	Hooks         Hooks
	ControllerUID uint32
}

// New returns a Scheduler using time.Sleep for inter-send delays.
func New(tx Transmitter, controllerUID uint32, hooks Hooks) *Scheduler {
	return &Scheduler{Tx: tx, Sleep: time.Sleep, Hooks: hooks, ControllerUID: controllerUID}
}

// isVideoRetransmissionRequest reports whether buf is a VIDEO
// component packet asking for retransmission.
func isVideoRetransmissionRequest(h wire.Header) bool {
	if h.Component() != wire.ComponentVideo {
		return false
	}
	return h.Type == wire.TypeVideoReqMultiplePackets || h.Type == wire.TypeVideoReqMultiplePackets2
}

// Process runs one scheduler pass over q, per §4.3. pendingVideoRetransmissions
// is the count computed by the main loop from peeking the queue
// (iContainsVideoRequests). It returns the number of video
// retransmissions actually sent, for the caller's stats/logging.
func (s *Scheduler) Process(q *pktqueue.Queue, prefs Preferences, pendingVideoRetransmissions int, updateInProgress bool) int {
	if q.Len() == 0 {
		return 0
	}

	maxAllowed := prefs.MaxPacketSize
	if maxAllowed <= 0 || maxAllowed > MaxPacketPayload {
		maxAllowed = MaxPacketPayload
	}

	sentRetransmissions := s.sendRetransmissionsFirst(q, pendingVideoRetransmissions)

	iMaxPacketsToSend := 4 - pendingVideoRetransmissions
	composed := make([]byte, 0, MaxPacketTotalSize)
	sendCount := 1

	for q.Len() > 0 && iMaxPacketsToSend > 0 {
		buf, ok := q.Pop()
		if !ok {
			break
		}

		h, err := wire.Decode(buf)
		if err != nil {
			continue
		}

		if isVideoRetransmissionRequest(h) {
			// Already handled in the retransmission-first pass; skip
			// it during coalescing per step 1.
			continue
		}

		if err := wire.SetVehicleIDSrc(buf, s.ControllerUID); err != nil {
			continue
		}

		sendNow := len(composed)+len(buf) > maxAllowed || updateInProgress

		if sendNow && len(composed) > 0 {
			s.flush(composed, sendCount)
			iMaxPacketsToSend--
			composed = composed[:0]
			sendCount = 1
		}

		s.applyPerPacketEffects(h, buf, &sendCount)

		composed = append(composed, buf...)
	}

	if len(composed) > 0 {
		s.flush(composed, sendCount)
	}

	return sentRetransmissions
}

// sendRetransmissionsFirst implements step 1 of §4.3: peek packets in
// order (without removing them — the original leaves them in the queue
// for the coalescing pass to skip over), transmit any VIDEO
// retransmission request immediately to the radio, and stop once the
// pending counter reaches zero or the queue is exhausted.
func (s *Scheduler) sendRetransmissionsFirst(q *pktqueue.Queue, pending int) int {
	if pending <= 0 {
		return 0
	}
	sent := 0
	for i := 0; pending > 0; i++ {
		buf, ok := q.Peek(i)
		if !ok {
			break
		}
		h, err := wire.Decode(buf)
		if err != nil || !isVideoRetransmissionRequest(h) {
			continue
		}
		if err := wire.SetVehicleIDSrc(buf, s.ControllerUID); err == nil {
			_ = s.Tx.SendToLink(buf)
		}
		sent++
		pending--
	}
	return sent
}

func (s *Scheduler) applyPerPacketEffects(h wire.Header, buf []byte, sendCount *int) {
	if h.Component() != wire.ComponentCommands {
		return
	}
	switch h.Type {
	case wire.TypeCommandSetRadioLinkFrequency:
		*sendCount = 10
		if s.Hooks.OnSetRadioLinkFrequency != nil {
			s.Hooks.OnSetRadioLinkFrequency()
		}
	case wire.TypeCommandSetCameraParameters:
		if s.Hooks.OnSetCameraParameters != nil {
			s.Hooks.OnSetCameraParameters()
		}
	case wire.TypeCommandSetRadioLinkFlags:
		if s.Hooks.OnSetRadioLinkFlags == nil || len(buf) < wire.HeaderSize {
			return
		}
		flags, err := wire.DecodeRadioLinkFlags(buf[wire.HeaderSize:])
		if err != nil {
			return
		}
		s.Hooks.OnSetRadioLinkFlags(flags)
	}
}

func (s *Scheduler) flush(composed []byte, sendCount int) {
	frame := make([]byte, len(composed))
	copy(frame, composed)
	for i := 0; i < sendCount; i++ {
		if i != 0 && s.Sleep != nil {
			s.Sleep(interSendDelay)
		}
		_ = s.Tx.SendComposed(frame)
	}
}
