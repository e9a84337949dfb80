// Package pairing implements the ping/clock-sync and pairing-request
// injectors described in spec §4.4: two independent periodic generators
// that feed packets onto the outgoing path, one round-robining over
// links with a 8-bit wrapping sequence id, the other backing off its
// own retry interval while the vehicle remains unpaired.
package pairing

import (
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/vtol-link/groundrouter/internal/wire"
)

// ClockSyncType mirrors the model flag that disables the ping injector
// entirely when set to "none" (no on-wire clock sync is wanted).
type ClockSyncType int

const (
	ClockSyncNone ClockSyncType = iota
	ClockSyncModel
	ClockSyncHardware
)

// ModelFlags carries the subset of vehicle-model state the ping
// frequency and controller-link-stats piggyback depend on.
type ModelFlags struct {
	ClockSync                  ClockSyncType
	AdaptiveVideoEnabled        bool
	AdaptiveVideoUsesController bool
}

// basePingFreqMs is the nominal ping cadence; halved when hardware
// clock sync is in use (it needs tighter samples) and doubled when
// clock sync is disabled outright would instead suppress pings, so
// that case is handled by computePingFrequency returning 0.
const basePingFreqMs = 500

// computePingFrequency mirrors compute_ping_frequency: clock-sync type
// drives the base cadence, with no separate adaptive-video adjustment
// beyond the controller-link-stats piggyback handled in Tick itself.
func computePingFrequency(flags ModelFlags) uint32 {
	switch flags.ClockSync {
	case ClockSyncNone:
		return 0
	case ClockSyncHardware:
		return basePingFreqMs / 2
	default:
		return basePingFreqMs
	}
}

// ControllerLinkStatsInterval is CONTROLLER_LINK_STATS_HISTORY_SLICE_INTERVAL_MS;
// the piggyback fires at half of it.
const ControllerLinkStatsInterval = 2000 * time.Millisecond

// PingSink is where a ping ends up: a direct per-interface write for
// SiK links, or a push-front onto the outgoing radio queue otherwise.
type PingSink interface {
	// WriteToInterface writes a short-header ping frame directly to the
	// radio interface serving link radioLinkIdx.
	WriteToInterface(radioLinkIdx int, frame []byte) error
	// PushFront places frame at the head of the outgoing radio queue.
	PushFront(frame []byte)
}

// LinkIsSiK reports whether a given radio link index is backed by a
// SiK radio (ping goes straight to the interface rather than through
// the queue).
type LinkIsSiK func(radioLinkIdx int) bool

// ControllerLinkStats, when non-nil, is invoked to append the
// controller's own link-quality snapshot to a ping payload.
type ControllerLinkStats func() []byte

// Injector holds the running ping/pairing state across ticks. All of
// it is local to one instance — no package-level globals.
type Injector struct {
	ControllerUID uint32
	VehicleID     uint32
	EnabledLinks  int // number of enabled links to round-robin over

	lastPingSentID      uint8
	lastPingRadioLinkID int
	lastPingSendMicros   int64
	lastControllerStats  time.Time

	pairingIntervalMs  uint32
	pairingSentCount   uint32
	lastPairingSendAt  time.Time

	// pairingLogTimestamp is compiled once at construction so the
	// every-5th-send pairing log doesn't recompile a strftime pattern
	// per call; nil falls back to a plain time.Format.
	pairingLogTimestamp *strftime.Strftime

	Logger func(format string, args ...interface{})
}

// New returns an Injector with the pairing backoff at its initial 50ms.
func New(controllerUID, vehicleID uint32, enabledLinks int) *Injector {
	f, _ := strftime.New("%Y-%m-%d %H:%M:%S")
	return &Injector{
		ControllerUID:       controllerUID,
		VehicleID:           vehicleID,
		EnabledLinks:        enabledLinks,
		lastPingRadioLinkID: -1, // first ping advances to link 0
		pairingIntervalMs:   50,
		pairingLogTimestamp: f,
	}
}

// PingResult reports what TryPing did, for stats/logging at the call site.
type PingResult struct {
	Sent         bool
	RadioLinkIdx int
	SentID       uint8
}

// TryPing implements §4.4's ping half: on cadence (or backward clock
// jump), advance the sequence id and link cursor and inject a
// PING_CLOCK packet, routed per the destination link's radio family.
// spectator, searching and must-sync-from-vehicle all suppress pings
// entirely, matching the original's three guard conditions.
func (in *Injector) TryPing(nowMicros int64, flags ModelFlags, spectator, searching, mustSyncFromVehicle bool, isSiK LinkIsSiK, sink PingSink, stats ControllerLinkStats) PingResult {
	if spectator || searching || mustSyncFromVehicle || in.EnabledLinks <= 0 {
		return PingResult{}
	}

	freqMs := computePingFrequency(flags)
	if freqMs == 0 {
		return PingResult{}
	}

	// A negative link cursor means no ping has been sent yet: the first
	// one goes out immediately.
	firstPing := in.lastPingRadioLinkID < 0
	dueAt := in.lastPingSendMicros + int64(freqMs)*1000
	clockWentBackward := nowMicros < in.lastPingSendMicros
	if !firstPing && nowMicros <= dueAt && !clockWentBackward {
		return PingResult{}
	}

	in.lastPingSendMicros = nowMicros
	in.lastPingSentID++ // wraps naturally at 256, matching the C u8 counter
	in.lastPingRadioLinkID++
	if in.lastPingRadioLinkID >= in.EnabledLinks {
		in.lastPingRadioLinkID = 0
	}

	linkIdx := in.lastPingRadioLinkID
	payload := []byte{in.lastPingSentID, uint8(linkIdx)}

	piggyback := flags.AdaptiveVideoEnabled && flags.AdaptiveVideoUsesController &&
		stats != nil && time.Since(in.lastControllerStats) > ControllerLinkStatsInterval/2

	if isSiK != nil && isSiK(linkIdx) {
		if piggyback {
			payload = append(payload, stats()...)
			in.lastControllerStats = time.Now()
		}
		h := wire.ShortHeader{Type: wire.TypePingClock, TotalLength: uint16(wire.ShortHeaderSize + len(payload))}
		frame := wire.EncodeShort(h, payload)
		_ = sink.WriteToInterface(linkIdx, frame)
		return PingResult{Sent: true, RadioLinkIdx: linkIdx, SentID: in.lastPingSentID}
	}

	if piggyback {
		payload = append(payload, stats()...)
		in.lastControllerStats = time.Now()
	}
	h := wire.Header{
		Type:         wire.TypePingClock,
		VehicleIDSrc: in.ControllerUID,
		VehicleIDDest: in.VehicleID,
	}.WithComponent(wire.ComponentRuby)
	frame := wire.Encode(h, payload)
	sink.PushFront(frame)

	return PingResult{Sent: true, RadioLinkIdx: linkIdx, SentID: in.lastPingSentID}
}

// PairingResult reports what TryPairing did.
type PairingResult struct {
	Sent      bool
	SentCount uint32
}

// TryPairing implements §4.4's pairing half: while unpaired, not
// searching and not a spectator, retransmit a PAIRING_REQUEST at a
// backoff interval starting at 50ms and growing by 1ms per send up to
// a 400ms ceiling (P8), logging every 5th send.
func (in *Injector) TryPairing(now time.Time, paired, searching, spectator bool, sink PingSink) PairingResult {
	if paired || searching || spectator {
		return PairingResult{}
	}

	if !in.lastPairingSendAt.IsZero() && now.Sub(in.lastPairingSendAt) < time.Duration(in.pairingIntervalMs)*time.Millisecond {
		return PairingResult{}
	}

	in.pairingSentCount++
	in.lastPairingSendAt = now
	if in.pairingIntervalMs < 400 {
		in.pairingIntervalMs++
	}

	h := wire.Header{
		Type:          wire.TypePairingRequest,
		VehicleIDSrc:  in.ControllerUID,
		VehicleIDDest: in.VehicleID,
	}.WithComponent(wire.ComponentRuby)
	payload := make([]byte, 4)
	payload[0] = byte(in.pairingSentCount)
	payload[1] = byte(in.pairingSentCount >> 8)
	payload[2] = byte(in.pairingSentCount >> 16)
	payload[3] = byte(in.pairingSentCount >> 24)
	frame := wire.Encode(h, payload)
	sink.PushFront(frame)

	if in.pairingSentCount%5 == 0 && in.Logger != nil {
		ts := now.Format("2006-01-02 15:04:05")
		if in.pairingLogTimestamp != nil {
			ts = in.pairingLogTimestamp.FormatString(now)
		}
		in.Logger("[%s] sent pairing request to vehicle (retry count: %d). CID: %d, VID: %d",
			ts, in.pairingSentCount, in.ControllerUID, in.VehicleID)
	}

	return PairingResult{Sent: true, SentCount: in.pairingSentCount}
}

// PairingIntervalMs exposes the current backoff interval, for tests
// and logging.
func (in *Injector) PairingIntervalMs() uint32 { return in.pairingIntervalMs }
