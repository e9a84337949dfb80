// Package router assembles every other package into the single
// cooperative tick loop described in spec §4.5: the Router value is
// the "explicit context" that replaces the original's process-wide
// globals (§9).
package router

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vtol-link/groundrouter/internal/alarm"
	"github.com/vtol-link/groundrouter/internal/assign"
	"github.com/vtol-link/groundrouter/internal/config"
	"github.com/vtol-link/groundrouter/internal/diskprobe"
	"github.com/vtol-link/groundrouter/internal/hwinventory"
	"github.com/vtol-link/groundrouter/internal/ipc"
	"github.com/vtol-link/groundrouter/internal/linkup"
	"github.com/vtol-link/groundrouter/internal/pairing"
	"github.com/vtol-link/groundrouter/internal/pktqueue"
	"github.com/vtol-link/groundrouter/internal/radiostats"
	"github.com/vtol-link/groundrouter/internal/scheduler"
	"github.com/vtol-link/groundrouter/internal/shm"
	"github.com/vtol-link/groundrouter/internal/wire"
)

// DefaultMaxLoopTime is the tick budget the overrun check measures
// against, ≈50ms typical per §4.5.
const DefaultMaxLoopTime = 50 * time.Millisecond

// overrunBreakdownFloor is how long the process must have run before
// overrun logging/alarming kicks in (avoids spurious alarms during
// startup's heavier first ticks).
const overrunBreakdownFloor = 10 * time.Second

// singleTickOverrunAlarmFloor is the "any single overrun this bad
// alarms immediately" threshold from §4.5 step 11.
const singleTickOverrunAlarmFloor = 300 * time.Millisecond

const consecutiveOverrunsToAlarm = 5

const radioLinkFlagsQuietPeriod = 5 * time.Second

const ipcDrainInterval = 10 * time.Millisecond

// Deps bundles everything the Router needs constructed by its caller
// (cmd/router), so this package never reaches into os.Args or
// environment variables itself.
type Deps struct {
	ControllerUID uint32
	// MainConnectFrequencyKHz is the user-pinned main connect frequency
	// stored by the controller for this vehicle (config.ControllerSettings.
	// MainConnectFrequency), 0 if the user never pinned one.
	MainConnectFrequencyKHz uint32
	Model                   config.VehicleModel
	Prefs                   config.Preferences
	Cards                   []hwinventory.Card
	Backends                linkup.Backends
	Endpoints               *ipc.Endpoints
	StatsRegion             *shm.Region // may be nil if unavailable (init-soft)
	DiskProbePath           string
	Logger                  *log.Logger
	Now                     time.Time
}

// Router owns every long-lived piece of state the tick loop touches.
type Router struct {
	log           *log.Logger
	controllerUID uint32
	model         config.VehicleModel
	prefs         config.Preferences
	cards         []hwinventory.Card
	links         []assign.Link
	backends      linkup.Backends
	endpoints     *ipc.Endpoints
	statsRegion   *shm.Region

	assignment assign.Assignment
	opened     linkup.Result

	stats     *radiostats.Stats
	scheduler *scheduler.Scheduler
	injector  *pairing.Injector
	prober    *diskprobe.Prober

	controlQueue *pktqueue.Queue
	radioQueue   *pktqueue.Queue

	searching     bool
	searchFreqKHz uint32
	paired        bool
	updateInProgress bool

	startedAt           time.Time
	lastIPCDrain        time.Time
	loopCount           uint64
	consecutiveOverruns int
	lastSetRadioFlagsAt time.Time
	firstFailedAnnounced bool

	// testSender overrides alarm routing in tests that need to inspect
	// raised alarms without standing up real IPC endpoints.
	testSender alarm.Sender
}

// New constructs a Router from Deps and plans + brings up the
// interface assignment. It does not open IPC channels or start the
// loop — callers that need search mode skip straight to that instead.
func New(d Deps) (*Router, error) {
	links := d.Model.Links()
	mainFreq := d.MainConnectFrequencyKHz
	if mainFreq <= 0 {
		// No user-pinned main connect frequency stored: fall back to the
		// vehicle's own notion of a connect frequency, per the original's
		// uStoredMainFrequencyForModel <= 0 fallback — the last enabled,
		// non-relay link encountered.
		for _, l := range links {
			if l.Enabled && !l.Relay {
				mainFreq = l.Frequency
			}
		}
	}

	a := assign.Plan(d.Cards, links, mainFreq)
	opened, err := linkup.BringUp(d.Cards, a, links, d.Backends)
	if err != nil {
		return nil, fmt.Errorf("router: bring-up failed: %w", err)
	}

	for _, al := range a.Alarms {
		alarm.Send(endpointOrNil(d.Endpoints), alarm.CodeNoInterfacesForLink, uint32(al.LinkIndex))
	}

	r := &Router{
		log:           d.Logger,
		controllerUID: d.ControllerUID,
		model:         d.Model,
		prefs:         d.Prefs,
		cards:         d.Cards,
		links:         links,
		backends:      d.Backends,
		endpoints:     d.Endpoints,
		statsRegion:   d.StatsRegion,
		assignment:    a,
		opened:        opened,
		stats:         radiostats.New(len(opened.Opened), len(links)),
		injector:      pairing.New(d.ControllerUID, d.Model.VehicleID, countEnabled(links)),
		prober:        diskprobe.New(d.DiskProbePath, d.Now),
		controlQueue:  pktqueue.New(),
		radioQueue:    pktqueue.New(),
		startedAt:     d.Now,
	}
	r.stats.DebugHistory = d.Prefs.DebugPacketsHistoryGraph
	r.scheduler = scheduler.New(&txAdapter{r: r}, d.ControllerUID, scheduler.Hooks{
		OnSetRadioLinkFrequency: func() { r.lastSetRadioFlagsAt = d.Now },
		OnSetRadioLinkFlags:     r.applyAtherosDatarateChange,
	})
	r.injector.Logger = func(format string, args ...interface{}) {
		if r.log != nil {
			r.log.Infof(format, args...)
		}
	}

	return r, nil
}

// NewSearching constructs a Router in search mode (§4.2's "no paired
// vehicle yet" path): every capable card is opened read-only at
// freqKHz, with no link assignment, no scheduler activity, and no
// pairing/ping traffic — Tick's step 6 short-circuits after the
// receive burst for as long as r.searching stays true.
func NewSearching(d Deps, freqKHz uint32) (*Router, error) {
	opened := linkup.SearchMode(d.Cards, freqKHz, d.Backends)

	r := &Router{
		log:           d.Logger,
		controllerUID: d.ControllerUID,
		model:         d.Model,
		prefs:         d.Prefs,
		cards:         d.Cards,
		backends:      d.Backends,
		endpoints:     d.Endpoints,
		statsRegion:   d.StatsRegion,
		opened:        opened,
		stats:         radiostats.New(len(opened.Opened), 0),
		injector:      pairing.New(d.ControllerUID, d.Model.VehicleID, 0),
		prober:        diskprobe.New(d.DiskProbePath, d.Now),
		controlQueue:  pktqueue.New(),
		radioQueue:    pktqueue.New(),
		startedAt:     d.Now,
		searching:     true,
		searchFreqKHz: freqKHz,
	}
	r.scheduler = scheduler.New(&txAdapter{r: r}, d.ControllerUID, scheduler.Hooks{})
	return r, nil
}

func countEnabled(links []assign.Link) int {
	n := 0
	for _, l := range links {
		if l.Enabled {
			n++
		}
	}
	return n
}

func endpointOrNil(e *ipc.Endpoints) alarm.Sender {
	if e == nil || e.ToCentral == nil {
		return noopSender{}
	}
	return e.ToCentral
}

type noopSender struct{}

func (noopSender) Send(wire.Header, []byte) bool { return false }

// AnnounceReady broadcasts TypeRouterReady to Central and Telemetry,
// matching the original's broadcast-on-startup sequence, then reports
// any init-soft interface failure.
func (r *Router) AnnounceReady() {
	h := wire.Header{Type: wire.TypeRouterReady, VehicleIDSrc: r.controllerUID}.WithComponent(wire.ComponentLocalControl)
	if r.endpoints != nil && r.endpoints.ToCentral != nil {
		if !r.endpoints.ToCentral.Send(h, nil) && r.log != nil {
			r.log.Warn("no pipe to central to broadcast router ready to")
		}
	}
	if r.endpoints != nil && r.endpoints.ToTelemetry != nil {
		r.endpoints.ToTelemetry.Send(h, nil)
	}
	if r.log != nil {
		r.log.Info("broadcasted that router is ready")
	}

	if r.opened.FirstFailedInterface >= 0 && !r.firstFailedAnnounced {
		r.firstFailedAnnounced = true
		fh := wire.Header{Type: wire.TypeRadioInterfaceFailedToInitialize, VehicleIDSrc: r.controllerUID}.WithComponent(wire.ComponentLocalControl)
		payload := []byte{byte(r.opened.FirstFailedInterface)}
		if r.endpoints != nil && r.endpoints.ToCentral != nil {
			r.endpoints.ToCentral.Send(fh, payload)
		}
	}
}

// Close tears down every owned resource in reverse construction order.
func (r *Router) Close() {
	linkup.TearDown(r.opened)
	if r.statsRegion != nil {
		_ = r.statsRegion.Close()
	}
	if r.endpoints != nil {
		r.endpoints.CloseAll()
	}
}

// txAdapter implements scheduler.Transmitter by broadcasting to every
// opened, write-capable interface — matching send_packet_to_radio_interfaces,
// which does not target a specific link.
type txAdapter struct{ r *Router }

func (t *txAdapter) SendToLink(frame []byte) error    { return t.r.broadcast(frame) }
func (t *txAdapter) SendComposed(frame []byte) error { return t.r.broadcast(frame) }

func (r *Router) broadcast(frame []byte) error {
	for i, o := range r.opened.Opened {
		if !o.Backend.OpenedForWrite() {
			continue
		}
		n, err := o.Backend.WriteFrame(frame)
		if err != nil || n <= 0 {
			r.stats.RecordWriteFailure(i)
			continue
		}
		r.stats.RecordSend(i, o.Link, n)
	}
	return nil
}

// Tick runs one cooperative loop iteration per spec §4.5. now is the
// caller-supplied current time (so tests can drive it deterministically);
// micros is the matching microsecond timestamp. It returns false when
// the loop should stop (fatal radio-receive error).
func (r *Router) Tick(ctx context.Context, now time.Time, micros int64) bool {
	r.loopCount++
	tickStart := now
	wallStart := time.Now()

	// Step 2: disk probe.
	if r.prober.Due(now) {
		if res, err := r.prober.Run(now); err == nil && res.Low {
			alarm.Send(endpointOrNil(r.endpoints), alarm.CodeLowStorageSpace, uint32(res.FreeBytes/(1024*1024)))
		}
	}

	// Step 3: periodic loop — stats publish, pairing/ping injector.
	r.publishStats(now)
	r.runPairingAndPing(now, micros)

	// Step 4: IPC drain.
	if r.endpoints != nil && now.Sub(r.lastIPCDrain) >= ipcDrainInterval {
		r.lastIPCDrain = now
		centralMax := 5 + r.prefs.UploadPacketConfirmationFrequency
		drained := r.endpoints.DrainInbound(centralMax, isLocalControl)
		for _, msg := range drained.Control {
			r.processControlMessage(msg)
		}
		for _, msg := range drained.Radio {
			r.radioQueue.PushBack(msg, now)
		}
	}

	// Step 5: radio receive burst.
	if fatal := r.receiveBurst(ctx); fatal {
		return false
	}

	// Step 6: searching skips video/scheduler.
	if r.searching {
		r.checkOverrun(tickStart.Add(time.Since(wallStart)), tickStart)
		return true
	}

	// Step 8: peek for pending video retransmission requests.
	pendingRetransmissions := r.countPendingRetransmissions()

	// Step 9/10: decide bSendNow and drain the outgoing scheduler.
	if r.shouldSendNow(now, pendingRetransmissions) {
		r.scheduler.Process(r.radioQueue, scheduler.Preferences{MaxPacketSize: r.prefs.MaxPacketSize}, pendingRetransmissions, r.updateInProgress)
	}

	r.checkOverrun(tickStart.Add(time.Since(wallStart)), tickStart)
	return true
}

func isLocalControl(msg []byte) bool {
	h, err := wire.Decode(msg)
	if err != nil {
		return false
	}
	return h.Component() == wire.ComponentLocalControl
}

// processControlMessage is intentionally minimal: the control-queue
// consumer (menu/UI bridging, config updates) is an external
// collaborator per spec §3; the router only needs to drain the
// messages off the queue so they don't leak onto the radio side.
func (r *Router) processControlMessage(msg []byte) {
	if r.log != nil {
		r.log.Debug("control message received", "bytes", len(msg))
	}
}

func (r *Router) publishStats(now time.Time) {
	if r.statsRegion == nil {
		return
	}
	snap := r.stats.Snapshot(r.loopCount)
	_ = r.statsRegion.Publish(encodeStatsSnapshot(snap))
}

// encodeStatsSnapshot lays out a radiostats.Snapshot as plain
// little-endian data, matching the "whole-struct memcpy" shared-memory
// convention described in spec §5 — a fixed-size counter table rather
// than a self-describing format, since the reader is a fixed watcher
// process that already knows the layout.
func encodeStatsSnapshot(s radiostats.Snapshot) []byte {
	buf := make([]byte, 0, 8+4+4+8+4+4+4+len(s.Interfaces)*40+len(s.Links)*16)
	put64 := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }
	put32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }

	put64(s.Generation)
	put32(uint32(len(s.Interfaces)))
	put32(uint32(len(s.Links)))
	put64(uint64(s.LastFlushUnix))
	put32(s.HistoryTxVideo)
	put32(s.HistoryTxComm)
	put32(s.HistoryTxRC)
	for _, ic := range s.Interfaces {
		put64(ic.PacketsSent)
		put64(ic.BytesSent)
		put64(ic.PacketsReceived)
		put64(ic.BytesReceived)
		put64(ic.WriteFailures)
	}
	for _, lc := range s.Links {
		put64(lc.PacketsSent)
		put64(lc.PacketsReceived)
	}
	return buf
}

func (r *Router) runPairingAndPing(now time.Time, micros int64) {
	flags := pairing.ModelFlags{
		ClockSync:                   r.model.ClockSyncType,
		AdaptiveVideoEnabled:        r.model.SelectedVideoProfile.AdaptiveVideoEnabled,
		AdaptiveVideoUsesController: r.model.SelectedVideoProfile.AdaptiveVideoUsesController,
	}
	sink := &pingSink{r: r, now: now}
	r.injector.TryPing(micros, flags, r.model.IsSpectator, r.searching, r.model.MustSyncFromVehicle, r.isSiKLink, sink, nil)
	r.injector.TryPairing(now, r.paired, r.searching, r.model.IsSpectator, sink)
}

func (r *Router) isSiKLink(linkIdx int) bool {
	for _, o := range r.opened.Opened {
		if o.Link == linkIdx && o.Card.IsSiK() {
			return true
		}
	}
	return false
}

// applyAtherosDatarateChange is the scheduler's per-popped-packet
// Atheros datarate hook (§4.2): when a COMMAND_SET_RADIO_LINK_FLAGS
// packet changes a link's datarate, every Atheros-family card already
// serving that link gets re-tuned live, unless the card carries its own
// override (which always wins over whatever the link now advertises).
func (r *Router) applyAtherosDatarateChange(flags wire.RadioLinkFlags) {
	linkIdx := int(flags.LinkIndex)
	for _, o := range r.opened.Opened {
		if o.Link != linkIdx || !o.Card.Has(hwinventory.AtherosFamily) {
			continue
		}
		rateKbps := o.Card.DatarateOverride
		if rateKbps == 0 {
			rateKbps = uint32(flags.DatarateData)
		}
		if err := o.Backend.SetDatarate(rateKbps); err != nil && r.log != nil {
			r.log.Warn("atheros datarate change failed", "link", linkIdx, "err", err)
		}
	}
}

type pingSink struct {
	r   *Router
	now time.Time
}

func (s *pingSink) WriteToInterface(radioLinkIdx int, frame []byte) error {
	for i, o := range s.r.opened.Opened {
		if o.Link != radioLinkIdx {
			continue
		}
		n, err := o.Backend.WriteFrame(frame)
		if err != nil || n <= 0 {
			s.r.stats.RecordWriteFailure(i)
			continue
		}
		s.r.stats.RecordSend(i, radioLinkIdx, n)
	}
	return nil
}

func (s *pingSink) PushFront(frame []byte) {
	s.r.radioQueue.PushFront(frame, s.now)
}

// receiveBurst implements §4.5 step 5: one attempt at 1000µs, then up
// to five more at 200µs while packets keep arriving, aborting the
// whole process on a negative (fatal) result.
func (r *Router) receiveBurst(ctx context.Context) bool {
	timeout := 1000 * time.Microsecond
	for attempt := 0; attempt < 6; attempt++ {
		n, fatal := r.tryReceiveRadioPackets(ctx, timeout)
		if fatal {
			return true
		}
		if n <= 0 {
			break
		}
		timeout = 200 * time.Microsecond
	}
	return false
}

// tryReceiveRadioPackets polls every opened, read-capable interface
// once for a frame, validates and dispatches anything complete.
// Returns the count received and whether a fatal error occurred.
// ReadFrame only returns a non-nil error for fatal I/O failures (a
// timeout is (nil, nil)), so any error here aborts the whole loop.
func (r *Router) tryReceiveRadioPackets(ctx context.Context, timeout time.Duration) (int, bool) {
	n := 0
	for i, o := range r.opened.Opened {
		if !o.Backend.OpenedForRead() {
			continue
		}
		frame, err := o.Backend.ReadFrame(ctx, timeout)
		if err != nil {
			if r.log != nil {
				r.log.Error("fatal radio read error", "interface", i, "err", err)
			}
			return n, true
		}
		if frame == nil {
			continue
		}
		if !wire.Verify(frame) {
			continue
		}
		r.stats.RecordReceive(i, o.Link, len(frame))
		r.dispatchReceivedFrame(frame)
		n++
	}
	return n, false
}

// dispatchReceivedFrame forwards a validated inbound frame to the
// consumer its component names. Video/telemetry/RC payload
// interpretation is an external collaborator (§3); the router's job
// ends at correct routing.
func (r *Router) dispatchReceivedFrame(frame []byte) {
	h, err := wire.Decode(frame)
	if err != nil || r.endpoints == nil {
		return
	}
	switch h.Component() {
	case wire.ComponentTelemetry:
		r.endpoints.ToTelemetry.Send(h, frame[wire.HeaderSize:])
	case wire.ComponentRC:
		r.endpoints.ToRC.Send(h, frame[wire.HeaderSize:])
	default:
		r.endpoints.ToCentral.Send(h, frame[wire.HeaderSize:])
	}
}

// countPendingRetransmissions implements §4.5 step 8's
// iContainsVideoRequests peek.
func (r *Router) countPendingRetransmissions() int {
	count := 0
	for i := 0; ; i++ {
		buf, ok := r.radioQueue.Peek(i)
		if !ok {
			break
		}
		h, err := wire.Decode(buf)
		if err != nil {
			continue
		}
		if h.Component() == wire.ComponentVideo &&
			(h.Type == wire.TypeVideoReqMultiplePackets || h.Type == wire.TypeVideoReqMultiplePackets2) {
			count++
		}
	}
	return count
}

// shouldSendNow implements §4.5 step 9.
func (r *Router) shouldSendNow(now time.Time, pendingRetransmissions int) bool {
	if !r.model.HasCamera {
		return true
	}
	if r.model.ClockSyncType == pairing.ClockSyncNone {
		return true
	}
	if r.updateInProgress {
		return true
	}
	if age, ok := r.radioQueue.OldestAge(now); ok && age > 100*time.Millisecond {
		return true
	}
	return pendingRetransmissions > 0
}

// checkOverrun implements §4.5 step 11.
func (r *Router) checkOverrun(now, tickStart time.Time) {
	elapsed := now.Sub(tickStart)
	if elapsed <= DefaultMaxLoopTime {
		r.consecutiveOverruns = 0
		return
	}
	if now.Sub(r.startedAt) < overrunBreakdownFloor {
		return
	}

	r.consecutiveOverruns++
	if r.log != nil {
		r.log.Warn("tick overran budget", "elapsed_ms", elapsed.Milliseconds(), "budget_ms", DefaultMaxLoopTime.Milliseconds())
	}

	overrunMs := uint32(elapsed.Milliseconds())

	if elapsed >= singleTickOverrunAlarmFloor {
		r.raiseOverloadAlarm(overrunMs)
		return
	}

	if r.consecutiveOverruns >= consecutiveOverrunsToAlarm && now.Sub(r.lastSetRadioFlagsAt) >= radioLinkFlagsQuietPeriod {
		r.raiseOverloadAlarm(overrunMs)
	}
}

// raiseOverloadAlarm preserves the original's two-shift alarm shape
// (§9): one send with the raw overrun, one with it shifted into the
// high half of the parameter, for the same condition.
func (r *Router) raiseOverloadAlarm(overrunMs uint32) {
	sink := r.testSender
	if sink == nil {
		sink = endpointOrNil(r.endpoints)
	}
	alarm.Send(sink, alarm.CodeCPULoopOverload, overrunMs)
	alarm.Send(sink, alarm.CodeCPULoopOverload, overrunMs<<16)
}

// RunSignalAware runs Tick in a loop using real wall-clock time until
// ctx is cancelled or a terminating signal arrives. SIGPIPE is
// ignored so a consumer closing its pipe never kills the router (§5).
func (r *Router) RunSignalAware(ctx context.Context) error {
	signal.Ignore(syscall.SIGPIPE)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			return nil
		default:
		}

		now := time.Now()
		if !r.Tick(ctx, now, now.UnixMicro()) {
			return nil
		}
	}
}
