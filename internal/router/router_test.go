package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vtol-link/groundrouter/internal/alarm"
	"github.com/vtol-link/groundrouter/internal/config"
	"github.com/vtol-link/groundrouter/internal/diskprobe"
	"github.com/vtol-link/groundrouter/internal/hwinventory"
	"github.com/vtol-link/groundrouter/internal/pairing"
	"github.com/vtol-link/groundrouter/internal/radioio"
	"github.com/vtol-link/groundrouter/internal/scheduler"
	"github.com/vtol-link/groundrouter/internal/wire"
)

// fakeBackend is a minimal radioio.Interface that records writes and
// serves queued frames on read, with no real I/O.
type fakeBackend struct {
	openRead, openWrite bool
	freq                uint32
	datarate            uint32
	writes              [][]byte
	writeErr            error
	toRead              [][]byte
	readFatal           error
}

func (f *fakeBackend) OpenRead() error               { f.openRead = true; return nil }
func (f *fakeBackend) OpenWrite() error              { f.openWrite = true; return nil }
func (f *fakeBackend) Close() error                  { f.openRead, f.openWrite = false, false; return nil }
func (f *fakeBackend) SetFrequency(khz uint32) error { f.freq = khz; return nil }
func (f *fakeBackend) SetDatarate(kbps uint32) error { f.datarate = kbps; return nil }
func (f *fakeBackend) OpenedForRead() bool           { return f.openRead }
func (f *fakeBackend) OpenedForWrite() bool          { return f.openWrite }

func (f *fakeBackend) WriteFrame(frame []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := append([]byte(nil), frame...)
	f.writes = append(f.writes, cp)
	return len(frame), nil
}

func (f *fakeBackend) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if f.readFatal != nil {
		return nil, f.readFatal
	}
	if len(f.toRead) == 0 {
		return nil, nil
	}
	next := f.toRead[0]
	f.toRead = f.toRead[1:]
	return next, nil
}

type fakeBackends struct {
	byMAC map[string]*fakeBackend
}

func (b *fakeBackends) For(c hwinventory.Card) radioio.Interface { return b.byMAC[c.MAC] }

func oneLinkOneCardSetup(t *testing.T) (*Router, *fakeBackend) {
	t.Helper()

	card := hwinventory.NewCard(0, "AA:BB", "/dev/ttyfake", hwinventory.CanRX|hwinventory.CanTX|hwinventory.CanUseForData, []uint32{915000})
	backend := &fakeBackend{}
	backends := &fakeBackends{byMAC: map[string]*fakeBackend{"AA:BB": backend}}

	model := config.VehicleModel{
		VehicleID:     7,
		ClockSyncType: pairing.ClockSyncNone,
		HasCamera:     false,
		RadioLinks: []config.RadioLinkConfig{
			{FrequencyKHz: 915000, Enabled: true, Direction: "both"},
		},
	}

	now := time.Now()
	r, err := New(Deps{
		ControllerUID: 1,
		Model:         model,
		Prefs:         config.Preferences{MaxPacketSize: 1400},
		Cards:         []hwinventory.Card{card},
		Backends:      backends,
		DiskProbePath: "/tmp",
		Now:           now,
	})
	require.NoError(t, err)
	backend.openRead, backend.openWrite = true, true
	return r, backend
}

func TestSchedulerBroadcastsSetRadioLinkFrequencyTenTimes(t *testing.T) {
	r, backend := oneLinkOneCardSetup(t)

	h := wire.Header{Type: wire.TypeCommandSetRadioLinkFrequency, VehicleIDSrc: 1}.WithComponent(wire.ComponentCommands)
	frame := wire.Encode(h, []byte{1, 2, 3, 4})

	now := time.Now()
	r.radioQueue.PushBack(frame, now)
	r.scheduler.Process(r.radioQueue, scheduler.Preferences{MaxPacketSize: r.prefs.MaxPacketSize}, 0, false)

	require.Len(t, backend.writes, 10, "SET_RADIO_LINK_FREQUENCY must be broadcast 10 times")
}

func TestShouldSendNowOnStaleQueueHead(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)
	r.model.HasCamera = true
	r.model.ClockSyncType = pairing.ClockSyncModel

	now := time.Now()
	r.radioQueue.PushBack([]byte("x"), now.Add(-200*time.Millisecond))

	require.True(t, r.shouldSendNow(now, 0))
}

func TestShouldSendNowFalseWhenFreshAndNoRetransmissions(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)
	r.model.HasCamera = true
	r.model.ClockSyncType = pairing.ClockSyncModel

	now := time.Now()
	r.radioQueue.PushBack([]byte("x"), now)

	require.False(t, r.shouldSendNow(now, 0))
}

func TestApplyAtherosDatarateChangeUsesLinkDatarateAbsentOverride(t *testing.T) {
	card := hwinventory.NewCard(0, "AA:BB", "/dev/ttyfake",
		hwinventory.CanRX|hwinventory.CanTX|hwinventory.CanUseForData|hwinventory.AtherosFamily,
		[]uint32{915000})
	backend := &fakeBackend{}
	backends := &fakeBackends{byMAC: map[string]*fakeBackend{"AA:BB": backend}}

	r, err := New(Deps{
		ControllerUID: 1,
		Model: config.VehicleModel{
			VehicleID:     7,
			ClockSyncType: pairing.ClockSyncNone,
			RadioLinks: []config.RadioLinkConfig{
				{FrequencyKHz: 915000, Enabled: true, Direction: "both"},
			},
		},
		Prefs:         config.Preferences{MaxPacketSize: 1400},
		Cards:         []hwinventory.Card{card},
		Backends:      backends,
		DiskProbePath: "/tmp",
		Now:           time.Now(),
	})
	require.NoError(t, err)

	r.applyAtherosDatarateChange(wire.RadioLinkFlags{LinkIndex: 0, DatarateData: 18000})

	require.EqualValues(t, 18000, backend.datarate)
}

func TestApplyAtherosDatarateChangePrefersCardOverride(t *testing.T) {
	card := hwinventory.NewCard(0, "AA:BB", "/dev/ttyfake",
		hwinventory.CanRX|hwinventory.CanTX|hwinventory.CanUseForData|hwinventory.AtherosFamily,
		[]uint32{915000})
	card.DatarateOverride = 6000
	backend := &fakeBackend{}
	backends := &fakeBackends{byMAC: map[string]*fakeBackend{"AA:BB": backend}}

	r, err := New(Deps{
		ControllerUID: 1,
		Model: config.VehicleModel{
			VehicleID:     7,
			ClockSyncType: pairing.ClockSyncNone,
			RadioLinks: []config.RadioLinkConfig{
				{FrequencyKHz: 915000, Enabled: true, Direction: "both"},
			},
		},
		Prefs:         config.Preferences{MaxPacketSize: 1400},
		Cards:         []hwinventory.Card{card},
		Backends:      backends,
		DiskProbePath: "/tmp",
		Now:           time.Now(),
	})
	require.NoError(t, err)

	r.applyAtherosDatarateChange(wire.RadioLinkFlags{LinkIndex: 0, DatarateData: 18000})

	require.EqualValues(t, 6000, backend.datarate)
}

func TestTickReturnsFalseOnFatalReceive(t *testing.T) {
	r, backend := oneLinkOneCardSetup(t)
	backend.readFatal = context.DeadlineExceeded

	ok := r.Tick(context.Background(), time.Now(), time.Now().UnixMicro())
	require.False(t, ok)
}

func TestTickSurvivesDiskProbeOnMissingPath(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)
	r.prober = diskprobe.New("/nonexistent-path-for-test", r.startedAt)

	now := r.startedAt.Add(diskprobe.FirstDelay)
	ok := r.Tick(context.Background(), now, now.UnixMicro())
	require.True(t, ok, "a failed statfs must not abort the loop")
}

type recordingSender struct {
	payloads *[][]byte
}

func (s recordingSender) Send(h wire.Header, payload []byte) bool {
	*s.payloads = append(*s.payloads, payload)
	return true
}

func TestOverrunBadEnoughAlarmsWithTwoShiftedParams(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)
	r.startedAt = time.Now().Add(-time.Minute)

	var payloads [][]byte
	r.endpoints = nil
	r.testSender = recordingSender{payloads: &payloads}

	start := time.Now()
	r.checkOverrun(start.Add(350*time.Millisecond), start)

	require.Len(t, payloads, 2)
	param0 := uint32(payloads[0][4]) | uint32(payloads[0][5])<<8 | uint32(payloads[0][6])<<16 | uint32(payloads[0][7])<<24
	param1 := uint32(payloads[1][4]) | uint32(payloads[1][5])<<8 | uint32(payloads[1][6])<<16 | uint32(payloads[1][7])<<24
	require.Equal(t, param0<<16, param1)
}

func TestOverrunSingleTickCountsOneOverrun(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)
	r.startedAt = time.Now().Add(-time.Minute)

	start := time.Now()
	r.checkOverrun(start.Add(350*time.Millisecond), start)
	require.Equal(t, 1, r.consecutiveOverruns)
}

func TestOverrunResetsBelowBudget(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)
	r.consecutiveOverruns = 3

	start := time.Now()
	r.checkOverrun(start.Add(10*time.Millisecond), start)
	require.Equal(t, 0, r.consecutiveOverruns)
}

func TestCountPendingRetransmissionsCountsOnlyVideoRequests(t *testing.T) {
	r, _ := oneLinkOneCardSetup(t)

	reqHeader := wire.Header{Type: wire.TypeVideoReqMultiplePackets, VehicleIDSrc: 1}.WithComponent(wire.ComponentVideo)
	reqFrame := wire.Encode(reqHeader, nil)

	otherHeader := wire.Header{Type: wire.TypeRouterReady, VehicleIDSrc: 1}.WithComponent(wire.ComponentTelemetry)
	otherFrame := wire.Encode(otherHeader, nil)

	now := time.Now()
	r.radioQueue.PushBack(reqFrame, now)
	r.radioQueue.PushBack(otherFrame, now)
	r.radioQueue.PushBack(reqFrame, now)

	require.Equal(t, 2, r.countPendingRetransmissions())
}

func TestBroadcastSkipsWriteFailures(t *testing.T) {
	r, backend := oneLinkOneCardSetup(t)
	backend.writeErr = context.DeadlineExceeded

	err := r.broadcast([]byte("frame"))
	require.NoError(t, err)
	require.Empty(t, backend.writes)
}
