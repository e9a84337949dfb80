package scheduler

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vtol-link/groundrouter/internal/pktqueue"
	"github.com/vtol-link/groundrouter/internal/wire"
)

type recordingTx struct {
	mu       sync.Mutex
	toLink   [][]byte
	composed [][]byte
}

func (r *recordingTx) SendToLink(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), frame...)
	r.toLink = append(r.toLink, cp)
	return nil
}

func (r *recordingTx) SendComposed(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), frame...)
	r.composed = append(r.composed, cp)
	return nil
}

func noSleep(time.Duration) {}

func pkt(component wire.Component, typ wire.PacketType, payload string) []byte {
	h := wire.Header{VehicleIDSrc: 1}.WithComponent(component)
	h.Type = typ
	return wire.Encode(h, []byte(payload))
}

func TestRetransmissionPriority(t *testing.T) {
	q := pktqueue.New()
	now := time.Now()
	q.PushBack(pkt(wire.ComponentTelemetry, 0, "t1"), now)
	q.PushBack(pkt(wire.ComponentVideo, wire.TypeVideoReqMultiplePackets, "r1"), now)
	q.PushBack(pkt(wire.ComponentTelemetry, 0, "t2"), now)

	tx := &recordingTx{}
	s := New(tx, 99, Hooks{})
	s.Sleep = noSleep

	sent := s.Process(q, Preferences{MaxPacketSize: MaxPacketPayload}, 1, false)

	require.Equal(t, 1, sent, "P6: exactly one retransmission request sent")
	require.Len(t, tx.toLink, 1)
	h, err := wire.Decode(tx.toLink[0])
	require.NoError(t, err)
	require.EqualValues(t, 99, h.VehicleIDSrc, "P9: source id rewritten")

	// The telemetry packets still go out, as a coalesced frame.
	require.NotEmpty(t, tx.composed)
}

func TestSourceIDRewrittenOnEveryOutgoingPacket(t *testing.T) {
	q := pktqueue.New()
	now := time.Now()
	q.PushBack(pkt(wire.ComponentTelemetry, 0, "t1"), now)

	tx := &recordingTx{}
	s := New(tx, 42, Hooks{})
	s.Sleep = noSleep
	s.Process(q, Preferences{MaxPacketSize: MaxPacketPayload}, 0, false)

	require.Len(t, tx.composed, 1)
	h, err := wire.Decode(tx.composed[0])
	require.NoError(t, err)
	require.EqualValues(t, 42, h.VehicleIDSrc)
}

func TestCoalescingRespectsMaxPacketSize(t *testing.T) {
	q := pktqueue.New()
	now := time.Now()
	big := make([]byte, 100)
	q.PushBack(pkt(wire.ComponentTelemetry, 0, string(big)), now)
	q.PushBack(pkt(wire.ComponentTelemetry, 0, string(big)), now)

	tx := &recordingTx{}
	s := New(tx, 1, Hooks{})
	s.Sleep = noSleep
	s.Process(q, Preferences{MaxPacketSize: wire.HeaderSize + 100}, 0, false)

	for _, frame := range tx.composed {
		require.LessOrEqual(t, len(frame), wire.HeaderSize+100, "P5: composed frame must respect MTU bound")
	}
	require.GreaterOrEqual(t, len(tx.composed), 2, "two oversized packets must flush separately")
}

func TestSetRadioLinkFrequencyDuplicatesTenTimes(t *testing.T) {
	q := pktqueue.New()
	now := time.Now()
	q.PushBack(pkt(wire.ComponentCommands, wire.TypeCommandSetRadioLinkFrequency, "f"), now)
	q.PushBack(pkt(wire.ComponentTelemetry, 0, "t"), now)
	q.PushBack(pkt(wire.ComponentTelemetry, 0, "t"), now)

	tx := &recordingTx{}
	var sleeps int
	s := New(tx, 1, Hooks{})
	s.Sleep = func(d time.Duration) { sleeps++ }

	s.Process(q, Preferences{MaxPacketSize: MaxPacketPayload}, 0, false)

	// First composed frame (command + the two telemetry packets, all
	// within budget) gets duplicated 10x with 9 inter-send sleeps.
	require.Len(t, tx.composed, 10)
	require.Equal(t, 9, sleeps)
}

func encodeRadioLinkFlags(f wire.RadioLinkFlags) []byte {
	buf := make([]byte, wire.RadioLinkFlagsPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.LinkIndex)
	binary.LittleEndian.PutUint32(buf[4:8], f.LinkFlags)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.DatarateVideo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.DatarateData))
	return buf
}

func TestSetRadioLinkFlagsFiresHookWithDecodedPayload(t *testing.T) {
	q := pktqueue.New()
	now := time.Now()
	want := wire.RadioLinkFlags{LinkIndex: 1, LinkFlags: 7, DatarateVideo: 6000, DatarateData: 18000}
	h := wire.Header{VehicleIDSrc: 1}.WithComponent(wire.ComponentCommands)
	h.Type = wire.TypeCommandSetRadioLinkFlags
	q.PushBack(wire.Encode(h, encodeRadioLinkFlags(want)), now)

	tx := &recordingTx{}
	var got wire.RadioLinkFlags
	s := New(tx, 1, Hooks{OnSetRadioLinkFlags: func(f wire.RadioLinkFlags) { got = f }})
	s.Sleep = noSleep

	s.Process(q, Preferences{MaxPacketSize: MaxPacketPayload}, 0, false)

	require.Equal(t, want, got)
}

func TestMaxPacketsToSendCap(t *testing.T) {
	q := pktqueue.New()
	now := time.Now()
	for i := 0; i < 10; i++ {
		big := make([]byte, MaxPacketPayload)
		q.PushBack(pkt(wire.ComponentTelemetry, 0, string(big)), now)
	}

	tx := &recordingTx{}
	s := New(tx, 1, Hooks{})
	s.Sleep = noSleep
	s.Process(q, Preferences{MaxPacketSize: MaxPacketPayload}, 0, false)

	// iMaxPacketsToSend (4, since no retransmissions are pending) bounds
	// in-loop flushes; §4.3 step 5 allows exactly one more flush of
	// whatever residual bytes are left composed when the loop exits.
	require.LessOrEqual(t, len(tx.composed), 5, "iMaxPacketsToSend caps flushes per tick, plus one residual flush")
}
