package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	toInterface map[int][][]byte
	front       [][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{toInterface: map[int][][]byte{}}
}

func (s *fakeSink) WriteToInterface(radioLinkIdx int, frame []byte) error {
	s.toInterface[radioLinkIdx] = append(s.toInterface[radioLinkIdx], frame)
	return nil
}

func (s *fakeSink) PushFront(frame []byte) {
	s.front = append(s.front, frame)
}

func noneSiK(int) bool { return false }

func TestPingCadenceRespectsFrequency(t *testing.T) {
	in := New(1, 2, 2)
	sink := newFakeSink()
	flags := ModelFlags{ClockSync: ClockSyncModel}

	r1 := in.TryPing(0, flags, false, false, false, noneSiK, sink, nil)
	require.True(t, r1.Sent)

	// P7: too soon after the first ping, cadence must not fire again.
	r2 := in.TryPing(int64(basePingFreqMs)*1000-1, flags, false, false, false, noneSiK, sink, nil)
	require.False(t, r2.Sent)

	r3 := in.TryPing(int64(basePingFreqMs)*1000+1, flags, false, false, false, noneSiK, sink, nil)
	require.True(t, r3.Sent)
	require.Len(t, sink.front, 2)
}

func TestPingBackwardClockStillFires(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	flags := ModelFlags{ClockSync: ClockSyncModel}

	require.True(t, in.TryPing(1_000_000, flags, false, false, false, noneSiK, sink, nil).Sent)
	// Clock moved backward relative to lastPingSendMicros.
	require.True(t, in.TryPing(10, flags, false, false, false, noneSiK, sink, nil).Sent)
}

func TestPingSuppressedWhenSpectatorOrSearchingOrSyncing(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	flags := ModelFlags{ClockSync: ClockSyncModel}

	require.False(t, in.TryPing(0, flags, true, false, false, noneSiK, sink, nil).Sent)
	require.False(t, in.TryPing(0, flags, false, true, false, noneSiK, sink, nil).Sent)
	require.False(t, in.TryPing(0, flags, false, false, true, noneSiK, sink, nil).Sent)
}

func TestPingClockSyncNoneNeverFires(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	require.False(t, in.TryPing(1_000_000_000, ModelFlags{ClockSync: ClockSyncNone}, false, false, false, noneSiK, sink, nil).Sent)
}

func TestPingLinkRoundRobin(t *testing.T) {
	in := New(1, 2, 3)
	sink := newFakeSink()
	flags := ModelFlags{ClockSync: ClockSyncModel}

	var links []int
	now := int64(0)
	for i := 0; i < 4; i++ {
		r := in.TryPing(now, flags, false, false, false, noneSiK, sink, nil)
		require.True(t, r.Sent)
		links = append(links, r.RadioLinkIdx)
		now += int64(basePingFreqMs)*1000 + 1
	}
	require.Equal(t, []int{0, 1, 2, 0}, links)
}

func TestPingIDWraps(t *testing.T) {
	in := New(1, 2, 1)
	in.lastPingSentID = 255
	sink := newFakeSink()
	r := in.TryPing(0, ModelFlags{ClockSync: ClockSyncModel}, false, false, false, noneSiK, sink, nil)
	require.EqualValues(t, 0, r.SentID, "u8 sequence id wraps at 256")
}

func TestPingSiKWritesDirectlyToInterface(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	isSiK := func(i int) bool { return i == 0 }
	r := in.TryPing(0, ModelFlags{ClockSync: ClockSyncModel}, false, false, false, isSiK, sink, nil)
	require.True(t, r.Sent)
	require.Empty(t, sink.front, "SiK link must not use the queue")
	require.Len(t, sink.toInterface[0], 1)
}

func TestPairingBackoffMonotonicAndCapped(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	now := time.Now()

	var sends int
	prevInterval := in.PairingIntervalMs()
	// Jump "now" forward by exactly the current backoff each round, so
	// every round produces one send regardless of the granularity of
	// the loop — enough rounds to drive the interval up to its 400ms cap.
	for i := 0; i < 500; i++ {
		r := in.TryPairing(now, false, false, false, sink)
		require.True(t, r.Sent)
		cur := in.PairingIntervalMs()
		require.GreaterOrEqual(t, cur, prevInterval, "P8: interval must never decrease")
		require.LessOrEqual(t, cur, uint32(400), "P8: interval capped at 400ms")
		prevInterval = cur
		sends++
		now = now.Add(time.Duration(cur) * time.Millisecond)
	}
	require.Equal(t, 500, sends)
	require.Equal(t, uint32(400), in.PairingIntervalMs())
}

func TestPairingSuppressedOncePaired(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	r := in.TryPairing(time.Now(), true, false, false, sink)
	require.False(t, r.Sent)
}

func TestPairingLogsEveryFifthSend(t *testing.T) {
	in := New(1, 2, 1)
	sink := newFakeSink()
	var logged []uint32
	in.Logger = func(format string, args ...interface{}) {
		logged = append(logged, args[1].(uint32))
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		in.TryPairing(now, false, false, false, sink)
		now = now.Add(time.Duration(in.PairingIntervalMs()) * time.Millisecond)
	}
	require.Equal(t, []uint32{5}, logged)
}
