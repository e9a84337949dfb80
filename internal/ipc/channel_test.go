package ipc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vtol-link/groundrouter/internal/wire"
)

func TestPartialBufferExtractsOneFrameAtATime(t *testing.T) {
	var buf PartialBuffer
	f1 := wire.Encode(wire.Header{}.WithComponent(wire.ComponentTelemetry), []byte("a"))
	f2 := wire.Encode(wire.Header{}.WithComponent(wire.ComponentRC), []byte("bb"))
	buf.data = append(append([]byte{}, f1...), f2...)

	got1, err := buf.extractOne()
	require.NoError(t, err)
	require.Equal(t, f1, got1)

	got2, err := buf.extractOne()
	require.NoError(t, err)
	require.Equal(t, f2, got2)

	got3, err := buf.extractOne()
	require.NoError(t, err)
	require.Nil(t, got3)
}

func TestPartialBufferWaitsForFullFrame(t *testing.T) {
	var buf PartialBuffer
	full := wire.Encode(wire.Header{}.WithComponent(wire.ComponentTelemetry), []byte("hello"))
	buf.data = append([]byte{}, full[:wire.HeaderSize+2]...)

	got, err := buf.extractOne()
	require.NoError(t, err)
	require.Nil(t, got, "partial frame must not be returned yet")

	buf.data = append(buf.data, full[wire.HeaderSize+2:]...)
	got, err = buf.extractOne()
	require.NoError(t, err)
	require.Equal(t, full, got)
}

func TestFIFOSendAndReceiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router_to_central")

	rd, err := OpenReadEndpoint(path)
	require.NoError(t, err)
	defer rd.Close()

	wr, err := OpenWriteEndpoint(path)
	require.NoError(t, err)
	defer wr.Close()

	h := wire.Header{VehicleIDSrc: 7}.WithComponent(wire.ComponentTelemetry)
	require.True(t, wr.Send(h, []byte("payload")))

	var buf PartialBuffer
	var msg []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err = rd.TryReadMessage(&buf)
		require.NoError(t, err)
		if msg != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, msg)
	decoded, err := wire.Decode(msg)
	require.NoError(t, err)
	require.Equal(t, wire.ComponentTelemetry, decoded.Component())
}

func TestOpenAudioSinkFailsFastWithoutReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio")

	// No reader attached: the FIFO still gets created, but an
	// O_NONBLOCK write-only open with no reader must fail fast rather
	// than block the caller.
	_, err := OpenAudioSink(path)
	require.Error(t, err)
}
