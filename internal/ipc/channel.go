// Package ipc implements the router's local endpoints: one read/write
// named-pipe pair per producer/consumer (Central, Telemetry, RC) and a
// write-only audio byte pipe, all message-framed with the same header
// used on the radio side. The concrete transport (named pipes here) is
// explicitly swappable — see spec §9's note that the transport itself
// is an external concern — but the framing and drain-cap behavior are
// not.
package ipc

import (
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/vtol-link/groundrouter/internal/wire"
)

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("ipc: channel closed")

// Endpoint is a single direction of a named channel: either a reader
// that yields whole framed messages, or a writer that frames and
// sends them.
type Endpoint struct {
	path   string
	file   *os.File
	closed bool
}

// OpenReadEndpoint opens path for reading, creating the FIFO first if
// it doesn't already exist. Matches ruby_open_ipc_channel_read_endpoint.
func OpenReadEndpoint(path string) (*Endpoint, error) {
	if err := ensureFIFO(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, os.ModeNamedPipe)
	if err != nil {
		return nil, err
	}
	return &Endpoint{path: path, file: f}, nil
}

// OpenWriteEndpoint opens path for writing, creating the FIFO first if
// it doesn't already exist. Matches ruby_open_ipc_channel_write_endpoint.
func OpenWriteEndpoint(path string) (*Endpoint, error) {
	if err := ensureFIFO(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, os.ModeNamedPipe)
	if err != nil {
		return nil, err
	}
	return &Endpoint{path: path, file: f}, nil
}

func ensureFIFO(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return syscall.Mkfifo(path, 0o660)
}

// Send writes a single framed message (per internal/wire's Encode)
// down the channel. Returns false (never an error) on any write
// failure, matching §7's "IPC send returned false — log and drop"
// runtime-transient policy; the caller decides whether to log.
func (e *Endpoint) Send(h wire.Header, payload []byte) bool {
	if e.closed {
		return false
	}
	frame := wire.Encode(h, payload)
	n, err := e.file.Write(frame)
	return err == nil && n == len(frame)
}

// TryReadMessage attempts to assemble and return one complete framed
// message from buffered partial reads, per ruby_ipc_try_read_message.
// It never blocks longer than one short, non-blocking read attempt —
// the router's drain loop is responsible for calling it repeatedly up
// to its own per-tick cap.
func (e *Endpoint) TryReadMessage(buf *PartialBuffer) ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}

	// Drain whatever the pipe has available right now into buf without
	// blocking; O_NONBLOCK makes a pipe with no writer or no data
	// return EAGAIN rather than stalling the tick.
	chunk := make([]byte, 4096)
	n, err := e.file.Read(chunk)
	if n > 0 {
		buf.data = append(buf.data, chunk[:n]...)
	}
	if err != nil && !errors.Is(err, io.EOF) && !isWouldBlock(err) {
		return nil, err
	}

	return buf.extractOne()
}

// Close releases the underlying file descriptor. Subsequent calls are
// no-ops, matching the "closing twice is harmless" shutdown pattern.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.file.Close()
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// PartialBuffer accumulates bytes across non-blocking reads until a
// full header-plus-payload frame is available, mirroring the original
// s_PipeBufferCommands/s_PipeBufferCommandsPos bookkeeping.
type PartialBuffer struct {
	data []byte
}

// extractOne pulls one complete frame off the front of data, if any,
// and compacts the remainder forward.
func (b *PartialBuffer) extractOne() ([]byte, error) {
	if len(b.data) < wire.HeaderSize {
		return nil, nil
	}
	h, err := wire.Decode(b.data)
	if err != nil {
		return nil, err
	}
	total := int(h.TotalLength)
	if total < wire.HeaderSize || len(b.data) < total {
		return nil, nil
	}

	frame := make([]byte, total)
	copy(frame, b.data[:total])
	b.data = append(b.data[:0], b.data[total:]...)
	return frame, nil
}

// AudioSink is the write-only FIFO_RUBY_AUDIO1 pipe: raw bytes, no
// message framing, since the audio encoder on the other end is an
// external collaborator per spec §3.
type AudioSink struct {
	path   string
	file   *os.File
	closed bool
}

// OpenAudioSink opens path (creating the FIFO if needed) for
// write-only, non-blocking audio byte delivery.
func OpenAudioSink(path string) (*AudioSink, error) {
	if err := ensureFIFO(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, os.ModeNamedPipe)
	if err != nil {
		return nil, err
	}
	return &AudioSink{path: path, file: f}, nil
}

// Write sends raw audio bytes. Short writes and would-block are
// treated as a dropped chunk, not an error, per the pipe's
// best-effort nature.
func (a *AudioSink) Write(p []byte) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	n, err := a.file.Write(p)
	if isWouldBlock(err) {
		return 0, nil
	}
	return n, err
}

// Close releases the pipe's file descriptor.
func (a *AudioSink) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.file.Close()
}
