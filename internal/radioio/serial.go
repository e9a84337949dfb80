package radioio

import (
	"context"
	"io"
	"time"

	"github.com/pkg/term"

	"github.com/vtol-link/groundrouter/internal/hwinventory"
	"github.com/vtol-link/groundrouter/internal/wire"
)

// SerialRadio backs a non-SiK card whose data path is a plain serial
// device, opened with pkg/term the way samoyed's serial_port_open does
// for its TNC-attached radios.
type SerialRadio struct {
	card  hwinventory.Card
	baud  int
	state State

	rx *term.Term
	tx *term.Term
}

// NewSerialRadio returns a radio backend bound to card's device path.
func NewSerialRadio(card hwinventory.Card, baud int) *SerialRadio {
	return &SerialRadio{card: card, baud: baud, state: State{AssignedLink: -1}}
}

func (s *SerialRadio) openTerm() (*term.Term, error) {
	t, err := term.Open(s.card.DevicePath, term.RawMode)
	if err != nil {
		return nil, openErr(s.card.DevicePath, "serial", err)
	}
	if s.baud != 0 {
		_ = t.SetSpeed(s.baud)
	}
	return t, nil
}

func (s *SerialRadio) OpenRead() error {
	t, err := s.openTerm()
	if err != nil {
		return err
	}
	s.rx = t
	s.state.OpenedForRead = true
	return nil
}

func (s *SerialRadio) OpenWrite() error {
	t, err := s.openTerm()
	if err != nil {
		return err
	}
	s.tx = t
	s.state.OpenedForWrite = true
	return nil
}

func (s *SerialRadio) Close() error {
	var err error
	if s.rx != nil {
		err = s.rx.Close()
		s.rx = nil
	}
	if s.tx != nil {
		if e := s.tx.Close(); e != nil && err == nil {
			err = e
		}
		s.tx = nil
	}
	s.state.OpenedForRead, s.state.OpenedForWrite = false, false
	return err
}

// ReadFrame reads one header+payload frame. pkg/term doesn't expose a
// read deadline directly, so the timeout is enforced by running the
// blocking read on its own goroutine and racing it against the context,
// the same tradeoff samoyed's own serial read loop accepts.
func (s *SerialRadio) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if s.rx == nil {
		return nil, ErrNotOpen
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := readOneFrame(s.rx)
		ch <- result{frame, err}
	}()

	select {
	case r := <-ch:
		if r.err == io.EOF {
			return nil, nil
		}
		return r.frame, r.err
	case <-ctx.Done():
		return nil, nil // timeout, not an error: try_receive semantics
	}
}

func readOneFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	h, err := wire.Decode(hdr)
	if err != nil {
		return nil, err
	}
	if h.TotalLength < wire.HeaderSize {
		return nil, nil
	}
	frame := make([]byte, h.TotalLength)
	copy(frame, hdr)
	if _, err := io.ReadFull(r, frame[wire.HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *SerialRadio) WriteFrame(frame []byte) (int, error) {
	if s.tx == nil {
		return 0, ErrNotOpen
	}
	return s.tx.Write(frame)
}

func (s *SerialRadio) SetFrequency(khz uint32) error {
	s.state.CurrentFreqKHz = khz
	return nil
}

func (s *SerialRadio) SetDatarate(kbps uint32) error {
	return setAtherosDatarate(s.card.DevicePath, kbps)
}

func (s *SerialRadio) OpenedForRead() bool  { return s.state.OpenedForRead }
func (s *SerialRadio) OpenedForWrite() bool { return s.state.OpenedForWrite }
