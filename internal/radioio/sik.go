package radioio

import (
	"context"
	"io"
	"time"

	"github.com/pkg/term"

	"github.com/vtol-link/groundrouter/internal/hwinventory"
	"github.com/vtol-link/groundrouter/internal/wire"
)

// SiKRadio is the "polymorphic radio variant" for the SiK family: a
// single open_rw entry point rather than separate read/write opens, per
// §9's design note. OpenRead and OpenWrite both route through the same
// underlying term handle; the second call is a no-op.
type SiKRadio struct {
	card  hwinventory.Card
	baud  int
	state State
	t     *term.Term
}

// NewSiKRadio returns a SiK backend bound to card's device path.
func NewSiKRadio(card hwinventory.Card, baud int) *SiKRadio {
	return &SiKRadio{card: card, baud: baud, state: State{AssignedLink: -1}}
}

func (s *SiKRadio) openOnce() error {
	if s.t != nil {
		return nil
	}
	t, err := term.Open(s.card.DevicePath, term.RawMode)
	if err != nil {
		return openErr(s.card.DevicePath, "rw", err)
	}
	if s.baud != 0 {
		_ = t.SetSpeed(s.baud)
	}
	s.t = t
	return nil
}

func (s *SiKRadio) OpenRead() error {
	if err := s.openOnce(); err != nil {
		return err
	}
	// The single open_rw entry point covers both directions.
	s.state.OpenedForRead = true
	s.state.OpenedForWrite = true
	return nil
}

func (s *SiKRadio) OpenWrite() error {
	if err := s.openOnce(); err != nil {
		return err
	}
	s.state.OpenedForWrite = true
	return nil
}

func (s *SiKRadio) Close() error {
	if s.t == nil {
		return nil
	}
	err := s.t.Close()
	s.t = nil
	s.state.OpenedForRead, s.state.OpenedForWrite = false, false
	return err
}

func (s *SiKRadio) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if s.t == nil {
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
		frame, err := readOneShortFrame(s.t)
		ch <- result{frame, err}
	}()
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, nil
	}
}

// readOneShortFrame reads a ShortHeader-prefixed frame, the 3-byte
// framing SiK links use in place of the full wire.Header.
func readOneShortFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, wire.ShortHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	h, err := wire.DecodeShort(hdr)
	if err != nil {
		return nil, err
	}
	if h.TotalLength < wire.ShortHeaderSize {
		return nil, nil
	}
	frame := make([]byte, h.TotalLength)
	copy(frame, hdr)
	if _, err := io.ReadFull(r, frame[wire.ShortHeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *SiKRadio) WriteFrame(frame []byte) (int, error) {
	if s.t == nil {
		return 0, ErrNotOpen
	}
	return s.t.Write(frame)
}

func (s *SiKRadio) SetFrequency(khz uint32) error {
	s.state.CurrentFreqKHz = khz
	return nil
}

// SetDatarate is a no-op: SiK cards are never Atheros-family, so
// internal/linkup never calls this in practice, but the method is
// required to satisfy Interface.
func (s *SiKRadio) SetDatarate(kbps uint32) error {
	return nil
}

func (s *SiKRadio) OpenedForRead() bool  { return s.state.OpenedForRead }
func (s *SiKRadio) OpenedForWrite() bool { return s.state.OpenedForWrite }
