package radioio

import (
	"github.com/vtol-link/groundrouter/internal/hwinventory"
)

// DefaultBaud is the serial line rate used for every non-SiK backend;
// SiK radios negotiate their own rate over the same physical link.
const DefaultBaud = 57600

// Backends selects a concrete radioio.Interface per card based on its
// capability flags: SiK cards get the single-open variant, rig-controlled
// cards get their serial data path wrapped with Hamlib frequency control,
// everything else is a plain serial backend. It implements
// internal/linkup.Backends.
type Backends struct {
	Baud int
}

// NewBackends returns a Backends using DefaultBaud.
func NewBackends() *Backends { return &Backends{Baud: DefaultBaud} }

// For returns the backend appropriate for card. Hamlib open failures
// fall back to the plain serial backend rather than leaving the card
// entirely unopenable, since frequency control is a refinement on top
// of a working data path, not a prerequisite for one.
func (b *Backends) For(card hwinventory.Card) Interface {
	baud := b.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}

	if card.IsSiK() {
		return NewSiKRadio(card, baud)
	}

	serial := NewSerialRadio(card, baud)
	if card.IsRigControlled() {
		if rig, err := NewRigRadio(serial, card.RigModelID, card.DevicePath); err == nil {
			return rig
		}
	}
	return serial
}
