package radioio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vtol-link/groundrouter/internal/hwinventory"
)

func TestBackendsPicksSiKForSiKCards(t *testing.T) {
	b := NewBackends()
	card := hwinventory.NewCard(0, "mac", "/dev/ttyUSB0", hwinventory.CanRX|hwinventory.CanTX|hwinventory.SiK, nil)

	iface := b.For(card)
	_, ok := iface.(*SiKRadio)
	require.True(t, ok, "expected a SiKRadio backend")
}

func TestBackendsPicksSerialForPlainCards(t *testing.T) {
	b := NewBackends()
	card := hwinventory.NewCard(0, "mac", "/dev/ttyUSB0", hwinventory.CanRX|hwinventory.CanTX, nil)

	iface := b.For(card)
	_, ok := iface.(*SerialRadio)
	require.True(t, ok, "expected a SerialRadio backend")
}

func TestBackendsFallsBackToSerialWhenRigOpenFails(t *testing.T) {
	b := NewBackends()
	card := hwinventory.NewCard(0, "mac", "/dev/nonexistent-rig-device", hwinventory.CanRX|hwinventory.CanTX|hwinventory.RigControlled, nil)

	iface := b.For(card)
	_, ok := iface.(*SerialRadio)
	require.True(t, ok, "a failed Hamlib open must fall back to plain serial")
}

func TestBackendsDefaultsBaudWhenUnset(t *testing.T) {
	b := &Backends{}
	card := hwinventory.NewCard(0, "mac", "/dev/ttyUSB0", hwinventory.CanRX|hwinventory.CanTX, nil)

	iface := b.For(card)
	s, ok := iface.(*SerialRadio)
	require.True(t, ok)
	require.Equal(t, DefaultBaud, s.baud)
}
