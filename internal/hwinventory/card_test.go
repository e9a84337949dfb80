package hwinventory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCardSupportsAndHas(t *testing.T) {
	c := NewCard(0, "aa:bb", "/dev/ttyUSB0", CanRX|CanTX|CanUseForData, []uint32{5800000})
	require.True(t, c.Supports(5800000))
	require.False(t, c.Supports(2400000))
	require.True(t, c.Has(CanRX|CanTX))
	require.False(t, c.Has(Disabled))
	require.True(t, c.Enabled())
}

func TestClassifySiK(t *testing.T) {
	require.True(t, ClassifySiK("/dev/RFD900-A"))
	require.True(t, ClassifySiK("SiK Radio v2"))
	require.False(t, ClassifySiK("/dev/ttyUSB0 Atheros 9271"))
}
