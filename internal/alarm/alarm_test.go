package alarm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vtol-link/groundrouter/internal/wire"
)

type recordingSink struct {
	h       wire.Header
	payload []byte
	fail    bool
}

func (r *recordingSink) Send(h wire.Header, payload []byte) bool {
	if r.fail {
		return false
	}
	r.h = h
	r.payload = append([]byte(nil), payload...)
	return true
}

func TestSendTagsLocalControl(t *testing.T) {
	sink := &recordingSink{}
	ok := Send(sink, CodeNoInterfacesForLink, 2)
	require.True(t, ok)
	require.Equal(t, wire.ComponentLocalControl, sink.h.Component())
	require.Equal(t, wire.TypeAlarm, sink.h.Type)
	require.EqualValues(t, CodeNoInterfacesForLink, sink.payload[0])
	require.EqualValues(t, 2, sink.payload[4])
}

func TestSendReturnsFalseOnFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	require.False(t, Send(sink, CodeLowStorageSpace, 150))
}
