// Package alarm implements send_alarm_to_central: routing a
// runtime-alarmable condition (no interfaces for a link, low storage,
// CPU loop overload) to Central as a LOCAL_CONTROL packet, per spec §7.
package alarm

import (
	"github.com/vtol-link/groundrouter/internal/wire"
)

// Code enumerates the alarm conditions the router itself raises.
type Code uint32

const (
	CodeNoInterfacesForLink Code = iota + 1
	CodeLowStorageSpace
	CodeCPULoopOverload
)

// Sender is the minimal surface alarm needs from an IPC endpoint.
type Sender interface {
	Send(h wire.Header, payload []byte) bool
}

// Send emits an ALARM packet to Central over sink, tagged
// ComponentLocalControl so it never escapes onto the radio side. param
// carries the alarm-specific detail (link index, free space in MB,
// overrun in ms). Returns false on send failure — logging that is the caller's
// job, per §7's runtime-transient policy.
func Send(sink Sender, code Code, param uint32) bool {
	h := wire.Header{Type: wire.TypeAlarm}.WithComponent(wire.ComponentLocalControl)
	payload := make([]byte, 8)
	payload[0] = byte(code)
	payload[1] = byte(code >> 8)
	payload[2] = byte(code >> 16)
	payload[3] = byte(code >> 24)
	payload[4] = byte(param)
	payload[5] = byte(param >> 8)
	payload[6] = byte(param >> 16)
	payload[7] = byte(param >> 24)
	return sink.Send(h, payload)
}
