// Package radiostats accumulates per-interface and per-link send/receive
// counters and periodically flushes a plain-data snapshot for
// publication to shared memory. The router owns the authoritative
// copy; the shared copy is write-only from the core (§3).
package radiostats

import "time"

// InterfaceCounters is the authoritative per-interface counter set.
type InterfaceCounters struct {
	PacketsSent     uint64
	BytesSent       uint64
	PacketsReceived uint64
	BytesReceived   uint64
	WriteFailures   uint64
}

// LinkCounters is the authoritative per-link counter set.
type LinkCounters struct {
	PacketsSent     uint64
	PacketsReceived uint64
}

// Snapshot is the plain-data struct copied byte-for-byte into the
// shared memory region. It carries a generation counter so a reader
// that observes a torn copy mid-update can detect it (see
// internal/shm).
type Snapshot struct {
	Generation     uint64
	Interfaces     []InterfaceCounters
	Links          []LinkCounters
	LastFlushUnix  int64
	HistoryTxVideo uint32 // debug packet-history graph counters (optional)
	HistoryTxComm  uint32
	HistoryTxRC    uint32
}

// Stats is the live, mutable counter set the router updates on every
// send/receive. Single-threaded; only the tick goroutine touches it.
type Stats struct {
	Interfaces []InterfaceCounters
	Links      []LinkCounters

	DebugHistory bool

	histVideo, histComm, histRC uint32
}

// New allocates a Stats sized for nInterfaces cards and nLinks links.
func New(nInterfaces, nLinks int) *Stats {
	return &Stats{
		Interfaces: make([]InterfaceCounters, nInterfaces),
		Links:      make([]LinkCounters, nLinks),
	}
}

// RecordSend updates counters after a successful write of n bytes on
// interface i serving link k.
func (s *Stats) RecordSend(i, k, n int) {
	if i >= 0 && i < len(s.Interfaces) {
		s.Interfaces[i].PacketsSent++
		s.Interfaces[i].BytesSent += uint64(n)
	}
	if k >= 0 && k < len(s.Links) {
		s.Links[k].PacketsSent++
	}
}

// RecordWriteFailure updates counters after a write returning <= 0;
// the packet itself is never requeued (best-effort radio semantics,
// spec §7).
func (s *Stats) RecordWriteFailure(i int) {
	if i >= 0 && i < len(s.Interfaces) {
		s.Interfaces[i].WriteFailures++
	}
}

// RecordReceive updates counters after receiving n bytes on interface i
// serving link k.
func (s *Stats) RecordReceive(i, k, n int) {
	if i >= 0 && i < len(s.Interfaces) {
		s.Interfaces[i].PacketsReceived++
		s.Interfaces[i].BytesReceived += uint64(n)
	}
	if k >= 0 && k < len(s.Links) {
		s.Links[k].PacketsReceived++
	}
}

// RecordHistoryTx increments the optional debug packet-history
// counters, gated by DebugHistory, folded in from the original
// ground station's add_detailed_history_tx_packets hook.
func (s *Stats) RecordHistoryTx(video, comm, rc bool) {
	if !s.DebugHistory {
		return
	}
	if video {
		s.histVideo++
	}
	if comm {
		s.histComm++
	}
	if rc {
		s.histRC++
	}
}

// Snapshot builds an immutable copy of the current counters for
// publication.
func (s *Stats) Snapshot(generation uint64) Snapshot {
	ifaces := make([]InterfaceCounters, len(s.Interfaces))
	copy(ifaces, s.Interfaces)
	links := make([]LinkCounters, len(s.Links))
	copy(links, s.Links)
	return Snapshot{
		Generation:     generation,
		Interfaces:     ifaces,
		Links:          links,
		LastFlushUnix:  time.Now().Unix(),
		HistoryTxVideo: s.histVideo,
		HistoryTxComm:  s.histComm,
		HistoryTxRC:    s.histRC,
	}
}
