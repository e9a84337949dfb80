// Package assign implements the interface assignment planner: a pure
// function from the controller's cards and the paired vehicle's radio
// links to a table of which card serves which link. See spec §4.1.
package assign

import "github.com/vtol-link/groundrouter/internal/hwinventory"

// Direction constrains which cards may serve a link.
type Direction int

const (
	DirectionBoth Direction = iota
	DirectionUplinkOnly
	DirectionDownlinkOnly
)

// Link is one logical radio link exposed by the paired vehicle. Read-only
// once loaded from the vehicle model; the planner never mutates it.
type Link struct {
	Index     int
	Frequency uint32
	Enabled   bool
	Relay     bool
	Direction Direction
	// DatarateKbps is the link's own TX datarate, used as the fallback
	// when an Atheros-family card has no per-card override (§4.2).
	DatarateKbps uint32
}

// AlarmNoInterfacesForLink is raised once per usable link with zero
// assigned cards.
type AlarmNoInterfacesForLink struct {
	LinkIndex int
}

// Assignment is the planner's output: a total function from card index
// to link index (or Unassigned), plus the per-link assigned bitmap.
type Assignment struct {
	CardToLink map[int]int // card index -> link index; absent means unassigned
	LinkCards  map[int][]int
	Alarms     []AlarmNoInterfacesForLink
}

// Unassigned marks a card with no assigned link.
const Unassigned = -1

// LinkForCard returns the link assigned to card i, or Unassigned.
func (a Assignment) LinkForCard(i int) int {
	if k, ok := a.CardToLink[i]; ok {
		return k
	}
	return Unassigned
}

// servesDirection reports whether a card with the given capability flags
// can serve a link that requires dir.
func servesDirection(flags hwinventory.CapFlags, dir Direction) bool {
	switch dir {
	case DirectionUplinkOnly:
		return flags&hwinventory.CanTX != 0
	case DirectionDownlinkOnly:
		return flags&hwinventory.CanRX != 0
	default:
		return flags&(hwinventory.CanRX|hwinventory.CanTX) != 0
	}
}

// usableLinks filters to links that are enabled and not relay links, per
// step 1 of §4.1.
func usableLinks(links []Link) []Link {
	var out []Link
	for _, l := range links {
		if !l.Enabled || l.Relay {
			continue
		}
		out = append(out, l)
	}
	return out
}

// supportsLink reports whether card can serve link k (frequency and
// direction both satisfied).
func supportsLink(c hwinventory.Card, l Link) bool {
	if !c.Enabled() {
		return false
	}
	if !c.Supports(l.Frequency) {
		return false
	}
	return servesDirection(c.Flags, l.Direction)
}

// Plan runs the deterministic assignment algorithm described in §4.1.
// mainFrequency is the stored "main connect" frequency (0 if none).
func Plan(cards []hwinventory.Card, links []Link, mainFrequency uint32) Assignment {
	result := Assignment{
		CardToLink: make(map[int]int),
		LinkCards:  make(map[int][]int),
	}

	usable := usableLinks(links)
	if len(usable) == 0 {
		return result
	}

	assign := func(cardIdx, linkIdx int) {
		result.CardToLink[cardIdx] = linkIdx
		result.LinkCards[linkIdx] = append(result.LinkCards[linkIdx], cardIdx)
	}

	// Step 2: exactly one usable link — every enabled card that supports
	// its frequency and direction goes to it.
	if len(usable) == 1 {
		k := usable[0].Index
		for _, c := range cards {
			if supportsLink(c, usable[0]) {
				assign(c.Index, k)
			}
		}
		emitAlarms(&result, usable)
		return result
	}

	// Step 3: per-card support matrix and single-link shortcut.
	supports := make(map[int][]int, len(cards)) // card index -> supported link indices, ascending
	singleLinkFor := make(map[int]int)
	for _, c := range cards {
		if !c.Enabled() {
			continue
		}
		var ks []int
		for _, l := range usable {
			if supportsLink(c, l) {
				ks = append(ks, l.Index)
			}
		}
		supports[c.Index] = ks
		if len(ks) == 1 {
			singleLinkFor[c.Index] = ks[0]
		}
	}

	assigned := make(map[int]bool) // card index -> assigned
	singleConstrained := make(map[int]bool)

	// Pass A: cards with exactly one supported link.
	for _, c := range cards {
		k, ok := singleLinkFor[c.Index]
		if !ok {
			continue
		}
		assign(c.Index, k)
		assigned[c.Index] = true
		singleConstrained[c.Index] = true
	}

	// Pass B: the main-frequency link is guaranteed a non-single-link-
	// constrained card if one supports it, even when a Pass A
	// single-link card already reached it — P3 cares specifically about
	// a non-single-constrained card landing there, not merely "any
	// card". "no card has been assigned to it yet" in §4.1 step 5 is
	// tracked against this multi-link pool, not against Pass A's
	// forced single-link assignments.
	if mainFrequency != 0 {
		for _, l := range usable {
			if l.Frequency != mainFrequency {
				continue
			}
			for _, c := range cards {
				if assigned[c.Index] || singleConstrained[c.Index] {
					continue
				}
				if !supportsLink(c, l) {
					continue
				}
				assign(c.Index, l.Index)
				assigned[c.Index] = true
				break
			}
			break
		}
	}

	// Pass C: remaining multi-link cards round-robin over supported
	// link indices, cursor shared across cards and persisting only for
	// this planning run.
	cursor := 0
	for _, c := range cards {
		if assigned[c.Index] || singleConstrained[c.Index] {
			continue
		}
		ks := supports[c.Index]
		if len(ks) < 2 {
			continue
		}
		chosen := pickRoundRobin(ks, cursor)
		assign(c.Index, chosen)
		assigned[c.Index] = true
		cursor++
	}

	emitAlarms(&result, usable)
	return result
}

// pickRoundRobin returns ks[cursor mod len(ks)]: the cursor indexes into
// the card's own ascending list of supported links, wrapping around, so
// successive multi-link cards (each advancing the cursor by one) spread
// across links per §4.1 step 6.
func pickRoundRobin(ks []int, cursor int) int {
	return ks[cursor%len(ks)]
}

func emitAlarms(result *Assignment, usable []Link) {
	for _, l := range usable {
		if len(result.LinkCards[l.Index]) == 0 {
			result.Alarms = append(result.Alarms, AlarmNoInterfacesForLink{LinkIndex: l.Index})
		}
	}
}
