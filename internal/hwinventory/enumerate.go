package hwinventory

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/jochenvg/go-udev"
)

// supportedFrequenciesKHz lists the frequencies a generic 5.8/2.4 GHz
// capable controller card is assumed to support unless overridden by a
// per-device udev property (see propFrequencies).
var supportedFrequenciesKHz = []uint32{2412000, 2437000, 2462000, 5745000, 5805000, 5825000}

const (
	propCapabilities = "RUBY_RADIO_CAPS"       // decimal CapFlags override
	propFrequencies  = "RUBY_RADIO_FREQS"      // comma-separated kHz list
	propDatarate     = "RUBY_RADIO_KBPS"       // Atheros TX datarate override
	propRigModel     = "RUBY_RADIO_RIGMODEL"   // Hamlib model id, for RigControlled cards
	propGPIOChip     = "RUBY_RADIO_GPIO_CHIP"  // gpiochip device for the card's enable line
	propGPIOLine     = "RUBY_RADIO_GPIO_LINE"  // line offset within propGPIOChip
)

// Enumerate walks the tty and net subsystems via udev and returns one
// Card per matching device, ordered by a stable ascending index. A
// device advertises itself as a radio interface by carrying the
// RUBY_RADIO_CAPS udev property; anything else is ignored, so the
// router never has to guess which serial ports or network devices on
// the box are actually radio cards.
func Enumerate() ([]Card, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()

	// Radio cards show up as tty or net devices; the RUBY_RADIO_CAPS
	// property (set by udev rules shipped with the controller image)
	// is what actually marks one as a radio interface, checked below.
	_ = e.AddMatchSubsystem("tty")
	_ = e.AddMatchSubsystem("net")

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("hwinventory: udev enumerate: %w", err)
	}

	var cards []Card
	for _, d := range devices {
		capsStr := d.PropertyValue(propCapabilities)
		if capsStr == "" {
			continue
		}
		caps, err := strconv.ParseUint(capsStr, 0, 32)
		if err != nil {
			continue
		}

		freqs := supportedFrequenciesKHz
		if fv := d.PropertyValue(propFrequencies); fv != "" {
			freqs = parseFreqList(fv)
		}

		var rate uint64
		if rv := d.PropertyValue(propDatarate); rv != "" {
			rate, _ = strconv.ParseUint(rv, 10, 32)
		}

		mac := d.PropertyValue("ID_SERIAL")
		if mac == "" {
			mac = d.Syspath()
		}

		var rigModel int
		if mv := d.PropertyValue(propRigModel); mv != "" {
			rigModel, _ = strconv.Atoi(mv)
		}

		flags := CapFlags(caps)
		if flags&SiK == 0 && ClassifySiK(d.Devnode()+" "+d.PropertyValue("ID_MODEL")) {
			flags |= SiK
		}

		gpioChip := d.PropertyValue(propGPIOChip)
		var gpioLine int
		if gv := d.PropertyValue(propGPIOLine); gv != "" {
			gpioLine, _ = strconv.Atoi(gv)
		}

		cards = append(cards, Card{
			Index:            len(cards),
			MAC:              mac,
			DevicePath:       d.Devnode(),
			Flags:            flags,
			DatarateOverride: uint32(rate),
			RigModelID:       rigModel,
			GPIOChip:         gpioChip,
			GPIOLine:         gpioLine,
			frequencies:      freqSet(freqs),
		})
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].MAC < cards[j].MAC })
	for i := range cards {
		cards[i].Index = i
	}
	return cards, nil
}

func freqSet(freqs []uint32) map[uint32]bool {
	m := make(map[uint32]bool, len(freqs))
	for _, f := range freqs {
		m[f] = true
	}
	return m
}

func parseFreqList(s string) []uint32 {
	var out []uint32
	cur := uint32(0)
	have := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur = cur*10 + uint32(r-'0')
			have = true
			continue
		}
		if have {
			out = append(out, cur)
		}
		cur, have = 0, false
	}
	if have {
		out = append(out, cur)
	}
	return out
}
