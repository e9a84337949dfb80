package radioio

import (
	"fmt"

	hamlib "github.com/xylo04/goHamlib"
)

// RigRadio wraps a data-path backend (usually *SerialRadio) and routes
// frequency changes through Hamlib instead of a bare serial command, for
// cards whose capability flags mark them as rig-controlled rather than
// SiK/fixed-frequency.
type RigRadio struct {
	Interface
	rig *hamlib.Rig
}

// NewRigRadio opens a Hamlib rig of the given model on devicePath and
// wraps data backing around it.
func NewRigRadio(data Interface, modelID int, devicePath string) (*RigRadio, error) {
	rig := hamlib.NewRig(modelID)
	if err := rig.SetConf("rig_pathname", devicePath); err != nil {
		return nil, fmt.Errorf("radioio: hamlib set_conf: %w", err)
	}
	if err := rig.Open(); err != nil {
		return nil, fmt.Errorf("radioio: hamlib open: %w", err)
	}
	return &RigRadio{Interface: data, rig: rig}, nil
}

// SetFrequency overrides the embedded backend to go through Hamlib's
// VFO frequency call.
func (r *RigRadio) SetFrequency(khz uint32) error {
	if err := r.rig.SetFreq(hamlib.VFOCurrent, float64(khz)*1000); err != nil {
		return fmt.Errorf("radioio: hamlib set_freq: %w", err)
	}
	return nil
}

func (r *RigRadio) Close() error {
	r.rig.Close()
	return r.Interface.Close()
}
