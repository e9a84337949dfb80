package hwinventory

import "strings"

// siKModelPrefixes lists device-path/model substrings that identify a
// SiK-family serial radio, the way the original ground station keys off
// a handful of known vendor strings rather than a capability flag the
// hardware itself reports.
var siKModelPrefixes = []string{"sik", "rfd900", "hm-tr", "3dr"}

// ClassifySiK reports whether devicePath/model names a SiK radio. It is
// used by hardware enumeration when a udev rule hasn't already set the
// SiK capability bit explicitly.
func ClassifySiK(devicePathOrModel string) bool {
	lower := strings.ToLower(devicePathOrModel)
	for _, p := range siKModelPrefixes {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
