package core

import "strings"

// Technology is the mac-protocol tag selecting an interface's stack.
type Technology string

const (
	TechAloha   Technology = "aloha"
	TechDot11   Technology = "dot11"
	TechDot11ad Technology = "dot11ad"
	TechDot11ah Technology = "dot11ah"
	TechDot15   Technology = "dot15"
	TechLTE     Technology = "lte"
	TechWave    Technology = "wave"
	TechGeoNet  Technology = "geonet"
	TechT109    Technology = "t109"

	// TechNone leaves the interface without a MAC.
	TechNone Technology = "no"
	// TechWired hands the interface to the wired setup hook.
	TechWired Technology = "wired"
)

// WirelessTechnologies lists the tags built by the interface factory, in
// registration order.
func WirelessTechnologies() []Technology {
	return []Technology{
		TechAloha, TechDot11, TechDot11ad, TechDot11ah, TechDot15,
		TechLTE, TechWave, TechGeoNet, TechT109,
	}
}

// ParseTechnology maps a mac-protocol value to a known tag. Matching is
// case-insensitive.
func ParseTechnology(s string) (Technology, bool) {
	t := Technology(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TechNone, TechWired:
		return t, true
	}
	for _, w := range WirelessTechnologies() {
		if t == w {
			return t, true
		}
	}
	return t, false
}

// PropagationTechnology is the channel family a technology shares. GeoNet
// runs over 802.11 channels.
func (t Technology) PropagationTechnology() Technology {
	if t == TechGeoNet {
		return TechDot11
	}
	return t
}
