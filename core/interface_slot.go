package core

// InterfaceSlot is one interface of a node with the stack built for it.
// Slots are created during setup and never added or removed afterwards.
type InterfaceSlot struct {
	ID         string
	Index      int
	Technology Technology

	// Antennas are owned by the slot.
	Antennas []*AntennaBinding

	// Mac is shared with the network layer's interface table. It is nil
	// for "no" and "wired" interfaces.
	Mac MacLayer

	// Helpers are side-channel layers in build order.
	Helpers []HelperLayer
}

// Helper returns the helper layer named name, if the slot has one.
func (s *InterfaceSlot) Helper(name string) (HelperLayer, bool) {
	for _, h := range s.Helpers {
		if h.HelperName() == name {
			return h, true
		}
	}
	return nil, false
}

// IsEmpty reports whether the slot carries no wireless stack.
func (s *InterfaceSlot) IsEmpty() bool {
	return s.Mac == nil && len(s.Antennas) == 0
}
