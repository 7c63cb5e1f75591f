package media

import (
	"encoding/json"
	"fmt"
)

// Capability tracks a best-effort resource (microphone, recorder).
// Unknown means acquisition was never attempted; Unavailable means it was tried and failed.
type Capability int

const (
	CapabilityUnknown Capability = iota
	CapabilityUnavailable
	CapabilityAvailable
	CapabilityActive
)

func (c Capability) String() string {
	switch c {
	case CapabilityUnknown:
		return "unknown"
	case CapabilityUnavailable:
		return "unavailable"
	case CapabilityAvailable:
		return "available"
	case CapabilityActive:
		return "active"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}
