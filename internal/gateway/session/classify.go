package session

import "strings"

// Class is a connection's role, decided once at handshake.
type Class int

const (
	Unclassified Class = iota
	Operator
	Device
	Rejected
)

func (c Class) String() string {
	switch c {
	case Operator:
		return "operator"
	case Device:
		return "device"
	case Rejected:
		return "rejected"
	default:
		return "unclassified"
	}
}

// DefaultDeviceOrigin is the Origin header thermostats send.
const DefaultDeviceOrigin = "https://esp32.local"

// OriginPolicy is the allow-list Classify checks against.
type OriginPolicy struct {
	OperatorOrigins []string
	DeviceOrigin    string
}

// Classify maps a declared origin to a class. Matching is exact after
// lower-casing and trimming a trailing slash. Anything not allow-listed,
// including an empty origin, is Rejected.
func Classify(origin string, p OriginPolicy) Class {
	o := normalizeOrigin(origin)
	if o == "" {
		return Rejected
	}
	for _, allowed := range p.OperatorOrigins {
		if n := normalizeOrigin(allowed); n != "" && n == o {
			return Operator
		}
	}
	if d := normalizeOrigin(p.DeviceOrigin); d != "" && d == o {
		return Device
	}
	return Rejected
}

func normalizeOrigin(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")
}
