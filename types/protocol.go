package types

import "fmt"

// ProtocolVersion selects the wire framing, handshake layout and canonical
// sign-bytes encoding used on one validator link. Both peers must be
// configured with the same version; there is no in-band negotiation.
type ProtocolVersion uint8

const (
	// VersionLegacy is the historical encoding.
	VersionLegacy ProtocolVersion = iota
	// VersionCurrent is the current encoding.
	VersionCurrent
)

// ParseProtocolVersion parses the configuration string form.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch s {
	case "legacy":
		return VersionLegacy, nil
	case "", "current", "v0.34":
		return VersionCurrent, nil
	default:
		return 0, fmt.Errorf("unsupported protocol version %q", s)
	}
}

func (v ProtocolVersion) String() string {
	switch v {
	case VersionLegacy:
		return "legacy"
	case VersionCurrent:
		return "current"
	default:
		return fmt.Sprintf("ProtocolVersion(%d)", uint8(v))
	}
}
