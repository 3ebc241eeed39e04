// Package identity holds the agent's immutable per-device identity and
// the connection endpoint configuration it is built from. Nothing in
// this package mutates after construction: Identity and Config are
// created once at startup and threaded read-only through every other
// component, mirroring how this codebase avoids module-scope mutable
// singletons for anything that represents fixed device facts.
package identity

import (
	"fmt"
	"strings"
)

// DeviceType is the coarse device family reported to the DMS.
type DeviceType string

const (
	PublicDisplay DeviceType = "PublicDisplay"
	IFP           DeviceType = "IFP"
	Signage       DeviceType = "Signage"
	Projector     DeviceType = "Projector"
	OPS           DeviceType = "OPS"
	Linux         DeviceType = "Linux"
)

// DeviceSubtype further qualifies DeviceType with the runtime stack
// the device is built on.
type DeviceSubtype string

const (
	Android  DeviceSubtype = "Android"
	Combo    DeviceSubtype = "Combo"
	Embedded DeviceSubtype = "Embedded"
	Windows  DeviceSubtype = "Windows"
)

// ClientIDPrefix is prepended to the colonless MAC to form the MQTT
// client id and is also the prefix BDID derivation looks for when
// deciding whether a unique_id already encodes a MAC (spec.md §4.5).
const ClientIDPrefix = "dms-"

// Identity is the full set of immutable facts about this device.
// Every field is read-only after NewIdentity returns.
type Identity struct {
	Model           string
	Serial          string
	mac             string // canonical colonless uppercase, e.g. AABBCCDDEEFF
	Panel           string
	Brand           string
	DeviceType      DeviceType
	DeviceSubtype   DeviceSubtype
	CountryCode     string
	FirmwareVersion string
	Architecture    []string
}

// Provider is the injected, read-only capability that supplies device
// identity facts (MAC, model, serial, ...). Concrete hardware
// discovery (reading /sys, NVRAM, etc.) is outside this repository's
// scope per spec.md §1; Provider is the seam a real build plugs into.
type Provider interface {
	Identity() (Identity, error)
}

// StaticProvider is a Provider that always returns a fixed Identity,
// useful for config-derived identity and for tests.
type StaticProvider struct {
	ID Identity
}

func (p StaticProvider) Identity() (Identity, error) { return p.ID, nil }

// NewIdentity validates and normalizes raw identity fields into an
// Identity. mac may be given in any of the common forms (colons,
// dashes, bare hex, mixed case) and is canonicalized to uppercase
// colonless form for storage.
func NewIdentity(model, serial, mac, panel, brand string, dt DeviceType, dst DeviceSubtype, countryCode, firmware string, arch []string) (Identity, error) {
	canon, err := CanonicalMAC(mac)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: %w", err)
	}
	return Identity{
		Model:           model,
		Serial:          serial,
		mac:             canon,
		Panel:           panel,
		Brand:           brand,
		DeviceType:      dt,
		DeviceSubtype:   dst,
		CountryCode:     countryCode,
		FirmwareVersion: firmware,
		Architecture:    arch,
	}, nil
}

// MAC returns the canonical colonless uppercase MAC, e.g. "AABBCCDDEEFF".
func (id Identity) MAC() string { return id.mac }

// MACColon returns the canonical colon-separated uppercase MAC, e.g.
// "AA:BB:CC:DD:EE:FF".
func (id Identity) MACColon() string { return FormatMACColon(id.mac) }

// ClientID is the MQTT client id: the fixed prefix concatenated with
// the colonless MAC (spec.md §3).
func (id Identity) ClientID() string { return ClientIDPrefix + id.mac }

// CanonicalMAC strips separators, upper-cases, and validates that the
// result is exactly 12 hex characters. It accepts "AA:BB:CC:DD:EE:FF",
// "aa-bb-cc-dd-ee-ff", and "aabbccddeeff" equally.
func CanonicalMAC(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ':
			return -1
		default:
			return r
		}
	}, raw)
	cleaned = strings.ToUpper(cleaned)
	if len(cleaned) != 12 {
		return "", fmt.Errorf("mac %q does not resolve to 12 hex characters", raw)
	}
	for _, r := range cleaned {
		if !isHex(r) {
			return "", fmt.Errorf("mac %q contains non-hex character %q", raw, r)
		}
	}
	return cleaned, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}

// FormatMACColon formats a canonical 12-char colonless MAC as
// "AA:BB:CC:DD:EE:FF". Callers that already hold a canonicalized MAC
// (e.g. restclient's BDID derivation) use this directly instead of
// building a full Identity just to reach the formatting.
func FormatMACColon(colonless string) string {
	if len(colonless) != 12 {
		return colonless
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(colonless[i : i+2])
	}
	return b.String()
}

// MACTail12 returns the 12 hex characters that make up the MAC seed
// used both for ClientID derivation and as the reconnect scheduler's
// per-device dispersion seed (spec.md §3, §4.2).
func (id Identity) MACTail12() string { return id.mac }
