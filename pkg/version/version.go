// Package version provides the library version and the MIDI-CI and UMP
// format versions this module speaks, with parsing and comparison helpers.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Library is the version of this module.
const Library = "0.4.0"

// CIMessageFormat is the MIDI-CI message format version emitted in every
// MIDI-CI header.
const CIMessageFormat byte = 0x02

// UMP is the UMP protocol version implemented by the endpoint.
var UMP = SpecVersion{Major: 1, Minor: 1}

// SpecVersion represents a parsed "major.minor" protocol version.
type SpecVersion struct {
	Major uint8
	Minor uint8
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || parts[0] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || parts[1] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: uint8(major), Minor: uint8(minor)}, nil
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v SpecVersion) Compatible(other SpecVersion) bool {
	return v.Major == other.Major
}

// Compare returns -1, 0 or 1 as v is older, equal or newer than other.
func (v SpecVersion) Compare(other SpecVersion) int {
	switch {
	case v.Major != other.Major:
		if v.Major < other.Major {
			return -1
		}
		return 1
	case v.Minor < other.Minor:
		return -1
	case v.Minor > other.Minor:
		return 1
	}
	return 0
}

// CIVersionName returns the MIDI-CI specification release that introduced
// a message format version.
func CIVersionName(format byte) string {
	switch format {
	case 0x01:
		return "1.1"
	case 0x02:
		return "1.2"
	default:
		return fmt.Sprintf("unknown(0x%02X)", format)
	}
}
