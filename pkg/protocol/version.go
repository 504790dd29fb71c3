package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a SPOP protocol version, formatted "major.minor" on the wire.
type Version struct {
	Major uint8
	Minor uint8
}

// V20 is SPOP version 2.0, the only version HAProxy currently speaks.
var V20 = Version{Major: 2, Minor: 0}

// SupportedVersions lists the SPOP versions this implementation supports,
// in ascending order.
var SupportedVersions = []Version{V20}

// String formats v as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Less reports whether v precedes other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// ParseVersion parses a "major.minor" version string.
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Version{}, fmt.Errorf("spop: invalid version %q", s)
	}
	maj, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("spop: invalid version %q: %w", s, err)
	}
	min, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("spop: invalid version %q: %w", s, err)
	}
	return Version{Major: uint8(maj), Minor: uint8(min)}, nil
}

// ParseVersionList parses a comma-separated version list, as carried by the
// "supported-versions" HELLO key.
func ParseVersionList(s string) ([]Version, error) {
	var versions []Version
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := ParseVersion(part)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// FormatVersionList renders versions as the comma-separated wire form.
func FormatVersionList(versions []Version) string {
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}
