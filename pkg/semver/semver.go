// Package semver validates and parses AgentVersion version strings against
// the SemVer 2.0.0 grammar (no leading "v", no leading zeros, no empty
// pre-release identifiers).
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed SemVer 2.0.0 string.
type Version struct {
	Major, Minor, Patch int
	Prerelease          string
	Build                string
	raw                  string
}

func (v *Version) String() string { return v.raw }

// semverPattern follows the official SemVer 2.0.0 BNF regex from semver.org,
// adapted to named groups.
var semverPattern = regexp.MustCompile(
	`^(?P<major>0|[1-9]\d*)\.(?P<minor>0|[1-9]\d*)\.(?P<patch>0|[1-9]\d*)` +
		`(?:-(?P<prerelease>(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
		`(?:\+(?P<build>[0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`,
)

// Parse validates s against SemVer 2.0.0 and returns its components. Reparsing
// the returned Version's String() yields the identical components (the
// round-trip invariant from spec §8).
func Parse(s string) (*Version, error) {
	m := semverPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid semver %q", s)
	}
	names := semverPattern.SubexpNames()
	groups := make(map[string]string, len(names))
	for i, name := range names {
		if name != "" {
			groups[name] = m[i]
		}
	}

	major, err := strconv.Atoi(groups["major"])
	if err != nil {
		return nil, fmt.Errorf("invalid semver %q: major: %w", s, err)
	}
	minor, err := strconv.Atoi(groups["minor"])
	if err != nil {
		return nil, fmt.Errorf("invalid semver %q: minor: %w", s, err)
	}
	patch, err := strconv.Atoi(groups["patch"])
	if err != nil {
		return nil, fmt.Errorf("invalid semver %q: patch: %w", s, err)
	}

	return &Version{
		Major:      major,
		Minor:      minor,
		Patch:      patch,
		Prerelease: groups["prerelease"],
		Build:      groups["build"],
		raw:        s,
	}, nil
}

// Valid reports whether s is an acceptable AgentVersion version string.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Compare orders two valid SemVer strings by major.minor.patch and
// pre-release precedence (build metadata is ignored, per SemVer 2.0.0 §10).
// It returns -1, 0 or 1. Malformed inputs compare as equal to avoid panics;
// callers are expected to have validated with Parse first.
func Compare(a, b string) int {
	va, erra := Parse(a)
	vb, errb := Parse(b)
	if erra != nil || errb != nil {
		return 0
	}
	if c := compareInt(va.Major, vb.Major); c != 0 {
		return c
	}
	if c := compareInt(va.Minor, vb.Minor); c != 0 {
		return c
	}
	if c := compareInt(va.Patch, vb.Patch); c != 0 {
		return c
	}
	return comparePrerelease(va.Prerelease, vb.Prerelease)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePrerelease implements SemVer 2.0.0 §11 precedence: no pre-release
// outranks any pre-release; otherwise identifiers are compared dot-segment
// by dot-segment.
func comparePrerelease(a, b string) int {
	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareIdentifier(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(as), len(bs))
}

func compareIdentifier(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return compareInt(an, bn)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
