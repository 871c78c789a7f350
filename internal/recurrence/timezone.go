package recurrence

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// LoadZone resolves an IANA zone name. The empty name means UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", name, err)
	}
	return loc, nil
}

// ToLocal returns the naive wall clock of instant in loc.
func ToLocal(instant time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Naive(instant.In(loc))
}

// ToUTC attaches loc's offset to the naive wall clock local and returns the
// absolute instant in UTC.
//
// Wall clocks repeated by a backward transition resolve to the standard
// (non-DST) offset. Wall clocks skipped by a forward transition are also
// interpreted with the standard offset, which lands them after the gap.
func ToUTC(local time.Time, loc *time.Location) time.Time {
	wall := Naive(local)
	if loc == nil || loc == time.UTC {
		return wall
	}

	var (
		matches []time.Time
		offsets []zoneOffset
	)
	seen := make(map[int]bool, 3)
	for _, sample := range []time.Time{wall.Add(-24 * time.Hour), wall, wall.Add(24 * time.Hour)} {
		in := sample.In(loc)
		_, off := in.Zone()
		if seen[off] {
			continue
		}
		seen[off] = true
		offsets = append(offsets, zoneOffset{seconds: off, dst: in.IsDST()})

		candidate := wall.Add(-time.Duration(off) * time.Second)
		if _, got := candidate.In(loc).Zone(); got == off {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0].UTC()
	case 0:
		off := standardOffset(offsets)
		return wall.Add(-time.Duration(off) * time.Second).UTC()
	default:
		for _, m := range matches {
			if !m.In(loc).IsDST() {
				return m.UTC()
			}
		}
		latest := matches[0]
		for _, m := range matches[1:] {
			if m.After(latest) {
				latest = m
			}
		}
		return latest.UTC()
	}
}

type zoneOffset struct {
	seconds int
	dst     bool
}

// standardOffset picks the non-DST offset around a gap, falling back to the
// offset in effect before the transition.
func standardOffset(offsets []zoneOffset) int {
	for _, o := range offsets {
		if !o.dst {
			return o.seconds
		}
	}
	return offsets[0].seconds
}
