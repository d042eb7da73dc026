// Package timeparse turns informal delay phrases ("5m", "2 hours",
// "3h 30m") into absolute delivery instants.
//
// This is deliberately a duration-from-now parser, not a calendar parser:
// absolute phrases like "tomorrow 9am" are not recognized.
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned when the spec contains no recognizable,
// positive duration.
var ErrUnparseable = errors.New("unrecognized time spec")

// ParseError wraps ErrUnparseable with the offending spec.
type ParseError struct {
	Spec string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized time spec %q", e.Spec)
}

func (e *ParseError) Unwrap() error { return ErrUnparseable }

// Unit token patterns. Each unit is matched independently; the first match
// per unit wins and all matched units are summed, so "3h 30m" and
// "30m 3h" resolve identically.
var (
	reSeconds = regexp.MustCompile(`(?i)(\d+)\s*(?:s|sec|second|seconds)`)
	reMinutes = regexp.MustCompile(`(?i)(\d+)\s*(?:m|min|minute|minutes)`)
	reHours   = regexp.MustCompile(`(?i)(\d+)\s*(?:h|hr|hour|hours)`)
	reDays    = regexp.MustCompile(`(?i)(\d+)\s*(?:d|day|days)`)

	// Strict short form: whole string is "<n><unit letter>". Only consulted
	// when no unit token matched above.
	reShort = regexp.MustCompile(`(?i)^\s*(\d+)([mhds])\s*$`)
)

// Parse resolves spec relative to now. It fails with a *ParseError when the
// spec yields no positive duration (so "0m" and "abc" are both rejected).
func Parse(spec string, now time.Time) (time.Time, error) {
	d, err := Duration(spec)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}

// Duration resolves spec to a relative delay.
func Duration(spec string) (time.Duration, error) {
	var total time.Duration

	if m := reMinutes.FindStringSubmatch(spec); m != nil {
		total += time.Duration(atoi(m[1])) * time.Minute
	}
	if m := reHours.FindStringSubmatch(spec); m != nil {
		total += time.Duration(atoi(m[1])) * time.Hour
	}
	if m := reDays.FindStringSubmatch(spec); m != nil {
		total += time.Duration(atoi(m[1])) * 24 * time.Hour
	}
	if m := reSeconds.FindStringSubmatch(spec); m != nil {
		total += time.Duration(atoi(m[1])) * time.Second
	}

	if total > 0 {
		return total, nil
	}

	if m := reShort.FindStringSubmatch(spec); m != nil {
		n := atoi(m[1])
		var unit time.Duration
		switch strings.ToLower(m[2]) {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		if d := time.Duration(n) * unit; d > 0 {
			return d, nil
		}
	}

	return 0, &ParseError{Spec: spec}
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
