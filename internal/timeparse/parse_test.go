package timeparse

import (
	"errors"
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		spec string
		want time.Duration
	}{
		{name: "short minutes", spec: "5m", want: 5 * time.Minute},
		{name: "short hours", spec: "2h", want: 2 * time.Hour},
		{name: "short days", spec: "1d", want: 24 * time.Hour},
		{name: "short seconds", spec: "30s", want: 30 * time.Second},
		{name: "word minutes", spec: "5 minutes", want: 5 * time.Minute},
		{name: "word hours", spec: "2 hours", want: 2 * time.Hour},
		{name: "word day", spec: "1 day", want: 24 * time.Hour},
		{name: "combined", spec: "3h 30m", want: 3*time.Hour + 30*time.Minute},
		{name: "combined reversed", spec: "30m 3h", want: 3*time.Hour + 30*time.Minute},
		{name: "all units", spec: "1d 2h 3m 4s", want: 26*time.Hour + 3*time.Minute + 4*time.Second},
		{name: "embedded", spec: "remind me in 45 min", want: 45 * time.Minute},
		{name: "upper case", spec: "10M", want: 10 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.spec, err)
			}
			if want := now.Add(tt.want); !got.Equal(want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.spec, got, want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	now := time.Now()

	for _, spec := range []string{"", "abc", "0m", "0h 0m", "later", "m5"} {
		if _, err := Parse(spec, now); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", spec)
		} else if !errors.Is(err, ErrUnparseable) {
			t.Fatalf("Parse(%q) error = %v, want ErrUnparseable", spec, err)
		}
	}
}

// Pins the duplicate-unit policy: the first match per unit wins, units are
// summed across kinds.
func TestParseDuplicateUnitFirstMatchWins(t *testing.T) {
	t.Parallel()

	d, err := Duration("10m 5m")
	if err != nil {
		t.Fatalf("Duration error: %v", err)
	}
	if d != 10*time.Minute {
		t.Fatalf("Duration(\"10m 5m\") = %v, want 10m", d)
	}

	d, err = Duration("1h 20m 2h")
	if err != nil {
		t.Fatalf("Duration error: %v", err)
	}
	if d != time.Hour+20*time.Minute {
		t.Fatalf("Duration(\"1h 20m 2h\") = %v, want 1h20m", d)
	}
}
