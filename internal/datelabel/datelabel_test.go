package datelabel

import (
	"errors"
	"testing"
	"time"
)

func newTestCoder(t *testing.T) *Coder {
	t.Helper()
	c, err := NewCoder("America/Denver")
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	return c
}

func TestNewCoder_UnknownZone(t *testing.T) {
	if _, err := NewCoder("Mars/Olympus_Mons"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

// --- Encode / Decode ---

func TestEncode(t *testing.T) {
	c := newTestCoder(t)
	tests := []struct {
		iso  string
		want string
	}{
		{"2026-03-16", "Monday, March 16, 2026"},
		{"2026-01-02", "Friday, January 2, 2026"},
		{"2026-12-25", "Friday, December 25, 2026"},
		{"2028-02-29", "Tuesday, February 29, 2028"}, // leap day
	}
	for _, tt := range tests {
		got, err := c.Encode(tt.iso)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.iso, err)
		}
		if got != tt.want {
			t.Errorf("Encode(%q): got %q, want %q", tt.iso, got, tt.want)
		}
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	c := newTestCoder(t)
	for _, iso := range []string{"2026-03-16", "2026-01-02", "2028-02-29"} {
		label, err := c.Encode(iso)
		if err != nil {
			t.Fatalf("Encode(%q): %v", iso, err)
		}
		back, err := c.Decode(label)
		if err != nil {
			t.Fatalf("Decode(%q): %v", label, err)
		}
		if back != iso {
			t.Errorf("round trip %q: got %q", iso, back)
		}
	}
}

func TestDecode_BadLabel(t *testing.T) {
	c := newTestCoder(t)
	for _, label := range []string{"", "March 16, 2026", "Monday March 16 2026", "garbage"} {
		if _, err := c.Decode(label); !errors.Is(err, ErrBadDate) {
			t.Errorf("Decode(%q): got %v, want ErrBadDate", label, err)
		}
	}
}

// --- ParseISO ---

func TestParseISO_Rejects(t *testing.T) {
	c := newTestCoder(t)
	bad := []string{
		"",
		"2026-3-16",    // missing zero pad
		"16-03-2026",   // wrong order
		"2026/03/16",   // wrong separator
		"2025-02-30",   // normalizes to March 2
		"2026-13-01",   // no month 13
		"2026-00-10",   // no month 0
		"2026-04-31",   // April has 30 days
		"2026-03-16 ",  // trailing space
		"20260316",     // no separators
		"2026-03-16T0", // extra junk
	}
	for _, iso := range bad {
		if _, err := c.ParseISO(iso); !errors.Is(err, ErrBadDate) {
			t.Errorf("ParseISO(%q): got %v, want ErrBadDate", iso, err)
		}
	}
}

func TestParseISO_MidnightInZone(t *testing.T) {
	c := newTestCoder(t)
	d, err := c.ParseISO("2026-03-16")
	if err != nil {
		t.Fatalf("ParseISO: %v", err)
	}
	if h, m, s := d.Clock(); h != 0 || m != 0 || s != 0 {
		t.Errorf("clock: got %02d:%02d:%02d, want midnight", h, m, s)
	}
	if d.Location() != c.Location() {
		t.Errorf("location: got %v, want %v", d.Location(), c.Location())
	}
}

// --- Today / IsPast ---

func TestToday_UsesZoneNotUTC(t *testing.T) {
	c := newTestCoder(t)
	// 2026-03-16 04:30 UTC is still 2026-03-15 in Denver (UTC-6).
	now := time.Date(2026, 3, 16, 4, 30, 0, 0, time.UTC)
	if got := c.Today(now); got != "2026-03-15" {
		t.Errorf("Today: got %q, want %q", got, "2026-03-15")
	}
}

func TestIsPast(t *testing.T) {
	c := newTestCoder(t)
	// Noon Denver time on March 16.
	now := time.Date(2026, 3, 16, 12, 0, 0, 0, c.Location())
	tests := []struct {
		iso  string
		want bool
	}{
		{"2026-03-15", true},
		{"2026-03-16", false}, // today is not past
		{"2026-03-17", false},
	}
	for _, tt := range tests {
		got, err := c.IsPast(tt.iso, now)
		if err != nil {
			t.Fatalf("IsPast(%q): %v", tt.iso, err)
		}
		if got != tt.want {
			t.Errorf("IsPast(%q): got %v, want %v", tt.iso, got, tt.want)
		}
	}
}

func TestIsPast_BadDate(t *testing.T) {
	c := newTestCoder(t)
	if _, err := c.IsPast("2025-02-30", time.Now()); !errors.Is(err, ErrBadDate) {
		t.Fatalf("got %v, want ErrBadDate", err)
	}
}
