package domain

import (
	"errors"
	"testing"
)

func TestParseClock_Valid(t *testing.T) {
	cases := map[string]ClockTime{
		"08:30":   {8, 30},
		"8:30":    {8, 30},
		"00:00":   {0, 0},
		"23:59":   {23, 59},
		" 18:00 ": {18, 0},
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseClock(%q): want %v, got %v", in, want, got)
		}
	}
}

func TestParseClock_Invalid(t *testing.T) {
	for _, in := range []string{"24:00", "12:60", "1230", "ab:cd", "-1:10", "12:30:00"} {
		if _, err := ParseClock(in); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("ParseClock(%q): want ErrInvalidTime, got %v", in, err)
		}
	}
	if _, err := ParseClock(""); !errors.Is(err, ErrEmptyTime) {
		t.Fatalf("want ErrEmptyTime, got %v", err)
	}
}

func TestClockTime_Format(t *testing.T) {
	c := ClockTime{Hour: 7, Minute: 5}
	if c.String() != "07:05" {
		t.Fatalf("want 07:05, got %s", c.String())
	}
	if c.CronSpec() != "5 7 * * *" {
		t.Fatalf("want cron spec \"5 7 * * *\", got %q", c.CronSpec())
	}
}

func TestParseCategory(t *testing.T) {
	for _, in := range []string{"morning", "Evening", " CARE "} {
		if _, err := ParseCategory(in); err != nil {
			t.Fatalf("ParseCategory(%q): %v", in, err)
		}
	}
	if _, err := ParseCategory("all"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("want ErrUnknownCategory, got %v", err)
	}
}

func TestValidateTZ(t *testing.T) {
	if tz, err := ValidateTZ("Asia/Shanghai"); err != nil || tz != "Asia/Shanghai" {
		t.Fatalf("unexpected: %q %v", tz, err)
	}
	if _, err := ValidateTZ("Mars/Olympus"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
	for _, tz := range []string{"", "  ", "Local"} {
		if _, err := ValidateTZ(tz); !errors.Is(err, ErrInvalidTZ) {
			t.Fatalf("ValidateTZ(%q): want ErrInvalidTZ, got %v", tz, err)
		}
	}
}
