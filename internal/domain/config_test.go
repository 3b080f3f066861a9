package domain

import "testing"

func TestNewScheduleConfig_Defaults(t *testing.T) {
	c := NewScheduleConfig("u1")
	if c.Timezone != DefaultTimezone {
		t.Fatalf("want tz %s, got %s", DefaultTimezone, c.Timezone)
	}
	if !c.Morning.Enabled || c.Morning.Time != DefaultMorning {
		t.Fatalf("unexpected morning slot: %+v", c.Morning)
	}
	if !c.Care.Enabled || c.Care.Time.String() != "18:00" {
		t.Fatalf("unexpected care slot: %+v", c.Care)
	}
}

func TestSchedulePatch_Apply(t *testing.T) {
	c := NewScheduleConfig("u1")
	tz := "Europe/Moscow"

	var p SchedulePatch
	p.Timezone = &tz
	p.SetEnabled(Morning, false)
	p.SetTime(Care, ClockTime{Hour: 19, Minute: 15})
	p.Apply(&c)

	if c.Timezone != tz {
		t.Fatalf("timezone not applied")
	}
	if c.Morning.Enabled {
		t.Fatalf("morning should be disabled")
	}
	if c.Morning.Time != DefaultMorning {
		t.Fatalf("morning time should be untouched")
	}
	if got := c.Slot(Care); !got.Enabled || got.Time.String() != "19:15" {
		t.Fatalf("unexpected care slot: %+v", got)
	}
}

func TestDisablePatch(t *testing.T) {
	c := NewScheduleConfig("u1")
	DisablePatch(Evening).Apply(&c)
	if c.Evening.Enabled || !c.Morning.Enabled || !c.Care.Enabled {
		t.Fatalf("only evening should be off: %+v", c)
	}

	DisablePatch("").Apply(&c)
	if c.AnyEnabled() {
		t.Fatalf("all categories should be off")
	}
}

func TestSchedulePatch_Empty(t *testing.T) {
	var p SchedulePatch
	if !p.Empty() {
		t.Fatalf("zero patch should be empty")
	}
	p.SetEnabled(Care, true)
	if p.Empty() {
		t.Fatalf("patch with a toggle is not empty")
	}
}
