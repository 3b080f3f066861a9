package domain

import "time"

// DefaultTimezone is the label stored for users who never set one.
const DefaultTimezone = "Asia/Shanghai"

// Default trigger times for a freshly created config.
var (
	DefaultMorning = ClockTime{Hour: 8, Minute: 30}
	DefaultEvening = ClockTime{Hour: 22, Minute: 0}
	DefaultCare    = ClockTime{Hour: 18, Minute: 0}
)

// Slot is a single category toggle with its daily trigger time.
type Slot struct {
	Enabled bool
	Time    ClockTime
}

// ScheduleConfig is a user's notification preferences.
// Timezone is stored and returned but triggers use the service-wide clock.
type ScheduleConfig struct {
	UserID       string
	Timezone     string
	Morning      Slot
	Evening      Slot
	Care         Slot
	LastPushDate *string    // YYYY-MM-DD, nullable
	LastActiveAt *time.Time // UTC, nullable
	CreatedAt    time.Time  // UTC
	UpdatedAt    time.Time  // UTC
}

// NewScheduleConfig returns a config with every category enabled at its default time.
func NewScheduleConfig(userID string) ScheduleConfig {
	return ScheduleConfig{
		UserID:   userID,
		Timezone: DefaultTimezone,
		Morning:  Slot{Enabled: true, Time: DefaultMorning},
		Evening:  Slot{Enabled: true, Time: DefaultEvening},
		Care:     Slot{Enabled: true, Time: DefaultCare},
	}
}

// Slot returns the toggle for category c.
func (c *ScheduleConfig) Slot(cat Category) Slot {
	switch cat {
	case Morning:
		return c.Morning
	case Evening:
		return c.Evening
	case Care:
		return c.Care
	}
	return Slot{}
}

func (c *ScheduleConfig) slotPtr(cat Category) *Slot {
	switch cat {
	case Morning:
		return &c.Morning
	case Evening:
		return &c.Evening
	case Care:
		return &c.Care
	}
	return nil
}

// AnyEnabled reports whether at least one category is on.
func (c *ScheduleConfig) AnyEnabled() bool {
	return c.Morning.Enabled || c.Evening.Enabled || c.Care.Enabled
}

// SchedulePatch carries the fields of a partial preference update.
// Nil fields are left untouched.
type SchedulePatch struct {
	Timezone *string
	Enabled  map[Category]bool
	Times    map[Category]ClockTime
}

// Empty reports whether the patch changes nothing.
func (p SchedulePatch) Empty() bool {
	return p.Timezone == nil && len(p.Enabled) == 0 && len(p.Times) == 0
}

// SetEnabled records a toggle change.
func (p *SchedulePatch) SetEnabled(cat Category, on bool) {
	if p.Enabled == nil {
		p.Enabled = make(map[Category]bool, len(Categories))
	}
	p.Enabled[cat] = on
}

// SetTime records a trigger time change.
func (p *SchedulePatch) SetTime(cat Category, t ClockTime) {
	if p.Times == nil {
		p.Times = make(map[Category]ClockTime, len(Categories))
	}
	p.Times[cat] = t
}

// Apply writes the patch onto c.
func (p SchedulePatch) Apply(c *ScheduleConfig) {
	if p.Timezone != nil {
		c.Timezone = *p.Timezone
	}
	for cat, on := range p.Enabled {
		if s := c.slotPtr(cat); s != nil {
			s.Enabled = on
		}
	}
	for cat, t := range p.Times {
		if s := c.slotPtr(cat); s != nil {
			s.Time = t
		}
	}
}

// DisablePatch turns off one category, or every category when cat is empty.
func DisablePatch(cat Category) SchedulePatch {
	var p SchedulePatch
	if cat == "" {
		for _, c := range Categories {
			p.SetEnabled(c, false)
		}
		return p
	}
	p.SetEnabled(cat, false)
	return p
}
