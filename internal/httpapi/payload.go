package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jialangli/emotion-companion/internal/domain"
)

// scheduleView is the JSON shape of a stored config.
type scheduleView struct {
	UserID        string     `json:"user_id"`
	Timezone      string     `json:"timezone"`
	EnableMorning bool       `json:"enable_morning"`
	MorningTime   string     `json:"morning_time"`
	EnableEvening bool       `json:"enable_evening"`
	EveningTime   string     `json:"evening_time"`
	EnableCare    bool       `json:"enable_care"`
	CareTime      string     `json:"care_time"`
	LastPushDate  *string    `json:"last_push_date"`
	LastActiveAt  *time.Time `json:"last_active_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func newScheduleView(c *domain.ScheduleConfig) scheduleView {
	return scheduleView{
		UserID:        c.UserID,
		Timezone:      c.Timezone,
		EnableMorning: c.Morning.Enabled,
		MorningTime:   c.Morning.Time.String(),
		EnableEvening: c.Evening.Enabled,
		EveningTime:   c.Evening.Time.String(),
		EnableCare:    c.Care.Enabled,
		CareTime:      c.Care.Time.String(),
		LastPushDate:  c.LastPushDate,
		LastActiveAt:  c.LastActiveAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

var (
	errMissingUser = errors.New("missing user_id")
	errNoFields    = errors.New("no valid fields to update")
)

// parseSchedulePatch reads user_id and the allowed preference fields from body.
// Unknown fields are ignored.
func parseSchedulePatch(body []byte) (string, domain.SchedulePatch, error) {
	var patch domain.SchedulePatch
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", patch, fmt.Errorf("invalid json: %w", err)
	}

	var userID string
	if v, ok := raw["user_id"]; ok {
		if err := json.Unmarshal(v, &userID); err != nil {
			return "", patch, errors.New("user_id must be a string")
		}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", patch, errMissingUser
	}

	if v, ok := raw["timezone"]; ok {
		var tz string
		if err := json.Unmarshal(v, &tz); err != nil {
			return userID, patch, errors.New("timezone must be a string")
		}
		canon, err := domain.ValidateTZ(tz)
		if err != nil || canon == "" {
			return userID, patch, fmt.Errorf("invalid timezone %q", tz)
		}
		patch.Timezone = &canon
	}

	for _, cat := range domain.Categories {
		if v, ok := raw["enable_"+cat.String()]; ok {
			on, err := parseFlexBool(v)
			if err != nil {
				return userID, patch, fmt.Errorf("enable_%s: %w", cat, err)
			}
			patch.SetEnabled(cat, on)
		}
		if v, ok := raw[cat.String()+"_time"]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return userID, patch, fmt.Errorf("%s_time must be a string", cat)
			}
			at, err := domain.ParseClock(s)
			if err != nil {
				return userID, patch, fmt.Errorf("%s_time: %w", cat, err)
			}
			patch.SetTime(cat, at)
		}
	}

	if patch.Empty() {
		return userID, patch, errNoFields
	}
	return userID, patch, nil
}

// parseFlexBool accepts true/false, 0/1 and their string forms.
func parseFlexBool(v json.RawMessage) (bool, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return false, errors.New("expected a boolean")
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b, nil
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		switch n {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return false, fmt.Errorf("expected 0 or 1, got %v", n)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", s)
		}
		return b, nil
	}
	return false, errors.New("expected a boolean")
}
