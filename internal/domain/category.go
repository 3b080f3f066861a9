package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCategory = errors.New("unknown category")

// Category is one of the recurring notification kinds.
type Category string

const (
	Morning Category = "morning"
	Evening Category = "evening"
	Care    Category = "care"
)

// Categories lists every category in a fixed order.
var Categories = []Category{Morning, Evening, Care}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Morning, Evening, Care:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func (c Category) String() string { return string(c) }
