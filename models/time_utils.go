package models

import (
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 calendar date layout every stage expects.
const DateLayout = "2006-01-02"

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// ValidateRange checks that both dates parse and start is not after end.
func ValidateRange(start, end string) error {
	s, err := ParseDate(start)
	if err != nil {
		return err
	}
	e, err := ParseDate(end)
	if err != nil {
		return err
	}
	if s.After(e) {
		return fmt.Errorf("start date %s is after end date %s", start, end)
	}
	return nil
}
