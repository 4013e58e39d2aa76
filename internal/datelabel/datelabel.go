// Package datelabel converts between ISO dates (YYYY-MM-DD) and the
// aria-label form the reservation sites expose on calendar cells, e.g.
// "Sunday, March 16, 2025".
package datelabel

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrBadDate is returned for input that is not a legal date in the
// expected form.
var ErrBadDate = errors.New("bad date")

const (
	isoLayout   = "2006-01-02"
	labelLayout = "Monday, January 2, 2006"
)

var isoPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Coder encodes and decodes date labels in a fixed wall-clock zone.
// It is stateless and safe for concurrent use.
type Coder struct {
	loc *time.Location
}

// NewCoder returns a Coder for the named IANA zone.
func NewCoder(zone string) (*Coder, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("datelabel: load zone %q: %w", zone, err)
	}
	return &Coder{loc: loc}, nil
}

// Location returns the coder's zone.
func (c *Coder) Location() *time.Location { return c.loc }

// Encode converts an ISO date to its aria-label form.
// The weekday is computed in the coder's zone.
func (c *Coder) Encode(isoDate string) (string, error) {
	d, err := c.ParseISO(isoDate)
	if err != nil {
		return "", err
	}
	return d.Format(labelLayout), nil
}

// Decode converts an aria-label back to an ISO date.
func (c *Coder) Decode(label string) (string, error) {
	d, err := time.ParseInLocation(labelLayout, label, c.loc)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadDate, label)
	}
	return d.Format(isoLayout), nil
}

// ParseISO parses an ISO date at midnight in the coder's zone.
func (c *Coder) ParseISO(isoDate string) (time.Time, error) {
	if !isoPattern.MatchString(isoDate) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, isoDate)
	}
	d, err := time.ParseInLocation(isoLayout, isoDate, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, isoDate)
	}
	// Reject normalized dates like 2025-02-30.
	if d.Format(isoLayout) != isoDate {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, isoDate)
	}
	return d, nil
}

// Today returns the current date in the coder's zone as YYYY-MM-DD.
func (c *Coder) Today(now time.Time) string {
	return now.In(c.loc).Format(isoLayout)
}

// IsPast reports whether isoDate is strictly before today in the coder's
// zone. A date equal to today is not past.
func (c *Coder) IsPast(isoDate string, now time.Time) (bool, error) {
	d, err := c.ParseISO(isoDate)
	if err != nil {
		return false, err
	}
	today, _ := c.ParseISO(c.Today(now))
	return d.Before(today), nil
}
