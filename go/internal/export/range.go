package export

import (
	"fmt"
	"strings"
	"time"
)

var rangeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02",
	DateLayout,
}

// ParseRange builds a range from two date strings as sent by the console
// date pickers. Dates without a zone are read in loc.
func ParseRange(start, end string, loc *time.Location) (*Range, error) {
	if loc == nil {
		loc = time.Local
	}
	s, err := parseBound(start, loc)
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	e, err := parseBound(end, loc)
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if !e.After(s) {
		return nil, ErrEmptyRange
	}
	return &Range{Start: s, End: e}, nil
}

func parseBound(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range rangeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, v)
}
