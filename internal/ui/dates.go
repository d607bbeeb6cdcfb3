package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDate reads a calendar day from user input relative to now. It accepts
// YYYY-MM-DD as well as phrases such as "tomorrow" or "next friday". The
// result is midnight UTC of that day.
func ParseDate(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return day(now), nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t, nil
	}

	r, err := dateParser.Parse(input, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q (use YYYY-MM-DD or e.g. \"tomorrow\")", input)
	}
	return day(r.Time), nil
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
