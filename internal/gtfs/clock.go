package gtfs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadTime is returned by ParseClock for values that are not H:MM:SS.
var ErrBadTime = errors.New("malformed GTFS time")

// ParseClock converts a GTFS HH:MM:SS value to seconds since local midnight.
// Hours may exceed 23 for trips running past midnight; the result is a plain
// integer and is never wrapped.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadTime, s)
		}
		v[i] = n
	}
	return v[0]*3600 + v[1]*60 + v[2], nil
}

// FormatClock renders seconds since midnight as HH:MM:SS without wrapping at 24h.
func FormatClock(sec int) string {
	sign := ""
	if sec < 0 {
		sign = "-"
		sec = -sec
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, sec/3600, (sec%3600)/60, sec%60)
}
