// Package calendar resolves which service_ids operate on a requested day.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gtfs-routeserver/internal/gtfs"
)

// DateLayout is the GTFS date format.
const DateLayout = "20060102"

type Policy int

const (
	// Weekday uses calendar.txt only.
	Weekday Policy = iota + 1
	// DateException uses calendar_dates.txt only; a service runs iff it was added for the date.
	DateException
	// Merged starts from the weekday set and applies the date's exceptions.
	Merged
)

func (p Policy) String() string {
	switch p {
	case Weekday:
		return "weekday"
	case DateException:
		return "date"
	case Merged:
		return "merged"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the policy names and the numeric selectors 1, 2, 3.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekday", "calendar", "1":
		return Weekday, nil
	case "date", "calendar_dates", "date-exception", "2":
		return DateException, nil
	case "merged", "both", "3":
		return Merged, nil
	}
	return 0, fmt.Errorf("unknown calendar policy %q", s)
}

// Requirement reports which calendar tables the policy reads.
func (p Policy) Requirement() gtfs.Requirement {
	return gtfs.Requirement{
		Calendar:      p == Weekday || p == Merged,
		CalendarDates: p == DateException || p == Merged,
	}
}

// Request selects the policy and the day it is evaluated for. Day is a
// lowercase weekday name, Date is YYYYMMDD.
type Request struct {
	Policy Policy
	Date   string
	Day    string
}

type ServiceSet map[string]struct{}

func (s ServiceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the service ids in sorted order.
func (s ServiceSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DayOf returns the lowercase weekday name of a YYYYMMDD date.
func DayOf(date string) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid service date %q: %w", date, err)
	}
	return strings.ToLower(t.Weekday().String()), nil
}

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// Resolve computes the set of services active for req.
func Resolve(feed *gtfs.Feed, req Request) (ServiceSet, error) {
	switch req.Policy {
	case Weekday:
		if !weekdays[req.Day] {
			return nil, fmt.Errorf("invalid service day %q", req.Day)
		}
		return byWeekday(feed.Calendar, req.Day), nil
	case DateException:
		if req.Date == "" {
			return nil, fmt.Errorf("date policy requires a service date")
		}
		set := make(ServiceSet)
		for _, cd := range feed.CalendarDates {
			if cd.Date == req.Date && cd.ExceptionType == "1" {
				set[cd.ServiceID] = struct{}{}
			}
		}
		return set, nil
	case Merged:
		if !weekdays[req.Day] {
			return nil, fmt.Errorf("invalid service day %q", req.Day)
		}
		set := byWeekday(feed.Calendar, req.Day)
		for _, cd := range feed.CalendarDates {
			if cd.Date != req.Date {
				continue
			}
			switch cd.ExceptionType {
			case "1":
				set[cd.ServiceID] = struct{}{}
			case "2":
				delete(set, cd.ServiceID)
			}
			// other exception types are ignored
		}
		return set, nil
	}
	return nil, fmt.Errorf("unknown calendar policy %v", req.Policy)
}

func byWeekday(entries []gtfs.CalendarEntry, day string) ServiceSet {
	set := make(ServiceSet)
	for _, c := range entries {
		if c.Day(day) == "1" {
			set[c.ServiceID] = struct{}{}
		}
	}
	return set
}
