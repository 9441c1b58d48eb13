package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-routeserver/internal/gtfs"
)

func testFeed() *gtfs.Feed {
	feed := gtfs.NewFeed()
	feed.Calendar = []gtfs.CalendarEntry{
		{ServiceID: "WK", Monday: "1", Tuesday: "1", Wednesday: "1", Thursday: "1", Friday: "1", Saturday: "0", Sunday: "0"},
		{ServiceID: "SAT", Saturday: "1"},
		{ServiceID: "FRI", Friday: "1"},
	}
	feed.CalendarDates = []gtfs.CalendarDate{
		{ServiceID: "HOL", Date: "20151113", ExceptionType: "1"},
		{ServiceID: "FRI", Date: "20151113", ExceptionType: "2"},
		{ServiceID: "WK", Date: "20151113", ExceptionType: "7"},
		{ServiceID: "SAT", Date: "20151114", ExceptionType: "2"},
		{ServiceID: "XTRA", Date: "20151120", ExceptionType: "1"},
	}
	return feed
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
	}{
		{"weekday", Weekday},
		{"1", Weekday},
		{"date", DateException},
		{"2", DateException},
		{"Merged", Merged},
		{"3", Merged},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ParsePolicy("4")
	assert.Error(t, err)
}

func TestPolicyRequirement(t *testing.T) {
	assert.Equal(t, gtfs.Requirement{Calendar: true}, Weekday.Requirement())
	assert.Equal(t, gtfs.Requirement{CalendarDates: true}, DateException.Requirement())
	assert.Equal(t, gtfs.Requirement{Calendar: true, CalendarDates: true}, Merged.Requirement())
}

func TestDayOf(t *testing.T) {
	day, err := DayOf("20151113")
	require.NoError(t, err)
	assert.Equal(t, "friday", day)

	_, err = DayOf("2015-11-13")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{"weekday friday", Request{Policy: Weekday, Day: "friday"}, []string{"FRI", "WK"}},
		{"weekday saturday", Request{Policy: Weekday, Day: "saturday"}, []string{"SAT"}},
		{"date exceptions only count additions", Request{Policy: DateException, Date: "20151113"}, []string{"HOL"}},
		{"merged adds, removes and ignores unknown types", Request{Policy: Merged, Date: "20151113", Day: "friday"}, []string{"HOL", "WK"}},
		{"merged removal of weekday service", Request{Policy: Merged, Date: "20151114", Day: "saturday"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(testFeed(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.IDs())
		})
	}
}

func TestResolve_MergedWithoutExceptionsEqualsWeekday(t *testing.T) {
	feed := testFeed()
	weekday, err := Resolve(feed, Request{Policy: Weekday, Day: "wednesday"})
	require.NoError(t, err)
	merged, err := Resolve(feed, Request{Policy: Merged, Date: "20151111", Day: "wednesday"})
	require.NoError(t, err)
	assert.Equal(t, weekday, merged)
}

func TestResolve_Invalid(t *testing.T) {
	_, err := Resolve(testFeed(), Request{Policy: Weekday, Day: "funday"})
	assert.Error(t, err)
	_, err = Resolve(testFeed(), Request{Policy: DateException})
	assert.Error(t, err)
	_, err = Resolve(testFeed(), Request{Policy: Policy(9)})
	assert.Error(t, err)
}
