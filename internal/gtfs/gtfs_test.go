package gtfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFeed(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"08:00:00", 28800, false},
		{"00:00:00", 0, false},
		{" 8:05:09", 29109, false},
		{"25:30:00", 91800, false},
		{"", 0, true},
		{"08:00", 0, true},
		{"aa:00:00", 0, true},
		{"08:-1:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTime)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "08:15:00", FormatClock(29700))
	assert.Equal(t, "25:30:00", FormatClock(91800))
	assert.Equal(t, "-00:01:00", FormatClock(-60))
}

func TestRequirementFiles(t *testing.T) {
	assert.Equal(t, []string{StopsFile, TripsFile, StopTimesFile}, Requirement{}.Files())
	assert.Equal(t,
		[]string{StopsFile, TripsFile, StopTimesFile, CalendarFile, CalendarDatesFile},
		Requirement{Calendar: true, CalendarDates: true}.Files())
}

func TestLoadDir_MissingFiles(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		StopsFile: "stop_id,stop_name,stop_lat,stop_lon\n",
		TripsFile: "route_id,service_id,trip_id\n",
	})
	feed, err := LoadDir(dir, Requirement{Calendar: true}, 10, discardLogger())
	require.Error(t, err)
	assert.Nil(t, feed)
	assert.True(t, errors.Is(err, ErrMissingFiles))

	var mfe *MissingFilesError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, []string{StopTimesFile, CalendarFile}, mfe.Missing)
	assert.Contains(t, err.Error(), "calendar.txt")
}

func TestLoadDir(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		StopsFile: "\xef\xbb\xbfstop_id,stop_name,stop_lat,stop_lon,zone_id\n" +
			"A,Alpha,45.5,-122.6,1\n" +
			"B,Beta,bad,-122.7,1\n",
		TripsFile: "route_id,service_id,trip_id\nR1,WK,T1\n",
		StopTimesFile: "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,A,1\n" +
			"T1,08:10:00,08:10:00,B,x\n" +
			"T1,xx,08:20:00,C,3\n",
		CalendarFile: "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20150101,20151231\n",
	})
	feed, err := LoadDir(dir, Requirement{Calendar: true}, 10, discardLogger())
	require.NoError(t, err)

	require.Len(t, feed.Stops, 1)
	assert.Equal(t, Stop{StopID: "A", StopName: "Alpha", StopLat: 45.5, StopLon: -122.6}, feed.Stops["A"])
	assert.Equal(t, "R1", feed.Trips["T1"].RouteID)

	// a bad sequence keeps the row; a bad time survives as a raw string
	require.Len(t, feed.StopTimes, 3)
	assert.Equal(t, "B", feed.StopTimes[1].StopID)
	assert.Equal(t, 0, feed.StopTimes[1].StopSequence)
	assert.Equal(t, "xx", feed.StopTimes[2].ArrivalTime)
	assert.Equal(t, 3, feed.StopTimes[2].StopSequence)

	require.Len(t, feed.Calendar, 1)
	assert.Equal(t, "1", feed.Calendar[0].Day("friday"))
	assert.Equal(t, "0", feed.Calendar[0].Day("sunday"))
	assert.Empty(t, feed.CalendarDates)
	assert.False(t, feed.HasTransfers)
}

func TestLoadDir_RowLogsAreBounded(t *testing.T) {
	stops := "stop_id,stop_name,stop_lat,stop_lon\n"
	seqs := "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n"
	for i := 0; i < 7; i++ {
		stops += fmt.Sprintf("S%d,Bad,north,0\n", i)
		seqs += fmt.Sprintf("T1,08:00:00,08:00:00,S%d,seq%d\n", i, i)
	}
	dir := writeFeed(t, map[string]string{
		StopsFile:     stops,
		TripsFile:     "route_id,service_id,trip_id\nR1,WK,T1\n",
		StopTimesFile: seqs,
		CalendarFile:  "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n",
	})
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	feed, err := LoadDir(dir, Requirement{Calendar: true}, 3, logger)
	require.NoError(t, err)
	assert.Empty(t, feed.Stops)
	assert.Len(t, feed.StopTimes, 7)

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, `"msg":"skipping row"`))
	assert.Equal(t, 3, strings.Count(out, `"msg":"unparsable stop_sequence, keeping row"`))
	assert.Contains(t, out, `"msg":"rows skipped","file":"stops.txt","count":7`)
}

func TestLoadDir_OptionalTransfers(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		StopsFile:         "stop_id,stop_name,stop_lat,stop_lon\nA,Alpha,0,0\n",
		TripsFile:         "route_id,service_id,trip_id\n",
		StopTimesFile:     "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n",
		CalendarDatesFile: "service_id,date,exception_type\nWK,20151113,1\n",
		TransfersFile:     "from_stop_id,to_stop_id,transfer_type\nA,B,0\n",
	})
	feed, err := LoadDir(dir, Requirement{CalendarDates: true}, 10, discardLogger())
	require.NoError(t, err)
	assert.True(t, feed.HasTransfers)
	assert.Equal(t, []Transfer{{FromStopID: "A", ToStopID: "B", TransferType: "0"}}, feed.Transfers)
	assert.Equal(t, []CalendarDate{{ServiceID: "WK", Date: "20151113", ExceptionType: "1"}}, feed.CalendarDates)
}

func TestWriteTransfers(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTransfers(&buf, []Transfer{{FromStopID: "A", ToStopID: "B", TransferType: "0"}})
	require.NoError(t, err)
	assert.Equal(t, "from_stop_id,to_stop_id,transfer_type\nA,B,0\n", buf.String())
}
