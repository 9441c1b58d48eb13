package gtfs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	StopsFile         = "stops.txt"
	TripsFile         = "trips.txt"
	StopTimesFile     = "stop_times.txt"
	CalendarFile      = "calendar.txt"
	CalendarDatesFile = "calendar_dates.txt"
	TransfersFile     = "transfers.txt"
)

// ErrMissingFiles is matched by errors.Is on a *MissingFilesError.
var ErrMissingFiles = errors.New("required GTFS files missing")

type MissingFilesError struct {
	Dir      string
	Required []string
	Missing  []string
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("%s: %s missing %s (required: %s)",
		ErrMissingFiles, e.Dir, strings.Join(e.Missing, ", "), strings.Join(e.Required, ", "))
}

func (e *MissingFilesError) Is(target error) bool { return target == ErrMissingFiles }

// Requirement selects which calendar tables a build needs besides the
// always-required stops, trips and stop_times.
type Requirement struct {
	Calendar      bool
	CalendarDates bool
}

// Files lists the required file names in a stable order.
func (r Requirement) Files() []string {
	files := []string{StopsFile, TripsFile, StopTimesFile}
	if r.Calendar {
		files = append(files, CalendarFile)
	}
	if r.CalendarDates {
		files = append(files, CalendarDatesFile)
	}
	return files
}

// CheckDir verifies that every required file exists in dir.
func CheckDir(dir string, req Requirement) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read feed dir: %w", err)
	}
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			present[e.Name()] = true
		}
	}
	required := req.Files()
	var missing []string
	for _, f := range required {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MissingFilesError{Dir: dir, Required: required, Missing: missing}
	}
	return nil
}

// LoadDir parses the GTFS tables in dir. Nothing is read unless every
// required file is present. transfers.txt is optional.
func LoadDir(dir string, req Requirement, maxRowLogs int, logger *slog.Logger) (*Feed, error) {
	if err := CheckDir(dir, req); err != nil {
		return nil, err
	}
	l := &tableLoader{dir: dir, logger: logger, maxLogs: maxRowLogs}
	feed := NewFeed()

	if err := l.read(StopsFile, func(r row) error {
		lat, err := strconv.ParseFloat(r.get("stop_lat"), 64)
		if err != nil {
			return err
		}
		lon, err := strconv.ParseFloat(r.get("stop_lon"), 64)
		if err != nil {
			return err
		}
		id := r.get("stop_id")
		feed.Stops[id] = Stop{StopID: id, StopName: r.get("stop_name"), StopLat: lat, StopLon: lon}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := l.read(TripsFile, func(r row) error {
		id := r.get("trip_id")
		feed.Trips[id] = Trip{TripID: id, RouteID: r.get("route_id"), ServiceID: r.get("service_id")}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := l.read(StopTimesFile, func(r row) error {
		seq, err := strconv.Atoi(r.get("stop_sequence"))
		if err != nil {
			// Nothing downstream orders by sequence; keep the visit.
			l.warn(StopTimesFile, r, "unparsable stop_sequence, keeping row", err)
			seq = 0
		}
		feed.StopTimes = append(feed.StopTimes, StopTime{
			TripID:        r.get("trip_id"),
			ArrivalTime:   r.get("arrival_time"),
			DepartureTime: r.get("departure_time"),
			StopID:        r.get("stop_id"),
			StopSequence:  seq,
		})
		return nil
	}); err != nil {
		return nil, err
	}

	if req.Calendar {
		if err := l.read(CalendarFile, func(r row) error {
			feed.Calendar = append(feed.Calendar, CalendarEntry{
				ServiceID: r.get("service_id"),
				Monday:    r.get("monday"),
				Tuesday:   r.get("tuesday"),
				Wednesday: r.get("wednesday"),
				Thursday:  r.get("thursday"),
				Friday:    r.get("friday"),
				Saturday:  r.get("saturday"),
				Sunday:    r.get("sunday"),
				StartDate: r.get("start_date"),
				EndDate:   r.get("end_date"),
			})
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if req.CalendarDates {
		if err := l.read(CalendarDatesFile, func(r row) error {
			feed.CalendarDates = append(feed.CalendarDates, CalendarDate{
				ServiceID:     r.get("service_id"),
				Date:          r.get("date"),
				ExceptionType: r.get("exception_type"),
			})
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(filepath.Join(dir, TransfersFile)); err == nil {
		feed.HasTransfers = true
		if err := l.read(TransfersFile, func(r row) error {
			feed.Transfers = append(feed.Transfers, Transfer{
				FromStopID:   r.get("from_stop_id"),
				ToStopID:     r.get("to_stop_id"),
				TransferType: r.get("transfer_type"),
			})
			return nil
		}); err != nil {
			return nil, err
		}
	}

	logger.Info("GTFS feed parsed",
		"dir", dir,
		"stops", len(feed.Stops),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
		"calendar", len(feed.Calendar),
		"calendar_dates", len(feed.CalendarDates),
		"transfers", len(feed.Transfers),
	)
	return feed, nil
}

// ReadStops parses a single stops table, used by the transfer generator.
func ReadStops(path string, logger *slog.Logger) (map[string]Stop, error) {
	l := &tableLoader{dir: filepath.Dir(path), logger: logger, maxLogs: 10}
	stops := make(map[string]Stop)
	err := l.read(filepath.Base(path), func(r row) error {
		lat, err := strconv.ParseFloat(r.get("stop_lat"), 64)
		if err != nil {
			return err
		}
		lon, err := strconv.ParseFloat(r.get("stop_lon"), 64)
		if err != nil {
			return err
		}
		id := r.get("stop_id")
		stops[id] = Stop{StopID: id, StopName: r.get("stop_name"), StopLat: lat, StopLon: lon}
		return nil
	})
	return stops, err
}

// WriteTransfers writes a transfers.txt table.
func WriteTransfers(w io.Writer, transfers []Transfer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"from_stop_id", "to_stop_id", "transfer_type"}); err != nil {
		return err
	}
	for _, t := range transfers {
		if err := cw.Write([]string{t.FromStopID, t.ToStopID, t.TransferType}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type tableLoader struct {
	dir     string
	logger  *slog.Logger
	maxLogs int
	logged  map[string]int
}

type row struct {
	index  map[string]int
	record []string
	line   int
}

func (r row) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// warn logs a row problem in file name. At most maxLogs are logged per file.
func (l *tableLoader) warn(name string, r row, msg string, err error) {
	if l.logged == nil {
		l.logged = make(map[string]int)
	}
	if l.logged[name] >= l.maxLogs {
		return
	}
	l.logged[name]++
	l.logger.Warn(msg, "file", name, "line", r.line, "error", err)
}

// read streams name row by row into fn. Rows for which fn fails are logged
// (up to maxLogs per file) and skipped.
func (l *tableLoader) read(name string, fn func(row) error) error {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s header: %w", name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\xef\xbb\xbf")
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		r := row{index: index, record: record, line: line}
		if err := fn(r); err != nil {
			l.warn(name, r, "skipping row", err)
			skipped++
		}
	}
	if skipped > 0 {
		l.logger.Warn("rows skipped", "file", name, "count", skipped)
	}
	return nil
}
