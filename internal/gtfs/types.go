package gtfs

// Stop is a row of stops.txt. Coordinates are decoded at load time.
type Stop struct {
	StopID   string
	StopName string
	StopLat  float64
	StopLon  float64
}

type Trip struct {
	TripID    string
	RouteID   string
	ServiceID string
}

// StopTime keeps arrival and departure as raw HH:MM:SS strings; conversion
// to seconds happens during graph building so that failures stay row-local.
type StopTime struct {
	TripID        string
	ArrivalTime   string
	DepartureTime string
	StopID        string
	StopSequence  int
}

// CalendarEntry is a row of calendar.txt. Weekday flags are kept as the raw
// column value ("1" means the service runs on that day).
type CalendarEntry struct {
	ServiceID string
	Monday    string
	Tuesday   string
	Wednesday string
	Thursday  string
	Friday    string
	Saturday  string
	Sunday    string
	StartDate string
	EndDate   string
}

// Day returns the flag for a lowercase weekday name, or "" for unknown names.
func (c CalendarEntry) Day(name string) string {
	switch name {
	case "monday":
		return c.Monday
	case "tuesday":
		return c.Tuesday
	case "wednesday":
		return c.Wednesday
	case "thursday":
		return c.Thursday
	case "friday":
		return c.Friday
	case "saturday":
		return c.Saturday
	case "sunday":
		return c.Sunday
	}
	return ""
}

type CalendarDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType string // 1 added, 2 removed
}

type Transfer struct {
	FromStopID   string
	ToStopID     string
	TransferType string
}

// Feed holds the parsed tables of one GTFS snapshot.
type Feed struct {
	Stops         map[string]Stop
	Trips         map[string]Trip
	StopTimes     []StopTime // file order, expected sorted by trip and sequence
	Calendar      []CalendarEntry
	CalendarDates []CalendarDate
	Transfers     []Transfer
	HasTransfers  bool
}

// NewFeed returns an empty feed with initialized maps.
func NewFeed() *Feed {
	return &Feed{
		Stops: make(map[string]Stop),
		Trips: make(map[string]Trip),
	}
}
