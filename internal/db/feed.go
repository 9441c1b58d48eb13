package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gtfs-routeserver/internal/gtfs"
)

// Imported feeds store booleans and enums in several shapes; the queries
// below normalise them to the GTFS text values ("1"/"0", YYYYMMDD, 1/2).
const (
	dayColumn = `CASE WHEN %[1]s::text IN ('1','t','true','available') THEN '1' ELSE '0' END AS %[1]s`

	tripsQuery = `SELECT trip_id, route_id, service_id FROM trips`

	stopTimesQuery = `
SELECT trip_id,
       COALESCE(arrival_time::text, ''),
       COALESCE(departure_time::text, ''),
       stop_id,
       stop_sequence
FROM stop_times
ORDER BY trip_id, stop_sequence`

	calendarDatesQuery = `
SELECT service_id,
       replace(date::text, '-', ''),
       CASE
         WHEN exception_type::text IN ('1','added') THEN '1'
         WHEN exception_type::text IN ('2','removed') THEN '2'
         ELSE exception_type::text
       END
FROM calendar_dates
ORDER BY date, service_id`

	transfersQuery = `
SELECT from_stop_id, to_stop_id, COALESCE(transfer_type::text, '0')
FROM transfers`
)

func calendarQuery() string {
	q := "SELECT service_id"
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		q += ",\n       " + fmt.Sprintf(dayColumn, d)
	}
	return q + `,
       replace(start_date::text, '-', ''),
       replace(end_date::text, '-', '')
FROM calendar`
}

// stopsQuery prefers stop_lat/stop_lon and falls back to a PostGIS stop_loc column.
func stopsQuery(cols map[string]bool) (string, error) {
	if cols["stop_lat"] && cols["stop_lon"] {
		return `SELECT stop_id, COALESCE(stop_name, ''), stop_lat, stop_lon FROM stops`, nil
	}
	if cols["stop_loc"] {
		return `SELECT stop_id, COALESCE(stop_name, ''),
                    ST_Y(stop_loc::geometry), ST_X(stop_loc::geometry)
             FROM stops`, nil
	}
	return "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
}

// LoadFeed reads the GTFS tables of an imported feed database into memory.
// Only the calendar tables named in req are read; transfers are read when the
// table exists. Stops without coordinates are skipped.
func LoadFeed(ctx context.Context, db *sql.DB, req gtfs.Requirement, logger *slog.Logger) (*gtfs.Feed, error) {
	for _, table := range tablesFor(req) {
		ok, err := tableExists(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("check table %s: %w", table, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: table %s", gtfs.ErrMissingFiles, table)
		}
	}

	feed := gtfs.NewFeed()

	cols, err := columnsOf(ctx, db, "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	q, err := stopsQuery(cols)
	if err != nil {
		return nil, err
	}
	skipped := 0
	if err := query(ctx, db, q, func(rows *sql.Rows) error {
		var s gtfs.Stop
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&s.StopID, &s.StopName, &lat, &lon); err != nil {
			return err
		}
		if !lat.Valid || !lon.Valid {
			skipped++
			return nil
		}
		s.StopLat, s.StopLon = lat.Float64, lon.Float64
		feed.Stops[s.StopID] = s
		return nil
	}); err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	if skipped > 0 {
		logger.Warn("stops without coordinates skipped", "count", skipped)
	}

	if err := query(ctx, db, tripsQuery, func(rows *sql.Rows) error {
		var t gtfs.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID); err != nil {
			return err
		}
		feed.Trips[t.TripID] = t
		return nil
	}); err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}

	if err := query(ctx, db, stopTimesQuery, func(rows *sql.Rows) error {
		var st gtfs.StopTime
		if err := rows.Scan(&st.TripID, &st.ArrivalTime, &st.DepartureTime, &st.StopID, &st.StopSequence); err != nil {
			return err
		}
		feed.StopTimes = append(feed.StopTimes, st)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}

	if req.Calendar {
		if err := query(ctx, db, calendarQuery(), func(rows *sql.Rows) error {
			var c gtfs.CalendarEntry
			if err := rows.Scan(&c.ServiceID, &c.Monday, &c.Tuesday, &c.Wednesday, &c.Thursday,
				&c.Friday, &c.Saturday, &c.Sunday, &c.StartDate, &c.EndDate); err != nil {
				return err
			}
			feed.Calendar = append(feed.Calendar, c)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("query calendar: %w", err)
		}
	}

	if req.CalendarDates {
		if err := query(ctx, db, calendarDatesQuery, func(rows *sql.Rows) error {
			var cd gtfs.CalendarDate
			if err := rows.Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType); err != nil {
				return err
			}
			feed.CalendarDates = append(feed.CalendarDates, cd)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("query calendar_dates: %w", err)
		}
	}

	ok, err := tableExists(ctx, db, "transfers")
	if err != nil {
		return nil, fmt.Errorf("check table transfers: %w", err)
	}
	if ok {
		feed.HasTransfers = true
		if err := query(ctx, db, transfersQuery, func(rows *sql.Rows) error {
			var t gtfs.Transfer
			if err := rows.Scan(&t.FromStopID, &t.ToStopID, &t.TransferType); err != nil {
				return err
			}
			feed.Transfers = append(feed.Transfers, t)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("query transfers: %w", err)
		}
	}

	logger.Info("GTFS feed loaded from database",
		"stops", len(feed.Stops),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
		"calendar", len(feed.Calendar),
		"calendar_dates", len(feed.CalendarDates),
		"transfers", len(feed.Transfers),
	)
	return feed, nil
}

// tablesFor lists the tables a feed must have for req.
func tablesFor(req gtfs.Requirement) []string {
	tables := []string{"stops", "trips", "stop_times"}
	if req.Calendar {
		tables = append(tables, "calendar")
	}
	if req.CalendarDates {
		tables = append(tables, "calendar_dates")
	}
	return tables
}

func query(ctx context.Context, db *sql.DB, q string, scan func(*sql.Rows) error, args ...any) error {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
