package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const maxUnixTime int64 = 32503680000 // 3000-01-01T00:00:00Z

// ErrNoStationPeriod is returned when no catalog period covers a lookup.
var ErrNoStationPeriod = errors.New("no station period covers the requested time")

// ErrPeriodOverlap is returned when a period would overlap an existing one
// for the same station.
var ErrPeriodOverlap = errors.New("station period overlaps an existing period")

// StationPeriod is one validity range of a station's metadata.
// ValidTo nil means open ended.
type StationPeriod struct {
	ID            int64
	StationID     string
	Name          string
	SCCCode       string
	Latitude      float64
	Longitude     float64
	Altitude      float64
	SystemIDDay   int
	SystemIDNight int
	ChannelIDs    []int
	ValidFrom     time.Time
	ValidTo       *time.Time
	FetchedAt     time.Time
	Source        string
}

// Covers reports whether at lies inside [ValidFrom, ValidTo).
func (p *StationPeriod) Covers(at time.Time) bool {
	if at.Before(p.ValidFrom) {
		return false
	}
	return p.ValidTo == nil || at.Before(*p.ValidTo)
}

func validateStationPeriod(p *StationPeriod) error {
	if strings.TrimSpace(p.StationID) == "" {
		return fmt.Errorf("station id is required")
	}
	if p.ValidFrom.IsZero() {
		return fmt.Errorf("valid_from is required")
	}
	if p.ValidTo != nil && !p.ValidTo.After(p.ValidFrom) {
		return fmt.Errorf("valid_to must be after valid_from")
	}
	for _, v := range []float64{p.Latitude, p.Longitude, p.Altitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("station coordinates must be finite numbers")
		}
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90 degrees")
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180 degrees")
	}
	return nil
}

// SaveStationPeriod inserts p, or replaces the period of the same station
// starting at the same instant. Any other overlap is rejected.
func (db *DB) SaveStationPeriod(ctx context.Context, p *StationPeriod) error {
	if err := validateStationPeriod(p); err != nil {
		return err
	}
	channels, err := json.Marshal(p.ChannelIDs)
	if err != nil {
		return fmt.Errorf("failed to encode channel ids: %w", err)
	}
	if p.ChannelIDs == nil {
		channels = []byte("[]")
	}
	if p.FetchedAt.IsZero() {
		p.FetchedAt = time.Now()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureNoOverlap(ctx, tx, p); err != nil {
		return err
	}

	var validTo sql.NullInt64
	if p.ValidTo != nil {
		validTo = sql.NullInt64{Int64: p.ValidTo.Unix(), Valid: true}
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO station_periods (
			station_id, name, scc_code, latitude, longitude, altitude,
			system_id_day, system_id_night, channel_ids,
			valid_from_unix, valid_to_unix, fetched_at_unix, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_id, valid_from_unix) DO UPDATE SET
			name = excluded.name,
			scc_code = excluded.scc_code,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			system_id_day = excluded.system_id_day,
			system_id_night = excluded.system_id_night,
			channel_ids = excluded.channel_ids,
			valid_to_unix = excluded.valid_to_unix,
			fetched_at_unix = excluded.fetched_at_unix,
			source = excluded.source
		RETURNING id`,
		p.StationID, p.Name, p.SCCCode, p.Latitude, p.Longitude, p.Altitude,
		p.SystemIDDay, p.SystemIDNight, string(channels),
		p.ValidFrom.Unix(), validTo, p.FetchedAt.Unix(), p.Source,
	)
	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("failed to save station period: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit station period: %w", err)
	}
	return nil
}

func ensureNoOverlap(ctx context.Context, tx *sql.Tx, p *StationPeriod) error {
	endUnix := maxUnixTime
	if p.ValidTo != nil {
		endUnix = p.ValidTo.Unix()
	}

	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM station_periods
		WHERE station_id = ?
		  AND valid_from_unix != ?
		  AND ? < COALESCE(valid_to_unix, ?)
		  AND ? > valid_from_unix
	`, p.StationID, p.ValidFrom.Unix(), p.ValidFrom.Unix(), maxUnixTime, endUnix).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check station period overlap: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: station %s from %s", ErrPeriodOverlap, p.StationID, p.ValidFrom.UTC().Format(time.RFC3339))
	}
	return nil
}

const stationPeriodColumns = `
	id, station_id, name, scc_code, latitude, longitude, altitude,
	system_id_day, system_id_night, channel_ids,
	valid_from_unix, valid_to_unix, fetched_at_unix, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStationPeriod(s rowScanner) (*StationPeriod, error) {
	var (
		p                  StationPeriod
		channels           string
		validFrom, fetched int64
		validTo            sql.NullInt64
	)
	if err := s.Scan(&p.ID, &p.StationID, &p.Name, &p.SCCCode, &p.Latitude, &p.Longitude, &p.Altitude,
		&p.SystemIDDay, &p.SystemIDNight, &channels, &validFrom, &validTo, &fetched, &p.Source); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channels), &p.ChannelIDs); err != nil {
		return nil, fmt.Errorf("failed to decode channel ids of period %d: %w", p.ID, err)
	}
	p.ValidFrom = time.Unix(validFrom, 0).UTC()
	if validTo.Valid {
		t := time.Unix(validTo.Int64, 0).UTC()
		p.ValidTo = &t
	}
	p.FetchedAt = time.Unix(fetched, 0).UTC()
	return &p, nil
}

// FindStationPeriod returns the period of stationID covering at.
func (db *DB) FindStationPeriod(ctx context.Context, stationID string, at time.Time) (*StationPeriod, error) {
	row := db.QueryRowContext(ctx, `SELECT `+stationPeriodColumns+`
		FROM station_periods
		WHERE station_id = ?
		  AND valid_from_unix <= ?
		  AND ? < COALESCE(valid_to_unix, ?)
		ORDER BY valid_from_unix DESC
		LIMIT 1`, stationID, at.Unix(), at.Unix(), maxUnixTime)

	p, err := scanStationPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: station %s at %s", ErrNoStationPeriod, stationID, at.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find station period: %w", err)
	}
	return p, nil
}

// ListStationPeriods returns every period, optionally limited to one
// station, ordered by station then start.
func (db *DB) ListStationPeriods(ctx context.Context, stationID string) ([]*StationPeriod, error) {
	query := `SELECT ` + stationPeriodColumns + ` FROM station_periods`
	var args []any
	if stationID != "" {
		query += ` WHERE station_id = ?`
		args = append(args, stationID)
	}
	query += ` ORDER BY station_id, valid_from_unix`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list station periods: %w", err)
	}
	defer rows.Close()

	var out []*StationPeriod
	for rows.Next() {
		p, err := scanStationPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan station period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteStationPeriods removes all periods of stationID and reports how many
// were removed.
func (db *DB) DeleteStationPeriods(ctx context.Context, stationID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM station_periods WHERE station_id = ?`, stationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete station periods: %w", err)
	}
	return res.RowsAffected()
}
