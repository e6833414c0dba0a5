package product

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
)

const containerSchema = `
	CREATE TABLE attributes (
		position INTEGER PRIMARY KEY,
		name     TEXT NOT NULL UNIQUE,
		value    TEXT NOT NULL
	);
	CREATE TABLE channels (
		channel_index       INTEGER PRIMARY KEY,
		channel_id          INTEGER NOT NULL,
		id_timescale        INTEGER NOT NULL DEFAULT 0,
		background_low      DOUBLE  NOT NULL,
		background_high     DOUBLE  NOT NULL,
		lr_input            INTEGER NOT NULL DEFAULT 1,
		pol_calib_range_min DOUBLE,
		pol_calib_range_max DOUBLE
	);
	CREATE TABLE windows (
		window_index      INTEGER PRIMARY KEY,
		start_unix_ms     INTEGER NOT NULL,
		stop_unix_ms      INTEGER NOT NULL,
		raw_start_time_s  INTEGER NOT NULL,
		raw_stop_time_s   INTEGER NOT NULL,
		row_count         INTEGER NOT NULL,
		empty             INTEGER NOT NULL,
		laser_shots       INTEGER NOT NULL
	);
	CREATE TABLE window_values (
		window_index  INTEGER NOT NULL REFERENCES windows(window_index),
		channel_index INTEGER NOT NULL REFERENCES channels(channel_index),
		value         DOUBLE,
		PRIMARY KEY (window_index, channel_index)
	);
	CREATE TABLE provenance (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Fixed per-channel settings the SCC expects.
const (
	backgroundLow  = 0.0
	backgroundHigh = 249.0
)

type channelRow struct {
	id          int
	calibration *[2]float64
}

func openContainer(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// writeContainer creates the schema in the empty database at path and fills it.
func writeContainer(ctx context.Context, path string, attrs []Attribute, channels []channelRow, windows []align.Window, prov Provenance) (err error) {
	conn, err := openContainer(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, containerSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	for i, a := range attrs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO attributes (position, name, value) VALUES (?, ?, ?)`, i, a.Name, a.Value); err != nil {
			return fmt.Errorf("insert attribute %s: %w", a.Name, err)
		}
	}

	for i, ch := range channels {
		var calMin, calMax sql.NullFloat64
		if ch.calibration != nil {
			calMin = sql.NullFloat64{Float64: ch.calibration[0], Valid: true}
			calMax = sql.NullFloat64{Float64: ch.calibration[1], Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channels (channel_index, channel_id, background_low, background_high, pol_calib_range_min, pol_calib_range_max)
			VALUES (?, ?, ?, ?, ?, ?)`, i, ch.id, backgroundLow, backgroundHigh, calMin, calMax); err != nil {
			return fmt.Errorf("insert channel %d: %w", i, err)
		}
	}

	insertWindow, err := tx.PrepareContext(ctx, `
		INSERT INTO windows (window_index, start_unix_ms, stop_unix_ms, raw_start_time_s, raw_stop_time_s, row_count, empty, laser_shots)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertWindow.Close()
	insertValue, err := tx.PrepareContext(ctx, `INSERT INTO window_values (window_index, channel_index, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertValue.Close()

	origin := windows[0].Start
	for _, w := range windows {
		if _, err := insertWindow.ExecContext(ctx, w.Index, w.Start.UnixMilli(), w.Stop.UnixMilli(),
			int64(w.Start.Sub(origin)/time.Second), int64(w.Stop.Sub(origin)/time.Second),
			w.RowCount, w.Empty, int64(w.LaserShots)); err != nil {
			return fmt.Errorf("insert window %d: %w", w.Index, err)
		}
		for c, v := range w.Values {
			// fill values are stored as NULL
			var value sql.NullFloat64
			if !math.IsNaN(v) {
				value = sql.NullFloat64{Float64: v, Valid: true}
			}
			if _, err := insertValue.ExecContext(ctx, w.Index, c, value); err != nil {
				return fmt.Errorf("insert value %d/%d: %w", w.Index, c, err)
			}
		}
	}

	for _, kv := range [][2]string{
		{"source_files", strings.Join(prov.SourceFiles, ",")},
		{"processed_at", prov.ProcessedAt.UTC().Format(time.RFC3339Nano)},
		{"pipeline_version", prov.PipelineVersion},
		{"run_id", prov.RunID},
	} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO provenance (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("insert provenance %s: %w", kv[0], err)
		}
	}

	return tx.Commit()
}

// ReadAttributes returns the global attributes of the container at path,
// in the order they were written.
func ReadAttributes(path string) ([]Attribute, error) {
	conn, err := openContainer(path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.Query(`SELECT name, value FROM attributes ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("read attributes of %s: %w", path, err)
	}
	defer rows.Close()

	var attrs []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// ReadProvenance returns the provenance block of the container at path.
func ReadProvenance(path string) (Provenance, error) {
	conn, err := openContainer(path)
	if err != nil {
		return Provenance{}, err
	}
	defer conn.Close()

	rows, err := conn.Query(`SELECT key, value FROM provenance`)
	if err != nil {
		return Provenance{}, fmt.Errorf("read provenance of %s: %w", path, err)
	}
	defer rows.Close()

	var prov Provenance
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Provenance{}, err
		}
		switch k {
		case "source_files":
			if v != "" {
				prov.SourceFiles = strings.Split(v, ",")
			}
		case "processed_at":
			prov.ProcessedAt, err = time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return Provenance{}, fmt.Errorf("bad processed_at %q: %w", v, err)
			}
		case "pipeline_version":
			prov.PipelineVersion = v
		case "run_id":
			prov.RunID = v
		}
	}
	return prov, rows.Err()
}

// ReadWindows returns the windows stored in the container at path. Stored
// NULL values come back as align.FillValue.
func ReadWindows(path string) ([]align.Window, error) {
	conn, err := openContainer(path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var channels int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM channels`).Scan(&channels); err != nil {
		return nil, fmt.Errorf("count channels of %s: %w", path, err)
	}

	rows, err := conn.Query(`SELECT window_index, start_unix_ms, stop_unix_ms, row_count, empty, laser_shots FROM windows ORDER BY window_index`)
	if err != nil {
		return nil, fmt.Errorf("read windows of %s: %w", path, err)
	}
	var windows []align.Window
	for rows.Next() {
		var (
			w           align.Window
			start, stop int64
			shots       int64
		)
		if err := rows.Scan(&w.Index, &start, &stop, &w.RowCount, &w.Empty, &shots); err != nil {
			rows.Close()
			return nil, err
		}
		w.Start = time.UnixMilli(start).UTC()
		w.Stop = time.UnixMilli(stop).UTC()
		w.LaserShots = uint64(shots)
		w.Values = make([]float64, channels)
		windows = append(windows, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	values, err := conn.Query(`SELECT window_index, channel_index, value FROM window_values`)
	if err != nil {
		return nil, fmt.Errorf("read values of %s: %w", path, err)
	}
	defer values.Close()
	for values.Next() {
		var (
			wi, ci int
			v      sql.NullFloat64
		)
		if err := values.Scan(&wi, &ci, &v); err != nil {
			return nil, err
		}
		if wi < 0 || wi >= len(windows) || ci < 0 || ci >= channels {
			return nil, fmt.Errorf("value %d/%d out of bounds in %s", wi, ci, path)
		}
		windows[wi].Values[ci] = align.FillValue
		if v.Valid {
			windows[wi].Values[ci] = v.Float64
		}
	}
	return windows, values.Err()
}
