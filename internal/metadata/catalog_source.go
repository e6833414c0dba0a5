package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowQuerier is the subset of pgxpool.Pool used by CatalogSource.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CatalogSource reads station periods from the campaign catalog in
// PostgreSQL. The table mirrors the local catalog's station_periods.
type CatalogSource struct {
	db   rowQuerier
	pool *pgxpool.Pool
}

const catalogLookupSQL = `
	SELECT station_id, name, scc_code, latitude, longitude, altitude,
	       system_id_day, system_id_night, channel_ids, valid_from, valid_to
	FROM station_periods
	WHERE station_id = $1
	  AND valid_from <= $2
	  AND (valid_to IS NULL OR $2 < valid_to)
	ORDER BY valid_from DESC
	LIMIT 1`

// OpenCatalogSource connects to the catalog at dsn.
func OpenCatalogSource(ctx context.Context, dsn string) (*CatalogSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open campaign catalog: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach campaign catalog: %w", err)
	}
	return &CatalogSource{db: pool, pool: pool}, nil
}

// Close releases the connection pool.
func (s *CatalogSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *CatalogSource) Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	var (
		st       Station
		channels []int32
		validTo  *time.Time
	)
	err := s.db.QueryRow(ctx, catalogLookupSQL, stationID, date.UTC()).Scan(
		&st.StationID, &st.Name, &st.SCCCode, &st.Latitude, &st.Longitude, &st.Altitude,
		&st.SystemIDDay, &st.SystemIDNight, &channels, &st.ValidFrom, &validTo,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: station %q not in campaign catalog", ErrNotFound, stationID)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign catalog lookup: %w", err)
	}

	for _, c := range channels {
		st.ChannelIDs = append(st.ChannelIDs, int(c))
	}
	st.ValidFrom = st.ValidFrom.UTC()
	if validTo != nil {
		to := validTo.UTC()
		st.ValidTo = &to
	}
	return &st, nil
}
