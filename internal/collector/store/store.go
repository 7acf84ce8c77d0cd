package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-reading.sql
var getLatestReadingSQL string

//go:embed sql/get-recent-readings.sql
var getRecentReadingsSQL string

//go:embed sql/count-readings.sql
var countReadingsSQL string

// Reading is one stored report. Channels the node did not send are nil.
type Reading struct {
	ID          int64     `json:"id"`
	StationID   string    `json:"stationId"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	WindSpeed   *float64  `json:"windSpeed"`
	NoiseLevel  *float64  `json:"noiseLevel"`
	Timestamp   time.Time `json:"timestamp"`
}

type Repository interface {
	InsertReading(ctx context.Context, r Reading) (int64, error)
	// LatestReading returns nil, nil when nothing has been stored yet.
	LatestReading(ctx context.Context) (*Reading, error)
	// RecentReadings returns up to limit readings, oldest first.
	RecentReadings(ctx context.Context, limit int) ([]Reading, error)
	CountReadings(ctx context.Context) (int, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertReading(ctx context.Context, rd Reading) (int64, error) {
	ts := rd.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := r.db.ExecContext(ctx, insertReadingSQL,
		rd.StationID,
		nullable(rd.Temperature),
		nullable(rd.Humidity),
		nullable(rd.WindSpeed),
		nullable(rd.NoiseLevel),
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return res.LastInsertId()
}

func (r *repositoryImpl) LatestReading(ctx context.Context) (*Reading, error) {
	rd, err := scanReading(r.db.QueryRowContext(ctx, getLatestReadingSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

func (r *repositoryImpl) RecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, getRecentReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	out := []Reading{}
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (r *repositoryImpl) CountReadings(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countReadingsSQL).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (Reading, error) {
	var (
		rd                  Reading
		temp, hum, wind, no sql.NullFloat64
		ts                  string
	)
	if err := s.Scan(&rd.ID, &rd.StationID, &temp, &hum, &wind, &no, &ts); err != nil {
		return Reading{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Reading{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	rd.Timestamp = t
	rd.Temperature = fromNull(temp)
	rd.Humidity = fromNull(hum)
	rd.WindSpeed = fromNull(wind)
	rd.NoiseLevel = fromNull(no)
	return rd, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}
