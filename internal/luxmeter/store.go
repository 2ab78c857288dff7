package luxmeter

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ztkent/tsl2561-meter/internal/tools"
	"github.com/ztkent/tsl2561-meter/tsl2561"
)

var ErrNoReadings = errors.New("no readings recorded")

// Reading is one completed poll cycle.
type Reading struct {
	SessionID string `json:"sessionID"`
	Iteration int    `json:"iteration"`
	tsl2561.RawReading
	Channel1OK   bool      `json:"channel1OK"`
	Lux          float32   `json:"lux"`
	FullSpectrum float64   `json:"fullSpectrum"`
	Infrared     float64   `json:"infrared"`
	Visible      float64   `json:"visible"`
	Time         time.Time `json:"time"`
}

// Store records readings and twin state in sqlite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, r Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lux_readings
			(session_id, iteration, channel0, channel1, lux, full_spectrum, infrared, visible, channel1_ok, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID,
		r.Iteration,
		r.Channel0,
		r.Channel1,
		float64(r.Lux),
		r.FullSpectrum,
		r.Infrared,
		r.Visible,
		r.Channel1OK,
		r.Time.UTC().Format(tools.LayoutDB),
	)
	return err
}

const readingColumns = `session_id, iteration, channel0, channel1, lux, full_spectrum, infrared, visible, channel1_ok, created_at`

// Latest returns the most recent reading.
func (s *Store) Latest(ctx context.Context) (Reading, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM lux_readings ORDER BY id DESC LIMIT 1`)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, ErrNoReadings
	}
	return r, err
}

// Range returns readings with start <= created_at <= end, oldest first.
// Bounds use the tools.LayoutDB format in UTC.
func (s *Store) Range(ctx context.Context, start, end string) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM lux_readings WHERE created_at BETWEEN ? AND ? ORDER BY created_at, id`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *Store) SaveTwinState(ctx context.Context, property string, value bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO twin_state (property, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(property) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		property, value)
	return err
}

// TwinState returns the last saved value of property; ok is false when it
// was never saved.
func (s *Store) TwinState(ctx context.Context, property string) (value bool, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM twin_state WHERE property = ?`, property).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (Reading, error) {
	var r Reading
	var lux float64
	var createdAt string
	err := row.Scan(
		&r.SessionID,
		&r.Iteration,
		&r.Channel0,
		&r.Channel1,
		&lux,
		&r.FullSpectrum,
		&r.Infrared,
		&r.Visible,
		&r.Channel1OK,
		&createdAt,
	)
	if err != nil {
		return Reading{}, err
	}
	r.Lux = float32(lux)
	if r.Time, err = parseDBTime(createdAt); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// go-sqlite3 hands TIMESTAMP columns back in RFC 3339 when scanned into a
// string, while rows written by hand keep the DB layout.
func parseDBTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(tools.LayoutDB, s)
}

// Summary aggregates the readings between start and end.
type Summary struct {
	Count     int
	AvgLux    float64
	MaxLux    float64
	FirstTime time.Time
	LastTime  time.Time
}

func (s *Store) Summary(ctx context.Context, start, end string) (Summary, error) {
	var sum Summary
	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(AVG(lux), 0),
		COALESCE(MAX(lux), 0),
		MIN(created_at),
		MAX(created_at)
	FROM lux_readings
	WHERE created_at BETWEEN ? AND ?`, start, end).Scan(&sum.Count, &sum.AvgLux, &sum.MaxLux, &first, &last)
	if err != nil {
		return Summary{}, err
	}
	if first.Valid {
		if sum.FirstTime, err = parseDBTime(first.String); err != nil {
			return Summary{}, err
		}
	}
	if last.Valid {
		if sum.LastTime, err = parseDBTime(last.String); err != nil {
			return Summary{}, err
		}
	}
	return sum, nil
}
