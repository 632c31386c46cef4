package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/BartekS5/moviesync/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	minPersonModifiedQuery = `
		SELECT MIN(p.modified)
		FROM movies_person p`

	changedPersonIDsQuery = `
		SELECT p.id::text
		FROM movies_person p
		WHERE p.modified >= $1
		ORDER BY p.modified`

	changedWorkIDsQuery = `
		SELECT fw.id::text
		FROM (
			SELECT DISTINCT fw.id, fw.modified
			FROM movies_filmwork fw
			LEFT JOIN movies_cast c ON c.film_work_id = fw.id
			WHERE fw.modified >= $1 OR c.person_id::text = ANY($2::text[])
		) fw
		ORDER BY fw.modified, fw.id`

	fetchWorksQuery = `
		SELECT
			fw.id::text,
			fw.title,
			fw.description,
			fw.rating::float8,
			fw.modified,
			ARRAY_AGG(DISTINCT g.genre) FILTER (WHERE g.genre IS NOT NULL),
			ARRAY_AGG(DISTINCT CONCAT(p.first_name, ' ', p.last_name)) FILTER (WHERE r.role = 'actor'),
			ARRAY_AGG(DISTINCT CONCAT(p.first_name, ' ', p.last_name)) FILTER (WHERE r.role = 'director'),
			ARRAY_AGG(DISTINCT CONCAT(p.first_name, ' ', p.last_name)) FILTER (WHERE r.role = 'writer')
		FROM movies_filmwork fw
		LEFT JOIN movies_filmwork_genres fg ON fg.filmwork_id = fw.id
		LEFT JOIN movies_genre g ON g.id = fg.genre_id
		LEFT JOIN movies_cast c ON c.film_work_id = fw.id
		LEFT JOIN movies_person p ON p.id = c.person_id
		LEFT JOIN movies_role r ON r.id = c.role_id
		WHERE fw.id::text = ANY($1::text[])
		GROUP BY fw.id, fw.title, fw.description, fw.rating, fw.modified
		ORDER BY fw.modified, fw.id`
)

// PostgresSource reads film works, persons and genres from a pgx pool.
type PostgresSource struct {
	pool *pgxpool.Pool
}

var _ Source = (*PostgresSource)(nil)

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Open acquires one pooled connection; Close on the session releases it.
func (s *PostgresSource) Open(ctx context.Context) (Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (s *pgSession) MinPersonModified(ctx context.Context) (*time.Time, error) {
	var oldest *time.Time
	if err := s.conn.QueryRow(ctx, minPersonModifiedQuery).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("query min person modified: %w", err)
	}
	return oldest, nil
}

func (s *pgSession) ChangedPersonIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.conn.Query(ctx, changedPersonIDsQuery, since)
	if err != nil {
		return nil, fmt.Errorf("query changed persons: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan changed persons: %w", err)
	}
	return ids, nil
}

func (s *pgSession) ChangedWorkIDs(ctx context.Context, since time.Time, personIDs []string) ([]string, error) {
	if personIDs == nil {
		personIDs = []string{}
	}
	rows, err := s.conn.Query(ctx, changedWorkIDsQuery, since, personIDs)
	if err != nil {
		return nil, fmt.Errorf("query changed film works: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan changed film works: %w", err)
	}
	return ids, nil
}

func (s *pgSession) FetchWorks(ctx context.Context, ids []string) ([]models.SourceRow, error) {
	rows, err := s.conn.Query(ctx, fetchWorksQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("query film works: %w", err)
	}
	defer rows.Close()

	out := make([]models.SourceRow, 0, len(ids))
	for rows.Next() {
		var r models.SourceRow
		if err := rows.Scan(
			&r.ID, &r.Title, &r.Description, &r.Rating, &r.Modified,
			&r.Genres, &r.Actors, &r.Directors, &r.Writers,
		); err != nil {
			return nil, fmt.Errorf("scan film work: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read film works: %w", err)
	}
	return out, nil
}

func (s *pgSession) Close() {
	s.conn.Release()
}

// IsTransientSourceError reports connectivity and operational failures
// that are worth retrying against Postgres.
func IsTransientSourceError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08": // connection exception
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03", pgErr.Code == "53300":
			return true
		}
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
