package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
	"FiveSBot/internal/fingerprint"
	"FiveSBot/internal/ports"
)

// PostgresStore persists the ledger tables in Postgres. Each append is one
// INSERT, so atomicity comes from the database rather than from file
// renames.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.LedgerStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB and ensures the schema exists.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			business_day TEXT NOT NULL,
			exact_hash TEXT NOT NULL,
			perceptual_hash BIGINT,
			channel_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS submissions_entity_day_idx
			ON submissions (entity_id, business_day)`,
		`CREATE TABLE IF NOT EXISTS stale_uses (
			business_day TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			original_day TEXT NOT NULL,
			exact_hash TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Load reads both tables into a LedgerState.
func (s *PostgresStore) Load(ctx context.Context) (domain.LedgerState, error) {
	records, err := s.loadSubmissions(ctx)
	if err != nil {
		return domain.LedgerState{}, err
	}
	staleUses, err := s.loadStaleUses(ctx)
	if err != nil {
		return domain.LedgerState{}, err
	}
	return domain.LedgerState{Records: records, StaleUses: staleUses}, nil
}

func (s *PostgresStore) loadSubmissions(ctx context.Context) ([]domain.SubmissionRecord, error) {
	query, args, err := s.builder.
		Select("id", "entity_id", "business_day", "exact_hash", "perceptual_hash",
			"channel_id", "user_id", "submitted_at").
		From("submissions").
		OrderBy("submitted_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build submissions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var records []domain.SubmissionRecord
	for rows.Next() {
		var (
			rec   domain.SubmissionRecord
			day   string
			phash sql.NullInt64
			at    time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.EntityID, &day, &rec.ExactHash, &phash,
			&rec.ChannelID, &rec.UserID, &at); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if rec.Day, err = busday.ParseDay(day); err != nil {
			return nil, fmt.Errorf("submission %s: %w", rec.ID, err)
		}
		if phash.Valid {
			h := fingerprint.PHash(uint64(phash.Int64))
			rec.Perceptual = &h
		}
		rec.Timestamp = at
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) loadStaleUses(ctx context.Context) (map[busday.Day][]domain.StaleUse, error) {
	query, args, err := s.builder.
		Select("business_day", "entity_id", "original_day", "exact_hash").
		From("stale_uses").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale uses query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale uses: %w", err)
	}
	defer rows.Close()

	staleUses := map[busday.Day][]domain.StaleUse{}
	for rows.Next() {
		var (
			use      domain.StaleUse
			day      string
			original string
		)
		if err := rows.Scan(&day, &use.EntityID, &original, &use.ExactHash); err != nil {
			return nil, fmt.Errorf("scan stale use: %w", err)
		}
		parsedDay, err := busday.ParseDay(day)
		if err != nil {
			return nil, fmt.Errorf("stale use day: %w", err)
		}
		if use.OriginalDay, err = busday.ParseDay(original); err != nil {
			return nil, fmt.Errorf("stale use original day: %w", err)
		}
		staleUses[parsedDay] = append(staleUses[parsedDay], use)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale uses: %w", err)
	}
	return staleUses, nil
}

// AppendSubmission inserts one submission row.
func (s *PostgresStore) AppendSubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	var phash sql.NullInt64
	if rec.Perceptual != nil {
		phash = sql.NullInt64{Int64: int64(uint64(*rec.Perceptual)), Valid: true}
	}

	query, args, err := s.builder.
		Insert("submissions").
		Columns("id", "entity_id", "business_day", "exact_hash", "perceptual_hash",
			"channel_id", "user_id", "submitted_at").
		Values(rec.ID, rec.EntityID, rec.Day.String(), rec.ExactHash, phash,
			rec.ChannelID, rec.UserID, rec.Timestamp).
		ToSql()
	if err != nil {
		return fmt.Errorf("build submission insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// AppendStaleUse inserts one stale-use row.
func (s *PostgresStore) AppendStaleUse(ctx context.Context, day busday.Day, use domain.StaleUse) error {
	query, args, err := s.builder.
		Insert("stale_uses").
		Columns("business_day", "entity_id", "original_day", "exact_hash").
		Values(day.String(), use.EntityID, use.OriginalDay.String(), use.ExactHash).
		ToSql()
	if err != nil {
		return fmt.Errorf("build stale use insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert stale use: %w", err)
	}
	return nil
}
