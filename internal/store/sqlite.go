package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/haloview/tvbrain/internal/types"
	"github.com/haloview/tvbrain/internal/vector"
)

// timeLayout is fixed-width so lexicographic order of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	metaSyncVersion = "sync_version"
	metaLastSyncAt  = "last_sync_at"
)

// SQLiteStore is the SQLite-backed pattern database.
type SQLiteStore struct {
	db *sql.DB
}

var _ PatternStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Pragmas ride the DSN so every pooled connection gets them;
	// busy_timeout in particular is per-connection.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreatePattern stores a new pattern seeded from a single observation.
func (s *SQLiteStore) CreatePattern(ctx context.Context, embedding []float32, reward float64, tag string) (*types.Pattern, error) {
	now := time.Now().UTC()
	p := types.Pattern{
		ID:          ulid.Make().String(),
		Embedding:   embedding,
		SuccessRate: reward,
		SampleCount: 1,
		Tag:         tag,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, embedding, success_rate, sample_count, tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, vector.PackEmbedding(embedding), p.SuccessRate, p.SampleCount, p.Tag,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert pattern: %w", err)
	}

	return &p, nil
}

// GetPattern retrieves a single pattern by ID.
func (s *SQLiteStore) GetPattern(ctx context.Context, id string) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, embedding, success_rate, sample_count, tag, created_at, updated_at
		FROM patterns WHERE id = ?
	`, id)

	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ObservePattern folds a new reward into the pattern's running success rate.
// The update is an incremental mean, rate' = rate + (reward - rate) / (n + 1),
// computed inside a single UPDATE so concurrent observations of the same
// pattern never lose samples.
func (s *SQLiteStore) ObservePattern(ctx context.Context, id string, reward float64) (*types.Pattern, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE patterns
		SET success_rate = success_rate + (? - success_rate) / (sample_count + 1),
		    sample_count = sample_count + 1,
		    updated_at = ?
		WHERE id = ?
	`, reward, now.Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("update pattern: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.GetPattern(ctx, id)
}

// AllPatterns returns every stored pattern, used to rebuild the vector
// index on startup.
func (s *SQLiteStore) AllPatterns(ctx context.Context) ([]types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, success_rate, sample_count, tag, created_at, updated_at
		FROM patterns
	`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// QualitySnapshot returns the patterns eligible for sharing with the
// aggregator, ordered by descending quality.
func (s *SQLiteStore) QualitySnapshot(ctx context.Context, minRate float64, minSamples uint64) ([]types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, success_rate, sample_count, tag, created_at, updated_at
		FROM patterns
		WHERE success_rate >= ? AND sample_count >= ?
		ORDER BY success_rate DESC, sample_count DESC
	`, minRate, minSamples)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// MergeGlobal upserts aggregator patterns into the local store. An incoming
// pattern replaces an existing one only when it carries a strictly higher
// success rate, or the same rate with more samples. Re-applying the same
// batch is a no-op.
func (s *SQLiteStore) MergeGlobal(ctx context.Context, patterns []types.Pattern) (int, error) {
	if len(patterns) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	merged := 0
	now := time.Now().UTC().Format(timeLayout)

	for _, p := range patterns {
		var rate float64
		var count uint64
		err := tx.QueryRowContext(ctx,
			"SELECT success_rate, sample_count FROM patterns WHERE id = ?", p.ID,
		).Scan(&rate, &count)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			createdAt := p.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO patterns (id, embedding, success_rate, sample_count, tag, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, p.ID, vector.PackEmbedding(p.Embedding), p.SuccessRate, p.SampleCount, p.Tag,
				createdAt.Format(timeLayout), now)
			if err != nil {
				return 0, fmt.Errorf("insert merged pattern: %w", err)
			}
			merged++

		case err != nil:
			return 0, fmt.Errorf("read existing pattern: %w", err)

		case p.SuccessRate > rate || (p.SuccessRate == rate && p.SampleCount > count):
			_, err = tx.ExecContext(ctx, `
				UPDATE patterns SET embedding = ?, success_rate = ?, sample_count = ?, tag = ?, updated_at = ?
				WHERE id = ?
			`, vector.PackEmbedding(p.Embedding), p.SuccessRate, p.SampleCount, p.Tag, now, p.ID)
			if err != nil {
				return 0, fmt.Errorf("update merged pattern: %w", err)
			}
			merged++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return merged, nil
}

// EvictOldest removes least-recently-updated patterns until at most max
// remain, returning the IDs of the removed rows. Candidate choice and
// deletion happen in one statement, so a pattern observed while eviction
// runs is re-ranked instead of being removed on stale ordering.
func (s *SQLiteStore) EvictOldest(ctx context.Context, max int) ([]string, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count <= max {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM patterns
		WHERE id IN (
			SELECT id FROM patterns ORDER BY updated_at ASC, id ASC LIMIT ?
		)
		RETURNING id
	`, count-max)
	if err != nil {
		return nil, fmt.Errorf("evict patterns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored patterns.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns").Scan(&count)
	return count, err
}

// UpsertTrends replaces trend signals keyed by content ID.
func (s *SQLiteStore) UpsertTrends(ctx context.Context, trends []types.TrendSignal) error {
	if len(trends) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trend_signals (content_id, score, region, genre, calculated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			score = excluded.score,
			region = excluded.region,
			genre = excluded.genre,
			calculated_at = excluded.calculated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trends {
		_, err := stmt.ExecContext(ctx, t.ContentID, t.Score, t.Region, t.Genre,
			t.CalculatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("upsert trend %s: %w", t.ContentID, err)
		}
	}

	return tx.Commit()
}

// FreshTrends returns signals calculated within the freshness window,
// strongest first.
func (s *SQLiteStore) FreshTrends(ctx context.Context, now time.Time) ([]types.TrendSignal, error) {
	cutoff := now.UTC().Add(-types.TrendMaxAge).Format(timeLayout)

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_id, score, region, genre, calculated_at
		FROM trend_signals
		WHERE calculated_at > ?
		ORDER BY score DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	defer rows.Close()

	var trends []types.TrendSignal
	for rows.Next() {
		var t types.TrendSignal
		var calc string
		if err := rows.Scan(&t.ContentID, &t.Score, &t.Region, &t.Genre, &calc); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(timeLayout, calc); err == nil {
			t.CalculatedAt = ts
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

// PruneTrends deletes signals older than the freshness window.
func (s *SQLiteStore) PruneTrends(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-types.TrendMaxAge).Format(timeLayout)

	res, err := s.db.ExecContext(ctx, "DELETE FROM trend_signals WHERE calculated_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune trends: %w", err)
	}
	return res.RowsAffected()
}

// SyncVersion returns the local sync version counter, zero when never synced.
func (s *SQLiteStore) SyncVersion(ctx context.Context) (uint64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", metaSyncVersion,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var v uint64
	if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
		return 0, fmt.Errorf("parse sync version %q: %w", value, err)
	}
	return v, nil
}

// SetSyncVersion records the local sync version counter.
func (s *SQLiteStore) SetSyncVersion(ctx context.Context, version uint64) error {
	return s.setMeta(ctx, metaSyncVersion, fmt.Sprintf("%d", version))
}

// LastSyncAt returns when the last successful sync completed, zero time
// when never synced.
func (s *SQLiteStore) LastSyncAt(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", metaLastSyncAt,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(timeLayout, value)
}

// SetLastSyncAt records the completion time of a successful sync.
func (s *SQLiteStore) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaLastSyncAt, t.UTC().Format(timeLayout))
}

func (s *SQLiteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Stats returns aggregate store statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(success_rate), 0), COALESCE(SUM(sample_count), 0)
		FROM patterns
	`).Scan(&stats.PatternCount, &stats.AvgSuccessRate, &stats.TotalSamples)
	if err != nil {
		return nil, fmt.Errorf("pattern stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trend_signals").Scan(&stats.TrendCount)
	if err != nil {
		return nil, fmt.Errorf("trend stats: %w", err)
	}

	if stats.SyncVersion, err = s.SyncVersion(ctx); err != nil {
		return nil, err
	}
	if stats.LastSyncAt, err = s.LastSyncAt(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

// scanPattern scans a row into a Pattern, unpacking the embedding BLOB.
func scanPattern(scanner interface{ Scan(...any) error }) (*types.Pattern, error) {
	var p types.Pattern
	var blob []byte
	var createdAt, updatedAt string

	err := scanner.Scan(&p.ID, &blob, &p.SuccessRate, &p.SampleCount, &p.Tag, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Embedding = vector.UnpackEmbedding(blob)

	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		p.UpdatedAt = t
	}

	return &p, nil
}

func collectPatterns(rows *sql.Rows) ([]types.Pattern, error) {
	var patterns []types.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *p)
	}
	return patterns, rows.Err()
}
