// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/runnerchat/internal/telemetry"
	"github.com/jeranaias/runnerchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrDatabaseError wraps every SQLite failure.
var ErrDatabaseError = errors.New("database error")

// =============================================================================
// RECORDS
// =============================================================================

// MetricsRecord is a stored metrics report.
type MetricsRecord struct {
	telemetry.MetricsReport
	ReceivedAt time.Time `json:"received_at"`
}

// ErrorRecord is a stored error report.
type ErrorRecord struct {
	telemetry.ErrorReport
}

// Summary aggregates everything stored.
type Summary struct {
	TotalRequests         int64           `json:"total_requests"`
	TotalErrors           int64           `json:"total_errors"`
	ErrorRate             float64         `json:"error_rate"`
	AvgResponseTimeMs     float64         `json:"avg_response_time_ms"`
	AvgTimeToFirstTokenMs float64         `json:"avg_time_to_first_token_ms"`
	AvgTokensOut          float64         `json:"avg_tokens_out"`
	Recent                []MetricsRecord `json:"recent"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed metrics log. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		path = util.ExpandHome(path)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordMetrics stores a metrics report received at receivedAt.
func (s *Store) RecordMetrics(ctx context.Context, r telemetry.MetricsReport, receivedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_metrics
			(message_id, tokens_in, tokens_out, response_time_ms, time_to_first_token_ms, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.MessageID, r.TokensIn, r.TokensOut, r.ResponseTimeMs, r.TimeToFirstTokenMs, receivedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// RecordError stores an error report.
func (s *Store) RecordError(ctx context.Context, r telemetry.ErrorReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_errors (error_type, status_code, input_length, occurred_at)
		VALUES (?, ?, ?, ?)
	`, string(r.ErrorType), r.StatusCode, r.InputLength, r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Recent returns up to limit metrics records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]MetricsRecord, error) {
	if limit <= 0 {
		return []MetricsRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, tokens_in, tokens_out, response_time_ms, time_to_first_token_ms, received_at
		FROM request_metrics
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	records := []MetricsRecord{}
	for rows.Next() {
		var rec MetricsRecord
		var receivedMs int64
		if err := rows.Scan(
			&rec.MessageID,
			&rec.TokensIn,
			&rec.TokensOut,
			&rec.ResponseTimeMs,
			&rec.TimeToFirstTokenMs,
			&receivedMs,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.ReceivedAt = time.UnixMilli(receivedMs).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return records, nil
}

// RecentErrors returns up to limit error records, newest first.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	if limit <= 0 {
		return []ErrorRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT error_type, status_code, input_length, occurred_at
		FROM request_errors
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	records := []ErrorRecord{}
	for rows.Next() {
		var rec ErrorRecord
		var errType string
		var occurredMs int64
		if err := rows.Scan(&errType, &rec.StatusCode, &rec.InputLength, &occurredMs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.ErrorType = telemetry.ErrorType(errType)
		rec.Timestamp = time.UnixMilli(occurredMs).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return records, nil
}

// Summary aggregates all stored reports and attaches the recentLimit newest
// metrics records.
func (s *Store) Summary(ctx context.Context, recentLimit int) (Summary, error) {
	var sum Summary
	var avgResp, avgTTFT, avgOut sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(response_time_ms), AVG(time_to_first_token_ms), AVG(tokens_out)
		FROM request_metrics
	`).Scan(&sum.TotalRequests, &avgResp, &avgTTFT, &avgOut)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_errors`).Scan(&sum.TotalErrors); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	sum.AvgResponseTimeMs = avgResp.Float64
	sum.AvgTimeToFirstTokenMs = avgTTFT.Float64
	sum.AvgTokensOut = avgOut.Float64
	if attempts := sum.TotalRequests + sum.TotalErrors; attempts > 0 {
		sum.ErrorRate = float64(sum.TotalErrors) / float64(attempts)
	}

	sum.Recent, err = s.Recent(ctx, recentLimit)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Prune deletes reports older than before and returns how many rows went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	cutoff := before.UnixMilli()
	var total int64
	for _, q := range []string{
		"DELETE FROM request_metrics WHERE received_at < ?",
		"DELETE FROM request_errors WHERE occurred_at < ?",
	} {
		res, err := tx.ExecContext(ctx, q, cutoff)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return total, nil
}
