// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/tokenwatch/internal/sqlitedriver"
)

// Store persists alert history to SQLite. Uses WAL mode for concurrent
// read/write access. The engine works without one; history then lives only
// in memory.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewStore opens (or creates) the alert history database at dbPath.
func NewStore(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the alert tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		triggered_at INTEGER NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT,
		values_json TEXT,
		acknowledged INTEGER DEFAULT 0,
		acknowledged_by TEXT,
		acknowledged_at INTEGER DEFAULT 0,
		resolved INTEGER DEFAULT 0,
		resolved_at INTEGER DEFAULT 0,
		resolution TEXT,
		escalation_level INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at);

	CREATE TABLE IF NOT EXISTS alert_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL,
		executed_at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		duration_ms INTEGER DEFAULT 0,
		FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_alert_actions_alert_id ON alert_actions(alert_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveAlert inserts or replaces one alert instance with its action records.
func (s *Store) SaveAlert(ctx context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valuesJSON, err := json.Marshal(inst.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal metric values: %w", err)
	}

	var ackAt, resolvedAt int64
	if inst.AcknowledgedAt != nil {
		ackAt = inst.AcknowledgedAt.Unix()
	}
	if inst.ResolvedAt != nil {
		resolvedAt = inst.ResolvedAt.Unix()
	}

	query := `
		INSERT OR REPLACE INTO alerts (
			id, rule_id, triggered_at, severity, title, message, values_json,
			acknowledged, acknowledged_by, acknowledged_at,
			resolved, resolved_at, resolution, escalation_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		inst.ID,
		inst.RuleID,
		inst.Timestamp.Unix(),
		string(inst.Severity),
		inst.Title,
		inst.Message,
		string(valuesJSON),
		boolToInt(inst.Acknowledged),
		inst.AcknowledgedBy,
		ackAt,
		boolToInt(inst.Resolved),
		resolvedAt,
		inst.Resolution,
		inst.EscalationLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}

	// Action records are append-only; rewrite the set to stay consistent
	// with the instance on repeated saves.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM alert_actions WHERE alert_id = ?", inst.ID); err != nil {
		return fmt.Errorf("failed to clear action records: %w", err)
	}
	for _, a := range inst.Actions {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO alert_actions (alert_id, executed_at, kind, success, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			inst.ID, a.Timestamp.Unix(), string(a.Kind), boolToInt(a.Success), a.Error,
			a.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save action record: %w", err)
		}
	}
	return nil
}

// History returns alerts triggered after the cutoff, newest first.
func (s *Store) History(ctx context.Context, since time.Time, limit int) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, rule_id, triggered_at, severity, title, message, values_json,
		       acknowledged, acknowledged_by, acknowledged_at,
		       resolved, resolved_at, resolution, escalation_level
		FROM alerts
		WHERE triggered_at >= ?
		ORDER BY triggered_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	instances := make([]*Instance, 0)
	for rows.Next() {
		var (
			inst        Instance
			triggeredAt int64
			valuesJSON  sql.NullString
			message     sql.NullString
			ackBy       sql.NullString
			ackAt       int64
			resolvedAt  int64
			resolution  sql.NullString
			acked       int
			resolved    int
		)
		err := rows.Scan(
			&inst.ID,
			&inst.RuleID,
			&triggeredAt,
			&inst.Severity,
			&inst.Title,
			&message,
			&valuesJSON,
			&acked,
			&ackBy,
			&ackAt,
			&resolved,
			&resolvedAt,
			&resolution,
			&inst.EscalationLevel,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		inst.Timestamp = time.Unix(triggeredAt, 0)
		inst.Message = message.String
		inst.Acknowledged = acked != 0
		inst.AcknowledgedBy = ackBy.String
		if ackAt > 0 {
			t := time.Unix(ackAt, 0)
			inst.AcknowledgedAt = &t
		}
		inst.Resolved = resolved != 0
		if resolvedAt > 0 {
			t := time.Unix(resolvedAt, 0)
			inst.ResolvedAt = &t
		}
		inst.Resolution = resolution.String
		inst.Escalated = inst.EscalationLevel > 0
		if valuesJSON.Valid && valuesJSON.String != "" {
			if err := json.Unmarshal([]byte(valuesJSON.String), &inst.Values); err != nil {
				s.logger.Error("Failed to unmarshal metric values for alert",
					zap.String("alert_id", inst.ID),
					zap.Error(err))
			}
		}
		instances = append(instances, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return instances, nil
}

// PruneOlderThan deletes alerts triggered before the cutoff and returns the
// number removed. Action records go with them via the cascade.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Foreign-key enforcement varies by driver build; delete action records
	// explicitly rather than lean on the cascade.
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM alert_actions WHERE alert_id IN (SELECT id FROM alerts WHERE triggered_at < ?)",
		cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune action records: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM alerts WHERE triggered_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
