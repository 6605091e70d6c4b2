package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"approvalflow/internal/approval/models"
	"approvalflow/pkg/platform/sentinel"
)

const configColumns = `module_name, service_name, endpoint_path, levels, conditions,
	default_timeout_hours, enabled, created_at, updated_at`

// Upsert inserts cfg or replaces the definition of an existing key. The
// enabled flag only changes through SetEnabled.
func (s *Store) Upsert(ctx context.Context, cfg *models.Configuration) (*models.Configuration, error) {
	levels, err := json.Marshal(cfg.Levels)
	if err != nil {
		return nil, fmt.Errorf("marshal levels: %w", err)
	}
	conditions := cfg.Conditions
	if conditions == nil {
		conditions = models.Conditions{}
	}
	conds, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}

	query := `
		INSERT INTO approval_configurations (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (module_name, service_name) DO UPDATE SET
			endpoint_path = EXCLUDED.endpoint_path,
			levels = EXCLUDED.levels,
			conditions = EXCLUDED.conditions,
			default_timeout_hours = EXCLUDED.default_timeout_hours,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + configColumns
	row := s.execer(ctx).QueryRowContext(ctx, query,
		cfg.ModuleName, cfg.ServiceName, cfg.EndpointPath, string(levels), string(conds),
		cfg.DefaultTimeoutHours, cfg.Enabled, cfg.CreatedAt, cfg.UpdatedAt,
	)
	stored, err := scanConfiguration(row)
	if err != nil {
		return nil, fmt.Errorf("upsert configuration: %w", err)
	}
	return stored, nil
}

func (s *Store) Find(ctx context.Context, module, service string) (*models.Configuration, error) {
	query := `SELECT ` + configColumns + ` FROM approval_configurations WHERE module_name = $1 AND service_name = $2`
	cfg, err := scanConfiguration(s.execer(ctx).QueryRowContext(ctx, query, module, service))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find configuration: %w", err)
	}
	return cfg, nil
}

func (s *Store) List(ctx context.Context) ([]*models.Configuration, error) {
	query := `SELECT ` + configColumns + ` FROM approval_configurations ORDER BY module_name, service_name`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Configuration, 0)
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configurations: %w", err)
	}
	return out, nil
}

func (s *Store) SetEnabled(ctx context.Context, module, service string, enabled bool, now time.Time) error {
	query := `UPDATE approval_configurations SET enabled = $3, updated_at = $4 WHERE module_name = $1 AND service_name = $2`
	res, err := s.execer(ctx).ExecContext(ctx, query, module, service, enabled, now)
	if err != nil {
		return fmt.Errorf("set configuration enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set configuration enabled: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanConfiguration(row scanner) (*models.Configuration, error) {
	var (
		cfg    models.Configuration
		levels []byte
		conds  []byte
	)
	if err := row.Scan(
		&cfg.ModuleName, &cfg.ServiceName, &cfg.EndpointPath, &levels, &conds,
		&cfg.DefaultTimeoutHours, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(levels, &cfg.Levels); err != nil {
		return nil, fmt.Errorf("unmarshal levels: %w", err)
	}
	if len(conds) > 0 {
		dec := json.NewDecoder(bytes.NewReader(conds))
		dec.UseNumber()
		if err := dec.Decode(&cfg.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	if len(cfg.Conditions) == 0 {
		cfg.Conditions = nil
	}
	return &cfg, nil
}
