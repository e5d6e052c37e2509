package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-cli/internal/identity"
	"github.com/sells-group/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL DEFAULT 'pending',
	options            TEXT NOT NULL,
	total_entities     INTEGER NOT NULL,
	completed_entities INTEGER NOT NULL DEFAULT 0,
	failed_entities    INTEGER NOT NULL DEFAULT 0,
	current_stage      TEXT NOT NULL DEFAULT '',
	errors             TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stage_results (
	id           TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES executions(id),
	entity_ref   TEXT NOT NULL,
	stage        TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entities (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	owner_key    TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	fields       TEXT,
	provenance   TEXT,
	role         TEXT,
	buyer_group  TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_stage_results_execution ON stage_results(execution_id);
CREATE INDEX IF NOT EXISTS idx_entities_owner_kind ON entities(owner_key, kind);
CREATE INDEX IF NOT EXISTS idx_entities_email ON entities(email);
CREATE INDEX IF NOT EXISTS idx_entities_domain ON entities(domain);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	optionsJSON, err := json.Marshal(exec.Options)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal options")
	}
	errorsJSON, err := json.Marshal(exec.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal errors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, string(exec.Status), string(optionsJSON),
		exec.TotalEntities, exec.CompletedEntities, exec.FailedEntities,
		exec.CurrentStageName, string(errorsJSON), exec.CreatedAt, exec.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert execution")
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	errorsJSON, err := json.Marshal(exec.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal errors")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, completed_entities = ?, failed_entities = ?, current_stage = ?, errors = ?, updated_at = ? WHERE id = ?`,
		string(exec.Status), exec.CompletedEntities, exec.FailedEntities,
		exec.CurrentStageName, string(errorsJSON), time.Now().UTC(), exec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update execution %s", exec.ID)
	}
	return checkRowsAffected(res, "execution", exec.ID)
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at
		 FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at
		 FROM executions WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list executions")
}

func (s *SQLiteStore) CreateStageResult(ctx context.Context, result *model.StageResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_results (id, execution_id, entity_ref, stage, outcome, duration_ms, error, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.ExecutionID, result.EntityRef, result.Stage,
		result.Outcome, result.DurationMS, result.Error, string(metadataJSON), result.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert stage result")
}

func (s *SQLiteStore) ListStageResults(ctx context.Context, executionID string) ([]model.StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, entity_ref, stage, outcome, duration_ms, COALESCE(error, ''), COALESCE(metadata, ''), created_at
		 FROM stage_results WHERE execution_id = ? ORDER BY created_at`, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage results")
	}
	defer rows.Close()

	var out []model.StageResult
	for rows.Next() {
		var sr model.StageResult
		var metadataJSON string
		if err := rows.Scan(&sr.ID, &sr.ExecutionID, &sr.EntityRef, &sr.Stage, &sr.Outcome, &sr.DurationMS, &sr.Error, &metadataJSON, &sr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage result")
		}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &sr.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stage metadata")
			}
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stage results")
}

func (s *SQLiteStore) Upsert(ctx context.Context, record model.EnrichmentRecord, match model.MatchCandidate) (string, error) {
	fieldsJSON, provJSON, roleJSON, groupJSON, err := marshalRecord(record)
	if err != nil {
		return "", err
	}

	ids := record.Entity.Identifiers
	now := time.Now().UTC()

	if match.Tier.Mergeable() && match.StoredID != "" {
		res, err := s.db.ExecContext(ctx,
			`UPDATE entities SET name = ?, domain = ?, email = ?, linkedin_url = ?, fields = ?, provenance = ?, role = ?, buyer_group = ?, updated_at = ?
			 WHERE id = ?`,
			ids.Name, identity.NormalizeDomain(ids.Domain), identity.NormalizeEmail(ids.Email),
			identity.CanonicalProfileURL(ids.LinkedInURL),
			fieldsJSON, provJSON, roleJSON, groupJSON, now, match.StoredID,
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: update entity %s", match.StoredID)
		}
		if err := checkRowsAffected(res, "entity", match.StoredID); err != nil {
			return "", err
		}
		return match.StoredID, nil
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, owner_key, name, domain, email, linkedin_url, fields, provenance, role, buyer_group, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(record.Entity.Kind), record.Entity.OwnerKey,
		ids.Name, identity.NormalizeDomain(ids.Domain), identity.NormalizeEmail(ids.Email),
		identity.CanonicalProfileURL(ids.LinkedInURL),
		fieldsJSON, provJSON, roleJSON, groupJSON, now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert entity")
	}
	return id, nil
}

func (s *SQLiteStore) FindCandidates(ctx context.Context, entity model.TargetEntity) ([]model.StoredEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, owner_key, name, domain, email, linkedin_url, updated_at
		 FROM entities WHERE owner_key = ? AND kind = ? ORDER BY updated_at DESC LIMIT 500`,
		entity.OwnerKey, string(entity.Kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close()

	var out []model.StoredEntity
	for rows.Next() {
		var se model.StoredEntity
		var kind string
		if err := rows.Scan(&se.ID, &kind, &se.OwnerKey, &se.Identifiers.Name, &se.Identifiers.Domain, &se.Identifiers.Email, &se.Identifiers.LinkedInURL, &se.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		se.Kind = model.EntityKind(kind)
		out = append(out, se)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find candidates")
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*model.Execution, error) {
	var exec model.Execution
	var status, optionsJSON, errorsJSON string
	if err := row.Scan(&exec.ID, &status, &optionsJSON, &exec.TotalEntities, &exec.CompletedEntities, &exec.FailedEntities, &exec.CurrentStageName, &errorsJSON, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.Wrap(err, "sqlite: execution not found")
		}
		return nil, eris.Wrap(err, "sqlite: scan execution")
	}
	exec.Status = model.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(optionsJSON), &exec.Options); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal options")
	}
	if errorsJSON != "" && errorsJSON != "null" {
		if err := json.Unmarshal([]byte(errorsJSON), &exec.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal errors")
		}
	}
	return &exec, nil
}

func marshalRecord(record model.EnrichmentRecord) (fields, provenance, role, group string, err error) {
	b, err := json.Marshal(record.Fields)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "store: marshal fields")
	}
	fields = string(b)

	b, err = json.Marshal(record.Provenance)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "store: marshal provenance")
	}
	provenance = string(b)

	if record.Role != nil {
		b, err = json.Marshal(record.Role)
		if err != nil {
			return "", "", "", "", eris.Wrap(err, "store: marshal role")
		}
		role = string(b)
	}
	if record.BuyerGroup != nil {
		b, err = json.Marshal(record.BuyerGroup)
		if err != nil {
			return "", "", "", "", eris.Wrap(err, "store: marshal buyer group")
		}
		group = string(b)
	}
	return fields, provenance, role, group, nil
}

func checkRowsAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", what, id)
	}
	if n == 0 {
		return eris.Errorf("store: %s %s not found", what, id)
	}
	return nil
}
