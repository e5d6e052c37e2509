package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/identity"
	"github.com/sells-group/enrich-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Satisfied by
// pgxmock.PgxPoolIface in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations: progress snapshots and candidate lookups.
var preparedStatements = map[string]string{
	"insert_execution":    `INSERT INTO executions (id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"update_execution":    `UPDATE executions SET status = $1, completed_entities = $2, failed_entities = $3, current_stage = $4, errors = $5, updated_at = $6 WHERE id = $7`,
	"get_execution":       `SELECT id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at FROM executions WHERE id = $1`,
	"insert_stage_result": `INSERT INTO stage_results (id, execution_id, entity_ref, stage, outcome, duration_ms, error, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"find_candidates":     `SELECT id, kind, owner_key, name, domain, email, linkedin_url, updated_at FROM entities WHERE owner_key = $1 AND kind = $2 ORDER BY updated_at DESC LIMIT 500`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL DEFAULT 'pending',
	options            JSONB NOT NULL,
	total_entities     INTEGER NOT NULL,
	completed_entities INTEGER NOT NULL DEFAULT 0,
	failed_entities    INTEGER NOT NULL DEFAULT 0,
	current_stage      TEXT NOT NULL DEFAULT '',
	errors             JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_results (
	id           TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES executions(id),
	entity_ref   TEXT NOT NULL,
	stage        TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entities (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	owner_key    TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	fields       JSONB,
	provenance   JSONB,
	role         JSONB,
	buyer_group  JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_stage_results_execution ON stage_results(execution_id);
CREATE INDEX IF NOT EXISTS idx_entities_owner_kind ON entities(owner_key, kind);
CREATE INDEX IF NOT EXISTS idx_entities_email ON entities(email);
CREATE INDEX IF NOT EXISTS idx_entities_domain ON entities(domain);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	optionsJSON, err := json.Marshal(exec.Options)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal options")
	}
	errorsJSON, err := json.Marshal(exec.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal errors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO executions (id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, string(exec.Status), optionsJSON,
		exec.TotalEntities, exec.CompletedEntities, exec.FailedEntities,
		exec.CurrentStageName, errorsJSON, exec.CreatedAt, exec.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert execution")
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	errorsJSON, err := json.Marshal(exec.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal errors")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $1, completed_entities = $2, failed_entities = $3, current_stage = $4, errors = $5, updated_at = $6 WHERE id = $7`,
		string(exec.Status), exec.CompletedEntities, exec.FailedEntities,
		exec.CurrentStageName, errorsJSON, time.Now().UTC(), exec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update execution %s", exec.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: execution %s not found", exec.ID)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at FROM executions WHERE id = $1`, id)
	exec, err := scanPgExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(err, "postgres: get execution %s", id)
		}
		return nil, err
	}
	return exec, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT id, status, options, total_entities, completed_entities, failed_entities, current_stage, errors, created_at, updated_at FROM executions WHERE 1=1`
	var args []any
	argN := 1
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > $` + strconv.Itoa(argN)
		args = append(args, filter.CreatedAfter)
		argN++
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		exec, err := scanPgExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list executions")
}

func (s *PostgresStore) CreateStageResult(ctx context.Context, result *model.StageResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stage_results (id, execution_id, entity_ref, stage, outcome, duration_ms, error, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.ID, result.ExecutionID, result.EntityRef, result.Stage,
		result.Outcome, result.DurationMS, result.Error, metadataJSON, result.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert stage result")
}

func (s *PostgresStore) ListStageResults(ctx context.Context, executionID string) ([]model.StageResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, execution_id, entity_ref, stage, outcome, duration_ms, COALESCE(error, ''), metadata, created_at FROM stage_results WHERE execution_id = $1 ORDER BY created_at`, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage results")
	}
	defer rows.Close()

	var out []model.StageResult
	for rows.Next() {
		var sr model.StageResult
		var metadataJSON []byte
		if err := rows.Scan(&sr.ID, &sr.ExecutionID, &sr.EntityRef, &sr.Stage, &sr.Outcome, &sr.DurationMS, &sr.Error, &metadataJSON, &sr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage result")
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &sr.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage metadata")
			}
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list stage results")
}

func (s *PostgresStore) Upsert(ctx context.Context, record model.EnrichmentRecord, match model.MatchCandidate) (string, error) {
	fieldsJSON, provJSON, roleJSON, groupJSON, err := marshalRecord(record)
	if err != nil {
		return "", err
	}

	ids := record.Entity.Identifiers
	now := time.Now().UTC()

	if match.Tier.Mergeable() && match.StoredID != "" {
		tag, err := s.pool.Exec(ctx,
			`UPDATE entities SET name = $1, domain = $2, email = $3, linkedin_url = $4, fields = $5, provenance = $6, role = $7, buyer_group = $8, updated_at = $9 WHERE id = $10`,
			ids.Name, identity.NormalizeDomain(ids.Domain), identity.NormalizeEmail(ids.Email),
			identity.CanonicalProfileURL(ids.LinkedInURL),
			fieldsJSON, provJSON, nullable(roleJSON), nullable(groupJSON), now, match.StoredID,
		)
		if err != nil {
			return "", eris.Wrapf(err, "postgres: update entity %s", match.StoredID)
		}
		if tag.RowsAffected() == 0 {
			return "", eris.Errorf("postgres: entity %s not found", match.StoredID)
		}
		return match.StoredID, nil
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, kind, owner_key, name, domain, email, linkedin_url, fields, provenance, role, buyer_group, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, string(record.Entity.Kind), record.Entity.OwnerKey,
		ids.Name, identity.NormalizeDomain(ids.Domain), identity.NormalizeEmail(ids.Email),
		identity.CanonicalProfileURL(ids.LinkedInURL),
		fieldsJSON, provJSON, nullable(roleJSON), nullable(groupJSON), now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert entity")
	}
	return id, nil
}

func (s *PostgresStore) FindCandidates(ctx context.Context, entity model.TargetEntity) ([]model.StoredEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, owner_key, name, domain, email, linkedin_url, updated_at FROM entities WHERE owner_key = $1 AND kind = $2 ORDER BY updated_at DESC LIMIT 500`,
		entity.OwnerKey, string(entity.Kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()

	var out []model.StoredEntity
	for rows.Next() {
		var se model.StoredEntity
		var kind string
		if err := rows.Scan(&se.ID, &kind, &se.OwnerKey, &se.Identifiers.Name, &se.Identifiers.Domain, &se.Identifiers.Email, &se.Identifiers.LinkedInURL, &se.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		se.Kind = model.EntityKind(kind)
		out = append(out, se)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find candidates")
}

func scanPgExecution(row pgx.Row) (*model.Execution, error) {
	var exec model.Execution
	var status string
	var optionsJSON, errorsJSON []byte
	if err := row.Scan(&exec.ID, &status, &optionsJSON, &exec.TotalEntities, &exec.CompletedEntities, &exec.FailedEntities, &exec.CurrentStageName, &errorsJSON, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan execution")
	}
	exec.Status = model.ExecutionStatus(status)
	if err := json.Unmarshal(optionsJSON, &exec.Options); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal options")
	}
	if len(errorsJSON) > 0 && string(errorsJSON) != "null" {
		if err := json.Unmarshal(errorsJSON, &exec.Errors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal errors")
		}
	}
	return &exec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

