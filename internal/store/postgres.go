package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// pgPool is the subset of pgxpool.Pool the store uses, kept small so tests
// can swap in a mock pool.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool pgPool
}

// NewPostgres connects to the given DSN and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS refs (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	authors        JSONB NOT NULL DEFAULT '[]',
	year           INTEGER NOT NULL DEFAULT 0,
	publication    TEXT NOT NULL DEFAULT '',
	identifiers    JSONB NOT NULL DEFAULT '{}',
	context        JSONB NOT NULL,
	relevance      JSONB NOT NULL,
	relevance_meta JSONB,
	urls           JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'draft',
	manual_review  BOOLEAN NOT NULL DEFAULT FALSE,
	version        INTEGER NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS change_log (
	id                   TEXT PRIMARY KEY,
	reference_id         TEXT NOT NULL REFERENCES refs(id),
	level                TEXT NOT NULL,
	field                TEXT NOT NULL,
	old_value            TEXT NOT NULL DEFAULT '',
	new_value            TEXT NOT NULL DEFAULT '',
	trigger_kind         TEXT NOT NULL,
	trigger_reference_id TEXT NOT NULL DEFAULT '',
	decision             TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_refs_status ON refs(status);
CREATE INDEX IF NOT EXISTS idx_refs_manual_review ON refs(manual_review);
CREATE INDEX IF NOT EXISTS idx_change_log_reference_id ON change_log(reference_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateReference(ctx context.Context, ref *model.Reference) error {
	if ref.ID == "" {
		ref.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ref.CreatedAt = now
	ref.UpdatedAt = now
	if ref.Status == "" {
		ref.Status = model.StatusDraft
	}
	if ref.Version == 0 {
		ref.Version = 1
	}

	cols, err := marshalFields(ref)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO refs (id, title, authors, year, publication, identifiers,
			context, relevance, relevance_meta, urls, status, manual_review,
			version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ref.ID, ref.Title, cols.authors, ref.Year, ref.Publication, cols.identifiers,
		cols.contextJSON, cols.relevanceJSON, cols.relevanceMeta, cols.urlsJSON,
		string(ref.Status), ref.ManualReview, ref.Version, now, now,
	)
	return eris.Wrap(err, "postgres: insert reference")
}

func (s *PostgresStore) GetReference(ctx context.Context, id string) (*model.Reference, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, authors, year, publication, identifiers,
			context, relevance, relevance_meta, urls, status, manual_review,
			version, created_at, updated_at
		 FROM refs WHERE id = $1`, id)
	ref, err := scanPgReference(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get reference %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get reference %s", id)
	}
	return ref, nil
}

func (s *PostgresStore) ListReferences(ctx context.Context, filter ReferenceFilter) ([]model.Reference, error) {
	query := `SELECT id, title, authors, year, publication, identifiers,
		context, relevance, relevance_meta, urls, status, manual_review,
		version, created_at, updated_at
	 FROM refs WHERE ($1 = '' OR status = $1)
	   AND ($2::boolean IS NULL OR manual_review = $2)
	 ORDER BY created_at`
	args := []any{string(filter.Status), filter.ManualReview}

	if filter.Limit > 0 {
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list references")
	}
	defer rows.Close()

	var out []model.Reference
	for rows.Next() {
		ref, err := scanPgReference(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan reference")
		}
		out = append(out, *ref)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list references")
}

func (s *PostgresStore) UpdateField(ctx context.Context, refID string, level model.Level, payload any, newVersion int) error {
	col, err := fieldColumn(level)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s field", level)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE refs SET `+col+` = $1, version = $2, updated_at = $3 WHERE id = $4`,
		string(data), newVersion, time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s field for %s", level, refID)
	}
	return checkTag(tag, refID)
}

func (s *PostgresStore) SetRelevanceMeta(ctx context.Context, refID string, meta *model.GenerationMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal relevance meta")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE refs SET relevance_meta = $1, updated_at = $2 WHERE id = $3`,
		string(data), time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set relevance meta for %s", refID)
	}
	return checkTag(tag, refID)
}

func (s *PostgresStore) SetStatus(ctx context.Context, refID string, status model.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set status for %s", refID)
	}
	return checkTag(tag, refID)
}

func (s *PostgresStore) SetManualReview(ctx context.Context, refID string, flagged bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refs SET manual_review = $1, updated_at = $2 WHERE id = $3`,
		flagged, time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set manual review for %s", refID)
	}
	return checkTag(tag, refID)
}

func (s *PostgresStore) AppendChange(ctx context.Context, rec *model.ChangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO change_log (id, reference_id, level, field, old_value,
			new_value, trigger_kind, trigger_reference_id, decision, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.ReferenceID, string(rec.Level), rec.Field, rec.OldValue,
		rec.NewValue, string(rec.Trigger), rec.TriggerReferenceID,
		string(rec.Decision), rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append change")
}

func (s *PostgresStore) ListChanges(ctx context.Context, refID string) ([]model.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, reference_id, level, field, old_value, new_value,
			trigger_kind, trigger_reference_id, decision, created_at
		 FROM change_log WHERE reference_id = $1 ORDER BY created_at, id`, refID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list changes for %s", refID)
	}
	defer rows.Close()

	var out []model.ChangeRecord
	for rows.Next() {
		var rec model.ChangeRecord
		var level, trigger, decision string
		if err := rows.Scan(&rec.ID, &rec.ReferenceID, &level, &rec.Field,
			&rec.OldValue, &rec.NewValue, &trigger, &rec.TriggerReferenceID,
			&decision, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		rec.Level = model.Level(level)
		rec.Trigger = model.Trigger(trigger)
		rec.Decision = model.Decision(decision)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list changes")
}

func scanPgReference(row pgx.Row) (*model.Reference, error) {
	var (
		ref           model.Reference
		authors       string
		identifiers   string
		contextJSON   string
		relevanceJSON string
		relevanceMeta *string
		urlsJSON      string
		status        string
	)
	if err := row.Scan(&ref.ID, &ref.Title, &authors, &ref.Year, &ref.Publication,
		&identifiers, &contextJSON, &relevanceJSON, &relevanceMeta, &urlsJSON,
		&status, &ref.ManualReview, &ref.Version, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authors), &ref.Authors); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal authors")
	}
	if err := json.Unmarshal([]byte(identifiers), &ref.Identifiers); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal identifiers")
	}
	if err := json.Unmarshal([]byte(contextJSON), &ref.Context); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal context")
	}
	if err := json.Unmarshal([]byte(relevanceJSON), &ref.Relevance); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal relevance")
	}
	if relevanceMeta != nil && *relevanceMeta != "" {
		ref.RelevanceMeta = &model.GenerationMeta{}
		if err := json.Unmarshal([]byte(*relevanceMeta), ref.RelevanceMeta); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal relevance meta")
		}
	}
	if err := json.Unmarshal([]byte(urlsJSON), &ref.URLs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal urls")
	}
	ref.Status = model.Status(status)
	return &ref, nil
}

func checkTag(tag pgconn.CommandTag, refID string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: reference %s", refID)
	}
	return nil
}
