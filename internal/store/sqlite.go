package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/refcanvas/refcanvas-cli/internal/model"
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS refs (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	authors        TEXT NOT NULL DEFAULT '[]',
	year           INTEGER NOT NULL DEFAULT 0,
	publication    TEXT NOT NULL DEFAULT '',
	identifiers    TEXT NOT NULL DEFAULT '{}',
	context        TEXT NOT NULL,
	relevance      TEXT NOT NULL,
	relevance_meta TEXT,
	urls           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'draft',
	manual_review  INTEGER NOT NULL DEFAULT 0,
	version        INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
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
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_refs_status ON refs(status);
CREATE INDEX IF NOT EXISTS idx_refs_manual_review ON refs(manual_review);
CREATE INDEX IF NOT EXISTS idx_change_log_reference_id ON change_log(reference_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReference(ctx context.Context, ref *model.Reference) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refs (id, title, authors, year, publication, identifiers,
			context, relevance, relevance_meta, urls, status, manual_review,
			version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.Title, cols.authors, ref.Year, ref.Publication, cols.identifiers,
		cols.contextJSON, cols.relevanceJSON, cols.relevanceMeta, cols.urlsJSON,
		string(ref.Status), boolInt(ref.ManualReview), ref.Version, now, now,
	)
	return eris.Wrap(err, "sqlite: insert reference")
}

func (s *SQLiteStore) GetReference(ctx context.Context, id string) (*model.Reference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, authors, year, publication, identifiers,
			context, relevance, relevance_meta, urls, status, manual_review,
			version, created_at, updated_at
		 FROM refs WHERE id = ?`, id)
	ref, err := scanReference(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get reference %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get reference %s", id)
	}
	return ref, nil
}

func (s *SQLiteStore) ListReferences(ctx context.Context, filter ReferenceFilter) ([]model.Reference, error) {
	query := `SELECT id, title, authors, year, publication, identifiers,
		context, relevance, relevance_meta, urls, status, manual_review,
		version, created_at, updated_at
	 FROM refs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ManualReview != nil {
		query += ` AND manual_review = ?`
		args = append(args, boolInt(*filter.ManualReview))
	}
	query += ` ORDER BY created_at`
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
		return nil, eris.Wrap(err, "sqlite: list references")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reference")
		}
		out = append(out, *ref)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list references")
}

func (s *SQLiteStore) UpdateField(ctx context.Context, refID string, level model.Level, payload any, newVersion int) error {
	col, err := fieldColumn(level)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s field", level)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE refs SET `+col+` = ?, version = ?, updated_at = ? WHERE id = ?`,
		string(data), newVersion, time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s field for %s", level, refID)
	}
	return checkRowsAffected(res, refID)
}

func (s *SQLiteStore) SetRelevanceMeta(ctx context.Context, refID string, meta *model.GenerationMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal relevance meta")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE refs SET relevance_meta = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set relevance meta for %s", refID)
	}
	return checkRowsAffected(res, refID)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, refID string, status model.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set status for %s", refID)
	}
	return checkRowsAffected(res, refID)
}

func (s *SQLiteStore) SetManualReview(ctx context.Context, refID string, flagged bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refs SET manual_review = ?, updated_at = ? WHERE id = ?`,
		boolInt(flagged), time.Now().UTC(), refID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set manual review for %s", refID)
	}
	return checkRowsAffected(res, refID)
}

func (s *SQLiteStore) AppendChange(ctx context.Context, rec *model.ChangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_log (id, reference_id, level, field, old_value,
			new_value, trigger_kind, trigger_reference_id, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ReferenceID, string(rec.Level), rec.Field, rec.OldValue,
		rec.NewValue, string(rec.Trigger), rec.TriggerReferenceID,
		string(rec.Decision), rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append change")
}

func (s *SQLiteStore) ListChanges(ctx context.Context, refID string) ([]model.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reference_id, level, field, old_value, new_value,
			trigger_kind, trigger_reference_id, decision, created_at
		 FROM change_log WHERE reference_id = ? ORDER BY created_at, id`, refID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list changes for %s", refID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ChangeRecord
	for rows.Next() {
		var rec model.ChangeRecord
		var level, trigger, decision string
		if err := rows.Scan(&rec.ID, &rec.ReferenceID, &level, &rec.Field,
			&rec.OldValue, &rec.NewValue, &trigger, &rec.TriggerReferenceID,
			&decision, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change")
		}
		rec.Level = model.Level(level)
		rec.Trigger = model.Trigger(trigger)
		rec.Decision = model.Decision(decision)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list changes")
}

// fieldColumns holds the JSON-encoded columns of a reference row.
type fieldColumns struct {
	authors       string
	identifiers   string
	contextJSON   string
	relevanceJSON string
	relevanceMeta any
	urlsJSON      string
}

func marshalFields(ref *model.Reference) (*fieldColumns, error) {
	authors, err := json.Marshal(ref.Authors)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal authors")
	}
	identifiers := []byte("{}")
	if ref.Identifiers != nil {
		identifiers, err = json.Marshal(ref.Identifiers)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal identifiers")
		}
	}
	contextJSON, err := json.Marshal(ref.Context)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal context")
	}
	relevanceJSON, err := json.Marshal(ref.Relevance)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal relevance")
	}
	urlsJSON, err := json.Marshal(ref.URLs)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal urls")
	}
	var meta any
	if ref.RelevanceMeta != nil {
		m, err := json.Marshal(ref.RelevanceMeta)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal relevance meta")
		}
		meta = string(m)
	}
	return &fieldColumns{
		authors:       string(authors),
		identifiers:   string(identifiers),
		contextJSON:   string(contextJSON),
		relevanceJSON: string(relevanceJSON),
		relevanceMeta: meta,
		urlsJSON:      string(urlsJSON),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReference(row rowScanner) (*model.Reference, error) {
	var (
		ref           model.Reference
		authors       string
		identifiers   string
		contextJSON   string
		relevanceJSON string
		relevanceMeta sql.NullString
		urlsJSON      string
		status        string
		manualReview  int
	)
	if err := row.Scan(&ref.ID, &ref.Title, &authors, &ref.Year, &ref.Publication,
		&identifiers, &contextJSON, &relevanceJSON, &relevanceMeta, &urlsJSON,
		&status, &manualReview, &ref.Version, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
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
	if relevanceMeta.Valid && relevanceMeta.String != "" {
		ref.RelevanceMeta = &model.GenerationMeta{}
		if err := json.Unmarshal([]byte(relevanceMeta.String), ref.RelevanceMeta); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal relevance meta")
		}
	}
	if err := json.Unmarshal([]byte(urlsJSON), &ref.URLs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal urls")
	}
	ref.Status = model.Status(status)
	ref.ManualReview = manualReview != 0
	return &ref, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, refID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: reference %s", refID)
	}
	return nil
}
