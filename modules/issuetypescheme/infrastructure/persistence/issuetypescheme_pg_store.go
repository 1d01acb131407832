package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IssueTypeSchemePGStore keeps issue types, schemes and migration sessions
// in PostgreSQL.
type IssueTypeSchemePGStore struct {
	pool pgBeginner
}

func NewIssueTypeSchemePGStore(pool pgBeginner) *IssueTypeSchemePGStore {
	return &IssueTypeSchemePGStore{pool: pool}
}

func (s *IssueTypeSchemePGStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func noRows(err error, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func isUniqueViolation(err error) bool {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	return ok && pgErr != nil && pgErr.Code == "23505"
}

// ---- issue types ----

const issueTypeColumns = `id, name, description, subtask, icon_url`

func scanIssueType(row pgx.Row) (types.IssueType, error) {
	var t types.IssueType
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Subtask, &t.IconURL)
	return t, err
}

func (s *IssueTypeSchemePGStore) CreateIssueType(ctx context.Context, t types.IssueType) (types.IssueType, error) {
	var out types.IssueType
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		created, err := scanIssueType(tx.QueryRow(ctx, `
INSERT INTO issue_types (id, name, description, subtask, icon_url)
VALUES (COALESCE(NULLIF($1, ''), nextval('issue_type_id_seq')::text), $2, $3, $4, $5)
RETURNING `+issueTypeColumns, t.ID, t.Name, t.Description, t.Subtask, t.IconURL))
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrIssueTypeNameConflict
			}
			return err
		}
		out = created
		return nil
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) GetIssueType(ctx context.Context, id string) (types.IssueType, error) {
	var out types.IssueType
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		t, err := scanIssueType(tx.QueryRow(ctx, `SELECT `+issueTypeColumns+` FROM issue_types WHERE id = $1`, id))
		if err != nil {
			return noRows(err, ports.ErrIssueTypeNotFound)
		}
		out = t
		return nil
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) ListIssueTypes(ctx context.Context) ([]types.IssueType, error) {
	var out []types.IssueType
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+issueTypeColumns+` FROM issue_types ORDER BY length(id), id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.IssueType, error) { return scanIssueType(r) })
		return err
	})
	return out, err
}

// DeleteIssueType relies on cascades to drop scheme options and clear scheme
// defaults.
func (s *IssueTypeSchemePGStore) DeleteIssueType(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM issue_types WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrIssueTypeNotFound
		}
		return nil
	})
}

// ---- schemes ----

const schemeSelect = `
SELECT s.id, s.name, s.description, COALESCE(s.default_issue_type_id, ''), s.is_default,
  COALESCE((SELECT array_agg(o.issue_type_id ORDER BY o.sequence) FROM issue_type_scheme_options o WHERE o.scheme_id = s.id), '{}'),
  COALESCE((SELECT array_agg(p.project_id ORDER BY p.project_id) FROM issue_type_scheme_projects p WHERE p.scheme_id = s.id), '{}')
FROM issue_type_schemes s
`

func scanScheme(row pgx.Row) (types.Scheme, error) {
	var sc types.Scheme
	err := row.Scan(&sc.ID, &sc.Name, &sc.Description, &sc.DefaultIssueTypeID, &sc.IsDefault, &sc.IssueTypeIDs, &sc.ProjectIDs)
	if len(sc.IssueTypeIDs) == 0 {
		sc.IssueTypeIDs = nil
	}
	if len(sc.ProjectIDs) == 0 {
		sc.ProjectIDs = nil
	}
	return sc, err
}

func getScheme(ctx context.Context, tx pgx.Tx, id int64) (types.Scheme, error) {
	sc, err := scanScheme(tx.QueryRow(ctx, schemeSelect+`WHERE s.id = $1`, id))
	if err != nil {
		return types.Scheme{}, noRows(err, ports.ErrSchemeNotFound)
	}
	return sc, nil
}

func writeOptions(ctx context.Context, tx pgx.Tx, schemeID int64, issueTypeIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM issue_type_scheme_options WHERE scheme_id = $1`, schemeID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
INSERT INTO issue_type_scheme_options (scheme_id, issue_type_id, sequence)
SELECT $1, t.id, t.ord - 1
FROM unnest($2::text[]) WITH ORDINALITY AS t(id, ord)
`, schemeID, issueTypeIDs)
	return err
}

func assignProjects(ctx context.Context, tx pgx.Tx, schemeID int64, isDefault bool, projectIDs []int64) error {
	if len(projectIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM issue_type_scheme_projects WHERE project_id = ANY($1)`, projectIDs); err != nil {
		return err
	}
	if isDefault {
		return nil
	}
	_, err := tx.Exec(ctx, `
INSERT INTO issue_type_scheme_projects (project_id, scheme_id)
SELECT p, $2 FROM unnest($1::bigint[]) AS p
`, projectIDs, schemeID)
	return err
}

func nullableType(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func (s *IssueTypeSchemePGStore) CreateScheme(ctx context.Context, sc types.Scheme) (types.Scheme, error) {
	var out types.Scheme
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
INSERT INTO issue_type_schemes (name, description, default_issue_type_id, is_default)
VALUES ($1, $2, $3, $4)
RETURNING id
`, sc.Name, sc.Description, nullableType(sc.DefaultIssueTypeID), sc.IsDefault).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrSchemeNameConflict
			}
			return err
		}
		if err := writeOptions(ctx, tx, id, sc.IssueTypeIDs); err != nil {
			return err
		}
		if err := assignProjects(ctx, tx, id, sc.IsDefault, sc.ProjectIDs); err != nil {
			return err
		}
		out, err = getScheme(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) GetScheme(ctx context.Context, id int64) (types.Scheme, error) {
	var out types.Scheme
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = getScheme(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) GetDefaultScheme(ctx context.Context) (types.Scheme, error) {
	var out types.Scheme
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		sc, err := scanScheme(tx.QueryRow(ctx, schemeSelect+`WHERE s.is_default`))
		if err != nil {
			return noRows(err, ports.ErrDefaultSchemeMissing)
		}
		out = sc
		return nil
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) ListSchemes(ctx context.Context) ([]types.Scheme, error) {
	var out []types.Scheme
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, schemeSelect+`ORDER BY s.id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Scheme, error) { return scanScheme(r) })
		return err
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) UpdateScheme(ctx context.Context, sc types.Scheme) (types.Scheme, error) {
	var out types.Scheme
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
UPDATE issue_type_schemes
SET name = $2, description = $3, default_issue_type_id = $4
WHERE id = $1
RETURNING id
`, sc.ID, sc.Name, sc.Description, nullableType(sc.DefaultIssueTypeID)).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrSchemeNameConflict
			}
			return noRows(err, ports.ErrSchemeNotFound)
		}
		if err := writeOptions(ctx, tx, id, sc.IssueTypeIDs); err != nil {
			return err
		}
		out, err = getScheme(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) DeleteScheme(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM issue_type_schemes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrSchemeNotFound
		}
		return nil
	})
}

func (s *IssueTypeSchemePGStore) SchemeForProject(ctx context.Context, projectID int64) (types.Scheme, error) {
	var out types.Scheme
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `SELECT scheme_id FROM issue_type_scheme_projects WHERE project_id = $1`, projectID).Scan(&id); err != nil {
			return noRows(err, ports.ErrSchemeNotFound)
		}
		var err error
		out, err = getScheme(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *IssueTypeSchemePGStore) AssignProjects(ctx context.Context, schemeID int64, projectIDs []int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var isDefault bool
		if err := tx.QueryRow(ctx, `SELECT is_default FROM issue_type_schemes WHERE id = $1`, schemeID).Scan(&isDefault); err != nil {
			return noRows(err, ports.ErrSchemeNotFound)
		}
		return assignProjects(ctx, tx, schemeID, isDefault, projectIDs)
	})
}

// ---- migration sessions ----

func (s *IssueTypeSchemePGStore) SaveSession(ctx context.Context, sess types.MigrationSession) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode migration session: %w", err)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO issue_type_migrations (id, step, payload, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET step = EXCLUDED.step, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
`, sess.ID, string(sess.Step), payload, sess.UpdatedAt)
		return err
	})
}

func (s *IssueTypeSchemePGStore) GetSession(ctx context.Context, id string) (types.MigrationSession, error) {
	var out types.MigrationSession
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var payload []byte
		if err := tx.QueryRow(ctx, `SELECT payload FROM issue_type_migrations WHERE id = $1`, id).Scan(&payload); err != nil {
			return noRows(err, ports.ErrSessionNotFound)
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return fmt.Errorf("decode migration session %s: %w", id, err)
		}
		return nil
	})
	return out, err
}

var (
	_ ports.IssueTypeStore = (*IssueTypeSchemePGStore)(nil)
	_ ports.SchemeStore    = (*IssueTypeSchemePGStore)(nil)
	_ ports.SessionStore   = (*IssueTypeSchemePGStore)(nil)
)
