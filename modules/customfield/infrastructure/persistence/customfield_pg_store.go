package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CustomFieldPGStore implements every customfield port on PostgreSQL.
type CustomFieldPGStore struct {
	pool pgBeginner
}

func NewCustomFieldPGStore(pool pgBeginner) *CustomFieldPGStore {
	return &CustomFieldPGStore{pool: pool}
}

type txKey struct{}

// WithinTx runs fn in one transaction. Store calls made with the context
// passed to fn join it instead of opening their own.
func (s *CustomFieldPGStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *CustomFieldPGStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(tx)
	}
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

func fieldNumber(fieldID string) (int64, error) {
	n, ok := types.NumericFromFieldID(fieldID)
	if !ok {
		return 0, ports.ErrFieldNotFound
	}
	return n, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// ---- options ----

const optionColumns = `id, config_id, COALESCE(parent_id, 0), value, sequence, disabled`

func scanOption(row pgx.Row) (types.Option, error) {
	var o types.Option
	err := row.Scan(&o.ID, &o.FieldConfigID, &o.ParentID, &o.Value, &o.Sequence, &o.Disabled)
	return o, err
}

func collectOptions(rows pgx.Rows) ([]types.Option, error) {
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Option, error) { return scanOption(r) })
}

func (s *CustomFieldPGStore) ListOptions(ctx context.Context, configID int64) ([]types.Option, error) {
	var out []types.Option
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT `+optionColumns+`
FROM custom_field_options
WHERE config_id = $1
ORDER BY COALESCE(parent_id, 0), sequence, id
`, configID)
		if err != nil {
			return err
		}
		out, err = collectOptions(rows)
		return err
	})
	return out, err
}

func (s *CustomFieldPGStore) GetOption(ctx context.Context, optionID int64) (types.Option, error) {
	var out types.Option
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOption(tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM custom_field_options WHERE id = $1`, optionID))
		if err != nil {
			return noRows(err, ports.ErrOptionNotFound)
		}
		out = o
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) CreateOption(ctx context.Context, configID int64, parentID int64, value string) (types.Option, error) {
	var out types.Option
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM field_configs WHERE id = $1`, configID).Scan(&one); err != nil {
			return noRows(err, ports.ErrFieldConfigNotFound)
		}
		if parentID != 0 {
			parent, err := scanOption(tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM custom_field_options WHERE id = $1`, parentID))
			if err != nil {
				return noRows(err, ports.ErrOptionNotFound)
			}
			if parent.FieldConfigID != configID || !parent.IsTopLevel() {
				return ports.ErrOptionNotFound
			}
		}
		o, err := scanOption(tx.QueryRow(ctx, `
INSERT INTO custom_field_options (config_id, parent_id, value, sequence)
VALUES (
  $1,
  $2,
  $3,
  (SELECT count(*) FROM custom_field_options WHERE config_id = $1 AND COALESCE(parent_id, 0) = COALESCE($2::bigint, 0))
)
RETURNING `+optionColumns, configID, nullableID(parentID), value))
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrOptionValueConflict
			}
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) UpdateOption(ctx context.Context, opt types.Option) (types.Option, error) {
	var out types.Option
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOption(tx.QueryRow(ctx, `
UPDATE custom_field_options
SET value = $2, disabled = $3, sequence = $4
WHERE id = $1
RETURNING `+optionColumns, opt.ID, opt.Value, opt.Disabled, opt.Sequence))
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrOptionValueConflict
			}
			return noRows(err, ports.ErrOptionNotFound)
		}
		out = o
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) DeleteOption(ctx context.Context, optionID int64) ([]int64, error) {
	var removed []int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOption(tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM custom_field_options WHERE id = $1`, optionID))
		if err != nil {
			return noRows(err, ports.ErrOptionNotFound)
		}
		rows, err := tx.Query(ctx, `SELECT id FROM custom_field_options WHERE parent_id = $1 ORDER BY sequence, id`, optionID)
		if err != nil {
			return err
		}
		children, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM custom_field_options WHERE id = $1 OR parent_id = $1`, optionID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE custom_field_options o
SET sequence = r.rn - 1
FROM (
  SELECT id, row_number() OVER (ORDER BY sequence, id) AS rn
  FROM custom_field_options
  WHERE config_id = $1 AND COALESCE(parent_id, 0) = $2
) r
WHERE o.id = r.id
`, o.FieldConfigID, o.ParentID); err != nil {
			return err
		}
		removed = append([]int64{o.ID}, children...)
		return nil
	})
	return removed, err
}

func (s *CustomFieldPGStore) ReorderOptions(ctx context.Context, configID int64, parentID int64, orderedIDs []int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id FROM custom_field_options
WHERE config_id = $1 AND COALESCE(parent_id, 0) = $2
`, configID, parentID)
		if err != nil {
			return err
		}
		current, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		want := slices.Sorted(slices.Values(orderedIDs))
		slices.Sort(current)
		if !slices.Equal(current, want) {
			return ports.ErrOptionOrderInvalid
		}
		batch := &pgx.Batch{}
		for i, id := range orderedIDs {
			batch.Queue(`UPDATE custom_field_options SET sequence = $2 WHERE id = $1`, id, i)
		}
		br := tx.SendBatch(ctx, batch)
		for range orderedIDs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
}

// ---- labels ----

func (s *CustomFieldPGStore) GetLabels(ctx context.Context, issueID int64, fieldID string) ([]types.Label, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return nil, err
	}
	var out []types.Label
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id, issue_id, value FROM issue_labels
WHERE issue_id = $1 AND field_id = $2
ORDER BY value, id
`, issueID, n)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Label, error) {
			l := types.Label{FieldID: fieldID}
			err := r.Scan(&l.ID, &l.IssueID, &l.Value)
			return l, err
		})
		return err
	})
	return out, err
}

func (s *CustomFieldPGStore) SetLabels(ctx context.Context, issueID int64, fieldID string, values []string) ([]types.Label, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return nil, err
	}
	var out []types.Label
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM issue_labels WHERE issue_id = $1 AND field_id = $2`, issueID, n); err != nil {
			return err
		}
		for _, v := range values {
			l := types.Label{IssueID: issueID, FieldID: fieldID, Value: v}
			if err := tx.QueryRow(ctx, `
INSERT INTO issue_labels (issue_id, field_id, value) VALUES ($1, $2, $3) RETURNING id
`, issueID, n, v).Scan(&l.ID); err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *CustomFieldPGStore) SuggestLabels(ctx context.Context, fieldID string, prefix string, limit int) ([]string, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return nil, err
	}
	var out []string
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT DISTINCT value FROM issue_labels
WHERE field_id = $1 AND lower(value) LIKE lower($2) || '%'
ORDER BY value
LIMIT NULLIF($3, 0)
`, n, likeEscaper.Replace(prefix), limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	return out, err
}

// ---- projects and versions ----

func scanProject(row pgx.Row) (types.Project, error) {
	var p types.Project
	err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Lead)
	return p, err
}

func (s *CustomFieldPGStore) PutProject(ctx context.Context, p types.Project) (types.Project, error) {
	p.Key = strings.ToUpper(strings.TrimSpace(p.Key))
	var out types.Project
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var row pgx.Row
		if p.ID == 0 {
			row = tx.QueryRow(ctx, `
INSERT INTO projects (key, name, lead) VALUES ($1, $2, $3)
RETURNING id, key, name, lead
`, p.Key, p.Name, p.Lead)
		} else {
			row = tx.QueryRow(ctx, `
INSERT INTO projects (id, key, name, lead) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET key = excluded.key, name = excluded.name, lead = excluded.lead
RETURNING id, key, name, lead
`, p.ID, p.Key, p.Name, p.Lead)
		}
		got, err := scanProject(row)
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrProjectKeyConflict
			}
			return err
		}
		out = got
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) GetProject(ctx context.Context, projectID int64) (types.Project, error) {
	var out types.Project
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProject(tx.QueryRow(ctx, `SELECT id, key, name, lead FROM projects WHERE id = $1`, projectID))
		out = p
		return noRows(err, ports.ErrProjectNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) GetProjectByKey(ctx context.Context, key string) (types.Project, error) {
	var out types.Project
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProject(tx.QueryRow(ctx, `SELECT id, key, name, lead FROM projects WHERE key = upper($1)`, strings.TrimSpace(key)))
		out = p
		return noRows(err, ports.ErrProjectNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) ListProjects(ctx context.Context) ([]types.Project, error) {
	var out []types.Project
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, key, name, lead FROM projects ORDER BY id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Project, error) { return scanProject(r) })
		return err
	})
	return out, err
}

const versionColumns = `id, project_id, name, description, sequence, released, archived, release_date`

func scanVersion(row pgx.Row) (types.Version, error) {
	var v types.Version
	err := row.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Description, &v.Sequence, &v.Released, &v.Archived, &v.ReleaseDate)
	return v, err
}

func (s *CustomFieldPGStore) PutVersion(ctx context.Context, v types.Version) (types.Version, error) {
	var out types.Version
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM projects WHERE id = $1`, v.ProjectID).Scan(&one); err != nil {
			return noRows(err, ports.ErrProjectNotFound)
		}
		got, err := scanVersion(tx.QueryRow(ctx, `
INSERT INTO project_versions (id, project_id, name, description, sequence, released, archived, release_date)
VALUES (COALESCE($1, nextval('project_versions_id_seq')), $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  name = excluded.name,
  description = excluded.description,
  sequence = excluded.sequence,
  released = excluded.released,
  archived = excluded.archived,
  release_date = excluded.release_date
RETURNING `+versionColumns,
			nullableID(v.ID), v.ProjectID, v.Name, v.Description, v.Sequence, v.Released, v.Archived, v.ReleaseDate))
		out = got
		return err
	})
	return out, err
}

func (s *CustomFieldPGStore) GetVersion(ctx context.Context, versionID int64) (types.Version, error) {
	var out types.Version
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := scanVersion(tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE id = $1`, versionID))
		out = v
		return noRows(err, ports.ErrVersionNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) ListVersions(ctx context.Context, projectID int64) ([]types.Version, error) {
	var out []types.Version
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE project_id = $1 ORDER BY sequence, id`, projectID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Version, error) { return scanVersion(r) })
		return err
	})
	return out, err
}

// ---- users and groups ----

func scanUser(row pgx.Row) (types.User, error) {
	var u types.User
	err := row.Scan(&u.Name, &u.DisplayName, &u.Email, &u.Active)
	return u, err
}

func (s *CustomFieldPGStore) PutUser(ctx context.Context, u types.User) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO directory_users (name, display_name, email, active) VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET display_name = excluded.display_name, email = excluded.email, active = excluded.active
`, u.Name, u.DisplayName, u.Email, u.Active)
		return err
	})
}

func (s *CustomFieldPGStore) GetUser(ctx context.Context, name string) (types.User, error) {
	var out types.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, `SELECT name, display_name, email, active FROM directory_users WHERE name = $1`, name))
		out = u
		return noRows(err, ports.ErrUserNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) SearchUsers(ctx context.Context, query string, limit int) ([]types.User, error) {
	var out []types.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT name, display_name, email, active FROM directory_users
WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%'
ORDER BY name
LIMIT NULLIF($2, 0)
`, likeEscaper.Replace(strings.TrimSpace(query)), limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.User, error) { return scanUser(r) })
		return err
	})
	return out, err
}

func (s *CustomFieldPGStore) PutGroup(ctx context.Context, g types.Group, members ...string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO directory_groups (name) VALUES ($1) ON CONFLICT DO NOTHING`, g.Name); err != nil {
			return err
		}
		for _, m := range members {
			if _, err := tx.Exec(ctx, `
INSERT INTO directory_memberships (group_name, user_name) VALUES ($1, $2) ON CONFLICT DO NOTHING
`, g.Name, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *CustomFieldPGStore) GetGroup(ctx context.Context, name string) (types.Group, error) {
	var out types.Group
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT name FROM directory_groups WHERE name = $1`, name).Scan(&out.Name)
		return noRows(err, ports.ErrGroupNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) ListGroups(ctx context.Context, query string, limit int) ([]types.Group, error) {
	var out []types.Group
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT name FROM directory_groups
WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
ORDER BY name
LIMIT NULLIF($2, 0)
`, likeEscaper.Replace(strings.TrimSpace(query)), limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Group, error) {
			var g types.Group
			err := r.Scan(&g.Name)
			return g, err
		})
		return err
	})
	return out, err
}

func (s *CustomFieldPGStore) IsMember(ctx context.Context, groupName string, userName string) (bool, error) {
	var member bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `
SELECT
  EXISTS (SELECT 1 FROM directory_groups WHERE name = $1),
  EXISTS (SELECT 1 FROM directory_memberships WHERE group_name = $1 AND user_name = $2)
`, groupName, userName).Scan(&exists, &member); err != nil {
			return err
		}
		if !exists {
			return ports.ErrGroupNotFound
		}
		return nil
	})
	return member, err
}

// ---- fields, contexts, configs ----

func scanField(row pgx.Row) (types.CustomField, error) {
	var f types.CustomField
	err := row.Scan(&f.NumericID, &f.Name, &f.Description, &f.TypeKey, &f.CreatedAt)
	f.ID = types.FieldIDFromNumeric(f.NumericID)
	return f, err
}

func (s *CustomFieldPGStore) CreateField(ctx context.Context, field types.CustomField) (types.CustomField, error) {
	var out types.CustomField
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		f, err := scanField(tx.QueryRow(ctx, `
INSERT INTO custom_fields (name, description, type_key) VALUES ($1, $2, $3)
RETURNING id, name, description, type_key, created_at
`, field.Name, field.Description, field.TypeKey))
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrFieldNameConflict
			}
			return err
		}
		out = f
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) GetField(ctx context.Context, fieldID string) (types.CustomField, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return types.CustomField{}, err
	}
	var out types.CustomField
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		f, err := scanField(tx.QueryRow(ctx, `SELECT id, name, description, type_key, created_at FROM custom_fields WHERE id = $1`, n))
		out = f
		return noRows(err, ports.ErrFieldNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) ListFields(ctx context.Context) ([]types.CustomField, error) {
	var out []types.CustomField
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, name, description, type_key, created_at FROM custom_fields ORDER BY id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.CustomField, error) { return scanField(r) })
		return err
	})
	return out, err
}

const schemeColumns = `id, field_id, name, project_ids, issue_type_ids, config_id`

func scanScheme(row pgx.Row) (types.FieldConfigScheme, error) {
	var sc types.FieldConfigScheme
	var fieldNum int64
	err := row.Scan(&sc.ID, &fieldNum, &sc.Name, &sc.ProjectIDs, &sc.IssueTypeIDs, &sc.ConfigID)
	sc.FieldID = types.FieldIDFromNumeric(fieldNum)
	if len(sc.ProjectIDs) == 0 {
		sc.ProjectIDs = nil
	}
	if len(sc.IssueTypeIDs) == 0 {
		sc.IssueTypeIDs = nil
	}
	return sc, err
}

const configColumns = `id, field_id, name, required, validation_expr, default_value`

func scanConfig(row pgx.Row) (types.FieldConfig, error) {
	var cfg types.FieldConfig
	var fieldNum int64
	var raw []byte
	if err := row.Scan(&cfg.ID, &fieldNum, &cfg.Name, &cfg.Required, &cfg.ValidationExpr, &raw); err != nil {
		return types.FieldConfig{}, err
	}
	cfg.FieldID = types.FieldIDFromNumeric(fieldNum)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg.Default); err != nil {
			return types.FieldConfig{}, err
		}
	}
	if len(cfg.Default) == 0 {
		cfg.Default = nil
	}
	return cfg, nil
}

func defaultJSON(rows []types.StoredValue) ([]byte, error) {
	if rows == nil {
		rows = []types.StoredValue{}
	}
	return json.Marshal(rows)
}

func (s *CustomFieldPGStore) CreateContext(ctx context.Context, scheme types.FieldConfigScheme, cfg types.FieldConfig) (types.FieldConfigScheme, types.FieldConfig, error) {
	n, err := fieldNumber(scheme.FieldID)
	if err != nil {
		return types.FieldConfigScheme{}, types.FieldConfig{}, err
	}
	def, err := defaultJSON(cfg.Default)
	if err != nil {
		return types.FieldConfigScheme{}, types.FieldConfig{}, err
	}
	var outScheme types.FieldConfigScheme
	var outCfg types.FieldConfig
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM custom_fields WHERE id = $1`, n).Scan(&one); err != nil {
			return noRows(err, ports.ErrFieldNotFound)
		}
		c, err := scanConfig(tx.QueryRow(ctx, `
INSERT INTO field_configs (field_id, name, required, validation_expr, default_value)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+configColumns, n, cfg.Name, cfg.Required, cfg.ValidationExpr, def))
		if err != nil {
			return err
		}
		projectIDs := scheme.ProjectIDs
		if projectIDs == nil {
			projectIDs = []int64{}
		}
		issueTypeIDs := scheme.IssueTypeIDs
		if issueTypeIDs == nil {
			issueTypeIDs = []string{}
		}
		sc, err := scanScheme(tx.QueryRow(ctx, `
INSERT INTO field_config_schemes (field_id, name, project_ids, issue_type_ids, config_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+schemeColumns, n, scheme.Name, projectIDs, issueTypeIDs, c.ID))
		if err != nil {
			return err
		}
		outScheme, outCfg = sc, c
		return nil
	})
	return outScheme, outCfg, err
}

func (s *CustomFieldPGStore) ListContexts(ctx context.Context, fieldID string) ([]types.FieldConfigScheme, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return nil, err
	}
	var out []types.FieldConfigScheme
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+schemeColumns+` FROM field_config_schemes WHERE field_id = $1 ORDER BY id`, n)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.FieldConfigScheme, error) { return scanScheme(r) })
		return err
	})
	return out, err
}

func (s *CustomFieldPGStore) DeleteContext(ctx context.Context, schemeID int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var configID int64
		if err := tx.QueryRow(ctx, `DELETE FROM field_config_schemes WHERE id = $1 RETURNING config_id`, schemeID).Scan(&configID); err != nil {
			return noRows(err, ports.ErrContextNotFound)
		}
		_, err := tx.Exec(ctx, `DELETE FROM field_configs WHERE id = $1`, configID)
		return err
	})
}

func (s *CustomFieldPGStore) GetFieldConfig(ctx context.Context, configID int64) (types.FieldConfig, error) {
	var out types.FieldConfig
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		cfg, err := scanConfig(tx.QueryRow(ctx, `SELECT `+configColumns+` FROM field_configs WHERE id = $1`, configID))
		out = cfg
		return noRows(err, ports.ErrFieldConfigNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) UpdateFieldConfig(ctx context.Context, cfg types.FieldConfig) (types.FieldConfig, error) {
	def, err := defaultJSON(cfg.Default)
	if err != nil {
		return types.FieldConfig{}, err
	}
	var out types.FieldConfig
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		got, err := scanConfig(tx.QueryRow(ctx, `
UPDATE field_configs
SET name = $2, required = $3, validation_expr = $4, default_value = $5
WHERE id = $1
RETURNING `+configColumns, cfg.ID, cfg.Name, cfg.Required, cfg.ValidationExpr, def))
		out = got
		return noRows(err, ports.ErrFieldConfigNotFound)
	})
	return out, err
}

// ---- values ----

func (s *CustomFieldPGStore) GetValues(ctx context.Context, issueID int64, fieldID string) ([]types.StoredValue, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return nil, err
	}
	var out []types.StoredValue
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT level, string_value, number_value, text_value, date_value
FROM custom_field_values
WHERE issue_id = $1 AND field_id = $2
ORDER BY level, id
`, issueID, n)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.StoredValue, error) {
			var v types.StoredValue
			var level int
			err := r.Scan(&level, &v.String, &v.Number, &v.Text, &v.Date)
			v.Level = types.Level(level)
			return v, err
		})
		return err
	})
	if len(out) == 0 {
		out = nil
	}
	return out, err
}

func (s *CustomFieldPGStore) SetValues(ctx context.Context, issueID int64, fieldID string, rows []types.StoredValue) error {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM custom_field_values WHERE issue_id = $1 AND field_id = $2`, issueID, n); err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := tx.Exec(ctx, `
INSERT INTO custom_field_values (issue_id, field_id, level, string_value, number_value, text_value, date_value)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, issueID, n, int(row.Level), row.String, row.Number, row.Text, row.Date); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *CustomFieldPGStore) RemoveOptionValues(ctx context.Context, fieldID string, optionIDs []int64) ([]int64, error) {
	n, err := fieldNumber(fieldID)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(optionIDs))
	for _, id := range optionIDs {
		refs = append(refs, strconv.FormatInt(id, 10))
	}
	var affected []int64
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
DELETE FROM custom_field_values
WHERE field_id = $1 AND string_value = ANY($2)
RETURNING issue_id
`, n, refs)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		slices.Sort(ids)
		affected = slices.Compact(ids)
		return nil
	})
	return affected, err
}

// ---- issues ----

const issueColumns = `id, key, project_id, issue_type_id, summary, updated_at`

func scanIssue(row pgx.Row) (types.Issue, error) {
	var i types.Issue
	err := row.Scan(&i.ID, &i.Key, &i.ProjectID, &i.IssueTypeID, &i.Summary, &i.UpdatedAt)
	return i, err
}

func (s *CustomFieldPGStore) CreateIssue(ctx context.Context, issue types.Issue) (types.Issue, error) {
	var out types.Issue
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var projectKey string
		var count int64
		if err := tx.QueryRow(ctx, `
SELECT p.key, (SELECT count(*) FROM issues i WHERE i.project_id = p.id)
FROM projects p WHERE p.id = $1
`, issue.ProjectID).Scan(&projectKey, &count); err != nil {
			return noRows(err, ports.ErrProjectNotFound)
		}
		key := issue.Key
		if key == "" {
			key = projectKey + "-" + strconv.FormatInt(count+1, 10)
		}
		got, err := scanIssue(tx.QueryRow(ctx, `
INSERT INTO issues (key, project_id, issue_type_id, summary) VALUES ($1, $2, $3, $4)
RETURNING `+issueColumns, key, issue.ProjectID, issue.IssueTypeID, issue.Summary))
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrIssueKeyConflict
			}
			return err
		}
		out = got
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) GetIssue(ctx context.Context, issueID int64) (types.Issue, error) {
	var out types.Issue
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		i, err := scanIssue(tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, issueID))
		out = i
		return noRows(err, ports.ErrIssueNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) GetIssueByKey(ctx context.Context, key string) (types.Issue, error) {
	var out types.Issue
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		i, err := scanIssue(tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE key = upper($1)`, strings.TrimSpace(key)))
		out = i
		return noRows(err, ports.ErrIssueNotFound)
	})
	return out, err
}

func (s *CustomFieldPGStore) ListIssues(ctx context.Context, filter types.IssueFilter) ([]types.Issue, error) {
	var out []types.Issue
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT `+issueColumns+`
FROM issues
WHERE (cardinality($1::bigint[]) = 0 OR project_id = ANY($1))
  AND (cardinality($2::text[]) = 0 OR issue_type_id = ANY($2))
ORDER BY id
`, nonNil(filter.ProjectIDs), nonNil(filter.IssueTypeIDs))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Issue, error) { return scanIssue(r) })
		return err
	})
	return out, err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *CustomFieldPGStore) UpdateIssueType(ctx context.Context, issueID int64, issueTypeID string) (types.Issue, error) {
	var out types.Issue
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		i, err := scanIssue(tx.QueryRow(ctx, `
UPDATE issues SET issue_type_id = $2, updated_at = now() WHERE id = $1
RETURNING `+issueColumns, issueID, issueTypeID))
		out = i
		return noRows(err, ports.ErrIssueNotFound)
	})
	return out, err
}

// ---- change log ----

func (s *CustomFieldPGStore) AppendChangeGroup(ctx context.Context, group types.ChangeGroup) (types.ChangeGroup, error) {
	out := group
	out.Items = slices.Clone(group.Items)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM issues WHERE id = $1`, group.IssueID).Scan(&one); err != nil {
			return noRows(err, ports.ErrIssueNotFound)
		}
		if err := tx.QueryRow(ctx, `
INSERT INTO change_groups (issue_id, author) VALUES ($1, $2)
RETURNING id, created
`, group.IssueID, group.Author).Scan(&out.ID, &out.Created); err != nil {
			return err
		}
		for _, item := range group.Items {
			if _, err := tx.Exec(ctx, `
INSERT INTO change_items (group_id, field_id, field, from_value, from_string, to_value, to_string)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, out.ID, item.FieldID, item.FieldName, item.From, item.FromString, item.To, item.ToString); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *CustomFieldPGStore) ListChangeGroups(ctx context.Context, issueID int64) ([]types.ChangeGroup, error) {
	var out []types.ChangeGroup
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, issue_id, author, created FROM change_groups WHERE issue_id = $1 ORDER BY id`, issueID)
		if err != nil {
			return err
		}
		groups, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.ChangeGroup, error) {
			var g types.ChangeGroup
			err := r.Scan(&g.ID, &g.IssueID, &g.Author, &g.Created)
			return g, err
		})
		if err != nil || len(groups) == 0 {
			return err
		}
		ids := make([]int64, 0, len(groups))
		index := make(map[int64]int, len(groups))
		for i, g := range groups {
			ids = append(ids, g.ID)
			index[g.ID] = i
		}
		rows, err = tx.Query(ctx, `
SELECT group_id, field_id, field, from_value, from_string, to_value, to_string
FROM change_items WHERE group_id = ANY($1) ORDER BY id
`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var groupID int64
			var item types.ChangeItem
			if err := rows.Scan(&groupID, &item.FieldID, &item.FieldName, &item.From, &item.FromString, &item.To, &item.ToString); err != nil {
				return err
			}
			if i, ok := index[groupID]; ok {
				groups[i].Items = append(groups[i].Items, item)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = groups
		return nil
	})
	return out, err
}

var (
	_ ports.OptionsManager  = (*CustomFieldPGStore)(nil)
	_ ports.LabelManager    = (*CustomFieldPGStore)(nil)
	_ ports.VersionManager  = (*CustomFieldPGStore)(nil)
	_ ports.ProjectManager  = (*CustomFieldPGStore)(nil)
	_ ports.UserManager     = (*CustomFieldPGStore)(nil)
	_ ports.GroupManager    = (*CustomFieldPGStore)(nil)
	_ ports.FieldStore      = (*CustomFieldPGStore)(nil)
	_ ports.ValueStore      = (*CustomFieldPGStore)(nil)
	_ ports.IssueStore      = (*CustomFieldPGStore)(nil)
	_ ports.ChangeLogStore  = (*CustomFieldPGStore)(nil)
	_ ports.DirectoryWriter = (*CustomFieldPGStore)(nil)
	_ ports.Transactor      = (*CustomFieldPGStore)(nil)
)
