package persistence

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type beginnerStub struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (b beginnerStub) Begin(ctx context.Context) (pgx.Tx, error) {
	return b.beginFn(ctx)
}

type rowStub struct {
	vals []any
	err  error
}

func (r rowStub) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return errors.New("scan arity mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

type rowsStub struct {
	pgx.Rows
	rows [][]any
	idx  int
	err  error
}

func (r *rowsStub) Next() bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *rowsStub) Scan(dest ...any) error { return assign(dest, r.rows[r.idx-1]) }
func (r *rowsStub) Close()                 {}
func (r *rowsStub) Err() error             { return r.err }

func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }

type batchStub struct {
	pgx.BatchResults
	execErr error
	execs   int
}

func (b *batchStub) Exec() (pgconn.CommandTag, error) {
	b.execs++
	return pgconn.CommandTag{}, b.execErr
}

func (b *batchStub) Close() error { return nil }

type txStub struct {
	pgx.Tx

	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	batch      *batchStub
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *txStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (t *txStub) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.queryFn != nil {
		return t.queryFn(ctx, sql, args...)
	}
	return &rowsStub{}, nil
}

func (t *txStub) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if t.queryRowFn != nil {
		return t.queryRowFn(ctx, sql, args...)
	}
	return rowStub{err: pgx.ErrNoRows}
}

func (t *txStub) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	return t.batch
}

func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *txStub) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func storeWith(tx *txStub) *CustomFieldPGStore {
	return NewCustomFieldPGStore(beginnerStub{beginFn: func(context.Context) (pgx.Tx, error) { return tx, nil }})
}

func TestCustomFieldPGStore_CreateField(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("begin error", func(t *testing.T) {
		s := NewCustomFieldPGStore(beginnerStub{beginFn: func(context.Context) (pgx.Tx, error) {
			return nil, errors.New("begin")
		}})
		if _, err := s.CreateField(context.Background(), types.CustomField{Name: "Severity"}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("name conflict", func(t *testing.T) {
		tx := &txStub{queryRowFn: func(context.Context, string, ...any) pgx.Row {
			return rowStub{err: &pgconn.PgError{Code: "23505", ConstraintName: "custom_fields_name_unique"}}
		}}
		_, err := storeWith(tx).CreateField(context.Background(), types.CustomField{Name: "Severity"})
		if !errors.Is(err, ports.ErrFieldNameConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if tx.committed || !tx.rolledBack {
			t.Fatalf("expected rollback only, committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
		}
	})

	t.Run("commit error", func(t *testing.T) {
		tx := &txStub{
			queryRowFn: func(context.Context, string, ...any) pgx.Row {
				return rowStub{vals: []any{int64(10000), "Severity", "", "select", created}}
			},
			commitErr: errors.New("commit"),
		}
		if _, err := storeWith(tx).CreateField(context.Background(), types.CustomField{Name: "Severity"}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("success", func(t *testing.T) {
		var gotArgs []any
		tx := &txStub{queryRowFn: func(_ context.Context, _ string, args ...any) pgx.Row {
			gotArgs = args
			return rowStub{vals: []any{int64(10000), "Severity", "impact", "select", created}}
		}}
		got, err := storeWith(tx).CreateField(context.Background(), types.CustomField{Name: "Severity", Description: "impact", TypeKey: "select"})
		if err != nil {
			t.Fatal(err)
		}
		want := types.CustomField{ID: "customfield_10000", NumericID: 10000, Name: "Severity", Description: "impact", TypeKey: "select", CreatedAt: created}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("field mismatch:\n%s", diff)
		}
		if diff := cmp.Diff([]any{"Severity", "impact", "select"}, gotArgs); diff != "" {
			t.Fatalf("args mismatch:\n%s", diff)
		}
		if !tx.committed {
			t.Fatal("expected commit")
		}
	})
}

func TestCustomFieldPGStore_NotFoundMapping(t *testing.T) {
	ctx := context.Background()
	s := storeWith(&txStub{})

	if _, err := s.GetField(ctx, "summary"); !errors.Is(err, ports.ErrFieldNotFound) {
		t.Fatalf("expected field not found for bad id, got %v", err)
	}
	if _, err := s.GetField(ctx, "customfield_10001"); !errors.Is(err, ports.ErrFieldNotFound) {
		t.Fatalf("expected field not found, got %v", err)
	}
	if _, err := s.GetIssue(ctx, 1); !errors.Is(err, ports.ErrIssueNotFound) {
		t.Fatalf("expected issue not found, got %v", err)
	}
	if _, err := s.GetOption(ctx, 1); !errors.Is(err, ports.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}
	if _, err := s.GetFieldConfig(ctx, 1); !errors.Is(err, ports.ErrFieldConfigNotFound) {
		t.Fatalf("expected config not found, got %v", err)
	}
	if err := s.DeleteContext(ctx, 1); !errors.Is(err, ports.ErrContextNotFound) {
		t.Fatalf("expected context not found, got %v", err)
	}
	if _, err := s.CreateOption(ctx, 1, 0, "Red"); !errors.Is(err, ports.ErrFieldConfigNotFound) {
		t.Fatalf("expected config not found, got %v", err)
	}
	if _, err := s.CreateIssue(ctx, types.Issue{ProjectID: 9}); !errors.Is(err, ports.ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
}

func TestCustomFieldPGStore_GetFieldConfigDecodesDefault(t *testing.T) {
	tx := &txStub{queryRowFn: func(context.Context, string, ...any) pgx.Row {
		return rowStub{vals: []any{int64(3), int64(10000), "Default", true, "size(value) > 0", []byte(`[{"level":0,"string":"12"}]`)}}
	}}
	cfg, err := storeWith(tx).GetFieldConfig(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := types.FieldConfig{
		ID:             3,
		FieldID:        "customfield_10000",
		Name:           "Default",
		Required:       true,
		ValidationExpr: "size(value) > 0",
		Default:        []types.StoredValue{{String: "12"}},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch:\n%s", diff)
	}
}

func TestCustomFieldPGStore_GetValues(t *testing.T) {
	n := 4.5
	tx := &txStub{queryFn: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		if args[0] != int64(7) || args[1] != int64(10000) {
			t.Fatalf("unexpected args %v", args)
		}
		return &rowsStub{rows: [][]any{
			{0, "", &n, "", nil},
		}}, nil
	}}
	rows, err := storeWith(tx).GetValues(context.Background(), 7, "customfield_10000")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]types.StoredValue{{Number: &n}}, rows); diff != "" {
		t.Fatalf("rows mismatch:\n%s", diff)
	}

	empty := storeWith(&txStub{})
	rows, err = empty.GetValues(context.Background(), 7, "customfield_10000")
	if err != nil || rows != nil {
		t.Fatalf("expected nil rows, got %v %v", rows, err)
	}
}

func TestCustomFieldPGStore_SetValuesExecError(t *testing.T) {
	tx := &txStub{execFn: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "INSERT") {
			return pgconn.CommandTag{}, errors.New("insert")
		}
		return pgconn.CommandTag{}, nil
	}}
	err := storeWith(tx).SetValues(context.Background(), 1, "customfield_10000", []types.StoredValue{types.StringRow(types.LevelParent, "a")})
	if err == nil || err.Error() != "insert" {
		t.Fatalf("expected insert error, got %v", err)
	}
	if tx.committed {
		t.Fatal("unexpected commit")
	}
}

func TestCustomFieldPGStore_RemoveOptionValues(t *testing.T) {
	var refs any
	tx := &txStub{queryFn: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		refs = args[1]
		return &rowsStub{rows: [][]any{{int64(9)}, {int64(3)}, {int64(9)}}}, nil
	}}
	affected, err := storeWith(tx).RemoveOptionValues(context.Background(), "customfield_10000", []int64{11, 12})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{3, 9}, affected); diff != "" {
		t.Fatalf("affected mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"11", "12"}, refs); diff != "" {
		t.Fatalf("refs mismatch:\n%s", diff)
	}
}

func TestCustomFieldPGStore_ReorderOptions(t *testing.T) {
	siblings := func(context.Context, string, ...any) (pgx.Rows, error) {
		return &rowsStub{rows: [][]any{{int64(1)}, {int64(2)}}}, nil
	}

	t.Run("set mismatch", func(t *testing.T) {
		tx := &txStub{queryFn: siblings, batch: &batchStub{}}
		err := storeWith(tx).ReorderOptions(context.Background(), 1, 0, []int64{2, 3})
		if !errors.Is(err, ports.ErrOptionOrderInvalid) {
			t.Fatalf("expected order invalid, got %v", err)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		tx := &txStub{queryFn: siblings, batch: &batchStub{}}
		err := storeWith(tx).ReorderOptions(context.Background(), 1, 0, []int64{2, 2, 1})
		if !errors.Is(err, ports.ErrOptionOrderInvalid) {
			t.Fatalf("expected order invalid, got %v", err)
		}
	})

	t.Run("batch error", func(t *testing.T) {
		tx := &txStub{queryFn: siblings, batch: &batchStub{execErr: errors.New("batch")}}
		if err := storeWith(tx).ReorderOptions(context.Background(), 1, 0, []int64{2, 1}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("success", func(t *testing.T) {
		b := &batchStub{}
		tx := &txStub{queryFn: siblings, batch: b}
		if err := storeWith(tx).ReorderOptions(context.Background(), 1, 0, []int64{2, 1}); err != nil {
			t.Fatal(err)
		}
		if b.execs != 2 || !tx.committed {
			t.Fatalf("execs=%d committed=%v", b.execs, tx.committed)
		}
	})
}

func TestCustomFieldPGStore_CreateIssueKeys(t *testing.T) {
	var inserted string
	tx := &txStub{queryRowFn: func(_ context.Context, sql string, args ...any) pgx.Row {
		if strings.Contains(sql, "FROM projects") {
			return rowStub{vals: []any{"PRJ", int64(4)}}
		}
		inserted = args[0].(string)
		return rowStub{err: &pgconn.PgError{Code: "23505", ConstraintName: "issues_key_unique"}}
	}}
	_, err := storeWith(tx).CreateIssue(context.Background(), types.Issue{ProjectID: 1, IssueTypeID: "1"})
	if !errors.Is(err, ports.ErrIssueKeyConflict) {
		t.Fatalf("expected key conflict, got %v", err)
	}
	if inserted != "PRJ-5" {
		t.Fatalf("inserted key=%q", inserted)
	}
}

func TestCustomFieldPGStore_IsMember(t *testing.T) {
	row := func(exists, member bool) func(context.Context, string, ...any) pgx.Row {
		return func(context.Context, string, ...any) pgx.Row { return rowStub{vals: []any{exists, member}} }
	}
	if _, err := storeWith(&txStub{queryRowFn: row(false, false)}).IsMember(context.Background(), "devs", "alice"); !errors.Is(err, ports.ErrGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
	ok, err := storeWith(&txStub{queryRowFn: row(true, true)}).IsMember(context.Background(), "devs", "alice")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestCustomFieldPGStore_ListChangeGroups(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tx := &txStub{queryFn: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
		if strings.Contains(sql, "FROM change_groups") {
			return &rowsStub{rows: [][]any{{int64(1), int64(7), "alice", created}}}, nil
		}
		return &rowsStub{rows: [][]any{{int64(1), "customfield_10000", "Severity", "", "", "12", "High"}}}, nil
	}}
	groups, err := storeWith(tx).ListChangeGroups(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.ChangeGroup{{
		ID: 1, IssueID: 7, Author: "alice", Created: created,
		Items: []types.ChangeItem{{FieldID: "customfield_10000", FieldName: "Severity", To: "12", ToString: "High"}},
	}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch:\n%s", diff)
	}
}

func TestCustomFieldPGStore_WithinTxSharesOneTransaction(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := []types.StoredValue{{String: "10100"}}

	t.Run("commits once", func(t *testing.T) {
		begins := 0
		tx := &txStub{queryRowFn: func(_ context.Context, sql string, _ ...any) pgx.Row {
			if strings.Contains(sql, "SELECT 1 FROM issues") {
				return rowStub{vals: []any{1}}
			}
			return rowStub{vals: []any{int64(7), created}}
		}}
		s := NewCustomFieldPGStore(beginnerStub{beginFn: func(context.Context) (pgx.Tx, error) {
			begins++
			return tx, nil
		}})
		err := s.WithinTx(context.Background(), func(ctx context.Context) error {
			if err := s.SetValues(ctx, 1, "customfield_10000", rows); err != nil {
				return err
			}
			_, err := s.AppendChangeGroup(ctx, types.ChangeGroup{IssueID: 1, Author: "alice"})
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if begins != 1 || !tx.committed {
			t.Fatalf("begins=%d committed=%v", begins, tx.committed)
		}
	})

	t.Run("rolls back every write", func(t *testing.T) {
		begins := 0
		tx := &txStub{}
		s := NewCustomFieldPGStore(beginnerStub{beginFn: func(context.Context) (pgx.Tx, error) {
			begins++
			return tx, nil
		}})
		err := s.WithinTx(context.Background(), func(ctx context.Context) error {
			if err := s.SetValues(ctx, 1, "customfield_10000", rows); err != nil {
				return err
			}
			_, err := s.AppendChangeGroup(ctx, types.ChangeGroup{IssueID: 1, Author: "alice"})
			return err
		})
		if !errors.Is(err, ports.ErrIssueNotFound) {
			t.Fatalf("err=%v", err)
		}
		if begins != 1 || tx.committed || !tx.rolledBack {
			t.Fatalf("begins=%d committed=%v rolledBack=%v", begins, tx.committed, tx.rolledBack)
		}
	})
}
