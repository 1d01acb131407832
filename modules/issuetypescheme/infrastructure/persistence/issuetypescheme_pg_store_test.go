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
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
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
	if len(dest) != len(r.vals) {
		return errors.New("scan arity mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

type txStub struct {
	pgx.Tx

	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execs      []string
	committed  bool
	rolledBack bool
}

func (t *txStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, strings.TrimSpace(sql))
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *txStub) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if t.queryRowFn != nil {
		return t.queryRowFn(ctx, sql, args...)
	}
	return rowStub{err: pgx.ErrNoRows}
}

func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *txStub) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func storeWith(tx *txStub) *IssueTypeSchemePGStore {
	return NewIssueTypeSchemePGStore(beginnerStub{beginFn: func(context.Context) (pgx.Tx, error) { return tx, nil }})
}

func TestIssueTypeSchemePGStore_CreateIssueType(t *testing.T) {
	ctx := context.Background()

	t.Run("name conflict", func(t *testing.T) {
		tx := &txStub{queryRowFn: func(context.Context, string, ...any) pgx.Row {
			return rowStub{err: &pgconn.PgError{Code: "23505", ConstraintName: "issue_types_name_unique"}}
		}}
		if _, err := storeWith(tx).CreateIssueType(ctx, types.IssueType{Name: "Bug"}); !errors.Is(err, ports.ErrIssueTypeNameConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if tx.committed || !tx.rolledBack {
			t.Fatalf("expected rollback only, committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
		}
	})

	t.Run("success", func(t *testing.T) {
		var gotArgs []any
		tx := &txStub{queryRowFn: func(_ context.Context, _ string, args ...any) pgx.Row {
			gotArgs = args
			return rowStub{vals: []any{"10000", "Epic", "", false, ""}}
		}}
		got, err := storeWith(tx).CreateIssueType(ctx, types.IssueType{Name: "Epic"})
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "10000" || !tx.committed {
			t.Fatalf("unexpected issue type %+v committed=%v", got, tx.committed)
		}
		if diff := cmp.Diff([]any{"", "Epic", "", false, ""}, gotArgs); diff != "" {
			t.Fatalf("args mismatch:\n%s", diff)
		}
	})
}

func TestIssueTypeSchemePGStore_NotFoundMapping(t *testing.T) {
	ctx := context.Background()
	s := storeWith(&txStub{execFn: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("DELETE 0"), nil
	}})
	if _, err := s.GetIssueType(ctx, "1"); !errors.Is(err, ports.ErrIssueTypeNotFound) {
		t.Fatalf("expected issue type not found, got %v", err)
	}
	if err := s.DeleteIssueType(ctx, "1"); !errors.Is(err, ports.ErrIssueTypeNotFound) {
		t.Fatalf("expected issue type not found, got %v", err)
	}
	if _, err := s.GetScheme(ctx, 1); !errors.Is(err, ports.ErrSchemeNotFound) {
		t.Fatalf("expected scheme not found, got %v", err)
	}
	if _, err := s.GetDefaultScheme(ctx); !errors.Is(err, ports.ErrDefaultSchemeMissing) {
		t.Fatalf("expected default missing, got %v", err)
	}
	if err := s.DeleteScheme(ctx, 1); !errors.Is(err, ports.ErrSchemeNotFound) {
		t.Fatalf("expected scheme not found, got %v", err)
	}
	if _, err := s.SchemeForProject(ctx, 1); !errors.Is(err, ports.ErrSchemeNotFound) {
		t.Fatalf("expected scheme not found, got %v", err)
	}
	if err := s.AssignProjects(ctx, 1, []int64{1}); !errors.Is(err, ports.ErrSchemeNotFound) {
		t.Fatalf("expected scheme not found, got %v", err)
	}
	if _, err := s.GetSession(ctx, "mig-1"); !errors.Is(err, ports.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestIssueTypeSchemePGStore_CreateScheme(t *testing.T) {
	calls := 0
	tx := &txStub{queryRowFn: func(_ context.Context, sql string, args ...any) pgx.Row {
		calls++
		if strings.Contains(sql, "INSERT INTO issue_type_schemes") {
			return rowStub{vals: []any{int64(7)}}
		}
		return rowStub{vals: []any{int64(7), "Dev", "", "3", false, []string{"3", "1"}, []int64{}}}
	}}
	got, err := storeWith(tx).CreateScheme(context.Background(), types.Scheme{Name: "Dev", DefaultIssueTypeID: "3", IssueTypeIDs: []string{"3", "1"}, ProjectIDs: []int64{4}})
	if err != nil {
		t.Fatal(err)
	}
	want := types.Scheme{ID: 7, Name: "Dev", DefaultIssueTypeID: "3", IssueTypeIDs: []string{"3", "1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scheme mismatch:\n%s", diff)
	}
	if calls != 2 || len(tx.execs) != 4 || !tx.committed {
		t.Fatalf("unexpected calls=%d execs=%v committed=%v", calls, tx.execs, tx.committed)
	}
	if !strings.HasPrefix(tx.execs[3], "INSERT INTO issue_type_scheme_projects") {
		t.Fatalf("expected project assignment, got %q", tx.execs[3])
	}
}

func TestIssueTypeSchemePGStore_UpdateSchemeNameConflict(t *testing.T) {
	tx := &txStub{queryRowFn: func(context.Context, string, ...any) pgx.Row {
		return rowStub{err: &pgconn.PgError{Code: "23505"}}
	}}
	if _, err := storeWith(tx).UpdateScheme(context.Background(), types.Scheme{ID: 2, Name: "Dup"}); !errors.Is(err, ports.ErrSchemeNameConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("options must not be rewritten, got %v", tx.execs)
	}
}

func TestIssueTypeSchemePGStore_AssignProjectsToDefaultOnlyDetaches(t *testing.T) {
	tx := &txStub{queryRowFn: func(context.Context, string, ...any) pgx.Row {
		return rowStub{vals: []any{true}}
	}}
	if err := storeWith(tx).AssignProjects(context.Background(), 1, []int64{4, 5}); err != nil {
		t.Fatal(err)
	}
	if len(tx.execs) != 1 || !strings.HasPrefix(tx.execs[0], "DELETE FROM issue_type_scheme_projects") {
		t.Fatalf("unexpected execs %v", tx.execs)
	}
}

func TestIssueTypeSchemePGStore_Sessions(t *testing.T) {
	ctx := context.Background()
	var saved []byte
	tx := &txStub{
		execFn: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			saved = args[2].([]byte)
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
		queryRowFn: func(context.Context, string, ...any) pgx.Row {
			return rowStub{vals: []any{saved}}
		},
	}
	s := storeWith(tx)
	sess := types.MigrationSession{
		ID:        "mig-1",
		Kind:      types.MigrationAssociate,
		SchemeID:  3,
		Step:      types.StepMapFields,
		Sources:   []types.MigrationSource{{ProjectID: 1, IssueTypeID: "1", IssueIDs: []int64{5}, TargetIssueTypeID: "3"}},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession(ctx, "mig-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sess, got); diff != "" {
		t.Fatalf("session mismatch:\n%s", diff)
	}
}
