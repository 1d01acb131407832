package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
)

func optionValues(t *testing.T, svc OptionService, configID int64, parentID int64) []string {
	t.Helper()
	opts, err := svc.ListOptions(context.Background(), configID, parentID)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Value)
	}
	return out
}

func TestOptionServiceOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.field(t, "Colour", fieldtypes.KeySelect)
	cfgID := d.Contexts[0].Config.ID
	opts := f.addOptions(t, cfgID, 0, "Red", "green", "Blue")
	red, green, blue := opts[0], opts[1], opts[2]

	if err := f.options.MoveOption(ctx, blue.ID, 0); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Blue", "Red", "green"}, optionValues(t, f.options, cfgID, 0)); diff != "" {
		t.Fatalf("move mismatch:\n%s", diff)
	}
	if err := f.options.MoveUp(ctx, blue.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.options.MoveDown(ctx, red.ID); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Blue", "green", "Red"}, optionValues(t, f.options, cfgID, 0)); diff != "" {
		t.Fatalf("move down mismatch:\n%s", diff)
	}
	if err := f.options.MoveDown(ctx, red.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.options.MoveOption(ctx, green.ID, 5); !httperr.IsBadRequest(err) {
		t.Fatalf("expected position error, got %v", err)
	}

	if err := f.options.MoveOption(ctx, red.ID, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.options.SortAlphabetically(ctx, cfgID, 0); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Blue", "green", "Red"}, optionValues(t, f.options, cfgID, 0)); diff != "" {
		t.Fatalf("sort mismatch:\n%s", diff)
	}

	text := f.field(t, "Notes", fieldtypes.KeyTextField)
	if err := f.options.SortAlphabetically(ctx, text.Contexts[0].Config.ID, 0); !httperr.IsBadRequest(err) {
		t.Fatalf("expected not option backed, got %v", err)
	}
}

func TestOptionServiceEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.field(t, "Colour", fieldtypes.KeySelect)
	cfgID := d.Contexts[0].Config.ID
	red := f.addOptions(t, cfgID, 0, "Red")[0]

	if _, err := f.options.AddOption(ctx, AddOptionRequest{ConfigID: cfgID, Value: " red "}); !errors.Is(err, ports.ErrOptionValueConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.options.AddOption(ctx, AddOptionRequest{ConfigID: cfgID, Value: ""}); !httperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := f.options.AddOption(ctx, AddOptionRequest{ConfigID: cfgID, ParentID: red.ID, Value: "Dark"}); !httperr.IsBadRequest(err) {
		t.Fatalf("select options cannot have children, got %v", err)
	}
	if _, err := f.options.AddOption(ctx, AddOptionRequest{ConfigID: 999, Value: "x"}); !errors.Is(err, ports.ErrFieldConfigNotFound) {
		t.Fatalf("expected config not found, got %v", err)
	}

	renamed, err := f.options.RenameOption(ctx, red.ID, "Crimson")
	if err != nil || renamed.Value != "Crimson" {
		t.Fatalf("unexpected rename %+v %v", renamed, err)
	}
	disabled, err := f.options.DisableOption(ctx, red.ID)
	if err != nil || !disabled.Disabled {
		t.Fatalf("unexpected disable %+v %v", disabled, err)
	}
	_, err = f.fields.UpdateValue(ctx, UpdateValueRequest{IssueKey: f.bug.Key, FieldID: d.Field.ID, Params: fieldtypes.SingleParam(id(red))})
	if code := validationCode(t, err); code != "CF_OPTION_DISABLED" {
		t.Fatalf("unexpected code %s", code)
	}
	enabled, err := f.options.EnableOption(ctx, red.ID)
	if err != nil || enabled.Disabled {
		t.Fatalf("unexpected enable %+v %v", enabled, err)
	}
	if _, err := f.options.RenameOption(ctx, 999, "x"); !errors.Is(err, ports.ErrOptionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteOptionClearsValuesAndDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.field(t, "Region", fieldtypes.KeyCascadingSelect)
	cfgID := d.Contexts[0].Config.ID
	europe := f.addOptions(t, cfgID, 0, "Europe")[0]
	asia := f.addOptions(t, cfgID, 0, "Asia")[0]
	france := f.addOptions(t, cfgID, europe.ID, "France")[0]

	p := fieldtypes.SingleParam(id(europe))
	p.Add(types.LevelChild, id(france))
	if _, err := f.fields.UpdateValue(ctx, UpdateValueRequest{IssueKey: f.bug.Key, FieldID: d.Field.ID, Params: p}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.fields.UpdateValue(ctx, UpdateValueRequest{IssueKey: f.task.Key, FieldID: d.Field.ID, Params: fieldtypes.SingleParam(id(asia))}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.fields.SetDefault(ctx, cfgID, fieldtypes.SingleParam(id(europe))); err != nil {
		t.Fatal(err)
	}

	res, err := f.options.DeleteOption(ctx, europe.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := DeleteOptionResult{RemovedOptionIDs: []int64{europe.ID, france.ID}, AffectedIssues: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch:\n%s", diff)
	}
	if rows, _ := f.store.GetValues(ctx, f.bug.ID, d.Field.ID); len(rows) != 0 {
		t.Fatalf("expected bug value cleared, got %+v", rows)
	}
	if rows, _ := f.store.GetValues(ctx, f.task.ID, d.Field.ID); len(rows) != 1 {
		t.Fatalf("expected task value kept, got %+v", rows)
	}
	cfg, _ := f.store.GetFieldConfig(ctx, cfgID)
	if len(cfg.Default) != 0 {
		t.Fatalf("expected default cleared, got %+v", cfg.Default)
	}
	if diff := cmp.Diff([]string{"Asia"}, optionValues(t, f.options, cfgID, 0)); diff != "" {
		t.Fatalf("remaining mismatch:\n%s", diff)
	}
}

type txStub struct {
	withinTxFn func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (s txStub) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.withinTxFn(ctx, fn)
}

func TestDeleteOptionRollsBackWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.field(t, "Colour", fieldtypes.KeySelect)
	cfgID := d.Contexts[0].Config.ID
	red := f.addOptions(t, cfgID, 0, "Red", "Green")[0]
	if _, err := f.fields.UpdateValue(ctx, UpdateValueRequest{IssueKey: f.bug.Key, FieldID: d.Field.ID, Params: fieldtypes.SingleParam(id(red))}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.fields.SetDefault(ctx, cfgID, fieldtypes.SingleParam(id(red))); err != nil {
		t.Fatal(err)
	}

	commitErr := errors.New("commit failed")
	calls := 0
	reg := fieldtypes.NewRegistry(fieldtypes.Deps{Options: f.store})
	svc := NewOptionService(OptionStores{
		Options: f.store,
		Fields:  f.store,
		Values:  f.store,
		Tx: txStub{withinTxFn: func(ctx context.Context, fn func(ctx context.Context) error) error {
			calls++
			return f.store.WithinTx(ctx, func(ctx context.Context) error {
				if err := fn(ctx); err != nil {
					return err
				}
				return commitErr
			})
		}},
	}, reg, nil, nil)

	if _, err := svc.DeleteOption(ctx, red.ID); !errors.Is(err, commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one unit of work, got %d", calls)
	}
	if _, err := f.store.GetOption(ctx, red.ID); err != nil {
		t.Fatalf("option must survive a failed delete: %v", err)
	}
	if rows, _ := f.store.GetValues(ctx, f.bug.ID, d.Field.ID); len(rows) != 1 {
		t.Fatalf("expected value kept, got %+v", rows)
	}
	if cfg, _ := f.store.GetFieldConfig(ctx, cfgID); len(cfg.Default) != 1 {
		t.Fatalf("expected default kept, got %+v", cfg.Default)
	}
}
