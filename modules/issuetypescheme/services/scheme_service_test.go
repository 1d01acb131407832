package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/metrics"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	cftypes "github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	cfmemory "github.com/jacksonlee411/issuefields/modules/customfield/infrastructure/memory"
	cfservices "github.com/jacksonlee411/issuefields/modules/customfield/services"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/infrastructure/memory"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
	"github.com/jacksonlee411/issuefields/pkg/ids"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	cf      *cfmemory.Store
	its     *memory.Store
	fields  cfservices.FieldService
	options cfservices.OptionService
	schemes SchemeService
	wizard  MigrationWizard
	project cftypes.Project
	other   cftypes.Project
	bug1    cftypes.Issue
	bug2    cftypes.Issue
	task    cftypes.Issue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cf := cfmemory.NewStore()
	its := memory.NewStore()
	reg := fieldtypes.NewRegistry(fieldtypes.Deps{Options: cf, Labels: cf, Versions: cf, Projects: cf, Users: cf, Groups: cf})
	fields := cfservices.NewFieldService(
		cfservices.FieldStores{Fields: cf, Values: cf, Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf},
		reg, zap.NewNop(), metrics.Nop{}, fieldtypes.Links{},
	)
	stores := Stores{IssueTypes: its, Schemes: its, Sessions: its, Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf}
	f := &fixture{
		cf:      cf,
		its:     its,
		fields:  fields,
		options: cfservices.NewOptionService(cfservices.OptionStores{Options: cf, Fields: cf, Values: cf, Tx: cf}, reg, nil, nil),
		schemes: NewSchemeService(stores, zap.NewNop()),
		wizard:  NewMigrationWizard(stores, fields, zap.NewNop(), metrics.Nop{}, WizardConfig{Workers: 2, NewID: ids.Sequence("mig")}),
	}
	if err := f.schemes.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	var err error
	if f.project, err = cf.PutProject(ctx, cftypes.Project{Key: "PRJ", Name: "Project"}); err != nil {
		t.Fatal(err)
	}
	if f.other, err = cf.PutProject(ctx, cftypes.Project{Key: "OTH", Name: "Other"}); err != nil {
		t.Fatal(err)
	}
	for _, issue := range []struct {
		dst    *cftypes.Issue
		typeID string
	}{{&f.bug1, "1"}, {&f.bug2, "1"}, {&f.task, "3"}} {
		if *issue.dst, err = cf.CreateIssue(ctx, cftypes.Issue{ProjectID: f.project.ID, IssueTypeID: issue.typeID, Summary: "issue"}); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) scheme(t *testing.T, name string, issueTypeIDs ...string) types.Scheme {
	t.Helper()
	sc, err := f.schemes.CreateScheme(context.Background(), types.SchemeOptions{Name: name, IssueTypeIDs: issueTypeIDs})
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.schemes.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	all, err := f.schemes.ListIssueTypes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, it := range all {
		names = append(names, it.Name)
	}
	if diff := cmp.Diff([]string{"Bug", "New Feature", "Task", "Improvement", "Sub-task"}, names); diff != "" {
		t.Fatalf("issue types mismatch (-want +got):\n%s", diff)
	}
	schemes, err := f.schemes.ListSchemes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(schemes) != 1 || !schemes[0].IsDefault || len(schemes[0].IssueTypeIDs) != 5 {
		t.Fatalf("unexpected schemes %+v", schemes)
	}
	sc, err := f.schemes.SchemeForProject(ctx, f.project.ID)
	if err != nil || !sc.IsDefault {
		t.Fatalf("expected default scheme, got %+v %v", sc, err)
	}
}

func TestCreateSchemeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		opts types.SchemeOptions
		code string
	}{
		{"name", types.SchemeOptions{Name: " ", IssueTypeIDs: []string{"1"}}, errSchemeNameRequired},
		{"options", types.SchemeOptions{Name: "S"}, errSchemeOptionsRequired},
		{"duplicate", types.SchemeOptions{Name: "S", IssueTypeIDs: []string{"1", "1"}}, errSchemeOptionsDuplicate},
		{"unknown", types.SchemeOptions{Name: "S", IssueTypeIDs: []string{"1", "99"}}, errIssueTypeUnknown},
		{"default", types.SchemeOptions{Name: "S", IssueTypeIDs: []string{"1"}, DefaultIssueTypeID: "3"}, errDefaultNotInOptions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.schemes.CreateScheme(ctx, tc.opts)
			if !httperr.IsBadRequest(err) || err.Error() != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	sc, err := f.schemes.CreateScheme(ctx, types.SchemeOptions{Name: " Dev ", IssueTypeIDs: []string{"3", "1"}, DefaultIssueTypeID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "Dev" || sc.IsDefault || sc.DefaultIssueTypeID != "1" {
		t.Fatalf("unexpected scheme %+v", sc)
	}
	if diff := cmp.Diff([]string{"3", "1"}, sc.IssueTypeIDs); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.schemes.CreateScheme(ctx, types.SchemeOptions{Name: "dev", IssueTypeIDs: []string{"1"}}); !errors.Is(err, ports.ErrSchemeNameConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}
}

func TestDefaultSchemeIsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def, err := f.schemes.SchemeForProject(ctx, f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.schemes.UpdateScheme(ctx, def.ID, types.SchemeOptions{Name: def.Name, IssueTypeIDs: []string{"1"}}); !httperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	renamed, err := f.schemes.UpdateScheme(ctx, def.ID, types.SchemeOptions{Name: "Global", DefaultIssueTypeID: "3"})
	if err != nil {
		t.Fatal(err)
	}
	if renamed.Name != "Global" || renamed.DefaultIssueTypeID != "3" || len(renamed.IssueTypeIDs) != 5 {
		t.Fatalf("unexpected default scheme %+v", renamed)
	}
	if err := f.schemes.DeleteScheme(ctx, def.ID); !httperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.wizard.Start(ctx, StartMigrationRequest{Kind: types.MigrationUpdateOptions, SchemeID: def.ID, Proposed: &types.SchemeOptions{Name: "x", IssueTypeIDs: []string{"1"}}}); !httperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAssociateProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	narrow := f.scheme(t, "Tasks only", "3")

	_, err := f.schemes.AssociateProjects(ctx, narrow.ID, []int64{f.project.ID})
	mr, ok := errors.AsType[*MigrationRequiredError](err)
	if !ok || !errors.Is(err, ErrMigrationRequired) {
		t.Fatalf("expected migration required, got %v", err)
	}
	if diff := cmp.Diff([]types.Usage{{ProjectID: f.project.ID, IssueTypeID: "1", Issues: 2}}, mr.Usages); diff != "" {
		t.Fatalf("usages mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.schemes.AssociateProjects(ctx, narrow.ID, nil); !httperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}

	wide := f.scheme(t, "Bugs and tasks", "1", "3")
	got, err := f.schemes.AssociateProjects(ctx, wide.ID, []int64{f.project.ID, f.other.ID})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{f.project.ID, f.other.ID}, got.ProjectIDs); diff != "" {
		t.Fatalf("projects mismatch (-want +got):\n%s", diff)
	}
	// Moving one project away detaches it from the previous scheme.
	if _, err := f.schemes.AssociateProjects(ctx, narrow.ID, []int64{f.other.ID}); err != nil {
		t.Fatal(err)
	}
	sc, err := f.schemes.SchemeForProject(ctx, f.other.ID)
	if err != nil || sc.ID != narrow.ID {
		t.Fatalf("expected narrow scheme, got %+v %v", sc, err)
	}
	if wide, err = f.schemes.GetScheme(ctx, wide.ID); err != nil || len(wide.ProjectIDs) != 1 {
		t.Fatalf("expected one project left, got %+v %v", wide, err)
	}

	if err := f.schemes.DeleteScheme(ctx, wide.ID); err != nil {
		t.Fatal(err)
	}
	if sc, err := f.schemes.SchemeForProject(ctx, f.project.ID); err != nil || !sc.IsDefault {
		t.Fatalf("expected fallback to default, got %+v %v", sc, err)
	}
}

func TestUpdateSchemeRequiresMigration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.scheme(t, "Dev", "1", "3")
	if _, err := f.schemes.AssociateProjects(ctx, sc.ID, []int64{f.project.ID}); err != nil {
		t.Fatal(err)
	}
	_, err := f.schemes.UpdateScheme(ctx, sc.ID, types.SchemeOptions{Name: "Dev", IssueTypeIDs: []string{"1", "2"}})
	if !errors.Is(err, ErrMigrationRequired) {
		t.Fatalf("expected migration required, got %v", err)
	}
	got, err := f.schemes.UpdateScheme(ctx, sc.ID, types.SchemeOptions{Name: "Dev", Description: "d", IssueTypeIDs: []string{"3", "2", "1"}, DefaultIssueTypeID: "2"})
	if err != nil {
		t.Fatal(err)
	}
	want := types.Scheme{ID: sc.ID, Name: "Dev", Description: "d", DefaultIssueTypeID: "2", IssueTypeIDs: []string{"3", "2", "1"}, ProjectIDs: []int64{f.project.ID}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scheme mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyReorderAndSetDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.scheme(t, "Dev", "1", "2", "3")
	if _, err := f.schemes.AssociateProjects(ctx, sc.ID, []int64{f.other.ID}); err != nil {
		t.Fatal(err)
	}

	first, err := f.schemes.CopyScheme(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.schemes.CopyScheme(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Name != "Copy of Dev" || second.Name != "Copy of Dev (2)" || len(first.ProjectIDs) != 0 {
		t.Fatalf("unexpected copies %+v %+v", first, second)
	}

	if _, err := f.schemes.ReorderOptions(ctx, sc.ID, []string{"1", "2"}); !httperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := f.schemes.ReorderOptions(ctx, sc.ID, []string{"1", "1", "2"}); !httperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	got, err := f.schemes.ReorderOptions(ctx, sc.ID, []string{"3", "1", "2"})
	if err != nil || !cmp.Equal([]string{"3", "1", "2"}, got.IssueTypeIDs) {
		t.Fatalf("unexpected reorder %+v %v", got, err)
	}

	if _, err := f.schemes.SetDefault(ctx, sc.ID, "4"); !httperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if got, err = f.schemes.SetDefault(ctx, sc.ID, "2"); err != nil || got.DefaultIssueTypeID != "2" {
		t.Fatalf("unexpected default %+v %v", got, err)
	}
	if got, err = f.schemes.SetDefault(ctx, sc.ID, ""); err != nil || got.DefaultIssueTypeID != "" {
		t.Fatalf("unexpected cleared default %+v %v", got, err)
	}
}

func TestIssueTypeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.schemes.CreateIssueType(ctx, CreateIssueTypeRequest{Name: " "}); !httperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := f.schemes.CreateIssueType(ctx, CreateIssueTypeRequest{Name: "bug"}); !errors.Is(err, ports.ErrIssueTypeNameConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}
	epic, err := f.schemes.CreateIssueType(ctx, CreateIssueTypeRequest{Name: "Epic", Description: "Big"})
	if err != nil {
		t.Fatal(err)
	}
	if epic.ID != "6" {
		t.Fatalf("expected id 6, got %+v", epic)
	}
	def, _ := f.schemes.SchemeForProject(ctx, f.project.ID)
	if !def.Contains(epic.ID) {
		t.Fatalf("new issue type must join the default scheme, got %+v", def)
	}

	sc, story, err := f.schemes.AddNewIssueTypeToScheme(ctx, AddIssueTypeRequest{
		SchemeID:               f.scheme(t, "Improvements", "4").ID,
		CreateIssueTypeRequest: CreateIssueTypeRequest{Name: "Story"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"4", story.ID}, sc.IssueTypeIDs); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := f.schemes.AddNewIssueTypeToScheme(ctx, AddIssueTypeRequest{SchemeID: 404, CreateIssueTypeRequest: CreateIssueTypeRequest{Name: "Ghost"}}); !errors.Is(err, ports.ErrSchemeNotFound) {
		t.Fatalf("expected scheme not found, got %v", err)
	}

	if err := f.schemes.DeleteIssueType(ctx, "1"); !httperr.IsConflict(err) || err.Error() != errIssueTypeInUse {
		t.Fatalf("expected in use, got %v", err)
	}
	f.scheme(t, "Lonely", "2")
	if err := f.schemes.DeleteIssueType(ctx, "2"); !httperr.IsConflict(err) || err.Error() != errIssueTypeLastInScheme {
		t.Fatalf("expected last in scheme, got %v", err)
	}
	if err := f.schemes.DeleteIssueType(ctx, "404"); !errors.Is(err, ports.ErrIssueTypeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.schemes.DeleteIssueType(ctx, epic.ID); err != nil {
		t.Fatal(err)
	}
	if def, _ = f.schemes.SchemeForProject(ctx, f.project.ID); def.Contains(epic.ID) {
		t.Fatalf("deleted type must leave the default scheme, got %+v", def)
	}
}
