package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	cftypes "github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	cfmemory "github.com/jacksonlee411/issuefields/modules/customfield/infrastructure/memory"
	cfservices "github.com/jacksonlee411/issuefields/modules/customfield/services"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/infrastructure/memory"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
	"github.com/jacksonlee411/issuefields/pkg/ids"
)

type adminFixture struct {
	router  *routing.Router
	cf      *cfmemory.Store
	project cftypes.Project
	bug     cftypes.Issue
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	ctx := context.Background()
	cf := cfmemory.NewStore()
	its := memory.NewStore()
	reg := fieldtypes.NewRegistry(fieldtypes.Deps{Options: cf, Labels: cf, Versions: cf, Projects: cf, Users: cf, Groups: cf})
	fields := cfservices.NewFieldService(
		cfservices.FieldStores{Fields: cf, Values: cf, Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf},
		reg, nil, nil, fieldtypes.Links{},
	)
	stores := services.Stores{IssueTypes: its, Schemes: its, Sessions: its, Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf}
	schemes := services.NewSchemeService(stores, nil)
	if err := schemes.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	wizard := services.NewMigrationWizard(stores, fields, nil, nil, services.WizardConfig{Workers: 1, NewID: ids.Sequence("mig")})
	principal := func(context.Context) (string, bool) { return "admin", true }

	a := routing.Allowlist{
		Version: 1,
		Entrypoints: map[string]routing.Entrypoint{
			"server": {Routes: []routing.Route{{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"}}},
		},
	}
	c, err := routing.NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}
	r := routing.NewRouter(c)
	SchemesController{Schemes: schemes}.Register(r)
	MigrationsController{Wizard: wizard, Principal: principal}.Register(r)
	AdminFormsController{Schemes: schemes, Wizard: wizard, Principal: principal}.Register(r)

	p, err := cf.PutProject(ctx, cftypes.Project{Key: "PRJ", Name: "Project"})
	if err != nil {
		t.Fatal(err)
	}
	bug, err := cf.CreateIssue(ctx, cftypes.Issue{ProjectID: p.ID, IssueTypeID: "1", Summary: "bug"})
	if err != nil {
		t.Fatal(err)
	}
	return &adminFixture{router: r, cf: cf, project: p, bug: bug}
}

func (f *adminFixture) do(t *testing.T, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *adminFixture) form(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[struct {
		Code string `json:"code"`
	}](t, rec).Code
}

func (f *adminFixture) createScheme(t *testing.T, body string) types.Scheme {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/admin/api/issue-type-schemes", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create scheme status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decode[types.Scheme](t, rec)
}

func TestIssueTypesAPI(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/api/issue-types", "")
	list := decode[struct {
		IssueTypes []types.IssueType `json:"issue_types"`
	}](t, rec)
	if rec.Code != http.StatusOK || len(list.IssueTypes) != 5 {
		t.Fatalf("list status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/admin/api/issue-types", `{"name":"Epic"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	epic := decode[types.IssueType](t, rec)
	if rec := f.do(t, http.MethodPost, "/admin/api/issue-types", `{"name":"epic"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/admin/api/issue-types/1:delete", ""); rec.Code != http.StatusConflict || errorCode(t, rec) != "ITS_ISSUE_TYPE_IN_USE" {
		t.Fatalf("in use status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/admin/api/issue-types/"+epic.ID+":delete", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/admin/api/issue-types/"+epic.ID+":delete", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", rec.Code)
	}
}

func TestSchemesAPI(t *testing.T) {
	f := newAdminFixture(t)

	if rec := f.do(t, http.MethodPost, "/admin/api/issue-type-schemes", `{"name":"Dev","issue_type_ids":["99"]}`); rec.Code != http.StatusBadRequest || errorCode(t, rec) != "ITS_ISSUE_TYPE_UNKNOWN" {
		t.Fatalf("unknown type status=%d body=%s", rec.Code, rec.Body.String())
	}
	sc := f.createScheme(t, `{"name":"Dev","issue_type_ids":["3","2"],"default_issue_type_id":"3"}`)
	base := "/admin/api/issue-type-schemes/" + strconv.FormatInt(sc.ID, 10)

	if rec := f.do(t, http.MethodGet, base, ""); rec.Code != http.StatusOK || decode[types.Scheme](t, rec).Name != "Dev" {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/admin/api/issue-type-schemes/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, base+":associate", `{"project_ids":[`+strconv.FormatInt(f.project.ID, 10)+`]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("associate status=%d body=%s", rec.Code, rec.Body.String())
	}
	required := decode[migrationRequiredEnvelope](t, rec)
	if required.Code != "ITS_MIGRATION_REQUIRED" || len(required.Usages) != 1 || required.Usages[0].IssueTypeID != "1" {
		t.Fatalf("unexpected envelope %+v", required)
	}

	if rec := f.do(t, http.MethodPost, base+":reorder", `{"issue_type_ids":["2","3"]}`); rec.Code != http.StatusOK || decode[types.Scheme](t, rec).IssueTypeIDs[0] != "2" {
		t.Fatalf("reorder status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, base+":set-default", `{"issue_type_id":"2"}`); rec.Code != http.StatusOK || decode[types.Scheme](t, rec).DefaultIssueTypeID != "2" {
		t.Fatalf("set default status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, base+":add-issue-type", `{"name":"Story"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add issue type status=%d body=%s", rec.Code, rec.Body.String())
	}
	added := decode[struct {
		Scheme    types.Scheme    `json:"scheme"`
		IssueType types.IssueType `json:"issue_type"`
	}](t, rec)
	if !added.Scheme.Contains(added.IssueType.ID) {
		t.Fatalf("unexpected add %+v", added)
	}
	if rec := f.do(t, http.MethodPost, base+":update", `{"name":"Dev 2","issue_type_ids":["2"]}`); rec.Code != http.StatusOK || decode[types.Scheme](t, rec).Name != "Dev 2" {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, base+":copy", "")
	if rec.Code != http.StatusCreated || decode[types.Scheme](t, rec).Name != "Copy of Dev 2" {
		t.Fatalf("copy status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, base+":delete", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/admin/api/issue-type-schemes/1:delete", ""); rec.Code != http.StatusConflict || errorCode(t, rec) != "ITS_DEFAULT_SCHEME_UNDELETABLE" {
		t.Fatalf("default delete status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/admin/api/projects/"+strconv.FormatInt(f.project.ID, 10)+"/issue-type-scheme", "")
	if rec.Code != http.StatusOK || !decode[types.Scheme](t, rec).IsDefault {
		t.Fatalf("project scheme status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/admin/api/projects/999/issue-type-scheme", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing project status=%d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/admin/api/issue-type-schemes", "")
	if got := decode[struct {
		Schemes []types.Scheme `json:"schemes"`
	}](t, rec).Schemes; len(got) != 2 {
		t.Fatalf("expected default and copy, got %+v", got)
	}
}

func TestMigrationsAPI(t *testing.T) {
	f := newAdminFixture(t)
	sc := f.createScheme(t, `{"name":"Tasks","issue_type_ids":["3"]}`)
	project := strconv.FormatInt(f.project.ID, 10)

	rec := f.do(t, http.MethodPost, "/admin/api/migrations", `{"kind":"associate","scheme_id":`+strconv.FormatInt(sc.ID, 10)+`,"project_ids":[`+project+`]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status=%d body=%s", rec.Code, rec.Body.String())
	}
	sess := decode[types.MigrationSession](t, rec)
	if sess.ID != "mig-1" || sess.Author != "admin" || len(sess.Sources) != 1 {
		t.Fatalf("unexpected session %+v", sess)
	}
	base := "/admin/api/migrations/" + sess.ID

	if rec := f.do(t, http.MethodPost, base+":execute", ""); rec.Code != http.StatusConflict || errorCode(t, rec) != "ITS_MIGRATION_INVALID_TRANSITION" {
		t.Fatalf("execute early status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, base+":targets", `{"targets":[{"project_id":`+project+`,"issue_type_id":"1","target_issue_type_id":"3"}]}`); rec.Code != http.StatusOK {
		t.Fatalf("targets status=%d body=%s", rec.Code, rec.Body.String())
	}
	for _, step := range []string{"next", "back", "next", "next"} {
		if rec := f.do(t, http.MethodPost, base+":"+step, ""); rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", step, rec.Code, rec.Body.String())
		}
	}
	if rec := f.do(t, http.MethodPost, base+":mappings", `{"mappings":[]}`); rec.Code != http.StatusConflict {
		t.Fatalf("mappings at confirm status=%d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, base+":execute", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status=%d body=%s", rec.Code, rec.Body.String())
	}
	if done := decode[types.MigrationSession](t, rec); done.Step != types.StepCompleted || done.Result.IssuesMigrated != 1 {
		t.Fatalf("unexpected session %+v", done)
	}
	if issue, _ := f.cf.GetIssue(context.Background(), f.bug.ID); issue.IssueTypeID != "3" {
		t.Fatalf("expected issue moved, got %+v", issue)
	}
	if rec := f.do(t, http.MethodGet, base, ""); rec.Code != http.StatusOK || decode[types.MigrationSession](t, rec).Step != types.StepCompleted {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/admin/api/migrations/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/admin/api/migrations", `{"kind":"associate","scheme_id":`+strconv.FormatInt(sc.ID, 10)+`,"project_ids":[`+project+`]}`); rec.Code != http.StatusBadRequest || errorCode(t, rec) != "ITS_MIGRATION_NOT_REQUIRED" {
		t.Fatalf("second start status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminForms(t *testing.T) {
	f := newAdminFixture(t)
	sc := f.createScheme(t, `{"name":"Dev","issue_type_ids":["1","3"]}`)
	id := strconv.FormatInt(sc.ID, 10)
	if rec := f.do(t, http.MethodPost, "/admin/api/issue-type-schemes/"+id+":associate", `{"project_ids":[`+strconv.FormatInt(f.project.ID, 10)+`]}`); rec.Code != http.StatusOK {
		t.Fatalf("associate status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec := f.form(t, "/secure/admin/AddNewIssueTypeToScheme.jspa", url.Values{"schemeId": {id}, "name": {"Story"}, "subtask": {"on"}})
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/secure/admin/ConfigureIssueTypeOptionScheme!default.jspa?schemeId="+id {
		t.Fatalf("add status=%d location=%q body=%s", rec.Code, rec.Header().Get("Location"), rec.Body.String())
	}
	rec = f.form(t, "/secure/admin/AddNewIssueTypeToScheme.jspa", url.Values{"schemeId": {id}, "name": {""}})
	if rec.Code != http.StatusBadRequest || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("empty name status=%d content-type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = f.form(t, "/secure/admin/ConfigureIssueTypeOptionScheme.jspa", url.Values{
		"schemeId":        {id},
		"name":            {"Dev"},
		"defaultOption":   {"3"},
		"selectedOptions": {"3", "1"},
	})
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/secure/admin/ManageIssueTypeSchemes!default.jspa" {
		t.Fatalf("configure status=%d location=%q body=%s", rec.Code, rec.Header().Get("Location"), rec.Body.String())
	}

	rec = f.form(t, "/secure/admin/ConfigureIssueTypeOptionScheme.jspa", url.Values{
		"schemeId":        {id},
		"name":            {"Dev"},
		"selectedOptions": {"3"},
	})
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/secure/admin/MigrateIssueTypes!default.jspa?sessionId=mig-1" {
		t.Fatalf("migrate status=%d location=%q body=%s", rec.Code, rec.Header().Get("Location"), rec.Body.String())
	}

	rec = f.form(t, "/secure/admin/ConfigureIssueTypeOptionScheme.jspa", url.Values{
		"name":            {"Fresh"},
		"selectedOptions": {"2"},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.form(t, "/secure/admin/ConfigureIssueTypeOptionScheme.jspa", url.Values{"schemeId": {"x"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad scheme id status=%d", rec.Code)
	}
}
