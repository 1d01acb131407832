package routing

import (
	"strings"
	"testing"
)

func newTestClassifier(t *testing.T, routes ...Route) *Classifier {
	t.Helper()
	routes = append([]Route{{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"}}, routes...)
	c, err := NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: routes}}}, "server")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassifier_SegmentBoundary(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	cases := map[string]RouteClass{
		"/rest/api":                      RouteClassPublicAPI,
		"/rest/api/2/customFieldOption/": RouteClassPublicAPI,
		"/rest/apix":                     RouteClassUI,
		"/fields/api":                    RouteClassInternalAPI,
		"/fields/apix":                   RouteClassUI,
		"/issues/api/issues/PRJ-1":       RouteClassInternalAPI,
		"/admin/api/migrations":          RouteClassInternalAPI,
		"fields/api":                     RouteClassUI,
		"//api":                          RouteClassUI,
		"/":                              RouteClassUI,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Fatalf("path=%s got=%q want=%q", path, got, want)
		}
	}
	a, err := LoadAllowlist("../../config/routing/allowlist.yaml")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range a.Entrypoints["server"].Routes {
		if strings.HasSuffix(r.Path, ".jspa") && r.RouteClass != string(RouteClassUI) {
			t.Fatalf("action page %s declared as %s", r.Path, r.RouteClass)
		}
		if isModuleAPI(r.Path) && r.RouteClass != string(RouteClassInternalAPI) {
			t.Fatalf("module api %s declared as %s", r.Path, r.RouteClass)
		}
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]Allowlist{
		"missing entrypoint": {Version: 1, Entrypoints: map[string]Entrypoint{}},
		"empty routes":       {Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: nil}}},
		"invalid route":      {Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{{}}}}},
		"unknown class": {Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{
			{Path: "/ws", Methods: []string{"GET"}, RouteClass: "websocket"},
		}}}},
	}
	for name, a := range cases {
		if _, err := NewClassifier(a, "server"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestClassifier_Layout(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, Route{Path: "/metrics", Methods: []string{"GET"}, RouteClass: "ops"})
	cases := map[string]RouteClass{
		"/health":                        RouteClassOps,
		"/metrics":                       RouteClassOps,
		"/secure/EditCustomField.jspa":   RouteClassUI,
		"/secure/admin/ManageIssueTypes": RouteClassUI,
		"/secure/api/not-an-api":         RouteClassUI,
		"/static/batch.css":              RouteClassStatic,
		"/images/icons/bug.png":          RouteClassStatic,
		"/browse/PRJ-1":                  RouteClassUI,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Fatalf("path=%s got=%q want=%q", path, got, want)
		}
	}
	a, err := LoadAllowlist("../../config/routing/allowlist.yaml")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range a.Entrypoints["server"].Routes {
		if strings.HasSuffix(r.Path, ".jspa") && r.RouteClass != string(RouteClassUI) {
			t.Fatalf("action page %s declared as %s", r.Path, r.RouteClass)
		}
		if isModuleAPI(r.Path) && r.RouteClass != string(RouteClassInternalAPI) {
			t.Fatalf("module api %s declared as %s", r.Path, r.RouteClass)
		}
	}
}

func TestRouteClass_ParseAndJSONOnly(t *testing.T) {
	t.Parallel()

	for _, rc := range routeClasses {
		got, err := ParseRouteClass(string(rc))
		if err != nil || got != rc {
			t.Fatalf("ParseRouteClass(%q) = %q, %v", rc, got, err)
		}
	}
	if _, err := ParseRouteClass("UI"); err == nil {
		t.Fatal("route classes are case sensitive")
	}
	json := map[RouteClass]bool{RouteClassInternalAPI: true, RouteClassPublicAPI: true}
	for _, rc := range routeClasses {
		if rc.JSONOnly() != json[rc] {
			t.Fatalf("%s JSONOnly=%v", rc, rc.JSONOnly())
		}
	}
}

func TestClassifier_PathPattern(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t,
		Route{Path: "/fields/api/options/{option_id}:move", Methods: []string{"POST"}, RouteClass: "internal_api"},
		Route{Path: "/secure/{area}/Metrics.jspa", Methods: []string{"GET"}, RouteClass: "ops"},
	)
	if got := c.Classify("/fields/api/options/10100:move"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
	// a declared pattern overrides the /secure layout rule
	if got := c.Classify("/secure/admin/Metrics.jspa"); got != RouteClassOps {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/secure/admin/sub/Metrics.jspa"); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
}

func TestClassifier_RepositoryAllowlist(t *testing.T) {
	t.Parallel()

	a, err := LoadAllowlist("../../config/routing/allowlist.yaml")
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]RouteClass{
		"/healthz":                                    RouteClassOps,
		"/metrics":                                    RouteClassOps,
		"/fields/api/fields":                          RouteClassInternalAPI,
		"/fields/api/options/10100:move":              RouteClassInternalAPI,
		"/admin/api/issue-type-schemes":               RouteClassInternalAPI,
		"/admin/api/projects/10000/issue-type-scheme": RouteClassInternalAPI,
		"/secure/EditCustomField.jspa":                RouteClassUI,
		"/secure/admin/AddNewIssueTypeToScheme.jspa":  RouteClassUI,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Fatalf("path=%s got=%q want=%q", path, got, want)
		}
	}
	for _, r := range a.Entrypoints["server"].Routes {
		if strings.HasSuffix(r.Path, ".jspa") && r.RouteClass != string(RouteClassUI) {
			t.Fatalf("action page %s declared as %s", r.Path, r.RouteClass)
		}
		if isModuleAPI(r.Path) && r.RouteClass != string(RouteClassInternalAPI) {
			t.Fatalf("module api %s declared as %s", r.Path, r.RouteClass)
		}
	}
}
