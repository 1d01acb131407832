package routing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAllowlistYAML_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"not yaml", "version: [", "allowlist: yaml:"},
		{"version", "version: 2\nentrypoints: {}", "unsupported version"},
		{"entrypoints", "version: 1", "missing entrypoints"},
		{"relative path", `version: 1
entrypoints:
  server:
    routes:
      - {path: "fields/api/fields", methods: [GET], route_class: internal_api}
`, "must be absolute"},
		{"unknown class", `version: 1
entrypoints:
  server:
    routes:
      - {path: "/webhooks/jira", methods: [POST], route_class: webhook}
`, `unknown route class "webhook"`},
		{"no methods", `version: 1
entrypoints:
  server:
    routes:
      - {path: "/fields/api/fields", route_class: internal_api}
`, "no methods"},
		{"lower case method", `version: 1
entrypoints:
  server:
    routes:
      - {path: "/fields/api/fields", methods: [get], route_class: internal_api}
`, `unsupported method "get"`},
		{"duplicate", `version: 1
entrypoints:
  server:
    routes:
      - {path: "/secure/EditCustomField.jspa", methods: [POST], route_class: ui}
      - {path: "/secure/EditCustomField.jspa", methods: [GET, POST], route_class: ui}
`, "duplicate route POST /secure/EditCustomField.jspa"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAllowlistYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseAllowlistYAML_SameRouteOnTwoEntrypoints(t *testing.T) {
	t.Parallel()

	a, err := ParseAllowlistYAML([]byte(`version: 1
entrypoints:
  server:
    routes:
      - {path: "/health", methods: [GET], route_class: ops}
  fieldtool:
    routes:
      - {path: "/health", methods: [GET], route_class: ops}
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Entrypoint("fieldtool"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Entrypoint("worker"); err == nil || !strings.Contains(err.Error(), `missing entrypoint "worker"`) {
		t.Fatalf("expected missing entrypoint, got %v", err)
	}
}

func TestLoadAllowlist_NamesTheFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	if err := os.WriteFile(path, []byte("version: 3\nentrypoints: {}"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadAllowlist(path)
	if err == nil || !strings.HasPrefix(err.Error(), path+": ") {
		t.Fatalf("expected error prefixed with %s, got %v", path, err)
	}
	if _, err := LoadAllowlist(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not exist, got %v", err)
	}
}
