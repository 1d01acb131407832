package routing

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Allowlist declares every route an entrypoint serves together with its
// route class. The server loads it from config/routing/allowlist.yaml.
type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

// Route paths use the router syntax: {name} segments with an optional
// ":action" suffix, e.g. /fields/api/options/{option_id}:move.
type Route struct {
	Path       string   `yaml:"path"`
	Methods    []string `yaml:"methods"`
	RouteClass string   `yaml:"route_class"`
}

var routeMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, fmt.Errorf("allowlist: %w", err)
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("allowlist: unsupported version")
	}
	if a.Entrypoints == nil {
		return Allowlist{}, errors.New("allowlist: missing entrypoints")
	}
	for name, ep := range a.Entrypoints {
		if err := ep.validate(); err != nil {
			return Allowlist{}, fmt.Errorf("allowlist: entrypoint %s: %w", name, err)
		}
	}
	return a, nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	a, err := ParseAllowlistYAML(b)
	if err != nil {
		return Allowlist{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Entrypoint returns the validated routes of one entrypoint.
func (a Allowlist) Entrypoint(name string) (Entrypoint, error) {
	ep, ok := a.Entrypoints[name]
	if !ok {
		return Entrypoint{}, fmt.Errorf("allowlist: missing entrypoint %q", name)
	}
	if len(ep.Routes) == 0 {
		return Entrypoint{}, fmt.Errorf("allowlist: entrypoint %q routes empty", name)
	}
	if err := ep.validate(); err != nil {
		return Entrypoint{}, fmt.Errorf("allowlist: entrypoint %s: %w", name, err)
	}
	return ep, nil
}

func (ep Entrypoint) validate() error {
	seen := map[string]bool{}
	for _, r := range ep.Routes {
		if err := r.validate(); err != nil {
			return err
		}
		for _, m := range r.Methods {
			key := m + " " + r.Path
			if seen[key] {
				return fmt.Errorf("duplicate route %s", key)
			}
			seen[key] = true
		}
	}
	return nil
}

func (r Route) validate() error {
	if r.Path == "" || r.RouteClass == "" {
		return errors.New("invalid route")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route %q must be absolute", r.Path)
	}
	if _, err := ParseRouteClass(r.RouteClass); err != nil {
		return fmt.Errorf("route %s: %w", r.Path, err)
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("route %s: no methods", r.Path)
	}
	for _, m := range r.Methods {
		if !routeMethods[m] {
			return fmt.Errorf("route %s: unsupported method %q", r.Path, m)
		}
	}
	return nil
}
