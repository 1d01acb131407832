package routing

import (
	"fmt"
	"slices"
	"strings"
)

type RouteClass string

const (
	RouteClassUI          RouteClass = "ui"
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassOps         RouteClass = "ops"
	RouteClassStatic      RouteClass = "static"
)

var routeClasses = []RouteClass{
	RouteClassUI,
	RouteClassInternalAPI,
	RouteClassPublicAPI,
	RouteClassOps,
	RouteClassStatic,
}

func ParseRouteClass(s string) (RouteClass, error) {
	rc := RouteClass(s)
	if !slices.Contains(routeClasses, rc) {
		return "", fmt.Errorf("unknown route class %q", s)
	}
	return rc, nil
}

// JSONOnly reports whether every error on the class is answered with JSON,
// whatever the client accepts.
func (rc RouteClass) JSONOnly() bool {
	return rc == RouteClassInternalAPI || rc == RouteClassPublicAPI
}

// Classifier resolves the route class of a request path. Declared routes win;
// anything else follows the URL layout of the server:
//
//	/rest/api/...       public REST API
//	/secure/...         action pages (*.jspa), including /secure/admin
//	/{module}/api/...   internal JSON API (fields, issues, admin)
//	/static, /images    static assets
//
// Everything else is UI.
type Classifier struct {
	exact    map[string]RouteClass
	patterns []pathPatternRoute
}

type pathPatternRoute struct {
	pattern PathPattern
	rc      RouteClass
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, err := a.Entrypoint(entrypoint)
	if err != nil {
		return nil, err
	}
	c := &Classifier{exact: make(map[string]RouteClass, len(ep.Routes))}
	for _, r := range ep.Routes {
		rc := RouteClass(r.RouteClass)
		if p, ok := parsePathPattern(r.Path); ok {
			c.patterns = append(c.patterns, pathPatternRoute{pattern: p, rc: rc})
			continue
		}
		c.exact[r.Path] = rc
	}
	return c, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.exact[path]; ok {
		return rc
	}
	for _, p := range c.patterns {
		if p.pattern.Match(path) {
			return p.rc
		}
	}
	return classifyByLayout(path)
}

func classifyByLayout(path string) RouteClass {
	switch {
	case hasPrefixSegment(path, "/rest/api"):
		return RouteClassPublicAPI
	case hasPrefixSegment(path, "/secure"):
		return RouteClassUI
	case isModuleAPI(path):
		return RouteClassInternalAPI
	case hasPrefixSegment(path, "/static") || hasPrefixSegment(path, "/images"):
		return RouteClassStatic
	default:
		return RouteClassUI
	}
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// isModuleAPI matches /{module}/api and below; module is one segment.
func isModuleAPI(path string) bool {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return false
	}
	module, after, ok := strings.Cut(rest, "/")
	if !ok || module == "" {
		return false
	}
	return hasPrefixSegment("/"+after, "/api")
}
