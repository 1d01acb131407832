package routing

import "strings"

type PathPattern struct {
	raw      string
	segments []string
}

func parsePathPattern(raw string) (PathPattern, bool) {
	if !strings.Contains(raw, "{") {
		return PathPattern{}, false
	}
	if raw == "" || raw[0] != '/' {
		return PathPattern{}, false
	}

	parts := splitPathSegments(raw)
	for _, s := range parts {
		if s == "" {
			return PathPattern{}, false
		}
		if strings.Contains(s, "{") || strings.Contains(s, "}") {
			if !isParamSegment(s) {
				return PathPattern{}, false
			}
		}
	}
	return PathPattern{raw: raw, segments: parts}, true
}

func (p PathPattern) Match(path string) bool {
	_, ok := p.Params(path)
	return ok
}

// Params matches path and returns the values of its {name} segments.
func (p PathPattern) Params(path string) (map[string]string, bool) {
	if p.raw == "" {
		return nil, false
	}
	in := splitPathSegments(path)
	if len(in) != len(p.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i := range p.segments {
		want := p.segments[i]
		got := in[i]
		if got == "" {
			return nil, false
		}
		if isParamSegment(want) {
			name, action := splitParamSegment(want)
			value, ok := strings.CutSuffix(got, action)
			if !ok || value == "" || strings.Contains(value, ":") {
				return nil, false
			}
			params[name] = value
			continue
		}
		if got != want {
			return nil, false
		}
	}
	return params, true
}

func splitPathSegments(path string) []string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// isParamSegment accepts {name} and {name}:action.
func isParamSegment(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	end := strings.Index(s, "}")
	if end < 2 || strings.Count(s, "{") != 1 || strings.Count(s, "}") != 1 {
		return false
	}
	rest := s[end+1:]
	return rest == "" || (len(rest) > 1 && rest[0] == ':')
}

func splitParamSegment(s string) (name string, action string) {
	end := strings.Index(s, "}")
	return s[1:end], s[end+1:]
}
