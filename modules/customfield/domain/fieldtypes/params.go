package fieldtypes

import (
	"net/url"
	"strings"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

// NoneValue is the form value browsers submit for "no selection".
const NoneValue = "-1"

// Params carries raw request values of one field keyed by Level.
type Params struct {
	values map[types.Level][]string
}

func NewParams() Params {
	return Params{values: map[types.Level][]string{}}
}

// SingleParam is a convenience for single valued, non hierarchical input.
func SingleParam(v string) Params {
	p := NewParams()
	p.Add(types.LevelParent, v)
	return p
}

// Add appends v at level. Blank values and NoneValue are dropped.
func (p *Params) Add(level types.Level, v string) {
	v = strings.TrimSpace(v)
	if v == "" || v == NoneValue {
		return
	}
	if p.values == nil {
		p.values = map[types.Level][]string{}
	}
	p.values[level] = append(p.values[level], v)
}

func (p Params) Values(level types.Level) []string {
	return append([]string(nil), p.values[level]...)
}

func (p Params) First(level types.Level) (string, bool) {
	vs := p.values[level]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (p Params) IsEmpty() bool {
	for _, vs := range p.values {
		if len(vs) > 0 {
			return false
		}
	}
	return true
}

// ChildKey is the form key of the child level of a hierarchical field.
func ChildKey(fieldID string) string {
	return fieldID + ":1"
}

// ParamsFromForm reads `customfield_N` (parent or only level) and
// `customfield_N:1` (child level) from submitted form values.
func ParamsFromForm(form url.Values, fieldID string) Params {
	p := NewParams()
	for _, v := range form[fieldID] {
		p.Add(types.LevelParent, v)
	}
	for _, v := range form[ChildKey(fieldID)] {
		p.Add(types.LevelChild, v)
	}
	return p
}

// HasFormValue reports whether the form mentions the field at all.
func HasFormValue(form url.Values, fieldID string) bool {
	_, ok := form[fieldID]
	if ok {
		return true
	}
	_, ok = form[ChildKey(fieldID)]
	return ok
}
