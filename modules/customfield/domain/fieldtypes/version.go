package fieldtypes

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type VersionBean struct {
	Self        string `json:"self"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Archived    bool   `json:"archived"`
	Released    bool   `json:"released"`
	ReleaseDate string `json:"releaseDate,omitempty"`
}

type ProjectBean struct {
	Self string `json:"self"`
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// versionType covers version (single) and multiversion. Both hold Versions.
type versionType struct {
	desc     Descriptor
	multi    bool
	versions ports.VersionManager
}

func (t *versionType) Descriptor() Descriptor { return t.desc }

func (t *versionType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	raws := splitNames(params.Values(types.LevelParent))
	if len(raws) == 0 {
		return nil, nil
	}
	if !t.multi && len(raws) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single version.", fieldLabel(fc))
	}
	out := make(Versions, 0, len(raws))
	for _, raw := range raws {
		v, err := t.resolve(ctx, fc, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sortVersions(out)
	return out, nil
}

func (t *versionType) resolve(ctx context.Context, fc FieldContext, raw string) (types.Version, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return types.Version{}, invalid("CF_VERSION_INVALID", "Version id '%s' is not valid for %s.", raw, fieldLabel(fc))
	}
	v, err := t.versions.GetVersion(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrVersionNotFound) {
			return types.Version{}, notFound("CF_VERSION_NOT_FOUND", "Version with id '%d' does not exist.", id)
		}
		return types.Version{}, err
	}
	if fc.Issue != nil && v.ProjectID != fc.Issue.ProjectID {
		return types.Version{}, invalid("CF_VERSION_PROJECT_MISMATCH", "Version '%s' does not belong to the project of issue %s.", v.Name, fc.Issue.Key)
	}
	return v, nil
}

func (t *versionType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	v, err := decodeJSONParams(raw)
	if err != nil {
		return Params{}, err
	}
	p := NewParams()
	if v == nil {
		return p, nil
	}
	items := []any{v}
	if arr, ok := v.([]any); ok {
		items = arr
	}
	for _, item := range items {
		switch it := item.(type) {
		case map[string]any:
			s, ok := scalarString(it["id"])
			if !ok {
				return Params{}, invalid("CF_JSON_INVALID", "Version reference needs an id.")
			}
			p.Add(types.LevelParent, s)
		default:
			s, ok := scalarString(it)
			if !ok {
				return Params{}, invalid("CF_JSON_INVALID", "Invalid version reference.")
			}
			p.Add(types.LevelParent, s)
		}
	}
	return p, nil
}

func (t *versionType) FormatSingular(v Value) (string, error) {
	switch vs := v.(type) {
	case nil:
		return "", nil
	case Versions:
		if len(vs) == 0 {
			return "", nil
		}
		if len(vs) > 1 {
			return "", invalid("CF_VALUE_TYPE", "A single version was expected.")
		}
		return strconv.FormatInt(vs[0].ID, 10), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *versionType) ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := t.resolve(ctx, fc, s)
	if err != nil {
		return nil, err
	}
	return Versions{v}, nil
}

func (t *versionType) ToStored(v Value) ([]types.StoredValue, error) {
	switch vs := v.(type) {
	case nil:
		return nil, nil
	case Versions:
		rows := make([]types.StoredValue, 0, len(vs))
		for _, ver := range vs {
			rows = append(rows, types.NumberRow(float64(ver.ID)))
		}
		return rows, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *versionType) FromStored(ctx context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	var out Versions
	for _, row := range rows {
		if row.Number == nil {
			continue
		}
		v, err := t.versions.GetVersion(ctx, int64(*row.Number))
		if err != nil {
			if errors.Is(err, ports.ErrVersionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, nil
	}
	sortVersions(out)
	return out, nil
}

func sortVersions(vs []types.Version) {
	slices.SortStableFunc(vs, func(a, b types.Version) int {
		if a.Sequence != b.Sequence {
			return a.Sequence - b.Sequence
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}

func (t *versionType) ChangeLog(v Value) ChangeLogEntry {
	vs, ok := v.(Versions)
	if !ok || len(vs) == 0 {
		return ChangeLogEntry{}
	}
	ids := make([]string, 0, len(vs))
	names := make([]string, 0, len(vs))
	for _, ver := range vs {
		ids = append(ids, strconv.FormatInt(ver.ID, 10))
		names = append(names, ver.Name)
	}
	return ChangeLogEntry{Value: "[" + strings.Join(ids, ", ") + "]", String: strings.Join(names, ", ")}
}

func versionBean(v types.Version, links Links) VersionBean {
	bean := VersionBean{
		Self:        links.Version(v.ID),
		ID:          strconv.FormatInt(v.ID, 10),
		Name:        v.Name,
		Description: v.Description,
		Archived:    v.Archived,
		Released:    v.Released,
	}
	if v.ReleaseDate != nil {
		bean.ReleaseDate = v.ReleaseDate.UTC().Format(DateFormat)
	}
	return bean
}

func (t *versionType) JSON(v Value, links Links) any {
	vs, ok := v.(Versions)
	if !ok || len(vs) == 0 {
		return nil
	}
	if !t.multi {
		return versionBean(vs[0], links)
	}
	out := make([]VersionBean, 0, len(vs))
	for _, ver := range vs {
		out = append(out, versionBean(ver, links))
	}
	return out
}

func (t *versionType) Schema(field types.CustomField) Schema {
	if t.multi {
		return Schema{Type: "array", Items: "version", Custom: t.desc.Key, CustomID: field.NumericID}
	}
	return Schema{Type: "version", Custom: t.desc.Key, CustomID: field.NumericID}
}

// TemplateParams lists the unarchived versions of the issue's project split
// into released and unreleased.
func (t *versionType) TemplateParams(ctx context.Context, fc FieldContext, v Value) (map[string]any, error) {
	selected := map[int64]bool{}
	if vs, ok := v.(Versions); ok {
		for _, ver := range vs {
			selected[ver.ID] = true
		}
	}
	released := []map[string]any{}
	unreleased := []map[string]any{}
	if fc.Issue != nil {
		all, err := t.versions.ListVersions(ctx, fc.Issue.ProjectID)
		if err != nil {
			return nil, err
		}
		for _, ver := range all {
			if ver.Archived && !selected[ver.ID] {
				continue
			}
			item := map[string]any{"id": ver.ID, "name": ver.Name, "selected": selected[ver.ID]}
			if ver.Released {
				released = append(released, item)
			} else {
				unreleased = append(unreleased, item)
			}
		}
	}
	return map[string]any{
		"released":   released,
		"unreleased": unreleased,
		"multiple":   t.multi,
		"required":   fc.Config.Required,
	}, nil
}

func (t *versionType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }

type projectType struct {
	desc     Descriptor
	projects ports.ProjectManager
}

func (t *projectType) Descriptor() Descriptor { return t.desc }

func (t *projectType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	vs := params.Values(types.LevelParent)
	if len(vs) == 0 {
		return nil, nil
	}
	if len(vs) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single project.", fieldLabel(fc))
	}
	return t.ParseSingular(ctx, fc, vs[0])
}

func (t *projectType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	v, err := decodeJSONParams(raw)
	if err != nil {
		return Params{}, err
	}
	p := NewParams()
	switch it := v.(type) {
	case nil:
	case map[string]any:
		if s, ok := scalarString(it["id"]); ok {
			p.Add(types.LevelParent, s)
		} else if s, ok := it["key"].(string); ok {
			p.Add(types.LevelParent, s)
		} else {
			return Params{}, invalid("CF_JSON_INVALID", "Project reference needs an id or a key.")
		}
	default:
		s, ok := scalarString(it)
		if !ok {
			return Params{}, invalid("CF_JSON_INVALID", "Invalid project reference.")
		}
		p.Add(types.LevelParent, s)
	}
	return p, nil
}

func (t *projectType) FormatSingular(v Value) (string, error) {
	switch p := v.(type) {
	case nil:
		return "", nil
	case ProjectValue:
		return strconv.FormatInt(p.Project.ID, 10), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

// ParseSingular accepts a project id or key.
func (t *projectType) ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var (
		p   types.Project
		err error
	)
	if id, perr := strconv.ParseInt(s, 10, 64); perr == nil {
		p, err = t.projects.GetProject(ctx, id)
	} else {
		p, err = t.projects.GetProjectByKey(ctx, strings.ToUpper(s))
	}
	if err != nil {
		if errors.Is(err, ports.ErrProjectNotFound) {
			return nil, notFound("CF_PROJECT_NOT_FOUND", "Project '%s' does not exist for %s.", s, fieldLabel(fc))
		}
		return nil, err
	}
	return ProjectValue{Project: p}, nil
}

func (t *projectType) ToStored(v Value) ([]types.StoredValue, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case ProjectValue:
		return []types.StoredValue{types.NumberRow(float64(p.Project.ID))}, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *projectType) FromStored(ctx context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	for _, row := range rows {
		if row.Number == nil {
			continue
		}
		p, err := t.projects.GetProject(ctx, int64(*row.Number))
		if err != nil {
			if errors.Is(err, ports.ErrProjectNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return ProjectValue{Project: p}, nil
	}
	return nil, nil
}

func (t *projectType) ChangeLog(v Value) ChangeLogEntry {
	p, ok := v.(ProjectValue)
	if !ok {
		return ChangeLogEntry{}
	}
	return ChangeLogEntry{Value: strconv.FormatInt(p.Project.ID, 10), String: p.Project.Name}
}

func (t *projectType) JSON(v Value, links Links) any {
	p, ok := v.(ProjectValue)
	if !ok {
		return nil
	}
	return ProjectBean{
		Self: links.Project(p.Project.ID),
		ID:   strconv.FormatInt(p.Project.ID, 10),
		Key:  p.Project.Key,
		Name: p.Project.Name,
	}
}

func (t *projectType) Schema(field types.CustomField) Schema {
	return Schema{Type: "project", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *projectType) TemplateParams(ctx context.Context, fc FieldContext, v Value) (map[string]any, error) {
	all, err := t.projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	current := int64(0)
	if p, ok := v.(ProjectValue); ok {
		current = p.Project.ID
	}
	items := make([]map[string]any, 0, len(all))
	for _, p := range all {
		items = append(items, map[string]any{"id": p.ID, "key": p.Key, "name": p.Name, "selected": p.ID == current})
	}
	return map[string]any{"projects": items, "required": fc.Config.Required}, nil
}

func (t *projectType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }
