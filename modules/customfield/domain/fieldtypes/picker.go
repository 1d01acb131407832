package fieldtypes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type UserBean struct {
	Self         string `json:"self"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

type GroupBean struct {
	Self string `json:"self"`
	Name string `json:"name"`
}

// splitNames splits comma separated picker input.
func splitNames(values []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// namesFromJSON accepts "name", {"name": ...} or arrays of either.
func namesFromJSON(raw json.RawMessage, multi bool) (Params, error) {
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
		if !multi && len(arr) > 1 {
			return Params{}, invalid("CF_TOO_MANY_VALUES", "A single value was expected.")
		}
		items = arr
	}
	for _, item := range items {
		switch t := item.(type) {
		case string:
			p.Add(types.LevelParent, t)
		case map[string]any:
			name, _ := t["name"].(string)
			if name == "" {
				return Params{}, invalid("CF_JSON_INVALID", "Expected an object with a name.")
			}
			p.Add(types.LevelParent, name)
		default:
			return Params{}, invalid("CF_JSON_INVALID", "Expected a name.")
		}
	}
	return p, nil
}

type userType struct {
	desc  Descriptor
	multi bool
	users ports.UserManager
}

func (t *userType) Descriptor() Descriptor { return t.desc }

func (t *userType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	names := splitNames(params.Values(types.LevelParent))
	if len(names) == 0 {
		return nil, nil
	}
	if !t.multi && len(names) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single user.", fieldLabel(fc))
	}
	out := make(Users, 0, len(names))
	for _, name := range names {
		u, err := t.lookup(ctx, fc, name)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if !t.multi {
		return UserValue{User: out[0]}, nil
	}
	return out, nil
}

func (t *userType) lookup(ctx context.Context, fc FieldContext, name string) (types.User, error) {
	u, err := t.users.GetUser(ctx, name)
	if err != nil {
		if errors.Is(err, ports.ErrUserNotFound) {
			return types.User{}, notFound("CF_USER_NOT_FOUND", "User '%s' was not found in the system for %s.", name, fieldLabel(fc))
		}
		return types.User{}, err
	}
	return u, nil
}

func (t *userType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	return namesFromJSON(raw, t.multi)
}

func (t *userType) FormatSingular(v Value) (string, error) {
	switch u := v.(type) {
	case nil:
		return "", nil
	case UserValue:
		return u.User.Name, nil
	case Users:
		if len(u) == 1 {
			return u[0].Name, nil
		}
		if len(u) == 0 {
			return "", nil
		}
		return "", invalid("CF_VALUE_TYPE", "A single user was expected.")
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *userType) ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	u, err := t.lookup(ctx, fc, s)
	if err != nil {
		return nil, err
	}
	if t.multi {
		return Users{u}, nil
	}
	return UserValue{User: u}, nil
}

func (t *userType) ToStored(v Value) ([]types.StoredValue, error) {
	switch u := v.(type) {
	case nil:
		return nil, nil
	case UserValue:
		return []types.StoredValue{types.StringRow(types.LevelParent, u.User.Name)}, nil
	case Users:
		rows := make([]types.StoredValue, 0, len(u))
		for _, user := range u {
			rows = append(rows, types.StringRow(types.LevelParent, user.Name))
		}
		return rows, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

// FromStored keeps names of users that no longer exist as inactive users.
func (t *userType) FromStored(ctx context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	var out Users
	for _, row := range rows {
		if row.String == "" {
			continue
		}
		u, err := t.users.GetUser(ctx, row.String)
		if err != nil {
			if !errors.Is(err, ports.ErrUserNotFound) {
				return nil, err
			}
			u = types.User{Name: row.String, DisplayName: row.String}
		}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if !t.multi {
		return UserValue{User: out[0]}, nil
	}
	return out, nil
}

func (t *userType) ChangeLog(v Value) ChangeLogEntry {
	var users []types.User
	switch u := v.(type) {
	case UserValue:
		users = []types.User{u.User}
	case Users:
		users = u
	default:
		return ChangeLogEntry{}
	}
	names := make([]string, 0, len(users))
	display := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
		display = append(display, displayName(u))
	}
	return ChangeLogEntry{Value: strings.Join(names, ", "), String: strings.Join(display, ", ")}
}

func displayName(u types.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

func userBean(u types.User, links Links) UserBean {
	return UserBean{
		Self:         links.User(u.Name),
		Name:         u.Name,
		Key:          strings.ToLower(u.Name),
		DisplayName:  displayName(u),
		EmailAddress: u.Email,
		Active:       u.Active,
	}
}

func (t *userType) JSON(v Value, links Links) any {
	switch u := v.(type) {
	case UserValue:
		return userBean(u.User, links)
	case Users:
		out := make([]UserBean, 0, len(u))
		for _, user := range u {
			out = append(out, userBean(user, links))
		}
		return out
	default:
		return nil
	}
}

func (t *userType) Schema(field types.CustomField) Schema {
	if t.multi {
		return Schema{Type: "array", Items: "user", Custom: t.desc.Key, CustomID: field.NumericID}
	}
	return Schema{Type: "user", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *userType) TemplateParams(_ context.Context, fc FieldContext, v Value) (map[string]any, error) {
	entry := t.ChangeLog(v)
	return map[string]any{
		"value":    entry.Value,
		"display":  entry.String,
		"multiple": t.multi,
		"required": fc.Config.Required,
	}, nil
}

func (t *userType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }

type groupType struct {
	desc   Descriptor
	multi  bool
	groups ports.GroupManager
}

func (t *groupType) Descriptor() Descriptor { return t.desc }

func (t *groupType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	names := splitNames(params.Values(types.LevelParent))
	if len(names) == 0 {
		return nil, nil
	}
	if !t.multi && len(names) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single group.", fieldLabel(fc))
	}
	out := make(Groups, 0, len(names))
	for _, name := range names {
		g, err := t.lookup(ctx, fc, name)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if !t.multi {
		return GroupValue{Group: out[0]}, nil
	}
	return out, nil
}

func (t *groupType) lookup(ctx context.Context, fc FieldContext, name string) (types.Group, error) {
	g, err := t.groups.GetGroup(ctx, name)
	if err != nil {
		if errors.Is(err, ports.ErrGroupNotFound) {
			return types.Group{}, notFound("CF_GROUP_NOT_FOUND", "Group '%s' was not found for %s.", name, fieldLabel(fc))
		}
		return types.Group{}, err
	}
	return g, nil
}

func (t *groupType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	return namesFromJSON(raw, t.multi)
}

func (t *groupType) FormatSingular(v Value) (string, error) {
	switch g := v.(type) {
	case nil:
		return "", nil
	case GroupValue:
		return g.Group.Name, nil
	case Groups:
		if len(g) == 0 {
			return "", nil
		}
		if len(g) > 1 {
			return "", invalid("CF_VALUE_TYPE", "A single group was expected.")
		}
		return g[0].Name, nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *groupType) ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	g, err := t.lookup(ctx, fc, s)
	if err != nil {
		return nil, err
	}
	if t.multi {
		return Groups{g}, nil
	}
	return GroupValue{Group: g}, nil
}

func (t *groupType) ToStored(v Value) ([]types.StoredValue, error) {
	switch g := v.(type) {
	case nil:
		return nil, nil
	case GroupValue:
		return []types.StoredValue{types.StringRow(types.LevelParent, g.Group.Name)}, nil
	case Groups:
		rows := make([]types.StoredValue, 0, len(g))
		for _, group := range g {
			rows = append(rows, types.StringRow(types.LevelParent, group.Name))
		}
		return rows, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

// FromStored drops groups that were deleted since the value was stored.
func (t *groupType) FromStored(ctx context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	var out Groups
	for _, row := range rows {
		if row.String == "" {
			continue
		}
		g, err := t.groups.GetGroup(ctx, row.String)
		if err != nil {
			if errors.Is(err, ports.ErrGroupNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if !t.multi {
		return GroupValue{Group: out[0]}, nil
	}
	return out, nil
}

func (t *groupType) ChangeLog(v Value) ChangeLogEntry {
	var names []string
	switch g := v.(type) {
	case GroupValue:
		names = []string{g.Group.Name}
	case Groups:
		for _, group := range g {
			names = append(names, group.Name)
		}
	default:
		return ChangeLogEntry{}
	}
	s := strings.Join(names, ", ")
	return ChangeLogEntry{Value: s, String: s}
}

func (t *groupType) JSON(v Value, links Links) any {
	switch g := v.(type) {
	case GroupValue:
		return GroupBean{Self: links.Group(g.Group.Name), Name: g.Group.Name}
	case Groups:
		out := make([]GroupBean, 0, len(g))
		for _, group := range g {
			out = append(out, GroupBean{Self: links.Group(group.Name), Name: group.Name})
		}
		return out
	default:
		return nil
	}
}

func (t *groupType) Schema(field types.CustomField) Schema {
	if t.multi {
		return Schema{Type: "array", Items: "group", Custom: t.desc.Key, CustomID: field.NumericID}
	}
	return Schema{Type: "group", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *groupType) TemplateParams(_ context.Context, fc FieldContext, v Value) (map[string]any, error) {
	return map[string]any{
		"value":    t.ChangeLog(v).Value,
		"multiple": t.multi,
		"required": fc.Config.Required,
	}, nil
}

func (t *groupType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }
