package fieldtypes

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type cascadeType struct {
	desc    Descriptor
	options ports.OptionsManager
}

func (t *cascadeType) Descriptor() Descriptor { return t.desc }

func (t *cascadeType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	parents := params.Values(types.LevelParent)
	children := params.Values(types.LevelChild)
	if len(parents) > 1 || len(children) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts one option per level.", fieldLabel(fc))
	}
	if len(parents) == 0 {
		if len(children) > 0 {
			return nil, invalid("CF_CASCADE_CHILD_WITHOUT_PARENT", "A child option of %s requires a parent option.", fieldLabel(fc))
		}
		return nil, nil
	}
	parent, err := resolveOption(ctx, t.options, fc, parents[0], 0)
	if err != nil {
		return nil, err
	}
	v := Cascade{Parent: &parent}
	if len(children) == 1 {
		child, err := resolveOption(ctx, t.options, fc, children[0], parent.ID)
		if err != nil {
			return nil, err
		}
		v.Child = &child
	}
	return v, nil
}

// ParamsFromJSON accepts {"id"|"value": ..., "child": {"id"|"value": ...}}.
func (t *cascadeType) ParamsFromJSON(ctx context.Context, fc FieldContext, raw json.RawMessage) (Params, error) {
	v, err := decodeJSONParams(raw)
	if err != nil {
		return Params{}, err
	}
	p := NewParams()
	if v == nil {
		return p, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Params{}, invalid("CF_JSON_INVALID", "Expected an option object.")
	}
	parentID, err := optionRefFromJSON(ctx, t.options, fc, obj, 0)
	if err != nil {
		return Params{}, err
	}
	p.Add(types.LevelParent, parentID)
	if child, ok := obj["child"]; ok && child != nil {
		pid, err := strconv.ParseInt(parentID, 10, 64)
		if err != nil {
			return Params{}, invalid("CF_OPTION_INVALID", "Invalid value '%s' passed for customfield '%s'.", parentID, fieldLabel(fc))
		}
		childID, err := optionRefFromJSON(ctx, t.options, fc, child, pid)
		if err != nil {
			return Params{}, err
		}
		p.Add(types.LevelChild, childID)
	}
	return p, nil
}

// FormatSingular renders the option at the deepest selected level.
func (t *cascadeType) FormatSingular(v Value) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case Cascade:
		if c.Child != nil {
			return strconv.FormatInt(c.Child.ID, 10), nil
		}
		if c.Parent != nil {
			return strconv.FormatInt(c.Parent.ID, 10), nil
		}
		return "", nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

// ParseSingular resolves an option id of either level into a full value.
func (t *cascadeType) ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error) {
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, invalid("CF_OPTION_INVALID", "Invalid value '%s' passed for customfield '%s'.", s, fieldLabel(fc))
	}
	o, err := resolveOptionAnyLevel(ctx, t.options, fc, id)
	if err != nil {
		return nil, err
	}
	if o.IsTopLevel() {
		return Cascade{Parent: &o}, nil
	}
	parent, err := resolveOption(ctx, t.options, fc, strconv.FormatInt(o.ParentID, 10), 0)
	if err != nil {
		return nil, err
	}
	return Cascade{Parent: &parent, Child: &o}, nil
}

func resolveOptionAnyLevel(ctx context.Context, om ports.OptionsManager, fc FieldContext, id int64) (types.Option, error) {
	o, ok, err := loadStoredOption(ctx, om, strconv.FormatInt(id, 10))
	if err != nil {
		return types.Option{}, err
	}
	if !ok {
		return types.Option{}, notFound("CF_OPTION_INVALID", "Invalid value '%d' passed for customfield '%s'.", id, fieldLabel(fc))
	}
	return checkOption(o, fc, strconv.FormatInt(id, 10), o.ParentID)
}

func (t *cascadeType) ToStored(v Value) ([]types.StoredValue, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case Cascade:
		if c.Parent == nil {
			return nil, nil
		}
		rows := []types.StoredValue{types.StringRow(types.LevelParent, strconv.FormatInt(c.Parent.ID, 10))}
		if c.Child != nil {
			rows = append(rows, types.StringRow(types.LevelChild, strconv.FormatInt(c.Child.ID, 10)))
		}
		return rows, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *cascadeType) FromStored(ctx context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	var v Cascade
	for _, row := range rows {
		o, ok, err := loadStoredOption(ctx, t.options, row.String)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		switch row.Level {
		case types.LevelParent:
			v.Parent = &o
		case types.LevelChild:
			v.Child = &o
		}
	}
	if v.Parent == nil {
		return nil, nil
	}
	if v.Child != nil && v.Child.ParentID != v.Parent.ID {
		v.Child = nil
	}
	return v, nil
}

func (t *cascadeType) ChangeLog(v Value) ChangeLogEntry {
	c, ok := v.(Cascade)
	if !ok || c.Parent == nil {
		return ChangeLogEntry{}
	}
	s := "Parent values: " + c.Parent.Value + "(" + strconv.FormatInt(c.Parent.ID, 10) + ")"
	if c.Child != nil {
		s += "Level 1 values: " + c.Child.Value + "(" + strconv.FormatInt(c.Child.ID, 10) + ")"
	}
	return ChangeLogEntry{Value: s}
}

func (t *cascadeType) JSON(v Value, links Links) any {
	c, ok := v.(Cascade)
	if !ok || c.Parent == nil {
		return nil
	}
	bean := optionBean(*c.Parent, links)
	if c.Child != nil {
		bean.Child = optionBean(*c.Child, links)
	}
	return bean
}

func (t *cascadeType) Schema(field types.CustomField) Schema {
	return Schema{Type: "option-with-child", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *cascadeType) TemplateParams(ctx context.Context, fc FieldContext, v Value) (map[string]any, error) {
	all, err := t.options.ListOptions(ctx, fc.Config.ID)
	if err != nil {
		return nil, err
	}
	selected := map[int64]bool{}
	for _, id := range OptionIDs(v) {
		selected[id] = true
	}
	parents := make([]map[string]any, 0)
	children := map[int64][]map[string]any{}
	for _, o := range all {
		if o.Disabled && !selected[o.ID] {
			continue
		}
		item := map[string]any{"id": o.ID, "value": o.Value, "disabled": o.Disabled, "selected": selected[o.ID]}
		if o.IsTopLevel() {
			parents = append(parents, item)
			continue
		}
		children[o.ParentID] = append(children[o.ParentID], item)
	}
	return map[string]any{
		"options":  parents,
		"children": children,
		"childKey": ChildKey(fc.Field.ID),
		"required": fc.Config.Required,
		"noneKey":  NoneValue,
	}, nil
}

func (t *cascadeType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }
