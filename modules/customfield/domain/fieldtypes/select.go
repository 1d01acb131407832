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

type OptionBean struct {
	Self     string      `json:"self"`
	Value    string      `json:"value"`
	ID       string      `json:"id"`
	Disabled bool        `json:"disabled"`
	Child    *OptionBean `json:"child,omitempty"`
}

func optionBean(o types.Option, links Links) *OptionBean {
	return &OptionBean{
		Self:     links.Option(o.ID),
		Value:    o.Value,
		ID:       strconv.FormatInt(o.ID, 10),
		Disabled: o.Disabled,
	}
}

// selectType covers select, radiobuttons, multiselect and multicheckboxes.
type selectType struct {
	desc    Descriptor
	multi   bool
	options ports.OptionsManager
}

func (t *selectType) Descriptor() Descriptor { return t.desc }

func (t *selectType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	vs := params.Values(types.LevelParent)
	if len(vs) == 0 {
		return nil, nil
	}
	if !t.multi {
		if len(vs) > 1 {
			return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single option.", fieldLabel(fc))
		}
		o, err := resolveOption(ctx, t.options, fc, vs[0], 0)
		if err != nil {
			return nil, err
		}
		return OptionValue{Option: o}, nil
	}
	out := make(Options, 0, len(vs))
	seen := map[int64]bool{}
	for _, raw := range vs {
		o, err := resolveOption(ctx, t.options, fc, raw, 0)
		if err != nil {
			return nil, err
		}
		if seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		out = append(out, o)
	}
	sortOptions(out)
	return out, nil
}

func (t *selectType) ParamsFromJSON(ctx context.Context, fc FieldContext, raw json.RawMessage) (Params, error) {
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
		if !t.multi {
			return Params{}, invalid("CF_JSON_INVALID", "%s accepts a single option.", fieldLabel(fc))
		}
		items = arr
	}
	for _, item := range items {
		id, err := optionRefFromJSON(ctx, t.options, fc, item, 0)
		if err != nil {
			return Params{}, err
		}
		p.Add(types.LevelParent, id)
	}
	return p, nil
}

func (t *selectType) FormatSingular(v Value) (string, error) {
	switch o := v.(type) {
	case nil:
		return "", nil
	case OptionValue:
		return strconv.FormatInt(o.Option.ID, 10), nil
	case Options:
		if len(o) == 0 {
			return "", nil
		}
		if len(o) > 1 {
			return "", invalid("CF_VALUE_TYPE", "A single option was expected.")
		}
		return strconv.FormatInt(o[0].ID, 10), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

// ParseSingular accepts an option id or the option text.
func (t *selectType) ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	o, err := resolveOptionByIDOrValue(ctx, t.options, fc, s, 0)
	if err != nil {
		return nil, err
	}
	if t.multi {
		return Options{o}, nil
	}
	return OptionValue{Option: o}, nil
}

func (t *selectType) ToStored(v Value) ([]types.StoredValue, error) {
	switch o := v.(type) {
	case nil:
		return nil, nil
	case OptionValue:
		return []types.StoredValue{types.StringRow(types.LevelParent, strconv.FormatInt(o.Option.ID, 10))}, nil
	case Options:
		rows := make([]types.StoredValue, 0, len(o))
		for _, opt := range o {
			rows = append(rows, types.StringRow(types.LevelParent, strconv.FormatInt(opt.ID, 10)))
		}
		return rows, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *selectType) FromStored(ctx context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	var out Options
	for _, row := range rows {
		o, ok, err := loadStoredOption(ctx, t.options, row.String)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	sortOptions(out)
	if !t.multi {
		return OptionValue{Option: out[0]}, nil
	}
	return out, nil
}

func (t *selectType) ChangeLog(v Value) ChangeLogEntry {
	switch o := v.(type) {
	case OptionValue:
		return ChangeLogEntry{Value: strconv.FormatInt(o.Option.ID, 10), String: o.Option.Value}
	case Options:
		ids := make([]string, 0, len(o))
		vals := make([]string, 0, len(o))
		for _, opt := range o {
			ids = append(ids, strconv.FormatInt(opt.ID, 10))
			vals = append(vals, opt.Value)
		}
		return ChangeLogEntry{Value: strings.Join(ids, ", "), String: strings.Join(vals, ", ")}
	default:
		return ChangeLogEntry{}
	}
}

func (t *selectType) JSON(v Value, links Links) any {
	switch o := v.(type) {
	case OptionValue:
		return optionBean(o.Option, links)
	case Options:
		out := make([]*OptionBean, 0, len(o))
		for _, opt := range o {
			out = append(out, optionBean(opt, links))
		}
		return out
	default:
		return nil
	}
}

func (t *selectType) Schema(field types.CustomField) Schema {
	if t.multi {
		return Schema{Type: "array", Items: "option", Custom: t.desc.Key, CustomID: field.NumericID}
	}
	return Schema{Type: "option", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *selectType) TemplateParams(ctx context.Context, fc FieldContext, v Value) (map[string]any, error) {
	all, err := t.options.ListOptions(ctx, fc.Config.ID)
	if err != nil {
		return nil, err
	}
	selected := map[int64]bool{}
	for _, id := range OptionIDs(v) {
		selected[id] = true
	}
	items := make([]map[string]any, 0, len(all))
	for _, o := range all {
		if !o.IsTopLevel() {
			continue
		}
		if o.Disabled && !selected[o.ID] {
			continue
		}
		items = append(items, map[string]any{
			"id":       o.ID,
			"value":    o.Value,
			"disabled": o.Disabled,
			"selected": selected[o.ID],
		})
	}
	return map[string]any{
		"options":  items,
		"multiple": t.multi,
		"required": fc.Config.Required,
		"noneKey":  NoneValue,
	}, nil
}

func (t *selectType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }

func sortOptions(opts []types.Option) {
	slices.SortStableFunc(opts, func(a, b types.Option) int {
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

// resolveOption loads an option by id and checks it may be selected in the
// field config under parentID (0 for top level).
func resolveOption(ctx context.Context, om ports.OptionsManager, fc FieldContext, raw string, parentID int64) (types.Option, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return types.Option{}, invalid("CF_OPTION_INVALID", "Invalid value '%s' passed for customfield '%s'.", raw, fieldLabel(fc))
	}
	o, err := om.GetOption(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrOptionNotFound) {
			return types.Option{}, notFound("CF_OPTION_INVALID", "Invalid value '%s' passed for customfield '%s'.", raw, fieldLabel(fc))
		}
		return types.Option{}, err
	}
	return checkOption(o, fc, raw, parentID)
}

func checkOption(o types.Option, fc FieldContext, raw string, parentID int64) (types.Option, error) {
	if o.FieldConfigID != fc.Config.ID || o.ParentID != parentID {
		return types.Option{}, invalid("CF_OPTION_INVALID", "Invalid value '%s' passed for customfield '%s'.", raw, fieldLabel(fc))
	}
	if o.Disabled {
		return types.Option{}, invalid("CF_OPTION_DISABLED", "Option '%s' of customfield '%s' is disabled.", o.Value, fieldLabel(fc))
	}
	return o, nil
}

func resolveOptionByIDOrValue(ctx context.Context, om ports.OptionsManager, fc FieldContext, s string, parentID int64) (types.Option, error) {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		o, err := resolveOption(ctx, om, fc, s, parentID)
		if err == nil {
			return o, nil
		}
		if _, ok := errors.AsType[*ValidationError](err); !ok {
			return types.Option{}, err
		}
	}
	all, err := om.ListOptions(ctx, fc.Config.ID)
	if err != nil {
		return types.Option{}, err
	}
	for _, o := range all {
		if o.ParentID == parentID && strings.EqualFold(o.Value, s) {
			return checkOption(o, fc, s, parentID)
		}
	}
	return types.Option{}, invalid("CF_OPTION_INVALID", "Invalid value '%s' passed for customfield '%s'.", s, fieldLabel(fc))
}

// optionRefFromJSON turns {"id": ...} / {"value": ...} / "text" into an option id.
func optionRefFromJSON(ctx context.Context, om ports.OptionsManager, fc FieldContext, item any, parentID int64) (string, error) {
	switch t := item.(type) {
	case map[string]any:
		if raw, ok := t["id"]; ok {
			if s, ok := scalarString(raw); ok {
				return s, nil
			}
		}
		if raw, ok := t["value"]; ok {
			if s, ok := raw.(string); ok {
				o, err := resolveOptionByIDOrValue(ctx, om, fc, s, parentID)
				if err != nil {
					return "", err
				}
				return strconv.FormatInt(o.ID, 10), nil
			}
		}
		return "", invalid("CF_JSON_INVALID", "Option reference needs an id or a value.")
	case string:
		o, err := resolveOptionByIDOrValue(ctx, om, fc, t, parentID)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(o.ID, 10), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", invalid("CF_JSON_INVALID", "Invalid option reference.")
	}
}

func loadStoredOption(ctx context.Context, om ports.OptionsManager, raw string) (types.Option, bool, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return types.Option{}, false, nil
	}
	o, err := om.GetOption(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrOptionNotFound) {
			return types.Option{}, false, nil
		}
		return types.Option{}, false, err
	}
	return o, true, nil
}
