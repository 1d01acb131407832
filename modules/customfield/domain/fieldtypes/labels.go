package fieldtypes

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

const MaxLabelLength = 255

type labelsType struct {
	desc   Descriptor
	labels ports.LabelManager
}

func (t *labelsType) Descriptor() Descriptor { return t.desc }

func (t *labelsType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	var out Labels
	for _, raw := range params.Values(types.LevelParent) {
		v, err := t.ParseSingular(ctx, fc, raw)
		if err != nil {
			return nil, err
		}
		if ls, ok := v.(Labels); ok {
			out = append(out, ls...)
		}
	}
	return normalizeLabels(out), nil
}

func (t *labelsType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	v, err := decodeJSONParams(raw)
	if err != nil {
		return Params{}, err
	}
	p := NewParams()
	switch items := v.(type) {
	case nil:
	case string:
		p.Add(types.LevelParent, items)
	case []any:
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return Params{}, invalid("CF_JSON_INVALID", "Labels must be strings.")
			}
			p.Add(types.LevelParent, s)
		}
	default:
		return Params{}, invalid("CF_JSON_INVALID", "Expected an array of labels.")
	}
	return p, nil
}

func (t *labelsType) FormatSingular(v Value) (string, error) {
	switch ls := v.(type) {
	case nil:
		return "", nil
	case Labels:
		return strings.Join(ls, " "), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

// ParseSingular splits s on whitespace into labels.
func (t *labelsType) ParseSingular(_ context.Context, fc FieldContext, s string) (Value, error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil, nil
	}
	for _, label := range parts {
		if utf8.RuneCountInString(label) > MaxLabelLength {
			return nil, invalid("CF_LABEL_TOO_LONG", "The label '%s' of %s exceeds %d characters.", label, fieldLabel(fc), MaxLabelLength)
		}
	}
	return normalizeLabels(parts), nil
}

func normalizeLabels(in []string) Value {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	out = slices.Compact(out)
	return Labels(out)
}

// ToStored is used for config defaults. Issue values go through Persist.
func (t *labelsType) ToStored(v Value) ([]types.StoredValue, error) {
	switch ls := v.(type) {
	case nil:
		return nil, nil
	case Labels:
		rows := make([]types.StoredValue, 0, len(ls))
		for _, l := range ls {
			rows = append(rows, types.StringRow(types.LevelParent, l))
		}
		return rows, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *labelsType) FromStored(_ context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.String != "" {
			out = append(out, row.String)
		}
	}
	return normalizeLabels(out), nil
}

func (t *labelsType) Load(ctx context.Context, fc FieldContext) (Value, error) {
	if fc.Issue == nil {
		return nil, nil
	}
	labels, err := t.labels.GetLabels(ctx, fc.Issue.ID, fc.Field.ID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Value)
	}
	return normalizeLabels(out), nil
}

func (t *labelsType) Persist(ctx context.Context, fc FieldContext, v Value) error {
	if fc.Issue == nil {
		return errors.New("labels: issue required")
	}
	var values []string
	switch ls := v.(type) {
	case nil:
	case Labels:
		values = []string(ls)
	default:
		return invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
	_, err := t.labels.SetLabels(ctx, fc.Issue.ID, fc.Field.ID, values)
	return err
}

func (t *labelsType) ChangeLog(v Value) ChangeLogEntry {
	s, _ := t.FormatSingular(v)
	return ChangeLogEntry{String: s}
}

func (t *labelsType) JSON(v Value, _ Links) any {
	ls, ok := v.(Labels)
	if !ok {
		return []string{}
	}
	return []string(ls)
}

func (t *labelsType) Schema(field types.CustomField) Schema {
	return Schema{Type: "array", Items: "string", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *labelsType) TemplateParams(ctx context.Context, fc FieldContext, v Value) (map[string]any, error) {
	s, _ := t.FormatSingular(v)
	suggestions, err := t.labels.SuggestLabels(ctx, fc.Field.ID, "", 20)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"value":       s,
		"labels":      t.JSON(v, Links{}),
		"suggestions": suggestions,
		"required":    fc.Config.Required,
	}, nil
}

func (t *labelsType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }
