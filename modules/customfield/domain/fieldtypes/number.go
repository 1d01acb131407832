package fieldtypes

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type numberType struct {
	desc Descriptor
}

func (t *numberType) Descriptor() Descriptor { return t.desc }

func (t *numberType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	vs := params.Values(types.LevelParent)
	if len(vs) == 0 {
		return nil, nil
	}
	if len(vs) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single value.", fieldLabel(fc))
	}
	return t.ParseSingular(ctx, fc, vs[0])
}

func (t *numberType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	v, err := decodeJSONParams(raw)
	if err != nil {
		return Params{}, err
	}
	p := NewParams()
	if v == nil {
		return p, nil
	}
	s, ok := scalarString(v)
	if !ok {
		return Params{}, invalid("CF_JSON_INVALID", "Expected a number.")
	}
	p.Add(types.LevelParent, s)
	return p, nil
}

func (t *numberType) FormatSingular(v Value) (string, error) {
	switch n := v.(type) {
	case nil:
		return "", nil
	case Number:
		return strconv.FormatFloat(float64(n), 'f', -1, 64), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *numberType) ParseSingular(_ context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid("CF_NUMBER_INVALID", "'%s' is an invalid number for %s.", s, fieldLabel(fc))
	}
	return Number(f), nil
}

func (t *numberType) ToStored(v Value) ([]types.StoredValue, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case Number:
		return []types.StoredValue{types.NumberRow(float64(n))}, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *numberType) FromStored(_ context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	for _, row := range rows {
		if row.Number != nil {
			return Number(*row.Number), nil
		}
	}
	return nil, nil
}

func (t *numberType) ChangeLog(v Value) ChangeLogEntry {
	s, _ := t.FormatSingular(v)
	return ChangeLogEntry{Value: s}
}

func (t *numberType) JSON(v Value, _ Links) any {
	n, ok := v.(Number)
	if !ok {
		return nil
	}
	return float64(n)
}

func (t *numberType) Schema(field types.CustomField) Schema {
	return Schema{Type: "number", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *numberType) TemplateParams(_ context.Context, fc FieldContext, v Value) (map[string]any, error) {
	s, _ := t.FormatSingular(v)
	return map[string]any{"value": s, "required": fc.Config.Required}, nil
}

func (t *numberType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }
