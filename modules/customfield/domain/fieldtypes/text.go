package fieldtypes

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

const (
	MaxStringLength = 255
	MaxTextLength   = 32767
)

var allowedURLSchemes = map[string]bool{"http": true, "https": true, "ftp": true, "mailto": true}

// textType covers textfield, textarea, readonlyfield and url.
type textType struct {
	desc   Descriptor
	maxLen int
	isURL  bool
}

func newTextType(desc Descriptor, maxLen int, isURL bool) *textType {
	return &textType{desc: desc, maxLen: maxLen, isURL: isURL}
}

func (t *textType) Descriptor() Descriptor { return t.desc }

func (t *textType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	vs := params.Values(types.LevelParent)
	if len(vs) == 0 {
		return nil, nil
	}
	if len(vs) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single value.", fc.Field.Name)
	}
	return t.ParseSingular(ctx, fc, vs[0])
}

func (t *textType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
	v, err := decodeJSONParams(raw)
	if err != nil {
		return Params{}, err
	}
	p := NewParams()
	if v == nil {
		return p, nil
	}
	s, ok := v.(string)
	if !ok {
		return Params{}, invalid("CF_JSON_INVALID", "Expected a string value.")
	}
	p.Add(types.LevelParent, s)
	return p, nil
}

func (t *textType) FormatSingular(v Value) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case Text:
		return string(s), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *textType) ParseSingular(_ context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t.maxLen > 0 && utf8.RuneCountInString(s) > t.maxLen {
		return nil, invalid("CF_TEXT_TOO_LONG", "%s must be %d characters or fewer.", fieldLabel(fc), t.maxLen)
	}
	if t.isURL {
		u, err := url.Parse(s)
		if err != nil || !allowedURLSchemes[strings.ToLower(u.Scheme)] || (u.Scheme != "mailto" && u.Host == "") {
			return nil, invalid("CF_URL_INVALID", "Not a valid URL: %s", s)
		}
	}
	return Text(s), nil
}

func (t *textType) ToStored(v Value) ([]types.StoredValue, error) {
	s, err := t.FormatSingular(v)
	if err != nil || s == "" {
		return nil, err
	}
	if StoredColumn(t.desc.Kind) == ColumnText {
		return []types.StoredValue{{Level: types.LevelParent, Text: s}}, nil
	}
	return []types.StoredValue{types.StringRow(types.LevelParent, s)}, nil
}

func (t *textType) FromStored(_ context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	for _, row := range rows {
		s := row.String
		if StoredColumn(t.desc.Kind) == ColumnText {
			s = row.Text
		}
		if s != "" {
			return Text(s), nil
		}
	}
	return nil, nil
}

func (t *textType) ChangeLog(v Value) ChangeLogEntry {
	s, _ := t.FormatSingular(v)
	return ChangeLogEntry{Value: s}
}

func (t *textType) JSON(v Value, _ Links) any {
	s, ok := v.(Text)
	if !ok {
		return nil
	}
	return string(s)
}

func (t *textType) Schema(field types.CustomField) Schema {
	return Schema{Type: "string", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *textType) TemplateParams(_ context.Context, fc FieldContext, v Value) (map[string]any, error) {
	s, _ := t.FormatSingular(v)
	return map[string]any{
		"value":     s,
		"maxLength": t.maxLen,
		"readOnly":  t.desc.ReadOnly,
		"isURL":     t.isURL,
		"required":  fc.Config.Required,
	}, nil
}

func (t *textType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }

func fieldLabel(fc FieldContext) string {
	if fc.Field.Name != "" {
		return fc.Field.Name
	}
	return fc.Field.ID
}
