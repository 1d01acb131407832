package fieldtypes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

const (
	DateFormat        = "2006-01-02"
	DateTimeFormat    = "2006-01-02T15:04:05.000-0700"
	displayDateFormat = "02/Jan/06"
	displayTimeFormat = "02/Jan/06 3:04 PM"
)

var dateTimeInputFormats = []string{
	time.RFC3339,
	DateTimeFormat,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	displayTimeFormat,
}

// dateType covers datepicker (day precision) and datetime (millisecond
// precision, matching DateTimeFormat).
type dateType struct {
	desc     Descriptor
	withTime bool
	loc      func() *time.Location
	now      func() time.Time
}

func (t *dateType) Descriptor() Descriptor { return t.desc }

func (t *dateType) ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error) {
	vs := params.Values(types.LevelParent)
	if len(vs) == 0 {
		return nil, nil
	}
	if len(vs) > 1 {
		return nil, invalid("CF_TOO_MANY_VALUES", "%s accepts a single value.", fieldLabel(fc))
	}
	return t.ParseSingular(ctx, fc, vs[0])
}

func (t *dateType) ParamsFromJSON(_ context.Context, _ FieldContext, raw json.RawMessage) (Params, error) {
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
		return Params{}, invalid("CF_JSON_INVALID", "Expected a date string.")
	}
	p.Add(types.LevelParent, s)
	return p, nil
}

func (t *dateType) FormatSingular(v Value) (string, error) {
	switch d := v.(type) {
	case nil:
		return "", nil
	case Date:
		return time.Time(d).UTC().Format(DateFormat), nil
	case DateTime:
		return time.Time(d).In(t.loc()).Format(DateTimeFormat), nil
	default:
		return "", invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *dateType) ParseSingular(_ context.Context, fc FieldContext, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !t.withTime {
		for _, layout := range []string{DateFormat, displayDateFormat} {
			if d, err := time.Parse(layout, s); err == nil {
				return Date(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)), nil
			}
		}
		return nil, invalid("CF_DATE_INVALID", "Invalid date format for %s. Please enter the date in the format %s.", fieldLabel(fc), DateFormat)
	}
	for _, layout := range dateTimeInputFormats {
		if d, err := time.ParseInLocation(layout, s, t.loc()); err == nil {
			return DateTime(d.UTC().Truncate(time.Millisecond)), nil
		}
	}
	return nil, invalid("CF_DATE_INVALID", "Invalid date format for %s. Please enter the date in the format %s.", fieldLabel(fc), DateTimeFormat)
}

func (t *dateType) ToStored(v Value) ([]types.StoredValue, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case Date:
		return []types.StoredValue{types.DateRow(time.Time(d).UTC())}, nil
	case DateTime:
		return []types.StoredValue{types.DateRow(time.Time(d).UTC())}, nil
	default:
		return nil, invalid("CF_VALUE_TYPE", "Unexpected value type for %s.", t.desc.Key)
	}
}

func (t *dateType) FromStored(_ context.Context, _ FieldContext, rows []types.StoredValue) (Value, error) {
	for _, row := range rows {
		if row.Date == nil {
			continue
		}
		d := row.Date.UTC()
		if t.withTime {
			return DateTime(d.Truncate(time.Millisecond)), nil
		}
		return Date(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)), nil
	}
	return nil, nil
}

func (t *dateType) ChangeLog(v Value) ChangeLogEntry {
	s, _ := t.FormatSingular(v)
	return ChangeLogEntry{Value: s, String: t.display(v)}
}

func (t *dateType) display(v Value) string {
	switch d := v.(type) {
	case Date:
		return time.Time(d).UTC().Format(displayDateFormat)
	case DateTime:
		return time.Time(d).In(t.loc()).Format(displayTimeFormat)
	default:
		return ""
	}
}

func (t *dateType) JSON(v Value, _ Links) any {
	if v == nil {
		return nil
	}
	s, err := t.FormatSingular(v)
	if err != nil {
		return nil
	}
	return s
}

func (t *dateType) Schema(field types.CustomField) Schema {
	if t.withTime {
		return Schema{Type: "datetime", Custom: t.desc.Key, CustomID: field.NumericID}
	}
	return Schema{Type: "date", Custom: t.desc.Key, CustomID: field.NumericID}
}

func (t *dateType) TemplateParams(_ context.Context, fc FieldContext, v Value) (map[string]any, error) {
	s, _ := t.FormatSingular(v)
	return map[string]any{
		"value":    s,
		"display":  t.display(v),
		"withTime": t.withTime,
		"today":    t.now().In(t.loc()).Format(DateFormat),
		"required": fc.Config.Required,
	}, nil
}

func (t *dateType) Equal(a, b Value) bool { return equalByChangeLog(t, a, b) }
