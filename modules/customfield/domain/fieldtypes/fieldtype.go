package fieldtypes

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

type Descriptor struct {
	Key         string `json:"key"`
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	// ReadOnly types only accept input while the issue has no value.
	ReadOnly bool `json:"read_only"`
}

const (
	CategoryStandard = "standard"
	CategoryAdvanced = "advanced"
)

// FieldContext is everything a conversion may consult. Issue is nil when a
// value is converted outside of an issue (config defaults).
type FieldContext struct {
	Field  types.CustomField
	Config types.FieldConfig
	Issue  *types.Issue
}

type ChangeLogEntry struct {
	Value  string
	String string
}

type Schema struct {
	Type     string `json:"type"`
	Items    string `json:"items,omitempty"`
	Custom   string `json:"custom"`
	CustomID int64  `json:"customId"`
}

// FieldType converts one kind of custom field value between its request,
// string, object and stored forms.
type FieldType interface {
	Descriptor() Descriptor
	ValueFromParams(ctx context.Context, fc FieldContext, params Params) (Value, error)
	ParamsFromJSON(ctx context.Context, fc FieldContext, raw json.RawMessage) (Params, error)
	FormatSingular(v Value) (string, error)
	ParseSingular(ctx context.Context, fc FieldContext, s string) (Value, error)
	ToStored(v Value) ([]types.StoredValue, error)
	FromStored(ctx context.Context, fc FieldContext, rows []types.StoredValue) (Value, error)
	ChangeLog(v Value) ChangeLogEntry
	JSON(v Value, links Links) any
	Schema(field types.CustomField) Schema
	TemplateParams(ctx context.Context, fc FieldContext, v Value) (map[string]any, error)
	Equal(a, b Value) bool
}

// SelfPersisting types keep issue values in their own manager instead of the
// generic value store.
type SelfPersisting interface {
	Load(ctx context.Context, fc FieldContext) (Value, error)
	Persist(ctx context.Context, fc FieldContext, v Value) error
}

type Deps struct {
	Options  ports.OptionsManager
	Labels   ports.LabelManager
	Versions ports.VersionManager
	Projects ports.ProjectManager
	Users    ports.UserManager
	Groups   ports.GroupManager
	Now      func() time.Time
	Location *time.Location
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Deps) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// Links builds `self` URLs of REST beans.
type Links struct {
	BaseURL string
}

func (l Links) base() string {
	return strings.TrimRight(l.BaseURL, "/")
}

func (l Links) Option(id int64) string {
	return l.base() + "/rest/api/2/customFieldOption/" + strconv.FormatInt(id, 10)
}

func (l Links) User(name string) string {
	return l.base() + "/rest/api/2/user?username=" + url.QueryEscape(name)
}

func (l Links) Group(name string) string {
	return l.base() + "/rest/api/2/group?groupname=" + url.QueryEscape(name)
}

func (l Links) Version(id int64) string {
	return l.base() + "/rest/api/2/version/" + strconv.FormatInt(id, 10)
}

func (l Links) Project(id int64) string {
	return l.base() + "/rest/api/2/project/" + strconv.FormatInt(id, 10)
}

// Validate converts params into a value and records every failure in errs.
// The returned bool is false when at least one error was recorded.
func Validate(ctx context.Context, ft FieldType, fc FieldContext, params Params, errs ErrorCollection) (Value, bool) {
	fieldID := fc.Field.ID
	v, err := ft.ValueFromParams(ctx, fc, params)
	if err != nil {
		if ve, ok := errors.AsType[*ValidationError](err); ok {
			errs.AddError(fieldID, ve.Code, ve.Message, ve.Reason)
			return nil, false
		}
		errs.AddError(fieldID, "CF_VALUE_ERROR", err.Error(), ReasonServerError)
		return nil, false
	}
	if v == nil {
		if fc.Config.Required {
			errs.AddError(fieldID, "CF_VALUE_REQUIRED", fc.Field.Name+" is required.", ReasonValidationFailed)
			return nil, false
		}
		return nil, true
	}
	if strings.TrimSpace(fc.Config.ValidationExpr) != "" {
		ok, err := EvalExpr(fc.Config.ValidationExpr, fieldID, ExprValue(v))
		if err != nil {
			errs.AddError(fieldID, "CF_VALIDATION_EXPR_ERROR", err.Error(), ReasonServerError)
			return nil, false
		}
		if !ok {
			errs.AddError(fieldID, "CF_VALUE_REJECTED", "The value of "+fc.Field.Name+" was rejected by its validation rule.", ReasonValidationFailed)
			return nil, false
		}
	}
	return v, true
}

func isEmptyValue(v Value) bool {
	switch t := v.(type) {
	case nil:
		return true
	case Text:
		return t == ""
	case Options:
		return len(t) == 0
	case Labels:
		return len(t) == 0
	case Users:
		return len(t) == 0
	case Groups:
		return len(t) == 0
	case Versions:
		return len(t) == 0
	case Cascade:
		return t.Parent == nil
	default:
		return false
	}
}

// equalByChangeLog treats two values as equal when they would be logged the
// same way.
func equalByChangeLog(ft FieldType, a, b Value) bool {
	ea, eb := isEmptyValue(a), isEmptyValue(b)
	if ea || eb {
		return ea == eb
	}
	return ft.ChangeLog(a) == ft.ChangeLog(b)
}

func decodeJSONParams(raw json.RawMessage) (any, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("CF_JSON_INVALID", "Invalid JSON value.")
	}
	return v, nil
}

// scalarString renders a decoded JSON scalar as a param value.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
