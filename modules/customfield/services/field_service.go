package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/metrics"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
)

const (
	errFieldNameRequired     = "CF_FIELD_NAME_REQUIRED"
	errFieldTypeUnknown      = "CF_FIELD_TYPE_UNKNOWN"
	errContextScopeRequired  = "CF_CONTEXT_SCOPE_REQUIRED"
	errContextScopeConflict  = "CF_CONTEXT_SCOPE_CONFLICT"
	errGlobalContextRequired = "CF_GLOBAL_CONTEXT_REQUIRED"
	errValidationExprInvalid = "CF_VALIDATION_EXPR_INVALID"
	errMappingOptionInvalid  = "CF_MAPPING_OPTION_INVALID"
	errIssueTypeRequired     = "CF_ISSUE_TYPE_REQUIRED"

	maxFieldNameLength      = 255
	defaultSchemeNamePrefix = "Default Configuration Scheme for "
	defaultConfigNamePrefix = "Default Configuration for "
)

// ValidationFailedError carries per-field errors of a rejected value.
type ValidationFailedError struct {
	Errors []fieldtypes.FieldError
}

func (e *ValidationFailedError) Error() string {
	if len(e.Errors) == 0 {
		return "field_validation_failed"
	}
	return e.Errors[0].Code
}

type FieldService interface {
	FieldTypes() []fieldtypes.Descriptor
	CreateField(ctx context.Context, req CreateFieldRequest) (FieldDetail, error)
	ListFields(ctx context.Context) ([]types.CustomField, error)
	GetField(ctx context.Context, fieldID string) (FieldDetail, error)
	ListContexts(ctx context.Context, fieldID string) ([]ContextDetail, error)
	AddContext(ctx context.Context, req AddContextRequest) (ContextDetail, error)
	RemoveContext(ctx context.Context, fieldID string, schemeID int64) error
	UpdateConfig(ctx context.Context, req UpdateConfigRequest) (types.FieldConfig, error)
	SetDefault(ctx context.Context, configID int64, params fieldtypes.Params) (types.FieldConfig, error)
	ResolveConfig(ctx context.Context, fieldID string, projectID int64, issueTypeID string) (types.FieldConfig, error)
	GetValue(ctx context.Context, issueKey string, fieldID string) (FieldValue, error)
	ValueJSON(ctx context.Context, issueKey string, fieldID string) (ValueView, error)
	EditView(ctx context.Context, issueKey string, fieldID string) (EditView, error)
	UpdateValue(ctx context.Context, req UpdateValueRequest) (UpdateResult, error)
	UpdateValueJSON(ctx context.Context, req UpdateValueJSONRequest) (UpdateResult, error)
	UpdateValues(ctx context.Context, req UpdateValuesRequest) (UpdateResult, error)
	ChangeLog(ctx context.Context, issueKey string) ([]types.ChangeGroup, error)
	OptionConflicts(ctx context.Context, issueID int64, targetIssueTypeID string) ([]OptionConflict, error)
	MoveIssueValues(ctx context.Context, req MoveValuesRequest) ([]types.ChangeItem, error)
}

// FieldStores groups the ports the field service reads and writes.
type FieldStores struct {
	Fields   ports.FieldStore
	Values   ports.ValueStore
	Issues   ports.IssueStore
	Changes  ports.ChangeLogStore
	Options  ports.OptionsManager
	Projects ports.ProjectManager
	// Tx groups multi-step writes; nil runs them without a transaction.
	Tx ports.Transactor
}

type CreateFieldRequest struct {
	Name        string
	Description string
	TypeKey     string
}

type AddContextRequest struct {
	FieldID      string
	Name         string
	ProjectIDs   []int64
	IssueTypeIDs []string
}

type UpdateConfigRequest struct {
	ConfigID       int64
	Required       *bool
	ValidationExpr *string
}

type UpdateValueRequest struct {
	IssueKey string
	FieldID  string
	Params   fieldtypes.Params
	Author   string
}

// UpdateValuesRequest edits several fields of one issue. Either every value
// is saved under a single change group or none is.
type UpdateValuesRequest struct {
	IssueKey string
	Values   []FieldParams
	Author   string
}

type FieldParams struct {
	FieldID string
	Params  fieldtypes.Params
}

type UpdateValueJSONRequest struct {
	IssueKey string
	FieldID  string
	Raw      json.RawMessage
	Author   string
}

// OptionKey identifies an option value of one field on the migration path.
type OptionKey struct {
	FieldID  string
	OptionID int64
}

type MoveValuesRequest struct {
	Issue             types.Issue
	TargetIssueTypeID string
	// Mappings replaces options invalid in the target context; a zero target
	// clears the value.
	Mappings map[OptionKey]int64
}

type ContextDetail struct {
	Scheme types.FieldConfigScheme `json:"scheme"`
	Config types.FieldConfig       `json:"config"`
}

type FieldDetail struct {
	Field    types.CustomField     `json:"field"`
	Type     fieldtypes.Descriptor `json:"type"`
	Contexts []ContextDetail       `json:"contexts"`
}

type FieldValue struct {
	Issue  types.Issue
	Field  types.CustomField
	Config types.FieldConfig
	Type   fieldtypes.Descriptor
	Value  fieldtypes.Value
}

type ValueView struct {
	IssueKey string            `json:"issue_key"`
	FieldID  string            `json:"field_id"`
	Name     string            `json:"name"`
	Schema   fieldtypes.Schema `json:"schema"`
	Value    any               `json:"value"`
}

type EditView struct {
	IssueKey     string            `json:"issue_key"`
	FieldID      string            `json:"field_id"`
	Name         string            `json:"name"`
	Required     bool              `json:"required"`
	ReadOnly     bool              `json:"read_only"`
	UsingDefault bool              `json:"using_default"`
	Schema       fieldtypes.Schema `json:"schema"`
	Params       map[string]any    `json:"params"`
}

type UpdateResult struct {
	Issue types.Issue        `json:"issue"`
	Value any                `json:"value"`
	Items []types.ChangeItem `json:"items"`
}

type OptionConflict struct {
	FieldID        string       `json:"field_id"`
	FieldName      string       `json:"field_name"`
	TypeKey        string       `json:"type_key"`
	SourceConfigID int64        `json:"source_config_id"`
	TargetConfigID int64        `json:"target_config_id"`
	TargetRequired bool         `json:"target_required"`
	Option         types.Option `json:"option"`
}

type fieldService struct {
	stores   FieldStores
	registry *fieldtypes.Registry
	logger   *zap.Logger
	metrics  metrics.Recorder
	links    fieldtypes.Links
}

func NewFieldService(stores FieldStores, registry *fieldtypes.Registry, logger *zap.Logger, rec metrics.Recorder, links fieldtypes.Links) FieldService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &fieldService{stores: stores, registry: registry, logger: logger, metrics: rec, links: links}
}

func (s *fieldService) FieldTypes() []fieldtypes.Descriptor {
	return s.registry.Descriptors()
}

func (s *fieldService) CreateField(ctx context.Context, req CreateFieldRequest) (FieldDetail, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len([]rune(name)) > maxFieldNameLength {
		return FieldDetail{}, httperr.NewBadRequest(errFieldNameRequired)
	}
	typeKey := strings.ToLower(strings.TrimSpace(req.TypeKey))
	ft, ok := s.registry.Lookup(typeKey)
	if !ok || !s.registry.Enabled(typeKey) {
		return FieldDetail{}, httperr.NewBadRequest(errFieldTypeUnknown)
	}
	field, err := s.stores.Fields.CreateField(ctx, types.CustomField{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		TypeKey:     typeKey,
	})
	if err != nil {
		return FieldDetail{}, err
	}
	scheme, cfg, err := s.stores.Fields.CreateContext(ctx,
		types.FieldConfigScheme{FieldID: field.ID, Name: defaultSchemeNamePrefix + name},
		types.FieldConfig{Name: defaultConfigNamePrefix + name},
	)
	if err != nil {
		return FieldDetail{}, err
	}
	s.logger.Info("custom field created",
		zap.String("field_id", field.ID),
		zap.String("type", typeKey),
	)
	return FieldDetail{
		Field:    field,
		Type:     ft.Descriptor(),
		Contexts: []ContextDetail{{Scheme: scheme, Config: cfg}},
	}, nil
}

func (s *fieldService) ListFields(ctx context.Context) ([]types.CustomField, error) {
	return s.stores.Fields.ListFields(ctx)
}

func (s *fieldService) GetField(ctx context.Context, fieldID string) (FieldDetail, error) {
	field, ft, err := s.fieldType(ctx, fieldID)
	if err != nil {
		return FieldDetail{}, err
	}
	contexts, err := s.ListContexts(ctx, field.ID)
	if err != nil {
		return FieldDetail{}, err
	}
	return FieldDetail{Field: field, Type: ft.Descriptor(), Contexts: contexts}, nil
}

func (s *fieldService) fieldType(ctx context.Context, fieldID string) (types.CustomField, fieldtypes.FieldType, error) {
	field, err := s.stores.Fields.GetField(ctx, strings.TrimSpace(fieldID))
	if err != nil {
		return types.CustomField{}, nil, err
	}
	ft, ok := s.registry.Lookup(field.TypeKey)
	if !ok {
		return types.CustomField{}, nil, fmt.Errorf("%s: %w", field.TypeKey, errUnknownFieldType)
	}
	return field, ft, nil
}

var errUnknownFieldType = errors.New(errFieldTypeUnknown)

func (s *fieldService) ListContexts(ctx context.Context, fieldID string) ([]ContextDetail, error) {
	schemes, err := s.stores.Fields.ListContexts(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	out := make([]ContextDetail, 0, len(schemes))
	for _, sc := range schemes {
		cfg, err := s.stores.Fields.GetFieldConfig(ctx, sc.ConfigID)
		if err != nil {
			return nil, err
		}
		out = append(out, ContextDetail{Scheme: sc, Config: cfg})
	}
	return out, nil
}

func (s *fieldService) AddContext(ctx context.Context, req AddContextRequest) (ContextDetail, error) {
	field, _, err := s.fieldType(ctx, req.FieldID)
	if err != nil {
		return ContextDetail{}, err
	}
	projectIDs := slices.Compact(slices.Sorted(slices.Values(req.ProjectIDs)))
	var issueTypeIDs []string
	for _, id := range req.IssueTypeIDs {
		if id = strings.TrimSpace(id); id != "" {
			issueTypeIDs = append(issueTypeIDs, id)
		}
	}
	slices.Sort(issueTypeIDs)
	issueTypeIDs = slices.Compact(issueTypeIDs)
	if len(projectIDs) == 0 && len(issueTypeIDs) == 0 {
		return ContextDetail{}, httperr.NewBadRequest(errContextScopeRequired)
	}
	for _, pid := range projectIDs {
		if _, err := s.stores.Projects.GetProject(ctx, pid); err != nil {
			return ContextDetail{}, err
		}
	}
	existing, err := s.stores.Fields.ListContexts(ctx, field.ID)
	if err != nil {
		return ContextDetail{}, err
	}
	for _, sc := range existing {
		if scopeOverlaps(sc, projectIDs, issueTypeIDs) {
			return ContextDetail{}, httperr.NewConflict(errContextScopeConflict)
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Context for " + field.Name
	}
	scheme, cfg, err := s.stores.Fields.CreateContext(ctx,
		types.FieldConfigScheme{FieldID: field.ID, Name: name, ProjectIDs: projectIDs, IssueTypeIDs: issueTypeIDs},
		types.FieldConfig{Name: name},
	)
	if err != nil {
		return ContextDetail{}, err
	}
	return ContextDetail{Scheme: scheme, Config: cfg}, nil
}

// scopeOverlaps reports whether an existing context has the same kind of
// scope as the new one and shares a project or issue type with it.
func scopeOverlaps(sc types.FieldConfigScheme, projectIDs []int64, issueTypeIDs []string) bool {
	if sc.IsGlobal() {
		return false
	}
	return dimensionOverlaps(sc.ProjectIDs, projectIDs) && dimensionOverlaps(sc.IssueTypeIDs, issueTypeIDs)
}

func dimensionOverlaps[T comparable](a, b []T) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	for _, x := range b {
		if slices.Contains(a, x) {
			return true
		}
	}
	return false
}

func (s *fieldService) RemoveContext(ctx context.Context, fieldID string, schemeID int64) error {
	schemes, err := s.stores.Fields.ListContexts(ctx, fieldID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(schemes, func(sc types.FieldConfigScheme) bool { return sc.ID == schemeID })
	if idx < 0 {
		return ports.ErrContextNotFound
	}
	if schemes[idx].IsGlobal() {
		return httperr.NewBadRequest(errGlobalContextRequired)
	}
	return s.stores.Fields.DeleteContext(ctx, schemeID)
}

func (s *fieldService) UpdateConfig(ctx context.Context, req UpdateConfigRequest) (types.FieldConfig, error) {
	cfg, err := s.stores.Fields.GetFieldConfig(ctx, req.ConfigID)
	if err != nil {
		return types.FieldConfig{}, err
	}
	if req.Required != nil {
		cfg.Required = *req.Required
	}
	if req.ValidationExpr != nil {
		expr := strings.TrimSpace(*req.ValidationExpr)
		if expr != "" {
			if _, err := fieldtypes.CompileExpr(expr); err != nil {
				return types.FieldConfig{}, httperr.NewBadRequestDetail(errValidationExprInvalid, err.Error())
			}
		}
		cfg.ValidationExpr = expr
	}
	return s.stores.Fields.UpdateFieldConfig(ctx, cfg)
}

func (s *fieldService) SetDefault(ctx context.Context, configID int64, params fieldtypes.Params) (types.FieldConfig, error) {
	cfg, err := s.stores.Fields.GetFieldConfig(ctx, configID)
	if err != nil {
		return types.FieldConfig{}, err
	}
	field, ft, err := s.fieldType(ctx, cfg.FieldID)
	if err != nil {
		return types.FieldConfig{}, err
	}
	// An empty default is always allowed, even on required configs.
	check := cfg
	check.Required = false
	errs := &fieldtypes.Errors{}
	v, ok := fieldtypes.Validate(ctx, ft, fieldtypes.FieldContext{Field: field, Config: check}, params, errs)
	if !ok {
		return types.FieldConfig{}, &ValidationFailedError{Errors: errs.Items()}
	}
	var rows []types.StoredValue
	if v != nil {
		if rows, err = ft.ToStored(v); err != nil {
			return types.FieldConfig{}, err
		}
	}
	cfg.Default = rows
	return s.stores.Fields.UpdateFieldConfig(ctx, cfg)
}

// ResolveConfig picks the most specific context: project and issue type,
// then project, then issue type, then global.
func (s *fieldService) ResolveConfig(ctx context.Context, fieldID string, projectID int64, issueTypeID string) (types.FieldConfig, error) {
	schemes, err := s.stores.Fields.ListContexts(ctx, fieldID)
	if err != nil {
		return types.FieldConfig{}, err
	}
	best, bestScore := types.FieldConfigScheme{}, -1
	for _, sc := range schemes {
		if len(sc.ProjectIDs) > 0 && !slices.Contains(sc.ProjectIDs, projectID) {
			continue
		}
		if len(sc.IssueTypeIDs) > 0 && !slices.Contains(sc.IssueTypeIDs, issueTypeID) {
			continue
		}
		score := 0
		if len(sc.ProjectIDs) > 0 {
			score += 2
		}
		if len(sc.IssueTypeIDs) > 0 {
			score++
		}
		if score > bestScore || (score == bestScore && sc.ID < best.ID) {
			best, bestScore = sc, score
		}
	}
	if bestScore < 0 {
		return types.FieldConfig{}, ports.ErrContextNotFound
	}
	return s.stores.Fields.GetFieldConfig(ctx, best.ConfigID)
}

// target is a field of one issue with its resolved config.
type target struct {
	issue types.Issue
	field types.CustomField
	ft    fieldtypes.FieldType
	fc    fieldtypes.FieldContext
}

func (s *fieldService) resolveTarget(ctx context.Context, issueKey string, fieldID string) (target, error) {
	issue, err := s.stores.Issues.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return target{}, err
	}
	return s.targetFor(ctx, issue, issue.IssueTypeID, fieldID)
}

func (s *fieldService) targetFor(ctx context.Context, issue types.Issue, issueTypeID string, fieldID string) (target, error) {
	field, ft, err := s.fieldType(ctx, fieldID)
	if err != nil {
		return target{}, err
	}
	cfg, err := s.ResolveConfig(ctx, field.ID, issue.ProjectID, issueTypeID)
	if err != nil {
		return target{}, err
	}
	iss := issue
	iss.IssueTypeID = issueTypeID
	return target{
		issue: issue,
		field: field,
		ft:    ft,
		fc:    fieldtypes.FieldContext{Field: field, Config: cfg, Issue: &iss},
	}, nil
}

func (s *fieldService) load(ctx context.Context, t target) (fieldtypes.Value, error) {
	if sp, ok := t.ft.(fieldtypes.SelfPersisting); ok {
		return sp.Load(ctx, t.fc)
	}
	rows, err := s.stores.Values.GetValues(ctx, t.issue.ID, t.field.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return t.ft.FromStored(ctx, t.fc, rows)
}

func (s *fieldService) store(ctx context.Context, t target, v fieldtypes.Value) error {
	if sp, ok := t.ft.(fieldtypes.SelfPersisting); ok {
		return sp.Persist(ctx, t.fc, v)
	}
	var rows []types.StoredValue
	if v != nil {
		var err error
		if rows, err = t.ft.ToStored(v); err != nil {
			return err
		}
	}
	return s.stores.Values.SetValues(ctx, t.issue.ID, t.field.ID, rows)
}

func (s *fieldService) GetValue(ctx context.Context, issueKey string, fieldID string) (FieldValue, error) {
	t, err := s.resolveTarget(ctx, issueKey, fieldID)
	if err != nil {
		return FieldValue{}, err
	}
	v, err := s.load(ctx, t)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{Issue: t.issue, Field: t.field, Config: t.fc.Config, Type: t.ft.Descriptor(), Value: v}, nil
}

func (s *fieldService) ValueJSON(ctx context.Context, issueKey string, fieldID string) (ValueView, error) {
	t, err := s.resolveTarget(ctx, issueKey, fieldID)
	if err != nil {
		return ValueView{}, err
	}
	v, err := s.load(ctx, t)
	if err != nil {
		return ValueView{}, err
	}
	return ValueView{
		IssueKey: t.issue.Key,
		FieldID:  t.field.ID,
		Name:     t.field.Name,
		Schema:   t.ft.Schema(t.field),
		Value:    s.valueJSON(t.ft, v),
	}, nil
}

func (s *fieldService) valueJSON(ft fieldtypes.FieldType, v fieldtypes.Value) any {
	if v == nil {
		return nil
	}
	return ft.JSON(v, s.links)
}

func (s *fieldService) EditView(ctx context.Context, issueKey string, fieldID string) (EditView, error) {
	t, err := s.resolveTarget(ctx, issueKey, fieldID)
	if err != nil {
		return EditView{}, err
	}
	v, err := s.load(ctx, t)
	if err != nil {
		return EditView{}, err
	}
	usingDefault := false
	if v == nil && len(t.fc.Config.Default) > 0 {
		if v, err = t.ft.FromStored(ctx, t.fc, t.fc.Config.Default); err != nil {
			return EditView{}, err
		}
		usingDefault = v != nil
	}
	params, err := t.ft.TemplateParams(ctx, t.fc, v)
	if err != nil {
		return EditView{}, err
	}
	desc := t.ft.Descriptor()
	return EditView{
		IssueKey:     t.issue.Key,
		FieldID:      t.field.ID,
		Name:         t.field.Name,
		Required:     t.fc.Config.Required,
		ReadOnly:     desc.ReadOnly && v != nil && !usingDefault,
		UsingDefault: usingDefault,
		Schema:       t.ft.Schema(t.field),
		Params:       params,
	}, nil
}

func (s *fieldService) UpdateValue(ctx context.Context, req UpdateValueRequest) (UpdateResult, error) {
	t, err := s.resolveTarget(ctx, req.IssueKey, req.FieldID)
	if err != nil {
		return UpdateResult{}, err
	}
	return s.update(ctx, t, req.Params, req.Author)
}

func (s *fieldService) UpdateValueJSON(ctx context.Context, req UpdateValueJSONRequest) (UpdateResult, error) {
	t, err := s.resolveTarget(ctx, req.IssueKey, req.FieldID)
	if err != nil {
		return UpdateResult{}, err
	}
	params, err := t.ft.ParamsFromJSON(ctx, t.fc, req.Raw)
	if err != nil {
		if ve, ok := errors.AsType[*fieldtypes.ValidationError](err); ok {
			s.metrics.ValidationFailed(t.field.TypeKey, string(ve.Reason))
			return UpdateResult{}, &ValidationFailedError{Errors: []fieldtypes.FieldError{{
				FieldID: t.field.ID, Code: ve.Code, Message: ve.Message, Reason: ve.Reason,
			}}}
		}
		return UpdateResult{}, err
	}
	return s.update(ctx, t, params, req.Author)
}

// pendingValue is a validated value waiting to be written.
type pendingValue struct {
	t       target
	current fieldtypes.Value
	next    fieldtypes.Value
}

func (p pendingValue) changed() bool {
	return !p.t.ft.Equal(p.current, p.next)
}

// prepare validates params for t. ok is false when errs received the
// reasons the value was rejected.
func (s *fieldService) prepare(ctx context.Context, t target, params fieldtypes.Params, errs *fieldtypes.Errors) (pendingValue, bool, error) {
	current, err := s.load(ctx, t)
	if err != nil {
		return pendingValue{}, false, err
	}
	p := pendingValue{t: t, current: current, next: current}
	if t.ft.Descriptor().ReadOnly && current != nil {
		return p, true, nil
	}
	v, ok := fieldtypes.Validate(ctx, t.ft, t.fc, params, errs)
	if !ok {
		if fe, found := errs.ForField(t.field.ID); found {
			s.metrics.ValidationFailed(t.field.TypeKey, string(fe.Reason))
		}
		return pendingValue{}, false, nil
	}
	p.next = v
	return p, true, nil
}

// commit writes the changed values and their change group in one unit of work.
func (s *fieldService) commit(ctx context.Context, issue types.Issue, pending []pendingValue, author string) ([]types.ChangeItem, error) {
	var items []types.ChangeItem
	err := withinTx(ctx, s.stores.Tx, func(ctx context.Context) error {
		items = items[:0]
		for _, p := range pending {
			if !p.changed() {
				continue
			}
			if err := s.store(ctx, p.t, p.next); err != nil {
				return err
			}
			items = append(items, changeItem(p.t, p.current, p.next))
		}
		if len(items) == 0 {
			return nil
		}
		_, err := s.stores.Changes.AppendChangeGroup(ctx, types.ChangeGroup{
			IssueID: issue.ID,
			Author:  author,
			Items:   items,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if !p.changed() {
			continue
		}
		s.metrics.FieldValueUpdated(p.t.field.TypeKey)
		s.logger.Info("custom field value updated",
			zap.String("issue", issue.Key),
			zap.String("field_id", p.t.field.ID),
			zap.String("author", author),
		)
	}
	return items, nil
}

func (s *fieldService) update(ctx context.Context, t target, params fieldtypes.Params, author string) (UpdateResult, error) {
	errs := &fieldtypes.Errors{}
	p, ok, err := s.prepare(ctx, t, params, errs)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ok {
		return UpdateResult{}, &ValidationFailedError{Errors: errs.Items()}
	}
	items, err := s.commit(ctx, t.issue, []pendingValue{p}, author)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Issue: t.issue, Value: s.valueJSON(t.ft, p.next), Items: items}, nil
}

// UpdateValues validates every submitted field before writing any of them.
func (s *fieldService) UpdateValues(ctx context.Context, req UpdateValuesRequest) (UpdateResult, error) {
	issue, err := s.stores.Issues.GetIssueByKey(ctx, req.IssueKey)
	if err != nil {
		return UpdateResult{}, err
	}
	errs := &fieldtypes.Errors{}
	pending := make([]pendingValue, 0, len(req.Values))
	for _, fp := range req.Values {
		t, err := s.targetFor(ctx, issue, issue.IssueTypeID, fp.FieldID)
		if err != nil {
			return UpdateResult{}, err
		}
		p, ok, err := s.prepare(ctx, t, fp.Params, errs)
		if err != nil {
			return UpdateResult{}, err
		}
		if ok {
			pending = append(pending, p)
		}
	}
	if errs.HasErrors() {
		return UpdateResult{}, &ValidationFailedError{Errors: errs.Items()}
	}
	items, err := s.commit(ctx, issue, pending, req.Author)
	if err != nil {
		return UpdateResult{}, err
	}
	values := make(map[string]any, len(pending))
	for _, p := range pending {
		values[p.t.field.ID] = s.valueJSON(p.t.ft, p.next)
	}
	return UpdateResult{Issue: issue, Value: values, Items: items}, nil
}

func withinTx(ctx context.Context, tx ports.Transactor, fn func(ctx context.Context) error) error {
	if tx == nil {
		return fn(ctx)
	}
	return tx.WithinTx(ctx, fn)
}

func changeLog(ft fieldtypes.FieldType, v fieldtypes.Value) fieldtypes.ChangeLogEntry {
	if v == nil {
		return fieldtypes.ChangeLogEntry{}
	}
	return ft.ChangeLog(v)
}

func changeItem(t target, from, to fieldtypes.Value) types.ChangeItem {
	f, n := changeLog(t.ft, from), changeLog(t.ft, to)
	return types.ChangeItem{
		FieldID:    t.field.ID,
		FieldName:  t.field.Name,
		From:       f.Value,
		FromString: f.String,
		To:         n.Value,
		ToString:   n.String,
	}
}

func (s *fieldService) ChangeLog(ctx context.Context, issueKey string) ([]types.ChangeGroup, error) {
	issue, err := s.stores.Issues.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return nil, err
	}
	return s.stores.Changes.ListChangeGroups(ctx, issue.ID)
}

// optionBackedFields lists fields whose values reference options.
func (s *fieldService) optionBackedFields(ctx context.Context) ([]types.CustomField, error) {
	fields, err := s.stores.Fields.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.CustomField
	for _, f := range fields {
		ft, ok := s.registry.Lookup(f.TypeKey)
		if ok && fieldtypes.IsOptionBacked(ft.Descriptor().Kind) {
			out = append(out, f)
		}
	}
	return out, nil
}

// movePair resolves the source and target contexts of a field for an issue
// changing type. ok is false when the value is untouched by the move.
func (s *fieldService) movePair(ctx context.Context, issue types.Issue, targetIssueTypeID string, fieldID string) (src target, dst target, ok bool, err error) {
	src, err = s.targetFor(ctx, issue, issue.IssueTypeID, fieldID)
	if errors.Is(err, ports.ErrContextNotFound) {
		return target{}, target{}, false, nil
	}
	if err != nil {
		return target{}, target{}, false, err
	}
	dst, err = s.targetFor(ctx, issue, targetIssueTypeID, fieldID)
	if errors.Is(err, ports.ErrContextNotFound) {
		return target{}, target{}, false, nil
	}
	if err != nil {
		return target{}, target{}, false, err
	}
	return src, dst, src.fc.Config.ID != dst.fc.Config.ID, nil
}

func (s *fieldService) OptionConflicts(ctx context.Context, issueID int64, targetIssueTypeID string) ([]OptionConflict, error) {
	if strings.TrimSpace(targetIssueTypeID) == "" {
		return nil, httperr.NewBadRequest(errIssueTypeRequired)
	}
	issue, err := s.stores.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	fields, err := s.optionBackedFields(ctx)
	if err != nil {
		return nil, err
	}
	var out []OptionConflict
	for _, f := range fields {
		src, dst, moved, err := s.movePair(ctx, issue, targetIssueTypeID, f.ID)
		if err != nil {
			return nil, err
		}
		if !moved {
			continue
		}
		v, err := s.load(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, o := range valueOptions(v) {
			if validInConfig(o, dst.fc.Config.ID) {
				continue
			}
			out = append(out, OptionConflict{
				FieldID:        f.ID,
				FieldName:      f.Name,
				TypeKey:        f.TypeKey,
				SourceConfigID: src.fc.Config.ID,
				TargetConfigID: dst.fc.Config.ID,
				TargetRequired: dst.fc.Config.Required,
				Option:         o,
			})
		}
	}
	return out, nil
}

func validInConfig(o types.Option, configID int64) bool {
	return o.FieldConfigID == configID && !o.Disabled
}

func valueOptions(v fieldtypes.Value) []types.Option {
	switch t := v.(type) {
	case fieldtypes.OptionValue:
		return []types.Option{t.Option}
	case fieldtypes.Options:
		return []types.Option(t)
	case fieldtypes.Cascade:
		var out []types.Option
		if t.Parent != nil {
			out = append(out, *t.Parent)
		}
		if t.Child != nil {
			out = append(out, *t.Child)
		}
		return out
	default:
		return nil
	}
}

// MoveIssueValues rewrites option-backed values for an issue about to change
// type. Options valid in the target context are kept; others are replaced
// through the mappings or cleared. The returned items are not logged.
func (s *fieldService) MoveIssueValues(ctx context.Context, req MoveValuesRequest) ([]types.ChangeItem, error) {
	var items []types.ChangeItem
	err := withinTx(ctx, s.stores.Tx, func(ctx context.Context) error {
		fields, err := s.optionBackedFields(ctx)
		if err != nil {
			return err
		}
		items = items[:0]
		for _, f := range fields {
			src, dst, moved, err := s.movePair(ctx, req.Issue, req.TargetIssueTypeID, f.ID)
			if err != nil {
				return err
			}
			if !moved {
				continue
			}
			current, err := s.load(ctx, src)
			if err != nil {
				return err
			}
			if current == nil {
				continue
			}
			next, err := s.remap(ctx, f.ID, dst.fc.Config.ID, current, req.Mappings)
			if err != nil {
				return err
			}
			if dst.ft.Equal(current, next) {
				continue
			}
			if err := s.store(ctx, dst, next); err != nil {
				return err
			}
			items = append(items, changeItem(dst, current, next))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *fieldService) remap(ctx context.Context, fieldID string, configID int64, v fieldtypes.Value, mappings map[OptionKey]int64) (fieldtypes.Value, error) {
	resolve := func(o types.Option, parentID int64) (*types.Option, error) {
		if validInConfig(o, configID) && o.ParentID == parentID {
			return &o, nil
		}
		id := mappings[OptionKey{FieldID: fieldID, OptionID: o.ID}]
		if id == 0 {
			return nil, nil
		}
		mapped, err := s.stores.Options.GetOption(ctx, id)
		if err != nil {
			return nil, err
		}
		if !validInConfig(mapped, configID) || mapped.ParentID != parentID {
			return nil, httperr.NewBadRequest(errMappingOptionInvalid)
		}
		return &mapped, nil
	}

	switch t := v.(type) {
	case fieldtypes.OptionValue:
		o, err := resolve(t.Option, 0)
		if err != nil || o == nil {
			return nil, err
		}
		return fieldtypes.OptionValue{Option: *o}, nil
	case fieldtypes.Options:
		out := make(fieldtypes.Options, 0, len(t))
		seen := map[int64]bool{}
		for _, opt := range t {
			o, err := resolve(opt, 0)
			if err != nil {
				return nil, err
			}
			if o == nil || seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			out = append(out, *o)
		}
		if len(out) == 0 {
			return nil, nil
		}
		slices.SortFunc(out, func(a, b types.Option) int {
			return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), cmp.Compare(a.ID, b.ID))
		})
		return out, nil
	case fieldtypes.Cascade:
		if t.Parent == nil {
			return nil, nil
		}
		parent, err := resolve(*t.Parent, 0)
		if err != nil || parent == nil {
			return nil, err
		}
		out := fieldtypes.Cascade{Parent: parent}
		if t.Child != nil {
			child, err := resolve(*t.Child, parent.ID)
			if err != nil {
				return nil, err
			}
			out.Child = child
		}
		return out, nil
	default:
		return v, nil
	}
}
