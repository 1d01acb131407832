package services

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/metrics"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
)

const (
	errOptionValueRequired    = "CF_OPTION_VALUE_REQUIRED"
	errOptionValueTooLong     = "CF_OPTION_VALUE_TOO_LONG"
	errFieldNotOptionBacked   = "CF_FIELD_NOT_OPTION_BACKED"
	errOptionParentNotAllowed = "CF_OPTION_PARENT_NOT_ALLOWED"
	errOptionPositionInvalid  = "CF_OPTION_POSITION_INVALID"
	maxOptionValueLength      = 255
)

type OptionService interface {
	ListOptions(ctx context.Context, configID int64, parentID int64) ([]types.Option, error)
	AddOption(ctx context.Context, req AddOptionRequest) (types.Option, error)
	RenameOption(ctx context.Context, optionID int64, value string) (types.Option, error)
	DisableOption(ctx context.Context, optionID int64) (types.Option, error)
	EnableOption(ctx context.Context, optionID int64) (types.Option, error)
	DeleteOption(ctx context.Context, optionID int64) (DeleteOptionResult, error)
	MoveOption(ctx context.Context, optionID int64, position int) error
	MoveUp(ctx context.Context, optionID int64) error
	MoveDown(ctx context.Context, optionID int64) error
	SortAlphabetically(ctx context.Context, configID int64, parentID int64) error
}

// OptionStores groups the ports the option service reads and writes.
type OptionStores struct {
	Options ports.OptionsManager
	Fields  ports.FieldStore
	Values  ports.ValueStore
	Tx      ports.Transactor
}

type AddOptionRequest struct {
	ConfigID int64
	ParentID int64
	Value    string
}

type DeleteOptionResult struct {
	RemovedOptionIDs []int64 `json:"removed_option_ids"`
	AffectedIssues   int     `json:"affected_issues"`
}

type optionService struct {
	stores   OptionStores
	registry *fieldtypes.Registry
	logger   *zap.Logger
	metrics  metrics.Recorder
}

func NewOptionService(stores OptionStores, registry *fieldtypes.Registry, logger *zap.Logger, rec metrics.Recorder) OptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &optionService{stores: stores, registry: registry, logger: logger, metrics: rec}
}

func (s *optionService) ListOptions(ctx context.Context, configID int64, parentID int64) ([]types.Option, error) {
	if _, err := s.stores.Fields.GetFieldConfig(ctx, configID); err != nil {
		return nil, err
	}
	return s.siblings(ctx, configID, parentID)
}

func (s *optionService) siblings(ctx context.Context, configID int64, parentID int64) ([]types.Option, error) {
	all, err := s.stores.Options.ListOptions(ctx, configID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Option, 0, len(all))
	for _, o := range all {
		if o.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out, nil
}

// configKind returns the field type kind behind a config.
func (s *optionService) configKind(ctx context.Context, configID int64) (types.FieldConfig, fieldtypes.Kind, error) {
	cfg, err := s.stores.Fields.GetFieldConfig(ctx, configID)
	if err != nil {
		return types.FieldConfig{}, 0, err
	}
	field, err := s.stores.Fields.GetField(ctx, cfg.FieldID)
	if err != nil {
		return types.FieldConfig{}, 0, err
	}
	ft, ok := s.registry.Lookup(field.TypeKey)
	if !ok || !fieldtypes.IsOptionBacked(ft.Descriptor().Kind) {
		return types.FieldConfig{}, 0, httperr.NewBadRequest(errFieldNotOptionBacked)
	}
	return cfg, ft.Descriptor().Kind, nil
}

func normalizeOptionValue(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", httperr.NewBadRequest(errOptionValueRequired)
	}
	if len([]rune(v)) > maxOptionValueLength {
		return "", httperr.NewBadRequest(errOptionValueTooLong)
	}
	return v, nil
}

func (s *optionService) AddOption(ctx context.Context, req AddOptionRequest) (types.Option, error) {
	value, err := normalizeOptionValue(req.Value)
	if err != nil {
		return types.Option{}, err
	}
	_, kind, err := s.configKind(ctx, req.ConfigID)
	if err != nil {
		return types.Option{}, err
	}
	if req.ParentID != 0 && kind != fieldtypes.KindCascade {
		return types.Option{}, httperr.NewBadRequest(errOptionParentNotAllowed)
	}
	o, err := s.stores.Options.CreateOption(ctx, req.ConfigID, req.ParentID, value)
	if err != nil {
		return types.Option{}, err
	}
	s.done("add", o)
	return o, nil
}

func (s *optionService) RenameOption(ctx context.Context, optionID int64, value string) (types.Option, error) {
	v, err := normalizeOptionValue(value)
	if err != nil {
		return types.Option{}, err
	}
	return s.mutate(ctx, "rename", optionID, func(o *types.Option) { o.Value = v })
}

func (s *optionService) DisableOption(ctx context.Context, optionID int64) (types.Option, error) {
	return s.mutate(ctx, "disable", optionID, func(o *types.Option) { o.Disabled = true })
}

func (s *optionService) EnableOption(ctx context.Context, optionID int64) (types.Option, error) {
	return s.mutate(ctx, "enable", optionID, func(o *types.Option) { o.Disabled = false })
}

func (s *optionService) mutate(ctx context.Context, op string, optionID int64, fn func(*types.Option)) (types.Option, error) {
	o, err := s.stores.Options.GetOption(ctx, optionID)
	if err != nil {
		return types.Option{}, err
	}
	fn(&o)
	updated, err := s.stores.Options.UpdateOption(ctx, o)
	if err != nil {
		return types.Option{}, err
	}
	s.done(op, updated)
	return updated, nil
}

// DeleteOption removes the option with its children, every issue value that
// references them and their use as config default.
func (s *optionService) DeleteOption(ctx context.Context, optionID int64) (DeleteOptionResult, error) {
	o, err := s.stores.Options.GetOption(ctx, optionID)
	if err != nil {
		return DeleteOptionResult{}, err
	}
	cfg, err := s.stores.Fields.GetFieldConfig(ctx, o.FieldConfigID)
	if err != nil {
		return DeleteOptionResult{}, err
	}
	var removed []int64
	var affected []int64
	err = withinTx(ctx, s.stores.Tx, func(ctx context.Context) error {
		var err error
		if removed, err = s.stores.Options.DeleteOption(ctx, optionID); err != nil {
			return err
		}
		if affected, err = s.stores.Values.RemoveOptionValues(ctx, cfg.FieldID, removed); err != nil {
			return err
		}
		if kept := withoutOptions(cfg.Default, removed); len(kept) != len(cfg.Default) {
			cfg.Default = kept
			if _, err := s.stores.Fields.UpdateFieldConfig(ctx, cfg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return DeleteOptionResult{}, err
	}
	s.done("delete", o)
	s.logger.Info("custom field option deleted",
		zap.Int64("option_id", o.ID),
		zap.Int64s("removed", removed),
		zap.Int("affected_issues", len(affected)),
	)
	return DeleteOptionResult{RemovedOptionIDs: removed, AffectedIssues: len(affected)}, nil
}

func withoutOptions(rows []types.StoredValue, ids []int64) []types.StoredValue {
	drop := map[string]bool{}
	for _, id := range ids {
		drop[strconv.FormatInt(id, 10)] = true
	}
	var out []types.StoredValue
	for _, row := range rows {
		if !drop[row.String] {
			out = append(out, row)
		}
	}
	return out
}

// MoveOption places the option at a zero-based position among its siblings.
func (s *optionService) MoveOption(ctx context.Context, optionID int64, position int) error {
	o, sibs, idx, err := s.locate(ctx, optionID)
	if err != nil {
		return err
	}
	if position < 0 || position >= len(sibs) {
		return httperr.NewBadRequest(errOptionPositionInvalid)
	}
	return s.reorder(ctx, "move", o, sibs, idx, position)
}

func (s *optionService) MoveUp(ctx context.Context, optionID int64) error {
	o, sibs, idx, err := s.locate(ctx, optionID)
	if err != nil {
		return err
	}
	if idx == 0 {
		return nil
	}
	return s.reorder(ctx, "move_up", o, sibs, idx, idx-1)
}

func (s *optionService) MoveDown(ctx context.Context, optionID int64) error {
	o, sibs, idx, err := s.locate(ctx, optionID)
	if err != nil {
		return err
	}
	if idx == len(sibs)-1 {
		return nil
	}
	return s.reorder(ctx, "move_down", o, sibs, idx, idx+1)
}

func (s *optionService) locate(ctx context.Context, optionID int64) (types.Option, []types.Option, int, error) {
	o, err := s.stores.Options.GetOption(ctx, optionID)
	if err != nil {
		return types.Option{}, nil, 0, err
	}
	sibs, err := s.siblings(ctx, o.FieldConfigID, o.ParentID)
	if err != nil {
		return types.Option{}, nil, 0, err
	}
	idx := slices.IndexFunc(sibs, func(x types.Option) bool { return x.ID == o.ID })
	if idx < 0 {
		return types.Option{}, nil, 0, ports.ErrOptionNotFound
	}
	return o, sibs, idx, nil
}

func (s *optionService) reorder(ctx context.Context, op string, o types.Option, sibs []types.Option, from int, to int) error {
	ids := make([]int64, 0, len(sibs))
	for _, x := range sibs {
		ids = append(ids, x.ID)
	}
	ids = slices.Delete(ids, from, from+1)
	ids = slices.Insert(ids, to, o.ID)
	if err := s.stores.Options.ReorderOptions(ctx, o.FieldConfigID, o.ParentID, ids); err != nil {
		return err
	}
	s.done(op, o)
	return nil
}

func (s *optionService) SortAlphabetically(ctx context.Context, configID int64, parentID int64) error {
	if _, _, err := s.configKind(ctx, configID); err != nil {
		return err
	}
	sibs, err := s.siblings(ctx, configID, parentID)
	if err != nil {
		return err
	}
	slices.SortStableFunc(sibs, func(a, b types.Option) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Value), strings.ToLower(b.Value)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	ids := make([]int64, 0, len(sibs))
	for _, o := range sibs {
		ids = append(ids, o.ID)
	}
	if err := s.stores.Options.ReorderOptions(ctx, configID, parentID, ids); err != nil {
		return err
	}
	s.metrics.OptionOperation("sort")
	return nil
}

func (s *optionService) done(op string, o types.Option) {
	s.metrics.OptionOperation(op)
	s.logger.Debug("custom field option changed",
		zap.String("op", op),
		zap.Int64("option_id", o.ID),
		zap.Int64("config_id", o.FieldConfigID),
	)
}
