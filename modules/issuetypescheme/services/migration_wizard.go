package services

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/issuefields/internal/metrics"
	cftypes "github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	cfservices "github.com/jacksonlee411/issuefields/modules/customfield/services"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
	"github.com/jacksonlee411/issuefields/pkg/ids"
)

const (
	errMigrationKindUnknown   = "ITS_MIGRATION_KIND_UNKNOWN"
	errMigrationNotRequired   = "ITS_MIGRATION_NOT_REQUIRED"
	errMigrationSourceUnknown = "ITS_MIGRATION_SOURCE_UNKNOWN"
	errTargetNotInScheme      = "ITS_TARGET_NOT_IN_SCHEME"
	errTargetsIncomplete      = "ITS_TARGETS_INCOMPLETE"
	errMappingUnknown         = "ITS_MAPPING_UNKNOWN"
	errMappingOptionInvalid   = "ITS_MAPPING_OPTION_INVALID"
	errMappingRequired        = "ITS_MAPPING_REQUIRED"
	errMappingsIncomplete     = "ITS_MAPPINGS_INCOMPLETE"
	errMigrationIncomplete    = "ITS_MIGRATION_INCOMPLETE"

	issueTypeFieldName = "Issue Type"
	defaultWorkers     = 4
)

// ErrInvalidTransition is returned when the session is not in a step that
// allows the requested action.
var ErrInvalidTransition = errors.New("ITS_MIGRATION_INVALID_TRANSITION")

type MigrationWizard interface {
	Start(ctx context.Context, req StartMigrationRequest) (types.MigrationSession, error)
	Get(ctx context.Context, id string) (types.MigrationSession, error)
	SetTargets(ctx context.Context, id string, targets []TargetChoice) (types.MigrationSession, error)
	SetFieldMappings(ctx context.Context, id string, mappings []types.FieldMapping) (types.MigrationSession, error)
	Next(ctx context.Context, id string) (types.MigrationSession, error)
	Back(ctx context.Context, id string) (types.MigrationSession, error)
	Execute(ctx context.Context, id string) (types.MigrationSession, error)
	Cancel(ctx context.Context, id string) (types.MigrationSession, error)
}

type StartMigrationRequest struct {
	Kind       types.MigrationKind  `json:"kind"`
	SchemeID   int64                `json:"scheme_id"`
	ProjectIDs []int64              `json:"project_ids"`
	Proposed   *types.SchemeOptions `json:"proposed"`
	Author     string               `json:"-"`
}

// TargetChoice picks the issue type that issues of one source move to.
type TargetChoice struct {
	ProjectID         int64  `json:"project_id"`
	IssueTypeID       string `json:"issue_type_id"`
	TargetIssueTypeID string `json:"target_issue_type_id"`
}

type WizardConfig struct {
	// Workers bounds the issues migrated concurrently.
	Workers int
	NewID   ids.Generator
	Now     func() time.Time
}

type migrationWizard struct {
	planner
	fields  cfservices.FieldService
	logger  *zap.Logger
	metrics metrics.Recorder
	cfg     WizardConfig

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock serializes steps of one session. refs counts holders and
// waiters so the entry can be dropped once nobody needs it.
type sessionLock struct {
	sync.Mutex
	refs int
}

func NewMigrationWizard(stores Stores, fields cfservices.FieldService, logger *zap.Logger, rec metrics.Recorder, cfg WizardConfig) MigrationWizard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.NewID == nil {
		cfg.NewID = ids.NewV7
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &migrationWizard{
		planner: planner{stores: stores},
		fields:  fields,
		logger:  logger,
		metrics: rec,
		cfg:     cfg,
		locks:   map[string]*sessionLock{},
	}
}

// lock serializes actions on one session.
func (w *migrationWizard) lock(id string) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &sessionLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()
	l.Lock()
	return func() {
		l.Unlock()
		w.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}

func (w *migrationWizard) Start(ctx context.Context, req StartMigrationRequest) (types.MigrationSession, error) {
	sc, err := w.stores.Schemes.GetScheme(ctx, req.SchemeID)
	if err != nil {
		return types.MigrationSession{}, err
	}
	sess := types.MigrationSession{
		Kind:     req.Kind,
		SchemeID: sc.ID,
		Step:     types.StepSelectTargets,
		Author:   req.Author,
	}
	var allowed []string
	switch req.Kind {
	case types.MigrationAssociate:
		if sess.ProjectIDs, err = w.checkProjects(ctx, req.ProjectIDs); err != nil {
			return types.MigrationSession{}, err
		}
		allowed = sc.IssueTypeIDs
	case types.MigrationUpdateOptions:
		if sc.IsDefault {
			return types.MigrationSession{}, httperr.NewConflict(errDefaultSchemeOptionsLocked)
		}
		if req.Proposed == nil {
			return types.MigrationSession{}, httperr.NewBadRequest(errSchemeOptionsRequired)
		}
		opts, err := w.validateOptions(ctx, *req.Proposed)
		if err != nil {
			return types.MigrationSession{}, err
		}
		sess.Proposed = &opts
		sess.ProjectIDs = sc.ProjectIDs
		allowed = opts.IssueTypeIDs
	default:
		return types.MigrationSession{}, httperr.NewBadRequest(errMigrationKindUnknown)
	}

	if sess.Sources, err = w.sources(ctx, sess.ProjectIDs, allowed); err != nil {
		return types.MigrationSession{}, err
	}
	if len(sess.Sources) == 0 {
		return types.MigrationSession{}, httperr.NewBadRequest(errMigrationNotRequired)
	}
	if sess.ID, err = w.cfg.NewID(); err != nil {
		return types.MigrationSession{}, err
	}
	sess.CreatedAt = w.cfg.Now().UTC()
	sess.UpdatedAt = sess.CreatedAt
	if err := w.stores.Sessions.SaveSession(ctx, sess); err != nil {
		return types.MigrationSession{}, err
	}
	w.logger.Info("issue type migration started",
		zap.String("session_id", sess.ID),
		zap.String("kind", string(sess.Kind)),
		zap.Int64("scheme_id", sess.SchemeID),
		zap.Int("sources", len(sess.Sources)),
	)
	return sess, nil
}

func (w *migrationWizard) Get(ctx context.Context, id string) (types.MigrationSession, error) {
	return w.stores.Sessions.GetSession(ctx, id)
}

func (w *migrationWizard) save(ctx context.Context, sess types.MigrationSession) (types.MigrationSession, error) {
	sess.UpdatedAt = w.cfg.Now().UTC()
	if err := w.stores.Sessions.SaveSession(ctx, sess); err != nil {
		return types.MigrationSession{}, err
	}
	return sess, nil
}

// targetOptions is the option list issues must fit once the session completes.
func (w *migrationWizard) targetOptions(ctx context.Context, sess types.MigrationSession) ([]string, error) {
	if sess.Proposed != nil {
		return sess.Proposed.IssueTypeIDs, nil
	}
	sc, err := w.stores.Schemes.GetScheme(ctx, sess.SchemeID)
	if err != nil {
		return nil, err
	}
	return sc.IssueTypeIDs, nil
}

func (w *migrationWizard) SetTargets(ctx context.Context, id string, targets []TargetChoice) (types.MigrationSession, error) {
	defer w.lock(id)()
	sess, err := w.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return types.MigrationSession{}, err
	}
	if sess.Step != types.StepSelectTargets {
		return types.MigrationSession{}, ErrInvalidTransition
	}
	allowed, err := w.targetOptions(ctx, sess)
	if err != nil {
		return types.MigrationSession{}, err
	}
	for _, t := range targets {
		i := slices.IndexFunc(sess.Sources, func(src types.MigrationSource) bool {
			return src.ProjectID == t.ProjectID && src.IssueTypeID == t.IssueTypeID
		})
		if i < 0 {
			return types.MigrationSession{}, httperr.NewBadRequest(errMigrationSourceUnknown)
		}
		if !slices.Contains(allowed, t.TargetIssueTypeID) {
			return types.MigrationSession{}, httperr.NewBadRequest(errTargetNotInScheme)
		}
		sess.Sources[i].TargetIssueTypeID = t.TargetIssueTypeID
	}
	return w.save(ctx, sess)
}

func (w *migrationWizard) SetFieldMappings(ctx context.Context, id string, mappings []types.FieldMapping) (types.MigrationSession, error) {
	defer w.lock(id)()
	sess, err := w.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return types.MigrationSession{}, err
	}
	if sess.Step != types.StepMapFields {
		return types.MigrationSession{}, ErrInvalidTransition
	}
	merged := slices.Clone(sess.Mappings)
	for _, m := range mappings {
		i := slices.IndexFunc(sess.Conflicts, func(c types.FieldConflict) bool { return c.Matches(m) })
		if i < 0 {
			return types.MigrationSession{}, httperr.NewBadRequest(errMappingUnknown)
		}
		merged = slices.DeleteFunc(merged, func(x types.FieldMapping) bool { return sess.Conflicts[i].Matches(x) })
		merged = append(merged, m)
	}
	for _, m := range merged {
		i := slices.IndexFunc(sess.Conflicts, func(c types.FieldConflict) bool { return c.Matches(m) })
		if err := w.checkMapping(ctx, sess.Conflicts, sess.Conflicts[i], m, merged); err != nil {
			return types.MigrationSession{}, err
		}
	}
	slices.SortFunc(merged, compareMappings)
	sess.Mappings = merged
	return w.save(ctx, sess)
}

// checkMapping verifies the replacement option lives in the target config at
// the same level as the option it replaces. A child option must sit under the
// replacement of its parent when the parent is remapped too, and under the
// parent itself when only the child conflicts.
func (w *migrationWizard) checkMapping(ctx context.Context, conflicts []types.FieldConflict, c types.FieldConflict, m types.FieldMapping, all []types.FieldMapping) error {
	if m.TargetOptionID == 0 {
		if c.TargetRequired && c.ParentOptionID == 0 {
			return httperr.NewBadRequest(errMappingRequired)
		}
		return nil
	}
	o, err := w.stores.Options.GetOption(ctx, m.TargetOptionID)
	if err != nil {
		return httperr.NewBadRequest(errMappingOptionInvalid)
	}
	if o.FieldConfigID != c.TargetConfigID || o.Disabled || (o.ParentID == 0) != (c.ParentOptionID == 0) {
		return httperr.NewBadRequest(errMappingOptionInvalid)
	}
	if c.ParentOptionID == 0 {
		return nil
	}
	parentConflicts := slices.ContainsFunc(conflicts, func(x types.FieldConflict) bool {
		return x.FieldID == c.FieldID && x.OptionID == c.ParentOptionID && x.TargetConfigID == c.TargetConfigID
	})
	if !parentConflicts {
		if o.ParentID != c.ParentOptionID {
			return httperr.NewBadRequest(errMappingOptionInvalid)
		}
		return nil
	}
	j := slices.IndexFunc(all, func(x types.FieldMapping) bool {
		return x.FieldID == c.FieldID && x.OptionID == c.ParentOptionID && x.TargetConfigID == c.TargetConfigID
	})
	if j >= 0 && all[j].TargetOptionID != 0 && all[j].TargetOptionID != o.ParentID {
		return httperr.NewBadRequest(errMappingOptionInvalid)
	}
	return nil
}

func (w *migrationWizard) Next(ctx context.Context, id string) (types.MigrationSession, error) {
	defer w.lock(id)()
	sess, err := w.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return types.MigrationSession{}, err
	}
	switch sess.Step {
	case types.StepSelectTargets:
		for _, src := range sess.Sources {
			if src.TargetIssueTypeID == "" {
				return types.MigrationSession{}, httperr.NewBadRequest(errTargetsIncomplete)
			}
		}
		if sess.Conflicts, err = w.conflicts(ctx, sess.Sources); err != nil {
			return types.MigrationSession{}, err
		}
		sess.Mappings = slices.DeleteFunc(sess.Mappings, func(m types.FieldMapping) bool {
			return !slices.ContainsFunc(sess.Conflicts, func(c types.FieldConflict) bool { return c.Matches(m) })
		})
		sess.Step = types.StepMapFields
	case types.StepMapFields:
		for _, c := range sess.Conflicts {
			i := slices.IndexFunc(sess.Mappings, c.Matches)
			if i < 0 {
				return types.MigrationSession{}, httperr.NewBadRequest(errMappingsIncomplete)
			}
			if sess.Mappings[i].TargetOptionID == 0 && c.TargetRequired && c.ParentOptionID == 0 {
				return types.MigrationSession{}, httperr.NewBadRequest(errMappingRequired)
			}
		}
		sess.Step = types.StepConfirm
	default:
		return types.MigrationSession{}, ErrInvalidTransition
	}
	return w.save(ctx, sess)
}

func (w *migrationWizard) Back(ctx context.Context, id string) (types.MigrationSession, error) {
	defer w.lock(id)()
	sess, err := w.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return types.MigrationSession{}, err
	}
	switch sess.Step {
	case types.StepMapFields:
		sess.Step = types.StepSelectTargets
	case types.StepConfirm:
		sess.Step = types.StepMapFields
	default:
		return types.MigrationSession{}, ErrInvalidTransition
	}
	return w.save(ctx, sess)
}

func (w *migrationWizard) Cancel(ctx context.Context, id string) (types.MigrationSession, error) {
	defer w.lock(id)()
	sess, err := w.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return types.MigrationSession{}, err
	}
	if sess.Step.Terminal() {
		return types.MigrationSession{}, ErrInvalidTransition
	}
	sess.Step = types.StepCancelled
	w.logger.Info("issue type migration cancelled", zap.String("session_id", sess.ID))
	w.metrics.MigrationExecuted(string(types.StepCancelled), 0)
	return w.save(ctx, sess)
}

// conflicts collects option values that are not valid in the context each
// issue lands in, counted per distinct (field, option, target config).
func (w *migrationWizard) conflicts(ctx context.Context, sources []types.MigrationSource) ([]types.FieldConflict, error) {
	var out []types.FieldConflict
	for _, src := range sources {
		for _, issueID := range src.IssueIDs {
			found, err := w.fields.OptionConflicts(ctx, issueID, src.TargetIssueTypeID)
			if err != nil {
				return nil, err
			}
			for _, c := range found {
				fc := types.FieldConflict{
					FieldID:        c.FieldID,
					FieldName:      c.FieldName,
					OptionID:       c.Option.ID,
					OptionValue:    c.Option.Value,
					ParentOptionID: c.Option.ParentID,
					TargetConfigID: c.TargetConfigID,
					TargetRequired: c.TargetRequired,
				}
				i := slices.IndexFunc(out, func(x types.FieldConflict) bool {
					return x.FieldID == fc.FieldID && x.OptionID == fc.OptionID && x.TargetConfigID == fc.TargetConfigID
				})
				if i < 0 {
					i = len(out)
					out = append(out, fc)
				}
				out[i].Issues++
			}
		}
	}
	slices.SortFunc(out, func(a, b types.FieldConflict) int {
		return cmp.Or(
			cmp.Compare(a.FieldID, b.FieldID),
			cmp.Compare(a.TargetConfigID, b.TargetConfigID),
			cmp.Compare(a.ParentOptionID, b.ParentOptionID),
			cmp.Compare(a.OptionID, b.OptionID),
		)
	})
	return out, nil
}

func compareMappings(a, b types.FieldMapping) int {
	return cmp.Or(
		cmp.Compare(a.FieldID, b.FieldID),
		cmp.Compare(a.TargetConfigID, b.TargetConfigID),
		cmp.Compare(a.OptionID, b.OptionID),
	)
}

// Execute moves every source issue to its target type, remaps option values
// and then applies the pending scheme change. Issues already carrying a
// different type are skipped, so a failed run can be retried.
func (w *migrationWizard) Execute(ctx context.Context, id string) (types.MigrationSession, error) {
	defer w.lock(id)()
	sess, err := w.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return types.MigrationSession{}, err
	}
	if sess.Step != types.StepConfirm {
		return types.MigrationSession{}, ErrInvalidTransition
	}
	issueTypes, err := w.stores.IssueTypes.ListIssueTypes(ctx)
	if err != nil {
		return types.MigrationSession{}, err
	}
	names := make(map[string]string, len(issueTypes))
	for _, t := range issueTypes {
		names[t.ID] = t.Name
	}

	var migrated, changed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)
	for _, src := range sess.Sources {
		for _, issueID := range src.IssueIDs {
			g.Go(func() error {
				n, ok, err := w.migrateIssue(gctx, sess, src, issueID, names)
				if err != nil {
					return err
				}
				if ok {
					migrated.Add(1)
					changed.Add(int64(n))
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		w.metrics.MigrationExecuted("failed", int(migrated.Load()))
		w.logger.Error("issue type migration failed",
			zap.String("session_id", sess.ID),
			zap.Int64("issues_migrated", migrated.Load()),
			zap.Error(err),
		)
		return types.MigrationSession{}, err
	}

	if err := w.applyPending(ctx, sess); err != nil {
		w.metrics.MigrationExecuted("failed", int(migrated.Load()))
		return types.MigrationSession{}, err
	}
	now := w.cfg.Now().UTC()
	sess.Step = types.StepCompleted
	sess.Result = &types.MigrationResult{
		IssuesMigrated: int(migrated.Load()),
		ValuesChanged:  int(changed.Load()),
		CompletedAt:    now,
	}
	w.metrics.MigrationExecuted(string(types.StepCompleted), sess.Result.IssuesMigrated)
	w.logger.Info("issue type migration completed",
		zap.String("session_id", sess.ID),
		zap.Int("issues_migrated", sess.Result.IssuesMigrated),
		zap.Int("values_changed", sess.Result.ValuesChanged),
	)
	return w.save(ctx, sess)
}

// migrateIssue reports the number of field values rewritten and whether the
// issue was moved.
func (w *migrationWizard) migrateIssue(ctx context.Context, sess types.MigrationSession, src types.MigrationSource, issueID int64, names map[string]string) (int, bool, error) {
	issue, err := w.stores.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return 0, false, err
	}
	if issue.IssueTypeID != src.IssueTypeID {
		return 0, false, nil
	}
	found, err := w.fields.OptionConflicts(ctx, issue.ID, src.TargetIssueTypeID)
	if err != nil {
		return 0, false, err
	}
	mappings := make(map[cfservices.OptionKey]int64, len(found))
	for _, c := range found {
		i := slices.IndexFunc(sess.Mappings, func(m types.FieldMapping) bool {
			return m.FieldID == c.FieldID && m.OptionID == c.Option.ID && m.TargetConfigID == c.TargetConfigID
		})
		if i >= 0 {
			mappings[cfservices.OptionKey{FieldID: c.FieldID, OptionID: c.Option.ID}] = sess.Mappings[i].TargetOptionID
		}
	}
	var items []cftypes.ChangeItem
	err = w.withinTx(ctx, func(ctx context.Context) error {
		var err error
		items, err = w.fields.MoveIssueValues(ctx, cfservices.MoveValuesRequest{
			Issue:             issue,
			TargetIssueTypeID: src.TargetIssueTypeID,
			Mappings:          mappings,
		})
		if err != nil {
			return err
		}
		if _, err := w.stores.Issues.UpdateIssueType(ctx, issue.ID, src.TargetIssueTypeID); err != nil {
			return err
		}
		_, err = w.stores.Changes.AppendChangeGroup(ctx, cftypes.ChangeGroup{
			IssueID: issue.ID,
			Author:  sess.Author,
			Items: append([]cftypes.ChangeItem{{
				FieldID:    cftypes.FieldIDIssueType,
				FieldName:  issueTypeFieldName,
				From:       src.IssueTypeID,
				FromString: names[src.IssueTypeID],
				To:         src.TargetIssueTypeID,
				ToString:   names[src.TargetIssueTypeID],
			}}, items...),
		})
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return len(items), true, nil
}

func (w *migrationWizard) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.stores.Tx == nil {
		return fn(ctx)
	}
	return w.stores.Tx.WithinTx(ctx, fn)
}

func (w *migrationWizard) applyPending(ctx context.Context, sess types.MigrationSession) error {
	allowed, err := w.targetOptions(ctx, sess)
	if err != nil {
		return err
	}
	left, err := w.sources(ctx, sess.ProjectIDs, allowed)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		return httperr.NewConflict(errMigrationIncomplete)
	}
	switch sess.Kind {
	case types.MigrationAssociate:
		_, err = w.associate(ctx, sess.SchemeID, sess.ProjectIDs)
	case types.MigrationUpdateOptions:
		var cur types.Scheme
		if cur, err = w.stores.Schemes.GetScheme(ctx, sess.SchemeID); err == nil {
			_, err = w.applyOptions(ctx, cur, *sess.Proposed)
		}
	}
	return err
}
